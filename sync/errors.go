package sync

import (
	"errors"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

var (
	ErrImmutableField    = errors.New("sync: immutable field")
	ErrDowngradeRejected = errors.New("sync: last_updated downgrade rejected")
	ErrMalformedPatch    = errors.New("sync: malformed patch")
	ErrResourceNotFound  = errors.New("sync: resource not found")
	ErrUnknownModule     = errors.New("sync: unknown module")
)

const (
	TextCodeImmutableField    = "OCPI_IMMUTABLE_FIELD"
	TextCodeDowngradeRejected = "OCPI_DOWNGRADE_REJECTED"
	TextCodeMalformedPatch    = "OCPI_MALFORMED_PATCH"
	TextCodeResourceNotFound  = "OCPI_RESOURCE_NOT_FOUND"
	TextCodeUnknownModule     = "OCPI_UNKNOWN_MODULE"
)

func immutableFieldError(path string) error {
	return goerrors.Wrap(ErrImmutableField, goerrors.CategoryValidation, "sync: field "+path+" is immutable").
		WithCode(http.StatusBadRequest).
		WithTextCode(TextCodeImmutableField).
		WithMetadata(map[string]any{"field": path})
}

func downgradeError(field string, current string, proposed string) error {
	return goerrors.Wrap(
		ErrDowngradeRejected,
		goerrors.CategoryConflict,
		"sync: "+field+" "+proposed+" is not newer than "+current,
	).
		WithCode(http.StatusConflict).
		WithTextCode(TextCodeDowngradeRejected).
		WithMetadata(map[string]any{
			"field":    field,
			"current":  current,
			"proposed": proposed,
		})
}

func malformedError(source error, message string) error {
	err := goerrors.Wrap(ErrMalformedPatch, goerrors.CategoryBadInput, message).
		WithCode(http.StatusBadRequest).
		WithTextCode(TextCodeMalformedPatch)
	if source != nil {
		err.WithMetadata(map[string]any{"cause": source.Error()})
	}
	return err
}

func notFoundError(module string, id string) error {
	return goerrors.Wrap(ErrResourceNotFound, goerrors.CategoryNotFound, "sync: "+module+" "+id+" not found").
		WithCode(http.StatusNotFound).
		WithTextCode(TextCodeResourceNotFound).
		WithMetadata(map[string]any{"module": module, "id": id})
}

func unknownModuleError(module string) error {
	return goerrors.Wrap(ErrUnknownModule, goerrors.CategoryNotFound, "sync: module "+module+" is not registered").
		WithCode(http.StatusNotFound).
		WithTextCode(TextCodeUnknownModule).
		WithMetadata(map[string]any{"module": module})
}

// ResourceNotFound reports that no resource is stored under key. Stores
// outside this package return it so callers can match ErrResourceNotFound.
func ResourceNotFound(key ResourceKey) error {
	key = key.normalized()
	return notFoundError(key.Module, key.ID)
}
