package command

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-ocpi/core"
)

// Metadata keys set on errors raised before a command reaches the service.
const (
	MetaOperation  = "operation"
	MetaOCPIStatus = "ocpi_status_code"
	MetaParty      = "party"
	MetaDependency = "dependency"
)

// notConfigured reports a command handler built without its service.
func notConfigured(msgType string, dependency string) error {
	return goerrors.New(msgType+": "+dependency+" is not configured", goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.ServiceErrorInternal).
		WithMetadata(map[string]any{
			MetaOperation:  msgType,
			MetaDependency: dependency,
			MetaOCPIStatus: core.StatusServerError,
		})
}

// invalidField rejects a message field. The OCPI status is 2001 so a
// dispatcher error maps straight onto a client error reply.
func invalidField(msgType string, field string, reason string) error {
	return goerrors.NewValidation(msgType+": invalid message", goerrors.FieldError{
		Field:   field,
		Message: reason,
	}).
		WithCode(http.StatusBadRequest).
		WithTextCode(core.ServiceErrorBadInput).
		WithSeverity(goerrors.SeverityError).
		WithMetadata(map[string]any{
			MetaOperation:  msgType,
			MetaOCPIStatus: core.StatusInvalidParameters,
		})
}

func invalidParty(msgType string, id core.PartyID, err error) error {
	return goerrors.Wrap(err, goerrors.CategoryValidation, msgType+": invalid party id").
		WithCode(http.StatusBadRequest).
		WithTextCode(core.ServiceErrorBadInput).
		WithMetadata(map[string]any{
			MetaOperation:  msgType,
			MetaOCPIStatus: core.StatusInvalidParameters,
			MetaParty:      id.Key(),
		})
}
