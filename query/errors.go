package query

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-ocpi/core"
)

// MetaOperation names the query type on errors raised before a query reaches
// its reader.
const MetaOperation = "operation"

func readerMissing(msgType string, what string) error {
	return goerrors.New(msgType+": "+what+" is not configured", goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.ServiceErrorInternal).
		WithMetadata(map[string]any{MetaOperation: msgType})
}

// rejectQuery turns a message problem into a bad-input validation error. A
// nil cause is reported as a field error on field.
func rejectQuery(msgType string, field string, reason string, cause error) error {
	var err *goerrors.Error
	if cause != nil {
		err = goerrors.Wrap(cause, goerrors.CategoryValidation, msgType+": "+reason)
	} else {
		err = goerrors.NewValidation(msgType+": invalid message", goerrors.FieldError{Field: field, Message: reason}).
			WithSeverity(goerrors.SeverityError)
	}
	return err.
		WithCode(http.StatusBadRequest).
		WithTextCode(core.ServiceErrorBadInput).
		WithMetadata(map[string]any{MetaOperation: msgType, "field": field})
}
