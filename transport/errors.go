package transport

import (
	"maps"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-ocpi/core"
)

// MetaRetryable is set on every adapter error and tells whether the same
// request could succeed if sent again.
const MetaRetryable = "retryable"

type failure int

const (
	// adapter built without a client
	failNotConfigured failure = iota
	failBadRequest
	// no answer from the peer
	failUnreachable
	// answer unreadable or over the size limit
	failBadReply
)

var failureClasses = map[failure]struct {
	category  goerrors.Category
	status    int
	retryable bool
}{
	failNotConfigured: {goerrors.CategoryInternal, http.StatusInternalServerError, false},
	failBadRequest:    {goerrors.CategoryBadInput, http.StatusBadRequest, false},
	failUnreachable:   {goerrors.CategoryExternal, http.StatusBadGateway, true},
	failBadReply:      {goerrors.CategoryExternal, http.StatusBadGateway, false},
}

func fail(kind failure, cause error, message string, meta map[string]any) error {
	class := failureClasses[kind]
	var err *goerrors.Error
	if cause != nil {
		err = goerrors.Wrap(cause, class.category, message)
	} else {
		err = goerrors.New(message, class.category)
	}
	fields := map[string]any{"adapter": KindREST, MetaRetryable: class.retryable}
	maps.Copy(fields, meta)
	return err.
		WithCode(class.status).
		WithTextCode(textCodeFor(class.category)).
		WithMetadata(fields)
}

// IsRetryable reports whether err came from an adapter call that may be
// repeated. Errors that are not adapter errors count as retryable.
func IsRetryable(err error) bool {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return err != nil
	}
	if retryable, ok := rich.Metadata[MetaRetryable].(bool); ok {
		return retryable
	}
	return true
}

// textCodeFor maps a category onto the OCPI text codes core reports, so an
// adapter failure reads the same as a service failure.
func textCodeFor(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return core.ServiceErrorBadInput
	case goerrors.CategoryAuth:
		return core.ServiceErrorUnauthorized
	case goerrors.CategoryAuthz:
		return core.ServiceErrorForbidden
	case goerrors.CategoryRateLimit:
		return core.ServiceErrorRateLimited
	case goerrors.CategoryOperation:
		return core.ServiceErrorOperationFailed
	case goerrors.CategoryExternal:
		return core.ServiceErrorTransport
	default:
		return core.ServiceErrorInternal
	}
}
