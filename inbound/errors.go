package inbound

import (
	"errors"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-ocpi/core"
	ocpisync "github.com/goliatone/go-ocpi/sync"
)

const TextCodeForbiddenOwner = "OCPI_FORBIDDEN_OWNER"

// Outcome is the HTTP status and OCPI status code an error is answered with.
type Outcome struct {
	HTTPStatus int
	StatusCode int
}

// OutcomeFor maps err onto the OCPI status code table. Sentinels win over
// categories so that protocol failures keep their 3xxx codes.
func OutcomeFor(err error) Outcome {
	switch {
	case err == nil:
		return Outcome{HTTPStatus: http.StatusOK, StatusCode: core.StatusSuccess}
	case errors.Is(err, core.ErrUnauthorized):
		return Outcome{HTTPStatus: http.StatusUnauthorized, StatusCode: core.StatusClientError}
	case errors.Is(err, core.ErrNoCompatibleVersion):
		return Outcome{HTTPStatus: http.StatusOK, StatusCode: core.StatusUnsupportedVersion}
	case errors.Is(err, core.ErrEndpointDiscoveryFailed):
		return Outcome{HTTPStatus: http.StatusOK, StatusCode: core.StatusNoMatchingEndpoints}
	case errors.Is(err, core.ErrMalformedVersionsResponse),
		errors.Is(err, core.ErrTransport),
		errors.Is(err, core.ErrRemoteRejected),
		errors.Is(err, core.ErrHandshakeRejected):
		return Outcome{HTTPStatus: http.StatusOK, StatusCode: core.StatusUnableToUseClientAPI}
	case errors.Is(err, core.ErrAlreadyRegistered), errors.Is(err, core.ErrNotRegistered):
		return Outcome{HTTPStatus: http.StatusMethodNotAllowed, StatusCode: core.StatusClientError}
	case errors.Is(err, ocpisync.ErrImmutableField),
		errors.Is(err, ocpisync.ErrMalformedPatch),
		errors.Is(err, core.ErrInvalidInput):
		return Outcome{HTTPStatus: http.StatusBadRequest, StatusCode: core.StatusInvalidParameters}
	case errors.Is(err, ocpisync.ErrDowngradeRejected):
		return Outcome{HTTPStatus: http.StatusConflict, StatusCode: core.StatusClientError}
	case errors.Is(err, ocpisync.ErrResourceNotFound),
		errors.Is(err, ocpisync.ErrUnknownModule),
		errors.Is(err, core.ErrPartyNotFound):
		return Outcome{HTTPStatus: http.StatusNotFound, StatusCode: core.StatusClientError}
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return Outcome{HTTPStatus: http.StatusInternalServerError, StatusCode: core.StatusServerError}
	}
	switch rich.Category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return Outcome{HTTPStatus: http.StatusBadRequest, StatusCode: core.StatusInvalidParameters}
	case goerrors.CategoryAuth:
		return Outcome{HTTPStatus: http.StatusUnauthorized, StatusCode: core.StatusClientError}
	case goerrors.CategoryAuthz:
		return Outcome{HTTPStatus: http.StatusForbidden, StatusCode: core.StatusClientError}
	case goerrors.CategoryNotFound:
		return Outcome{HTTPStatus: http.StatusNotFound, StatusCode: core.StatusClientError}
	case goerrors.CategoryConflict:
		return Outcome{HTTPStatus: http.StatusConflict, StatusCode: core.StatusClientError}
	case goerrors.CategoryExternal:
		return Outcome{HTTPStatus: http.StatusOK, StatusCode: core.StatusUnableToUseClientAPI}
	default:
		return Outcome{HTTPStatus: http.StatusInternalServerError, StatusCode: core.StatusServerError}
	}
}

func inboundError(
	message string,
	category goerrors.Category,
	code int,
	textCode string,
	metadata map[string]any,
) error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func inboundBadInput(message string, metadata map[string]any) error {
	return inboundError(
		message,
		goerrors.CategoryBadInput,
		http.StatusBadRequest,
		core.ServiceErrorBadInput,
		metadata,
	)
}

func forbiddenOwnerError(presenter core.PartyID, countryCode string, partyID string) error {
	return inboundError(
		"inbound: party "+presenter.Key()+" may not write objects of "+countryCode+"*"+partyID,
		goerrors.CategoryAuthz,
		http.StatusForbidden,
		TextCodeForbiddenOwner,
		map[string]any{"party": presenter.Key(), "country_code": countryCode, "party_id": partyID},
	)
}
