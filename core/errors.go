package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

var (
	ErrMalformedVersionsResponse     = errors.New("core: malformed versions response")
	ErrNoCompatibleVersion           = errors.New("core: no compatible version")
	ErrEndpointDiscoveryFailed       = errors.New("core: endpoint discovery failed")
	ErrHandshakeRejected             = errors.New("core: handshake rejected")
	ErrAlreadyRegistered             = errors.New("core: party already registered")
	ErrNotRegistered                 = errors.New("core: party not registered")
	ErrUnauthorized                  = errors.New("core: unauthorized")
	ErrPartyNotFound                 = errors.New("core: party not found")
	ErrPartyUnavailable              = errors.New("core: party unavailable")
	ErrTransport                     = errors.New("core: transport failure")
	ErrRemoteRejected                = errors.New("core: remote rejected request")
	ErrInvalidRemoteAccessTransition = errors.New("core: invalid remote access transition")
	ErrInvalidPartyTransition        = errors.New("core: invalid party status transition")
	ErrInvalidInput                  = errors.New("core: invalid input")
)

const (
	ServiceErrorBadInput            = "OCPI_BAD_INPUT"
	ServiceErrorMalformedVersions   = "OCPI_MALFORMED_VERSIONS"
	ServiceErrorNoCompatibleVersion = "OCPI_NO_COMPATIBLE_VERSION"
	ServiceErrorDiscoveryFailed     = "OCPI_ENDPOINT_DISCOVERY_FAILED"
	ServiceErrorHandshakeRejected   = "OCPI_HANDSHAKE_REJECTED"
	ServiceErrorAlreadyRegistered   = "OCPI_ALREADY_REGISTERED"
	ServiceErrorNotRegistered       = "OCPI_NOT_REGISTERED"
	ServiceErrorUnauthorized        = "OCPI_UNAUTHORIZED"
	ServiceErrorForbidden           = "OCPI_FORBIDDEN"
	ServiceErrorPartyNotFound       = "OCPI_PARTY_NOT_FOUND"
	ServiceErrorPartyUnavailable    = "OCPI_PARTY_UNAVAILABLE"
	ServiceErrorTransport           = "OCPI_TRANSPORT_FAILURE"
	ServiceErrorRemoteRejected      = "OCPI_REMOTE_REJECTED"
	ServiceErrorInvalidTransition   = "OCPI_INVALID_TRANSITION"
	ServiceErrorConflict            = "OCPI_CONFLICT"
	ServiceErrorRateLimited         = "OCPI_RATE_LIMITED"
	ServiceErrorOperationFailed     = "OCPI_OPERATION_FAILED"
	ServiceErrorInternal            = "OCPI_INTERNAL_ERROR"
)

func wrapError(
	sentinel error,
	category goerrors.Category,
	code int,
	textCode string,
	message string,
	metadata map[string]any,
) *goerrors.Error {
	err := goerrors.Wrap(sentinel, category, message).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func invalidInputError(message string, metadata map[string]any) error {
	return wrapError(ErrInvalidInput, goerrors.CategoryBadInput, http.StatusBadRequest, ServiceErrorBadInput, message, metadata)
}

func partyNotFoundError(id PartyID) error {
	return wrapError(
		ErrPartyNotFound,
		goerrors.CategoryNotFound,
		http.StatusNotFound,
		ServiceErrorPartyNotFound,
		"core: party "+id.Key()+" not found",
		map[string]any{"party": id.Key()},
	)
}

func partyUnavailableError(id PartyID, reason string) error {
	return wrapError(
		ErrPartyUnavailable,
		goerrors.CategoryOperation,
		http.StatusConflict,
		ServiceErrorPartyUnavailable,
		"core: party "+id.Key()+" is unavailable: "+reason,
		map[string]any{"party": id.Key(), "reason": reason},
	)
}

func alreadyRegisteredError(id PartyID) error {
	return wrapError(
		ErrAlreadyRegistered,
		goerrors.CategoryConflict,
		http.StatusMethodNotAllowed,
		ServiceErrorAlreadyRegistered,
		"core: party "+id.Key()+" is already registered",
		map[string]any{"party": id.Key()},
	)
}

func notRegisteredError(id PartyID) error {
	return wrapError(
		ErrNotRegistered,
		goerrors.CategoryConflict,
		http.StatusMethodNotAllowed,
		ServiceErrorNotRegistered,
		"core: party "+id.Key()+" is not registered",
		map[string]any{"party": id.Key()},
	)
}

func unauthorizedError(reason string) error {
	return wrapError(
		ErrUnauthorized,
		goerrors.CategoryAuth,
		http.StatusUnauthorized,
		ServiceErrorUnauthorized,
		"core: unauthorized: "+reason,
		map[string]any{"reason": reason},
	)
}

func handshakeRejectedError(message string, metadata map[string]any) error {
	return wrapError(ErrHandshakeRejected, goerrors.CategoryOperation, http.StatusBadGateway, ServiceErrorHandshakeRejected, message, metadata)
}

func malformedVersionsError(message string, metadata map[string]any) error {
	return wrapError(ErrMalformedVersionsResponse, goerrors.CategoryOperation, http.StatusBadGateway, ServiceErrorMalformedVersions, message, metadata)
}

func noCompatibleVersionError(local []VersionID, remote []VersionID) error {
	return wrapError(
		ErrNoCompatibleVersion,
		goerrors.CategoryOperation,
		http.StatusBadGateway,
		ServiceErrorNoCompatibleVersion,
		"core: no version in common with remote party",
		map[string]any{"local": versionStrings(local), "remote": versionStrings(remote)},
	)
}

func discoveryError(message string, metadata map[string]any) error {
	return wrapError(ErrEndpointDiscoveryFailed, goerrors.CategoryOperation, http.StatusBadGateway, ServiceErrorDiscoveryFailed, message, metadata)
}

func transportFailure(source error, attempts int, url string) error {
	metadata := map[string]any{"attempts": attempts, "url": url}
	if source != nil {
		metadata["cause"] = source.Error()
	}
	return wrapError(ErrTransport, goerrors.CategoryExternal, http.StatusBadGateway, ServiceErrorTransport, "core: transport failure calling "+url, metadata)
}

func remoteRejectedError(status int, url string) error {
	return wrapError(
		ErrRemoteRejected,
		goerrors.CategoryExternal,
		http.StatusBadGateway,
		ServiceErrorRemoteRejected,
		"core: remote party rejected request to "+url,
		map[string]any{"status_code": status, "url": url},
	)
}

func transitionError(sentinel error, from string, to string) error {
	return wrapError(
		sentinel,
		goerrors.CategoryConflict,
		http.StatusConflict,
		ServiceErrorInvalidTransition,
		"core: transition "+from+" -> "+to+" is not allowed",
		map[string]any{"from": from, "to": to},
	)
}

func serviceErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureServiceErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "not found"):
		return newServiceError(err, goerrors.CategoryNotFound, ServiceErrorPartyNotFound)
	case strings.Contains(msg, "unauthorized"):
		return newServiceError(err, goerrors.CategoryAuth, ServiceErrorUnauthorized)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "mismatch"):
		return newServiceError(err, goerrors.CategoryBadInput, ServiceErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	if mapped != nil && !strings.HasPrefix(mapped.TextCode, "OCPI_") {
		// The library mappers fill generic codes such as INTERNAL_ERROR.
		mapped.TextCode = defaultServiceTextCode(mapped.Category)
	}
	return ensureServiceErrorEnvelope(mapped)
}

func newServiceError(source error, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureServiceErrorEnvelope(
		goerrors.Wrap(source, category, source.Error()).
			WithTextCode(textCode),
	)
}

func ensureServiceErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = serviceHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultServiceTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultServiceTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ServiceErrorBadInput
	case goerrors.CategoryNotFound:
		return ServiceErrorPartyNotFound
	case goerrors.CategoryAuth:
		return ServiceErrorUnauthorized
	case goerrors.CategoryAuthz:
		return ServiceErrorForbidden
	case goerrors.CategoryConflict:
		return ServiceErrorConflict
	case goerrors.CategoryRateLimit:
		return ServiceErrorRateLimited
	case goerrors.CategoryOperation:
		return ServiceErrorOperationFailed
	case goerrors.CategoryExternal:
		return ServiceErrorTransport
	default:
		return ServiceErrorInternal
	}
}

func serviceHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
