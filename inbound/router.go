package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-ocpi/core"
	ocpisync "github.com/goliatone/go-ocpi/sync"
	"github.com/goliatone/go-ocpi/transport"
	"github.com/google/uuid"
)

const defaultMaxBodyBytes int64 = 1 << 20

type Option func(*Router)

func WithMaxBodyBytes(limit int64) Option {
	return func(r *Router) {
		if limit > 0 {
			r.maxBodyBytes = limit
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

func WithLogger(logger core.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Router is the receiver side of an OCPI platform.
type Router struct {
	service      *core.Service
	orchestrator *ocpisync.Orchestrator
	mux          chi.Router
	maxBodyBytes int64
	now          func() time.Time
	logger       core.Logger
}

// NewRouter wires the versions, credentials and resource routes. The
// orchestrator may be nil when only the credentials handshake is served.
func NewRouter(service *core.Service, orchestrator *ocpisync.Orchestrator, opts ...Option) *Router {
	r := &Router{
		service:      service,
		orchestrator: orchestrator,
		maxBodyBytes: defaultMaxBodyBytes,
		now:          func() time.Time { return time.Now().UTC() },
	}
	if service != nil {
		r.logger = service.Dependencies().Logger
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.logger = glog.Ensure(r.logger)

	mux := chi.NewRouter()
	mux.Use(r.requestIDs)
	mux.Group(func(discovery chi.Router) {
		discovery.Use(r.authenticateOptional)
		discovery.Get("/versions", r.versions)
		discovery.Get("/versions/{version}", r.versionDetail)
	})
	mux.Group(func(auth chi.Router) {
		auth.Use(r.authenticate)
		auth.Route("/{version}/credentials", func(creds chi.Router) {
			creds.Get("/", r.getCredentials)
			creds.Post("/", r.acceptCredentials)
			creds.Put("/", r.acceptCredentials)
			creds.Delete("/", r.acceptCredentials)
		})
		auth.Get("/{version}/{module}/{country_code}/{party_id}", r.listResources)
		auth.Get("/{version}/{module}/{country_code}/{party_id}/{id}", r.getResource)
		auth.Put("/{version}/{module}/{country_code}/{party_id}/{id}", r.putResource)
		auth.Patch("/{version}/{module}/{country_code}/{party_id}/{id}", r.patchResource)
	})
	mux.NotFound(func(w http.ResponseWriter, req *http.Request) {
		r.writeError(w, req, inboundError("inbound: no route for "+req.URL.Path, goerrors.CategoryNotFound, http.StatusNotFound, core.ServiceErrorBadInput, nil))
	})
	r.mux = mux
	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) versions(w http.ResponseWriter, req *http.Request) {
	r.writeData(w, req, http.StatusOK, r.service.LocalVersions())
}

func (r *Router) versionDetail(w http.ResponseWriter, req *http.Request) {
	version := core.VersionID(chi.URLParam(req, "version"))
	if !r.serves(version) {
		r.writeStatus(w, req, http.StatusNotFound, core.StatusUnsupportedVersion, "version "+string(version)+" is not served")
		return
	}
	r.writeData(w, req, http.StatusOK, core.VersionDetail{Version: version, Endpoints: r.endpoints(version)})
}

func (r *Router) endpoints(version core.VersionID) []core.Endpoint {
	base := strings.TrimRight(strings.TrimSpace(r.service.Config().VersionsURL), "/") + "/" + string(version)
	endpoints := []core.Endpoint{{Identifier: core.ModuleCredentials, URL: base + "/" + core.ModuleCredentials}}
	if r.orchestrator != nil {
		for _, module := range r.orchestrator.Catalog().Modules() {
			endpoints = append(endpoints, core.Endpoint{
				Identifier: module,
				Role:       core.InterfaceRoleReceiver,
				URL:        base + "/" + module,
			})
		}
	}
	if version.Major() == 2 && version.Minor() < 2 {
		for i := range endpoints {
			endpoints[i].Role = ""
		}
	}
	return endpoints
}

func (r *Router) getCredentials(w http.ResponseWriter, req *http.Request) {
	version := core.VersionID(chi.URLParam(req, "version"))
	creds, err := r.service.CredentialsFor(req.Context(), presentedToken(req))
	if err != nil {
		r.writeError(w, req, err)
		return
	}
	r.writeCredentials(w, req, version, creds)
}

func (r *Router) acceptCredentials(w http.ResponseWriter, req *http.Request) {
	version := core.VersionID(chi.URLParam(req, "version"))
	body, err := r.readBody(w, req)
	if err != nil {
		r.writeError(w, req, err)
		return
	}
	creds, err := r.service.AcceptCredentials(req.Context(), core.AcceptCredentialsRequest{
		Version: version,
		Token:   presentedToken(req),
		Method:  req.Method,
		Body:    body,
	})
	if err != nil {
		r.writeError(w, req, err)
		return
	}
	if req.Method == http.MethodDelete {
		r.writeData(w, req, http.StatusOK, nil)
		return
	}
	r.writeCredentials(w, req, version, creds)
}

func (r *Router) writeCredentials(w http.ResponseWriter, req *http.Request, version core.VersionID, creds core.Credentials) {
	payload, err := r.service.Variant(version).EncodeCredentials(creds)
	if err != nil {
		r.writeError(w, req, err)
		return
	}
	r.writeData(w, req, http.StatusOK, json.RawMessage(payload))
}

func (r *Router) listResources(w http.ResponseWriter, req *http.Request) {
	owner, ok := r.resourceOwner(w, req)
	if !ok {
		return
	}
	stored, err := r.orchestrator.List(req.Context(), owner, chi.URLParam(req, "module"))
	if err != nil {
		r.writeError(w, req, err)
		return
	}
	documents := make([]json.RawMessage, 0, len(stored))
	for _, resource := range stored {
		documents = append(documents, resource.Document)
	}
	r.writeData(w, req, http.StatusOK, documents)
}

func (r *Router) getResource(w http.ResponseWriter, req *http.Request) {
	owner, ok := r.resourceOwner(w, req)
	if !ok {
		return
	}
	stored, err := r.orchestrator.Get(req.Context(), owner, chi.URLParam(req, "module"), chi.URLParam(req, "id"))
	if err != nil {
		r.writeError(w, req, err)
		return
	}
	r.writeResource(w, req, stored)
}

func (r *Router) putResource(w http.ResponseWriter, req *http.Request) {
	r.writeResourceWith(w, req, r.orchestrator.Put)
}

func (r *Router) patchResource(w http.ResponseWriter, req *http.Request) {
	r.writeResourceWith(w, req, r.orchestrator.Patch)
}

type writeFunc func(ctx context.Context, owner core.PartyID, module string, id string, body []byte, opts ...ocpisync.WriteOption) (ocpisync.StoredResource, error)

func (r *Router) writeResourceWith(w http.ResponseWriter, req *http.Request, write writeFunc) {
	owner, ok := r.resourceOwner(w, req)
	if !ok {
		return
	}
	body, err := r.readBody(w, req)
	if err != nil {
		r.writeError(w, req, err)
		return
	}
	auth, _ := authorizedFrom(req.Context())
	stored, err := write(
		req.Context(),
		owner,
		chi.URLParam(req, "module"),
		chi.URLParam(req, "id"),
		body,
		ocpisync.WithAccess(auth.Access),
	)
	if err != nil {
		r.writeError(w, req, err)
		return
	}
	r.writeResource(w, req, stored)
}

func (r *Router) writeResource(w http.ResponseWriter, req *http.Request, stored ocpisync.StoredResource) {
	w.Header().Set(ocpisync.HeaderETag, stored.ETag)
	r.writeData(w, req, http.StatusOK, stored.Document)
}

// resourceOwner resolves the party a resource path belongs to. A caller may
// only address objects of its own identity or of a role it declared.
func (r *Router) resourceOwner(w http.ResponseWriter, req *http.Request) (core.PartyID, bool) {
	if r.orchestrator == nil {
		r.writeError(w, req, inboundError("inbound: resource modules are not served", goerrors.CategoryNotFound, http.StatusNotFound, core.ServiceErrorBadInput, nil))
		return core.PartyID{}, false
	}
	version := core.VersionID(chi.URLParam(req, "version"))
	if !r.serves(version) {
		r.writeStatus(w, req, http.StatusNotFound, core.StatusUnsupportedVersion, "version "+string(version)+" is not served")
		return core.PartyID{}, false
	}
	auth, ok := authorizedFrom(req.Context())
	if !ok {
		r.writeError(w, req, core.ErrUnauthorized)
		return core.PartyID{}, false
	}
	countryCode := strings.ToUpper(strings.TrimSpace(chi.URLParam(req, "country_code")))
	partyID := strings.ToUpper(strings.TrimSpace(chi.URLParam(req, "party_id")))
	presenter := auth.Party.ID
	if presenter.CountryCode == countryCode && presenter.PartyID == partyID {
		return presenter, true
	}
	for _, role := range auth.Party.Roles {
		if strings.EqualFold(role.CountryCode, countryCode) && strings.EqualFold(role.PartyID, partyID) {
			return core.NewPartyID(countryCode, partyID, role.Role), true
		}
	}
	r.writeError(w, req, forbiddenOwnerError(presenter, countryCode, partyID))
	return core.PartyID{}, false
}

func (r *Router) serves(version core.VersionID) bool {
	for _, info := range r.service.LocalVersions() {
		if info.Version == version {
			return true
		}
	}
	return false
}

func (r *Router) readBody(w http.ResponseWriter, req *http.Request) ([]byte, error) {
	if req.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, r.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, inboundBadInput("inbound: request body exceeds limit", map[string]any{"limit": r.maxBodyBytes})
		}
		return nil, inboundBadInput("inbound: read request body", map[string]any{"cause": err.Error()})
	}
	return body, nil
}

func (r *Router) writeData(w http.ResponseWriter, req *http.Request, httpStatus int, data any) {
	r.writeEnvelope(w, req, httpStatus, core.NewResponse(data, core.StatusSuccess, "Success", r.now()))
}

func (r *Router) writeStatus(w http.ResponseWriter, req *http.Request, httpStatus int, statusCode int, message string) {
	r.writeEnvelope(w, req, httpStatus, core.NewResponse[any](nil, statusCode, message, r.now()))
}

func (r *Router) writeError(w http.ResponseWriter, req *http.Request, err error) {
	outcome := OutcomeFor(err)
	logger := r.logger.WithContext(req.Context())
	args := []any{"method", req.Method, "path", req.URL.Path, "status_code", outcome.StatusCode, "error", err.Error()}
	if outcome.StatusCode >= core.StatusServerError {
		logger.Error("inbound request failed", args...)
	} else {
		logger.Debug("inbound request rejected", args...)
	}
	r.writeStatus(w, req, outcome.HTTPStatus, outcome.StatusCode, err.Error())
}

func (r *Router) writeEnvelope(w http.ResponseWriter, _ *http.Request, httpStatus int, envelope any) {
	payload, err := json.Marshal(envelope)
	if err != nil {
		httpStatus = http.StatusInternalServerError
		payload = []byte(`{"status_code":3000,"status_message":"encode response","timestamp":"` + r.now().Format(time.RFC3339) + `"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_, _ = w.Write(payload)
}

// requestIDs echoes the request and correlation ids, minting them when the
// caller sent none.
func (r *Router) requestIDs(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		requestID := strings.TrimSpace(req.Header.Get(transport.HeaderRequestID))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		correlationID := strings.TrimSpace(req.Header.Get(transport.HeaderCorrelationID))
		if correlationID == "" {
			correlationID = requestID
		}
		w.Header().Set(transport.HeaderRequestID, requestID)
		w.Header().Set(transport.HeaderCorrelationID, correlationID)
		next.ServeHTTP(w, req)
	})
}
