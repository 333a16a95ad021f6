package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-ocpi/core"
)

const HeaderETag = "ETag"

// PartyCaller is the outbound half of core.Service used by Push.
type PartyCaller interface {
	Call(ctx context.Context, id core.PartyID, req core.TransportRequest) (core.TransportResponse, error)
	Endpoint(id core.PartyID, module string) (core.Endpoint, error)
}

// Orchestrator applies inbound resource writes under the owning party's lock
// and pushes local resources to peers.
type Orchestrator struct {
	catalog         *Catalog
	store           ResourceStore
	registry        *core.PartyRegistry
	caller          PartyCaller
	local           core.PartyID
	allowDowngrades bool
	now             func() time.Time
	logger          core.Logger
	metrics         core.MetricsRecorder
}

type OrchestratorOption func(*Orchestrator)

func WithResourceStore(store ResourceStore) OrchestratorOption {
	return func(o *Orchestrator) {
		if store != nil {
			o.store = store
		}
	}
}

func WithPartyCaller(caller PartyCaller) OrchestratorOption {
	return func(o *Orchestrator) {
		o.caller = caller
	}
}

// WithLocalParty sets the country code and party id used in pushed URLs.
func WithLocalParty(id core.PartyID) OrchestratorOption {
	return func(o *Orchestrator) {
		o.local = id
	}
}

// WithDefaultAllowDowngrades is the global override applied when the
// presenting credential does not carry one.
func WithDefaultAllowDowngrades(allow bool) OrchestratorOption {
	return func(o *Orchestrator) {
		o.allowDowngrades = allow
	}
}

func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

func WithLogger(logger core.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) OrchestratorOption {
	return func(o *Orchestrator) {
		if recorder != nil {
			o.metrics = recorder
		}
	}
}

func NewOrchestrator(registry *core.PartyRegistry, catalog *Catalog, opts ...OrchestratorOption) *Orchestrator {
	if registry == nil {
		registry = core.NewPartyRegistry(nil, nil)
	}
	if catalog == nil {
		catalog = NewCatalog()
	}
	o := &Orchestrator{
		catalog:  catalog,
		store:    NewMemoryResourceStore(),
		registry: registry,
		now: func() time.Time {
			return time.Now().UTC()
		},
		logger:  glog.Nop(),
		metrics: core.NopMetricsRecorder{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// NewServiceOrchestrator wires an orchestrator to a service's registry,
// outbound calls, local party and patch configuration.
func NewServiceOrchestrator(service *core.Service, catalog *Catalog, opts ...OrchestratorOption) *Orchestrator {
	cfg := service.Config()
	deps := service.Dependencies()
	base := []OrchestratorOption{
		WithPartyCaller(service),
		WithLocalParty(cfg.LocalParty.ID()),
		WithDefaultAllowDowngrades(cfg.Patch.AllowDowngrades),
		WithLogger(deps.Logger),
		WithMetricsRecorder(deps.MetricsRecorder),
	}
	return NewOrchestrator(service.Registry(), catalog, append(base, opts...)...)
}

func (o *Orchestrator) Catalog() *Catalog {
	return o.catalog
}

type writeOptions struct {
	allowDowngrades *bool
}

type WriteOption func(*writeOptions)

// WithAccess takes the anti-downgrade override from the credential the
// writer presented.
func WithAccess(access core.LocalAccessInfo) WriteOption {
	return func(w *writeOptions) {
		allow := access.AllowDowngrades
		w.allowDowngrades = &allow
	}
}

func AllowDowngrades(allow bool) WriteOption {
	return func(w *writeOptions) {
		w.allowDowngrades = &allow
	}
}

func (o *Orchestrator) resolveWrite(opts []WriteOption) bool {
	w := writeOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&w)
		}
	}
	if w.allowDowngrades != nil {
		return *w.allowDowngrades || o.allowDowngrades
	}
	return o.allowDowngrades
}

// Put fully replaces the resource id of module owned by owner.
func (o *Orchestrator) Put(
	ctx context.Context,
	owner core.PartyID,
	module string,
	id string,
	body []byte,
	opts ...WriteOption,
) (stored StoredResource, err error) {
	startedAt := time.Now()
	key := ownerKey(owner, module, id)
	defer func() {
		o.observe(ctx, startedAt, "put", key, err)
	}()

	codec, err := o.catalog.lookup(module)
	if err != nil {
		return StoredResource{}, err
	}
	allow := o.resolveWrite(opts)
	err = o.registry.WithPartyLock(ctx, owner, func(ctx context.Context) error {
		current, err := o.current(ctx, key)
		if err != nil {
			return err
		}
		applied, err := codec.replace(current, body, allow)
		if err != nil {
			return err
		}
		stored, err = o.commit(ctx, key, applied)
		return err
	})
	if err != nil {
		return StoredResource{}, err
	}
	return stored, nil
}

// Patch merges patch into the stored resource. The resource must exist.
func (o *Orchestrator) Patch(
	ctx context.Context,
	owner core.PartyID,
	module string,
	id string,
	patch []byte,
	opts ...WriteOption,
) (stored StoredResource, err error) {
	startedAt := time.Now()
	key := ownerKey(owner, module, id)
	defer func() {
		o.observe(ctx, startedAt, "patch", key, err)
	}()

	codec, err := o.catalog.lookup(module)
	if err != nil {
		return StoredResource{}, err
	}
	allow := o.resolveWrite(opts)
	err = o.registry.WithPartyLock(ctx, owner, func(ctx context.Context) error {
		current, err := o.current(ctx, key)
		if err != nil {
			return err
		}
		if current == nil {
			return notFoundError(key.Module, key.ID)
		}
		applied, err := codec.patch(current, patch, allow, o.now())
		if err != nil {
			return err
		}
		stored, err = o.commit(ctx, key, applied)
		return err
	})
	if err != nil {
		return StoredResource{}, err
	}
	return stored, nil
}

func (o *Orchestrator) Get(ctx context.Context, owner core.PartyID, module string, id string) (StoredResource, error) {
	if _, err := o.catalog.lookup(module); err != nil {
		return StoredResource{}, err
	}
	return o.store.Get(ctx, ownerKey(owner, module, id))
}

func (o *Orchestrator) List(ctx context.Context, owner core.PartyID, module string) ([]StoredResource, error) {
	if _, err := o.catalog.lookup(module); err != nil {
		return nil, err
	}
	return o.store.List(ctx, module, owner.CountryCode, owner.PartyID)
}

// Push sends resource to the peer's module endpoint as a full replace under
// our own country code and party id.
func (o *Orchestrator) Push(ctx context.Context, party core.PartyID, module string, resource Resource) (etag string, err error) {
	startedAt := time.Now()
	key := ownerKey(o.local, module, "")
	if resource != nil {
		key.ID = resource.ResourceID()
	}
	defer func() {
		o.observe(ctx, startedAt, "push", key, err)
	}()

	if o.caller == nil {
		return "", fmt.Errorf("sync: push requires a party caller")
	}
	if resource == nil || strings.TrimSpace(resource.ResourceID()) == "" {
		return "", malformedError(nil, "sync: resource id is required")
	}
	if _, err := o.catalog.lookup(module); err != nil {
		return "", err
	}
	result, err := finalize[Resource](resource)
	if err != nil {
		return "", err
	}
	endpoint, err := o.caller.Endpoint(party, key.Module)
	if err != nil {
		return "", err
	}
	url := strings.TrimRight(endpoint.URL, "/") + "/" + key.CountryCode + "/" + key.PartyID + "/" + key.ID
	resp, err := o.caller.Call(ctx, party, core.TransportRequest{
		Method: http.MethodPut,
		URL:    url,
		Headers: map[string]string{
			"Content-Type": "application/json",
			HeaderETag:     result.ETag,
		},
		Body: result.Document,
	})
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("sync: peer refused %s %s with http %d", key.Module, key.ID, resp.StatusCode)
	}
	if len(resp.Body) > 0 {
		envelope, decodeErr := core.DecodeResponse(resp.Body)
		if decodeErr == nil && envelope.StatusCode != core.StatusSuccess {
			return "", fmt.Errorf("sync: peer refused %s %s with status %d %s",
				key.Module, key.ID, envelope.StatusCode, envelope.StatusMessage)
		}
	}
	return result.ETag, nil
}

func (o *Orchestrator) current(ctx context.Context, key ResourceKey) (json.RawMessage, error) {
	stored, err := o.store.Get(ctx, key)
	if errors.Is(err, ErrResourceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return stored.Document, nil
}

func (o *Orchestrator) commit(ctx context.Context, key ResourceKey, applied Applied) (StoredResource, error) {
	if applied.Value.ResourceID() != key.ID {
		return StoredResource{}, malformedError(nil, "sync: body id "+applied.Value.ResourceID()+" does not match "+key.ID)
	}
	if err := checkOwner(applied.Document, key); err != nil {
		return StoredResource{}, err
	}
	if err := ctx.Err(); err != nil {
		return StoredResource{}, err
	}
	stored := StoredResource{
		Key:         key,
		Document:    applied.Document,
		ETag:        applied.ETag,
		LastUpdated: applied.Value.LastUpdatedAt().UTC(),
	}
	if err := o.store.Put(ctx, stored); err != nil {
		return StoredResource{}, err
	}
	return stored, nil
}

// checkOwner rejects documents that name another party than the URL.
func checkOwner(document json.RawMessage, key ResourceKey) error {
	fields := struct {
		CountryCode string `json:"country_code"`
		PartyID     string `json:"party_id"`
	}{}
	if err := json.Unmarshal(document, &fields); err != nil {
		return malformedError(err, "sync: document is not a JSON object")
	}
	if fields.CountryCode != "" && !strings.EqualFold(fields.CountryCode, key.CountryCode) {
		return immutableFieldError("country_code")
	}
	if fields.PartyID != "" && !strings.EqualFold(fields.PartyID, key.PartyID) {
		return immutableFieldError("party_id")
	}
	return nil
}

func ownerKey(owner core.PartyID, module string, id string) ResourceKey {
	return ResourceKey{
		Module:      module,
		CountryCode: owner.CountryCode,
		PartyID:     owner.PartyID,
		ID:          id,
	}.normalized()
}

func (o *Orchestrator) observe(ctx context.Context, startedAt time.Time, operation string, key ResourceKey, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	elapsed := time.Since(startedAt)
	tags := map[string]string{"operation": operation, "status": status, "module": key.Module}
	o.metrics.IncCounter(ctx, "ocpi.sync."+operation+".total", 1, tags)
	o.metrics.ObserveHistogram(ctx, "ocpi.sync."+operation+".duration_ms", float64(elapsed.Milliseconds()), tags)

	logger := o.logger.WithContext(ctx)
	args := []any{"module", key.Module, "owner", key.CountryCode + "*" + key.PartyID, "id", key.ID, "duration_ms", elapsed.Milliseconds()}
	if err != nil {
		logger.Error("sync "+operation+" failed", append(args, "error", err.Error())...)
		return
	}
	logger.Debug("sync "+operation+" succeeded", args...)
}
