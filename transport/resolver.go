package transport

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"reflect"
	"sync"

	"github.com/goliatone/go-ocpi/core"
)

// ClientFactory builds the HTTP client for one party's connection policy.
type ClientFactory func(cfg core.ConnectionConfig) HTTPDoer

// PartyResolver hands out one REST adapter per party and rebuilds it when the
// party's connection policy changes.
type PartyResolver struct {
	mu             sync.Mutex
	entries        map[string]resolvedAdapter
	newClient      ClientFactory
	defaultHeaders map[string]string
	responseLimit  int64
	localParty     core.PartyID
}

type resolvedAdapter struct {
	fingerprint string
	adapter     *RESTAdapter
}

type ResolverOption func(*PartyResolver)

func WithClientFactory(factory ClientFactory) ResolverOption {
	return func(r *PartyResolver) {
		if factory != nil {
			r.newClient = factory
		}
	}
}

func WithDefaultHeaders(headers map[string]string) ResolverOption {
	return func(r *PartyResolver) {
		for key, value := range headers {
			r.defaultHeaders[key] = value
		}
	}
}

func WithResponseLimit(limit int64) ResolverOption {
	return func(r *PartyResolver) {
		r.responseLimit = limit
	}
}

// WithLocalParty makes every adapter send the OCPI routing headers from
// local to the party it was resolved for.
func WithLocalParty(local core.PartyID) ResolverOption {
	return func(r *PartyResolver) {
		r.localParty = local
	}
}

func NewPartyResolver(opts ...ResolverOption) *PartyResolver {
	r := &PartyResolver{
		entries: map[string]resolvedAdapter{},
		newClient: func(cfg core.ConnectionConfig) HTTPDoer {
			return NewHTTPClient(cfg)
		},
		defaultHeaders: map[string]string{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *PartyResolver) Resolve(_ context.Context, id core.PartyID, cfg core.ConnectionConfig) (core.TransportAdapter, error) {
	if r == nil {
		return nil, fmt.Errorf("transport: party resolver is nil")
	}
	key := id.Key()
	fingerprint := connectionFingerprint(cfg)

	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.entries[key]; ok && entry.fingerprint == fingerprint {
		return entry.adapter, nil
	}
	adapter := NewRESTAdapter(r.newClient(cfg))
	for header, value := range r.defaultHeaders {
		adapter.DefaultHeaders[header] = value
	}
	if r.responseLimit > 0 {
		adapter.MaxResponseBodyBytes = r.responseLimit
	}
	if r.localParty.CountryCode != "" {
		adapter.From = r.localParty
		adapter.To = id
	}
	r.entries[key] = resolvedAdapter{fingerprint: fingerprint, adapter: adapter}
	return adapter, nil
}

// Invalidate drops the cached adapter of id.
func (r *PartyResolver) Invalidate(id core.PartyID) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id.Key())
}

// connectionFingerprint identifies the parts of cfg that shape the HTTP
// client. The validator holder is compared by identity since its content
// is swapped in place.
func connectionFingerprint(cfg core.ConnectionConfig) string {
	return fmt.Sprintf("%s|%s|%s|%t|%d",
		identityOf(cfg.ClientCertificate),
		identityOf(cfg.Validator),
		identityOf(cfg.RootCAs),
		cfg.Pipelining,
		cfg.RequestTimeout,
	)
}

func identityOf(v any) string {
	if v == nil {
		return "-"
	}
	if static, ok := v.(core.StaticClientCertificate); ok {
		if len(static.Certificate.Certificate) == 0 {
			return "static:empty"
		}
		sum := sha256.Sum256(static.Certificate.Certificate[0])
		return "static:" + hex.EncodeToString(sum[:8])
	}
	value := reflect.ValueOf(v)
	switch value.Kind() {
	case reflect.Pointer, reflect.Func, reflect.Map, reflect.Chan, reflect.UnsafePointer:
		if value.IsNil() {
			return "-"
		}
		return fmt.Sprintf("%T@%x", v, value.Pointer())
	default:
		return fmt.Sprintf("%T", v)
	}
}
