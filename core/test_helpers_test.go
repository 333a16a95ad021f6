package core

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"
)

const (
	testPeerVersionsURL = "https://peer.example/ocpi/versions"
	testPeerDetailURL   = "https://peer.example/ocpi/2.2"
	testPeerCredsURL    = "https://peer.example/ocpi/2.2/credentials"
	testPeerSessionsURL = "https://peer.example/ocpi/2.2/sessions"
)

var testPartyID = NewPartyID("NL", "ABC", RoleCPO)

type peerHandler func(req TransportRequest) (TransportResponse, error)

// fakePeer routes requests by method and URL and keeps every request it saw.
type fakePeer struct {
	mu       sync.Mutex
	routes   map[string]peerHandler
	requests []TransportRequest
}

func newFakePeer() *fakePeer {
	return &fakePeer{routes: map[string]peerHandler{}}
}

func (p *fakePeer) on(method string, url string, handler peerHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.routes[method+" "+url] = handler
}

func (p *fakePeer) Kind() string { return "fake" }

func (p *fakePeer) Do(_ context.Context, req TransportRequest) (TransportResponse, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	handler, ok := p.routes[req.Method+" "+req.URL]
	p.mu.Unlock()
	if !ok {
		return TransportResponse{StatusCode: http.StatusNotFound, Body: []byte(`{}`)}, nil
	}
	return handler(req)
}

func (p *fakePeer) seen(method string, url string) []TransportRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []TransportRequest
	for _, req := range p.requests {
		if req.Method == method && req.URL == url {
			out = append(out, req)
		}
	}
	return out
}

func (p *fakePeer) resolver() TransportResolver {
	return TransportResolverFunc(func(context.Context, PartyID, ConnectionConfig) (TransportAdapter, error) {
		return p, nil
	})
}

func envelope(t *testing.T, data any) peerHandler {
	t.Helper()
	body, err := json.Marshal(NewResponse(data, StatusSuccess, "", time.Unix(0, 0)))
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return func(TransportRequest) (TransportResponse, error) {
		return TransportResponse{StatusCode: http.StatusOK, Body: body}, nil
	}
}

// servePeer22 installs a peer that offers 2.2 only and answers credential
// exchanges with token.
func servePeer22(t *testing.T, peer *fakePeer, token string) {
	t.Helper()
	peer.on(http.MethodGet, testPeerVersionsURL, envelope(t, []VersionInformation{
		{Version: "2.2", URL: testPeerDetailURL},
	}))
	peer.on(http.MethodGet, testPeerDetailURL, envelope(t, VersionDetail{
		Version: "2.2",
		Endpoints: []Endpoint{
			{Identifier: ModuleCredentials, Role: InterfaceRoleSender, URL: testPeerCredsURL},
			{Identifier: "sessions", Role: InterfaceRoleReceiver, URL: testPeerSessionsURL},
		},
	}))
	answer := envelope(t, map[string]any{
		"token": token,
		"url":   testPeerVersionsURL,
		"roles": []CredentialsRole{{
			Role:            RoleCPO,
			PartyID:         "ABC",
			CountryCode:     "NL",
			BusinessDetails: BusinessDetails{Name: "Peer CPO"},
		}},
	})
	peer.on(http.MethodPost, testPeerCredsURL, answer)
	peer.on(http.MethodPut, testPeerCredsURL, answer)
	peer.on(http.MethodDelete, testPeerCredsURL, envelope(t, nil))
}

type tokenSequence struct {
	mu   sync.Mutex
	next int
}

func (s *tokenSequence) generate() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return fmt.Sprintf("local-%d", s.next)
}

func testConfig() Config {
	return Config{
		VersionsURL: "https://emsp.example/ocpi/versions",
		LocalParty: LocalPartyConfig{
			CountryCode: "DE",
			PartyID:     "XYZ",
			Role:        string(RoleEMSP),
			Name:        "Test eMSP",
		},
	}
}

func newTestService(t *testing.T, peer *fakePeer, opts ...Option) *Service {
	t.Helper()
	tokens := &tokenSequence{}
	base := []Option{
		WithTokenGenerator(tokens.generate),
		WithConnectionConfig(ConnectionConfig{
			MaxNumberOfRetries: 3,
			Backoff:            ExponentialBackoff{Initial: time.Millisecond, Max: time.Millisecond},
		}),
	}
	if peer != nil {
		base = append(base, WithTransportResolver(peer.resolver()))
	}
	svc, err := NewService(testConfig(), append(base, opts...)...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func addTestParty(t *testing.T, svc *Service) RemoteParty {
	t.Helper()
	party, err := svc.AddParty(context.Background(), AddPartyInput{
		ID:          testPartyID,
		VersionsURL: testPeerVersionsURL,
		RemoteToken: "bootstrap-remote",
		LocalToken:  "bootstrap-local",
	})
	if err != nil {
		t.Fatalf("add party: %v", err)
	}
	return party
}

func registerTestParty(t *testing.T, svc *Service, peer *fakePeer) RemoteAccessInfo {
	t.Helper()
	servePeer22(t, peer, "peer-token-123")
	addTestParty(t, svc)
	remote, err := svc.Register(context.Background(), testPartyID)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return remote
}

type recordingMetrics struct {
	mu       sync.Mutex
	counters map[string]int64
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{counters: map[string]int64{}}
}

func (m *recordingMetrics) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name+"|"+tags["outcome"]] += value
}

func (m *recordingMetrics) ObserveHistogram(context.Context, string, float64, map[string]string) {}

func (m *recordingMetrics) count(name string, status string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name+"|"+status]
}

type failingPartyStore struct {
	*MemoryPartyStore
	fail bool
}

func (s *failingPartyStore) Save(ctx context.Context, party RemoteParty) error {
	if s.fail {
		return fmt.Errorf("store unavailable")
	}
	return s.MemoryPartyStore.Save(ctx, party)
}

func withVersions(versions ...string) Option {
	return func(b *serviceBuilder) {
		b.runtimeConfig.Versions = versions
		b.runtimeConfig.PreferredVersion = versions[len(versions)-1]
	}
}
