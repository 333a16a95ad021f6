package core

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"testing"
	"time"
)

func TestRegister_CompletesHandshakeAgainst22Peer(t *testing.T) {
	peer := newFakePeer()
	metrics := newRecordingMetrics()
	svc := newTestService(t, peer, WithMetricsRecorder(metrics))

	remote := registerTestParty(t, svc, peer)

	if remote.Status != RemoteAccessOnline {
		t.Fatalf("expected ONLINE, got %q", remote.Status)
	}
	if remote.SelectedVersionID != "2.2" {
		t.Fatalf("expected selected 2.2, got %q", remote.SelectedVersionID)
	}
	if remote.AccessToken != "peer-token-123" {
		t.Fatalf("expected peer token to be stored, got %q", remote.AccessToken)
	}
	if !remote.TokenIsBase64 {
		t.Fatalf("expected 2.2 credential to use base64 tokens")
	}
	endpoint, ok := remote.Endpoint("sessions")
	if !ok || endpoint.URL != testPeerSessionsURL {
		t.Fatalf("expected sessions endpoint, got %+v ok=%v", endpoint, ok)
	}

	posts := peer.seen(http.MethodPost, testPeerCredsURL)
	if len(posts) != 1 {
		t.Fatalf("expected one credentials POST, got %d", len(posts))
	}
	wantAuth := "Token " + base64.StdEncoding.EncodeToString([]byte("bootstrap-remote"))
	if got := posts[0].Headers[HeaderAuthorization]; got != wantAuth {
		t.Fatalf("expected bootstrap token header %q, got %q", wantAuth, got)
	}
	var sent map[string]any
	if err := json.Unmarshal(posts[0].Body, &sent); err != nil {
		t.Fatalf("decode posted credentials: %v", err)
	}
	if sent["token"] != "local-1" || sent["url"] != "https://emsp.example/ocpi/versions" {
		t.Fatalf("unexpected posted credentials: %v", sent)
	}
	if _, ok := sent["roles"]; !ok {
		t.Fatalf("expected 2.2 roles array in posted credentials")
	}

	party, err := svc.GetParty(context.Background(), testPartyID)
	if err != nil {
		t.Fatalf("get party: %v", err)
	}
	if len(party.LocalAccessInfos) != 1 || party.LocalAccessInfos[0].AccessToken != "local-1" {
		t.Fatalf("expected only the issued token to remain, got %+v", party.LocalAccessInfos)
	}
	if len(party.Roles) != 1 || party.Roles[0].BusinessDetails.Name != "Peer CPO" {
		t.Fatalf("expected peer roles to be recorded, got %+v", party.Roles)
	}
	if party.ETag() == "" {
		t.Fatalf("expected committed party to carry an etag")
	}
	if metrics.count("ocpi.register.total", "success") != 1 {
		t.Fatalf("expected register success metric")
	}
}

func TestRegister_RejectsAlreadyRegisteredParty(t *testing.T) {
	peer := newFakePeer()
	svc := newTestService(t, peer)
	registerTestParty(t, svc, peer)

	_, err := svc.Register(context.Background(), testPartyID)
	if !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected already registered, got %v", err)
	}
}

func TestRegister_RejectedCredentialsRollBackIssuedToken(t *testing.T) {
	peer := newFakePeer()
	servePeer22(t, peer, "peer-token-123")
	peer.on(http.MethodPost, testPeerCredsURL, func(TransportRequest) (TransportResponse, error) {
		return TransportResponse{StatusCode: http.StatusUnauthorized, Body: []byte(`{"status_code":2000}`)}, nil
	})
	svc := newTestService(t, peer)
	addTestParty(t, svc)

	_, err := svc.Register(context.Background(), testPartyID)
	if !errors.Is(err, ErrHandshakeRejected) {
		t.Fatalf("expected handshake rejected, got %v", err)
	}
	if got := len(peer.seen(http.MethodPost, testPeerCredsURL)); got != 1 {
		t.Fatalf("expected rejected POST not to be retried, got %d attempts", got)
	}

	party, _ := svc.GetParty(context.Background(), testPartyID)
	if len(party.LocalAccessInfos) != 1 || party.LocalAccessInfos[0].AccessToken != "bootstrap-local" {
		t.Fatalf("expected issued token to be rolled back, got %+v", party.LocalAccessInfos)
	}
	remote := party.RemoteAccessInfos[party.RemoteAccess()]
	if remote.Status != RemoteAccessPreRegistration {
		t.Fatalf("expected PRE_REGISTRATION after rejection, got %q", remote.Status)
	}
	if remote.AccessToken != "bootstrap-remote" {
		t.Fatalf("expected remote token untouched, got %q", remote.AccessToken)
	}
	if remote.SelectedVersionID != "" || len(remote.Endpoints) != 0 {
		t.Fatalf("expected discovery not to be recorded, got %+v", remote)
	}
}

func TestRegister_EnvelopeFailureIsRejection(t *testing.T) {
	peer := newFakePeer()
	servePeer22(t, peer, "peer-token-123")
	peer.on(http.MethodPost, testPeerCredsURL, func(TransportRequest) (TransportResponse, error) {
		return TransportResponse{StatusCode: http.StatusOK, Body: []byte(`{"status_code":2001,"status_message":"bad roles","timestamp":"2024-01-01T00:00:00Z"}`)}, nil
	})
	svc := newTestService(t, peer)
	addTestParty(t, svc)

	if _, err := svc.Register(context.Background(), testPartyID); !errors.Is(err, ErrHandshakeRejected) {
		t.Fatalf("expected handshake rejected, got %v", err)
	}
}

func TestRegister_NoCompatibleVersionKeepsPreRegistration(t *testing.T) {
	peer := newFakePeer()
	peer.on(http.MethodGet, testPeerVersionsURL, envelope(t, []VersionInformation{
		{Version: "3.0", URL: "https://peer.example/ocpi/3.0"},
	}))
	svc := newTestService(t, peer, withVersions("2.1.1", "2.2"))
	addTestParty(t, svc)

	_, err := svc.Register(context.Background(), testPartyID)
	if !errors.Is(err, ErrNoCompatibleVersion) {
		t.Fatalf("expected no compatible version, got %v", err)
	}
	party, _ := svc.GetParty(context.Background(), testPartyID)
	remote := party.RemoteAccessInfos[0]
	if remote.Status != RemoteAccessPreRegistration || remote.SelectedVersionID != "" {
		t.Fatalf("expected untouched PRE_REGISTRATION record, got %+v", remote)
	}
	if len(remote.VersionIDs) != 1 || remote.VersionIDs[0] != "3.0" {
		t.Fatalf("expected offered versions to be recorded, got %v", remote.VersionIDs)
	}
	if len(peer.seen(http.MethodPost, testPeerCredsURL)) != 0 {
		t.Fatalf("expected no credentials exchange without a common version")
	}
}

func TestRegister_MalformedVersionsResponse(t *testing.T) {
	peer := newFakePeer()
	peer.on(http.MethodGet, testPeerVersionsURL, envelope(t, []VersionInformation{}))
	svc := newTestService(t, peer)
	addTestParty(t, svc)

	if _, err := svc.Register(context.Background(), testPartyID); !errors.Is(err, ErrMalformedVersionsResponse) {
		t.Fatalf("expected malformed versions error, got %v", err)
	}
}

func TestRegister_MissingCredentialsEndpointIsDiscoveryFailure(t *testing.T) {
	peer := newFakePeer()
	servePeer22(t, peer, "peer-token-123")
	peer.on(http.MethodGet, testPeerDetailURL, envelope(t, VersionDetail{
		Version:   "2.2",
		Endpoints: []Endpoint{{Identifier: "sessions", URL: testPeerSessionsURL}},
	}))
	svc := newTestService(t, peer)
	addTestParty(t, svc)

	if _, err := svc.Register(context.Background(), testPartyID); !errors.Is(err, ErrEndpointDiscoveryFailed) {
		t.Fatalf("expected discovery failure, got %v", err)
	}
}

func TestRenew_RotatesBothTokens(t *testing.T) {
	peer := newFakePeer()
	svc := newTestService(t, peer)
	registerTestParty(t, svc, peer)
	peer.on(http.MethodPut, testPeerCredsURL, envelope(t, map[string]any{
		"token": "peer-token-456",
		"url":   testPeerVersionsURL,
		"roles": []CredentialsRole{{Role: RoleCPO, PartyID: "ABC", CountryCode: "NL", BusinessDetails: BusinessDetails{Name: "Peer CPO"}}},
	}))

	remote, err := svc.Renew(context.Background(), testPartyID)
	if err != nil {
		t.Fatalf("renew: %v", err)
	}
	if remote.AccessToken != "peer-token-456" || remote.Status != RemoteAccessOnline {
		t.Fatalf("unexpected remote after renew: %+v", remote)
	}
	puts := peer.seen(http.MethodPut, testPeerCredsURL)
	if len(puts) != 1 {
		t.Fatalf("expected one PUT, got %d", len(puts))
	}
	wantAuth := "Token " + base64.StdEncoding.EncodeToString([]byte("peer-token-123"))
	if got := puts[0].Headers[HeaderAuthorization]; got != wantAuth {
		t.Fatalf("expected previous peer token on PUT, got %q", got)
	}

	if _, err := svc.Authorize(context.Background(), "local-1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected retired token to be refused, got %v", err)
	}
	if _, err := svc.Authorize(context.Background(), "local-2"); err != nil {
		t.Fatalf("expected renewed token to authorize: %v", err)
	}
}

func TestRenew_RejectedPutLeavesRemoteRecordUnchanged(t *testing.T) {
	peer := newFakePeer()
	svc := newTestService(t, peer)
	registerTestParty(t, svc, peer)
	before, err := svc.GetParty(context.Background(), testPartyID)
	if err != nil {
		t.Fatalf("get party: %v", err)
	}

	altDetailURL := "https://peer.example/ocpi/2.2-alt"
	altCredsURL := altDetailURL + "/credentials"
	peer.on(http.MethodGet, testPeerVersionsURL, envelope(t, []VersionInformation{
		{Version: "2.2", URL: altDetailURL},
	}))
	peer.on(http.MethodGet, altDetailURL, envelope(t, VersionDetail{
		Version:   "2.2",
		Endpoints: []Endpoint{{Identifier: ModuleCredentials, URL: altCredsURL}},
	}))
	peer.on(http.MethodPut, altCredsURL, func(TransportRequest) (TransportResponse, error) {
		return TransportResponse{StatusCode: http.StatusForbidden, Body: []byte(`{}`)}, nil
	})

	if _, err := svc.Renew(context.Background(), testPartyID); !errors.Is(err, ErrHandshakeRejected) {
		t.Fatalf("expected handshake rejected, got %v", err)
	}

	after, err := svc.GetParty(context.Background(), testPartyID)
	if err != nil {
		t.Fatalf("get party: %v", err)
	}
	want := before.RemoteAccessInfos[before.RemoteAccess()]
	got := after.RemoteAccessInfos[after.RemoteAccess()]
	if !reflect.DeepEqual(want, got) {
		t.Fatalf("expected remote record unchanged\nbefore: %+v\nafter:  %+v", want, got)
	}
	if _, err := svc.Authorize(context.Background(), "local-1"); err != nil {
		t.Fatalf("expected current token to keep working: %v", err)
	}
}

func TestRenew_RequiresRegistration(t *testing.T) {
	peer := newFakePeer()
	svc := newTestService(t, peer)
	addTestParty(t, svc)

	if _, err := svc.Renew(context.Background(), testPartyID); !errors.Is(err, ErrPartyUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}

func TestUnregister_BlocksTokensAfterAcknowledgement(t *testing.T) {
	peer := newFakePeer()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(t, peer, WithClock(func() time.Time { return now }))
	registerTestParty(t, svc, peer)

	if err := svc.Unregister(context.Background(), testPartyID); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	party, _ := svc.GetParty(context.Background(), testPartyID)
	for _, info := range party.RemoteAccessInfos {
		if info.Status != RemoteAccessUnregistered {
			t.Fatalf("expected UNREGISTERED remote record, got %q", info.Status)
		}
	}
	for _, info := range party.LocalAccessInfos {
		if info.Status != LocalAccessBlocked || info.NotAfter == nil || !info.NotAfter.Equal(now) {
			t.Fatalf("expected blocked local token ending now, got %+v", info)
		}
	}
	if _, err := svc.Call(context.Background(), testPartyID, TransportRequest{Method: http.MethodGet, URL: testPeerSessionsURL}); !errors.Is(err, ErrPartyUnavailable) {
		t.Fatalf("expected calls to stop after unregister, got %v", err)
	}
}

func TestUnregister_FailureLeavesConnectionIntact(t *testing.T) {
	peer := newFakePeer()
	svc := newTestService(t, peer)
	registerTestParty(t, svc, peer)
	peer.on(http.MethodDelete, testPeerCredsURL, func(TransportRequest) (TransportResponse, error) {
		return TransportResponse{StatusCode: http.StatusMethodNotAllowed}, nil
	})

	if err := svc.Unregister(context.Background(), testPartyID); !errors.Is(err, ErrHandshakeRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if _, err := svc.Authorize(context.Background(), "local-1"); err != nil {
		t.Fatalf("expected token to remain valid: %v", err)
	}
}

func TestV211Variant_FlatCredentialsRoundTrip(t *testing.T) {
	variant := V211Variant{}
	payload, err := variant.EncodeCredentials(Credentials{
		Token: "abc",
		URL:   "https://example.com/versions",
		Roles: []CredentialsRole{{Role: RoleEMSP, PartyID: "XYZ", CountryCode: "DE", BusinessDetails: BusinessDetails{Name: "Test"}}},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var flat map[string]any
	if err := json.Unmarshal(payload, &flat); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if flat["party_id"] != "XYZ" || flat["country_code"] != "DE" {
		t.Fatalf("expected flat party fields, got %v", flat)
	}
	if _, ok := flat["roles"]; ok {
		t.Fatalf("2.1.1 credentials must not carry roles")
	}

	decoded, err := variant.DecodeCredentials([]byte(`{"token":"t","url":"u","party_id":"abc","country_code":"nl","business_details":{"name":"x"}}`))
	if err != nil {
		t.Fatalf("decode credentials: %v", err)
	}
	if decoded.Roles[0].PartyID != "ABC" || decoded.Roles[0].CountryCode != "NL" {
		t.Fatalf("expected normalized party fields, got %+v", decoded.Roles[0])
	}
	if variant.Supports("2.2") || !variant.Supports("2.1.1") || !variant.Supports("2.0") {
		t.Fatalf("unexpected 2.1 family support")
	}
}

func TestV22Variant_RequiresRoles(t *testing.T) {
	variant := V22Variant{}
	if _, err := variant.DecodeCredentials([]byte(`{"token":"t","url":"u","roles":[]}`)); err == nil {
		t.Fatalf("expected missing roles to fail")
	}
	if _, err := variant.DecodeCredentials([]byte(`[]`)); err == nil {
		t.Fatalf("expected non-object payload to fail")
	}
	if !variant.Supports("2.2.1") || !variant.Supports("3.0") || variant.Supports("2.1.1") {
		t.Fatalf("unexpected 2.2 family support")
	}
}
