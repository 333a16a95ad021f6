package ocpi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	gocmd "github.com/goliatone/go-command"
	ocpicommand "github.com/goliatone/go-ocpi/command"
	"github.com/goliatone/go-ocpi/core"
	ocpiquery "github.com/goliatone/go-ocpi/query"
	"github.com/goliatone/go-ocpi/transport"
)

func newFacadeService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(Config{VersionsURL: "https://emsp.example/ocpi/versions"})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestNewFacade_WiresCommandsQueriesAndRouter(t *testing.T) {
	facade, err := NewFacade(newFacadeService(t))
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	commands := facade.Commands()
	if commands.AddParty == nil || commands.RegisterParty == nil || commands.RenewCredentials == nil ||
		commands.UnregisterParty == nil || commands.SetLocalAccessStatus == nil || commands.SetPartyStatus == nil {
		t.Fatalf("expected every command to be wired: %#v", commands)
	}
	queries := facade.Queries()
	if queries.GetParty == nil || queries.ListParties == nil || queries.AuthorizeToken == nil {
		t.Fatalf("expected every query to be wired: %#v", queries)
	}
	modules := facade.Orchestrator().Catalog().Modules()
	if len(modules) != 5 {
		t.Fatalf("expected the built in modules, got %v", modules)
	}
}

func TestFacade_OperatorFlowReachesInboundRouter(t *testing.T) {
	facade, err := NewFacade(newFacadeService(t))
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	ctx := context.Background()
	party := NewPartyID("NL", "ABC", core.RoleCPO)

	if err := facade.Commands().AddParty.Execute(ctx, ocpicommand.AddPartyMessage{Input: AddPartyInput{
		ID:          party,
		VersionsURL: "https://peer.example/ocpi/versions",
		LocalToken:  "facade-token",
	}}); err != nil {
		t.Fatalf("add party: %v", err)
	}
	auth, err := facade.Queries().AuthorizeToken.Query(ctx, ocpiquery.AuthorizeTokenMessage{Token: "facade-token"})
	if err != nil || auth.Party.ID != party {
		t.Fatalf("expected token to resolve to party, got %+v %v", auth, err)
	}

	req := httptest.NewRequest(http.MethodGet, "/versions/2.2", nil)
	req.Header.Set(core.HeaderAuthorization, "Token facade-token")
	rec := httptest.NewRecorder()
	facade.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected version detail, got %d %s", rec.Code, rec.Body.String())
	}
	var envelope core.Response[core.VersionDetail]
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if len(envelope.Data.Endpoints) != 6 {
		t.Fatalf("expected credentials plus five modules, got %+v", envelope.Data.Endpoints)
	}

	collector := gocmd.NewResult[RemoteParty]()
	if err := facade.Commands().SetPartyStatus.Execute(gocmd.ContextWithResult(ctx, collector), ocpicommand.SetPartyStatusMessage{
		Party:  party,
		Status: core.PartyStatusSuspended,
	}); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	rec = httptest.NewRecorder()
	facade.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected suspended party to be refused, got %d", rec.Code)
	}
}

func TestNewFacade_RequiresService(t *testing.T) {
	if _, err := NewFacade(nil); err == nil {
		t.Fatalf("expected missing service to fail")
	}
}

func TestNewService_DefaultsToRESTTransport(t *testing.T) {
	cfg := Config{VersionsURL: "https://emsp.example/ocpi/versions"}
	cfg.LocalParty.CountryCode = "de"
	cfg.LocalParty.PartyID = "xyz"
	cfg.LocalParty.Role = "EMSP"
	svc, err := NewService(cfg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	resolver, ok := svc.Dependencies().TransportResolver.(*transport.PartyResolver)
	if !ok {
		t.Fatalf("expected REST party resolver, got %T", svc.Dependencies().TransportResolver)
	}
	adapter, err := resolver.Resolve(context.Background(), NewPartyID("NL", "ABC", core.RoleCPO), ConnectionConfig{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	rest := adapter.(*transport.RESTAdapter)
	if rest.From.Key() != "DE*XYZ*EMSP" || rest.To.Key() != "NL*ABC*CPO" {
		t.Fatalf("expected routing parties on adapter, got %s -> %s", rest.From.Key(), rest.To.Key())
	}

	custom := transport.NewPartyResolver()
	svc, err = NewService(cfg, WithTransportResolver(custom))
	if err != nil {
		t.Fatalf("new service with resolver: %v", err)
	}
	if svc.Dependencies().TransportResolver != custom {
		t.Fatalf("expected explicit resolver to win")
	}
}
