package ocpi

import (
	"fmt"
	"net/http"

	ocpicommand "github.com/goliatone/go-ocpi/command"
	"github.com/goliatone/go-ocpi/core"
	"github.com/goliatone/go-ocpi/inbound"
	ocpiquery "github.com/goliatone/go-ocpi/query"
	"github.com/goliatone/go-ocpi/resources"
	ocpisync "github.com/goliatone/go-ocpi/sync"
)

type Commands struct {
	AddParty             *ocpicommand.AddPartyCommand
	RegisterParty        *ocpicommand.RegisterPartyCommand
	RenewCredentials     *ocpicommand.RenewCredentialsCommand
	UnregisterParty      *ocpicommand.UnregisterPartyCommand
	SetLocalAccessStatus *ocpicommand.SetLocalAccessStatusCommand
	SetPartyStatus       *ocpicommand.SetPartyStatusCommand
}

type Queries struct {
	GetParty       *ocpiquery.GetPartyQuery
	ListParties    *ocpiquery.ListPartiesQuery
	AuthorizeToken *ocpiquery.AuthorizeTokenQuery
}

// Facade bundles the operator commands, the resource orchestrator and the
// inbound router of one service.
type Facade struct {
	service      *Service
	orchestrator *Orchestrator
	router       *inbound.Router
	commands     Commands
	queries      Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	catalog            *Catalog
	hooks              *ExtensionHooks
	orchestratorOpts   []ocpisync.OrchestratorOption
	routerOpts         []inbound.Option
	skipBuiltinModules bool
}

// WithCatalog replaces the module catalog. The built in OCPI modules are not
// registered on a caller supplied catalog.
func WithCatalog(catalog *Catalog) FacadeOption {
	return func(o *facadeOptions) {
		if catalog != nil {
			o.catalog = catalog
			o.skipBuiltinModules = true
		}
	}
}

func WithExtensionHooks(hooks *ExtensionHooks) FacadeOption {
	return func(o *facadeOptions) {
		o.hooks = hooks
	}
}

func WithOrchestratorOptions(opts ...ocpisync.OrchestratorOption) FacadeOption {
	return func(o *facadeOptions) {
		o.orchestratorOpts = append(o.orchestratorOpts, opts...)
	}
}

func WithRouterOptions(opts ...inbound.Option) FacadeOption {
	return func(o *facadeOptions) {
		o.routerOpts = append(o.routerOpts, opts...)
	}
}

func NewFacade(service *Service, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("ocpi: service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}
	catalog := cfg.catalog
	if catalog == nil {
		catalog = ocpisync.NewCatalog()
	}
	if !cfg.skipBuiltinModules {
		resources.Register(catalog)
	}
	if err := cfg.hooks.ApplyModulePacks(catalog); err != nil {
		return nil, err
	}

	orchestrator := ocpisync.NewServiceOrchestrator(service, catalog, cfg.orchestratorOpts...)
	facade := &Facade{
		service:      service,
		orchestrator: orchestrator,
		router:       inbound.NewRouter(service, orchestrator, cfg.routerOpts...),
	}
	facade.commands = Commands{
		AddParty:             ocpicommand.NewAddPartyCommand(service),
		RegisterParty:        ocpicommand.NewRegisterPartyCommand(service),
		RenewCredentials:     ocpicommand.NewRenewCredentialsCommand(service),
		UnregisterParty:      ocpicommand.NewUnregisterPartyCommand(service),
		SetLocalAccessStatus: ocpicommand.NewSetLocalAccessStatusCommand(service),
		SetPartyStatus:       ocpicommand.NewSetPartyStatusCommand(service),
	}
	facade.queries = Queries{
		GetParty:       ocpiquery.NewGetPartyQuery(service),
		ListParties:    ocpiquery.NewListPartiesQuery(service),
		AuthorizeToken: ocpiquery.NewAuthorizeTokenQuery(service),
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() *core.Service {
	if f == nil {
		return nil
	}
	return f.service
}

func (f *Facade) Orchestrator() *Orchestrator {
	if f == nil {
		return nil
	}
	return f.orchestrator
}

// Handler serves the versions, credentials and module endpoints.
func (f *Facade) Handler() http.Handler {
	if f == nil {
		return nil
	}
	return f.router
}
