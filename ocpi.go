package ocpi

import (
	"github.com/goliatone/go-ocpi/core"
	ocpisync "github.com/goliatone/go-ocpi/sync"
	"github.com/goliatone/go-ocpi/transport"
)

type Config = core.Config

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies

type PartyID = core.PartyID
type RemoteParty = core.RemoteParty
type Role = core.Role
type PartyStatus = core.PartyStatus
type Credentials = core.Credentials
type CredentialsRole = core.CredentialsRole
type LocalAccessInfo = core.LocalAccessInfo
type RemoteAccessInfo = core.RemoteAccessInfo
type VersionID = core.VersionID
type Endpoint = core.Endpoint
type ConnectionConfig = core.ConnectionConfig
type AddPartyInput = core.AddPartyInput
type AuthorizedParty = core.AuthorizedParty

type PartyStore = core.PartyStore
type PartyLocker = core.PartyLocker
type SecretProvider = core.SecretProvider
type TransportResolver = core.TransportResolver
type ProtocolVariant = core.ProtocolVariant

type Catalog = ocpisync.Catalog
type Orchestrator = ocpisync.Orchestrator
type ResourceStore = ocpisync.ResourceStore

var (
	WithLogger            = core.WithLogger
	WithLoggerProvider    = core.WithLoggerProvider
	WithMetricsRecorder   = core.WithMetricsRecorder
	WithErrorFactory      = core.WithErrorFactory
	WithErrorMapper       = core.WithErrorMapper
	WithPersistenceClient = core.WithPersistenceClient
	WithRepositoryFactory = core.WithRepositoryFactory
	WithConfigProvider    = core.WithConfigProvider
	WithEnvConfig         = core.WithEnvConfig
	WithOptionsResolver   = core.WithOptionsResolver
	WithPartyStore        = core.WithPartyStore
	WithPartyLocker       = core.WithPartyLocker
	WithTransportResolver = core.WithTransportResolver
	WithConnectionConfig  = core.WithConnectionConfig
	WithProtocolVariants  = core.WithProtocolVariants
	WithTokenGenerator    = core.WithTokenGenerator
	WithClock             = core.WithClock
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

// NewService builds a service that reaches peers over the REST transport,
// sending OCPI routing headers from cfg's local party. A WithTransportResolver
// option replaces that default.
func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, withDefaultTransport(cfg, opts)...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return core.Setup(cfg, withDefaultTransport(cfg, opts)...)
}

func withDefaultTransport(cfg Config, opts []Option) []Option {
	var resolverOpts []transport.ResolverOption
	if local := cfg.LocalParty.ID(); local.CountryCode != "" {
		resolverOpts = append(resolverOpts, transport.WithLocalParty(local))
	}
	out := make([]Option, 0, len(opts)+1)
	out = append(out, core.WithTransportResolver(transport.NewPartyResolver(resolverOpts...)))
	return append(out, opts...)
}

func NewPartyID(countryCode string, partyID string, role Role) PartyID {
	return core.NewPartyID(countryCode, partyID, role)
}
