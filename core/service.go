package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

type Service struct {
	config            Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorFactory      ErrorFactory
	errorMapper       ErrorMapper
	persistenceClient any
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	registry          *PartyRegistry
	partyStore        PartyStore
	transportResolver TransportResolver
	connection        ConnectionConfig
	variants          []ProtocolVariant
	newToken          func() string
	now               func() time.Time
}

type ServiceDependencies struct {
	Logger            Logger
	LoggerProvider    LoggerProvider
	MetricsRecorder   MetricsRecorder
	ErrorFactory      ErrorFactory
	ErrorMapper       ErrorMapper
	PersistenceClient any
	ConfigProvider    ConfigProvider
	OptionsResolver   OptionsResolver
	Registry          *PartyRegistry
	PartyStore        PartyStore
	TransportResolver TransportResolver
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("ocpi", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("ocpi"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if len(builder.variants) == 0 {
		builder.variants = DefaultProtocolVariants()
	}
	if builder.tokenGenerator == nil {
		return nil, mapBuildError(builder.errorMapper, fmt.Errorf("core: token generator is required"))
	}
	if builder.now == nil {
		builder.now = func() time.Time { return time.Now().UTC() }
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.partyStore == nil && builder.repositoryFactory != nil {
		if factory, ok := builder.repositoryFactory.(PartyStoreFactory); ok {
			store, buildErr := factory.BuildPartyStore(builder.persistenceClient)
			if buildErr != nil {
				return nil, mapBuildError(builder.errorMapper, buildErr)
			}
			builder.partyStore = store
		} else if provider, ok := builder.repositoryFactory.(interface{ PartyStore() PartyStore }); ok {
			builder.partyStore = provider.PartyStore()
		}
	}
	if builder.partyStore == nil {
		builder.partyStore = NewMemoryPartyStore()
	}
	if builder.partyLocker == nil {
		builder.partyLocker = NewMemoryPartyLocker()
	}

	registry := NewPartyRegistry(builder.partyStore, builder.partyLocker)
	registry.now = builder.now

	connection := finalConfig.DefaultConnectionConfig()
	if builder.connection != nil {
		connection = builder.connection.WithDefaults(connection)
	}

	return &Service{
		config:            finalConfig,
		logger:            logger,
		loggerProvider:    provider,
		metricsRecorder:   builder.metricsRecorder,
		errorFactory:      builder.errorFactory,
		errorMapper:       builder.errorMapper,
		persistenceClient: builder.persistenceClient,
		configProvider:    builder.configProvider,
		optionsResolver:   builder.optionsResolver,
		registry:          registry,
		partyStore:        builder.partyStore,
		transportResolver: builder.transportResolver,
		connection:        connection,
		variants:          builder.variants,
		newToken:          builder.tokenGenerator,
		now:               builder.now,
	}, nil
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Registry() *PartyRegistry {
	if s == nil {
		return nil
	}
	return s.registry
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:            s.logger,
		LoggerProvider:    s.loggerProvider,
		MetricsRecorder:   s.metricsRecorder,
		ErrorFactory:      s.errorFactory,
		ErrorMapper:       s.errorMapper,
		PersistenceClient: s.persistenceClient,
		ConfigProvider:    s.configProvider,
		OptionsResolver:   s.optionsResolver,
		Registry:          s.registry,
		PartyStore:        s.partyStore,
		TransportResolver: s.transportResolver,
	}
}

// Load restores the registry from the party store.
func (s *Service) Load(ctx context.Context) (err error) {
	startedAt := time.Now().UTC()
	defer func() {
		s.observeOperation(ctx, startedAt, "load", err, map[string]any{"parties": len(s.registry.List())})
	}()
	if err = s.registry.Load(ctx); err != nil {
		err = s.mapError(err)
	}
	return err
}

type AddPartyInput struct {
	ID          PartyID
	VersionsURL string
	// RemoteToken is the bootstrap token the party handed us out of band.
	RemoteToken string
	// LocalToken is the bootstrap token we handed the party. One is
	// generated when empty.
	LocalToken      string
	TokenIsBase64   bool
	AllowDowngrades bool
	Config          *ConnectionConfig
}

// AddParty creates a party in PRE_REGISTRATION, ready for Register or for the
// party to call our credentials module.
func (s *Service) AddParty(ctx context.Context, in AddPartyInput) (party RemoteParty, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"party": in.ID.Key()}
	defer func() {
		s.observeOperation(ctx, startedAt, "add_party", err, fields)
	}()

	id := NewPartyID(in.ID.CountryCode, in.ID.PartyID, in.ID.Role)
	if err = id.Validate(); err != nil {
		err = s.mapError(invalidInputError(err.Error(), map[string]any{"party": id.Key()}))
		return RemoteParty{}, err
	}
	versionsURL := strings.TrimSpace(in.VersionsURL)
	if versionsURL == "" {
		err = s.mapError(invalidInputError("core: versions url is required", map[string]any{"party": id.Key()}))
		return RemoteParty{}, err
	}
	localToken := strings.TrimSpace(in.LocalToken)
	if localToken == "" {
		localToken = s.newToken()
	}

	now := s.now()
	err = s.registry.WithPartyLock(ctx, id, func(ctx context.Context) error {
		if _, exists := s.registry.Get(id); exists {
			return alreadyRegisteredError(id)
		}
		var upsertErr error
		party, upsertErr = s.registry.Upsert(ctx, id, func(p *RemoteParty) error {
			p.Status = PartyStatusEnabled
			p.LocalAccessInfos = append(p.LocalAccessInfos, LocalAccessInfo{
				AccessToken:     localToken,
				TokenIsBase64:   in.TokenIsBase64,
				Status:          LocalAccessAllowed,
				NotBefore:       now,
				AllowDowngrades: in.AllowDowngrades,
				Created:         now,
			})
			p.RemoteAccessInfos = append(p.RemoteAccessInfos, RemoteAccessInfo{
				VersionsURL:     versionsURL,
				AccessToken:     strings.TrimSpace(in.RemoteToken),
				TokenIsBase64:   in.TokenIsBase64,
				Status:          RemoteAccessPreRegistration,
				NotBefore:       now,
				AllowDowngrades: in.AllowDowngrades,
			})
			if in.Config != nil {
				p.Config = *in.Config
			}
			return nil
		})
		return upsertErr
	})
	if err != nil {
		err = s.mapError(err)
		return RemoteParty{}, err
	}
	return party, nil
}

func (s *Service) GetParty(_ context.Context, id PartyID) (RemoteParty, error) {
	party, ok := s.registry.Get(id)
	if !ok {
		return RemoteParty{}, s.mapError(partyNotFoundError(id))
	}
	return party, nil
}

func (s *Service) ListParties(context.Context) ([]RemoteParty, error) {
	return s.registry.List(), nil
}

func (s *Service) RemoveParty(ctx context.Context, id PartyID) (err error) {
	startedAt := time.Now().UTC()
	defer func() {
		s.observeOperation(ctx, startedAt, "remove_party", err, map[string]any{"party": id.Key()})
	}()
	if err = s.registry.Delete(ctx, id); err != nil {
		err = s.mapError(err)
	}
	return err
}

// SetConnectionConfig attaches a connection policy to an existing party.
func (s *Service) SetConnectionConfig(ctx context.Context, id PartyID, cfg ConnectionConfig) (RemoteParty, error) {
	party, err := s.registry.Update(ctx, id, func(p *RemoteParty) error {
		p.Config = cfg
		return nil
	})
	if err != nil {
		return RemoteParty{}, s.mapError(err)
	}
	return party, nil
}

func (s *Service) SetPartyStatus(ctx context.Context, id PartyID, status PartyStatus) (party RemoteParty, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"party": id.Key(), "target_status": string(status)}
	defer func() {
		s.observeOperation(ctx, startedAt, "set_party_status", err, fields)
	}()

	party, err = s.registry.Update(ctx, id, func(p *RemoteParty) error {
		return p.SetStatus(status)
	})
	if err != nil {
		err = s.mapError(err)
		return RemoteParty{}, err
	}
	return party, nil
}

func (s *Service) SetLocalAccessStatus(
	ctx context.Context,
	id PartyID,
	token string,
	status LocalAccessStatus,
) (party RemoteParty, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"party": id.Key(), "target_status": string(status)}
	defer func() {
		s.observeOperation(ctx, startedAt, "set_local_access_status", err, fields)
	}()

	if status != LocalAccessAllowed && status != LocalAccessBlocked {
		err = s.mapError(invalidInputError("core: invalid local access status "+string(status), nil))
		return RemoteParty{}, err
	}
	token = strings.TrimSpace(token)
	party, err = s.registry.Update(ctx, id, func(p *RemoteParty) error {
		found := false
		for i := range p.LocalAccessInfos {
			if p.LocalAccessInfos[i].AccessToken == token {
				p.LocalAccessInfos[i].Status = status
				found = true
			}
		}
		if !found {
			return invalidInputError("core: token is not issued to party "+id.Key(), map[string]any{"party": id.Key()})
		}
		return nil
	})
	if err != nil {
		err = s.mapError(err)
		return RemoteParty{}, err
	}
	return party, nil
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) connectionFor(party RemoteParty) ConnectionConfig {
	return party.Config.WithDefaults(s.connection)
}

// Variant returns the credentials dialect spoken at version.
func (s *Service) Variant(version VersionID) ProtocolVariant {
	return s.variantFor(version)
}

func (s *Service) variantFor(version VersionID) ProtocolVariant {
	for _, variant := range s.variants {
		if variant.Supports(version) {
			return variant
		}
	}
	return s.variants[len(s.variants)-1]
}
