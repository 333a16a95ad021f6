package core

import (
	"context"
	"fmt"
	"maps"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
	"github.com/google/uuid"
)

type ErrorFactory func(message string, category ...goerrors.Category) *goerrors.Error

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

// PartyStoreFactory builds a PartyStore from a persistence client.
type PartyStoreFactory interface {
	BuildPartyStore(persistenceClient any) (PartyStore, error)
}

type serviceBuilder struct {
	runtimeConfig     Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorFactory      ErrorFactory
	errorMapper       ErrorMapper
	persistenceClient any
	repositoryFactory any
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	partyStore        PartyStore
	partyLocker       PartyLocker
	transportResolver TransportResolver
	connection        *ConnectionConfig
	variants          []ProtocolVariant
	tokenGenerator    func() string
	now               func() time.Time
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorFactory(factory ErrorFactory) Option {
	return func(b *serviceBuilder) {
		b.errorFactory = factory
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithPersistenceClient(client any) Option {
	return func(b *serviceBuilder) {
		b.persistenceClient = client
	}
}

// WithRepositoryFactory accepts a PartyStoreFactory or anything exposing
// PartyStore() PartyStore.
func WithRepositoryFactory(factory any) Option {
	return func(b *serviceBuilder) {
		b.repositoryFactory = factory
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithPartyStore(store PartyStore) Option {
	return func(b *serviceBuilder) {
		b.partyStore = store
	}
}

func WithPartyLocker(locker PartyLocker) Option {
	return func(b *serviceBuilder) {
		b.partyLocker = locker
	}
}

func WithTransportResolver(resolver TransportResolver) Option {
	return func(b *serviceBuilder) {
		b.transportResolver = resolver
	}
}

// WithConnectionConfig sets the connection policy used for parties that do
// not carry their own. Unset fields still fall back to the transport config.
func WithConnectionConfig(cfg ConnectionConfig) Option {
	return func(b *serviceBuilder) {
		copied := cfg
		b.connection = &copied
	}
}

// WithProtocolVariants replaces the credentials payload strategies.
func WithProtocolVariants(variants ...ProtocolVariant) Option {
	return func(b *serviceBuilder) {
		b.variants = append([]ProtocolVariant(nil), variants...)
	}
}

func WithTokenGenerator(generate func() string) Option {
	return func(b *serviceBuilder) {
		b.tokenGenerator = generate
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.now = now
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("ocpi", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorFactory:    goerrors.New,
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		variants:        DefaultProtocolVariants(),
		tokenGenerator:  uuid.NewString,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return serviceErrorMapper(err)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if l.Values == nil {
		return map[string]any{}, nil
	}
	return maps.Clone(l.Values), nil
}

// StaticConfigLoader serves a fixed raw map, typically decoded from a file by
// the caller.
func StaticConfigLoader(values map[string]any) RawConfigLoader {
	return staticRawConfigLoader{Values: values}
}

// DefaultEnvPrefix is the variable prefix EnvConfigLoader uses when none is
// set.
const DefaultEnvPrefix = "OCPI_"

// EnvConfigLoader reads configuration from prefixed environment variables. A
// double underscore nests keys, so OCPI_LOCAL_PARTY__COUNTRY_CODE sets
// local_party.country_code. OCPI_VERSIONS is a comma separated list.
type EnvConfigLoader struct {
	Prefix  string
	Environ func() []string
}

func (l EnvConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	prefix := l.Prefix
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	environ := l.Environ
	if environ == nil {
		environ = os.Environ
	}
	raw := map[string]any{}
	for _, entry := range environ() {
		name, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		name, ok = strings.CutPrefix(name, prefix)
		if !ok || name == "" {
			continue
		}
		path := strings.Split(strings.ToLower(name), "__")
		node := raw
		for _, key := range path[:len(path)-1] {
			child, ok := node[key].(map[string]any)
			if !ok {
				child = map[string]any{}
				node[key] = child
			}
			node = child
		}
		leaf := path[len(path)-1]
		if leaf == "" {
			return nil, fmt.Errorf("core: malformed config variable %s%s", prefix, name)
		}
		typed, err := envValue(leaf, strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("core: config variable %s%s: %w", prefix, name, err)
		}
		node[leaf] = typed
	}
	return raw, nil
}

// envValue types a variable the way the matching Config field expects.
func envValue(key string, value string) (any, error) {
	switch key {
	case "versions":
		var versions []string
		for version := range strings.SplitSeq(value, ",") {
			if version = strings.TrimSpace(version); version != "" {
				versions = append(versions, version)
			}
		}
		return versions, nil
	case "allow_downgrades":
		return strconv.ParseBool(value)
	case "max_number_of_retries":
		return strconv.Atoi(value)
	case "backoff_jitter":
		return strconv.ParseFloat(value, 64)
	case "request_timeout", "backoff_initial", "backoff_max":
		return time.ParseDuration(value)
	}
	return value, nil
}

// WithEnvConfig loads the config layer from environment variables named with
// prefix, or DefaultEnvPrefix when prefix is empty.
func WithEnvConfig(prefix string) Option {
	return WithConfigProvider(NewCfgxConfigProvider(EnvConfigLoader{Prefix: prefix}))
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	return cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
}

// GoOptionsResolver layers defaults < loaded config < runtime config.
type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	setString := func(target map[string]any, key string, value string) {
		if includeZero || strings.TrimSpace(value) != "" {
			target[key] = strings.TrimSpace(value)
		}
	}

	setString(layer, "service_name", cfg.ServiceName)
	setString(layer, "versions_url", cfg.VersionsURL)
	setString(layer, "preferred_version", cfg.PreferredVersion)
	if includeZero || len(cfg.Versions) > 0 {
		layer["versions"] = append([]string(nil), cfg.Versions...)
	}

	party := map[string]any{}
	setString(party, "country_code", cfg.LocalParty.CountryCode)
	setString(party, "party_id", cfg.LocalParty.PartyID)
	setString(party, "role", cfg.LocalParty.Role)
	setString(party, "name", cfg.LocalParty.Name)
	setString(party, "website", cfg.LocalParty.Website)
	if len(party) > 0 {
		layer["local_party"] = party
	}

	transport := map[string]any{}
	if includeZero || cfg.Transport.RequestTimeout > 0 {
		transport["request_timeout"] = cfg.Transport.RequestTimeout
	}
	if includeZero || cfg.Transport.MaxNumberOfRetries > 0 {
		transport["max_number_of_retries"] = cfg.Transport.MaxNumberOfRetries
	}
	if includeZero || cfg.Transport.BackoffInitial > 0 {
		transport["backoff_initial"] = cfg.Transport.BackoffInitial
	}
	if includeZero || cfg.Transport.BackoffMax > 0 {
		transport["backoff_max"] = cfg.Transport.BackoffMax
	}
	if includeZero || cfg.Transport.BackoffJitter > 0 {
		transport["backoff_jitter"] = cfg.Transport.BackoffJitter
	}
	if len(transport) > 0 {
		layer["transport"] = transport
	}

	if includeZero || cfg.Patch.AllowDowngrades {
		layer["patch"] = map[string]any{"allow_downgrades": cfg.Patch.AllowDowngrades}
	}
	return layer
}
