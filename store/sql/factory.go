package sqlstore

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-ocpi/core"
	ocpisync "github.com/goliatone/go-ocpi/sync"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

// RepositoryFactory builds the SQL party and resource stores over one bun db.
// It satisfies core.PartyStoreFactory.
type RepositoryFactory struct {
	db      *bun.DB
	secrets core.SecretProvider

	partyStore    *PartyStore
	resourceStore *ResourceStore
}

type FactoryOption func(*RepositoryFactory)

// WithSecretProvider seals party documents at rest.
func WithSecretProvider(provider core.SecretProvider) FactoryOption {
	return func(f *RepositoryFactory) {
		f.secrets = provider
	}
}

func NewRepositoryFactory(opts ...FactoryOption) *RepositoryFactory {
	f := &RepositoryFactory{}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if err := factory.build(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if err := factory.build(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildPartyStore(persistenceClient any) (core.PartyStore, error) {
	if err := f.build(persistenceClient); err != nil {
		return nil, err
	}
	return f.partyStore, nil
}

func (f *RepositoryFactory) BuildResourceStore(persistenceClient any) (ocpisync.ResourceStore, error) {
	if err := f.build(persistenceClient); err != nil {
		return nil, err
	}
	return f.resourceStore, nil
}

func (f *RepositoryFactory) PartyStore() core.PartyStore {
	if f == nil || f.partyStore == nil {
		return nil
	}
	return f.partyStore
}

func (f *RepositoryFactory) ResourceStore() *ResourceStore {
	if f == nil {
		return nil
	}
	return f.resourceStore
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) build(persistenceClient any) error {
	if f == nil {
		return fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return err
		}
		f.db = db
	}
	if f.partyStore != nil && f.resourceStore != nil {
		return nil
	}
	partyStore, err := NewPartyStore(f.db, f.secrets)
	if err != nil {
		return err
	}
	resourceStore, err := NewResourceStore(f.db)
	if err != nil {
		return err
	}
	f.partyStore = partyStore
	f.resourceStore = resourceStore
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}

// ClientConfig is the connection config handed to go-persistence-bun.
type ClientConfig struct {
	Driver      string
	DSN         string
	Debug       bool
	PingTimeout time.Duration
}

func (c ClientConfig) GetDebug() bool {
	return c.Debug
}

func (c ClientConfig) GetDriver() string {
	return c.Driver
}

func (c ClientConfig) GetServer() string {
	return c.DSN
}

func (c ClientConfig) GetPingTimeout() time.Duration {
	if c.PingTimeout <= 0 {
		return 5 * time.Second
	}
	return c.PingTimeout
}

func (c ClientConfig) GetOtelIdentifier() string {
	return "go-ocpi"
}

// OpenSQLite opens a persistence client on the sqlite3 driver. Use
// file:name?mode=memory&cache=shared for an in-memory database.
func OpenSQLite(dsn string) (*persistence.Client, error) {
	return open(ClientConfig{Driver: "sqlite3", DSN: dsn}, sqlitedialect.New(), 1)
}

// OpenPostgres opens a persistence client on the lib/pq driver.
func OpenPostgres(dsn string) (*persistence.Client, error) {
	return open(ClientConfig{Driver: "postgres", DSN: dsn}, pgdialect.New(), 0)
}

func open(cfg ClientConfig, dialect schema.Dialect, maxOpen int) (*persistence.Client, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("sqlstore: %s dsn is required", cfg.Driver)
	}
	sqlDB, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", cfg.Driver, err)
	}
	if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}
	client, err := persistence.New(cfg, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlstore: new persistence client: %w", err)
	}
	return client, nil
}
