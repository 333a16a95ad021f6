// Package migrations exposes the embedded OCPI schema (remote parties and
// synchronized resources) per SQL dialect.
package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	ocpi "github.com/goliatone/go-ocpi"
	persistence "github.com/goliatone/go-persistence-bun"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	schemaRoot  = "data/sql/migrations"
	SourceLabel = "go-ocpi"
)

// Schema is the migration set of one dialect.
type Schema struct {
	Dialect string
	Path    string
	FS      fs.FS
	// Versions are the migration prefixes found, oldest first.
	Versions []string
}

// RegisterFunc receives each selected schema, for hosts that run their own
// migration registry.
type RegisterFunc func(ctx context.Context, schema Schema, sourceLabel string) error

// NormalizeDialect maps driver names onto the dialects shipped here.
func NormalizeDialect(name string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "postgres", "postgresql", "pg", "pgx":
		return DialectPostgres, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	}
	return "", fmt.Errorf("migrations: unsupported dialect %q", name)
}

// Schemas returns the postgres and sqlite schemas of source, or of the
// embedded schema when source is nil. Each must contain up migrations with
// matching down migrations.
func Schemas(source fs.FS) ([]Schema, error) {
	if source == nil {
		source = ocpi.GetMigrationsFS()
	}
	base, err := fs.Sub(source, schemaRoot)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve %s: %w", schemaRoot, err)
	}
	sqliteFS, err := fs.Sub(base, "sqlite")
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve sqlite schema: %w", err)
	}

	schemas := []Schema{
		{Dialect: DialectPostgres, Path: schemaRoot, FS: base},
		{Dialect: DialectSQLite, Path: schemaRoot + "/sqlite", FS: sqliteFS},
	}
	for i := range schemas {
		versions, err := schemaVersions(schemas[i])
		if err != nil {
			return nil, err
		}
		schemas[i].Versions = versions
	}
	return schemas, nil
}

// SchemaFor returns the embedded schema of dialect.
func SchemaFor(dialect string) (Schema, error) {
	normalized, err := NormalizeDialect(dialect)
	if err != nil {
		return Schema{}, err
	}
	schemas, err := Schemas(nil)
	if err != nil {
		return Schema{}, err
	}
	for _, schema := range schemas {
		if schema.Dialect == normalized {
			return schema, nil
		}
	}
	return Schema{}, fmt.Errorf("migrations: no schema for %s", normalized)
}

// Register hands the embedded schema of each dialect to registerFn. With no
// dialects every shipped schema is registered.
func Register(ctx context.Context, registerFn RegisterFunc, dialects ...string) ([]Schema, error) {
	if registerFn == nil {
		return nil, fmt.Errorf("migrations: register function is required")
	}
	wanted := map[string]struct{}{}
	for _, dialect := range dialects {
		normalized, err := NormalizeDialect(dialect)
		if err != nil {
			return nil, err
		}
		wanted[normalized] = struct{}{}
	}
	schemas, err := Schemas(nil)
	if err != nil {
		return nil, err
	}
	var registered []Schema
	for _, schema := range schemas {
		if _, ok := wanted[schema.Dialect]; len(wanted) > 0 && !ok {
			continue
		}
		if err := registerFn(ctx, schema, SourceLabel); err != nil {
			return registered, fmt.Errorf("migrations: register %s (%s): %w", schema.Dialect, schema.Path, err)
		}
		registered = append(registered, schema)
	}
	return registered, nil
}

// Apply registers the schema of dialect on client and migrates it.
func Apply(ctx context.Context, client *persistence.Client, dialect string) error {
	if client == nil {
		return fmt.Errorf("migrations: persistence client is required")
	}
	schema, err := SchemaFor(dialect)
	if err != nil {
		return err
	}
	client.RegisterSQLMigrations(schema.FS)
	if err := client.Migrate(ctx); err != nil {
		return fmt.Errorf("migrations: migrate %s: %w", schema.Dialect, err)
	}
	return nil
}

func schemaVersions(schema Schema) ([]string, error) {
	ups, err := fs.Glob(schema.FS, "*.up.sql")
	if err != nil {
		return nil, fmt.Errorf("migrations: glob %s: %w", schema.Path, err)
	}
	if len(ups) == 0 {
		return nil, fmt.Errorf("migrations: %s schema %q has no *.up.sql files", schema.Dialect, schema.Path)
	}
	versions := make([]string, 0, len(ups))
	for _, up := range ups {
		name := strings.TrimSuffix(up, ".up.sql")
		if _, err := fs.Stat(schema.FS, name+".down.sql"); err != nil {
			return nil, fmt.Errorf("migrations: %s/%s has no down migration", schema.Path, up)
		}
		version, _, _ := strings.Cut(name, "_")
		versions = append(versions, version)
	}
	sort.Strings(versions)
	return versions, nil
}
