// Package migrate applies the goose SQL migrations that shape the order,
// payment, fulfillment and outbox tables.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/pressly/goose/v3"
)

// DefaultDir is where new migrations are created from the repository root.
const DefaultDir = "pkg/migrate/migrations"

//go:embed migrations/*.sql
var embedded embed.FS

// Migrations returns the migrations compiled into the binary.
func Migrations() fs.FS {
	sub, err := fs.Sub(embedded, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Source picks the migration set: an on-disk directory when dir is set,
// otherwise the embedded files.
func Source(dir string) fs.FS {
	if strings.TrimSpace(dir) == "" {
		return Migrations()
	}
	return os.DirFS(dir)
}

// Migrator runs goose against Postgres.
type Migrator struct {
	provider *goose.Provider
}

func New(db *sql.DB, migrations fs.FS) (*Migrator, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if migrations == nil {
		migrations = Migrations()
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations)
	if err != nil {
		return nil, fmt.Errorf("goose provider: %w", err)
	}
	return &Migrator{provider: provider}, nil
}

// Up applies every pending migration and returns the applied versions.
func (m *Migrator) Up(ctx context.Context) ([]int64, error) {
	results, err := m.provider.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("goose up: %w", err)
	}
	return appliedVersions(results), nil
}

// Down rolls back the latest migration.
func (m *Migrator) Down(ctx context.Context) (int64, error) {
	result, err := m.provider.Down(ctx)
	if err != nil {
		return 0, fmt.Errorf("goose down: %w", err)
	}
	if result == nil || result.Source == nil {
		return 0, nil
	}
	return result.Source.Version, nil
}

// Status lists every known migration with whether it has been applied.
func (m *Migrator) Status(ctx context.Context) ([]MigrationState, error) {
	statuses, err := m.provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("goose status: %w", err)
	}
	out := make([]MigrationState, 0, len(statuses))
	for _, s := range statuses {
		if s == nil || s.Source == nil {
			continue
		}
		out = append(out, MigrationState{
			Version: s.Source.Version,
			Path:    s.Source.Path,
			Applied: s.State == goose.StateApplied,
		})
	}
	return out, nil
}

// MigrationState is one row of Status.
type MigrationState struct {
	Version int64
	Path    string
	Applied bool
}

// To moves the schema up or down to targetVersion (YYYYMMDDHHMMSS).
func (m *Migrator) To(ctx context.Context, targetVersion string) error {
	target, err := strconv.ParseInt(strings.TrimSpace(targetVersion), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS): %w", targetVersion, err)
	}
	current, err := m.provider.GetDBVersion(ctx)
	if err != nil {
		return fmt.Errorf("get db version: %w", err)
	}
	switch {
	case current == target:
		return nil
	case current < target:
		_, err = m.provider.UpTo(ctx, target)
	default:
		_, err = m.provider.DownTo(ctx, target)
	}
	if err != nil {
		return fmt.Errorf("goose migrate %d -> %d: %w", current, target, err)
	}
	return nil
}

func appliedVersions(results []*goose.MigrationResult) []int64 {
	versions := make([]int64, 0, len(results))
	for _, r := range results {
		if r != nil && r.Source != nil {
			versions = append(versions, r.Source.Version)
		}
	}
	return versions
}
