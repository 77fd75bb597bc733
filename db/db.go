package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"strings"
	"time"

	//nolint:revive,nolintlint // Idiomatic way of loading DB libraries.
	_ "github.com/glebarez/go-sqlite"
	"github.com/pressly/goose/v3"

	"go.hackfix.me/wgfence/db/types"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB wraps sql.DB with additional context and migration functionality.
type DB struct {
	*sql.DB
	ctx     context.Context
	timeNow func() time.Time
	path    string
}

var _ types.Querier = (*DB)(nil)

// Init creates the database schema and records the application version that
// initialized it.
func (d *DB) Init(appVersion string, logger *slog.Logger) error {
	dblogger := logger.With("path", d.path)
	dblogger.Debug("initializing database")

	if err := d.Migrate(logger); err != nil {
		return err
	}

	_, err := d.ExecContext(d.NewContext(),
		`INSERT INTO _meta (version, created_at) VALUES (?, ?)`,
		appVersion, d.timeNow().UTC())
	if err != nil {
		return fmt.Errorf("failed inserting into _meta: %w", err)
	}

	dblogger.Info("database initialized")

	return nil
}

// Migrate applies all pending schema migrations. It is a no-op if the schema
// is up to date.
func (d *DB) Migrate(logger *slog.Logger) error {
	migrationsDir, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed getting migrations directory: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, d.DB, migrationsDir,
		goose.WithDisableGlobalRegistry(true))
	if err != nil {
		return fmt.Errorf("failed creating migration provider: %w", err)
	}

	results, err := provider.Up(d.NewContext())
	if err != nil {
		return fmt.Errorf("failed applying migrations: %w", err)
	}

	for _, res := range results {
		logger.Debug("applied migration",
			"version", res.Source.Version,
			"path", res.Source.Path,
			"duration", res.Duration)
	}

	return nil
}

// NewContext returns a new child context of the main database context.
func (d *DB) NewContext() context.Context {
	// TODO: Return the cancel func once callers can scope their queries.
	ctx, _ := context.WithCancel(d.ctx) //nolint:govet // Canceled with the parent.
	return ctx
}

// Open creates and configures a new SQLite database connection. Migrations
// are applied separately by Init or Migrate.
func Open(ctx context.Context, path string, timeNow func() time.Time) (*DB, error) {
	var d *DB
	if strings.Contains(path, "mode=memory") || strings.Contains(path, ":memory:") {
		defer func() {
			if d != nil {
				// See https://github.com/mattn/go-sqlite3#faq
				d.SetMaxIdleConns(10)
				d.SetConnMaxLifetime(time.Duration(math.Inf(1)))
			}
		}()
	}

	// Foreign keys are enforced per connection, so the pragma is set in the
	// DSN to apply to every connection in the pool.
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	sqliteDB, err := sql.Open("sqlite", path+sep+"_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed opening SQLite database: %w", err)
	}

	d = &DB{DB: sqliteDB, ctx: ctx, path: path, timeNow: timeNow}

	if err = d.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed connecting to SQLite database: %w", err)
	}

	return d, nil
}

// TimeNow returns the current system time.
func (d *DB) TimeNow() time.Time {
	return d.timeNow()
}
