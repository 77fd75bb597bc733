package queries

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"go.hackfix.me/wgfence/db/types"
)

// GetAllTables returns a map of all table names in the database that contain
// application data.
func GetAllTables(ctx context.Context, d types.Querier) (tables map[string]struct{}, rerr error) {
	rows, err := d.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table'`)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err = rows.Close(); err != nil {
			rerr = err
		}
	}()

	tables = make(map[string]struct{})
	for rows.Next() {
		var name string
		if err = rows.Scan(&name); err != nil {
			return nil, err
		}

		// Exclude internal and migration bookkeeping tables.
		if !strings.HasPrefix(name, "_") && !strings.HasPrefix(name, "goose_") &&
			!strings.HasPrefix(name, "sqlite_") {
			tables[name] = struct{}{}
		}
	}

	return tables, rows.Err()
}

// Version returns the application version the database was initialized with.
// If the returned sql.Null value is invalid, it indicates that the database
// hasn't been initialized.
func Version(ctx context.Context, d types.Querier) (sql.Null[string], error) {
	var version sql.Null[string]
	err := d.QueryRowContext(ctx, `SELECT version FROM _meta`).
		Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		// The _meta table doesn't exist before the schema is created.
		if strings.Contains(err.Error(), "no such table") {
			return version, nil
		}
		return version, err
	}

	return version, nil
}
