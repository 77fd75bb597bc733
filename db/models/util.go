package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.hackfix.me/wgfence/db/types"
)

func filterCount(ctx context.Context, d types.Querier, table string, filter *types.Filter) (int, error) {
	where, args := filter.Clause()
	countQ := fmt.Sprintf(`SELECT COUNT(*) FROM "%s" %s`, table, where)
	var count int
	err := d.QueryRowContext(ctx, countQ, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed scanning %s count query: %w", table, err)
	}

	return count, nil
}

func lastInsertID(result sql.Result) (uint64, error) {
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}

	if id < 0 {
		return 0, fmt.Errorf("invalid negative ID from database: %d", id)
	}

	return uint64(id), nil
}

// expectOne checks that a write statement affected exactly one row.
func expectOne(res sql.Result, modelName, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed getting affected rows: %w", err)
	}
	if n == 0 {
		return types.NoResultError{ModelName: modelName, ID: id}
	}
	if n > 1 {
		return types.IntegrityError{Msg: fmt.Sprintf("affected %d %s records", n, modelName)}
	}

	return nil
}

const (
	tableKindACL    = "acl"
	tableKindEgress = "egress"
)

// checkTableName returns an error if an nftables table name is already used
// by another interface, or by the other feature of the same interface. Each
// setup script deletes and recreates its whole table.
func checkTableName(ctx context.Context, d types.Querier, name, ifaceID, kind string) error {
	var owner, ownerKind string
	err := d.QueryRowContext(ctx, `SELECT interface_id, kind FROM (
			SELECT interface_id, filter_table_name AS name, 'acl' AS kind FROM acl_config
			UNION ALL
			SELECT interface_id, nat_table_name AS name, 'egress' AS kind FROM egress_config
		) WHERE name = ? AND NOT (interface_id = ? AND kind = ?)
		ORDER BY interface_id, kind LIMIT 1`, name, ifaceID, kind).
		Scan(&owner, &ownerKind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed checking table name '%s': %w", name, err)
	}

	return types.InvalidInputError{
		Field: "table name",
		Msg:   fmt.Sprintf("'%s' is already used by the %s table of interface '%s'", name, ownerKind, owner),
	}
}
