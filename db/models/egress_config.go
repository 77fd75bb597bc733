package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.hackfix.me/wgfence/db/types"
)

// EgressConfig is the egress routing configuration of an interface. Enabled
// is the source of truth for whether egress scripts should exist.
type EgressConfig struct {
	InterfaceID string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Enabled     bool
	// TableName is the nftables table holding marking, forwarding and NAT rules.
	TableName string
}

// NewEgressConfig returns the default configuration for an interface.
func NewEgressConfig(ifaceID string) *EgressConfig {
	return &EgressConfig{
		InterfaceID: ifaceID,
		Enabled:     true,
		TableName:   DefaultEgressTableName(ifaceID),
	}
}

// LoadOrCreate loads the configuration of c.InterfaceID, creating it with
// default values if it doesn't exist yet.
func (c *EgressConfig) LoadOrCreate(ctx context.Context, d types.Querier) error {
	err := c.Load(ctx, d)
	if err == nil {
		return nil
	}
	var nrErr types.NoResultError
	if !errors.As(err, &nrErr) {
		return err
	}

	iface := &Interface{Name: c.InterfaceID}
	if err = iface.Load(ctx, d); err != nil {
		return err
	}

	*c = *NewEgressConfig(c.InterfaceID)
	if err = c.Save(ctx, d, false); err != nil {
		var dupErr types.DuplicateError
		if errors.As(err, &dupErr) {
			return c.Load(ctx, d)
		}
		return err
	}

	return nil
}

// Save stores the configuration in the database.
func (c *EgressConfig) Save(ctx context.Context, d types.Querier, update bool) error {
	if c.InterfaceID == "" {
		return types.InvalidInputError{Field: "interface", Msg: "must be set"}
	}
	if err := ValidateTableName(c.TableName); err != nil {
		return err
	}
	if err := checkTableName(ctx, d, c.TableName, c.InterfaceID, tableKindEgress); err != nil {
		return err
	}

	timeNow := d.TimeNow().UTC()
	idStr := fmt.Sprintf("interface '%s'", c.InterfaceID)
	if update {
		res, err := d.ExecContext(ctx,
			`UPDATE egress_config SET updated_at = ?, enabled = ?, nat_table_name = ? WHERE interface_id = ?`,
			timeNow, c.Enabled, c.TableName, c.InterfaceID)
		if err != nil {
			return types.Err("egress config", idStr, err)
		}
		if err = expectOne(res, "egress config", idStr); err != nil {
			return err
		}
		c.UpdatedAt = timeNow
		return nil
	}

	_, err := d.ExecContext(ctx, `INSERT INTO egress_config
		(interface_id, created_at, updated_at, enabled, nat_table_name)
		VALUES (?, ?, ?, ?, ?)`,
		c.InterfaceID, timeNow, timeNow, c.Enabled, c.TableName)
	if err != nil {
		return types.Err("egress config", idStr, err)
	}
	c.CreatedAt = timeNow
	c.UpdatedAt = timeNow

	return nil
}

// EgressConfigUpdate holds the fields to change on a configuration. Nil
// fields are left as they are.
type EgressConfigUpdate struct {
	Enabled   *bool
	TableName *string
}

// Update applies a partial update to the configuration of c.InterfaceID,
// creating it first if needed.
func (c *EgressConfig) Update(ctx context.Context, d types.Querier, upd EgressConfigUpdate) error {
	if err := c.LoadOrCreate(ctx, d); err != nil {
		return err
	}
	if upd.Enabled != nil {
		c.Enabled = *upd.Enabled
	}
	if upd.TableName != nil {
		c.TableName = *upd.TableName
	}
	return c.Save(ctx, d, true)
}

// Load the configuration from the database. The InterfaceID must be set.
func (c *EgressConfig) Load(ctx context.Context, d types.Querier) error {
	if c.InterfaceID == "" {
		return types.InvalidInputError{Msg: "interface must be set"}
	}

	err := d.QueryRowContext(ctx, `SELECT interface_id, created_at, updated_at, enabled, nat_table_name
		FROM egress_config WHERE interface_id = ?`, c.InterfaceID).
		Scan(&c.InterfaceID, &c.CreatedAt, &c.UpdatedAt, &c.Enabled, &c.TableName)
	if errors.Is(err, sql.ErrNoRows) {
		return types.NoResultError{ModelName: "egress config", ID: fmt.Sprintf("interface '%s'", c.InterfaceID)}
	}
	if err != nil {
		return types.ScanError{ModelName: "egress config", Err: err}
	}

	return nil
}
