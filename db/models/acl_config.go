package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.hackfix.me/wgfence/db/types"
)

// Policy is the verdict applied to forwarded traffic that no rule accepts.
type Policy string

// Supported policies.
const (
	PolicyDrop   Policy = "drop"
	PolicyAccept Policy = "accept"
)

// PolicyFromString returns a valid Policy for the given string, or an error
// if the value is invalid.
func PolicyFromString(val string) (Policy, error) {
	switch Policy(val) {
	case PolicyDrop:
		return PolicyDrop, nil
	case PolicyAccept:
		return PolicyAccept, nil
	}
	return "", types.InvalidInputError{
		Field: "default policy", Msg: fmt.Sprintf("'%s' must be either drop or accept", val),
	}
}

// Prefixes of the default table names. Every interface gets its own tables.
const (
	aclTablePrefix    = "wg_acl_v4"
	egressTablePrefix = "wg_egress_nat"
)

// DefaultACLTableName returns the filter table name of the interface, e.g.
// wg_acl_v4_wg0.
func DefaultACLTableName(ifaceID string) string {
	return aclTablePrefix + "_" + tableSuffix(ifaceID)
}

// DefaultEgressTableName returns the NAT table name of the interface, e.g.
// wg_egress_nat_wg0.
func DefaultEgressTableName(ifaceID string) string {
	return egressTablePrefix + "_" + tableSuffix(ifaceID)
}

// tableSuffix escapes the characters of an interface name that table names
// don't allow. '_' is escaped as well, so exit-a and exit_a stay distinct.
func tableSuffix(ifaceID string) string {
	var b strings.Builder
	for _, r := range ifaceID {
		switch r {
		case '_':
			b.WriteString("__")
		case '-':
			b.WriteString("_h")
		case '.':
			b.WriteString("_d")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

var tableNameRx = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,63}$`)

// ValidateTableName returns an error if name can't be used as an nftables
// table name.
func ValidateTableName(name string) error {
	if !tableNameRx.MatchString(name) {
		return types.InvalidInputError{
			Field: "table name",
			Msg:   fmt.Sprintf("'%s' must start with a letter or '_' and contain only letters, digits and '_'", name),
		}
	}
	return nil
}

// ACLConfig is the ACL configuration of an interface. Exactly one exists per
// interface, created with defaults on first read.
type ACLConfig struct {
	InterfaceID       string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	Enabled           bool
	DefaultPolicy     Policy
	AllowPublicEgress bool
	// ExitNodeClientID is reserved. It is stored and checked to reference a
	// client of the same interface, but has no effect on the ruleset.
	ExitNodeClientID sql.Null[uint64]
	FilterTableName  string
}

// NewACLConfig returns the default configuration for an interface.
func NewACLConfig(ifaceID string) *ACLConfig {
	return &ACLConfig{
		InterfaceID:     ifaceID,
		Enabled:         false,
		DefaultPolicy:   PolicyDrop,
		FilterTableName: DefaultACLTableName(ifaceID),
	}
}

// Validate checks the configuration fields.
func (c *ACLConfig) Validate() error {
	if c.InterfaceID == "" {
		return types.InvalidInputError{Field: "interface", Msg: "must be set"}
	}
	if _, err := PolicyFromString(string(c.DefaultPolicy)); err != nil {
		return err
	}
	return ValidateTableName(c.FilterTableName)
}

// LoadOrCreate loads the configuration of c.InterfaceID, creating it with
// default values if it doesn't exist yet. It returns a NoResultError if the
// interface itself doesn't exist.
func (c *ACLConfig) LoadOrCreate(ctx context.Context, d types.Querier) error {
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

	*c = *NewACLConfig(c.InterfaceID)
	if err = c.Save(ctx, d, false); err != nil {
		var dupErr types.DuplicateError
		if errors.As(err, &dupErr) {
			// Created concurrently by another writer.
			return c.Load(ctx, d)
		}
		return err
	}

	return nil
}

// Save stores the configuration in the database.
func (c *ACLConfig) Save(ctx context.Context, d types.Querier, update bool) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := c.validateExitNode(ctx, d); err != nil {
		return err
	}
	if err := checkTableName(ctx, d, c.FilterTableName, c.InterfaceID, tableKindACL); err != nil {
		return err
	}

	timeNow := d.TimeNow().UTC()
	idStr := fmt.Sprintf("interface '%s'", c.InterfaceID)
	if update {
		res, err := d.ExecContext(ctx, `UPDATE acl_config
			SET updated_at = ?,
			    enabled = ?,
			    default_policy = ?,
			    allow_public_egress = ?,
			    exit_node_client_id = ?,
			    filter_table_name = ?
			WHERE interface_id = ?`,
			timeNow, c.Enabled, string(c.DefaultPolicy), c.AllowPublicEgress,
			c.ExitNodeClientID, c.FilterTableName, c.InterfaceID)
		if err != nil {
			return types.Err("ACL config", idStr, err)
		}
		if err = expectOne(res, "ACL config", idStr); err != nil {
			return err
		}
		c.UpdatedAt = timeNow
		return nil
	}

	_, err := d.ExecContext(ctx, `INSERT INTO acl_config
		(interface_id, created_at, updated_at, enabled, default_policy,
		 allow_public_egress, exit_node_client_id, filter_table_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.InterfaceID, timeNow, timeNow, c.Enabled, string(c.DefaultPolicy),
		c.AllowPublicEgress, c.ExitNodeClientID, c.FilterTableName)
	if err != nil {
		return types.Err("ACL config", idStr, err)
	}
	c.CreatedAt = timeNow
	c.UpdatedAt = timeNow

	return nil
}

func (c *ACLConfig) validateExitNode(ctx context.Context, d types.Querier) error {
	if !c.ExitNodeClientID.Valid {
		return nil
	}
	client := &Client{ID: c.ExitNodeClientID.V}
	err := client.Load(ctx, d)
	var nrErr types.NoResultError
	switch {
	case errors.As(err, &nrErr):
		return types.InvalidInputError{
			Field: "exit node client", Msg: fmt.Sprintf("client with ID %d doesn't exist", c.ExitNodeClientID.V),
		}
	case err != nil:
		return err
	case client.InterfaceID != c.InterfaceID:
		return types.InvalidInputError{
			Field: "exit node client",
			Msg:   fmt.Sprintf("client %d belongs to interface '%s'", client.ID, client.InterfaceID),
		}
	}
	return nil
}

// ACLConfigUpdate holds the fields to change on a configuration. Nil fields
// are left as they are.
type ACLConfigUpdate struct {
	Enabled           *bool
	DefaultPolicy     *Policy
	AllowPublicEgress *bool
	ExitNodeClientID  *sql.Null[uint64]
	FilterTableName   *string
}

// Update applies a partial update to the configuration of c.InterfaceID,
// creating it first if needed.
func (c *ACLConfig) Update(ctx context.Context, d types.Querier, upd ACLConfigUpdate) error {
	if err := c.LoadOrCreate(ctx, d); err != nil {
		return err
	}

	if upd.Enabled != nil {
		c.Enabled = *upd.Enabled
	}
	if upd.DefaultPolicy != nil {
		c.DefaultPolicy = *upd.DefaultPolicy
	}
	if upd.AllowPublicEgress != nil {
		c.AllowPublicEgress = *upd.AllowPublicEgress
	}
	if upd.ExitNodeClientID != nil {
		c.ExitNodeClientID = *upd.ExitNodeClientID
	}
	if upd.FilterTableName != nil {
		c.FilterTableName = *upd.FilterTableName
	}

	return c.Save(ctx, d, true)
}

// Load the configuration from the database. The InterfaceID must be set.
func (c *ACLConfig) Load(ctx context.Context, d types.Querier) error {
	if c.InterfaceID == "" {
		return types.InvalidInputError{Msg: "interface must be set"}
	}

	var policy string
	err := d.QueryRowContext(ctx, `SELECT
			interface_id, created_at, updated_at, enabled, default_policy,
			allow_public_egress, exit_node_client_id, filter_table_name
		FROM acl_config WHERE interface_id = ?`, c.InterfaceID).
		Scan(&c.InterfaceID, &c.CreatedAt, &c.UpdatedAt, &c.Enabled, &policy,
			&c.AllowPublicEgress, &c.ExitNodeClientID, &c.FilterTableName)
	if errors.Is(err, sql.ErrNoRows) {
		return types.NoResultError{ModelName: "ACL config", ID: fmt.Sprintf("interface '%s'", c.InterfaceID)}
	}
	if err != nil {
		return types.ScanError{ModelName: "ACL config", Err: err}
	}
	c.DefaultPolicy = Policy(policy)

	return nil
}
