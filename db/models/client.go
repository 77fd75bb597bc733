package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"go.hackfix.me/wgfence/db/types"
)

// Client is a WireGuard peer of an interface. Only the fields needed for
// egress routing are stored here.
type Client struct {
	ID          uint64
	CreatedAt   time.Time
	UpdatedAt   time.Time
	InterfaceID string
	Name        string
	Enabled     bool
	// IPv4Address is the tunnel address of the client.
	IPv4Address   netip.Addr
	EgressEnabled bool
	// EgressDevice is the exit node the client's traffic leaves through. If
	// invalid, the host's default route is used.
	EgressDevice sql.Null[string]
}

// Validate checks the client fields.
func (c *Client) Validate() error {
	if c.InterfaceID == "" {
		return types.InvalidInputError{Field: "interface", Msg: "must be set"}
	}
	if c.Name == "" {
		return types.InvalidInputError{Field: "client name", Msg: "must be set"}
	}
	if !c.IPv4Address.IsValid() || !c.IPv4Address.Is4() {
		return types.InvalidInputError{Field: "client address", Msg: "must be an IPv4 address"}
	}
	if c.EgressDevice.Valid {
		if err := ValidateInterfaceName(c.EgressDevice.V); err != nil {
			return types.InvalidInputError{Field: "egress device", Msg: err.Error()}
		}
	}
	return nil
}

func (c *Client) filter() (*types.Filter, string, error) {
	switch {
	case c.ID != 0:
		return types.NewFilter("id = ?", c.ID), fmt.Sprintf("ID %d", c.ID), nil
	case c.InterfaceID != "" && c.Name != "":
		return types.NewFilter("interface_id = ? AND name = ?", c.InterfaceID, c.Name),
			fmt.Sprintf("name '%s' on interface '%s'", c.Name, c.InterfaceID), nil
	default:
		return nil, "", types.InvalidInputError{Msg: "either client ID or interface and name must be set"}
	}
}

// Save stores the client data in the database.
func (c *Client) Save(ctx context.Context, d types.Querier, update bool) error {
	if err := c.Validate(); err != nil {
		return err
	}

	timeNow := d.TimeNow().UTC()
	if update {
		if c.ID == 0 {
			return errors.New("must provide a client ID to update")
		}
		idStr := fmt.Sprintf("ID %d", c.ID)
		res, err := d.ExecContext(ctx, `UPDATE clients
			SET updated_at = ?,
			    name = ?,
			    enabled = ?,
			    ipv4_address = ?,
			    egress_enabled = ?,
			    egress_device = ?
			WHERE id = ?`,
			timeNow, c.Name, c.Enabled, c.IPv4Address.String(), c.EgressEnabled, c.EgressDevice, c.ID)
		if err != nil {
			return types.Err("client", idStr, err)
		}
		if err = expectOne(res, "client", idStr); err != nil {
			return err
		}
		c.UpdatedAt = timeNow
		return nil
	}

	res, err := d.ExecContext(ctx, `INSERT INTO clients
		(id, created_at, updated_at, interface_id, name, enabled, ipv4_address, egress_enabled, egress_device)
		VALUES (NULL, ?, ?, ?, ?, ?, ?, ?, ?)`,
		timeNow, timeNow, c.InterfaceID, c.Name, c.Enabled, c.IPv4Address.String(),
		c.EgressEnabled, c.EgressDevice)
	if err != nil {
		return types.Err("client", fmt.Sprintf("name '%s' or address %s", c.Name, c.IPv4Address), err)
	}

	c.ID, err = lastInsertID(res)
	if err != nil {
		return err
	}
	c.CreatedAt = timeNow
	c.UpdatedAt = timeNow

	return nil
}

// SetEgress updates only the egress fields of the client.
func (c *Client) SetEgress(ctx context.Context, d types.Querier, enabled bool, device sql.Null[string]) error {
	if c.ID == 0 {
		return types.InvalidInputError{Msg: "client ID must be set"}
	}
	if device.Valid {
		if err := ValidateInterfaceName(device.V); err != nil {
			return types.InvalidInputError{Field: "egress device", Msg: err.Error()}
		}
	}

	timeNow := d.TimeNow().UTC()
	idStr := fmt.Sprintf("ID %d", c.ID)
	res, err := d.ExecContext(ctx,
		`UPDATE clients SET updated_at = ?, egress_enabled = ?, egress_device = ? WHERE id = ?`,
		timeNow, enabled, device, c.ID)
	if err != nil {
		return types.Err("client", idStr, err)
	}
	if err = expectOne(res, "client", idStr); err != nil {
		return err
	}

	c.EgressEnabled = enabled
	c.EgressDevice = device
	c.UpdatedAt = timeNow

	return nil
}

// ClearEgress disables egress for the client and removes its exit node
// assignment, leaving every other field untouched.
func (c *Client) ClearEgress(ctx context.Context, d types.Querier) error {
	return c.SetEgress(ctx, d, false, sql.Null[string]{})
}

// Load the client data from the database. Either the client ID, or the
// interface and name must be set for the lookup.
func (c *Client) Load(ctx context.Context, d types.Querier) error {
	filter, filterStr, err := c.filter()
	if err != nil {
		return err
	}

	clients, err := Clients(ctx, d, filter)
	if err != nil {
		return err
	}

	if len(clients) == 0 {
		return types.NoResultError{ModelName: "client", ID: filterStr}
	}

	// The unique constraints on clients.id and (interface_id, name) should
	// return only a single result.
	if len(clients) > 1 {
		panic(fmt.Sprintf("clients query returned more than 1 client: %d", len(clients)))
	}
	*c = *clients[0]

	return nil
}

// Delete removes the client data from the database.
func (c *Client) Delete(ctx context.Context, d types.Querier) error {
	filter, filterStr, err := c.filter()
	if err != nil {
		return err
	}

	where, args := filter.Clause()
	res, err := d.ExecContext(ctx, fmt.Sprintf(`DELETE FROM clients %s`, where), args...)
	if err != nil {
		return types.Err("client", filterStr, err)
	}

	return expectOne(res, "client", filterStr)
}

// Clients returns one or more clients from the database, ordered by ID. An
// optional filter can be passed to limit the results.
func Clients(ctx context.Context, d types.Querier, filter *types.Filter) (clients []*Client, rerr error) {
	where, args := filter.Clause()
	query := fmt.Sprintf(`SELECT
			id, created_at, updated_at, interface_id, name, enabled,
			ipv4_address, egress_enabled, egress_device
		FROM clients %s
		ORDER BY id ASC %s`, where, filter.LimitClause())

	rows, err := d.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, types.LoadError{ModelName: "clients", Err: err}
	}
	defer func() {
		if err = rows.Close(); err != nil {
			rerr = fmt.Errorf("failed closing clients rows: %w", err)
		}
	}()

	clients = make([]*Client, 0)
	for rows.Next() {
		var (
			c    Client
			addr string
		)
		err = rows.Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt, &c.InterfaceID, &c.Name, &c.Enabled,
			&addr, &c.EgressEnabled, &c.EgressDevice)
		if err != nil {
			return nil, types.ScanError{ModelName: "client", Err: err}
		}
		// Addresses are validated on write, so a bad one here is left
		// invalid and skipped by the egress compiler.
		c.IPv4Address, _ = netip.ParseAddr(addr)
		clients = append(clients, &c)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating over clients rows: %w", err)
	}

	return clients, nil
}
