package models

import (
	"context"
	"fmt"
	"net/netip"
	"regexp"
	"time"

	"go.hackfix.me/wgfence/db/types"
)

// Linux interface names are at most 15 bytes (IFNAMSIZ - 1).
var ifaceNameRx = regexp.MustCompile(`^[a-zA-Z0-9_.-]{1,15}$`)

// Interface is a WireGuard interface whose forwarded traffic is filtered and
// routed. It owns rules, clients and per-feature configuration.
type Interface struct {
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
	// Subnet is the IPv4 tunnel network of the interface.
	Subnet netip.Prefix
}

// ValidateInterfaceName returns an error if name can't be used as a network
// interface name.
func ValidateInterfaceName(name string) error {
	if !ifaceNameRx.MatchString(name) {
		return types.InvalidInputError{
			Field: "interface name",
			Msg:   fmt.Sprintf("'%s' must be 1-15 characters of letters, digits, '_', '.' or '-'", name),
		}
	}
	return nil
}

// Validate checks the interface fields.
func (i *Interface) Validate() error {
	if err := ValidateInterfaceName(i.Name); err != nil {
		return err
	}
	if !i.Subnet.IsValid() || !i.Subnet.Addr().Is4() {
		return types.InvalidInputError{Field: "subnet", Msg: "must be an IPv4 network in CIDR notation"}
	}
	return nil
}

// Save stores the interface data in the database.
func (i *Interface) Save(ctx context.Context, d types.Querier, update bool) error {
	if err := i.Validate(); err != nil {
		return err
	}
	i.Subnet = i.Subnet.Masked()

	timeNow := d.TimeNow().UTC()
	filterStr := fmt.Sprintf("name '%s'", i.Name)
	if update {
		res, err := d.ExecContext(ctx,
			`UPDATE interfaces SET updated_at = ?, ipv4_subnet = ? WHERE name = ?`,
			timeNow, i.Subnet.String(), i.Name)
		if err != nil {
			return types.Err("interface", filterStr, err)
		}
		if err = expectOne(res, "interface", filterStr); err != nil {
			return err
		}
		i.UpdatedAt = timeNow
		return nil
	}

	_, err := d.ExecContext(ctx,
		`INSERT INTO interfaces (name, created_at, updated_at, ipv4_subnet) VALUES (?, ?, ?, ?)`,
		i.Name, timeNow, timeNow, i.Subnet.String())
	if err != nil {
		return types.Err("interface", filterStr, err)
	}
	i.CreatedAt = timeNow
	i.UpdatedAt = timeNow

	return nil
}

// Load the interface data from the database. The interface Name must be set.
func (i *Interface) Load(ctx context.Context, d types.Querier) error {
	if i.Name == "" {
		return types.InvalidInputError{Msg: "interface name must be set"}
	}

	ifaces, err := Interfaces(ctx, d, types.NewFilter("name = ?", i.Name))
	if err != nil {
		return err
	}

	if len(ifaces) == 0 {
		return types.NoResultError{ModelName: "interface", ID: fmt.Sprintf("name '%s'", i.Name)}
	}
	*i = *ifaces[0]

	return nil
}

// Delete removes the interface and, by cascade, all of its rules, clients
// and configuration.
func (i *Interface) Delete(ctx context.Context, d types.Querier) error {
	if i.Name == "" {
		return types.InvalidInputError{Msg: "interface name must be set"}
	}

	filterStr := fmt.Sprintf("name '%s'", i.Name)
	res, err := d.ExecContext(ctx, `DELETE FROM interfaces WHERE name = ?`, i.Name)
	if err != nil {
		return types.Err("interface", filterStr, err)
	}

	return expectOne(res, "interface", filterStr)
}

// Interfaces returns one or more interfaces from the database ordered by name.
// An optional filter can be passed to limit the results.
func Interfaces(ctx context.Context, d types.Querier, filter *types.Filter) (ifaces []*Interface, rerr error) {
	where, args := filter.Clause()
	query := fmt.Sprintf(`SELECT name, created_at, updated_at, ipv4_subnet
		FROM interfaces %s
		ORDER BY name ASC %s`, where, filter.LimitClause())

	rows, err := d.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, types.LoadError{ModelName: "interfaces", Err: err}
	}
	defer func() {
		if err = rows.Close(); err != nil {
			rerr = fmt.Errorf("failed closing interfaces rows: %w", err)
		}
	}()

	ifaces = make([]*Interface, 0)
	for rows.Next() {
		var (
			iface  Interface
			subnet string
		)
		if err = rows.Scan(&iface.Name, &iface.CreatedAt, &iface.UpdatedAt, &subnet); err != nil {
			return nil, types.ScanError{ModelName: "interface", Err: err}
		}
		if iface.Subnet, err = netip.ParsePrefix(subnet); err != nil {
			return nil, types.ScanError{ModelName: "interface", Err: err}
		}
		ifaces = append(ifaces, &iface)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating over interfaces rows: %w", err)
	}

	return ifaces, nil
}

// Counts returns the number of ACL rules and clients of the interface.
func (i *Interface) Counts(ctx context.Context, d types.Querier) (rules, clients int, err error) {
	filter := types.NewFilter("interface_id = ?", i.Name)
	if rules, err = filterCount(ctx, d, "acl_rules", filter); err != nil {
		return 0, 0, err
	}
	if clients, err = filterCount(ctx, d, "clients", filter); err != nil {
		return 0, 0, err
	}
	return rules, clients, nil
}
