package models

import (
	"context"
	"database/sql"
	"fmt"
	"net/netip"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.hackfix.me/wgfence/db/types"
)

// Protocol is the transport protocol an ACL rule matches.
type Protocol string

// Supported protocols.
const (
	ProtocolTCP  Protocol = "tcp"
	ProtocolUDP  Protocol = "udp"
	ProtocolICMP Protocol = "icmp"
)

// ProtocolFromString returns a valid Protocol for the given string, or an
// error if the value is invalid.
func ProtocolFromString(val string) (Protocol, error) {
	switch Protocol(strings.ToLower(val)) {
	case ProtocolTCP:
		return ProtocolTCP, nil
	case ProtocolUDP:
		return ProtocolUDP, nil
	case ProtocolICMP:
		return ProtocolICMP, nil
	}
	return "", types.InvalidInputError{
		Field: "protocol", Msg: fmt.Sprintf("'%s' must be one of tcp, udp or icmp", val),
	}
}

var (
	portRx      = regexp.MustCompile(`^\d+$`)
	portRangeRx = regexp.MustCompile(`^(\d+)-(\d+)$`)
)

// ParsePorts validates a port specification and returns its tokens with
// surrounding whitespace removed. A specification is a comma-separated list
// where each entry is either a port or an inclusive range, e.g. "22,80-90".
// Ports must be in [1, 65535], and range starts strictly less than their end.
func ParsePorts(spec string) ([]string, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, nil
	}

	invalid := func(msg string) error {
		return types.InvalidInputError{Field: "ports", Msg: msg}
	}

	parts := strings.Split(spec, ",")
	tokens := make([]string, 0, len(parts))
	for _, part := range parts {
		tok := strings.TrimSpace(part)
		switch {
		case portRx.MatchString(tok):
			port, err := strconv.Atoi(tok)
			if err != nil || port < 1 || port > 65535 {
				return nil, invalid(fmt.Sprintf("port %s is out of range 1-65535", tok))
			}
		case portRangeRx.MatchString(tok):
			m := portRangeRx.FindStringSubmatch(tok)
			start, err1 := strconv.Atoi(m[1])
			end, err2 := strconv.Atoi(m[2])
			if err1 != nil || err2 != nil || start < 1 || end > 65535 {
				return nil, invalid(fmt.Sprintf("port range %s is out of range 1-65535", tok))
			}
			if start >= end {
				return nil, invalid(fmt.Sprintf("port range %s must start below its end", tok))
			}
		default:
			return nil, invalid(fmt.Sprintf(
				"'%s' must be a port or range, e.g. \"80\", \"80,443\", \"1-65535\"", tok))
		}
		tokens = append(tokens, tok)
	}

	return tokens, nil
}

// ParseNetwork parses an IPv4 network in CIDR notation and returns it masked,
// so that "10.0.0.1/24" becomes "10.0.0.0/24".
func ParseNetwork(field, val string) (netip.Prefix, error) {
	prefix, err := netip.ParsePrefix(strings.TrimSpace(val))
	if err != nil || !prefix.Addr().Is4() {
		return netip.Prefix{}, types.InvalidInputError{
			Field: field,
			Msg:   fmt.Sprintf("'%s' must be an IPv4 network in CIDR notation, e.g. 10.0.0.1/32 or 10.0.0.0/24", val),
		}
	}
	return prefix.Masked(), nil
}

// ACLRule is a single allow entry for traffic forwarded through an interface.
type ACLRule struct {
	ID              uint64
	CreatedAt       time.Time
	UpdatedAt       time.Time
	InterfaceID     string
	SourceCIDR      netip.Prefix
	DestinationCIDR netip.Prefix
	Protocol        Protocol
	// Ports is empty for ICMP and required otherwise.
	Ports       string
	Enabled     bool
	Description sql.Null[string]
}

// Validate checks the rule fields, and normalizes the port specification.
func (r *ACLRule) Validate() error {
	if r.InterfaceID == "" {
		return types.InvalidInputError{Field: "interface", Msg: "must be set"}
	}
	if !r.SourceCIDR.IsValid() || !r.SourceCIDR.Addr().Is4() {
		return types.InvalidInputError{Field: "source", Msg: "must be an IPv4 network"}
	}
	if !r.DestinationCIDR.IsValid() || !r.DestinationCIDR.Addr().Is4() {
		return types.InvalidInputError{Field: "destination", Msg: "must be an IPv4 network"}
	}
	if _, err := ProtocolFromString(string(r.Protocol)); err != nil {
		return err
	}

	tokens, err := ParsePorts(r.Ports)
	if err != nil {
		return err
	}
	switch {
	case r.Protocol == ProtocolICMP && len(tokens) > 0:
		return types.InvalidInputError{Field: "ports", Msg: "must be empty for icmp"}
	case r.Protocol != ProtocolICMP && len(tokens) == 0:
		return types.InvalidInputError{Field: "ports", Msg: fmt.Sprintf("are required for %s", r.Protocol)}
	}

	r.SourceCIDR = r.SourceCIDR.Masked()
	r.DestinationCIDR = r.DestinationCIDR.Masked()
	r.Ports = strings.Join(tokens, ",")

	return nil
}

// Label is a human readable comment for the rule: its description, or a
// reference to its ID.
func (r *ACLRule) Label(fallbackPrefix string) string {
	if r.Description.Valid && r.Description.V != "" {
		return r.Description.V
	}
	return fmt.Sprintf("%s %d", fallbackPrefix, r.ID)
}

// Save stores the rule data in the database.
func (r *ACLRule) Save(ctx context.Context, d types.Querier, update bool) error {
	if err := r.Validate(); err != nil {
		return err
	}

	timeNow := d.TimeNow().UTC()
	if update {
		if r.ID == 0 {
			return types.InvalidInputError{Msg: "ACL rule ID must be set"}
		}
		idStr := fmt.Sprintf("ID %d", r.ID)
		res, err := d.ExecContext(ctx, `UPDATE acl_rules
			SET updated_at = ?,
			    source_cidr = ?,
			    destination_cidr = ?,
			    protocol = ?,
			    ports = ?,
			    enabled = ?,
			    description = ?
			WHERE id = ?`,
			timeNow, r.SourceCIDR.String(), r.DestinationCIDR.String(), string(r.Protocol),
			r.Ports, r.Enabled, r.Description, r.ID)
		if err != nil {
			return types.Err("ACL rule", idStr, err)
		}
		if err = expectOne(res, "ACL rule", idStr); err != nil {
			return err
		}
		r.UpdatedAt = timeNow
		return nil
	}

	res, err := d.ExecContext(ctx, `INSERT INTO acl_rules
		(id, created_at, updated_at, interface_id, source_cidr, destination_cidr,
		 protocol, ports, enabled, description)
		VALUES (NULL, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		timeNow, timeNow, r.InterfaceID, r.SourceCIDR.String(), r.DestinationCIDR.String(),
		string(r.Protocol), r.Ports, r.Enabled, r.Description)
	if err != nil {
		return types.Err("ACL rule", fmt.Sprintf("interface '%s'", r.InterfaceID), err)
	}

	r.ID, err = lastInsertID(res)
	if err != nil {
		return err
	}
	r.CreatedAt = timeNow
	r.UpdatedAt = timeNow

	return nil
}

// ACLRuleUpdate holds the fields to change on an existing rule. Nil fields
// are left as they are.
type ACLRuleUpdate struct {
	SourceCIDR      *netip.Prefix
	DestinationCIDR *netip.Prefix
	Protocol        *Protocol
	Ports           *string
	Enabled         *bool
	Description     *sql.Null[string]
}

// Update applies a partial update to the rule with r.ID, and reloads r with
// the stored result. The merged rule is validated as a whole, so changing the
// protocol to icmp also requires clearing the ports.
func (r *ACLRule) Update(ctx context.Context, d types.Querier, upd ACLRuleUpdate) error {
	if err := r.Load(ctx, d); err != nil {
		return err
	}

	if upd.SourceCIDR != nil {
		r.SourceCIDR = *upd.SourceCIDR
	}
	if upd.DestinationCIDR != nil {
		r.DestinationCIDR = *upd.DestinationCIDR
	}
	if upd.Protocol != nil {
		r.Protocol = *upd.Protocol
	}
	if upd.Ports != nil {
		r.Ports = *upd.Ports
	}
	if upd.Enabled != nil {
		r.Enabled = *upd.Enabled
	}
	if upd.Description != nil {
		r.Description = *upd.Description
	}

	return r.Save(ctx, d, true)
}

// Load the rule data from the database. The rule ID must be set.
func (r *ACLRule) Load(ctx context.Context, d types.Querier) error {
	if r.ID == 0 {
		return types.InvalidInputError{Msg: "ACL rule ID must be set"}
	}

	rules, err := ACLRules(ctx, d, types.NewFilter("id = ?", r.ID))
	if err != nil {
		return err
	}

	if len(rules) == 0 {
		return types.NoResultError{ModelName: "ACL rule", ID: fmt.Sprintf("ID %d", r.ID)}
	}
	*r = *rules[0]

	return nil
}

// Delete removes the rule from the database. It returns an error if the rule
// doesn't exist.
func (r *ACLRule) Delete(ctx context.Context, d types.Querier) error {
	if r.ID == 0 {
		return types.InvalidInputError{Msg: "ACL rule ID must be set"}
	}

	idStr := fmt.Sprintf("ID %d", r.ID)
	res, err := d.ExecContext(ctx, `DELETE FROM acl_rules WHERE id = ?`, r.ID)
	if err != nil {
		return types.Err("ACL rule", idStr, err)
	}

	return expectOne(res, "ACL rule", idStr)
}

// ACLRules returns one or more rules from the database ordered by ID. An
// optional filter can be passed to limit the results.
func ACLRules(ctx context.Context, d types.Querier, filter *types.Filter) (rules []*ACLRule, rerr error) {
	where, args := filter.Clause()
	query := fmt.Sprintf(`SELECT
			id, created_at, updated_at, interface_id, source_cidr, destination_cidr,
			protocol, ports, enabled, description
		FROM acl_rules %s
		ORDER BY id ASC %s`, where, filter.LimitClause())

	rows, err := d.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, types.LoadError{ModelName: "ACL rules", Err: err}
	}
	defer func() {
		if err = rows.Close(); err != nil {
			rerr = fmt.Errorf("failed closing ACL rules rows: %w", err)
		}
	}()

	rules = make([]*ACLRule, 0)
	for rows.Next() {
		var (
			r        ACLRule
			src, dst string
			proto    string
		)
		err = rows.Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt, &r.InterfaceID, &src, &dst,
			&proto, &r.Ports, &r.Enabled, &r.Description)
		if err != nil {
			return nil, types.ScanError{ModelName: "ACL rule", Err: err}
		}
		if r.SourceCIDR, err = netip.ParsePrefix(src); err != nil {
			return nil, types.ScanError{ModelName: "ACL rule", Err: err}
		}
		if r.DestinationCIDR, err = netip.ParsePrefix(dst); err != nil {
			return nil, types.ScanError{ModelName: "ACL rule", Err: err}
		}
		r.Protocol = Protocol(proto)
		rules = append(rules, &r)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating over ACL rules rows: %w", err)
	}

	return rules, nil
}

// InterfaceACLRules returns the rules of an interface, optionally only the
// enabled ones.
func InterfaceACLRules(ctx context.Context, d types.Querier, ifaceID string, enabledOnly bool) ([]*ACLRule, error) {
	filter := types.NewFilter("interface_id = ?", ifaceID)
	if enabledOnly {
		filter = filter.And(types.NewFilter("enabled = ?", true))
	}
	return ACLRules(ctx, d, filter)
}
