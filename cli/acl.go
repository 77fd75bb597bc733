package cli

import (
	"database/sql"
	"fmt"
	"net/netip"
	"strconv"

	"github.com/alecthomas/kong"

	actx "go.hackfix.me/wgfence/app/context"
	aerrors "go.hackfix.me/wgfence/app/errors"
	"go.hackfix.me/wgfence/db/models"
	"go.hackfix.me/wgfence/db/types"
)

// The ACL command manages the rules and configuration of forwarded traffic
// filtering.
type ACL struct {
	Rule struct {
		Add struct {
			Interface   string       `arg:"" help:"Interface name."`
			Source      netip.Prefix `arg:"" help:"Source network in CIDR notation."`
			Destination netip.Prefix `arg:"" help:"Destination network in CIDR notation."`
			Protocol    string       `arg:"" enum:"tcp,udp,icmp" help:"Protocol: tcp, udp or icmp."`
			Ports       string       `arg:"" optional:"" help:"Ports, e.g. 22, 22,80 or 22,8000-8080. Must be empty for icmp."`
			Description string       `help:"Rule description, used as the ruleset comment."`
			Disabled    bool         `help:"Add the rule in disabled state."`
		} `kong:"cmd,help='Add a rule.'"`
		Update struct {
			ID          uint64         `arg:"" help:"Rule ID."`
			Source      optionalString `help:"Source network in CIDR notation."`
			Destination optionalString `help:"Destination network in CIDR notation."`
			Protocol    optionalString `help:"Protocol: tcp, udp or icmp. Changing it to icmp clears the ports."`
			Ports       optionalString `help:"Ports, e.g. 22, 22,80 or 22,8000-8080."`
			Description optionalString `help:"Rule description. An empty value removes it."`
			Enabled     optionalBool   `help:"Enable or disable the rule (true or false)."`
		} `kong:"cmd,help='Update a rule. Only the given fields are changed.'"`
		Remove struct {
			ID uint64 `arg:"" help:"Rule ID."`
		} `kong:"cmd,help='Remove a rule.',aliases='rm'"`
		Show struct {
			ID uint64 `arg:"" help:"Rule ID."`
		} `kong:"cmd,help='Show a rule.'"`
		List struct {
			Interface   string `arg:"" help:"Interface name."`
			EnabledOnly bool   `help:"Only list enabled rules."`
		} `kong:"cmd,help='List the rules of an interface.',aliases='ls'"`
	} `kong:"cmd,help='Manage rules.'"`
	Config struct {
		Show struct {
			Interface string `arg:"" help:"Interface name."`
		} `kong:"cmd,help='Show the ACL configuration of an interface.'"`
		Set struct {
			Interface         string         `arg:"" help:"Interface name."`
			Enabled           optionalBool   `help:"Enable or disable filtering (true or false)."`
			DefaultPolicy     optionalString `help:"Verdict of traffic no rule matches: drop or accept."`
			AllowPublicEgress optionalBool   `help:"Allow traffic to non-private destinations (true or false)."`
			ExitNodeClient    optionalString `help:"ID of the client acting as exit node. Reserved. An empty value clears it."`
			Table             optionalString `help:"Name of the nftables filter table."`
		} `kong:"cmd,help='Change the ACL configuration of an interface.'"`
	} `kong:"cmd,help='Manage the ACL configuration of an interface.'"`
}

// Run the acl command.
func (c *ACL) Run(kctx *kong.Context, appCtx *actx.Context, g *Globals) error {
	svc, err := newService(appCtx, g)
	if err != nil {
		return err
	}
	dbCtx := appCtx.DB.NewContext()

	switch subcommand(kctx) {
	case "rule add":
		args := c.Rule.Add
		rule := &models.ACLRule{
			InterfaceID:     args.Interface,
			SourceCIDR:      args.Source,
			DestinationCIDR: args.Destination,
			Protocol:        models.Protocol(args.Protocol),
			Ports:           args.Ports,
			Enabled:         !args.Disabled,
			Description:     sql.Null[string]{V: args.Description, Valid: args.Description != ""},
		}
		if err = svc.CreateRule(dbCtx, rule); err != nil {
			return aerrors.NewRuntimeError("failed adding rule", err, "")
		}
		return printf(appCtx, "Added rule %d\n", rule.ID)
	case "rule update":
		upd, err := c.ruleUpdate()
		if err != nil {
			return aerrors.NewRuntimeError("invalid rule update", err, "")
		}
		rule, err := svc.UpdateRule(dbCtx, c.Rule.Update.ID, upd)
		if err != nil {
			return aerrors.NewRuntimeError(fmt.Sprintf("failed updating rule %d", c.Rule.Update.ID), err, "")
		}
		return printRules(appCtx, []*models.ACLRule{rule})
	case "rule remove":
		if err = svc.DeleteRule(dbCtx, c.Rule.Remove.ID); err != nil {
			return aerrors.NewRuntimeError(fmt.Sprintf("failed removing rule %d", c.Rule.Remove.ID), err, "")
		}
	case "rule show":
		rule, err := svc.GetRule(dbCtx, c.Rule.Show.ID)
		if err != nil {
			return aerrors.NewRuntimeError(fmt.Sprintf("failed loading rule %d", c.Rule.Show.ID), err, "")
		}
		return printRules(appCtx, []*models.ACLRule{rule})
	case "rule list":
		rules, err := svc.ListRules(dbCtx, c.Rule.List.Interface, c.Rule.List.EnabledOnly)
		if err != nil {
			return aerrors.NewRuntimeError("failed listing rules", err, "")
		}
		return printRules(appCtx, rules)
	case "config show":
		cfg, err := svc.GetACLConfig(dbCtx, c.Config.Show.Interface)
		if err != nil {
			return aerrors.NewRuntimeError("failed loading ACL configuration", err, "")
		}
		return printACLConfig(appCtx, cfg)
	case "config set":
		upd, err := c.configUpdate()
		if err != nil {
			return aerrors.NewRuntimeError("invalid ACL configuration", err, "")
		}
		cfg, err := svc.UpdateACLConfig(dbCtx, c.Config.Set.Interface, upd)
		if err != nil {
			return aerrors.NewRuntimeError("failed updating ACL configuration", err, "")
		}
		return printACLConfig(appCtx, cfg)
	}

	return nil
}

func (c *ACL) ruleUpdate() (models.ACLRuleUpdate, error) {
	args := c.Rule.Update
	upd := models.ACLRuleUpdate{
		Ports:   args.Ports.ptr(),
		Enabled: args.Enabled.ptr(),
	}

	if args.Source.Set {
		src, err := models.ParseNetwork("source", args.Source.Value)
		if err != nil {
			return upd, err
		}
		upd.SourceCIDR = &src
	}
	if args.Destination.Set {
		dst, err := models.ParseNetwork("destination", args.Destination.Value)
		if err != nil {
			return upd, err
		}
		upd.DestinationCIDR = &dst
	}
	if args.Protocol.Set {
		proto, err := models.ProtocolFromString(args.Protocol.Value)
		if err != nil {
			return upd, err
		}
		upd.Protocol = &proto
		if proto == models.ProtocolICMP && upd.Ports == nil {
			upd.Ports = new(string)
		}
	}
	if args.Description.Set {
		upd.Description = &sql.Null[string]{V: args.Description.Value, Valid: args.Description.Value != ""}
	}

	return upd, nil
}

func (c *ACL) configUpdate() (models.ACLConfigUpdate, error) {
	args := c.Config.Set
	upd := models.ACLConfigUpdate{
		Enabled:           args.Enabled.ptr(),
		AllowPublicEgress: args.AllowPublicEgress.ptr(),
		FilterTableName:   args.Table.ptr(),
	}

	if args.DefaultPolicy.Set {
		policy, err := models.PolicyFromString(args.DefaultPolicy.Value)
		if err != nil {
			return upd, err
		}
		upd.DefaultPolicy = &policy
	}
	if args.ExitNodeClient.Set {
		id := sql.Null[uint64]{}
		if args.ExitNodeClient.Value != "" {
			v, err := strconv.ParseUint(args.ExitNodeClient.Value, 10, 64)
			if err != nil {
				return upd, types.InvalidInputError{
					Field: "exit node client",
					Msg:   fmt.Sprintf("'%s' is not a client ID", args.ExitNodeClient.Value),
				}
			}
			id = sql.Null[uint64]{V: v, Valid: true}
		}
		upd.ExitNodeClientID = &id
	}

	return upd, nil
}

func printRules(appCtx *actx.Context, rules []*models.ACLRule) error {
	data := make([][]string, len(rules))
	for i, r := range rules {
		ports := r.Ports
		if ports == "" {
			ports = "-"
		}
		data[i] = []string{
			idStr(r.ID), r.InterfaceID, r.SourceCIDR.String(), r.DestinationCIDR.String(),
			string(r.Protocol), ports, yesNo(r.Enabled), r.Description.V,
		}
	}

	return printTable(appCtx,
		[]string{"ID", "Interface", "Source", "Destination", "Protocol", "Ports", "Enabled", "Description"},
		data)
}

func printACLConfig(appCtx *actx.Context, cfg *models.ACLConfig) error {
	exitNode := "-"
	if cfg.ExitNodeClientID.Valid {
		exitNode = idStr(cfg.ExitNodeClientID.V)
	}

	return printTable(appCtx, []string{"Setting", "Value"}, [][]string{
		{"interface", cfg.InterfaceID},
		{"enabled", yesNo(cfg.Enabled)},
		{"default_policy", string(cfg.DefaultPolicy)},
		{"allow_public_egress", yesNo(cfg.AllowPublicEgress)},
		{"exit_node_client", exitNode},
		{"table", cfg.FilterTableName},
	})
}
