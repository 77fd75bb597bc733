package cli

import (
	"github.com/alecthomas/kong"

	actx "go.hackfix.me/wgfence/app/context"
	aerrors "go.hackfix.me/wgfence/app/errors"
	"go.hackfix.me/wgfence/db/models"
)

// The Egress command manages the routing of client Internet traffic through
// exit nodes.
type Egress struct {
	Devices struct{} `kong:"cmd,help='List the configured exit nodes and their state.'"`
	Config  struct {
		Show struct {
			Interface string `arg:"" help:"Interface name."`
		} `kong:"cmd,help='Show the egress configuration of an interface.'"`
		Set struct {
			Interface string         `arg:"" help:"Interface name."`
			Enabled   optionalBool   `help:"Enable or disable egress routing (true or false)."`
			Table     optionalString `help:"Name of the nftables NAT table."`
		} `kong:"cmd,help='Change the egress configuration of an interface.'"`
	} `kong:"cmd,help='Manage the egress configuration of an interface.'"`
	Reconcile struct {
		Interface string `arg:"" help:"Interface name."`
	} `kong:"cmd,help='Disable egress of clients whose exit node no longer exists.'"`
}

// Run the egress command.
func (c *Egress) Run(kctx *kong.Context, appCtx *actx.Context, g *Globals) error {
	svc, err := newService(appCtx, g)
	if err != nil {
		return err
	}
	dbCtx := appCtx.DB.NewContext()

	switch subcommand(kctx) {
	case "devices":
		devices := svc.Devices()
		data := make([][]string, len(devices))
		for i, d := range devices {
			data[i] = []string{d.Name, yesNo(d.Up), yesNo(d.Active)}
		}
		return printTable(appCtx, []string{"Name", "Up", "Active"}, data)
	case "config show":
		cfg, err := svc.GetEgressConfig(dbCtx, c.Config.Show.Interface)
		if err != nil {
			return aerrors.NewRuntimeError("failed loading egress configuration", err, "")
		}
		return printEgressConfig(appCtx, cfg)
	case "config set":
		cfg, err := svc.UpdateEgressConfig(dbCtx, c.Config.Set.Interface, models.EgressConfigUpdate{
			Enabled:   c.Config.Set.Enabled.ptr(),
			TableName: c.Config.Set.Table.ptr(),
		})
		if err != nil {
			return aerrors.NewRuntimeError("failed updating egress configuration", err, "")
		}
		return printEgressConfig(appCtx, cfg)
	case "reconcile":
		cleared, err := svc.Reconcile(dbCtx, c.Reconcile.Interface)
		if err != nil {
			return aerrors.NewRuntimeError("failed reconciling clients", err, "")
		}
		for _, cl := range cleared {
			if err = printf(appCtx, "Disabled egress of client %s (%d)\n", cl.Name, cl.ID); err != nil {
				return err
			}
		}
		if len(cleared) > 0 {
			if _, err = svc.SyncEgress(dbCtx, c.Reconcile.Interface); err != nil {
				return aerrors.NewRuntimeError("failed refreshing egress routing", err, "")
			}
		}
	}

	return nil
}

func printEgressConfig(appCtx *actx.Context, cfg *models.EgressConfig) error {
	return printTable(appCtx, []string{"Setting", "Value"}, [][]string{
		{"interface", cfg.InterfaceID},
		{"enabled", yesNo(cfg.Enabled)},
		{"table", cfg.TableName},
	})
}
