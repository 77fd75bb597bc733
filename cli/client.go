package cli

import (
	"database/sql"
	"fmt"
	"net/netip"

	"github.com/alecthomas/kong"

	actx "go.hackfix.me/wgfence/app/context"
	aerrors "go.hackfix.me/wgfence/app/errors"
	"go.hackfix.me/wgfence/db/models"
	"go.hackfix.me/wgfence/firewall"
)

// The Client command manages the clients of an interface, and their egress
// routing.
type Client struct {
	Add struct {
		Interface string     `arg:"" help:"Interface name."`
		Name      string     `arg:"" help:"Client name, unique per interface."`
		Address   netip.Addr `arg:"" help:"IPv4 tunnel address of the client."`
		Disabled  bool       `help:"Add the client in disabled state."`
		Egress    bool       `help:"Route the client's Internet traffic."`
		Device    string     `help:"Exit node to route the client's Internet traffic through. The host default route is used if unset."`
	} `kong:"cmd,help='Add a client.'"`
	Remove struct {
		ID uint64 `arg:"" help:"Client ID."`
	} `kong:"cmd,help='Remove a client.',aliases='rm'"`
	List struct {
		Interface string `arg:"" help:"Interface name."`
	} `kong:"cmd,help='List the clients of an interface.',aliases='ls'"`
	Egress struct {
		ID      uint64 `arg:"" help:"Client ID."`
		Disable bool   `help:"Stop routing the client's Internet traffic."`
		Device  string `help:"Exit node to route the client's Internet traffic through. The host default route is used if unset."`
	} `kong:"cmd,help='Set the egress routing of a client.'"`
}

// Run the client command.
func (c *Client) Run(kctx *kong.Context, appCtx *actx.Context, g *Globals) error {
	svc, err := newService(appCtx, g)
	if err != nil {
		return err
	}
	dbCtx := appCtx.DB.NewContext()

	switch subcommand(kctx) {
	case "add":
		client := &models.Client{
			InterfaceID:   c.Add.Interface,
			Name:          c.Add.Name,
			Enabled:       !c.Add.Disabled,
			IPv4Address:   c.Add.Address,
			EgressEnabled: c.Add.Egress,
			EgressDevice:  nullDevice(c.Add.Device),
		}
		if err = svc.AddClient(dbCtx, client); err != nil {
			return aerrors.NewRuntimeError(
				fmt.Sprintf("failed adding client '%s'", c.Add.Name), err, "")
		}
		return printf(appCtx, "Added client %s with ID %d\n", client.Name, client.ID)
	case "remove":
		if err = svc.RemoveClient(dbCtx, c.Remove.ID); err != nil {
			return aerrors.NewRuntimeError(
				fmt.Sprintf("failed removing client %d", c.Remove.ID), err, "")
		}
	case "list":
		clients, err := svc.ListClients(dbCtx, c.List.Interface)
		if err != nil {
			return aerrors.NewRuntimeError("failed listing clients", err, "")
		}

		data := make([][]string, len(clients))
		for i, cl := range clients {
			egress := "-"
			if cl.EgressEnabled {
				egress = firewall.DefaultUplink
				if cl.EgressDevice.Valid {
					egress = cl.EgressDevice.V
				}
			}
			data[i] = []string{
				idStr(cl.ID), cl.Name, cl.IPv4Address.String(), yesNo(cl.Enabled), egress,
			}
		}

		return printTable(appCtx, []string{"ID", "Name", "Address", "Enabled", "Egress"}, data)
	case "egress":
		client, err := svc.SetClientEgress(dbCtx, c.Egress.ID, !c.Egress.Disable, nullDevice(c.Egress.Device))
		if err != nil {
			return aerrors.NewRuntimeError(
				fmt.Sprintf("failed setting egress of client %d", c.Egress.ID), err, "")
		}
		appCtx.Logger.Info("updated client egress", "client", client.Name,
			"enabled", client.EgressEnabled, "device", client.EgressDevice.V)
	}

	return nil
}

func nullDevice(name string) sql.Null[string] {
	return sql.Null[string]{V: name, Valid: name != ""}
}
