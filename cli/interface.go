package cli

import (
	"fmt"
	"net/netip"
	"strconv"

	"github.com/alecthomas/kong"

	actx "go.hackfix.me/wgfence/app/context"
	aerrors "go.hackfix.me/wgfence/app/errors"
	"go.hackfix.me/wgfence/db/models"
)

// The Interface command manages the WireGuard interfaces whose forwarded
// traffic is filtered and routed.
type Interface struct {
	Add struct {
		Name   string       `arg:"" help:"Interface name, e.g. wg0."`
		Subnet netip.Prefix `arg:"" help:"IPv4 tunnel network in CIDR notation, e.g. 10.8.0.0/24."`
	} `kong:"cmd,help='Add an interface.'"`
	Remove struct {
		Name string `arg:"" help:"Interface name."`
	} `kong:"cmd,help='Remove an interface with its rules, clients and applied state.',aliases='rm'"`
	List struct{} `kong:"cmd,help='List interfaces.',aliases='ls'"`
}

// Run the interface command.
func (c *Interface) Run(kctx *kong.Context, appCtx *actx.Context, g *Globals) error {
	svc, err := newService(appCtx, g)
	if err != nil {
		return err
	}
	dbCtx := appCtx.DB.NewContext()

	switch subcommand(kctx) {
	case "add":
		iface := &models.Interface{Name: c.Add.Name, Subnet: c.Add.Subnet}
		if err = svc.AddInterface(dbCtx, iface); err != nil {
			return aerrors.NewRuntimeError(
				fmt.Sprintf("failed adding interface '%s'", c.Add.Name), err, "")
		}
		appCtx.Logger.Info("added interface", "interface", iface.Name, "subnet", iface.Subnet.String())
	case "remove":
		if err = svc.RemoveInterface(dbCtx, c.Remove.Name); err != nil {
			return aerrors.NewRuntimeError(
				fmt.Sprintf("failed removing interface '%s'", c.Remove.Name), err, "")
		}
		appCtx.Logger.Info("removed interface", "interface", c.Remove.Name)
	case "list":
		infos, err := svc.ListInterfaces(dbCtx)
		if err != nil {
			return aerrors.NewRuntimeError("failed listing interfaces", err, "")
		}

		data := make([][]string, len(infos))
		for i, info := range infos {
			data[i] = []string{
				info.Name, info.Subnet.String(),
				strconv.Itoa(info.Rules), strconv.Itoa(info.Clients),
			}
		}

		return printTable(appCtx, []string{"Name", "Subnet", "Rules", "Clients"}, data)
	}

	return nil
}
