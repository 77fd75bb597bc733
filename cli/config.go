package cli

import (
	"fmt"

	"github.com/alecthomas/kong"

	actx "go.hackfix.me/wgfence/app/context"
	aerrors "go.hackfix.me/wgfence/app/errors"
)

// The Config command shows and changes the application configuration.
type Config struct {
	Show struct{} `kong:"cmd,help='Show the effective configuration.'"`
	Set  struct {
		Key   string `arg:"" help:"Configuration option, e.g. egress.base_mark."`
		Value string `arg:"" optional:"" help:"New value. If empty, the default is restored."`
	} `kong:"cmd,help='Change a configuration option.'"`
}

// Run the config command.
func (c *Config) Run(kctx *kong.Context, appCtx *actx.Context) error {
	switch subcommand(kctx) {
	case "show":
		values := appCtx.Config.Values()
		data := make([][]string, len(values))
		for i, kv := range values {
			data[i] = []string{kv[0], kv[1]}
		}
		return printTable(appCtx, []string{"Option", "Value"}, data)
	case "set":
		if err := appCtx.Config.Set(c.Set.Key, c.Set.Value); err != nil {
			return aerrors.NewRuntimeError("failed setting configuration option", err, "")
		}
		if err := appCtx.Config.Save(); err != nil {
			return aerrors.NewRuntimeError(
				fmt.Sprintf("failed saving configuration to %s", appCtx.Config.Path()), err, "")
		}
	}

	return nil
}
