package cli

import (
	"fmt"
	"log/slog"
	"net/netip"
	"reflect"
	"strings"

	"github.com/alecthomas/kong"

	"go.hackfix.me/wgfence/app/config"
	actx "go.hackfix.me/wgfence/app/context"
	aerrors "go.hackfix.me/wgfence/app/errors"
	"go.hackfix.me/wgfence/service"
)

// CLI is the command line interface of wgfence.
type CLI struct {
	Init      Init      `kong:"cmd,help='Initialize the wgfence database.'"`
	Interface Interface `kong:"cmd,help='Manage WireGuard interfaces.',aliases='iface'"`
	Client    Client    `kong:"cmd,help='Manage interface clients.'"`
	ACL       ACL       `kong:"cmd,name='acl',help='Manage access control rules of forwarded traffic.'"`
	Egress    Egress    `kong:"cmd,help='Manage Internet egress through exit nodes.'"`
	Hooks     Hooks     `kong:"cmd,help='Compile the rules of an interface and print its PostUp and PreDown hooks.'"`
	Apply     Apply     `kong:"cmd,help='Compile and apply the rules of an interface.'"`
	Teardown  Teardown  `kong:"cmd,help='Remove the applied rules of an interface.'"`
	Watch     Watch     `kong:"cmd,help='Refresh egress routing when exit node definitions change.'"`
	Config    Config    `kong:"cmd,help='Manage the wgfence configuration.'"`

	Globals `kong:"embed"`

	Log struct {
		Level slog.Level `enum:"DEBUG,INFO,WARN,ERROR" default:"INFO" help:"Set the app logging level."`
	} `embed:"" prefix:"log-"`
	// NOTE: I'm deliberately not using kong.ConfigFlag or its support for reading
	// values from configuration files, since I want to manage configuration
	// independently from the CLI.
	ConfigFile string           `kong:"default='${configFile}',help='Path to the wgfence configuration file.'"`
	DataDir    string           `kong:"default='${dataDir}',help='Path to the directory where wgfence data is stored.'"`
	Version    kong.VersionFlag `kong:"help='Output version and exit.'"`

	kong *kong.Kong
	kctx *kong.Context
}

// Globals are the options shared by all commands.
type Globals struct {
	NoApply bool `help:"Write the generated scripts without running them or changing the kernel state."`
}

// New initializes the command-line interface.
func New(configFilePath, dataDir, version string) (*CLI, error) {
	c := &CLI{}
	kparser, err := kong.New(c,
		kong.Name("wgfence"),
		kong.Description("Manage access control and egress routing of WireGuard interfaces."),
		kong.UsageOnError(),
		kong.DefaultEnvars("WGFENCE"),
		kong.TypeMapper(reflect.TypeOf(netip.Prefix{}), prefixMapper{}),
		kong.TypeMapper(reflect.TypeOf(netip.Addr{}), addrMapper{}),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			Summary:             true,
			NoExpandSubcommands: true,
		}),
		kong.Vars{
			"configFile": configFilePath,
			"dataDir":    dataDir,
			"version":    version,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed creating the Kong parser: %w", err)
	}

	c.kong = kparser

	return c, nil
}

// Execute starts the command execution. Parse must be called before this method.
func (c *CLI) Execute(appCtx *actx.Context) error {
	if c.kctx == nil {
		panic("the CLI wasn't initialized properly")
	}
	c.kong.Stdout = appCtx.Stdout
	c.kong.Stderr = appCtx.Stderr

	//nolint:wrapcheck // This is fine.
	return c.kctx.Run(appCtx, &c.Globals)
}

// Parse the given command line arguments. This method must be called before
// Execute.
func (c *CLI) Parse(args []string) error {
	kctx, err := c.kong.Parse(args)
	if err != nil {
		return fmt.Errorf("failed parsing CLI arguments: %w", err)
	}
	c.kctx = kctx

	return nil
}

// Command returns the full path of the executed command.
func (c *CLI) Command() string {
	if c.kctx == nil {
		panic("the CLI wasn't initialized properly")
	}
	return strings.Join(commandPath(c.kctx), " ")
}

// ApplyConfig applies configuration values to the CLI, but only if they weren't
// already set.
func (c *CLI) ApplyConfig(cfg *config.Config) {
	if c.Watch.Debounce == 0 {
		c.Watch.Debounce = cfg.WatchDebounce()
	}
}

// commandPath returns the names of the selected command and its parents.
// Aliases are resolved to the command name.
func commandPath(kctx *kong.Context) []string {
	cmdPath := []string{}
	for _, p := range kctx.Path {
		if p.Command != nil {
			cmdPath = append(cmdPath, p.Command.Name)
		}
	}
	return cmdPath
}

// subcommand returns the selected command path below the top-level command,
// e.g. "rule add" for "acl rule add".
func subcommand(kctx *kong.Context) string {
	cmdPath := commandPath(kctx)
	if len(cmdPath) < 2 {
		return ""
	}
	return strings.Join(cmdPath[1:], " ")
}

func newService(appCtx *actx.Context, g *Globals) (*service.Service, error) {
	svc, err := appCtx.NewService(!g.NoApply)
	if err != nil {
		return nil, aerrors.NewRuntimeError("failed initializing wgfence", err, "")
	}
	return svc, nil
}
