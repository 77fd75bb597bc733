package app

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mandelsoft/vfs/pkg/vfs"

	cfg "go.hackfix.me/wgfence/app/config"
	actx "go.hackfix.me/wgfence/app/context"
	"go.hackfix.me/wgfence/db"
	"go.hackfix.me/wgfence/device"
	ftypes "go.hackfix.me/wgfence/firewall/types"
	"go.hackfix.me/wgfence/host"
)

// Option is a function that allows configuring the application.
type Option func(*App)

// WithConfig sets the configuration object.
func WithConfig(cfg *cfg.Config) Option {
	return func(app *App) {
		app.ctx.Config = cfg
	}
}

// WithContext sets the main context.
func WithContext(ctx context.Context) Option {
	return func(app *App) {
		app.ctx.Ctx = ctx
	}
}

// WithDB sets the database used by the application. If not set, the database
// is opened in the data directory.
func WithDB(d *db.DB) Option {
	return func(app *App) {
		app.ctx.DB = d
	}
}

// WithEnv sets the process environment used by the application.
func WithEnv(env actx.Environment) Option {
	return func(app *App) {
		app.ctx.Env = env
	}
}

// WithFDs sets the file descriptors used by the application.
func WithFDs(stdin io.Reader, stdout, stderr io.Writer) Option {
	return func(app *App) {
		app.ctx.Stdin = stdin
		app.ctx.Stdout = stdout
		app.ctx.Stderr = stderr
	}
}

// WithFirewallType sets the firewall implementation used by the application,
// overriding the configured one.
func WithFirewallType(ft ftypes.FirewallType) Option {
	return func(app *App) {
		app.ctx.FirewallType = ft
	}
}

// WithFirewall sets the firewall used by the application.
func WithFirewall(fw ftypes.Firewall) Option {
	return func(app *App) {
		app.ctx.Firewall = fw
	}
}

// WithFS sets the filesystem used by the application.
func WithFS(fs vfs.FileSystem) Option {
	return func(app *App) {
		app.ctx.FS = fs
	}
}

// WithInspector sets the kernel state inspector used by exit node discovery.
func WithInspector(inspector device.Inspector) Option {
	return func(app *App) {
		app.ctx.Inspector = inspector
	}
}

// WithLogger initializes the logger used by the application.
func WithLogger(_, isStderrTTY bool) Option {
	return func(app *App) {
		lvl := &slog.LevelVar{}
		lvl.Set(slog.LevelInfo)
		logger := slog.New(
			tint.NewHandler(app.ctx.Stderr, &tint.Options{
				Level:      lvl,
				NoColor:    !isStderrTTY,
				TimeFormat: "2006-01-02 15:04:05.000",
			}),
		)
		app.logLevel = lvl
		app.ctx.Logger = logger
		slog.SetDefault(logger)
	}
}

// WithRunner sets the runner of host commands.
func WithRunner(runner host.Runner) Option {
	return func(app *App) {
		app.ctx.Runner = runner
	}
}

// WithTimeNow sets the function used to retrieve the current system time.
func WithTimeNow(timeNowFn func() time.Time) Option {
	return func(app *App) {
		app.ctx.TimeNow = timeNowFn
	}
}
