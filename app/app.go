package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/mandelsoft/vfs/pkg/memoryfs"

	"go.hackfix.me/wgfence/app/config"
	actx "go.hackfix.me/wgfence/app/context"
	aerrors "go.hackfix.me/wgfence/app/errors"
	"go.hackfix.me/wgfence/cli"
	"go.hackfix.me/wgfence/db"
	"go.hackfix.me/wgfence/db/queries"
)

// App is the application.
type App struct {
	name string
	ctx  *actx.Context
	cli  *cli.CLI
	// the logging level is set via the CLI, if the app was initialized with the
	// WithLogger option.
	logLevel *slog.LevelVar
}

// New initializes a new application.
func New(name, configFilePath, dataDir string, opts ...Option) (*App, error) {
	version, err := actx.GetVersion()
	if err != nil {
		return nil, err
	}

	defaultCtx := &actx.Context{
		Ctx:     context.Background(),
		FS:      memoryfs.New(),
		Logger:  slog.Default(),
		TimeNow: time.Now,
		Version: version,
	}
	app := &App{name: name, ctx: defaultCtx}

	for _, opt := range opts {
		opt(app)
	}

	configFilePath = actx.Lookup(app.ctx.Env, actx.EnvConfigFile, configFilePath)
	dataDir = actx.Lookup(app.ctx.Env, actx.EnvDataDir, dataDir)

	ver := fmt.Sprintf("%s %s", app.name, app.ctx.Version.String())
	app.cli, err = cli.New(configFilePath, dataDir, ver)
	if err != nil {
		return nil, err
	}

	return app, nil
}

// Run initializes the application environment and starts execution of the
// application.
func (app *App) Run(args []string) error {
	if err := app.cli.Parse(args); err != nil {
		return err
	}

	if app.logLevel != nil {
		app.logLevel.Set(app.cli.Log.Level)
		slog.SetLogLoggerLevel(app.cli.Log.Level)
	}

	if app.ctx.Config == nil {
		cfg := config.NewConfig(app.ctx.FS, app.cli.ConfigFile)
		if err := cfg.Load(); err != nil {
			return aerrors.NewRuntimeError("failed loading configuration", err, "")
		}
		app.ctx.Config = cfg
	}
	app.cli.ApplyConfig(app.ctx.Config)

	if err := app.initDB(); err != nil {
		return err
	}

	if err := app.cli.Execute(app.ctx); err != nil {
		return err
	}

	return nil
}

// initDB opens the database, unless one was provided, and checks that it was
// initialized before running any command that reads or writes the stored
// state.
func (app *App) initDB() error {
	cmd := app.cli.Command()
	if cmd == "config" || strings.HasPrefix(cmd, "config ") {
		return nil
	}

	if app.ctx.DB == nil {
		if err := app.ctx.FS.MkdirAll(app.cli.DataDir, 0o700); err != nil {
			return aerrors.NewRuntimeError("failed creating data directory", err, "")
		}
		dbPath := filepath.Join(app.cli.DataDir, "wgfence.db")
		d, err := db.Open(app.ctx.Ctx, dbPath, app.ctx.TimeNow)
		if err != nil {
			return aerrors.NewRuntimeError("failed opening database", err, "")
		}
		app.ctx.DB = d
	}

	version, err := queries.Version(app.ctx.DB.NewContext(), app.ctx.DB)
	if err != nil {
		return aerrors.NewRuntimeError("failed reading database version", err, "")
	}
	app.ctx.VersionInit = version.V

	if cmd == "init" {
		return nil
	}
	if !version.Valid {
		return aerrors.NewRuntimeError("wgfence is not initialized", nil,
			fmt.Sprintf("run '%s init' first", app.name))
	}

	if err = app.ctx.DB.Migrate(app.ctx.Logger); err != nil {
		return aerrors.NewRuntimeError("failed migrating database", err, "")
	}

	return nil
}
