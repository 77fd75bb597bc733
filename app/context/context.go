package context

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/mandelsoft/vfs/pkg/vfs"

	"go.hackfix.me/wgfence/app/config"
	"go.hackfix.me/wgfence/db"
	"go.hackfix.me/wgfence/device"
	"go.hackfix.me/wgfence/firewall"
	ftypes "go.hackfix.me/wgfence/firewall/types"
	"go.hackfix.me/wgfence/host"
	"go.hackfix.me/wgfence/metrics"
	"go.hackfix.me/wgfence/service"
)

// Context contains common objects used by the application. It is passed around
// the application to avoid direct dependencies on external systems, and make
// testing easier.
type Context struct {
	Ctx     context.Context  // global context
	FS      vfs.FileSystem   // filesystem
	Env     Environment      // process environment
	Logger  *slog.Logger     // global logger
	TimeNow func() time.Time // function to return the current time

	// Standard streams
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	Config *config.Config
	DB     *db.DB

	// Host integration. Firewall is optional: if nil, one is created for the
	// configured FirewallType when the service is built.
	FirewallType ftypes.FirewallType
	Firewall     ftypes.Firewall
	Runner       host.Runner
	Inspector    device.Inspector
	Metrics      *metrics.Registry

	// Metadata
	Version     *VersionInfo
	VersionInit string // version the database was initialized with
}

// NewService returns a Service wired to the configured firewall, filesystem
// and host. If apply is false, scripts are generated but never run, and
// unless set explicitly, host commands and kernel changes are only simulated.
func (c *Context) NewService(apply bool) (*service.Service, error) {
	if c.Config == nil {
		return nil, errors.New("configuration is not loaded")
	}
	if c.DB == nil {
		return nil, errors.New("database is not open")
	}
	if c.Metrics == nil {
		c.Metrics = metrics.New()
	}

	opts := []firewall.Option{
		firewall.WithFS(c.FS),
		firewall.WithWireGuardDir(c.Config.WireGuardDir()),
		firewall.WithExitNodeDir(c.Config.ExitNodeDir()),
		firewall.WithAllocator(firewall.Allocator{
			BaseMark:  firewall.RoutingMark(c.Config.BaseMark()),
			BaseTable: firewall.RoutingTable(c.Config.BaseTable()),
		}),
		firewall.WithMetrics(c.Metrics),
		firewall.WithLogger(c.Logger),
	}
	runner := c.Runner
	if runner == nil && !apply {
		runner = &host.DryRun{}
	}
	if runner != nil {
		opts = append(opts, firewall.WithRunner(runner))
	}
	if c.Inspector != nil {
		opts = append(opts, firewall.WithInspector(c.Inspector))
	}
	if c.TimeNow != nil {
		opts = append(opts, firewall.WithTimeNow(c.TimeNow))
	}

	var (
		fwMgr *firewall.Manager
		err   error
	)
	if c.Firewall != nil {
		fwMgr, err = firewall.NewManager(c.Firewall, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed creating the firewall manager: %w", err)
		}
	} else {
		ft := c.FirewallType
		if ft == "" {
			ft = c.Config.FirewallType()
		}
		if !apply {
			ft = ftypes.FirewallMock
		}
		_, fwMgr, err = firewall.Setup(ft, c.Logger, opts...)
		if err != nil {
			return nil, err //nolint:wrapcheck // Already descriptive.
		}
	}

	//nolint:wrapcheck // Already descriptive.
	return service.New(c.DB, fwMgr,
		service.WithApply(apply),
		service.WithMetricsFile(c.Config.MetricsTextfile()),
		service.WithLogger(c.Logger),
	)
}
