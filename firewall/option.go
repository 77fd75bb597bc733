package firewall

import (
	"errors"
	"log/slog"
	"path"
	"time"

	"github.com/mandelsoft/vfs/pkg/vfs"

	"go.hackfix.me/wgfence/device"
	"go.hackfix.me/wgfence/host"
	"go.hackfix.me/wgfence/metrics"
)

// Option is a function that allows configuring the Manager.
type Option func(*Manager) error

// WithFS sets the filesystem scripts are written to, and uplink definitions
// are read from.
func WithFS(fs vfs.FileSystem) Option {
	return func(m *Manager) error {
		m.fs = fs
		return nil
	}
}

// WithRunner sets the command runner used to bring up uplinks and run scripts.
func WithRunner(runner host.Runner) Option {
	return func(m *Manager) error {
		m.runner = runner
		return nil
	}
}

// WithInspector sets the kernel state inspector used by device discovery.
func WithInspector(inspector device.Inspector) Option {
	return func(m *Manager) error {
		m.inspector = inspector
		return nil
	}
}

// WithWireGuardDir sets the directory scripts are written to. Unless set with
// WithExitNodeDir, uplink definitions are read from its exit_nodes
// subdirectory.
func WithWireGuardDir(dir string) Option {
	return func(m *Manager) error {
		if dir == "" {
			return errors.New("WireGuard directory must not be empty")
		}
		m.wgDir = dir
		if !m.customExitDir {
			m.exitNodeDir = path.Join(dir, "exit_nodes")
		}
		return nil
	}
}

// WithExitNodeDir sets the directory of uplink definition files.
func WithExitNodeDir(dir string) Option {
	return func(m *Manager) error {
		if dir == "" {
			return nil
		}
		m.exitNodeDir = dir
		m.customExitDir = true
		return nil
	}
}

// WithAllocator sets the mark and routing table bases of uplinks.
func WithAllocator(a Allocator) Option {
	return func(m *Manager) error {
		if a.BaseMark == 0 || a.BaseTable == 0 {
			return errors.New("base mark and routing table must be non-zero")
		}
		m.allocator = a
		return nil
	}
}

// WithMetrics sets the registry compilations and applications are recorded in.
func WithMetrics(reg *metrics.Registry) Option {
	return func(m *Manager) error {
		m.metrics = reg
		return nil
	}
}

// WithTimeNow sets the function used to get the current time.
func WithTimeNow(timeNow func() time.Time) Option {
	return func(m *Manager) error {
		m.timeNow = timeNow
		return nil
	}
}

// WithLogger sets the logger used by the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) error {
		m.logger = logger.With("component", "firewall")
		return nil
	}
}

// DefaultOptions returns the default Manager options.
func DefaultOptions() []Option {
	return []Option{
		WithRunner(host.Exec{}),
		WithInspector(&device.Kernel{}),
		WithWireGuardDir("/etc/wireguard"),
		WithAllocator(Allocator{BaseMark: DefaultBaseMark, BaseTable: DefaultBaseTable}),
		WithTimeNow(time.Now),
		WithLogger(slog.Default()),
	}
}
