// Package device discovers the exit node uplinks configured on the host, and
// which of them are operational.
//
// Every lookup fails open: filesystem and kernel errors are logged and
// treated as "nothing found", since callers must keep working when no uplinks
// exist.
package device

import (
	"log/slog"
	"path"
	"slices"
	"strings"

	"github.com/mandelsoft/vfs/pkg/vfs"
)

const confExt = ".conf"

// Discovery finds exit node uplinks from their WireGuard definition files.
type Discovery struct {
	fs        vfs.FileSystem
	dir       string
	inspector Inspector
	logger    *slog.Logger
}

// New returns a Discovery for uplink definitions in dir.
func New(fs vfs.FileSystem, dir string, inspector Inspector, logger *slog.Logger) *Discovery {
	return &Discovery{
		fs:        fs,
		dir:       dir,
		inspector: inspector,
		logger:    logger.With("component", "device"),
	}
}

// ConfigPath returns the path of the definition file of an uplink.
func (d *Discovery) ConfigPath(name string) string {
	return path.Join(d.dir, name+confExt)
}

// Dir returns the uplink definition directory.
func (d *Discovery) Dir() string {
	return d.dir
}

// ListConfigured returns the sorted names of all uplinks with a definition
// file, regardless of their state.
func (d *Discovery) ListConfigured() []string {
	entries, err := vfs.ReadDir(d.fs, d.dir)
	if err != nil {
		d.logger.Debug("failed reading exit node directory", "dir", d.dir, "error", err)
		return []string{}
	}

	names := []string{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), confExt) {
			continue
		}
		name := strings.TrimSuffix(e.Name(), confExt)
		if name == "" {
			continue
		}
		names = append(names, name)
	}
	slices.Sort(names)

	d.logger.Debug("found exit node configs", "count", len(names), "names", names)

	return names
}

// IsConfigured returns true if the uplink has a definition file.
func (d *Discovery) IsConfigured(name string) bool {
	ok, err := vfs.Exists(d.fs, d.ConfigPath(name))
	if err != nil {
		d.logger.Debug("failed checking exit node config", "name", name, "error", err)
		return false
	}
	return ok
}

// IsActive returns true if the uplink is up and has an IPv4 address.
func (d *Discovery) IsActive(name string) bool {
	up, err := d.inspector.IsUp(name)
	if err != nil {
		d.logger.Debug("failed checking exit node state", "name", name, "error", err)
		return false
	}
	if !up {
		return false
	}

	addressed, err := d.inspector.HasIPv4(name)
	if err != nil {
		d.logger.Debug("failed checking exit node address", "name", name, "error", err)
		return false
	}

	return addressed
}

// ListActive returns the configured uplinks that are up and addressed.
func (d *Discovery) ListActive() []string {
	active := []string{}
	for _, name := range d.ListConfigured() {
		if d.IsActive(name) {
			active = append(active, name)
			continue
		}
		d.logger.Debug("exit node excluded", "name", name)
	}
	return active
}

// DefaultInterface returns the interface of the host's IPv4 default route, or
// "" if it can't be determined.
func (d *Discovery) DefaultInterface() string {
	name, err := d.inspector.DefaultInterface()
	if err != nil {
		d.logger.Warn("failed getting default route interface", "error", err)
		return ""
	}
	return name
}

// IsUp reports the control socket state of an uplink, failing open.
func (d *Discovery) IsUp(name string) bool {
	up, err := d.inspector.IsUp(name)
	if err != nil {
		d.logger.Debug("failed checking exit node state", "name", name, "error", err)
		return false
	}
	return up
}
