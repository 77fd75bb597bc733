package config

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/mandelsoft/vfs/pkg/vfs"

	ftypes "go.hackfix.me/wgfence/firewall/types"
)

// Default values of unset configuration options.
const (
	DefaultWireGuardDir  = "/etc/wireguard"
	DefaultBaseMark      = 0x10
	DefaultBaseTable     = 200
	DefaultWatchDebounce = 2 * time.Second
	DefaultFirewallType  = ftypes.FirewallNFTables
)

// Config represents the application configuration, backed by a filesystem for
// persistence.
type Config struct {
	Paths    Paths
	Egress   Egress
	Metrics  Metrics
	Watch    Watch
	Firewall Firewall

	fs   vfs.FileSystem
	path string
}

// NewConfig creates a new Config instance with the specified filesystem
// and configuration file path.
func NewConfig(fs vfs.FileSystem, path string) *Config {
	return &Config{fs: fs, path: path}
}

// Load reads and parses the configuration file from the filesystem.
// If the file doesn't exist, it initializes with an empty configuration.
func (c *Config) Load() error {
	configJSON, err := vfs.ReadFile(c.fs, c.path)
	if err != nil && !vfs.IsErrNotExist(err) {
		return fmt.Errorf("failed reading configuration file: %w", err)
	}

	// Ensure that unmarshalling JSON doesn't fail if the file doesn't exist or is empty.
	if len(configJSON) == 0 {
		configJSON = []byte("{}")
	}

	if err = json.Unmarshal(configJSON, c); err != nil {
		return fmt.Errorf("failed parsing configuration file: %w", err)
	}

	return nil
}

// Path returns the filesystem path where the configuration is stored.
func (c *Config) Path() string {
	return c.path
}

// Save writes the current configuration to the filesystem as JSON.
func (c *Config) Save() error {
	if err := c.fs.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("failed creating configuration directory: %w", err)
	}
	configJSON, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed serializing configuration data: %w", err)
	}
	if err = vfs.WriteFile(c.fs, c.path, configJSON, 0o644); err != nil {
		return fmt.Errorf("failed writing configuration file: %w", err)
	}

	return nil
}

// Paths defines the locations of WireGuard files.
type Paths struct {
	// WireGuardDir is the directory the generated scripts are written to.
	WireGuardDir sql.Null[string] `json:"wireguard_dir"`
	// ExitNodeDir is the directory of exit node definition files. It defaults
	// to the exit_nodes subdirectory of WireGuardDir.
	ExitNodeDir sql.Null[string] `json:"exit_node_dir"`
}

// Egress defines the resources allocated to exit nodes. Exit node i is
// assigned packet mark BaseMark+i and routing table BaseTable+i.
type Egress struct {
	BaseMark  sql.Null[uint32] `json:"base_mark"`
	BaseTable sql.Null[uint32] `json:"base_table"`
}

// Metrics defines metrics export options.
type Metrics struct {
	// Textfile is the path metrics are written to after every change, for
	// collection by the node_exporter textfile collector. Export is disabled
	// if unset.
	Textfile sql.Null[string] `json:"textfile"`
}

// Watch defines options of the exit node directory watcher.
type Watch struct {
	// Debounce is the quiet period after the last change before egress
	// routing is refreshed.
	Debounce sql.Null[time.Duration] `json:"debounce"`
}

// Firewall defines firewall-specific configuration options.
type Firewall struct {
	// Type is the firewall backend used on this system.
	Type sql.Null[ftypes.FirewallType] `json:"type"`
}

// WireGuardDir returns the configured WireGuard directory, or the default.
func (c *Config) WireGuardDir() string {
	if c.Paths.WireGuardDir.Valid {
		return c.Paths.WireGuardDir.V
	}
	return DefaultWireGuardDir
}

// ExitNodeDir returns the configured exit node directory, or "" to use the
// default within the WireGuard directory.
func (c *Config) ExitNodeDir() string {
	return c.Paths.ExitNodeDir.V
}

// BaseMark returns the configured base packet mark, or the default.
func (c *Config) BaseMark() uint32 {
	if c.Egress.BaseMark.Valid {
		return c.Egress.BaseMark.V
	}
	return DefaultBaseMark
}

// BaseTable returns the configured base routing table, or the default.
func (c *Config) BaseTable() uint32 {
	if c.Egress.BaseTable.Valid {
		return c.Egress.BaseTable.V
	}
	return DefaultBaseTable
}

// MetricsTextfile returns the metrics export path, or "" if disabled.
func (c *Config) MetricsTextfile() string {
	return c.Metrics.Textfile.V
}

// WatchDebounce returns the configured watch debounce period, or the default.
func (c *Config) WatchDebounce() time.Duration {
	if c.Watch.Debounce.Valid {
		return c.Watch.Debounce.V
	}
	return DefaultWatchDebounce
}

// FirewallType returns the configured firewall backend, or the default.
func (c *Config) FirewallType() ftypes.FirewallType {
	if c.Firewall.Type.Valid {
		return c.Firewall.Type.V
	}
	return DefaultFirewallType
}

// Keys are the option names accepted by Set, in display order.
var Keys = []string{
	"paths.wireguard_dir",
	"paths.exit_node_dir",
	"egress.base_mark",
	"egress.base_table",
	"metrics.textfile",
	"watch.debounce",
	"firewall.type",
}

// Set parses and sets the option with the given key. An empty value unsets
// the option, restoring its default.
func (c *Config) Set(key, value string) error {
	switch key {
	case "paths.wireguard_dir":
		c.Paths.WireGuardDir = nullString(value)
	case "paths.exit_node_dir":
		c.Paths.ExitNodeDir = nullString(value)
	case "egress.base_mark", "egress.base_table":
		var v sql.Null[uint32]
		if value != "" {
			n, err := strconv.ParseUint(value, 0, 32)
			if err != nil {
				return fmt.Errorf("invalid value '%s' for %s: %w", value, key, err)
			}
			if n == 0 {
				return fmt.Errorf("invalid value '%s' for %s: must be greater than 0", value, key)
			}
			v = sql.Null[uint32]{V: uint32(n), Valid: true}
		}
		if key == "egress.base_mark" {
			c.Egress.BaseMark = v
		} else {
			c.Egress.BaseTable = v
		}
	case "metrics.textfile":
		c.Metrics.Textfile = nullString(value)
	case "watch.debounce":
		var v sql.Null[time.Duration]
		if value != "" {
			dur, err := parseDebounce(value)
			if err != nil {
				return err
			}
			v = sql.Null[time.Duration]{V: dur, Valid: true}
		}
		c.Watch.Debounce = v
	case "firewall.type":
		var v sql.Null[ftypes.FirewallType]
		if value != "" {
			ft, err := ftypes.FirewallTypeFromString(value)
			if err != nil {
				return err
			}
			v = sql.Null[ftypes.FirewallType]{V: ft, Valid: true}
		}
		c.Firewall.Type = v
	default:
		return fmt.Errorf("unknown configuration option '%s'", key)
	}

	return nil
}

// Values returns the effective value of every option, in the order of Keys.
func (c *Config) Values() [][2]string {
	exitDir := c.ExitNodeDir()
	if exitDir == "" {
		exitDir = filepath.Join(c.WireGuardDir(), "exit_nodes")
	}
	return [][2]string{
		{"paths.wireguard_dir", c.WireGuardDir()},
		{"paths.exit_node_dir", exitDir},
		{"egress.base_mark", fmt.Sprintf("0x%x", c.BaseMark())},
		{"egress.base_table", strconv.FormatUint(uint64(c.BaseTable()), 10)},
		{"metrics.textfile", c.MetricsTextfile()},
		{"watch.debounce", c.WatchDebounce().String()},
		{"firewall.type", string(c.FirewallType())},
	}
}

type cfgWrapper struct {
	Paths    pathsCfgWrapper    `json:"paths"`
	Egress   egressCfgWrapper   `json:"egress"`
	Metrics  metricsCfgWrapper  `json:"metrics"`
	Watch    watchCfgWrapper    `json:"watch"`
	Firewall firewallCfgWrapper `json:"firewall"`
}
type pathsCfgWrapper struct {
	WireGuardDir string `json:"wireguard_dir,omitempty"`
	ExitNodeDir  string `json:"exit_node_dir,omitempty"`
}
type egressCfgWrapper struct {
	BaseMark  uint32 `json:"base_mark,omitempty"`
	BaseTable uint32 `json:"base_table,omitempty"`
}
type metricsCfgWrapper struct {
	Textfile string `json:"textfile,omitempty"`
}
type watchCfgWrapper struct {
	Debounce string `json:"debounce,omitempty"`
}
type firewallCfgWrapper struct {
	Type string `json:"type,omitempty"`
}

// MarshalJSON implements custom JSON marshaling to convert sql.Null values
// to their underlying types, omitting invalid/null fields from the output.
func (c Config) MarshalJSON() ([]byte, error) {
	w := cfgWrapper{}

	if c.Paths.WireGuardDir.Valid {
		w.Paths.WireGuardDir = c.Paths.WireGuardDir.V
	}
	if c.Paths.ExitNodeDir.Valid {
		w.Paths.ExitNodeDir = c.Paths.ExitNodeDir.V
	}
	if c.Egress.BaseMark.Valid {
		w.Egress.BaseMark = c.Egress.BaseMark.V
	}
	if c.Egress.BaseTable.Valid {
		w.Egress.BaseTable = c.Egress.BaseTable.V
	}
	if c.Metrics.Textfile.Valid {
		w.Metrics.Textfile = c.Metrics.Textfile.V
	}
	if c.Watch.Debounce.Valid {
		w.Watch.Debounce = c.Watch.Debounce.V.String()
	}
	if c.Firewall.Type.Valid {
		w.Firewall.Type = string(c.Firewall.Type.V)
	}

	//nolint:wrapcheck // This is fine.
	return json.Marshal(w)
}

// UnmarshalJSON implements custom JSON unmarshaling to convert plain values
// into sql.Null types and parse duration strings into time.Duration values.
func (c *Config) UnmarshalJSON(data []byte) error {
	var w cfgWrapper
	if err := json.Unmarshal(data, &w); err != nil {
		//nolint:wrapcheck // This is fine.
		return err
	}

	c.Paths.WireGuardDir = nullString(w.Paths.WireGuardDir)
	c.Paths.ExitNodeDir = nullString(w.Paths.ExitNodeDir)
	if w.Egress.BaseMark > 0 {
		c.Egress.BaseMark = sql.Null[uint32]{V: w.Egress.BaseMark, Valid: true}
	}
	if w.Egress.BaseTable > 0 {
		c.Egress.BaseTable = sql.Null[uint32]{V: w.Egress.BaseTable, Valid: true}
	}
	c.Metrics.Textfile = nullString(w.Metrics.Textfile)

	if w.Watch.Debounce != "" {
		dur, err := parseDebounce(w.Watch.Debounce)
		if err != nil {
			return err
		}
		c.Watch.Debounce = sql.Null[time.Duration]{V: dur, Valid: true}
	}

	if w.Firewall.Type != "" {
		ft, err := ftypes.FirewallTypeFromString(w.Firewall.Type)
		if err != nil {
			return err
		}
		c.Firewall.Type = sql.Null[ftypes.FirewallType]{V: ft, Valid: true}
	}

	return nil
}

func parseDebounce(value string) (time.Duration, error) {
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("failed parsing watch debounce: %w", err)
	}
	if dur < 0 {
		return 0, fmt.Errorf("invalid watch debounce '%s': must not be negative", value)
	}
	return dur, nil
}

func nullString(s string) sql.Null[string] {
	return sql.Null[string]{V: s, Valid: s != ""}
}
