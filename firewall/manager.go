package firewall

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/mandelsoft/vfs/pkg/vfs"

	"go.hackfix.me/wgfence/db/models"
	"go.hackfix.me/wgfence/db/types"
	"go.hackfix.me/wgfence/device"
	"go.hackfix.me/wgfence/firewall/mock"
	"go.hackfix.me/wgfence/firewall/nft"
	"go.hackfix.me/wgfence/firewall/nftables"
	ftypes "go.hackfix.me/wgfence/firewall/types"
	"go.hackfix.me/wgfence/host"
	"go.hackfix.me/wgfence/metrics"
)

// Paths are the locations of the generated scripts of an interface.
type Paths struct {
	ACLSetup      string
	ACLCleanup    string
	EgressSetup   string
	EgressCleanup string
}

// ScriptPaths returns the script paths of the interface within the
// WireGuard directory, e.g. /etc/wireguard/wg0-acl-setup.sh.
func ScriptPaths(wgDir, ifaceName string) Paths {
	return Paths{
		ACLSetup:      path.Join(wgDir, ifaceName+"-acl-setup.sh"),
		ACLCleanup:    path.Join(wgDir, ifaceName+"-acl-cleanup.sh"),
		EgressSetup:   path.Join(wgDir, ifaceName+"-egress-setup.sh"),
		EgressCleanup: path.Join(wgDir, ifaceName+"-egress-cleanup.sh"),
	}
}

// Manager compiles the ACL and egress scripts of interfaces from the stored
// state, keeps the script files in sync with it, and applies them.
type Manager struct {
	firewall      ftypes.Firewall
	fs            vfs.FileSystem
	runner        host.Runner
	inspector     device.Inspector
	wgDir         string
	exitNodeDir   string
	customExitDir bool
	allocator     Allocator
	metrics       *metrics.Registry
	timeNow       func() time.Time
	logger        *slog.Logger

	applier   *Applier
	discovery *device.Discovery
}

// NewManager returns a new Manager instance.
func NewManager(firewall ftypes.Firewall, opts ...Option) (*Manager, error) {
	if firewall == nil {
		return nil, errors.New("firewall implementation is required")
	}

	m := &Manager{firewall: firewall}

	opts = append(DefaultOptions(), opts...)
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}

	if m.fs == nil {
		return nil, errors.New("filesystem is required")
	}

	m.applier = NewApplier(m.fs, m.runner, m.firewall, m.logger)
	m.discovery = device.New(m.fs, m.exitNodeDir, m.inspector, m.logger)

	return m, nil
}

// Paths returns the script locations of the interface.
func (m *Manager) Paths(ifaceName string) Paths {
	return ScriptPaths(m.wgDir, ifaceName)
}

// Discovery returns the uplink discovery used by the Manager.
func (m *Manager) Discovery() *device.Discovery {
	return m.discovery
}

// Hooks are the commands the WireGuard interface lifecycle should run.
type Hooks struct {
	PostUp  []string
	PreDown []string
}

// SyncACL compiles the ACL of the interface and writes the scripts. It
// returns the setup script path, or "" if ACL is disabled, in which case the
// ACL table is torn down and any previous scripts are removed.
func (m *Manager) SyncACL(ctx context.Context, d types.Querier, ifaceName string) (string, error) {
	logger := m.logger.With("interface", ifaceName, "feature", metrics.FeatureACL)

	scriptPath, err := m.syncACL(ctx, d, ifaceName, logger)
	if err != nil {
		m.metrics.ObserveCompilation(ifaceName, metrics.FeatureACL, metrics.OutcomeError)
		return "", err
	}
	outcome := metrics.OutcomeWritten
	if scriptPath == "" {
		outcome = metrics.OutcomeRemoved
	}
	m.metrics.ObserveCompilation(ifaceName, metrics.FeatureACL, outcome)

	return scriptPath, nil
}

func (m *Manager) syncACL(ctx context.Context, d types.Querier, ifaceName string, logger *slog.Logger) (string, error) {
	iface := &models.Interface{Name: ifaceName}
	if err := iface.Load(ctx, d); err != nil {
		return "", err
	}
	cfg := &models.ACLConfig{InterfaceID: ifaceName}
	if err := cfg.LoadOrCreate(ctx, d); err != nil {
		return "", err
	}

	paths := m.Paths(ifaceName)
	if !cfg.Enabled {
		logger.Debug("ACL disabled, removing scripts and rules")
		if err := m.applier.TeardownTable(nft.FamilyIP, cfg.FilterTableName); err != nil {
			// The table may not be loaded, or nftables unavailable; the files
			// still need to go.
			logger.Warn("failed tearing down ACL table", "error", err)
		}
		return "", m.removeScripts(paths.ACLSetup, paths.ACLCleanup)
	}

	rules, err := models.InterfaceACLRules(ctx, d, ifaceName, true)
	if err != nil {
		return "", err
	}
	if len(rules) == 0 {
		logger.Debug("no ACL rules found, generating default policy script")
	} else {
		logger.Debug("generating ACL script", "rules", len(rules))
	}

	scripts, err := CompileACL(iface, cfg, rules)
	if err != nil {
		return "", fmt.Errorf("failed compiling ACL of %s: %w", ifaceName, err)
	}

	if err = m.applier.Reconcile(paths.ACLSetup, scripts.Setup, cfg.Enabled); err != nil {
		return "", err
	}
	if err = m.applier.Reconcile(paths.ACLCleanup, scripts.Cleanup, cfg.Enabled); err != nil {
		return "", err
	}
	logger.Info("wrote ACL scripts", "path", paths.ACLSetup)

	return paths.ACLSetup, nil
}

// ApplyACL runs the ACL setup script. If there is none, ACL is disabled, so
// the ACL table is deleted instead.
func (m *Manager) ApplyACL(ctx context.Context, d types.Querier, ifaceName string) error {
	ran, err := m.applier.Run(ctx, m.Paths(ifaceName).ACLSetup)
	if err == nil && !ran {
		cfg := &models.ACLConfig{InterfaceID: ifaceName}
		if err = cfg.LoadOrCreate(ctx, d); err == nil {
			m.logger.Debug("ACL script not found, cleaning up any existing rules", "interface", ifaceName)
			err = m.applier.TeardownTable(nft.FamilyIP, cfg.FilterTableName)
		}
	}
	m.metrics.ObserveApply(ifaceName, metrics.FeatureACL, float64(m.timeNow().Unix()), err)
	if err != nil {
		return fmt.Errorf("failed applying ACL rules of %s: %w", ifaceName, err)
	}
	if ran {
		m.logger.Info("applied ACL rules", "interface", ifaceName)
	}

	return nil
}

// SyncEgress compiles the egress routing of the interface and writes the
// scripts, bringing up the assigned uplinks first. It returns the setup
// script path, or "" if egress is disabled or no client uses it.
func (m *Manager) SyncEgress(ctx context.Context, d types.Querier, ifaceName string) (string, error) {
	logger := m.logger.With("interface", ifaceName, "feature", metrics.FeatureEgress)

	scriptPath, err := m.syncEgress(ctx, d, ifaceName, logger)
	if err != nil {
		m.metrics.ObserveCompilation(ifaceName, metrics.FeatureEgress, metrics.OutcomeError)
		return "", err
	}
	outcome := metrics.OutcomeWritten
	if scriptPath == "" {
		outcome = metrics.OutcomeRemoved
	}
	m.metrics.ObserveCompilation(ifaceName, metrics.FeatureEgress, outcome)

	return scriptPath, nil
}

func (m *Manager) syncEgress(ctx context.Context, d types.Querier, ifaceName string, logger *slog.Logger) (string, error) {
	iface := &models.Interface{Name: ifaceName}
	if err := iface.Load(ctx, d); err != nil {
		return "", err
	}
	cfg := &models.EgressConfig{InterfaceID: ifaceName}
	if err := cfg.LoadOrCreate(ctx, d); err != nil {
		return "", err
	}

	clients, err := models.Clients(ctx, d, types.NewFilter("interface_id = ?", ifaceName))
	if err != nil {
		return "", err
	}
	groups, invalid := GroupByUplink(clients)
	for _, c := range invalid {
		logger.Warn("skipping client with invalid IPv4 address", "client", c.Name, "client_id", c.ID)
	}

	paths := m.Paths(ifaceName)
	if !cfg.Enabled || len(groups) == 0 {
		if !cfg.Enabled {
			logger.Debug("egress disabled, removing scripts")
		} else {
			logger.Debug("no clients with egress routing enabled, removing scripts")
		}
		m.teardownEgress(ctx, paths, cfg, logger)
		m.metrics.SetEgressGroups(ifaceName, 0, nil)
		return "", m.removeScripts(paths.EgressSetup, paths.EgressCleanup)
	}

	m.allocator.AllocateGroups(groups)

	var (
		active  int
		members = make(map[string]int, len(groups))
	)
	for _, g := range groups {
		members[g.Uplink] = len(g.Members)
		if g.IsDefault() {
			continue
		}
		if !m.discovery.IsConfigured(g.Uplink) {
			logger.Warn("exit node definition not found, excluding its clients",
				"uplink", g.Uplink, "path", m.discovery.ConfigPath(g.Uplink))
			g.Missing = true
			continue
		}
		m.bringUp(ctx, g.Uplink, logger)
		if m.discovery.IsActive(g.Uplink) {
			active++
		}
	}
	m.metrics.SetEgressGroups(ifaceName, active, members)

	scripts, err := CompileEgress(iface, cfg, groups)
	if err != nil {
		return "", fmt.Errorf("failed compiling egress routing of %s: %w", ifaceName, err)
	}
	if scripts.Empty() {
		return "", m.removeScripts(paths.EgressSetup, paths.EgressCleanup)
	}

	if err = m.applier.Write(paths.EgressSetup, scripts.Setup); err != nil {
		return "", err
	}
	if err = m.applier.Write(paths.EgressCleanup, scripts.Cleanup); err != nil {
		return "", err
	}
	logger.Info("wrote egress scripts", "path", paths.EgressSetup, "groups", len(groups))

	return paths.EgressSetup, nil
}

// bringUp starts an uplink with wg-quick if it isn't up yet. Failures are
// logged and left for the setup script's runtime check.
func (m *Manager) bringUp(ctx context.Context, uplink string, logger *slog.Logger) {
	logger = logger.With("uplink", uplink)
	if m.discovery.IsUp(uplink) {
		logger.Debug("exit node already up")
		return
	}

	logger.Debug("bringing up exit node")
	if _, err := m.runner.Run(ctx, "wg-quick", "up", m.discovery.ConfigPath(uplink)); err != nil {
		logger.Warn("failed bringing up exit node", "error", err)
		return
	}
	logger.Info("brought up exit node")
}

// teardownEgress undoes a previously applied egress setup: it runs the
// existing cleanup script, which also removes policy routing, or deletes the
// NAT table if there is none.
func (m *Manager) teardownEgress(ctx context.Context, paths Paths, cfg *models.EgressConfig, logger *slog.Logger) {
	ran, err := m.applier.Run(ctx, paths.EgressCleanup)
	if err != nil {
		logger.Warn("failed running egress cleanup script", "error", err)
	}
	if ran {
		return
	}
	if err = m.applier.TeardownTable(nft.FamilyIP, cfg.TableName); err != nil {
		logger.Warn("failed tearing down egress table", "error", err)
	}
}

// ApplyEgress runs the egress setup script, if there is one.
func (m *Manager) ApplyEgress(ctx context.Context, ifaceName string) error {
	ran, err := m.applier.Run(ctx, m.Paths(ifaceName).EgressSetup)
	m.metrics.ObserveApply(ifaceName, metrics.FeatureEgress, float64(m.timeNow().Unix()), err)
	if err != nil {
		return fmt.Errorf("failed applying egress rules of %s: %w", ifaceName, err)
	}
	if ran {
		m.logger.Info("applied egress rules", "interface", ifaceName)
	} else {
		m.logger.Debug("egress script not found, nothing to apply", "interface", ifaceName)
	}

	return nil
}

// ReconcileClients disables egress for clients of the interface whose exit
// node definition no longer exists. A failed client update is logged and
// doesn't stop the remaining ones. It returns the corrected clients.
func (m *Manager) ReconcileClients(ctx context.Context, d types.Querier, ifaceName string) ([]*models.Client, error) {
	logger := m.logger.With("interface", ifaceName)
	logger.Debug("validating client egress device assignments")

	configured := map[string]bool{}
	for _, name := range m.discovery.ListConfigured() {
		configured[name] = true
	}

	clients, err := models.Clients(ctx, d, types.NewFilter("interface_id = ?", ifaceName))
	if err != nil {
		return nil, err
	}

	var cleared []*models.Client
	for _, c := range clients {
		if !c.EgressEnabled || !c.EgressDevice.Valid || c.EgressDevice.V == "" {
			continue
		}
		if configured[c.EgressDevice.V] {
			continue
		}

		clogger := logger.With("client", c.Name, "client_id", c.ID, "uplink", c.EgressDevice.V)
		clogger.Warn("client references missing exit node, disabling egress")
		if err = c.ClearEgress(ctx, d); err != nil {
			clogger.Error("failed disabling egress for client", "error", err)
			continue
		}
		cleared = append(cleared, c)
	}

	return cleared, nil
}

// Teardown removes everything applied for the interface, by running the
// cleanup scripts or deleting the tables directly if they don't exist.
func (m *Manager) Teardown(ctx context.Context, d types.Querier, ifaceName string) error {
	aclCfg := &models.ACLConfig{InterfaceID: ifaceName}
	if err := aclCfg.LoadOrCreate(ctx, d); err != nil {
		return err
	}
	egressCfg := &models.EgressConfig{InterfaceID: ifaceName}
	if err := egressCfg.LoadOrCreate(ctx, d); err != nil {
		return err
	}

	paths := m.Paths(ifaceName)
	var errs []error
	for _, t := range []struct {
		script string
		table  string
	}{
		{paths.ACLCleanup, aclCfg.FilterTableName},
		{paths.EgressCleanup, egressCfg.TableName},
	} {
		ran, err := m.applier.Run(ctx, t.script)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ran {
			if err = m.applier.TeardownTable(nft.FamilyIP, t.table); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}

// Hooks syncs both features and returns the commands the interface's
// PostUp and PreDown hooks should run.
func (m *Manager) Hooks(ctx context.Context, d types.Querier, ifaceName string) (Hooks, error) {
	var hooks Hooks

	aclPath, err := m.SyncACL(ctx, d, ifaceName)
	if err != nil {
		return hooks, err
	}
	egressPath, err := m.SyncEgress(ctx, d, ifaceName)
	if err != nil {
		return hooks, err
	}

	paths := m.Paths(ifaceName)
	if aclPath != "" {
		hooks.PostUp = append(hooks.PostUp, aclPath)
		hooks.PreDown = append(hooks.PreDown, paths.ACLCleanup)
	}
	if egressPath != "" {
		hooks.PostUp = append(hooks.PostUp, egressPath)
		hooks.PreDown = append(hooks.PreDown, paths.EgressCleanup)
	}

	return hooks, nil
}

// TeardownTable deletes an nftables table loaded by a previous setup, e.g.
// after the configured table name changed.
func (m *Manager) TeardownTable(name string) error {
	return m.applier.TeardownTable(nft.FamilyIP, name)
}

// RemoveScripts deletes all generated scripts of the interface.
func (m *Manager) RemoveScripts(ifaceName string) error {
	paths := m.Paths(ifaceName)
	return m.removeScripts(paths.ACLSetup, paths.ACLCleanup, paths.EgressSetup, paths.EgressCleanup)
}

// WriteMetrics exports the metrics to a textfile, if a path is set.
func (m *Manager) WriteMetrics(path string) error {
	return m.metrics.WriteTextfile(path)
}

func (m *Manager) removeScripts(paths ...string) error {
	var errs []error
	for _, p := range paths {
		if err := m.applier.Remove(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Setup creates a new Firewall with the given type and a Manager for it.
//
//nolint:ireturn // Intentional, this is a generic function.
func Setup(ft ftypes.FirewallType, logger *slog.Logger, opts ...Option) (ftypes.Firewall, *Manager, error) {
	var (
		fw  ftypes.Firewall
		err error
	)
	switch ft {
	case ftypes.FirewallMock:
		fw = mock.New(logger)
	case ftypes.FirewallNFTables:
		fw, err = nftables.New(logger)
	default:
		return nil, nil, fmt.Errorf("unsupported firewall type '%s'", ft)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed creating %s firewall: %w", ft, err)
	}

	opts = append([]Option{WithLogger(logger)}, opts...)
	fwMgr, err := NewManager(fw, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed creating the firewall manager: %w", err)
	}

	return fw, fwMgr, nil
}
