package service

import (
	"context"
	"database/sql"
	"fmt"

	"go.hackfix.me/wgfence/db/models"
	"go.hackfix.me/wgfence/db/types"
)

// DeviceStatus is the state of a configured exit node.
type DeviceStatus struct {
	Name string
	Up   bool
	// Active is set if the exit node is up and has an IPv4 address, i.e. it
	// can route client traffic.
	Active bool
}

// Devices returns the state of all configured exit nodes, sorted by name.
func (s *Service) Devices() []DeviceStatus {
	disc := s.fw.Discovery()
	names := disc.ListConfigured()
	devices := make([]DeviceStatus, len(names))
	for i, name := range names {
		devices[i] = DeviceStatus{
			Name:   name,
			Up:     disc.IsUp(name),
			Active: disc.IsActive(name),
		}
	}
	return devices
}

// ActiveDevices returns the names of the exit nodes that can currently route
// traffic.
func (s *Service) ActiveDevices() []string {
	return s.fw.Discovery().ListActive()
}

// AddClient stores a new client and refreshes the interface egress routing.
func (s *Service) AddClient(ctx context.Context, client *models.Client) error {
	if err := s.checkDevice(client.EgressDevice); err != nil {
		return err
	}
	if err := client.Save(ctx, s.db, false); err != nil {
		return err
	}
	s.logger.Info("added client", "interface", client.InterfaceID, "client", client.Name)
	s.refreshEgress(ctx, client.InterfaceID)

	return nil
}

// GetClient returns the client with the given ID.
func (s *Service) GetClient(ctx context.Context, id uint64) (*models.Client, error) {
	client := &models.Client{ID: id}
	if err := client.Load(ctx, s.db); err != nil {
		return nil, err
	}
	return client, nil
}

// ListClients returns the clients of an interface ordered by ID.
func (s *Service) ListClients(ctx context.Context, iface string) ([]*models.Client, error) {
	if err := s.checkInterface(ctx, iface); err != nil {
		return nil, err
	}
	return models.Clients(ctx, s.db, types.NewFilter("interface_id = ?", iface))
}

// RemoveClient deletes a client and refreshes the interface egress routing.
func (s *Service) RemoveClient(ctx context.Context, id uint64) error {
	client, err := s.GetClient(ctx, id)
	if err != nil {
		return err
	}
	if err = client.Delete(ctx, s.db); err != nil {
		return err
	}
	s.logger.Info("removed client", "interface", client.InterfaceID, "client", client.Name)
	s.refreshEgress(ctx, client.InterfaceID)

	return nil
}

// SetClientEgress changes the egress routing of a client. An invalid device
// routes the client through the host's default route. A valid device must be
// a configured exit node.
func (s *Service) SetClientEgress(ctx context.Context, id uint64, enabled bool, device sql.Null[string]) (*models.Client, error) {
	if device.V == "" {
		device = sql.Null[string]{}
	}
	if err := s.checkDevice(device); err != nil {
		return nil, err
	}
	client, err := s.GetClient(ctx, id)
	if err != nil {
		return nil, err
	}
	if err = client.SetEgress(ctx, s.db, enabled, device); err != nil {
		return nil, err
	}
	s.logger.Info("set client egress", "interface", client.InterfaceID, "client", client.Name,
		"enabled", enabled, "device", device.V)
	s.refreshEgress(ctx, client.InterfaceID)

	return client, nil
}

// GetEgressConfig returns the egress configuration of an interface, creating
// it with default values if it doesn't exist.
func (s *Service) GetEgressConfig(ctx context.Context, iface string) (*models.EgressConfig, error) {
	if err := s.checkInterface(ctx, iface); err != nil {
		return nil, err
	}
	cfg := &models.EgressConfig{InterfaceID: iface}
	if err := cfg.LoadOrCreate(ctx, s.db); err != nil {
		return nil, err
	}
	return cfg, nil
}

// UpdateEgressConfig applies a partial update to the egress configuration of
// an interface and refreshes its egress routing. If the table name changed,
// the table loaded under the previous name is deleted.
func (s *Service) UpdateEgressConfig(ctx context.Context, iface string, upd models.EgressConfigUpdate) (*models.EgressConfig, error) {
	cfg, err := s.GetEgressConfig(ctx, iface)
	if err != nil {
		return nil, err
	}
	oldTable := cfg.TableName

	if err = cfg.Update(ctx, s.db, upd); err != nil {
		return nil, err
	}
	s.logger.Info("updated egress config", "interface", iface, "enabled", cfg.Enabled)

	if s.apply && oldTable != cfg.TableName {
		if err = s.fw.TeardownTable(oldTable); err != nil {
			s.logger.Warn("failed tearing down previous egress table", "table", oldTable, "error", err)
		}
	}
	s.refreshEgress(ctx, iface)

	return cfg, nil
}

// Reconcile disables egress for clients of the interface whose exit node is
// no longer configured, and returns them.
func (s *Service) Reconcile(ctx context.Context, iface string) ([]*models.Client, error) {
	if err := s.checkInterface(ctx, iface); err != nil {
		return nil, err
	}

	s.egressMu.Lock()
	defer s.egressMu.Unlock()

	return s.fw.ReconcileClients(ctx, s.db, iface) //nolint:wrapcheck // Already descriptive.
}

// SyncEgress compiles the egress routing of the interface, writes or removes
// its scripts, and applies the result. It returns the setup script path, or
// "" if egress is disabled or unused.
func (s *Service) SyncEgress(ctx context.Context, iface string) (string, error) {
	s.egressMu.Lock()
	defer s.egressMu.Unlock()
	defer s.writeMetrics()

	scriptPath, err := s.fw.SyncEgress(ctx, s.db, iface)
	if err != nil {
		return "", fmt.Errorf("failed generating egress scripts: %w", err)
	}
	if !s.apply {
		return scriptPath, nil
	}
	if err = s.fw.ApplyEgress(ctx, iface); err != nil {
		return scriptPath, err
	}

	return scriptPath, nil
}

// RefreshEgress reconciles the clients of the interface with the configured
// exit nodes, then compiles and applies its egress routing. It is run when
// exit node definitions change.
func (s *Service) RefreshEgress(ctx context.Context, iface string) (string, error) {
	cleared, err := s.Reconcile(ctx, iface)
	if err != nil {
		return "", err
	}
	if len(cleared) > 0 {
		s.logger.Info("cleared egress of clients with removed exit nodes",
			"interface", iface, "clients", len(cleared))
	}

	return s.SyncEgress(ctx, iface)
}

// ExitNodeDir returns the directory exit node definitions are read from.
func (s *Service) ExitNodeDir() string {
	return s.fw.Discovery().Dir()
}

// refreshEgress runs SyncEgress after a write, logging any failure.
func (s *Service) refreshEgress(ctx context.Context, iface string) {
	if _, err := s.SyncEgress(ctx, iface); err != nil {
		s.logger.Error("failed refreshing egress routing", "interface", iface, "error", err)
	}
}

func (s *Service) checkDevice(device sql.Null[string]) error {
	if !device.Valid || device.V == "" {
		return nil
	}
	if !s.fw.Discovery().IsConfigured(device.V) {
		return types.InvalidInputError{
			Field: "egress device",
			Msg:   fmt.Sprintf("exit node '%s' is not configured", device.V),
		}
	}
	return nil
}
