// Package service orchestrates changes to the stored ACL and egress state,
// and keeps the generated scripts and the host in sync with them.
//
// Every write is followed by a compile-then-apply pass of the affected
// feature. Failures of that pass are logged and recorded in metrics, but
// never fail the write that triggered it: the stored state is the source of
// truth, and the next successful pass converges the host to it.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.hackfix.me/wgfence/db/models"
	"go.hackfix.me/wgfence/db/types"
	"go.hackfix.me/wgfence/firewall"
)

// Service exposes the ACL, egress and interface operations.
type Service struct {
	db          types.Querier
	fw          *firewall.Manager
	apply       bool
	metricsFile string
	logger      *slog.Logger

	// Compile-then-apply sequences are serialized per feature.
	aclMu    sync.Mutex
	egressMu sync.Mutex
}

// New returns a new Service.
func New(d types.Querier, fw *firewall.Manager, opts ...Option) (*Service, error) {
	if d == nil {
		return nil, errors.New("database is required")
	}
	if fw == nil {
		return nil, errors.New("firewall manager is required")
	}

	s := &Service{db: d, fw: fw, apply: true, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// AddInterface stores a new interface.
func (s *Service) AddInterface(ctx context.Context, iface *models.Interface) error {
	return iface.Save(ctx, s.db, false)
}

// InterfaceInfo is an interface with the number of its rules and clients.
type InterfaceInfo struct {
	*models.Interface
	Rules   int
	Clients int
}

// ListInterfaces returns all interfaces ordered by name.
func (s *Service) ListInterfaces(ctx context.Context) ([]InterfaceInfo, error) {
	ifaces, err := models.Interfaces(ctx, s.db, nil)
	if err != nil {
		return nil, err
	}

	infos := make([]InterfaceInfo, len(ifaces))
	for i, iface := range ifaces {
		rules, clients, err := iface.Counts(ctx, s.db)
		if err != nil {
			return nil, err
		}
		infos[i] = InterfaceInfo{Interface: iface, Rules: rules, Clients: clients}
	}

	return infos, nil
}

// RemoveInterface tears down everything applied for the interface, removes
// the generated scripts, and deletes the interface with all of its rules,
// clients and configuration.
func (s *Service) RemoveInterface(ctx context.Context, name string) error {
	iface := &models.Interface{Name: name}
	if err := iface.Load(ctx, s.db); err != nil {
		return err
	}

	s.aclMu.Lock()
	defer s.aclMu.Unlock()
	s.egressMu.Lock()
	defer s.egressMu.Unlock()

	if s.apply {
		if err := s.fw.Teardown(ctx, s.db, name); err != nil {
			s.logger.Warn("failed tearing down interface rules", "interface", name, "error", err)
		}
	}
	if err := s.fw.RemoveScripts(name); err != nil {
		s.logger.Warn("failed removing scripts", "interface", name, "error", err)
	}

	return iface.Delete(ctx, s.db)
}

// Hooks compiles both features of the interface and returns the commands its
// PostUp and PreDown hooks should run. Nothing is applied.
func (s *Service) Hooks(ctx context.Context, iface string) (firewall.Hooks, error) {
	s.aclMu.Lock()
	defer s.aclMu.Unlock()
	s.egressMu.Lock()
	defer s.egressMu.Unlock()

	defer s.writeMetrics()

	return s.fw.Hooks(ctx, s.db, iface) //nolint:wrapcheck // Already descriptive.
}

// Apply compiles and applies both features of the interface. Egress client
// assignments are reconciled first.
func (s *Service) Apply(ctx context.Context, iface string) error {
	if _, err := s.Reconcile(ctx, iface); err != nil {
		return err
	}
	if _, err := s.SyncACL(ctx, iface); err != nil {
		return err
	}
	if _, err := s.SyncEgress(ctx, iface); err != nil {
		return err
	}
	return nil
}

// Teardown removes the rules and policy routing applied for the interface.
// The stored state and the scripts are left as they are, so a later Apply
// restores them.
func (s *Service) Teardown(ctx context.Context, iface string) error {
	s.aclMu.Lock()
	defer s.aclMu.Unlock()
	s.egressMu.Lock()
	defer s.egressMu.Unlock()

	if err := s.fw.Teardown(ctx, s.db, iface); err != nil {
		return fmt.Errorf("failed tearing down %s: %w", iface, err)
	}
	s.logger.Info("tore down rules", "interface", iface)

	return nil
}

func (s *Service) writeMetrics() {
	if err := s.fw.WriteMetrics(s.metricsFile); err != nil {
		s.logger.Warn("failed exporting metrics", "error", err)
	}
}
