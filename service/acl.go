package service

import (
	"context"
	"fmt"

	"go.hackfix.me/wgfence/db/models"
)

// CreateRule stores a new ACL rule and refreshes the interface ACL.
func (s *Service) CreateRule(ctx context.Context, rule *models.ACLRule) error {
	if err := rule.Save(ctx, s.db, false); err != nil {
		return err
	}
	s.logger.Info("created ACL rule", "interface", rule.InterfaceID, "rule_id", rule.ID)
	s.refreshACL(ctx, rule.InterfaceID)

	return nil
}

// GetRule returns the ACL rule with the given ID.
func (s *Service) GetRule(ctx context.Context, id uint64) (*models.ACLRule, error) {
	rule := &models.ACLRule{ID: id}
	if err := rule.Load(ctx, s.db); err != nil {
		return nil, err
	}
	return rule, nil
}

// UpdateRule applies a partial update to an ACL rule and refreshes the
// interface ACL.
func (s *Service) UpdateRule(ctx context.Context, id uint64, upd models.ACLRuleUpdate) (*models.ACLRule, error) {
	rule := &models.ACLRule{ID: id}
	if err := rule.Update(ctx, s.db, upd); err != nil {
		return nil, err
	}
	s.logger.Info("updated ACL rule", "interface", rule.InterfaceID, "rule_id", rule.ID)
	s.refreshACL(ctx, rule.InterfaceID)

	return rule, nil
}

// DeleteRule deletes an ACL rule and refreshes the interface ACL.
func (s *Service) DeleteRule(ctx context.Context, id uint64) error {
	rule := &models.ACLRule{ID: id}
	if err := rule.Load(ctx, s.db); err != nil {
		return err
	}
	if err := rule.Delete(ctx, s.db); err != nil {
		return err
	}
	s.logger.Info("deleted ACL rule", "interface", rule.InterfaceID, "rule_id", rule.ID)
	s.refreshACL(ctx, rule.InterfaceID)

	return nil
}

// ListRules returns the ACL rules of an interface ordered by ID.
func (s *Service) ListRules(ctx context.Context, iface string, enabledOnly bool) ([]*models.ACLRule, error) {
	if err := s.checkInterface(ctx, iface); err != nil {
		return nil, err
	}
	return models.InterfaceACLRules(ctx, s.db, iface, enabledOnly)
}

// GetACLConfig returns the ACL configuration of an interface, creating it
// with default values if it doesn't exist.
func (s *Service) GetACLConfig(ctx context.Context, iface string) (*models.ACLConfig, error) {
	if err := s.checkInterface(ctx, iface); err != nil {
		return nil, err
	}
	cfg := &models.ACLConfig{InterfaceID: iface}
	if err := cfg.LoadOrCreate(ctx, s.db); err != nil {
		return nil, err
	}
	return cfg, nil
}

// UpdateACLConfig applies a partial update to the ACL configuration of an
// interface and refreshes its ACL. If the table name changed, the table
// loaded under the previous name is deleted.
func (s *Service) UpdateACLConfig(ctx context.Context, iface string, upd models.ACLConfigUpdate) (*models.ACLConfig, error) {
	cfg, err := s.GetACLConfig(ctx, iface)
	if err != nil {
		return nil, err
	}
	oldTable := cfg.FilterTableName

	if err = cfg.Update(ctx, s.db, upd); err != nil {
		return nil, err
	}
	s.logger.Info("updated ACL config", "interface", iface, "enabled", cfg.Enabled)

	if s.apply && oldTable != cfg.FilterTableName {
		if err = s.fw.TeardownTable(oldTable); err != nil {
			s.logger.Warn("failed tearing down previous ACL table", "table", oldTable, "error", err)
		}
	}
	s.refreshACL(ctx, iface)

	return cfg, nil
}

// SyncACL compiles the ACL of the interface, writes or removes its scripts,
// and applies the result. It returns the setup script path, or "" if ACL is
// disabled.
func (s *Service) SyncACL(ctx context.Context, iface string) (string, error) {
	s.aclMu.Lock()
	defer s.aclMu.Unlock()
	defer s.writeMetrics()

	scriptPath, err := s.fw.SyncACL(ctx, s.db, iface)
	if err != nil {
		return "", fmt.Errorf("failed generating ACL scripts: %w", err)
	}
	if !s.apply {
		return scriptPath, nil
	}
	if err = s.fw.ApplyACL(ctx, s.db, iface); err != nil {
		return scriptPath, err
	}

	return scriptPath, nil
}

// refreshACL runs SyncACL after a write, logging any failure.
func (s *Service) refreshACL(ctx context.Context, iface string) {
	if _, err := s.SyncACL(ctx, iface); err != nil {
		s.logger.Error("failed refreshing ACL", "interface", iface, "error", err)
	}
}

func (s *Service) checkInterface(ctx context.Context, name string) error {
	return (&models.Interface{Name: name}).Load(ctx, s.db)
}
