// Package mock is an in-memory firewall used in tests and dry runs.
package mock

import (
	"log/slog"
	"sync"

	"go.hackfix.me/wgfence/firewall/nft"
	ftypes "go.hackfix.me/wgfence/firewall/types"
)

// Mock keeps track of loaded tables in memory.
type Mock struct {
	mu      sync.Mutex
	tables  map[string]bool
	failErr error // to simulate errors
	logger  *slog.Logger
}

var _ ftypes.Firewall = (*Mock)(nil)

// New returns a new Mock instance without any tables.
func New(logger *slog.Logger) *Mock {
	return &Mock{
		tables: make(map[string]bool),
		logger: logger.With("type", "mock"),
	}
}

func key(family nft.Family, name string) string {
	return string(family) + " " + name
}

// AddTable marks a table as loaded, as if a setup script had run.
func (m *Mock) AddTable(family nft.Family, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[key(family, name)] = true
}

// TableExists implements ftypes.Firewall.
func (m *Mock) TableExists(family nft.Family, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return false, m.failErr
	}
	return m.tables[key(family, name)], nil
}

// DeleteTable implements ftypes.Firewall.
func (m *Mock) DeleteTable(family nft.Family, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	if m.tables[key(family, name)] {
		m.logger.Debug("deleted table", "family", family, "name", name)
	}
	delete(m.tables, key(family, name))
	return nil
}

// SetFailError makes every subsequent call return err.
func (m *Mock) SetFailError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}
