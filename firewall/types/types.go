package types

import (
	"fmt"

	"go.hackfix.me/wgfence/firewall/nft"
)

// FirewallType are the supported firewall implementations.
type FirewallType string

// All supported firewall implementations.
const (
	FirewallMock     FirewallType = "mock"
	FirewallNFTables FirewallType = "nftables"
)

// FirewallTypeFromString returns a valid FirewallType for the given string, or
// an error if the value is invalid.
func FirewallTypeFromString(val string) (FirewallType, error) {
	switch FirewallType(val) {
	case FirewallMock:
		return FirewallMock, nil
	case FirewallNFTables:
		return FirewallNFTables, nil
	}
	return "", fmt.Errorf("unsupported firewall type '%s'", val)
}

// Firewall is the interface for inspecting and removing kernel ruleset
// tables. Rulesets themselves are loaded by the generated scripts.
type Firewall interface {
	// TableExists returns true if the table is currently loaded.
	TableExists(family nft.Family, name string) (bool, error)

	// DeleteTable removes the table with all its sets and chains. It is not an
	// error if the table doesn't exist.
	DeleteTable(family nft.Family, name string) error
}
