// Package types defines the Firewall interface used to inspect and delete the
// nftables tables that generated scripts load, and the supported backend
// types. The manager and the CLI depend on it rather than on a concrete
// backend.
package types
