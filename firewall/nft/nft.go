// Package nft models an nftables ruleset as a small typed document, and
// renders it to the text syntax accepted by `nft -f`.
//
// A document is a table holding ordered sets and ordered chains, each chain
// holding ordered rules. Chains without a hook render without a type line, so
// a table can also be rendered as a fragment that adds sets and rules to an
// already declared table.
package nft

import (
	"fmt"
	"regexp"
	"strings"
)

// Family is an nftables address family.
type Family string

// Supported families.
const (
	FamilyIP   Family = "ip"
	FamilyINet Family = "inet"
)

// ChainType is the type of a base chain.
type ChainType string

// Supported chain types.
const (
	ChainTypeFilter ChainType = "filter"
	ChainTypeNAT    ChainType = "nat"
)

// Hook is the netfilter hook a base chain is attached to.
type Hook string

// Supported hooks.
const (
	HookPrerouting  Hook = "prerouting"
	HookForward     Hook = "forward"
	HookPostrouting Hook = "postrouting"
)

// SetType is the data type of set elements.
type SetType string

// Supported set types.
const (
	SetTypeIPv4Addr    SetType = "ipv4_addr"
	SetTypeInetService SetType = "inet_service"
)

// Table is an nftables table.
type Table struct {
	Family Family
	Name   string
	Sets   []*Set
	Chains []*Chain
}

// NewTable returns an empty table.
func NewTable(family Family, name string) *Table {
	return &Table{Family: family, Name: name}
}

// AddSet appends a set to the table and returns it.
func (t *Table) AddSet(set *Set) *Set {
	t.Sets = append(t.Sets, set)
	return set
}

// AddChain appends a chain to the table and returns it.
func (t *Table) AddChain(chain *Chain) *Chain {
	t.Chains = append(t.Chains, chain)
	return chain
}

// Chain returns the chain with the given name, appending a regular chain if
// it doesn't exist yet.
func (t *Table) Chain(name string) *Chain {
	for _, c := range t.Chains {
		if c.Name == name {
			return c
		}
	}
	return t.AddChain(&Chain{Name: name})
}

// Set is a named nftables set.
type Set struct {
	Name     string
	Type     SetType
	Interval bool
	Elements []string
}

// Chain is an nftables chain. Base chains have a Hook; regular chains, or
// chains in a fragment, don't.
type Chain struct {
	Name     string
	Type     ChainType
	Hook     Hook
	Priority int
	// Policy is only rendered for base chains. Empty means the kernel default.
	Policy string
	Rules  []Rule
}

// Add appends a rule to the chain. The comment is optional.
func (c *Chain) Add(expr, comment string) {
	c.Rules = append(c.Rules, Rule{Expr: expr, Comment: comment})
}

// Rule is a single chain statement.
type Rule struct {
	Expr    string
	Comment string
}

var (
	identifierRx = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
	elementRx    = regexp.MustCompile(`^[0-9a-fA-F.:/-]+$`)
	nameCharRx   = regexp.MustCompile(`[^a-zA-Z0-9_]`)
)

// maxCommentLen is the longest comment nftables accepts.
const maxCommentLen = 128

// SetName builds a set identifier from a prefix and a free-form key, replacing
// every character that isn't allowed in an identifier with '_'.
// E.g. SetName("ports", "10.0.0.0/24_any_tcp") returns "ports_10_0_0_0_24_any_tcp".
func SetName(prefix, key string) string {
	return prefix + "_" + nameCharRx.ReplaceAllString(key, "_")
}

// Quote returns s as a double-quoted nftables string, e.g. for interface
// names.
func Quote(s string) string {
	return fmt.Sprintf("%q", s)
}

// Comment sanitizes free text for use as a rule comment. Quotes, shell
// expansion characters and control characters are removed, and the result is
// truncated to the maximum comment length.
func Comment(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == '"':
			b.WriteRune('\'')
		case r == '\\' || r == '$' || r == '`':
		case r < 0x20 || r == 0x7f:
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}

	out := strings.TrimSpace(b.String())
	if len(out) <= maxCommentLen {
		return out
	}
	// Truncate on a rune boundary.
	cut := 0
	for i := range out {
		if i > maxCommentLen {
			break
		}
		cut = i
	}
	return out[:cut]
}
