package firewall

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"go.hackfix.me/wgfence/db/models"
	"go.hackfix.me/wgfence/firewall/nft"
)

// Scripts are the compiled setup and cleanup scripts of a feature. Both are
// empty when the feature has nothing to apply, in which case any previously
// written files should be removed.
type Scripts struct {
	Setup   string
	Cleanup string
}

// Empty returns true if there is nothing to apply.
func (s Scripts) Empty() bool {
	return s.Setup == ""
}

// privateIPv4Ranges are reserved ranges excluded from public egress.
var privateIPv4Ranges = []string{
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"100.64.0.0/10",
	"169.254.0.0/16",
}

// CompileACL renders the ACL ruleset of an interface. If the config is
// disabled, empty Scripts are returned. Otherwise the forward chain applies
// the default policy to everything not matched by the enabled rules, which
// are grouped by (source, destination, protocol) so that each TCP/UDP group
// shares a single port set and accept line.
//
// The output only depends on its arguments, so compiling the same state twice
// yields identical scripts.
func CompileACL(iface *models.Interface, cfg *models.ACLConfig, rules []*models.ACLRule) (Scripts, error) {
	if !cfg.Enabled {
		return Scripts{}, nil
	}
	if err := models.ValidateInterfaceName(iface.Name); err != nil {
		return Scripts{}, err
	}

	tbl := nft.NewTable(nft.FamilyIP, cfg.FilterTableName)
	fwd := &nft.Chain{
		Name:   "forward",
		Type:   nft.ChainTypeFilter,
		Hook:   nft.HookForward,
		Policy: string(cfg.DefaultPolicy),
	}

	ifName := nft.Quote(iface.Name)
	fwd.Add("ct state established,related accept", "")
	fwd.Add(fmt.Sprintf("iifname %s oifname != %s accept", ifName, ifName), "Allow egress traffic")
	if cfg.AllowPublicEgress {
		fwd.Add(fmt.Sprintf("iifname %s oifname %s ip daddr != @private_ipv4 accept", ifName, ifName),
			"Allow public egress")
	}

	for _, g := range groupRules(rules) {
		first := g.rules[0]
		match := fmt.Sprintf("iifname %s oifname %s ip saddr %s ip daddr %s",
			ifName, ifName, first.SourceCIDR, first.DestinationCIDR)

		if first.Protocol == models.ProtocolICMP {
			fwd.Add(match+" ip protocol icmp accept", first.Label("ACL rule"))
			continue
		}

		elems, interval, err := portSetElements(g.rules)
		if err != nil {
			return Scripts{}, err
		}
		set := tbl.AddSet(&nft.Set{
			Name:     nft.SetName("ports", g.key),
			Type:     nft.SetTypeInetService,
			Interval: interval,
			Elements: elems,
		})

		labels := make([]string, 0, len(g.rules))
		for _, r := range g.rules {
			labels = append(labels, r.Label("Rule"))
		}
		fwd.Add(fmt.Sprintf("%s %s dport @%s accept", match, first.Protocol, set.Name),
			strings.Join(labels, ", "))
	}

	if cfg.AllowPublicEgress {
		elems, err := CoalescePrefixes(privateIPv4Ranges...)
		if err != nil {
			return Scripts{}, err
		}
		tbl.AddSet(&nft.Set{
			Name:     "private_ipv4",
			Type:     nft.SetTypeIPv4Addr,
			Interval: true,
			Elements: elems,
		})
	}
	tbl.AddChain(fwd)

	setup := newScript()
	setup.deleteTable(tbl)
	if err := setup.load(tbl, false); err != nil {
		return Scripts{}, err
	}

	cleanup := newScript()
	cleanup.deleteTable(tbl)

	return Scripts{Setup: setup.String(), Cleanup: cleanup.String()}, nil
}

type ruleGroup struct {
	key   string
	rules []*models.ACLRule
}

// groupRules groups enabled rules by (source, destination, protocol), in
// order of first appearance.
func groupRules(rules []*models.ACLRule) []*ruleGroup {
	var (
		groups []*ruleGroup
		byKey  = map[string]*ruleGroup{}
	)
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		key := fmt.Sprintf("%s_%s_%s", r.SourceCIDR, r.DestinationCIDR, r.Protocol)
		g, ok := byKey[key]
		if !ok {
			g = &ruleGroup{key: key}
			byKey[key] = g
			groups = append(groups, g)
		}
		g.rules = append(g.rules, r)
	}
	return groups
}

// portSetElements returns the union of the port tokens of all rules, and
// whether the set needs interval matching. When it does, overlapping and
// adjacent entries are merged, since nft rejects overlapping intervals.
func portSetElements(rules []*models.ACLRule) ([]string, bool, error) {
	var (
		tokens   []string
		seen     = map[string]bool{}
		interval bool
	)
	for _, r := range rules {
		rt, err := models.ParsePorts(r.Ports)
		if err != nil {
			return nil, false, fmt.Errorf("rule %d: %w", r.ID, err)
		}
		for _, t := range rt {
			if strings.Contains(t, "-") {
				interval = true
			}
			if !seen[t] {
				seen[t] = true
				tokens = append(tokens, t)
			}
		}
	}

	if interval {
		tokens = mergePortRanges(tokens)
	}

	return tokens, interval, nil
}

type portRange struct{ lo, hi int }

// mergePortRanges expects tokens already validated by models.ParsePorts.
func mergePortRanges(tokens []string) []string {
	ranges := make([]portRange, 0, len(tokens))
	for _, t := range tokens {
		lo, hi, found := strings.Cut(t, "-")
		l, _ := strconv.Atoi(lo)
		h := l
		if found {
			h, _ = strconv.Atoi(hi)
		}
		ranges = append(ranges, portRange{lo: l, hi: h})
	}
	slices.SortFunc(ranges, func(a, b portRange) int {
		return cmp.Or(cmp.Compare(a.lo, b.lo), cmp.Compare(a.hi, b.hi))
	})

	merged := []portRange{ranges[0]}
	for _, r := range ranges[1:] {
		last := &merged[len(merged)-1]
		if r.lo <= last.hi+1 {
			last.hi = max(last.hi, r.hi)
			continue
		}
		merged = append(merged, r)
	}

	out := make([]string, 0, len(merged))
	for _, r := range merged {
		if r.lo == r.hi {
			out = append(out, strconv.Itoa(r.lo))
		} else {
			out = append(out, fmt.Sprintf("%d-%d", r.lo, r.hi))
		}
	}
	return out
}
