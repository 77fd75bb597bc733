package firewall

import (
	"fmt"
	"strings"

	"go.hackfix.me/wgfence/db/models"
	"go.hackfix.me/wgfence/firewall/nft"
)

// Egress chain priorities. Marking happens right after conntrack and before
// routing, forwarding runs after the ACL filter table.
const (
	egressPreroutingPriority  = -149
	egressForwardPriority     = 1
	egressPostroutingPriority = 101
)

// CompileEgress renders the egress routing scripts of an interface for
// already grouped and allocated clients.
//
// Every name, mark, table and address is resolved here, so the setup script
// only contains static statements. The only values resolved when the script
// runs are whether each uplink is up and addressed, and the host's default
// route interface, since both can change between compilation and execution.
// An uplink that fails its runtime check is neither routed nor marked, so its
// clients fall back to normal routing.
//
// Empty Scripts are returned if egress is disabled or no group has members.
func CompileEgress(iface *models.Interface, cfg *models.EgressConfig, groups []*DeviceGroup) (Scripts, error) {
	if !cfg.Enabled {
		return Scripts{}, nil
	}

	var (
		uplinks  []*DeviceGroup
		dfltGrp  *DeviceGroup
		nonEmpty bool
	)
	for _, g := range groups {
		if len(g.Members) == 0 {
			continue
		}
		nonEmpty = true
		if g.IsDefault() {
			dfltGrp = g
			continue
		}
		if err := models.ValidateInterfaceName(g.Uplink); err != nil {
			return Scripts{}, fmt.Errorf("uplink '%s': %w", g.Uplink, err)
		}
		if !g.Missing {
			uplinks = append(uplinks, g)
		}
	}
	if !nonEmpty {
		return Scripts{}, nil
	}
	if err := models.ValidateInterfaceName(iface.Name); err != nil {
		return Scripts{}, err
	}
	if !iface.Subnet.IsValid() {
		return Scripts{}, fmt.Errorf("interface %s has no tunnel subnet", iface.Name)
	}

	base := nft.NewTable(nft.FamilyIP, cfg.TableName)
	base.AddChain(&nft.Chain{
		Name: "prerouting", Type: nft.ChainTypeFilter,
		Hook: nft.HookPrerouting, Priority: egressPreroutingPriority,
	})
	base.AddChain(&nft.Chain{
		Name: "forward", Type: nft.ChainTypeFilter,
		Hook: nft.HookForward, Priority: egressForwardPriority,
	})
	base.AddChain(&nft.Chain{
		Name: "postrouting", Type: nft.ChainTypeNAT,
		Hook: nft.HookPostrouting, Priority: egressPostroutingPriority,
	})

	s := newScript()

	// Runtime uplink checks and policy routing.
	for i, g := range uplinks {
		flag := uplinkFlag(i)
		s.line("%s=0", flag)
		s.line("if wg show %[1]s >/dev/null 2>&1 && ip -4 addr show dev %[1]s 2>/dev/null | grep 'inet ' >/dev/null; then", g.Uplink)
		s.line("  ip rule del fwmark %s table %d 2>/dev/null || true", g.Mark, g.Table)
		// A routing failure only disables this uplink.
		s.line("  if ip rule add fwmark %s table %d && ip route replace default dev %s table %d; then",
			g.Mark, g.Table, g.Uplink, g.Table)
		s.line("    echo \"Exit node %s is active\"", g.Uplink)
		s.line("    %s=1", flag)
		s.line("  else")
		s.line("    echo \"WARNING: Failed routing through exit node %s, skipping\" >&2", g.Uplink)
		s.line("    ip rule del fwmark %s table %d 2>/dev/null || true", g.Mark, g.Table)
		s.line("  fi")
		s.line("else")
		s.line("  echo \"WARNING: Exit node %s is not available, skipping\" >&2", g.Uplink)
		s.line("fi")
		s.blank()
	}

	if dfltGrp != nil {
		s.line(`DEFAULT_IFACE="$(ip -4 route show default 2>/dev/null | awk '/default/ {print $5}' | head -1 || true)"`)
		s.line(`case "$DEFAULT_IFACE" in`)
		s.line(`  *[!a-zA-Z0-9_.-]*) DEFAULT_IFACE="" ;;`)
		s.line(`esac`)
		s.line(`if [ -z "$DEFAULT_IFACE" ]; then`)
		s.line(`  echo "WARNING: No default route interface found, skipping default egress" >&2`)
		s.line(`fi`)
		s.blank()
	}

	s.deleteTable(base)
	s.blank()

	var idle []string
	for i := range uplinks {
		idle = append(idle, fmt.Sprintf(`[ "$%s" -eq 0 ]`, uplinkFlag(i)))
	}
	if dfltGrp != nil {
		idle = append(idle, `[ -z "$DEFAULT_IFACE" ]`)
	}
	if len(idle) > 0 {
		s.line("if %s; then", strings.Join(idle, " && "))
		s.line(`  echo "Egress: nothing to configure"`)
		s.line("  exit 0")
		s.line("fi")
	} else {
		// Every assigned uplink is missing.
		s.line(`echo "Egress: nothing to configure"`)
		s.line("exit 0")
	}
	s.blank()

	if err := s.load(base, false); err != nil {
		return Scripts{}, err
	}

	ifName := nft.Quote(iface.Name)
	for i, g := range uplinks {
		frag := nft.NewTable(nft.FamilyIP, cfg.TableName)
		set := frag.AddSet(&nft.Set{
			Name:     uplinkSetName(i, g.Uplink),
			Type:     nft.SetTypeIPv4Addr,
			Elements: memberElements(g),
		})
		upName := nft.Quote(g.Uplink)
		frag.Chain("prerouting").Add(fmt.Sprintf(
			"iifname %s ip saddr @%s ip daddr != %s meta mark set %s",
			ifName, set.Name, iface.Subnet, g.Mark), "")
		frag.Chain("forward").Add(fmt.Sprintf(
			"iifname %s oifname %s ip saddr @%s accept", ifName, upName, set.Name), "")
		frag.Chain("postrouting").Add(fmt.Sprintf("oifname %s masquerade", upName), "")

		s.blank()
		s.line(`if [ "$%s" -eq 1 ]; then`, uplinkFlag(i))
		if err := s.load(frag, false); err != nil {
			return Scripts{}, err
		}
		s.line("fi")
	}

	if dfltGrp != nil {
		frag := nft.NewTable(nft.FamilyIP, cfg.TableName)
		set := frag.AddSet(&nft.Set{
			Name:     nft.SetName("clients", DefaultUplink),
			Type:     nft.SetTypeIPv4Addr,
			Elements: memberElements(dfltGrp),
		})
		frag.Chain("forward").Add(fmt.Sprintf(
			`iifname %s oifname "$DEFAULT_IFACE" ip saddr @%s accept`, ifName, set.Name), "")
		frag.Chain("postrouting").Add(fmt.Sprintf(
			`oifname "$DEFAULT_IFACE" ip saddr @%s masquerade`, set.Name), "")

		s.blank()
		s.line(`if [ -n "$DEFAULT_IFACE" ]; then`)
		if err := s.load(frag, true); err != nil {
			return Scripts{}, err
		}
		s.line("fi")
	}

	return Scripts{Setup: s.String(), Cleanup: egressCleanup(base, groups)}, nil
}

// egressCleanup removes the NAT table and the policy routing of every
// allocated uplink, including missing ones.
func egressCleanup(tbl *nft.Table, groups []*DeviceGroup) string {
	s := newScript()
	s.deleteTable(tbl)
	for _, g := range groups {
		if g.IsDefault() || g.Table == 0 {
			continue
		}
		s.line("ip rule del fwmark %s table %d 2>/dev/null || true", g.Mark, g.Table)
		s.line("ip route flush table %d 2>/dev/null || true", g.Table)
	}
	return s.String()
}

// uplinkSetName includes the uplink's position, since distinct uplink names
// such as exit-a and exit_a sanitize to the same identifier.
func uplinkSetName(i int, uplink string) string {
	return nft.SetName("clients", fmt.Sprintf("%d_%s", i, uplink))
}

func uplinkFlag(i int) string {
	return fmt.Sprintf("UPLINK_%d_UP", i)
}

func memberElements(g *DeviceGroup) []string {
	elems := make([]string, len(g.Members))
	for i, m := range g.Members {
		elems[i] = m.String()
	}
	return elems
}
