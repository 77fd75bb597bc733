package firewall

import (
	"fmt"
	"net/netip"

	"go.hackfix.me/wgfence/db/models"
)

// DefaultUplink is the synthetic uplink of clients without an assigned exit
// node. Their traffic leaves through the host's default route, and is never
// marked or policy routed.
const DefaultUplink = "default"

// RoutingMark is a packet mark that selects a policy routing table.
type RoutingMark uint32

func (m RoutingMark) String() string {
	return fmt.Sprintf("0x%x", uint32(m))
}

// RoutingTable is a policy routing table ID.
type RoutingTable uint32

// Default allocation bases. They are above the marks and table IDs commonly
// used by distributions (e.g. 253-255 for default/main/local).
const (
	DefaultBaseMark  RoutingMark  = 0x10
	DefaultBaseTable RoutingTable = 200
)

// DeviceGroup is an uplink together with the clients routed through it. It is
// rebuilt on every compilation.
type DeviceGroup struct {
	Uplink  string
	Members []netip.Addr
	Mark    RoutingMark
	Table   RoutingTable
	// Missing is set when the uplink's definition file disappeared after the
	// group was allocated. Missing uplinks keep their allocation, but are left
	// out of the setup script.
	Missing bool
}

// IsDefault returns true if this is the host default route group.
func (g *DeviceGroup) IsDefault() bool {
	return g.Uplink == DefaultUplink
}

// GroupByUplink partitions enabled clients with egress enabled by their
// uplink, in order of first appearance. Clients without an egress device go
// into the DefaultUplink group. Clients with an unusable address are returned
// separately.
func GroupByUplink(clients []*models.Client) (groups []*DeviceGroup, invalid []*models.Client) {
	byUplink := map[string]*DeviceGroup{}
	for _, c := range clients {
		if !c.Enabled || !c.EgressEnabled {
			continue
		}
		if !c.IPv4Address.IsValid() || !c.IPv4Address.Is4() {
			invalid = append(invalid, c)
			continue
		}

		uplink := DefaultUplink
		if c.EgressDevice.Valid && c.EgressDevice.V != "" {
			uplink = c.EgressDevice.V
		}

		g, ok := byUplink[uplink]
		if !ok {
			g = &DeviceGroup{Uplink: uplink}
			byUplink[uplink] = g
			groups = append(groups, g)
		}
		g.Members = append(g.Members, c.IPv4Address)
	}

	return groups, invalid
}

// Allocation is the mark and routing table assigned to an uplink.
type Allocation struct {
	Uplink string
	Mark   RoutingMark
	Table  RoutingTable
}

// Allocator assigns disjoint marks and routing tables to uplinks.
type Allocator struct {
	BaseMark  RoutingMark
	BaseTable RoutingTable
}

// Allocate assigns the i-th uplink, in the given order, BaseMark+i and
// BaseTable+i. DefaultUplink is skipped and doesn't consume an index.
func (a Allocator) Allocate(uplinks []string) []Allocation {
	allocs := make([]Allocation, 0, len(uplinks))
	for _, u := range uplinks {
		if u == DefaultUplink {
			continue
		}
		i := len(allocs)
		allocs = append(allocs, Allocation{
			Uplink: u,
			Mark:   a.BaseMark + RoutingMark(i),
			Table:  a.BaseTable + RoutingTable(i),
		})
	}
	return allocs
}

// AllocateGroups allocates resources for the groups in their current order,
// and stores them on each group.
func (a Allocator) AllocateGroups(groups []*DeviceGroup) {
	names := make([]string, len(groups))
	for i, g := range groups {
		names[i] = g.Uplink
	}
	allocs := a.Allocate(names)
	byUplink := make(map[string]Allocation, len(allocs))
	for _, al := range allocs {
		byUplink[al.Uplink] = al
	}
	for _, g := range groups {
		if al, ok := byUplink[g.Uplink]; ok {
			g.Mark, g.Table = al.Mark, al.Table
		}
	}
}
