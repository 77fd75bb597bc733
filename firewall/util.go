package firewall

import (
	"fmt"
	"net/netip"

	"go4.org/netipx"
)

// parseIPv4Set parses IPv4 addresses in plain, CIDR or range notation into a
// single set.
func parseIPv4Set(ipAddr ...string) (*netipx.IPSet, error) {
	var b netipx.IPSetBuilder
	for _, ip := range ipAddr {
		var r netipx.IPRange
		if addr, err := netip.ParseAddr(ip); err == nil {
			r = netipx.IPRangeFrom(addr, addr)
		} else if cidr, err := netip.ParsePrefix(ip); err == nil {
			r = netipx.RangeOfPrefix(cidr.Masked())
		} else if r, err = netipx.ParseIPRange(ip); err != nil {
			return nil, fmt.Errorf("failed parsing IP address '%s': %w", ip, err)
		}
		if !r.From().Is4() {
			return nil, fmt.Errorf("'%s' is not an IPv4 address", ip)
		}
		b.AddRange(r)
	}

	ipSet, err := b.IPSet()
	if err != nil {
		return nil, fmt.Errorf("failed building IP set: %w", err)
	}

	return ipSet, nil
}

// CoalescePrefixes returns the smallest sorted list of CIDR prefixes covering
// the given IPv4 addresses, prefixes and ranges. The result is usable as the
// elements of an interval set.
func CoalescePrefixes(ipAddr ...string) ([]string, error) {
	ipSet, err := parseIPv4Set(ipAddr...)
	if err != nil {
		return nil, err
	}
	prefixes := ipSet.Prefixes()
	elems := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		elems = append(elems, p.String())
	}
	return elems, nil
}
