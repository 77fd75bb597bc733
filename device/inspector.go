package device

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
	"golang.zx2c4.com/wireguard/wgctrl"
)

// Inspector reports the kernel state of network interfaces.
type Inspector interface {
	// IsUp returns true if name is a WireGuard device answering on its
	// control socket.
	IsUp(name string) (bool, error)
	// HasIPv4 returns true if name has at least one IPv4 address assigned.
	HasIPv4(name string) (bool, error)
	// DefaultInterface returns the name of the interface carrying the IPv4
	// default route, or "" if there is none.
	DefaultInterface() (string, error)
}

// Kernel inspects interfaces over netlink and the WireGuard control API.
type Kernel struct {
	mu sync.Mutex
	wg *wgctrl.Client
}

var _ Inspector = (*Kernel)(nil)

// IsUp implements Inspector.
func (k *Kernel) IsUp(name string) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.wg == nil {
		c, err := wgctrl.New()
		if err != nil {
			return false, fmt.Errorf("failed to open wgctrl: %w", err)
		}
		k.wg = c
	}

	if _, err := k.wg.Device(name); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed querying WireGuard device %s: %w", name, err)
	}

	return true, nil
}

// HasIPv4 implements Inspector.
func (k *Kernel) HasIPv4(name string) (bool, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		var notFound netlink.LinkNotFoundError
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed getting link %s: %w", name, err)
	}

	addrs, err := netlink.AddrList(link, unix.AF_INET)
	if err != nil {
		return false, fmt.Errorf("failed listing addresses of %s: %w", name, err)
	}

	return len(addrs) > 0, nil
}

// DefaultInterface implements Inspector.
func (k *Kernel) DefaultInterface() (string, error) {
	routes, err := netlink.RouteList(nil, netlink.FAMILY_V4)
	if err != nil {
		return "", fmt.Errorf("failed listing routes: %w", err)
	}

	for _, r := range routes {
		if r.Dst != nil {
			if ones, _ := r.Dst.Mask.Size(); ones != 0 {
				continue
			}
		}
		if r.LinkIndex == 0 {
			continue
		}
		link, err := netlink.LinkByIndex(r.LinkIndex)
		if err != nil {
			return "", fmt.Errorf("failed getting link of default route: %w", err)
		}
		return link.Attrs().Name, nil
	}

	return "", nil
}

// Close releases the WireGuard control client.
func (k *Kernel) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.wg == nil {
		return nil
	}
	err := k.wg.Close()
	k.wg = nil
	return err
}

// Fake is an Inspector with a static state, for tests and dry runs.
type Fake struct {
	Up        map[string]bool
	Addressed map[string]bool
	Default   string
	Err       error
}

var _ Inspector = (*Fake)(nil)

// IsUp implements Inspector.
func (f *Fake) IsUp(name string) (bool, error) {
	return f.Up[name], f.Err
}

// HasIPv4 implements Inspector.
func (f *Fake) HasIPv4(name string) (bool, error) {
	return f.Addressed[name], f.Err
}

// DefaultInterface implements Inspector.
func (f *Fake) DefaultInterface() (string, error) {
	return f.Default, f.Err
}
