package transport

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/joshuafuller/tinymdns/internal/errors"
)

// InterfaceInfo is the NetInfo of an OS network interface. The addresses
// are read on every call, so address changes are picked up without a
// restart.
type InterfaceInfo struct {
	iface *net.Interface

	// addrs is replaceable for tests.
	addrs func() ([]net.Addr, error)
}

// NewInterfaceInfo looks the interface up by name. An empty name picks the
// first interface that is up, supports multicast and is not a loopback.
func NewInterfaceInfo(name string) (*InterfaceInfo, error) {
	if name != "" {
		iface, err := net.InterfaceByName(name)
		if err != nil {
			return nil, &errors.NetworkError{Operation: "lookup interface", Err: err, Details: name}
		}
		return newInterfaceInfo(iface), nil
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, &errors.NetworkError{Operation: "list interfaces", Err: err}
	}
	for i := range ifaces {
		f := ifaces[i].Flags
		if f&net.FlagUp != 0 && f&net.FlagMulticast != 0 && f&net.FlagLoopback == 0 {
			return newInterfaceInfo(&ifaces[i]), nil
		}
	}
	return nil, &errors.NetworkError{
		Operation: "lookup interface",
		Err:       fmt.Errorf("no multicast interface is up"),
	}
}

func newInterfaceInfo(iface *net.Interface) *InterfaceInfo {
	return &InterfaceInfo{iface: iface, addrs: iface.Addrs}
}

// Interface returns the underlying interface.
func (i *InterfaceInfo) Interface() *net.Interface {
	return i.iface
}

func (i *InterfaceInfo) prefixes() []netip.Prefix {
	addrs, err := i.addrs()
	if err != nil {
		return nil
	}
	var out []netip.Prefix
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		addr, ok := netip.AddrFromSlice(ipnet.IP)
		if !ok {
			continue
		}
		ones, _ := ipnet.Mask.Size()
		out = append(out, netip.PrefixFrom(addr.Unmap(), ones))
	}
	return out
}

// State reports the interface flags and which address families are
// configured.
func (i *InterfaceInfo) State() InterfaceState {
	s := InterfaceState{
		Up:     i.iface.Flags&net.FlagUp != 0,
		LinkUp: i.iface.Flags&net.FlagRunning != 0,
	}
	_, s.HasIPv4 = i.LocalIPv4()
	_, s.HasIPv6 = i.LocalIPv6()
	return s
}

// LocalIPv4 returns the first IPv4 address of the interface.
func (i *InterfaceInfo) LocalIPv4() (netip.Addr, bool) {
	for _, p := range i.prefixes() {
		if p.Addr().Is4() {
			return p.Addr(), true
		}
	}
	return netip.Addr{}, false
}

// LocalIPv6 returns the IPv6 address of the interface, preferring a
// link-local one (RFC 6762 §15).
func (i *InterfaceInfo) LocalIPv6() (netip.Addr, bool) {
	var fallback netip.Addr
	for _, p := range i.prefixes() {
		a := p.Addr()
		if !a.Is6() {
			continue
		}
		if a.IsLinkLocalUnicast() {
			return a, true
		}
		if !fallback.IsValid() {
			fallback = a
		}
	}
	return fallback, fallback.IsValid()
}

// IsLocalSubnet reports whether ip is inside one of the interface's
// prefixes.
func (i *InterfaceInfo) IsLocalSubnet(ip netip.Addr) bool {
	return containedIn(i.prefixes(), ip)
}

func containedIn(prefixes []netip.Prefix, ip netip.Addr) bool {
	ip = ip.Unmap().WithZone("")
	for _, p := range prefixes {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}
