// Package transport connects the mDNS engine to the network.
//
// The engine only sees the Transport and NetInfo interfaces. This package
// ships the production implementations (UDPv4Transport, UDPv6Transport,
// InterfaceInfo) and the test doubles (MockTransport, StaticNetInfo).
package transport

import (
	"context"
	"net"
	"net/netip"

	"github.com/joshuafuller/tinymdns/internal/protocol"
)

// Multicast destinations (RFC 6762 §3).
var (
	MulticastIPv4 = &net.UDPAddr{IP: net.ParseIP(protocol.MulticastAddrIPv4), Port: protocol.Port}
	MulticastIPv6 = &net.UDPAddr{IP: net.ParseIP(protocol.MulticastAddrIPv6), Port: protocol.Port}
)

// Transport sends and receives mDNS datagrams.
type Transport interface {
	// Send transmits packet to dest. A nil dest sends to the mDNS multicast
	// group of the transport's address family.
	//
	// Returns a NetworkError on failure.
	Send(ctx context.Context, packet []byte, dest net.Addr) error

	// Receive waits for the next datagram, respecting ctx cancellation and
	// deadline.
	//
	// interfaceIndex is the OS interface that received the packet, taken
	// from the IP_PKTINFO/IP_RECVIF control message. Zero means unknown.
	Receive(ctx context.Context) (packet []byte, srcAddr net.Addr, interfaceIndex int, err error)

	// Close releases network resources. Errors are propagated.
	Close() error
}

// InterfaceState is the link state of the bound interface.
type InterfaceState struct {
	Up      bool
	LinkUp  bool
	HasIPv4 bool
	HasIPv6 bool
}

// Usable reports whether the interface can carry mDNS traffic.
func (s InterfaceState) Usable() bool {
	return s.Up && s.LinkUp && (s.HasIPv4 || s.HasIPv6)
}

// NetInfo describes the interface the responder is bound to.
type NetInfo interface {
	State() InterfaceState
	LocalIPv4() (netip.Addr, bool)
	LocalIPv6() (netip.Addr, bool)

	// IsLocalSubnet reports whether ip lies in a subnet of the interface.
	// RFC 6762 §6.7: legacy unicast queries from elsewhere are ignored.
	IsLocalSubnet(ip netip.Addr) bool
}

// AddrPort extracts the IP and port of a UDP source address.
func AddrPort(addr net.Addr) (netip.AddrPort, bool) {
	switch a := addr.(type) {
	case *net.UDPAddr:
		ap := a.AddrPort()
		return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), ap.IsValid()
	case interface{ AddrPort() netip.AddrPort }:
		ap := a.AddrPort()
		return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), ap.IsValid()
	default:
		ap, err := netip.ParseAddrPort(addr.String())
		if err != nil {
			return netip.AddrPort{}, false
		}
		return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), true
	}
}
