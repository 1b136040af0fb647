package transport

import (
	"context"
	"net"
	"net/netip"
	"sync"

	"github.com/joshuafuller/tinymdns/internal/errors"
)

// SentPacket is a datagram recorded by MockTransport. A nil Dest is the
// multicast group.
type SentPacket struct {
	Packet []byte
	Dest   net.Addr
}

type inbound struct {
	packet []byte
	src    net.Addr
}

// MockTransport records sent packets and delivers injected ones. It is
// safe for concurrent use.
type MockTransport struct {
	mu      sync.Mutex
	sent    []SentPacket
	sendErr error
	closed  bool

	in chan inbound
}

// NewMockTransport returns a mock with room for 64 queued inbound packets.
func NewMockTransport() *MockTransport {
	return &MockTransport{in: make(chan inbound, 64)}
}

// Send records the packet, or fails with the error set by FailSends.
func (m *MockTransport) Send(_ context.Context, packet []byte, dest net.Addr) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return &errors.NetworkError{Operation: "send", Err: net.ErrClosed}
	}
	if m.sendErr != nil {
		return &errors.NetworkError{Operation: "send", Err: m.sendErr}
	}
	m.sent = append(m.sent, SentPacket{Packet: append([]byte(nil), packet...), Dest: dest})
	return nil
}

// Receive returns the next injected packet.
func (m *MockTransport) Receive(ctx context.Context) ([]byte, net.Addr, int, error) {
	select {
	case <-ctx.Done():
		return nil, nil, 0, &errors.NetworkError{Operation: "receive", Err: ctx.Err()}
	case p, ok := <-m.in:
		if !ok {
			return nil, nil, 0, &errors.NetworkError{Operation: "receive", Err: net.ErrClosed}
		}
		return p.packet, p.src, 0, nil
	}
}

// Close makes further sends fail and ends pending receives.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.in)
	}
	return nil
}

// Inject queues a packet for Receive. It must not be called after Close.
func (m *MockTransport) Inject(packet []byte, src net.Addr) {
	m.in <- inbound{packet: packet, src: src}
}

// FailSends makes every Send fail with err until called with nil.
func (m *MockTransport) FailSends(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// Sent returns the packets sent so far.
func (m *MockTransport) Sent() []SentPacket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentPacket(nil), m.sent...)
}

// Reset forgets the sent packets.
func (m *MockTransport) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}

// StaticNetInfo is a fixed NetInfo.
type StaticNetInfo struct {
	mu       sync.Mutex
	state    InterfaceState
	ipv4     netip.Addr
	ipv6     netip.Addr
	prefixes []netip.Prefix
}

// NewStaticNetInfo returns an up interface with the given addresses. Each
// prefix also serves as a local subnet; an invalid prefix is skipped.
func NewStaticNetInfo(v4, v6 netip.Prefix) *StaticNetInfo {
	n := &StaticNetInfo{}
	n.Set(v4, v6)
	return n
}

// Set replaces the addresses. The interface is up when at least one is
// valid.
func (n *StaticNetInfo) Set(v4, v6 netip.Prefix) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ipv4, n.ipv6, n.prefixes = netip.Addr{}, netip.Addr{}, nil
	if v4.IsValid() {
		n.ipv4 = v4.Addr()
		n.prefixes = append(n.prefixes, v4.Masked())
	}
	if v6.IsValid() {
		n.ipv6 = v6.Addr()
		n.prefixes = append(n.prefixes, v6.Masked())
	}
	up := n.ipv4.IsValid() || n.ipv6.IsValid()
	n.state = InterfaceState{Up: up, LinkUp: up, HasIPv4: n.ipv4.IsValid(), HasIPv6: n.ipv6.IsValid()}
}

func (n *StaticNetInfo) State() InterfaceState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

func (n *StaticNetInfo) LocalIPv4() (netip.Addr, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ipv4, n.ipv4.IsValid()
}

func (n *StaticNetInfo) LocalIPv6() (netip.Addr, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ipv6, n.ipv6.IsValid()
}

func (n *StaticNetInfo) IsLocalSubnet(ip netip.Addr) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return containedIn(n.prefixes, ip)
}
