package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"syscall"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/joshuafuller/tinymdns/internal/errors"
	"github.com/joshuafuller/tinymdns/internal/protocol"
)

// RFC 6762 §11: multicast packets are sent with an IP TTL / hop limit of 255.
const multicastHops = 255

// readBufferSize is the socket receive buffer requested from the kernel.
const readBufferSize = 65536

// listen binds an mDNS UDP socket with address reuse enabled.
func listen(ctx context.Context, network string) (net.PacketConn, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			if err := c.Control(func(fd uintptr) { sockErr = setSocketOptions(fd) }); err != nil {
				return err
			}
			return sockErr
		},
	}
	conn, err := lc.ListenPacket(ctx, network, ":"+strconv.Itoa(protocol.Port))
	if err != nil {
		return nil, &errors.NetworkError{
			Operation: "create socket",
			Err:       err,
			Details:   fmt.Sprintf("failed to bind %s port %d", network, protocol.Port),
		}
	}
	if uc, ok := conn.(*net.UDPConn); ok {
		if err := uc.SetReadBuffer(readBufferSize); err != nil {
			_ = conn.Close()
			return nil, &errors.NetworkError{
				Operation: "configure socket",
				Err:       err,
				Details:   "failed to set read buffer size",
			}
		}
	}
	return conn, nil
}

// UDPv4Transport sends and receives on 224.0.0.251:5353.
type UDPv4Transport struct {
	conn     net.PacketConn
	ipv4Conn *ipv4.PacketConn // control message access (IP_PKTINFO/IP_RECVIF)
	iface    *net.Interface
}

// NewUDPv4Transport binds port 5353 and joins the IPv4 mDNS group on iface.
// A nil iface lets the system choose the interface. Packets that arrive on
// another interface are dropped.
func NewUDPv4Transport(ctx context.Context, iface *net.Interface) (*UDPv4Transport, error) {
	conn, err := listen(ctx, "udp4")
	if err != nil {
		return nil, err
	}
	pc := ipv4.NewPacketConn(conn)

	if err := pc.JoinGroup(iface, &net.UDPAddr{IP: MulticastIPv4.IP}); err != nil {
		_ = conn.Close()
		return nil, &errors.NetworkError{
			Operation: "join group",
			Err:       err,
			Details:   fmt.Sprintf("failed to join %s on %s", protocol.MulticastAddrIPv4, ifaceName(iface)),
		}
	}
	if iface != nil {
		if err := pc.SetMulticastInterface(iface); err != nil {
			_ = conn.Close()
			return nil, &errors.NetworkError{
				Operation: "configure socket",
				Err:       err,
				Details:   "failed to select multicast interface " + iface.Name,
			}
		}
	}
	// Best effort: the defaults still produce a working, if less strict, socket.
	_ = pc.SetMulticastTTL(multicastHops)
	_ = pc.SetMulticastLoopback(true)
	// Not supported on Windows; Receive then reports interface index 0.
	_ = pc.SetControlMessage(ipv4.FlagInterface, true)

	return &UDPv4Transport{conn: conn, ipv4Conn: pc, iface: iface}, nil
}

// Send transmits packet to dest, or to the IPv4 group when dest is nil.
func (t *UDPv4Transport) Send(ctx context.Context, packet []byte, dest net.Addr) error {
	if dest == nil {
		dest = MulticastIPv4
	}
	return send(ctx, t.conn, packet, dest)
}

// Receive waits for the next datagram on the bound interface.
func (t *UDPv4Transport) Receive(ctx context.Context) ([]byte, net.Addr, int, error) {
	return receive(ctx, t.conn, t.iface, func(b []byte) (int, int, net.Addr, error) {
		n, cm, src, err := t.ipv4Conn.ReadFrom(b)
		ifIndex := 0
		if cm != nil {
			ifIndex = cm.IfIndex
		}
		return n, ifIndex, src, err
	})
}

// Close leaves the group and closes the socket.
func (t *UDPv4Transport) Close() error {
	if t.conn == nil {
		return nil
	}
	_ = t.ipv4Conn.LeaveGroup(t.iface, &net.UDPAddr{IP: MulticastIPv4.IP})
	return closeConn(t.conn)
}

// UDPv6Transport sends and receives on [ff02::fb]:5353.
type UDPv6Transport struct {
	conn     net.PacketConn
	ipv6Conn *ipv6.PacketConn
	iface    *net.Interface
}

// NewUDPv6Transport binds port 5353 and joins the IPv6 mDNS group on iface.
// The group is link-local, so iface should be set.
func NewUDPv6Transport(ctx context.Context, iface *net.Interface) (*UDPv6Transport, error) {
	conn, err := listen(ctx, "udp6")
	if err != nil {
		return nil, err
	}
	pc := ipv6.NewPacketConn(conn)

	if err := pc.JoinGroup(iface, &net.UDPAddr{IP: MulticastIPv6.IP}); err != nil {
		_ = conn.Close()
		return nil, &errors.NetworkError{
			Operation: "join group",
			Err:       err,
			Details:   fmt.Sprintf("failed to join %s on %s", protocol.MulticastAddrIPv6, ifaceName(iface)),
		}
	}
	if iface != nil {
		if err := pc.SetMulticastInterface(iface); err != nil {
			_ = conn.Close()
			return nil, &errors.NetworkError{
				Operation: "configure socket",
				Err:       err,
				Details:   "failed to select multicast interface " + iface.Name,
			}
		}
	}
	_ = pc.SetMulticastHopLimit(multicastHops)
	_ = pc.SetMulticastLoopback(true)
	_ = pc.SetControlMessage(ipv6.FlagInterface, true)

	return &UDPv6Transport{conn: conn, ipv6Conn: pc, iface: iface}, nil
}

// Send transmits packet to dest, or to the IPv6 group when dest is nil.
func (t *UDPv6Transport) Send(ctx context.Context, packet []byte, dest net.Addr) error {
	if dest == nil {
		group := *MulticastIPv6
		if t.iface != nil {
			group.Zone = t.iface.Name
		}
		dest = &group
	}
	return send(ctx, t.conn, packet, dest)
}

// Receive waits for the next datagram on the bound interface.
func (t *UDPv6Transport) Receive(ctx context.Context) ([]byte, net.Addr, int, error) {
	return receive(ctx, t.conn, t.iface, func(b []byte) (int, int, net.Addr, error) {
		n, cm, src, err := t.ipv6Conn.ReadFrom(b)
		ifIndex := 0
		if cm != nil {
			ifIndex = cm.IfIndex
		}
		return n, ifIndex, src, err
	})
}

// Close leaves the group and closes the socket.
func (t *UDPv6Transport) Close() error {
	if t.conn == nil {
		return nil
	}
	_ = t.ipv6Conn.LeaveGroup(t.iface, &net.UDPAddr{IP: MulticastIPv6.IP})
	return closeConn(t.conn)
}

func send(ctx context.Context, conn net.PacketConn, packet []byte, dest net.Addr) error {
	select {
	case <-ctx.Done():
		return &errors.NetworkError{
			Operation: "send",
			Err:       ctx.Err(),
			Details:   "context canceled before send",
		}
	default:
	}

	n, err := conn.WriteTo(packet, dest)
	if err != nil {
		return &errors.NetworkError{
			Operation: "send",
			Err:       err,
			Details:   fmt.Sprintf("failed to send %d bytes to %s", len(packet), dest),
		}
	}
	if n != len(packet) {
		return &errors.NetworkError{
			Operation: "send",
			Err:       fmt.Errorf("partial write: %d/%d bytes", n, len(packet)),
			Details:   "incomplete transmission",
		}
	}
	return nil
}

type readFunc func(b []byte) (n, ifIndex int, src net.Addr, err error)

func receive(ctx context.Context, conn net.PacketConn, iface *net.Interface, read readFunc) ([]byte, net.Addr, int, error) {
	select {
	case <-ctx.Done():
		return nil, nil, 0, &errors.NetworkError{
			Operation: "receive",
			Err:       ctx.Err(),
			Details:   "context canceled before receive",
		}
	default:
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetReadDeadline(deadline); err != nil {
			return nil, nil, 0, &errors.NetworkError{
				Operation: "set read timeout",
				Err:       err,
				Details:   fmt.Sprintf("failed to set deadline %v", deadline),
			}
		}
	}

	bufPtr := GetBuffer()
	defer PutBuffer(bufPtr)
	buffer := *bufPtr

	for {
		n, ifIndex, src, err := read(buffer)
		if err != nil {
			details := "failed to read from socket"
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				details = "timeout"
			}
			return nil, nil, 0, &errors.NetworkError{Operation: "receive", Err: err, Details: details}
		}
		if iface != nil && ifIndex != 0 && ifIndex != iface.Index {
			continue
		}
		// The pool owns buffer; the caller owns the copy.
		result := make([]byte, n)
		copy(result, buffer[:n])
		return result, src, ifIndex, nil
	}
}

func closeConn(conn net.PacketConn) error {
	if err := conn.Close(); err != nil {
		return &errors.NetworkError{
			Operation: "close socket",
			Err:       err,
			Details:   "failed to close UDP connection",
		}
	}
	return nil
}

func ifaceName(iface *net.Interface) string {
	if iface == nil {
		return "default interface"
	}
	return iface.Name
}
