package responder

import (
	"net"

	"github.com/go-kit/log/level"
	"github.com/miekg/dns"
)

// tracePacket logs a datagram in dig-like presentation format when packet
// tracing is enabled. Decoding is left to miekg/dns so that the trace also
// shows packets our own parser rejects.
func (r *Responder) tracePacket(direction string, packet []byte, addr net.Addr) {
	if !r.trace {
		return
	}
	var m dns.Msg
	if err := m.Unpack(packet); err != nil {
		level.Debug(r.logger).Log("msg", direction+" undecodable packet", "addr", addrString(addr), "len", len(packet), "err", err)
		return
	}
	level.Debug(r.logger).Log("msg", direction+" packet", "addr", addrString(addr), "len", len(packet), "packet", m.String())
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return "multicast"
	}
	return addr.String()
}
