package responder

import (
	"fmt"
	"net"

	"github.com/joshuafuller/tinymdns/internal/errors"
	"github.com/joshuafuller/tinymdns/internal/message"
	"github.com/joshuafuller/tinymdns/internal/protocol"
	"github.com/joshuafuller/tinymdns/internal/records"
	"github.com/joshuafuller/tinymdns/internal/responder"
	"github.com/joshuafuller/tinymdns/internal/state"
)

// outgoing is a message under construction. Records keep their owners so
// the writer compresses every name against its first occurrence.
type outgoing struct {
	header      message.Header
	questions   []message.Question
	answers     []records.ResourceRecord
	authorities []records.ResourceRecord
	additionals []records.ResourceRecord
}

func response() *outgoing {
	return &outgoing{header: message.Header{Flags: protocol.FlagQR | protocol.FlagAA}}
}

func (o *outgoing) empty() bool {
	return len(o.questions) == 0 && len(o.answers) == 0 &&
		len(o.authorities) == 0 && len(o.additionals) == 0
}

func (o *outgoing) pack() ([]byte, error) {
	if len(o.questions) > 0xFFFF || len(o.answers) > 0xFFFF ||
		len(o.authorities) > 0xFFFF || len(o.additionals) > 0xFFFF {
		return nil, fmt.Errorf("%w: too many records", errors.ErrAllocationFailed)
	}
	h := o.header
	h.QDCount = uint16(len(o.questions))
	h.ANCount = uint16(len(o.answers))
	h.NSCount = uint16(len(o.authorities))
	h.ARCount = uint16(len(o.additionals))

	w := message.NewWriter()
	if err := w.WriteHeader(h); err != nil {
		return nil, err
	}
	for _, q := range o.questions {
		if err := w.WriteQuestion(q, nil); err != nil {
			return nil, err
		}
	}
	sections := []struct {
		list       []records.ResourceRecord
		additional bool
	}{
		{o.answers, false},
		{o.authorities, false},
		{o.additionals, true},
	}
	for _, s := range sections {
		for i := range s.list {
			if err := w.WriteRecord(&s.list[i].Record, s.additional, s.list[i].Owner); err != nil {
				return nil, err
			}
		}
	}
	return w.Bytes(), nil
}

// send packs o and hands it to the transport. A nil dest is the multicast
// group.
func (r *Responder) send(o *outgoing, dest net.Addr) error {
	packet, err := o.pack()
	if err != nil {
		return err
	}
	r.tracePacket("sent", packet, dest)
	if err := r.transport.Send(r.ctx, packet, dest); err != nil {
		return fmt.Errorf("%w: %w", errors.ErrSendFailed, err)
	}
	return nil
}

// hostInfo snapshots the host for record building.
func (r *Responder) hostInfo() (*records.HostInfo, error) {
	domain, err := r.registry.HostDomain()
	if err != nil {
		return nil, err
	}
	h := &records.HostInfo{Domain: domain, Owner: &r.registry.Host}
	if ip, ok := r.netinfo.LocalIPv4(); ok {
		h.IPv4 = ip
	}
	if ip, ok := r.netinfo.LocalIPv6(); ok {
		h.IPv6 = ip
	}
	return h, nil
}

// serviceInfo snapshots s for record building. TXT holds the static
// entries; serviceTXT adds the temporary ones.
func (r *Responder) serviceInfo(s *responder.Service, host *records.HostInfo) (*records.ServiceInfo, error) {
	instance, serviceType, err := r.registry.ServiceDomains(s)
	if err != nil {
		return nil, err
	}
	return &records.ServiceInfo{
		Instance:  instance,
		Type:      serviceType,
		Host:      host.Domain,
		Port:      s.Port,
		TXT:       s.TXT.Entries(),
		Owner:     s,
		HostOwner: host.Owner,
	}, nil
}

// serviceTXT runs the dynamic TXT callbacks of s and returns its entries,
// temporary ones included.
func (r *Responder) serviceTXT(s *responder.Service) []message.TXTEntry {
	if fn := r.registry.Host.DynamicTXT; fn != nil {
		fn(s.ID)
	}
	if fn := s.DynamicTXT; fn != nil {
		fn(s.ID)
	}
	return s.TXT.Entries()
}

// collectTXT marks the TXT of s as part of the message being built. After
// the message is sent, releaseTXT drops the temporary entries of every
// collected service; dropTXT forgets them without clearing anything.
func (r *Responder) collectTXT(s *responder.Service) {
	r.collected = append(r.collected, s)
}

func (r *Responder) releaseTXT() {
	for _, s := range r.collected {
		s.TXT.ClearTemporary()
	}
	r.dropTXT()
}

func (r *Responder) dropTXT() {
	clear(r.collected)
	r.collected = r.collected[:0]
}

// sendHostProbe asks "anyone using host.local?" and lists the records we
// intend to claim in the authority section (RFC 6762 §8.1, §8.2).
func (r *Responder) sendHostProbe() error {
	host, err := r.hostInfo()
	if err != nil {
		return err
	}
	o := &outgoing{
		questions: []message.Question{{
			Name: host.Domain, Type: protocol.RecordTypeANY, Class: protocol.ClassIN, UnicastResponse: true,
		}},
		authorities: records.BuildHostRecords(host, protocol.ContentA|protocol.ContentAAAA, records.TTLNominal),
	}
	return r.send(o, nil)
}

func (r *Responder) sendServiceProbe(s *responder.Service) error {
	host, err := r.hostInfo()
	if err != nil {
		return err
	}
	svc, err := r.serviceInfo(s, host)
	if err != nil {
		return err
	}
	o := &outgoing{
		questions: []message.Question{{
			Name: svc.Instance, Type: protocol.RecordTypeANY, Class: protocol.ClassIN, UnicastResponse: true,
		}},
		authorities: records.BuildServiceRecords(svc, protocol.ContentPTRName|protocol.ContentSRV, records.TTLNominal),
	}
	return r.send(o, nil)
}

func (r *Responder) announceHost() error {
	host, err := r.hostInfo()
	if err != nil {
		return err
	}
	o := response()
	o.answers = records.BuildHostRecords(host, protocol.HostContent, records.TTLNominal)
	return r.send(o, nil)
}

// announceService sends every record of s with the host addresses as
// additional records.
func (r *Responder) announceService(s *responder.Service) error {
	host, err := r.hostInfo()
	if err != nil {
		return err
	}
	svc, err := r.serviceInfo(s, host)
	if err != nil {
		return err
	}
	svc.TXT = r.serviceTXT(s)
	r.collectTXT(s)

	o := response()
	o.answers = records.BuildServiceRecords(svc, protocol.ServiceContent, records.TTLNominal)
	o.additionals = records.BuildHostRecords(host, protocol.ContentA|protocol.ContentAAAA, records.TTLNominal)
	return r.sendCollected(o, nil)
}

// sendCollected sends o and releases the temporary TXT entries it carried.
// When the send fails they stay for the retry.
func (r *Responder) sendCollected(o *outgoing, dest net.Addr) error {
	if err := r.send(o, dest); err != nil {
		r.dropTXT()
		return err
	}
	r.releaseTXT()
	return nil
}

// sendGoodbye withdraws the established records of services, and of the
// host when withHost is set, with TTL=0 (RFC 6762 §10.1).
func (r *Responder) sendGoodbye(services []*responder.Service, withHost bool) error {
	host, err := r.hostInfo()
	if err != nil {
		return err
	}
	o := response()
	for _, s := range services {
		if s.Probe.Status != state.Done {
			continue
		}
		svc, err := r.serviceInfo(s, host)
		if err != nil {
			return err
		}
		o.answers = append(o.answers, records.BuildServiceRecords(svc, protocol.ServiceContent, records.TTLGoodbye)...)
	}
	if withHost && r.registry.Host.Probe.Status == state.Done {
		o.answers = append(o.answers, records.BuildHostRecords(host, protocol.HostContent, records.TTLGoodbye)...)
	}
	if o.empty() {
		return nil
	}
	return r.send(o, nil)
}
