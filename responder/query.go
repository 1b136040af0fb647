package responder

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/go-kit/log/level"

	"github.com/joshuafuller/tinymdns/internal/errors"
	"github.com/joshuafuller/tinymdns/internal/message"
	"github.com/joshuafuller/tinymdns/internal/protocol"
	"github.com/joshuafuller/tinymdns/internal/records"
	"github.com/joshuafuller/tinymdns/internal/responder"
	"github.com/joshuafuller/tinymdns/internal/state"
	"github.com/joshuafuller/tinymdns/internal/transport"
)

// serviceEntry pairs a registry service with its record snapshot for the
// duration of one received message.
type serviceEntry struct {
	s    *responder.Service
	info *records.ServiceInfo

	// txt is filled on first use so the dynamic TXT callbacks run once per
	// message.
	txt     []message.TXTEntry
	haveTXT bool
}

func (r *Responder) entryTXT(e *serviceEntry) []message.TXTEntry {
	if !e.haveTXT {
		e.txt = r.serviceTXT(e.s)
		e.haveTXT = true
	}
	return e.txt
}

// replyPlan is how the reply to one query is sent.
type replyPlan struct {
	unicast bool

	// Legacy replies echo the query ID and question and use short TTLs
	// (RFC 6762 §6.7).
	legacy   bool
	id       uint16
	question message.Question
}

// handleQuery answers a query for names we own. Reply masks are gathered
// per question, trimmed by the known answers of the query, and sent as a
// single response. Records in the authority section only feed the probe
// tiebreak.
func (r *Responder) handleQuery(msg *message.Message, src net.Addr) error {
	host := &r.registry.Host
	hostInfo, err := r.hostInfo()
	if err != nil {
		return nil
	}
	entries := r.serviceEntries(hostInfo)

	host.ReplyMask = 0
	for _, e := range entries {
		e.s.ReplyMask = 0
	}

	addr, hasAddr := transport.AddrPort(src)
	fromMDNSPort := !hasAddr || addr.Port() == protocol.Port

	var plan replyPlan
	for _, q := range msg.Questions {
		mask, full := hostReplyMask(hostInfo, &q)
		switch host.Probe.Status {
		case state.Done:
			host.ReplyMask |= mask
		case state.InProgress:
			if mask != 0 && full {
				host.Probe.TiebreakNeeded = true
			}
		}

		for _, e := range entries {
			mask, full := serviceReplyMask(e.info, &q)
			switch e.s.Probe.Status {
			case state.Done:
				e.s.ReplyMask |= mask
			case state.InProgress:
				if mask != 0 && full {
					e.s.Probe.TiebreakNeeded = true
				}
			}
		}

		if plan.unicast || (fromMDNSPort && !q.UnicastResponse) {
			continue
		}
		plan.unicast = true
		if fromMDNSPort || len(msg.Questions) != 1 || !anyReply(host, entries) {
			continue
		}
		if !r.netinfo.IsLocalSubnet(addr.Addr()) {
			level.Debug(r.logger).Log("msg", "dropping legacy query", "src", addrString(src), "err", errors.ErrSpoofSuspected)
			return fmt.Errorf("%w: %s", errors.ErrSpoofSuspected, addr.Addr())
		}
		plan.legacy = true
		plan.id = msg.Header.ID
		plan.question = message.Question{Name: q.Name, Type: q.Type, Class: q.Class}
	}

	for i := range msg.Answers {
		rr := &msg.Answers[i]
		if rr.Type == protocol.RecordTypeANY || rr.Class == protocol.ClassANY {
			continue
		}
		r.suppressHost(hostInfo, rr)
		for _, e := range entries {
			r.suppressService(e, hostInfo, rr)
		}
	}
	proposed := append(append([]message.Record(nil), msg.Answers...), msg.Authorities...)
	for i := range proposed {
		rr := &proposed[i]
		if rr.Type == protocol.RecordTypeANY || rr.Class == protocol.ClassANY {
			continue
		}
		r.tiebreakHost(hostInfo, rr)
		for _, e := range entries {
			r.tiebreakService(e, hostInfo, rr)
		}
	}

	host.Probe.TiebreakNeeded = false
	for _, e := range entries {
		e.s.Probe.TiebreakNeeded = false
	}

	if !anyReply(host, entries) {
		return nil
	}
	o := r.buildReply(hostInfo, entries, &plan)
	var dest net.Addr
	if plan.unicast {
		dest = src
	}
	if err := r.sendCollected(o, dest); err != nil {
		level.Error(r.logger).Log("msg", "failed to send reply", "dest", addrString(dest), "err", err)
		return err
	}
	return nil
}

func (r *Responder) serviceEntries(host *records.HostInfo) []*serviceEntry {
	services := r.registry.Services()
	entries := make([]*serviceEntry, 0, len(services))
	for _, s := range services {
		info, err := r.serviceInfo(s, host)
		if err != nil {
			continue
		}
		entries = append(entries, &serviceEntry{s: s, info: info})
	}
	return entries
}

func anyReply(host *responder.Host, entries []*serviceEntry) bool {
	if host.ReplyMask != 0 {
		return true
	}
	for _, e := range entries {
		if e.s.ReplyMask != 0 {
			return true
		}
	}
	return false
}

func classMatches(class uint16) bool {
	return class == protocol.ClassIN || class == protocol.ClassANY
}

func typeMatches(t, want protocol.RecordType) bool {
	return t == want || t == protocol.RecordTypeANY
}

// hostReplyMask returns the host records a question asks for. full is set
// when the question names the host domain itself.
func hostReplyMask(h *records.HostInfo, q *message.Question) (mask protocol.Content, full bool) {
	if !classMatches(q.Class) {
		return 0, false
	}
	if typeMatches(q.Type, protocol.RecordTypePTR) {
		if h.IPv4.Is4() {
			if rev, err := message.ReverseIPv4Domain(h.IPv4); err == nil && rev.Equal(q.Name) {
				mask |= protocol.ContentPTRIPv4
			}
		}
		if h.IPv6.Is6() {
			if rev, err := message.ReverseIPv6Domain(h.IPv6); err == nil && rev.Equal(q.Name) {
				mask |= protocol.ContentPTRIPv6
			}
		}
	}
	if q.Name.Equal(h.Domain) {
		full = true
		if typeMatches(q.Type, protocol.RecordTypeA) && h.IPv4.Is4() {
			mask |= protocol.ContentA
		}
		if typeMatches(q.Type, protocol.RecordTypeAAAA) && h.IPv6.Is6() {
			mask |= protocol.ContentAAAA
		}
	}
	return mask, full
}

// serviceReplyMask returns the service records a question asks for. full
// is set when the question names the instance.
func serviceReplyMask(s *records.ServiceInfo, q *message.Question) (mask protocol.Content, full bool) {
	if !classMatches(q.Class) {
		return 0, false
	}
	if typeMatches(q.Type, protocol.RecordTypePTR) {
		if q.Name.Equal(message.DNSSDDomain()) {
			mask |= protocol.ContentPTRType
		}
		if q.Name.Equal(s.Type) {
			mask |= protocol.ContentPTRName
		}
	}
	if q.Name.Equal(s.Instance) {
		full = true
		if typeMatches(q.Type, protocol.RecordTypeSRV) {
			mask |= protocol.ContentSRV
		}
		if typeMatches(q.Type, protocol.RecordTypeTXT) {
			mask |= protocol.ContentTXT
		}
	}
	return mask, full
}

// suppressHost drops host records the querier already holds with at least
// half their TTL left (RFC 6762 §7.1).
func (r *Responder) suppressHost(h *records.HostInfo, rr *message.Record) {
	host := &r.registry.Host
	if host.ReplyMask == 0 || rr.TTL < protocol.TTLHost/2 {
		return
	}
	switch d := rr.Data.(type) {
	case *message.PTR:
		if !d.Target.Equal(h.Domain) {
			return
		}
		if h.IPv4.Is4() {
			if rev, err := message.ReverseIPv4Domain(h.IPv4); err == nil && rev.Equal(rr.Name) {
				host.ReplyMask &^= protocol.ContentPTRIPv4
			}
		}
		if h.IPv6.Is6() {
			if rev, err := message.ReverseIPv6Domain(h.IPv6); err == nil && rev.Equal(rr.Name) {
				host.ReplyMask &^= protocol.ContentPTRIPv6
			}
		}
	case *message.A:
		if rr.Name.Equal(h.Domain) && d.Addr == h.IPv4 {
			host.ReplyMask &^= protocol.ContentA
		}
	case *message.AAAA:
		if rr.Name.Equal(h.Domain) && d.Addr == h.IPv6 {
			host.ReplyMask &^= protocol.ContentAAAA
		}
	}
}

// suppressService is suppressHost for the records of one service.
func (r *Responder) suppressService(e *serviceEntry, h *records.HostInfo, rr *message.Record) {
	s, info := e.s, e.info
	if s.ReplyMask == 0 || rr.TTL < protocol.TTLService/2 {
		return
	}
	switch d := rr.Data.(type) {
	case *message.PTR:
		if rr.Name.Equal(message.DNSSDDomain()) && d.Target.Equal(info.Type) {
			s.ReplyMask &^= protocol.ContentPTRType
		}
		if rr.Name.Equal(info.Type) && d.Target.Equal(info.Instance) {
			s.ReplyMask &^= protocol.ContentPTRName
		}
	case *message.SRV:
		if rr.Name.Equal(info.Instance) && d.Target.Equal(h.Domain) && d.Port == info.Port &&
			d.Priority == protocol.SRVPriority && d.Weight == protocol.SRVWeight {
			s.ReplyMask &^= protocol.ContentSRV
		}
	case *message.TXT:
		if s.ReplyMask&protocol.ContentTXT != 0 && rr.Name.Equal(info.Instance) &&
			message.TXTEntriesEqual(r.entryTXT(e), d.Entries) {
			s.ReplyMask &^= protocol.ContentTXT
		}
	}
}

// tiebreakHost resolves a simultaneous probe for the host name (RFC 6762
// §8.2): the side with the lexicographically greater address keeps it.
func (r *Responder) tiebreakHost(h *records.HostInfo, rr *message.Record) {
	host := &r.registry.Host
	if !host.Probe.TiebreakNeeded || !rr.Name.Equal(h.Domain) {
		return
	}
	var remote, local netip.Addr
	switch d := rr.Data.(type) {
	case *message.A:
		remote, local = d.Addr, h.IPv4
	case *message.AAAA:
		remote, local = d.Addr, h.IPv6
	default:
		return
	}
	if !local.IsValid() {
		return
	}
	host.Probe.TiebreakNeeded = false
	if remote == local {
		// Our own probe, looped back.
		return
	}
	if remote.Compare(local) > 0 {
		level.Info(r.logger).Log("msg", "lost probe tiebreak", "host", host.Name, "remote", remote, "local", local)
		r.hostConflict()
	}
}

// tiebreakService resolves a simultaneous probe for a service instance by
// comparing the SRV targets.
func (r *Responder) tiebreakService(e *serviceEntry, h *records.HostInfo, rr *message.Record) {
	s := e.s
	if !s.Probe.TiebreakNeeded || !rr.Name.Equal(e.info.Instance) {
		return
	}
	srv, ok := rr.Data.(*message.SRV)
	if !ok {
		return
	}
	s.Probe.TiebreakNeeded = false
	if srv.Target.Equal(h.Domain) {
		return
	}
	if srv.Target.Compare(h.Domain) > 0 {
		level.Info(r.logger).Log("msg", "lost probe tiebreak", "service", r.registry.InstanceName(s), "remote", srv.Target.String())
		r.serviceConflict(s)
	}
}

// buildReply assembles the response for the collected reply masks. SRV,
// TXT and addresses the querier will need next are added as additional
// records (RFC 6763 §12).
func (r *Responder) buildReply(h *records.HostInfo, entries []*serviceEntry, plan *replyPlan) *outgoing {
	host := &r.registry.Host
	mode := records.TTLNominal
	o := response()
	if plan.legacy {
		mode = records.TTLLegacy
		o.header.ID = plan.id
		o.questions = []message.Question{plan.question}
	}

	o.answers = records.BuildHostRecords(h, host.ReplyMask, mode)

	var needAddresses bool
	for _, e := range entries {
		mask := e.s.ReplyMask
		if mask&(protocol.ContentPTRName|protocol.ContentSRV) != 0 {
			needAddresses = true
		}
		if mask == 0 {
			continue
		}
		var extra protocol.Content
		if mask&protocol.ContentPTRName != 0 {
			extra = (protocol.ContentSRV | protocol.ContentTXT) &^ mask
		}
		if (mask|extra)&protocol.ContentTXT != 0 {
			e.info.TXT = r.entryTXT(e)
			r.collectTXT(e.s)
		}
		o.answers = append(o.answers, records.BuildServiceRecords(e.info, mask, mode)...)
		o.additionals = append(o.additionals, records.BuildServiceRecords(e.info, extra, mode)...)
	}
	if len(entries) > 0 && host.ReplyMask&(protocol.ContentA|protocol.ContentAAAA) != 0 {
		needAddresses = true
	}
	if needAddresses {
		missing := (protocol.ContentA | protocol.ContentAAAA) &^ host.ReplyMask
		o.additionals = append(o.additionals, records.BuildHostRecords(h, missing, mode)...)
	}
	return o
}
