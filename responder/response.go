package responder

import (
	"time"

	"github.com/go-kit/log/level"

	"github.com/joshuafuller/tinymdns/internal/message"
	"github.com/joshuafuller/tinymdns/internal/protocol"
)

// handleResponse feeds a received response to the query cache and checks
// it for records that conflict with names we claim.
func (r *Responder) handleResponse(msg *message.Message, now time.Time) {
	all := make([]message.Record, 0, len(msg.Answers)+len(msg.Authorities)+len(msg.Additionals))
	all = append(all, msg.Answers...)
	all = append(all, msg.Authorities...)
	all = append(all, msg.Additionals...)

	if r.cache.Len() > 0 {
		r.foldRecords(all, now)
	}
	if r.begun {
		r.checkConflicts(all)
	}
}

// foldRecords applies the records to the cache. A PTR may create an answer
// whose SRV sits earlier in the message, and an SRV may name a host whose
// addresses came first, so the message is folded again until nothing new
// is learned.
func (r *Responder) foldRecords(all []message.Record, now time.Time) {
	for pass := 0; pass < 3; pass++ {
		unlocked := false
		for i := range all {
			rr := &all[i]
			if !classMatches(rr.Class) {
				continue
			}
			switch d := rr.Data.(type) {
			case *message.PTR:
				if r.cache.FoldPTR(rr.Name, d.Target, rr.TTL, now) {
					unlocked = true
				}
			case *message.SRV:
				if r.cache.FoldSRV(rr.Name, d, rr.TTL, now) {
					unlocked = true
				}
			case *message.TXT:
				r.cache.FoldTXT(rr.Name, d.Entries, rr.TTL, now)
			case *message.A:
				if r.cache.FoldAddress(rr.Name, d.Addr, rr.TTL, now) {
					unlocked = true
				}
			case *message.AAAA:
				if r.cache.FoldAddress(rr.Name, d.Addr, rr.TTL, now) {
					unlocked = true
				}
			}
		}
		if !unlocked {
			return
		}
	}
}

// checkConflicts looks for a response that claims our host name with
// another address, or one of our instance names with another SRV target
// or port (RFC 6762 §9). Goodbyes are not conflicts.
func (r *Responder) checkConflicts(all []message.Record) {
	hostInfo, err := r.hostInfo()
	if err != nil {
		return
	}
	host := &r.registry.Host
	entries := r.serviceEntries(hostInfo)

	for i := range all {
		rr := &all[i]
		if rr.TTL == 0 {
			continue
		}

		if defending(&host.Probe) && rr.Name.Equal(hostInfo.Domain) {
			conflict := false
			switch d := rr.Data.(type) {
			case *message.A:
				conflict = hostInfo.IPv4.IsValid() && d.Addr != hostInfo.IPv4
			case *message.AAAA:
				conflict = hostInfo.IPv6.IsValid() && d.Addr != hostInfo.IPv6
			}
			if conflict {
				level.Debug(r.logger).Log("msg", "conflicting host record", "record", rr.String())
				r.hostConflict()
			}
		}

		srv, ok := rr.Data.(*message.SRV)
		if !ok || rr.Type != protocol.RecordTypeSRV {
			continue
		}
		for _, e := range entries {
			if !defending(&e.s.Probe) || !rr.Name.Equal(e.info.Instance) {
				continue
			}
			if !srv.Target.Equal(hostInfo.Domain) || srv.Port != e.info.Port {
				level.Debug(r.logger).Log("msg", "conflicting service record", "record", rr.String())
				r.serviceConflict(e.s)
			}
		}
	}
}
