package records

import (
	"net/netip"

	"github.com/joshuafuller/tinymdns/internal/message"
	"github.com/joshuafuller/tinymdns/internal/protocol"
)

// TTLMode selects the TTL written into built records.
type TTLMode int

const (
	// TTLNominal uses the host or service TTL of the record.
	TTLNominal TTLMode = iota
	// TTLGoodbye writes TTL=0 (RFC 6762 §10.1).
	TTLGoodbye
	// TTLLegacy writes the short legacy unicast TTL and clears the
	// cache-flush bit (RFC 6762 §6.7).
	TTLLegacy
)

func (m TTLMode) ttl(nominal uint32) uint32 {
	switch m {
	case TTLGoodbye:
		return 0
	case TTLLegacy:
		return protocol.TTLLegacy
	default:
		return nominal
	}
}

// ResourceRecord is an outgoing record together with the identities that
// own its names, used as compression cache keys by message.Writer.
type ResourceRecord struct {
	message.Record
	Owner message.Owner
}

// HostInfo is the subset of the registry host needed to build its records.
type HostInfo struct {
	Domain message.Domain
	IPv4   netip.Addr
	IPv6   netip.Addr

	// Owner is the compression identity of Domain.
	Owner any
}

// ServiceInfo is the subset of a registry service needed to build its
// records.
type ServiceInfo struct {
	Instance message.Domain // Name._http._tcp.local
	Type     message.Domain // _http._tcp.local
	Host     message.Domain // device.local
	Port     uint16
	TXT      []message.TXTEntry

	// Owner is the compression identity of Instance and Type; HostOwner that
	// of Host.
	Owner     any
	HostOwner any
}

// serviceTypeOwner distinguishes the service-type name of a service from
// its instance name in the compression cache.
type serviceTypeOwner struct{ owner any }

// BuildHostRecords returns the host records selected by content, in
// the order A, AAAA, reverse IPv4 PTR, reverse IPv6 PTR. Records whose
// address is unknown are skipped.
func BuildHostRecords(h *HostInfo, content protocol.Content, mode TTLMode) []ResourceRecord {
	var out []ResourceRecord
	flush := mode != TTLLegacy
	ttl := mode.ttl(protocol.TTLHost)

	if content&protocol.ContentA != 0 && h.IPv4.Is4() {
		out = append(out, ResourceRecord{
			Record: message.Record{
				Name: h.Domain, Type: protocol.RecordTypeA, Class: protocol.ClassIN,
				CacheFlush: flush, TTL: ttl, Data: &message.A{Addr: h.IPv4},
			},
			Owner: message.Owner{Name: h.Owner},
		})
	}
	if content&protocol.ContentAAAA != 0 && h.IPv6.Is6() && !h.IPv6.Is4In6() {
		out = append(out, ResourceRecord{
			Record: message.Record{
				Name: h.Domain, Type: protocol.RecordTypeAAAA, Class: protocol.ClassIN,
				CacheFlush: flush, TTL: ttl, Data: &message.AAAA{Addr: h.IPv6},
			},
			Owner: message.Owner{Name: h.Owner},
		})
	}
	if content&protocol.ContentPTRIPv4 != 0 && h.IPv4.Is4() {
		if rev, err := message.ReverseIPv4Domain(h.IPv4); err == nil {
			out = append(out, ResourceRecord{
				Record: message.Record{
					Name: rev, Type: protocol.RecordTypePTR, Class: protocol.ClassIN,
					CacheFlush: flush, TTL: ttl, Data: &message.PTR{Target: h.Domain},
				},
				Owner: message.Owner{Target: h.Owner},
			})
		}
	}
	if content&protocol.ContentPTRIPv6 != 0 && h.IPv6.Is6() && !h.IPv6.Is4In6() {
		if rev, err := message.ReverseIPv6Domain(h.IPv6); err == nil {
			out = append(out, ResourceRecord{
				Record: message.Record{
					Name: rev, Type: protocol.RecordTypePTR, Class: protocol.ClassIN,
					CacheFlush: flush, TTL: ttl, Data: &message.PTR{Target: h.Domain},
				},
				Owner: message.Owner{Target: h.Owner},
			})
		}
	}
	return out
}

// BuildServiceRecords returns the service records selected by content, in
// the order DNS-SD enumeration PTR, PTR by name, SRV, TXT.
//
// The two PTR records are shared records and never carry the cache-flush
// bit (RFC 6762 §10.2).
func BuildServiceRecords(s *ServiceInfo, content protocol.Content, mode TTLMode) []ResourceRecord {
	var out []ResourceRecord
	flush := mode != TTLLegacy
	ttl := mode.ttl(protocol.TTLService)
	typeOwner := ownerOrNil(s.Owner)

	if content&protocol.ContentPTRType != 0 {
		out = append(out, ResourceRecord{
			Record: message.Record{
				Name: message.DNSSDDomain(), Type: protocol.RecordTypePTR, Class: protocol.ClassIN,
				TTL: ttl, Data: &message.PTR{Target: s.Type},
			},
			Owner: message.Owner{Target: typeOwner},
		})
	}
	if content&protocol.ContentPTRName != 0 {
		out = append(out, ResourceRecord{
			Record: message.Record{
				Name: s.Type, Type: protocol.RecordTypePTR, Class: protocol.ClassIN,
				TTL: ttl, Data: &message.PTR{Target: s.Instance},
			},
			Owner: message.Owner{Name: typeOwner, Target: s.Owner},
		})
	}
	if content&protocol.ContentSRV != 0 {
		out = append(out, ResourceRecord{
			Record: message.Record{
				Name: s.Instance, Type: protocol.RecordTypeSRV, Class: protocol.ClassIN,
				CacheFlush: flush, TTL: ttl,
				Data: &message.SRV{
					Priority: protocol.SRVPriority,
					Weight:   protocol.SRVWeight,
					Port:     s.Port,
					Target:   s.Host,
				},
			},
			Owner: message.Owner{Name: s.Owner, Target: s.HostOwner},
		})
	}
	if content&protocol.ContentTXT != 0 {
		out = append(out, ResourceRecord{
			Record: message.Record{
				Name: s.Instance, Type: protocol.RecordTypeTXT, Class: protocol.ClassIN,
				CacheFlush: flush, TTL: ttl, Data: &message.TXT{Entries: s.TXT},
			},
			Owner: message.Owner{Name: s.Owner},
		})
	}
	return out
}

func ownerOrNil(owner any) any {
	if owner == nil {
		return nil
	}
	return serviceTypeOwner{owner}
}

// TXTSize returns the encoded size of entries as a TXT RDATA.
func TXTSize(entries []message.TXTEntry) int {
	if len(entries) == 0 {
		return 1
	}
	n := 0
	for _, e := range entries {
		n += e.EncodedLen()
	}
	return n
}
