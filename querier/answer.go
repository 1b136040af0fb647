package querier

import (
	"net/netip"
	"strings"

	"github.com/joshuafuller/tinymdns/internal/protocol"
)

// AnswerType is a set of answer parts. A Callback receives the parts that
// were added or removed.
type AnswerType uint8

const (
	// AnswerServiceDomain is the instance name, from a PTR record.
	AnswerServiceDomain AnswerType = 0x01
	// AnswerHostDomainAndPort is the host and port, from an SRV record. For
	// host queries it is the host itself.
	AnswerHostDomainAndPort AnswerType = 0x02
	// AnswerTXT is the metadata, from a TXT record.
	AnswerTXT AnswerType = 0x04
	// AnswerIPv4 is an address from an A record.
	AnswerIPv4 AnswerType = 0x08
	// AnswerIPv6 is an address from an AAAA record.
	AnswerIPv6 AnswerType = 0x10
)

// String lists the parts, e.g. "ServiceDomain|TXT".
func (t AnswerType) String() string {
	names := []struct {
		bit  AnswerType
		name string
	}{
		{AnswerServiceDomain, "ServiceDomain"},
		{AnswerHostDomainAndPort, "HostDomainAndPort"},
		{AnswerTXT, "TXT"},
		{AnswerIPv4, "IPv4"},
		{AnswerIPv6, "IPv6"},
	}
	var parts []string
	for _, n := range names {
		if t&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "None"
	}
	return strings.Join(parts, "|")
}

// TXTItem is one key/value pair of a TXT record. An empty Value is a
// boolean attribute (RFC 6763 §6.4) unless Empty reports "key=".
type TXTItem struct {
	Key   string
	Value string
	Empty bool
}

// AnswerInfo is a snapshot of one answer of a query.
type AnswerInfo struct {
	// Query is the handle of the query the answer belongs to.
	Query uint32

	// ServiceDomain is the instance, e.g. "Printer._http._tcp.local". It is
	// empty for host queries.
	ServiceDomain string

	HostDomain string
	Port       uint16

	TXT  []TXTItem
	IPv4 []netip.Addr
	IPv6 []netip.Addr

	// Content has a bit set for every part that is known.
	Content AnswerType
}

// Callback is invoked when parts of an answer of a dynamic query are added
// (added=true) or removed. It runs on the responder's goroutine after the
// responder's lock has been released, so it may call back into the
// responder.
type Callback func(info AnswerInfo, changed AnswerType, added bool)

// Has reports whether every part in t is known.
func (a *AnswerInfo) Has(t AnswerType) bool {
	return a.Content&t == t
}

// InstanceName returns the first label of the service domain, e.g.
// "Printer".
func (a *AnswerInfo) InstanceName() string {
	name, _, _ := strings.Cut(a.ServiceDomain, ".")
	return name
}

// KeyValues returns the TXT items as a map. Keys are lower-cased because
// DNS-SD keys are case-insensitive.
func (a *AnswerInfo) KeyValues() map[string]string {
	m := make(map[string]string, len(a.TXT))
	for _, item := range a.TXT {
		m[strings.ToLower(item.Key)] = item.Value
	}
	return m
}

// Value returns the TXT value stored for key.
func (a *AnswerInfo) Value(key string) (string, bool) {
	for _, item := range a.TXT {
		if strings.EqualFold(item.Key, key) {
			return item.Value, true
		}
	}
	return "", false
}

// Records returns the answer as resource records in discovery order:
// PTR, SRV, TXT, A, AAAA. TTLs are the nominal mDNS values.
func (a *AnswerInfo) Records(serviceType string) []ResourceRecord {
	var out []ResourceRecord
	if a.Has(AnswerServiceDomain) && serviceType != "" {
		out = append(out, ResourceRecord{
			Name: serviceType, Type: RecordTypePTR, TTL: protocol.TTLService, Data: a.ServiceDomain,
		})
	}
	if a.Has(AnswerHostDomainAndPort) && a.ServiceDomain != "" {
		out = append(out, ResourceRecord{
			Name: a.ServiceDomain, Type: RecordTypeSRV, TTL: protocol.TTLService,
			Data: SRVData{Target: a.HostDomain, Port: a.Port,
				Priority: protocol.SRVPriority, Weight: protocol.SRVWeight},
		})
	}
	if a.Has(AnswerTXT) {
		txt := make([]string, len(a.TXT))
		for i, item := range a.TXT {
			txt[i] = item.Key
			if item.Value != "" || item.Empty {
				txt[i] += "=" + item.Value
			}
		}
		out = append(out, ResourceRecord{Name: a.ServiceDomain, Type: RecordTypeTXT, TTL: protocol.TTLService, Data: txt})
	}
	for _, ip := range a.IPv4 {
		out = append(out, ResourceRecord{Name: a.HostDomain, Type: RecordTypeA, TTL: protocol.TTLHost, Data: ip})
	}
	for _, ip := range a.IPv6 {
		out = append(out, ResourceRecord{Name: a.HostDomain, Type: RecordTypeAAAA, TTL: protocol.TTLHost, Data: ip})
	}
	return out
}
