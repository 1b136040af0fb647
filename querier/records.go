// Package querier holds the public result types of mDNS service and host
// queries: the answers collected by a query, the flags that tell which
// part of an answer changed, and a record view of an answer.
package querier

import (
	"net/netip"

	"github.com/joshuafuller/tinymdns/internal/protocol"
)

// RecordType is a DNS record type per RFC 1035 §3.2.2.
//
// DNS-SD discovery uses five of them:
//
//   - PTR enumerates the instances of a service type;
//   - SRV gives the host and port of an instance;
//   - TXT carries the instance's key=value metadata;
//   - A and AAAA resolve the host to addresses.
type RecordType uint16

const (
	// RecordTypeA is an IPv4 address record (type 1).
	RecordTypeA = RecordType(protocol.RecordTypeA)

	// RecordTypePTR is a pointer record (type 12).
	//
	// Example: "_http._tcp.local" → "webserver._http._tcp.local"
	RecordTypePTR = RecordType(protocol.RecordTypePTR)

	// RecordTypeTXT is a text record (type 16).
	//
	// Example: "webserver._http._tcp.local" → ["version=1.0", "path=/"]
	RecordTypeTXT = RecordType(protocol.RecordTypeTXT)

	// RecordTypeAAAA is an IPv6 address record (type 28).
	RecordTypeAAAA = RecordType(protocol.RecordTypeAAAA)

	// RecordTypeSRV is a service record (type 33).
	//
	// Example: "webserver._http._tcp.local" → {Port: 8080, Target: "server.local"}
	RecordTypeSRV = RecordType(protocol.RecordTypeSRV)
)

// String returns the mnemonic of the record type, e.g. "PTR".
func (r RecordType) String() string {
	return protocol.RecordType(r).String()
}

// ResourceRecord is one record of an answer.
//
// Data holds the type-specific value:
//   - A, AAAA: netip.Addr
//   - PTR: string (target domain name)
//   - SRV: SRVData
//   - TXT: []string ("key=value" or "key")
//
// Use AsA, AsAAAA, AsPTR, AsSRV or AsTXT for type-safe access.
type ResourceRecord struct {
	Data interface{}

	// Name is the owner name, e.g. "printer.local".
	Name string

	// TTL is the nominal time-to-live in seconds.
	TTL uint32

	Type RecordType
}

// SRVData is the value of an SRV record per RFC 2782.
type SRVData struct {
	// Target is the host providing the service. Its addresses come from
	// separate A/AAAA records.
	Target string

	Priority uint16
	Weight   uint16
	Port     uint16
}

// AsA returns the IPv4 address of an A record, or the zero Addr otherwise.
func (r *ResourceRecord) AsA() netip.Addr {
	if r.Type != RecordTypeA {
		return netip.Addr{}
	}
	ip, ok := r.Data.(netip.Addr)
	if !ok || !ip.Is4() {
		return netip.Addr{}
	}
	return ip
}

// AsAAAA returns the IPv6 address of an AAAA record, or the zero Addr
// otherwise.
func (r *ResourceRecord) AsAAAA() netip.Addr {
	if r.Type != RecordTypeAAAA {
		return netip.Addr{}
	}
	ip, ok := r.Data.(netip.Addr)
	if !ok || !ip.Is6() {
		return netip.Addr{}
	}
	return ip
}

// AsPTR returns the target of a PTR record, or "" otherwise.
func (r *ResourceRecord) AsPTR() string {
	if r.Type != RecordTypePTR {
		return ""
	}
	target, _ := r.Data.(string)
	return target
}

// AsSRV returns the value of an SRV record, or nil otherwise.
//
// Example:
//
//	for _, record := range info.Records() {
//	    if srv := record.AsSRV(); srv != nil {
//	        fmt.Printf("Service at %s:%d\n", srv.Target, srv.Port)
//	    }
//	}
func (r *ResourceRecord) AsSRV() *SRVData {
	if r.Type != RecordTypeSRV {
		return nil
	}
	srv, ok := r.Data.(SRVData)
	if !ok {
		return nil
	}
	return &srv
}

// AsTXT returns the strings of a TXT record, or nil otherwise.
func (r *ResourceRecord) AsTXT() []string {
	if r.Type != RecordTypeTXT {
		return nil
	}
	txt, ok := r.Data.([]string)
	if !ok {
		return nil
	}
	return txt
}
