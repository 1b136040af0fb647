package message

import (
	"bytes"
	"fmt"
	"net/netip"

	"github.com/joshuafuller/tinymdns/internal/protocol"
)

// Question is one entry of the question section.
type Question struct {
	Name  Domain
	Type  protocol.RecordType
	Class uint16 // top bit removed

	// UnicastResponse is the QU bit (RFC 6762 §5.4).
	UnicastResponse bool
}

// Record is a resource record of the answer, authority or additional
// section.
type Record struct {
	Name  Domain
	Type  protocol.RecordType
	Class uint16 // top bit removed

	// CacheFlush is the top bit of the class field (RFC 6762 §10.2).
	CacheFlush bool

	TTL  uint32
	Data RData
}

// RData is the type-specific part of a record: one of *A, *AAAA, *PTR,
// *SRV, *TXT or *Generic.
type RData interface {
	// Equal reports whether other carries the same resource value.
	Equal(other RData) bool
	String() string

	rdata()
}

// A is an IPv4 host address.
type A struct {
	Addr netip.Addr
}

// AAAA is an IPv6 host address.
type AAAA struct {
	Addr netip.Addr
}

// PTR points to another domain.
type PTR struct {
	Target Domain
}

// SRV locates a service instance (RFC 2782).
type SRV struct {
	Priority uint16
	Weight   uint16
	Port     uint16
	Target   Domain
}

// TXT carries DNS-SD key/value attributes (RFC 6763 §6).
type TXT struct {
	Entries []TXTEntry
}

// Generic keeps the RDATA of unsupported types untouched.
type Generic struct {
	Raw []byte
}

func (*A) rdata()       {}
func (*AAAA) rdata()    {}
func (*PTR) rdata()     {}
func (*SRV) rdata()     {}
func (*TXT) rdata()     {}
func (*Generic) rdata() {}

func (r *A) Equal(other RData) bool {
	o, ok := other.(*A)
	return ok && r.Addr == o.Addr
}

func (r *AAAA) Equal(other RData) bool {
	o, ok := other.(*AAAA)
	return ok && r.Addr == o.Addr
}

func (r *PTR) Equal(other RData) bool {
	o, ok := other.(*PTR)
	return ok && r.Target.Equal(o.Target)
}

func (r *SRV) Equal(other RData) bool {
	o, ok := other.(*SRV)
	return ok &&
		r.Priority == o.Priority &&
		r.Weight == o.Weight &&
		r.Port == o.Port &&
		r.Target.Equal(o.Target)
}

// Equal compares the entries as a set; order is not significant.
func (r *TXT) Equal(other RData) bool {
	o, ok := other.(*TXT)
	return ok && TXTEntriesEqual(r.Entries, o.Entries)
}

func (r *Generic) Equal(other RData) bool {
	o, ok := other.(*Generic)
	return ok && bytes.Equal(r.Raw, o.Raw)
}

func (r *A) String() string    { return r.Addr.String() }
func (r *AAAA) String() string { return r.Addr.String() }
func (r *PTR) String() string  { return r.Target.String() }

func (r *SRV) String() string {
	return fmt.Sprintf("%d %d %d %s", r.Priority, r.Weight, r.Port, r.Target.String())
}

func (r *TXT) String() string {
	var b bytes.Buffer
	for i, e := range r.Entries {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(e.String())
	}
	return b.String()
}

func (r *Generic) String() string {
	return fmt.Sprintf("\\# %d %x", len(r.Raw), r.Raw)
}

// String renders the record in a zone-file like form for logging.
func (rr *Record) String() string {
	data := "<nil>"
	if rr.Data != nil {
		data = rr.Data.String()
	}
	return fmt.Sprintf("%s %d %s %s %s", rr.Name.String(), rr.TTL, protocol.ClassString(rr.Class), rr.Type, data)
}
