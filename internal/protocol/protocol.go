// Package protocol defines the wire constants and timing parameters of
// Multicast DNS (RFC 6762) and DNS-Based Service Discovery (RFC 6763).
package protocol

import (
	"strconv"
	"time"

	"github.com/miekg/dns"
)

// RFC 6762 §5: mDNS port and link-local multicast groups.
const (
	Port              = 5353
	MulticastAddrIPv4 = "224.0.0.251"
	MulticastAddrIPv6 = "ff02::fb"
)

// MaxMessageSize bounds every message we build (RFC 6762 §17).
const MaxMessageSize = 9000

// RFC 1035 §2.3.4: name limits.
const (
	MaxLabelLength  = 63
	MaxDomainLength = 255
)

// MaxTXTLength is the upper bound for the encoded TXT record of one service.
const MaxTXTLength = 1300

// Resource record TTLs in seconds.
const (
	TTLHost    uint32 = 120
	TTLService uint32 = 4500
	TTLLegacy  uint32 = 10 // RFC 6762 §6.7
)

// SRV priority and weight written into every SRV answer.
const (
	SRVPriority uint16 = 0
	SRVWeight   uint16 = 0
)

// Probing and announcing timing (RFC 6762 §8).
const (
	ProbeDelay    = 250 * time.Millisecond
	ProbeCount    = 3
	AnnounceDelay = 1 * time.Second
	AnnounceCount = 3
)

// Dynamic queries are resent after DynamicQueryResendDelay * 2^n, n capped
// at MaxResendExponent.
const (
	DynamicQueryResendDelay = 1 * time.Second
	MaxResendExponent       = 12
)

// GoodbyeDelay is the deletion countdown armed by a TTL=0 record (RFC 6762 §10.1).
const GoodbyeDelay = 1 * time.Second

// Class values and the overloaded top bit of the class field.
const (
	ClassIN  uint16 = 1
	ClassANY uint16 = 255

	// ClassTopBit is cache-flush in answers (RFC 6762 §10.2) and
	// unicast-response in questions (RFC 6762 §5.4).
	ClassTopBit uint16 = 0x8000
	ClassMask   uint16 = 0x7FFF
)

// Header flag bits (RFC 1035 §4.1.1).
const (
	FlagQR uint16 = 0x8000
	FlagAA uint16 = 0x0400
	FlagTC uint16 = 0x0200
	FlagRD uint16 = 0x0100
	FlagRA uint16 = 0x0080
)

// Well-known domain labels.
const (
	DomainLocal   = "local"
	DomainDNSSD   = "_dns-sd"
	DomainService = "_services"
	DomainUDP     = "_udp"
	DomainInAddr  = "in-addr"
	DomainIP6     = "ip6"
	DomainArpa    = "arpa"
)

// RecordType is a DNS resource record type.
type RecordType uint16

// Record types used by the responder.
const (
	RecordTypeA    RecordType = 1
	RecordTypePTR  RecordType = 12
	RecordTypeTXT  RecordType = 16
	RecordTypeAAAA RecordType = 28
	RecordTypeSRV  RecordType = 33
	RecordTypeNSEC RecordType = 47
	RecordTypeANY  RecordType = 255
)

// String returns the mnemonic of the record type, e.g. "PTR".
func (t RecordType) String() string {
	if s, ok := dns.TypeToString[uint16(t)]; ok {
		return s
	}
	return "TYPE" + strconv.Itoa(int(t))
}

// ClassString returns the mnemonic of a class value with the top bit removed.
func ClassString(class uint16) string {
	if s, ok := dns.ClassToString[class&ClassMask]; ok {
		return s
	}
	return "CLASS" + strconv.Itoa(int(class&ClassMask))
}

// Content is the reply mask computed for the host and for each service.
type Content uint8

// Reply content flags.
const (
	ContentA       Content = 0x01 // host A
	ContentPTRIPv4 Content = 0x02 // reverse IPv4 PTR
	ContentPTRIPv6 Content = 0x04 // reverse IPv6 PTR
	ContentAAAA    Content = 0x08 // host AAAA
	ContentPTRType Content = 0x10 // _services._dns-sd._udp.local -> service type
	ContentPTRName Content = 0x20 // service type -> instance
	ContentTXT     Content = 0x40
	ContentSRV     Content = 0x80
)

// HostContent is every flag that belongs to the host.
const HostContent = ContentA | ContentPTRIPv4 | ContentPTRIPv6 | ContentAAAA

// ServiceContent is every flag that belongs to a service.
const ServiceContent = ContentPTRType | ContentPTRName | ContentTXT | ContentSRV
