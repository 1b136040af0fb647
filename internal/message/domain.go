// Package message implements the mDNS wire codec: domain names with
// compression (RFC 1035 §4.1.4), the 12-byte header, questions and the
// resource records used by DNS-SD (A, AAAA, PTR, SRV, TXT) plus an opaque
// fallback for every other type.
package message

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"net/netip"
	"strings"

	"github.com/joshuafuller/tinymdns/internal/errors"
	"github.com/joshuafuller/tinymdns/internal/protocol"
)

// Domain is a sequence of DNS labels.
//
// The labels are stored in wire form (length-prefixed, without the
// terminating zero). A Domain never aliases the storage of another Domain,
// so a copied value is safe to append to.
type Domain struct {
	raw    []byte
	str    string
	cached bool
}

// AppendLabel appends one label, optionally prefixed with '_'.
//
// RFC 1035 §2.3.4: labels are limited to 63 bytes and names to 255 bytes
// including length bytes and the terminating zero. On failure the domain is
// left unchanged.
func (d *Domain) AppendLabel(label string, underscore bool) error {
	n := len(label)
	if underscore {
		n++
	}
	if n == 0 {
		return &errors.ValidationError{Field: "label", Value: label, Message: "label must not be empty"}
	}
	if n > protocol.MaxLabelLength {
		return fmt.Errorf("%w: %q has %d bytes", errors.ErrLabelTooLong, label, n)
	}
	if len(d.raw)+1+n+1 > protocol.MaxDomainLength {
		return fmt.Errorf("%w: appending %q", errors.ErrDomainTooLong, label)
	}

	raw := make([]byte, len(d.raw), len(d.raw)+1+n)
	copy(raw, d.raw)
	raw = append(raw, byte(n))
	if underscore {
		raw = append(raw, '_')
	}
	raw = append(raw, label...)
	d.raw = raw
	d.cached = false
	return nil
}

// AppendDomain appends every label of other.
func (d *Domain) AppendDomain(other Domain) error {
	if len(d.raw)+len(other.raw)+1 > protocol.MaxDomainLength {
		return fmt.Errorf("%w: appending %q", errors.ErrDomainTooLong, other.String())
	}
	raw := make([]byte, 0, len(d.raw)+len(other.raw))
	raw = append(raw, d.raw...)
	raw = append(raw, other.raw...)
	d.raw = raw
	d.cached = false
	return nil
}

// appendRawLabel is used by the decoder; label has already been bounded.
func (d *Domain) appendRawLabel(label []byte) error {
	if len(d.raw)+1+len(label)+1 > protocol.MaxDomainLength {
		return errors.ErrDomainTooLong
	}
	d.raw = append(d.raw, byte(len(label)))
	d.raw = append(d.raw, label...)
	d.cached = false
	return nil
}

// String returns the dot-joined labels without a trailing dot.
func (d *Domain) String() string {
	if d.cached {
		return d.str
	}
	d.str = strings.Join(d.Labels(), ".")
	d.cached = true
	return d.str
}

// Labels returns the labels in order.
func (d Domain) Labels() []string {
	var labels []string
	for i := 0; i < len(d.raw); {
		n := int(d.raw[i])
		labels = append(labels, string(d.raw[i+1:i+1+n]))
		i += 1 + n
	}
	return labels
}

// LabelCount returns the number of labels.
func (d Domain) LabelCount() int {
	count := 0
	for i := 0; i < len(d.raw); i += 1 + int(d.raw[i]) {
		count++
	}
	return count
}

// FirstLabel returns the leftmost label, or "" for the root.
func (d Domain) FirstLabel() string {
	if len(d.raw) == 0 {
		return ""
	}
	return string(d.raw[1 : 1+int(d.raw[0])])
}

// EncodedLen is the number of bytes the uncompressed name occupies on the wire.
func (d Domain) EncodedLen() int {
	return len(d.raw) + 1
}

// IsZero reports whether d is the root (no labels).
func (d Domain) IsZero() bool {
	return len(d.raw) == 0
}

// Equal compares two domains label by label, ignoring ASCII case.
func (d Domain) Equal(other Domain) bool {
	if len(d.raw) != len(other.raw) {
		return false
	}
	for i := 0; i < len(d.raw); {
		n := int(d.raw[i])
		if int(other.raw[i]) != n {
			return false
		}
		if !asciiEqualFold(d.raw[i+1:i+1+n], other.raw[i+1:i+1+n]) {
			return false
		}
		i += 1 + n
	}
	return true
}

// Compare orders two domains by their encoded bytes. It is the comparison
// used to break SRV probe ties: the domain with the greater encoding wins.
func (d Domain) Compare(other Domain) int {
	return bytes.Compare(d.raw, other.raw)
}

// key returns a case-folded representation usable as a map key.
func (d Domain) key() string {
	b := make([]byte, len(d.raw))
	for i, c := range d.raw {
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		b[i] = c
	}
	return string(b)
}

func asciiEqualFold(a, b []byte) bool {
	for i := range a {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// ParseDomain builds a domain from dotted notation. A trailing dot is ignored.
func ParseDomain(name string) (Domain, error) {
	var d Domain
	name = strings.TrimSuffix(name, ".")
	if name == "" {
		return d, nil
	}
	for _, label := range strings.Split(name, ".") {
		if err := d.AppendLabel(label, false); err != nil {
			return Domain{}, err
		}
	}
	return d, nil
}

// MustParseDomain is like ParseDomain but panics on error. It is meant for
// constants and tests.
func MustParseDomain(name string) Domain {
	d, err := ParseDomain(name)
	if err != nil {
		panic(err)
	}
	return d
}

// HostDomain builds "host.local".
func HostDomain(host string) (Domain, error) {
	var d Domain
	if err := d.AppendLabel(host, false); err != nil {
		return Domain{}, err
	}
	if err := d.AppendLabel(protocol.DomainLocal, false); err != nil {
		return Domain{}, err
	}
	return d, nil
}

// ServiceTypeDomain builds "_service._proto.local". Leading underscores in
// service and proto are optional.
func ServiceTypeDomain(service, proto string) (Domain, error) {
	var d Domain
	if err := appendUnderscored(&d, service); err != nil {
		return Domain{}, err
	}
	if err := appendUnderscored(&d, proto); err != nil {
		return Domain{}, err
	}
	if err := d.AppendLabel(protocol.DomainLocal, false); err != nil {
		return Domain{}, err
	}
	return d, nil
}

// ServiceInstanceDomain builds "instance._service._proto.local".
func ServiceInstanceDomain(instance, service, proto string) (Domain, error) {
	var d Domain
	if err := d.AppendLabel(instance, false); err != nil {
		return Domain{}, err
	}
	typeDomain, err := ServiceTypeDomain(service, proto)
	if err != nil {
		return Domain{}, err
	}
	if err := d.AppendDomain(typeDomain); err != nil {
		return Domain{}, err
	}
	return d, nil
}

// DNSSDDomain builds the service type enumeration domain
// "_services._dns-sd._udp.local" (RFC 6763 §9).
func DNSSDDomain() Domain {
	var d Domain
	for _, label := range []string{protocol.DomainService, protocol.DomainDNSSD, protocol.DomainUDP, protocol.DomainLocal} {
		_ = d.AppendLabel(label, false)
	}
	return d
}

// ReverseIPv4Domain builds "d.c.b.a.in-addr.arpa".
func ReverseIPv4Domain(addr netip.Addr) (Domain, error) {
	if !addr.Is4() {
		return Domain{}, &errors.ValidationError{Field: "address", Value: addr, Message: "not an IPv4 address"}
	}
	var d Domain
	b := addr.As4()
	for i := len(b) - 1; i >= 0; i-- {
		if err := d.AppendLabel(fmt.Sprint(b[i]), false); err != nil {
			return Domain{}, err
		}
	}
	if err := d.AppendLabel(protocol.DomainInAddr, false); err != nil {
		return Domain{}, err
	}
	if err := d.AppendLabel(protocol.DomainArpa, false); err != nil {
		return Domain{}, err
	}
	return d, nil
}

// ReverseIPv6Domain builds the nibble-reversed "...ip6.arpa" name.
func ReverseIPv6Domain(addr netip.Addr) (Domain, error) {
	if !addr.Is6() || addr.Is4In6() {
		return Domain{}, &errors.ValidationError{Field: "address", Value: addr, Message: "not an IPv6 address"}
	}
	var d Domain
	b := addr.As16()
	nibbles := hex.EncodeToString(b[:])
	for i := len(nibbles) - 1; i >= 0; i-- {
		if err := d.AppendLabel(nibbles[i:i+1], false); err != nil {
			return Domain{}, err
		}
	}
	if err := d.AppendLabel(protocol.DomainIP6, false); err != nil {
		return Domain{}, err
	}
	if err := d.AppendLabel(protocol.DomainArpa, false); err != nil {
		return Domain{}, err
	}
	return d, nil
}

func appendUnderscored(d *Domain, label string) error {
	if strings.HasPrefix(label, "_") {
		return d.AppendLabel(label, false)
	}
	return d.AppendLabel(label, true)
}
