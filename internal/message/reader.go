package message

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/joshuafuller/tinymdns/internal/errors"
	"github.com/joshuafuller/tinymdns/internal/protocol"
)

const (
	compressionMark = 0xC0

	// maxRedirections bounds pointer chains in malformed messages.
	maxRedirections = 6
)

// ReadDomain decodes the name starting at off and returns it together with
// the offset just past the name in its original position.
//
// RFC 1035 §4.1.4: a length byte with both top bits set starts a 14-bit
// pointer to an earlier occurrence. Pointers must point strictly backwards
// and at most maxRedirections are followed.
func ReadDomain(msg []byte, off int) (Domain, int, error) {
	var d Domain
	end := -1
	redirections := 0
	pos := off

	for {
		if pos >= len(msg) {
			return Domain{}, 0, malformed(pos, "truncated domain name")
		}
		l := int(msg[pos])

		switch l & compressionMark {
		case 0x00:
			if l == 0 {
				pos++
				if end < 0 {
					end = pos
				}
				return d, end, nil
			}
			if pos+1+l > len(msg) {
				return Domain{}, 0, malformed(pos, "truncated label")
			}
			if err := d.appendRawLabel(msg[pos+1 : pos+1+l]); err != nil {
				return Domain{}, 0, malformed(pos, err.Error())
			}
			pos += 1 + l

		case compressionMark:
			if pos+2 > len(msg) {
				return Domain{}, 0, malformed(pos, "truncated compression pointer")
			}
			ptr := int(binary.BigEndian.Uint16(msg[pos:]) & 0x3FFF)
			if ptr >= pos {
				return Domain{}, 0, malformed(pos, "invalid compression pointer")
			}
			redirections++
			if redirections > maxRedirections {
				return Domain{}, 0, malformed(pos, "too many compression pointers")
			}
			if end < 0 {
				end = pos + 2
			}
			pos = ptr

		default:
			return Domain{}, 0, malformed(pos, fmt.Sprintf("unsupported label type 0x%02x", l&compressionMark))
		}
	}
}

// Reader decodes a message sequentially.
type Reader struct {
	msg []byte
	off int
}

// NewReader returns a Reader positioned at the start of msg.
func NewReader(msg []byte) *Reader {
	return &Reader{msg: msg}
}

// Offset returns the current read position.
func (r *Reader) Offset() int {
	return r.off
}

func (r *Reader) readUint16() (uint16, error) {
	if r.off+2 > len(r.msg) {
		return 0, malformed(r.off, "truncated uint16")
	}
	v := binary.BigEndian.Uint16(r.msg[r.off:])
	r.off += 2
	return v, nil
}

func (r *Reader) readUint32() (uint32, error) {
	if r.off+4 > len(r.msg) {
		return 0, malformed(r.off, "truncated uint32")
	}
	v := binary.BigEndian.Uint32(r.msg[r.off:])
	r.off += 4
	return v, nil
}

// ReadHeader decodes the 12-byte header.
func (r *Reader) ReadHeader() (Header, error) {
	if r.off+HeaderSize > len(r.msg) {
		return Header{}, malformed(r.off, "truncated header")
	}
	b := r.msg[r.off:]
	h := Header{
		ID:      binary.BigEndian.Uint16(b[0:]),
		Flags:   binary.BigEndian.Uint16(b[2:]),
		QDCount: binary.BigEndian.Uint16(b[4:]),
		ANCount: binary.BigEndian.Uint16(b[6:]),
		NSCount: binary.BigEndian.Uint16(b[8:]),
		ARCount: binary.BigEndian.Uint16(b[10:]),
	}
	r.off += HeaderSize
	return h, nil
}

// ReadDomain decodes a name at the current position.
func (r *Reader) ReadDomain() (Domain, error) {
	d, next, err := ReadDomain(r.msg, r.off)
	if err != nil {
		return Domain{}, err
	}
	r.off = next
	return d, nil
}

// ReadQuestion decodes one question.
func (r *Reader) ReadQuestion() (Question, error) {
	name, err := r.ReadDomain()
	if err != nil {
		return Question{}, err
	}
	qtype, err := r.readUint16()
	if err != nil {
		return Question{}, err
	}
	qclass, err := r.readUint16()
	if err != nil {
		return Question{}, err
	}
	return Question{
		Name:            name,
		Type:            protocol.RecordType(qtype),
		Class:           qclass & protocol.ClassMask,
		UnicastResponse: qclass&protocol.ClassTopBit != 0,
	}, nil
}

// ReadRecord decodes one resource record.
func (r *Reader) ReadRecord() (Record, error) {
	name, err := r.ReadDomain()
	if err != nil {
		return Record{}, err
	}
	rtype, err := r.readUint16()
	if err != nil {
		return Record{}, err
	}
	class, err := r.readUint16()
	if err != nil {
		return Record{}, err
	}
	ttl, err := r.readUint32()
	if err != nil {
		return Record{}, err
	}
	rdlength, err := r.readUint16()
	if err != nil {
		return Record{}, err
	}
	start := r.off
	end := start + int(rdlength)
	if end > len(r.msg) {
		return Record{}, malformed(start, "RDATA exceeds message")
	}

	rr := Record{
		Name:       name,
		Type:       protocol.RecordType(rtype),
		Class:      class & protocol.ClassMask,
		CacheFlush: class&protocol.ClassTopBit != 0,
		TTL:        ttl,
	}
	rr.Data, err = r.readRData(rr.Type, start, end)
	if err != nil {
		return Record{}, err
	}
	r.off = end
	return rr, nil
}

func (r *Reader) readRData(rtype protocol.RecordType, start, end int) (RData, error) {
	data := r.msg[start:end]

	switch rtype {
	case protocol.RecordTypeA:
		if len(data) != 4 {
			return nil, malformed(start, "A RDATA must be 4 bytes")
		}
		return &A{Addr: netip.AddrFrom4([4]byte(data))}, nil

	case protocol.RecordTypeAAAA:
		if len(data) != 16 {
			return nil, malformed(start, "AAAA RDATA must be 16 bytes")
		}
		return &AAAA{Addr: netip.AddrFrom16([16]byte(data))}, nil

	case protocol.RecordTypePTR:
		target, next, err := ReadDomain(r.msg, start)
		if err != nil {
			return nil, err
		}
		if next != end {
			return nil, malformed(start, "PTR RDATA length mismatch")
		}
		return &PTR{Target: target}, nil

	case protocol.RecordTypeSRV:
		if len(data) < 7 {
			return nil, malformed(start, "SRV RDATA too short")
		}
		target, next, err := ReadDomain(r.msg, start+6)
		if err != nil {
			return nil, err
		}
		if next != end {
			return nil, malformed(start, "SRV RDATA length mismatch")
		}
		return &SRV{
			Priority: binary.BigEndian.Uint16(data[0:]),
			Weight:   binary.BigEndian.Uint16(data[2:]),
			Port:     binary.BigEndian.Uint16(data[4:]),
			Target:   target,
		}, nil

	case protocol.RecordTypeTXT:
		entries, err := DecodeTXT(data)
		if err != nil {
			return nil, err
		}
		return &TXT{Entries: entries}, nil

	default:
		raw := make([]byte, len(data))
		copy(raw, data)
		return &Generic{Raw: raw}, nil
	}
}

func malformed(off int, reason string) error {
	return &errors.MalformedMessageError{Offset: off, Reason: reason}
}
