package message

import (
	"encoding/binary"
	"fmt"

	"github.com/joshuafuller/tinymdns/internal/errors"
	"github.com/joshuafuller/tinymdns/internal/protocol"
)

// Owner identifies the objects a record's names belong to. The writer keeps
// one compression offset per (owner, section) pair: a name written once in
// the answer section and once in the additional section is stored twice.
// A nil owner falls back to the case-folded name itself.
type Owner struct {
	Name   any
	Target any
}

type compressionKey struct {
	owner      any
	additional bool
}

// Writer encodes a message into a size-limited buffer.
type Writer struct {
	buf     []byte
	limit   int
	offsets map[compressionKey]int
}

// NewWriter returns a Writer bounded by protocol.MaxMessageSize.
func NewWriter() *Writer {
	return NewWriterSize(protocol.MaxMessageSize)
}

// NewWriterSize returns a Writer bounded by limit bytes.
func NewWriterSize(limit int) *Writer {
	return &Writer{
		buf:     make([]byte, 0, 512),
		limit:   limit,
		offsets: make(map[compressionKey]int),
	}
}

// Bytes returns the encoded message.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the number of bytes written.
func (w *Writer) Len() int {
	return len(w.buf)
}

func (w *Writer) reserve(n int) error {
	if len(w.buf)+n > w.limit {
		return fmt.Errorf("%w: message exceeds %d bytes", errors.ErrAllocationFailed, w.limit)
	}
	return nil
}

func (w *Writer) writeUint16(v uint16) error {
	if err := w.reserve(2); err != nil {
		return err
	}
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
	return nil
}

func (w *Writer) writeUint32(v uint32) error {
	if err := w.reserve(4); err != nil {
		return err
	}
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
	return nil
}

// WriteHeader appends the 12-byte header.
func (w *Writer) WriteHeader(h Header) error {
	if err := w.reserve(HeaderSize); err != nil {
		return err
	}
	for _, v := range []uint16{h.ID, h.Flags, h.QDCount, h.ANCount, h.NSCount, h.ARCount} {
		w.buf = binary.BigEndian.AppendUint16(w.buf, v)
	}
	return nil
}

// WriteDomain appends d, replacing it by a back-reference when the same
// (owner, section) pair has been written before.
func (w *Writer) WriteDomain(d Domain, owner any, additional bool) error {
	if d.IsZero() {
		if err := w.reserve(1); err != nil {
			return err
		}
		w.buf = append(w.buf, 0)
		return nil
	}

	if owner == nil {
		owner = d.key()
	}
	key := compressionKey{owner: owner, additional: additional}
	if off, ok := w.offsets[key]; ok {
		return w.writeUint16(uint16(compressionMark)<<8 | uint16(off))
	}

	if err := w.reserve(d.EncodedLen()); err != nil {
		return err
	}
	start := len(w.buf)
	w.buf = append(w.buf, d.raw...)
	w.buf = append(w.buf, 0)
	if start <= 0x3FFF {
		w.offsets[key] = start
	}
	return nil
}

// WriteQuestion appends a question; UnicastResponse sets the QU bit.
func (w *Writer) WriteQuestion(q Question, owner any) error {
	if err := w.WriteDomain(q.Name, owner, false); err != nil {
		return err
	}
	if err := w.writeUint16(uint16(q.Type)); err != nil {
		return err
	}
	class := q.Class & protocol.ClassMask
	if q.UnicastResponse {
		class |= protocol.ClassTopBit
	}
	return w.writeUint16(class)
}

// WriteRecord appends a resource record. additional selects the
// compression namespace of the additional-records section.
func (w *Writer) WriteRecord(rr *Record, additional bool, owner Owner) error {
	if err := w.WriteDomain(rr.Name, owner.Name, additional); err != nil {
		return err
	}
	if err := w.writeUint16(uint16(rr.Type)); err != nil {
		return err
	}
	class := rr.Class & protocol.ClassMask
	if rr.CacheFlush {
		class |= protocol.ClassTopBit
	}
	if err := w.writeUint16(class); err != nil {
		return err
	}
	if err := w.writeUint32(rr.TTL); err != nil {
		return err
	}

	lengthAt := len(w.buf)
	if err := w.writeUint16(0); err != nil {
		return err
	}
	if err := w.writeRData(rr.Data, additional, owner.Target); err != nil {
		return err
	}
	rdlength := len(w.buf) - lengthAt - 2
	binary.BigEndian.PutUint16(w.buf[lengthAt:], uint16(rdlength))
	return nil
}

func (w *Writer) writeRData(data RData, additional bool, target any) error {
	switch rd := data.(type) {
	case *A:
		if !rd.Addr.Is4() {
			return &errors.ValidationError{Field: "A", Value: rd.Addr, Message: "not an IPv4 address"}
		}
		b := rd.Addr.As4()
		return w.writeBytes(b[:])

	case *AAAA:
		if !rd.Addr.Is6() {
			return &errors.ValidationError{Field: "AAAA", Value: rd.Addr, Message: "not an IPv6 address"}
		}
		b := rd.Addr.As16()
		return w.writeBytes(b[:])

	case *PTR:
		return w.WriteDomain(rd.Target, target, additional)

	case *SRV:
		for _, v := range []uint16{rd.Priority, rd.Weight, rd.Port} {
			if err := w.writeUint16(v); err != nil {
				return err
			}
		}
		return w.WriteDomain(rd.Target, target, additional)

	case *TXT:
		b, err := EncodeTXT(rd.Entries)
		if err != nil {
			return err
		}
		return w.writeBytes(b)

	case *Generic:
		return w.writeBytes(rd.Raw)

	case nil:
		return nil

	default:
		return fmt.Errorf("unsupported RDATA %T", data)
	}
}

func (w *Writer) writeBytes(b []byte) error {
	if err := w.reserve(len(b)); err != nil {
		return err
	}
	w.buf = append(w.buf, b...)
	return nil
}
