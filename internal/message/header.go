package message

import "github.com/joshuafuller/tinymdns/internal/protocol"

// HeaderSize is the fixed size of the DNS message header.
const HeaderSize = 12

// Header is the DNS message header (RFC 1035 §4.1.1).
type Header struct {
	ID      uint16
	Flags   uint16
	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

// IsResponse reports whether the QR bit is set.
func (h Header) IsResponse() bool {
	return h.Flags&protocol.FlagQR != 0
}

// IsAuthoritative reports whether the AA bit is set.
func (h Header) IsAuthoritative() bool {
	return h.Flags&protocol.FlagAA != 0
}

// IsTruncated reports whether the TC bit is set.
func (h Header) IsTruncated() bool {
	return h.Flags&protocol.FlagTC != 0
}

// Opcode returns the 4-bit opcode.
func (h Header) Opcode() uint8 {
	return uint8(h.Flags>>11) & 0x0F
}

// RCode returns the 4-bit response code.
func (h Header) RCode() uint8 {
	return uint8(h.Flags & 0x0F)
}
