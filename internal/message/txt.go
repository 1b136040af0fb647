package message

import (
	"fmt"
	"strings"

	"github.com/joshuafuller/tinymdns/internal/errors"
)

// TXTEntry is one DNS-SD attribute. An empty Value without Empty is a
// boolean attribute encoded as the bare key; with Empty it is "key=", an
// attribute whose value is empty (RFC 6763 §6.4).
type TXTEntry struct {
	Key   string
	Value string
	Empty bool
}

func (e TXTEntry) hasValue() bool {
	return e.Value != "" || e.Empty
}

func (e TXTEntry) String() string {
	if !e.hasValue() {
		return e.Key
	}
	return e.Key + "=" + e.Value
}

// EncodedLen is the number of bytes the entry needs, length byte included.
func (e TXTEntry) EncodedLen() int {
	n := 1 + len(e.Key)
	if e.hasValue() {
		n += 1 + len(e.Value)
	}
	return n
}

// EncodeTXT encodes entries as a sequence of length-prefixed strings.
//
// RFC 6763 §6.1: an empty TXT record MUST contain a single zero byte.
func EncodeTXT(entries []TXTEntry) ([]byte, error) {
	if len(entries) == 0 {
		return []byte{0x00}, nil
	}
	var out []byte
	for _, e := range entries {
		s := e.String()
		if len(s) > 255 {
			return nil, fmt.Errorf("%w: TXT entry %q has %d bytes", errors.ErrAllocationFailed, e.Key, len(s))
		}
		out = append(out, byte(len(s)))
		out = append(out, s...)
	}
	return out, nil
}

// DecodeTXT splits TXT RDATA into entries. Empty strings are skipped, so
// the mandatory single zero byte decodes to no entries.
func DecodeTXT(data []byte) ([]TXTEntry, error) {
	var entries []TXTEntry
	for i := 0; i < len(data); {
		n := int(data[i])
		i++
		if i+n > len(data) {
			return nil, &errors.MalformedMessageError{Offset: i, Reason: "TXT string exceeds RDATA"}
		}
		s := string(data[i : i+n])
		i += n
		if s == "" {
			continue
		}
		key, value, hasValue := strings.Cut(s, "=")
		if key == "" {
			// RFC 6763 §6.4: strings starting with '=' are silently ignored.
			continue
		}
		entries = append(entries, TXTEntry{Key: key, Value: value, Empty: hasValue && value == ""})
	}
	return entries, nil
}

// TXTEntriesEqual compares two entry lists as sets keyed case-insensitively.
func TXTEntriesEqual(a, b []TXTEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for _, ea := range a {
		found := false
		for _, eb := range b {
			if strings.EqualFold(ea.Key, eb.Key) && ea.Value == eb.Value && ea.hasValue() == eb.hasValue() {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
