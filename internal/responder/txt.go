package responder

import (
	"fmt"
	"strings"

	"github.com/joshuafuller/tinymdns/internal/errors"
	"github.com/joshuafuller/tinymdns/internal/message"
	"github.com/joshuafuller/tinymdns/internal/protocol"
)

// TXTItem is one key/value attribute of a service.
type TXTItem struct {
	Key   string
	Value string

	// Temporary items come from a dynamic TXT callback and are dropped
	// once the message that needed them has been built.
	Temporary bool
}

// TXTs is the ordered attribute list of a service. Keys are unique,
// compared without regard to case (RFC 6763 §6.4).
type TXTs struct {
	items []TXTItem
}

// Set adds or replaces the item for key. A temporary item never replaces a
// static one.
func (t *TXTs) Set(key, value string, temporary bool) error {
	if err := validateTXT(key, value); err != nil {
		return err
	}
	for i := range t.items {
		it := &t.items[i]
		if !strings.EqualFold(it.Key, key) {
			continue
		}
		if temporary && !it.Temporary {
			return &errors.ValidationError{Field: "txt key", Value: key, Message: "already set"}
		}
		old := *it
		*it = TXTItem{Key: key, Value: value, Temporary: temporary}
		if err := t.checkSize(); err != nil {
			*it = old
			return err
		}
		return nil
	}
	t.items = append(t.items, TXTItem{Key: key, Value: value, Temporary: temporary})
	if err := t.checkSize(); err != nil {
		t.items = t.items[:len(t.items)-1]
		return err
	}
	return nil
}

// Remove deletes the item for key and reports whether it existed.
func (t *TXTs) Remove(key string) bool {
	for i := range t.items {
		if strings.EqualFold(t.items[i].Key, key) {
			t.items = append(t.items[:i], t.items[i+1:]...)
			return true
		}
	}
	return false
}

// Get returns the value stored for key.
func (t *TXTs) Get(key string) (string, bool) {
	for _, it := range t.items {
		if strings.EqualFold(it.Key, key) {
			return it.Value, true
		}
	}
	return "", false
}

// ClearTemporary drops every temporary item.
func (t *TXTs) ClearTemporary() {
	kept := t.items[:0]
	for _, it := range t.items {
		if !it.Temporary {
			kept = append(kept, it)
		}
	}
	for i := len(kept); i < len(t.items); i++ {
		t.items[i] = TXTItem{}
	}
	t.items = kept
}

// Items returns a copy of the items.
func (t *TXTs) Items() []TXTItem {
	return append([]TXTItem(nil), t.items...)
}

// Len returns the number of items.
func (t *TXTs) Len() int {
	return len(t.items)
}

// Entries converts the items into wire entries.
func (t *TXTs) Entries() []message.TXTEntry {
	if len(t.items) == 0 {
		return nil
	}
	out := make([]message.TXTEntry, len(t.items))
	for i, it := range t.items {
		out[i] = message.TXTEntry{Key: it.Key, Value: it.Value}
	}
	return out
}

func (t *TXTs) checkSize() error {
	n := 0
	for _, it := range t.items {
		n += message.TXTEntry{Key: it.Key, Value: it.Value}.EncodedLen()
	}
	if n > protocol.MaxTXTLength {
		return fmt.Errorf("%w: TXT record of %d bytes exceeds %d", errors.ErrAllocationFailed, n, protocol.MaxTXTLength)
	}
	return nil
}

func validateTXT(key, value string) error {
	switch {
	case key == "":
		return &errors.ValidationError{Field: "txt key", Value: key, Message: "must not be empty"}
	case strings.Contains(key, "="):
		return &errors.ValidationError{Field: "txt key", Value: key, Message: "must not contain '='"}
	case len(key)+1+len(value) > 255:
		return &errors.ValidationError{Field: "txt key", Value: key, Message: "key=value exceeds 255 bytes"}
	}
	return nil
}
