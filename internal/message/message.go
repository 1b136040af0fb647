package message

import (
	"fmt"

	"github.com/joshuafuller/tinymdns/internal/errors"
)

// Message is a fully decoded DNS message.
type Message struct {
	Header      Header
	Questions   []Question
	Answers     []Record
	Authorities []Record
	Additionals []Record
}

// Parse decodes msg. Any structural problem yields a
// *errors.MalformedMessageError and no partial result.
func Parse(msg []byte) (*Message, error) {
	r := NewReader(msg)
	h, err := r.ReadHeader()
	if err != nil {
		return nil, err
	}
	m := &Message{Header: h}

	for i := 0; i < int(h.QDCount); i++ {
		q, err := r.ReadQuestion()
		if err != nil {
			return nil, fmt.Errorf("question %d: %w", i, err)
		}
		m.Questions = append(m.Questions, q)
	}

	sections := []struct {
		name  string
		count uint16
		dst   *[]Record
	}{
		{"answer", h.ANCount, &m.Answers},
		{"authority", h.NSCount, &m.Authorities},
		{"additional", h.ARCount, &m.Additionals},
	}
	for _, s := range sections {
		for i := 0; i < int(s.count); i++ {
			rr, err := r.ReadRecord()
			if err != nil {
				return nil, fmt.Errorf("%s %d: %w", s.name, i, err)
			}
			*s.dst = append(*s.dst, rr)
		}
	}
	return m, nil
}

// Pack encodes m with name compression. The section counts of the header
// are taken from the slices.
func (m *Message) Pack() ([]byte, error) {
	w := NewWriter()
	h := m.Header
	if len(m.Questions) > 0xFFFF || len(m.Answers) > 0xFFFF ||
		len(m.Authorities) > 0xFFFF || len(m.Additionals) > 0xFFFF {
		return nil, fmt.Errorf("%w: too many records", errors.ErrAllocationFailed)
	}
	h.QDCount = uint16(len(m.Questions))
	h.ANCount = uint16(len(m.Answers))
	h.NSCount = uint16(len(m.Authorities))
	h.ARCount = uint16(len(m.Additionals))
	if err := w.WriteHeader(h); err != nil {
		return nil, err
	}
	for _, q := range m.Questions {
		if err := w.WriteQuestion(q, nil); err != nil {
			return nil, err
		}
	}
	for i := range m.Answers {
		if err := w.WriteRecord(&m.Answers[i], false, Owner{}); err != nil {
			return nil, err
		}
	}
	for i := range m.Authorities {
		if err := w.WriteRecord(&m.Authorities[i], false, Owner{}); err != nil {
			return nil, err
		}
	}
	for i := range m.Additionals {
		if err := w.WriteRecord(&m.Additionals[i], true, Owner{}); err != nil {
			return nil, err
		}
	}
	return w.Bytes(), nil
}
