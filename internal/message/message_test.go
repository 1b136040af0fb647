package message

import (
	goerrors "errors"
	"net/netip"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuafuller/tinymdns/internal/errors"
	"github.com/joshuafuller/tinymdns/internal/protocol"
)

func sampleMessage() *Message {
	host := MustParseDomain("device.local")
	instance := MustParseDomain("Printer._http._tcp.local")
	svcType := MustParseDomain("_http._tcp.local")

	return &Message{
		Header: Header{Flags: protocol.FlagQR | protocol.FlagAA},
		Answers: []Record{
			{Name: svcType, Type: protocol.RecordTypePTR, Class: protocol.ClassIN, TTL: protocol.TTLService,
				Data: &PTR{Target: instance}},
			{Name: instance, Type: protocol.RecordTypeSRV, Class: protocol.ClassIN, CacheFlush: true, TTL: protocol.TTLService,
				Data: &SRV{Priority: protocol.SRVPriority, Weight: protocol.SRVWeight, Port: 80, Target: host}},
			{Name: instance, Type: protocol.RecordTypeTXT, Class: protocol.ClassIN, CacheFlush: true, TTL: protocol.TTLService,
				Data: &TXT{Entries: []TXTEntry{{Key: "path", Value: "/"}, {Key: "secure"}}}},
		},
		Additionals: []Record{
			{Name: host, Type: protocol.RecordTypeA, Class: protocol.ClassIN, CacheFlush: true, TTL: protocol.TTLHost,
				Data: &A{Addr: netip.MustParseAddr("192.168.1.42")}},
			{Name: host, Type: protocol.RecordTypeAAAA, Class: protocol.ClassIN, CacheFlush: true, TTL: protocol.TTLHost,
				Data: &AAAA{Addr: netip.MustParseAddr("fe80::42")}},
			{Name: host, Type: protocol.RecordTypeNSEC, Class: protocol.ClassIN, CacheFlush: true, TTL: protocol.TTLHost,
				Data: &Generic{Raw: []byte{0xC0, 0x0C, 0x00, 0x04, 0x40, 0x00, 0x00, 0x08}}},
		},
	}
}

func requireRecordsEqual(t *testing.T, want, got []Record) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		w, g := want[i], got[i]
		assert.True(t, w.Name.Equal(g.Name), "record %d name %q != %q", i, w.Name.String(), g.Name.String())
		assert.Equal(t, w.Type, g.Type, "record %d type", i)
		assert.Equal(t, w.Class, g.Class, "record %d class", i)
		assert.Equal(t, w.CacheFlush, g.CacheFlush, "record %d cache-flush", i)
		assert.Equal(t, w.TTL, g.TTL, "record %d ttl", i)
		assert.True(t, w.Data.Equal(g.Data), "record %d data %s != %s", i, w.Data, g.Data)
	}
}

func TestMessage_Roundtrip(t *testing.T) {
	m := sampleMessage()
	m.Header.ID = 0x1234
	m.Questions = []Question{
		{Name: MustParseDomain("_http._tcp.local"), Type: protocol.RecordTypePTR, Class: protocol.ClassIN, UnicastResponse: true},
	}

	packed, err := m.Pack()
	require.NoError(t, err)

	got, err := Parse(packed)
	require.NoError(t, err)

	assert.Equal(t, uint16(0x1234), got.Header.ID)
	assert.True(t, got.Header.IsResponse())
	assert.True(t, got.Header.IsAuthoritative())
	assert.Equal(t, uint16(1), got.Header.QDCount)
	assert.Equal(t, uint16(3), got.Header.ANCount)
	assert.Equal(t, uint16(3), got.Header.ARCount)

	require.Len(t, got.Questions, 1)
	q := got.Questions[0]
	assert.Equal(t, "_http._tcp.local", q.Name.String())
	assert.Equal(t, protocol.RecordTypePTR, q.Type)
	assert.Equal(t, protocol.ClassIN, q.Class)
	assert.True(t, q.UnicastResponse)

	requireRecordsEqual(t, m.Answers, got.Answers)
	requireRecordsEqual(t, m.Additionals, got.Additionals)
}

func TestMessage_EmptyTXTRoundtrip(t *testing.T) {
	m := &Message{Answers: []Record{{
		Name: MustParseDomain("x._http._tcp.local"), Type: protocol.RecordTypeTXT, Class: protocol.ClassIN, TTL: 1,
		Data: &TXT{},
	}}}
	packed, err := m.Pack()
	require.NoError(t, err)

	// RFC 6763 §6.1: an empty TXT record is a single zero byte.
	assert.Equal(t, []byte{0x00, 0x01, 0x00}, packed[len(packed)-3:])

	got, err := Parse(packed)
	require.NoError(t, err)
	requireRecordsEqual(t, m.Answers, got.Answers)
}

// TestMessage_InteropWithMiekgDNS decodes our encoding with an independent
// DNS implementation.
func TestMessage_InteropWithMiekgDNS(t *testing.T) {
	packed, err := sampleMessage().Pack()
	require.NoError(t, err)

	var msg dns.Msg
	require.NoError(t, msg.Unpack(packed))

	assert.True(t, msg.Response)
	assert.True(t, msg.Authoritative)
	require.Len(t, msg.Answer, 3)
	require.Len(t, msg.Extra, 3)

	ptr, ok := msg.Answer[0].(*dns.PTR)
	require.True(t, ok, "answer 0 is %T", msg.Answer[0])
	assert.Equal(t, "_http._tcp.local.", ptr.Hdr.Name)
	assert.Equal(t, "Printer._http._tcp.local.", ptr.Ptr)
	assert.Equal(t, uint16(dns.ClassINET), ptr.Hdr.Class, "shared PTR has no cache-flush bit")

	srv, ok := msg.Answer[1].(*dns.SRV)
	require.True(t, ok, "answer 1 is %T", msg.Answer[1])
	assert.Equal(t, "device.local.", srv.Target)
	assert.Equal(t, uint16(80), srv.Port)
	assert.Equal(t, uint16(dns.ClassINET)|protocol.ClassTopBit, srv.Hdr.Class, "cache-flush bit restored on write")

	txt, ok := msg.Answer[2].(*dns.TXT)
	require.True(t, ok, "answer 2 is %T", msg.Answer[2])
	assert.Equal(t, []string{"path=/", "secure"}, txt.Txt)

	a, ok := msg.Extra[0].(*dns.A)
	require.True(t, ok, "extra 0 is %T", msg.Extra[0])
	assert.Equal(t, "192.168.1.42", a.A.String())
	assert.Equal(t, protocol.TTLHost, a.Hdr.Ttl)

	aaaa, ok := msg.Extra[1].(*dns.AAAA)
	require.True(t, ok, "extra 1 is %T", msg.Extra[1])
	assert.Equal(t, "fe80::42", aaaa.AAAA.String())
}

// TestMessage_ParseMiekgDNSQuery decodes a query produced by miekg/dns,
// including its name compression.
func TestMessage_ParseMiekgDNSQuery(t *testing.T) {
	q := new(dns.Msg)
	q.Question = []dns.Question{
		{Name: "_http._tcp.local.", Qtype: dns.TypePTR, Qclass: dns.ClassINET},
		{Name: "Printer._http._tcp.local.", Qtype: dns.TypeSRV, Qclass: dns.ClassINET | 0x8000},
	}
	q.Answer = []dns.RR{&dns.PTR{
		Hdr: dns.RR_Header{Name: "_http._tcp.local.", Rrtype: dns.TypePTR, Class: dns.ClassINET, Ttl: 4500},
		Ptr: "Printer._http._tcp.local.",
	}}
	q.Compress = true
	packed, err := q.Pack()
	require.NoError(t, err)

	got, err := Parse(packed)
	require.NoError(t, err)
	require.Len(t, got.Questions, 2)
	assert.False(t, got.Questions[0].UnicastResponse)
	assert.True(t, got.Questions[1].UnicastResponse)
	assert.Equal(t, "Printer._http._tcp.local", got.Questions[1].Name.String())

	require.Len(t, got.Answers, 1)
	ptr, ok := got.Answers[0].Data.(*PTR)
	require.True(t, ok)
	assert.Equal(t, "Printer._http._tcp.local", ptr.Target.String())
	assert.Equal(t, uint32(4500), got.Answers[0].TTL)
}

// TestWriter_Compression checks that a repeated name is written as a
// two-byte back-reference, and that the answer and additional sections keep
// separate offsets for the same owner.
func TestWriter_Compression(t *testing.T) {
	host := MustParseDomain("device.local")

	t.Run("second occurrence is shorter", func(t *testing.T) {
		w := NewWriter()
		require.NoError(t, w.WriteDomain(host, nil, false))
		first := w.Len()
		require.NoError(t, w.WriteDomain(host, nil, false))
		second := w.Len() - first

		assert.Equal(t, host.EncodedLen(), first)
		assert.Equal(t, 2, second)
		assert.Less(t, second, first)
	})

	t.Run("owner identity and section", func(t *testing.T) {
		type owner struct{ name string }
		o := &owner{"host"}

		w := NewWriter()
		require.NoError(t, w.WriteDomain(host, o, false))
		l1 := w.Len()
		require.NoError(t, w.WriteDomain(host, o, true))
		l2 := w.Len() - l1
		require.NoError(t, w.WriteDomain(host, o, true))
		l3 := w.Len() - l1 - l2

		assert.Equal(t, host.EncodedLen(), l2, "additional section starts its own cache")
		assert.Equal(t, 2, l3)

		name, _, err := ReadDomain(w.Bytes(), l1+l2)
		require.NoError(t, err)
		assert.True(t, name.Equal(host))
	})

	t.Run("case-insensitive name keys", func(t *testing.T) {
		w := NewWriter()
		require.NoError(t, w.WriteDomain(MustParseDomain("Device.Local"), nil, false))
		n := w.Len()
		require.NoError(t, w.WriteDomain(host, nil, false))
		assert.Equal(t, 2, w.Len()-n)
	})
}

func TestWriter_SizeLimit(t *testing.T) {
	w := NewWriterSize(HeaderSize + 4)
	require.NoError(t, w.WriteHeader(Header{}))

	err := w.WriteDomain(MustParseDomain("device.local"), nil, false)
	assert.True(t, goerrors.Is(err, errors.ErrAllocationFailed), "error = %v", err)
}

func TestParse_Malformed(t *testing.T) {
	packed, err := sampleMessage().Pack()
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short header", packed[:5]},
		{"truncated record", packed[:len(packed)-3]},
		{"counts beyond data", packed[:HeaderSize]},
		{"A with wrong length", []byte{
			0, 0, 0x84, 0, 0, 0, 0, 1, 0, 0, 0, 0,
			0x01, 'a', 0x00,
			0x00, 0x01, 0x00, 0x01,
			0x00, 0x00, 0x00, 0x78,
			0x00, 0x03, 1, 2, 3,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.data)
			require.Error(t, err)

			var malformed *errors.MalformedMessageError
			assert.True(t, goerrors.As(err, &malformed), "error %v is not a MalformedMessageError", err)
		})
	}
}

func TestTXT_EncodeDecode(t *testing.T) {
	entries := []TXTEntry{{Key: "version", Value: "1.0"}, {Key: "path", Value: "/api"}, {Key: "flag"}}
	b, err := EncodeTXT(entries)
	require.NoError(t, err)
	assert.Equal(t, byte(len("version=1.0")), b[0])

	got, err := DecodeTXT(b)
	require.NoError(t, err)
	assert.Equal(t, entries, got)

	// Order does not matter for equality; values do.
	assert.True(t, TXTEntriesEqual(entries, []TXTEntry{entries[2], entries[0], entries[1]}))
	assert.False(t, TXTEntriesEqual(entries, []TXTEntry{entries[0], entries[1], {Key: "flag", Value: "x"}}))
}

func TestTXT_EmptyValueIsNotBoolean(t *testing.T) {
	got, err := DecodeTXT([]byte("\x05flag=\x04bool"))
	require.NoError(t, err)
	assert.Equal(t, []TXTEntry{{Key: "flag", Empty: true}, {Key: "bool"}}, got)
	assert.Equal(t, "flag=", got[0].String())
	assert.Equal(t, 6, got[0].EncodedLen())
	assert.False(t, TXTEntriesEqual(got[:1], []TXTEntry{{Key: "flag"}}))

	b, err := EncodeTXT(got)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x05flag=\x04bool"), b)
}
