package cache

import (
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuafuller/tinymdns/internal/message"
	"github.com/joshuafuller/tinymdns/internal/protocol"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

var (
	httpType = message.MustParseDomain("_http._tcp.local")
	printer  = message.MustParseDomain("Printer._http._tcp.local")
	device   = message.MustParseDomain("device.local")
	other    = message.MustParseDomain("other.local")
)

type sent struct {
	name string
	typ  protocol.RecordType // zero for a full query
}

type fakeRequester struct {
	sent []sent
	err  error
}

func (f *fakeRequester) SendQuery(q *Query) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sent{name: q.Domain.String()})
	return nil
}

func (f *fakeRequester) SendRecordQuery(name message.Domain, t protocol.RecordType) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sent{name: name.String(), typ: t})
	return nil
}

func (f *fakeRequester) count(typ protocol.RecordType) int {
	n := 0
	for _, s := range f.sent {
		if s.typ == typ {
			n++
		}
	}
	return n
}

func noop(Event) {}

// installPrinter installs a service query and folds a complete answer for
// Printer._http._tcp.local at t0.
func installPrinter(t *testing.T, c *Cache, srvTTL, addrTTL uint32) *Query {
	t.Helper()
	q := c.Install(KindService, httpType, false, noop, t0)
	require.True(t, c.FoldPTR(httpType, printer, protocol.TTLService, t0))
	require.True(t, c.FoldSRV(printer, &message.SRV{Port: 80, Target: device}, srvTTL, t0))
	c.FoldTXT(printer, []message.TXTEntry{{Key: "path", Value: "/"}}, protocol.TTLService, t0)
	c.FoldAddress(device, netip.MustParseAddr("192.168.1.42"), addrTTL, t0)
	c.Events()
	return q
}

func TestResendDelay(t *testing.T) {
	tests := []struct {
		n    int
		want time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{13, 4096 * time.Second},
		{14, 4096 * time.Second},
		{100, 4096 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ResendDelay(tt.n), "ResendDelay(%d)", tt.n)
	}
}

// TestSweep_DynamicQueryBackoff tests that a dynamic query is resent with
// exponentially growing gaps.
func TestSweep_DynamicQueryBackoff(t *testing.T) {
	c := New()
	q := c.Install(KindService, httpType, false, noop, t0)
	req := &fakeRequester{}

	var sentAt []time.Duration
	for at := time.Duration(0); at <= 20*time.Second; at += 100 * time.Millisecond {
		before := len(req.sent)
		require.NoError(t, c.Sweep(t0.Add(at), req))
		if len(req.sent) > before {
			sentAt = append(sentAt, at)
		}
	}

	assert.Equal(t, []time.Duration{0, time.Second, 3 * time.Second, 7 * time.Second, 15 * time.Second}, sentAt)
	assert.Equal(t, 5, q.SentCount())
	next, armed := q.NextResend()
	require.True(t, armed)
	assert.Equal(t, 31*time.Second, next.Sub(t0))
}

func TestSweep_SendFailureRetries(t *testing.T) {
	c := New()
	q := c.Install(KindService, httpType, false, noop, t0)
	req := &fakeRequester{err: errors.New("network down")}

	require.Error(t, c.Sweep(t0, req))
	assert.Zero(t, q.SentCount())

	req.err = nil
	require.NoError(t, c.Sweep(t0.Add(100*time.Millisecond), req))
	assert.Equal(t, 1, q.SentCount())
}

func TestFold_BuildsAnswer(t *testing.T) {
	c := New()
	q := c.Install(KindService, httpType, false, noop, t0)

	assert.True(t, c.FoldPTR(httpType, printer, protocol.TTLService, t0))
	assert.False(t, c.FoldPTR(httpType, printer, protocol.TTLService, t0), "known PTR is not new")
	assert.True(t, c.FoldSRV(printer, &message.SRV{Port: 80, Target: device}, protocol.TTLService, t0))
	assert.False(t, c.FoldSRV(printer, &message.SRV{Port: 80, Target: device}, protocol.TTLService, t0))
	c.FoldTXT(printer, []message.TXTEntry{{Key: "path", Value: "/"}}, protocol.TTLService, t0)
	c.FoldTXT(printer, []message.TXTEntry{{Key: "path", Value: "/"}}, protocol.TTLService, t0)
	c.FoldAddress(device, netip.MustParseAddr("192.168.1.42"), protocol.TTLHost, t0)
	c.FoldAddress(device, netip.MustParseAddr("fe80::42"), protocol.TTLHost, t0)
	c.FoldAddress(other, netip.MustParseAddr("192.168.1.99"), protocol.TTLHost, t0)

	require.Len(t, q.Answers, 1)
	a := q.Answers[0]
	assert.Equal(t, "Printer._http._tcp.local", a.ServiceDomain.String())
	assert.Equal(t, "device.local", a.HostDomain.String())
	assert.Equal(t, uint16(80), a.Port)
	assert.Equal(t, []message.TXTEntry{{Key: "path", Value: "/"}}, a.TXT)
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("192.168.1.42"), netip.MustParseAddr("fe80::42")}, a.Addresses())
	assert.Equal(t, ComponentServiceDomain|ComponentHostDomainAndPort|ComponentTXT|ComponentIPv4|ComponentIPv6, a.Content)

	var got []Component
	for _, e := range c.Events() {
		assert.True(t, e.Added)
		assert.Equal(t, q.ID, e.Query)
		got = append(got, e.Component)
	}
	assert.Equal(t, []Component{ComponentServiceDomain, ComponentHostDomainAndPort, ComponentTXT, ComponentIPv4, ComponentIPv6}, got)
	assert.Empty(t, c.Events(), "Events() clears the queue")
}

func TestFold_OtherServiceTypeIgnored(t *testing.T) {
	c := New()
	q := c.Install(KindService, httpType, false, noop, t0)

	ipp := message.MustParseDomain("_ipp._tcp.local")
	assert.False(t, c.FoldPTR(ipp, message.MustParseDomain("Laser._ipp._tcp.local"), protocol.TTLService, t0))
	assert.False(t, c.FoldSRV(printer, &message.SRV{Port: 80, Target: device}, protocol.TTLService, t0),
		"SRV without a PTR answer")
	assert.Empty(t, q.Answers)
}

func TestFold_SRVTargetChangeDropsAddresses(t *testing.T) {
	c := New()
	q := installPrinter(t, c, protocol.TTLService, protocol.TTLHost)

	assert.True(t, c.FoldSRV(printer, &message.SRV{Port: 8080, Target: other}, protocol.TTLService, t0))
	a := q.Answers[0]
	assert.Equal(t, "other.local", a.HostDomain.String())
	assert.Equal(t, uint16(8080), a.Port)
	assert.Empty(t, a.IPv4)
	assert.Zero(t, a.Content&ComponentIPv4)
}

func TestFold_TXTChangeNotifies(t *testing.T) {
	c := New()
	installPrinter(t, c, protocol.TTLService, protocol.TTLHost)

	c.FoldTXT(printer, []message.TXTEntry{{Key: "path", Value: "/admin"}}, protocol.TTLService, t0)
	ev := c.Events()
	require.Len(t, ev, 1)
	assert.Equal(t, ComponentTXT, ev[0].Component)
	assert.Equal(t, []message.TXTEntry{{Key: "path", Value: "/admin"}}, ev[0].Answer.TXT)
}

// TestGoodbyeAndRearrival tests goodbye handling.
//
// RFC 6762 §10.1: a record received with TTL=0 is deleted one second later
// unless it is refreshed in the meantime.
func TestGoodbyeAndRearrival(t *testing.T) {
	t.Run("goodbye removes the answer", func(t *testing.T) {
		c := New()
		q := installPrinter(t, c, protocol.TTLService, protocol.TTLHost)
		req := &fakeRequester{}

		c.FoldPTR(httpType, printer, 0, t0.Add(10*time.Second))
		require.NoError(t, c.Sweep(t0.Add(10*time.Second+999*time.Millisecond), req))
		require.Len(t, q.Answers, 1, "removed before the goodbye delay")

		require.NoError(t, c.Sweep(t0.Add(11*time.Second), req))
		assert.Empty(t, q.Answers)

		var removed []Event
		for _, e := range c.Events() {
			if !e.Added {
				removed = append(removed, e)
			}
		}
		require.Len(t, removed, 1)
		assert.Equal(t, ComponentServiceDomain, removed[0].Component)
		assert.Equal(t, "Printer._http._tcp.local", removed[0].Answer.ServiceDomain.String())
	})

	t.Run("re-arrival revives the answer", func(t *testing.T) {
		c := New()
		q := installPrinter(t, c, protocol.TTLService, protocol.TTLHost)
		req := &fakeRequester{}

		c.FoldPTR(httpType, printer, 0, t0.Add(10*time.Second))
		c.FoldPTR(httpType, printer, protocol.TTLService, t0.Add(10*time.Second+500*time.Millisecond))
		require.NoError(t, c.Sweep(t0.Add(12*time.Second), req))
		require.Len(t, q.Answers, 1)
		assert.False(t, q.Answers[0].ServiceTTL.FinalTimeoutLevel())
	})

	t.Run("goodbye for an unknown answer is ignored", func(t *testing.T) {
		c := New()
		q := c.Install(KindService, httpType, false, noop, t0)
		assert.False(t, c.FoldPTR(httpType, printer, 0, t0))
		assert.Empty(t, q.Answers)
	})
}

// TestSweep_ComponentRefresh tests the per-component refresh cadence.
//
// RFC 6762 §5.2: re-query at 80%, 85%, 90% and 95% of the TTL; a component
// that is not refreshed is removed at 100%.
func TestSweep_ComponentRefresh(t *testing.T) {
	c := New()
	q := installPrinter(t, c, 120, protocol.TTLService)
	req := &fakeRequester{}

	for _, at := range []time.Duration{96, 102, 108, 114} {
		require.NoError(t, c.Sweep(t0.Add(at*time.Second), req))
	}
	assert.Equal(t, 4, req.count(protocol.RecordTypeSRV))
	require.Equal(t, "device.local", q.Answers[0].HostDomain.String())

	require.NoError(t, c.Sweep(t0.Add(120*time.Second), req))
	a := q.Answers[0]
	assert.True(t, a.HostDomain.IsZero())
	assert.Zero(t, a.Port)
	assert.Empty(t, a.IPv4)
	assert.Equal(t, ComponentServiceDomain|ComponentTXT, a.Content)

	var removed []Event
	for _, e := range c.Events() {
		if !e.Added {
			removed = append(removed, e)
		}
	}
	require.Len(t, removed, 1)
	assert.Equal(t, ComponentHostDomainAndPort|ComponentIPv4, removed[0].Component)
}

func TestSweep_AddressRefresh(t *testing.T) {
	c := New()
	q := installPrinter(t, c, protocol.TTLService, 120)
	c.FoldAddress(device, netip.MustParseAddr("192.168.1.43"), 120, t0)
	c.Events()
	req := &fakeRequester{}

	require.NoError(t, c.Sweep(t0.Add(96*time.Second), req))
	assert.Equal(t, 1, req.count(protocol.RecordTypeA), "one A query covers both addresses")

	// One address is refreshed; the other runs out.
	for _, at := range []time.Duration{102, 108, 114} {
		require.NoError(t, c.Sweep(t0.Add(at*time.Second), req))
	}
	c.FoldAddress(device, netip.MustParseAddr("192.168.1.42"), 120, t0.Add(115*time.Second))
	require.NoError(t, c.Sweep(t0.Add(120*time.Second), req))

	a := q.Answers[0]
	require.Len(t, a.IPv4, 1)
	assert.Equal(t, netip.MustParseAddr("192.168.1.42"), a.IPv4[0].Addr)
	assert.NotZero(t, a.Content&ComponentIPv4)

	ev := c.Events()
	require.Len(t, ev, 1)
	assert.False(t, ev[0].Added)
	assert.Equal(t, ComponentIPv4, ev[0].Component)
}

func TestHostQuery(t *testing.T) {
	c := New()
	q := c.Install(KindHost, device, false, noop, t0)
	req := &fakeRequester{}

	assert.True(t, c.FoldAddress(device, netip.MustParseAddr("192.168.1.42"), protocol.TTLHost, t0))
	assert.False(t, c.FoldAddress(device, netip.MustParseAddr("192.168.1.43"), protocol.TTLHost, t0))
	assert.False(t, c.FoldAddress(other, netip.MustParseAddr("192.168.1.99"), protocol.TTLHost, t0))

	require.Len(t, q.Answers, 1)
	assert.Len(t, q.Answers[0].IPv4, 2)

	var got []Component
	for _, e := range c.Events() {
		got = append(got, e.Component)
	}
	assert.Equal(t, []Component{ComponentHostDomainAndPort, ComponentIPv4, ComponentIPv4}, got)

	// Nothing refreshes the host: it is removed at 100% of its TTL.
	for at := time.Duration(1); at <= 120; at++ {
		require.NoError(t, c.Sweep(t0.Add(at*time.Second), req))
	}
	assert.Empty(t, q.Answers)
}

func TestLegacyQuery(t *testing.T) {
	c := New()
	first := c.Install(KindService, httpType, true, nil, t0)
	second := c.Install(KindService, httpType, true, nil, t0)

	_, ok := c.Query(first.ID)
	assert.False(t, ok, "a second legacy query replaces the first")
	got, ok := c.Legacy()
	require.True(t, ok)
	assert.Equal(t, second.ID, got.ID)
	assert.Equal(t, 1, c.Len())

	req := &fakeRequester{}
	require.NoError(t, c.Sweep(t0.Add(time.Hour), req))
	assert.Empty(t, req.sent, "legacy queries are not resent")

	c.FoldPTR(httpType, printer, protocol.TTLService, t0)
	assert.Len(t, second.Answers, 1)
	assert.Empty(t, c.Events(), "legacy queries have no callback")

	second.AwaitingAnswers = false
	c.FoldPTR(httpType, message.MustParseDomain("Late._http._tcp.local"), protocol.TTLService, t0)
	assert.Len(t, second.Answers, 1)

	assert.True(t, c.Remove(second.ID))
	_, ok = c.Legacy()
	assert.False(t, ok)
	assert.False(t, c.Remove(second.ID))
}

// TestKnownAnswers tests the PTR records listed when a query is resent.
//
// RFC 6762 §7.1: only answers with more than half their TTL remaining.
func TestKnownAnswers(t *testing.T) {
	c := New()
	q := installPrinter(t, c, protocol.TTLService, protocol.TTLHost)

	known := q.KnownAnswers(t0.Add(1000 * time.Second))
	require.Len(t, known, 1)
	assert.True(t, known[0].Domain.Equal(printer))
	assert.Equal(t, uint32(3500), known[0].TTL)

	assert.Empty(t, q.KnownAnswers(t0.Add(2300*time.Second)))
}

func TestSnapshot_IsIndependent(t *testing.T) {
	c := New()
	q := installPrinter(t, c, protocol.TTLService, protocol.TTLHost)

	snap := q.Answers[0].Snapshot()
	q.Answers[0].TXT[0].Value = "/changed"
	q.Answers[0].IPv4[0].Addr = netip.MustParseAddr("10.0.0.1")

	assert.Equal(t, "/", snap.TXT[0].Value)
	assert.Equal(t, netip.MustParseAddr("192.168.1.42"), snap.IPv4[0].Addr)
}
