// Package cache holds the installed mDNS queries and the answers collected
// for them.
//
// Every answer is made of components (service domain, host domain and port,
// TXT, each address) that age independently: records.TTL drives the
// re-query schedule of a component, and a component whose final deadline
// passes without an update is removed. An answer lives as long as its pivot
// component: the service domain for service queries, the host domain for
// host queries.
//
// The cache does no I/O. Re-queries are requested through a Requester and
// user notifications are queued as Events for the caller to deliver.
package cache

import (
	"net/netip"
	"slices"
	"time"

	"github.com/joshuafuller/tinymdns/internal/message"
	"github.com/joshuafuller/tinymdns/internal/records"
)

// QueryID identifies an installed query. IDs are never reused.
type QueryID uint32

// Kind is what a query asks for.
type Kind int

const (
	// KindService browses instances of a service type via PTR records.
	KindService Kind = iota
	// KindHost resolves the addresses of one host domain.
	KindHost
)

func (k Kind) String() string {
	switch k {
	case KindService:
		return "service"
	case KindHost:
		return "host"
	default:
		return "unknown"
	}
}

// Component is a set of answer parts.
type Component uint8

const (
	ComponentServiceDomain     Component = 0x01 // PTR
	ComponentHostDomainAndPort Component = 0x02 // SRV
	ComponentTXT               Component = 0x04
	ComponentIPv4              Component = 0x08 // A
	ComponentIPv6              Component = 0x10 // AAAA
)

// Address is a discovered address with its own refresh state.
type Address struct {
	Addr netip.Addr
	TTL  records.TTL
}

// Answer is everything learned about one service instance or host.
type Answer struct {
	ServiceDomain message.Domain
	ServiceTTL    records.TTL

	HostDomain message.Domain
	Port       uint16
	HostTTL    records.TTL

	TXT    []message.TXTEntry
	TXTTTL records.TTL

	IPv4 []Address
	IPv6 []Address

	// Content has a bit set for every component currently known.
	Content Component
}

// Snapshot returns a copy of a that shares no slices with it.
func (a *Answer) Snapshot() Answer {
	out := *a
	out.TXT = slices.Clone(a.TXT)
	out.IPv4 = slices.Clone(a.IPv4)
	out.IPv6 = slices.Clone(a.IPv6)
	return out
}

// Addresses returns the known addresses, IPv4 first.
func (a *Answer) Addresses() []netip.Addr {
	out := make([]netip.Addr, 0, len(a.IPv4)+len(a.IPv6))
	for _, ip := range a.IPv4 {
		out = append(out, ip.Addr)
	}
	for _, ip := range a.IPv6 {
		out = append(out, ip.Addr)
	}
	return out
}

func (a *Answer) pivot(kind Kind) *records.TTL {
	if kind == KindHost {
		return &a.HostTTL
	}
	return &a.ServiceTTL
}

// Query is one installed query.
type Query struct {
	ID     QueryID
	Kind   Kind
	Domain message.Domain

	// Legacy queries are sent once and never resent; at most one is
	// installed at a time.
	Legacy bool

	// AwaitingAnswers gates the creation of new answers and the refresh of
	// existing ones. It is cleared when a legacy query times out.
	AwaitingAnswers bool

	// Notify receives the events of this query. Nil queues nothing.
	Notify func(Event)

	Answers []*Answer

	sentCount int
	resend    time.Time
	armed     bool
}

// SentCount returns how often the query has been sent.
func (q *Query) SentCount() int {
	return q.sentCount
}

// NextResend returns the next resend deadline of a dynamic query.
func (q *Query) NextResend() (time.Time, bool) {
	return q.resend, q.armed
}

// Sent records a successful send and arms the next resend. Dynamic queries
// back off as DynamicQueryResendDelay * 2^min(n-1, MaxResendExponent).
func (q *Query) Sent(now time.Time) {
	q.sentCount++
	if q.Legacy {
		q.armed = false
		return
	}
	q.resend = now.Add(ResendDelay(q.sentCount))
	q.armed = true
}

// KnownAnswer is a PTR target listed in the known-answer section of a
// resent query, with the seconds it has left.
type KnownAnswer struct {
	Domain message.Domain
	TTL    uint32
}

// KnownAnswers returns the service domains whose PTR record is still fresh
// enough to be listed as a known answer when the query is resent.
func (q *Query) KnownAnswers(now time.Time) []KnownAnswer {
	if q.Kind != KindService {
		return nil
	}
	var out []KnownAnswer
	for _, a := range q.Answers {
		if a.Content&ComponentServiceDomain != 0 && a.ServiceTTL.AboveHalf(now) {
			out = append(out, KnownAnswer{Domain: a.ServiceDomain, TTL: a.ServiceTTL.Remaining(now)})
		}
	}
	return out
}

func (q *Query) findService(domain message.Domain) *Answer {
	for _, a := range q.Answers {
		if a.ServiceDomain.Equal(domain) {
			return a
		}
	}
	return nil
}

func (q *Query) removeAnswer(a *Answer) {
	if i := slices.Index(q.Answers, a); i >= 0 {
		q.Answers = slices.Delete(q.Answers, i, i+1)
	}
}

// Event reports an added or removed answer component.
type Event struct {
	Query     QueryID
	Notify    func(Event)
	Answer    Answer // snapshot taken when the event was queued
	Component Component
	Added     bool
}

// Cache is the set of installed queries.
type Cache struct {
	queries map[QueryID]*Query
	order   []QueryID
	nextID  QueryID
	legacy  QueryID
	events  []Event
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{queries: make(map[QueryID]*Query)}
}

// Install adds a query. Installing a legacy query replaces the previous
// one. The first send of a dynamic query is due immediately.
func (c *Cache) Install(kind Kind, domain message.Domain, legacy bool, notify func(Event), now time.Time) *Query {
	if legacy && c.legacy != 0 {
		c.Remove(c.legacy)
	}
	c.nextID++
	q := &Query{
		ID:              c.nextID,
		Kind:            kind,
		Domain:          domain,
		Legacy:          legacy,
		AwaitingAnswers: true,
		Notify:          notify,
		resend:          now,
		armed:           !legacy,
	}
	c.queries[q.ID] = q
	c.order = append(c.order, q.ID)
	if legacy {
		c.legacy = q.ID
	}
	return q
}

// Remove uninstalls a query and reports whether it was installed.
func (c *Cache) Remove(id QueryID) bool {
	if _, ok := c.queries[id]; !ok {
		return false
	}
	delete(c.queries, id)
	if i := slices.Index(c.order, id); i >= 0 {
		c.order = slices.Delete(c.order, i, i+1)
	}
	if c.legacy == id {
		c.legacy = 0
	}
	return true
}

// Query returns the query with the given ID.
func (c *Cache) Query(id QueryID) (*Query, bool) {
	q, ok := c.queries[id]
	return q, ok
}

// Legacy returns the installed legacy query, if any.
func (c *Cache) Legacy() (*Query, bool) {
	if c.legacy == 0 {
		return nil, false
	}
	return c.Query(c.legacy)
}

// Queries returns the installed queries in installation order.
func (c *Cache) Queries() []*Query {
	out := make([]*Query, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.queries[id])
	}
	return out
}

// Len returns the number of installed queries.
func (c *Cache) Len() int {
	return len(c.order)
}

// Events returns the queued events and clears the queue.
func (c *Cache) Events() []Event {
	ev := c.events
	c.events = nil
	return ev
}

func (c *Cache) emit(q *Query, a *Answer, comp Component, added bool) {
	if q.Notify == nil || q.Legacy {
		return
	}
	c.events = append(c.events, Event{
		Query:     q.ID,
		Notify:    q.Notify,
		Answer:    a.Snapshot(),
		Component: comp,
		Added:     added,
	})
}
