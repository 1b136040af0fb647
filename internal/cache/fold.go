package cache

import (
	"net/netip"
	"slices"
	"time"

	"github.com/joshuafuller/tinymdns/internal/message"
	"github.com/joshuafuller/tinymdns/internal/records"
)

// The Fold functions apply one received record to every matching query. A
// zero TTL is a goodbye: the matching component is put on a one second
// deletion countdown instead of being dropped (RFC 6762 §10.1).
//
// FoldPTR and FoldSRV report whether the record unlocked a new answer or a
// new host domain, so that records which depend on it (SRV/TXT, then
// A/AAAA) can be folded again.

// FoldPTR applies "serviceType PTR instance".
func (c *Cache) FoldPTR(serviceType, instance message.Domain, ttl uint32, now time.Time) bool {
	found := false
	for _, q := range c.Queries() {
		if q.Kind != KindService || !q.AwaitingAnswers || !q.Domain.Equal(serviceType) {
			continue
		}
		if a := q.findService(instance); a != nil {
			if ttl > 0 {
				a.ServiceTTL.Set(ttl, now)
			} else {
				a.ServiceTTL.PrepareDeletion(now)
			}
			continue
		}
		if ttl == 0 {
			continue
		}
		a := &Answer{ServiceDomain: instance, Content: ComponentServiceDomain}
		a.ServiceTTL.Set(ttl, now)
		q.Answers = append(q.Answers, a)
		found = true
		c.emit(q, a, ComponentServiceDomain, true)
	}
	return found
}

// FoldSRV applies "instance SRV port target".
func (c *Cache) FoldSRV(instance message.Domain, srv *message.SRV, ttl uint32, now time.Time) bool {
	found := false
	for _, q := range c.Queries() {
		if q.Kind != KindService {
			continue
		}
		a := q.findService(instance)
		if a == nil {
			continue
		}
		if ttl == 0 {
			a.HostTTL.PrepareDeletion(now)
			continue
		}
		a.HostTTL.Set(ttl, now)
		if a.Content&ComponentHostDomainAndPort != 0 && a.HostDomain.Equal(srv.Target) && a.Port == srv.Port {
			continue
		}
		if !a.HostDomain.Equal(srv.Target) {
			// Addresses belong to the previous host.
			a.IPv4, a.IPv6 = nil, nil
			a.Content &^= ComponentIPv4 | ComponentIPv6
		}
		a.HostDomain = srv.Target
		a.Port = srv.Port
		a.Content |= ComponentHostDomainAndPort
		found = true
		c.emit(q, a, ComponentHostDomainAndPort, true)
	}
	return found
}

// FoldTXT applies "instance TXT entries".
func (c *Cache) FoldTXT(instance message.Domain, entries []message.TXTEntry, ttl uint32, now time.Time) {
	for _, q := range c.Queries() {
		if q.Kind != KindService {
			continue
		}
		a := q.findService(instance)
		if a == nil {
			continue
		}
		if ttl == 0 {
			a.TXTTTL.PrepareDeletion(now)
			continue
		}
		a.TXTTTL.Set(ttl, now)
		if a.Content&ComponentTXT != 0 && message.TXTEntriesEqual(a.TXT, entries) {
			continue
		}
		a.TXT = slices.Clone(entries)
		a.Content |= ComponentTXT
		c.emit(q, a, ComponentTXT, true)
	}
}

// FoldAddress applies "host A addr" or "host AAAA addr". For host queries
// the first address of the queried host creates the answer.
func (c *Cache) FoldAddress(host message.Domain, addr netip.Addr, ttl uint32, now time.Time) bool {
	found := false
	for _, q := range c.Queries() {
		switch q.Kind {
		case KindHost:
			if !q.Domain.Equal(host) {
				continue
			}
			a := q.findHost(host)
			if a == nil {
				if ttl == 0 || !q.AwaitingAnswers {
					continue
				}
				a = &Answer{HostDomain: host, Content: ComponentHostDomainAndPort}
				q.Answers = append(q.Answers, a)
				found = true
				c.emit(q, a, ComponentHostDomainAndPort, true)
			}
			if ttl > 0 {
				a.HostTTL.Set(ttl, now)
			}
			c.foldAddress(q, a, addr, ttl, now)

		case KindService:
			for _, a := range q.Answers {
				if a.Content&ComponentHostDomainAndPort != 0 && a.HostDomain.Equal(host) {
					c.foldAddress(q, a, addr, ttl, now)
				}
			}
		}
	}
	return found
}

func (c *Cache) foldAddress(q *Query, a *Answer, addr netip.Addr, ttl uint32, now time.Time) {
	list, comp := &a.IPv4, ComponentIPv4
	if addr.Is6() && !addr.Is4In6() {
		list, comp = &a.IPv6, ComponentIPv6
	}
	for i := range *list {
		known := &(*list)[i]
		if known.Addr != addr {
			continue
		}
		if ttl > 0 {
			known.TTL.Set(ttl, now)
		} else {
			known.TTL.PrepareDeletion(now)
		}
		return
	}
	if ttl == 0 {
		return
	}
	*list = append(*list, Address{Addr: addr, TTL: records.NewTTL(ttl, now)})
	a.Content |= comp
	c.emit(q, a, comp, true)
}

func (q *Query) findHost(domain message.Domain) *Answer {
	for _, a := range q.Answers {
		if a.HostDomain.Equal(domain) {
			return a
		}
	}
	return nil
}
