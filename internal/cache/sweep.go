package cache

import (
	"time"

	"github.com/joshuafuller/tinymdns/internal/message"
	"github.com/joshuafuller/tinymdns/internal/protocol"
	"github.com/joshuafuller/tinymdns/internal/records"
)

// Requester sends the queries the sweep asks for.
type Requester interface {
	// SendQuery sends the full query: PTR for a service type, A and AAAA for
	// a host.
	SendQuery(q *Query) error
	// SendRecordQuery asks for one record type of name.
	SendRecordQuery(name message.Domain, t protocol.RecordType) error
}

// ResendDelay returns the delay armed after the n-th send of a dynamic
// query: DynamicQueryResendDelay * 2^min(n-1, MaxResendExponent).
func ResendDelay(n int) time.Duration {
	exp := n - 1
	if exp < 0 {
		exp = 0
	}
	if exp > protocol.MaxResendExponent {
		exp = protocol.MaxResendExponent
	}
	return protocol.DynamicQueryResendDelay << exp
}

// Sweep resends due dynamic queries and refreshes or expires answer
// components. A failed send leaves the step due, so it is repeated on the
// next sweep. The first send error is returned after the sweep completes.
func (c *Cache) Sweep(now time.Time, req Requester) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for _, q := range c.Queries() {
		if !q.Legacy && q.armed && !now.Before(q.resend) {
			if err := req.SendQuery(q); err != nil {
				keep(err)
			} else {
				q.Sent(now)
			}
		}
		if q.AwaitingAnswers {
			keep(c.sweepAnswers(q, now, req))
		}
	}
	return firstErr
}

func (c *Cache) sweepAnswers(q *Query, now time.Time, req Requester) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for _, a := range append([]*Answer(nil), q.Answers...) {
		pivot := a.pivot(q.Kind)
		if pivot.Flagged(now) {
			if pivot.FinalTimeoutLevel() {
				c.emit(q, a, c.pivotComponent(q), false)
				q.removeAnswer(a)
				continue
			}
			if err := req.SendQuery(q); err != nil {
				keep(err)
			} else {
				pivot.Restart(now)
			}
		}

		if q.Kind == KindService {
			keep(c.sweepHost(q, a, now, req))
			keep(c.sweepTXT(q, a, now, req))
		}
		keep(c.sweepAddresses(q, a, &a.IPv4, ComponentIPv4, protocol.RecordTypeA, now, req))
		keep(c.sweepAddresses(q, a, &a.IPv6, ComponentIPv6, protocol.RecordTypeAAAA, now, req))
	}
	return firstErr
}

func (c *Cache) pivotComponent(q *Query) Component {
	if q.Kind == KindHost {
		return ComponentHostDomainAndPort
	}
	return ComponentServiceDomain
}

// sweepHost refreshes the host domain and port learned from SRV. When they
// expire the addresses go with them.
func (c *Cache) sweepHost(q *Query, a *Answer, now time.Time, req Requester) error {
	if !a.HostTTL.Flagged(now) {
		return nil
	}
	if !a.HostTTL.FinalTimeoutLevel() {
		if err := req.SendRecordQuery(a.ServiceDomain, protocol.RecordTypeSRV); err != nil {
			return err
		}
		a.HostTTL.Restart(now)
		return nil
	}
	removed := ComponentHostDomainAndPort | a.Content&(ComponentIPv4|ComponentIPv6)
	a.HostDomain = message.Domain{}
	a.Port = 0
	a.HostTTL = records.TTL{}
	a.IPv4, a.IPv6 = nil, nil
	a.Content &^= ComponentHostDomainAndPort | ComponentIPv4 | ComponentIPv6
	c.emit(q, a, removed, false)
	return nil
}

func (c *Cache) sweepTXT(q *Query, a *Answer, now time.Time, req Requester) error {
	if !a.TXTTTL.Flagged(now) {
		return nil
	}
	if !a.TXTTTL.FinalTimeoutLevel() {
		if err := req.SendRecordQuery(a.ServiceDomain, protocol.RecordTypeTXT); err != nil {
			return err
		}
		a.TXTTTL.Restart(now)
		return nil
	}
	a.TXT = nil
	a.TXTTTL = records.TTL{}
	a.Content &^= ComponentTXT
	c.emit(q, a, ComponentTXT, false)
	return nil
}

// sweepAddresses refreshes every address of one family. A single re-query
// covers all flagged addresses of the answer.
func (c *Cache) sweepAddresses(q *Query, a *Answer, list *[]Address, comp Component, t protocol.RecordType, now time.Time, req Requester) error {
	var sent bool
	var sendErr error
	kept := (*list)[:0]
	for _, ip := range *list {
		if !ip.TTL.Flagged(now) {
			kept = append(kept, ip)
			continue
		}
		if ip.TTL.FinalTimeoutLevel() {
			continue
		}
		if !sent && sendErr == nil {
			sendErr = req.SendRecordQuery(a.HostDomain, t)
			sent = sendErr == nil
		}
		if sent {
			ip.TTL.Restart(now)
		}
		kept = append(kept, ip)
	}
	removed := len(*list) - len(kept)
	for i := len(kept); i < len(*list); i++ {
		(*list)[i] = Address{}
	}
	*list = kept
	if removed > 0 {
		if len(kept) == 0 {
			a.Content &^= comp
		}
		c.emit(q, a, comp, false)
	}
	return sendErr
}
