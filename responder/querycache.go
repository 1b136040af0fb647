package responder

import (
	"context"
	"strings"
	"time"

	"github.com/go-kit/log/level"

	"github.com/joshuafuller/tinymdns/internal/cache"
	"github.com/joshuafuller/tinymdns/internal/errors"
	"github.com/joshuafuller/tinymdns/internal/message"
	"github.com/joshuafuller/tinymdns/internal/protocol"
	"github.com/joshuafuller/tinymdns/internal/records"
	"github.com/joshuafuller/tinymdns/querier"
)

// QueryHandle identifies a dynamic query installed with InstallServiceQuery
// or InstallHostQuery.
type QueryHandle uint32

// requester sends the queries the cache sweep asks for.
type requester struct {
	r *Responder
}

func (q requester) SendQuery(query *cache.Query) error {
	return q.r.sendQuery(query, q.r.clock.Now())
}

func (q requester) SendRecordQuery(name message.Domain, t protocol.RecordType) error {
	o := &outgoing{questions: []message.Question{{Name: name, Type: t, Class: protocol.ClassIN}}}
	return q.r.send(o, nil)
}

// sendQuery sends the question of q. Service queries list the PTR records
// already known with more than half their TTL left (RFC 6762 §7.1).
func (r *Responder) sendQuery(q *cache.Query, now time.Time) error {
	o := &outgoing{}
	switch q.Kind {
	case cache.KindService:
		o.questions = []message.Question{{Name: q.Domain, Type: protocol.RecordTypePTR, Class: protocol.ClassIN}}
		for _, known := range q.KnownAnswers(now) {
			o.answers = append(o.answers, records.ResourceRecord{Record: message.Record{
				Name: q.Domain, Type: protocol.RecordTypePTR, Class: protocol.ClassIN,
				TTL: known.TTL, Data: &message.PTR{Target: known.Domain},
			}})
		}
	case cache.KindHost:
		o.questions = []message.Question{
			{Name: q.Domain, Type: protocol.RecordTypeA, Class: protocol.ClassIN},
			{Name: q.Domain, Type: protocol.RecordTypeAAAA, Class: protocol.ClassIN},
		}
	}
	return r.send(o, nil)
}

// serviceTypeDomain validates and builds "_service._proto.local".
func serviceTypeDomain(service, proto string) (message.Domain, error) {
	service = strings.TrimPrefix(service, "_")
	proto = strings.ToLower(strings.TrimPrefix(proto, "_"))
	switch {
	case service == "":
		return message.Domain{}, &errors.ValidationError{Field: "service", Value: service, Message: "must not be empty"}
	case proto != "tcp" && proto != "udp":
		return message.Domain{}, &errors.ValidationError{Field: "protocol", Value: proto, Message: "must be tcp or udp"}
	}
	return message.ServiceTypeDomain(service, proto)
}

// answerInfo converts a cache answer into its public form.
func answerInfo(id cache.QueryID, a *cache.Answer) querier.AnswerInfo {
	info := querier.AnswerInfo{
		Query:   uint32(id),
		Port:    a.Port,
		Content: querier.AnswerType(a.Content),
	}
	if !a.ServiceDomain.IsZero() {
		info.ServiceDomain = a.ServiceDomain.String()
	}
	if !a.HostDomain.IsZero() {
		info.HostDomain = a.HostDomain.String()
	}
	for _, e := range a.TXT {
		info.TXT = append(info.TXT, querier.TXTItem{Key: e.Key, Value: e.Value, Empty: e.Empty})
	}
	for _, ip := range a.IPv4 {
		info.IPv4 = append(info.IPv4, ip.Addr)
	}
	for _, ip := range a.IPv6 {
		info.IPv6 = append(info.IPv6, ip.Addr)
	}
	return info
}

func notifier(cb querier.Callback) func(cache.Event) {
	return func(ev cache.Event) {
		cb(answerInfo(ev.Query, &ev.Answer), querier.AnswerType(ev.Component), ev.Added)
	}
}

// InstallServiceQuery starts browsing a service type, e.g. ("http", "tcp").
// The query is sent at once and then resent with a doubling interval, up
// to about an hour. cb is called for every answer part that appears or
// disappears.
func (r *Responder) InstallServiceQuery(service, proto string, cb querier.Callback) (QueryHandle, error) {
	if cb == nil {
		return 0, &errors.ValidationError{Field: "callback", Value: nil, Message: "must not be nil"}
	}
	domain, err := serviceTypeDomain(service, proto)
	if err != nil {
		return 0, err
	}
	return r.install(cache.KindService, domain, cb)
}

// InstallHostQuery starts resolving the addresses of a host, e.g.
// "printer" or "printer.local".
func (r *Responder) InstallHostQuery(host string, cb querier.Callback) (QueryHandle, error) {
	if cb == nil {
		return 0, &errors.ValidationError{Field: "callback", Value: nil, Message: "must not be nil"}
	}
	host = strings.TrimSuffix(strings.TrimSuffix(host, "."), "."+protocol.DomainLocal)
	domain, err := message.HostDomain(host)
	if err != nil {
		return 0, err
	}
	return r.install(cache.KindHost, domain, cb)
}

func (r *Responder) install(kind cache.Kind, domain message.Domain, cb querier.Callback) (QueryHandle, error) {
	r.mu.Lock()
	defer r.unlock()

	if r.closed {
		return 0, ErrClosed
	}
	now := r.clock.Now()
	q := r.cache.Install(kind, domain, false, notifier(cb), now)
	if err := r.sendQuery(q, now); err != nil {
		level.Warn(r.logger).Log("msg", "failed to send query", "query", domain.String(), "err", err)
	} else {
		q.Sent(now)
	}
	level.Debug(r.logger).Log("msg", "query installed", "kind", kind, "query", domain.String(), "id", q.ID)
	return QueryHandle(q.ID), nil
}

// RemoveQuery uninstalls a dynamic query. No further callbacks are made
// for it.
func (r *Responder) RemoveQuery(h QueryHandle) bool {
	r.mu.Lock()
	defer r.unlock()
	return r.cache.Remove(cache.QueryID(h))
}

// AnswerCount returns the number of answers a query holds.
func (r *Responder) AnswerCount(h QueryHandle) int {
	r.mu.Lock()
	defer r.unlock()

	q, ok := r.cache.Query(cache.QueryID(h))
	if !ok {
		return 0
	}
	return len(q.Answers)
}

// Answers returns the answers a query holds.
func (r *Responder) Answers(h QueryHandle) []querier.AnswerInfo {
	r.mu.Lock()
	defer r.unlock()

	q, ok := r.cache.Query(cache.QueryID(h))
	if !ok {
		return nil
	}
	return answers(q)
}

func answers(q *cache.Query) []querier.AnswerInfo {
	out := make([]querier.AnswerInfo, 0, len(q.Answers))
	for _, a := range q.Answers {
		out = append(out, answerInfo(q.ID, a))
	}
	return out
}

// QueryService sends one query for a service type and collects answers
// until timeout elapses or ctx is done. It returns the number of answers;
// read them with LegacyAnswers. A new call replaces the previous result.
//
// Received packets are processed by Run meanwhile, so QueryService must
// not be called from the goroutine that drives the responder.
func (r *Responder) QueryService(ctx context.Context, service, proto string, timeout time.Duration) int {
	domain, err := serviceTypeDomain(service, proto)
	if err != nil {
		level.Warn(r.logger).Log("msg", "invalid service query", "err", err)
		return 0
	}

	r.mu.Lock()
	if r.closed {
		r.unlock()
		return 0
	}
	now := r.clock.Now()
	q := r.cache.Install(cache.KindService, domain, true, nil, now)
	if err := r.sendQuery(q, now); err != nil {
		level.Warn(r.logger).Log("msg", "failed to send query", "query", domain.String(), "err", err)
	} else {
		q.Sent(now)
	}
	id := q.ID
	r.unlock()

	select {
	case <-r.clock.After(timeout):
	case <-ctx.Done():
	}

	r.mu.Lock()
	defer r.unlock()
	q, ok := r.cache.Query(id)
	if !ok {
		return 0
	}
	q.AwaitingAnswers = false
	return len(q.Answers)
}

// LegacyAnswers returns the answers collected by the last QueryService.
func (r *Responder) LegacyAnswers() []querier.AnswerInfo {
	r.mu.Lock()
	defer r.unlock()

	q, ok := r.cache.Legacy()
	if !ok {
		return nil
	}
	return answers(q)
}

// RemoveLegacyQuery drops the result of the last QueryService.
func (r *Responder) RemoveLegacyQuery() bool {
	r.mu.Lock()
	defer r.unlock()

	q, ok := r.cache.Legacy()
	if !ok {
		return false
	}
	return r.cache.Remove(q.ID)
}
