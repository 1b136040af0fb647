// Package responder advertises a host and its DNS-SD services over
// Multicast DNS and runs service and host queries on the same socket.
//
// ## PRIMARY TECHNICAL AUTHORITY
//
// - RFC 6762 §6: answering queries, known-answer suppression, legacy unicast
// - RFC 6762 §8: probing, simultaneous probe tiebreaking, announcing
// - RFC 6762 §9: conflict resolution by renaming
// - RFC 6762 §10: TTLs, goodbye packets, cache maintenance
// - RFC 6763 §4-§9: service instance names, TXT records, enumeration
//
// ## DESIGN
//
// A Responder is a single state machine guarded by one mutex. Nothing runs
// on its own timer: Update polls every probe, announcement and cache
// deadline against the injected Clock, and HandlePacket processes one
// received datagram. Run drives both from a receive goroutine and a 100ms
// ticker; embedders with their own loop may call Update and HandlePacket
// directly.
//
// User callbacks (probe results, query answers) are queued while the lock
// is held and invoked after it is released, so a callback may call any
// method of the Responder. Dynamic TXT callbacks are the exception: they
// run while a message is being built and may only use the DynamicTXT they
// are given.
//
// ## KEY CONCEPTS
//
//   - Host: the local name ("device.local") with its A, AAAA and reverse
//     PTR records. Services are announced on it.
//   - Service: an instance such as "Printer._http._tcp.local" with its PTR,
//     SRV and TXT records.
//   - Probing: three queries 250ms apart that must go unanswered before a
//     name is used (RFC 6762 §8.1).
//   - Announcing: three unsolicited responses 1s, 2s and 4s apart after a
//     successful probe (RFC 6762 §8.3).
//   - Conflict: a response claiming our name with other data. By default the
//     host becomes "device-2" and a service "Printer #2", then probing
//     restarts.
//   - Goodbye: records sent with TTL=0 when a service is removed or the
//     responder is closed (RFC 6762 §10.1).
//
// ## EXAMPLE USAGE
//
//	resp, err := responder.New(ctx, responder.WithInterface("eth0"))
//	if err != nil {
//	    return err
//	}
//	defer resp.Close()
//
//	if err := resp.Begin("printer"); err != nil {
//	    return err
//	}
//	h, err := resp.AddService("Printer", "http", "tcp", 80)
//	if err != nil {
//	    return err
//	}
//	_ = resp.AddServiceTXT(h, "path", "/")
//
//	return resp.Run(ctx)
package responder

import (
	"context"
	goerrors "errors"
	"fmt"
	"math/rand/v2"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/sync/errgroup"

	"github.com/joshuafuller/tinymdns/internal/cache"
	"github.com/joshuafuller/tinymdns/internal/errors"
	"github.com/joshuafuller/tinymdns/internal/message"
	"github.com/joshuafuller/tinymdns/internal/protocol"
	"github.com/joshuafuller/tinymdns/internal/responder"
	"github.com/joshuafuller/tinymdns/internal/transport"
)

const (
	// UpdateInterval is how often Run calls Update.
	UpdateInterval = 100 * time.Millisecond

	// receiveTimeout bounds one Receive call of Run so that cancellation
	// is noticed even on transports that ignore ctx.
	receiveTimeout = time.Second
)

// Responder is an mDNS responder and querier bound to one interface and
// one address family. All methods are safe for concurrent use.
type Responder struct {
	mu sync.Mutex

	registry *responder.Registry
	cache    *cache.Cache

	ctx       context.Context
	transport Transport
	netinfo   NetInfo
	clock     Clock
	logger    log.Logger
	trace     bool
	jitter    func() time.Duration

	hostname  string
	ifaceName string

	begun  bool
	closed bool

	// pending holds user callbacks queued under mu; unlock runs them.
	pending []func()

	// collected lists the services whose TXT record is in the message being
	// built.
	collected []*responder.Service
}

// New creates a Responder. Without WithTransport it opens a UDP socket on
// the interface chosen by WithInterface: IPv4 when the interface has an
// IPv4 address, IPv6 otherwise.
//
// The responder is silent until Begin is called; queries may be installed
// before that.
func New(ctx context.Context, opts ...Option) (*Responder, error) {
	r := &Responder{
		registry: responder.NewRegistry(),
		cache:    cache.New(),
		ctx:      ctx,
		clock:    systemClock{},
		logger:   log.NewNopLogger(),
		jitter:   randomProbeDelay,
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if r.transport == nil || r.netinfo == nil {
		info, err := transport.NewInterfaceInfo(r.ifaceName)
		if err != nil {
			return nil, fmt.Errorf("failed to select interface: %w", err)
		}
		if r.netinfo == nil {
			r.netinfo = info
		}
		if r.transport == nil {
			t, err := openTransport(ctx, info)
			if err != nil {
				return nil, fmt.Errorf("failed to open transport: %w", err)
			}
			r.transport = t
		}
	}
	return r, nil
}

func openTransport(ctx context.Context, info *transport.InterfaceInfo) (Transport, error) {
	if _, ok := info.LocalIPv4(); ok {
		return transport.NewUDPv4Transport(ctx, info.Interface())
	}
	if _, ok := info.LocalIPv6(); ok {
		return transport.NewUDPv6Transport(ctx, info.Interface())
	}
	return transport.NewUDPv4Transport(ctx, info.Interface())
}

func randomProbeDelay() time.Duration {
	return time.Duration(rand.Int64N(int64(protocol.ProbeDelay) + 1))
}

// unlock releases mu and then delivers the queued callbacks and cache
// events. Every public method pairs mu.Lock with a deferred unlock.
func (r *Responder) unlock() {
	calls := r.pending
	r.pending = nil
	for _, ev := range r.cache.Events() {
		calls = append(calls, func() { ev.Notify(ev) })
	}
	r.mu.Unlock()

	for _, fn := range calls {
		fn()
	}
}

func (r *Responder) queue(fn func()) {
	r.pending = append(r.pending, fn)
}

// Begin sets the host name and starts probing once the interface is
// usable. An empty name falls back to WithHostname, then to the system
// host name.
func (r *Responder) Begin(hostname string) error {
	r.mu.Lock()
	defer r.unlock()

	if r.closed {
		return ErrClosed
	}
	if hostname == "" {
		hostname = r.hostname
	}
	if hostname == "" {
		name, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to read system hostname: %w", err)
		}
		hostname, _, _ = strings.Cut(name, ".")
	}
	if err := r.registry.SetHostname(hostname); err != nil {
		return err
	}
	r.begun = true
	level.Info(r.logger).Log("msg", "responder started", "host", r.registry.Host.Name)
	return nil
}

// Hostname returns the current host name without ".local". It changes
// when a conflict forces a rename.
func (r *Responder) Hostname() string {
	r.mu.Lock()
	defer r.unlock()
	return r.registry.Host.Name
}

// SetHostname changes the host name and restarts probing for the host and
// every auto-named service.
func (r *Responder) SetHostname(hostname string) error {
	r.mu.Lock()
	defer r.unlock()

	if r.closed {
		return ErrClosed
	}
	if err := r.registry.SetHostname(hostname); err != nil {
		return err
	}
	level.Info(r.logger).Log("msg", "hostname changed", "host", r.registry.Host.Name)
	return nil
}

// SetInstanceName sets the instance name of services added without an
// explicit name. An empty name reverts to the host name.
func (r *Responder) SetInstanceName(name string) error {
	r.mu.Lock()
	defer r.unlock()

	if r.closed {
		return ErrClosed
	}
	return r.registry.SetInstanceName(name)
}

// Announce restarts the announce cycle of the host and every established
// service, e.g. after the application changed data it serves.
func (r *Responder) Announce() {
	r.mu.Lock()
	defer r.unlock()

	now := r.clock.Now()
	r.registry.Host.Probe.Reannounce(now)
	for _, s := range r.registry.Services() {
		s.Probe.Reannounce(now)
	}
}

// NotifyInterfaceChange restarts probing for the host and every service.
// Call it when the interface went down and up again or its addresses
// changed.
func (r *Responder) NotifyInterfaceChange() {
	r.mu.Lock()
	defer r.unlock()

	if !r.begun {
		return
	}
	r.registry.Host.Probe.Restart()
	for _, s := range r.registry.Services() {
		s.Probe.Restart()
	}
	level.Info(r.logger).Log("msg", "interface changed, probing again", "state", fmt.Sprintf("%+v", r.netinfo.State()))
}

// Update advances probing, announcing and the query cache to the current
// time. Run calls it every UpdateInterval.
func (r *Responder) Update() {
	r.mu.Lock()
	defer r.unlock()

	if r.closed {
		return
	}
	now := r.clock.Now()
	if r.begun {
		r.updateProbes(now)
	}
	if err := r.cache.Sweep(now, requester{r}); err != nil {
		level.Error(r.logger).Log("msg", "failed to send query", "err", err)
	}
}

// HandlePacket processes one received datagram. Malformed datagrams are
// dropped and reported as *MalformedMessageError; a legacy query from
// outside the local subnets is dropped and reported as ErrSpoofSuspected.
func (r *Responder) HandlePacket(packet []byte, src net.Addr) error {
	r.mu.Lock()
	defer r.unlock()

	if r.closed {
		return ErrClosed
	}
	r.tracePacket("received", packet, src)

	msg, err := message.Parse(packet)
	if err != nil {
		level.Debug(r.logger).Log("msg", "dropping malformed message", "src", addrString(src), "err", err)
		return err
	}
	// RFC 6762 §18.3: messages with a non-zero opcode are ignored.
	if msg.Header.Opcode() != 0 {
		return nil
	}

	if msg.Header.IsResponse() {
		r.handleResponse(msg, r.clock.Now())
		return nil
	}
	if !r.begun {
		return nil
	}
	return r.handleQuery(msg, src)
}

// Run receives and processes datagrams and calls Update until ctx is
// cancelled or the transport is closed.
func (r *Responder) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			if ctx.Err() != nil {
				return nil
			}
			recvCtx, cancel := context.WithTimeout(ctx, receiveTimeout)
			packet, src, _, err := r.transport.Receive(recvCtx)
			cancel()
			if err != nil {
				switch {
				case ctx.Err() != nil:
					return nil
				case isTimeout(err):
					continue
				case goerrors.Is(err, net.ErrClosed):
					return nil
				default:
					level.Warn(r.logger).Log("msg", "receive failed", "err", err)
					continue
				}
			}
			if err := r.HandlePacket(packet, src); err != nil {
				if goerrors.Is(err, ErrClosed) {
					return nil
				}
				level.Debug(r.logger).Log("msg", "packet dropped", "src", addrString(src), "err", err)
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(UpdateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if r.isClosed() {
					return nil
				}
				r.Update()
			}
		}
	})

	return g.Wait()
}

func isTimeout(err error) bool {
	if goerrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return goerrors.As(err, &netErr) && netErr.Timeout()
}

func (r *Responder) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Close sends goodbye packets for the host and every established service
// and closes the transport. Further calls return nil.
func (r *Responder) Close() error {
	r.mu.Lock()
	defer r.unlock()

	if r.closed {
		return nil
	}
	// The goodbye must go out even when the context given to New is done.
	r.ctx = context.WithoutCancel(r.ctx)
	if r.begun {
		if err := r.sendGoodbye(r.registry.Services(), true); err != nil {
			level.Warn(r.logger).Log("msg", "failed to send goodbye", "err", err)
		}
	}
	r.closed = true
	if err := r.transport.Close(); err != nil {
		return &errors.NetworkError{Operation: "close transport", Err: err}
	}
	level.Info(r.logger).Log("msg", "responder closed")
	return nil
}

// Status reports the probe status of the host.
func (r *Responder) Status() Status {
	r.mu.Lock()
	defer r.unlock()
	return r.registry.Host.Probe.Status
}
