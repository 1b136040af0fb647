package responder

import (
	"time"

	"github.com/go-kit/log"

	"github.com/joshuafuller/tinymdns/internal/errors"
	"github.com/joshuafuller/tinymdns/internal/transport"
)

// Transport sends and receives mDNS datagrams. A nil destination passed to
// Send means the multicast group of the transport's address family.
type Transport = transport.Transport

// NetInfo reports the state and addresses of the interface the responder
// is bound to.
type NetInfo = transport.NetInfo

// InterfaceState is returned by NetInfo.State.
type InterfaceState = transport.InterfaceState

// Option is a functional option for configuring a Responder.
//
// Options are applied by New before the transport is opened, so an option
// may replace any collaborator the responder would otherwise create.
//
// Example:
//
//	resp, err := responder.New(ctx,
//	    responder.WithHostname("mydevice"),
//	    responder.WithInterface("eth0"),
//	    responder.WithLogger(logger),
//	)
type Option func(*Responder) error

// WithHostname sets the host name Begin uses when it is called with an
// empty name. A trailing ".local" is accepted and stripped.
//
// Without this option the system host name is used.
//
// Example:
//
//	// The host answers for server.local
//	resp, err := responder.New(ctx, responder.WithHostname("server.local"))
func WithHostname(hostname string) Option {
	return func(r *Responder) error {
		if hostname == "" {
			return &errors.ValidationError{Field: "hostname", Value: hostname, Message: "must not be empty"}
		}
		r.hostname = hostname
		return nil
	}
}

// WithTransport replaces the UDP multicast transport. The responder takes
// ownership and closes it in Close.
//
// Tests use it with an in-memory transport:
//
//	mock := transport.NewMockTransport()
//	resp, err := responder.New(ctx,
//	    responder.WithTransport(mock),
//	    responder.WithNetInfo(transport.NewStaticNetInfo(v4, netip.Prefix{})),
//	)
func WithTransport(t Transport) Option {
	return func(r *Responder) error {
		if t == nil {
			return &errors.ValidationError{Field: "transport", Value: nil, Message: "must not be nil"}
		}
		r.transport = t
		return nil
	}
}

// WithNetInfo replaces the interface information the host records are
// built from.
func WithNetInfo(n NetInfo) Option {
	return func(r *Responder) error {
		if n == nil {
			return &errors.ValidationError{Field: "netinfo", Value: nil, Message: "must not be nil"}
		}
		r.netinfo = n
		return nil
	}
}

// WithClock replaces the clock all timers are polled against.
func WithClock(c Clock) Option {
	return func(r *Responder) error {
		if c == nil {
			return &errors.ValidationError{Field: "clock", Value: nil, Message: "must not be nil"}
		}
		r.clock = c
		return nil
	}
}

// WithLogger sets the go-kit logger. The default discards everything.
//
// Example:
//
//	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
//	logger = level.NewFilter(logger, level.AllowInfo())
//	resp, err := responder.New(ctx, responder.WithLogger(logger))
func WithLogger(logger log.Logger) Option {
	return func(r *Responder) error {
		if logger == nil {
			logger = log.NewNopLogger()
		}
		r.logger = logger
		return nil
	}
}

// WithPacketTrace logs every sent and received datagram, decoded, at debug
// level.
func WithPacketTrace(enabled bool) Option {
	return func(r *Responder) error {
		r.trace = enabled
		return nil
	}
}

// WithProbeJitter replaces the source of the random delay before the first
// host probe. RFC 6762 §8.1 asks for a delay in [0, 250] ms; values outside
// that range are clamped.
//
// Tests pin the delay:
//
//	responder.WithProbeJitter(func() time.Duration { return 0 })
func WithProbeJitter(fn func() time.Duration) Option {
	return func(r *Responder) error {
		if fn == nil {
			return &errors.ValidationError{Field: "jitter", Value: nil, Message: "must not be nil"}
		}
		r.jitter = fn
		return nil
	}
}

// WithInterface binds the responder to the named network interface. An
// empty name picks the first multicast-capable interface that is up.
func WithInterface(name string) Option {
	return func(r *Responder) error {
		r.ifaceName = name
		return nil
	}
}
