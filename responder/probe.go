package responder

import (
	"time"

	"github.com/go-kit/log/level"

	"github.com/joshuafuller/tinymdns/internal/protocol"
	"github.com/joshuafuller/tinymdns/internal/responder"
	"github.com/joshuafuller/tinymdns/internal/state"
)

// updateProbes ticks the probe machine of the host and of every service
// and performs the returned actions. Nothing is sent while the interface
// is unusable.
func (r *Responder) updateProbes(now time.Time) {
	if !r.netinfo.State().Usable() {
		return
	}

	host := &r.registry.Host
	delay := protocol.ProbeDelay
	if host.Probe.Status == state.ReadyToStart {
		delay = r.hostProbeDelay()
	}
	switch host.Probe.Tick(now, delay) {
	case state.ActionSendProbe:
		if err := r.sendHostProbe(); err != nil {
			host.Probe.SendFailed(now)
			level.Error(r.logger).Log("msg", "failed to send host probe", "host", host.Name, "err", err)
		}
	case state.ActionProbeSucceeded:
		level.Info(r.logger).Log("msg", "hostname established", "host", host.Name)
		r.reportProbe(&host.Probe, host.Name, true)
	case state.ActionSendAnnounce:
		if err := r.announceHost(); err != nil {
			host.Probe.SendFailed(now)
			level.Error(r.logger).Log("msg", "failed to announce host", "host", host.Name, "err", err)
		}
	}

	for _, s := range r.registry.Services() {
		name := r.registry.InstanceName(s)
		switch s.Probe.Tick(now, protocol.ProbeDelay) {
		case state.ActionSendProbe:
			if err := r.sendServiceProbe(s); err != nil {
				s.Probe.SendFailed(now)
				level.Error(r.logger).Log("msg", "failed to send service probe", "service", name, "err", err)
			}
		case state.ActionProbeSucceeded:
			level.Info(r.logger).Log("msg", "service established", "service", name, "type", s.Type, "port", s.Port)
			r.reportProbe(&s.Probe, name, true)
		case state.ActionSendAnnounce:
			if err := r.announceService(s); err != nil {
				s.Probe.SendFailed(now)
				level.Error(r.logger).Log("msg", "failed to announce service", "service", name, "err", err)
			}
		}
	}
}

func (r *Responder) hostProbeDelay() time.Duration {
	d := r.jitter()
	switch {
	case d < 0:
		return 0
	case d > protocol.ProbeDelay:
		return protocol.ProbeDelay
	}
	return d
}

func (r *Responder) reportProbe(p *state.Probe, name string, success bool) {
	if fn := p.OnResult; fn != nil {
		r.queue(func() { fn(name, success) })
	}
}

// hostConflict gives up the host name. Without a result callback the host
// is renamed ("device" -> "device-2") and probing starts over.
func (r *Responder) hostConflict() {
	host := &r.registry.Host
	name := host.Name
	host.Probe.Cancel()
	level.Warn(r.logger).Log("msg", "hostname conflict", "host", name)

	if host.Probe.OnResult != nil {
		r.reportProbe(&host.Probe, name, false)
		return
	}
	if err := r.registry.IndexHostName(); err != nil {
		level.Error(r.logger).Log("msg", "failed to rename host", "host", name, "err", err)
		return
	}
	level.Info(r.logger).Log("msg", "host renamed", "from", name, "to", host.Name)
}

// serviceConflict gives up a service instance name. Without a result
// callback the service is renamed ("Printer" -> "Printer #2").
func (r *Responder) serviceConflict(s *responder.Service) {
	name := r.registry.InstanceName(s)
	s.Probe.Cancel()
	level.Warn(r.logger).Log("msg", "service name conflict", "service", name)

	if s.Probe.OnResult != nil {
		r.reportProbe(&s.Probe, name, false)
		return
	}
	if err := r.registry.IndexServiceName(s.ID); err != nil {
		level.Error(r.logger).Log("msg", "failed to rename service", "service", name, "err", err)
		return
	}
	level.Info(r.logger).Log("msg", "service renamed", "from", name, "to", r.registry.InstanceName(s))
}

// defending reports whether a name is claimed and must be defended
// against conflicting responses.
func defending(p *state.Probe) bool {
	return p.Status == state.InProgress || p.Status == state.Done
}
