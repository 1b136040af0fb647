package responder

import (
	"github.com/go-kit/log/level"

	"github.com/joshuafuller/tinymdns/internal/errors"
	"github.com/joshuafuller/tinymdns/internal/responder"
)

// ServiceHandle identifies a service added with AddService. Handles are
// never reused.
type ServiceHandle uint32

// ProbeResultFunc receives the outcome of probing a name. Setting one
// replaces the automatic rename on conflict: after a failure the name
// stays unclaimed until it is changed with SetHostname or SetServiceName.
type ProbeResultFunc func(name string, success bool)

// DynamicTXTFunc adds temporary TXT items right before the records of a
// service are sent. It runs with the responder locked and may only use
// txt.
type DynamicTXTFunc func(txt *DynamicTXT)

// DynamicTXT is the view of one service given to a DynamicTXTFunc.
type DynamicTXT struct {
	// Service is the handle of the service whose records are being built.
	Service ServiceHandle

	s *responder.Service
}

// Add sets a temporary item. It cannot replace a static item.
func (d *DynamicTXT) Add(key, value string) error {
	return d.s.TXT.Set(key, value, true)
}

// Get returns the value of an item, static or temporary.
func (d *DynamicTXT) Get(key string) (string, bool) {
	return d.s.TXT.Get(key)
}

func (r *Responder) service(h ServiceHandle) (*responder.Service, error) {
	s, ok := r.registry.Service(responder.ServiceID(h))
	if !ok {
		return nil, &errors.ValidationError{Field: "service", Value: h, Message: "unknown service"}
	}
	return s, nil
}

// AddService advertises an instance of service over proto ("tcp" or
// "udp") on port. An empty name derives the instance name from
// SetInstanceName or the host name. Probing starts on the next Update.
func (r *Responder) AddService(name, service, proto string, port uint16) (ServiceHandle, error) {
	r.mu.Lock()
	defer r.unlock()

	if r.closed {
		return 0, ErrClosed
	}
	s, err := r.registry.AddService(name, service, proto, port)
	if err != nil {
		return 0, err
	}
	level.Info(r.logger).Log("msg", "service added", "service", r.registry.InstanceName(s), "type", s.Type, "proto", s.Protocol, "port", port)
	return ServiceHandle(s.ID), nil
}

// RemoveService withdraws a service. An established service is removed
// from peer caches with a goodbye packet.
func (r *Responder) RemoveService(h ServiceHandle) error {
	r.mu.Lock()
	defer r.unlock()

	s, err := r.service(h)
	if err != nil {
		return err
	}
	if !r.closed {
		if err := r.sendGoodbye([]*responder.Service{s}, false); err != nil {
			level.Warn(r.logger).Log("msg", "failed to send goodbye", "service", r.registry.InstanceName(s), "err", err)
		}
	}
	r.registry.RemoveService(s.ID)
	level.Info(r.logger).Log("msg", "service removed", "service", r.registry.InstanceName(s))
	return nil
}

// SetServiceName renames a service and probes the new name. An empty name
// makes it follow the instance name again.
func (r *Responder) SetServiceName(h ServiceHandle, name string) error {
	r.mu.Lock()
	defer r.unlock()

	if r.closed {
		return ErrClosed
	}
	return r.registry.SetServiceName(responder.ServiceID(h), name)
}

// ServiceName returns the instance name a service currently uses, or ""
// for an unknown handle.
func (r *Responder) ServiceName(h ServiceHandle) string {
	r.mu.Lock()
	defer r.unlock()

	s, err := r.service(h)
	if err != nil {
		return ""
	}
	return r.registry.InstanceName(s)
}

// ServiceStatus reports the probe status of a service.
func (r *Responder) ServiceStatus(h ServiceHandle) (Status, error) {
	r.mu.Lock()
	defer r.unlock()

	s, err := r.service(h)
	if err != nil {
		return 0, err
	}
	return s.Probe.Status, nil
}

// AddServiceTXT sets a static TXT item. An established service announces
// the change (RFC 6762 §8.4).
func (r *Responder) AddServiceTXT(h ServiceHandle, key, value string) error {
	r.mu.Lock()
	defer r.unlock()

	s, err := r.service(h)
	if err != nil {
		return err
	}
	if err := s.TXT.Set(key, value, false); err != nil {
		return err
	}
	s.Probe.Reannounce(r.clock.Now())
	return nil
}

// RemoveServiceTXT deletes a TXT item.
func (r *Responder) RemoveServiceTXT(h ServiceHandle, key string) error {
	r.mu.Lock()
	defer r.unlock()

	s, err := r.service(h)
	if err != nil {
		return err
	}
	if !s.TXT.Remove(key) {
		return &errors.ValidationError{Field: "txt key", Value: key, Message: "not set"}
	}
	s.Probe.Reannounce(r.clock.Now())
	return nil
}

// AddDynamicServiceTXT sets a temporary TXT item. It is sent with the next
// message that carries the service's TXT record and dropped afterwards.
func (r *Responder) AddDynamicServiceTXT(h ServiceHandle, key, value string) error {
	r.mu.Lock()
	defer r.unlock()

	s, err := r.service(h)
	if err != nil {
		return err
	}
	return s.TXT.Set(key, value, true)
}

// SetDynamicServiceTXTCallback installs fn for every service. A nil fn
// removes it.
func (r *Responder) SetDynamicServiceTXTCallback(fn DynamicTXTFunc) {
	r.mu.Lock()
	defer r.unlock()
	r.registry.Host.DynamicTXT = r.txtCallback(fn)
}

// SetServiceDynamicTXTCallback installs fn for one service, in addition to
// the one set with SetDynamicServiceTXTCallback.
func (r *Responder) SetServiceDynamicTXTCallback(h ServiceHandle, fn DynamicTXTFunc) error {
	r.mu.Lock()
	defer r.unlock()

	s, err := r.service(h)
	if err != nil {
		return err
	}
	s.DynamicTXT = r.txtCallback(fn)
	return nil
}

func (r *Responder) txtCallback(fn DynamicTXTFunc) responder.TXTCallback {
	if fn == nil {
		return nil
	}
	return func(id responder.ServiceID) {
		s, ok := r.registry.Service(id)
		if !ok {
			return
		}
		fn(&DynamicTXT{Service: ServiceHandle(id), s: s})
	}
}

// SetHostProbeResultCallback reports the outcome of probing the host name.
// A nil fn restores automatic renaming.
func (r *Responder) SetHostProbeResultCallback(fn ProbeResultFunc) {
	r.mu.Lock()
	defer r.unlock()
	r.registry.Host.Probe.OnResult = fn
}

// SetServiceProbeResultCallback reports the outcome of probing a service
// name. A nil fn restores automatic renaming.
func (r *Responder) SetServiceProbeResultCallback(h ServiceHandle, fn ProbeResultFunc) error {
	r.mu.Lock()
	defer r.unlock()

	s, err := r.service(h)
	if err != nil {
		return err
	}
	s.Probe.OnResult = fn
	return nil
}
