// Package responder holds the registry of the local host and its services.
//
// The registry is plain data: it validates names, hands out stable service
// IDs and derives the domains each entity answers for. It takes no locks;
// the public responder serializes every access.
package responder

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/joshuafuller/tinymdns/internal/errors"
	"github.com/joshuafuller/tinymdns/internal/message"
	"github.com/joshuafuller/tinymdns/internal/protocol"
	"github.com/joshuafuller/tinymdns/internal/state"
)

// Limits on the service type and protocol labels (RFC 6335 §5.1).
const (
	MaxServiceLength  = 15
	MaxProtocolLength = 3
)

// Rename dividers used when a name is lost to a conflict (RFC 6762 §9).
const (
	HostDivider    = "-"
	ServiceDivider = " #"
)

// ServiceID identifies a service in the registry. IDs are never reused.
type ServiceID uint32

// TXTCallback supplies temporary TXT entries right before a message is
// built. id is zero for the host-wide callback.
type TXTCallback func(id ServiceID)

// Host is the local host.
type Host struct {
	Name     string
	Instance string

	Probe     state.Probe
	ReplyMask protocol.Content

	// DynamicTXT is invoked for every service whose records are about to
	// be sent.
	DynamicTXT TXTCallback
}

// Service is one advertised service instance.
type Service struct {
	ID ServiceID

	// Name is the explicit instance name; empty means auto-named from the
	// host's instance name or host name.
	Name     string
	Type     string // without the leading underscore, e.g. "http"
	Protocol string // "tcp" or "udp"
	Port     uint16
	TXT      TXTs

	Probe     state.Probe
	ReplyMask protocol.Content

	DynamicTXT TXTCallback
}

// AutoNamed reports whether the instance name is derived from the host.
func (s *Service) AutoNamed() bool {
	return s.Name == ""
}

// Registry is the arena of the host and its services.
type Registry struct {
	Host Host

	services map[ServiceID]*Service
	order    []ServiceID
	nextID   ServiceID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		services: make(map[ServiceID]*Service),
	}
}

// SetHostname validates and sets the host name. Changing the name restarts
// probing for the host and for every auto-named service.
func (r *Registry) SetHostname(name string) error {
	name = strings.TrimSuffix(strings.TrimSuffix(name, "."), "."+protocol.DomainLocal)
	if _, err := message.HostDomain(name); err != nil {
		return fmt.Errorf("invalid hostname %q: %w", name, err)
	}
	if name == r.Host.Name {
		return nil
	}
	r.Host.Name = name
	r.restartAuto()
	return nil
}

// SetInstanceName sets the name auto-named services derive their instance
// name from. An empty name falls back to the host name.
func (r *Registry) SetInstanceName(name string) error {
	if len(name) > protocol.MaxLabelLength {
		return fmt.Errorf("invalid instance name %q: %w", name, errors.ErrLabelTooLong)
	}
	if name == r.Host.Instance {
		return nil
	}
	r.Host.Instance = name
	for _, id := range r.order {
		if s := r.services[id]; s.AutoNamed() {
			s.Probe.Restart()
		}
	}
	return nil
}

func (r *Registry) restartAuto() {
	r.Host.Probe.Restart()
	for _, id := range r.order {
		if s := r.services[id]; s.AutoNamed() {
			s.Probe.Restart()
		}
	}
}

// HostDomain returns name.local.
func (r *Registry) HostDomain() (message.Domain, error) {
	return message.HostDomain(r.Host.Name)
}

// InstanceName returns the effective instance name of s.
func (r *Registry) InstanceName(s *Service) string {
	switch {
	case s.Name != "":
		return s.Name
	case r.Host.Instance != "":
		return r.Host.Instance
	default:
		return r.Host.Name
	}
}

// ServiceDomains returns the instance domain (Name._type._proto.local) and
// the service type domain (_type._proto.local) of s.
func (r *Registry) ServiceDomains(s *Service) (instance, serviceType message.Domain, err error) {
	instance, err = message.ServiceInstanceDomain(r.InstanceName(s), s.Type, s.Protocol)
	if err != nil {
		return message.Domain{}, message.Domain{}, err
	}
	serviceType, err = message.ServiceTypeDomain(s.Type, s.Protocol)
	if err != nil {
		return message.Domain{}, message.Domain{}, err
	}
	return instance, serviceType, nil
}

// AddService validates and adds a service. An empty name makes the service
// auto-named. The new service is ready to probe.
func (r *Registry) AddService(name, service, proto string, port uint16) (*Service, error) {
	service = strings.TrimPrefix(service, "_")
	proto = strings.ToLower(strings.TrimPrefix(proto, "_"))

	switch {
	case service == "":
		return nil, &errors.ValidationError{Field: "service", Value: service, Message: "must not be empty"}
	case len(service) > MaxServiceLength:
		return nil, &errors.ValidationError{Field: "service", Value: service,
			Message: fmt.Sprintf("must be at most %d bytes", MaxServiceLength)}
	case proto != "tcp" && proto != "udp":
		return nil, &errors.ValidationError{Field: "protocol", Value: proto, Message: "must be tcp or udp"}
	case port == 0:
		return nil, &errors.ValidationError{Field: "port", Value: port, Message: "must not be zero"}
	}

	s := &Service{Name: name, Type: service, Protocol: proto, Port: port}
	if _, _, err := r.ServiceDomains(s); err != nil {
		return nil, fmt.Errorf("invalid service %q: %w", r.InstanceName(s), err)
	}
	if r.FindService(r.InstanceName(s), service, proto) != nil {
		return nil, &errors.ValidationError{Field: "service", Value: r.InstanceName(s) + "._" + service + "._" + proto,
			Message: "already registered"}
	}

	r.nextID++
	s.ID = r.nextID
	s.Probe.MarkReady()
	r.services[s.ID] = s
	r.order = append(r.order, s.ID)
	return s, nil
}

// RemoveService removes a service. It reports whether the ID was known.
func (r *Registry) RemoveService(id ServiceID) bool {
	if _, ok := r.services[id]; !ok {
		return false
	}
	delete(r.services, id)
	for i, o := range r.order {
		if o == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Service returns the service with the given ID.
func (r *Registry) Service(id ServiceID) (*Service, bool) {
	s, ok := r.services[id]
	return s, ok
}

// Services returns all services in registration order.
func (r *Registry) Services() []*Service {
	out := make([]*Service, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.services[id])
	}
	return out
}

// Len returns the number of services.
func (r *Registry) Len() int {
	return len(r.order)
}

// FindService looks a service up by instance name, type and protocol,
// ignoring case.
func (r *Registry) FindService(instance, service, proto string) *Service {
	service = strings.TrimPrefix(service, "_")
	proto = strings.TrimPrefix(proto, "_")
	for _, id := range r.order {
		s := r.services[id]
		if strings.EqualFold(r.InstanceName(s), instance) &&
			strings.EqualFold(s.Type, service) &&
			strings.EqualFold(s.Protocol, proto) {
			return s
		}
	}
	return nil
}

// SetServiceName renames a service and restarts its probing. An empty name
// makes it auto-named.
func (r *Registry) SetServiceName(id ServiceID, name string) error {
	s, ok := r.services[id]
	if !ok {
		return &errors.ValidationError{Field: "service", Value: id, Message: "unknown service"}
	}
	renamed := *s
	renamed.Name = name
	if _, _, err := r.ServiceDomains(&renamed); err != nil {
		return fmt.Errorf("invalid service name %q: %w", name, err)
	}
	if other := r.FindService(r.InstanceName(&renamed), s.Type, s.Protocol); other != nil && other.ID != id {
		return &errors.ValidationError{Field: "name", Value: name, Message: "already registered"}
	}
	s.Name = name
	s.Probe.Restart()
	return nil
}

// IndexHostName renames the host after a lost conflict: "device" becomes
// "device-2", "device-2" becomes "device-3".
func (r *Registry) IndexHostName() error {
	return r.SetHostname(IndexName(r.Host.Name, HostDivider))
}

// IndexServiceName renames a service after a lost conflict: "Printer"
// becomes "Printer #2". An auto-named service becomes explicitly named.
func (r *Registry) IndexServiceName(id ServiceID) error {
	s, ok := r.services[id]
	if !ok {
		return &errors.ValidationError{Field: "service", Value: id, Message: "unknown service"}
	}
	return r.SetServiceName(id, IndexName(r.InstanceName(s), ServiceDivider))
}

// IndexName appends divider+"2" to name, or increments an index that
// already follows the last divider.
func IndexName(name, divider string) string {
	if i := strings.LastIndex(name, divider); i >= 0 {
		suffix := name[i+len(divider):]
		if n, err := strconv.ParseUint(suffix, 10, 32); err == nil && n > 0 {
			return name[:i+len(divider)] + strconv.FormatUint(n+1, 10)
		}
	}
	return name + divider + "2"
}
