// Package state implements the probe and announce lifecycle shared by the
// host and every service.
//
// RFC 6762 §8.1: three probe queries, 250ms apart, before a name is used.
// RFC 6762 §8.3: after probing, the responder announces its records; here
// three announcements are sent with delays doubling from one second
// (1s, 2s, 4s).
//
// The machine does no I/O. Probe.Tick is polled with the current time and
// returns the Action the caller must perform.
package state

import (
	"time"

	"github.com/joshuafuller/tinymdns/internal/protocol"
)

// Status is the probing state of a host or service.
type Status int

const (
	// WaitingForData means the entity is not yet configured (no name, or no
	// usable address for the host).
	WaitingForData Status = iota
	// ReadyToStart means probing starts on the next tick.
	ReadyToStart
	// InProgress means probe queries are being sent.
	InProgress
	// Done means the name is established and announcements may follow.
	Done
)

func (s Status) String() string {
	switch s {
	case WaitingForData:
		return "WaitingForData"
	case ReadyToStart:
		return "ReadyToStart"
	case InProgress:
		return "InProgress"
	case Done:
		return "Done"
	default:
		return "Unknown"
	}
}

// Action tells the caller what to do after a Tick.
type Action int

const (
	ActionNone Action = iota
	// ActionSendProbe asks for a probe query to be sent.
	ActionSendProbe
	// ActionProbeSucceeded reports that the third probe went unanswered.
	ActionProbeSucceeded
	// ActionSendAnnounce asks for an unsolicited announcement.
	ActionSendAnnounce
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "None"
	case ActionSendProbe:
		return "SendProbe"
	case ActionProbeSucceeded:
		return "ProbeSucceeded"
	case ActionSendAnnounce:
		return "SendAnnounce"
	default:
		return "Unknown"
	}
}

// Probe is the probe state of one host or service.
type Probe struct {
	Status    Status
	SentCount int

	// Conflict is set when a conflicting record was seen for the name.
	Conflict bool
	// TiebreakNeeded is set when a query for the exact name arrives while
	// probing (RFC 6762 §8.2).
	TiebreakNeeded bool

	// OnResult receives the final probe outcome and the name that was
	// probed. Nil selects the caller's default policy.
	OnResult func(name string, success bool)

	deadline time.Time
	armed    bool
	last     Action
}

// Tick advances the machine to now. firstDelay is the delay armed when
// leaving ReadyToStart.
func (p *Probe) Tick(now time.Time, firstDelay time.Duration) Action {
	switch p.Status {
	case ReadyToStart:
		p.SentCount = 0
		p.Conflict = false
		p.TiebreakNeeded = false
		p.arm(now, firstDelay)
		p.Status = InProgress
		return p.done(ActionNone)

	case InProgress:
		if !p.expired(now) {
			return ActionNone
		}
		if p.SentCount < protocol.ProbeCount {
			p.SentCount++
			p.arm(now, protocol.ProbeDelay)
			return p.done(ActionSendProbe)
		}
		p.Status = Done
		p.SentCount = 0
		p.arm(now, protocol.AnnounceDelay)
		return p.done(ActionProbeSucceeded)

	case Done:
		if !p.expired(now) {
			return ActionNone
		}
		p.SentCount++
		if p.SentCount < protocol.AnnounceCount {
			p.arm(now, announceDelay(p.SentCount))
		} else {
			p.disarm()
		}
		return p.done(ActionSendAnnounce)
	}
	return ActionNone
}

// announceDelay returns the delay armed after n announcements.
func announceDelay(n int) time.Duration {
	return protocol.AnnounceDelay << n
}

// SendFailed rolls back the step returned by the last Tick so that it is
// repeated at the next deadline instead of being counted as sent.
func (p *Probe) SendFailed(now time.Time) {
	switch p.last {
	case ActionSendProbe:
		if p.SentCount > 0 {
			p.SentCount--
		}
	case ActionSendAnnounce:
		if p.SentCount > 0 {
			p.SentCount--
		}
		p.arm(now, announceDelay(p.SentCount))
	}
	p.last = ActionNone
}

// Cancel stops probing after a lost tiebreak or a conflict.
func (p *Probe) Cancel() {
	p.Status = WaitingForData
	p.SentCount = 0
	p.Conflict = false
	p.TiebreakNeeded = false
	p.disarm()
}

// Restart schedules a fresh probe cycle, e.g. after a rename or an
// interface change.
func (p *Probe) Restart() {
	p.Status = ReadyToStart
	p.SentCount = 0
	p.Conflict = false
	p.TiebreakNeeded = false
	p.disarm()
}

// MarkReady moves a configured entity out of WaitingForData.
func (p *Probe) MarkReady() {
	if p.Status == WaitingForData {
		p.Status = ReadyToStart
	}
}

// Reannounce restarts the announce cycle of an established name.
func (p *Probe) Reannounce(now time.Time) {
	if p.Status != Done {
		return
	}
	p.SentCount = 0
	p.arm(now, 0)
}

// Probing reports whether at least one probe has gone out and the cycle is
// still running.
func (p *Probe) Probing() bool {
	return p.Status == InProgress && p.SentCount > 0
}

// Deadline returns the armed deadline and whether one is armed.
func (p *Probe) Deadline() (time.Time, bool) {
	return p.deadline, p.armed
}

func (p *Probe) arm(now time.Time, d time.Duration) {
	p.deadline = now.Add(d)
	p.armed = true
}

func (p *Probe) disarm() {
	p.deadline = time.Time{}
	p.armed = false
}

func (p *Probe) expired(now time.Time) bool {
	return p.armed && !now.Before(p.deadline)
}

func (p *Probe) done(a Action) Action {
	p.last = a
	return a
}
