// Package records holds the TTL bookkeeping of cached answers and the
// builders that turn registry entries into resource records.
package records

import (
	"time"

	"github.com/joshuafuller/tinymdns/internal/protocol"
)

// Refresh levels, in percent of the nominal TTL.
const (
	levelNone     = 0
	levelBase     = 80
	levelInterval = 5
	levelFinal    = 100
)

// TTL tracks the refresh state of one cached record component.
//
// RFC 6762 §5.2: a querier should re-query at 80%, 85%, 90% and 95% of the
// record lifetime. Set arms the 80% deadline; every Restart moves the level
// up by 5% until the final (100%) level is reached, after which the
// component is eligible for removal.
type TTL struct {
	seconds  uint32
	level    int
	deadline time.Time
}

// NewTTL returns a TTL armed for ttl seconds from now.
func NewTTL(ttl uint32, now time.Time) TTL {
	var t TTL
	t.Set(ttl, now)
	return t
}

// Set re-arms the TTL at the base (80%) level. A zero ttl disarms it.
func (t *TTL) Set(ttl uint32, now time.Time) {
	t.seconds = ttl
	if ttl == 0 {
		t.level = levelNone
		t.deadline = time.Time{}
		return
	}
	t.level = levelBase
	t.deadline = now.Add(t.timeout())
}

// Seconds returns the nominal TTL last passed to Set.
func (t *TTL) Seconds() uint32 {
	return t.seconds
}

// Flagged reports whether the current deadline has passed.
func (t *TTL) Flagged(now time.Time) bool {
	return t.seconds != 0 && t.level != levelNone && !now.Before(t.deadline)
}

// Restart advances the refresh level by 5% and re-arms the deadline. It
// returns false, and disarms the TTL, once the final level has been passed.
func (t *TTL) Restart(now time.Time) bool {
	if t.level >= levelBase && t.level < levelFinal {
		t.level += levelInterval
		t.deadline = now.Add(t.timeout())
		return true
	}
	t.level = levelNone
	t.deadline = time.Time{}
	return false
}

// PrepareDeletion jumps to the final level with a one second deadline
// (RFC 6762 §10.1). A fresh Set before the deadline revives the component.
func (t *TTL) PrepareDeletion(now time.Time) {
	t.level = levelFinal
	t.deadline = now.Add(protocol.GoodbyeDelay)
}

// AboveHalf reports whether more than half of the nominal lifetime is left.
// Only a component at the base level, refreshed by a record that is still
// young, qualifies as a known answer (RFC 6762 §7.1).
func (t *TTL) AboveHalf(now time.Time) bool {
	if t.level != levelBase || t.seconds == 0 {
		return false
	}
	total := time.Duration(t.seconds) * time.Second
	return now.Before(t.deadline.Add(-total * (levelBase - 50) / 100))
}

// Remaining returns the whole seconds left before a base-level component
// expires. It is zero at any other level.
func (t *TTL) Remaining(now time.Time) uint32 {
	if t.level != levelBase || t.seconds == 0 {
		return 0
	}
	total := time.Duration(t.seconds) * time.Second
	expiry := t.deadline.Add(total * (levelFinal - levelBase) / 100)
	if !now.Before(expiry) {
		return 0
	}
	return uint32(expiry.Sub(now) / time.Second)
}

// FinalTimeoutLevel reports whether the TTL sits at the 100% level.
func (t *TTL) FinalTimeoutLevel() bool {
	return t.level == levelFinal
}

// Deadline returns the current deadline; the zero time means disarmed.
func (t *TTL) Deadline() time.Time {
	return t.deadline
}

func (t *TTL) timeout() time.Duration {
	total := time.Duration(t.seconds) * time.Second
	switch {
	case t.level == levelBase:
		return total * levelBase / 100
	case t.level > levelBase && t.level <= levelFinal:
		return total * levelInterval / 100
	default:
		return 0
	}
}
