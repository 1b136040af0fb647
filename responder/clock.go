package responder

import "time"

// Clock is the time source of a Responder. Probing, announcing and cache
// expiry are polled against Now; QueryService waits on After.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
