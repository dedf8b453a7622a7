package ts

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock wraps clockwork.Clock so that the Now method is a little more
// convenient, and so the block simulator and the session bakery share one
// notion of time.
type Clock struct {
	realClock clockwork.Clock
}

func NewRealClock() *Clock {
	return &Clock{
		realClock: clockwork.NewRealClock(),
	}
}

// NewFromClockwork wraps an existing clockwork clock (usually a fake one,
// in tests).
func NewFromClockwork(c clockwork.Clock) *Clock {
	return &Clock{realClock: c}
}

// Now provides a timestamp truncated to the second.  Block timestamps are
// whole seconds, so sub-second precision only invites confusion.
func (c *Clock) Now() time.Time {
	return c.realClock.Now().Truncate(time.Second)
}

func (c *Clock) RealClock() clockwork.Clock {
	return c.realClock
}
