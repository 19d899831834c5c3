package gateway

import (
	"math/rand/v2"
	"time"
)

// backoff produces reconnect delays: exponential doubling from floor to cap
// with ±25% jitter so restarting fleets do not reconnect in lockstep.
type backoff struct {
	delay time.Duration
	floor time.Duration
	cap   time.Duration
}

func newBackoff(floor, cap time.Duration) *backoff {
	return &backoff{delay: floor, floor: floor, cap: cap}
}

// next returns the current delay with jitter applied and doubles the base
// for the following call.
func (b *backoff) next() time.Duration {
	d := b.delay
	b.delay *= 2
	if b.delay > b.cap {
		b.delay = b.cap
	}
	if half := int64(d / 2); half > 0 {
		jitter := time.Duration(rand.Int64N(half))
		d = d - d/4 + jitter
	}
	return d
}

func (b *backoff) reset() {
	b.delay = b.floor
}
