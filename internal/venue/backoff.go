package venue

import (
	"math/rand"
	"time"
)

// Backoff computes exponential backoff with full jitter, capped at Max.
// Transient venue errors (timeout, 5xx, connection reset) are retried
// through this before a venue is marked degraded.
type Backoff struct {
	Base    time.Duration
	Max     time.Duration
	MaxTries int
}

// DefaultBackoff is the standard venue-retry policy: a 200ms base
// doubling up to a 30s ceiling.
func DefaultBackoff() Backoff {
	return Backoff{Base: 200 * time.Millisecond, Max: 30 * time.Second, MaxTries: 5}
}

// Delay returns the jittered delay before retry attempt n (0-based).
func (b Backoff) Delay(n int) time.Duration {
	exp := b.Base << n
	if exp <= 0 || exp > b.Max {
		exp = b.Max
	}
	return time.Duration(rand.Int63n(int64(exp) + 1))
}

// Exhausted reports whether attempt n has used up the retry budget.
func (b Backoff) Exhausted(n int) bool {
	return n >= b.MaxTries
}
