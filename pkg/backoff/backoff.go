// Package backoff implements the caller-side fallback described in spec
// §4.4/§7: once a worker observes ErrSyncerDown (or simply gets an upstream
// 429), it is the caller's responsibility to back off — the admission
// library does not retry internally. This is a conservative default for
// that fallback: exponential growth bounded by a ceiling, with full jitter
// to avoid a fleet of workers retrying in lockstep.
package backoff

import (
	"math/rand"
	"time"
)

// ExponentialBackoff tracks retry state for one logical caller.
type ExponentialBackoff struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64

	attempt int
	rng     *rand.Rand
}

// New constructs an ExponentialBackoff with the reference defaults: a 0.5s
// base delay (matching the coordinator's own short-delay reference value),
// doubling each attempt, capped at 30s.
func New() *ExponentialBackoff {
	return &ExponentialBackoff{
		Base:       500 * time.Millisecond,
		Max:        30 * time.Second,
		Multiplier: 2.0,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next returns the next delay to wait, applying full jitter in [0, ceiling).
func (b *ExponentialBackoff) Next() time.Duration {
	ceiling := float64(b.Base) * pow(b.Multiplier, float64(b.attempt))
	if ceiling > float64(b.Max) {
		ceiling = float64(b.Max)
	}
	b.attempt++
	return time.Duration(b.rng.Float64() * ceiling)
}

// Reset clears accumulated attempts, e.g. after a successful request.
func (b *ExponentialBackoff) Reset() {
	b.attempt = 0
}

func pow(base, exp float64) float64 {
	result := 1.0
	for i := 0; i < int(exp); i++ {
		result *= base
	}
	return result
}
