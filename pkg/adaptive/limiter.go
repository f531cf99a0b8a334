package adaptive

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// AdaptiveLimiter is the worker-side reactive fallback throttle described in
// SPEC_FULL.md §3: once a worker observes SyncerDown and can no longer trust
// the coordinator's per-request admission signal, it falls back to a local
// budget denominated in the same processing-unit currency the coordinator
// uses (pkg/cost), scaled down by Monitor's health-derived factor rather than
// held fixed.
type AdaptiveLimiter struct {
	mu                sync.RWMutex
	BasePUPerSecond   float64
	underlyingLimiter *rate.Limiter
}

// NewAdaptiveLimiter creates a limiter whose steady-state budget is
// basePUPerSecond processing units per second, with a burst equal to one
// second's worth of budget.
func NewAdaptiveLimiter(basePUPerSecond float64) *AdaptiveLimiter {
	burst := int(math.Ceil(basePUPerSecond))
	if burst < 1 {
		burst = 1
	}

	return &AdaptiveLimiter{
		BasePUPerSecond:   basePUPerSecond,
		underlyingLimiter: rate.NewLimiter(rate.Limit(basePUPerSecond), burst),
	}
}

// AllowCost reports whether a request costing pu processing units (pkg/cost's
// CalculateProcessingUnits output) may proceed right now. rate.Limiter only
// budgets whole tokens, so pu is rounded up to the nearest whole unit (and
// at least one).
func (l *AdaptiveLimiter) AllowCost(pu float64) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := int(math.Ceil(pu))
	if n < 1 {
		n = 1
	}
	return l.underlyingLimiter.AllowN(time.Now(), n)
}

// Allow is AllowCost for a single-request-unit (RQ-type policy) cost.
func (l *AdaptiveLimiter) Allow() bool {
	return l.AllowCost(1)
}

// UpdateFactor is the key method called by the Health Monitor to adjust the
// rate: factor is the fraction of BasePUPerSecond the worker should budget
// for itself given current observed health.
func (l *AdaptiveLimiter) UpdateFactor(factor float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	newRate := l.BasePUPerSecond * factor
	l.underlyingLimiter.SetLimit(rate.Limit(newRate))
}
