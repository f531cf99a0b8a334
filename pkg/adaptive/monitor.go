package adaptive

import (
	"context"
	"log"
	"time"

	"github.com/sentinel-hub/rate-limiting-guard/pkg/health"
)

// Monitor manages the background routine that adjusts a reactive worker's
// local rate limit based on upstream health signals. It is the supplemental
// fallback path a worker switches to once it observes SyncerDown (pkg/worker)
// and can no longer trust the coordinator's admission signal (SPEC_FULL.md
// §3): rather than hammer the upstream at full speed, the worker throttles
// itself using whatever health signal is available.
type Monitor struct {
	Limiter  *AdaptiveLimiter
	Source   health.HealthSource
	Interval time.Duration
	Logger   *log.Logger
}

// NewMonitor creates a new instance of the Adaptive Monitor.
func NewMonitor(limiter *AdaptiveLimiter, source health.HealthSource, interval time.Duration, logger *log.Logger) *Monitor {
	if logger == nil {
		logger = log.Default()
	}
	return &Monitor{
		Limiter:  limiter,
		Source:   source,
		Interval: interval,
		Logger:   logger,
	}
}

// Run runs the check-and-adjust loop until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()
	m.Logger.Println("reactive health monitor started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			healthData, err := m.Source.FetchMetrics()
			if err != nil {
				m.Logger.Printf("error fetching health metrics: %v. sticking to current rate.", err)
				continue
			}
			m.Limiter.UpdateFactor(calculateFactor(healthData))
		}
	}
}

// calculateFactor determines the throttling factor (0.0 to 1.0) based on
// health: Factor = Target / Current for each signal, and the most-stressed
// signal dictates the throttle.
func calculateFactor(data health.HealthData) float64 {
	const (
		targetCPU       = 0.70
		targetLatency   = 500.0
		targetErrorRate = 0.01
	)

	cpuFactor := targetCPU / data.CPUUtilization
	latencyFactor := targetLatency / data.P95LatencyMs
	errorFactor := targetErrorRate / data.ErrorRate

	factor := min(cpuFactor, latencyFactor, errorFactor)

	if factor > 1.0 {
		return 1.0
	}
	if factor < 0.1 {
		return 0.1
	}
	return factor
}
