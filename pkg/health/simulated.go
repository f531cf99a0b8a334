package health

import (
	"math/rand"
)

// SimulatedSource simulates a worker's local health signal with random
// variance, used by the example program when no real metrics backend is
// wired (see cmd/example).
type SimulatedSource struct {
	rng *rand.Rand
}

// NewSimulatedSource creates a new instance seeded from seed, so tests can
// get deterministic output.
func NewSimulatedSource(seed int64) *SimulatedSource {
	return &SimulatedSource{rng: rand.New(rand.NewSource(seed))}
}

// FetchMetrics implements HealthSource by generating synthetic data.
func (s *SimulatedSource) FetchMetrics() (HealthData, error) {
	cpuBase := 0.75
	latencyBase := 600.0 // Base P95 latency of 600ms
	errorBase := 0.02    // Base error rate of 2%

	cpu := cpuBase + (s.rng.Float64()*0.1 - 0.05)
	latency := latencyBase + (s.rng.Float64()*100 - 50)
	errors := errorBase + (s.rng.Float64()*0.01 - 0.005)

	if cpu < 0.1 {
		cpu = 0.1
	}
	if latency < 1.0 {
		latency = 1.0
	}
	if errors < 0.001 {
		errors = 0.001
	}

	return HealthData{
		CPUUtilization: cpu,
		P95LatencyMs:   latency,
		ErrorRate:      errors,
	}, nil
}
