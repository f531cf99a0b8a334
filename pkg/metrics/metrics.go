// Package metrics exposes Prometheus instrumentation for the syncer and
// worker admission library. The teacher module already depends on
// prometheus/client_golang and prometheus/common for querying a Prometheus
// server (pkg/health/real.go); this package exercises the complementary
// half of the same library family: exposition.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry groups the gauges/counters this module exposes. Construct one
// with NewRegistry and register it with prometheus.DefaultRegisterer (or a
// custom registerer) at process startup.
type Registry struct {
	BucketRemaining *prometheus.GaugeVec
	BucketCapacity  *prometheus.GaugeVec
	RefillsTotal    *prometheus.CounterVec
	AdmissionsTotal *prometheus.CounterVec
	WaitSeconds     *prometheus.HistogramVec
	SyncerAlive     prometheus.Gauge
}

// NewRegistry constructs the metric collectors. Callers must register each
// field with a prometheus.Registerer before scraping.
func NewRegistry() *Registry {
	return &Registry{
		BucketRemaining: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "rlguard",
			Name:      "bucket_remaining",
			Help:      "Current remaining tokens for a rate-limiting bucket.",
		}, []string{"policy_id"}),
		BucketCapacity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "rlguard",
			Name:      "bucket_capacity",
			Help:      "Configured capacity for a rate-limiting bucket.",
		}, []string{"policy_id"}),
		RefillsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rlguard",
			Name:      "refills_total",
			Help:      "Number of refill ticks applied to a bucket.",
		}, []string{"policy_id"}),
		AdmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rlguard",
			Name:      "admissions_total",
			Help:      "Number of worker admission attempts, labeled by outcome.",
		}, []string{"outcome"}),
		WaitSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rlguard",
			Name:      "admission_wait_seconds",
			Help:      "Distribution of required wait times returned by admission.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"policy_id"}),
		SyncerAlive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rlguard",
			Name:      "syncer_alive",
			Help:      "1 if the last liveness check observed the syncer alive, 0 otherwise.",
		}),
	}
}

// MustRegister registers every collector with r, panicking on duplicate
// registration the way the standard prometheus client expects at startup.
func (m *Registry) MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		m.BucketRemaining,
		m.BucketCapacity,
		m.RefillsTotal,
		m.AdmissionsTotal,
		m.WaitSeconds,
		m.SyncerAlive,
	)
}
