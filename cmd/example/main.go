// Command example is a worker-side illustration of the admission workflow,
// mirroring original_source/lib/example.py's main(): compute the request's
// processing-unit cost, consult the admission library, sleep as instructed,
// then issue the request. It does not obtain an auth token.
//
// The upstream HTTP call itself ("the worker's own HTTP call") is out of
// scope per spec §1 and is a named, documented no-op below.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/sentinel-hub/rate-limiting-guard/pkg/adaptive"
	"github.com/sentinel-hub/rate-limiting-guard/pkg/backoff"
	"github.com/sentinel-hub/rate-limiting-guard/pkg/config"
	"github.com/sentinel-hub/rate-limiting-guard/pkg/health"
	"github.com/sentinel-hub/rate-limiting-guard/pkg/logging"
	"github.com/sentinel-hub/rate-limiting-guard/pkg/policy"
	"github.com/sentinel-hub/rate-limiting-guard/pkg/repository"
	"github.com/sentinel-hub/rate-limiting-guard/pkg/worker"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("example: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisHost + ":6379",
	})
	defer rdb.Close()
	repo := repository.NewRedisRepository(rdb)
	admitter := worker.NewAdmitter(repo)
	admitter.Logger = logging.New(os.Stderr, "worker: ", logging.ParseLevel(cfg.LogLevel))

	pu := worker.CalculateProcessingUnits(false, 1024, 1024, 4, policy.OutputFormatTIFF32, 2, true)
	log.Printf("example: computed cost %.4f PU", pu)

	ctx := context.Background()
	delay, err := admitter.ApplyForRequest(ctx, pu)
	if errors.Is(err, worker.ErrSyncerDown) {
		log.Println("example: coordinator is down, falling back to reactive exponential backoff")
		runWithReactiveFallback(ctx, pu, cfg.PrometheusURL)
		return
	}
	if err != nil {
		log.Fatalf("example: admission failed: %v", err)
	}

	if delay > 0 {
		log.Printf("example: waiting %.3fs before issuing request", delay)
		time.Sleep(time.Duration(delay * float64(time.Second)))
	}

	issueUpstreamRequest()
}

// runWithReactiveFallback demonstrates the non-coordinator path: an
// adaptive, health-driven local throttle plus exponential backoff on
// repeated failures, instead of server-authoritative admission.
func runWithReactiveFallback(ctx context.Context, pu float64, prometheusURL string) {
	limiter := adaptive.NewAdaptiveLimiter(10)
	source := selectHealthSource(prometheusURL)
	monitor := adaptive.NewMonitor(limiter, source, 5*time.Second, nil)

	monitorCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	go monitor.Run(monitorCtx)

	b := backoff.New()
	for attempt := 0; attempt < 3; attempt++ {
		if limiter.AllowCost(pu) {
			issueUpstreamRequest()
			return
		}
		wait := b.Next()
		log.Printf("example: local throttle denied attempt %d, backing off %s", attempt, wait)
		time.Sleep(wait)
	}
	log.Println("example: exhausted fallback attempts")
}

// selectHealthSource picks the real Prometheus-backed health source
// (pkg/health/real.go) when PROMETHEUS_URL is configured, falling back to
// the simulated source — and to simulated again if the real client can't
// even be constructed (a bad URL shouldn't crash the fallback path itself).
func selectHealthSource(prometheusURL string) health.HealthSource {
	if prometheusURL == "" {
		return health.NewSimulatedSource(1)
	}
	source, err := health.NewPrometheusSource(prometheusURL)
	if err != nil {
		log.Printf("example: could not construct Prometheus health source, falling back to simulated: %v", err)
		return health.NewSimulatedSource(1)
	}
	return source
}

// issueUpstreamRequest is a named, documented no-op: the worker's own HTTP
// call against the upstream processing API is explicitly out of scope
// (spec §1) and is described only by its interface.
func issueUpstreamRequest() {
	log.Println("example: (stub) issuing upstream request")
}
