// Package worker is the admission library (C4) consulted by every worker
// process before it issues a request against the upstream API. It computes
// required delays from the shared bucket counters; it never queues,
// retries, or serialises admission across workers (Non-goals, §1).
package worker

import (
	"context"
	"fmt"
	"io"

	"github.com/sentinel-hub/rate-limiting-guard/pkg/cost"
	"github.com/sentinel-hub/rate-limiting-guard/pkg/logging"
	"github.com/sentinel-hub/rate-limiting-guard/pkg/metrics"
	"github.com/sentinel-hub/rate-limiting-guard/pkg/policy"
	"github.com/sentinel-hub/rate-limiting-guard/pkg/repository"
)

// ErrSyncerDown is raised when the repository's liveness marker indicates
// the coordinator is absent. Callers are expected to fall back to reactive
// backoff against upstream 429 responses (§4.4, §7).
var ErrSyncerDown = fmt.Errorf("worker: syncer is not alive: %w", repository.ErrNotAlive)

// Admitter computes admission delays against a shared Repository.
type Admitter struct {
	Repo repository.Repository
	// Metrics is optional; when set, admission outcomes and wait times
	// are recorded to it (pkg/metrics).
	Metrics *metrics.Registry
	// Logger defaults to silent; library code shouldn't write to stderr
	// uninvited. Callers that want LOGLEVEL (pkg/config) honored should
	// replace it, e.g. logging.New(os.Stderr, "worker: ", logging.ParseLevel(cfg.LogLevel)).
	Logger *logging.Logger
}

// NewAdmitter constructs an Admitter bound to a Repository.
func NewAdmitter(repo repository.Repository) *Admitter {
	return &Admitter{Repo: repo, Logger: logging.New(io.Discard, "worker: ", logging.LevelInfo)}
}

// CalculateProcessingUnits re-exports pkg/cost's pure cost function so
// callers of this package need only one import for the admission workflow.
func CalculateProcessingUnits(
	batchProcessing bool,
	width, height int,
	nInputBandsWithoutDataMask int,
	outputFormat policy.OutputFormat,
	nDataSamples int,
	s1Orthorectification bool,
) float64 {
	return cost.CalculateProcessingUnits(batchProcessing, width, height, nInputBandsWithoutDataMask, outputFormat, nDataSamples, s1Orthorectification)
}

// ApplyForRequest atomically decrements every known bucket by its
// appropriate cost (pu for PU-type policies, 1 for RQ-type policies) and
// returns the number of seconds the caller must sleep before issuing the
// actual upstream request. A return of 0 means go now.
//
// Two concurrent workers who both end up negative obtain different waits —
// the later one waits longer — because the decrement is atomic and
// irrevocable and no coordinator roundtrip beyond it is needed. That total
// order of atomic fetch-and-adds is this algorithm's entire correctness
// argument (§4.4).
func (a *Admitter) ApplyForRequest(ctx context.Context, pu float64) (delaySeconds float64, err error) {
	alive, err := a.Repo.IsSyncerAlive(ctx)
	if err != nil {
		return 0, fmt.Errorf("worker: check syncer liveness: %w", err)
	}
	if !alive {
		if a.Metrics != nil {
			a.Metrics.AdmissionsTotal.WithLabelValues("syncer_down").Inc()
		}
		a.Logger.Warnf("syncer liveness marker absent or expired, refusing admission")
		return 0, ErrSyncerDown
	}

	types, err := a.Repo.GetPolicyTypes(ctx)
	if err != nil {
		return 0, fmt.Errorf("worker: get policy types: %w", err)
	}
	refills, err := a.Repo.GetPolicyRefills(ctx)
	if err != nil {
		return 0, fmt.Errorf("worker: get policy refills: %w", err)
	}

	var maxWaitNS float64
	for policyID, policyType := range types {
		amount := -1.0
		if policyType == policy.TypeProcessingUnits {
			amount = -pu
		}

		newRemaining, err := a.Repo.IncrementCounter(ctx, policyID, amount)
		if err != nil {
			return 0, fmt.Errorf("worker: decrement %s: %w", policyID, err)
		}

		waitNS := -newRemaining * float64(refills[policyID])
		if waitNS > maxWaitNS {
			maxWaitNS = waitNS
		}
		if a.Metrics != nil {
			a.Metrics.WaitSeconds.WithLabelValues(policyID).Observe(max(waitNS, 0) / 1e9)
		}
	}

	if a.Metrics != nil {
		a.Metrics.AdmissionsTotal.WithLabelValues("admitted").Inc()
	}

	if maxWaitNS <= 0 {
		a.Logger.Debugf("admitted with no wait (cost %.4f PU)", pu)
		return 0, nil
	}
	delaySeconds = maxWaitNS / 1e9
	a.Logger.Debugf("admitted with %.3fs wait (cost %.4f PU)", delaySeconds, pu)
	return delaySeconds, nil
}
