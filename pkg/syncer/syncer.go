// Package syncer implements the refill scheduler (C3) and the syncer's
// bootstrap state machine: BOOT -> AUTH -> LOAD_POLICIES -> INIT_REPO ->
// RUN -> (fatal) -> BOOT.
package syncer

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/sentinel-hub/rate-limiting-guard/pkg/logging"
	"github.com/sentinel-hub/rate-limiting-guard/pkg/metrics"
	"github.com/sentinel-hub/rate-limiting-guard/pkg/policy"
	"github.com/sentinel-hub/rate-limiting-guard/pkg/repository"
	"github.com/sentinel-hub/rate-limiting-guard/pkg/upstream"
)

// authRetryDelay is how long the BOOT state waits between failed auth
// token fetches, retried forever (§4.3, §7).
const authRetryDelay = 5 * time.Second

// Config controls the syncer's behaviour beyond its collaborators.
type Config struct {
	// RefreshBucketsSec, if non-nil, enables the periodic full re-sync
	// from upstream statistics (§4.3). REFRESH_BUCKETS_SEC.
	RefreshBucketsSec *int64
	// RevisitTimeMsec, if non-nil, overrides the derived liveness TTL.
	// REVISIT_TIME_MSEC.
	RevisitTimeMsec *int64
	// ExpiryMarginS is how far ahead of expiry a token is refreshed.
	ExpiryMarginS int64
}

// Syncer drives the refill scheduler against a Repository and an upstream
// Client.
type Syncer struct {
	Repo     repository.Repository
	Upstream *upstream.Client
	Config   Config
	Logger   *logging.Logger
	// Metrics is optional; when set, fill ticks and liveness are recorded
	// to it (pkg/metrics).
	Metrics *metrics.Registry
}

// New constructs a Syncer with sensible defaults (300s expiry margin, a
// logger writing to stderr at LevelInfo, the way the teacher's
// pkg/adaptive/monitor.go logs via the standard log package). Callers that
// want LOGLEVEL (pkg/config) to take effect should replace s.Logger with
// logging.New(os.Stderr, "syncer: ", logging.ParseLevel(cfg.LogLevel)).
func New(repo repository.Repository, client *upstream.Client, cfg Config) *Syncer {
	if cfg.ExpiryMarginS == 0 {
		cfg.ExpiryMarginS = upstream.DefaultExpiryMarginS
	}
	return &Syncer{
		Repo:     repo,
		Upstream: client,
		Config:   cfg,
		Logger:   logging.New(os.Stderr, "syncer: ", logging.LevelInfo),
	}
}

// Run drives the BOOT -> AUTH -> LOAD_POLICIES -> INIT_REPO -> RUN state
// machine until ctx is cancelled. A fatal failure in LOAD_POLICIES or
// INIT_REPO restarts the cycle from BOOT rather than returning; an auth
// fetch failure is not fatal and is retried in place every 5s.
func (s *Syncer) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		policies, authToken, userID, livenessTTLMs, err := s.boot(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.Logger.Errorf("boot cycle failed, restarting: %v", err)
			continue
		}

		s.runSyncing(ctx, policies, authToken, userID, livenessTTLMs)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.Logger.Warnf("run exited unexpectedly, restarting")
	}
}

// boot performs AUTH, LOAD_POLICIES, and INIT_REPO.
func (s *Syncer) boot(ctx context.Context) (policies []policy.Policy, authToken, userID string, livenessTTLMs int64, err error) {
	authToken, err = s.requestAuthTokenRetrying(ctx)
	if err != nil {
		return nil, "", "", 0, err
	}

	userID, err = upstream.ExtractUserID(authToken)
	if err != nil {
		return nil, "", "", 0, fmt.Errorf("decode access token: %w", err)
	}

	policies, err = s.Upstream.FetchRateLimits(ctx, userID, authToken)
	if err != nil {
		return nil, "", "", 0, fmt.Errorf("fetch rate limits: %w", err)
	}
	if len(policies) == 0 {
		return nil, "", "", 0, fmt.Errorf("upstream returned no rate-limiting policies")
	}

	expTimeS, err := upstream.ExtractExpirationTime(authToken)
	if err != nil {
		return nil, "", "", 0, fmt.Errorf("decode access token expiry: %w", err)
	}

	livenessTTLMs = s.livenessTTLMs(policies)

	if err := s.Repo.InitRateLimits(ctx, policies, livenessTTLMs); err != nil {
		return nil, "", "", 0, fmt.Errorf("init rate limits: %w", err)
	}

	if err := s.Repo.SaveAccessToken(ctx, authToken, expTimeS); err != nil {
		s.Logger.Warnf("save access token failed (non-fatal): %v", err)
	}

	for _, p := range policies {
		s.Logger.Infof("rate limiting policy %s: %d every %.3fs, up until %d", p.ID, p.FillQuantity, p.FillIntervalS, p.Capacity)
	}

	return policies, authToken, userID, livenessTTLMs, nil
}

// livenessTTLMs derives the liveness TTL per §4.3: REVISIT_TIME_MSEC if set,
// otherwise twice the shortest fill interval across all policies. The
// factor-two headroom tolerates one missed refill before workers declare
// the coordinator dead.
func (s *Syncer) livenessTTLMs(policies []policy.Policy) int64 {
	if s.Config.RevisitTimeMsec != nil {
		return *s.Config.RevisitTimeMsec
	}
	minIntervalS := policies[0].FillIntervalS
	for _, p := range policies[1:] {
		if p.FillIntervalS < minIntervalS {
			minIntervalS = p.FillIntervalS
		}
	}
	return int64(1000*minIntervalS) * 2
}

func (s *Syncer) requestAuthTokenRetrying(ctx context.Context) (string, error) {
	for {
		token, err := s.Upstream.RequestAuthToken(ctx)
		if err == nil {
			return token, nil
		}
		s.Logger.Warnf("could not fetch auth token, will retry in %s: %v", authRetryDelay, err)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(authRetryDelay):
		}
	}
}

// runSyncing builds the scheduler: one refill task per policy plus, if
// enabled, a lower-priority statistics-refresh task, and drains it until
// ctx is cancelled (§4.3).
func (s *Syncer) runSyncing(ctx context.Context, policies []policy.Policy, authToken, userID string, livenessTTLMs int64) {
	sched := newScheduler()
	now := time.Now()

	for _, p := range policies {
		p := p
		target := now.Add(time.Duration(p.FillIntervalS * float64(time.Second)))
		var fire schedFunc
		fire = func(ctx context.Context, firedAt time.Time) time.Time {
			if err := s.repositoryFillBucket(ctx, p.ID, float64(p.FillQuantity), p.Capacity, livenessTTLMs); err != nil {
				s.Logger.Warnf("fill %s failed (non-fatal, next tick retries): %v", p.ID, err)
			}
			next := rescheduleFromTarget(target, time.Duration(p.FillIntervalS*float64(time.Second)), firedAt)
			target = next
			return next
		}
		sched.schedule(target, priorityRefill, fire)
	}

	if s.Config.RefreshBucketsSec != nil {
		refreshInterval := time.Duration(*s.Config.RefreshBucketsSec) * time.Second
		target := now.Add(refreshInterval)
		token := authToken
		var fire schedFunc
		fire = func(ctx context.Context, firedAt time.Time) time.Time {
			var err error
			token, err = s.refreshBuckets(ctx, policies, token, userID, livenessTTLMs)
			if err != nil {
				s.Logger.Warnf("refreshing buckets failed: %v", err)
			}
			next := rescheduleFromTarget(target, refreshInterval, firedAt)
			target = next
			return next
		}
		sched.schedule(target, priorityRefresh, fire)
		s.Logger.Infof("refreshing buckets every %s", refreshInterval)
	}

	sched.run(ctx)
}

// repositoryFillBucket fills one bucket by incrBy and clamps it back to
// capacity, per §4.3's two-step fill: the clamp-to-floor is deliberate so
// fractional overshoot caused by negative worker-borrowed counters is
// absorbed into the next natural fill rather than lost.
func (s *Syncer) repositoryFillBucket(ctx context.Context, policyID string, incrBy float64, capacity int64, livenessTTLMs int64) error {
	newValue, err := s.Repo.IncrementCounter(ctx, policyID, incrBy)
	if err != nil {
		return fmt.Errorf("increment %s: %w", policyID, err)
	}

	if int64(math.Floor(newValue)) > capacity {
		decrBy := int64(math.Floor(newValue)) - capacity
		newValue, err = s.Repo.IncrementCounter(ctx, policyID, -float64(decrBy))
		if err != nil {
			return fmt.Errorf("clamp %s: %w", policyID, err)
		}
	}

	if err := s.Repo.SignalSyncerAlive(ctx, livenessTTLMs); err != nil {
		return fmt.Errorf("signal alive: %w", err)
	}

	if s.Metrics != nil {
		s.Metrics.BucketRemaining.WithLabelValues(policyID).Set(newValue)
		s.Metrics.BucketCapacity.WithLabelValues(policyID).Set(float64(capacity))
		s.Metrics.RefillsTotal.WithLabelValues(policyID).Inc()
		s.Metrics.SyncerAlive.Set(1)
	}
	return nil
}

// refreshBuckets performs the optional statistics re-sync (§4.3): if the
// token is near expiry it is reacquired, then for each policy
// incr_by = upstream_remaining - our_remaining is applied through the same
// clamp-aware fill step. Upstream fetch failures here are logged and skip
// this cycle only; the refill loop continues regardless (§7).
func (s *Syncer) refreshBuckets(ctx context.Context, policies []policy.Policy, authToken, userID string, livenessTTLMs int64) (newToken string, err error) {
	willExpire, err := s.Upstream.WillAuthTokenSoonExpire(authToken, s.Config.ExpiryMarginS)
	if err != nil {
		return authToken, fmt.Errorf("check token expiry: %w", err)
	}
	if willExpire {
		token, err := s.Upstream.RequestAuthToken(ctx)
		if err != nil {
			return authToken, fmt.Errorf("reacquire token: %w", err)
		}
		expTimeS, err := upstream.ExtractExpirationTime(token)
		if err == nil {
			if err := s.Repo.SaveAccessToken(ctx, token, expTimeS); err != nil {
				s.Logger.Warnf("save access token failed (non-fatal): %v", err)
			}
		}
		authToken = token
	}

	stats, err := s.Upstream.FetchCurrentStats(ctx, authToken, userID)
	if err != nil {
		return authToken, fmt.Errorf("fetch statistics: %w", err)
	}

	bucketValues, err := s.Repo.GetBucketsState(ctx)
	if err != nil {
		return authToken, fmt.Errorf("get buckets state: %w", err)
	}

	for _, p := range policies {
		ourValue := bucketValues[p.ID]
		actualValue := stats[upstream.FullPolicyTypeName(p.Type)][p.SamplingPeriod]
		incrBy := actualValue - ourValue
		if err := s.repositoryFillBucket(ctx, p.ID, incrBy, p.Capacity, livenessTTLMs); err != nil {
			s.Logger.Warnf("refresh fill %s failed (non-fatal): %v", p.ID, err)
		}
	}

	return authToken, nil
}
