package syncer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sentinel-hub/rate-limiting-guard/pkg/policy"
	"github.com/sentinel-hub/rate-limiting-guard/pkg/upstream"
)

// fakeRepo is an in-memory, mutex-guarded Repository used only for tests;
// IncrementCounter is the single synchronisation primitive, mirroring the
// real backends.
type fakeRepo struct {
	mu        sync.Mutex
	remaining map[string]float64
	refills   map[string]int64
	types     map[string]policy.Type
	aliveAt   time.Time
	token     string
	expiresAt int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		remaining: map[string]float64{},
		refills:   map[string]int64{},
		types:     map[string]policy.Type{},
	}
}

func (r *fakeRepo) InitRateLimits(ctx context.Context, policies []policy.Policy, livenessTTLMs int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remaining = map[string]float64{}
	r.refills = map[string]int64{}
	r.types = map[string]policy.Type{}
	for _, p := range policies {
		r.remaining[p.ID] = p.Initial
		r.refills[p.ID] = p.NanosBetweenRefills
		r.types[p.ID] = p.Type
	}
	r.aliveAt = time.Now().Add(time.Duration(livenessTTLMs) * time.Millisecond)
	return nil
}

func (r *fakeRepo) IncrementCounter(ctx context.Context, policyID string, amount float64) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remaining[policyID] += amount
	return r.remaining[policyID], nil
}

func (r *fakeRepo) GetPolicyTypes(ctx context.Context) (map[string]policy.Type, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]policy.Type, len(r.types))
	for k, v := range r.types {
		out[k] = v
	}
	return out, nil
}

func (r *fakeRepo) GetPolicyRefills(ctx context.Context) (map[string]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int64, len(r.refills))
	for k, v := range r.refills {
		out[k] = v
	}
	return out, nil
}

func (r *fakeRepo) GetBucketsState(ctx context.Context) (map[string]float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]float64, len(r.remaining))
	for k, v := range r.remaining {
		out[k] = v
	}
	return out, nil
}

func (r *fakeRepo) SignalSyncerAlive(ctx context.Context, ttlMs int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliveAt = time.Now().Add(time.Duration(ttlMs) * time.Millisecond)
	return nil
}

func (r *fakeRepo) IsSyncerAlive(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Now().Before(r.aliveAt), nil
}

func (r *fakeRepo) SaveAccessToken(ctx context.Context, accessToken string, expiresAtS int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.token = accessToken
	r.expiresAt = expiresAtS
	return nil
}

func TestRepositoryFillBucketClampsAtCapacity(t *testing.T) {
	repo := newFakeRepo()
	ctx := context.Background()
	p := policy.New(policy.TypeRequests, 100, 99, 1_000_000_000, "1")
	require.NoError(t, repo.InitRateLimits(ctx, []policy.Policy{p}, 2000))

	s := &Syncer{Repo: repo, Logger: newTestLogger()}
	require.NoError(t, s.repositoryFillBucket(ctx, p.ID, 5, p.Capacity, 2000))

	state, err := repo.GetBucketsState(ctx)
	require.NoError(t, err)
	require.Equal(t, float64(100), state[p.ID])

	alive, err := repo.IsSyncerAlive(ctx)
	require.NoError(t, err)
	require.True(t, alive)
}

func TestRepositoryFillBucketAbsorbsFractionalOvershoot(t *testing.T) {
	repo := newFakeRepo()
	ctx := context.Background()
	p := policy.New(policy.TypeRequests, 100, 99.6, 1_000_000_000, "1")
	require.NoError(t, repo.InitRateLimits(ctx, []policy.Policy{p}, 2000))

	s := &Syncer{Repo: repo, Logger: newTestLogger()}
	// Filling by 1 takes us to 100.6: floor(100.6) == 100, not over capacity,
	// so the fractional overshoot is kept rather than clamped away.
	require.NoError(t, s.repositoryFillBucket(ctx, p.ID, 1, p.Capacity, 2000))
	state, err := repo.GetBucketsState(ctx)
	require.NoError(t, err)
	require.InDelta(t, 100.6, state[p.ID], 1e-9)
}

func TestSyncerRunBootstrapsAndRefills(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/token":
			_, _ = w.Write([]byte(`{"access_token": "` + testToken(t) + `"}`))
		case "/aux/ratelimit/contract":
			_, _ = w.Write([]byte(`{"data": [{"policies": [{"capacity": 10, "samplingPeriod": "1", "nanosBetweenRefills": 100000000}], "type": {"name": "REQUESTS"}}]}`))
		case "/aux/ratelimit/statistics/tokenCounts/user-1":
			_, _ = w.Write([]byte(`{"data": {"REQUESTS": {"1": 5}}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	repo := newFakeRepo()
	client := upstream.NewClient(srv.URL, "id", "secret")
	s := New(repo, client, Config{})
	s.Logger = newTestLogger()

	ctx, cancel := context.WithTimeout(context.Background(), 350*time.Millisecond)
	defer cancel()
	_ = s.Run(ctx)

	state, err := repo.GetBucketsState(context.Background())
	require.NoError(t, err)
	require.Len(t, state, 1)
	for _, v := range state {
		require.GreaterOrEqual(t, v, float64(5))
	}
}
