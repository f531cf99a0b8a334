// Package repository abstracts the shared key-value store that backs the
// rate-limiting buckets, their metadata, and the syncer liveness marker.
//
// Two backends satisfy this contract: a networked hash-store backend
// (pkg/repository/redis.go) and a coordination-service backend
// (pkg/repository/etcd.go). Everything above this package — the syncer
// scheduler and the worker admission library — is written against the
// Repository interface alone, so either backend is substitutable.
package repository

import (
	"context"
	"errors"

	"github.com/sentinel-hub/rate-limiting-guard/pkg/policy"
)

// ErrNotAlive is returned by callers that need to distinguish a dead
// coordinator from a genuine store error; repositories themselves return
// is-alive as a bool (see IsSyncerAlive) rather than this error, but it is
// exposed here so higher layers (pkg/worker) have a single sentinel to wrap.
var ErrNotAlive = errors.New("repository: syncer liveness marker absent or expired")

// Repository is the narrow interface the syncer and worker admission code
// depend on. increment_counter is the only mutator of bucket state after
// init and the single synchronisation primitive the whole algorithm relies
// on: it must be an atomic fetch-and-add.
type Repository interface {
	// InitRateLimits clears previous remaining/refills/types state, writes
	// initial counter values from each policy's observed remaining
	// quantity, writes metadata, and sets the liveness marker. Must be
	// effectively atomic from the viewpoint of later readers.
	InitRateLimits(ctx context.Context, policies []policy.Policy, livenessTTLMs int64) error

	// IncrementCounter atomically adds amount (which may be negative) to
	// the named policy's bucket and returns the post-increment value.
	IncrementCounter(ctx context.Context, policyID string, amount float64) (float64, error)

	// GetPolicyTypes returns a snapshot of policy id -> "PU"|"RQ".
	GetPolicyTypes(ctx context.Context) (map[string]policy.Type, error)

	// GetPolicyRefills returns a snapshot of policy id -> nanos_between_refills.
	GetPolicyRefills(ctx context.Context) (map[string]int64, error)

	// GetBucketsState returns a snapshot of all counters. Not required to
	// be coherent across keys.
	GetBucketsState(ctx context.Context) (map[string]float64, error)

	// SignalSyncerAlive resets the liveness marker with the given TTL.
	SignalSyncerAlive(ctx context.Context, ttlMs int64) error

	// IsSyncerAlive reports whether the liveness marker currently exists
	// or has not yet expired.
	IsSyncerAlive(ctx context.Context) (bool, error)

	// SaveAccessToken is a best-effort, narrow pass-through used by the
	// syncer to record the current upstream access token and its expiry.
	// The reference implementation calls an equivalent method that was
	// never part of its own repository contract (see DESIGN.md Open
	// Questions); here it is a real, optional part of the interface so
	// backends may no-op it without the caller needing to special-case it.
	SaveAccessToken(ctx context.Context, accessToken string, expiresAtS int64) error
}
