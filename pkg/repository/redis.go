package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/sentinel-hub/rate-limiting-guard/pkg/policy"
)

// keys used by RedisRepository, mirroring the hash layout in §6: remaining
// (hash: policy_id -> float tokens), refill_ns (hash: policy_id -> int ns),
// types (hash: policy_id -> "PU"|"RQ"), syncer_alive (string with PX ttl).
const (
	remainingKey   = "remaining"
	refillsKey     = "refill_ns"
	typesKey       = "types"
	aliveKey       = "syncer_alive"
	aliveValue     = "1"
	accessTokenKey = "access_token"
)

// RedisRepository implements Repository against a networked hash-store
// backend offering atomic float increment on hash fields (HINCRBYFLOAT) and
// key TTLs (PX).
type RedisRepository struct {
	client *redis.Client
}

// NewRedisRepository wraps an existing *redis.Client.
func NewRedisRepository(client *redis.Client) *RedisRepository {
	return &RedisRepository{client: client}
}

func (r *RedisRepository) InitRateLimits(ctx context.Context, policies []policy.Policy, livenessTTLMs int64) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, remainingKey, refillsKey, typesKey)
	for _, p := range policies {
		pipe.HSet(ctx, remainingKey, p.ID, p.Initial)
		pipe.HSet(ctx, refillsKey, p.ID, p.NanosBetweenRefills)
		pipe.HSet(ctx, typesKey, p.ID, string(p.Type))
	}
	pipe.Set(ctx, aliveKey, aliveValue, time.Duration(livenessTTLMs)*time.Millisecond)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("redis repository: init rate limits: %w", err)
	}
	return nil
}

func (r *RedisRepository) IncrementCounter(ctx context.Context, policyID string, amount float64) (float64, error) {
	v, err := r.client.HIncrByFloat(ctx, remainingKey, policyID, amount).Result()
	if err != nil {
		return 0, fmt.Errorf("redis repository: increment counter %s: %w", policyID, err)
	}
	return v, nil
}

func (r *RedisRepository) GetPolicyTypes(ctx context.Context) (map[string]policy.Type, error) {
	raw, err := r.client.HGetAll(ctx, typesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis repository: get policy types: %w", err)
	}
	out := make(map[string]policy.Type, len(raw))
	for id, t := range raw {
		out[id] = policy.Type(t)
	}
	return out, nil
}

func (r *RedisRepository) GetPolicyRefills(ctx context.Context) (map[string]int64, error) {
	raw, err := r.client.HGetAll(ctx, refillsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis repository: get policy refills: %w", err)
	}
	out := make(map[string]int64, len(raw))
	for id, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("redis repository: parse refill for %s: %w", id, err)
		}
		out[id] = n
	}
	return out, nil
}

func (r *RedisRepository) GetBucketsState(ctx context.Context) (map[string]float64, error) {
	raw, err := r.client.HGetAll(ctx, remainingKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis repository: get buckets state: %w", err)
	}
	out := make(map[string]float64, len(raw))
	for id, v := range raw {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("redis repository: parse bucket value for %s: %w", id, err)
		}
		out[id] = f
	}
	return out, nil
}

func (r *RedisRepository) SignalSyncerAlive(ctx context.Context, ttlMs int64) error {
	if err := r.client.Set(ctx, aliveKey, aliveValue, time.Duration(ttlMs)*time.Millisecond).Err(); err != nil {
		return fmt.Errorf("redis repository: signal syncer alive: %w", err)
	}
	return nil
}

func (r *RedisRepository) IsSyncerAlive(ctx context.Context) (bool, error) {
	err := r.client.Get(ctx, aliveKey).Err()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis repository: is syncer alive: %w", err)
	}
	return true, nil
}

func (r *RedisRepository) SaveAccessToken(ctx context.Context, accessToken string, expiresAtS int64) error {
	if err := r.client.HSet(ctx, accessTokenKey, "token", accessToken, "expires_at_s", expiresAtS).Err(); err != nil {
		return fmt.Errorf("redis repository: save access token: %w", err)
	}
	return nil
}
