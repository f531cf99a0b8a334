package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/sentinel-hub/rate-limiting-guard/pkg/policy"
)

// kvClient is the slice of the clientv3 surface EtcdRepository actually
// calls. *clientv3.Client satisfies it via its embedded KV field, but the
// narrower interface also lets tests supply an in-process fake (see
// etcd_fake_test.go) without standing up a real cluster.
type kvClient interface {
	Get(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error)
	Put(ctx context.Context, key, val string, opts ...clientv3.OpOption) (*clientv3.PutResponse, error)
	Delete(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.DeleteResponse, error)
	Txn(ctx context.Context) clientv3.Txn
}

// EtcdRepository implements Repository against a coordination-service
// backend: per-policy counters are durable keys updated through a
// compare-and-swap retry loop (etcd lacks a native atomic float-add), and
// metadata lives in a small number of JSON-blob nodes under keyBase.
//
// etcd does offer lease-based TTLs, but liveness here is still encoded as
// an absolute expiry timestamp compared against wall time on read — the
// same encoding the reference's ZooKeeper backend uses, kept for behavioural
// parity across backends (see DESIGN.md Open Questions).
type EtcdRepository struct {
	client  kvClient
	keyBase string
}

// NewEtcdRepository wraps an existing *clientv3.Client (or, in tests, an
// in-process fake satisfying the same narrow surface). keyBase is the root
// prefix under which all state is stored (e.g. "/openeo/rlguard").
func NewEtcdRepository(client kvClient, keyBase string) *EtcdRepository {
	return &EtcdRepository{client: client, keyBase: keyBase}
}

func (r *EtcdRepository) remainingKey(policyID string) string {
	return fmt.Sprintf("%s/remaining/%s", r.keyBase, policyID)
}

func (r *EtcdRepository) refillsKey() string {
	return r.keyBase + "/refill_ns"
}

func (r *EtcdRepository) typesKey() string {
	return r.keyBase + "/types"
}

func (r *EtcdRepository) aliveKey() string {
	return r.keyBase + "/syncer_alive"
}

func (r *EtcdRepository) accessTokenKey() string {
	return r.keyBase + "/access_token"
}

func (r *EtcdRepository) InitRateLimits(ctx context.Context, policies []policy.Policy, livenessTTLMs int64) error {
	if _, err := r.client.Delete(ctx, r.keyBase+"/remaining/", clientv3.WithPrefix()); err != nil {
		return fmt.Errorf("etcd repository: clear remaining counters: %w", err)
	}

	refills := make(map[string]int64, len(policies))
	types := make(map[string]policy.Type, len(policies))

	for _, p := range policies {
		refills[p.ID] = p.NanosBetweenRefills
		types[p.ID] = p.Type
		if _, err := r.client.Put(ctx, r.remainingKey(p.ID), strconv.FormatFloat(p.Initial, 'f', -1, 64)); err != nil {
			return fmt.Errorf("etcd repository: init counter %s: %w", p.ID, err)
		}
	}

	refillsJSON, err := json.Marshal(refills)
	if err != nil {
		return fmt.Errorf("etcd repository: marshal refills: %w", err)
	}
	if _, err := r.client.Put(ctx, r.refillsKey(), string(refillsJSON)); err != nil {
		return fmt.Errorf("etcd repository: put refills: %w", err)
	}

	typesJSON, err := json.Marshal(types)
	if err != nil {
		return fmt.Errorf("etcd repository: marshal types: %w", err)
	}
	if _, err := r.client.Put(ctx, r.typesKey(), string(typesJSON)); err != nil {
		return fmt.Errorf("etcd repository: put types: %w", err)
	}

	return r.SignalSyncerAlive(ctx, livenessTTLMs)
}

// IncrementCounter performs an atomic fetch-and-add by CAS-retrying against
// the key's mod revision: etcd has no native float-add, so durability and
// atomicity come from the Txn compare-and-swap instead of a single RPC.
func (r *EtcdRepository) IncrementCounter(ctx context.Context, policyID string, amount float64) (float64, error) {
	key := r.remainingKey(policyID)
	for {
		getResp, err := r.client.Get(ctx, key)
		if err != nil {
			return 0, fmt.Errorf("etcd repository: get counter %s: %w", policyID, err)
		}

		var current float64
		var modRevision int64
		if len(getResp.Kvs) == 0 {
			current = 0
			modRevision = 0
		} else {
			kv := getResp.Kvs[0]
			current, err = strconv.ParseFloat(string(kv.Value), 64)
			if err != nil {
				return 0, fmt.Errorf("etcd repository: parse counter %s: %w", policyID, err)
			}
			modRevision = kv.ModRevision
		}

		newValue := current + amount
		newValueStr := strconv.FormatFloat(newValue, 'f', -1, 64)

		txnResp, err := r.client.Txn(ctx).
			If(clientv3.Compare(clientv3.ModRevision(key), "=", modRevision)).
			Then(clientv3.OpPut(key, newValueStr)).
			Commit()
		if err != nil {
			return 0, fmt.Errorf("etcd repository: cas increment %s: %w", policyID, err)
		}
		if txnResp.Succeeded {
			return newValue, nil
		}
		// Lost the race against a concurrent writer; retry with fresh state.
	}
}

func (r *EtcdRepository) GetPolicyTypes(ctx context.Context) (map[string]policy.Type, error) {
	var types map[string]policy.Type
	if err := r.getJSON(ctx, r.typesKey(), &types); err != nil {
		return nil, fmt.Errorf("etcd repository: get policy types: %w", err)
	}
	return types, nil
}

func (r *EtcdRepository) GetPolicyRefills(ctx context.Context) (map[string]int64, error) {
	var refills map[string]int64
	if err := r.getJSON(ctx, r.refillsKey(), &refills); err != nil {
		return nil, fmt.Errorf("etcd repository: get policy refills: %w", err)
	}
	return refills, nil
}

func (r *EtcdRepository) GetBucketsState(ctx context.Context) (map[string]float64, error) {
	resp, err := r.client.Get(ctx, r.keyBase+"/remaining/", clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("etcd repository: get buckets state: %w", err)
	}
	prefix := r.keyBase + "/remaining/"
	out := make(map[string]float64, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		id := string(kv.Key)[len(prefix):]
		v, err := strconv.ParseFloat(string(kv.Value), 64)
		if err != nil {
			return nil, fmt.Errorf("etcd repository: parse bucket value for %s: %w", id, err)
		}
		out[id] = v
	}
	return out, nil
}

func (r *EtcdRepository) SignalSyncerAlive(ctx context.Context, ttlMs int64) error {
	expiresAtMs := time.Now().UnixMilli() + ttlMs
	if _, err := r.client.Put(ctx, r.aliveKey(), strconv.FormatInt(expiresAtMs, 10)); err != nil {
		return fmt.Errorf("etcd repository: signal syncer alive: %w", err)
	}
	return nil
}

func (r *EtcdRepository) IsSyncerAlive(ctx context.Context) (bool, error) {
	resp, err := r.client.Get(ctx, r.aliveKey())
	if err != nil {
		return false, fmt.Errorf("etcd repository: is syncer alive: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return false, nil
	}
	expiresAtMs, err := strconv.ParseInt(string(resp.Kvs[0].Value), 10, 64)
	if err != nil {
		return false, fmt.Errorf("etcd repository: parse liveness expiry: %w", err)
	}
	return time.Now().UnixMilli() <= expiresAtMs, nil
}

func (r *EtcdRepository) SaveAccessToken(ctx context.Context, accessToken string, expiresAtS int64) error {
	// Reference-side gap (see DESIGN.md Open Questions): the coordination-
	// service backend has no defined place to put this, so it is a no-op.
	_ = ctx
	_ = accessToken
	_ = expiresAtS
	return nil
}

func (r *EtcdRepository) getJSON(ctx context.Context, key string, out interface{}) error {
	resp, err := r.client.Get(ctx, key)
	if err != nil {
		return err
	}
	if len(resp.Kvs) == 0 {
		return nil
	}
	return json.Unmarshal(resp.Kvs[0].Value, out)
}
