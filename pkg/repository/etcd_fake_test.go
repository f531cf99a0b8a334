package repository

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.etcd.io/etcd/api/v3/etcdserverpb"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// FakeEtcdKV is a minimal in-process stand-in for the slice of the clientv3
// KV surface EtcdRepository actually calls: Get, Put, Delete, and the
// CAS-by-ModRevision Txn pattern IncrementCounter retries against. It lets
// the CAS retry loop run under `go test` without a live etcd cluster, the
// same way miniredis exercises pkg/repository/redis.go.
//
// Get and Delete "prefix" behaviour is inferred from a trailing "/" on the
// requested key, matching the only prefix convention EtcdRepository itself
// uses (r.keyBase+"/remaining/"), rather than by parsing clientv3.OpOption
// internals.
type FakeEtcdKV struct {
	mu       sync.Mutex
	values   map[string]string
	modRev   map[string]int64
	revision int64
}

// NewFakeEtcdKV constructs an empty fake store.
func NewFakeEtcdKV() *FakeEtcdKV {
	return &FakeEtcdKV{values: map[string]string{}, modRev: map[string]int64{}}
}

func (f *FakeEtcdKV) Get(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	resp := &clientv3.GetResponse{}
	if strings.HasSuffix(key, "/") {
		for k, v := range f.values {
			if strings.HasPrefix(k, key) {
				resp.Kvs = append(resp.Kvs, &mvccpb.KeyValue{
					Key:         []byte(k),
					Value:       []byte(v),
					ModRevision: f.modRev[k],
				})
			}
		}
		resp.Count = int64(len(resp.Kvs))
		return resp, nil
	}

	if v, ok := f.values[key]; ok {
		resp.Kvs = append(resp.Kvs, &mvccpb.KeyValue{
			Key:         []byte(key),
			Value:       []byte(v),
			ModRevision: f.modRev[key],
		})
		resp.Count = 1
	}
	return resp, nil
}

func (f *FakeEtcdKV) Put(ctx context.Context, key, val string, opts ...clientv3.OpOption) (*clientv3.PutResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putLocked(key, val)
	return &clientv3.PutResponse{}, nil
}

func (f *FakeEtcdKV) putLocked(key, val string) {
	f.revision++
	f.values[key] = val
	f.modRev[key] = f.revision
}

func (f *FakeEtcdKV) Delete(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.DeleteResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var deleted int64
	if strings.HasSuffix(key, "/") {
		for k := range f.values {
			if strings.HasPrefix(k, key) {
				delete(f.values, k)
				delete(f.modRev, k)
				deleted++
			}
		}
		return &clientv3.DeleteResponse{Deleted: deleted}, nil
	}
	if _, ok := f.values[key]; ok {
		delete(f.values, key)
		delete(f.modRev, key)
		deleted = 1
	}
	return &clientv3.DeleteResponse{Deleted: deleted}, nil
}

func (f *FakeEtcdKV) Txn(ctx context.Context) clientv3.Txn {
	return &fakeTxn{store: f}
}

// fakeTxn implements just enough of clientv3.Txn to run the single
// ModRevision-equality-guarded Put that IncrementCounter's CAS loop issues.
type fakeTxn struct {
	store *FakeEtcdKV
	cmps  []clientv3.Cmp
	thens []clientv3.Op
	elses []clientv3.Op
}

func (t *fakeTxn) If(cs ...clientv3.Cmp) clientv3.Txn {
	t.cmps = append(t.cmps, cs...)
	return t
}

func (t *fakeTxn) Then(ops ...clientv3.Op) clientv3.Txn {
	t.thens = append(t.thens, ops...)
	return t
}

func (t *fakeTxn) Else(ops ...clientv3.Op) clientv3.Txn {
	t.elses = append(t.elses, ops...)
	return t
}

func (t *fakeTxn) Commit() (*clientv3.TxnResponse, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	ok := true
	for _, cmp := range t.cmps {
		mr, isModRevision := cmp.TargetUnion.(*etcdserverpb.Compare_ModRevision)
		if !isModRevision {
			return nil, fmt.Errorf("fake etcd: unsupported comparison target %T", cmp.TargetUnion)
		}
		if cmp.Result != etcdserverpb.Compare_EQUAL || t.store.modRev[string(cmp.Key)] != mr.ModRevision {
			ok = false
			break
		}
	}

	ops := t.thens
	if !ok {
		ops = t.elses
	}
	for _, op := range ops {
		if op.IsPut() {
			t.store.putLocked(string(op.KeyBytes()), string(op.ValueBytes()))
		}
	}

	return &clientv3.TxnResponse{Succeeded: ok}, nil
}
