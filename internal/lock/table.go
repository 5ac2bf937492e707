package lock

import (
	"context"
	"sort"
	"sync"
)

// table is the per-shard map of key -> keyLock. Locks are created lazily on
// first acquire and dropped once idle (spec.md §3 lifecycle), guarded by a
// single mutex — contention here is brief (map lookup only, never held
// across a blocking acquire).
type table struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

func newTable() *table {
	return &table{locks: make(map[string]*keyLock)}
}

func (t *table) getOrCreate(key string) *keyLock {
	t.mu.Lock()
	defer t.mu.Unlock()
	kl, ok := t.locks[key]
	if !ok {
		kl = newKeyLock()
		t.locks[key] = kl
	}
	return kl
}

func (t *table) getExisting(key string) (*keyLock, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	kl, ok := t.locks[key]
	return kl, ok
}

func (t *table) forgetIfIdle(key string, kl *keyLock) {
	kl.mu.Lock()
	idle := kl.idleLocked()
	kl.mu.Unlock()
	if !idle {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.locks[key]; ok && cur == kl {
		cur.mu.Lock()
		stillIdle := cur.idleLocked()
		cur.mu.Unlock()
		if stillIdle {
			delete(t.locks, key)
		}
	}
}

type keyReq struct {
	key   string
	write bool
}

// acquireAll acquires every key in readKeys/writeKeys, in sorted key order,
// to give every caller a consistent lock-acquisition order and avoid
// deadlocking against a concurrent multi-key acquire over an overlapping
// key set. On failure it releases everything it had already acquired.
func (t *table) acquireAll(ctx context.Context, readKeys, writeKeys []string, keeper bool) error {
	reqs := make([]keyReq, 0, len(readKeys)+len(writeKeys))
	for _, k := range readKeys {
		reqs = append(reqs, keyReq{key: k, write: false})
	}
	for _, k := range writeKeys {
		reqs = append(reqs, keyReq{key: k, write: true})
	}
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].key < reqs[j].key })

	acquired := make([]keyReq, 0, len(reqs))
	for _, r := range reqs {
		kl := t.getOrCreate(r.key)
		var err error
		if r.write {
			err = kl.acquireWrite(ctx, keeper)
		} else {
			err = kl.acquireRead(ctx, keeper)
		}
		if err != nil {
			t.releaseAll(acquired)
			return err
		}
		acquired = append(acquired, r)
	}
	return nil
}

func (t *table) releaseAll(reqs []keyReq) {
	for _, r := range reqs {
		kl, ok := t.getExisting(r.key)
		if !ok {
			continue
		}
		if r.write {
			kl.releaseWrite()
		} else {
			kl.releaseRead()
		}
		t.forgetIfIdle(r.key, kl)
	}
}

// release is the public form used by the RPC handler: it ignores keys the
// caller never actually held, matching spec.md §4.E's "release_locks ...
// ignores keys not held".
func (t *table) release(readKeys, writeKeys []string) {
	reqs := make([]keyReq, 0, len(readKeys)+len(writeKeys))
	for _, k := range readKeys {
		reqs = append(reqs, keyReq{key: k, write: false})
	}
	for _, k := range writeKeys {
		reqs = append(reqs, keyReq{key: k, write: true})
	}
	t.releaseAll(reqs)
}
