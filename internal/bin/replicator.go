package bin

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"github.com/cse223b/tribstore/internal/lock"
)

// validationKey is the distinguished per-backend string key whose non-empty
// value marks that backend migrated-ready (spec.md §3).
const validationKey = "__VALIDATION__"

// ErrNoReplica is returned when a read or write finds neither replica
// eligible (spec.md §4.G "Failure semantics").
var ErrNoReplica = errors.New("bin: no replica available for this bin")

const (
	actionAppend = "APPEND"
	actionRemove = "REMOVE"
)

// logRecord is the append-only log entry spec.md §3 describes, JSON-encoded
// and stored as one element of the list behind "<bin>::LIST::<key>".
type logRecord struct {
	WrappedString string `json:"wrapped_string"`
	ClockID       uint64 `json:"clock_id"`
	Action        string `json:"action,omitempty"`
}

// Replicator is the bin replicator of spec.md §4.G, the core of this
// system: it is polymorphic over {StringKV, ListKV, Clock} (it implements
// Backend itself) and internally composes a PrefixAdapter per backend it
// talks to, picking the primary/secondary pair fresh on every call from the
// liveness view it was handed.
//
// There is no teacher analogue for the replica-selection and log-replay
// algorithms (the teacher's consistent-hash ring with virtual nodes and N/W/R
// quorums is a different algorithm entirely, see DESIGN.md); they are written
// directly from spec.md §4.G/§4.H. The surrounding shape — a type closing
// over a fixed backend slice plus a liveness slice, offering the same method
// set as a single backend — follows the teacher's internal/cluster/node.go.
type Replicator struct {
	binName  string
	addrs    []string
	backs    []Backend
	liveness []bool
	hashIdx  int
	lockC    *lock.Client
}

func newReplicator(binName string, addrs []string, backs []Backend, liveness []bool, hashIdx int, lockC *lock.Client) *Replicator {
	return &Replicator{
		binName:  binName,
		addrs:    addrs,
		backs:    backs,
		liveness: liveness,
		hashIdx:  hashIdx,
		lockC:    lockC,
	}
}

func (r *Replicator) adapter(i int) *PrefixAdapter {
	return NewPrefixAdapter(r.binName, r.backs[i])
}

// scan walks the ring starting at r.hashIdx, bounded by len(addrs) steps
// (Open Question 4: never loop unboundedly when few backends are alive),
// returning the first and second index satisfying predicate.
func (r *Replicator) scan(predicate func(i int) bool) (primary, secondary int, hasPrimary, hasSecondary bool) {
	n := len(r.addrs)
	for k := 0; k < n; k++ {
		i := (r.hashIdx + k) % n
		if !predicate(i) {
			continue
		}
		if !hasPrimary {
			primary = i
			hasPrimary = true
			continue
		}
		secondary = i
		hasSecondary = true
		break
	}
	return
}

func (r *Replicator) isValid(i int) bool {
	if !r.liveness[i] {
		return false
	}
	v, ok, err := r.backs[i].Get(validationKey)
	return err == nil && ok && v != ""
}

// readReplicas implements get_read_replicas: liveness and the validation
// bit both required.
func (r *Replicator) readReplicas() (primary, secondary int, hasPrimary, hasSecondary bool) {
	return r.scan(r.isValid)
}

// writeReplicas implements get_write_replicas: a successful ping ("any
// successful ping", already what the liveness vector records) suffices.
func (r *Replicator) writeReplicas() (primary, secondary int, hasPrimary, hasSecondary bool) {
	return r.scan(func(i int) bool { return r.liveness[i] })
}

func (r *Replicator) withLock(write bool, keys []string, fn func() error) error {
	ctx := context.Background()
	var readKeys, writeKeys []string
	if write {
		writeKeys = keys
	} else {
		readKeys = keys
	}
	if err := r.lockC.AcquireLocks(ctx, readKeys, writeKeys); err != nil {
		return err
	}
	defer func() { _ = r.lockC.ReleaseLocks(ctx, readKeys, writeKeys) }()
	return fn()
}

// Get is the string read path (spec.md §4.G "Read path (string get)").
func (r *Replicator) Get(key string) (string, bool, error) {
	i, j, hasP, hasS := r.readReplicas()
	if !hasP && !hasS {
		return "", false, ErrNoReplica
	}
	var value string
	var ok bool
	err := r.withLock(false, []string{wrap(r.binName, tagStr, key)}, func() error {
		var gerr error
		if hasP {
			value, ok, gerr = r.adapter(i).Get(key)
			if gerr == nil {
				return nil
			}
		}
		if hasS {
			value, ok, gerr = r.adapter(j).Get(key)
			return gerr
		}
		return gerr
	})
	if err != nil {
		return "", false, err
	}
	return value, ok, nil
}

// Set is the string write path (spec.md §4.G "Write path (string set)").
func (r *Replicator) Set(key, value string) (bool, error) {
	i, j, hasP, hasS := r.writeReplicas()
	if !hasP && !hasS {
		return false, ErrNoReplica
	}
	var anyOK bool
	err := r.withLock(true, []string{wrap(r.binName, tagStr, key)}, func() error {
		var firstErr error
		if hasP {
			ok, werr := r.adapter(i).Set(key, value)
			if werr == nil {
				anyOK = anyOK || ok
			} else {
				firstErr = werr
			}
		}
		if hasS {
			ok, werr := r.adapter(j).Set(key, value)
			if werr == nil {
				anyOK = anyOK || ok
			} else if firstErr == nil {
				firstErr = werr
			}
		}
		if !anyOK && firstErr != nil {
			return firstErr
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return anyOK, nil
}

// bumpClock advances the primary's clock, then pushes the secondary's clock
// to at least that value, and returns the larger of the two results as the
// clock_id new log records are tagged with (spec.md §4.G "Write path (list
// append / remove)"). The primary can end below the returned value when the
// secondary's clock was already ahead.
func (r *Replicator) bumpClock(i, j int, hasP, hasS bool) uint64 {
	var clockID uint64
	if hasP {
		if c, err := r.backs[i].Clock(0); err == nil {
			clockID = c
		}
	}
	if hasS {
		if c, err := r.backs[j].Clock(clockID); err == nil && c > clockID {
			clockID = c
		}
	}
	return clockID
}

func (r *Replicator) appendRecord(i, j int, hasP, hasS bool, key string, rec logRecord) (bool, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return false, err
	}
	var anyOK bool
	var firstErr error
	if hasP {
		ok, werr := r.adapter(i).ListAppend(key, string(data))
		if werr == nil {
			anyOK = anyOK || ok
		} else {
			firstErr = werr
		}
	}
	if hasS {
		ok, werr := r.adapter(j).ListAppend(key, string(data))
		if werr == nil {
			anyOK = anyOK || ok
		} else if firstErr == nil {
			firstErr = werr
		}
	}
	if !anyOK && firstErr != nil {
		return false, firstErr
	}
	return anyOK, nil
}

// ListAppend is the list-append write path.
func (r *Replicator) ListAppend(key, value string) (bool, error) {
	i, j, hasP, hasS := r.writeReplicas()
	if !hasP && !hasS {
		return false, ErrNoReplica
	}
	var ok bool
	err := r.withLock(true, []string{wrap(r.binName, tagList, key)}, func() error {
		clockID := r.bumpClock(i, j, hasP, hasS)
		var aerr error
		ok, aerr = r.appendRecord(i, j, hasP, hasS, key, logRecord{WrappedString: value, ClockID: clockID, Action: actionAppend})
		return aerr
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}

// fetchRawLog reads the raw log list for key, trying primary then secondary.
func (r *Replicator) fetchRawLog(i, j int, hasP, hasS bool, key string) ([]string, error) {
	var raw []string
	var err error
	if hasP {
		raw, err = r.adapter(i).ListGet(key)
		if err == nil {
			return raw, nil
		}
	}
	if hasS {
		return r.adapter(j).ListGet(key)
	}
	return nil, err
}

// ListRemove is the list-remove write path. The returned count is the
// number of matching elements visible in the canonical log immediately
// before the new REMOVE record is appended (Open Question 1: defined as a
// property of the log, not of any particular client's concurrently-observed
// view).
func (r *Replicator) ListRemove(key, value string) (uint32, error) {
	i, j, hasP, hasS := r.writeReplicas()
	if !hasP && !hasS {
		return 0, ErrNoReplica
	}
	var removed uint32
	err := r.withLock(true, []string{wrap(r.binName, tagList, key)}, func() error {
		raw, ferr := r.fetchRawLog(i, j, hasP, hasS, key)
		if ferr != nil {
			return ferr
		}
		live := replayLog(raw)
		var count uint32
		for _, v := range live {
			if v == value {
				count++
			}
		}

		clockID := r.bumpClock(i, j, hasP, hasS)
		if _, aerr := r.appendRecord(i, j, hasP, hasS, key, logRecord{WrappedString: value, ClockID: clockID, Action: actionRemove}); aerr != nil {
			return aerr
		}
		removed = count
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// ListGet is the list read path: fetch, sort, dedup, replay right-to-left
// (spec.md §4.G "Read path (list_get)").
func (r *Replicator) ListGet(key string) ([]string, error) {
	i, j, hasP, hasS := r.readReplicas()
	if !hasP && !hasS {
		return nil, ErrNoReplica
	}
	var result []string
	err := r.withLock(false, []string{wrap(r.binName, tagList, key)}, func() error {
		raw, ferr := r.fetchRawLog(i, j, hasP, hasS, key)
		if ferr != nil {
			return ferr
		}
		result = replayLog(raw)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListSet replaces the key's whole log outright instead of appending to it:
// the new log holds one APPEND record per element of seq, each with its own
// fresh clock_id, so a later ListGet returns seq in order (used by the
// transaction undo-log snapshot and restore paths).
func (r *Replicator) ListSet(key string, seq []string) (bool, error) {
	i, j, hasP, hasS := r.writeReplicas()
	if !hasP && !hasS {
		return false, ErrNoReplica
	}
	var anyOK bool
	err := r.withLock(true, []string{wrap(r.binName, tagList, key)}, func() error {
		recs := make([]string, 0, len(seq))
		for _, v := range seq {
			data, merr := json.Marshal(logRecord{WrappedString: v, ClockID: r.bumpClock(i, j, hasP, hasS), Action: actionAppend})
			if merr != nil {
				return merr
			}
			recs = append(recs, string(data))
		}
		var firstErr error
		if hasP {
			ok, werr := r.adapter(i).ListSet(key, recs)
			if werr == nil {
				anyOK = anyOK || ok
			} else {
				firstErr = werr
			}
		}
		if hasS {
			ok, werr := r.adapter(j).ListSet(key, recs)
			if werr == nil {
				anyOK = anyOK || ok
			} else if firstErr == nil {
				firstErr = werr
			}
		}
		if !anyOK && firstErr != nil {
			return firstErr
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return anyOK, nil
}

// replayLog implements spec.md §4.G's log-replay algorithm: sort by
// clock_id, dedup by clock_id, then walk newest-to-oldest maintaining a
// tombstone set so a REMOVE hides every older APPEND of the same payload.
// Records that fail to unmarshal are skipped (spec.md §7 "Serialization").
func replayLog(raw []string) []string {
	recs := make([]logRecord, 0, len(raw))
	for _, s := range raw {
		var rec logRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			continue
		}
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(a, b int) bool { return recs[a].ClockID < recs[b].ClockID })

	deduped := recs[:0:0]
	var lastClock uint64
	for k, rec := range recs {
		if k > 0 && rec.ClockID == lastClock {
			continue
		}
		deduped = append(deduped, rec)
		lastClock = rec.ClockID
	}

	tomb := make(map[string]bool)
	var result []string
	for k := len(deduped) - 1; k >= 0; k-- {
		rec := deduped[k]
		if tomb[rec.WrappedString] {
			continue
		}
		if rec.Action == actionRemove {
			tomb[rec.WrappedString] = true
			continue
		}
		result = append([]string{rec.WrappedString}, result...)
	}
	return result
}

// enumLockKey returns the bin-scoped lock key used to serialize Keys/ListKeys
// enumeration against concurrent appends of new keys (spec.md §4.G).
func enumLockKey(kind, binName string) string {
	return kind + "::" + binName
}

// Keys delegates to the STR-tagged adapter on primary, falling through to
// secondary, and sorts the result.
func (r *Replicator) Keys(prefix, suffix string) ([]string, error) {
	i, j, hasP, hasS := r.readReplicas()
	if !hasP && !hasS {
		return nil, ErrNoReplica
	}
	var keys []string
	err := r.withLock(false, []string{enumLockKey("KEYS", r.binName)}, func() error {
		var kerr error
		if hasP {
			keys, kerr = r.adapter(i).Keys(prefix, suffix)
			if kerr == nil {
				return nil
			}
		}
		if hasS {
			keys, kerr = r.adapter(j).Keys(prefix, suffix)
			return kerr
		}
		return kerr
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// ListKeys is the list-keyspace analogue of Keys.
func (r *Replicator) ListKeys(prefix, suffix string) ([]string, error) {
	i, j, hasP, hasS := r.readReplicas()
	if !hasP && !hasS {
		return nil, ErrNoReplica
	}
	var keys []string
	err := r.withLock(false, []string{enumLockKey("LIST_KEYS", r.binName)}, func() error {
		var kerr error
		if hasP {
			keys, kerr = r.adapter(i).ListKeys(prefix, suffix)
			if kerr == nil {
				return nil
			}
		}
		if hasS {
			keys, kerr = r.adapter(j).ListKeys(prefix, suffix)
			return kerr
		}
		return kerr
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// Clock reconciles the write-replica pair's logical clocks (spec.md §4.G
// "Clock reconciliation"): drive the valid replica first and propagate the
// result to the other, so the invalid replica (not yet migrated) never gets
// ahead of the one serving reads.
func (r *Replicator) Clock(atLeast uint64) (uint64, error) {
	i, j, hasP, hasS := r.writeReplicas()
	if !hasP && !hasS {
		return 0, ErrNoReplica
	}
	primaryValid := hasP && r.isValid(i)

	if primaryValid {
		v, err := r.backs[i].Clock(atLeast)
		if err == nil {
			if hasS {
				_, _ = r.backs[j].Clock(v)
			}
			return v, nil
		}
	}
	if hasS {
		v, err := r.backs[j].Clock(atLeast)
		if err != nil {
			if hasP {
				return r.backs[i].Clock(atLeast)
			}
			return 0, err
		}
		if hasP {
			_, _ = r.backs[i].Clock(v)
		}
		return v, nil
	}
	return r.backs[i].Clock(atLeast)
}

// Ping reports liveness of either replica of this bin's write pair.
func (r *Replicator) Ping() error {
	i, j, hasP, hasS := r.writeReplicas()
	if hasP {
		if err := r.backs[i].Ping(); err == nil {
			return nil
		}
	}
	if hasS {
		return r.backs[j].Ping()
	}
	return ErrNoReplica
}
