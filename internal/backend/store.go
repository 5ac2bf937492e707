// Package backend implements the leaf storage node of the system: an
// in-memory string/list KV with a logical clock (spec.md §4.A), and the
// stateless RPC adapter in front of it (spec.md §4.B).
package backend

import (
	"sort"
	"strings"
	"sync"
)

// Store is the single-node in-memory backend. A plain sync.Mutex guards all
// three maps; unlike the bin layer above it, a backend is never the
// contention point (the network round trip always dominates), so there is
// no value in a reader/writer split here.
type Store struct {
	mu sync.Mutex

	strs  map[string]string
	lists map[string][]string
	clock uint64
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		strs:  make(map[string]string),
		lists: make(map[string][]string),
	}
}

// Get returns (value, true) or ("", false) when absent. A value of "" is
// never stored — Set treats it as a tombstone — so false unambiguously
// means NONE.
func (s *Store) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.strs[key]
	return v, ok
}

// Set stores value under key, or deletes key when value is empty.
func (s *Store) Set(key, value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if value == "" {
		delete(s.strs, key)
		return true
	}
	s.strs[key] = value
	return true
}

// Keys returns every string key matching both prefix and suffix, sorted.
func (s *Store) Keys(prefix, suffix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0)
	for k := range s.strs {
		if strings.HasPrefix(k, prefix) && strings.HasSuffix(k, suffix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// ListGet returns the element sequence for key, empty when absent.
func (s *Store) ListGet(key string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.lists[key]
	out := make([]string, len(seq))
	copy(out, seq)
	return out
}

// ListSet replaces the sequence stored at key.
func (s *Store) ListSet(key string, seq []string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]string, len(seq))
	copy(cp, seq)
	s.lists[key] = cp
	return true
}

// ListAppend appends value to the tail of key's sequence.
func (s *Store) ListAppend(key, value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[key] = append(s.lists[key], value)
	return true
}

// ListRemove deletes every element equal to value and returns the count
// removed.
func (s *Store) ListRemove(key, value string) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.lists[key]
	kept := seq[:0:0]
	var removed uint32
	for _, v := range seq {
		if v == value {
			removed++
			continue
		}
		kept = append(kept, v)
	}
	s.lists[key] = kept
	return removed
}

// ListKeys returns every list key matching both prefix and suffix, sorted.
func (s *Store) ListKeys(prefix, suffix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0)
	for k := range s.lists {
		if strings.HasPrefix(k, prefix) && strings.HasSuffix(k, suffix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Clock advances the counter to max(counter+1, atLeast) and returns it.
// Every call on a single Store returns a strictly larger value than the
// last, which is the monotonicity guarantee spec.md §3 requires.
func (s *Store) Clock(atLeast uint64) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.clock + 1
	if atLeast > next {
		next = atLeast
	}
	s.clock = next
	return s.clock
}
