package bin

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

// fakeBackend is a minimal in-memory Backend used to exercise the prefix
// adapter and replicator without a network round trip. down forces every
// call to fail, standing in for a backend that has gone offline.
type fakeBackend struct {
	mu    sync.Mutex
	strs  map[string]string
	lists map[string][]string
	clock uint64
	down  bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{strs: make(map[string]string), lists: make(map[string][]string)}
}

var errFakeDown = errors.New("fake backend: down")

func (f *fakeBackend) Get(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return "", false, errFakeDown
	}
	v, ok := f.strs[key]
	return v, ok, nil
}

func (f *fakeBackend) Set(key, value string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return false, errFakeDown
	}
	f.strs[key] = value
	return true, nil
}

func (f *fakeBackend) Keys(prefix, suffix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, errFakeDown
	}
	var out []string
	for k := range f.strs {
		if strings.HasPrefix(k, prefix) && strings.HasSuffix(k, suffix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeBackend) ListGet(key string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, errFakeDown
	}
	out := make([]string, len(f.lists[key]))
	copy(out, f.lists[key])
	return out, nil
}

func (f *fakeBackend) ListSet(key string, seq []string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return false, errFakeDown
	}
	cp := make([]string, len(seq))
	copy(cp, seq)
	f.lists[key] = cp
	return true, nil
}

func (f *fakeBackend) ListAppend(key, value string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return false, errFakeDown
	}
	f.lists[key] = append(f.lists[key], value)
	return true, nil
}

func (f *fakeBackend) ListRemove(key, value string) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return 0, errFakeDown
	}
	seq := f.lists[key]
	kept := seq[:0:0]
	var removed uint32
	for _, v := range seq {
		if v == value {
			removed++
			continue
		}
		kept = append(kept, v)
	}
	f.lists[key] = kept
	return removed, nil
}

func (f *fakeBackend) ListKeys(prefix, suffix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, errFakeDown
	}
	var out []string
	for k := range f.lists {
		if strings.HasPrefix(k, prefix) && strings.HasSuffix(k, suffix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeBackend) Clock(atLeast uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return 0, errFakeDown
	}
	next := f.clock + 1
	if atLeast > next {
		next = atLeast
	}
	f.clock = next
	return f.clock, nil
}

func (f *fakeBackend) Ping() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errFakeDown
	}
	return nil
}

func (f *fakeBackend) setValidation(valid bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if valid {
		f.strs[validationKey] = "true"
	} else {
		delete(f.strs, validationKey)
	}
}
