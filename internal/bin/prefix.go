package bin

import "strings"

// Key tags separate the string keyspace from the list keyspace on a shared
// backend, per spec.md §3's raw key layout: "<b>::STR::<key>" for strings,
// "<b>::LIST::<key>" for lists.
const (
	tagStr  = "STR"
	tagList = "LIST"
)

func wrap(binName, tag, key string) string {
	return binName + "::" + tag + "::" + key
}

// stripPrefix removes "<binName>::<tag>::" from a raw key, returning the
// user-visible key underneath. Grounded on bin_prefix_adapter.rs's keys/
// list_keys, which strip a fixed-length bin-scoping prefix off every raw key
// returned by the underlying store; adapted here to also strip the STR/LIST
// tag segment spec.md's layout adds on top of the original's bare
// "<bin>::<key>" scheme.
func stripPrefix(binName, tag, rawKey string) string {
	p := binName + "::" + tag + "::"
	return strings.TrimPrefix(rawKey, p)
}

// PrefixAdapter presents a single raw Backend as a bin-scoped Backend:
// every key this bin's caller sees is transparently wrapped with the bin
// name and a STR/LIST tag before hitting the underlying store, and stripped
// back off on the way out. It implements Backend so a Replicator can treat
// a pair of these exactly like any other Backend (spec.md §9's dynamic
// polymorphism note).
type PrefixAdapter struct {
	binName string
	back    Backend
}

func NewPrefixAdapter(binName string, back Backend) *PrefixAdapter {
	return &PrefixAdapter{binName: binName, back: back}
}

func (a *PrefixAdapter) Get(key string) (string, bool, error) {
	return a.back.Get(wrap(a.binName, tagStr, key))
}

func (a *PrefixAdapter) Set(key, value string) (bool, error) {
	return a.back.Set(wrap(a.binName, tagStr, key), value)
}

// Keys lists string keys in this bin matching prefix/suffix. The bin/tag
// wrapper is folded into the prefix sent to the raw store so the store's own
// prefix scan does the heavy filtering; the suffix match happens client-side
// against the unwrapped key, since the raw store's suffix match would
// otherwise see (and potentially match against) the tag segment.
func (a *PrefixAdapter) Keys(prefix, suffix string) ([]string, error) {
	raw, err := a.back.Keys(wrap(a.binName, tagStr, prefix), "")
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(raw))
	for _, rk := range raw {
		k := stripPrefix(a.binName, tagStr, rk)
		if strings.HasSuffix(k, suffix) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (a *PrefixAdapter) ListGet(key string) ([]string, error) {
	return a.back.ListGet(wrap(a.binName, tagList, key))
}

func (a *PrefixAdapter) ListSet(key string, seq []string) (bool, error) {
	return a.back.ListSet(wrap(a.binName, tagList, key), seq)
}

func (a *PrefixAdapter) ListAppend(key, value string) (bool, error) {
	return a.back.ListAppend(wrap(a.binName, tagList, key), value)
}

func (a *PrefixAdapter) ListRemove(key, value string) (uint32, error) {
	return a.back.ListRemove(wrap(a.binName, tagList, key), value)
}

func (a *PrefixAdapter) ListKeys(prefix, suffix string) ([]string, error) {
	raw, err := a.back.ListKeys(wrap(a.binName, tagList, prefix), "")
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(raw))
	for _, rk := range raw {
		k := stripPrefix(a.binName, tagList, rk)
		if strings.HasSuffix(k, suffix) {
			out = append(out, k)
		}
	}
	return out, nil
}

// Clock passes straight through: the logical clock is per-backend, not
// per-bin, matching bin_prefix_adapter.rs's clock (no bin scoping at all).
func (a *PrefixAdapter) Clock(atLeast uint64) (uint64, error) {
	return a.back.Clock(atLeast)
}

func (a *PrefixAdapter) Ping() error {
	return a.back.Ping()
}
