// Package bin implements the bin-abstraction layer: the prefix adapter
// (spec.md §4.F), the replicator (§4.G, the core of this system), and the
// storage directory (§4.H).
package bin

// Backend is the capability set spec.md's design notes call for: "one
// interface with these three method groups [StringKV, ListKV, Clock]...
// composed via embedding / delegation rather than inheritance." It is
// implemented identically by storageclient.Client (a single raw backend),
// PrefixAdapter (a bin-scoped view of one backend), and Replicator (a
// bin-scoped view of a replica pair) — the same dynamic-polymorphism
// pattern spec.md §9's design notes describe.
type Backend interface {
	// StringKV
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) (bool, error)
	Keys(prefix, suffix string) ([]string, error)

	// ListKV
	ListGet(key string) ([]string, error)
	ListSet(key string, seq []string) (bool, error)
	ListAppend(key, value string) (bool, error)
	ListRemove(key, value string) (uint32, error)
	ListKeys(prefix, suffix string) ([]string, error)

	// Clock
	Clock(atLeast uint64) (uint64, error)

	// Ping is the liveness probe (get("DUMMY")) spec.md §4.G's write-replica
	// selection and the keeper's backend scan both rely on.
	Ping() error
}
