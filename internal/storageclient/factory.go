package storageclient

import "github.com/cse223b/tribstore/internal/bin"

// Factory adapts a Cache to bin.BackendFactory, so the bin storage directory
// dials backends through the same shared connection pool every other caller
// uses (spec.md §9: "shared ownership with a lifetime tied to the enclosing
// service", not a private cache per Replicator).
type Factory struct {
	Cache *Cache
}

func (f *Factory) Dial(addr string) bin.Backend {
	return f.Cache.Get(addr)
}
