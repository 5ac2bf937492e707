package storageclient

import (
	"sync"
	"time"
)

// Cache is the process-wide pool of open connections keyed by backend
// address (spec.md §4.C/§4.D). Lookups take the read side of the gate;
// a miss upgrades to the write side, rechecks, and constructs a Client on
// still-absent — the double-checked insertion spec.md §4.D and the
// concurrency model in spec.md §5 both call for. This mirrors the
// RLock/Lock pairing the teacher's internal/cluster/membership.go and
// ring.go use for their own shared maps.
type Cache struct {
	mu      sync.RWMutex
	clients map[string]*Client
	timeout time.Duration
}

// NewCache builds an empty Channel Cache. timeout is applied to every
// Client it constructs; zero selects the Client default.
func NewCache(timeout time.Duration) *Cache {
	return &Cache{clients: make(map[string]*Client), timeout: timeout}
}

// Get returns the cached Client for addr, constructing and inserting one
// on first use.
func (c *Cache) Get(addr string) *Client {
	c.mu.RLock()
	cl, ok := c.clients[addr]
	c.mu.RUnlock()
	if ok {
		return cl
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.clients[addr]; ok {
		return cl
	}
	cl = newClient(addr, c.timeout)
	c.clients[addr] = cl
	return cl
}
