package lock

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cse223b/tribstore/internal/wire"
)

// KeeperIDPrefix marks a client identity as belonging to the keeper, so lock
// servers may grant it priority per spec.md §4.E.
const KeeperIDPrefix = "keeper-"

// heldKind records whether a cached key is held for reading or writing.
type heldKind int

const (
	heldRead heldKind = iota
	heldWrite
)

// Client is the sharded lock client described in spec.md §4.E: it hashes
// keys to shards, batches one Acquire/Release RPC per shard that actually
// needs one, and caches which keys it already holds so repeated calls
// within a region that already holds the lock are free.
type Client struct {
	id      string
	isKeeper bool
	addrs   []string
	http    *http.Client

	mu   sync.Mutex
	held map[string]heldKind
}

// NewClient builds a lock client identified by a fresh UUID (or, for the
// keeper, a keeper-prefixed UUID per spec.md §4.E).
func NewClient(addrs []string, keeper bool) *Client {
	id := uuid.NewString()
	if keeper {
		id = KeeperIDPrefix + id
	}
	return &Client{
		id:       id,
		isKeeper: keeper,
		addrs:    addrs,
		http:     &http.Client{Timeout: 5 * time.Second},
		held:     make(map[string]heldKind),
	}
}

func (c *Client) ID() string { return c.id }

func (c *Client) shardOf(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32()) % len(c.addrs)
}

// sortedShards returns the set's members in ascending order. Two clients
// whose key sets span the same shards must issue their per-shard Acquire
// calls in the same order, or they can each hold one shard while blocking on
// the other's — map iteration order is randomized per-process, so this
// fixed order is what actually prevents the cross-shard deadlock.
func sortedShards(set map[int]bool) []int {
	out := make([]int, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Ints(out)
	return out
}

// AcquireLocks acquires readKeys for reading and writeKeys for writing,
// skipping any shard whose entire requested set is already held locally.
// Per spec.md §4.E, a failure on one shard is returned immediately; keys
// already granted on other shards remain held.
func (c *Client) AcquireLocks(ctx context.Context, readKeys, writeKeys []string) error {
	shardReads := make(map[int][]string)
	shardWrites := make(map[int][]string)

	c.mu.Lock()
	for _, k := range readKeys {
		if kind, ok := c.held[k]; ok && (kind == heldRead || kind == heldWrite) {
			continue
		}
		s := c.shardOf(k)
		shardReads[s] = append(shardReads[s], k)
	}
	for _, k := range writeKeys {
		if kind, ok := c.held[k]; ok && kind == heldWrite {
			continue
		}
		s := c.shardOf(k)
		shardWrites[s] = append(shardWrites[s], k)
	}
	c.mu.Unlock()

	shardSet := make(map[int]bool)
	for s := range shardReads {
		shardSet[s] = true
	}
	for s := range shardWrites {
		shardSet[s] = true
	}
	shards := sortedShards(shardSet)

	for _, s := range shards {
		req := wire.AcquireRequest{
			ClientID:  c.id,
			ReadKeys:  shardReads[s],
			WriteKeys: shardWrites[s],
			IsKeeper:  c.isKeeper,
		}
		if err := c.post(ctx, c.addrs[s], "Acquire", req, nil); err != nil {
			return fmt.Errorf("lock: acquire on shard %d: %w", s, err)
		}
		c.mu.Lock()
		for _, k := range shardReads[s] {
			if _, ok := c.held[k]; !ok {
				c.held[k] = heldRead
			}
		}
		for _, k := range shardWrites[s] {
			c.held[k] = heldWrite
		}
		c.mu.Unlock()
	}
	return nil
}

// ReleaseLocks releases readKeys/writeKeys, ignoring any key not currently
// believed to be held, and clears the held cache only after a successful
// round trip per shard.
func (c *Client) ReleaseLocks(ctx context.Context, readKeys, writeKeys []string) error {
	shardReads := make(map[int][]string)
	shardWrites := make(map[int][]string)

	c.mu.Lock()
	for _, k := range readKeys {
		if _, ok := c.held[k]; ok {
			shardReads[c.shardOf(k)] = append(shardReads[c.shardOf(k)], k)
		}
	}
	for _, k := range writeKeys {
		if kind, ok := c.held[k]; ok && kind == heldWrite {
			shardWrites[c.shardOf(k)] = append(shardWrites[c.shardOf(k)], k)
		}
	}
	c.mu.Unlock()

	shardSet := make(map[int]bool)
	for s := range shardReads {
		shardSet[s] = true
	}
	for s := range shardWrites {
		shardSet[s] = true
	}
	shards := sortedShards(shardSet)

	var firstErr error
	for _, s := range shards {
		req := wire.ReleaseRequest{
			ClientID:  c.id,
			ReadKeys:  shardReads[s],
			WriteKeys: shardWrites[s],
		}
		if err := c.post(ctx, c.addrs[s], "Release", req, nil); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("lock: release on shard %d: %w", s, err)
			}
			continue
		}
		c.mu.Lock()
		for _, k := range shardReads[s] {
			delete(c.held, k)
		}
		for _, k := range shardWrites[s] {
			delete(c.held, k)
		}
		c.mu.Unlock()
	}
	return firstErr
}

// Ping probes every shard for liveness, used at startup per spec.md §4.E.
func (c *Client) Ping(ctx context.Context) error {
	for _, addr := range c.addrs {
		if err := c.post(ctx, addr, "Ping", wire.PingRequest{ClientID: c.id}, nil); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) post(ctx context.Context, addr, method string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("http://%s/lock/%s", addr, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var eb wire.ErrorBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		return fmt.Errorf("http %d: %s", resp.StatusCode, eb.Error)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
