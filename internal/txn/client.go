// Package txn implements the transaction client of spec.md §4.I: an
// ACID-ish scope over multiple bin keys layered on top of the lock service
// and the bin replicator.
package txn

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/cse223b/tribstore/internal/bin"
	"github.com/cse223b/tribstore/internal/lock"
)

// transactionsBin is the dedicated bin holding commit markers (spec.md
// §4.I step 2).
const transactionsBin = "__TRANSACTIONS__"

const (
	undoLogStrPrefix  = "TRANS_LOG_STR_"
	undoLogListPrefix = "TRANS_LOG_LIST_"
)

// Client is the transaction client. It shares its lock.Client with every
// other caller in the process (spec.md §9's "shared ownership" note) so a
// transaction's held-lock cache is visible to direct bin.Replicator calls
// made while the transaction is open.
type Client struct {
	lockC *lock.Client
	dir   *bin.Directory

	mu      sync.Mutex
	counter uint64
}

func NewClient(lockC *lock.Client, dir *bin.Directory) *Client {
	return &Client{lockC: lockC, dir: dir}
}

func (c *Client) nextTransKey() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counter++
	return fmt.Sprintf("txn-%d", c.counter)
}

// flatten turns a bin -> keys map into the "<bin>::<key>" strings the lock
// service's flat keyspace expects (spec.md §4.I step 1).
func flatten(byBin map[string][]string) []string {
	var out []string
	for binName, keys := range byBin {
		for _, k := range keys {
			out = append(out, binName+"::"+k)
		}
	}
	sort.Strings(out)
	return out
}

// TransactionStart acquires every requested read/write lock, allocates a
// transaction key, and snapshots the pre-image of each write key as an undo
// log entry in the same bin (spec.md §4.I).
func (c *Client) TransactionStart(ctx context.Context, reads, writes map[string][]string) (string, error) {
	readFlat := flatten(reads)
	writeFlat := flatten(writes)
	if err := c.lockC.AcquireLocks(ctx, readFlat, writeFlat); err != nil {
		return "", fmt.Errorf("txn: acquire: %w", err)
	}

	transKey := c.nextTransKey()

	for binName, keys := range writes {
		b := c.dir.Bin(binName)
		for _, k := range keys {
			if err := snapshotUndo(b, k); err != nil {
				_ = c.lockC.ReleaseLocks(ctx, readFlat, writeFlat)
				return "", fmt.Errorf("txn: snapshot %s::%s: %w", binName, k, err)
			}
		}
	}
	return transKey, nil
}

// snapshotUndo records the pre-image of k (string or list, whichever
// exists) so an aborted transaction can be rolled back. A key with neither
// a string nor a list value is newly created by this transaction and needs
// no undo entry.
func snapshotUndo(b *bin.Replicator, k string) error {
	if v, ok, err := b.Get(k); err != nil {
		return err
	} else if ok {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		_, err = b.Set(undoLogStrPrefix+k, string(data))
		return err
	}

	seq, err := b.ListGet(k)
	if err != nil {
		return err
	}
	if len(seq) == 0 {
		return nil
	}
	_, err = b.ListSet(undoLogListPrefix+k, seq)
	return err
}

// TransactionEnd records the commit marker and releases every lock the
// transaction holds (spec.md §4.I step 2).
func (c *Client) TransactionEnd(ctx context.Context, transKey string, reads, writes map[string][]string) error {
	tb := c.dir.Bin(transactionsBin)
	if _, err := tb.Set(transKey, "True"); err != nil {
		return fmt.Errorf("txn: commit marker: %w", err)
	}
	readFlat := flatten(reads)
	writeFlat := flatten(writes)
	return c.lockC.ReleaseLocks(ctx, readFlat, writeFlat)
}

// Committed reports whether transKey's commit marker is present, the
// signal an abort-recovery sweep uses to decide whether to restore from the
// undo log or discard it (spec.md §4.I "Aborts are recovered...").
func (c *Client) Committed(transKey string) (bool, error) {
	tb := c.dir.Bin(transactionsBin)
	v, ok, err := tb.Get(transKey)
	if err != nil {
		return false, err
	}
	return ok && v == "True", nil
}

// RestoreUndo restores k in binName from its undo log entry, used by abort
// recovery when no commit marker was found for the owning transaction.
func RestoreUndo(b *bin.Replicator, k string) error {
	if v, ok, err := b.Get(undoLogStrPrefix + k); err != nil {
		return err
	} else if ok {
		var orig string
		if err := json.Unmarshal([]byte(v), &orig); err != nil {
			return err
		}
		_, err = b.Set(k, orig)
		return err
	}

	seq, err := b.ListGet(undoLogListPrefix + k)
	if err != nil {
		return err
	}
	if seq == nil {
		return nil
	}
	_, err = b.ListSet(k, seq)
	return err
}
