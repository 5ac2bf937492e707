package keeper

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/cse223b/tribstore/internal/storageclient"
)

// Broadcaster is the keeper clock broadcaster of spec.md §4.J. Leadership
// goes to the keeper with the largest live index, the opposite of the
// migrator's smallest-live-index rule, so the two roles spread across
// different keepers when more than one is up (§4.K intro: "this asymmetry
// spreads work").
//
// Grounded on original_source/lab/src/lab3/keeper_server.rs's
// broadcast_logical_clock (collect every backend's clock(0), take the max,
// push clock(max) back to every backend), rewritten as a ticking goroutine
// in the teacher's cmd/server/main.go background-ticker idiom.
type Broadcaster struct {
	keepers []string
	self    int
	backs   []string
	cache   *storageclient.Cache
	peer    *PeerClient
	log     zerolog.Logger
	period  time.Duration
}

func NewBroadcaster(keepers []string, self int, backs []string, cache *storageclient.Cache, period time.Duration, log zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		keepers: keepers,
		self:    self,
		backs:   backs,
		cache:   cache,
		peer:    NewPeerClient(),
		log:     log,
		period:  period,
	}
}

// Run ticks until ctx is cancelled, performing one broadcast attempt per
// period if and only if this keeper is currently the clock-broadcast leader.
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(b.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if b.isLeader(ctx) {
				b.tick()
			}
		}
	}
}

// isLeader reports whether self is the largest index among keepers that
// answer a ping right now.
func (b *Broadcaster) isLeader(ctx context.Context) bool {
	alive := AliveKeepers(ctx, b.peer, b.keepers, b.self)
	largest := b.self
	for i := range alive {
		if i > largest {
			largest = i
		}
	}
	return largest == b.self
}

func (b *Broadcaster) tick() {
	var maxClock uint64
	for _, addr := range b.backs {
		c := b.cache.Get(addr)
		v, err := c.Clock(0)
		if err != nil {
			b.log.Debug().Str("backend", addr).Err(err).Msg("clock broadcast: get skipped")
			continue
		}
		if v > maxClock {
			maxClock = v
		}
	}
	for _, addr := range b.backs {
		c := b.cache.Get(addr)
		if _, err := c.Clock(maxClock); err != nil {
			b.log.Debug().Str("backend", addr).Err(err).Msg("clock broadcast: push skipped")
		}
	}
}
