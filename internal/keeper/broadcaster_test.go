package keeper

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cse223b/tribstore/internal/backend"
	"github.com/cse223b/tribstore/internal/storageclient"
)

func startKeeperTestBackend(t *testing.T) string {
	t.Helper()
	srv := backend.NewServer(backend.New(), zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return strings.TrimPrefix(ts.URL, "http://")
}

// TestBroadcasterTickConvergesAllBackendClocks exercises the real
// clock-broadcast round trip (spec.md §4.J): a backend that has run ahead of
// its peers pulls them all up to its own value.
func TestBroadcasterTickConvergesAllBackendClocks(t *testing.T) {
	addrs := []string{startKeeperTestBackend(t), startKeeperTestBackend(t), startKeeperTestBackend(t)}
	cache := storageclient.NewCache(0)

	// Advance the second backend's clock well ahead of the others.
	for i := 0; i < 10; i++ {
		_, err := cache.Get(addrs[1]).Clock(0)
		require.NoError(t, err)
	}

	b := NewBroadcaster([]string{":9300"}, 0, addrs, cache, 0, zerolog.Nop())
	b.tick()

	// tick() read every backend's clock (observing at most 11 on the
	// advanced one) and pushed that max back to every backend, so no
	// backend can have fallen behind it; Clock never returns a smaller
	// value than it was last pushed to.
	for _, a := range addrs {
		v, err := cache.Get(a).Clock(0)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, v, uint64(11))
	}
}

func TestBroadcasterIsLeaderWhenLargestIndexAlive(t *testing.T) {
	selfAddr := startKeeperServerForTest(t)
	b := NewBroadcaster([]string{"unreachable:1", selfAddr}, 1, nil, nil, 0, zerolog.Nop())
	assert.True(t, b.isLeader(contextBackground()))
}

func TestBroadcasterIsNotLeaderWhenHigherIndexAlive(t *testing.T) {
	peerAddr := startKeeperServerForTest(t)
	b := NewBroadcaster([]string{"self:1", peerAddr}, 0, nil, nil, 0, zerolog.Nop())
	assert.False(t, b.isLeader(contextBackground()))
}
