package keeper

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cse223b/tribstore/internal/storageclient"
)

func TestDetectEventFindsFirstFlip(t *testing.T) {
	prev := []bool{true, true, false}
	cur := []bool{true, false, true}
	ev := detectEvent(prev, cur)
	if assert.NotNil(t, ev) {
		assert.Equal(t, 1, ev.BackID)
		assert.True(t, ev.Leave)
	}
}

func TestDetectEventJoin(t *testing.T) {
	prev := []bool{true, false}
	cur := []bool{true, true}
	ev := detectEvent(prev, cur)
	if assert.NotNil(t, ev) {
		assert.Equal(t, 1, ev.BackID)
		assert.False(t, ev.Leave)
	}
}

func TestDetectEventNoChangeIsNil(t *testing.T) {
	prev := []bool{true, false, true}
	cur := []bool{true, false, true}
	assert.Nil(t, detectEvent(prev, cur))
}

func TestDetectEventNilPrevIsNil(t *testing.T) {
	assert.Nil(t, detectEvent(nil, []bool{true, false}))
}

func TestApplyEventAdvancesOnlyTheAppliedIndex(t *testing.T) {
	// Two backends flip within the same tick: index 0 leaves and index 2
	// joins. detectEvent only reports index 0's leave; applyEvent must leave
	// index 2 untouched so the next tick's detectEvent still finds it.
	prev := []bool{true, true, false}
	cur := []bool{false, true, true}
	ev := detectEvent(prev, cur)
	next := applyEvent(prev, ev, cur)
	assert.Equal(t, []bool{false, true, false}, next)

	// The still-pending join at index 2 is now detectable against `next`.
	ev2 := detectEvent(next, cur)
	if assert.NotNil(t, ev2) {
		assert.Equal(t, 2, ev2.BackID)
		assert.False(t, ev2.Leave)
	}
}

func TestApplyEventBackIDOutOfRangeFallsBackToCur(t *testing.T) {
	prev := []bool{true}
	cur := []bool{true, false}
	ev := &migrationEvent{BackID: 1, Leave: true}
	assert.Equal(t, cur, applyEvent(prev, ev, cur))
}

func TestScanAliveForwardFindsNthAlive(t *testing.T) {
	live := []bool{true, false, true, false, true}
	i, ok := scanAlive(0, 5, live, true, 1)
	assert.True(t, ok)
	assert.Equal(t, 2, i)

	i, ok = scanAlive(0, 5, live, true, 2)
	assert.True(t, ok)
	assert.Equal(t, 4, i)
}

func TestScanAliveBackwardWrapsRing(t *testing.T) {
	live := []bool{true, false, false, true, false}
	i, ok := scanAlive(0, 5, live, false, 1)
	assert.True(t, ok)
	assert.Equal(t, 3, i)
}

func TestScanAliveNoneFoundReturnsFalse(t *testing.T) {
	live := []bool{false, false, false}
	_, ok := scanAlive(0, 3, live, true, 1)
	assert.False(t, ok)
}

func TestBinNameOfRequiresTwoSeparators(t *testing.T) {
	name, ok := binNameOf("alice::STR::password")
	assert.True(t, ok)
	assert.Equal(t, "alice", name)

	_, ok = binNameOf("alice::password")
	assert.False(t, ok)

	_, ok = binNameOf("noseparator")
	assert.False(t, ok)
}

func TestMigratorIsLeaderWhenSmallestIndexAlive(t *testing.T) {
	peerAddr := startKeeperServerForTest(t)
	m := NewMigrator([]string{"self:1", peerAddr}, 0, nil, nil, nil, nil, 0, zerolog.Nop())
	assert.True(t, m.isLeader(contextBackground()))
}

func TestMigratorIsNotLeaderWhenLowerIndexAlive(t *testing.T) {
	peerAddr := startKeeperServerForTest(t)
	m := NewMigrator([]string{peerAddr, "self:1"}, 1, nil, nil, nil, nil, 0, zerolog.Nop())
	assert.False(t, m.isLeader(contextBackground()))
}

// TestMigratorBootstrapValidationOnColdStart covers the all-backends-alive
// startup case (S1/S5): no join event ever runs to set the validation bit,
// so the first activation pass must set it directly on every live backend.
func TestMigratorBootstrapValidationOnColdStart(t *testing.T) {
	addrs := []string{startKeeperTestBackend(t), startKeeperTestBackend(t), startKeeperTestBackend(t)}
	cache := storageclient.NewCache(0)
	m := NewMigrator(nil, 0, addrs, nil, nil, cache, 0, zerolog.Nop())

	m.bootstrapValidation([]bool{true, true, true})

	for _, a := range addrs {
		v, ok, err := cache.Get(a).Get(validationBitKey)
		require.NoError(t, err)
		require.True(t, ok)
		assert.NotEmpty(t, v)
	}
}

// TestMigratorBootstrapValidationSkipsWhenAlreadyValid ensures bootstrap is
// a no-op once any live backend already carries the bit (e.g. a join
// migration already ran), so it never clobbers state concurrently with a
// real migration.
func TestMigratorBootstrapValidationSkipsWhenAlreadyValid(t *testing.T) {
	addrs := []string{startKeeperTestBackend(t), startKeeperTestBackend(t)}
	cache := storageclient.NewCache(0)
	_, err := cache.Get(addrs[0]).Set(validationBitKey, "true")
	require.NoError(t, err)

	m := NewMigrator(nil, 0, addrs, nil, nil, cache, 0, zerolog.Nop())
	m.bootstrapValidation([]bool{true, true})

	_, ok, err := cache.Get(addrs[1]).Get(validationBitKey)
	require.NoError(t, err)
	assert.False(t, ok, "bootstrap should not have touched the second backend")
}
