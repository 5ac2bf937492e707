package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreGetSetRoundTrip(t *testing.T) {
	s := New()

	_, ok := s.Get("k")
	require.False(t, ok)

	require.True(t, s.Set("k", "v1"))
	v, ok := s.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v1", v)

	require.True(t, s.Set("k", "v2"))
	v, ok = s.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v2", v)
}

func TestStoreSetEmptyValueDeletes(t *testing.T) {
	s := New()
	require.True(t, s.Set("k", "v"))
	require.True(t, s.Set("k", ""))

	_, ok := s.Get("k")
	assert.False(t, ok)
}

func TestStoreKeysPrefixSuffix(t *testing.T) {
	s := New()
	s.Set("bin1::STR::alice", "1")
	s.Set("bin1::STR::bob", "2")
	s.Set("bin2::STR::alice", "3")

	keys := s.Keys("bin1::STR::", "")
	assert.ElementsMatch(t, []string{"bin1::STR::alice", "bin1::STR::bob"}, keys)

	keys = s.Keys("", "alice")
	assert.ElementsMatch(t, []string{"bin1::STR::alice", "bin2::STR::alice"}, keys)
}

func TestStoreListAppendAndGet(t *testing.T) {
	s := New()
	s.ListAppend("k", "a")
	s.ListAppend("k", "b")
	s.ListAppend("k", "a")

	assert.Equal(t, []string{"a", "b", "a"}, s.ListGet("k"))
}

func TestStoreListRemoveCountsAndMutates(t *testing.T) {
	s := New()
	s.ListAppend("k", "a")
	s.ListAppend("k", "b")
	s.ListAppend("k", "a")

	removed := s.ListRemove("k", "a")
	assert.Equal(t, uint32(2), removed)
	assert.Equal(t, []string{"b"}, s.ListGet("k"))
}

func TestStoreListSetReplacesWholeSequence(t *testing.T) {
	s := New()
	s.ListAppend("k", "a")
	s.ListSet("k", []string{"x", "y"})
	assert.Equal(t, []string{"x", "y"}, s.ListGet("k"))
}

func TestStoreListGetReturnsDefensiveCopy(t *testing.T) {
	s := New()
	s.ListAppend("k", "a")
	seq := s.ListGet("k")
	seq[0] = "mutated"
	assert.Equal(t, []string{"a"}, s.ListGet("k"))
}

func TestStoreClockMonotonic(t *testing.T) {
	s := New()
	c1 := s.Clock(0)
	c2 := s.Clock(0)
	c3 := s.Clock(0)
	assert.Less(t, c1, c2)
	assert.Less(t, c2, c3)
}

func TestStoreClockRespectsAtLeast(t *testing.T) {
	s := New()
	s.Clock(0)
	c := s.Clock(100)
	assert.Equal(t, uint64(100), c)

	next := s.Clock(0)
	assert.Equal(t, uint64(101), next)
}
