package gw

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndPickLeastLoaded(t *testing.T) {
	r := NewRegistry()
	k1 := NewGSKey(net.ParseIP("10.0.0.1"), 4243)
	k2 := NewGSKey(net.ParseIP("10.0.0.2"), 4243)

	require.True(t, r.Register(k1, 1))
	require.True(t, r.Register(k2, 2))

	require.NoError(t, r.RecordOccupancy(1, 5))
	require.NoError(t, r.RecordOccupancy(2, 2))

	best, ok := r.PickLeastLoaded()
	require.True(t, ok)
	assert.Equal(t, k2, best)
}

func TestRegistry_PickLeastLoaded_TiesGoToEarliestRegistration(t *testing.T) {
	r := NewRegistry()
	k1 := NewGSKey(net.ParseIP("10.0.0.1"), 4243)
	k2 := NewGSKey(net.ParseIP("10.0.0.2"), 4243)

	require.True(t, r.Register(k1, 1))
	require.True(t, r.Register(k2, 2))
	require.NoError(t, r.RecordOccupancy(1, 0))
	require.NoError(t, r.RecordOccupancy(2, 0))

	best, ok := r.PickLeastLoaded()
	require.True(t, ok)
	assert.Equal(t, k1, best)
}

func TestRegistry_RegisterSameKeyDifferentHandleFails(t *testing.T) {
	r := NewRegistry()
	k := NewGSKey(net.ParseIP("10.0.0.1"), 4243)
	require.True(t, r.Register(k, 1))
	assert.False(t, r.Register(k, 2))
}

func TestRegistry_EndGame_RequiresOwnership(t *testing.T) {
	r := NewRegistry()
	k1 := NewGSKey(net.ParseIP("10.0.0.1"), 4243)
	k2 := NewGSKey(net.ParseIP("10.0.0.2"), 4243)
	require.True(t, r.Register(k1, 1))
	require.True(t, r.Register(k2, 2))

	require.NoError(t, r.RecordGames(1, []uint32{99}))

	assert.Error(t, r.EndGame(2, 99))

	require.NoError(t, r.EndGame(1, 99))
	_, ok := r.RouteFor(99)
	assert.False(t, ok)
}

func TestRegistry_RecordGames_LatestWinsOnConflict(t *testing.T) {
	r := NewRegistry()
	k1 := NewGSKey(net.ParseIP("10.0.0.1"), 4243)
	k2 := NewGSKey(net.ParseIP("10.0.0.2"), 4243)
	require.True(t, r.Register(k1, 1))
	require.True(t, r.Register(k2, 2))

	require.NoError(t, r.RecordGames(1, []uint32{5}))
	require.NoError(t, r.RecordGames(2, []uint32{5}))

	key, ok := r.RouteFor(5)
	require.True(t, ok)
	assert.Equal(t, k2, key)
}

func TestRegistry_Remove_OrphansGames(t *testing.T) {
	r := NewRegistry()
	k1 := NewGSKey(net.ParseIP("10.0.0.1"), 4243)
	require.True(t, r.Register(k1, 1))
	require.NoError(t, r.RecordGames(1, []uint32{5}))

	r.Remove(1)

	_, ok := r.RouteFor(5)
	assert.False(t, ok)
	assert.Equal(t, 0, r.Count())
}
