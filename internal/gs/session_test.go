package gs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInput_PairsOfTypeValue(t *testing.T) {
	events := DecodeInput([]byte{1, 1, 2, 0, 3, 1})
	require.Len(t, events, 3)
	assert.Equal(t, InputEvent{Type: 1, Value: 1}, events[0])
	assert.Equal(t, InputEvent{Type: 2, Value: 0}, events[1])
	assert.Equal(t, InputEvent{Type: 3, Value: 1}, events[2])
}

func TestClientSession_ShouldPing(t *testing.T) {
	s := NewClientSession(1, nil)
	now := time.Unix(0, 0)

	assert.False(t, s.ShouldPing(now)) // not authenticated yet
	s.Auth = AuthAuthenticated
	assert.True(t, s.ShouldPing(now))

	s.MarkPingSent(now)
	assert.False(t, s.ShouldPing(now.Add(500*time.Millisecond)))
	assert.True(t, s.ShouldPing(now.Add(PingInterval)))
}

func TestClientSession_OnPongUpdatesRTT(t *testing.T) {
	s := NewClientSession(1, nil)
	s.Auth = AuthAuthenticated
	now := time.Unix(0, 0)

	s.MarkPingSent(now)
	s.OnPong(now.Add(20 * time.Millisecond))

	assert.Equal(t, 1, s.Reliability.RTT.Samples)
	assert.Equal(t, 20*time.Millisecond, s.Reliability.RTT.Avg)
}

func TestTable_ForEachInGame_FiltersCorrectly(t *testing.T) {
	tbl := NewTable()

	bound := NewClientSession(1, nil)
	bound.Auth = AuthAuthenticated
	bound.BindGame(5)
	tbl.Put(bound)

	unbound := NewClientSession(2, nil)
	unbound.Auth = AuthAuthenticated
	tbl.Put(unbound)

	var seen []uint32
	tbl.ForEachInGame(5, func(s *ClientSession) { seen = append(seen, s.ClientID) })
	assert.Equal(t, []uint32{1}, seen)
}

func TestJoinBody_RoundTrip(t *testing.T) {
	body := []byte{0, 0, 0, 9, 42, 1}
	clientID, nonce, ver, ok := DecodeJoinBody(body)
	require.True(t, ok)
	assert.Equal(t, uint32(9), clientID)
	assert.Equal(t, uint8(42), nonce)
	assert.Equal(t, uint8(1), ver)
}
