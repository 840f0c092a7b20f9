package gw

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_DecodeAll_AcrossPartialReads(t *testing.T) {
	s := newSession(1)

	full := Encode(0, CmdGameEnd, []byte{0, 0, 0, 3})

	require.NoError(t, s.Feed(full[:3]))
	frames, err := s.DecodeAll()
	require.NoError(t, err)
	assert.Empty(t, frames)

	require.NoError(t, s.Feed(full[3:]))
	frames, err = s.DecodeAll()
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, CmdGameEnd, frames[0].Command)
}

func TestSession_ParseErrorQuota(t *testing.T) {
	s := newSession(1)
	bad := []byte{0xFF, 0x57, 0x01, 0x00, byte(CmdGS)}

	for i := 0; i < maxParseErrors; i++ {
		require.NoError(t, s.Feed(bad))
		_, err := s.DecodeAll()
		require.Error(t, err)
	}
	assert.True(t, s.OverQuota())
}

func TestSession_BufferOverflow(t *testing.T) {
	s := newSession(1)
	big := make([]byte, maxRecvBuffer+1)
	err := s.Feed(big)
	assert.ErrorIs(t, err, ErrBufferOverflow)
}

func TestSession_EnqueueAndDrainOutbound(t *testing.T) {
	s := newSession(1)
	s.Enqueue([]byte{1})
	s.Enqueue([]byte{2})

	out := s.DrainOutbound()
	require.Len(t, out, 2)
	assert.Equal(t, []byte{1}, out[0])
	assert.Equal(t, []byte{2}, out[1])

	assert.Empty(t, s.DrainOutbound())
}

func TestSessionTable_OpenGetClose(t *testing.T) {
	tbl := NewSessionTable()
	s := tbl.Open(5)
	assert.Equal(t, PeerHandle(5), s.Handle)

	got, ok := tbl.Get(5)
	require.True(t, ok)
	assert.Same(t, s, got)

	tbl.Close(5)
	_, ok = tbl.Get(5)
	assert.False(t, ok)
}
