package gw

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_WaitsForCompleteHeader(t *testing.T) {
	f, n, err := Decode([]byte{0x42, 0x57, 0x01}, PeerClient)
	require.NoError(t, err)
	assert.Nil(t, f)
	assert.Equal(t, 0, n)
}

func TestDecode_WaitsForCompleteBody(t *testing.T) {
	buf := Encode(0, CmdGameEnd, []byte{0, 0, 0, 1})
	f, n, err := Decode(buf[:headerSize+2], PeerClient)
	require.NoError(t, err)
	assert.Nil(t, f)
	assert.Equal(t, 0, n)
}

func TestDecode_BadMagicResyncsOneByte(t *testing.T) {
	buf := []byte{0xFF, 0x57, 0x01, 0x00, byte(CmdGS)}
	f, n, err := Decode(buf, PeerClient)
	assert.Nil(t, f)
	assert.Equal(t, 1, n)
	var fe *FramingError
	require.ErrorAs(t, err, &fe)
}

func TestDecode_BadVersionResyncsOneByte(t *testing.T) {
	buf := []byte{0x42, 0x57, 0x02, 0x00, byte(CmdGS)}
	_, n, err := Decode(buf, PeerClient)
	assert.Equal(t, 1, n)
	require.Error(t, err)
}

func TestJoinBodyShape_DependsOnPeerKind(t *testing.T) {
	clientJoin := Encode(0, CmdJoin, []byte{0, 0, 0, 42})
	f, n, err := Decode(clientJoin, PeerClient)
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, len(clientJoin), n)
	assert.Len(t, f.Body, 4)

	gsBody := make([]byte, 4+16+2)
	gsJoin := Encode(0, CmdJoin, gsBody)
	f2, n2, err := Decode(gsJoin, PeerGameServer)
	require.NoError(t, err)
	require.NotNil(t, f2)
	assert.Equal(t, len(gsJoin), n2)
	assert.Len(t, f2.Body, 4+16+2)
}

func TestDecode_GSOKAndGSKOHaveEmptyBody(t *testing.T) {
	for _, cmd := range []Command{CmdGSOK, CmdGSKO} {
		buf := Encode(0, cmd, nil)
		f, n, err := Decode(buf, PeerClient)
		require.NoError(t, err)
		require.NotNil(t, f)
		assert.Equal(t, headerSize, n)
		assert.Empty(t, f.Body)
	}
}

func TestDecode_GIDVariableLength(t *testing.T) {
	body := []byte{2, 0, 0, 0, 1, 0, 0, 0, 2}
	buf := Encode(0, CmdGID, body)

	// count byte not yet arrived: must wait.
	f, n, err := Decode(buf[:headerSize], PeerClient)
	require.NoError(t, err)
	assert.Nil(t, f)
	assert.Equal(t, 0, n)

	f2, n2, err := Decode(buf, PeerClient)
	require.NoError(t, err)
	require.NotNil(t, f2)
	assert.Equal(t, len(buf), n2)
	assert.Equal(t, body, f2.Body)
}

func TestDecode_UnknownCommandIsFramingError(t *testing.T) {
	buf := []byte{0x42, 0x57, 0x01, 0x00, 0xFE}
	_, n, err := Decode(buf, PeerClient)
	assert.Equal(t, 1, n)
	var fe *FramingError
	require.ErrorAs(t, err, &fe)
}

func TestMultipleFramesDecodeInSequence(t *testing.T) {
	a := Encode(0, CmdGameEnd, []byte{0, 0, 0, 7})
	b := Encode(0, CmdGS, append(make([]byte, 16), 0x10, 0x92))
	buf := append(append([]byte{}, a...), b...)

	f1, n1, err := Decode(buf, PeerClient)
	require.NoError(t, err)
	require.NotNil(t, f1)
	assert.Equal(t, CmdGameEnd, f1.Command)

	f2, n2, err := Decode(buf[n1:], PeerClient)
	require.NoError(t, err)
	require.NotNil(t, f2)
	assert.Equal(t, CmdGS, f2.Command)
	assert.Equal(t, len(buf), n1+n2)
}
