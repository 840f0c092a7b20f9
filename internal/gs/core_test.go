package gs

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rtype/rtype-server/internal/wire"
)

type fakeTransport struct {
	sent [][]byte
}

func (f *fakeTransport) WriteTo(addr *net.UDPAddr, data []byte) error {
	f.sent = append(f.sent, data)
	return nil
}

type fakeGame struct {
	inputs  []InputEvent
	chats   []string
	resynced bool
}

func (g *fakeGame) HandleInput(gameID, clientID uint32, events []InputEvent) {
	g.inputs = append(g.inputs, events...)
}
func (g *fakeGame) HandleChat(gameID, clientID uint32, text string) { g.chats = append(g.chats, text) }
func (g *fakeGame) RequestResync(gameID, clientID uint32)           { g.resynced = true }

func addr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP("203.0.113.9"), Port: port}
}

func TestCore_FullHandshakeThenInput(t *testing.T) {
	secret := testSecret()
	transport := &fakeTransport{}
	game := &fakeGame{}
	core := NewCore(transport, game, secret, zap.NewNop().Sugar())

	a := addr(5555)
	now := time.Unix(1_700_000_000, 0)

	joinBody, ok := buildJoin(t, 1, 9)
	require.True(t, ok)
	joinFrame := Encode(Header{Command: CmdJoin, Channel: ChannelUU, ClientID: 1}, joinBody)
	core.HandleDatagram(a, joinFrame, now)

	require.Len(t, transport.sent, 1)
	challengeFrame, ok := Decode(transport.sent[0])
	require.True(t, ok)
	assert.Equal(t, CmdChallenge, challengeFrame.Command)

	timestamp, cookie, ok := DecodeChallengeBody(challengeFrame.Body)
	require.True(t, ok)
	assert.Equal(t, now.Unix(), timestamp)

	authBody := EncodeAuthBody(9, cookie)
	authFrame := Encode(Header{Command: CmdAuth, Channel: ChannelUU, ClientID: 1}, authBody)
	core.HandleDatagram(a, authFrame, now)

	require.Len(t, transport.sent, 2)
	authOKFrame, ok := Decode(transport.sent[1])
	require.True(t, ok)
	assert.Equal(t, CmdAuthOK, authOKFrame.Command)

	session, ok := core.Sessions.Get(1)
	require.True(t, ok)
	assert.Equal(t, AuthAuthenticated, session.Auth)
	session.BindGame(42)

	inputBody := []byte{1, 1, 2, 0}
	inputFrame := Encode(Header{Command: CmdInput, Channel: ChannelRU, ClientID: 1, Seq: 0}, inputBody)
	core.HandleDatagram(a, inputFrame, now)

	require.Len(t, game.inputs, 2)
	assert.Equal(t, InputEvent{Type: 1, Value: 1}, game.inputs[0])
	assert.Equal(t, InputEvent{Type: 2, Value: 0}, game.inputs[1])
}

func TestCore_UnauthenticatedInputIsDropped(t *testing.T) {
	core := NewCore(&fakeTransport{}, &fakeGame{}, testSecret(), zap.NewNop().Sugar())
	a := addr(1)
	frame := Encode(Header{Command: CmdInput, ClientID: 123}, []byte{1, 1})
	core.HandleDatagram(a, frame, time.Unix(0, 0))

	_, ok := core.Sessions.Get(123)
	assert.False(t, ok)
}

func buildJoin(t *testing.T, clientID uint32, nonce uint8) ([]byte, bool) {
	t.Helper()
	body := wire.WriteUint32(nil, clientID)
	body = wire.WriteUint8(body, nonce)
	body = wire.WriteUint8(body, 1) // protocol version
	return body, true
}
