package gs

import (
	"crypto/sha256"
	"net"
	"sync"
	"time"

	"github.com/rtype/rtype-server/internal/wire"
)

// PingInterval bounds how often a server-initiated PING fires: at most
// one per authenticated peer per second.
const PingInterval = 1 * time.Second

// InputEvent is one decoded (type, value) pair from an INPUT frame.
type InputEvent struct {
	Type  uint8
	Value uint8
}

// DecodeInput splits an INPUT body into its (type, value) pairs.
func DecodeInput(body []byte) []InputEvent {
	events := make([]InputEvent, 0, len(body)/2)
	for i := 0; i+1 < len(body); i += 2 {
		events = append(events, InputEvent{Type: body[i], Value: body[i+1]})
	}
	return events
}

// ClientSession is the per-authenticated-peer state (C10): auth state,
// the reliability engine, RTT bookkeeping, and the bound game.
type ClientSession struct {
	ClientID uint32
	Addr     *net.UDPAddr

	Auth       AuthState
	SessionKey []byte

	Reliability *Reliability

	GameID    uint32
	HasGame   bool

	lastPingSent time.Time
	lastPingAt   time.Time // echoes back to compute RTT on PONG
}

func NewClientSession(clientID uint32, addr *net.UDPAddr) *ClientSession {
	return &ClientSession{
		ClientID:    clientID,
		Addr:        addr,
		Auth:        AuthNone,
		Reliability: NewReliability(),
	}
}

// BindGame assigns the session to a game.
func (s *ClientSession) BindGame(gameID uint32) {
	s.GameID = gameID
	s.HasGame = true
}

// ShouldPing reports whether a server-initiated PING is due: at most
// once per second per authenticated peer.
func (s *ClientSession) ShouldPing(now time.Time) bool {
	return s.Auth == AuthAuthenticated && now.Sub(s.lastPingSent) >= PingInterval
}

func (s *ClientSession) MarkPingSent(now time.Time) {
	s.lastPingSent = now
	s.lastPingAt = now
}

// OnPong folds the elapsed time since the last server-initiated PING
// into the RTT stats.
func (s *ClientSession) OnPong(now time.Time) {
	if s.lastPingAt.IsZero() {
		return
	}
	s.Reliability.RTT.Update(now.Sub(s.lastPingAt))
	s.lastPingAt = time.Time{}
}

// Table is the Client-ID-keyed session table.
type Table struct {
	mu       sync.RWMutex
	sessions map[uint32]*ClientSession
}

func NewTable() *Table {
	return &Table{sessions: make(map[uint32]*ClientSession)}
}

func (t *Table) Put(s *ClientSession) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sessions[s.ClientID] = s
}

func (t *Table) Get(clientID uint32) (*ClientSession, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.sessions[clientID]
	return s, ok
}

func (t *Table) Remove(clientID uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.sessions, clientID)
}

func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.sessions)
}

// ForEach calls fn for every live session. fn must not mutate the table.
func (t *Table) ForEach(fn func(*ClientSession)) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, s := range t.sessions {
		fn(s)
	}
}

// ForEachInGame calls fn for every authenticated session bound to gameID
// (used by the snapshot broadcaster, C11).
func (t *Table) ForEachInGame(gameID uint32, fn func(*ClientSession)) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, s := range t.sessions {
		if s.Auth == AuthAuthenticated && s.HasGame && s.GameID == gameID {
			fn(s)
		}
	}
}

// DecodeChallengeBody reads a CHALLENGE body (8B timestamp, 32B cookie).
func DecodeChallengeBody(body []byte) (timestamp int64, cookie [sha256.Size]byte, ok bool) {
	ts, rest, err := wire.ReadUint64(body)
	if err != nil {
		return 0, cookie, false
	}
	raw, _, err := wire.ReadBytes(rest, sha256.Size)
	if err != nil {
		return 0, cookie, false
	}
	copy(cookie[:], raw)
	return int64(ts), cookie, true
}

// EncodeChallengeBody writes a CHALLENGE body.
func EncodeChallengeBody(timestamp int64, cookie [sha256.Size]byte) []byte {
	buf := wire.WriteUint64(nil, uint64(timestamp))
	return append(buf, cookie[:]...)
}

// DecodeAuthBody reads an AUTH body (1B nonce, 32B cookie).
func DecodeAuthBody(body []byte) (nonce uint8, cookie [sha256.Size]byte, ok bool) {
	n, rest, err := wire.ReadUint8(body)
	if err != nil {
		return 0, cookie, false
	}
	raw, _, err := wire.ReadBytes(rest, sha256.Size)
	if err != nil {
		return 0, cookie, false
	}
	copy(cookie[:], raw)
	return n, cookie, true
}

// EncodeAuthBody writes an AUTH body.
func EncodeAuthBody(nonce uint8, cookie [sha256.Size]byte) []byte {
	buf := wire.WriteUint8(nil, nonce)
	return append(buf, cookie[:]...)
}

// DecodeJoinBody reads a GS-side JOIN body (4B ClientID, 1B nonce, 1B version).
func DecodeJoinBody(body []byte) (clientID uint32, nonce uint8, ver uint8, ok bool) {
	id, rest, err := wire.ReadUint32(body)
	if err != nil {
		return 0, 0, 0, false
	}
	n, rest, err := wire.ReadUint8(rest)
	if err != nil {
		return 0, 0, 0, false
	}
	v, _, err := wire.ReadUint8(rest)
	if err != nil {
		return 0, 0, 0, false
	}
	return id, n, v, true
}

// EncodeAuthOKBody writes an AUTH_OK body (4B ClientID, 8B session-key prefix).
func EncodeAuthOKBody(clientID uint32, sessionKey []byte) []byte {
	buf := wire.WriteUint32(nil, clientID)
	prefixLen := 8
	if len(sessionKey) < prefixLen {
		prefixLen = len(sessionKey)
	}
	return append(buf, sessionKey[:prefixLen]...)
}
