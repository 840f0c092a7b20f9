package gw

import (
	"sync"

	"github.com/rtype/rtype-server/internal/errs"
)

// ErrBufferOverflow is returned by Session.Feed when the 65536-byte
// receive buffer cap is crossed.
var ErrBufferOverflow = errs.New(errs.Capacity, "recv buffer overflow")

// maxRecvBuffer is the append-only receive buffer cap; exceeding it is
// fatal for that peer.
const maxRecvBuffer = 65536

// maxParseErrors is the per-peer parse-error quota.
const maxParseErrors = 3

// PeerHandle is the opaque stream connection handle a peer is identified
// by, assigned at accept time.
type PeerHandle uint64

// Session is the per-stream-peer state, owned by GatewayCore rather than
// held directly on the connection or at package scope.
type Session struct {
	Handle PeerHandle
	Kind   PeerKind

	recvBuf    []byte
	outbound   [][]byte
	parseErrs  int
}

func newSession(h PeerHandle) *Session {
	return &Session{Handle: h, Kind: PeerUnknown}
}

// Feed appends newly-read bytes to the session's receive buffer. It
// returns ErrBufferOverflow once the cap is crossed; the caller must then
// evict the peer.
func (s *Session) Feed(data []byte) error {
	if len(s.recvBuf)+len(data) > maxRecvBuffer {
		return ErrBufferOverflow
	}
	s.recvBuf = append(s.recvBuf, data...)
	return nil
}

// DecodeAll decodes every complete frame currently buffered, draining the
// buffer as it goes, looping until no complete frame remains. A framing
// error stops the loop for this call (the caller evaluates the quota and,
// if still under it, may call again on the next read).
func (s *Session) DecodeAll() ([]*Frame, error) {
	var frames []*Frame
	for {
		f, n, err := Decode(s.recvBuf, s.Kind)
		if err != nil {
			s.recvBuf = s.recvBuf[n:]
			s.parseErrs++
			return frames, err
		}
		if f == nil {
			return frames, nil
		}
		frames = append(frames, f)
		s.recvBuf = s.recvBuf[n:]
	}
}

// OverQuota reports whether the peer has crossed the parse-error quota
// and must be evicted.
func (s *Session) OverQuota() bool { return s.parseErrs >= maxParseErrors }

// Enqueue appends an outbound frame to the peer's send queue.
func (s *Session) Enqueue(frame []byte) { s.outbound = append(s.outbound, frame) }

// DrainOutbound returns and clears the queued outbound frames, in the
// FIFO order they were enqueued.
func (s *Session) DrainOutbound() [][]byte {
	out := s.outbound
	s.outbound = nil
	return out
}

// SessionTable is the GatewayCore's map of live stream sessions, guarded
// by a single RWMutex.
type SessionTable struct {
	mu       sync.RWMutex
	sessions map[PeerHandle]*Session
}

func NewSessionTable() *SessionTable {
	return &SessionTable{sessions: make(map[PeerHandle]*Session)}
}

func (t *SessionTable) Open(h PeerHandle) *Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := newSession(h)
	t.sessions[h] = s
	return s
}

func (t *SessionTable) Get(h PeerHandle) (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.sessions[h]
	return s, ok
}

// Close reclaims all state keyed by h, on peer close or eviction.
func (t *SessionTable) Close(h PeerHandle) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.sessions, h)
}

func (t *SessionTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.sessions)
}
