package gs

import (
	"sync"

	"github.com/rtype/rtype-server/internal/wire"
)

// Broadcaster is the snapshot broadcaster (C11): it assigns a
// monotonically increasing snapshot_seq per game and fans the result out
// to every authenticated client bound to that game on the RO channel,
// transparently fragmenting oversize payloads via C8.
type Broadcaster struct {
	mu    sync.Mutex
	seq   map[uint32]uint32 // gameID -> next snapshot_seq
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{seq: make(map[uint32]uint32)}
}

func (b *Broadcaster) nextSeq(gameID uint32) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.seq[gameID]
	b.seq[gameID]++
	return s
}

// BuildSnapshot prepends the 4-byte snapshot_seq to state and, when the
// result exceeds the MTU, splits it into FRAGMENT bodies transparently.
// It returns the SNAPSHOT command bodies to send (either one SNAPSHOT
// body, or several FRAGMENT bodies sharing one base sequence drawn from
// the peer's reliability engine).
func (b *Broadcaster) BuildSnapshot(gameID uint32, state []byte, rel *Reliability) (cmd Command, bodies [][]byte) {
	return snapshotBodies(b.nextSeq(gameID), state, rel)
}

// snapshotBodies builds the SNAPSHOT or FRAGMENT bodies for one snapshot
// numbered seq.
func snapshotBodies(seq uint32, state []byte, rel *Reliability) (cmd Command, bodies [][]byte) {
	payload := wire.WriteUint32(nil, seq)
	payload = append(payload, state...)

	if HeaderSize+len(payload) <= MaxPacketSize {
		return CmdSnapshot, [][]byte{payload}
	}

	base := rel.NextSeq()
	frags := Fragment(base, payload)
	bodies = make([][]byte, len(frags))
	for i, f := range frags {
		bodies[i] = EncodeFragmentBody(f)
	}
	return CmdFragment, bodies
}

// Broadcast pulls state (the opaque per-tick game-state octets produced
// by the simulation, an external collaborator out of scope here) for
// gameID and hands the SNAPSHOT/FRAGMENT bodies for every bound, authenticated
// client to send. send is called once per resulting body per client, in
// order, on the RO channel; the caller (event loop) owns the actual
// socket write and per-peer reliability bookkeeping (sequence numbers,
// retransmit registration).
func (b *Broadcaster) Broadcast(table *Table, gameID uint32, state []byte, send func(s *ClientSession, cmd Command, body []byte)) {
	seq := b.nextSeq(gameID)
	table.ForEachInGame(gameID, func(s *ClientSession) {
		cmd, bodies := snapshotBodies(seq, state, s.Reliability)
		for _, body := range bodies {
			send(s, cmd, body)
		}
	})
}
