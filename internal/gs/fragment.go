package gs

import (
	"sync"
	"time"

	"github.com/rtype/rtype-server/internal/wire"
)

// FragmentTimeout is the window a reassembly buffer is kept alive: it
// is dropped if the first fragment's timestamp ages past this without
// completion.
const FragmentTimeout = 1 * time.Second

// FragmentKey identifies a reassembly buffer: (peer, base sequence). Core
// sets peer to the authenticated ClientID (see peerKeyFor): FRAGMENT
// frames are only handled once a session is authenticated.
type FragmentKey struct {
	Peer string
	Base uint32
}

type fragmentBuffer struct {
	total     uint32
	firstSeen time.Time
	chunks    map[uint32][]byte // offset -> bytes
	received  uint32
}

// Reassembler is the fragment reassembly component (C8).
type Reassembler struct {
	mu      sync.Mutex
	buffers map[FragmentKey]*fragmentBuffer
}

func NewReassembler() *Reassembler {
	return &Reassembler{buffers: make(map[FragmentKey]*fragmentBuffer)}
}

// FragmentPayload is the decoded body of a FRAGMENT frame: base seq
// (4B), declared total size (4B), offset (4B), then the chunk.
type FragmentPayload struct {
	Base   uint32
	Total  uint32
	Offset uint32
	Chunk  []byte
}

func DecodeFragmentBody(body []byte) (FragmentPayload, bool) {
	base, rest, err := wire.ReadUint32(body)
	if err != nil {
		return FragmentPayload{}, false
	}
	total, rest, err := wire.ReadUint32(rest)
	if err != nil {
		return FragmentPayload{}, false
	}
	offset, rest, err := wire.ReadUint32(rest)
	if err != nil {
		return FragmentPayload{}, false
	}
	return FragmentPayload{Base: base, Total: total, Offset: offset, Chunk: rest}, true
}

func EncodeFragmentBody(p FragmentPayload) []byte {
	buf := wire.WriteUint32(nil, p.Base)
	buf = wire.WriteUint32(buf, p.Total)
	buf = wire.WriteUint32(buf, p.Offset)
	return append(buf, p.Chunk...)
}

// Feed applies one FRAGMENT payload from peer, at wall-clock time now.
// It returns the reassembled message and ok=true once every declared
// byte has arrived with no gaps: the sum of stored offset ranges exactly
// equals the declared total. Duplicate offsets are idempotent: a later
// arrival at an already-stored offset is discarded.
func (r *Reassembler) Feed(peer string, p FragmentPayload, now time.Time) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := FragmentKey{Peer: peer, Base: p.Base}
	buf, ok := r.buffers[key]
	if !ok {
		buf = &fragmentBuffer{total: p.Total, firstSeen: now, chunks: make(map[uint32][]byte)}
		r.buffers[key] = buf
	}

	if _, dup := buf.chunks[p.Offset]; !dup {
		buf.chunks[p.Offset] = p.Chunk
		buf.received += uint32(len(p.Chunk))
	}

	if buf.received < buf.total {
		return nil, false
	}

	out, complete := assemble(buf)
	if complete {
		delete(r.buffers, key)
		return out, true
	}
	// received byte count matched total but offsets didn't tile it
	// exactly (overlap or a hole disguised by duplicate totals) — keep
	// waiting, the reaper will eventually drop it if nothing else arrives.
	return nil, false
}

func assemble(buf *fragmentBuffer) ([]byte, bool) {
	out := make([]byte, buf.total)
	var covered uint32
	for offset, chunk := range buf.chunks {
		end := offset + uint32(len(chunk))
		if offset > buf.total || end > buf.total {
			return nil, false
		}
		copy(out[offset:end], chunk)
		covered += uint32(len(chunk))
	}
	return out, covered == buf.total
}

// Reap drops any buffer whose first-fragment timestamp has aged past
// FragmentTimeout as of now.
func (r *Reassembler) Reap(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, buf := range r.buffers {
		if now.Sub(buf.firstSeen) > FragmentTimeout {
			delete(r.buffers, key)
		}
	}
}

// Count reports the number of live reassembly buffers (ambient metric).
func (r *Reassembler) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.buffers)
}

// Fragment splits an oversized outbound payload into FRAGMENT frames:
// MaxFragmentBody octets per chunk, sharing one base sequence drawn
// from the reliability engine.
func Fragment(baseSeq uint32, payload []byte) []FragmentPayload {
	total := uint32(len(payload))
	var out []FragmentPayload
	for offset := uint32(0); offset < total; offset += MaxFragmentBody {
		end := offset + MaxFragmentBody
		if end > total {
			end = total
		}
		out = append(out, FragmentPayload{
			Base:   baseSeq,
			Total:  total,
			Offset: offset,
			Chunk:  payload[offset:end],
		})
	}
	return out
}
