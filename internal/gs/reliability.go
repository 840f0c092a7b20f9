package gs

import "time"

// Retransmit schedule constants.
const (
	retransmitFloor   = 50 * time.Millisecond
	retransmitCeiling = 1 * time.Second
	retransmitMaxBack = 5 * time.Second
	maxAttempts       = 10
)

// seqGreater reports whether a is strictly ahead of b in the wrapping
// 32-bit sequence space, using the standard signed-difference trick for
// comparing wrapping sequence counters.
func seqGreater(a, b uint32) bool {
	return int32(a-b) > 0
}

// recvTracker is the receive-side bookkeeping behind ackbase/ackbits.
// ackbase tracks the highest sequence number received so far (not
// necessarily contiguous — see DESIGN.md for the reasoning): the window
// [ackbase-7, ackbase] is kept in a 32-bit shifting mask, bit d set
// meaning "ackbase-d was received".
type recvTracker struct {
	has     bool
	ackbase uint32
	mask    uint32 // bit d (0..31) set => ackbase-d received
}

func (t *recvTracker) Record(seq uint32) {
	if !t.has {
		t.has = true
		t.ackbase = seq
		t.mask = 1
		return
	}

	if seqGreater(seq, t.ackbase) {
		shift := seq - t.ackbase
		if shift >= 32 {
			t.mask = 0
		} else {
			t.mask <<= shift
		}
		t.mask |= 1
		t.ackbase = seq
		return
	}

	d := t.ackbase - seq
	if d < 32 {
		t.mask |= 1 << d
	}
}

// AckBits returns the 8-bit SACK window for the 8 sequence numbers
// [ackbase-7, ackbase], bit i (LSB..) corresponding to seq ackbase-7+i.
func (t *recvTracker) AckBits() uint8 {
	var bits uint8
	for i := 0; i < 8; i++ {
		d := 7 - i
		if d < 32 && t.mask&(1<<uint(d)) != 0 {
			bits |= 1 << uint(i)
		}
	}
	return bits
}

// outstandingSend is an unacknowledged reliable datagram awaiting
// retransmission.
type outstandingSend struct {
	Seq      uint32
	Channel  Channel
	Data     []byte
	sentAt   time.Time
	attempts int
	timeout  time.Duration
}

// RTTStats holds the running RTT statistics tracked per client session.
type RTTStats struct {
	Min, Max, Avg time.Duration
	Samples       int
}

func (r *RTTStats) Update(sample time.Duration) {
	if r.Samples == 0 {
		r.Min, r.Max, r.Avg = sample, sample, sample
		r.Samples = 1
		return
	}
	if sample < r.Min {
		r.Min = sample
	}
	if sample > r.Max {
		r.Max = sample
	}
	r.Avg = r.Avg + (sample-r.Avg)/time.Duration(r.Samples+1)
	r.Samples++
}

// retransmitTimeout computes the base timeout for the next send attempt,
// 2xRTT clamped to [floor, ceiling], backing off exponentially per
// attempt up to retransmitMaxBack.
func retransmitTimeout(rtt RTTStats, attempt int) time.Duration {
	base := 2 * rtt.Avg
	if base < retransmitFloor {
		base = retransmitFloor
	}
	if base > retransmitCeiling {
		base = retransmitCeiling
	}
	for i := 0; i < attempt; i++ {
		base *= 2
		if base > retransmitMaxBack {
			base = retransmitMaxBack
			break
		}
	}
	return base
}

// Reliability is the per-peer state for C7: the outbound sequence
// counter, the receive-side ack tracker, per-channel ordering state, and
// the set of reliable sends awaiting acknowledgment.
type Reliability struct {
	sendSeq uint32
	recv    recvTracker

	uoHasLast bool
	uoLast    uint32

	ruSeen map[uint32]struct{}

	roNext     uint32
	roHasNext  bool
	roBuffer   map[uint32][]byte

	outstanding map[uint32]*outstandingSend

	RTT RTTStats
}

func NewReliability() *Reliability {
	return &Reliability{
		ruSeen:      make(map[uint32]struct{}),
		roBuffer:    make(map[uint32][]byte),
		outstanding: make(map[uint32]*outstandingSend),
	}
}

// NextSeq returns the next outbound sequence number and advances the
// counter (wrapping 32-bit arithmetic).
func (r *Reliability) NextSeq() uint32 {
	s := r.sendSeq
	r.sendSeq++
	return s
}

// AckBaseAndBits returns the current outbound ackbase/ackbits fields.
func (r *Reliability) AckBaseAndBits() (uint32, uint8) {
	return r.recv.ackbase, r.recv.AckBits()
}

// RecordReceived updates the receive-side ack tracker for an incoming
// sequence number, regardless of channel: there is one sequence counter
// per peer across all channels.
func (r *Reliability) RecordReceived(seq uint32) {
	r.recv.Record(seq)
}

// Deliver applies channel semantics to an incoming (seq, body), returning
// zero or more payloads to hand to the command dispatcher in delivery
// order (RO may flush several buffered fragments at once when a gap
// fills; UU/UO/RU always return at most one).
func (r *Reliability) Deliver(ch Channel, seq uint32, body []byte) [][]byte {
	switch ch {
	case ChannelUU:
		return [][]byte{body}

	case ChannelUO:
		if r.uoHasLast && !seqGreater(seq, r.uoLast) {
			return nil
		}
		r.uoHasLast = true
		r.uoLast = seq
		return [][]byte{body}

	case ChannelRU:
		if _, dup := r.ruSeen[seq]; dup {
			return nil
		}
		r.ruSeen[seq] = struct{}{}
		if len(r.ruSeen) > 4096 {
			// Cheap bound: spec doesn't size this table; drop is safe
			// since re-delivery of a very old dup is harmless at worst.
			r.ruSeen = make(map[uint32]struct{})
		}
		return [][]byte{body}

	case ChannelRO:
		return r.deliverRO(seq, body)

	default:
		return nil
	}
}

func (r *Reliability) deliverRO(seq uint32, body []byte) [][]byte {
	if !r.roHasNext {
		r.roHasNext = true
		r.roNext = seq
	}

	if seqGreater(r.roNext, seq) {
		return nil // stale duplicate, already delivered
	}
	if seq != r.roNext {
		if _, buffered := r.roBuffer[seq]; !buffered {
			r.roBuffer[seq] = body
		}
		return nil
	}

	out := [][]byte{body}
	r.roNext++
	for {
		next, ok := r.roBuffer[r.roNext]
		if !ok {
			break
		}
		out = append(out, next)
		delete(r.roBuffer, r.roNext)
		r.roNext++
	}
	return out
}

// Send registers data as sent on ch with sequence seq. For RU/RO it is
// tracked for retransmission until Ack'd or it exceeds maxAttempts.
func (r *Reliability) Send(ch Channel, seq uint32, data []byte, now time.Time) {
	if !ch.Reliable() {
		return
	}
	r.outstanding[seq] = &outstandingSend{
		Seq:     seq,
		Channel: ch,
		Data:    data,
		sentAt:  now,
		timeout: retransmitTimeout(r.RTT, 0),
	}
}

// Ack clears seq from the outstanding set and, when it was the packet's
// first send, folds the elapsed time into the RTT stats.
func (r *Reliability) Ack(seq uint32, now time.Time) {
	o, ok := r.outstanding[seq]
	if !ok {
		return
	}
	if o.attempts == 0 {
		r.RTT.Update(now.Sub(o.sentAt))
	}
	delete(r.outstanding, seq)
}

// DueRetransmits returns the outstanding sends whose timeout has elapsed,
// bumping their attempt counter and rescheduling with exponential
// backoff. gaveUp lists sequences that exceeded maxAttempts; the caller
// must close the session for each.
func (r *Reliability) DueRetransmits(now time.Time) (due []*outstandingSend, gaveUp []uint32) {
	for seq, o := range r.outstanding {
		if now.Sub(o.sentAt) < o.timeout {
			continue
		}
		o.attempts++
		if o.attempts >= maxAttempts {
			gaveUp = append(gaveUp, seq)
			delete(r.outstanding, seq)
			continue
		}
		o.sentAt = now
		o.timeout = retransmitTimeout(r.RTT, o.attempts)
		due = append(due, o)
	}
	return due, gaveUp
}

// HasOutstanding reports whether any reliable send is still awaiting
// acknowledgment. Acks travel only in the ackbase/ackbits fields of
// outbound datagrams; no standalone ACK frame is emitted.
func (r *Reliability) HasOutstanding() bool {
	return len(r.outstanding) > 0
}
