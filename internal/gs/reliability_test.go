package gs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAckBits_S4Fixture reproduces a mixed in-order/out-of-order arrival:
// received {998,999,1000,1001,1003,1004} (1002 missing), highest received
// 1005, expected ackbits 0b11101111 (0xEF). See DESIGN.md "Resolved
// ambiguities" for why ackbase tracks the highest sequence received
// overall rather than the highest contiguous one.
func TestAckBits_S4Fixture(t *testing.T) {
	r := NewReliability()
	for _, seq := range []uint32{998, 999, 1000, 1001, 1003, 1004, 1005} {
		r.RecordReceived(seq)
	}

	ackbase, ackbits := r.AckBaseAndBits()
	assert.Equal(t, uint32(1005), ackbase)
	assert.Equal(t, uint8(0b11101111), ackbits)
}

func TestAckBits_OutOfOrderArrival(t *testing.T) {
	r := NewReliability()
	for _, seq := range []uint32{1005, 1004, 1003, 1001, 1000, 999, 998} {
		r.RecordReceived(seq)
	}
	ackbase, ackbits := r.AckBaseAndBits()
	assert.Equal(t, uint32(1005), ackbase)
	assert.Equal(t, uint8(0b11101111), ackbits)
}

func TestDeliver_UUAlwaysDelivers(t *testing.T) {
	r := NewReliability()
	out := r.Deliver(ChannelUU, 5, []byte("a"))
	assert.Equal(t, [][]byte{[]byte("a")}, out)
	out = r.Deliver(ChannelUU, 1, []byte("b")) // lower seq, still delivered
	assert.Equal(t, [][]byte{[]byte("b")}, out)
}

func TestDeliver_UODropsNonIncreasing(t *testing.T) {
	r := NewReliability()
	assert.NotEmpty(t, r.Deliver(ChannelUO, 5, []byte("a")))
	assert.Empty(t, r.Deliver(ChannelUO, 5, []byte("dup")))
	assert.Empty(t, r.Deliver(ChannelUO, 3, []byte("stale")))
	assert.NotEmpty(t, r.Deliver(ChannelUO, 6, []byte("next")))
}

func TestDeliver_RUDedupesOnArrival(t *testing.T) {
	r := NewReliability()
	assert.NotEmpty(t, r.Deliver(ChannelRU, 9, []byte("a")))
	assert.Empty(t, r.Deliver(ChannelRU, 9, []byte("a-dup")))
	assert.NotEmpty(t, r.Deliver(ChannelRU, 9000, []byte("b")))
}

func TestDeliver_ROBuffersAndDrainsOnGapFill(t *testing.T) {
	r := NewReliability()

	assert.Empty(t, r.Deliver(ChannelRO, 2, []byte("two")))  // gap: waiting for 1 first
	assert.Empty(t, r.Deliver(ChannelRO, 3, []byte("three"))) // still gapped

	out := r.Deliver(ChannelRO, 1, []byte("one"))
	require.Len(t, out, 3)
	assert.Equal(t, []byte("one"), out[0])
	assert.Equal(t, []byte("two"), out[1])
	assert.Equal(t, []byte("three"), out[2])

	// a stale duplicate after the gap filled is dropped
	assert.Empty(t, r.Deliver(ChannelRO, 2, []byte("stale-dup")))
}

func TestRetransmit_BackoffAndGiveUp(t *testing.T) {
	r := NewReliability()
	now := time.Unix(0, 0)

	r.Send(ChannelRU, 1, []byte("payload"), now)
	assert.True(t, r.HasOutstanding())

	// Not due yet.
	due, gaveUp := r.DueRetransmits(now.Add(10 * time.Millisecond))
	assert.Empty(t, due)
	assert.Empty(t, gaveUp)

	elapsed := now
	for attempt := 0; attempt < maxAttempts-1; attempt++ {
		// Each step outlasts the retransmitMaxBack (5 s) backoff cap.
		elapsed = elapsed.Add(6 * time.Second)
		due, gaveUp = r.DueRetransmits(elapsed)
		require.Len(t, due, 1)
		assert.Empty(t, gaveUp)
	}

	elapsed = elapsed.Add(6 * time.Second)
	due, gaveUp = r.DueRetransmits(elapsed)
	assert.Empty(t, due)
	require.Len(t, gaveUp, 1)
	assert.Equal(t, uint32(1), gaveUp[0])
	assert.False(t, r.HasOutstanding())
}

func TestAck_ClearsOutstandingAndUpdatesRTT(t *testing.T) {
	r := NewReliability()
	now := time.Unix(0, 0)
	r.Send(ChannelRO, 1, []byte("payload"), now)

	r.Ack(1, now.Add(30*time.Millisecond))
	assert.False(t, r.HasOutstanding())
	assert.Equal(t, 1, r.RTT.Samples)
}
