package tcpstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestControlBlock_EmitSegmentsBoundedByWindow(t *testing.T) {
	cb := newEstablished(t)
	cb.SndWND = 10
	require.NoError(t, cb.Send([]byte("0123456789ABCDEF"))) // 16 bytes, MSS 1460
	now := time.Now()
	segs := cb.EmitSegments(now)
	require.Len(t, segs, 1)
	require.Equal(t, 10, len(segs[0].Payload))
	require.Equal(t, uint32(10), uint32(cb.SndNXT.Sub(cb.SndUNA)))
}

func TestControlBlock_AckAdvancesSndUnaAndReleasesSegments(t *testing.T) {
	cb := newEstablished(t)
	require.NoError(t, cb.Send([]byte("hello world")))
	now := time.Now()
	segs := cb.EmitSegments(now)
	require.Len(t, segs, 1)
	require.Equal(t, 11, cb.UnackedLen())

	err := cb.handleAck(uint32(cb.SndNXT), now.Add(5*time.Millisecond))
	require.NoError(t, err)
	require.Equal(t, cb.SndNXT, cb.SndUNA)
	require.Empty(t, cb.Unacked)
}

func TestControlBlock_DuplicateAckIsNoOp(t *testing.T) {
	cb := newEstablished(t)
	require.NoError(t, cb.Send([]byte("data")))
	now := time.Now()
	cb.EmitSegments(now)
	oldUNA := cb.SndUNA
	err := cb.handleAck(uint32(cb.SndUNA), now) // ack == old SND.UNA: not in (UNA, NXT]
	require.NoError(t, err)
	require.Equal(t, oldUNA, cb.SndUNA)
}

func TestControlBlock_RetransmitTimerDoublesRTOAndResends(t *testing.T) {
	cb := newEstablished(t)
	require.NoError(t, cb.Send([]byte("payload")))
	now := time.Now()
	cb.EmitSegments(now)
	initialRTO := cb.RTO.RTO

	seg, err := cb.RetransmitTimerFired(now.Add(time.Second))
	require.NoError(t, err)
	require.NotNil(t, seg)
	require.Equal(t, "payload", string(seg.Payload))
	require.Equal(t, 1, cb.RetryCount)
	require.True(t, cb.RTO.RTO > initialRTO)
}

func TestControlBlock_RetransmitLimitClosesConnection(t *testing.T) {
	cb := newEstablished(t)
	require.NoError(t, cb.Send([]byte("x")))
	now := time.Now()
	cb.EmitSegments(now)

	var err error
	for i := 0; i < maxRetries+1; i++ {
		_, err = cb.RetransmitTimerFired(now)
	}
	require.ErrorIs(t, err, ErrRetransmitLimit)
	require.Equal(t, StateClosed, cb.State)
}

func TestControlBlock_PartialAckTrimsLeadingSegment(t *testing.T) {
	cb := newEstablished(t)
	cb.SndWND = 10
	require.NoError(t, cb.Send([]byte("0123456789ABCDEF"))) // 16 bytes, MSS 1460
	now := time.Now()
	segs := cb.EmitSegments(now)
	require.Len(t, segs, 1)
	require.Equal(t, 10, len(segs[0].Payload))

	una := cb.SndUNA
	err := cb.handleAck(uint32(una.Add(5)), now.Add(time.Millisecond))
	require.NoError(t, err)

	require.Equal(t, una.Add(5), cb.SndUNA)
	require.Len(t, cb.Unacked, 1)
	require.Equal(t, "56789", string(cb.Unacked[0].Data))
	require.Equal(t, una.Add(5), cb.Unacked[0].Seq)
	require.Equal(t, uint32(cb.UnackedLen()), uint32(cb.SndNXT.Sub(cb.SndUNA)))
}

func TestControlBlock_AckAcrossMultipleSegmentsReleasesAndTrims(t *testing.T) {
	cb := newEstablished(t)
	cb.MSS = 4
	cb.SndWND = 65535
	require.NoError(t, cb.Send([]byte("0123456789ABCDEF"))) // 16 bytes -> four 4-byte segments
	now := time.Now()
	segs := cb.EmitSegments(now)
	require.Len(t, segs, 4)
	require.Len(t, cb.Unacked, 4)

	una := cb.SndUNA
	// Covers the whole first segment (4 bytes) plus 2 bytes of the second.
	err := cb.handleAck(uint32(una.Add(6)), now.Add(time.Millisecond))
	require.NoError(t, err)

	require.Equal(t, una.Add(6), cb.SndUNA)
	require.Len(t, cb.Unacked, 3)
	require.Equal(t, "67", string(cb.Unacked[0].Data))
	require.Equal(t, una.Add(6), cb.Unacked[0].Seq)
	require.Equal(t, "89AB", string(cb.Unacked[1].Data))
	require.Equal(t, "CDEF", string(cb.Unacked[2].Data))
	require.Equal(t, uint32(cb.UnackedLen()), uint32(cb.SndNXT.Sub(cb.SndUNA)))
}

func TestUnackedLen_MatchesSndNxtMinusSndUna(t *testing.T) {
	cb := newEstablished(t)
	require.NoError(t, cb.Send([]byte("abcdefgh")))
	cb.EmitSegments(time.Now())
	require.Equal(t, uint32(cb.UnackedLen()), uint32(cb.SndNXT.Sub(cb.SndUNA)))
}
