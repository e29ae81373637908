package tcpstate

import (
	"testing"
	"time"

	"github.com/momentics/kbecho/internal/headers"
	"github.com/stretchr/testify/require"
)

func newEstablished(t *testing.T) *ControlBlock {
	t.Helper()
	local := mustAddrPort("10.0.0.1:9000")
	remote := mustAddrPort("10.0.0.2:5555")
	return New(local, remote, headers.MAC{}, headers.MAC{},
		100, 65535, 0,
		1, 65535, 0,
		1460, 10*time.Millisecond)
}

func TestControlBlock_InOrderReceiveAdvancesRcvNxt(t *testing.T) {
	cb := newEstablished(t)
	h := headers.TCP{SeqNum: 100, Flags: headers.FlagACK, AckNum: 1}
	res, err := cb.Receive(h, []byte("hello"), time.Now())
	require.NoError(t, err)
	require.True(t, res.DataReady)
	require.Equal(t, headers.SeqNum(105), cb.RcvNXT)
	require.Equal(t, "hello", string(cb.Pop(100)))
}

func TestControlBlock_OutOfOrderThenGapFillDrains(t *testing.T) {
	cb := newEstablished(t)
	now := time.Now()

	// Segment at seq 105 arrives before the segment at seq 100: held
	// in the out-of-order queue.
	h2 := headers.TCP{SeqNum: 105, Flags: headers.FlagACK, AckNum: 1}
	res, err := cb.Receive(h2, []byte("world"), now)
	require.NoError(t, err)
	require.True(t, res.ImmediateACK)
	require.Len(t, cb.OutOfOrder, 1)
	require.Equal(t, headers.SeqNum(100), cb.RcvNXT)

	// Gap-filling segment arrives: drains the out-of-order entry too.
	h1 := headers.TCP{SeqNum: 100, Flags: headers.FlagACK, AckNum: 1}
	res, err = cb.Receive(h1, []byte("hello"), now)
	require.NoError(t, err)
	require.True(t, res.DataReady)
	require.Equal(t, headers.SeqNum(110), cb.RcvNXT)
	require.Empty(t, cb.OutOfOrder)
	require.Equal(t, "helloworld", string(cb.Pop(100)))
}

func TestControlBlock_OutOfOrderOverlapIsTrimmed(t *testing.T) {
	cb := newEstablished(t)
	now := time.Now()

	h1 := headers.TCP{SeqNum: 110, Flags: headers.FlagACK}
	_, err := cb.Receive(h1, []byte("BBBBB"), now) // [110,115)
	require.NoError(t, err)

	h2 := headers.TCP{SeqNum: 108, Flags: headers.FlagACK}
	_, err = cb.Receive(h2, []byte("AAAAAAA"), now) // [108,115), overlaps [110,115)
	require.NoError(t, err)

	require.Len(t, cb.OutOfOrder, 1)
	// The new segment [108,115) fully covers the existing [110,115)
	// entry, so it replaces it outright — the queue stays
	// pairwise-disjoint with one 7-byte entry rather than two
	// overlapping ones.
	total := 0
	for _, seg := range cb.OutOfOrder {
		total += len(seg.Data)
	}
	require.Equal(t, 7, total)
}

func TestControlBlock_SegmentOutsideWindowDropped(t *testing.T) {
	cb := newEstablished(t)
	cb.RcvWND = 10
	h := headers.TCP{SeqNum: 5000, Flags: headers.FlagACK}
	_, err := cb.Receive(h, []byte("x"), time.Now())
	require.ErrorIs(t, err, ErrOutsideWindow)
}
