// File: internal/dispatch/dispatcher_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package dispatch

import (
	"net/netip"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/momentics/kbecho/internal/headers"
	"github.com/momentics/kbecho/internal/mbuf"
	"github.com/momentics/kbecho/internal/metrics"
	"github.com/momentics/kbecho/internal/pmd/fakepmd"
	"github.com/momentics/kbecho/internal/ring"
	"github.com/momentics/kbecho/internal/tcpstate"
	"github.com/momentics/kbecho/internal/wire"
)

const (
	serverPort uint16 = 80
	clientPort uint16 = 1 // worker (1-1)%2 == 0
)

var (
	serverMAC = headers.MAC{0xAA, 0, 0, 0, 0, 1}
	serverIP  = headers.IPv4Addr{10, 0, 0, 1}
	clientMAC = headers.MAC{0xAA, 0, 0, 0, 0, 2}
	clientIP  = headers.IPv4Addr{10, 0, 0, 2}
)

func newTestDispatcher(t *testing.T, nWorkers int) (*Dispatcher, *fakepmd.Backend, []*ring.SPSCRing[WorkItem]) {
	t.Helper()
	backend := fakepmd.New()
	require.NoError(t, backend.Init(nWorkers, nWorkers))

	rings := make([]*ring.SPSCRing[WorkItem], nWorkers)
	idle := make([]*IdleFlag, nWorkers)
	closed := make([]*ring.SPSCRing[netip.AddrPort], nWorkers)
	for i := range rings {
		rings[i] = ring.New[WorkItem](8)
		idle[i] = &IdleFlag{}
		closed[i] = ring.New[netip.AddrPort](8)
	}

	pool := mbuf.NewManager(128, 1500, 16)
	reg := metrics.NewRegistry(prometheus.NewRegistry())

	cfg := Config{
		Identity:       Identity{MAC: serverMAC, IP: serverIP},
		ListenPort:     serverPort,
		MaxBacklog:     16,
		NWorkers:       nWorkers,
		QueueWorkDepth: 16,
		ReceiveBatch:   32,
		Passive: tcpstate.PassiveConfig{
			WindowScale:   0,
			ReceiveWindow: 65535,
			AckDelay:      40 * time.Millisecond,
		},
		ISNNonce: 42,
	}
	d := New(cfg, backend, pool, rings, idle, closed, reg, nil)
	require.NoError(t, d.InstallFlowSteering())
	return d, backend, rings
}

func injectFromClient(t *testing.T, backend *fakepmd.Backend, pool *mbuf.Manager, tcpHdr headers.TCP) {
	t.Helper()
	id := wire.Identity{LocalMAC: clientMAC, RemoteMAC: serverMAC, LocalIP: clientIP, RemoteIP: serverIP}
	m, err := wire.Build(pool.PoolFor(-1), id, tcpHdr, headers.SerializeOpts{}, nil, false)
	require.NoError(t, err)
	backend.InjectRxBySrcPort(tcpHdr.SrcPort, m)
}

func TestHandshake_CompletesAndAdmitsToFlowSteeredWorker(t *testing.T) {
	d, backend, rings := newTestDispatcher(t, 2)
	pool := d.pool
	now := time.Now()

	synSeq := uint32(1000)
	injectFromClient(t, backend, pool, headers.TCP{
		SrcPort: clientPort, DstPort: serverPort,
		SeqNum: synSeq, Flags: headers.FlagSYN, Window: 65535,
	})
	_, err := d.PollOnce(now)
	require.NoError(t, err)

	sent := backend.SentOn(0)
	require.Len(t, sent, 1)
	parsed, err := wire.Parse(sent[0].Data(), true)
	require.NoError(t, err)
	require.True(t, parsed.TCP.HasFlag(headers.FlagSYN))
	require.True(t, parsed.TCP.HasFlag(headers.FlagACK))
	require.Equal(t, synSeq+1, parsed.TCP.AckNum)

	injectFromClient(t, backend, pool, headers.TCP{
		SrcPort: clientPort, DstPort: serverPort,
		SeqNum: synSeq + 1, AckNum: parsed.TCP.SeqNum + 1, Flags: headers.FlagACK, Window: 65535,
	})
	_, err = d.PollOnce(now)
	require.NoError(t, err)

	item, ok := rings[0].TryDequeue()
	require.True(t, ok)
	require.NotNil(t, item.NewFlow)
	require.Equal(t, clientPort, item.Remote.Port())

	remote := netip.AddrPortFrom(netip.AddrFrom4(clientIP), clientPort)
	workerIdx, ok := d.flowDir.Lookup(remote)
	require.True(t, ok)
	require.Equal(t, 0, workerIdx)
}

func TestHandOff_RoutesEstablishedSegmentToOwningRing(t *testing.T) {
	d, backend, rings := newTestDispatcher(t, 2)
	remote := netip.AddrPortFrom(netip.AddrFrom4(clientIP), clientPort)
	d.flowDir.Insert(remote, 0)

	injectFromClient(t, backend, d.pool, headers.TCP{
		SrcPort: clientPort, DstPort: serverPort,
		SeqNum: 5000, AckNum: 1, Flags: headers.FlagACK | headers.FlagPSH, Window: 65535,
	})
	_, err := d.PollOnce(time.Now())
	require.NoError(t, err)

	item, ok := rings[0].TryDequeue()
	require.True(t, ok)
	require.Nil(t, item.NewFlow)
	require.Equal(t, remote, item.Remote)
}

func TestHandOff_FallsBackToOverflowWhenRingFull(t *testing.T) {
	d, backend, rings := newTestDispatcher(t, 2)
	remote := netip.AddrPortFrom(netip.AddrFrom4(clientIP), clientPort)
	d.flowDir.Insert(remote, 0)

	for i := 0; i < rings[0].Cap(); i++ {
		require.True(t, rings[0].TryEnqueue(WorkItem{Remote: remote}))
	}

	injectFromClient(t, backend, d.pool, headers.TCP{
		SrcPort: clientPort, DstPort: serverPort,
		SeqNum: 5000, AckNum: 1, Flags: headers.FlagACK, Window: 65535,
	})
	_, err := d.PollOnce(time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, d.overflow.Len())
}

func TestDrainClosedFlows_RemovesFlowDirectoryEntry(t *testing.T) {
	d, _, _ := newTestDispatcher(t, 2)
	remote := netip.AddrPortFrom(netip.AddrFrom4(clientIP), clientPort)
	d.flowDir.Insert(remote, 0)

	require.True(t, d.closed[0].TryEnqueue(remote))
	did, err := d.PollOnce(time.Now())
	require.NoError(t, err)
	require.True(t, did)

	_, ok := d.flowDir.Lookup(remote)
	require.False(t, ok)
}
