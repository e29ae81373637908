// File: internal/worker/worker_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package worker

import (
	"encoding/binary"
	"net/netip"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/momentics/kbecho/internal/dispatch"
	"github.com/momentics/kbecho/internal/fakework"
	"github.com/momentics/kbecho/internal/headers"
	"github.com/momentics/kbecho/internal/mbuf"
	"github.com/momentics/kbecho/internal/metrics"
	"github.com/momentics/kbecho/internal/pmd/fakepmd"
	"github.com/momentics/kbecho/internal/ring"
	"github.com/momentics/kbecho/internal/tcpstate"
	"github.com/momentics/kbecho/internal/wire"
)

var (
	testLocalMAC  = headers.MAC{1, 2, 3, 4, 5, 6}
	testRemoteMAC = headers.MAC{6, 5, 4, 3, 2, 1}
	testLocalIP   = headers.IPv4Addr{10, 0, 0, 1}
	testRemoteIP  = headers.IPv4Addr{10, 0, 0, 2}
)

func newTestWorker(t *testing.T) (*Worker, *fakepmd.Backend) {
	t.Helper()
	backend := fakepmd.New()
	require.NoError(t, backend.Init(1, 1))
	inbound := ring.New[dispatch.WorkItem](8)
	idle := &dispatch.IdleFlag{}
	closed := ring.New[netip.AddrPort](8)
	pool := mbuf.NewManager(64, 1500, 16)
	reg := metrics.NewRegistry(prometheus.NewRegistry())
	spec, err := fakework.Parse("multiplication")
	require.NoError(t, err)
	cfg := Config{ID: 0, NUMANode: -1, FakeWork: spec}
	w := New(cfg, inbound, idle, closed, backend, pool, reg, nil)
	return w, backend
}

func newTestCB(local, remote netip.AddrPort) *tcpstate.ControlBlock {
	return tcpstate.New(local, remote, testLocalMAC, testRemoteMAC,
		100, 65535, 0, 200, 65535, 0, 1460, 40*time.Millisecond)
}

func TestAdmit_InsertsFlowAndSchedulesTask(t *testing.T) {
	w, _ := newTestWorker(t)
	local := netip.AddrPortFrom(netip.AddrFrom4(testLocalIP), 80)
	remote := netip.AddrPortFrom(netip.AddrFrom4(testRemoteIP), 1234)
	cb := newTestCB(local, remote)

	require.True(t, w.inbound.TryEnqueue(dispatch.WorkItem{NewFlow: cb, Remote: remote}))

	_, err := w.RunOnce(time.Now())
	require.NoError(t, err)

	h, ok := w.byRemote[remote]
	require.True(t, ok)
	require.Same(t, cb, w.slab.Get(h))
	require.Equal(t, 1, w.sched.Len())
}

func TestHandleSegment_EchoesDataAndRunsFakeWork(t *testing.T) {
	w, backend := newTestWorker(t)
	local := netip.AddrPortFrom(netip.AddrFrom4(testLocalIP), 80)
	remote := netip.AddrPortFrom(netip.AddrFrom4(testRemoteIP), 1234)
	cb := newTestCB(local, remote)
	require.True(t, w.inbound.TryEnqueue(dispatch.WorkItem{NewFlow: cb, Remote: remote}))

	payload := make([]byte, 48)
	for i := range payload[:32] {
		payload[i] = byte(i)
	}
	binary.LittleEndian.PutUint64(payload[32:40], 1000)
	binary.LittleEndian.PutUint64(payload[40:48], 7)

	hdr := headers.TCP{
		SrcPort: remote.Port(), DstPort: local.Port(),
		SeqNum: 100, AckNum: 200, Flags: headers.FlagACK, Window: 65535,
	}
	m := mbuf.NewManager(64, 64, 16).PoolFor(0).FromNIC(append([]byte(nil), payload...))
	require.True(t, w.inbound.TryEnqueue(dispatch.WorkItem{Remote: remote, Header: hdr, Payload: payload, Mbuf: m}))

	_, err := w.RunOnce(time.Now())
	require.NoError(t, err)

	sent := backend.SentOn(0)
	require.Len(t, sent, 1)
	parsed, err := wire.Parse(sent[0].Data(), true)
	require.NoError(t, err)
	require.Equal(t, payload, parsed.Payload)
}

func TestHandleSegment_UnknownFlowErrors(t *testing.T) {
	w, _ := newTestWorker(t)
	remote := netip.AddrPortFrom(netip.AddrFrom4(testRemoteIP), 1234)
	m := mbuf.NewManager(64, 64, 16).PoolFor(0).FromNIC(make([]byte, 8))
	err := w.handleSegment(dispatch.WorkItem{Remote: remote, Mbuf: m}, time.Now())
	require.Error(t, err)
}

func TestCloseHandshake_SendsFinAfterPeerFin(t *testing.T) {
	w, backend := newTestWorker(t)
	local := netip.AddrPortFrom(netip.AddrFrom4(testLocalIP), 80)
	remote := netip.AddrPortFrom(netip.AddrFrom4(testRemoteIP), 1234)
	cb := newTestCB(local, remote)
	require.True(t, w.inbound.TryEnqueue(dispatch.WorkItem{NewFlow: cb, Remote: remote}))

	hdr := headers.TCP{
		SrcPort: remote.Port(), DstPort: local.Port(),
		SeqNum: 100, AckNum: 200, Flags: headers.FlagFIN | headers.FlagACK, Window: 65535,
	}
	m := mbuf.NewManager(64, 64, 16).PoolFor(0).FromNIC(nil)
	require.True(t, w.inbound.TryEnqueue(dispatch.WorkItem{Remote: remote, Header: hdr, Mbuf: m}))

	_, err := w.RunOnce(time.Now())
	require.NoError(t, err)
	require.Equal(t, tcpstate.StateLastAck, cb.State)

	sent := backend.SentOn(0)
	require.Len(t, sent, 1)
	parsed, err := wire.Parse(sent[0].Data(), true)
	require.NoError(t, err)
	require.True(t, parsed.TCP.HasFlag(headers.FlagFIN))
}
