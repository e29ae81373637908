// File: internal/pmd/fakepmd/fakepmd.go
// Package fakepmd is a deterministic, in-memory pmd.Backend used by
// tests and by cmd/echoserver when no --iface is given. It records
// queue assignments so
// tests can verify flow-affinity directly, the way fake.Transport
// records sent/received buffers for assertions elsewhere in this repo.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Grounded on fake/transport.go: a mutex-guarded fake implementation
// exposing Set*Error/Add*Data/Get*Data test hooks instead of talking to
// real hardware.

package fakepmd

import (
	"sync"

	"github.com/momentics/kbecho/internal/mbuf"
	"github.com/momentics/kbecho/internal/pmd"
)

// Backend is a fake pmd.Backend + pmd.FlowSteerer backed by per-queue
// slices instead of NIC rings.
type Backend struct {
	mu       sync.Mutex
	nRx, nTx int
	rxQueues [][]pmd.RxPacket
	txQueues [][]*mbuf.Mbuf
	rules    []pmd.FlowRule
	closed   bool
}

// New constructs an uninitialized fake backend.
func New() *Backend {
	return &Backend{}
}

func (b *Backend) Init(nRxQueues, nTxQueues int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nRx, b.nTx = nRxQueues, nTxQueues
	b.rxQueues = make([][]pmd.RxPacket, nRxQueues)
	b.txQueues = make([][]*mbuf.Mbuf, nTxQueues)
	return nil
}

// InjectRx delivers a packet as if it had arrived via DMA on queueIdx,
// regardless of any installed flow rules. InjectRxBySrcPort is the
// variant that routes by TCP source port, mirroring hardware flow
// steering.
func (b *Backend) InjectRx(queueIdx int, m *mbuf.Mbuf) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if queueIdx < 0 || queueIdx >= len(b.rxQueues) {
		return
	}
	b.rxQueues[queueIdx] = append(b.rxQueues[queueIdx], pmd.RxPacket{Mbuf: m, QueueIdx: queueIdx})
}

// InjectRxBySrcPort routes m through the installed flow rules by
// srcPort, falling back to queue 0 if no rule matches.
func (b *Backend) InjectRxBySrcPort(srcPort uint16, m *mbuf.Mbuf) int {
	b.mu.Lock()
	q := 0
	for _, r := range b.rules {
		if r.SrcPort == srcPort {
			q = r.QueueIdx
			break
		}
	}
	b.mu.Unlock()
	b.InjectRx(q, m)
	return q
}

func (b *Backend) RxBurst(queueIdx int, maxPackets int) ([]pmd.RxPacket, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if queueIdx < 0 || queueIdx >= len(b.rxQueues) {
		return nil, nil
	}
	q := b.rxQueues[queueIdx]
	if len(q) > maxPackets {
		out := append([]pmd.RxPacket(nil), q[:maxPackets]...)
		b.rxQueues[queueIdx] = q[maxPackets:]
		return out, nil
	}
	out := append([]pmd.RxPacket(nil), q...)
	b.rxQueues[queueIdx] = q[:0]
	return out, nil
}

func (b *Backend) TxBurst(queueIdx int, pkts []*mbuf.Mbuf) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if queueIdx < 0 || queueIdx >= len(b.txQueues) {
		return nil
	}
	b.txQueues[queueIdx] = append(b.txQueues[queueIdx], pkts...)
	return nil
}

// SentOn returns (and clears) everything transmitted on queueIdx, for
// test assertions.
func (b *Backend) SentOn(queueIdx int) []*mbuf.Mbuf {
	b.mu.Lock()
	defer b.mu.Unlock()
	if queueIdx < 0 || queueIdx >= len(b.txQueues) {
		return nil
	}
	out := b.txQueues[queueIdx]
	b.txQueues[queueIdx] = nil
	return out
}

func (b *Backend) InstallFlowRules(rules []pmd.FlowRule) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rules = append([]pmd.FlowRule(nil), rules...)
	return nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
