//go:build linux

// File: internal/pmd/afpacket/afpacket.go
// Package afpacket implements pmd.Backend on top of Linux AF_PACKET
// raw sockets: one SOCK_RAW socket per RX/TX queue, each bound to the
// same interface, with a classic BPF filter installed per socket via
// SO_ATTACH_FILTER that acts as a software analogue of hardware flow
// steering (TCP source port selects which queue receives a packet).
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Grounded on golang.org/x/sys/unix usage patterns from the retrieved
// pack (runZeroInc-conniver / runZeroInc-sockstats both build on
// golang.org/x/sys for low-level socket introspection) and on the
// teacher's internal/transport/dpdk_transport_stub.go naming
// convention for a PMD-shaped backend package.

package afpacket

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/momentics/kbecho/internal/mbuf"
	"github.com/momentics/kbecho/internal/pmd"
)

// Config describes the interface and buffer sizing for the afpacket
// backend.
type Config struct {
	IfaceName string
	MTU       int
	Pools     *mbuf.Manager
	NUMANode  int
}

type queue struct {
	fd int
}

// Backend is a pmd.Backend + pmd.FlowSteerer over AF_PACKET sockets.
type Backend struct {
	cfg     Config
	ifIndex int
	rx      []queue
	tx      []queue
}

// New constructs an uninitialized afpacket Backend for cfg.
func New(cfg Config) *Backend {
	return &Backend{cfg: cfg}
}

func (b *Backend) Init(nRxQueues, nTxQueues int) error {
	ifi, err := unix.NameToIndex(b.cfg.IfaceName)
	if err != nil {
		return fmt.Errorf("afpacket: resolve interface %q: %w", b.cfg.IfaceName, err)
	}
	b.ifIndex = int(ifi)

	b.rx = make([]queue, nRxQueues)
	b.tx = make([]queue, nTxQueues)
	for i := range b.rx {
		fd, err := openPacketSocket(b.ifIndex)
		if err != nil {
			return fmt.Errorf("afpacket: open rx queue %d: %w", i, err)
		}
		b.rx[i] = queue{fd: fd}
	}
	for i := range b.tx {
		fd, err := openPacketSocket(b.ifIndex)
		if err != nil {
			return fmt.Errorf("afpacket: open tx queue %d: %w", i, err)
		}
		b.tx[i] = queue{fd: fd}
	}
	return nil
}

func openPacketSocket(ifIndex int) (int, error) {
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return -1, err
	}
	sa := &unix.SockaddrLinklayer{Protocol: htons(unix.ETH_P_ALL), Ifindex: ifIndex}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func htons(v uint16) uint16 {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return binary.LittleEndian.Uint16(b[:])
}

// RxBurst reads up to maxPackets datagrams from queueIdx's socket. Each
// read copies into a freshly-allocated mbuf body (AF_PACKET sockets do
// not expose the zero-copy DMA region a real PMD would; PACKET_MMAP
// ring support would be the natural upgrade path and is omitted here).
func (b *Backend) RxBurst(queueIdx int, maxPackets int) ([]pmd.RxPacket, error) {
	if queueIdx < 0 || queueIdx >= len(b.rx) {
		return nil, nil
	}
	fd := b.rx[queueIdx].fd
	pool := b.cfg.Pools.PoolFor(b.cfg.NUMANode)
	out := make([]pmd.RxPacket, 0, maxPackets)
	for len(out) < maxPackets {
		m, err := pool.AllocBody()
		if err != nil {
			return out, err
		}
		n, _, err := unix.Recvfrom(fd, m.Data(), unix.MSG_DONTWAIT)
		if err != nil {
			m.Release()
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				break
			}
			return out, err
		}
		if n == 0 {
			m.Release()
			break
		}
		out = append(out, pmd.RxPacket{Mbuf: m, QueueIdx: queueIdx})
	}
	return out, nil
}

// TxBurst writes each mbuf's payload to queueIdx's socket and releases
// it once the syscall returns (no further DMA completion to wait for).
func (b *Backend) TxBurst(queueIdx int, pkts []*mbuf.Mbuf) error {
	if queueIdx < 0 || queueIdx >= len(b.tx) {
		return nil
	}
	fd := b.tx[queueIdx].fd
	sa := &unix.SockaddrLinklayer{Protocol: htons(unix.ETH_P_ALL), Ifindex: b.ifIndex}
	for _, m := range pkts {
		err := unix.Sendto(fd, m.Data(), 0, sa)
		m.Release()
		if err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) Close() error {
	var firstErr error
	for _, q := range b.rx {
		if err := unix.Close(q.fd); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, q := range b.tx {
		if err := unix.Close(q.fd); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// InstallFlowRules attaches a classic BPF program per RX socket that
// accepts only packets whose TCP source port matches a rule routed to
// that queue, steering matched traffic to one RX queue in software.
func (b *Backend) InstallFlowRules(rules []pmd.FlowRule) error {
	byQueue := make(map[int][]uint16)
	for _, r := range rules {
		byQueue[r.QueueIdx] = append(byQueue[r.QueueIdx], r.SrcPort)
	}
	for qIdx, ports := range byQueue {
		if qIdx < 0 || qIdx >= len(b.rx) {
			continue
		}
		prog, err := buildSrcPortFilter(ports)
		if err != nil {
			return err
		}
		if err := unix.SetsockoptSockFprog(b.rx[qIdx].fd, unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, prog); err != nil {
			return fmt.Errorf("afpacket: attach filter to queue %d: %w", qIdx, err)
		}
	}
	return nil
}

// buildSrcPortFilter builds a minimal classic-BPF program: load the TCP
// source port (assuming no-options Ethernet+IPv4+TCP) and accept if it
// equals any port in ports, reject otherwise.
func buildSrcPortFilter(ports []uint16) (*unix.SockFprog, error) {
	const tcpSrcPortOffset = 14 + 20 // Ethernet + IPv4, both without options
	var insns []unix.SockFilter
	insns = append(insns, unix.SockFilter{Code: unix.BPF_LD | unix.BPF_H | unix.BPF_ABS, K: uint32(tcpSrcPortOffset)})
	for i, p := range ports {
		jt := uint8(len(ports) - i)
		insns = append(insns, unix.SockFilter{Code: unix.BPF_JMP | unix.BPF_JEQ | unix.BPF_K, K: uint32(p), Jt: jt, Jf: 0})
	}
	insns = append(insns, unix.SockFilter{Code: unix.BPF_RET | unix.BPF_K, K: 0}) // reject
	insns = append(insns, unix.SockFilter{Code: unix.BPF_RET | unix.BPF_K, K: 0xffff})

	return &unix.SockFprog{Len: uint16(len(insns)), Filter: &insns[0]}, nil
}
