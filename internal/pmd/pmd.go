// File: internal/pmd/pmd.go
// Package pmd defines the poll-mode-driver primitives this core treats
// as an external collaborator: dev_init, rx_burst and tx_burst
// equivalents (mbuf allocation lives in internal/mbuf). Two concrete
// backends implement Backend: fakepmd (in-memory, used by tests and by
// cmd/echoserver when no --iface is given) and
// afpacket (Linux AF_PACKET raw sockets, a legitimate non-DPDK
// stand-in for kernel bypass).
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pmd

import "github.com/momentics/kbecho/internal/mbuf"

// RxPacket is one packet handed up from RxBurst: the raw bytes plus
// the RX queue it arrived on (set by flow steering).
type RxPacket struct {
	Mbuf     *mbuf.Mbuf
	QueueIdx int
}

// Backend is the minimal NIC PMD surface the dispatcher and workers
// depend on. Real DPDK/hardware bindings, and this module's AF_PACKET
// stand-in, both implement it.
type Backend interface {
	// Init brings the device up with nRxQueues/nTxQueues queues.
	Init(nRxQueues, nTxQueues int) error

	// RxBurst polls queue idx for up to maxPackets packets, zero-copy.
	RxBurst(queueIdx int, maxPackets int) ([]RxPacket, error)

	// TxBurst transmits mbufs on queue idx. Ownership of each mbuf
	// passes to the backend, which releases it once DMA completes (or
	// immediately, for backends with no real DMA).
	TxBurst(queueIdx int, pkts []*mbuf.Mbuf) error

	// Close releases the device.
	Close() error
}

// FlowSteerer is implemented by backends capable of installing
// hardware (or hardware-equivalent) flow-steering rules.
type FlowSteerer interface {
	InstallFlowRules(rules []FlowRule) error
}

// FlowRule matches a TCP source port and steers it to an RX queue: a
// rule matches ETH/IPv4/TCP with src_port == some fixed value and
// steers the matched packets to one NIC receive queue.
type FlowRule struct {
	SrcPort  uint16
	QueueIdx int
}
