//go:build dpdk
// +build dpdk

// File: internal/pmd/dpdk_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Real DPDK-backed pmd.Backend, gated behind the 'dpdk' build tag the
// way internal/transport/dpdk_transport.go gates its (also-stubbed)
// DPDK path. A real implementation would bind rte_eal_init,
// rte_eth_rx_burst/rte_eth_tx_burst, and an rte_mempool here; this
// module does not vendor cgo DPDK bindings, so the tag compiles to an
// explicit "not available" error rather than silently falling back to
// a different transport.

package pmd

import "errors"

type dpdkBackend struct {
	nRxQueues, nTxQueues int
}

// NewDPDK constructs a DPDK-backed Backend. Always returns an error in
// this tree: wiring real rte_* bindings is out of scope, since the NIC
// PMD is treated as an external collaborator rather than something
// this module vendors.
func NewDPDK() (Backend, error) {
	return nil, errors.New("pmd: dpdk backend requires cgo DPDK bindings not vendored in this tree")
}
