//go:build !dpdk
// +build !dpdk

// File: internal/pmd/dpdk_stub.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Stub fallback when the 'dpdk' build tag is not enabled, grounded on
// internal/transport/dpdk_transport_stub.go's newDPDKTransport: always
// returns an error so callers fall back to the afpacket or fakepmd
// backend instead of silently degrading.

package pmd

import "errors"

// NewDPDK always fails outside of builds tagged 'dpdk'.
func NewDPDK() (Backend, error) {
	return nil, errors.New("pmd: dpdk backend not available (build tag 'dpdk' not enabled)")
}
