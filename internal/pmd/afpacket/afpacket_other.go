//go:build !linux

// File: internal/pmd/afpacket/afpacket_other.go
// Non-Linux stand-in: AF_PACKET is Linux-specific, so New returns a
// backend whose Init always fails on other platforms.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package afpacket

import (
	"errors"

	"github.com/momentics/kbecho/internal/mbuf"
)

// Config describes the interface and buffer sizing for the afpacket
// backend.
type Config struct {
	IfaceName string
	MTU       int
	Pools     *mbuf.Manager
	NUMANode  int
}

// Backend is a non-functional placeholder outside Linux builds.
type Backend struct{}

// New constructs a Backend that always fails to initialize.
func New(cfg Config) *Backend {
	return &Backend{}
}

func (b *Backend) Init(nRxQueues, nTxQueues int) error {
	return errors.New("afpacket: AF_PACKET sockets are only available on linux")
}
