// File: internal/tcpstate/isn.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Initial sequence number generator, grounded on
// original_source/.../tcp/passive_open.rs's IsnGenerator usage: seeded
// with a process nonce, deterministic per (local, remote) pair so
// retransmitted SYN+ACKs don't shift the chosen ISN.

package tcpstate

import (
	"encoding/binary"
	"hash/fnv"
	"net/netip"

	"github.com/momentics/kbecho/internal/headers"
)

// ISNGenerator derives a local initial sequence number from a local
// endpoint, a remote endpoint, and a process-lifetime nonce.
type ISNGenerator struct {
	nonce uint32
}

// NewISNGenerator seeds the generator with a process nonce.
func NewISNGenerator(nonce uint32) ISNGenerator {
	return ISNGenerator{nonce: nonce}
}

// Generate returns the ISN for a connection identified by local/remote.
func (g ISNGenerator) Generate(local, remote netip.AddrPort) headers.SeqNum {
	h := fnv.New32a()
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], g.nonce)
	h.Write(buf[:])
	a := local.Addr().As4()
	h.Write(a[:])
	binary.BigEndian.PutUint16(buf[:2], local.Port())
	h.Write(buf[:2])
	b := remote.Addr().As4()
	h.Write(b[:])
	binary.BigEndian.PutUint16(buf[:2], remote.Port())
	h.Write(buf[:2])
	return headers.SeqNum(h.Sum32())
}
