// File: internal/tcpstate/slab.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Slab re-architects TCB ownership as an index into a per-worker slab:
// the dispatcher hands a freshly-handshaked *ControlBlock to its worker
// once, the worker inserts it here, and from then on the worker
// addresses the TCB by its opaque 32-bit handle. One Slab is owned per
// worker; the dispatcher stores no handles.

package tcpstate

// TCBHandle is an opaque, per-worker slab index standing in for a raw
// TCB pointer inside the owning worker.
type TCBHandle uint32

// Slab is a growable, worker-local table of ControlBlocks addressed by
// TCBHandle. It is never shared across workers.
type Slab struct {
	entries []*ControlBlock
	free    []TCBHandle
}

// NewSlab constructs an empty slab with room for capacity TCBs before
// its backing slice must grow.
func NewSlab(capacity int) *Slab {
	return &Slab{entries: make([]*ControlBlock, 0, capacity)}
}

// Insert places cb into the slab and returns its handle.
func (s *Slab) Insert(cb *ControlBlock) TCBHandle {
	if n := len(s.free); n > 0 {
		h := s.free[n-1]
		s.free = s.free[:n-1]
		s.entries[h] = cb
		return h
	}
	s.entries = append(s.entries, cb)
	return TCBHandle(len(s.entries) - 1)
}

// Get resolves a handle to its ControlBlock. Returns nil if the handle
// has since been removed (e.g. after Close completed).
func (s *Slab) Get(h TCBHandle) *ControlBlock {
	if int(h) >= len(s.entries) {
		return nil
	}
	return s.entries[h]
}

// Remove frees h for reuse: dropping a connection from the flow
// directory pairs with removing its slab entry once it reaches Closed.
func (s *Slab) Remove(h TCBHandle) {
	if int(h) >= len(s.entries) {
		return
	}
	s.entries[h] = nil
	s.free = append(s.free, h)
}
