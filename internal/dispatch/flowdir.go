// File: internal/dispatch/flowdir.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// FlowDirectory tracks, for each established remote endpoint, which
// worker owns it. It is mutated only on the dispatcher core, so it
// needs no locking; a plain map is the natural fit, the same way
// PassiveSocket keeps its in-flight accepts in an unguarded map.

package dispatch

import "net/netip"

// FlowDirectory maps an established connection's remote endpoint to
// the worker index flow steering assigned it.
type FlowDirectory struct {
	owner map[netip.AddrPort]int
}

// NewFlowDirectory constructs an empty directory.
func NewFlowDirectory() *FlowDirectory {
	return &FlowDirectory{owner: make(map[netip.AddrPort]int)}
}

// Insert records that remote belongs to workerIdx.
func (d *FlowDirectory) Insert(remote netip.AddrPort, workerIdx int) {
	d.owner[remote] = workerIdx
}

// Lookup returns the owning worker index for remote, if established.
func (d *FlowDirectory) Lookup(remote netip.AddrPort) (int, bool) {
	w, ok := d.owner[remote]
	return w, ok
}

// Remove drops remote from the directory once its connection closes.
func (d *FlowDirectory) Remove(remote netip.AddrPort) {
	delete(d.owner, remote)
}

// Len reports the number of established flows currently tracked.
func (d *FlowDirectory) Len() int {
	return len(d.owner)
}
