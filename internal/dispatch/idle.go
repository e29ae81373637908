// File: internal/dispatch/idle.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// IdleFlag is the cross-core signal a worker uses to tell the
// dispatcher it has drained its inbound ring and is ready for more
// work, without either side taking a lock.

package dispatch

import "sync/atomic"

// idleState values, in the order a flag moves through them across one
// idle/reassign cycle.
const (
	stateBusy int32 = iota
	stateIdle
	stateAlreadyIdle
)

// IdleFlag is a tri-state, atomically-updated flag shared between one
// worker and the dispatcher. A worker sets Idle after draining its
// ring with no new work queued; the dispatcher, scanning flags once
// per poll cycle, moves any flag it finds in Idle to AlreadyIdle, so a
// flag already claimed is not claimed again on a later scan. The
// dispatcher keeps no idle-worker queue and does not act on a claim.
type IdleFlag struct {
	state atomic.Int32
}

// SetIdle marks the worker idle. Called only by the owning worker.
func (f *IdleFlag) SetIdle() {
	f.state.Store(stateIdle)
}

// SetBusy marks the worker busy. Called by the dispatcher immediately
// after handing it work.
func (f *IdleFlag) SetBusy() {
	f.state.Store(stateBusy)
}

// ClaimIdle reports whether the flag was in Idle state and, if so,
// atomically moves it to AlreadyIdle so a later scan in the same
// cycle or the next one does not claim it again.
func (f *IdleFlag) ClaimIdle() bool {
	return f.state.CompareAndSwap(stateIdle, stateAlreadyIdle)
}
