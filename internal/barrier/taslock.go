// File: internal/barrier/taslock.go
// Package barrier implements the per-core initialization handshake:
// the parent must observe that the child has consumed its argument
// struct before the parent's stack frame releases it. Not a mutual-
// exclusion lock — the name is historical, preserved for readers
// familiar with it.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Grounded on the core-spawn/init-then-signal call sites this repo
// already used for CPU pinning (affinity.SetAffinity performed once at
// the top of each pinned goroutine), generalized into an explicit
// single-bit spin lock.

package barrier

import "sync/atomic"

// TASLock is a single-bit test-and-set spin lock used exactly once per
// worker/dispatcher spawn.
type TASLock struct {
	set atomic.Bool
}

// Signal marks the barrier as crossed: the child has finished local
// init and copied its argument struct to its own stack.
func (l *TASLock) Signal() {
	l.set.Store(true)
}

// Wait spins until Signal has been called. Intended for the parent
// thread, which must not free the argument struct it handed to the
// child until this returns.
func (l *TASLock) Wait() {
	for !l.set.Load() {
		// deliberately unbounded busy-wait: this barrier is crossed
		// once, very early, by a core that has nothing else to do yet.
	}
}
