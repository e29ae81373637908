// File: internal/sched/functask.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package sched

// FuncTask adapts a plain poll function into a Task, so callers can
// define named await points (waiting for incoming bytes, waiting for
// ACK advance, waiting for a timer, waiting for close) as simple
// closures over a ControlBlock without needing a dedicated type per
// await point.
type FuncTask func() State

func (f FuncTask) Poll() State { return f() }
