// File: internal/tcpstate/close.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Close lifecycle: Established -> FinWait1 on Close(), following the
// standard TCP close diagram through Closing/TimeWait. PollClose is
// Ready only at Closed, and Close is idempotent.

package tcpstate

// Close transitions the TCB out of Established/CloseWait towards
// Closed, sending a FIN. Calling Close twice is idempotent: the second
// call returns the same result as the first without changing state
// again.
func (cb *ControlBlock) Close() (sendFIN bool, err error) {
	if cb.closeCalled {
		return cb.closeErr == nil, cb.closeErr
	}
	cb.closeCalled = true

	switch cb.State {
	case StateEstablished:
		cb.State = StateFinWait1
		sendFIN = true
	case StateCloseWait:
		cb.State = StateLastAck
		sendFIN = true
	default:
		cb.closeErr = ErrConnectionReset
	}
	return sendFIN, cb.closeErr
}

// ReceiveFin advances the lifecycle state machine on receipt of a FIN
// from the remote, per the standard close diagram.
func (cb *ControlBlock) ReceiveFin() {
	switch cb.State {
	case StateEstablished:
		cb.State = StateCloseWait
	case StateFinWait1:
		cb.State = StateClosing
	case StateFinWait2:
		cb.State = StateTimeWait
	}
}

// ReceiveFinAck processes the ACK that completes our own FIN.
func (cb *ControlBlock) ReceiveFinAck() {
	switch cb.State {
	case StateFinWait1:
		cb.State = StateFinWait2
	case StateClosing:
		cb.State = StateTimeWait
	case StateLastAck:
		cb.State = StateClosed
	}
}

// TimeWaitExpired finalizes a connection sitting in TIME_WAIT once its
// 2*MSL-equivalent timeout elapses.
func (cb *ControlBlock) TimeWaitExpired() {
	if cb.State == StateTimeWait {
		cb.State = StateClosed
	}
}

// PollClose reports Ready only once the TCB has fully reached Closed.
func (cb *ControlBlock) PollClose() bool {
	return cb.State == StateClosed
}
