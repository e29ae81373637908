// File: internal/tcpstate/ctrlblock.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// ControlBlock is the TCP Control Block, grounded on
// original_source/.../tcp/established/mod.rs's ControlBlock/
// EstablishedSocket split. The dispatcher->worker handoff carries the
// *ControlBlock pointer exactly once (dispatch.WorkItem.NewFlow);
// within the owning worker the TCB is then addressed by its TCBHandle
// (slab index).

package tcpstate

import (
	"net/netip"
	"time"

	"github.com/momentics/kbecho/internal/headers"
)

// State is the TCP lifecycle state. Listen is held by the
// PassiveSocket, not by a ControlBlock.
type State int

const (
	StateSynRcvd State = iota
	StateEstablished
	StateFinWait1
	StateFinWait2
	StateCloseWait
	StateLastAck
	StateClosing
	StateTimeWait
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateSynRcvd:
		return "SYN_RCVD"
	case StateEstablished:
		return "ESTABLISHED"
	case StateFinWait1:
		return "FIN_WAIT_1"
	case StateFinWait2:
		return "FIN_WAIT_2"
	case StateCloseWait:
		return "CLOSE_WAIT"
	case StateLastAck:
		return "LAST_ACK"
	case StateClosing:
		return "CLOSING"
	case StateTimeWait:
		return "TIME_WAIT"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// UnackedSegment is one outstanding, not-yet-fully-ACKed send, kept in
// send order on the un-ACK queue.
type UnackedSegment struct {
	Seq       headers.SeqNum
	Data      []byte
	SentAt    time.Time
	Retransmitted bool
}

// Len returns the byte length this segment occupies in sequence space.
func (s UnackedSegment) Len() int { return len(s.Data) }

// OutOfOrderSegment is one entry in the receive-side reassembly queue:
// strictly increasing, non-overlapping, all sequence numbers >=
// RCV.NXT.
type OutOfOrderSegment struct {
	Seq  headers.SeqNum
	Data []byte
}

// RTOEstimator tracks smoothed RTT / RTT variance for RTO computation
// using Karn's algorithm (retransmitted segments' samples ignored).
type RTOEstimator struct {
	SRTT    time.Duration
	RTTVar  time.Duration
	RTO     time.Duration
	hasSample bool
}

const (
	minRTO = 200 * time.Millisecond
	maxRTO = 60 * time.Second
)

// Sample folds one fresh (non-retransmitted) RTT observation into the
// estimator, per RFC 6298 with integer-free Duration math.
func (e *RTOEstimator) Sample(rtt time.Duration) {
	if !e.hasSample {
		e.SRTT = rtt
		e.RTTVar = rtt / 2
		e.hasSample = true
	} else {
		delta := e.SRTT - rtt
		if delta < 0 {
			delta = -delta
		}
		e.RTTVar = (3*e.RTTVar + delta) / 4
		e.SRTT = (7*e.SRTT + rtt) / 8
	}
	e.RTO = e.SRTT + 4*e.RTTVar
	if e.RTO < minRTO {
		e.RTO = minRTO
	}
	if e.RTO > maxRTO {
		e.RTO = maxRTO
	}
}

// Backoff doubles the current RTO, capped at maxRTO, for a
// retransmission-timer fire.
func (e *RTOEstimator) Backoff() {
	if e.RTO == 0 {
		e.RTO = minRTO
	}
	e.RTO *= 2
	if e.RTO > maxRTO {
		e.RTO = maxRTO
	}
}

const maxRetries = 12

// ControlBlock is the per-connection TCP state. It is created on the
// dispatcher core by PassiveSocket.Receive and handed once to the
// owning worker; thereafter only that worker mutates it.
type ControlBlock struct {
	// Immutable after construction.
	Local, Remote       netip.AddrPort
	LocalMAC, RemoteMAC headers.MAC
	MSS                 int
	SendWindowScale     uint8
	RecvWindowScale     uint8
	AckDelay            time.Duration

	// Send side.
	SndUNA   headers.SeqNum
	SndNXT   headers.SeqNum
	SndWND   uint32
	pending  []byte
	Unacked  []UnackedSegment
	RTO      RTOEstimator
	RetransmitDeadline time.Time
	RetryCount int

	// Receive side.
	RcvNXT    headers.SeqNum
	RcvWND    uint32
	OutOfOrder []OutOfOrderSegment
	Reassembled []byte
	DelayedACKDeadline time.Time
	DelayedACKPending  bool

	// Lifecycle.
	State State

	// Close bookkeeping: a repeated Close returns the first call's
	// result without transitioning state again.
	closeCalled bool
	closeErr    error
}

// New constructs an established ControlBlock immediately after a
// completed passive-open handshake, mirroring
// original_source/.../passive_open.rs's call into ControlBlock::new.
func New(local, remote netip.AddrPort, localMAC, remoteMAC headers.MAC,
	rcvNxt headers.SeqNum, rcvWnd uint32, rcvWndScale uint8,
	sndNxt headers.SeqNum, sndWnd uint32, sndWndScale uint8,
	mss int, ackDelay time.Duration) *ControlBlock {
	return &ControlBlock{
		Local: local, Remote: remote,
		LocalMAC: localMAC, RemoteMAC: remoteMAC,
		MSS: mss, SendWindowScale: sndWndScale, RecvWindowScale: rcvWndScale,
		AckDelay: ackDelay,
		SndUNA:  sndNxt,
		SndNXT:  sndNxt,
		SndWND:  sndWnd,
		RcvNXT:  rcvNxt,
		RcvWND:  rcvWnd,
		State:   StateEstablished,
	}
}

// UnackedLen returns the total bytes currently outstanding, which must
// always equal SND.NXT - SND.UNA.
func (cb *ControlBlock) UnackedLen() int {
	n := 0
	for _, seg := range cb.Unacked {
		n += seg.Len()
	}
	return n
}

// checkInvariants panics if a core TCB invariant has been violated:
// fatal errors here indicate a bug, not a recoverable protocol event.
func (cb *ControlBlock) checkInvariants() {
	if cb.SndUNA.Sub(cb.SndNXT) > 0 {
		panic(ErrInvariantViolation)
	}
	if uint32(cb.UnackedLen()) != uint32(cb.SndNXT.Sub(cb.SndUNA)) {
		panic(ErrInvariantViolation)
	}
}
