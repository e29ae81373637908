// File: internal/tcpstate/sender.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Send path: application Send() enqueues bytes; segments bounded by
// min(MSS, SND.WND - in-flight) are emitted and pushed to the un-ACK
// queue; ACKs release covered segments and feed Karn's algorithm; the
// retransmission timer re-sends the oldest un-ACK'd segment on fire.

package tcpstate

import (
	"time"

	"github.com/momentics/kbecho/internal/headers"
)

// sendQueue is bytes the application has queued but not yet turned
// into on-wire segments.
type sendQueue struct {
	data []byte
}

// Segment is one outbound TCP segment the sender wants transmitted.
type Segment struct {
	Header  headers.TCP
	Payload []byte
}

// Send enqueues application bytes for later segmentation by
// EmitSegments. It does not itself transmit anything, matching the
// scheduler's contract: suspend at named await points, never do
// unbounded work per poll.
func (cb *ControlBlock) Send(buf []byte) error {
	if cb.State != StateEstablished && cb.State != StateCloseWait {
		return ErrConnectionReset
	}
	cb.pending = append(cb.pending, buf...)
	return nil
}

// EmitSegments carves off as many MSS-sized segments as the current
// send window allows and returns them for transmission, recording each
// in the un-ACK queue with its send timestamp.
func (cb *ControlBlock) EmitSegments(now time.Time) []Segment {
	var out []Segment
	for len(cb.pending) > 0 {
		inFlight := uint32(cb.SndNXT.Sub(cb.SndUNA))
		if inFlight >= cb.SndWND {
			break
		}
		room := int(cb.SndWND - inFlight)
		n := cb.MSS
		if n > room {
			n = room
		}
		if n > len(cb.pending) {
			n = len(cb.pending)
		}
		if n == 0 {
			break
		}
		data := cb.pending[:n]
		cb.pending = cb.pending[n:]

		seg := UnackedSegment{Seq: cb.SndNXT, Data: append([]byte(nil), data...), SentAt: now}
		cb.Unacked = append(cb.Unacked, seg)
		out = append(out, Segment{
			Header: headers.TCP{
				SrcPort: 0, DstPort: 0, // filled in by the caller with endpoint ports
				SeqNum: uint32(cb.SndNXT),
				AckNum: uint32(cb.RcvNXT),
				Flags:  headers.FlagACK,
				Window: uint16(cb.RcvWND >> cb.RecvWindowScale),
			},
			Payload: data,
		})
		cb.SndNXT = cb.SndNXT.Add(uint32(n))
		cb.checkInvariants()
	}
	if len(cb.Unacked) > 0 && cb.RetransmitDeadline.IsZero() {
		cb.armRetransmitTimer(now)
	}
	return out
}

func (cb *ControlBlock) armRetransmitTimer(now time.Time) {
	rto := cb.RTO.RTO
	if rto == 0 {
		rto = minRTO
	}
	cb.RetransmitDeadline = now.Add(rto)
}

// handleAck releases segments fully covered by ackNum, trims the
// leading segment when ackNum falls in its middle, samples RTT via
// Karn's algorithm (ignoring retransmitted segments), and resets the
// retransmission timer to the oldest remaining un-ACK'd segment.
// SND.UNA only ever advances, never regresses.
func (cb *ControlBlock) handleAck(ackNum uint32, now time.Time) error {
	ack := headers.SeqNum(ackNum)
	if !(ack.Sub(cb.SndUNA) > 0 && ack.LessEqual(cb.SndNXT)) {
		return nil // duplicate or future ACK outside (SND.UNA, SND.NXT]
	}

	for len(cb.Unacked) > 0 {
		seg := &cb.Unacked[0]
		segEnd := seg.Seq.Add(uint32(seg.Len()))
		if segEnd.LessEqual(ack) {
			if !seg.Retransmitted {
				cb.RTO.Sample(now.Sub(seg.SentAt))
			}
			cb.Unacked = cb.Unacked[1:]
			continue
		}
		if covered := ack.Sub(seg.Seq); covered > 0 {
			// ack lands strictly inside this segment: trim the
			// acknowledged prefix, keep the rest outstanding under its
			// advanced starting sequence number.
			seg.Data = seg.Data[covered:]
			seg.Seq = seg.Seq.Add(uint32(covered))
		}
		break
	}
	cb.SndUNA = ack
	cb.RetryCount = 0
	if len(cb.Unacked) > 0 {
		cb.armRetransmitTimer(now)
	} else {
		cb.RetransmitDeadline = time.Time{}
	}
	cb.checkInvariants()
	return nil
}

// RetransmitTimerFired re-sends the leftmost un-ACK'd segment, doubles
// the RTO, and increments the retry counter; exceeding maxRetries
// closes the connection with a timeout error.
func (cb *ControlBlock) RetransmitTimerFired(now time.Time) (*Segment, error) {
	if len(cb.Unacked) == 0 {
		cb.RetransmitDeadline = time.Time{}
		return nil, nil
	}
	cb.RetryCount++
	if cb.RetryCount > maxRetries {
		cb.State = StateClosed
		return nil, ErrRetransmitLimit
	}
	cb.RTO.Backoff()
	seg := &cb.Unacked[0]
	seg.Retransmitted = true
	seg.SentAt = now
	cb.armRetransmitTimer(now)
	return &Segment{
		Header: headers.TCP{
			SeqNum: uint32(seg.Seq),
			AckNum: uint32(cb.RcvNXT),
			Flags:  headers.FlagACK,
			Window: uint16(cb.RcvWND >> cb.RecvWindowScale),
		},
		Payload: seg.Data,
	}, nil
}

// RetransmitDue reports whether the retransmission timer has fired.
func (cb *ControlBlock) RetransmitDue(now time.Time) bool {
	return !cb.RetransmitDeadline.IsZero() && !now.Before(cb.RetransmitDeadline)
}

// DelayedAckDue reports whether the delayed-ACK timer has fired.
func (cb *ControlBlock) DelayedAckDue(now time.Time) bool {
	return cb.DelayedACKPending && !now.Before(cb.DelayedACKDeadline)
}
