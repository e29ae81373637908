// File: internal/tcpstate/receiver.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Receive path: window check, in-order fast path with out-of-order
// drain, reassembly-queue coalescing by trimming overlaps, delayed-ACK
// scheduling.

package tcpstate

import (
	"sort"
	"time"

	"github.com/momentics/kbecho/internal/headers"
)

// AckDoubleThreshold is the window-doubling fraction past which an
// immediate pure ACK is sent rather than waiting for the delayed-ACK
// timer.
const AckDoubleThreshold = 2

// ReceiveResult tells the worker what follow-up action the receive
// path wants: whether to emit an immediate ACK and/or to wake a
// pending application-facing read.
type ReceiveResult struct {
	ImmediateACK bool
	DataReady    bool
}

// Receive feeds one parsed TCP segment into the TCB's receive-side
// state machine: drop if outside the window, append in-order, or
// coalesce into the out-of-order queue.
func (cb *ControlBlock) Receive(h headers.TCP, payload []byte, now time.Time) (ReceiveResult, error) {
	var res ReceiveResult

	if h.HasFlag(headers.FlagACK) {
		if err := cb.handleAck(h.AckNum, now); err != nil {
			return res, err
		}
	}

	if len(payload) == 0 {
		return res, nil
	}

	seq := headers.SeqNum(h.SeqNum)
	if !seq.InWindow(cb.RcvNXT, cb.RcvWND) && seq != cb.RcvNXT {
		// Step 1: drop if entirely outside the receive window. A
		// segment exactly at RCV.NXT is always accepted even if the
		// advertised window is momentarily zero for a pure probe.
		return res, ErrOutsideWindow
	}

	if seq == cb.RcvNXT {
		// Step 2: in-order fast path.
		cb.Reassembled = append(cb.Reassembled, payload...)
		cb.RcvNXT = cb.RcvNXT.Add(uint32(len(payload)))
		res.DataReady = true
		cb.drainOutOfOrder()
		cb.scheduleDelayedAck(now, false)
	} else {
		// Step 3: out-of-order, coalesce into the reassembly queue by
		// trimming overlaps against existing entries.
		cb.insertOutOfOrder(seq, payload)
		res.ImmediateACK = true
	}

	if cb.RcvWND > 0 {
		used := uint32(len(cb.Reassembled))
		if used*AckDoubleThreshold >= cb.RcvWND {
			res.ImmediateACK = true
		}
	}

	cb.checkReassemblyInvariant()
	return res, nil
}

// insertOutOfOrder inserts a segment into the out-of-order queue,
// trimming it against any overlapping neighbor so the queue remains
// pairwise disjoint.
func (cb *ControlBlock) insertOutOfOrder(seq headers.SeqNum, payload []byte) {
	data := append([]byte(nil), payload...)
	end := seq.Add(uint32(len(data)))

	var merged []OutOfOrderSegment
	for _, existing := range cb.OutOfOrder {
		existingEnd := existing.Seq.Add(uint32(len(existing.Data)))
		switch {
		case existingEnd.LessEqual(seq) || end.LessEqual(existing.Seq):
			// No overlap; keep as-is.
			merged = append(merged, existing)
		case existing.Seq.LessEqual(seq) && end.LessEqual(existingEnd):
			// New segment fully covered by existing; drop new data.
			return
		case seq.LessEqual(existing.Seq) && existingEnd.LessEqual(end):
			// Existing fully covered by new; drop existing, keep new.
			continue
		case existing.Seq.LessThan(seq):
			// Trim the front of the new segment.
			overlap := uint32(existingEnd.Sub(seq))
			if overlap > 0 && overlap <= uint32(len(data)) {
				data = data[overlap:]
				seq = existingEnd
			}
			merged = append(merged, existing)
		default:
			// Trim the tail of the new segment.
			overlap := uint32(end.Sub(existing.Seq))
			if overlap > 0 && overlap <= uint32(len(data)) {
				data = data[:uint32(len(data))-overlap]
				end = existing.Seq
			}
			merged = append(merged, existing)
		}
	}
	if len(data) > 0 {
		merged = append(merged, OutOfOrderSegment{Seq: seq, Data: data})
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Seq.LessThan(merged[j].Seq)
	})
	cb.OutOfOrder = merged
}

// drainOutOfOrder moves any now-contiguous prefix of the out-of-order
// queue into the reassembled byte stream, advancing RCV.NXT.
func (cb *ControlBlock) drainOutOfOrder() {
	for len(cb.OutOfOrder) > 0 && cb.OutOfOrder[0].Seq == cb.RcvNXT {
		seg := cb.OutOfOrder[0]
		cb.Reassembled = append(cb.Reassembled, seg.Data...)
		cb.RcvNXT = cb.RcvNXT.Add(uint32(len(seg.Data)))
		cb.OutOfOrder = cb.OutOfOrder[1:]
	}
}

// scheduleDelayedAck arms the delayed-ACK timer unless one is already
// pending.
func (cb *ControlBlock) scheduleDelayedAck(now time.Time, immediate bool) {
	if immediate {
		cb.DelayedACKPending = false
		return
	}
	if !cb.DelayedACKPending {
		cb.DelayedACKPending = true
		cb.DelayedACKDeadline = now.Add(cb.AckDelay)
	}
}

// checkReassemblyInvariant panics if out-of-order segments are not
// pairwise disjoint, or any starts at or below RCV.NXT without being
// the head of the queue.
func (cb *ControlBlock) checkReassemblyInvariant() {
	prevEnd := cb.RcvNXT
	for _, seg := range cb.OutOfOrder {
		if seg.Seq.LessThan(prevEnd) {
			panic(ErrInvariantViolation)
		}
		prevEnd = seg.Seq.Add(uint32(len(seg.Data)))
	}
}

// AckSent clears the delayed-ACK timer once an ACK has actually gone
// out, whether carried on a data segment or sent bare.
func (cb *ControlBlock) AckSent() {
	cb.DelayedACKPending = false
}

// Pop drains up to maxLen bytes of contiguous, in-order application
// data. Truncation at the first gap is automatic because Reassembled
// only ever holds contiguous bytes.
func (cb *ControlBlock) Pop(maxLen int) []byte {
	if maxLen <= 0 || maxLen > len(cb.Reassembled) {
		maxLen = len(cb.Reassembled)
	}
	out := cb.Reassembled[:maxLen]
	cb.Reassembled = cb.Reassembled[maxLen:]
	return out
}
