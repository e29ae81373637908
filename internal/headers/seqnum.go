// File: internal/headers/seqnum.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Sequence number with wrapping arithmetic and a "distances > 2^31 are
// in the past" ordering.

package headers

// SeqNum is a 32-bit TCP sequence number with wraparound-aware compare.
type SeqNum uint32

// Add returns seq advanced by n, wrapping as uint32 addition does.
func (s SeqNum) Add(n uint32) SeqNum { return s + SeqNum(n) }

// Sub returns the signed distance s - other, wrapping such that
// distances with magnitude > 2^31 are interpreted as negative (i.e. as
// "in the past" relative to s).
func (s SeqNum) Sub(other SeqNum) int32 {
	return int32(s - other)
}

// LessThan reports whether s precedes other in sequence-space order.
func (s SeqNum) LessThan(other SeqNum) bool {
	return s.Sub(other) < 0
}

// LessEqual reports whether s precedes or equals other.
func (s SeqNum) LessEqual(other SeqNum) bool {
	return s.Sub(other) <= 0
}

// InWindow reports whether s lies in [lo, lo+size).
func (s SeqNum) InWindow(lo SeqNum, size uint32) bool {
	return uint32(s.Sub(lo)) < size
}
