// File: internal/mbuf/sga.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Scatter-gather array: a small vector of (pointer, length) segments
// representing one application-level payload.

package mbuf

// Segment is one (pointer, length) piece of an SGA, owned by exactly
// one Mbuf.
type Segment struct {
	Owner *Mbuf
	Data  []byte
}

// SGA is a scatter-gather array constructed from one or more mbufs,
// freed by releasing every segment's owner.
type SGA struct {
	Segments []Segment
}

// TotalLen returns the sum of all segment lengths.
func (s *SGA) TotalLen() int {
	n := 0
	for _, seg := range s.Segments {
		n += len(seg.Data)
	}
	return n
}

// CopyTo concatenates all segments into dst, returning the number of
// bytes written (truncated if dst is shorter than TotalLen()).
func (s *SGA) CopyTo(dst []byte) int {
	off := 0
	for _, seg := range s.Segments {
		if off >= len(dst) {
			break
		}
		n := copy(dst[off:], seg.Data)
		off += n
	}
	return off
}

// Release returns every segment's owning mbuf to its pool.
func (s *SGA) Release() {
	for _, seg := range s.Segments {
		if seg.Owner != nil {
			seg.Owner.Release()
		}
	}
	s.Segments = nil
}

// SingleSegment builds a one-segment SGA view over an mbuf's current
// payload.
func SingleSegment(m *Mbuf) *SGA {
	return &SGA{Segments: []Segment{{Owner: m, Data: m.Data()}}}
}
