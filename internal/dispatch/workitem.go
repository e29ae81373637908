// File: internal/dispatch/workitem.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// WorkItem is the payload carried across the dispatcher->worker ring.
// It is a small sum type rather than an interface so the ring's
// generic cell stays a plain value with no heap-boxing on the hot
// path: NewFlow (non-nil) admits a freshly-handshaked connection once;
// Header/Payload (with NewFlow nil) is one more segment for a
// connection the worker already owns.

package dispatch

import (
	"net/netip"

	"github.com/momentics/kbecho/internal/headers"
	"github.com/momentics/kbecho/internal/mbuf"
	"github.com/momentics/kbecho/internal/tcpstate"
)

// WorkItem is one unit of work handed from the dispatcher to a worker.
type WorkItem struct {
	// NewFlow carries the raw ControlBlock exactly once, at handshake
	// completion: the one point in this design where a pointer crosses
	// cores, matching tcpstate.ControlBlock's ownership contract.
	NewFlow *tcpstate.ControlBlock

	Remote  netip.AddrPort
	Header  headers.TCP
	Payload []byte

	// Mbuf backs Header/Payload's storage and must be released once the
	// worker is done reading from it.
	Mbuf *mbuf.Mbuf
}
