// File: internal/tcpstate/errors.go
// Package tcpstate implements the TCP Control Block, passive-open
// handshake, sender/receiver logic and lifecycle state machine.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package tcpstate

import "errors"

// Sentinel errors, following the package-level sentinel-var style used
// elsewhere in this module (e.g. server.ErrAlreadyRunning) rather than
// a custom error-code type.
var (
	ErrBadFlags           = errors.New("tcpstate: unexpected flag combination")
	ErrBacklogFull        = errors.New("tcpstate: accept backlog full")
	ErrBadHandshakeAck    = errors.New("tcpstate: invalid SYN+ACK ack number")
	ErrAlreadyEstablished = errors.New("tcpstate: segment for already-established tuple")
	ErrOutsideWindow      = errors.New("tcpstate: segment outside receive window")
	ErrConnectionReset    = errors.New("tcpstate: connection reset")
	ErrRetransmitLimit    = errors.New("tcpstate: retransmission limit exceeded")
	ErrInvariantViolation = errors.New("tcpstate: invariant violation")
)
