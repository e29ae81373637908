// File: internal/headers/tcp.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// TCP header parse/serialize with a deliberately small option subset:
// MSS, window-scale, SACK-permitted (parsed, never honored), and
// timestamps (parse only). Checksum uses the IPv4 pseudo-header.

package headers

import (
	"encoding/binary"
	"errors"
)

const TCPHeaderLenNoOptions = 20

// Flags bitmask offsets within byte 13 of the TCP header.
const (
	FlagFIN uint8 = 1 << 0
	FlagSYN uint8 = 1 << 1
	FlagRST uint8 = 1 << 2
	FlagPSH uint8 = 1 << 3
	FlagACK uint8 = 1 << 4
)

// Option kinds.
const (
	optKindEnd          = 0
	optKindNOP          = 1
	optKindMSS          = 2
	optKindWindowScale  = 3
	optKindSACKPermit   = 4
	optKindTimestamps   = 8
)

var (
	ErrShortTCP  = errors.New("headers: tcp header too short")
	ErrBadTCPCheckSum = errors.New("headers: tcp bad checksum")
)

// Options holds the handshake-relevant TCP options this core parses.
// SACKPermitted is recorded but never acted on: selective
// acknowledgment is not implemented.
type Options struct {
	MSS            uint16
	HasMSS         bool
	WindowScale    uint8
	HasWindowScale bool
	SACKPermitted  bool
	Timestamp      uint32
	TimestampEcho  uint32
	HasTimestamp   bool
}

// TCP is a parsed TCP header (options excluded from the struct proper
// except via Opts, matching how the handshake path needs to inspect
// them without forcing every receive-path caller to pay for it).
type TCP struct {
	SrcPort    uint16
	DstPort    uint16
	SeqNum     uint32
	AckNum     uint32
	DataOffset uint8 // in 32-bit words, as on the wire
	Flags      uint8
	Window     uint16
	Checksum   uint16
	UrgentPtr  uint16
	Opts       Options
}

func (h TCP) HasFlag(f uint8) bool { return h.Flags&f != 0 }

// ParseTCP parses a TCP header including options. src/dst are the IPv4
// addresses used for the pseudo-header checksum.
func ParseTCP(buf []byte, src, dst IPv4Addr, checksumVerified bool) (TCP, int, error) {
	if len(buf) < TCPHeaderLenNoOptions {
		return TCP{}, 0, ErrShortTCP
	}
	var h TCP
	h.SrcPort = binary.BigEndian.Uint16(buf[0:2])
	h.DstPort = binary.BigEndian.Uint16(buf[2:4])
	h.SeqNum = binary.BigEndian.Uint32(buf[4:8])
	h.AckNum = binary.BigEndian.Uint32(buf[8:12])
	h.DataOffset = buf[12] >> 4
	h.Flags = buf[13]
	h.Window = binary.BigEndian.Uint16(buf[14:16])
	h.Checksum = binary.BigEndian.Uint16(buf[16:18])
	h.UrgentPtr = binary.BigEndian.Uint16(buf[18:20])

	hdrLen := int(h.DataOffset) * 4
	if hdrLen < TCPHeaderLenNoOptions || len(buf) < hdrLen {
		return TCP{}, 0, ErrShortTCP
	}
	h.Opts = parseOptions(buf[TCPHeaderLenNoOptions:hdrLen])

	if !checksumVerified {
		sum := pseudoHeaderSum(src, dst, uint16(len(buf)))
		sum = sum16(buf, sum)
		if finishChecksum(sum) != 0 {
			return TCP{}, 0, ErrBadTCPCheckSum
		}
	}
	return h, hdrLen, nil
}

func parseOptions(b []byte) Options {
	var o Options
	for i := 0; i < len(b); {
		kind := b[i]
		switch kind {
		case optKindEnd:
			return o
		case optKindNOP:
			i++
			continue
		}
		if i+1 >= len(b) {
			return o
		}
		length := int(b[i+1])
		if length < 2 || i+length > len(b) {
			return o
		}
		switch kind {
		case optKindMSS:
			if length == 4 {
				o.MSS = binary.BigEndian.Uint16(b[i+2 : i+4])
				o.HasMSS = true
			}
		case optKindWindowScale:
			if length == 3 {
				o.WindowScale = b[i+2]
				o.HasWindowScale = true
			}
		case optKindSACKPermit:
			if length == 2 {
				o.SACKPermitted = true
			}
		case optKindTimestamps:
			if length == 10 {
				o.Timestamp = binary.BigEndian.Uint32(b[i+2 : i+6])
				o.TimestampEcho = binary.BigEndian.Uint32(b[i+6 : i+10])
				o.HasTimestamp = true
			}
		}
		i += length
	}
	return o
}

// pseudoHeaderSum accumulates the IPv4 pseudo-header contribution to
// the TCP checksum (src, dst, zero, protocol, TCP length).
func pseudoHeaderSum(src, dst IPv4Addr, tcpLen uint16) uint32 {
	var sum uint32
	sum += uint32(src[0])<<8 | uint32(src[1])
	sum += uint32(src[2])<<8 | uint32(src[3])
	sum += uint32(dst[0])<<8 | uint32(dst[1])
	sum += uint32(dst[2])<<8 | uint32(dst[3])
	sum += uint32(ProtoTCP)
	sum += uint32(tcpLen)
	return sum
}

// SerializeOpts describes the options to emit: this core only ever
// emits MSS+WindowScale, and only during the handshake.
type SerializeOpts struct {
	MSS         uint16
	WindowScale uint8
	EmitMSS     bool
	EmitWindowScale bool
}

func (o SerializeOpts) encodedLen() int {
	n := 0
	if o.EmitMSS {
		n += 4
	}
	if o.EmitWindowScale {
		n += 3
	}
	// pad to 4-byte boundary with NOPs
	if n%4 != 0 {
		n += 4 - n%4
	}
	return n
}

// Serialize writes the TCP header plus the requested options and
// computes the checksum over header+payload unless skipChecksum is set.
func (h TCP) Serialize(dst []byte, src, dstAddr IPv4Addr, opts SerializeOpts, payload []byte, skipChecksum bool) (int, error) {
	optLen := opts.encodedLen()
	hdrLen := TCPHeaderLenNoOptions + optLen
	total := hdrLen + len(payload)
	if len(dst) < total {
		return 0, ErrShortTCP
	}

	binary.BigEndian.PutUint16(dst[0:2], h.SrcPort)
	binary.BigEndian.PutUint16(dst[2:4], h.DstPort)
	binary.BigEndian.PutUint32(dst[4:8], h.SeqNum)
	binary.BigEndian.PutUint32(dst[8:12], h.AckNum)
	dst[12] = uint8(hdrLen/4) << 4
	dst[13] = h.Flags
	binary.BigEndian.PutUint16(dst[14:16], h.Window)
	binary.BigEndian.PutUint16(dst[16:18], 0) // checksum filled below
	binary.BigEndian.PutUint16(dst[18:20], h.UrgentPtr)

	off := TCPHeaderLenNoOptions
	if opts.EmitMSS {
		dst[off] = optKindMSS
		dst[off+1] = 4
		binary.BigEndian.PutUint16(dst[off+2:off+4], opts.MSS)
		off += 4
	}
	if opts.EmitWindowScale {
		dst[off] = optKindWindowScale
		dst[off+1] = 3
		dst[off+2] = opts.WindowScale
		off += 3
	}
	for off < hdrLen {
		dst[off] = optKindNOP
		off++
	}
	copy(dst[hdrLen:total], payload)

	if !skipChecksum {
		sum := pseudoHeaderSum(src, dstAddr, uint16(total))
		sum = sum16(dst[:total], sum)
		binary.BigEndian.PutUint16(dst[16:18], finishChecksum(sum))
	}
	return total, nil
}
