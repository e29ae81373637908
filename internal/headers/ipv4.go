// File: internal/headers/ipv4.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// IPv4 header parse/serialize (no options). Checksum is computed
// unless the caller indicates hardware offload handled it.

package headers

import (
	"encoding/binary"
	"errors"
)

const IPv4HeaderLen = 20

// ProtoTCP is the IPv4 protocol number for TCP.
const ProtoTCP uint8 = 6

var (
	ErrShortIPv4      = errors.New("headers: ipv4 header too short")
	ErrBadIPv4Version = errors.New("headers: ipv4 bad version")
	ErrBadIPv4Checksum = errors.New("headers: ipv4 bad checksum")
)

// IPv4Addr is a 4-byte IPv4 address.
type IPv4Addr [4]byte

// IPv4 is a parsed IPv4 header; options are not supported.
type IPv4 struct {
	TotalLen uint16
	ID       uint16
	TTL      uint8
	Protocol uint8
	Checksum uint16
	Src      IPv4Addr
	Dst      IPv4Addr
}

// ParseIPv4 parses an IPv4 header. If checksumVerified is false the
// checksum is recomputed and validated against the wire value.
func ParseIPv4(buf []byte, checksumVerified bool) (IPv4, int, error) {
	if len(buf) < IPv4HeaderLen {
		return IPv4{}, 0, ErrShortIPv4
	}
	versionIHL := buf[0]
	if versionIHL>>4 != 4 {
		return IPv4{}, 0, ErrBadIPv4Version
	}
	ihl := int(versionIHL&0x0f) * 4
	if ihl != IPv4HeaderLen {
		// options present; not supported, but still parse the fixed
		// part so the caller can decide to drop.
		if len(buf) < ihl {
			return IPv4{}, 0, ErrShortIPv4
		}
	}

	var h IPv4
	h.TotalLen = binary.BigEndian.Uint16(buf[2:4])
	h.ID = binary.BigEndian.Uint16(buf[4:6])
	h.TTL = buf[8]
	h.Protocol = buf[9]
	h.Checksum = binary.BigEndian.Uint16(buf[10:12])
	copy(h.Src[:], buf[12:16])
	copy(h.Dst[:], buf[16:20])

	if !checksumVerified {
		sum := sum16(buf[:IPv4HeaderLen], 0)
		if finishChecksum(sum) != 0 {
			return IPv4{}, 0, ErrBadIPv4Checksum
		}
	}
	return h, ihl, nil
}

// Serialize writes the header (no options) into dst and fills the
// checksum field unless skipChecksum is set (hardware offload).
func (h IPv4) Serialize(dst []byte, skipChecksum bool) (int, error) {
	if len(dst) < IPv4HeaderLen {
		return 0, ErrShortIPv4
	}
	dst[0] = 0x45 // version 4, IHL 5
	dst[1] = 0
	binary.BigEndian.PutUint16(dst[2:4], h.TotalLen)
	binary.BigEndian.PutUint16(dst[4:6], h.ID)
	binary.BigEndian.PutUint16(dst[6:8], 0) // no fragmentation
	dst[8] = h.TTL
	dst[9] = h.Protocol
	dst[10] = 0
	dst[11] = 0
	copy(dst[12:16], h.Src[:])
	copy(dst[16:20], h.Dst[:])
	if !skipChecksum {
		sum := sum16(dst[:IPv4HeaderLen], 0)
		binary.BigEndian.PutUint16(dst[10:12], finishChecksum(sum))
	}
	return IPv4HeaderLen, nil
}
