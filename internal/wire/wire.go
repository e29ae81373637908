// File: internal/wire/wire.go
// Package wire turns tcpstate.Segment values and flat TCP header
// options into actual Ethernet+IPv4+TCP frames backed by pool mbufs,
// and parses received frames back into their component headers. It is
// the one place the dispatcher and worker packages both reach for when
// they need bytes on the wire instead of a state-machine value.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Grounded on protocol/frame_codec.go's layered (header, consumed,
// error) parse contract, generalized across three stacked headers
// instead of one WebSocket frame.

package wire

import (
	"github.com/momentics/kbecho/internal/headers"
	"github.com/momentics/kbecho/internal/mbuf"
)

// maxTCPOptionsLen bounds the options this core ever emits: MSS (4) +
// window scale (3), padded to a 4-byte boundary.
const maxTCPOptionsLen = 8

// Identity is the local/remote link- and network-layer addressing a
// frame is built against.
type Identity struct {
	LocalMAC, RemoteMAC headers.MAC
	LocalIP, RemoteIP   headers.IPv4Addr
}

// Build serializes one outbound Ethernet+IPv4+TCP frame into an mbuf
// drawn from pool: tcpHdr carries the 5-tuple/seq/ack/flags/window,
// opts carries any handshake options, and payload is the segment body
// (possibly empty, e.g. a pure ACK).
func Build(pool *mbuf.Pool, id Identity, tcpHdr headers.TCP, opts headers.SerializeOpts, payload []byte, checksumOffload bool) (*mbuf.Mbuf, error) {
	maxTotal := headers.EthernetHeaderLen + headers.IPv4HeaderLen + headers.TCPHeaderLenNoOptions + maxTCPOptionsLen + len(payload)

	m, err := pool.AllocBody()
	if err != nil {
		return nil, err
	}
	buf, err := m.Frame(maxTotal)
	if err != nil {
		m.Release()
		return nil, err
	}

	tcpOff := headers.EthernetHeaderLen + headers.IPv4HeaderLen
	tcpTotal, err := tcpHdr.Serialize(buf[tcpOff:], id.LocalIP, id.RemoteIP, opts, payload, checksumOffload)
	if err != nil {
		m.Release()
		return nil, err
	}

	ip := headers.IPv4{
		TotalLen: uint16(headers.IPv4HeaderLen + tcpTotal),
		TTL:      64,
		Protocol: headers.ProtoTCP,
		Src:      id.LocalIP,
		Dst:      id.RemoteIP,
	}
	if _, err := ip.Serialize(buf[headers.EthernetHeaderLen:tcpOff], checksumOffload); err != nil {
		m.Release()
		return nil, err
	}

	eth := headers.Ethernet{Dst: id.RemoteMAC, Src: id.LocalMAC, EtherType: headers.EtherTypeIPv4}
	if _, err := eth.Serialize(buf[:headers.EthernetHeaderLen]); err != nil {
		m.Release()
		return nil, err
	}

	total := headers.EthernetHeaderLen + headers.IPv4HeaderLen + tcpTotal
	if _, err := m.Frame(total); err != nil {
		m.Release()
		return nil, err
	}
	return m, nil
}

// Parsed is one fully-decoded inbound frame.
type Parsed struct {
	Eth     headers.Ethernet
	IP      headers.IPv4
	TCP     headers.TCP
	Payload []byte
}

// Parse decodes an Ethernet+IPv4+TCP frame from buf. checksumVerified
// should be true when the NIC (or AF_PACKET's software path) already
// validated the checksums, skipping the redundant recompute.
func Parse(buf []byte, checksumVerified bool) (Parsed, error) {
	var out Parsed
	eth, n, err := headers.ParseEthernet(buf)
	if err != nil {
		return out, err
	}
	out.Eth = eth
	rest := buf[n:]

	ip, n2, err := headers.ParseIPv4(rest, checksumVerified)
	if err != nil {
		return out, err
	}
	out.IP = ip
	rest = rest[n2:]
	if int(ip.TotalLen) > n2 && int(ip.TotalLen)-n2 <= len(rest) {
		rest = rest[:int(ip.TotalLen)-n2]
	}

	tcp, n3, err := headers.ParseTCP(rest, ip.Src, ip.Dst, checksumVerified)
	if err != nil {
		return out, err
	}
	out.TCP = tcp
	out.Payload = rest[n3:]
	return out, nil
}
