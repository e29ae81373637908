// File: internal/tcpstate/passive.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// PassiveSocket implements the listen-backlog/SYN-ACK handshake,
// grounded directly on original_source/.../tcp/passive_open.rs's
// PassiveSocket.receive: an in-flight map keyed by remote endpoint and
// window-scale/MSS negotiation. Window scaling is enabled only when the
// remote's SYN carries a window-scale option; the remote's advertised
// MSS is taken as-is, and FALLBACK_MSS applies when it advertises none.

package tcpstate

import (
	"net/netip"
	"time"

	"github.com/momentics/kbecho/internal/headers"
)

// FallbackMSS is the agreed MSS when the remote does not advertise an
// MSS option. An advertised MSS is used as-is, without clamping.
const FallbackMSS = 536

type inflightAccept struct {
	localISN            headers.SeqNum
	remoteISN           headers.SeqNum
	headerWindowSize    uint16
	remoteWindowScale   uint8
	hasRemoteWindowScale bool
	mss                 int
}

// PassiveConfig carries the locally-configured knobs the handshake
// negotiates against the remote's advertised options.
type PassiveConfig struct {
	WindowScale  uint8
	ReceiveWindow uint32
	AckDelay     time.Duration
}

// PassiveSocket holds the listen endpoint, backlog, in-flight map, and
// ISN generator.
type PassiveSocket struct {
	Local       netip.AddrPort
	MaxBacklog  int
	inflight    map[netip.AddrPort]inflightAccept
	isn         ISNGenerator
	cfg         PassiveConfig
}

// NewPassiveSocket constructs a listening socket bound to local.
func NewPassiveSocket(local netip.AddrPort, maxBacklog int, nonce uint32, cfg PassiveConfig) *PassiveSocket {
	return &PassiveSocket{
		Local:      local,
		MaxBacklog: maxBacklog,
		inflight:   make(map[netip.AddrPort]inflightAccept),
		isn:        NewISNGenerator(nonce),
		cfg:        cfg,
	}
}

// HandshakeOutcome is what Receive wants the caller (the dispatcher) to
// do next.
type HandshakeOutcome struct {
	// SynAck is non-nil when a SYN+ACK segment must be transmitted
	// synchronously by the caller, immediately after Receive returns.
	SynAck *Segment
	// CB is non-nil when the handshake has completed and a fresh TCB
	// is ready to be inserted into the flow directory.
	CB *ControlBlock
}

// Receive processes one incoming segment against the passive-open
// state machine: a pure ACK completing an in-flight handshake, a fresh
// valid SYN with backlog room, a fresh SYN with no backlog room, or
// any other flag combination, which is rejected.
func (p *PassiveSocket) Receive(remote netip.AddrPort, localMAC, remoteMAC headers.MAC, h headers.TCP, now time.Time) (HandshakeOutcome, error) {
	if acc, ok := p.inflight[remote]; ok {
		return p.finishHandshake(remote, localMAC, remoteMAC, acc, h)
	}

	if !h.HasFlag(headers.FlagSYN) || h.HasFlag(headers.FlagACK) || h.HasFlag(headers.FlagRST) {
		return HandshakeOutcome{}, ErrBadFlags
	}

	if len(p.inflight) >= p.MaxBacklog {
		return HandshakeOutcome{}, ErrBacklogFull
	}

	localISN := p.isn.Generate(p.Local, remote)
	remoteISN := headers.SeqNum(h.SeqNum)

	remoteWindowScale, hasScale := uint8(0), false
	mss := FallbackMSS
	if h.Opts.HasWindowScale {
		remoteWindowScale, hasScale = h.Opts.WindowScale, true
	}
	if h.Opts.HasMSS {
		mss = int(h.Opts.MSS)
	}

	p.inflight[remote] = inflightAccept{
		localISN:  localISN,
		remoteISN: remoteISN,
		headerWindowSize: h.Window,
		remoteWindowScale: remoteWindowScale,
		hasRemoteWindowScale: hasScale,
		mss: mss,
	}

	synAck := &Segment{Header: headers.TCP{
		SrcPort: h.DstPort,
		DstPort: h.SrcPort,
		SeqNum:  uint32(localISN),
		AckNum:  uint32(remoteISN) + 1,
		Flags:   headers.FlagSYN | headers.FlagACK,
		Window:  0xffff,
		Opts: headers.Options{
			HasMSS: true, MSS: 0xffff,
			HasWindowScale: true, WindowScale: p.cfg.WindowScale,
		},
	}}
	return HandshakeOutcome{SynAck: synAck}, nil
}

func (p *PassiveSocket) finishHandshake(remote netip.AddrPort, localMAC, remoteMAC headers.MAC, acc inflightAccept, h headers.TCP) (HandshakeOutcome, error) {
	if !h.HasFlag(headers.FlagACK) {
		return HandshakeOutcome{}, ErrBadHandshakeAck
	}
	if headers.SeqNum(h.AckNum) != acc.localISN.Add(1) {
		return HandshakeOutcome{}, ErrBadHandshakeAck
	}

	localWindowScale := uint8(0)
	remoteWindowScale := uint8(0)
	if acc.hasRemoteWindowScale {
		localWindowScale = p.cfg.WindowScale
		remoteWindowScale = acc.remoteWindowScale
	}
	remoteWindowSize := uint32(acc.headerWindowSize) << remoteWindowScale
	localWindowSize := p.cfg.ReceiveWindow << localWindowScale

	delete(p.inflight, remote)

	cb := New(p.Local, remote, localMAC, remoteMAC,
		acc.remoteISN.Add(1), localWindowSize, localWindowScale,
		acc.localISN.Add(1), remoteWindowSize, remoteWindowScale,
		acc.mss, p.cfg.AckDelay)
	return HandshakeOutcome{CB: cb}, nil
}

// BacklogDepth reports the number of in-flight (half-open) connections.
func (p *PassiveSocket) BacklogDepth() int {
	return len(p.inflight)
}
