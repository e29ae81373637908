// File: internal/dispatch/dispatcher.go
// Package dispatch implements the single core that owns the NIC: the
// listen socket's handshake, the established-flow directory, and one
// outbound ring per worker. It never touches an established TCB's
// state directly once that TCB has been handed to its worker.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Grounded on reactor/reactor.go's minimal Run(ctx)/poll-loop shape,
// generalized from a single-threaded connection list into a
// classify-and-hand-off loop across N worker rings, and on
// original_source/.../tcp/passive_open.rs for the handshake
// synchronous SYN+ACK reply this core keeps off the ring entirely.

package dispatch

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/kbecho/internal/flowsteer"
	"github.com/momentics/kbecho/internal/headers"
	"github.com/momentics/kbecho/internal/mbuf"
	"github.com/momentics/kbecho/internal/metrics"
	"github.com/momentics/kbecho/internal/pmd"
	"github.com/momentics/kbecho/internal/ring"
	"github.com/momentics/kbecho/internal/tcpstate"
	"github.com/momentics/kbecho/internal/wire"
)

// Identity is this host's link- and network-layer addressing, used to
// answer handshakes and to stamp every ControlBlock it admits.
type Identity struct {
	MAC headers.MAC
	IP  headers.IPv4Addr
}

// Config bundles everything the dispatcher needs to build and drive
// its rings, independent of the PMD backend chosen.
type Config struct {
	Identity        Identity
	ListenPort      uint16
	MaxBacklog      int
	NWorkers        int
	RingCapacity    int
	QueueWorkDepth  int
	ReceiveBatch    int
	ChecksumOffload bool
	Passive         tcpstate.PassiveConfig
	ISNNonce        uint32
}

// Dispatcher is the single core polling the NIC, classifying inbound
// frames, and handing established traffic off to worker rings.
type Dispatcher struct {
	cfg     Config
	backend pmd.Backend
	pool    *mbuf.Manager
	passive *tcpstate.PassiveSocket
	flowDir *FlowDirectory
	rings   []*ring.SPSCRing[WorkItem]
	idle    []*IdleFlag
	closed  []*ring.SPSCRing[netip.AddrPort]
	overflow *workQueue
	lastDropped uint64
	metrics *metrics.Registry
	log     *zap.Logger
}

// New constructs a Dispatcher. rings, idle and closed must each have
// length cfg.NWorkers and are shared with the corresponding workers:
// rings/idle carry work and backpressure to a worker, closed carries
// a remote endpoint back once that worker has torn its TCB down, so
// the dispatcher can forget it.
func New(cfg Config, backend pmd.Backend, pool *mbuf.Manager, rings []*ring.SPSCRing[WorkItem], idle []*IdleFlag, closed []*ring.SPSCRing[netip.AddrPort], reg *metrics.Registry, log *zap.Logger) *Dispatcher {
	local := netip.AddrPortFrom(netip.AddrFrom4(cfg.Identity.IP), cfg.ListenPort)
	return &Dispatcher{
		cfg:      cfg,
		backend:  backend,
		pool:     pool,
		passive:  tcpstate.NewPassiveSocket(local, cfg.MaxBacklog, cfg.ISNNonce, cfg.Passive),
		flowDir:  NewFlowDirectory(),
		rings:    rings,
		idle:     idle,
		closed:   closed,
		overflow: newWorkQueue(cfg.QueueWorkDepth),
		metrics:  reg,
		log:      log,
	}
}

// InstallFlowSteering computes and installs the source-port flow plan
// if the backend supports it; a no-op for backends without hardware
// steering support.
func (d *Dispatcher) InstallFlowSteering() error {
	steerer, ok := d.backend.(pmd.FlowSteerer)
	if !ok {
		return nil
	}
	return flowsteer.Install(steerer, flowsteer.Plan(d.cfg.NWorkers), d.cfg.NWorkers, d.log)
}

// Run polls until ctx is cancelled, sleeping briefly between empty
// cycles so an idle listener does not spin a core at 100%.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		did, err := d.PollOnce(time.Now())
		if err != nil {
			return err
		}
		if !did {
			time.Sleep(time.Millisecond)
		}
	}
}

// PollOnce runs exactly one poll cycle: drain queue_work, rx_burst,
// classify, hand off or re-queue, scan idle flags. It reports whether
// any work at all was observed, so Run can back off when idle.
func (d *Dispatcher) PollOnce(now time.Time) (bool, error) {
	did := d.drainOverflow()

	for q := 0; q < d.cfg.NWorkers; q++ {
		pkts, err := d.backend.RxBurst(q, d.cfg.ReceiveBatch)
		if err != nil {
			return did, fmt.Errorf("dispatch: rx_burst queue %d: %w", q, err)
		}
		for _, pkt := range pkts {
			did = true
			if err := d.classify(pkt, now); err != nil && d.log != nil {
				d.log.Debug("dropped inbound frame", zap.Error(err))
			}
		}
	}

	if d.drainClosedFlows() {
		did = true
	}
	d.scanIdleFlags()
	if d.metrics != nil {
		d.metrics.QueueWorkDepth.Set(float64(d.overflow.Len()))
	}
	if dropped := d.overflow.DroppedCount(); dropped > d.lastDropped {
		if d.metrics != nil {
			d.metrics.OverflowDropped.Add(float64(dropped - d.lastDropped))
		}
		if d.log != nil {
			d.log.Warn("queue_work full, dropped oldest entries", zap.Uint64("dropped", dropped-d.lastDropped))
		}
		d.lastDropped = dropped
	}
	return did, nil
}

// drainClosedFlows retires flow directory entries for connections a
// worker has fully torn down, the reverse-direction counterpart to
// handOff's forward ring.
func (d *Dispatcher) drainClosedFlows() bool {
	did := false
	for _, c := range d.closed {
		for {
			remote, ok := c.TryDequeue()
			if !ok {
				break
			}
			d.flowDir.Remove(remote)
			did = true
		}
	}
	if d.metrics != nil {
		d.metrics.ActiveFlows.Set(float64(d.flowDir.Len()))
	}
	return did
}

// drainOverflow retries queue_work entries in FIFO order, stopping at
// the first one whose target ring is still full so per-connection
// ordering is preserved.
func (d *Dispatcher) drainOverflow() bool {
	did := false
	for {
		pw, ok := d.overflow.Peek()
		if !ok {
			return did
		}
		if !d.rings[pw.workerIdx].TryEnqueue(pw.item) {
			return did
		}
		d.overflow.Pop()
		d.idle[pw.workerIdx].SetBusy()
		did = true
	}
}

func (d *Dispatcher) classify(pkt pmd.RxPacket, now time.Time) error {
	frame, err := wire.Parse(pkt.Mbuf.Data(), d.cfg.ChecksumOffload)
	if err != nil {
		pkt.Mbuf.Release()
		return err
	}
	if frame.TCP.DstPort != d.cfg.ListenPort {
		pkt.Mbuf.Release()
		return fmt.Errorf("dispatch: frame for unknown local port %d", frame.TCP.DstPort)
	}
	remote := netip.AddrPortFrom(netip.AddrFrom4(frame.IP.Src), frame.TCP.SrcPort)

	if workerIdx, ok := d.flowDir.Lookup(remote); ok {
		return d.handOff(workerIdx, remote, frame, pkt.Mbuf)
	}
	return d.handleListening(remote, frame, pkt.Mbuf, now)
}

// handOff routes one already-established segment to its owning
// worker's ring, falling back to queue_work if the ring is full.
func (d *Dispatcher) handOff(workerIdx int, remote netip.AddrPort, frame wire.Parsed, m *mbuf.Mbuf) error {
	item := WorkItem{Remote: remote, Header: frame.TCP, Payload: frame.Payload, Mbuf: m}
	if d.rings[workerIdx].TryEnqueue(item) {
		d.idle[workerIdx].SetBusy()
		return nil
	}
	if d.metrics != nil {
		d.metrics.RingFullEvents.WithLabelValues(fmt.Sprint(workerIdx)).Inc()
	}
	d.overflow.Push(workerIdx, item)
	return nil
}

// handleListening feeds a frame with no established flow yet into the
// passive socket's handshake state machine, replying synchronously to
// a SYN or completing SYN+ACK, and admitting the resulting TCB to its
// flow-steered worker once the handshake finishes.
func (d *Dispatcher) handleListening(remote netip.AddrPort, frame wire.Parsed, m *mbuf.Mbuf, now time.Time) error {
	defer m.Release()

	outcome, err := d.passive.Receive(remote, d.cfg.Identity.MAC, frame.Eth.Src, frame.TCP, now)
	if err != nil {
		if d.metrics != nil {
			d.metrics.PacketsDropped.WithLabelValues("handshake").Inc()
		}
		return err
	}

	if outcome.SynAck != nil {
		return d.sendSynAck(remote, frame.Eth.Src, outcome.SynAck)
	}

	if outcome.CB != nil {
		workerIdx := flowsteer.WorkerFor(remote.Port(), d.cfg.NWorkers)
		d.flowDir.Insert(remote, workerIdx)
		item := WorkItem{NewFlow: outcome.CB, Remote: remote}
		if !d.rings[workerIdx].TryEnqueue(item) {
			d.overflow.Push(workerIdx, item)
		} else {
			d.idle[workerIdx].SetBusy()
		}
		if d.metrics != nil {
			d.metrics.HandshakesDone.Inc()
			d.metrics.ActiveFlows.Set(float64(d.flowDir.Len()))
		}
	}
	return nil
}

func (d *Dispatcher) sendSynAck(remote netip.AddrPort, remoteMAC headers.MAC, seg *tcpstate.Segment) error {
	opts := headers.SerializeOpts{
		MSS: seg.Header.Opts.MSS, EmitMSS: seg.Header.Opts.HasMSS,
		WindowScale: seg.Header.Opts.WindowScale, EmitWindowScale: seg.Header.Opts.HasWindowScale,
	}
	id := wire.Identity{
		LocalMAC: d.cfg.Identity.MAC, RemoteMAC: remoteMAC,
		LocalIP: d.cfg.Identity.IP, RemoteIP: remote.Addr().As4(),
	}
	out, err := wire.Build(d.pool.PoolFor(0), id, seg.Header, opts, nil, d.cfg.ChecksumOffload)
	if err != nil {
		return fmt.Errorf("dispatch: build syn-ack: %w", err)
	}
	if d.metrics != nil {
		d.metrics.PacketsSent.Inc()
	}
	return d.backend.TxBurst(0, []*mbuf.Mbuf{out})
}

// scanIdleFlags claims every flag currently in Idle so it is not
// re-observed next cycle. The result is discarded: flow steering
// already pins a connection to one worker for its whole lifetime, and
// no metric or queue records which workers were idle.
func (d *Dispatcher) scanIdleFlags() {
	for _, f := range d.idle {
		f.ClaimIdle()
	}
}
