// File: cmd/echoserver/main.go
// The echoserver binary wires one dispatcher core and N worker cores
// together over a chosen pmd.Backend and runs until signaled.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Grounded on examples/lowlevel/echo/main.go's flag-parsing and
// signal-driven shutdown shape, generalized from a single reactor/
// server pair into a dispatcher plus a fixed-size worker pool, each
// pinned to its own core via affinity.SetAffinity.

package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/momentics/kbecho/affinity"
	"github.com/momentics/kbecho/config"
	"github.com/momentics/kbecho/internal/barrier"
	"github.com/momentics/kbecho/internal/dispatch"
	"github.com/momentics/kbecho/internal/fakework"
	"github.com/momentics/kbecho/internal/headers"
	"github.com/momentics/kbecho/internal/mbuf"
	"github.com/momentics/kbecho/internal/metrics"
	"github.com/momentics/kbecho/internal/pmd"
	"github.com/momentics/kbecho/internal/pmd/afpacket"
	"github.com/momentics/kbecho/internal/pmd/fakepmd"
	"github.com/momentics/kbecho/internal/ring"
	"github.com/momentics/kbecho/internal/tcpstate"
	"github.com/momentics/kbecho/internal/worker"
)

// headerPoolSize covers Ethernet+IPv4+TCP headers with options slack;
// body buffers are sized per-MTU separately by mbuf.Manager.
const headerPoolSize = 128

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "echoserver: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	serverAddr := flag.String("server", ":9000", "listen address host:port")
	iface := flag.String("iface", "", "interface name for the afpacket backend (empty = in-memory fakepmd loopback)")
	metricsAddr := flag.String("metrics", "", "optional Prometheus /metrics listen address")
	flag.Parse()

	args := flag.Args()
	if len(args) < 3 {
		return fmt.Errorf("usage: echoserver --server <addr:port> <core-list> <nr_workers> <fakework-spec> [<distribution>]")
	}
	coreList, err := parseCoreList(args[0])
	if err != nil {
		return err
	}
	nWorkers, err := strconv.Atoi(args[1])
	if err != nil || nWorkers <= 0 {
		return fmt.Errorf("bad nr_workers %q", args[1])
	}
	spec, err := fakework.Parse(args[2])
	if err != nil {
		return err
	}
	if len(coreList) < nWorkers+1 {
		return fmt.Errorf("core-list has %d entries, need at least %d (1 dispatcher + %d workers)", len(coreList), nWorkers+1, nWorkers)
	}

	cfgFile := config.Default()
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		cfgFile, err = config.Load(path)
		if err != nil {
			return err
		}
	}

	_, portStr, err := net.SplitHostPort(*serverAddr)
	if err != nil {
		return fmt.Errorf("bad --server address %q: %w", *serverAddr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("bad port in %q: %w", *serverAddr, err)
	}

	log, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer log.Sync()

	reg := metrics.NewRegistry(prometheus.DefaultRegisterer)
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}

	identity, err := resolveIdentity(cfgFile)
	if err != nil {
		return err
	}

	pool := mbuf.NewManager(headerPoolSize, cfgFile.Protocol.MTU, cfgFile.Runtime.MbufPoolCapacity)
	backend, err := buildBackend(*iface, pool, nWorkers)
	if err != nil {
		return err
	}
	defer backend.Close()

	rings := make([]*ring.SPSCRing[dispatch.WorkItem], nWorkers)
	idleFlags := make([]*dispatch.IdleFlag, nWorkers)
	closedRings := make([]*ring.SPSCRing[netip.AddrPort], nWorkers)
	for i := range rings {
		rings[i] = ring.New[dispatch.WorkItem](cfgFile.Runtime.RingCapacity)
		idleFlags[i] = &dispatch.IdleFlag{}
		closedRings[i] = ring.New[netip.AddrPort](cfgFile.Runtime.RingCapacity)
	}

	dcfg := dispatch.Config{
		Identity:        dispatch.Identity{MAC: identity.mac, IP: identity.ip},
		ListenPort:      uint16(port),
		MaxBacklog:      cfgFile.Runtime.RingCapacity * nWorkers,
		NWorkers:        nWorkers,
		RingCapacity:    cfgFile.Runtime.RingCapacity,
		QueueWorkDepth:  cfgFile.Runtime.QueueWorkDepth,
		ReceiveBatch:    cfgFile.Runtime.ReceiveBatch,
		ChecksumOffload: cfgFile.Protocol.ChecksumOffload,
		Passive: tcpstate.PassiveConfig{
			WindowScale:   uint8(cfgFile.Protocol.WindowScale),
			ReceiveWindow: uint32(cfgFile.Protocol.ReceiveWindow),
			AckDelay:      durationMillis(cfgFile.Protocol.AckDelayMillis),
		},
		ISNNonce: isnNonce(),
	}
	d := dispatch.New(dcfg, backend, pool, rings, idleFlags, closedRings, reg, log.Named("dispatch"))
	if err := d.InstallFlowSteering(); err != nil {
		return fmt.Errorf("install flow steering: %w", err)
	}

	workers := make([]*worker.Worker, nWorkers)
	for i := range workers {
		workers[i] = worker.New(worker.Config{
			ID:              i,
			NUMANode:        -1,
			FakeWork:        spec,
			ChecksumOffload: cfgFile.Protocol.ChecksumOffload,
		}, rings[i], idleFlags[i], closedRings[i], backend, pool, reg, log.Named(fmt.Sprintf("worker.%d", i)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Each pinned goroutine fires its Signal once affinity is set, so
	// the parent knows every core has pinned before declaring startup
	// complete, the way a real PMD bring-up would confirm every RX/TX
	// thread landed on its intended core before flow steering goes live.
	ready := make([]*barrier.Signal, nWorkers+1)
	for i := range ready {
		ready[i] = barrier.NewSignal()
	}

	errCh := make(chan error, nWorkers+1)
	go func() {
		affinity.SetAffinity(coreList[0])
		ready[0].Fire()
		errCh <- d.Run(ctx)
	}()
	for i, w := range workers {
		i, w := i, w
		go func() {
			affinity.SetAffinity(coreList[i+1])
			ready[i+1].Fire()
			errCh <- w.Run(ctx)
		}()
	}
	for _, r := range ready {
		r.Wait()
	}

	log.Info("echoserver started",
		zap.String("listen", *serverAddr), zap.Int("workers", nWorkers),
		zap.String("fakework", spec.String()), zap.Ints("cores", coreList))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		log.Info("shutting down")
		cancel()
	case err := <-errCh:
		cancel()
		if err != nil && err != context.Canceled {
			return err
		}
	}
	return nil
}

// durationMillis converts a millisecond count from config into a
// time.Duration, defaulting to 40ms (the standard delayed-ACK window)
// when the config leaves it at zero.
func durationMillis(ms int) time.Duration {
	if ms <= 0 {
		ms = 40
	}
	return time.Duration(ms) * time.Millisecond
}

// isnNonce derives a per-process ISN generator seed from the process
// start time, matching original_source/.../isn_generator.rs's intent
// (a nonce that differs across restarts) without depending on any
// particular entropy source being available in a sandboxed PMD test
// environment.
func isnNonce() uint32 {
	return uint32(time.Now().UnixNano())
}

// parseCoreList parses a comma-separated list of logical CPU indices,
// e.g. "0,1,2,3".
func parseCoreList(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("bad core-list entry %q: %w", p, err)
		}
		out = append(out, n)
	}
	return out, nil
}

type hostIdentity struct {
	mac headers.MAC
	ip  headers.IPv4Addr
}

// resolveIdentity derives this host's Ethernet/IPv4 identity from the
// loaded config, falling back to the named interface's kernel-assigned
// addresses when the config leaves them blank.
func resolveIdentity(cfgFile config.File) (hostIdentity, error) {
	var id hostIdentity
	if cfgFile.Network.LocalMAC != "" {
		mac, err := net.ParseMAC(cfgFile.Network.LocalMAC)
		if err != nil {
			return id, err
		}
		copy(id.mac[:], mac)
	}
	if cfgFile.Network.LocalIPv4 != "" {
		ip := net.ParseIP(cfgFile.Network.LocalIPv4).To4()
		if ip == nil {
			return id, fmt.Errorf("bad local_ipv4 %q", cfgFile.Network.LocalIPv4)
		}
		copy(id.ip[:], ip)
	}
	if cfgFile.Network.Interface == "" || (cfgFile.Network.LocalMAC != "" && cfgFile.Network.LocalIPv4 != "") {
		return id, nil
	}
	iface, err := net.InterfaceByName(cfgFile.Network.Interface)
	if err != nil {
		return id, fmt.Errorf("resolve interface %q: %w", cfgFile.Network.Interface, err)
	}
	if cfgFile.Network.LocalMAC == "" {
		copy(id.mac[:], iface.HardwareAddr)
	}
	if cfgFile.Network.LocalIPv4 == "" {
		addrs, err := iface.Addrs()
		if err != nil {
			return id, err
		}
		for _, a := range addrs {
			if ipnet, ok := a.(*net.IPNet); ok {
				if ip4 := ipnet.IP.To4(); ip4 != nil {
					copy(id.ip[:], ip4)
					break
				}
			}
		}
	}
	return id, nil
}

// buildBackend selects the afpacket backend when an interface name is
// given, and the in-memory fakepmd loopback otherwise.
func buildBackend(iface string, pool *mbuf.Manager, nWorkers int) (pmd.Backend, error) {
	if iface == "" {
		b := fakepmd.New()
		if err := b.Init(nWorkers, nWorkers); err != nil {
			return nil, err
		}
		return b, nil
	}
	b := afpacket.New(afpacket.Config{IfaceName: iface, Pools: pool, NUMANode: -1})
	if err := b.Init(nWorkers, nWorkers); err != nil {
		return nil, err
	}
	return b, nil
}
