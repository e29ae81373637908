// File: internal/metrics/metrics.go
// Package metrics is the Prometheus-backed counterpart to
// control.MetricsRegistry: instead of an any-typed map snapshot, it
// exposes a fixed set of named collectors registered once at startup
// and updated from the dispatcher/worker hot paths.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Grounded on control/metrics.go for which quantities matter
// (an updated-counters registry), rewired onto
// github.com/prometheus/client_golang collectors instead of a bespoke
// map, the way the pack's m-lab-tcp-info and runZeroInc-sockstats
// repos expose TCP-adjacent counters via client_golang rather than a
// homegrown registry.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the set of collectors this core updates. Unlike
// control.MetricsRegistry, field identities are fixed: there is no
// dynamic Set(key, value) escape hatch, since every quantity tracked
// here is known at compile time.
type Registry struct {
	PacketsReceived  prometheus.Counter
	PacketsSent      prometheus.Counter
	PacketsDropped   *prometheus.CounterVec
	Retransmissions  prometheus.Counter
	QueueWorkDepth   prometheus.Gauge
	RingFullEvents   *prometheus.CounterVec
	HandshakesDone   prometheus.Counter
	ActiveFlows      prometheus.Gauge
	OverflowDropped  prometheus.Counter
}

// NewRegistry constructs and registers every collector against reg. A
// caller typically passes prometheus.DefaultRegisterer or a fresh
// prometheus.NewRegistry() in tests to avoid collisions between
// parallel test processes.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		PacketsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kbecho", Name: "packets_received_total",
			Help: "Packets pulled off the NIC by rx_burst.",
		}),
		PacketsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kbecho", Name: "packets_sent_total",
			Help: "Packets handed to tx_burst.",
		}),
		PacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kbecho", Name: "packets_dropped_total",
			Help: "Packets dropped, labeled by reason.",
		}, []string{"reason"}),
		Retransmissions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kbecho", Name: "retransmissions_total",
			Help: "Segments re-sent after a retransmission timer fire.",
		}),
		QueueWorkDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kbecho", Name: "queue_work_depth",
			Help: "Current depth of the dispatcher overflow deque.",
		}),
		RingFullEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kbecho", Name: "ring_full_events_total",
			Help: "Times a worker's inbound ring rejected an enqueue, labeled by worker.",
		}, []string{"worker"}),
		HandshakesDone: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kbecho", Name: "handshakes_completed_total",
			Help: "Passive-open handshakes that reached Established.",
		}),
		ActiveFlows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kbecho", Name: "active_flows",
			Help: "Flows currently present in the flow directory.",
		}),
		OverflowDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kbecho", Name: "queue_work_dropped_total",
			Help: "Overflow entries discarded because queue_work itself was full.",
		}),
	}
	reg.MustRegister(
		r.PacketsReceived, r.PacketsSent, r.PacketsDropped, r.Retransmissions,
		r.QueueWorkDepth, r.RingFullEvents, r.HandshakesDone, r.ActiveFlows,
		r.OverflowDropped,
	)
	return r
}
