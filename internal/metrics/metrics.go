// Package metrics defines the engine's Prometheus collectors on a dedicated
// registry, served by the API server's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry holds every meshwatch collector. The server exposes it instead of
// the global default registry.
var Registry = prometheus.NewRegistry()

var (
	PacketsReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "meshwatch",
		Name:      "packets_received_total",
		Help:      "Raw packet envelopes received from the mesh transport.",
	})

	NormalizeFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "meshwatch",
		Name:      "normalize_failures_total",
		Help:      "Packets dropped because normalization failed.",
	})

	RecordsApplied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meshwatch",
		Name:      "records_applied_total",
		Help:      "Normalized records applied to the node store, by kind.",
	}, []string{"kind"})

	NodesKnown = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "meshwatch",
		Name:      "nodes_known",
		Help:      "Nodes currently present in the store.",
	})

	NodesOnline = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "meshwatch",
		Name:      "nodes_online",
		Help:      "Nodes currently considered online.",
	})

	AlertsFired = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meshwatch",
		Name:      "alerts_fired_total",
		Help:      "Alert rule transitions into the firing state, by rule.",
	}, []string{"rule"})

	BroadcastsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "meshwatch",
		Name:      "broadcasts_sent_total",
		Help:      "Outgoing transport sends, heartbeats and immediate included.",
	})

	BroadcastDecodeFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "meshwatch",
		Name:      "broadcast_decode_failures_total",
		Help:      "Inbound status broadcasts discarded as malformed.",
	})

	SnapshotWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meshwatch",
		Name:      "snapshot_writes_total",
		Help:      "Snapshot write attempts, by result.",
	}, []string{"result"})

	LogRowsWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "meshwatch",
		Name:      "log_rows_written_total",
		Help:      "Telemetry history rows appended to per-node CSV logs.",
	})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		PacketsReceived,
		NormalizeFailures,
		RecordsApplied,
		NodesKnown,
		NodesOnline,
		AlertsFired,
		BroadcastsSent,
		BroadcastDecodeFailures,
		SnapshotWrites,
		LogRowsWritten,
	)
}
