package metrics

import (
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"p2pscope/internal/report"
)

const promNamespace = "p2p"

func gauge(reg *prometheus.Registry, name, help string, value float64) {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: promNamespace, Name: name, Help: help})
	g.Set(value)
	reg.MustRegister(g)
}

func gaugeVec(reg *prometheus.Registry, name, help string, labels ...string) *prometheus.GaugeVec {
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: promNamespace, Name: name, Help: help}, labels)
	reg.MustRegister(g)
	return g
}

// PromRegistry exposes the headline values of snap as gauges.
func PromRegistry(snap report.Snapshot) *prometheus.Registry {
	reg := prometheus.NewRegistry()

	info := gaugeVec(reg, "run_info", "Analysis run metadata.", "run_id")
	info.WithLabelValues(snap.RunID).Set(1)

	gauge(reg, "nodes", "Nodes seen in the logs.", float64(snap.Topology.Nodes))
	gauge(reg, "active_links", "Links open at the end of the run.", float64(snap.Topology.ActiveLinks))
	gauge(reg, "network_density", "Active links over possible links.", snap.Topology.Density)
	gauge(reg, "messages_unique", "Distinct messages received anywhere.", float64(snap.Messages.Unique))
	gauge(reg, "messages_received", "Receive events.", float64(snap.Messages.TotalReceived))
	gauge(reg, "messages_forwarded", "Forward events.", float64(snap.Messages.TotalForwarded))
	gauge(reg, "orphan_forwards", "Forwards of messages never received.", float64(snap.Messages.OrphanForwards))
	gauge(reg, "throughput_messages_per_second", "Receives per second over the run.", snap.Throughput.MessagesPerSecond)
	gauge(reg, "throughput_peak_messages_per_second", "Busiest one-second window.", float64(snap.Throughput.PeakMessagesPerSecond))
	gauge(reg, "connection_uptime_ratio", "Link uptime over the observed span.", snap.Stability.UptimeRatio)
	gauge(reg, "connection_disconnects", "Link reopen count.", float64(snap.Stability.Disconnects))
	gauge(reg, "errors", "Error lines in node logs.", float64(snap.Errors.Total))
	gauge(reg, "parse_failures", "Recognised lines that failed to decode.", float64(snap.Ingest.ParseFailures))
	if snap.LoadBalance.Imbalance.Defined {
		gauge(reg, "load_imbalance_ratio", "Max over min received per node.", snap.LoadBalance.Imbalance.Value)
	}

	lat := gaugeVec(reg, "latency_ms", "Delivery latency statistics.", "stat")
	if snap.Latency.Samples > 0 {
		lat.WithLabelValues("mean").Set(snap.Latency.Mean)
		lat.WithLabelValues("median").Set(snap.Latency.Median)
		lat.WithLabelValues("p95").Set(snap.Latency.P95)
		lat.WithLabelValues("p99").Set(snap.Latency.P99)
		lat.WithLabelValues("max").Set(snap.Latency.Max)
	}

	received := gaugeVec(reg, "node_received", "Receives per node.", "node")
	forwarded := gaugeVec(reg, "node_forwarded", "Forwards per node.", "node")
	degree := gaugeVec(reg, "node_degree", "Active links per node.", "node")
	for _, n := range snap.Nodes {
		received.WithLabelValues(n.NodeID).Set(float64(n.Received))
		forwarded.WithLabelValues(n.NodeID).Set(float64(n.Forwarded))
		degree.WithLabelValues(n.NodeID).Set(float64(n.Degree))
	}
	scores := gaugeVec(reg, "node_score", "Composite node ranking score.", "node")
	for _, n := range snap.Ranking {
		scores.WithLabelValues(n.NodeID).Set(n.Score)
	}

	return reg
}

// WriteTextfile writes snap in the node_exporter textfile format.
func WriteTextfile(path string, snap report.Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return prometheus.WriteToTextfile(path, PromRegistry(snap))
}
