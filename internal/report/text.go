package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
)

// FormatOptions controls the human-readable report.
type FormatOptions struct {
	Color        bool
	RankingLimit int // 0 prints every node
}

type textWriter struct {
	b      strings.Builder
	header *color.Color
	warn   *color.Color
}

func (t *textWriter) section(title string) {
	t.b.WriteString("\n")
	t.header.Fprintln(&t.b, title)
	t.b.WriteString(strings.Repeat("-", len(title)) + "\n")
}

func (t *textWriter) line(format string, args ...interface{}) {
	fmt.Fprintf(&t.b, "  "+format+"\n", args...)
}

func (t *textWriter) warning(format string, args ...interface{}) {
	t.warn.Fprintf(&t.b, "  WARNING: "+format+"\n", args...)
}

// Format writes the report for snap to w.
func Format(w io.Writer, snap Snapshot, opts FormatOptions) error {
	t := &textWriter{
		header: color.New(color.FgCyan, color.Bold),
		warn:   color.New(color.FgYellow, color.Bold),
	}
	if !opts.Color {
		t.header.DisableColor()
		t.warn.DisableColor()
	}

	title := "P2P NETWORK PERFORMANCE REPORT"
	t.header.Fprintln(&t.b, title)
	t.b.WriteString(strings.Repeat("=", len(title)) + "\n")
	if snap.RunID != "" {
		t.line("Run: %s", snap.RunID)
	}
	if !snap.GeneratedAt.IsZero() {
		t.line("Generated: %s", snap.GeneratedAt.UTC().Format(time.RFC3339))
	}
	if snap.LogsDir != "" {
		t.line("Logs: %s", snap.LogsDir)
	}
	t.line("Log sources: %d", snap.Sources)

	topo := snap.Topology
	t.section("NETWORK TOPOLOGY")
	t.line("Nodes: %d", topo.Nodes)
	t.line("Active links: %d", topo.ActiveLinks)
	t.line("Average degree: %.2f", topo.AvgDegree)
	t.line("Density: %.3f", topo.Density)

	msg := snap.Messages
	t.section("MESSAGE PROPAGATION")
	t.line("Unique messages: %d", msg.Unique)
	t.line("Total received: %d", msg.TotalReceived)
	t.line("Total forwarded: %d", msg.TotalForwarded)
	t.line("Forward ratio: %.3f", msg.ForwardRatio)
	t.line("Avg receivers per message: %.2f", msg.AvgReceiversPerMessage)
	t.line("Avg forward fan-out: %.2f", msg.AvgFanOut)
	if msg.OrphanForwards > 0 {
		t.warning("%d forwards reference messages never received", msg.OrphanForwards)
	}

	lat := snap.Latency
	t.section("LATENCY")
	if lat.Samples == 0 {
		t.line("No latency samples")
	} else {
		t.line("Samples: %d", lat.Samples)
		t.line("Mean: %.2f ms", lat.Mean)
		t.line("Median: %.2f ms", lat.Median)
		t.line("Std dev: %.2f ms", lat.StdDev)
		t.line("Min/Max: %.2f / %.2f ms", lat.Min, lat.Max)
		t.line("P95: %.2f ms%s", lat.P95, approx(lat.P95Approximate))
		t.line("P99: %.2f ms%s", lat.P99, approx(lat.P99Approximate))
	}

	rt := snap.Routing
	t.section("ROUTING")
	t.line("Average hops: %.2f", rt.AvgHops)
	t.line("Max hops: %d", rt.MaxHops)
	t.line("Multi-hop messages: %d (%.1f%%)", rt.MultiHopMessages, rt.MultiHopRatio*100)

	tp := snap.Throughput
	t.section("THROUGHPUT")
	t.line("Duration: %.2f s", tp.DurationSeconds)
	t.line("Messages/sec: %.2f", tp.MessagesPerSecond)
	t.line("Bytes/sec: %.2f", tp.BytesPerSecond)
	t.line("Peak messages/sec: %d", tp.PeakMessagesPerSecond)
	t.line("Total bytes: %d", tp.TotalBytes)
	t.line("Avg message size: %.1f bytes", tp.AvgMessageSize)

	st := snap.Stability
	t.section("CONNECTION STABILITY")
	t.line("Links seen: %d (active %d)", st.TotalLinks, st.ActiveLinks)
	t.line("Disconnects: %d", st.Disconnects)
	t.line("Mean connection interval: %.2f s", st.MeanIntervalSeconds)
	t.line("Uptime ratio: %.1f%%", st.UptimeRatio*100)
	if st.DuplicateAnnounces > 0 || st.UnmatchedCloses > 0 || st.SelfLinks > 0 {
		t.line("Anomalies: %d duplicate opens, %d unmatched closes, %d self links",
			st.DuplicateAnnounces, st.UnmatchedCloses, st.SelfLinks)
	}
	if len(st.MostStable) > 0 {
		t.line("Most stable links:")
		for _, l := range st.MostStable {
			t.line("  %s <-> %s: %.2f s, %d disconnects", l.A, l.B, l.DurationSeconds, l.Disconnects)
		}
	}

	lb := snap.LoadBalance
	t.section("LOAD BALANCE")
	t.line("Received min/max: %d / %d", lb.Min, lb.Max)
	t.line("Mean: %.2f  Std dev: %.2f", lb.Mean, lb.StdDev)
	t.line("Imbalance ratio: %s", lb.Imbalance)
	t.line("Coefficient of variation: %.3f", lb.CoefficientOfVariation)
	if lb.Imbalanced() {
		if lb.Imbalance.Defined {
			t.warning("load imbalance ratio %s exceeds %.0fx", lb.Imbalance, LoadBalanceWarnRatio)
		} else {
			t.warning("load imbalance ratio undefined, at least one node received nothing")
		}
	}

	if len(snap.TestTypes) > 0 {
		t.section("TEST TYPES")
		for _, tt := range snap.TestTypes {
			label := tt.Label
			if label == "" {
				label = "(none)"
			}
			t.line("%s: %d (%.1f%%)", label, tt.Count, tt.Percent)
		}
	}

	t.section("ERRORS")
	t.line("Total: %d", snap.Errors.Total)
	t.line("Rate: %.4f per received message", snap.Errors.Rate)

	ranking := snap.Ranking
	if opts.RankingLimit > 0 && len(ranking) > opts.RankingLimit {
		ranking = ranking[:opts.RankingLimit]
	}
	if len(ranking) > 0 {
		t.section(fmt.Sprintf("NODE RANKING (top %d)", len(ranking)))
		for _, n := range ranking {
			t.line("%2d. %s score=%.2f recv=%d fwd=%d latency=%.2fms degree=%d",
				n.Rank, n.NodeID, n.Score, n.Received, n.Forwarded, n.MeanLatency, n.Degree)
		}
	}

	in := snap.Ingest
	t.section("INGEST")
	t.line("Lines: %d  Events: %d", in.Lines, in.Events)
	t.line("Parse failures: %d  Foreign peers: %d", in.ParseFailures, in.ForeignPeers)
	if len(in.Unreadable) > 0 {
		t.warning("unreadable sources: %s", strings.Join(in.Unreadable, ", "))
	}
	if len(in.Duplicates) > 0 {
		t.warning("duplicate sources ignored: %s", strings.Join(in.Duplicates, ", "))
	}

	_, err := io.WriteString(w, t.b.String())
	return err
}

func approx(b bool) string {
	if b {
		return " (max, sample too small)"
	}
	return ""
}
