package metrics

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"p2pscope/internal/config"
	"p2pscope/internal/engine"
	"p2pscope/internal/model"
	"p2pscope/internal/report"
)

type logSource struct {
	node  string
	lines []string
}

func ingestLogs(t *testing.T, sources ...logSource) *engine.State {
	t.Helper()
	e := engine.New(config.DefaultNamespace(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	for _, src := range sources {
		if err := e.Ingest(src.node, strings.NewReader(strings.Join(src.lines, "\n"))); err != nil {
			t.Fatalf("Ingest %s: %v", src.node, err)
		}
	}
	return e.State()
}

var fixedOpts = Options{RunID: "run", GeneratedAt: time.Unix(1700000000, 0).UTC()}

func TestCompute_EmptyState(t *testing.T) {
	t.Parallel()

	snap := Compute(engine.NewState(config.DefaultNamespace()), fixedOpts)
	if snap.Topology.Nodes != 0 || snap.Topology.Density != 0 || snap.Topology.AvgDegree != 0 {
		t.Fatalf("topology=%+v", snap.Topology)
	}
	if snap.Messages.Unique != 0 || snap.Latency.Samples != 0 || snap.Throughput.PeakMessagesPerSecond != 0 {
		t.Fatalf("snapshot=%+v", snap)
	}
	if snap.LoadBalance.Imbalance.Defined || snap.LoadBalance.CoefficientOfVariation != 0 {
		t.Fatalf("load balance=%+v", snap.LoadBalance)
	}
	if snap.Stability.UptimeRatio != 0 || len(snap.Stability.MostStable) != 0 {
		t.Fatalf("stability=%+v", snap.Stability)
	}
}

func TestCompute_EmptySources(t *testing.T) {
	t.Parallel()

	st := ingestLogs(t, logSource{node: "node-10001"}, logSource{node: "node-10002"})
	snap := Compute(st, fixedOpts)
	if snap.Sources != 2 || snap.Topology.Nodes != 2 {
		t.Fatalf("sources=%d nodes=%d", snap.Sources, snap.Topology.Nodes)
	}
	if snap.Topology.ActiveLinks != 0 || snap.Messages.TotalReceived != 0 {
		t.Fatalf("snapshot=%+v", snap)
	}
	if len(snap.Ranking) != 2 || snap.Ranking[0].NodeID != "node-10001" {
		t.Fatalf("ranking=%+v", snap.Ranking)
	}
}

func TestCompute_Topology(t *testing.T) {
	t.Parallel()

	st := ingestLogs(t, logSource{node: "node-10001", lines: []string{
		"CONN_ESTABLISHED|0|node-10001|/127.0.0.1:10002|1",
		"CONN_ESTABLISHED|0|node-10001|/127.0.0.1:10003|2",
	}}, logSource{node: "node-10003"})
	snap := Compute(st, fixedOpts)

	if snap.Topology.Nodes != 3 || snap.Topology.ActiveLinks != 2 {
		t.Fatalf("topology=%+v", snap.Topology)
	}
	if !near(snap.Topology.AvgDegree, 4.0/3.0) || !near(snap.Topology.Density, 2.0/3.0) {
		t.Fatalf("avg degree=%.4f density=%.4f", snap.Topology.AvgDegree, snap.Topology.Density)
	}
	if snap.Topology.Degrees["node-10001"] != 2 || snap.Topology.Degrees["node-10002"] != 1 {
		t.Fatalf("degrees=%v", snap.Topology.Degrees)
	}
}

func TestCompute_ThreeNodeRelay(t *testing.T) {
	t.Parallel()

	st := ingestLogs(t,
		logSource{node: "node-10001", lines: []string{"CONN_ESTABLISHED|0|node-10001|/127.0.0.1:10002|1"}},
		logSource{node: "node-10002", lines: []string{"CONN_ESTABLISHED|0|node-10002|/127.0.0.1:10003|1"}},
		logSource{node: "node-10003", lines: []string{"MSG_RECEIVED|10|node-10003|msg1|node-10001|2|5|50|broadcast|64"}},
	)
	snap := Compute(st, fixedOpts)

	if snap.Topology.ActiveLinks != 2 {
		t.Fatalf("active links=%d", snap.Topology.ActiveLinks)
	}
	c, ok := st.Nodes.Get("node-10003")
	if !ok || c.Received != 1 {
		t.Fatalf("node-10003=%+v ok=%v", c, ok)
	}
	rec, ok := st.Flow.Message("msg1")
	if !ok {
		t.Fatalf("msg1 missing")
	}
	want := []model.Hop{{Node: "node-10003", Hops: 2, Timestamp: 10}}
	if diff := cmp.Diff(want, rec.Receivers); diff != "" {
		t.Fatalf("receivers (-want +got):\n%s", diff)
	}
	if snap.Latency.Mean != 50 {
		t.Fatalf("mean latency=%.2f", snap.Latency.Mean)
	}
}

func TestScore_Formula(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name                string
		received, forwarded int
		latency             float64
		degree              int
		want                float64
	}{
		{name: "all terms", received: 10, forwarded: 5, latency: 50, degree: 2, want: 9.2},
		{name: "forwarding outweighs receiving", received: 0, forwarded: 10, latency: 1000, degree: 0, want: 4.2},
		{name: "receiving only", received: 10, forwarded: 0, latency: 1000, degree: 0, want: 3.2},
		{name: "degree unscaled", received: 0, forwarded: 0, latency: 1000, degree: 7, want: 0.9},
		{name: "latency floored at 1 ms", received: 0, forwarded: 0, latency: 0, degree: 0, want: 200},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := score(tt.received, tt.forwarded, tt.latency, tt.degree); !near(got, tt.want) {
				t.Fatalf("score=%.4f want=%.4f", got, tt.want)
			}
		})
	}
}

func TestRouting_HighestHopPerMessage(t *testing.T) {
	t.Parallel()

	receivers := func(hops ...int) []model.Hop {
		out := make([]model.Hop, 0, len(hops))
		for i, h := range hops {
			out = append(out, model.Hop{Node: "node-1000" + string(rune('1'+i)), Hops: h})
		}
		return out
	}
	tests := []struct {
		name     string
		messages []model.MessageRecord
		want     report.Routing
	}{
		{
			name:     "empty",
			messages: nil,
			want:     report.Routing{},
		},
		{
			name: "average of per-message maxima",
			messages: []model.MessageRecord{
				{ID: "m1", Receivers: receivers(1, 3)},
				{ID: "m2", Receivers: receivers(1)},
			},
			want: report.Routing{AvgHops: 2, MaxHops: 3, MultiHopMessages: 2, MultiHopRatio: 1},
		},
		{
			name: "zero hops are not multi-hop",
			messages: []model.MessageRecord{
				{ID: "m1", Receivers: receivers(0, 0)},
				{ID: "m2", Receivers: receivers(0, 2)},
			},
			want: report.Routing{AvgHops: 1, MaxHops: 2, MultiHopMessages: 1, MultiHopRatio: 0.5},
		},
		{
			name: "messages without receivers are skipped",
			messages: []model.MessageRecord{
				{ID: "m1"},
				{ID: "m2", Receivers: receivers(4)},
			},
			want: report.Routing{AvgHops: 4, MaxHops: 4, MultiHopMessages: 1, MultiHopRatio: 1},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if diff := cmp.Diff(tt.want, routing(tt.messages)); diff != "" {
				t.Fatalf("routing (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCompute_RankingTieBreak(t *testing.T) {
	t.Parallel()

	st := ingestLogs(t,
		logSource{node: "node-10002", lines: []string{"MSG_RECEIVED|10|node-10002|m1|node-10009|1|5|10|ping|64"}},
		logSource{node: "node-10001", lines: []string{"MSG_RECEIVED|10|node-10001|m1|node-10009|1|5|10|ping|64"}},
	)
	snap := Compute(st, fixedOpts)
	if len(snap.Ranking) != 3 {
		t.Fatalf("ranking=%+v", snap.Ranking)
	}
	// the origin never received anything and is scored as a 1 ms node
	if snap.Ranking[0].NodeID != "node-10009" {
		t.Fatalf("ranking=%+v", snap.Ranking)
	}
	a, b := snap.Ranking[1], snap.Ranking[2]
	if a.NodeID != "node-10001" || b.NodeID != "node-10002" || a.Score != b.Score {
		t.Fatalf("ranking=%+v", snap.Ranking)
	}
	if a.Rank != 2 || b.Rank != 3 {
		t.Fatalf("ranks=%d/%d", a.Rank, b.Rank)
	}
}

func TestCompute_LoadBalanceUndefined(t *testing.T) {
	t.Parallel()

	var a, b []string
	for i := 0; i < 10; i++ {
		a = append(a, "MSG_RECEIVED|10|node-10001|m1|node-10003|1|5|10|ping|64")
		b = append(b, "MSG_RECEIVED|10|node-10002|m1|node-10003|1|5|10|ping|64")
	}
	st := ingestLogs(t,
		logSource{node: "node-10001", lines: a},
		logSource{node: "node-10002", lines: b},
		logSource{node: "node-10003"},
	)
	lb := Compute(st, fixedOpts).LoadBalance
	if lb.Imbalance.Defined {
		t.Fatalf("imbalance=%v", lb.Imbalance)
	}
	if lb.Min != 0 || lb.Max != 10 || !near(lb.Mean, 20.0/3.0) {
		t.Fatalf("load balance=%+v", lb)
	}
	if lb.CoefficientOfVariation <= 0 {
		t.Fatalf("cv=%.4f", lb.CoefficientOfVariation)
	}
}

func TestCompute_LoadBalanceDefined(t *testing.T) {
	t.Parallel()

	st := ingestLogs(t,
		logSource{node: "node-10001", lines: []string{
			"MSG_RECEIVED|10|node-10001|m1|node-10002|1|5|10|ping|64",
			"MSG_RECEIVED|20|node-10001|m2|node-10002|1|5|10|ping|64",
			"MSG_RECEIVED|30|node-10001|m3|node-10002|1|5|10|ping|64",
		}},
		logSource{node: "node-10002", lines: []string{
			"MSG_RECEIVED|10|node-10002|m4|node-10001|1|5|10|ping|64",
		}},
	)
	lb := Compute(st, fixedOpts).LoadBalance
	if !lb.Imbalance.Defined || lb.Imbalance.Value != 3 {
		t.Fatalf("imbalance=%v", lb.Imbalance)
	}
}

func TestCompute_Throughput(t *testing.T) {
	t.Parallel()

	st := ingestLogs(t, logSource{node: "node-10001", lines: []string{
		"MSG_RECEIVED|1000|node-10001|m1|node-10002|1|5|10|ping|100",
		"MSG_RECEIVED|1500|node-10001|m2|node-10002|1|5|10|ping|200",
		"MSG_RECEIVED|3000|node-10001|m3|node-10002|1|5|10|ping|300",
	}})
	tp := Compute(st, fixedOpts).Throughput
	if tp.DurationSeconds != 2 || tp.MessagesPerSecond != 1.5 || tp.BytesPerSecond != 300 {
		t.Fatalf("throughput=%+v", tp)
	}
	if tp.PeakMessagesPerSecond != 2 || tp.TotalBytes != 600 || tp.AvgMessageSize != 200 {
		t.Fatalf("throughput=%+v", tp)
	}
}

func TestCompute_ThroughputSingleInstant(t *testing.T) {
	t.Parallel()

	st := ingestLogs(t, logSource{node: "node-10001", lines: []string{
		"MSG_RECEIVED|1000|node-10001|m1|node-10002|1|5|10|ping|100",
		"MSG_RECEIVED|1000|node-10001|m2|node-10002|1|5|10|ping|100",
	}})
	tp := Compute(st, fixedOpts).Throughput
	if tp.DurationSeconds != 0 || tp.MessagesPerSecond != 0 || tp.PeakMessagesPerSecond != 2 {
		t.Fatalf("throughput=%+v", tp)
	}
}

func TestCompute_ThroughputHugeSpan(t *testing.T) {
	t.Parallel()

	st := ingestLogs(t, logSource{node: "node-10001", lines: []string{
		"MSG_RECEIVED|0|node-10001|m1|node-10002|1|5|10|ping|100",
		"MSG_RECEIVED|1700000000000|node-10001|m2|node-10002|1|5|10|ping|100",
		"MSG_RECEIVED|1700000000500|node-10001|m3|node-10002|1|5|10|ping|100",
		"MSG_RECEIVED|9000000000000000000|node-10001|m4|node-10002|1|5|10|ping|100",
	}})
	tp := Compute(st, fixedOpts).Throughput
	if tp.PeakMessagesPerSecond != 2 || tp.TotalBytes != 400 {
		t.Fatalf("throughput=%+v", tp)
	}
	if tp.DurationSeconds != 9e15 {
		t.Fatalf("duration=%v", tp.DurationSeconds)
	}
}

func TestCompute_Stability(t *testing.T) {
	t.Parallel()

	st := ingestLogs(t, logSource{node: "node-10001", lines: []string{
		"CONN_ESTABLISHED|0|node-10001|/127.0.0.1:10002|1",
		"CONN_CLOSED|100|node-10001|/127.0.0.1:10002|0",
		"CONN_ESTABLISHED|200|node-10001|/127.0.0.1:10002|1",
		"CONN_ESTABLISHED|250|node-10001|/127.0.0.1:10003|2",
		"MSG_RECEIVED|300|node-10001|m1|node-10002|1|5|10|ping|64",
	}})
	s := Compute(st, fixedOpts).Stability
	if s.TotalLinks != 2 || s.ActiveLinks != 2 || s.Disconnects != 1 || s.Closes != 1 {
		t.Fatalf("stability=%+v", s)
	}
	// intervals: 100 + 100 + 50 ms over a 300 ms span and two links
	if !near(s.MeanIntervalSeconds, 250.0/3.0/1000) {
		t.Fatalf("mean interval=%.6f", s.MeanIntervalSeconds)
	}
	if !near(s.UptimeRatio, 250.0/600.0) {
		t.Fatalf("uptime=%.6f", s.UptimeRatio)
	}
	want := []report.LinkStability{
		{A: "node-10001", B: "node-10003", DurationSeconds: 0.05, Disconnects: 0, Active: true},
		{A: "node-10001", B: "node-10002", DurationSeconds: 0.2, Disconnects: 1, Active: true},
	}
	if diff := cmp.Diff(want, s.MostStable); diff != "" {
		t.Fatalf("most stable (-want +got):\n%s", diff)
	}
}

func TestCompute_MessagesAndRouting(t *testing.T) {
	t.Parallel()

	st := ingestLogs(t,
		logSource{node: "node-10002", lines: []string{
			"MSG_RECEIVED|100|node-10002|m1|node-10001|1|5|10|broadcast|64",
			"MSG_FORWARDED|101|node-10002|m1|node-10001|2|3|64",
			"MSG_FORWARDED|150|node-10002|ghost|node-10001|2|3|64",
			"2024-01-01 00:00:00.000 Exception in thread main",
		}},
		logSource{node: "node-10003", lines: []string{
			"MSG_RECEIVED|120|node-10003|m1|node-10001|2|5|30|broadcast|64",
			"MSG_RECEIVED|130|node-10003|m2|node-10001|1|5|20|unicast|32",
		}},
	)
	snap := Compute(st, fixedOpts)

	m := snap.Messages
	if m.Unique != 2 || m.TotalReceived != 3 || m.TotalForwarded != 2 || m.OrphanForwards != 1 {
		t.Fatalf("messages=%+v", m)
	}
	if !near(m.ForwardRatio, 2.0/3.0) || m.AvgReceiversPerMessage != 1.5 || m.AvgFanOut != 3 {
		t.Fatalf("messages=%+v", m)
	}

	r := snap.Routing
	// m1 peaks at hop 2, m2 at hop 1
	if r.MaxHops != 2 || r.AvgHops != 1.5 || r.MultiHopMessages != 2 || r.MultiHopRatio != 1 {
		t.Fatalf("routing=%+v", r)
	}

	if snap.Errors.Total != 1 || !near(snap.Errors.Rate, 1.0/3.0) {
		t.Fatalf("errors=%+v", snap.Errors)
	}

	wantTypes := []report.TestTypeCount{
		{Label: "broadcast", Count: 2, Percent: 2.0 / 3.0 * 100},
		{Label: "unicast", Count: 1, Percent: 1.0 / 3.0 * 100},
	}
	if diff := cmp.Diff(wantTypes, snap.TestTypes); diff != "" {
		t.Fatalf("test types (-want +got):\n%s", diff)
	}

	if len(snap.MessageSummaries) != 2 {
		t.Fatalf("summaries=%+v", snap.MessageSummaries)
	}
	m1 := snap.MessageSummaries[0]
	if m1.MessageID != "m1" || m1.Receivers != 2 || m1.Forwarders != 1 || m1.HighestHop != 2 || m1.MeanLatency != 20 {
		t.Fatalf("m1=%+v", m1)
	}

	origin := snap.Nodes[0]
	if origin.NodeID != "node-10001" || origin.Sent != 2 {
		t.Fatalf("origin=%+v", origin)
	}
}

func TestCompute_SourceOrderIndependent(t *testing.T) {
	t.Parallel()

	a := logSource{node: "node-10001", lines: []string{
		"CONN_ESTABLISHED|0|node-10001|/127.0.0.1:10002|1",
		"MSG_FORWARDED|105|node-10001|m1|node-10003|2|1|64",
		"CONN_CLOSED|400|node-10001|/127.0.0.1:10002|0",
		"MSG_RECEIVED|1500|node-10001|m2|node-10002|1|5|7|unicast|16",
	}}
	b := logSource{node: "node-10002", lines: []string{
		"CONN_ESTABLISHED|2|node-10002|/127.0.0.1:10001|1",
		"MSG_RECEIVED|100|node-10002|m1|node-10003|1|5|10|broadcast|64",
		"CONN_ESTABLISHED|500|node-10002|/127.0.0.1:10001|1",
	}}
	c := logSource{node: "node-10003", lines: []string{
		"MSG_RECEIVED|90|node-10003|m1|node-10003|0|5|0|broadcast|64",
		"2024-01-01 00:00:00.000 ERROR lost peer",
	}}

	first := Compute(ingestLogs(t, a, b, c), fixedOpts)
	second := Compute(ingestLogs(t, c, b, a), fixedOpts)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("snapshots differ (-abc +cba):\n%s", diff)
	}
}
