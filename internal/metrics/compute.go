package metrics

import (
	"math"
	"sort"
	"time"

	"p2pscope/internal/config"
	"p2pscope/internal/engine"
	"p2pscope/internal/model"
	"p2pscope/internal/report"
)

// Ranking weights.
const (
	weightReceived  = 0.3
	weightForwarded = 0.4
	weightLatency   = 0.2
	weightDegree    = 0.1
)

// Options carries the run metadata and tunables of Compute.
type Options struct {
	RunID          string
	GeneratedAt    time.Time
	LogsDir        string
	TopStableLinks int // <= 0 uses the default
}

// Compute derives the snapshot from a finished ingestion state. It does not
// modify st.
func Compute(st *engine.State, opts Options) report.Snapshot {
	nodes := st.Nodes.List()
	messages := st.Flow.Messages()
	degrees := degreeMap(st, nodes)

	snap := report.Snapshot{
		RunID:       opts.RunID,
		GeneratedAt: opts.GeneratedAt,
		LogsDir:     opts.LogsDir,
		Sources:     len(st.Sources),
		Ingest:      ingest(st),
		Topology:    topologyMetrics(nodes, degrees, len(st.Topology.ActiveLinks())),
		Messages:    messageMetrics(st, nodes, messages),
		Latency:     Summarize(allLatencies(nodes)),
		Routing:     routing(messages),
		Throughput:  throughput(st.Flow.Series()),
		Stability:   stability(st, opts.TopStableLinks),
		LoadBalance: loadBalance(nodes),
	}
	snap.Errors = errorMetrics(nodes, snap.Messages.TotalReceived)
	snap.TestTypes = testTypes(nodes, snap.Messages.TotalReceived)
	snap.Ranking = ranking(nodes, degrees)
	snap.Nodes = nodeSummaries(nodes, degrees)
	snap.MessageSummaries = messageSummaries(messages)
	return snap
}

func degreeMap(st *engine.State, nodes []*model.NodeRecord) map[string]int {
	degrees := make(map[string]int, len(nodes))
	for _, n := range nodes {
		degrees[n.ID] = 0
	}
	for id, peers := range st.Topology.Adjacency() {
		degrees[id] = len(peers)
	}
	return degrees
}

func ingest(st *engine.State) report.Ingest {
	in := report.Ingest{
		Lines:         st.Ingest.Lines,
		Events:        st.Ingest.Events,
		Unrecognized:  st.Ingest.Unrecognized,
		ForeignPeers:  st.Ingest.ForeignPeers,
		ParseFailures: st.Ingest.FailureTotal(),
		Unreadable:    sortedCopy(st.Unreadable),
		Duplicates:    sortedCopy(st.Duplicates),
	}
	if len(st.Ingest.Failures) > 0 {
		in.FailuresByKind = make(map[string]int, len(st.Ingest.Failures))
		for k, n := range st.Ingest.Failures {
			in.FailuresByKind[k.String()] = n
		}
	}
	return in
}

func sortedCopy(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

func topologyMetrics(nodes []*model.NodeRecord, degrees map[string]int, active int) report.Topology {
	n := len(nodes)
	t := report.Topology{Nodes: n, ActiveLinks: active, Degrees: degrees}
	if n > 0 {
		t.AvgDegree = 2 * float64(active) / float64(n)
	}
	if n > 1 {
		t.Density = 2 * float64(active) / (float64(n) * float64(n-1))
	}
	return t
}

func messageMetrics(st *engine.State, nodes []*model.NodeRecord, messages []model.MessageRecord) report.Messages {
	m := report.Messages{
		Unique:         len(messages),
		OrphanForwards: len(st.Flow.Orphans()),
	}
	for _, n := range nodes {
		m.TotalReceived += n.Received
		m.TotalForwarded += n.Forwarded
	}
	if m.TotalReceived > 0 {
		m.ForwardRatio = float64(m.TotalForwarded) / float64(m.TotalReceived)
	}

	receivers, forwards, fanOut := 0, 0, 0
	for _, rec := range messages {
		receivers += len(rec.Receivers)
		forwards += len(rec.Forwarders)
		fanOut += rec.FanOut
	}
	if len(messages) > 0 {
		m.AvgReceiversPerMessage = float64(receivers) / float64(len(messages))
	}
	if forwards > 0 {
		m.AvgFanOut = float64(fanOut) / float64(forwards)
	}
	return m
}

func allLatencies(nodes []*model.NodeRecord) []int64 {
	var out []int64
	for _, n := range nodes {
		out = append(out, n.Latencies...)
	}
	return out
}

// routing summarises the highest hop each message reached.
func routing(messages []model.MessageRecord) report.Routing {
	var r report.Routing
	highest := make([]int, 0, len(messages))
	for _, rec := range messages {
		if len(rec.Receivers) == 0 {
			continue
		}
		highest = append(highest, rec.HighestHop())
	}
	if len(highest) == 0 {
		return r
	}
	total := 0
	for _, h := range highest {
		total += h
		r.MaxHops = max(r.MaxHops, h)
		if h > 0 {
			r.MultiHopMessages++
		}
	}
	r.AvgHops = float64(total) / float64(len(highest))
	r.MultiHopRatio = float64(r.MultiHopMessages) / float64(len(highest))
	return r
}

// throughput expects series sorted by timestamp.
func throughput(series []model.Sample) report.Throughput {
	var t report.Throughput
	if len(series) == 0 {
		return t
	}
	for _, s := range series {
		t.TotalBytes += s.Size
	}
	t.AvgMessageSize = float64(t.TotalBytes) / float64(len(series))

	first := series[0].Timestamp
	spanMs := series[len(series)-1].Timestamp - first
	t.DurationSeconds = float64(spanMs) / 1000
	if t.DurationSeconds > 0 {
		t.MessagesPerSecond = float64(len(series)) / t.DurationSeconds
		t.BytesPerSecond = float64(t.TotalBytes) / t.DurationSeconds
	}

	// Sorted input keeps each one-second window contiguous.
	window, count := int64(0), 0
	for _, s := range series {
		w := (s.Timestamp - first) / 1000
		if w != window {
			window, count = w, 0
		}
		count++
		t.PeakMessagesPerSecond = max(t.PeakMessagesPerSecond, count)
	}
	return t
}

// observedSpan covers every connection and message timestamp.
func observedSpan(st *engine.State) (first, last int64, ok bool) {
	cf, cl, cok := st.Topology.Span()
	mf, ml, mok := st.Flow.Span()
	switch {
	case cok && mok:
		return min(cf, mf), max(cl, ml), true
	case cok:
		return cf, cl, true
	case mok:
		return mf, ml, true
	}
	return 0, 0, false
}

type linkDuration struct {
	lifetime model.ConnectionLifetime
	total    int64
}

func stability(st *engine.State, top int) report.Stability {
	if top <= 0 {
		top = config.DefaultTopStableLinks
	}
	ts := st.Topology.Stats()
	s := report.Stability{
		TotalLinks:         ts.TotalLinks,
		ActiveLinks:        ts.ActiveLinks,
		Disconnects:        ts.Disconnects,
		Closes:             ts.Closes,
		DuplicateAnnounces: ts.DuplicateAnnounces,
		UnmatchedCloses:    ts.UnmatchedCloses,
		SelfLinks:          ts.SelfLinks,
	}

	first, last, ok := observedSpan(st)
	if !ok {
		return s
	}
	spanMs := last - first
	s.ObservedSeconds = float64(spanMs) / 1000

	lifetimes := st.Topology.Lifetimes()
	links := make([]linkDuration, 0, len(lifetimes))
	var sum int64
	intervals := 0
	for _, l := range lifetimes {
		for _, iv := range l.Intervals {
			sum += iv.Duration(last)
			intervals++
		}
		links = append(links, linkDuration{lifetime: l, total: l.TotalDuration(last)})
	}
	if intervals > 0 {
		s.MeanIntervalSeconds = float64(sum) / float64(intervals) / 1000
	}
	if spanMs > 0 && len(lifetimes) > 0 {
		s.UptimeRatio = float64(sum) / (float64(spanMs) * float64(len(lifetimes)))
	}

	sort.Slice(links, func(i, j int) bool {
		a, b := links[i], links[j]
		if a.lifetime.Disconnects != b.lifetime.Disconnects {
			return a.lifetime.Disconnects < b.lifetime.Disconnects
		}
		if a.total != b.total {
			return a.total > b.total
		}
		return a.lifetime.Key.Less(b.lifetime.Key)
	})
	if len(links) > top {
		links = links[:top]
	}
	for _, l := range links {
		s.MostStable = append(s.MostStable, report.LinkStability{
			A:               l.lifetime.Key.A,
			B:               l.lifetime.Key.B,
			DurationSeconds: float64(l.total) / 1000,
			Disconnects:     l.lifetime.Disconnects,
			Active:          l.lifetime.Active(),
		})
	}
	return s
}

func loadBalance(nodes []*model.NodeRecord) report.LoadBalance {
	lb := report.LoadBalance{Imbalance: report.UndefinedRatio()}
	if len(nodes) == 0 {
		return lb
	}

	values := make([]float64, 0, len(nodes))
	lb.Min = nodes[0].Received
	for _, n := range nodes {
		values = append(values, float64(n.Received))
		lb.Min = min(lb.Min, n.Received)
		lb.Max = max(lb.Max, n.Received)
	}
	sort.Float64s(values)
	lb.Mean = mean(values)
	lb.StdDev = stddev(values)
	if lb.Min > 0 {
		lb.Imbalance = report.DefinedRatio(float64(lb.Max) / float64(lb.Min))
	}
	if lb.Mean > 0 {
		lb.CoefficientOfVariation = lb.StdDev / lb.Mean
	}
	return lb
}

func errorMetrics(nodes []*model.NodeRecord, received int) report.Errors {
	var e report.Errors
	for _, n := range nodes {
		e.Total += n.Errors
	}
	if received > 0 {
		e.Rate = float64(e.Total) / float64(received)
	}
	return e
}

func testTypes(nodes []*model.NodeRecord, received int) []report.TestTypeCount {
	counts := make(map[string]int)
	for _, n := range nodes {
		for label, c := range n.TestTypes {
			counts[label] += c
		}
	}
	out := make([]report.TestTypeCount, 0, len(counts))
	for label, c := range counts {
		tc := report.TestTypeCount{Label: label, Count: c}
		if received > 0 {
			tc.Percent = float64(c) / float64(received) * 100
		}
		out = append(out, tc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// score weighs a node's activity, responsiveness and connectivity.
// Nodes without latency samples are treated as 1 ms.
func score(received, forwarded int, meanLatency float64, degree int) float64 {
	return weightReceived*float64(received) +
		weightForwarded*float64(forwarded) +
		weightLatency*(1000/math.Max(meanLatency, 1)) +
		weightDegree*float64(degree)
}

func ranking(nodes []*model.NodeRecord, degrees map[string]int) []report.NodeScore {
	out := make([]report.NodeScore, 0, len(nodes))
	for _, n := range nodes {
		lat := meanOf(n.Latencies)
		out = append(out, report.NodeScore{
			NodeID:      n.ID,
			Index:       n.Index,
			Score:       score(n.Received, n.Forwarded, lat, degrees[n.ID]),
			Received:    n.Received,
			Forwarded:   n.Forwarded,
			MeanLatency: lat,
			Degree:      degrees[n.ID],
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].NodeID < out[j].NodeID
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

func nodeSummaries(nodes []*model.NodeRecord, degrees map[string]int) []report.NodeSummary {
	out := make([]report.NodeSummary, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, report.NodeSummary{
			NodeID:      n.ID,
			Index:       n.Index,
			Degree:      degrees[n.ID],
			Received:    n.Received,
			Forwarded:   n.Forwarded,
			Sent:        n.Sent,
			Errors:      n.Errors,
			MeanLatency: meanOf(n.Latencies),
		})
	}
	return out
}

func messageSummaries(messages []model.MessageRecord) []report.MessageSummary {
	out := make([]report.MessageSummary, 0, len(messages))
	for _, rec := range messages {
		out = append(out, report.MessageSummary{
			MessageID:   rec.ID,
			Origin:      rec.Origin,
			TestType:    rec.TestType,
			MaxHops:     rec.MaxHops,
			HighestHop:  rec.HighestHop(),
			Receivers:   len(rec.Receivers),
			Forwarders:  len(rec.Forwarders),
			MeanLatency: meanOf(rec.Latencies),
			Size:        rec.Size,
		})
	}
	return out
}
