package flow

import (
	"errors"
	"sort"

	"p2pscope/internal/events"
	"p2pscope/internal/model"
)

// ErrNotMessage is returned by Apply for non-message events.
var ErrNotMessage = errors.New("not a message event")

// OrphanForward is a forward whose message was never received anywhere.
type OrphanForward struct {
	MessageID string
	Forwarder string
	Hops      int
	Timestamp int64
}

type seed struct {
	ts       int64
	receiver string
	hops     int
}

func (s seed) less(o seed) bool {
	if s.ts != o.ts {
		return s.ts < o.ts
	}
	if s.receiver != o.receiver {
		return s.receiver < o.receiver
	}
	return s.hops < o.hops
}

type pendingForward struct {
	hop      model.Hop
	channels int
}

// Tracker builds per-message propagation records and the global series.
type Tracker struct {
	nodes    *model.Registry
	messages map[string]*model.MessageRecord
	seeds    map[string]seed
	pending  map[string][]pendingForward
	series   []model.Sample
}

// New returns a tracker that updates node counters in nodes.
func New(nodes *model.Registry) *Tracker {
	return &Tracker{
		nodes:    nodes,
		messages: make(map[string]*model.MessageRecord),
		seeds:    make(map[string]seed),
		pending:  make(map[string][]pendingForward),
	}
}

// Apply records a received or forwarded event.
func (t *Tracker) Apply(ev events.Event) error {
	switch ev.Kind {
	case events.KindMsgReceived:
		t.received(ev)
	case events.KindMsgForwarded:
		t.forwarded(ev)
	default:
		return ErrNotMessage
	}
	return nil
}

func (t *Tracker) received(ev events.Event) {
	node := t.nodes.Ensure(ev.Node)
	node.Received++
	node.Latencies = append(node.Latencies, ev.Latency)
	node.TestTypes[ev.TestType]++

	s := seed{ts: ev.Timestamp, receiver: ev.Node, hops: ev.Hops}
	rec, ok := t.messages[ev.MessageID]
	if !ok {
		rec = &model.MessageRecord{ID: ev.MessageID}
		t.messages[ev.MessageID] = rec
		t.reseed(rec, s, ev)
		for _, pf := range t.pending[ev.MessageID] {
			rec.Forwarders = append(rec.Forwarders, pf.hop)
			rec.FanOut += pf.channels
		}
		delete(t.pending, ev.MessageID)
	} else if s.less(t.seeds[ev.MessageID]) {
		t.reseed(rec, s, ev)
	}

	rec.Receivers = append(rec.Receivers, model.Hop{Node: ev.Node, Hops: ev.Hops, Timestamp: ev.Timestamp})
	rec.Latencies = append(rec.Latencies, ev.Latency)
	t.series = append(t.series, model.Sample{Timestamp: ev.Timestamp, Size: ev.Size})
}

// reseed takes the message attributes from the earliest receive seen so far.
// The origin's sent counter follows the seed.
func (t *Tracker) reseed(rec *model.MessageRecord, s seed, ev events.Event) {
	if rec.Origin != ev.Origin {
		if rec.Origin != "" {
			t.nodes.Ensure(rec.Origin).Sent--
		}
		t.nodes.Ensure(ev.Origin).Sent++
	}
	rec.Origin = ev.Origin
	rec.TestType = ev.TestType
	rec.Size = ev.Size
	rec.MaxHops = ev.MaxHops
	rec.FirstSeen = ev.Timestamp
	t.seeds[rec.ID] = s
}

func (t *Tracker) forwarded(ev events.Event) {
	t.nodes.Ensure(ev.Node).Forwarded++

	hop := model.Hop{Node: ev.Node, Hops: ev.Hops, Timestamp: ev.Timestamp}
	rec, ok := t.messages[ev.MessageID]
	if !ok {
		t.pending[ev.MessageID] = append(t.pending[ev.MessageID], pendingForward{hop: hop, channels: ev.Channels})
		return
	}
	rec.Forwarders = append(rec.Forwarders, hop)
	rec.FanOut += ev.Channels
}

func sortHops(hops []model.Hop) {
	sort.Slice(hops, func(i, j int) bool {
		a, b := hops[i], hops[j]
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		if a.Node != b.Node {
			return a.Node < b.Node
		}
		return a.Hops < b.Hops
	})
}

// Messages returns copies of all records sorted by id, hops sorted by
// (timestamp, node, hops) and latencies ascending.
func (t *Tracker) Messages() []model.MessageRecord {
	out := make([]model.MessageRecord, 0, len(t.messages))
	for _, rec := range t.messages {
		cp := *rec
		cp.Receivers = append([]model.Hop(nil), rec.Receivers...)
		cp.Forwarders = append([]model.Hop(nil), rec.Forwarders...)
		cp.Latencies = append([]int64(nil), rec.Latencies...)
		sortHops(cp.Receivers)
		sortHops(cp.Forwarders)
		sort.Slice(cp.Latencies, func(i, j int) bool { return cp.Latencies[i] < cp.Latencies[j] })
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Message returns one record by id.
func (t *Tracker) Message(id string) (model.MessageRecord, bool) {
	rec, ok := t.messages[id]
	if !ok {
		return model.MessageRecord{}, false
	}
	return *rec, true
}

// Orphans returns forwards whose message never got a receive, sorted.
func (t *Tracker) Orphans() []OrphanForward {
	var out []OrphanForward
	for id, list := range t.pending {
		for _, pf := range list {
			out = append(out, OrphanForward{MessageID: id, Forwarder: pf.hop.Node, Hops: pf.hop.Hops, Timestamp: pf.hop.Timestamp})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.MessageID != b.MessageID {
			return a.MessageID < b.MessageID
		}
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		if a.Forwarder != b.Forwarder {
			return a.Forwarder < b.Forwarder
		}
		return a.Hops < b.Hops
	})
	return out
}

// Series returns the global series sorted by (timestamp, size).
func (t *Tracker) Series() []model.Sample {
	out := append([]model.Sample(nil), t.series...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].Size < out[j].Size
	})
	return out
}

// Span returns the earliest and latest receive timestamps.
func (t *Tracker) Span() (first, last int64, ok bool) {
	for i, s := range t.series {
		if i == 0 || s.Timestamp < first {
			first = s.Timestamp
		}
		if i == 0 || s.Timestamp > last {
			last = s.Timestamp
		}
	}
	return first, last, len(t.series) > 0
}
