package topology

import (
	"errors"
	"sort"

	"p2pscope/internal/events"
	"p2pscope/internal/model"
)

// ErrNotConnection is returned by Apply for non-connection events.
var ErrNotConnection = errors.New("not a connection event")

// Stats summarises link history and the anomalies met while replaying it.
type Stats struct {
	TotalLinks         int
	ActiveLinks        int
	Disconnects        int
	Closes             int
	DuplicateAnnounces int
	UnmatchedCloses    int
	SelfLinks          int
}

type observation struct {
	open     bool
	key      model.ConnectionKey
	reporter string
	ts       int64
}

func (o observation) less(p observation) bool {
	if o.ts != p.ts {
		return o.ts < p.ts
	}
	if o.open != p.open {
		return !o.open
	}
	if o.key != p.key {
		return o.key.Less(p.key)
	}
	return o.reporter < p.reporter
}

// Reconstructor derives per-link lifetimes from connection events.
//
// Observations are kept as recorded and replayed in timestamp order when the
// result is read, so the outcome does not depend on source or line order.
type Reconstructor struct {
	obs       []observation
	selfLinks int

	settled   bool
	lifetimes map[model.ConnectionKey]*model.ConnectionLifetime
	stats     Stats
}

// New returns an empty reconstructor.
func New() *Reconstructor {
	return &Reconstructor{}
}

// Apply records a connection event.
func (r *Reconstructor) Apply(ev events.Event) error {
	var open bool
	switch ev.Kind {
	case events.KindConnEstablished:
		open = true
	case events.KindConnClosed:
	default:
		return ErrNotConnection
	}
	if ev.Node == ev.Peer {
		r.selfLinks++
		return nil
	}
	r.obs = append(r.obs, observation{
		open:     open,
		key:      model.NewConnectionKey(ev.Node, ev.Peer),
		reporter: ev.Node,
		ts:       ev.Timestamp,
	})
	r.settled = false
	return nil
}

func (r *Reconstructor) settle() {
	if r.settled {
		return
	}
	ordered := make([]observation, len(r.obs))
	copy(ordered, r.obs)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].less(ordered[j]) })

	lifetimes := make(map[model.ConnectionKey]*model.ConnectionLifetime)
	st := Stats{SelfLinks: r.selfLinks}
	for _, o := range ordered {
		l := lifetimes[o.key]
		if l == nil {
			if !o.open {
				st.UnmatchedCloses++
				continue
			}
			l = &model.ConnectionLifetime{Key: o.key}
			lifetimes[o.key] = l
		}

		switch {
		case o.open && l.Active():
			st.DuplicateAnnounces++
		case o.open:
			if len(l.Intervals) > 0 {
				l.Disconnects++
				st.Disconnects++
			}
			l.Intervals = append(l.Intervals, model.Interval{Start: o.ts, Open: true})
		case l.Active():
			last := &l.Intervals[len(l.Intervals)-1]
			last.End = o.ts
			last.Open = false
			st.Closes++
		default:
			st.UnmatchedCloses++
		}
	}

	st.TotalLinks = len(lifetimes)
	for _, l := range lifetimes {
		if l.Active() {
			st.ActiveLinks++
		}
	}
	r.lifetimes = lifetimes
	r.stats = st
	r.settled = true
}

// Lifetimes returns every link's history sorted by key.
func (r *Reconstructor) Lifetimes() []model.ConnectionLifetime {
	r.settle()
	out := make([]model.ConnectionLifetime, 0, len(r.lifetimes))
	for _, l := range r.lifetimes {
		cp := *l
		cp.Intervals = append([]model.Interval(nil), l.Intervals...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Less(out[j].Key) })
	return out
}

// ActiveLinks returns the keys of links currently open, sorted.
func (r *Reconstructor) ActiveLinks() []model.ConnectionKey {
	r.settle()
	out := make([]model.ConnectionKey, 0, len(r.lifetimes))
	for k, l := range r.lifetimes {
		if l.Active() {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Adjacency returns the symmetric neighbour sets of the active links.
func (r *Reconstructor) Adjacency() map[string][]string {
	adj := make(map[string][]string)
	for _, k := range r.ActiveLinks() {
		adj[k.A] = append(adj[k.A], k.B)
		adj[k.B] = append(adj[k.B], k.A)
	}
	for _, peers := range adj {
		sort.Strings(peers)
	}
	return adj
}

// Degree returns the number of active links touching node.
func (r *Reconstructor) Degree(node string) int {
	r.settle()
	n := 0
	for k, l := range r.lifetimes {
		if l.Active() && (k.A == node || k.B == node) {
			n++
		}
	}
	return n
}

// Stats returns link counters after replay.
func (r *Reconstructor) Stats() Stats {
	r.settle()
	return r.stats
}

// Span returns the earliest and latest connection timestamps.
func (r *Reconstructor) Span() (first, last int64, ok bool) {
	for i, o := range r.obs {
		if i == 0 || o.ts < first {
			first = o.ts
		}
		if i == 0 || o.ts > last {
			last = o.ts
		}
	}
	return first, last, len(r.obs) > 0
}
