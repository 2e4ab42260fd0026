package model

import "fmt"

// NodeRecord is the per-node aggregate built during ingestion.
type NodeRecord struct {
	ID        string
	Index     int // ordinal within the node namespace, -1 when outside it
	Received  int
	Forwarded int
	Sent      int
	Errors    int
	Latencies []int64 // ms, arrival order
	TestTypes map[string]int
}

// ConnectionKey identifies an undirected link. A <= B always holds.
type ConnectionKey struct {
	A string
	B string
}

// NewConnectionKey canonicalises an unordered node pair.
func NewConnectionKey(x, y string) ConnectionKey {
	if y < x {
		x, y = y, x
	}
	return ConnectionKey{A: x, B: y}
}

func (k ConnectionKey) String() string {
	return fmt.Sprintf("%s <-> %s", k.A, k.B)
}

// Less orders keys lexicographically by (A, B).
func (k ConnectionKey) Less(o ConnectionKey) bool {
	if k.A != o.A {
		return k.A < o.A
	}
	return k.B < o.B
}

// Interval is one period during which a link was up.
type Interval struct {
	Start int64
	End   int64
	Open  bool
}

// Duration returns the interval length, closing open intervals at end.
func (iv Interval) Duration(end int64) int64 {
	stop := iv.End
	if iv.Open {
		stop = end
	}
	if stop < iv.Start {
		return 0
	}
	return stop - iv.Start
}

// ConnectionLifetime is the interval history of a link.
// At most one interval is open and it is always the last one.
type ConnectionLifetime struct {
	Key         ConnectionKey
	Intervals   []Interval
	Disconnects int
}

// Active reports whether the last interval is still open.
func (l ConnectionLifetime) Active() bool {
	n := len(l.Intervals)
	return n > 0 && l.Intervals[n-1].Open
}

// TotalDuration sums all interval durations, closing an open one at end.
func (l ConnectionLifetime) TotalDuration(end int64) int64 {
	var total int64
	for _, iv := range l.Intervals {
		total += iv.Duration(end)
	}
	return total
}

// Hop is one receiver or forwarder observation of a message.
type Hop struct {
	Node      string
	Hops      int
	Timestamp int64
}

// MessageRecord is the propagation trace of one logical message.
type MessageRecord struct {
	ID         string
	Origin     string
	MaxHops    int
	TestType   string
	Size       int64
	FirstSeen  int64
	Receivers  []Hop
	Forwarders []Hop
	Latencies  []int64
	FanOut     int // sum of channel counts over forwards
}

// HighestHop returns the largest hop count observed by any receiver.
func (m MessageRecord) HighestHop() int {
	highest := 0
	for _, h := range m.Receivers {
		if h.Hops > highest {
			highest = h.Hops
		}
	}
	return highest
}

// Sample is one entry of the global time series.
type Sample struct {
	Timestamp int64
	Size      int64
}
