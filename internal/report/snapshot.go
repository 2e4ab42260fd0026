package report

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Snapshot is the complete result of one analysis run.
type Snapshot struct {
	RunID            string           `yaml:"run_id" json:"run_id"`
	GeneratedAt      time.Time        `yaml:"generated_at" json:"generated_at"`
	LogsDir          string           `yaml:"logs_dir,omitempty" json:"logs_dir,omitempty"`
	Sources          int              `yaml:"sources" json:"sources"`
	Ingest           Ingest           `yaml:"ingest" json:"ingest"`
	Topology         Topology         `yaml:"topology" json:"topology"`
	Messages         Messages         `yaml:"messages" json:"messages"`
	Latency          Latency          `yaml:"latency" json:"latency"`
	Routing          Routing          `yaml:"routing" json:"routing"`
	Throughput       Throughput       `yaml:"throughput" json:"throughput"`
	Stability        Stability        `yaml:"stability" json:"stability"`
	LoadBalance      LoadBalance      `yaml:"load_balance" json:"load_balance"`
	Errors           Errors           `yaml:"errors" json:"errors"`
	TestTypes        []TestTypeCount  `yaml:"test_types" json:"test_types"`
	Ranking          []NodeScore      `yaml:"ranking" json:"ranking"`
	Nodes            []NodeSummary    `yaml:"nodes" json:"nodes"`
	MessageSummaries []MessageSummary `yaml:"message_summaries" json:"message_summaries"`
}

// Ingest records what was read and what was skipped.
type Ingest struct {
	Lines          int            `yaml:"lines" json:"lines"`
	Events         int            `yaml:"events" json:"events"`
	Unrecognized   int            `yaml:"unrecognized" json:"unrecognized"`
	ForeignPeers   int            `yaml:"foreign_peers" json:"foreign_peers"`
	ParseFailures  int            `yaml:"parse_failures" json:"parse_failures"`
	FailuresByKind map[string]int `yaml:"failures_by_kind,omitempty" json:"failures_by_kind,omitempty"`
	Unreadable     []string       `yaml:"unreadable,omitempty" json:"unreadable,omitempty"`
	Duplicates     []string       `yaml:"duplicates,omitempty" json:"duplicates,omitempty"`
}

type Topology struct {
	Nodes       int            `yaml:"nodes" json:"nodes"`
	ActiveLinks int            `yaml:"active_links" json:"active_links"`
	AvgDegree   float64        `yaml:"avg_degree" json:"avg_degree"`
	Density     float64        `yaml:"density" json:"density"`
	Degrees     map[string]int `yaml:"degrees" json:"degrees"`
}

type Messages struct {
	TotalReceived          int     `yaml:"total_received" json:"total_received"`
	TotalForwarded         int     `yaml:"total_forwarded" json:"total_forwarded"`
	Unique                 int     `yaml:"unique" json:"unique"`
	ForwardRatio           float64 `yaml:"forward_ratio" json:"forward_ratio"`
	AvgReceiversPerMessage float64 `yaml:"avg_receivers_per_message" json:"avg_receivers_per_message"`
	AvgFanOut              float64 `yaml:"avg_fan_out" json:"avg_fan_out"`
	OrphanForwards         int     `yaml:"orphan_forwards" json:"orphan_forwards"`
}

// Latency values are milliseconds. P95Approximate and P99Approximate are set
// when the sample was too small for the percentile and the max was reported.
type Latency struct {
	Samples        int     `yaml:"samples" json:"samples"`
	Mean           float64 `yaml:"mean_ms" json:"mean_ms"`
	Median         float64 `yaml:"median_ms" json:"median_ms"`
	StdDev         float64 `yaml:"stddev_ms" json:"stddev_ms"`
	Min            float64 `yaml:"min_ms" json:"min_ms"`
	Max            float64 `yaml:"max_ms" json:"max_ms"`
	P95            float64 `yaml:"p95_ms" json:"p95_ms"`
	P99            float64 `yaml:"p99_ms" json:"p99_ms"`
	P95Approximate bool    `yaml:"p95_approximate,omitempty" json:"p95_approximate,omitempty"`
	P99Approximate bool    `yaml:"p99_approximate,omitempty" json:"p99_approximate,omitempty"`
}

type Routing struct {
	AvgHops          float64 `yaml:"avg_hops" json:"avg_hops"`
	MaxHops          int     `yaml:"max_hops" json:"max_hops"`
	MultiHopMessages int     `yaml:"multi_hop_messages" json:"multi_hop_messages"`
	MultiHopRatio    float64 `yaml:"multi_hop_ratio" json:"multi_hop_ratio"`
}

type Throughput struct {
	DurationSeconds       float64 `yaml:"duration_seconds" json:"duration_seconds"`
	MessagesPerSecond     float64 `yaml:"messages_per_second" json:"messages_per_second"`
	BytesPerSecond        float64 `yaml:"bytes_per_second" json:"bytes_per_second"`
	PeakMessagesPerSecond int     `yaml:"peak_messages_per_second" json:"peak_messages_per_second"`
	TotalBytes            int64   `yaml:"total_bytes" json:"total_bytes"`
	AvgMessageSize        float64 `yaml:"avg_message_size" json:"avg_message_size"`
}

type Stability struct {
	TotalLinks          int             `yaml:"total_links" json:"total_links"`
	ActiveLinks         int             `yaml:"active_links" json:"active_links"`
	Disconnects         int             `yaml:"disconnects" json:"disconnects"`
	Closes              int             `yaml:"closes" json:"closes"`
	DuplicateAnnounces  int             `yaml:"duplicate_announces" json:"duplicate_announces"`
	UnmatchedCloses     int             `yaml:"unmatched_closes" json:"unmatched_closes"`
	SelfLinks           int             `yaml:"self_links" json:"self_links"`
	ObservedSeconds     float64         `yaml:"observed_seconds" json:"observed_seconds"`
	MeanIntervalSeconds float64         `yaml:"mean_interval_seconds" json:"mean_interval_seconds"`
	UptimeRatio         float64         `yaml:"uptime_ratio" json:"uptime_ratio"`
	MostStable          []LinkStability `yaml:"most_stable" json:"most_stable"`
}

type LinkStability struct {
	A               string  `yaml:"a" json:"a"`
	B               string  `yaml:"b" json:"b"`
	DurationSeconds float64 `yaml:"duration_seconds" json:"duration_seconds"`
	Disconnects     int     `yaml:"disconnects" json:"disconnects"`
	Active          bool    `yaml:"active" json:"active"`
}

// LoadBalanceWarnRatio is the imbalance above which the report warns.
const LoadBalanceWarnRatio = 2.0

// LoadBalance describes the spread of per-node received counts.
type LoadBalance struct {
	Min                    int     `yaml:"min" json:"min"`
	Max                    int     `yaml:"max" json:"max"`
	Mean                   float64 `yaml:"mean" json:"mean"`
	StdDev                 float64 `yaml:"stddev" json:"stddev"`
	Imbalance              Ratio   `yaml:"imbalance_ratio" json:"imbalance_ratio"`
	CoefficientOfVariation float64 `yaml:"coefficient_of_variation" json:"coefficient_of_variation"`
}

// Imbalanced reports whether the load spread warrants a warning. An
// undefined ratio with a non-zero max means some node received nothing.
func (lb LoadBalance) Imbalanced() bool {
	if !lb.Imbalance.Defined {
		return lb.Max > 0
	}
	return lb.Imbalance.Value > LoadBalanceWarnRatio
}

type Errors struct {
	Total int     `yaml:"total" json:"total"`
	Rate  float64 `yaml:"rate" json:"rate"`
}

type TestTypeCount struct {
	Label   string  `yaml:"label" json:"label"`
	Count   int     `yaml:"count" json:"count"`
	Percent float64 `yaml:"percent" json:"percent"`
}

type NodeScore struct {
	Rank        int     `yaml:"rank" json:"rank"`
	NodeID      string  `yaml:"node_id" json:"node_id"`
	Index       int     `yaml:"index" json:"index"`
	Score       float64 `yaml:"score" json:"score"`
	Received    int     `yaml:"received" json:"received"`
	Forwarded   int     `yaml:"forwarded" json:"forwarded"`
	MeanLatency float64 `yaml:"mean_latency_ms" json:"mean_latency_ms"`
	Degree      int     `yaml:"degree" json:"degree"`
}

type NodeSummary struct {
	NodeID      string  `yaml:"node_id" json:"node_id"`
	Index       int     `yaml:"index" json:"index"`
	Degree      int     `yaml:"degree" json:"degree"`
	Received    int     `yaml:"received" json:"received"`
	Forwarded   int     `yaml:"forwarded" json:"forwarded"`
	Sent        int     `yaml:"sent" json:"sent"`
	Errors      int     `yaml:"errors" json:"errors"`
	MeanLatency float64 `yaml:"mean_latency_ms" json:"mean_latency_ms"`
}

type MessageSummary struct {
	MessageID   string  `yaml:"message_id" json:"message_id"`
	Origin      string  `yaml:"origin" json:"origin"`
	TestType    string  `yaml:"test_type" json:"test_type"`
	MaxHops     int     `yaml:"max_hops" json:"max_hops"`
	HighestHop  int     `yaml:"highest_hop" json:"highest_hop"`
	Receivers   int     `yaml:"receivers" json:"receivers"`
	Forwarders  int     `yaml:"forwarders" json:"forwarders"`
	MeanLatency float64 `yaml:"mean_latency_ms" json:"mean_latency_ms"`
	Size        int64   `yaml:"size" json:"size"`
}

const undefinedRatio = "undefined"

// Ratio is a quotient that may be undefined (zero denominator).
type Ratio struct {
	Value   float64
	Defined bool
}

// DefinedRatio returns a ratio holding v.
func DefinedRatio(v float64) Ratio {
	return Ratio{Value: v, Defined: true}
}

// UndefinedRatio returns a ratio with no value.
func UndefinedRatio() Ratio {
	return Ratio{}
}

func (r Ratio) String() string {
	if !r.Defined {
		return undefinedRatio
	}
	return strconv.FormatFloat(r.Value, 'f', 2, 64)
}

func (r Ratio) MarshalYAML() (interface{}, error) {
	if !r.Defined {
		return undefinedRatio, nil
	}
	return r.Value, nil
}

func (r *Ratio) UnmarshalYAML(value *yaml.Node) error {
	if value.Value == undefinedRatio {
		*r = UndefinedRatio()
		return nil
	}
	var v float64
	if err := value.Decode(&v); err != nil {
		return fmt.Errorf("ratio: %w", err)
	}
	*r = DefinedRatio(v)
	return nil
}

func (r Ratio) MarshalJSON() ([]byte, error) {
	if !r.Defined {
		return json.Marshal(undefinedRatio)
	}
	return json.Marshal(r.Value)
}

func (r *Ratio) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s != undefinedRatio {
			return fmt.Errorf("ratio: unexpected %q", s)
		}
		*r = UndefinedRatio()
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("ratio: %w", err)
	}
	*r = DefinedRatio(v)
	return nil
}
