package events

import (
	"errors"
	"fmt"
)

// Kind identifies the catalogue entry an Event was parsed from.
type Kind int

const (
	KindConnEstablished Kind = iota + 1
	KindConnClosed
	KindMsgReceived
	KindMsgForwarded
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindConnEstablished:
		return "conn_established"
	case KindConnClosed:
		return "conn_closed"
	case KindMsgReceived:
		return "msg_received"
	case KindMsgForwarded:
		return "msg_forwarded"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is one typed record parsed from a log line.
type Event struct {
	Kind      Kind
	Source    string // node id of the log the line came from
	Timestamp int64  // ms

	// Node is the reporting node: the connection owner, receiver or forwarder.
	Node string

	// Connection events.
	Peer     string
	PeerAddr string
	Channels int // open channel count, or fan-out for forwards

	// Message events.
	MessageID string
	Origin    string
	Hops      int
	MaxHops   int
	Latency   int64 // ms
	TestType  string
	Size      int64 // bytes
}

// NodeIDs returns every node id the event references.
func (e Event) NodeIDs() []string {
	out := make([]string, 0, 3)
	for _, id := range []string{e.Source, e.Node, e.Peer, e.Origin} {
		if id == "" {
			continue
		}
		dup := false
		for _, seen := range out {
			if seen == id {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, id)
		}
	}
	return out
}

// ErrForeignPeer marks connection lines whose peer port is outside the node
// port range (typically the ephemeral side of an inbound socket).
var ErrForeignPeer = errors.New("peer port outside node range")

// ParseError describes a recognised line that failed field decoding.
type ParseError struct {
	Kind   Kind
	Field  string
	Value  string
	Reason string
}

func (e *ParseError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s: field %s: %s", e.Kind, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: field %s=%q: %s", e.Kind, e.Field, e.Value, e.Reason)
}
