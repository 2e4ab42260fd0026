package events

import (
	"errors"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"p2pscope/internal/addrutil"
	"p2pscope/internal/config"
)

const wallClockLayout = "2006-01-02 15:04:05.000"

var wallClock = regexp.MustCompile(`\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.\d{3}`)

type setter func(p *Parser, ev *Event, raw string) error

type field struct {
	name string
	set  setter
}

type shape struct {
	kind   Kind
	marker string
	fields []field
}

var connFields = []field{
	{"timestamp", setTimestamp},
	{"node", idField(func(ev *Event) *string { return &ev.Node })},
	{"peer", setPeer},
	{"channels", intField(func(ev *Event) *int { return &ev.Channels })},
}

// catalogue lists the recognised line shapes in match order.
var catalogue = []shape{
	{kind: KindConnEstablished, marker: "CONN_ESTABLISHED|", fields: connFields},
	{kind: KindConnClosed, marker: "CONN_CLOSED|", fields: connFields},
	{kind: KindMsgReceived, marker: "MSG_RECEIVED|", fields: []field{
		{"timestamp", setTimestamp},
		{"receiver", idField(func(ev *Event) *string { return &ev.Node })},
		{"message_id", idField(func(ev *Event) *string { return &ev.MessageID })},
		{"origin", idField(func(ev *Event) *string { return &ev.Origin })},
		{"hops", intField(func(ev *Event) *int { return &ev.Hops })},
		{"max_hops", intField(func(ev *Event) *int { return &ev.MaxHops })},
		{"latency", int64Field(func(ev *Event) *int64 { return &ev.Latency })},
		{"test_type", textField(func(ev *Event) *string { return &ev.TestType })},
		{"size", int64Field(func(ev *Event) *int64 { return &ev.Size })},
	}},
	{kind: KindMsgForwarded, marker: "MSG_FORWARDED|", fields: []field{
		{"timestamp", setTimestamp},
		{"forwarder", idField(func(ev *Event) *string { return &ev.Node })},
		{"message_id", idField(func(ev *Event) *string { return &ev.MessageID })},
		{"origin", idField(func(ev *Event) *string { return &ev.Origin })},
		{"hops", intField(func(ev *Event) *int { return &ev.Hops })},
		{"channels", intField(func(ev *Event) *int { return &ev.Channels })},
		{"size", int64Field(func(ev *Event) *int64 { return &ev.Size })},
	}},
}

// Parser turns raw log lines into Events.
type Parser struct {
	ns     config.Namespace
	logger *slog.Logger
}

// NewParser creates a parser for the given node namespace.
func NewParser(ns config.Namespace, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{ns: ns, logger: logger.With("component", "parser")}
}

// ParseLine parses one line read from source.
//
// ok is false for lines that match nothing in the catalogue. A recognised
// line that cannot be decoded returns a *ParseError, or ErrForeignPeer for
// connection lines naming a peer outside the node port range.
func (p *Parser) ParseLine(source, line string) (ev Event, ok bool, err error) {
	for _, sh := range catalogue {
		idx := strings.Index(line, sh.marker)
		if idx < 0 {
			continue
		}
		ev, err = p.decode(sh, source, line[idx+len(sh.marker):])
		if err != nil {
			return Event{}, true, err
		}
		return ev, true, nil
	}

	if ev, ok := p.errorLine(source, line); ok {
		return ev, true, nil
	}
	return Event{}, false, nil
}

func (p *Parser) decode(sh shape, source, rest string) (Event, error) {
	parts := strings.Split(rest, "|")
	if len(parts) < len(sh.fields) {
		return Event{}, &ParseError{Kind: sh.kind, Field: sh.fields[len(parts)].name, Reason: "missing"}
	}

	ev := Event{Kind: sh.kind, Source: source}
	for i, f := range sh.fields {
		raw := strings.TrimSpace(parts[i])
		if err := f.set(p, &ev, raw); err != nil {
			if errors.Is(err, ErrForeignPeer) {
				return Event{}, err
			}
			return Event{}, &ParseError{Kind: sh.kind, Field: f.name, Value: raw, Reason: err.Error()}
		}
	}
	return ev, nil
}

// errorLine recognises application error output carrying a wall-clock prefix.
func (p *Parser) errorLine(source, line string) (Event, bool) {
	if !strings.Contains(line, "ERROR") && !strings.Contains(line, "Exception") {
		return Event{}, false
	}
	stamp := wallClock.FindString(line)
	if stamp == "" {
		return Event{}, false
	}
	ts, err := time.Parse(wallClockLayout, stamp)
	if err != nil {
		return Event{}, false
	}
	return Event{Kind: KindError, Source: source, Node: source, Timestamp: ts.UnixMilli()}, true
}

var (
	errNegative = errors.New("must not be negative")
	errEmpty    = errors.New("must not be empty")
	errSpace    = errors.New("must not contain whitespace")
)

func parseNonNegative(raw string) (int64, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errors.New("not an integer")
	}
	if n < 0 {
		return 0, errNegative
	}
	return n, nil
}

func setTimestamp(_ *Parser, ev *Event, raw string) error {
	n, err := parseNonNegative(raw)
	if err != nil {
		return err
	}
	ev.Timestamp = n
	return nil
}

func intField(dst func(*Event) *int) setter {
	return func(_ *Parser, ev *Event, raw string) error {
		n, err := parseNonNegative(raw)
		if err != nil {
			return err
		}
		if n > int64(^uint32(0)>>1) {
			return errors.New("out of range")
		}
		*dst(ev) = int(n)
		return nil
	}
}

func int64Field(dst func(*Event) *int64) setter {
	return func(_ *Parser, ev *Event, raw string) error {
		n, err := parseNonNegative(raw)
		if err != nil {
			return err
		}
		*dst(ev) = n
		return nil
	}
}

func idField(dst func(*Event) *string) setter {
	return func(_ *Parser, ev *Event, raw string) error {
		if raw == "" {
			return errEmpty
		}
		if strings.ContainsAny(raw, " \t") {
			return errSpace
		}
		*dst(ev) = raw
		return nil
	}
}

func textField(dst func(*Event) *string) setter {
	return func(_ *Parser, ev *Event, raw string) error {
		*dst(ev) = raw
		return nil
	}
}

func setPeer(p *Parser, ev *Event, raw string) error {
	port, err := addrutil.Port(raw)
	if err != nil {
		return errors.New("no usable port")
	}
	id, ok := p.ns.PeerID(port)
	if !ok {
		return ErrForeignPeer
	}
	ev.Peer = id
	ev.PeerAddr = raw
	return nil
}
