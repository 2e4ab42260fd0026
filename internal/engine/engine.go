package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"p2pscope/internal/config"
	"p2pscope/internal/events"
	"p2pscope/internal/flow"
	"p2pscope/internal/logdir"
	"p2pscope/internal/model"
	"p2pscope/internal/topology"
)

// ErrNoUsableSources is returned when no log source could be read.
var ErrNoUsableSources = errors.New("no usable log sources")

// State is everything ingestion produced. It is the only input of the
// metrics computation.
type State struct {
	Namespace config.Namespace
	Nodes     *model.Registry
	Topology  *topology.Reconstructor
	Flow      *flow.Tracker
	Ingest    events.Stats

	// Sources lists the node ids whose logs were ingested, in ingestion order.
	Sources    []string
	Unreadable []string
	Duplicates []string
}

// NewState returns an empty state for namespace ns.
func NewState(ns config.Namespace) *State {
	nodes := model.NewRegistry(ns.Index)
	return &State{
		Namespace: ns,
		Nodes:     nodes,
		Topology:  topology.New(),
		Flow:      flow.New(nodes),
	}
}

// Engine folds log sources into a State, one source at a time.
type Engine struct {
	parser *events.Parser
	logger *slog.Logger
	state  *State
	seen   map[string]string
}

// New creates an engine for namespace ns.
func New(ns config.Namespace, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		parser: events.NewParser(ns, logger),
		logger: logger.With("component", "engine"),
		state:  NewState(ns),
		seen:   make(map[string]string),
	}
}

// State returns the state built so far.
func (e *Engine) State() *State {
	return e.state
}

// Run ingests every source. Missing or unreadable sources are logged and
// contribute nothing; only a run where no source could be read fails.
func (e *Engine) Run(ctx context.Context, sources []logdir.Source) (*State, error) {
	usable := 0
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if prev, dup := e.seen[src.NodeID]; dup {
			e.logger.Warn("duplicate log source ignored", "source", src.Name, "node", src.NodeID, "kept", prev)
			e.state.Duplicates = append(e.state.Duplicates, src.Name)
			continue
		}
		e.seen[src.NodeID] = src.Name
		e.state.Nodes.Ensure(src.NodeID)

		if err := e.ingestFile(src); err != nil {
			e.logger.Warn("log source unreadable", "source", src.Name, "err", err)
			e.state.Unreadable = append(e.state.Unreadable, src.Name)
			continue
		}
		usable++
	}

	if usable == 0 {
		return nil, ErrNoUsableSources
	}
	return e.state, nil
}

func (e *Engine) ingestFile(src logdir.Source) error {
	rc, err := src.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	return e.Ingest(src.NodeID, rc)
}

// Ingest reads one source completely and commits its events. On a read
// error nothing from the source is kept.
func (e *Engine) Ingest(source string, r io.Reader) error {
	stream := e.parser.Stream(r, source)
	var evs []events.Event
	for stream.Next() {
		evs = append(evs, stream.Event())
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("read %s: %w", source, err)
	}

	e.state.Nodes.Ensure(source)
	for _, ev := range evs {
		e.dispatch(ev)
	}
	st := stream.Stats()
	e.state.Ingest.Add(st)
	e.state.Sources = append(e.state.Sources, source)

	e.logger.Info("ingested log source",
		"source", source,
		"lines", st.Lines,
		"events", st.Events,
		"failures", st.FailureTotal(),
		"foreign_peers", st.ForeignPeers,
	)
	return nil
}

func (e *Engine) dispatch(ev events.Event) {
	for _, id := range ev.NodeIDs() {
		e.state.Nodes.Ensure(id)
	}

	switch ev.Kind {
	case events.KindConnEstablished, events.KindConnClosed:
		_ = e.state.Topology.Apply(ev)
	case events.KindMsgReceived, events.KindMsgForwarded:
		_ = e.state.Flow.Apply(ev)
	case events.KindError:
		e.state.Nodes.Ensure(ev.Node).Errors++
	}
}
