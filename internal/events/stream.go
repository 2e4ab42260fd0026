package events

import (
	"bufio"
	"errors"
	"io"
)

const maxLineSize = 1 << 20

// Stats counts what a stream saw.
type Stats struct {
	Lines        int
	Events       int
	Unrecognized int
	ForeignPeers int
	Failures     map[Kind]int
}

// Add merges o into s.
func (s *Stats) Add(o Stats) {
	s.Lines += o.Lines
	s.Events += o.Events
	s.Unrecognized += o.Unrecognized
	s.ForeignPeers += o.ForeignPeers
	for k, n := range o.Failures {
		if s.Failures == nil {
			s.Failures = make(map[Kind]int)
		}
		s.Failures[k] += n
	}
}

// FailureTotal sums parse failures over all kinds.
func (s Stats) FailureTotal() int {
	total := 0
	for _, n := range s.Failures {
		total += n
	}
	return total
}

// Stream yields the events of one log source lazily, in file order.
// It is finite and cannot be restarted.
type Stream struct {
	p      *Parser
	sc     *bufio.Scanner
	source string
	line   int
	ev     Event
	err    error
	stats  Stats
}

// Stream returns a lazy event stream over r attributed to source.
func (p *Parser) Stream(r io.Reader, source string) *Stream {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Stream{p: p, sc: sc, source: source}
}

// Next advances to the next event. It returns false at end of input or on a
// read error; Err distinguishes the two.
func (s *Stream) Next() bool {
	if s.err != nil {
		return false
	}
	for s.sc.Scan() {
		s.line++
		s.stats.Lines++

		ev, ok, err := s.p.ParseLine(s.source, s.sc.Text())
		if !ok {
			s.stats.Unrecognized++
			continue
		}
		if err != nil {
			s.skip(err)
			continue
		}
		s.stats.Events++
		s.ev = ev
		return true
	}
	s.err = s.sc.Err()
	return false
}

func (s *Stream) skip(err error) {
	if errors.Is(err, ErrForeignPeer) {
		s.stats.ForeignPeers++
		return
	}
	var perr *ParseError
	if errors.As(err, &perr) {
		if s.stats.Failures == nil {
			s.stats.Failures = make(map[Kind]int)
		}
		s.stats.Failures[perr.Kind]++
	}
	s.p.logger.Debug("skipping malformed line", "source", s.source, "line", s.line, "err", err)
}

// Event returns the event produced by the last successful Next.
func (s *Stream) Event() Event {
	return s.ev
}

// Err returns the first read error, if any.
func (s *Stream) Err() error {
	return s.err
}

// Stats returns the counters accumulated so far.
func (s *Stream) Stats() Stats {
	return s.stats
}
