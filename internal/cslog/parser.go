// Package cslog parses Cobalt Strike beacon logs into timestamped events.
//
// A beacon log is line oriented. Header lines start with a date, a clock,
// an optional UTC marker and a bracketed event tag:
//
//	01/25 17:45:21 UTC [input] <operator> shell whoami
//	01/25 17:45:22 UTC [task] <T1033> Tasked beacon to run: whoami
//	01/25 17:45:30 UTC [output]
//	received output:
//	corp\bob
//
// Every line that is not a header continues the preceding [output] block.
package cslog

import (
	"fmt"
	"strings"
	"time"

	"github.com/SteelMorgan/cslogwatch/internal/domain"
	"github.com/SteelMorgan/cslogwatch/internal/logfile"
)

// LineError reports a continuation line found outside an output block.
// The file is either corrupt or not a beacon log; nothing from the parsed
// range should be stored.
type LineError struct {
	Path string
	Line int
	Text string
}

func (e *LineError) Error() string {
	text := e.Text
	if len(text) > 100 {
		text = text[:100]
	}
	return fmt.Sprintf("unknown line in %s @ line %d: %q", e.Path, e.Line, text)
}

// OpenBlock is an output block that was still collecting when the range
// ended. Its partial event is also the last element of Result.Events.
type OpenBlock struct {
	HeaderLine int
	Event      domain.LogEvent
}

// Result is the outcome of parsing one file range
type Result struct {
	Events   []domain.LogEvent
	Metadata Metadata
	Open     *OpenBlock
}

// Parser turns beacon log line ranges into events. It is stateless between
// calls and safe for concurrent use.
type Parser struct {
	year int
}

// NewParser creates a parser that dates events in assumedYear
func NewParser(assumedYear int) *Parser {
	return &Parser{year: assumedYear}
}

// Parse reads lines start..end (1-based, inclusive) of the file at path.
// start <= 1 means from the beginning, end <= 0 means through the last
// complete line. Lines outside the range are not emitted, but numbering
// always refers to the whole file.
func (p *Parser) Parse(path string, start, end int) (*Result, error) {
	md, err := ReadMetadata(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	sm := &machine{path: path, year: p.year, md: md}

	_, err = logfile.ForEachLine(path, func(n int, line string) error {
		if n < start {
			return nil
		}
		if end > 0 && n > end {
			return logfile.ErrStop
		}
		return sm.feed(n, line)
	})
	if err != nil {
		return nil, err
	}

	return sm.finish(), nil
}

// machine is the aggregation state for a single Parse call
type machine struct {
	path string
	year int
	md   Metadata

	events []domain.LogEvent

	// collecting state
	collecting bool
	headerLine int
	pending    domain.LogEvent
	buf        strings.Builder
}

func (m *machine) feed(n int, line string) error {
	if strings.TrimSpace(line) == "" {
		return nil
	}

	h, ok := parseHeader(line)
	if !ok {
		if !m.collecting {
			return &LineError{Path: m.path, Line: n, Text: line}
		}
		m.buf.WriteString(line)
		m.buf.WriteByte('\n')
		return nil
	}

	ts, err := timestamp(m.year, h.date, h.clock)
	if err != nil {
		return fmt.Errorf("invalid timestamp in %s @ line %d: %w", m.path, n, err)
	}

	if m.collecting {
		m.events = append(m.events, m.flush())
	}

	if h.eventType == domain.OutputType {
		m.collecting = true
		m.headerLine = n
		m.pending = m.event(ts, domain.OutputType, "")
		m.buf.Reset()
		return nil
	}

	m.events = append(m.events, m.event(ts, h.eventType, h.content))
	return nil
}

// finish flushes a block left open by the end of the range
func (m *machine) finish() *Result {
	res := &Result{Metadata: m.md}
	if m.collecting {
		ev := m.flush()
		m.events = append(m.events, ev)
		res.Open = &OpenBlock{HeaderLine: m.headerLine, Event: ev}
	}
	res.Events = m.events
	return res
}

func (m *machine) flush() domain.LogEvent {
	ev := m.pending
	ev.Content = m.buf.String()
	if ev.Content == "" {
		ev.Content = domain.EmptyContent
	}
	m.collecting = false
	m.buf.Reset()
	return ev
}

func (m *machine) event(ts time.Time, eventType, content string) domain.LogEvent {
	return domain.LogEvent{
		Timestamp: ts,
		EventType: eventType,
		Computer:  m.md.Computer,
		IPAddress: m.md.IPAddress,
		PID:       m.md.PID,
		Username:  m.md.Username,
		Content:   content,
	}
}
