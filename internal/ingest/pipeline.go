// Package ingest turns file line ranges into stored events. The Reconciler
// and the Dispatcher both push work through the same Ingester, so live
// changes and changes recovered at startup are handled identically.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/SteelMorgan/cslogwatch/internal/cslog"
	"github.com/SteelMorgan/cslogwatch/internal/domain"
	"github.com/SteelMorgan/cslogwatch/internal/observability"
	"github.com/SteelMorgan/cslogwatch/internal/offset"
	"github.com/SteelMorgan/cslogwatch/internal/writer"
)

// Ingester parses a file range and hands the events to the writer
type Ingester struct {
	project string
	parser  *cslog.Parser
	writer  writer.EventWriter
	carries offset.CarryStore
}

// NewIngester creates the shared parse-and-store pipeline for project
func NewIngester(project string, parser *cslog.Parser, w writer.EventWriter, carries offset.CarryStore) *Ingester {
	return &Ingester{
		project: project,
		parser:  parser,
		writer:  w,
		carries: carries,
	}
}

// IngestRange parses lines start..end (1-based, inclusive) of path and
// writes the resulting events.
//
// If the previous range of the file ended inside an output block, parsing
// resumes at that block's header so the block is rebuilt whole, and the
// partial event written earlier is retracted. On error the carry is left
// as it was and the caller must not advance past start, so the same range
// is retried; events that were already stored come back as duplicates.
func (in *Ingester) IngestRange(ctx context.Context, path string, start, end int) (stats domain.IngestStats, err error) {
	began := time.Now()
	if start < 1 {
		start = 1
	}

	ctx, span := observability.StartSpan(ctx, "ingest.range",
		attribute.String("file", path),
		attribute.Int("start_line", start),
		attribute.Int("end_line", end),
	)
	defer func() {
		span.SetAttributes(
			attribute.Int("events", stats.Events),
			attribute.Int("inserted", stats.Inserted),
			attribute.Int("duplicates", stats.Duplicates),
		)
		observability.EndSpan(span, err, "range ingested")
	}()

	stats = domain.IngestStats{Path: path, StartLine: start, EndLine: end}
	if end < start {
		return stats, nil
	}

	carry, cerr := in.carries.Get(ctx, path)
	if cerr != nil {
		log.Warn().Err(cerr).Str("file", path).Msg("Failed to read carried output block, parsing from range start")
		carry = nil
	}

	from := start
	if carry != nil && carry.HeaderLine >= 1 && carry.HeaderLine < from {
		from = carry.HeaderLine
	}
	stats.StartLine = from

	res, err := in.parser.Parse(path, from, end)
	if err != nil {
		return stats, err
	}

	if carry != nil {
		if completed := findCompletion(res.Events, &carry.Event); completed != nil {
			removed, rerr := in.writer.RetractEvent(ctx, in.project, &carry.Event)
			if rerr != nil {
				log.Warn().Err(rerr).Str("file", path).Msg("Failed to retract partial output event")
			} else if removed {
				stats.Retracted++
			}
		}
	}

	written := in.writer.WriteEvents(ctx, in.project, res.Events)
	stats.Add(written)

	switch {
	case res.Open != nil:
		next := &offset.Carry{HeaderLine: res.Open.HeaderLine, Event: res.Open.Event}
		if serr := in.carries.Set(ctx, path, next); serr != nil {
			// Without a carry the partial event could never be replaced
			if _, rerr := in.writer.RetractEvent(ctx, in.project, &res.Open.Event); rerr != nil {
				log.Warn().Err(rerr).Str("file", path).Msg("Failed to retract uncarried output event")
			}
			return stats, fmt.Errorf("failed to carry open output block of %s: %w", path, serr)
		}
	case carry != nil:
		if derr := in.carries.Delete(ctx, path); derr != nil {
			log.Warn().Err(derr).Str("file", path).Msg("Failed to clear carried output block")
		}
	}

	stats.Duration = time.Since(began)
	return stats, nil
}

// Forget drops any carried output block for path. Called when the file is
// re-created, truncated or deleted and old line numbers no longer apply.
func (in *Ingester) Forget(ctx context.Context, path string) error {
	if err := in.carries.Delete(ctx, path); err != nil {
		return fmt.Errorf("failed to forget %s: %w", path, err)
	}
	return nil
}

// findCompletion returns the rebuilt version of a partial output event: the
// output event with the same header timestamp. The carried header line
// already pins the block, so a later metadata directive may have changed
// its host. Nil means the rebuilt event has the same natural key.
func findCompletion(events []domain.LogEvent, partial *domain.LogEvent) *domain.LogEvent {
	for i := range events {
		ev := &events[i]
		if ev.EventType != domain.OutputType || !ev.Timestamp.Equal(partial.Timestamp) {
			continue
		}
		if ev.Content == partial.Content && ev.Computer == partial.Computer {
			return nil
		}
		return ev
	}
	return nil
}
