package writer

import (
	"context"

	"github.com/SteelMorgan/cslogwatch/internal/domain"
)

// Outcome is the result of storing one event
type Outcome int

const (
	Inserted Outcome = iota
	Duplicate
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Duplicate:
		return "duplicate"
	default:
		return "failed"
	}
}

// EventWriter persists parsed events for a project
type EventWriter interface {
	// WriteEvents stores events in order. A duplicate natural key is not an
	// error; any other failure drops that event only. The returned stats
	// count every event as exactly one of Inserted, Duplicates or Failed.
	WriteEvents(ctx context.Context, project string, events []domain.LogEvent) domain.IngestStats

	// RetractEvent deletes a previously written event by natural key and
	// reports whether a row was removed
	RetractEvent(ctx context.Context, project string, event *domain.LogEvent) (bool, error)

	// Close releases the underlying store
	Close() error
}

// tally folds one outcome into stats
func tally(stats *domain.IngestStats, o Outcome) {
	switch o {
	case Inserted:
		stats.Inserted++
	case Duplicate:
		stats.Duplicates++
	default:
		stats.Failed++
	}
}
