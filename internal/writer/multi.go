package writer

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/SteelMorgan/cslogwatch/internal/domain"
)

// Multi writes to a primary store and best-effort mirrors. Only the
// primary's outcome is reported; mirror failures are logged.
type Multi struct {
	primary EventWriter
	mirrors []EventWriter
}

// NewMulti returns primary unchanged when there are no mirrors
func NewMulti(primary EventWriter, mirrors ...EventWriter) EventWriter {
	if len(mirrors) == 0 {
		return primary
	}
	return &Multi{primary: primary, mirrors: mirrors}
}

// WriteEvents implements EventWriter
func (m *Multi) WriteEvents(ctx context.Context, project string, events []domain.LogEvent) domain.IngestStats {
	stats := m.primary.WriteEvents(ctx, project, events)
	for _, mirror := range m.mirrors {
		ms := mirror.WriteEvents(ctx, project, events)
		if ms.Failed > 0 {
			log.Warn().
				Str("project", project).
				Int("failed", ms.Failed).
				Msg("Mirror dropped events")
		}
	}
	return stats
}

// RetractEvent implements EventWriter
func (m *Multi) RetractEvent(ctx context.Context, project string, ev *domain.LogEvent) (bool, error) {
	removed, err := m.primary.RetractEvent(ctx, project, ev)
	if err != nil {
		return false, err
	}
	for _, mirror := range m.mirrors {
		if _, err := mirror.RetractEvent(ctx, project, ev); err != nil {
			log.Warn().Err(err).Str("project", project).Msg("Mirror failed to retract event")
		}
	}
	return removed, nil
}

// Close implements EventWriter
func (m *Multi) Close() error {
	var errs []error
	if err := m.primary.Close(); err != nil {
		errs = append(errs, err)
	}
	for _, mirror := range m.mirrors {
		if err := mirror.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
