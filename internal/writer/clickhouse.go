package writer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/SteelMorgan/cslogwatch/internal/clickhouse"
	"github.com/SteelMorgan/cslogwatch/internal/domain"
	"github.com/SteelMorgan/cslogwatch/internal/retry"
)

// ClickHouse DateTime64 valid range: 1925-01-01 to 2283-11-11
var (
	minClickHouseDateTime = time.Date(1925, 1, 1, 0, 0, 0, 0, time.UTC)
	maxClickHouseDateTime = time.Date(2283, 11, 11, 23, 59, 59, 999999999, time.UTC)
)

// ensureValidDateTime ensures the time value is within ClickHouse DateTime64 range
// Returns the input time if valid, or minClickHouseDateTime if out of range or zero
func ensureValidDateTime(t time.Time) time.Time {
	if t.IsZero() || t.Before(minClickHouseDateTime) || t.After(maxClickHouseDateTime) {
		return minClickHouseDateTime
	}
	return t
}

// ClickHouseWriter mirrors events into ClickHouse for analytics. Rows are
// keyed by the natural-key hash; ReplacingMergeTree collapses any
// duplicate that slips past the existence check.
type ClickHouseWriter struct {
	client   *clickhouse.Client
	retryCfg retry.Config

	mu       sync.Mutex
	projects map[string]bool
	systems  map[string]bool // project + "\x00" + computer
}

// NewClickHouseWriter creates a mirror writer over an open client
func NewClickHouseWriter(client *clickhouse.Client, retryCfg retry.Config) *ClickHouseWriter {
	return &ClickHouseWriter{
		client:   client,
		retryCfg: retryCfg,
		projects: make(map[string]bool),
		systems:  make(map[string]bool),
	}
}

// WriteEvents implements EventWriter
func (w *ClickHouseWriter) WriteEvents(ctx context.Context, project string, events []domain.LogEvent) domain.IngestStats {
	stats := domain.IngestStats{Events: len(events)}
	if len(events) == 0 {
		return stats
	}

	if err := w.ensureProject(ctx, project); err != nil {
		log.Error().Err(err).Str("project", project).Msg("Failed to mirror project")
		stats.Failed = len(events)
		return stats
	}

	toWrite := make([]*domain.LogEvent, 0, len(events))
	hashes := make([]string, 0, len(events))
	seen := make(map[string]bool, len(events))
	computers := make(map[string]bool)

	for i := range events {
		ev := &events[i]
		hash := eventHash(project, ev)
		if seen[hash] {
			stats.Duplicates++
			continue
		}
		seen[hash] = true

		exists, err := w.checkHashExists(ctx, hash)
		if err != nil {
			// Continue with insert - ReplacingMergeTree absorbs a duplicate
			log.Warn().Err(err).Str("hash", hash).Msg("Failed to check hash existence, will try to insert")
		} else if exists {
			stats.Duplicates++
			continue
		}

		toWrite = append(toWrite, ev)
		hashes = append(hashes, hash)
		computers[ev.Computer] = true
	}

	if len(toWrite) == 0 {
		return stats
	}

	for computer := range computers {
		if err := w.ensureSystem(ctx, project, computer); err != nil {
			log.Warn().Err(err).Str("computer", computer).Msg("Failed to mirror system")
		}
	}

	projectID := ProjectUUID(project)
	ingestedAt := time.Now().UTC()
	err := retry.Do(ctx, w.retryCfg, func() error {
		batch, err := w.client.Conn().PrepareBatch(ctx, "INSERT INTO "+w.client.Table("events"))
		if err != nil {
			return fmt.Errorf("failed to prepare batch: %w", err)
		}
		for i, ev := range toWrite {
			if err := batch.Append(
				hashes[i],
				projectID,
				ensureValidDateTime(ev.Timestamp),
				ev.EventType,
				ev.Content,
				ev.Computer,
				ev.IPAddress,
				ev.PID,
				ev.Username,
				ingestedAt,
			); err != nil {
				_ = batch.Abort()
				return fmt.Errorf("failed to append to batch: %w", err)
			}
		}
		if err := batch.Send(); err != nil {
			return fmt.Errorf("failed to send batch: %w", err)
		}
		return nil
	})
	if err != nil {
		log.Error().
			Err(err).
			Str("project", project).
			Int("events", len(toWrite)).
			Msg("Failed to mirror events to ClickHouse")
		stats.Failed += len(toWrite)
		return stats
	}

	stats.Inserted += len(toWrite)
	log.Debug().
		Str("project", project).
		Int("inserted", len(toWrite)).
		Int("duplicates", stats.Duplicates).
		Msg("Mirrored events to ClickHouse")
	return stats
}

// RetractEvent implements EventWriter
func (w *ClickHouseWriter) RetractEvent(ctx context.Context, project string, ev *domain.LogEvent) (bool, error) {
	hash := eventHash(project, ev)
	exists, err := w.checkHashExists(ctx, hash)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}

	query := fmt.Sprintf("ALTER TABLE %s DELETE WHERE record_hash = ?", w.client.Table("events"))
	if err := w.client.Exec(ctx, query, hash); err != nil {
		return false, fmt.Errorf("failed to retract event: %w", err)
	}
	return true, nil
}

// Close implements EventWriter
func (w *ClickHouseWriter) Close() error {
	return w.client.Close()
}

func (w *ClickHouseWriter) ensureProject(ctx context.Context, project string) error {
	w.mu.Lock()
	done := w.projects[project]
	w.mu.Unlock()
	if done {
		return nil
	}

	query := fmt.Sprintf("INSERT INTO %s (id, name) VALUES (?, ?)", w.client.Table("projects"))
	if err := w.client.Exec(ctx, query, ProjectUUID(project), project); err != nil {
		return fmt.Errorf("failed to insert project: %w", err)
	}

	w.mu.Lock()
	w.projects[project] = true
	w.mu.Unlock()
	return nil
}

func (w *ClickHouseWriter) ensureSystem(ctx context.Context, project, computer string) error {
	key := project + "\x00" + computer
	w.mu.Lock()
	done := w.systems[key]
	w.mu.Unlock()
	if done {
		return nil
	}

	query := fmt.Sprintf("INSERT INTO %s (project_id, name) VALUES (?, ?)", w.client.Table("systems"))
	if err := w.client.Exec(ctx, query, ProjectUUID(project), computer); err != nil {
		return fmt.Errorf("failed to insert system: %w", err)
	}

	w.mu.Lock()
	w.systems[key] = true
	w.mu.Unlock()
	return nil
}

// checkHashExists checks if a record with given hash already exists
func (w *ClickHouseWriter) checkHashExists(ctx context.Context, hash string) (bool, error) {
	var count uint64
	// Hash is hex-encoded, so direct substitution is safe
	query := fmt.Sprintf("SELECT count() FROM %s WHERE record_hash = '%s'", w.client.Table("events"), hash)

	rows, err := w.client.Query(ctx, query)
	if err != nil {
		return false, fmt.Errorf("failed to check hash: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return false, nil
	}

	if err := rows.Scan(&count); err != nil {
		return false, fmt.Errorf("failed to scan count: %w", err)
	}

	return count > 0, nil
}
