package writer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/rs/zerolog/log"

	"github.com/SteelMorgan/cslogwatch/internal/domain"
	"github.com/SteelMorgan/cslogwatch/internal/retry"
)

const (
	selectProjectSQL = `SELECT id FROM project WHERE name = ?`
	insertProjectSQL = `INSERT INTO project (name) VALUES (?) ON CONFLICT (name) DO NOTHING`
	selectSystemSQL  = `SELECT id FROM system WHERE name = ? AND project_id = ?`
	insertSystemSQL  = `INSERT INTO system (name, project_id) VALUES (?, ?)`
	insertEventSQL   = `INSERT INTO event (timestamp, eventType, content, computer, ipAddress, pid, username, project_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	deleteEventSQL = `DELETE FROM event
		WHERE timestamp = ? AND eventType = ? AND content = ? AND computer = ?
		AND project_id = (SELECT id FROM project WHERE name = ?)`
	countEventsSQL = `SELECT count(*) FROM event
		WHERE project_id = (SELECT id FROM project WHERE name = ?)`
)

// SQLiteWriter is the authoritative event store. Every event is written in
// its own short transaction.
type SQLiteWriter struct {
	db       *sql.DB
	path     string
	retryCfg retry.Config

	mu       sync.Mutex
	projects map[string]int64 // committed project ids by name
}

// OpenSQLite opens (creating if needed) the SQLite database at path.
// The schema is provisioned separately.
func OpenSQLite(path string, retryCfg retry.Config) (*SQLiteWriter, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite allows one writer at a time
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	log.Info().Str("database", path).Msg("Opened SQLite store")

	return &SQLiteWriter{
		db:       db,
		path:     path,
		retryCfg: retryCfg,
		projects: make(map[string]int64),
	}, nil
}

// DB returns the underlying connection pool
func (w *SQLiteWriter) DB() *sql.DB {
	return w.db
}

// WriteEvents implements EventWriter
func (w *SQLiteWriter) WriteEvents(ctx context.Context, project string, events []domain.LogEvent) domain.IngestStats {
	stats := domain.IngestStats{Events: len(events)}
	for i := range events {
		outcome, err := w.WriteEvent(ctx, project, &events[i])
		if err != nil {
			log.Error().
				Err(err).
				Str("project", project).
				Str("event_type", events[i].EventType).
				Time("timestamp", events[i].Timestamp).
				Msg("Failed to store event, dropping it")
		}
		tally(&stats, outcome)
	}
	return stats
}

// WriteEvent stores a single event, retrying lock contention
func (w *SQLiteWriter) WriteEvent(ctx context.Context, project string, ev *domain.LogEvent) (Outcome, error) {
	outcome, err := retry.DoWithResult(ctx, w.retryCfg, func() (Outcome, error) {
		return w.insert(ctx, project, ev)
	})
	if err != nil {
		return Failed, err
	}
	return outcome, nil
}

func (w *SQLiteWriter) insert(ctx context.Context, project string, ev *domain.LogEvent) (Outcome, error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return Failed, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	projectID, err := w.projectID(ctx, tx, project)
	if err != nil {
		return Failed, err
	}
	if err := ensureSystem(ctx, tx, ev.Computer, projectID); err != nil {
		return Failed, err
	}

	outcome := Inserted
	_, err = tx.ExecContext(ctx, insertEventSQL,
		formatTimestamp(ev.Timestamp),
		ev.EventType,
		ev.Content,
		ev.Computer,
		ev.IPAddress,
		ev.PID,
		ev.Username,
		projectID,
	)
	if err != nil {
		if !errors.Is(err, sqlite3.CONSTRAINT_UNIQUE) {
			return Failed, fmt.Errorf("failed to insert event: %w", err)
		}
		// The failed statement leaves the transaction usable, so the
		// project and system rows are still committed.
		outcome = Duplicate
	}

	if err := tx.Commit(); err != nil {
		return Failed, fmt.Errorf("failed to commit event: %w", err)
	}

	w.mu.Lock()
	w.projects[project] = projectID
	w.mu.Unlock()

	return outcome, nil
}

// projectID resolves the project row, creating it on first use
func (w *SQLiteWriter) projectID(ctx context.Context, tx *sql.Tx, name string) (int64, error) {
	w.mu.Lock()
	id, ok := w.projects[name]
	w.mu.Unlock()
	if ok {
		return id, nil
	}

	if _, err := tx.ExecContext(ctx, insertProjectSQL, name); err != nil {
		return 0, fmt.Errorf("failed to create project %s: %w", name, err)
	}
	if err := tx.QueryRowContext(ctx, selectProjectSQL, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to resolve project %s: %w", name, err)
	}
	return id, nil
}

// ensureSystem creates the host row for (computer, project) if missing
func ensureSystem(ctx context.Context, tx *sql.Tx, computer string, projectID int64) error {
	var id int64
	err := tx.QueryRowContext(ctx, selectSystemSQL, computer, projectID).Scan(&id)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to look up system %s: %w", computer, err)
	}
	if _, err := tx.ExecContext(ctx, insertSystemSQL, computer, projectID); err != nil {
		return fmt.Errorf("failed to create system %s: %w", computer, err)
	}
	return nil
}

// RetractEvent implements EventWriter
func (w *SQLiteWriter) RetractEvent(ctx context.Context, project string, ev *domain.LogEvent) (bool, error) {
	return retry.DoWithResult(ctx, w.retryCfg, func() (bool, error) {
		res, err := w.db.ExecContext(ctx, deleteEventSQL,
			formatTimestamp(ev.Timestamp),
			ev.EventType,
			ev.Content,
			ev.Computer,
			project,
		)
		if err != nil {
			return false, fmt.Errorf("failed to retract event: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("failed to read affected rows: %w", err)
		}
		return n > 0, nil
	})
}

// CountEvents returns the number of stored events for project
func (w *SQLiteWriter) CountEvents(ctx context.Context, project string) (int, error) {
	var n int
	if err := w.db.QueryRowContext(ctx, countEventsSQL, project).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

// Close checkpoints the WAL and closes the database
func (w *SQLiteWriter) Close() error {
	if w.db == nil {
		return nil
	}
	if _, err := w.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		log.Warn().Err(err).Msg("Failed to checkpoint WAL")
	}
	if err := w.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	w.db = nil
	return nil
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
