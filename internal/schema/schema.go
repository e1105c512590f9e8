// Package schema provisions the event store tables. Every statement is
// idempotent, so provisioning runs on each start.
package schema

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/SteelMorgan/cslogwatch/internal/clickhouse"
)

var sqliteStatements = []string{
	`CREATE TABLE IF NOT EXISTS project (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS system (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		project_id INTEGER NOT NULL REFERENCES project(id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_system_project ON system(project_id)`,
	`CREATE TABLE IF NOT EXISTS event (
		id INTEGER PRIMARY KEY,
		timestamp TEXT NOT NULL,
		eventType TEXT NOT NULL,
		content TEXT NOT NULL,
		computer TEXT,
		ipAddress TEXT,
		pid TEXT,
		username TEXT,
		project_id INTEGER NOT NULL REFERENCES project(id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_event_project ON event(project_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_event_natural_key
		ON event(timestamp, eventType, content, computer, project_id)`,
}

// ProvisionSQLite creates the project, system and event tables
func ProvisionSQLite(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin schema transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range sqliteStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schema: %w", err)
	}
	log.Debug().Msg("SQLite schema provisioned")
	return nil
}

func clickHouseStatements(db string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.projects (
			id UUID,
			name String
		) ENGINE = ReplacingMergeTree
		ORDER BY id`, db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.systems (
			project_id UUID,
			name String
		) ENGINE = ReplacingMergeTree
		ORDER BY (project_id, name)`, db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.events (
			record_hash String,
			project_id UUID,
			timestamp DateTime64(0, 'UTC'),
			event_type LowCardinality(String),
			content String,
			computer String,
			ip_address String,
			pid String,
			username String,
			ingested_at DateTime64(3, 'UTC')
		) ENGINE = ReplacingMergeTree(ingested_at)
		PARTITION BY toYYYYMM(timestamp)
		ORDER BY record_hash`, db),
	}
}

// ProvisionClickHouse creates the mirror database and tables
func ProvisionClickHouse(ctx context.Context, client *clickhouse.Client) error {
	for _, stmt := range clickHouseStatements(client.Database()) {
		if err := client.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply clickhouse schema: %w", err)
		}
	}
	log.Debug().Str("database", client.Database()).Msg("ClickHouse schema provisioned")
	return nil
}
