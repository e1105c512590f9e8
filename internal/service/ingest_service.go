package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/SteelMorgan/cslogwatch/internal/clickhouse"
	"github.com/SteelMorgan/cslogwatch/internal/config"
	"github.com/SteelMorgan/cslogwatch/internal/cslog"
	"github.com/SteelMorgan/cslogwatch/internal/domain"
	"github.com/SteelMorgan/cslogwatch/internal/ingest"
	"github.com/SteelMorgan/cslogwatch/internal/logfile"
	"github.com/SteelMorgan/cslogwatch/internal/offset"
	"github.com/SteelMorgan/cslogwatch/internal/registry"
	"github.com/SteelMorgan/cslogwatch/internal/retry"
	"github.com/SteelMorgan/cslogwatch/internal/schema"
	"github.com/SteelMorgan/cslogwatch/internal/snapshot"
	"github.com/SteelMorgan/cslogwatch/internal/watch"
	"github.com/SteelMorgan/cslogwatch/internal/writer"
)

// IngestService owns every component of one monitored project
type IngestService struct {
	cfg   *config.Config
	runID string

	store   *writer.SQLiteWriter
	writer  writer.EventWriter
	carries *offset.BoltDBStore

	filter     *logfile.Filter
	registry   *registry.Registry
	snapshots  *snapshot.Store
	ingester   *ingest.Ingester
	reconciler *ingest.Reconciler
	dispatcher *ingest.Dispatcher
	watcher    *watch.Watcher
}

// NewIngestService creates a service. Stores are opened by Open.
func NewIngestService(cfg *config.Config) (*IngestService, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	return &IngestService{
		cfg:       cfg,
		runID:     uuid.NewString(),
		filter:    logfile.NewFilter(cfg.MonitoredDirectory, cfg.IncludePattern, cfg.ExcludeFiles),
		registry:  registry.New(),
		snapshots: snapshot.NewStore(cfg.StateDir, cfg.ProjectName),
	}, nil
}

// CarryPath returns the carry store location for a project
func CarryPath(stateDir, projectName string) string {
	return filepath.Join(stateDir, strings.TrimSuffix(snapshot.FileName(projectName), snapshot.FileSuffix)+".carry.db")
}

// Open opens the stores and provisions their schema
func (s *IngestService) Open(ctx context.Context) error {
	if s.writer != nil {
		return nil
	}

	if err := os.MkdirAll(s.cfg.StateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	retryCfg := retry.FromSettings(s.cfg.Retry.MaxAttempts, s.cfg.Retry.InitialDelayMs, s.cfg.Retry.MaxDelayMs, s.cfg.Retry.Multiplier)

	store, err := writer.OpenSQLite(s.cfg.Database, retryCfg)
	if err != nil {
		return err
	}
	if err := schema.ProvisionSQLite(ctx, store.DB()); err != nil {
		_ = store.Close()
		return err
	}

	var mirrors []writer.EventWriter
	if s.cfg.ClickHouse.Enabled {
		client, err := clickhouse.NewClient(ctx, clickhouse.Options{
			Host:     s.cfg.ClickHouse.Host,
			Port:     s.cfg.ClickHouse.Port,
			Database: s.cfg.ClickHouse.Database,
		}, retryCfg)
		if err != nil {
			_ = store.Close()
			return err
		}
		if err := schema.ProvisionClickHouse(ctx, client); err != nil {
			_ = client.Close()
			_ = store.Close()
			return err
		}
		mirrors = append(mirrors, writer.NewClickHouseWriter(client, retryCfg))
	}

	carries, err := offset.NewBoltDBStore(CarryPath(s.cfg.StateDir, s.cfg.ProjectName))
	if err != nil {
		for _, m := range mirrors {
			_ = m.Close()
		}
		_ = store.Close()
		return err
	}

	s.store = store
	s.writer = writer.NewMulti(store, mirrors...)
	s.carries = carries

	s.ingester = ingest.NewIngester(s.cfg.ProjectName, cslog.NewParser(s.cfg.AssumedYear), s.writer, carries)
	s.reconciler = ingest.NewReconciler(s.cfg.ProjectName, s.filter, s.registry, s.snapshots, carries, s.ingester, s.cfg.Workers)
	s.dispatcher = ingest.NewDispatcher(s.cfg.ProjectName, s.filter, s.registry, s.snapshots, s.ingester, s.cfg.Workers)

	log.Info().
		Str("run_id", s.runID).
		Str("project", s.cfg.ProjectName).
		Str("directory", s.filter.Root()).
		Str("snapshot", s.snapshots.Path()).
		Bool("clickhouse", s.cfg.ClickHouse.Enabled).
		Msg("Ingest service opened")
	return nil
}

// Reconcile runs crash recovery once
func (s *IngestService) Reconcile(ctx context.Context) (*ingest.Summary, error) {
	if err := s.Open(ctx); err != nil {
		return nil, err
	}
	return s.reconciler.Run(ctx)
}

// Start reconciles, then watches the tree until ctx is cancelled. The
// watcher subscribes only after reconciliation has committed its snapshot.
func (s *IngestService) Start(ctx context.Context) error {
	log.Info().Str("run_id", s.runID).Msg("Ingest service starting...")

	if _, err := s.Reconcile(ctx); err != nil {
		return fmt.Errorf("reconciliation failed: %w", err)
	}

	w, err := watch.New()
	if err != nil {
		return err
	}
	if err := w.Start(s.filter.Root()); err != nil {
		_ = w.Stop()
		return err
	}
	s.watcher = w

	return s.dispatcher.Run(ctx, w.Events(), w.Errors())
}

// Status returns the last committed snapshot and the number of stored
// events for the project
func (s *IngestService) Status(ctx context.Context) (*domain.Snapshot, int, error) {
	if err := s.Open(ctx); err != nil {
		return nil, 0, err
	}
	snap, err := s.snapshots.Load()
	if errors.Is(err, snapshot.ErrNotFound) {
		snap = &domain.Snapshot{ProjectName: s.cfg.ProjectName, Directory: s.filter.Root()}
	} else if err != nil {
		return nil, 0, err
	}
	n, err := s.store.CountEvents(ctx, s.cfg.ProjectName)
	if err != nil {
		return nil, 0, err
	}
	return snap, n, nil
}

// Stop stops the watcher and closes the stores
func (s *IngestService) Stop() error {
	log.Info().Str("run_id", s.runID).Msg("Ingest service stopping...")

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if s.watcher != nil {
		keep(s.watcher.Stop())
		s.watcher = nil
	}
	if s.writer != nil {
		keep(s.writer.Close())
		s.writer = nil
		s.store = nil
	}
	if s.carries != nil {
		keep(s.carries.Close())
		s.carries = nil
	}
	return firstErr
}
