package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/SteelMorgan/cslogwatch/internal/domain"
	"github.com/SteelMorgan/cslogwatch/internal/logfile"
	"github.com/SteelMorgan/cslogwatch/internal/observability"
	"github.com/SteelMorgan/cslogwatch/internal/offset"
	"github.com/SteelMorgan/cslogwatch/internal/registry"
	"github.com/SteelMorgan/cslogwatch/internal/snapshot"
)

// Summary counts the file transitions of one reconciliation
type Summary struct {
	Added     int
	Changed   int
	Truncated int
	Removed   int
	Unchanged int
	Failed    int // files whose range could not be parsed
	Totals    domain.IngestStats
}

// Reconciler brings the store up to date with the directory after a period
// in which changes were not observed
type Reconciler struct {
	project   string
	filter    *logfile.Filter
	registry  *registry.Registry
	snapshots *snapshot.Store
	carries   offset.CarryStore
	ingester  *Ingester
	workers   int
}

// NewReconciler wires a reconciler. workers bounds how many files are
// counted and ingested at once.
func NewReconciler(project string, filter *logfile.Filter, reg *registry.Registry, snapshots *snapshot.Store,
	carries offset.CarryStore, ingester *Ingester, workers int) *Reconciler {
	if workers < 1 {
		workers = 1
	}
	return &Reconciler{
		project:   project,
		filter:    filter,
		registry:  reg,
		snapshots: snapshots,
		carries:   carries,
		ingester:  ingester,
		workers:   workers,
	}
}

// Run enumerates the live tree, ingests everything the last snapshot does
// not cover, and only then commits the new snapshot and registry
func (r *Reconciler) Run(ctx context.Context) (summary *Summary, err error) {
	ctx, span := observability.StartSpan(ctx, "ingest.reconcile",
		attribute.String("project", r.project),
		attribute.String("directory", r.filter.Root()),
	)
	defer func() { observability.EndSpan(span, err, "reconciled") }()

	live, err := logfile.Enumerate(ctx, r.filter, r.workers)
	if err != nil {
		return nil, err
	}

	previous := map[string]int{}
	prev, err := r.snapshots.Load()
	switch {
	case err == nil:
		for _, f := range prev.Files {
			previous[f.Path] = f.LineCount
		}
		if prev.Directory != r.filter.Root() {
			log.Warn().
				Str("snapshot_directory", prev.Directory).
				Str("directory", r.filter.Root()).
				Msg("Snapshot was taken for another directory")
		}
	case errors.Is(err, snapshot.ErrNotFound):
		log.Info().Str("snapshot", r.snapshots.Path()).Msg("No snapshot found, ingesting every file")
	default:
		log.Warn().Err(err).Str("snapshot", r.snapshots.Path()).Msg("Unreadable snapshot, ingesting every file")
	}

	summary = &Summary{}
	var mu sync.Mutex
	next := make([]domain.TrackedFile, len(live))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, f := range live {
		i, f := i, f
		old, known := previous[f.Path]
		g.Go(func() error {
			kept, action, stats, err := r.reconcileFile(gctx, f, old, known)
			if gctx.Err() != nil {
				return gctx.Err()
			}
			next[i] = domain.TrackedFile{Path: f.Path, LineCount: kept}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Failed++
				return nil
			}
			summary.Totals.Add(stats)
			switch action {
			case ActionAdded:
				summary.Added++
			case ActionChanged:
				summary.Changed++
			case ActionTruncated:
				summary.Truncated++
			case ActionUnchanged:
				summary.Unchanged++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("reconciliation interrupted: %w", err)
	}

	current := make(map[string]bool, len(live))
	for _, f := range live {
		current[f.Path] = true
	}
	for path, old := range previous {
		if current[path] {
			continue
		}
		summary.Removed++
		logTransition(ActionRemoved, path, old, 0, domain.IngestStats{Path: path})
	}
	r.dropStaleCarries(ctx, current)

	r.registry.Replace(next)
	if err := r.snapshots.Save(r.registry.Snapshot(r.project, r.filter.Root())); err != nil {
		return nil, fmt.Errorf("failed to commit snapshot: %w", err)
	}

	span.SetAttributes(
		attribute.Int("files", len(live)),
		attribute.Int("events", summary.Totals.Events),
		attribute.Int("inserted", summary.Totals.Inserted),
	)
	log.Info().
		Int("files", len(live)).
		Int("added", summary.Added).
		Int("changed", summary.Changed).
		Int("truncated", summary.Truncated).
		Int("removed", summary.Removed).
		Int("unchanged", summary.Unchanged).
		Int("failed", summary.Failed).
		Int("inserted", summary.Totals.Inserted).
		Int("duplicates", summary.Totals.Duplicates).
		Msg("Reconciliation complete")

	return summary, nil
}

// reconcileFile ingests what the snapshot does not cover for one file and
// returns the line count to record for it
func (r *Reconciler) reconcileFile(ctx context.Context, f domain.TrackedFile, old int, known bool) (int, string, domain.IngestStats, error) {
	var (
		action string
		start  int
	)
	switch {
	case !known:
		action, start = ActionAdded, 1
	case f.LineCount == old:
		logTransition(ActionUnchanged, f.Path, old, f.LineCount, domain.IngestStats{Path: f.Path})
		return old, ActionUnchanged, domain.IngestStats{}, nil
	case f.LineCount > old:
		action, start = ActionChanged, old+1
	default:
		action, start = ActionTruncated, 1
	}

	if start == 1 {
		if err := r.ingester.Forget(ctx, f.Path); err != nil {
			log.Warn().Err(err).Str("file", f.Path).Msg("Failed to clear carried output block")
		}
	}

	// A failed first parse records 0 so the whole file is retried
	failed := old
	if action != ActionChanged {
		failed = 0
	}

	stats, err := r.ingester.IngestRange(ctx, f.Path, start, f.LineCount)
	if err != nil {
		logParseFailure(action, f.Path, failed, err)
		return failed, action, stats, err
	}

	logTransition(action, f.Path, old, f.LineCount, stats)
	return f.LineCount, action, stats, nil
}

// dropStaleCarries removes carried blocks of files that no longer exist
func (r *Reconciler) dropStaleCarries(ctx context.Context, live map[string]bool) {
	carried, err := r.carries.List(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to list carried output blocks")
		return
	}
	for path := range carried {
		if live[path] {
			continue
		}
		if err := r.carries.Delete(ctx, path); err != nil {
			log.Warn().Err(err).Str("file", path).Msg("Failed to drop stale carried output block")
		}
	}
}
