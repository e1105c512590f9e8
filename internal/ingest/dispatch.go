package ingest

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/SteelMorgan/cslogwatch/internal/domain"
	"github.com/SteelMorgan/cslogwatch/internal/logfile"
	"github.com/SteelMorgan/cslogwatch/internal/observability"
	"github.com/SteelMorgan/cslogwatch/internal/registry"
	"github.com/SteelMorgan/cslogwatch/internal/snapshot"
	"github.com/SteelMorgan/cslogwatch/internal/watch"
)

// Dispatcher applies live filesystem changes to the registry, the store and
// the snapshot. Events for one path are always handled in arrival order.
type Dispatcher struct {
	project   string
	filter    *logfile.Filter
	registry  *registry.Registry
	snapshots *snapshot.Store
	ingester  *Ingester
	workers   int

	persistMu sync.Mutex
}

// NewDispatcher wires a dispatcher. workers is the number of shards events
// are spread over by path.
func NewDispatcher(project string, filter *logfile.Filter, reg *registry.Registry, snapshots *snapshot.Store,
	ingester *Ingester, workers int) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		project:   project,
		filter:    filter,
		registry:  reg,
		snapshots: snapshots,
		ingester:  ingester,
		workers:   workers,
	}
}

// Run consumes events until the channel is closed or ctx is cancelled.
// Each path is pinned to one shard goroutine, which keeps per-file order
// while different files proceed in parallel.
func (d *Dispatcher) Run(ctx context.Context, events <-chan watch.Event, errs <-chan error) error {
	shards := make([]chan watch.Event, d.workers)
	var wg sync.WaitGroup
	for i := range shards {
		shards[i] = make(chan watch.Event, 64)
		wg.Add(1)
		go func(ch <-chan watch.Event) {
			defer wg.Done()
			// A unit that has started runs to completion; queued events
			// are dropped on shutdown and recovered by the next reconcile.
			unitCtx := context.WithoutCancel(ctx)
			for ev := range ch {
				if ctx.Err() != nil {
					continue
				}
				if err := d.Handle(unitCtx, ev); err != nil {
					log.Error().Err(err).Str("file", ev.Path).Str("op", ev.Op.String()).Msg("Failed to handle file event")
				}
			}
		}(shards[i])
	}
	defer func() {
		for _, ch := range shards {
			close(ch)
		}
		wg.Wait()
	}()

	log.Info().Int("workers", d.workers).Msg("Dispatcher started")

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			select {
			case shards[d.shard(ev.Path)] <- ev:
			case <-ctx.Done():
				return nil
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Warn().Err(err).Msg("Watcher error")
		}
	}
}

func (d *Dispatcher) shard(path string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(path))
	return int(h.Sum32() % uint32(d.workers))
}

// Handle applies a single event synchronously, including the snapshot write
func (d *Dispatcher) Handle(ctx context.Context, ev watch.Event) (err error) {
	ctx, span := observability.StartSpan(ctx, "ingest.dispatch",
		attribute.String("file", ev.Path),
		attribute.String("op", ev.Op.String()),
	)
	defer func() { observability.EndSpan(span, err, "event handled") }()

	switch ev.Op {
	case watch.OpDelete:
		return d.deleted(ctx, ev.Path)
	case watch.OpCreate, watch.OpModify:
		if !d.filter.Eligible(ev.Path) {
			return nil
		}
		unlock := d.registry.Lock(ev.Path)
		defer unlock()
		if ev.Op == watch.OpCreate {
			return d.created(ctx, ev.Path)
		}
		return d.modified(ctx, ev.Path)
	default:
		return fmt.Errorf("unknown event op %d", ev.Op)
	}
}

// created registers path and ingests it whole. Caller holds the path lock.
func (d *Dispatcher) created(ctx context.Context, path string) error {
	n, err := logfile.CountLines(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil // removed again before we got to it
		}
		return err
	}

	old, _ := d.registry.Get(path)
	if err := d.ingester.Forget(ctx, path); err != nil {
		log.Warn().Err(err).Str("file", path).Msg("Failed to clear carried output block")
	}

	stats, err := d.ingester.IngestRange(ctx, path, 1, n)
	if err != nil {
		logParseFailure(ActionAdded, path, 0, err)
		d.track(ctx, path, 0)
		return d.persist()
	}

	if d.track(ctx, path, n) {
		logTransition(ActionAdded, path, old.LineCount, n, stats)
	}
	return d.persist()
}

// modified ingests the lines appended since the last count. Caller holds
// the path lock.
func (d *Dispatcher) modified(ctx context.Context, path string) error {
	tf, ok := d.registry.Get(path)
	if !ok {
		return d.created(ctx, path)
	}

	n, err := logfile.CountLines(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil // the delete event follows
		}
		return err
	}

	old := tf.LineCount
	switch {
	case n == old:
		logTransition(ActionUnchanged, path, old, n, domain.IngestStats{Path: path})
		return nil

	case n < old:
		if err := d.ingester.Forget(ctx, path); err != nil {
			log.Warn().Err(err).Str("file", path).Msg("Failed to clear carried output block")
		}
		stats, err := d.ingester.IngestRange(ctx, path, 1, n)
		if err != nil {
			logParseFailure(ActionTruncated, path, 0, err)
			d.track(ctx, path, 0)
			return d.persist()
		}
		if d.track(ctx, path, n) {
			logTransition(ActionTruncated, path, old, n, stats)
		}
		return d.persist()

	default:
		stats, err := d.ingester.IngestRange(ctx, path, old+1, n)
		if err != nil {
			logParseFailure(ActionChanged, path, old, err)
			return nil
		}
		if d.track(ctx, path, n) {
			logTransition(ActionChanged, path, old, n, stats)
		}
		return d.persist()
	}
}

// track records the line count of path, unless the file is gone by now.
// A directory removal that raced with this unit may already have dropped
// the files it could see, and no further event arrives for the path.
// Caller holds the path lock.
func (d *Dispatcher) track(ctx context.Context, path string, lines int) bool {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if tf, ok := d.registry.Get(path); ok {
			d.registry.Remove(path)
			logTransition(ActionRemoved, path, tf.LineCount, 0, domain.IngestStats{Path: path})
		}
		if err := d.ingester.Forget(ctx, path); err != nil {
			log.Warn().Err(err).Str("file", path).Msg("Failed to clear carried output block")
		}
		return false
	}
	d.registry.Put(path, lines)
	return true
}

// deleted forgets path, or every tracked file below it when path was a
// directory. Stored events are kept.
func (d *Dispatcher) deleted(ctx context.Context, path string) error {
	var removed []domain.TrackedFile

	unlock := d.registry.Lock(path)
	if tf, ok := d.registry.Get(path); ok {
		d.registry.Remove(path)
		removed = append(removed, tf)
	}
	unlock()

	if len(removed) == 0 {
		for _, p := range d.registry.Under(path) {
			// Wait for any in-flight unit on the file before dropping it
			unlock := d.registry.Lock(p)
			if tf, ok := d.registry.Get(p); ok {
				d.registry.Remove(p)
				removed = append(removed, tf)
			}
			unlock()
		}
	}

	if len(removed) == 0 {
		return nil
	}

	for _, tf := range removed {
		if err := d.ingester.Forget(ctx, tf.Path); err != nil {
			log.Warn().Err(err).Str("file", tf.Path).Msg("Failed to clear carried output block")
		}
		logTransition(ActionRemoved, tf.Path, tf.LineCount, 0, domain.IngestStats{Path: tf.Path})
	}
	return d.persist()
}

// persist writes the whole registry. Capture and write happen under one
// lock so an older view never overwrites a newer one.
func (d *Dispatcher) persist() error {
	d.persistMu.Lock()
	defer d.persistMu.Unlock()

	if err := d.snapshots.Save(d.registry.Snapshot(d.project, d.filter.Root())); err != nil {
		return fmt.Errorf("failed to persist snapshot: %w", err)
	}
	return nil
}
