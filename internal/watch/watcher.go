// Package watch delivers created/modified/deleted notifications for every
// file below a root directory, following subdirectories as they appear.
package watch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Op is the kind of change observed for a path
type Op int

const (
	OpCreate Op = iota
	OpModify
	OpDelete
)

func (op Op) String() string {
	switch op {
	case OpCreate:
		return "created"
	case OpModify:
		return "modified"
	case OpDelete:
		return "deleted"
	default:
		return "unknown"
	}
}

// Event is a change to a single path. Create and modify events are only
// emitted for regular files. A delete may name a file or a directory,
// since a removed path can no longer be inspected.
type Event struct {
	Path string
	Op   Op
}

// Watcher watches a directory tree recursively
type Watcher struct {
	watcher *fsnotify.Watcher
	events  chan Event
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	running bool
	dirs    map[string]bool
}

// New creates a watcher. It emits nothing until Start is called.
func New() (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		watcher: w,
		events:  make(chan Event, 256),
		errors:  make(chan error, 16),
		done:    make(chan struct{}),
		dirs:    make(map[string]bool),
	}, nil
}

// Start subscribes to root and every directory below it
func (w *Watcher) Start(root string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", root, err)
	}

	if _, err := w.addTree(abs); err != nil {
		return err
	}

	w.running = true
	w.wg.Add(1)
	go w.processEvents()

	log.Info().Str("root", abs).Int("directories", len(w.dirs)).Msg("Watching directory tree")
	return nil
}

// Stop closes the subscription and waits for the event loop to exit.
// Both channels are closed afterwards.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.watcher.Close()
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	w.wg.Wait()

	close(w.events)
	close(w.errors)
	return nil
}

// Events returns the channel of file changes
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns the channel of watcher errors
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// IsRunning reports whether Start has been called and Stop has not
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// addTree watches dir and its subdirectories and returns the regular
// files found inside. Caller holds w.mu.
func (w *Watcher) addTree(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			log.Warn().Err(err).Str("path", path).Msg("Skipping unreadable path")
			return nil
		}
		if !d.IsDir() {
			if d.Type().IsRegular() {
				files = append(files, path)
			}
			return nil
		}
		if w.dirs[path] {
			return nil
		}
		if err := w.watcher.Add(path); err != nil {
			if path == dir {
				return err
			}
			log.Warn().Err(err).Str("path", path).Msg("Failed to watch directory")
			return filepath.SkipDir
		}
		w.dirs[path] = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	return files, nil
}

// forgetTree drops path and everything below it from the watched set
func (w *Watcher) forgetTree(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	found := false
	prefix := path + string(filepath.Separator)
	for dir := range w.dirs {
		if dir == path || strings.HasPrefix(dir, prefix) {
			delete(w.dirs, dir)
			// A renamed directory keeps its inotify watch
			_ = w.watcher.Remove(dir)
			found = true
		}
	}
	return found
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			for _, ev := range w.convertEvent(event) {
				select {
				case w.events <- ev:
				case <-w.done:
					return
				}
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			case <-w.done:
				return
			}
		}
	}
}

// convertEvent maps one fsnotify event to zero or more file events
func (w *Watcher) convertEvent(event fsnotify.Event) []Event {
	path := filepath.Clean(event.Name)

	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		// The new name of a rename arrives as a create
		w.forgetTree(path)
		return []Event{{Path: path, Op: OpDelete}}

	case event.Has(fsnotify.Create):
		info, err := os.Lstat(path)
		if err != nil {
			return nil
		}
		if info.IsDir() {
			w.mu.Lock()
			files, err := w.addTree(path)
			w.mu.Unlock()
			if err != nil {
				log.Warn().Err(err).Str("path", path).Msg("Failed to watch new directory")
				return nil
			}
			// Files written before the watch was added produced no events
			out := make([]Event, 0, len(files))
			for _, f := range files {
				out = append(out, Event{Path: f, Op: OpCreate})
			}
			return out
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		return []Event{{Path: path, Op: OpCreate}}

	case event.Has(fsnotify.Write):
		info, err := os.Lstat(path)
		if err != nil || !info.Mode().IsRegular() {
			return nil
		}
		return []Event{{Path: path, Op: OpModify}}

	default:
		// Ignore chmod
		return nil
	}
}
