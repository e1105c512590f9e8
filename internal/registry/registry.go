// Package registry holds the in-memory table of monitored files and their
// last observed line counts.
package registry

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/SteelMorgan/cslogwatch/internal/domain"
)

// Registry is the set of tracked files for one project. All methods are
// safe for concurrent use. Read-modify-write sequences on a single path
// must be bracketed by Lock/unlock so two units of work never interleave
// on the same TrackedFile.
type Registry struct {
	mu    sync.RWMutex
	files map[string]int

	locksMu sync.Mutex
	locks   map[string]*pathLock
}

type pathLock struct {
	mu   sync.Mutex
	refs int
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		files: make(map[string]int),
		locks: make(map[string]*pathLock),
	}
}

// FromFiles creates a registry seeded with files. Later duplicates win.
func FromFiles(files []domain.TrackedFile) *Registry {
	r := New()
	for _, f := range files {
		r.files[f.Path] = f.LineCount
	}
	return r
}

// Lock acquires the exclusive lock for path and returns its release func
func (r *Registry) Lock(path string) func() {
	r.locksMu.Lock()
	l, ok := r.locks[path]
	if !ok {
		l = &pathLock{}
		r.locks[path] = l
	}
	l.refs++
	r.locksMu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()
		r.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, path)
		}
		r.locksMu.Unlock()
	}
}

// Get returns the tracked entry for path
func (r *Registry) Get(path string) (domain.TrackedFile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.files[path]
	if !ok {
		return domain.TrackedFile{}, false
	}
	return domain.TrackedFile{Path: path, LineCount: n}, true
}

// Put registers path or replaces its line count
func (r *Registry) Put(path string, lines int) {
	if lines < 0 {
		lines = 0
	}
	r.mu.Lock()
	r.files[path] = lines
	r.mu.Unlock()
}

// Remove drops path and reports whether it was tracked
func (r *Registry) Remove(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.files[path]; !ok {
		return false
	}
	delete(r.files, path)
	return true
}

// Under returns the tracked paths located below dir, ordered
func (r *Registry) Under(dir string) []string {
	prefix := strings.TrimSuffix(dir, string(filepath.Separator)) + string(filepath.Separator)

	r.mu.RLock()
	var paths []string
	for path := range r.files {
		if strings.HasPrefix(path, prefix) {
			paths = append(paths, path)
		}
	}
	r.mu.RUnlock()

	sort.Strings(paths)
	return paths
}

// Replace swaps the whole table for files
func (r *Registry) Replace(files []domain.TrackedFile) {
	next := make(map[string]int, len(files))
	for _, f := range files {
		next[f.Path] = f.LineCount
	}
	r.mu.Lock()
	r.files = next
	r.mu.Unlock()
}

// Len returns the number of tracked files
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.files)
}

// Files returns the tracked files ordered by path
func (r *Registry) Files() []domain.TrackedFile {
	r.mu.RLock()
	out := make([]domain.TrackedFile, 0, len(r.files))
	for path, n := range r.files {
		out = append(out, domain.TrackedFile{Path: path, LineCount: n})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Snapshot returns a point-in-time copy suitable for persisting
func (r *Registry) Snapshot(projectName, directory string) *domain.Snapshot {
	return &domain.Snapshot{
		ProjectName: projectName,
		Directory:   directory,
		Files:       r.Files(),
	}
}
