package snapshot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/SteelMorgan/cslogwatch/internal/domain"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// FileSuffix is appended to the project name to form the snapshot file name
const FileSuffix = ".cslogwatchstate"

// ErrNotFound is returned by Load when no snapshot has been written yet
var ErrNotFound = errors.New("snapshot not found")

// Store persists registry snapshots for a single project. Each Save
// replaces the whole document: the new content is written to a temporary
// file in the same directory and renamed over the previous snapshot.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore creates a store for projectName inside dir
func NewStore(dir, projectName string) *Store {
	return &Store{path: filepath.Join(dir, FileName(projectName))}
}

// FileName derives the snapshot file name from a project name
func FileName(projectName string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, projectName)
	return name + FileSuffix
}

// Path returns the snapshot file location
func (s *Store) Path() string {
	return s.path
}

// Save overwrites the snapshot with snap
func (s *Store) Save(snap *domain.Snapshot) error {
	data, err := yaml.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}

	log.Debug().
		Str("path", s.path).
		Int("files", len(snap.Files)).
		Msg("Snapshot written")

	return nil
}

// Load reads the last snapshot. A missing file yields ErrNotFound; any
// other error means the snapshot is unreadable or corrupt.
func (s *Store) Load() (*domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snap domain.Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", s.path, err)
	}

	seen := make(map[string]struct{}, len(snap.Files))
	for _, f := range snap.Files {
		if f.Path == "" {
			return nil, fmt.Errorf("snapshot %s has an entry without filepath", s.path)
		}
		if f.LineCount < 0 {
			return nil, fmt.Errorf("snapshot %s has a negative line count for %s", s.path, f.Path)
		}
		if _, dup := seen[f.Path]; dup {
			return nil, fmt.Errorf("snapshot %s lists %s twice", s.path, f.Path)
		}
		seen[f.Path] = struct{}{}
	}

	return &snap, nil
}
