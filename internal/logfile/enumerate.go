package logfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/SteelMorgan/cslogwatch/internal/domain"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Enumerate walks the filter's root and returns every eligible file with
// its current line count, ordered by path. Nothing is parsed. Files that
// cannot be read are logged and left out.
func Enumerate(ctx context.Context, filter *Filter, workers int) ([]domain.TrackedFile, error) {
	if workers <= 0 {
		workers = 4
	}

	var paths []string
	err := filepath.WalkDir(filter.Root(), func(path string, d os.DirEntry, err error) error {
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Skipping inaccessible path")
			if d != nil && d.IsDir() && path != filter.Root() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if filter.Eligible(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory %s: %w", filter.Root(), err)
	}

	counts := make([]int, len(paths))
	readable := make([]bool, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			n, err := CountLines(path)
			if err != nil {
				log.Warn().Err(err).Str("file", path).Msg("Failed to count lines, file not tracked")
				return nil
			}
			counts[i] = n
			readable[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	files := make([]domain.TrackedFile, 0, len(paths))
	for i, path := range paths {
		if readable[i] {
			files = append(files, domain.TrackedFile{Path: path, LineCount: counts[i]})
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	log.Debug().
		Str("root", filter.Root()).
		Int("files", len(files)).
		Msg("Directory enumeration complete")

	return files, nil
}
