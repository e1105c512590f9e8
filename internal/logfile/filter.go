package logfile

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Filter decides which files under the monitored root are beacon logs.
// Companion logs written by the team server (events.log, weblog.log,
// downloads.log) share the .log suffix but use a different line format.
type Filter struct {
	root    string
	pattern string
	exclude map[string]struct{}
}

// NewFilter creates a filter for files below root matching pattern
// (doublestar syntax, relative to root) whose base name is not excluded
func NewFilter(root, pattern string, exclude []string) *Filter {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	ex := make(map[string]struct{}, len(exclude))
	for _, name := range exclude {
		ex[name] = struct{}{}
	}
	return &Filter{root: filepath.Clean(root), pattern: pattern, exclude: ex}
}

// Root returns the absolute monitored directory
func (f *Filter) Root() string {
	return f.root
}

// Eligible reports whether path should be tracked and parsed
func (f *Filter) Eligible(path string) bool {
	if _, skip := f.exclude[filepath.Base(path)]; skip {
		return false
	}

	rel, err := filepath.Rel(f.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return false
	}

	ok, err := doublestar.Match(f.pattern, filepath.ToSlash(rel))
	return err == nil && ok
}
