// Package walker discovers candidate source files under a repository root.
// It applies the built-in ignore list, optional .gitignore rules, an
// extension filter and a depth limit, and keeps per-walk counters.
package walker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/dusk-indust/archcrawl/internal/pathutil"
	"github.com/gobwas/glob"
)

// =============================================================================
// Configuration
// =============================================================================

// Config controls a walk.
type Config struct {
	// FollowSymlinks descends into symlinked directories and reports
	// symlinked files. Otherwise symlinks are skipped.
	FollowSymlinks bool

	// RespectGitignore applies .gitignore files found during the walk.
	RespectGitignore bool

	// MaxDepth limits descent; the root is depth 0. Zero means unlimited.
	MaxDepth int

	// Extensions accepted by the walk, without the leading dot. Empty
	// accepts every regular file.
	Extensions []string

	// ExtraIgnore holds additional entry-name glob patterns.
	ExtraIgnore []string
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{RespectGitignore: true}
}

// Stats counts the outcome of the most recent walk.
type Stats struct {
	DirsVisited  int `json:"dirsVisited"`
	FilesScanned int `json:"filesScanned"`
	FilesMatched int `json:"filesMatched"`
	FilesIgnored int `json:"filesIgnored"`
	Errors       int `json:"errors"`
}

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrRootNotFound indicates the root path does not exist.
	ErrRootNotFound = errors.New("root path does not exist")

	// ErrRootNotDir indicates the root path is not a directory.
	ErrRootNotDir = errors.New("root path is not a directory")
)

// =============================================================================
// Walker
// =============================================================================

// VisitFunc is called once per matched file. Returning an error stops the
// walk and the error is returned from Walk.
type VisitFunc func(path string) error

// Walker walks a directory tree. A Walker may be reused; each walk resets
// its counters. Walks on one Walker must not run concurrently.
type Walker struct {
	cfg    Config
	ignore []glob.Glob
	logger *slog.Logger
	onDir  func(dir string)

	mu    sync.Mutex
	stats Stats
}

// New compiles the ignore patterns of cfg and returns a Walker.
func New(cfg Config, logger *slog.Logger) (*Walker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	patterns := make([]string, 0, len(BuiltinIgnore)+len(cfg.ExtraIgnore))
	patterns = append(patterns, BuiltinIgnore...)
	patterns = append(patterns, cfg.ExtraIgnore...)
	ignore, err := compileNames(patterns)
	if err != nil {
		return nil, err
	}
	return &Walker{cfg: cfg, ignore: ignore, logger: logger}, nil
}

// OnDir registers fn to be called for every directory the walk descends
// into, the root included.
func (w *Walker) OnDir(fn func(dir string)) {
	w.onDir = fn
}

// Stats returns the counters of the most recent walk.
func (w *Walker) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Ignored reports whether an entry name is on the built-in or extra
// ignore list.
func (w *Walker) Ignored(name string) bool {
	return matchAny(w.ignore, name)
}

// Walk visits every matching regular file below root.
func (w *Walker) Walk(ctx context.Context, root string, fn VisitFunc) error {
	w.mu.Lock()
	w.stats = Stats{}
	w.mu.Unlock()

	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrRootNotFound, root)
		}
		return fmt.Errorf("stat root %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrRootNotDir, root)
	}

	st := &walkState{
		ctx:    ctx,
		fn:     fn,
		active: make(map[string]bool),
	}
	return w.walkDir(st, root, 0, nil)
}

// walkState carries per-walk data through the recursion.
type walkState struct {
	ctx    context.Context
	fn     VisitFunc
	active map[string]bool // real paths of directories on the current stack
}

func (w *Walker) count(f func(*Stats)) {
	w.mu.Lock()
	f(&w.stats)
	w.mu.Unlock()
}

func (w *Walker) walkDir(st *walkState, dir string, depth int, rules ruleSet) error {
	if w.cfg.MaxDepth > 0 && depth >= w.cfg.MaxDepth {
		return nil
	}
	if err := st.ctx.Err(); err != nil {
		return err
	}

	realDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		realDir = dir
	}
	if st.active[realDir] {
		w.logger.Warn("symlink cycle detected", "dir", dir)
		w.count(func(s *Stats) { s.Errors++ })
		return nil
	}
	st.active[realDir] = true
	defer delete(st.active, realDir)

	entries, err := os.ReadDir(dir)
	if err != nil {
		w.logger.Warn("failed to read directory", "dir", dir, "error", err)
		w.count(func(s *Stats) { s.Errors++ })
		return nil
	}
	w.count(func(s *Stats) { s.DirsVisited++ })
	if w.onDir != nil {
		w.onDir(dir)
	}

	if w.cfg.RespectGitignore {
		if rules, err = rules.withGitignore(dir); err != nil {
			w.logger.Warn("failed to read .gitignore", "dir", dir, "error", err)
			w.count(func(s *Stats) { s.Errors++ })
		}
	}

	for _, entry := range entries {
		if err := st.ctx.Err(); err != nil {
			return err
		}
		if err := w.visitEntry(st, dir, entry.Name(), depth, rules); err != nil {
			return err
		}
	}
	return nil
}

func (w *Walker) visitEntry(st *walkState, dir, name string, depth int, rules ruleSet) error {
	if w.Ignored(name) {
		w.logger.Debug("ignoring entry", "name", name)
		w.count(func(s *Stats) { s.FilesIgnored++ })
		return nil
	}

	path := filepath.Join(dir, name)
	info, err := os.Lstat(path)
	if err != nil {
		w.logger.Debug("failed to stat entry", "path", path, "error", err)
		w.count(func(s *Stats) { s.Errors++ })
		return nil
	}

	if info.Mode()&fs.ModeSymlink != 0 {
		if !w.cfg.FollowSymlinks {
			return nil
		}
		if info, err = os.Stat(path); err != nil {
			w.logger.Debug("dangling symlink", "path", path, "error", err)
			w.count(func(s *Stats) { s.Errors++ })
			return nil
		}
	}

	if rules.ignored(path, info.IsDir()) {
		w.logger.Debug("ignoring entry per .gitignore", "path", path)
		w.count(func(s *Stats) { s.FilesIgnored++ })
		return nil
	}

	switch {
	case info.IsDir():
		return w.walkDir(st, path, depth+1, rules)
	case info.Mode().IsRegular():
		w.count(func(s *Stats) { s.FilesScanned++ })
		if !pathutil.HasExtension(path, w.cfg.Extensions) {
			return nil
		}
		w.count(func(s *Stats) { s.FilesMatched++ })
		return st.fn(path)
	}
	return nil
}
