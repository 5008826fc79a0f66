// Package watch re-runs an incremental scan whenever files under a
// repository root change.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dusk-indust/archcrawl/internal/graph"
	"github.com/dusk-indust/archcrawl/internal/manifest"
	"github.com/dusk-indust/archcrawl/internal/pathutil"
	"github.com/dusk-indust/archcrawl/internal/scan"
)

// DefaultDebounce is the quiet period after the last event before a rescan.
const DefaultDebounce = 300 * time.Millisecond

// ErrNoScanner is returned by New when no scanner is supplied.
var ErrNoScanner = errors.New("watch: scanner is required")

// Options configure a Watcher.
type Options struct {
	Root string
	// Output is the manifest path rewritten after every scan. Empty
	// disables manifest output.
	Output         string
	Repo           string
	CrawlerVersion string
	Debounce       time.Duration
	Scan           scan.Options
	// Baseline seeds the first scan, typically from a previous manifest.
	Baseline *graph.Graph
	// OnScan is called after every scan, successful or not.
	OnScan func(res *scan.Result, err error)
}

// Watcher owns an fsnotify watcher over every directory the scan walks.
type Watcher struct {
	scanner *scan.Scanner
	opts    Options
	logger  *slog.Logger
	fsw     *fsnotify.Watcher
	exts    []string

	mu      sync.Mutex
	watched map[string]bool
	current *graph.Graph
}

// New prepares a Watcher. Nothing is watched until Run.
func New(scanner *scan.Scanner, opts Options, logger *slog.Logger) (*Watcher, error) {
	if scanner == nil {
		return nil, ErrNoScanner
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", opts.Root, err)
	}
	opts.Root = root

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	exts := opts.Scan.Walker.Extensions
	if len(exts) == 0 {
		exts = scanner.Registry().Extensions()
	}
	return &Watcher{
		scanner: scanner,
		opts:    opts,
		logger:  logger,
		fsw:     fsw,
		exts:    exts,
		watched: make(map[string]bool),
		current: opts.Baseline,
	}, nil
}

// Graph returns the graph of the most recent scan.
func (w *Watcher) Graph() *graph.Graph {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Watched returns the number of directories under watch.
func (w *Watcher) Watched() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.watched)
}

// Run performs an initial scan and then rescans after each burst of
// relevant file events until ctx is cancelled. A failed initial scan is
// returned; later failures are logged and reported through OnScan.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	if err := w.rescan(ctx); err != nil {
		return err
	}
	w.logger.Info("watching for changes", "root", w.opts.Root, "dirs", w.Watched())

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			w.logger.Debug("change detected", "path", ev.Name, "op", ev.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.opts.Debounce)
			} else {
				timer.Reset(w.opts.Debounce)
			}
			fire = timer.C

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)

		case <-fire:
			fire = nil
			if err := w.rescan(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				w.logger.Warn("rescan failed", "error", err)
			}
		}
	}
}

// relevant reports whether ev can change the scan result. New directories
// are added to the watch set immediately.
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return false
	}
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			w.addDir(ev.Name)
			return true
		}
	}
	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		w.mu.Lock()
		wasDir := w.watched[ev.Name]
		delete(w.watched, ev.Name)
		w.mu.Unlock()
		if wasDir {
			return true
		}
	}
	return pathutil.HasExtension(ev.Name, w.exts)
}

func (w *Watcher) addDir(dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watched[dir] {
		return
	}
	if err := w.fsw.Add(dir); err != nil {
		w.logger.Warn("failed to watch directory", "dir", dir, "error", err)
		return
	}
	w.watched[dir] = true
}

// rescan runs an incremental scan against the current graph and rewrites
// the manifest.
func (w *Watcher) rescan(ctx context.Context) error {
	opts := w.opts.Scan
	opts.Baseline = w.Graph()
	userOnDir := opts.OnDir
	opts.OnDir = func(dir string) {
		w.addDir(dir)
		if userOnDir != nil {
			userOnDir(dir)
		}
	}

	res, err := w.scanner.Scan(ctx, w.opts.Root, opts)
	if err == nil {
		w.mu.Lock()
		w.current = res.Graph
		w.mu.Unlock()
		err = w.writeManifest(res)
	}
	if w.opts.OnScan != nil {
		w.opts.OnScan(res, err)
	}
	return err
}

func (w *Watcher) writeManifest(res *scan.Result) error {
	if w.opts.Output == "" {
		return nil
	}
	repo := w.opts.Repo
	if repo == "" {
		repo = filepath.Base(w.opts.Root)
	}
	m := manifest.Build(res.Graph, manifest.BuildOptions{
		Repo:           repo,
		CrawlerVersion: w.opts.CrawlerVersion,
		Duration:       res.Duration,
		FilesAnalyzed:  res.FilesAnalyzed,
		FilesSkipped:   res.FilesSkipped,
	})
	if err := m.Write(w.opts.Output); err != nil {
		return err
	}
	w.logger.Info("manifest written", "path", w.opts.Output,
		"services", len(m.Services), "endpoints", len(m.Endpoints), "edges", len(m.Edges))
	return nil
}
