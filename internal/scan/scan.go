// Package scan drives a repository scan: it walks the tree, dispatches
// changed files to language plugins, aggregates the results into a graph
// and resolves cross-service imports.
package scan

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dusk-indust/archcrawl/internal/cache"
	"github.com/dusk-indust/archcrawl/internal/graph"
	"github.com/dusk-indust/archcrawl/internal/parserpool"
	"github.com/dusk-indust/archcrawl/internal/pathutil"
	"github.com/dusk-indust/archcrawl/internal/plugin"
	"github.com/dusk-indust/archcrawl/internal/plugin/python"
	"github.com/dusk-indust/archcrawl/internal/walker"
)

// Config configures a Scanner.
type Config struct {
	// PoolSize is the per-language parser cap. Zero selects
	// parserpool.DefaultCap.
	PoolSize int
	// QueryDir overrides built-in plugin queries.
	QueryDir string
	// Cache enables incremental scans. Nil disables change detection.
	Cache  *cache.Cache
	Logger *slog.Logger
}

// Scanner owns the parser pool and plugin registry for its lifetime.
// Scan may be called repeatedly and concurrently.
type Scanner struct {
	registry *plugin.Registry
	pool     *parserpool.Pool
	cache    *cache.Cache
	logger   *slog.Logger
}

// New builds a Scanner with the built-in plugins registered.
func New(ctx context.Context, cfg Config) (*Scanner, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pool := parserpool.New(cfg.PoolSize, logger)
	registry := plugin.NewRegistry(logger)

	py := python.New(python.Options{Pool: pool, QueryDir: cfg.QueryDir, Logger: logger})
	if err := registry.Register(ctx, py); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("register python plugin: %w", err)
	}
	return NewWithRegistry(registry, pool, cfg.Cache, logger), nil
}

// NewWithRegistry builds a Scanner around an existing registry and pool.
// The Scanner takes ownership of both.
func NewWithRegistry(registry *plugin.Registry, pool *parserpool.Pool, c *cache.Cache, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{registry: registry, pool: pool, cache: c, logger: logger}
}

// Registry returns the plugin registry.
func (s *Scanner) Registry() *plugin.Registry { return s.registry }

// Cache returns the change cache, which may be nil.
func (s *Scanner) Cache() *cache.Cache { return s.cache }

// Close shuts down every plugin and destroys the parser pool.
func (s *Scanner) Close() error {
	err := s.registry.Shutdown()
	if perr := s.pool.Close(); err == nil {
		err = perr
	}
	return err
}

// Options control a single scan.
type Options struct {
	// Workers bounds concurrent file processing. Values below one mean
	// sequential; values above the pool cap are clamped to it.
	Workers int
	// ServiceName, when set, is used for every file instead of the
	// inferred name.
	ServiceName string
	Walker      walker.Config
	// Baseline is the graph of a previous scan. Unchanged files keep
	// their entities from it; files no longer present are dropped. The
	// baseline is modified in place and becomes Result.Graph.
	Baseline *graph.Graph
	// OnDir is called for every directory the walk enters.
	OnDir func(dir string)
}

// Failure records a file that could not be analyzed.
type Failure struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

// Result is the outcome of a scan.
type Result struct {
	Root          string        `json:"root"`
	Graph         *graph.Graph  `json:"-"`
	FilesAnalyzed int           `json:"filesAnalyzed"`
	FilesSkipped  int           `json:"filesSkipped"`
	FilesRemoved  int           `json:"filesRemoved"`
	Failures      []Failure     `json:"failures,omitempty"`
	ImportEdges   int           `json:"importEdges"`
	Walk          walker.Stats  `json:"walk"`
	Duration      time.Duration `json:"duration"`
}

// Scan analyzes root. Only a bad root or a cancelled context fail the
// scan; per-file problems are recorded in Result.Failures.
func (s *Scanner) Scan(ctx context.Context, root string, opts Options) (*Result, error) {
	start := time.Now()

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", root, err)
	}

	wcfg := opts.Walker
	if len(wcfg.Extensions) == 0 {
		wcfg.Extensions = s.registry.Extensions()
	}
	w, err := walker.New(wcfg, s.logger)
	if err != nil {
		return nil, err
	}
	if opts.OnDir != nil {
		w.OnDir(opts.OnDir)
	}

	g := opts.Baseline
	if g == nil {
		g = graph.New()
	}
	res := &Result{Root: absRoot, Graph: g}

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	if limit := s.pool.Cap(); workers > limit {
		s.logger.Debug("clamping workers to parser pool cap", "workers", workers, "cap", limit)
		workers = limit
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]bool)
		eg   errgroup.Group
	)
	eg.SetLimit(workers)

	walkErr := w.Walk(ctx, absRoot, func(path string) error {
		rel := pathutil.Rel(absRoot, path)
		mu.Lock()
		seen[rel] = true
		mu.Unlock()

		if workers == 1 {
			s.processFile(ctx, absRoot, path, rel, opts, res, &mu)
			return nil
		}
		eg.Go(func() error {
			s.processFile(ctx, absRoot, path, rel, opts, res, &mu)
			return nil
		})
		return nil
	})
	_ = eg.Wait()
	res.Walk = w.Stats()
	if walkErr != nil {
		return nil, fmt.Errorf("scan %s: %w", absRoot, walkErr)
	}

	if opts.Baseline != nil {
		for _, f := range g.Files() {
			if !seen[f] {
				s.logger.Debug("file removed since last scan", "file", f)
				g.RemoveFile(f)
				if s.cache != nil {
					s.cache.Remove(filepath.Join(absRoot, filepath.FromSlash(f)))
				}
				res.FilesRemoved++
			}
		}
	}

	// Services may have appeared or vanished since the baseline was built.
	g.RemoveResolvedEdges()
	res.ImportEdges = graph.NewResolver(g).Apply(g)
	g.Sort()
	res.Duration = time.Since(start)

	stats := g.Stats()
	s.logger.Info("scan complete",
		"root", absRoot,
		"analyzed", res.FilesAnalyzed,
		"skipped", res.FilesSkipped,
		"failed", len(res.Failures),
		"services", stats.ServiceCount,
		"endpoints", stats.EndpointCount,
		"edges", stats.EdgeCount,
		"duration", res.Duration)
	return res, nil
}

// processFile analyzes one file and merges the outcome into res.Graph.
func (s *Scanner) processFile(ctx context.Context, root, path, rel string, opts Options, res *Result, mu *sync.Mutex) {
	g := res.Graph

	if s.cache != nil && !s.cache.IsChanged(path) && g.HasFile(rel) {
		s.logger.Debug("unchanged, skipping", "file", rel)
		mu.Lock()
		res.FilesSkipped++
		mu.Unlock()
		return
	}

	p, ok := s.registry.ForFile(path)
	if !ok {
		mu.Lock()
		res.FilesSkipped++
		mu.Unlock()
		return
	}

	pr := p.ParseFile(ctx, path, opts.ServiceName)
	g.RemoveFile(rel)
	if pr == nil || !pr.Success {
		msg := "no result"
		if pr != nil {
			msg = pr.Error
		}
		s.logger.Warn("failed to analyze file", "file", rel, "plugin", p.Name(), "error", msg)
		if s.cache != nil {
			s.cache.Remove(path)
		}
		mu.Lock()
		res.Failures = append(res.Failures, Failure{File: rel, Error: msg})
		mu.Unlock()
		return
	}

	if pr.Service != nil {
		pr.Service.Path = pathutil.Rel(root, pr.Service.Path)
	}
	g.Merge(rel, pr)

	if s.cache != nil {
		if err := s.cache.Record(path); err != nil {
			s.logger.Warn("failed to record file in cache", "file", rel, "error", err)
		}
	}
	mu.Lock()
	res.FilesAnalyzed++
	mu.Unlock()
}
