package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/archcrawl/internal/cache"
	"github.com/dusk-indust/archcrawl/internal/config"
	"github.com/dusk-indust/archcrawl/internal/graph"
	"github.com/dusk-indust/archcrawl/internal/manifest"
	"github.com/dusk-indust/archcrawl/internal/scan"
)

// scanFlags are shared by scan and watch. Flags override archcrawl.yml.
type scanFlags struct {
	noCache        bool
	followSymlinks bool
	noGitignore    bool
	persistGraph   bool
	workers        int
	maxDepth       int
	service        string
	queryDir       string
}

func (f *scanFlags) bind(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.BoolVar(&f.noCache, "no-cache", false, "re-parse every file and do not update the change cache")
	fl.BoolVar(&f.followSymlinks, "follow-symlinks", false, "descend into symlinked directories")
	fl.BoolVar(&f.noGitignore, "no-gitignore", false, "ignore .gitignore files")
	fl.BoolVar(&f.persistGraph, "persist-graph", false, "store the service graph for the deps command")
	fl.IntVar(&f.workers, "workers", config.DefaultWorkers, "files analyzed concurrently")
	fl.IntVar(&f.maxDepth, "max-depth", config.DefaultMaxDepth, "maximum directory depth, 0 for unlimited")
	fl.StringVar(&f.service, "service", "", "use this service name for every file")
	fl.StringVar(&f.queryDir, "query-dir", "", "directory with .scm files overriding the built-in queries")
}

// loadSettings reads archcrawl.yml from root and applies the flags that
// were set explicitly.
func loadSettings(cmd *cobra.Command, root string, f *scanFlags) (*config.ProjectConfig, error) {
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}

	fl := cmd.Flags()
	if fl.Changed("workers") {
		cfg.Workers = f.workers
	}
	if fl.Changed("max-depth") {
		cfg.Walker.MaxDepth = f.maxDepth
		if f.maxDepth == 0 {
			cfg.Walker.MaxDepth = -1
		}
	}
	if f.followSymlinks {
		cfg.Walker.FollowSymlinks = true
	}
	if f.noGitignore {
		cfg.SetRespectGitignore(false)
	}
	if f.noCache {
		cfg.SetCacheEnabled(false)
	}
	if f.persistGraph {
		cfg.Graph.Persist = true
	}
	if f.service != "" {
		cfg.ServiceName = f.service
	}
	if f.queryDir != "" {
		if cfg.QueryDir, err = filepath.Abs(f.queryDir); err != nil {
			return nil, fmt.Errorf("resolve query dir: %w", err)
		}
	}
	cfg.Normalize(root)
	return cfg, nil
}

// session owns the scanner and change cache for one command.
type session struct {
	cfg     *config.ProjectConfig
	root    string
	scanner *scan.Scanner
	cache   *cache.Cache
	logger  *slog.Logger
}

func openSession(ctx context.Context, cfg *config.ProjectConfig, root string, logger *slog.Logger) (*session, error) {
	var c *cache.Cache
	if cfg.CacheEnabled() {
		c = cache.New(cfg.CacheLimits(), logger)
		if err := c.Load(cfg.Cache.Path); err != nil {
			logger.Warn("failed to load change cache, starting empty", "path", cfg.Cache.Path, "error", err)
			c.Clear()
		}
	}

	scanner, err := scan.New(ctx, scan.Config{
		PoolSize: cfg.Parser.PoolSize,
		QueryDir: cfg.QueryDir,
		Cache:    c,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, root: root, scanner: scanner, cache: c, logger: logger}, nil
}

func (s *session) Close() error { return s.scanner.Close() }

func (s *session) scanOptions() scan.Options {
	return scan.Options{
		Workers:     s.cfg.Workers,
		ServiceName: s.cfg.ServiceName,
		Walker:      s.cfg.WalkerOptions(),
	}
}

// baseline loads the previous manifest so unchanged files keep their
// entities. Without a cache every file is parsed anyway.
func (s *session) baseline(output string) *graph.Graph {
	if s.cache == nil {
		return nil
	}
	m, err := manifest.Load(output)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("ignoring previous manifest", "path", output, "error", err)
		}
		return nil
	}
	return m.ToGraph()
}

func (s *session) repo() string {
	if s.cfg.Repo != "" {
		return s.cfg.Repo
	}
	return filepath.Base(s.root)
}

// finish writes the manifest, the change cache and, when enabled, the
// persisted graph.
func (s *session) finish(ctx context.Context, res *scan.Result, output string) error {
	m := manifest.Build(res.Graph, manifest.BuildOptions{
		Repo:           s.repo(),
		CrawlerVersion: version,
		Duration:       res.Duration,
		FilesAnalyzed:  res.FilesAnalyzed,
		FilesSkipped:   res.FilesSkipped,
	})
	if err := m.Write(output); err != nil {
		return err
	}
	s.saveCache()
	if s.cfg.Graph.Persist {
		if err := persistGraph(ctx, res.Graph, s.cfg.Graph.Path); err != nil {
			return fmt.Errorf("persist graph: %w", err)
		}
		s.logger.Debug("graph persisted", "path", s.cfg.Graph.Path)
	}
	return nil
}

func (s *session) saveCache() {
	if s.cache == nil {
		return
	}
	if err := s.cache.Save(s.cfg.Cache.Path); err != nil {
		s.logger.Warn("failed to save change cache", "path", s.cfg.Cache.Path, "error", err)
	}
}

func absRoot(path string) (string, error) {
	root, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve root %s: %w", path, err)
	}
	return root, nil
}
