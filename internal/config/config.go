// Package config loads project settings from archcrawl.yml.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/dusk-indust/archcrawl/internal/cache"
	"github.com/dusk-indust/archcrawl/internal/walker"
)

// Defaults applied by Normalize.
const (
	DefaultOutput          = "architecture.json"
	DefaultWorkers         = 1
	DefaultMaxDepth        = 10
	DefaultCacheMaxEntries = 10000
	DefaultPoolSize        = 8
	DefaultStateDir        = ".archcrawl"
)

// FileNames are tried in order by Load.
var FileNames = []string{"archcrawl.yml", "archcrawl.yaml"}

// ProjectConfig holds project-level settings.
type ProjectConfig struct {
	Output      string       `yaml:"output,omitempty"`
	Repo        string       `yaml:"repo,omitempty"`
	ServiceName string       `yaml:"serviceName,omitempty"`
	Workers     int          `yaml:"workers,omitempty"`
	QueryDir    string       `yaml:"queryDir,omitempty"`
	Walker      WalkerConfig `yaml:"walker,omitempty"`
	Cache       CacheConfig  `yaml:"cache,omitempty"`
	Parser      ParserConfig `yaml:"parser,omitempty"`
	Graph       GraphConfig  `yaml:"graph,omitempty"`
}

// WalkerConfig controls directory traversal.
type WalkerConfig struct {
	FollowSymlinks bool `yaml:"followSymlinks,omitempty"`
	// RespectGitignore defaults to true when unset.
	RespectGitignore *bool `yaml:"respectGitignore,omitempty"`
	// MaxDepth defaults to DefaultMaxDepth; a negative value removes the
	// limit.
	MaxDepth        int      `yaml:"maxDepth,omitempty"`
	Extensions      []string `yaml:"extensions,omitempty"`
	ExcludePatterns []string `yaml:"excludePatterns,omitempty"`
}

// CacheConfig controls the change cache.
type CacheConfig struct {
	// Enabled defaults to true when unset.
	Enabled    *bool  `yaml:"enabled,omitempty"`
	Path       string `yaml:"path,omitempty"`
	MaxEntries int    `yaml:"maxEntries,omitempty"`
	MaxBytes   int64  `yaml:"maxBytes,omitempty"`
}

// ParserConfig controls the parser pool.
type ParserConfig struct {
	PoolSize int `yaml:"poolSize,omitempty"`
}

// GraphConfig controls persistence of the service graph.
type GraphConfig struct {
	Persist bool   `yaml:"persist,omitempty"`
	Path    string `yaml:"path,omitempty"`
}

// Load reads archcrawl.yml or archcrawl.yaml from dir. A missing file yields
// a zero config, not an error. The result is not normalized.
func Load(dir string) (*ProjectConfig, error) {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		var cfg ProjectConfig
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return &cfg, nil
	}
	return &ProjectConfig{}, nil
}

// Normalize fills unset fields with defaults. State paths (cache, graph)
// are resolved against root when relative. Workers are clamped to the
// parser pool size.
func (c *ProjectConfig) Normalize(root string) {
	if c.Output == "" {
		c.Output = DefaultOutput
	}
	if c.Parser.PoolSize <= 0 {
		c.Parser.PoolSize = DefaultPoolSize
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.Workers > c.Parser.PoolSize {
		c.Workers = c.Parser.PoolSize
	}
	switch {
	case c.Walker.MaxDepth == 0:
		c.Walker.MaxDepth = DefaultMaxDepth
	case c.Walker.MaxDepth < 0:
		c.Walker.MaxDepth = 0
	}
	if c.Walker.RespectGitignore == nil {
		c.Walker.RespectGitignore = boolPtr(true)
	}
	if c.Cache.Enabled == nil {
		c.Cache.Enabled = boolPtr(true)
	}
	if c.Cache.MaxEntries <= 0 {
		c.Cache.MaxEntries = DefaultCacheMaxEntries
	}
	if c.Cache.MaxBytes < 0 {
		c.Cache.MaxBytes = 0
	}
	if c.Cache.Path == "" {
		c.Cache.Path = filepath.Join(DefaultStateDir, "cache.bin")
	}
	if c.Graph.Path == "" {
		c.Graph.Path = filepath.Join(DefaultStateDir, "graph")
	}
	if root != "" {
		c.Cache.Path = resolve(root, c.Cache.Path)
		c.Graph.Path = resolve(root, c.Graph.Path)
		if c.QueryDir != "" {
			c.QueryDir = resolve(root, c.QueryDir)
		}
	}
}

// CacheEnabled reports whether the change cache is on.
func (c *ProjectConfig) CacheEnabled() bool {
	return c.Cache.Enabled == nil || *c.Cache.Enabled
}

// RespectGitignore reports whether .gitignore files are applied.
func (c *ProjectConfig) RespectGitignore() bool {
	return c.Walker.RespectGitignore == nil || *c.Walker.RespectGitignore
}

// SetCacheEnabled overrides the cache switch.
func (c *ProjectConfig) SetCacheEnabled(v bool) { c.Cache.Enabled = boolPtr(v) }

// SetRespectGitignore overrides the gitignore switch.
func (c *ProjectConfig) SetRespectGitignore(v bool) { c.Walker.RespectGitignore = boolPtr(v) }

// WalkerOptions converts the walker section for the scan driver.
func (c *ProjectConfig) WalkerOptions() walker.Config {
	return walker.Config{
		FollowSymlinks:   c.Walker.FollowSymlinks,
		RespectGitignore: c.RespectGitignore(),
		MaxDepth:         c.Walker.MaxDepth,
		Extensions:       c.Walker.Extensions,
		ExtraIgnore:      c.Walker.ExcludePatterns,
	}
}

// CacheLimits converts the cache section.
func (c *ProjectConfig) CacheLimits() cache.Config {
	return cache.Config{MaxEntries: c.Cache.MaxEntries, MaxBytes: c.Cache.MaxBytes}
}

func resolve(root, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

func boolPtr(v bool) *bool { return &v }
