// Package plugin defines the language plugin contract and the ordered
// registry the scan driver dispatches files through.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dusk-indust/archcrawl/internal/graph"
	"github.com/dusk-indust/archcrawl/internal/pathutil"
)

// MaxPlugins is the registry capacity.
const MaxPlugins = 16

var (
	// ErrDuplicatePlugin is returned when a plugin name is already taken.
	ErrDuplicatePlugin = errors.New("plugin already registered")

	// ErrRegistryFull is returned once MaxPlugins plugins are registered.
	ErrRegistryFull = errors.New("plugin registry full")
)

// Plugin extracts services, endpoints and edges from one language.
type Plugin interface {
	Name() string
	Version() string
	// Extensions lists handled file extensions without the leading dot.
	Extensions() []string

	Init(ctx context.Context) error
	Shutdown() error

	SupportsFile(path string) bool
	// ParseFile never returns nil; failures are reported through
	// ParseResult.Success and ParseResult.Error.
	ParseFile(ctx context.Context, path, serviceName string) *graph.ParseResult
	InferServiceName(path string) string
	// QueryPath returns the file a query named name is loaded from, or ""
	// when the plugin has no query directory.
	QueryPath(name string) string
}

// HasExtension reports whether path ends in one of exts.
func HasExtension(path string, exts []string) bool {
	if len(exts) == 0 {
		return false
	}
	return pathutil.HasExtension(path, exts)
}

// Registry holds plugins in registration order. It is safe for concurrent
// use.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register initializes p and appends it. A plugin whose Init fails is not
// registered.
func (r *Registry) Register(ctx context.Context, p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.plugins) >= MaxPlugins {
		return fmt.Errorf("%w: %s", ErrRegistryFull, p.Name())
	}
	for _, existing := range r.plugins {
		if strings.EqualFold(existing.Name(), p.Name()) {
			return fmt.Errorf("%w: %s", ErrDuplicatePlugin, p.Name())
		}
	}
	if err := p.Init(ctx); err != nil {
		return fmt.Errorf("init plugin %s: %w", p.Name(), err)
	}
	r.plugins = append(r.plugins, p)
	r.logger.Debug("registered plugin", "name", p.Name(), "version", p.Version(), "extensions", p.Extensions())
	return nil
}

// Get returns the plugin named name, ignoring case.
func (r *Registry) Get(name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.plugins {
		if strings.EqualFold(p.Name(), name) {
			return p, true
		}
	}
	return nil, false
}

// ForFile returns the first registered plugin that supports path.
func (r *Registry) ForFile(path string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.plugins {
		if p.SupportsFile(path) {
			return p, true
		}
	}
	return nil, false
}

// List returns the registered plugins in registration order.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Plugin, len(r.plugins))
	copy(out, r.plugins)
	return out
}

// Len returns the number of registered plugins.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// Extensions returns the union of every plugin's extensions, first
// occurrence order.
func (r *Registry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, p := range r.plugins {
		for _, ext := range p.Extensions() {
			ext = strings.TrimPrefix(ext, ".")
			if ext == "" || seen[ext] {
				continue
			}
			seen[ext] = true
			out = append(out, ext)
		}
	}
	return out
}

// Shutdown shuts every plugin down once and empties the registry. Errors
// are joined; every plugin is shut down regardless.
func (r *Registry) Shutdown() error {
	r.mu.Lock()
	plugins := r.plugins
	r.plugins = nil
	r.mu.Unlock()

	var errs []error
	for _, p := range plugins {
		if err := p.Shutdown(); err != nil {
			r.logger.Warn("plugin shutdown failed", "name", p.Name(), "error", err)
			errs = append(errs, fmt.Errorf("shutdown %s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}
