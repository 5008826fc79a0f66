package mcptools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dusk-indust/archcrawl/internal/config"
	"github.com/dusk-indust/archcrawl/internal/graph"
	"github.com/dusk-indust/archcrawl/internal/manifest"
	"github.com/dusk-indust/archcrawl/internal/scan"
)

// ErrNoGraph is returned by query tools before any repository was scanned
// or loaded.
var ErrNoGraph = errors.New("no repository scanned yet; call scan_repository first")

// StoreFactory opens an empty graph store.
type StoreFactory func() (graph.Store, error)

// ArchService holds the scanner and the current graph store used by the MCP
// tool handlers. Each scan replaces the store.
type ArchService struct {
	scanner  *scan.Scanner
	newStore StoreFactory
	logger   *slog.Logger

	mu    sync.RWMutex
	store graph.Store
}

// NewArchService creates an ArchService. A nil factory selects in-memory
// stores.
func NewArchService(scanner *scan.Scanner, newStore StoreFactory, logger *slog.Logger) *ArchService {
	if newStore == nil {
		newStore = func() (graph.Store, error) { return graph.NewMemStore(), nil }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ArchService{scanner: scanner, newStore: newStore, logger: logger}
}

// Load replaces the current store with one holding g.
func (s *ArchService) Load(ctx context.Context, g *graph.Graph) error {
	store, err := s.newStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if err := graph.Persist(ctx, g, store); err != nil {
		store.Close()
		return err
	}

	s.mu.Lock()
	old := s.store
	s.store = store
	s.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			s.logger.Warn("failed to close previous store", "error", err)
		}
	}
	return nil
}

// Close releases the current store.
func (s *ArchService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		return nil
	}
	err := s.store.Close()
	s.store = nil
	return err
}

func (s *ArchService) current() (graph.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.store == nil {
		return nil, ErrNoGraph
	}
	return s.store, nil
}

// ScanRepository scans a repository with the settings of its archcrawl.yml,
// loads the resulting graph and optionally writes a manifest.
func (s *ArchService) ScanRepository(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input ScanRepositoryInput,
) (*mcp.CallToolResult, ScanRepositoryOutput, error) {
	if input.RepoPath == "" {
		return nil, ScanRepositoryOutput{}, fmt.Errorf("repoPath is required")
	}
	if s.scanner == nil {
		return nil, ScanRepositoryOutput{}, fmt.Errorf("scanning is not available")
	}

	cfg, err := config.Load(input.RepoPath)
	if err != nil {
		return nil, ScanRepositoryOutput{}, err
	}
	cfg.Normalize(input.RepoPath)
	if input.ServiceName != "" {
		cfg.ServiceName = input.ServiceName
	}

	res, err := s.scanner.Scan(ctx, input.RepoPath, scan.Options{
		Workers:     cfg.Workers,
		ServiceName: cfg.ServiceName,
		Walker:      cfg.WalkerOptions(),
	})
	if err != nil {
		return nil, ScanRepositoryOutput{}, err
	}
	if err := s.Load(ctx, res.Graph); err != nil {
		return nil, ScanRepositoryOutput{}, fmt.Errorf("load graph: %w", err)
	}

	out := ScanRepositoryOutput{
		Stats:         res.Graph.Stats(),
		FilesAnalyzed: res.FilesAnalyzed,
		FilesSkipped:  res.FilesSkipped,
		FilesFailed:   len(res.Failures),
		DurationMS:    res.Duration.Milliseconds(),
	}

	if input.Output != "" {
		repo := cfg.Repo
		if repo == "" {
			repo = filepath.Base(res.Root)
		}
		m := manifest.Build(res.Graph, manifest.BuildOptions{
			Repo:           repo,
			CrawlerVersion: version,
			Duration:       res.Duration,
			FilesAnalyzed:  res.FilesAnalyzed,
			FilesSkipped:   res.FilesSkipped,
		})
		if err := m.Write(input.Output); err != nil {
			return nil, ScanRepositoryOutput{}, err
		}
		out.Manifest = input.Output
	}
	return nil, out, nil
}

// ListServices returns every discovered service.
func (s *ArchService) ListServices(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	_ ListServicesInput,
) (*mcp.CallToolResult, ListServicesOutput, error) {
	store, err := s.current()
	if err != nil {
		return nil, ListServicesOutput{}, err
	}
	services, err := store.ListServices(ctx)
	if err != nil {
		return nil, ListServicesOutput{}, fmt.Errorf("list services: %w", err)
	}
	if services == nil {
		services = []graph.Service{}
	}
	return nil, ListServicesOutput{Services: services, Total: len(services)}, nil
}

// ListEndpoints returns endpoints, optionally filtered by service and
// method.
func (s *ArchService) ListEndpoints(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input ListEndpointsInput,
) (*mcp.CallToolResult, ListEndpointsOutput, error) {
	store, err := s.current()
	if err != nil {
		return nil, ListEndpointsOutput{}, err
	}
	endpoints, err := store.ListEndpoints(ctx, input.Service)
	if err != nil {
		return nil, ListEndpointsOutput{}, fmt.Errorf("list endpoints: %w", err)
	}

	if input.Method != "" {
		method := graph.ParseHTTPMethod(input.Method)
		filtered := endpoints[:0]
		for _, ep := range endpoints {
			if ep.Method == method {
				filtered = append(filtered, ep)
			}
		}
		endpoints = filtered
	}
	if endpoints == nil {
		endpoints = []graph.Endpoint{}
	}
	return nil, ListEndpointsOutput{Endpoints: endpoints, Total: len(endpoints)}, nil
}

// GetDependencies traverses service dependencies.
func (s *ArchService) GetDependencies(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input GetDependenciesInput,
) (*mcp.CallToolResult, GetDependenciesOutput, error) {
	if input.Service == "" {
		return nil, GetDependenciesOutput{}, fmt.Errorf("service is required")
	}
	direction, err := graph.ParseDirection(input.Direction)
	if err != nil {
		return nil, GetDependenciesOutput{}, err
	}
	maxDepth := input.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 5
	}

	store, err := s.current()
	if err != nil {
		return nil, GetDependenciesOutput{}, err
	}
	chains, err := store.GetDependencies(ctx, input.Service, direction, maxDepth)
	if err != nil {
		return nil, GetDependenciesOutput{}, fmt.Errorf("get dependencies: %w", err)
	}
	if chains == nil {
		chains = []graph.DependencyChain{}
	}
	return nil, GetDependenciesOutput{Chains: chains}, nil
}
