package graph

import (
	"context"
	"slices"
	"sort"
	"sync"
)

// Compile-time assertion: *MemStore satisfies Store.
var _ Store = (*MemStore)(nil)

// MemStore implements Store using Go maps. Thread-safe via sync.RWMutex.
type MemStore struct {
	mu        sync.RWMutex
	services  map[string]Service
	endpoints []Endpoint
	edges     []Edge
}

// NewMemStore returns an initialized MemStore ready for use.
func NewMemStore() *MemStore {
	return &MemStore{
		services: make(map[string]Service),
	}
}

// InitSchema is a no-op for the in-memory store.
func (m *MemStore) InitSchema(_ context.Context) error {
	return nil
}

// AddService stores svc keyed by name, unioning files with an existing entry.
func (m *MemStore) AddService(_ context.Context, svc Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.services[svc.Name]
	if !ok {
		svc.Files = slices.Clone(svc.Files)
		m.services[svc.Name] = svc
		return nil
	}
	for _, f := range svc.Files {
		if !slices.Contains(existing.Files, f) {
			existing.Files = append(existing.Files, f)
		}
	}
	m.services[svc.Name] = existing
	return nil
}

// AddEndpoint appends an endpoint.
func (m *MemStore) AddEndpoint(_ context.Context, ep Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endpoints = append(m.endpoints, ep)
	return nil
}

// AddEdge appends an edge with its confidence clamped.
func (m *MemStore) AddEdge(_ context.Context, edge Edge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	edge.Confidence = ClampConfidence(edge.Confidence)
	m.edges = append(m.edges, edge)
	return nil
}

// GetService returns the named service, or nil if not found.
func (m *MemStore) GetService(_ context.Context, name string) (*Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	svc, ok := m.services[name]
	if !ok {
		return nil, nil
	}
	svc.Files = slices.Clone(svc.Files)
	return &svc, nil
}

// ListServices returns all services sorted by name.
func (m *MemStore) ListServices(_ context.Context) ([]Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Service, 0, len(m.services))
	for _, svc := range m.services {
		svc.Files = slices.Clone(svc.Files)
		out = append(out, svc)
	}
	sort.Slice(out, func(i, j int) bool { return LessService(out[i], out[j]) })
	return out, nil
}

// ListEndpoints returns the endpoints of service, or all endpoints when
// service is empty.
func (m *MemStore) ListEndpoints(_ context.Context, service string) ([]Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Endpoint
	for _, ep := range m.endpoints {
		if service == "" || ep.ServiceName == service {
			out = append(out, ep)
		}
	}
	sort.Slice(out, func(i, j int) bool { return LessEndpoint(out[i], out[j]) })
	return out, nil
}

// GetDependencies performs a BFS on edges from service in the given direction,
// up to maxDepth hops. It returns one DependencyChain per reachable node.
func (m *MemStore) GetDependencies(_ context.Context, service string, direction Direction, maxDepth int) ([]DependencyChain, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if maxDepth <= 0 {
		return nil, nil
	}

	// BFS state: each entry tracks the path from service to the current node.
	type bfsEntry struct {
		id   string
		path []string
	}

	visited := map[string]bool{service: true}
	queue := []bfsEntry{{id: service, path: []string{service}}}
	var chains []DependencyChain

	for depth := 0; depth < maxDepth && len(queue) > 0; depth++ {
		var nextQueue []bfsEntry
		for _, entry := range queue {
			for _, nb := range m.neighbors(entry.id, direction) {
				if visited[nb] {
					continue
				}
				visited[nb] = true
				newPath := make([]string, len(entry.path), len(entry.path)+1)
				copy(newPath, entry.path)
				newPath = append(newPath, nb)
				chains = append(chains, DependencyChain{
					Nodes: newPath,
					Depth: len(newPath) - 1,
				})
				nextQueue = append(nextQueue, bfsEntry{id: nb, path: newPath})
			}
		}
		queue = nextQueue
	}

	return chains, nil
}

// neighbors returns targets reachable from id in one hop along the given direction.
func (m *MemStore) neighbors(id string, direction Direction) []string {
	var result []string
	for _, e := range m.edges {
		switch direction {
		case DirectionDownstream:
			if e.From == id {
				result = append(result, e.To)
			}
		case DirectionUpstream:
			if e.To == id {
				result = append(result, e.From)
			}
		}
	}
	return result
}

// GetAllEdges returns a copy of all edges in the store.
func (m *MemStore) GetAllEdges(_ context.Context) ([]Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.edges), nil
}

// Stats returns counts of services, endpoints and edges.
func (m *MemStore) Stats(_ context.Context) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return &Stats{
		ServiceCount:  len(m.services),
		EndpointCount: len(m.endpoints),
		EdgeCount:     len(m.edges),
	}, nil
}

// Close is a no-op for the in-memory store.
func (m *MemStore) Close() error {
	return nil
}
