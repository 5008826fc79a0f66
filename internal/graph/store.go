package graph

import (
	"context"
	"fmt"
	"io"
)

// Store is the interface for the service graph backend.
// Implementations: KuzuStore (persisted), MemStore (testing and one-shot scans).
type Store interface {
	io.Closer

	// Schema setup, called once before any data is inserted.
	InitSchema(ctx context.Context) error

	// Write operations.
	AddService(ctx context.Context, svc Service) error
	AddEndpoint(ctx context.Context, ep Endpoint) error
	AddEdge(ctx context.Context, edge Edge) error

	// Read operations.
	GetService(ctx context.Context, name string) (*Service, error)
	ListServices(ctx context.Context) ([]Service, error)
	ListEndpoints(ctx context.Context, service string) ([]Endpoint, error)
	GetAllEdges(ctx context.Context) ([]Edge, error)

	// Graph traversal.
	GetDependencies(ctx context.Context, service string, direction Direction, maxDepth int) ([]DependencyChain, error)

	// Stats.
	Stats(ctx context.Context) (*Stats, error)
}

// Direction controls dependency traversal direction.
type Direction string

const (
	DirectionUpstream   Direction = "upstream"   // who calls this service?
	DirectionDownstream Direction = "downstream" // what does this service call?
)

// ParseDirection converts s to a Direction, defaulting to downstream.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case "", DirectionDownstream:
		return DirectionDownstream, nil
	case DirectionUpstream:
		return DirectionUpstream, nil
	default:
		return "", fmt.Errorf("unknown direction %q", s)
	}
}

// Persist copies every entity of g into store. The schema is initialized
// first; the store is expected to be empty.
func Persist(ctx context.Context, g *Graph, store Store) error {
	if err := store.InitSchema(ctx); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	for _, svc := range g.Services() {
		if err := store.AddService(ctx, svc); err != nil {
			return fmt.Errorf("add service %s: %w", svc.Name, err)
		}
	}
	for _, ep := range g.Endpoints() {
		if err := store.AddEndpoint(ctx, ep); err != nil {
			return fmt.Errorf("add endpoint %s %s: %w", ep.Method, ep.Path, err)
		}
	}
	for _, e := range g.Edges() {
		if err := store.AddEdge(ctx, e); err != nil {
			return fmt.Errorf("add edge %s -> %s: %w", e.From, e.To, err)
		}
	}
	return nil
}
