//go:build cgo

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dusk-indust/archcrawl/internal/graph"
)

// persistGraph replaces the graph database at path with g.
func persistGraph(ctx context.Context, g *graph.Graph, path string) error {
	for _, p := range []string{path, path + ".wal"} {
		if err := os.RemoveAll(p); err != nil {
			return fmt.Errorf("remove old graph: %w", err)
		}
	}
	store, err := graph.NewKuzuFileStore(path)
	if err != nil {
		return err
	}
	defer store.Close()
	return graph.Persist(ctx, g, store)
}

func openGraph(path string) (graph.Store, error) {
	store, err := graph.NewKuzuFileStore(path)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func openMemoryGraph() (graph.Store, error) {
	store, err := graph.NewKuzuStore()
	if err != nil {
		return nil, err
	}
	return store, nil
}
