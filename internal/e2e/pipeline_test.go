//go:build e2e && cgo

package e2e

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/archcrawl/internal/export"
	"github.com/dusk-indust/archcrawl/internal/graph"
	"github.com/dusk-indust/archcrawl/internal/manifest"
)

// TestPipeline_E2E runs scan, manifest round trip, Kuzu persistence and
// the Mermaid export against the Python fixture.
func TestPipeline_E2E(t *testing.T) {
	data, res := scanFixture(t)
	assert.Equal(t, 4, res.FilesAnalyzed)
	assert.Empty(t, res.Failures)

	m, err := manifest.Decode(data)
	require.NoError(t, err)
	g := m.ToGraph()
	assert.Equal(t, res.Graph.Stats(), g.Stats())

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	store, err := graph.NewKuzuFileStore(filepath.Join(t.TempDir(), "graph"))
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, graph.Persist(ctx, g, store))

	// --- Services and endpoints survive persistence ---

	services, err := store.ListServices(ctx)
	require.NoError(t, err)
	var names []string
	for _, svc := range services {
		names = append(names, svc.Name)
	}
	assert.ElementsMatch(t, []string{"billing", "orders", "web"}, names)

	endpoints, err := store.ListEndpoints(ctx, "orders")
	require.NoError(t, err)
	assert.Len(t, endpoints, 3)

	// --- Dependency traversal ---

	chains, err := store.GetDependencies(ctx, "web", graph.DirectionDownstream, 3)
	require.NoError(t, err)
	var targets []string
	for _, c := range chains {
		targets = append(targets, c.Nodes[len(c.Nodes)-1])
	}
	assert.Contains(t, targets, "billing")
	assert.Contains(t, targets, "redis", "web reaches redis through billing")

	upstream, err := store.GetDependencies(ctx, "billing", graph.DirectionUpstream, 1)
	require.NoError(t, err)
	require.Len(t, upstream, 1)
	assert.Equal(t, []string{"billing", "web"}, upstream[0].Nodes)

	// --- Diagram ---

	mermaid, err := export.GenerateMermaid(ctx, store)
	require.NoError(t, err)
	assert.Contains(t, mermaid, `["orders<br/>3 endpoints"]`)
	assert.Contains(t, mermaid, "-->|DATABASE|")
	assert.Contains(t, mermaid, "-->|HTTP_CALL|")
}
