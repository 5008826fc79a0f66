// Package export renders a service graph for humans.
package export

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/dusk-indust/archcrawl/internal/graph"
)

// GenerateMermaid produces a Mermaid "graph LR" diagram from a store. Each
// service becomes a node labelled with its endpoint count; edge targets
// that are not services become stadium-shaped external nodes. Parallel
// edges of the same type between two nodes are collapsed.
func GenerateMermaid(ctx context.Context, store graph.Store) (string, error) {
	services, err := store.ListServices(ctx)
	if err != nil {
		return "", fmt.Errorf("list services: %w", err)
	}
	endpoints, err := store.ListEndpoints(ctx, "")
	if err != nil {
		return "", fmt.Errorf("list endpoints: %w", err)
	}
	edges, err := store.GetAllEdges(ctx)
	if err != nil {
		return "", fmt.Errorf("get edges: %w", err)
	}

	// Mermaid IDs must be alphanumeric.
	nodeIDs := make(map[string]string)
	nextID := 0
	getID := func(name string) string {
		if id, ok := nodeIDs[name]; ok {
			return id
		}
		id := fmt.Sprintf("N%d", nextID)
		nextID++
		nodeIDs[name] = id
		return id
	}

	counts := make(map[string]int)
	for _, ep := range endpoints {
		counts[ep.ServiceName]++
	}

	sort.Slice(services, func(i, j int) bool { return services[i].Name < services[j].Name })
	known := make(map[string]bool, len(services))

	var sb strings.Builder
	sb.WriteString("graph LR\n")
	for _, svc := range services {
		known[svc.Name] = true
		label := svc.Name
		if n := counts[svc.Name]; n > 0 {
			label = fmt.Sprintf("%s<br/>%d %s", svc.Name, n, plural(n, "endpoint"))
		}
		sb.WriteString(fmt.Sprintf("  %s[\"%s\"]\n", getID(svc.Name), escape(label)))
	}

	sort.SliceStable(edges, func(i, j int) bool { return graph.LessEdge(edges[i], edges[j]) })

	var externals []string
	for _, e := range edges {
		if !known[e.To] && !slices.Contains(externals, e.To) {
			externals = append(externals, e.To)
		}
	}
	sort.Strings(externals)
	for _, name := range externals {
		sb.WriteString(fmt.Sprintf("  %s([\"%s\"])\n", getID(name), escape(name)))
	}

	type link struct {
		from, to string
		kind     graph.EdgeType
	}
	emitted := make(map[link]bool)
	for _, e := range edges {
		l := link{e.From, e.To, e.Type}
		if emitted[l] {
			continue
		}
		emitted[l] = true
		sb.WriteString(fmt.Sprintf("  %s -->|%s| %s\n", getID(e.From), e.Type, getID(e.To)))
	}

	return sb.String(), nil
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

// escape replaces characters that end a quoted Mermaid label.
func escape(s string) string {
	return strings.ReplaceAll(s, `"`, "#quot;")
}
