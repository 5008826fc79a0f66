package graph

import (
	"slices"
	"sort"
	"sync"
)

// Graph aggregates services, endpoints and edges across all files of a scan.
// It is safe for concurrent use by scan workers.
type Graph struct {
	mu        sync.Mutex
	services  map[string]*Service
	order     []string // service names in first-seen order
	endpoints []Endpoint
	edges     []Edge
	imports   map[string][]string // file -> raw import specifiers
	owners    map[string]string   // file -> service name
}

// New returns an empty Graph.
func New() *Graph {
	return &Graph{
		services: make(map[string]*Service),
		imports:  make(map[string][]string),
		owners:   make(map[string]string),
	}
}

// Merge folds a successful ParseResult for file into the graph. Entities
// previously recorded for file are not removed; call RemoveFile first when
// replacing a re-parsed file.
func (g *Graph) Merge(file string, res *ParseResult) {
	if res == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if res.Service != nil {
		svc := *res.Service
		if !slices.Contains(svc.Files, file) {
			svc.Files = append(slices.Clone(svc.Files), file)
		}
		g.addServiceLocked(svc)
		g.owners[file] = svc.Name
	}
	for _, ep := range res.Endpoints {
		if ep.File == "" {
			ep.File = file
		}
		g.endpoints = append(g.endpoints, ep)
	}
	for _, e := range res.Edges {
		if e.File == "" {
			e.File = file
		}
		g.addEdgeLocked(e)
	}
	if len(res.Imports) > 0 {
		g.imports[file] = append(g.imports[file], res.Imports...)
	}
}

// AddService inserts svc or, when a service with the same name exists,
// unions the file lists.
func (g *Graph) AddService(svc Service) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addServiceLocked(svc)
	for _, f := range svc.Files {
		g.owners[f] = svc.Name
	}
}

func (g *Graph) addServiceLocked(svc Service) {
	existing, ok := g.services[svc.Name]
	if !ok {
		cp := svc
		cp.Files = slices.Clone(svc.Files)
		if cp.Files == nil {
			cp.Files = []string{}
		}
		g.services[svc.Name] = &cp
		g.order = append(g.order, svc.Name)
		return
	}
	for _, f := range svc.Files {
		if !slices.Contains(existing.Files, f) {
			existing.Files = append(existing.Files, f)
		}
	}
	if existing.Language == "" {
		existing.Language = svc.Language
	}
	if existing.Path == "" {
		existing.Path = svc.Path
	}
}

// AddEndpoint appends ep.
func (g *Graph) AddEndpoint(ep Endpoint) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.endpoints = append(g.endpoints, ep)
}

// AddEdge appends e with its confidence clamped to [0, 1].
func (g *Graph) AddEdge(e Edge) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addEdgeLocked(e)
}

// AddEdgeUnique adds e unless an edge with the same source, target, type
// and file is already present. It reports whether e was added.
func (g *Graph) AddEdgeUnique(e Edge) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, existing := range g.edges {
		if existing.From == e.From && existing.To == e.To &&
			existing.Type == e.Type && existing.File == e.File {
			return false
		}
	}
	g.addEdgeLocked(e)
	return true
}

func (g *Graph) addEdgeLocked(e Edge) {
	e.Confidence = ClampConfidence(e.Confidence)
	g.edges = append(g.edges, e)
}

// RemoveFile drops every endpoint, edge and import recorded for file and
// removes file from its service. A service left without files is removed.
func (g *Graph) RemoveFile(file string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.endpoints = slices.DeleteFunc(g.endpoints, func(ep Endpoint) bool { return ep.File == file })
	g.edges = slices.DeleteFunc(g.edges, func(e Edge) bool { return e.File == file })
	delete(g.imports, file)
	delete(g.owners, file)

	for name, svc := range g.services {
		idx := slices.Index(svc.Files, file)
		if idx < 0 {
			continue
		}
		svc.Files = slices.Delete(svc.Files, idx, idx+1)
		if len(svc.Files) == 0 {
			delete(g.services, name)
			g.order = slices.DeleteFunc(g.order, func(n string) bool { return n == name })
		}
	}
}

// RecordImports replaces the raw import specifiers recorded for file.
func (g *Graph) RecordImports(file string, specs []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(specs) == 0 {
		delete(g.imports, file)
		return
	}
	g.imports[file] = slices.Clone(specs)
}

// RemoveResolvedEdges drops the IMPORT and library edges derived from
// recorded imports so a Resolver can rebuild them against the current
// services. It returns the number of edges removed.
func (g *Graph) RemoveResolvedEdges() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	before := len(g.edges)
	g.edges = slices.DeleteFunc(g.edges, func(e Edge) bool {
		if _, ok := g.imports[e.File]; !ok {
			return false
		}
		switch e.Type {
		case EdgeImport, EdgeDatabase, EdgeMessageQueue, EdgeRPC:
			return true
		}
		return false
	})
	return before - len(g.edges)
}

// HasFile reports whether any service lists file.
func (g *Graph) HasFile(file string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.owners[file]
	return ok
}

// Files returns every file owned by a service, sorted.
func (g *Graph) Files() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.owners))
	for f := range g.owners {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// ServiceOf returns the service that owns file.
func (g *Graph) ServiceOf(file string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	name, ok := g.owners[file]
	return name, ok
}

// Service returns a copy of the named service.
func (g *Graph) Service(name string) (Service, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	svc, ok := g.services[name]
	if !ok {
		return Service{}, false
	}
	cp := *svc
	cp.Files = slices.Clone(svc.Files)
	return cp, true
}

// Services returns copies of all services in first-seen order.
func (g *Graph) Services() []Service {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Service, 0, len(g.order))
	for _, name := range g.order {
		svc := *g.services[name]
		svc.Files = slices.Clone(svc.Files)
		out = append(out, svc)
	}
	return out
}

// Endpoints returns a copy of all endpoints.
func (g *Graph) Endpoints() []Endpoint {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.endpoints)
}

// Edges returns a copy of all edges.
func (g *Graph) Edges() []Edge {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.edges)
}

// Imports returns a copy of the raw import specifiers recorded per file.
func (g *Graph) Imports() map[string][]string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string][]string, len(g.imports))
	for f, imps := range g.imports {
		out[f] = slices.Clone(imps)
	}
	return out
}

// Languages returns the distinct service languages, sorted.
func (g *Graph) Languages() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, svc := range g.services {
		lang := string(svc.Language)
		if lang == "" || seen[lang] {
			continue
		}
		seen[lang] = true
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}

// Stats returns entity counts.
func (g *Graph) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Stats{
		ServiceCount:  len(g.services),
		EndpointCount: len(g.endpoints),
		EdgeCount:     len(g.edges),
	}
}

// Sort orders endpoints and edges deterministically.
func (g *Graph) Sort() {
	g.mu.Lock()
	defer g.mu.Unlock()
	sort.SliceStable(g.endpoints, func(i, j int) bool { return LessEndpoint(g.endpoints[i], g.endpoints[j]) })
	sort.SliceStable(g.edges, func(i, j int) bool { return LessEdge(g.edges[i], g.edges[j]) })
	sort.Strings(g.order)
	for _, svc := range g.services {
		sort.Strings(svc.Files)
	}
}
