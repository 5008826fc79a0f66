// Package manifest reads and writes the JSON architecture manifest produced
// by a scan.
package manifest

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"time"

	"github.com/dusk-indust/archcrawl/internal/graph"
)

const (
	// SchemaVersion is written to every manifest.
	SchemaVersion = "1.0"

	// DefaultCrawlerVersion is used when the builder is given none.
	DefaultCrawlerVersion = "1.0.0"

	// DefaultFileName is the manifest written when no output is given.
	DefaultFileName = "architecture.json"
)

// Manifest is the on-disk document.
type Manifest struct {
	SchemaVersion string          `json:"schema_version"`
	ScanMetadata  Metadata        `json:"scan_metadata"`
	Repo          string          `json:"repo"`
	Languages     []string        `json:"languages"`
	Services      []ServiceEntry  `json:"services"`
	Endpoints     []EndpointEntry `json:"endpoints"`
	Edges         []EdgeEntry     `json:"edges"`
}

// Metadata describes the scan that produced the manifest.
type Metadata struct {
	Timestamp      string `json:"timestamp"`
	CrawlerVersion string `json:"crawler_version"`
	ScanDurationMS int64  `json:"scan_duration_ms"`
	FilesAnalyzed  int    `json:"files_analyzed"`
	FilesSkipped   int    `json:"files_skipped"`
}

// ServiceEntry is one service. Imports holds the raw import specifiers of
// each file so an incremental scan can resolve them again.
type ServiceEntry struct {
	Name      string              `json:"name"`
	Language  string              `json:"language"`
	Path      string              `json:"path"`
	FileCount int                 `json:"file_count"`
	Files     []string            `json:"files"`
	Imports   map[string][]string `json:"imports,omitempty"`
}

// EndpointEntry is one endpoint.
type EndpointEntry struct {
	Service string `json:"service"`
	Path    string `json:"path"`
	Method  string `json:"method"`
	Handler string `json:"handler,omitempty"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// EdgeEntry is one dependency edge.
type EdgeEntry struct {
	From       string  `json:"from"`
	To         string  `json:"to"`
	Type       string  `json:"type"`
	Method     string  `json:"method,omitempty"`
	Endpoint   string  `json:"endpoint,omitempty"`
	File       string  `json:"file,omitempty"`
	Line       int     `json:"line,omitempty"`
	Confidence float64 `json:"confidence"`
}

// UnmarshalJSON decodes an edge, defaulting an absent confidence to
// certain.
func (e *EdgeEntry) UnmarshalJSON(data []byte) error {
	type plain EdgeEntry
	p := plain{Confidence: graph.ConfidenceCertain}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = EdgeEntry(p)
	return nil
}

// BuildOptions carry the scan metadata recorded in a manifest.
type BuildOptions struct {
	Repo           string
	CrawlerVersion string
	Duration       time.Duration
	FilesAnalyzed  int
	FilesSkipped   int
	// Now defaults to time.Now.
	Now time.Time
}

// Build snapshots g into a manifest with deterministic ordering.
func Build(g *graph.Graph, opts BuildOptions) *Manifest {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	version := opts.CrawlerVersion
	if version == "" {
		version = DefaultCrawlerVersion
	}
	repo := opts.Repo
	if repo == "" {
		repo = "unknown"
	}

	m := &Manifest{
		SchemaVersion: SchemaVersion,
		ScanMetadata: Metadata{
			Timestamp:      now.UTC().Format(time.RFC3339),
			CrawlerVersion: version,
			ScanDurationMS: opts.Duration.Milliseconds(),
			FilesAnalyzed:  opts.FilesAnalyzed,
			FilesSkipped:   opts.FilesSkipped,
		},
		Repo:      repo,
		Languages: g.Languages(),
		Services:  []ServiceEntry{},
		Endpoints: []EndpointEntry{},
		Edges:     []EdgeEntry{},
	}
	if m.Languages == nil {
		m.Languages = []string{}
	}

	imports := g.Imports()
	services := g.Services()
	sort.SliceStable(services, func(i, j int) bool { return graph.LessService(services[i], services[j]) })
	for _, svc := range services {
		files := slices.Clone(svc.Files)
		slices.Sort(files)
		if files == nil {
			files = []string{}
		}
		m.Services = append(m.Services, ServiceEntry{
			Name:      svc.Name,
			Language:  string(svc.Language),
			Path:      svc.Path,
			FileCount: len(files),
			Files:     files,
			Imports:   serviceImports(files, imports),
		})
	}

	endpoints := g.Endpoints()
	sort.SliceStable(endpoints, func(i, j int) bool { return graph.LessEndpoint(endpoints[i], endpoints[j]) })
	for _, ep := range endpoints {
		m.Endpoints = append(m.Endpoints, EndpointEntry{
			Service: ep.ServiceName,
			Path:    ep.Path,
			Method:  string(ep.Method),
			Handler: ep.Handler,
			File:    ep.File,
			Line:    ep.Line,
		})
	}

	edges := g.Edges()
	sort.SliceStable(edges, func(i, j int) bool { return graph.LessEdge(edges[i], edges[j]) })
	for _, e := range edges {
		m.Edges = append(m.Edges, EdgeEntry{
			From:       e.From,
			To:         e.To,
			Type:       string(e.Type),
			Method:     string(e.Method),
			Endpoint:   e.Endpoint,
			File:       e.File,
			Line:       e.Line,
			Confidence: e.Confidence,
		})
	}
	return m
}

func serviceImports(files []string, imports map[string][]string) map[string][]string {
	var out map[string][]string
	for _, f := range files {
		specs, ok := imports[f]
		if !ok || len(specs) == 0 {
			continue
		}
		if out == nil {
			out = make(map[string][]string)
		}
		out[f] = specs
	}
	return out
}

// Encode writes m to w as indented JSON. Route patterns such as
// "/orders/<id>" are written unescaped.
func (m *Manifest) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return nil
}

// Write stores m at path, replacing any existing file atomically.
func (m *Manifest) Write(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".manifest-*.json")
	if err != nil {
		return fmt.Errorf("create temp manifest: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := m.Encode(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp manifest: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write manifest %s: %w", path, err)
	}
	return nil
}

// Load reads the manifest at path. The returned error wraps os.ErrNotExist
// when the file is absent.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Decode(data)
}

// Decode parses a manifest. Entries missing a required key are dropped
// with a warning; keys that are present but empty are kept.
func Decode(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	var raw struct {
		Services  []map[string]json.RawMessage `json:"services"`
		Endpoints []map[string]json.RawMessage `json:"endpoints"`
		Edges     []map[string]json.RawMessage `json:"edges"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	m.Services = keepComplete(m.Services, raw.Services, "service", "name", "language")
	m.Endpoints = keepComplete(m.Endpoints, raw.Endpoints, "endpoint", "service", "path", "method")
	m.Edges = keepComplete(m.Edges, raw.Edges, "edge", "from", "to", "type")
	return &m, nil
}

// keepComplete filters entries whose raw object lacks one of the required
// keys. entries and raw come from the same JSON array.
func keepComplete[T any](entries []T, raw []map[string]json.RawMessage, kind string, required ...string) []T {
	out := entries[:0]
	for i, entry := range entries {
		if missing := missingKey(raw[i], required); missing != "" {
			slog.Warn("dropping manifest entry", "kind", kind, "index", i, "missing", missing)
			continue
		}
		out = append(out, entry)
	}
	return out
}

func missingKey(obj map[string]json.RawMessage, keys []string) string {
	for _, k := range keys {
		v, ok := obj[k]
		if !ok || string(v) == "null" {
			return k
		}
	}
	return ""
}

// ToGraph rebuilds the aggregated graph recorded in m.
func (m *Manifest) ToGraph() *graph.Graph {
	g := graph.New()
	for _, s := range m.Services {
		g.AddService(graph.Service{
			Name:     s.Name,
			Language: graph.Language(s.Language),
			Path:     s.Path,
			Files:    slices.Clone(s.Files),
		})
		for f, specs := range s.Imports {
			g.RecordImports(f, specs)
		}
	}
	for _, ep := range m.Endpoints {
		g.AddEndpoint(graph.Endpoint{
			ServiceName: ep.Service,
			Path:        ep.Path,
			Method:      graph.ParseHTTPMethod(ep.Method),
			Handler:     ep.Handler,
			File:        ep.File,
			Line:        ep.Line,
		})
	}
	for _, e := range m.Edges {
		method := graph.HTTPMethod("")
		if e.Method != "" {
			method = graph.ParseHTTPMethod(e.Method)
		}
		g.AddEdge(graph.Edge{
			From:       e.From,
			To:         e.To,
			Type:       graph.ParseEdgeType(e.Type),
			Method:     method,
			Endpoint:   e.Endpoint,
			File:       e.File,
			Line:       e.Line,
			Confidence: e.Confidence,
		})
	}
	return g
}
