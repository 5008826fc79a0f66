// Package python is the Python language plugin. It extracts Flask and
// FastAPI routes, requests/httpx calls and import statements using
// tree-sitter queries.
package python

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"

	"github.com/dusk-indust/archcrawl/internal/extract"
	"github.com/dusk-indust/archcrawl/internal/graph"
	"github.com/dusk-indust/archcrawl/internal/parserpool"
	"github.com/dusk-indust/archcrawl/internal/pathutil"
	"github.com/dusk-indust/archcrawl/internal/plugin"
)

const (
	// Name is the plugin and parser-pool language name.
	Name = "python"

	// Version of the plugin.
	Version = "1.0.0"

	// MaxFileSize is the largest source file the plugin will parse.
	MaxFileSize = 10 << 20

	unknownService = "unknown"
)

// Query names, also the base names of the .scm files.
const (
	QueryRoutes  = "routes"
	QueryCalls   = "calls"
	QueryImports = "imports"
)

//go:embed queries/*.scm
var builtinQueries embed.FS

// httpClients are the receivers whose calls become HTTP_CALL edges.
var httpClients = map[string]bool{
	"requests": true,
	"httpx":    true,
}

// ErrNotInitialized is returned by ParseFile before Init.
var ErrNotInitialized = errors.New("python plugin not initialized")

// Options configure a Plugin.
type Options struct {
	// Pool supplies parsers. Required.
	Pool *parserpool.Pool
	// QueryDir optionally overrides the built-in queries with
	// <QueryDir>/<name>.scm.
	QueryDir string
	Logger   *slog.Logger
}

// Plugin implements plugin.Plugin for Python.
type Plugin struct {
	pool     *parserpool.Pool
	queryDir string
	logger   *slog.Logger
	lang     *tree_sitter.Language

	mu      sync.RWMutex
	routes  *extract.Query
	calls   *extract.Query
	imports *extract.Query
}

var _ plugin.Plugin = (*Plugin)(nil)

// New returns an uninitialized Python plugin.
func New(opts Options) *Plugin {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Plugin{
		pool:     opts.Pool,
		queryDir: opts.QueryDir,
		logger:   logger.With("plugin", Name),
		lang:     Language(),
	}
}

// Language returns the Python grammar.
func Language() *tree_sitter.Language {
	return tree_sitter.NewLanguage(tree_sitter_python.Language())
}

func (p *Plugin) Name() string         { return Name }
func (p *Plugin) Version() string      { return Version }
func (p *Plugin) Extensions() []string { return []string{"py", "pyi"} }

// Init registers the grammar with the pool and compiles the queries.
// Calling Init on an initialized plugin is a no-op.
func (p *Plugin) Init(context.Context) error {
	if p.pool == nil {
		return errors.New("python plugin: nil parser pool")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.routes != nil {
		return nil
	}

	p.pool.Register(Name, p.lang)

	queries := make([]*extract.Query, 0, 3)
	for _, name := range []string{QueryRoutes, QueryCalls, QueryImports} {
		q, err := p.loadQuery(name)
		if err != nil {
			for _, loaded := range queries {
				loaded.Close()
			}
			return err
		}
		queries = append(queries, q)
	}
	p.routes, p.calls, p.imports = queries[0], queries[1], queries[2]
	p.logger.Debug("plugin initialized", "queryDir", p.queryDir)
	return nil
}

func (p *Plugin) loadQuery(name string) (*extract.Query, error) {
	builtin, err := builtinQueries.ReadFile("queries/" + name + ".scm")
	if err != nil {
		return nil, fmt.Errorf("read built-in query %s: %w", name, err)
	}
	return extract.Load(p.lang, p.queryDir, name, string(builtin), p.logger)
}

// Shutdown releases the compiled queries. The parser pool is owned by
// the caller and is left open.
func (p *Plugin) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, q := range []*extract.Query{p.routes, p.calls, p.imports} {
		q.Close()
	}
	p.routes, p.calls, p.imports = nil, nil, nil
	return nil
}

// SupportsFile reports whether path has a .py or .pyi extension.
func (p *Plugin) SupportsFile(path string) bool {
	return plugin.HasExtension(path, p.Extensions())
}

// QueryPath returns <QueryDir>/<name>.scm, or "" without a query
// directory.
func (p *Plugin) QueryPath(name string) string {
	if p.queryDir == "" || name == "" {
		return ""
	}
	if !strings.HasSuffix(name, ".scm") {
		name += ".scm"
	}
	return filepath.Join(p.queryDir, name)
}

// InferServiceName returns the name of the directory holding path.
func (p *Plugin) InferServiceName(path string) string {
	if name := pathutil.ParentDirName(path); name != "" {
		return name
	}
	return unknownService
}

// ParseFile parses path and extracts its entities. Failures to read or
// parse the file are reported in the result, never as a nil result.
func (p *Plugin) ParseFile(ctx context.Context, path, serviceName string) *graph.ParseResult {
	if err := ctx.Err(); err != nil {
		return graph.Failed(err.Error())
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.routes == nil {
		return graph.Failed(ErrNotInitialized.Error())
	}

	info, err := os.Stat(path)
	if err != nil {
		p.logger.Error("failed to stat file", "path", path, "error", err)
		return graph.Failed("failed to read file: " + err.Error())
	}
	if info.Size() > MaxFileSize {
		p.logger.Error("file too large", "path", path, "size", info.Size())
		return graph.Failed(fmt.Sprintf("file too large: %d bytes", info.Size()))
	}
	source, err := os.ReadFile(path)
	if err != nil {
		p.logger.Error("failed to read file", "path", path, "error", err)
		return graph.Failed("failed to read file: " + err.Error())
	}

	parser, err := p.pool.Acquire(Name)
	if err != nil {
		return graph.Failed("failed to acquire parser: " + err.Error())
	}
	defer p.pool.Release(parser)

	tree := parser.Parse(source, nil)
	if tree == nil {
		return graph.Failed("failed to parse file")
	}
	defer tree.Close()

	if tree.RootNode().HasError() {
		p.logger.Warn("syntax errors in file", "path", path)
	}

	if serviceName == "" {
		serviceName = p.InferServiceName(path)
	}
	res := &graph.ParseResult{
		Service: &graph.Service{
			Name:     serviceName,
			Language: graph.LangPython,
			Path:     filepath.Dir(path),
		},
	}

	if err := p.extractRoutes(tree, source, serviceName, res); err != nil {
		return graph.Failed(err.Error())
	}
	if err := p.extractCalls(tree, source, serviceName, res); err != nil {
		return graph.Failed(err.Error())
	}
	if err := p.extractImports(tree, source, res); err != nil {
		return graph.Failed(err.Error())
	}

	res.Success = true
	p.logger.Debug("parsed file", "path", path,
		"endpoints", len(res.Endpoints), "edges", len(res.Edges), "imports", len(res.Imports))
	return res
}

// routeKey identifies one decorator: the path literal's position plus the
// handler name.
type routeKey struct {
	pathStart uint
	path      string
	handler   string
}

type routeGroup struct {
	line    int
	methods []graph.HTTPMethod
}

func (p *Plugin) extractRoutes(tree *tree_sitter.Tree, source []byte, service string, res *graph.ParseResult) error {
	var order []routeKey
	groups := make(map[routeKey]*routeGroup)

	_, err := extract.Execute(p.routes, tree, source, func(m *extract.Match) {
		pathNode, ok := m.Find("route.path")
		if !ok {
			pathNode, ok = m.Find("fastapi.path")
		}
		if !ok {
			return
		}
		handlerNode, ok := m.Find("route.handler")
		if !ok {
			handlerNode, ok = m.Find("fastapi.handler")
		}
		if !ok {
			return
		}

		key := routeKey{
			pathStart: pathNode.StartByte(),
			path:      stringValue(extract.NodeText(pathNode, source)),
			handler:   extract.NodeText(handlerNode, source),
		}
		g, seen := groups[key]
		if !seen {
			g = &routeGroup{line: int(handlerNode.StartPosition().Row) + 1}
			groups[key] = g
			order = append(order, key)
		}
		if method, explicit := extract.ExplicitHTTPMethod(m); explicit {
			for _, existing := range g.methods {
				if existing == method {
					return
				}
			}
			g.methods = append(g.methods, method)
		}
	})
	if err != nil {
		return fmt.Errorf("extract routes: %w", err)
	}

	for _, key := range order {
		g := groups[key]
		methods := g.methods
		if len(methods) == 0 {
			methods = []graph.HTTPMethod{graph.MethodGet}
		}
		for _, method := range methods {
			res.Endpoints = append(res.Endpoints, graph.Endpoint{
				ServiceName: service,
				Path:        key.path,
				Method:      method,
				Handler:     key.handler,
				Line:        g.line,
			})
			p.logger.Debug("found endpoint", "method", method, "path", key.path, "handler", key.handler)
		}
	}
	return nil
}

func (p *Plugin) extractCalls(tree *tree_sitter.Tree, source []byte, service string, res *graph.ParseResult) error {
	_, err := extract.Execute(p.calls, tree, source, func(m *extract.Match) {
		lib, ok := m.Text("http.client.lib")
		if !ok || !httpClients[lib] {
			return
		}
		verb, ok := m.Text("http.client.method")
		if !ok {
			return
		}
		raw, ok := m.Text("http.client.url")
		if !ok {
			return
		}
		line, _ := m.Line("http.client.lib")
		target := stringValue(raw)

		res.Edges = append(res.Edges, graph.Edge{
			From:       service,
			To:         target,
			Type:       graph.EdgeHTTPCall,
			Method:     graph.ParseHTTPMethod(verb),
			Endpoint:   urlPath(target),
			Line:       line,
			Confidence: graph.ConfidenceHTTPClient,
		})
		p.logger.Debug("found http call", "lib", lib, "method", verb, "url", target)
	})
	if err != nil {
		return fmt.Errorf("extract calls: %w", err)
	}
	return nil
}

func (p *Plugin) extractImports(tree *tree_sitter.Tree, source []byte, res *graph.ParseResult) error {
	_, err := extract.Execute(p.imports, tree, source, func(m *extract.Match) {
		module, ok := m.Text("import.module")
		if !ok {
			module, ok = m.Text("import.from.module")
		}
		if !ok || module == "" {
			return
		}
		res.Imports = append(res.Imports, module)
	})
	if err != nil {
		return fmt.Errorf("extract imports: %w", err)
	}
	return nil
}

// stringValue returns the contents of a string literal, dropping any
// prefix letters (f, r, b, u and their two-letter combinations).
func stringValue(literal string) string {
	i := 0
	for i < len(literal) && i < 2 && strings.IndexByte("rRbBuUfF", literal[i]) >= 0 {
		i++
	}
	if i > 0 && i < len(literal) && (literal[i] == '"' || literal[i] == '\'') {
		literal = literal[i:]
	}
	return extract.StripQuotes(literal)
}

// urlPath returns the path component of a call target. Targets that are
// already paths are returned as is; unparseable targets yield the raw
// string.
func urlPath(target string) string {
	if strings.HasPrefix(target, "/") {
		return target
	}
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return target
	}
	if u.Path == "" {
		return "/"
	}
	return u.Path
}
