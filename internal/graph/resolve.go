package graph

import (
	"path/filepath"
	"sort"
	"strings"
)

// Resolver turns the raw import specifiers collected during a scan into
// service-level edges. Imports that reach code owned by another service
// become IMPORT edges; imports of well-known client libraries become
// DATABASE, MESSAGE_QUEUE or RPC edges targeting the library name.
type Resolver struct {
	fileSet  map[string]bool
	owners   map[string]string // file -> service
	services map[string]bool
}

// libraryKinds maps a top-level Python package to the dependency it implies.
var libraryKinds = map[string]EdgeType{
	"psycopg2":        EdgeDatabase,
	"psycopg":         EdgeDatabase,
	"sqlalchemy":      EdgeDatabase,
	"pymongo":         EdgeDatabase,
	"motor":           EdgeDatabase,
	"redis":           EdgeDatabase,
	"mysql":           EdgeDatabase,
	"pymysql":         EdgeDatabase,
	"sqlite3":         EdgeDatabase,
	"asyncpg":         EdgeDatabase,
	"kafka":           EdgeMessageQueue,
	"aiokafka":        EdgeMessageQueue,
	"confluent_kafka": EdgeMessageQueue,
	"pika":            EdgeMessageQueue,
	"celery":          EdgeMessageQueue,
	"nats":            EdgeMessageQueue,
	"grpc":            EdgeRPC,
}

// NewResolver builds a Resolver from the services and file ownership
// currently recorded in g.
func NewResolver(g *Graph) *Resolver {
	r := &Resolver{
		fileSet:  make(map[string]bool),
		owners:   make(map[string]string),
		services: make(map[string]bool),
	}
	for _, svc := range g.Services() {
		r.services[svc.Name] = true
		for _, f := range svc.Files {
			r.fileSet[f] = true
			r.owners[f] = svc.Name
		}
	}
	return r
}

// ResolveImport maps one import specifier found in file to an edge.
// The boolean is false when the import does not cross a service boundary
// and does not name a known library.
func (r *Resolver) ResolveImport(file, spec string) (Edge, bool) {
	from, ok := r.owners[file]
	if !ok || spec == "" {
		return Edge{}, false
	}

	if strings.HasPrefix(spec, ".") {
		target, ok := r.resolveRelative(spec, file)
		if !ok {
			return Edge{}, false
		}
		return r.importEdge(from, target, file)
	}

	if target, ok := r.resolveAbsolute(spec); ok {
		return r.importEdge(from, target, file)
	}

	top, _, _ := strings.Cut(spec, ".")
	if r.services[top] && top != from {
		return Edge{From: from, To: top, Type: EdgeImport, File: file, Confidence: ConfidenceImport}, true
	}
	if kind, ok := libraryKinds[top]; ok {
		return Edge{From: from, To: top, Type: kind, File: file, Confidence: ConfidenceLibrary}, true
	}
	return Edge{}, false
}

func (r *Resolver) importEdge(from, targetFile, file string) (Edge, bool) {
	to, ok := r.owners[targetFile]
	if !ok || to == from {
		return Edge{}, false
	}
	return Edge{From: from, To: to, Type: EdgeImport, File: file, Confidence: ConfidenceImport}, true
}

// Apply resolves every recorded import of g and adds the resulting edges,
// skipping edges already present. It returns the number of edges added.
func (r *Resolver) Apply(g *Graph) int {
	imports := g.Imports()
	files := make([]string, 0, len(imports))
	for f := range imports {
		files = append(files, f)
	}
	sort.Strings(files)

	added := 0
	for _, f := range files {
		for _, spec := range imports[f] {
			e, ok := r.ResolveImport(f, spec)
			if !ok {
				continue
			}
			if g.AddEdgeUnique(e) {
				added++
			}
		}
	}
	return added
}

// --- Python module resolution ---

// resolveRelative resolves "from .x import y" style specifiers relative to
// the importing file.
func (r *Resolver) resolveRelative(importPath, sourceFile string) (string, bool) {
	// Count leading dots for parent directory traversal.
	dots := 0
	for _, c := range importPath {
		if c != '.' {
			break
		}
		dots++
	}
	modulePart := importPath[dots:]

	// One dot = current package, two dots = parent, etc.
	baseDir := filepath.Dir(sourceFile)
	for i := 1; i < dots; i++ {
		baseDir = filepath.Dir(baseDir)
	}

	if modulePart == "" {
		return r.probeFile(filepath.Join(baseDir, "__init__"), []string{".py"})
	}
	base := filepath.Join(baseDir, strings.ReplaceAll(modulePart, ".", "/"))
	return r.probeFile(base, []string{".py", "/__init__.py"})
}

// resolveAbsolute resolves a dotted module path against repo-relative files.
func (r *Resolver) resolveAbsolute(importPath string) (string, bool) {
	base := filepath.FromSlash(strings.ReplaceAll(importPath, ".", "/"))
	return r.probeFile(base, []string{".py", "/__init__.py"})
}

// probeFile checks basePath and basePath+ext against the known file set.
func (r *Resolver) probeFile(basePath string, extensions []string) (string, bool) {
	basePath = filepath.ToSlash(basePath)
	if r.fileSet[basePath] {
		return basePath, true
	}
	for _, ext := range extensions {
		candidate := basePath + ext
		if r.fileSet[candidate] {
			return candidate, true
		}
	}
	return "", false
}
