//go:build cgo

package graph

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	kuzu "github.com/kuzudb/go-kuzu"
)

// KuzuStore implements the Store interface using KuzuDB as the graph backend.
// It requires CGO because the go-kuzu driver wraps KuzuDB's C library.
//
// Edge targets that are not declared services (URLs, libraries) are stored
// as Service nodes flagged external so that every edge has both endpoints.
type KuzuStore struct {
	db   *kuzu.Database
	conn *kuzu.Connection
}

// Compile-time check that KuzuStore satisfies Store.
var _ Store = (*KuzuStore)(nil)

// NewKuzuStore creates a KuzuStore backed by an in-memory KuzuDB instance.
func NewKuzuStore() (*KuzuStore, error) {
	return openKuzu(":memory:")
}

// NewKuzuFileStore creates a KuzuStore backed by a file-based KuzuDB at the
// given path. KuzuDB creates the leaf itself for new databases.
func NewKuzuFileStore(dbPath string) (*KuzuStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("kuzu: create parent directory: %w", err)
	}
	return openKuzu(dbPath)
}

func openKuzu(path string) (*KuzuStore, error) {
	cfg := kuzu.DefaultSystemConfig()
	db, err := kuzu.OpenDatabase(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("kuzu: open database: %w", err)
	}
	conn, err := kuzu.OpenConnection(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("kuzu: open connection: %w", err)
	}
	return &KuzuStore{db: db, conn: conn}, nil
}

// Close releases the KuzuDB connection and database.
func (s *KuzuStore) Close() error {
	if s.conn != nil {
		s.conn.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
	return nil
}

// ---------- Schema setup ----------

// ddlStatements defines the Cypher DDL executed by InitSchema.
// Node tables must precede relationship tables.
var ddlStatements = []string{
	`CREATE NODE TABLE IF NOT EXISTS Service(
		name STRING,
		language STRING,
		path STRING,
		external BOOLEAN,
		PRIMARY KEY(name)
	)`,
	`CREATE NODE TABLE IF NOT EXISTS File(
		path STRING,
		PRIMARY KEY(path)
	)`,
	`CREATE NODE TABLE IF NOT EXISTS Endpoint(
		id STRING,
		service STRING,
		path STRING,
		method STRING,
		handler STRING,
		file STRING,
		line INT64,
		PRIMARY KEY(id)
	)`,
	`CREATE REL TABLE IF NOT EXISTS CONTAINS(FROM Service TO File)`,
	`CREATE REL TABLE IF NOT EXISTS EXPOSES(FROM Service TO Endpoint)`,
	`CREATE REL TABLE IF NOT EXISTS DEPENDS_ON(
		FROM Service TO Service,
		kind STRING,
		method STRING,
		endpoint STRING,
		file STRING,
		line INT64,
		confidence DOUBLE
	)`,
}

// InitSchema creates all node and relationship tables if they do not exist.
func (s *KuzuStore) InitSchema(_ context.Context) error {
	for _, stmt := range ddlStatements {
		res, err := s.conn.Query(stmt)
		if err != nil {
			return fmt.Errorf("kuzu: init schema: %w", err)
		}
		res.Close()
	}
	return nil
}

// ---------- Write operations ----------

// AddService upserts a Service node and links its files. A previously
// external placeholder with the same name is promoted to a declared service.
func (s *KuzuStore) AddService(_ context.Context, svc Service) error {
	err := s.exec(
		`MERGE (s:Service {name: $name})
		 ON CREATE SET s.language = $lang, s.path = $path, s.external = false
		 ON MATCH SET s.language = $lang, s.path = $path, s.external = false`,
		map[string]any{
			"name": svc.Name,
			"lang": string(svc.Language),
			"path": svc.Path,
		},
	)
	if err != nil {
		return err
	}
	for _, f := range svc.Files {
		if err := s.exec("MERGE (f:File {path: $path})", map[string]any{"path": f}); err != nil {
			return err
		}
		err := s.exec(
			`MATCH (s:Service {name: $name}), (f:File {path: $path})
			 MERGE (s)-[:CONTAINS]->(f)`,
			map[string]any{"name": svc.Name, "path": f},
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// AddEndpoint inserts an Endpoint node and links it to its service when the
// service exists.
func (s *KuzuStore) AddEndpoint(_ context.Context, ep Endpoint) error {
	id := uuid.NewString()
	err := s.exec(
		`CREATE (e:Endpoint {
			id: $id,
			service: $svc,
			path: $path,
			method: $method,
			handler: $handler,
			file: $file,
			line: $line
		})`,
		map[string]any{
			"id":      id,
			"svc":     ep.ServiceName,
			"path":    ep.Path,
			"method":  string(ep.Method),
			"handler": ep.Handler,
			"file":    ep.File,
			"line":    int64(ep.Line),
		},
	)
	if err != nil {
		return err
	}
	return s.exec(
		`MATCH (s:Service {name: $svc}), (e:Endpoint {id: $id})
		 CREATE (s)-[:EXPOSES]->(e)`,
		map[string]any{"svc": ep.ServiceName, "id": id},
	)
}

// AddEdge inserts a DEPENDS_ON relationship, creating external placeholder
// nodes for unknown endpoints of the edge.
func (s *KuzuStore) AddEdge(_ context.Context, edge Edge) error {
	for _, name := range []string{edge.From, edge.To} {
		if err := s.ensureService(name); err != nil {
			return err
		}
	}
	return s.exec(
		`MATCH (a:Service {name: $from}), (b:Service {name: $to})
		 CREATE (a)-[:DEPENDS_ON {
			kind: $kind,
			method: $method,
			endpoint: $endpoint,
			file: $file,
			line: $line,
			confidence: $conf
		 }]->(b)`,
		map[string]any{
			"from":     edge.From,
			"to":       edge.To,
			"kind":     string(edge.Type),
			"method":   string(edge.Method),
			"endpoint": edge.Endpoint,
			"file":     edge.File,
			"line":     int64(edge.Line),
			"conf":     ClampConfidence(edge.Confidence),
		},
	)
}

// ensureService creates an external Service placeholder if name is unknown.
func (s *KuzuStore) ensureService(name string) error {
	return s.exec(
		`MERGE (s:Service {name: $name})
		 ON CREATE SET s.language = '', s.path = '', s.external = true`,
		map[string]any{"name": name},
	)
}

// ---------- Read operations ----------

// GetService retrieves a declared service by name, or nil if not found.
func (s *KuzuStore) GetService(_ context.Context, name string) (*Service, error) {
	rows, err := s.query(
		`MATCH (s:Service {name: $name}) WHERE s.external = false
		 RETURN s.name, s.language, s.path`,
		map[string]any{"name": name},
	)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	svc := rowToService(rows[0])
	if svc.Files, err = s.serviceFiles(svc.Name); err != nil {
		return nil, err
	}
	return &svc, nil
}

// ListServices returns all declared services sorted by name.
func (s *KuzuStore) ListServices(_ context.Context) ([]Service, error) {
	rows, err := s.query(
		`MATCH (s:Service) WHERE s.external = false
		 RETURN s.name, s.language, s.path ORDER BY s.name`,
		nil,
	)
	if err != nil {
		return nil, err
	}
	out := make([]Service, 0, len(rows))
	for _, r := range rows {
		svc := rowToService(r)
		if svc.Files, err = s.serviceFiles(svc.Name); err != nil {
			return nil, err
		}
		out = append(out, svc)
	}
	return out, nil
}

func (s *KuzuStore) serviceFiles(name string) ([]string, error) {
	rows, err := s.query(
		"MATCH (s:Service {name: $name})-[:CONTAINS]->(f:File) RETURN f.path",
		map[string]any{"name": name},
	)
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(rows))
	for _, r := range rows {
		files = append(files, toString(r[0]))
	}
	sort.Strings(files)
	return files, nil
}

// ListEndpoints returns the endpoints of service, or all endpoints when
// service is empty.
func (s *KuzuStore) ListEndpoints(_ context.Context, service string) ([]Endpoint, error) {
	rows, err := s.query(
		`MATCH (e:Endpoint) WHERE $svc = '' OR e.service = $svc
		 RETURN e.service, e.path, e.method, e.handler, e.file, e.line`,
		map[string]any{"svc": service},
	)
	if err != nil {
		return nil, err
	}
	out := make([]Endpoint, 0, len(rows))
	for _, r := range rows {
		out = append(out, Endpoint{
			ServiceName: toString(r[0]),
			Path:        toString(r[1]),
			Method:      ParseHTTPMethod(toString(r[2])),
			Handler:     toString(r[3]),
			File:        toString(r[4]),
			Line:        toInt(r[5]),
		})
	}
	sort.Slice(out, func(i, j int) bool { return LessEndpoint(out[i], out[j]) })
	return out, nil
}

// GetAllEdges returns every DEPENDS_ON relationship.
func (s *KuzuStore) GetAllEdges(_ context.Context) ([]Edge, error) {
	rows, err := s.query(
		`MATCH (a:Service)-[r:DEPENDS_ON]->(b:Service)
		 RETURN a.name, b.name, r.kind, r.method, r.endpoint, r.file, r.line, r.confidence`,
		nil,
	)
	if err != nil {
		return nil, err
	}
	edges := make([]Edge, 0, len(rows))
	for _, r := range rows {
		e := Edge{
			From:       toString(r[0]),
			To:         toString(r[1]),
			Type:       ParseEdgeType(toString(r[2])),
			Endpoint:   toString(r[4]),
			File:       toString(r[5]),
			Line:       toInt(r[6]),
			Confidence: toFloat64(r[7]),
		}
		if m := toString(r[3]); m != "" {
			e.Method = ParseHTTPMethod(m)
		}
		edges = append(edges, e)
	}
	sort.Slice(edges, func(i, j int) bool { return LessEdge(edges[i], edges[j]) })
	return edges, nil
}

// ---------- Graph traversal ----------

// GetDependencies performs a BFS over DEPENDS_ON edges starting from the
// given service. It returns one DependencyChain per reachable node.
func (s *KuzuStore) GetDependencies(_ context.Context, service string, dir Direction, maxDepth int) ([]DependencyChain, error) {
	if maxDepth <= 0 {
		maxDepth = 10
	}

	type bfsEntry struct {
		path  []string
		depth int
	}
	visited := map[string]bool{service: true}
	queue := []bfsEntry{{path: []string{service}, depth: 0}}
	var chains []DependencyChain

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= maxDepth {
			continue
		}
		tip := cur.path[len(cur.path)-1]
		neighbors, err := s.serviceNeighbors(tip, dir)
		if err != nil {
			return nil, err
		}
		for _, nb := range neighbors {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			newPath := make([]string, len(cur.path)+1)
			copy(newPath, cur.path)
			newPath[len(cur.path)] = nb
			chains = append(chains, DependencyChain{
				Nodes: newPath,
				Depth: cur.depth + 1,
			})
			queue = append(queue, bfsEntry{path: newPath, depth: cur.depth + 1})
		}
	}
	return chains, nil
}

// serviceNeighbors returns immediate neighbors along DEPENDS_ON edges.
func (s *KuzuStore) serviceNeighbors(name string, dir Direction) ([]string, error) {
	var cypher string
	switch dir {
	case DirectionDownstream:
		cypher = "MATCH (a:Service {name: $name})-[:DEPENDS_ON]->(b:Service) RETURN DISTINCT b.name"
	case DirectionUpstream:
		cypher = "MATCH (a:Service)-[:DEPENDS_ON]->(b:Service {name: $name}) RETURN DISTINCT a.name"
	default:
		return nil, fmt.Errorf("kuzu: unknown direction: %s", dir)
	}
	rows, err := s.query(cypher, map[string]any{"name": name})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, toString(r[0]))
	}
	sort.Strings(out)
	return out, nil
}

// ---------- Stats ----------

// Stats returns counts of declared services, endpoints and edges.
func (s *KuzuStore) Stats(_ context.Context) (*Stats, error) {
	services, err := s.count("MATCH (s:Service) WHERE s.external = false RETURN count(s)")
	if err != nil {
		return nil, err
	}
	endpoints, err := s.count("MATCH (e:Endpoint) RETURN count(e)")
	if err != nil {
		return nil, err
	}
	edges, err := s.count("MATCH ()-[r:DEPENDS_ON]->() RETURN count(r)")
	if err != nil {
		return nil, err
	}
	return &Stats{
		ServiceCount:  services,
		EndpointCount: endpoints,
		EdgeCount:     edges,
	}, nil
}

// ---------- Internal helpers ----------

// exec runs a parameterized Cypher statement that produces no result rows.
func (s *KuzuStore) exec(cypher string, params map[string]any) error {
	stmt, err := s.conn.Prepare(cypher)
	if err != nil {
		return fmt.Errorf("kuzu: prepare: %w", err)
	}
	defer stmt.Close()

	res, err := s.conn.Execute(stmt, params)
	if err != nil {
		return fmt.Errorf("kuzu: execute: %w", err)
	}
	res.Close()
	return nil
}

// query runs a parameterized Cypher statement and collects all result rows.
// Each row is a []any slice with values in column order.
func (s *KuzuStore) query(cypher string, params map[string]any) ([][]any, error) {
	var res *kuzu.QueryResult
	var err error

	if len(params) == 0 {
		res, err = s.conn.Query(cypher)
	} else {
		var stmt *kuzu.PreparedStatement
		stmt, err = s.conn.Prepare(cypher)
		if err != nil {
			return nil, fmt.Errorf("kuzu: prepare: %w", err)
		}
		defer stmt.Close()
		res, err = s.conn.Execute(stmt, params)
	}
	if err != nil {
		return nil, fmt.Errorf("kuzu: query: %w", err)
	}
	defer res.Close()

	var rows [][]any
	for res.HasNext() {
		tuple, err := res.Next()
		if err != nil {
			return nil, fmt.Errorf("kuzu: next: %w", err)
		}
		vals, err := tuple.GetAsSlice()
		if err != nil {
			return nil, fmt.Errorf("kuzu: row values: %w", err)
		}
		rows = append(rows, vals)
	}
	return rows, nil
}

// count runs a single-value count query.
func (s *KuzuStore) count(cypher string) (int, error) {
	rows, err := s.query(cypher, nil)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return 0, nil
	}
	return toInt(rows[0][0]), nil
}

// rowToService converts a name, language, path row into a Service.
func rowToService(r []any) Service {
	return Service{
		Name:     toString(r[0]),
		Language: Language(toString(r[1])),
		Path:     toString(r[2]),
	}
}

// ---------- Type coercion helpers ----------
// KuzuDB returns typed Go values (int64, float64, bool, string).

func toString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func toInt(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case int32:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func toFloat64(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}
