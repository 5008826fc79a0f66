// Package extract runs tree-sitter pattern queries over parsed files and
// exposes the captured nodes to language plugins.
package extract

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/dusk-indust/archcrawl/internal/graph"
)

// Query is a compiled pattern query together with its name.
type Query struct {
	Name  string
	inner *tree_sitter.Query
	names []string
}

// Compile compiles query text for lang.
func Compile(lang *tree_sitter.Language, name, text string) (*Query, error) {
	q, qerr := tree_sitter.NewQuery(lang, text)
	if qerr != nil {
		return nil, fmt.Errorf("compile query %s: %w", name, qerr)
	}
	return &Query{Name: name, inner: q, names: q.CaptureNames()}, nil
}

// Load compiles dir/<name>.scm when it exists and falls back to the
// built-in text otherwise. A query file that fails to compile is logged
// and the fallback is used.
func Load(lang *tree_sitter.Language, dir, name, fallback string, logger *slog.Logger) (*Query, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir != "" {
		path := filepath.Join(dir, name+".scm")
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			q, cerr := Compile(lang, name, string(data))
			if cerr == nil {
				logger.Debug("loaded query", "name", name, "path", path)
				return q, nil
			}
			logger.Warn("query file invalid, using built-in", "path", path, "error", cerr)
		case !errors.Is(err, os.ErrNotExist):
			logger.Warn("query file unreadable, using built-in", "path", path, "error", err)
		}
	}
	return Compile(lang, name, fallback)
}

// CaptureNames returns the capture names declared by the query.
func (q *Query) CaptureNames() []string {
	return q.names
}

// Close releases the query.
func (q *Query) Close() {
	if q != nil && q.inner != nil {
		q.inner.Close()
	}
}

// Capture is one captured node of a match.
type Capture struct {
	Name string
	Node tree_sitter.Node
}

// Match is one match of a query against a tree.
type Match struct {
	PatternIndex uint
	Captures     []Capture
	source       []byte
}

// Execute runs q over tree and calls fn once per match. It returns the
// number of matches seen.
func Execute(q *Query, tree *tree_sitter.Tree, source []byte, fn func(*Match)) (int, error) {
	if q == nil || tree == nil {
		return 0, errors.New("execute: nil query or tree")
	}
	cursor := tree_sitter.NewQueryCursor()
	defer cursor.Close()

	root := tree.RootNode()
	matches := cursor.Matches(q.inner, root, source)
	n := 0
	for {
		m := matches.Next()
		if m == nil {
			break
		}
		match := &Match{
			PatternIndex: m.PatternIndex,
			Captures:     make([]Capture, 0, len(m.Captures)),
			source:       source,
		}
		for _, c := range m.Captures {
			name := ""
			if int(c.Index) < len(q.names) {
				name = q.names[c.Index]
			}
			match.Captures = append(match.Captures, Capture{Name: name, Node: c.Node})
		}
		n++
		fn(match)
	}
	return n, nil
}

// Find returns the first capture named name.
func (m *Match) Find(name string) (*tree_sitter.Node, bool) {
	for i := range m.Captures {
		if m.Captures[i].Name == name {
			return &m.Captures[i].Node, true
		}
	}
	return nil, false
}

// FindAll returns every capture named name, in match order.
func (m *Match) FindAll(name string) []*tree_sitter.Node {
	var out []*tree_sitter.Node
	for i := range m.Captures {
		if m.Captures[i].Name == name {
			out = append(out, &m.Captures[i].Node)
		}
	}
	return out
}

// Text returns the source text of the first capture named name.
func (m *Match) Text(name string) (string, bool) {
	n, ok := m.Find(name)
	if !ok {
		return "", false
	}
	return NodeText(n, m.source), true
}

// CaptureText returns the source text of the i-th capture.
func (m *Match) CaptureText(i int) (string, bool) {
	if i < 0 || i >= len(m.Captures) {
		return "", false
	}
	return NodeText(&m.Captures[i].Node, m.source), true
}

// Line returns the 1-based source line of the first capture named name.
func (m *Match) Line(name string) (int, bool) {
	n, ok := m.Find(name)
	if !ok {
		return 0, false
	}
	return int(n.StartPosition().Row) + 1, true
}

// NodeText returns the source bytes spanned by n.
func NodeText(n *tree_sitter.Node, source []byte) string {
	if n == nil {
		return ""
	}
	start, end := n.StartByte(), n.EndByte()
	if end > uint(len(source)) || start > end {
		return ""
	}
	return string(source[start:end])
}

// StripQuotes removes one layer of matching single or double quotes.
func StripQuotes(s string) string {
	if len(s) < 2 {
		return s
	}
	first := s[0]
	if (first == '"' || first == '\'') && s[len(s)-1] == first {
		return s[1 : len(s)-1]
	}
	return s
}

// Capture names that carry an explicit HTTP method.
const (
	CaptureDecoratorMethod = "fastapi.method"
	CaptureMethodsList     = "route.method"
)

// ExplicitHTTPMethod returns the method declared in m, if any. A
// per-decorator method capture wins over a methods-list capture.
func ExplicitHTTPMethod(m *Match) (graph.HTTPMethod, bool) {
	if text, ok := m.Text(CaptureDecoratorMethod); ok && text != "" {
		return graph.ParseHTTPMethod(strings.ToUpper(text)), true
	}
	if text, ok := m.Text(CaptureMethodsList); ok {
		if text = StripQuotes(text); text != "" {
			return graph.ParseHTTPMethod(strings.ToUpper(text)), true
		}
	}
	return "", false
}

// ResolveHTTPMethod returns the explicit method of m, or GET.
func ResolveHTTPMethod(m *Match) graph.HTTPMethod {
	if method, ok := ExplicitHTTPMethod(m); ok {
		return method
	}
	return graph.MethodGet
}
