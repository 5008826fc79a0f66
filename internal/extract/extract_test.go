package extract

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"

	"github.com/dusk-indust/archcrawl/internal/graph"
)

var python = tree_sitter.NewLanguage(tree_sitter_python.Language())

// parsePython parses src and registers cleanup of the tree.
func parsePython(t *testing.T, src string) *tree_sitter.Tree {
	t.Helper()
	parser := tree_sitter.NewParser()
	defer parser.Close()
	require.NoError(t, parser.SetLanguage(python))
	tree := parser.Parse([]byte(src), nil)
	require.NotNil(t, tree)
	t.Cleanup(tree.Close)
	return tree
}

const callQuery = `(call
  function: (attribute
    object: (identifier) @obj
    attribute: (identifier) @method)
  arguments: (argument_list . (string) @url))`

func TestExecute_CollectsCaptures(t *testing.T) {
	src := "requests.get(\"http://a\")\nclient.post('http://b', json=1)\nprint('x')\n"
	tree := parsePython(t, src)

	q, err := Compile(python, "calls", callQuery)
	require.NoError(t, err)
	defer q.Close()
	assert.Equal(t, []string{"obj", "method", "url"}, q.CaptureNames())

	type call struct{ obj, method, url string }
	var got []call
	n, err := Execute(q, tree, []byte(src), func(m *Match) {
		obj, _ := m.Text("obj")
		method, _ := m.Text("method")
		url, _ := m.Text("url")
		got = append(got, call{obj, method, StripQuotes(url)})
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []call{
		{"requests", "get", "http://a"},
		{"client", "post", "http://b"},
	}, got)
}

func TestMatchHelpers(t *testing.T) {
	src := "requests.get(\"http://a\")\n"
	tree := parsePython(t, src)
	q, err := Compile(python, "calls", callQuery)
	require.NoError(t, err)
	defer q.Close()

	_, err = Execute(q, tree, []byte(src), func(m *Match) {
		text, ok := m.CaptureText(0)
		assert.True(t, ok)
		assert.Equal(t, "requests", text)

		_, ok = m.CaptureText(7)
		assert.False(t, ok)

		_, ok = m.Find("missing")
		assert.False(t, ok)
		_, ok = m.Text("missing")
		assert.False(t, ok)

		line, ok := m.Line("url")
		assert.True(t, ok)
		assert.Equal(t, 1, line)
		assert.Len(t, m.FindAll("obj"), 1)
	})
	require.NoError(t, err)
}

func TestExecute_NilArguments(t *testing.T) {
	_, err := Execute(nil, nil, nil, func(*Match) {})
	assert.Error(t, err)
}

func TestCompile_Invalid(t *testing.T) {
	_, err := Compile(python, "broken", "(call @x")
	assert.Error(t, err)
}

func TestLoad_FallbackAndOverride(t *testing.T) {
	dir := t.TempDir()

	// Missing file: fallback.
	q, err := Load(python, dir, "calls", callQuery, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"obj", "method", "url"}, q.CaptureNames())
	q.Close()

	// Present file overrides.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "calls.scm"), []byte("(identifier) @id"), 0o644))
	q, err = Load(python, dir, "calls", callQuery, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, q.CaptureNames())
	q.Close()

	// Invalid file: fallback.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "calls.scm"), []byte("(((("), 0o644))
	q, err = Load(python, dir, "calls", callQuery, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"obj", "method", "url"}, q.CaptureNames())
	q.Close()
}

func TestStripQuotes(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`"/x"`, "/x"},
		{`'/x'`, "/x"},
		{`"'/x'"`, "'/x'"},
		{`"/x'`, `"/x'`},
		{`/x`, "/x"},
		{`"`, `"`},
		{`""`, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StripQuotes(tt.in), tt.in)
	}
}

func TestResolveHTTPMethod(t *testing.T) {
	src := []byte("post\n'put'\n")
	tree := parsePython(t, string(src))
	q, err := Compile(python, "ids", `(expression_statement (identifier) @fastapi.method)
(expression_statement (string) @route.method)`)
	require.NoError(t, err)
	defer q.Close()

	var decorator, list *Capture
	_, err = Execute(q, tree, src, func(m *Match) {
		c := m.Captures[0]
		if c.Name == CaptureDecoratorMethod {
			decorator = &c
		} else {
			list = &c
		}
	})
	require.NoError(t, err)
	require.NotNil(t, decorator)
	require.NotNil(t, list)

	tests := []struct {
		name     string
		captures []Capture
		want     graph.HTTPMethod
	}{
		{"none defaults to GET", nil, graph.MethodGet},
		{"methods list", []Capture{*list}, graph.MethodPut},
		{"decorator wins", []Capture{*list, *decorator}, graph.MethodPost},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Match{Captures: tt.captures, source: src}
			assert.Equal(t, tt.want, ResolveHTTPMethod(m))
		})
	}

	_, ok := ExplicitHTTPMethod(&Match{source: src})
	assert.False(t, ok)
}
