package python

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/archcrawl/internal/graph"
	"github.com/dusk-indust/archcrawl/internal/parserpool"
)

func newPlugin(t *testing.T, queryDir string) *Plugin {
	t.Helper()
	pool := parserpool.New(2, nil)
	t.Cleanup(func() { _ = pool.Close() })
	p := New(Options{Pool: pool, QueryDir: queryDir})
	require.NoError(t, p.Init(context.Background()))
	t.Cleanup(func() { _ = p.Shutdown() })
	return p
}

// writeSource writes content to dir/svc/name and returns the path.
func writeSource(t *testing.T, name, content string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "svc")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func parse(t *testing.T, p *Plugin, content string) *graph.ParseResult {
	t.Helper()
	res := p.ParseFile(context.Background(), writeSource(t, "app.py", content), "")
	require.NotNil(t, res)
	require.True(t, res.Success, res.Error)
	return res
}

func TestParseFile_FlaskRoute(t *testing.T) {
	p := newPlugin(t, "")
	res := parse(t, p, `from flask import Flask
app = Flask(__name__)

@app.route("/users")
def list_users():
    return []
`)

	require.NotNil(t, res.Service)
	assert.Equal(t, "svc", res.Service.Name)
	assert.Equal(t, graph.LangPython, res.Service.Language)
	assert.Equal(t, []graph.Endpoint{{
		ServiceName: "svc",
		Path:        "/users",
		Method:      graph.MethodGet,
		Handler:     "list_users",
		Line:        5,
	}}, res.Endpoints)
	assert.Empty(t, res.Edges)
	assert.Equal(t, []string{"flask"}, res.Imports)
}

func TestParseFile_MethodsListYieldsEndpointPerMethod(t *testing.T) {
	p := newPlugin(t, "")
	res := parse(t, p, `@app.route('/orders', methods=["GET", "post"])
def orders():
    pass
`)

	require.Len(t, res.Endpoints, 2)
	assert.Equal(t, graph.MethodGet, res.Endpoints[0].Method)
	assert.Equal(t, graph.MethodPost, res.Endpoints[1].Method)
	for _, ep := range res.Endpoints {
		assert.Equal(t, "/orders", ep.Path)
		assert.Equal(t, "orders", ep.Handler)
		assert.Equal(t, 2, ep.Line)
	}
}

func TestParseFile_FastAPIRoutes(t *testing.T) {
	p := newPlugin(t, "")
	res := parse(t, p, `from fastapi import FastAPI
app = FastAPI()

@app.post("/items")
async def create_item(item):
    return item

@router.delete("/items/{id}")
def delete_item(id):
    pass

@app.middleware("http")
def mw(request, call_next):
    pass
`)

	require.Len(t, res.Endpoints, 2)
	assert.Equal(t, graph.Endpoint{
		ServiceName: "svc", Path: "/items", Method: graph.MethodPost, Handler: "create_item", Line: 5,
	}, res.Endpoints[0])
	assert.Equal(t, graph.MethodDelete, res.Endpoints[1].Method)
	assert.Equal(t, "/items/{id}", res.Endpoints[1].Path)
}

func TestParseFile_HTTPCalls(t *testing.T) {
	p := newPlugin(t, "")
	res := parse(t, p, `import requests
import httpx

def fetch():
    requests.get("http://orders:8000/api/orders")
    httpx.post('/internal/sync', json={})
    session.get("http://ignored")
`)

	require.Len(t, res.Edges, 2)
	assert.Equal(t, graph.Edge{
		From:       "svc",
		To:         "http://orders:8000/api/orders",
		Type:       graph.EdgeHTTPCall,
		Method:     graph.MethodGet,
		Endpoint:   "/api/orders",
		Line:       5,
		Confidence: 0.8,
	}, res.Edges[0])
	assert.Equal(t, graph.MethodPost, res.Edges[1].Method)
	assert.Equal(t, "/internal/sync", res.Edges[1].To)
	assert.Equal(t, "/internal/sync", res.Edges[1].Endpoint)
}

func TestParseFile_PrefixedStringLiterals(t *testing.T) {
	p := newPlugin(t, "")
	res := parse(t, p, `import requests

@app.get(r"/raw")
def raw():
    requests.get(f"http://orders/items/{item_id}")
    requests.post(rb'/bytes')
    requests.put(F"http://{host}/x")
`)

	require.Len(t, res.Endpoints, 1)
	assert.Equal(t, "/raw", res.Endpoints[0].Path)

	require.Len(t, res.Edges, 3)
	assert.Equal(t, "http://orders/items/{item_id}", res.Edges[0].To)
	assert.Equal(t, "/items/{item_id}", res.Edges[0].Endpoint)
	assert.Equal(t, "/bytes", res.Edges[1].To)
	assert.Equal(t, "/bytes", res.Edges[1].Endpoint)
	assert.Equal(t, "http://{host}/x", res.Edges[2].To)
}

func TestStringValue(t *testing.T) {
	cases := map[string]string{
		`"plain"`:  "plain",
		`'single'`: "single",
		`f"fmt"`:   "fmt",
		`Rb'raw'`:  "raw",
		`u"uni"`:   "uni",
		`fr"x"`:    "x",
		`ident`:    "ident",
		`f`:        "f",
	}
	for in, want := range cases {
		assert.Equal(t, want, stringValue(in), in)
	}
}

func TestParseFile_Imports(t *testing.T) {
	p := newPlugin(t, "")
	res := parse(t, p, `import os
import os
import orders.client as oc
from billing.api import charge
from . import models
from .util import helper
`)

	assert.Equal(t, []string{"os", "os", "orders.client", "billing.api", ".", ".util"}, res.Imports)
}

func TestParseFile_SyntaxErrorStillSucceeds(t *testing.T) {
	p := newPlugin(t, "")
	res := parse(t, p, `@app.route("/ok")
def ok():
    pass

def broken(:
`)
	assert.Len(t, res.Endpoints, 1)
}

func TestParseFile_EmptyFile(t *testing.T) {
	p := newPlugin(t, "")
	res := parse(t, p, "")
	assert.Empty(t, res.Endpoints)
	assert.Empty(t, res.Edges)
	assert.Empty(t, res.Imports)
}

func TestParseFile_Failures(t *testing.T) {
	p := newPlugin(t, "")
	ctx := context.Background()

	res := p.ParseFile(ctx, filepath.Join(t.TempDir(), "missing.py"), "svc")
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)

	big := writeSource(t, "big.py", "")
	require.NoError(t, os.Truncate(big, MaxFileSize+1))
	res = p.ParseFile(ctx, big, "svc")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "too large")

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	res = p.ParseFile(cancelled, writeSource(t, "a.py", "x = 1\n"), "svc")
	assert.False(t, res.Success)
}

func TestParseFile_NotInitialized(t *testing.T) {
	p := New(Options{Pool: parserpool.New(1, nil)})
	res := p.ParseFile(context.Background(), writeSource(t, "a.py", "x = 1\n"), "")
	assert.False(t, res.Success)
	assert.Equal(t, ErrNotInitialized.Error(), res.Error)
}

func TestParseFile_ExplicitServiceName(t *testing.T) {
	p := newPlugin(t, "")
	res := p.ParseFile(context.Background(), writeSource(t, "a.py", "@app.get('/x')\ndef x():\n    pass\n"), "gateway")
	require.True(t, res.Success)
	assert.Equal(t, "gateway", res.Service.Name)
	assert.Equal(t, "gateway", res.Endpoints[0].ServiceName)
}

func TestQueryDirOverride(t *testing.T) {
	dir := t.TempDir()
	// Only recognise "endpoint" decorators.
	custom := `(decorated_definition
  (decorator
    (call
      function: (attribute attribute: (identifier) @route.decorator)
      arguments: (argument_list . (string) @route.path)))
  definition: (function_definition name: (identifier) @route.handler)
  (#eq? @route.decorator "endpoint"))
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "routes.scm"), []byte(custom), 0o644))

	p := newPlugin(t, dir)
	assert.Equal(t, filepath.Join(dir, "routes.scm"), p.QueryPath("routes"))
	assert.Equal(t, filepath.Join(dir, "calls.scm"), p.QueryPath("calls.scm"))

	res := parse(t, p, `@api.endpoint("/custom")
def custom():
    pass

@app.route("/ignored")
def ignored():
    pass
`)
	require.Len(t, res.Endpoints, 1)
	assert.Equal(t, "/custom", res.Endpoints[0].Path)
}

func TestInferServiceName(t *testing.T) {
	p := New(Options{})
	assert.Equal(t, "orders", p.InferServiceName(filepath.Join("repo", "orders", "app.py")))
	assert.Equal(t, "unknown", p.InferServiceName("app.py"))
	assert.Equal(t, "", p.QueryPath("routes"))
}

func TestSupportsFile(t *testing.T) {
	p := New(Options{})
	assert.True(t, p.SupportsFile("a/b.py"))
	assert.True(t, p.SupportsFile("a/b.pyi"))
	assert.False(t, p.SupportsFile("a/b.pyc"))
	assert.False(t, p.SupportsFile("a/b.PY"))
}

func TestInit_NilPool(t *testing.T) {
	assert.Error(t, New(Options{}).Init(context.Background()))
}
