package walker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTree creates files (with parent directories) under root.
func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

// collect walks root and returns the matched files relative to root.
func collect(t *testing.T, w *Walker, root string) []string {
	t.Helper()
	var got []string
	err := w.Walk(context.Background(), root, func(path string) error {
		rel, err := filepath.Rel(root, path)
		require.NoError(t, err)
		got = append(got, filepath.ToSlash(rel))
		return nil
	})
	require.NoError(t, err)
	sort.Strings(got)
	return got
}

func newWalker(t *testing.T, cfg Config) *Walker {
	t.Helper()
	w, err := New(cfg, nil)
	require.NoError(t, err)
	return w
}

// ---------------------------------------------------------------------------
// Built-in ignore list and extension filter
// ---------------------------------------------------------------------------

func TestWalk_BuiltinIgnore(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"svc/app.py":                "",
		"svc/__pycache__/app.pyc":   "",
		".git/HEAD":                 "ref: refs/heads/main",
		".git/hooks/pre-commit.py":  "",
		"node_modules/pkg/index.py": "",
		".venv/lib/site.py":         "",
		"lib/native.so":             "",
		"lib/compiled.pyc":          "",
		"README.md":                 "",
	})

	w := newWalker(t, Config{})
	got := collect(t, w, root)
	assert.Equal(t, []string{"README.md", "svc/app.py"}, got)

	for _, f := range got {
		assert.NotContains(t, f, ".git/")
	}
	stats := w.Stats()
	assert.Equal(t, 2, stats.FilesMatched)
	assert.Equal(t, 2, stats.FilesScanned)
	// .git, node_modules, .venv, __pycache__, native.so, compiled.pyc
	assert.Equal(t, 6, stats.FilesIgnored)
}

func TestWalk_ExtensionFilter(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.py":        "",
		"b.pyi":       "",
		"c.txt":       "",
		"d.PY":        "",
		"Makefile":    "",
		"nested/e.py": "",
	})

	w := newWalker(t, Config{Extensions: []string{"py", ".pyi"}})
	assert.Equal(t, []string{"a.py", "b.pyi", "nested/e.py"}, collect(t, w, root))

	stats := w.Stats()
	assert.Equal(t, 6, stats.FilesScanned)
	assert.Equal(t, 3, stats.FilesMatched)
	assert.Equal(t, 2, stats.DirsVisited)
}

func TestWalk_ExtraIgnore(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"app.py":          "",
		"tests/test_a.py": "",
		"app_test.py":     "",
	})

	w := newWalker(t, Config{ExtraIgnore: []string{"tests", "*_test.py"}})
	assert.Equal(t, []string{"app.py"}, collect(t, w, root))
}

func TestNew_InvalidPattern(t *testing.T) {
	_, err := New(Config{ExtraIgnore: []string{"[unclosed"}}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidPattern))
}

// ---------------------------------------------------------------------------
// Depth, root validation, stats reset
// ---------------------------------------------------------------------------

func TestWalk_MaxDepth(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"top.py":             "",
		"one/a.py":           "",
		"one/two/b.py":       "",
		"one/two/three/c.py": "",
	})

	tests := []struct {
		depth int
		want  []string
	}{
		{0, []string{"one/a.py", "one/two/b.py", "one/two/three/c.py", "top.py"}},
		{1, []string{"top.py"}},
		{2, []string{"one/a.py", "top.py"}},
		{3, []string{"one/a.py", "one/two/b.py", "top.py"}},
	}
	for _, tt := range tests {
		w := newWalker(t, Config{MaxDepth: tt.depth})
		assert.Equal(t, tt.want, collect(t, w, root), "max depth %d", tt.depth)
	}
}

func TestWalk_RootErrors(t *testing.T) {
	w := newWalker(t, Config{})
	noop := func(string) error { return nil }

	err := w.Walk(context.Background(), filepath.Join(t.TempDir(), "missing"), noop)
	assert.True(t, errors.Is(err, ErrRootNotFound))

	file := filepath.Join(t.TempDir(), "file.py")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	err = w.Walk(context.Background(), file, noop)
	assert.True(t, errors.Is(err, ErrRootNotDir))
}

func TestWalk_StatsResetBetweenWalks(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.py": "", "b.py": ""})

	w := newWalker(t, Config{})
	collect(t, w, root)
	collect(t, w, root)
	assert.Equal(t, 2, w.Stats().FilesMatched)
	assert.Equal(t, 1, w.Stats().DirsVisited)
}

func TestWalk_CallbackErrorStops(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.py": "", "b.py": "", "c.py": ""})

	stop := errors.New("stop")
	calls := 0
	err := newWalker(t, Config{}).Walk(context.Background(), root, func(string) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestWalk_ContextCancelled(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.py": ""})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := newWalker(t, Config{}).Walk(ctx, root, func(string) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWalk_OnDir(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a/b/c.py": "", ".git/config": ""})

	w := newWalker(t, Config{})
	var dirs []string
	w.OnDir(func(dir string) {
		rel, _ := filepath.Rel(root, dir)
		dirs = append(dirs, filepath.ToSlash(rel))
	})
	collect(t, w, root)
	assert.Equal(t, []string{".", "a", "a/b"}, dirs)
}

// ---------------------------------------------------------------------------
// Symlinks
// ---------------------------------------------------------------------------

func TestWalk_Symlinks(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	writeTree(t, root, map[string]string{"real/a.py": ""})
	writeTree(t, outside, map[string]string{"ext.py": ""})

	if err := os.Symlink(outside, filepath.Join(root, "linked")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	require.NoError(t, os.Symlink(filepath.Join(root, "real", "a.py"), filepath.Join(root, "alias.py")))

	skipping := newWalker(t, Config{})
	assert.Equal(t, []string{"real/a.py"}, collect(t, skipping, root))

	following := newWalker(t, Config{FollowSymlinks: true})
	assert.Equal(t, []string{"alias.py", "linked/ext.py", "real/a.py"}, collect(t, following, root))
}

func TestWalk_SymlinkCycle(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a/x.py": ""})
	if err := os.Symlink(root, filepath.Join(root, "a", "loop")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	w := newWalker(t, Config{FollowSymlinks: true})
	assert.Equal(t, []string{"a/x.py"}, collect(t, w, root))
	assert.Equal(t, 1, w.Stats().Errors)
}
