package walker

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRule(t *testing.T) {
	base := filepath.FromSlash("/repo")

	_, ok := parseRule(base, "")
	assert.False(t, ok)
	_, ok = parseRule(base, "# comment")
	assert.False(t, ok)

	r, ok := parseRule(base, "!keep.py")
	require.True(t, ok)
	assert.True(t, r.negate)
	assert.False(t, r.anchored)

	r, ok = parseRule(base, "logs/")
	require.True(t, ok)
	assert.True(t, r.dirOnly)
	assert.False(t, r.anchored)

	r, ok = parseRule(base, "/generated")
	require.True(t, ok)
	assert.True(t, r.anchored)
}

func TestRuleSet_Ignored(t *testing.T) {
	base := filepath.FromSlash("/repo")
	var rs ruleSet
	for _, line := range []string{
		"*.log",
		"secrets/",
		"/generated",
		"docs/**/draft.py",
		"!important.log",
	} {
		r, ok := parseRule(base, line)
		require.True(t, ok, line)
		rs = append(rs, r)
	}

	p := func(rel string) string { return filepath.Join(base, filepath.FromSlash(rel)) }

	tests := []struct {
		path  string
		isDir bool
		want  bool
	}{
		{"app.log", false, true},
		{"deep/nested/app.log", false, true},
		{"important.log", false, false},
		{"secrets", true, true},
		{"secrets", false, false},
		{"svc/secrets", true, true},
		{"generated", true, true},
		{"svc/generated", true, false},
		{"docs/draft.py", false, true},
		{"docs/a/b/draft.py", false, true},
		{"other/draft.py", false, false},
		{"app.py", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, rs.ignored(p(tt.path), tt.isDir))
		})
	}
}

func TestWalk_RespectGitignore(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		".gitignore":           "*.gen.py\n/scratch\n",
		"app.py":               "",
		"models.gen.py":        "",
		"scratch/tmp.py":       "",
		"svc/scratch/keep.py":  "",
		"svc/.gitignore":       "local_*.py\n!local_keep.py\n",
		"svc/local_debug.py":   "",
		"svc/local_keep.py":    "",
		"other/local_debug.py": "",
	})

	respecting := newWalker(t, Config{RespectGitignore: true, Extensions: []string{"py"}})
	assert.Equal(t, []string{
		"app.py",
		"other/local_debug.py",
		"svc/local_keep.py",
		"svc/scratch/keep.py",
	}, collect(t, respecting, root))
	assert.Equal(t, 3, respecting.Stats().FilesIgnored)

	ignoring := newWalker(t, Config{Extensions: []string{"py"}})
	assert.Len(t, collect(t, ignoring, root), 7)
}
