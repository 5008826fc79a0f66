package parserpool

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"
)

func newPythonPool(t *testing.T, capacity int) *Pool {
	t.Helper()
	p := New(capacity, nil)
	p.Register("python", tree_sitter.NewLanguage(tree_sitter_python.Language()))
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestAcquire_RespectsCap(t *testing.T) {
	p := newPythonPool(t, 2)

	a, err := p.Acquire("python")
	require.NoError(t, err)
	b, err := p.Acquire("python")
	require.NoError(t, err)
	assert.NotSame(t, a, b)

	_, err = p.Acquire("python")
	assert.True(t, errors.Is(err, ErrExhausted))
	assert.Equal(t, Stats{Created: 2, Idle: 0, InUse: 2, Cap: 2}, p.Stats("python"))

	p.Release(a)
	c, err := p.Acquire("python")
	require.NoError(t, err)
	assert.Same(t, a, c, "idle parser is reused")
	assert.Equal(t, 2, p.Stats("python").Created)
}

func TestAcquire_ParsesAfterReuse(t *testing.T) {
	p := newPythonPool(t, 1)
	src := []byte("def h():\n    return 1\n")

	for i := 0; i < 3; i++ {
		parser, err := p.Acquire("python")
		require.NoError(t, err)
		tree := parser.Parse(src, nil)
		require.NotNil(t, tree)
		assert.Equal(t, "module", tree.RootNode().Kind())
		tree.Close()
		p.Release(parser)
	}
}

func TestAcquire_UnknownLanguage(t *testing.T) {
	p := newPythonPool(t, 1)
	_, err := p.Acquire("cobol")
	assert.True(t, errors.Is(err, ErrUnknownLanguage))
}

func TestRelease_ForeignAndDouble(t *testing.T) {
	p := newPythonPool(t, 1)

	foreign := tree_sitter.NewParser()
	defer foreign.Close()
	p.Release(foreign)
	p.Release(nil)
	assert.Equal(t, Stats{Cap: 1}, p.Stats("python"))

	parser, err := p.Acquire("python")
	require.NoError(t, err)
	p.Release(parser)
	p.Release(parser)
	assert.Equal(t, Stats{Created: 1, Idle: 1, InUse: 0, Cap: 1}, p.Stats("python"))

	// The single idle parser can be taken exactly once.
	_, err = p.Acquire("python")
	require.NoError(t, err)
	_, err = p.Acquire("python")
	assert.True(t, errors.Is(err, ErrExhausted))
}

func TestLiveParsersNeverExceedCap(t *testing.T) {
	const capacity = 3
	p := newPythonPool(t, capacity)

	var held []*tree_sitter.Parser
	for step := 0; step < 40; step++ {
		if step%3 == 2 && len(held) > 0 {
			p.Release(held[0])
			held = held[1:]
			continue
		}
		parser, err := p.Acquire("python")
		if err != nil {
			require.True(t, errors.Is(err, ErrExhausted))
			require.Len(t, held, capacity)
			continue
		}
		held = append(held, parser)
		assert.LessOrEqual(t, p.Stats("python").Created, capacity)
	}
}

func TestClose(t *testing.T) {
	p := New(0, nil)
	p.Register("python", tree_sitter.NewLanguage(tree_sitter_python.Language()))
	assert.Equal(t, DefaultCap, p.Cap())

	parser, err := p.Acquire("python")
	require.NoError(t, err)
	p.Release(parser)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	_, err = p.Acquire("python")
	assert.True(t, errors.Is(err, ErrClosed))
	assert.Equal(t, 0, p.Stats("python").Created)
}
