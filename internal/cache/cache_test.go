package cache

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFile creates a file under dir and returns its path.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// touch sets the modification time of path.
func touch(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

// ---------------------------------------------------------------------------
// Change detection
// ---------------------------------------------------------------------------

func TestIsChanged_UnknownAndMissing(t *testing.T) {
	c := New(Config{}, nil)
	dir := t.TempDir()

	path := writeFile(t, dir, "a.py", "print(1)")
	assert.True(t, c.IsChanged(path), "no entry yet")
	assert.True(t, c.IsChanged(filepath.Join(dir, "missing.py")), "stat failure")
}

func TestIsChanged_AfterRecord(t *testing.T) {
	c := New(Config{}, nil)
	dir := t.TempDir()
	path := writeFile(t, dir, "a.py", "print(1)")
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	touch(t, path, base)

	require.NoError(t, c.Record(path))
	assert.False(t, c.IsChanged(path))

	entry, ok := c.Lookup(path)
	require.True(t, ok)
	assert.Equal(t, crc32.ChecksumIEEE([]byte("print(1)")), entry.Hash)
	assert.Equal(t, int64(8), entry.Size)

	// Same size, different mtime.
	touch(t, path, base.Add(time.Second))
	assert.True(t, c.IsChanged(path))

	// Same mtime, different size.
	require.NoError(t, c.Record(path))
	require.NoError(t, os.WriteFile(path, []byte("print(12)"), 0o644))
	touch(t, path, base.Add(time.Second))
	assert.True(t, c.IsChanged(path))

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(2), stats.Misses)
}

func TestRecord_Errors(t *testing.T) {
	c := New(Config{}, nil)
	dir := t.TempDir()

	err := c.Record(filepath.Join(dir, "missing.py"))
	assert.Error(t, err)

	big := filepath.Join(dir, "big.py")
	f, err := os.Create(big)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(MaxFileSize+1))
	require.NoError(t, f.Close())

	err = c.Record(big)
	assert.True(t, errors.Is(err, ErrFileTooLarge))
	assert.Equal(t, 0, c.Len())
}

// ---------------------------------------------------------------------------
// LRU limits
// ---------------------------------------------------------------------------

func TestRecord_EvictsLeastRecentlyUsedByCount(t *testing.T) {
	c := New(Config{MaxEntries: 3}, nil)
	dir := t.TempDir()

	var paths []string
	for i := 0; i < 4; i++ {
		paths = append(paths, writeFile(t, dir, fmt.Sprintf("f%d.py", i), "x"))
	}
	for _, p := range paths[:3] {
		require.NoError(t, c.Record(p))
	}

	// Touch f0 so f1 becomes the oldest.
	assert.False(t, c.IsChanged(paths[0]))
	require.NoError(t, c.Record(paths[3]))

	assert.Equal(t, 3, c.Len())
	_, ok := c.Lookup(paths[1])
	assert.False(t, ok, "least recently used entry is evicted")
	assert.Equal(t, []string{paths[2], paths[0], paths[3]}, c.Paths())
	assert.Equal(t, uint64(1), c.Stats().Evictions)
}

func TestRecord_EvictsByBytes(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.py", "x")
	b := writeFile(t, dir, "b.py", "x")
	c3 := writeFile(t, dir, "c.py", "x")

	perEntry := int64(len(a)) + entryOverhead
	c := New(Config{MaxBytes: 2 * perEntry}, nil)

	for _, p := range []string{a, b, c3} {
		require.NoError(t, c.Record(p))
		assert.LessOrEqual(t, c.Stats().Bytes, 2*perEntry)
	}
	assert.Equal(t, []string{b, c3}, c.Paths())
}

func TestRecord_UpdateKeepsSingleEntry(t *testing.T) {
	c := New(Config{}, nil)
	path := writeFile(t, t.TempDir(), "a.py", "one")

	require.NoError(t, c.Record(path))
	require.NoError(t, os.WriteFile(path, []byte("three"), 0o644))
	require.NoError(t, c.Record(path))

	assert.Equal(t, 1, c.Len())
	entry, _ := c.Lookup(path)
	assert.Equal(t, int64(5), entry.Size)
	assert.Equal(t, int64(len(path))+entryOverhead, c.Stats().Bytes)
}

func TestClearAndRemove(t *testing.T) {
	c := New(Config{}, nil)
	dir := t.TempDir()
	a := writeFile(t, dir, "a.py", "a")
	b := writeFile(t, dir, "b.py", "b")
	require.NoError(t, c.Record(a))
	require.NoError(t, c.Record(b))

	c.Remove(a)
	assert.Equal(t, []string{b}, c.Paths())

	c.IsChanged(b)
	c.Clear()
	assert.Equal(t, Stats{}, c.Stats())
}

// ---------------------------------------------------------------------------
// Persistence
// ---------------------------------------------------------------------------

func TestSaveLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.py", "a")
	b := writeFile(t, dir, "b.py", "bb")

	c := New(Config{}, nil)
	require.NoError(t, c.Record(a))
	require.NoError(t, c.Record(b))
	assert.False(t, c.IsChanged(a)) // a is now most recent

	cacheFile := filepath.Join(dir, "state", "cache.bin")
	require.NoError(t, c.Save(cacheFile))

	loaded := New(Config{}, nil)
	require.NoError(t, loaded.Load(cacheFile))
	assert.Equal(t, []string{b, a}, loaded.Paths())
	assert.False(t, loaded.IsChanged(a))
	assert.False(t, loaded.IsChanged(b))

	orig, _ := c.Lookup(b)
	got, _ := loaded.Lookup(b)
	assert.Equal(t, orig.Hash, got.Hash)
	assert.True(t, orig.ModTime.Equal(got.ModTime))
}

func TestLoad_MissingFileStartsEmpty(t *testing.T) {
	c := New(Config{}, nil)
	require.NoError(t, c.Load(filepath.Join(t.TempDir(), "nope.bin")))
	assert.Equal(t, 0, c.Len())
}

func TestLoad_VersionMismatchStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.bin")
	buf := binary.LittleEndian.AppendUint32(nil, FormatVersion+1)
	buf = binary.LittleEndian.AppendUint64(buf, 1)
	require.NoError(t, os.WriteFile(path, buf, 0o644))

	c := New(Config{}, nil)
	require.NoError(t, c.Record(writeFile(t, dir, "a.py", "a")))
	require.NoError(t, c.Load(path))
	assert.Equal(t, 0, c.Len())
}

func TestLoad_TruncatedKeepsParsedEntries(t *testing.T) {
	dir := t.TempDir()
	c := New(Config{}, nil)
	for i := 0; i < 3; i++ {
		require.NoError(t, c.Record(writeFile(t, dir, fmt.Sprintf("f%d.py", i), "x")))
	}
	cacheFile := filepath.Join(dir, "cache.bin")
	require.NoError(t, c.Save(cacheFile))

	data, err := os.ReadFile(cacheFile)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cacheFile, data[:len(data)-5], 0o644))

	loaded := New(Config{}, nil)
	require.NoError(t, loaded.Load(cacheFile))
	assert.Equal(t, 2, loaded.Len())
}

func TestLoad_EnforcesLimits(t *testing.T) {
	dir := t.TempDir()
	c := New(Config{}, nil)
	var paths []string
	for i := 0; i < 5; i++ {
		p := writeFile(t, dir, fmt.Sprintf("f%d.py", i), "x")
		paths = append(paths, p)
		require.NoError(t, c.Record(p))
	}
	cacheFile := filepath.Join(dir, "cache.bin")
	require.NoError(t, c.Save(cacheFile))

	small := New(Config{MaxEntries: 2}, nil)
	require.NoError(t, small.Load(cacheFile))
	assert.Equal(t, paths[3:], small.Paths())
}
