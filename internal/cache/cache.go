// Package cache decides whether a file changed since it was last analyzed.
//
// Entries are fingerprinted by modification time, size and a CRC-32 of the
// content, kept in LRU order and bounded by entry count and approximate byte
// usage. The cache can be persisted to a single versioned binary file.
package cache

import (
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"math"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// MaxFileSize is the largest file Record will fingerprint.
const MaxFileSize = 10 * 1024 * 1024

// entryOverhead approximates the per-entry bookkeeping cost in bytes.
const entryOverhead = 64

// ErrFileTooLarge is returned by Record for files above MaxFileSize.
var ErrFileTooLarge = errors.New("file exceeds cache size ceiling")

// Entry is the fingerprint recorded for one file.
type Entry struct {
	Path         string
	ModTime      time.Time
	Hash         uint32
	Size         int64
	LastAccessed uint64
}

func (e *Entry) cost() int64 {
	return int64(len(e.Path)) + entryOverhead
}

// Config bounds the cache. Zero means unlimited for that dimension.
type Config struct {
	MaxEntries int
	MaxBytes   int64
}

// Stats reports cache usage.
type Stats struct {
	Entries   int    `json:"entries"`
	Bytes     int64  `json:"bytes"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

// Cache is a concurrency-safe LRU of file fingerprints.
type Cache struct {
	mu     sync.Mutex
	lru    *simplelru.LRU[string, *Entry]
	cfg    Config
	logger *slog.Logger

	bytes     int64
	clock     uint64
	hits      uint64
	misses    uint64
	evictions uint64
}

// New returns an empty cache bounded by cfg.
func New(cfg Config, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{cfg: cfg, logger: logger}
	// Limits are enforced by enforceLimits; the list itself is unbounded.
	lru, err := simplelru.NewLRU[string, *Entry](math.MaxInt, func(_ string, e *Entry) {
		c.bytes -= e.cost()
	})
	if err != nil {
		panic(err) // only fails for a non-positive size
	}
	c.lru = lru
	return c
}

func (c *Cache) tick() uint64 {
	c.clock++
	return c.clock
}

// IsChanged reports whether path must be re-analyzed: it cannot be stat'd,
// it has no entry, or its modification time or size differ from the entry.
// An existing entry becomes the most recently used.
func (c *Cache) IsChanged(path string) bool {
	info, statErr := os.Stat(path)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lru.Get(path)
	if ok {
		entry.LastAccessed = c.tick()
	}
	if statErr != nil || !ok {
		c.misses++
		return true
	}
	if !entry.ModTime.Equal(info.ModTime()) || entry.Size != info.Size() {
		c.misses++
		return true
	}
	c.hits++
	return false
}

// Record fingerprints path and stores it as the most recently used entry,
// then evicts least recently used entries until the limits hold.
func (c *Cache) Record(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() > MaxFileSize {
		return fmt.Errorf("%w: %s (%d bytes)", ErrFileTooLarge, path, info.Size())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) > MaxFileSize {
		return fmt.Errorf("%w: %s (%d bytes)", ErrFileTooLarge, path, len(data))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(&Entry{
		Path:         path,
		ModTime:      info.ModTime(),
		Hash:         crc32.ChecksumIEEE(data),
		Size:         info.Size(),
		LastAccessed: c.tick(),
	})
	c.enforceLimits()
	return nil
}

// put inserts or replaces e. The caller holds c.mu.
func (c *Cache) put(e *Entry) {
	if existing, ok := c.lru.Peek(e.Path); ok {
		*existing = *e
		c.lru.Get(e.Path)
		return
	}
	c.lru.Add(e.Path, e)
	c.bytes += e.cost()
}

// enforceLimits evicts from the LRU tail while a limit is exceeded.
// The caller holds c.mu.
func (c *Cache) enforceLimits() {
	for c.lru.Len() > 0 && c.overLimit() {
		key, _, ok := c.lru.RemoveOldest()
		if !ok {
			return
		}
		c.evictions++
		c.logger.Debug("evicted cache entry", "path", key)
	}
}

func (c *Cache) overLimit() bool {
	if c.cfg.MaxEntries > 0 && c.lru.Len() > c.cfg.MaxEntries {
		return true
	}
	return c.cfg.MaxBytes > 0 && c.bytes > c.cfg.MaxBytes
}

// Lookup returns a copy of the entry for path without touching recency.
func (c *Cache) Lookup(path string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lru.Peek(path)
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Remove drops the entry for path.
func (c *Cache) Remove(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(path)
}

// Paths returns the cached paths from least to most recently used.
func (c *Cache) Paths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Keys()
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Clear drops every entry and resets the counters.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	c.bytes = 0
	c.hits, c.misses, c.evictions = 0, 0, 0
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:   c.lru.Len(),
		Bytes:     c.bytes,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}
