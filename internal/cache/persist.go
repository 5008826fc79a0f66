package cache

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"time"
)

// FormatVersion tags the persisted cache layout. Files carrying another
// version are ignored.
const FormatVersion uint32 = 1

// Layout (little-endian):
//
//	uint32 version
//	uint64 count
//	count x {uint16 pathLen, path, int64 mtimeUnixNano, uint32 hash, int64 size, uint64 lastAccessed}
//
// Records are written from least to most recently used.

// Save writes the cache to path atomically.
func (c *Cache) Save(path string) error {
	c.mu.Lock()
	entries := make([]Entry, 0, c.lru.Len())
	for _, key := range c.lru.Keys() {
		if e, ok := c.lru.Peek(key); ok {
			entries = append(entries, *e)
		}
	}
	c.mu.Unlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".cache-*")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if err := writeEntries(w, entries); err != nil {
		tmp.Close()
		return fmt.Errorf("write cache: %w", err)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename cache: %w", err)
	}
	c.logger.Debug("saved cache", "path", path, "entries", len(entries))
	return nil
}

func writeEntries(w io.Writer, entries []Entry) error {
	entries = slices.DeleteFunc(entries, func(e Entry) bool { return len(e.Path) > math.MaxUint16 })
	buf := make([]byte, 0, 256)
	buf = binary.LittleEndian.AppendUint32(buf, FormatVersion)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(entries)))
	if _, err := w.Write(buf); err != nil {
		return err
	}
	for _, e := range entries {
		buf = buf[:0]
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(e.Path)))
		buf = append(buf, e.Path...)
		buf = binary.LittleEndian.AppendUint64(buf, uint64(e.ModTime.UnixNano()))
		buf = binary.LittleEndian.AppendUint32(buf, e.Hash)
		buf = binary.LittleEndian.AppendUint64(buf, uint64(e.Size))
		buf = binary.LittleEndian.AppendUint64(buf, e.LastAccessed)
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

// Load replaces the cache contents with the entries persisted at path.
// A missing file or a version mismatch leaves the cache empty; a truncated
// file keeps the entries read before the damage. Only I/O failures other
// than a missing file are returned.
func (c *Cache) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.Clear()
			return nil
		}
		return fmt.Errorf("open cache: %w", err)
	}
	defer f.Close()

	entries, err := readEntries(bufio.NewReader(f))
	switch {
	case errors.Is(err, errVersionMismatch):
		c.logger.Info("ignoring cache with different format version", "path", path)
	case err != nil:
		c.logger.Warn("cache file truncated, keeping entries read so far",
			"path", path, "entries", len(entries), "error", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	c.bytes = 0
	c.clock = 0
	for i := range entries {
		e := entries[i]
		c.put(&e)
		if e.LastAccessed > c.clock {
			c.clock = e.LastAccessed
		}
	}
	c.enforceLimits()
	c.logger.Debug("loaded cache", "path", path, "entries", c.lru.Len())
	return nil
}

var errVersionMismatch = errors.New("cache format version mismatch")

func readEntries(r io.Reader) ([]Entry, error) {
	var header [12]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	if binary.LittleEndian.Uint32(header[0:4]) != FormatVersion {
		return nil, errVersionMismatch
	}
	count := binary.LittleEndian.Uint64(header[4:12])

	var entries []Entry
	var fixed [28]byte // mtime, hash, size, lastAccessed
	for i := uint64(0); i < count; i++ {
		var lenBuf [2]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return entries, err
		}
		pathBuf := make([]byte, binary.LittleEndian.Uint16(lenBuf[:]))
		if _, err := io.ReadFull(r, pathBuf); err != nil {
			return entries, err
		}
		if _, err := io.ReadFull(r, fixed[:]); err != nil {
			return entries, err
		}
		entries = append(entries, Entry{
			Path:         string(pathBuf),
			ModTime:      time.Unix(0, int64(binary.LittleEndian.Uint64(fixed[0:8]))),
			Hash:         binary.LittleEndian.Uint32(fixed[8:12]),
			Size:         int64(binary.LittleEndian.Uint64(fixed[12:20])),
			LastAccessed: binary.LittleEndian.Uint64(fixed[20:28]),
		})
	}
	return entries, nil
}
