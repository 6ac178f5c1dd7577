package adapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	m "taintaudit.dev/pkg/taintaudit/internal/model"
)

// ErrCacheCorrupt is returned by Get when an entry exists but cannot be used.
var ErrCacheCorrupt = errors.New("cache entry corrupt")

// HitCache stores per-file scan results keyed by a content-derived key.
// Implementations must tolerate concurrent Get and Put calls.
type HitCache interface {
	// Get returns the entry stored under key. A missing entry yields
	// (zero, false, nil); an unusable one yields an error wrapping
	// ErrCacheCorrupt so callers can degrade to a rescan.
	Get(key string) (m.CacheEntry, bool, error)
	// Put stores entry under entry.Key, replacing any previous value.
	Put(entry m.CacheEntry) error
	// Dir returns the storage location for reporting.
	Dir() m.Path
}

// LocalHitCache keeps one JSON document per key under a directory.
type LocalHitCache struct {
	fs  SourceFSAdapter
	dir m.Path
}

// NewLocalHitCache creates a cache rooted at dir.
func NewLocalHitCache(fs SourceFSAdapter, dir m.Path) *LocalHitCache {
	return &LocalHitCache{fs: fs, dir: dir}
}

// Dir returns the cache directory.
func (c *LocalHitCache) Dir() m.Path {
	return c.dir
}

func (c *LocalHitCache) entryPath(key string) m.Path {
	shard := "00"
	if len(key) >= 2 {
		shard = key[:2]
	}

	return c.fs.JoinPath(string(c.dir), shard, key+".json")
}

// Get loads the entry for key.
func (c *LocalHitCache) Get(key string) (m.CacheEntry, bool, error) {
	data, err := c.fs.ReadFile(c.entryPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return m.CacheEntry{}, false, nil
		}

		return m.CacheEntry{}, false, fmt.Errorf("%w: read %s: %v", ErrCacheCorrupt, key, err)
	}

	var entry m.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return m.CacheEntry{}, false, fmt.Errorf("%w: decode %s: %v", ErrCacheCorrupt, key, err)
	}

	if entry.Key != key {
		return m.CacheEntry{}, false, fmt.Errorf("%w: key mismatch for %s", ErrCacheCorrupt, key)
	}

	return entry, true, nil
}

// Put writes the entry; the last writer wins.
func (c *LocalHitCache) Put(entry m.CacheEntry) error {
	if entry.Key == "" {
		return errors.New("cache entry without key")
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	path := c.entryPath(entry.Key)
	if err := c.fs.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write cache entry %s: %w", path, err)
	}

	slog.Debug("cache entry written", "file", entry.Path, "key", entry.Key[:min(12, len(entry.Key))])

	return nil
}
