// Package filecache implements the small gzipped JSON state files used for
// per-subject quota snapshots and for the notification reminder cache. A
// cache is read once, consulted and updated in memory, and flushed once;
// within a run there is exactly one writer.
package filecache

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

type entry struct {
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// FileCache is a persisted map from key to (timestamp, JSON value).
type FileCache struct {
	path    string
	entries map[string]entry
	dirty   bool
}

// Open loads the cache at path. A missing file yields an empty cache; a file
// that exists but cannot be decoded is an error, silently discarding state
// would re-arm every notification.
func Open(path string) (*FileCache, error) {
	c := &FileCache{
		path:    path,
		entries: make(map[string]entry),
	}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("filecache: open %s: %w", path, err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("filecache: %s is not a gzip file: %w", path, err)
	}
	defer zr.Close()

	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("filecache: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &c.entries); err != nil {
		return nil, fmt.Errorf("filecache: decode %s: %w", path, err)
	}
	return c, nil
}

// Load unmarshals the entry for key into v and returns its timestamp. ok is
// false when the key is absent.
func (c *FileCache) Load(key string, v interface{}) (timestamp int64, ok bool, err error) {
	e, found := c.entries[key]
	if !found {
		return 0, false, nil
	}
	if v != nil {
		if err := json.Unmarshal(e.Data, v); err != nil {
			return 0, false, fmt.Errorf("filecache: decode entry %q: %w", key, err)
		}
	}
	return e.Timestamp, true, nil
}

// Update stores v under key stamped with now, but only when no entry exists
// yet or the existing entry is older than threshold seconds. A threshold of 0
// always updates. It reports whether the entry was refreshed; the
// notification layer treats that as "the cooldown has been re-armed, send".
func (c *FileCache) Update(key string, v interface{}, threshold int64, now int64) (bool, error) {
	if e, found := c.entries[key]; found && threshold > 0 && now-e.Timestamp < threshold {
		return false, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return false, fmt.Errorf("filecache: encode entry %q: %w", key, err)
	}
	c.entries[key] = entry{Timestamp: now, Data: data}
	c.dirty = true
	return true, nil
}

// Keys returns all keys present in the cache.
func (c *FileCache) Keys() []string {
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	return keys
}

// Close flushes the cache back to disk when it was modified. The file is
// written to a temporary name and renamed so a crashed run never leaves a
// truncated cache.
func (c *FileCache) Close() error {
	if !c.dirty {
		return nil
	}
	data, err := json.Marshal(c.entries)
	if err != nil {
		return fmt.Errorf("filecache: encode %s: %w", c.path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(c.path), ".filecache-*")
	if err != nil {
		return fmt.Errorf("filecache: write %s: %w", c.path, err)
	}
	defer os.Remove(tmp.Name())

	zw, _ := gzip.NewWriterLevel(tmp, gzip.BestCompression)
	if _, err := zw.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("filecache: write %s: %w", c.path, err)
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("filecache: write %s: %w", c.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("filecache: write %s: %w", c.path, err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return fmt.Errorf("filecache: replace %s: %w", c.path, err)
	}
	c.dirty = false
	return nil
}
