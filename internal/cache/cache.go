// Package cache holds synthesized audio keyed by engine variant and a
// content fingerprint of the chunk text, so repeated replies skip the
// engine entirely.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Fingerprint derives the content-addressed cache key for a chunk. The same
// engine variant and text always map to the same key.
func Fingerprint(engine, text string) string {
	sum := sha256.Sum256([]byte(text))
	return engine + ":" + hex.EncodeToString(sum[:])
}

// Stats reports the current cache footprint.
type Stats struct {
	Entries    int   `json:"entries"`
	TotalBytes int64 `json:"total_bytes"`
}

// Cache is a bounded, LRU-evicting audio store. Entries survive across
// requests until evicted or explicitly cleared; nothing expires by time.
type Cache struct {
	mu    sync.Mutex
	lru   *lru.Cache[string, []byte]
	bytes int64
}

// New creates a cache bounded to maxEntries entries.
func New(maxEntries int) (*Cache, error) {
	c := &Cache{}
	inner, err := lru.NewWithEvict[string, []byte](maxEntries, func(_ string, audio []byte) {
		c.bytes -= int64(len(audio))
	})
	if err != nil {
		return nil, fmt.Errorf("create chunk cache: %w", err)
	}
	c.lru = inner
	return c, nil
}

// Lookup returns the cached audio for key, if present.
func (c *Cache) Lookup(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Get(key)
}

// Insert stores audio under key, replacing any previous entry.
func (c *Cache) Insert(key string, audio []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.lru.Peek(key); ok {
		c.bytes -= int64(len(old))
	}
	c.lru.Add(key, audio)
	c.bytes += int64(len(audio))
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	c.bytes = 0
}

// Stats reports entry count and total payload bytes.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Entries: c.lru.Len(), TotalBytes: c.bytes}
}
