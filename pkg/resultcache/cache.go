// Package resultcache keeps the last good row set per query key so a
// revisited view renders instantly while fresh polling catches up.
package resultcache

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/sjf/psyche-search/pkg/models"
)

// Cache is a per-query-key store of last successful row sets. Writers
// must only put rows derived from ready snapshots: a transient failure
// never evicts good data. Intentionally unbounded within a session —
// keys are user-driven and few.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]models.CacheEntry
	now     func() time.Time
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{
		entries: make(map[string]models.CacheEntry),
		now:     time.Now,
	}
}

// Get returns a copy of the cached rows for key.
func (c *Cache) Get(key string) ([]models.Row, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	rows := make([]models.Row, len(entry.Rows))
	copy(rows, entry.Rows)
	return rows, true
}

// Entry returns the full cache entry for key, including capture time.
func (c *Cache) Entry(key string) (models.CacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	return entry, ok
}

// Put replaces the entry for key with rows.
func (c *Cache) Put(key string, rows []models.Row) {
	stored := make([]models.Row, len(rows))
	copy(stored, rows)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = models.CacheEntry{
		QueryKey:   key,
		Rows:       stored,
		CapturedAt: c.now(),
	}
}

// Invalidate removes the entry for key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Keys returns all cached query keys, sorted.
func (c *Cache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Serialize renders the whole cache as a JSON array of entries, stable
// by query key.
func (c *Cache) Serialize() ([]byte, error) {
	c.mu.RLock()
	entries := make([]models.CacheEntry, 0, len(c.entries))
	for _, entry := range c.entries {
		entries = append(entries, entry)
	}
	c.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].QueryKey < entries[j].QueryKey
	})
	return json.Marshal(entries)
}

// Restore loads serialized entries into the cache. Malformed entries
// and entries without a key or a row array are discarded individually;
// only an unreadable top-level document is an error.
func (c *Cache) Restore(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, msg := range raw {
		var entry models.CacheEntry
		if err := json.Unmarshal(msg, &entry); err != nil {
			continue
		}
		if entry.QueryKey == "" || entry.Rows == nil {
			continue
		}
		c.entries[entry.QueryKey] = entry
	}
	return nil
}

// Persist writes the serialized cache to store. Best-effort by
// contract: callers log failures and keep polling.
func (c *Cache) Persist(store Store) error {
	data, err := c.Serialize()
	if err != nil {
		return err
	}
	return store.Save(data)
}

// LoadFrom restores the cache from store. A missing backing document
// is not an error.
func (c *Cache) LoadFrom(store Store) error {
	data, err := store.Load()
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return c.Restore(data)
}
