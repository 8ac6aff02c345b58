package square

import (
	"sync"
)

// LoadFunc materializes a recording (tracks loaded, squares computed) for
// the given key at the given grid resolution.
type LoadFunc func(key string, gridN int) (*Recording, error)

// Cache is an experiment-keyed cache of computed recordings with an
// explicit get-or-load contract. It is owned state passed by handle, not a
// process-wide singleton.
//
// Invalidation rule: a cached entry is only valid for the grid resolution
// it was computed at. Requesting a different resolution reloads the entry,
// since changing N invalidates every square; squares are not resizable in
// place. Invalidate and Clear drop entries explicitly.
type Cache struct {
	mu      sync.Mutex
	load    LoadFunc
	entries map[string]*Recording
}

// NewCache returns a cache that materializes missing entries with load.
func NewCache(load LoadFunc) *Cache {
	return &Cache{
		load:    load,
		entries: make(map[string]*Recording),
	}
}

// GetOrLoad returns the cached recording for key, loading it on a miss or
// when the cached entry was computed at a different grid resolution.
func (c *Cache) GetOrLoad(key string, gridN int) (*Recording, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rec, ok := c.entries[key]; ok && rec.GridN == gridN {
		return rec, nil
	}

	rec, err := c.load(key, gridN)
	if err != nil {
		return nil, err
	}
	c.entries[key] = rec
	return rec, nil
}

// Invalidate drops one entry.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear drops every entry. Call this when the grid resolution changes
// globally.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Recording)
}

// Len reports the number of cached recordings.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
