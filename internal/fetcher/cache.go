package fetcher

import (
	"sync"
	"time"

	"github.com/quotio/quotiod/internal/models"
)

// Cache holds the last successful snapshot per account key behind a
// single writer lock. quota.list reads it; fetch cycles overwrite only
// the keys they produced.
type Cache struct {
	mu          sync.RWMutex
	snapshots   map[string]*models.QuotaSnapshot
	lastFetched time.Time
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{snapshots: make(map[string]*models.QuotaSnapshot)}
}

// Get returns the cached snapshot for key.
func (c *Cache) Get(key string) (*models.QuotaSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.snapshots[key]
	return s, ok
}

// Put stores a snapshot for key.
func (c *Cache) Put(key string, s *models.QuotaSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots[key] = s
}

// Delete forgets a key, used when an account file disappears.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snapshots, key)
}

// All returns a copy of the cache contents.
func (c *Cache) All() map[string]*models.QuotaSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]*models.QuotaSnapshot, len(c.snapshots))
	for k, v := range c.snapshots {
		out[k] = v
	}
	return out
}

// LastFetched reports when the last cycle completed.
func (c *Cache) LastFetched() (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastFetched, !c.lastFetched.IsZero()
}

// SetLastFetched stamps the end of a cycle.
func (c *Cache) SetLastFetched(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastFetched = t
}
