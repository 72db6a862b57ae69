package ics

import (
	"sync"
	"time"

	"epddash/internal/model"
)

// DefaultCacheTTL is how long a feed's selected events are reused before
// the feed is fetched again.
const DefaultCacheTTL = 60 * time.Second

// Cache stores the selected column per feed URL.
type Cache interface {
	// Get returns the column stored for url if it is still fresh at now.
	Get(url string, now time.Time) (model.Column, bool)
	// Put overwrites the entry for url.
	Put(url string, now time.Time, events model.Column)
}

type cacheEntry struct {
	fetchedAt time.Time
	events    model.Column
}

// MemoryCache is an in-process Cache. Entries are never evicted; stale ones
// are overwritten on the next successful fetch of the same URL. Columns
// returned by Get are shared and must be treated as read-only.
type MemoryCache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]cacheEntry
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &MemoryCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

func (c *MemoryCache) Get(url string, now time.Time) (model.Column, bool) {
	c.mu.Lock()
	e, ok := c.entries[url]
	c.mu.Unlock()

	if !ok || now.Sub(e.fetchedAt) >= c.ttl {
		return nil, false
	}
	return e.events, true
}

// Put is last-write-wins: concurrent renders fetching the same URL simply
// overwrite each other.
func (c *MemoryCache) Put(url string, now time.Time, events model.Column) {
	c.mu.Lock()
	c.entries[url] = cacheEntry{fetchedAt: now, events: events}
	c.mu.Unlock()
}
