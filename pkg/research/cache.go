package research

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/singleflight"
)

type cacheEntry struct {
	content string
	err     error
}

// URLCache remembers the outcome of every fetch in a session, failures
// included, so a URL is fetched at most once. Concurrent lookups of the
// same missing URL share one in-flight fetch.
type URLCache struct {
	mu       sync.RWMutex
	entries  map[string]cacheEntry
	inflight singleflight.Group
}

// NewURLCache creates an empty cache scoped to one session.
func NewURLCache() *URLCache {
	return &URLCache{entries: make(map[string]cacheEntry)}
}

// Lookup returns a cached outcome without fetching.
func (c *URLCache) Lookup(url string) (content string, err error, ok bool) {
	c.mu.RLock()
	e, ok := c.entries[url]
	c.mu.RUnlock()
	return e.content, e.err, ok
}

// GetOrFetch returns the cached outcome for url, calling fetch only when the
// URL has never been seen. hit is true when no new fetch was performed by
// this call.
func (c *URLCache) GetOrFetch(ctx context.Context, url string, fetch func(context.Context) (string, error)) (content string, hit bool, err error) {
	if content, err, ok := c.Lookup(url); ok {
		return content, true, err
	}

	performed := false
	v, _, _ := c.inflight.Do(url, func() (interface{}, error) {
		// A fetch may have completed between Lookup and Do.
		c.mu.RLock()
		e, ok := c.entries[url]
		c.mu.RUnlock()
		if ok {
			return e, nil
		}

		performed = true
		text, ferr := fetch(ctx)
		e = cacheEntry{content: text, err: ferr}
		// A cancelled session does not get to poison the cache.
		if !errors.Is(ferr, context.Canceled) {
			c.mu.Lock()
			c.entries[url] = e
			c.mu.Unlock()
		}
		return e, nil
	})
	e := v.(cacheEntry)
	return e.content, !performed, e.err
}

// Len returns the number of cached URLs.
func (c *URLCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
