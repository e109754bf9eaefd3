package registry

import (
	"sync"
	"time"
)

// tokenEntry holds a bearer token with its expiration and insertion order.
type tokenEntry struct {
	token      string
	expiresAt  time.Time
	insertedAt time.Time
}

// TokenCache is a thread-safe in-memory cache for per-repository registry
// bearer tokens. When the cache reaches maxSize, the oldest entry (by
// insertion time) is evicted. Expired entries are lazily evicted on Get.
type TokenCache struct {
	mu      sync.RWMutex
	items   map[string]*tokenEntry
	maxSize int
	ttl     time.Duration
}

// NewTokenCache creates a token cache. maxSize must be >= 1; ttl must be > 0.
// Registry tokens are typically valid for five minutes, so the default TTL
// stays safely under that.
func NewTokenCache(maxSize int, ttl time.Duration) *TokenCache {
	if maxSize < 1 {
		maxSize = 1
	}
	if ttl <= 0 {
		ttl = 4 * time.Minute
	}
	return &TokenCache{
		items:   make(map[string]*tokenEntry, maxSize),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// Get retrieves a cached token by repository. Returns ("", false) if the
// repository is missing or the token expired.
func (c *TokenCache) Get(repo string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[repo]
	if !ok {
		return "", false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.items, repo)
		return "", false
	}
	return e.token, true
}

// Set stores a token. If the cache is at capacity, the oldest entry (by
// insertion time) is evicted before inserting.
func (c *TokenCache) Set(repo, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if _, ok := c.items[repo]; ok {
		c.items[repo] = &tokenEntry{token: token, expiresAt: now.Add(c.ttl), insertedAt: now}
		return
	}
	if len(c.items) >= c.maxSize {
		c.evictOldest()
	}
	c.items[repo] = &tokenEntry{token: token, expiresAt: now.Add(c.ttl), insertedAt: now}
}

// Invalidate removes one repository's token.
func (c *TokenCache) Invalidate(repo string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, repo)
}

// Size returns the number of entries currently in the cache, including
// expired ones that have not been lazily cleaned yet.
func (c *TokenCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// evictOldest removes the entry with the oldest insertedAt timestamp.
// Must be called with c.mu held.
func (c *TokenCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time
	first := true
	for k, e := range c.items {
		if first || e.insertedAt.Before(oldestTime) {
			oldestKey = k
			oldestTime = e.insertedAt
			first = false
		}
	}
	if !first {
		delete(c.items, oldestKey)
	}
}
