package memory

import (
	"context"
	"sync"
	"time"

	"github.com/wolfeidau/tenantgate/internal/models"
	"github.com/wolfeidau/tenantgate/internal/store"
)

type cacheEntry struct {
	session   models.Session
	expiresAt time.Time
}

// CacheStore implements store.CacheStore using in-memory storage.
// This implementation is for testing only.
type CacheStore struct {
	mu sync.RWMutex

	entries map[string]cacheEntry

	// unavailable makes every operation fail, simulating a cache outage.
	unavailable bool

	setCalls int
}

// NewCacheStore creates a new in-memory cache store.
func NewCacheStore() *CacheStore {
	return &CacheStore{
		entries: make(map[string]cacheEntry),
	}
}

// Get returns the cached session for a token hash, honoring TTL at read time.
func (c *CacheStore) Get(ctx context.Context, tokenHash string) (*models.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.unavailable {
		return nil, store.ErrCacheUnavailable
	}

	entry, exists := c.entries[tokenHash]
	if !exists {
		return nil, store.ErrCacheMiss
	}

	if time.Now().After(entry.expiresAt) {
		delete(c.entries, tokenHash)
		return nil, store.ErrCacheMiss
	}

	clone := entry.session
	return &clone, nil
}

// SetWithTTL stores a session under its token hash with the given TTL.
func (c *CacheStore) SetWithTTL(ctx context.Context, tokenHash string, session *models.Session, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.unavailable {
		return store.ErrCacheUnavailable
	}

	c.setCalls++
	c.entries[tokenHash] = cacheEntry{
		session:   *session,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// Delete removes a cached session.
func (c *CacheStore) Delete(ctx context.Context, tokenHash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.unavailable {
		return store.ErrCacheUnavailable
	}

	delete(c.entries, tokenHash)
	return nil
}

// PoolStats returns a fixed snapshot; the memory store has no real pool.
func (c *CacheStore) PoolStats(ctx context.Context) (*store.PoolStats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.unavailable {
		return nil, store.ErrCacheUnavailable
	}

	return &store.PoolStats{Size: 1, Available: 1}, nil
}

// Ping reports cache availability.
func (c *CacheStore) Ping(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.unavailable {
		return store.ErrCacheUnavailable
	}
	return nil
}

// SetUnavailable toggles simulated cache outage.
func (c *CacheStore) SetUnavailable(unavailable bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.unavailable = unavailable
}

// Len returns the number of live entries.
func (c *CacheStore) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// SetCalls returns the number of SetWithTTL calls observed.
func (c *CacheStore) SetCalls() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.setCalls
}

// ExpireNow force-expires an entry while leaving it in the map, letting tests
// exercise TTL-at-read behavior.
func (c *CacheStore) ExpireNow(tokenHash string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[tokenHash]; ok {
		entry.expiresAt = time.Now().Add(-time.Second)
		c.entries[tokenHash] = entry
	}
}
