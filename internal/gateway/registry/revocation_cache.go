// Package registry tracks active capability tokens and revocations. The
// in-memory state is authoritative; the append-only file is crash recovery
// only and never sits in the validation path.
package registry

import (
	"sort"
	"sync"
	"time"
)

const defaultCacheMaxSize = 10_000

// RevocationEntry records one revoked token until its original expiry.
type RevocationEntry struct {
	TokenID   string    `json:"jti"`
	RevokedAt time.Time `json:"revokedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Reason    string    `json:"reason,omitempty"`
}

// CacheMetrics reports revocation-cache counters.
type CacheMetrics struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Size      int     `json:"size"`
	Evictions int64   `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
}

// RevocationCache is a bounded token-id → revocation mapping with O(1)
// lookup. At capacity it evicts the oldest 10% by revocation time (rounded
// up, minimum one). Expired entries are dropped lazily on lookup and by
// the periodic cleanup.
type RevocationCache struct {
	mu        sync.Mutex
	entries   map[string]RevocationEntry
	maxSize   int
	hits      int64
	misses    int64
	evictions int64
}

// NewRevocationCache creates a cache. A non-positive size selects the
// 10 000 default.
func NewRevocationCache(maxSize int) *RevocationCache {
	if maxSize <= 0 {
		maxSize = defaultCacheMaxSize
	}
	return &RevocationCache{
		entries: make(map[string]RevocationEntry),
		maxSize: maxSize,
	}
}

// Add records a revocation. The entry lives until the token's original
// expiry.
func (c *RevocationCache) Add(entry RevocationEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[entry.TokenID]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldest()
	}
	c.entries[entry.TokenID] = entry
}

// IsRevoked reports whether the token id is currently revoked. An entry
// past its original expiry no longer counts and is evicted on first query.
func (c *RevocationCache) IsRevoked(tokenID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[tokenID]
	if !ok {
		c.misses++
		return false
	}
	if !time.Now().Before(entry.ExpiresAt) {
		delete(c.entries, tokenID)
		c.misses++
		return false
	}
	c.hits++
	return true
}

// Get returns the revocation entry if present and unexpired.
func (c *RevocationCache) Get(tokenID string) (RevocationEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[tokenID]
	if !ok || !time.Now().Before(entry.ExpiresAt) {
		return RevocationEntry{}, false
	}
	return entry, true
}

// Cleanup prunes entries past their original expiry and returns the count
// removed.
func (c *RevocationCache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, entry := range c.entries {
		if !now.Before(entry.ExpiresAt) {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}

// Metrics returns a snapshot of the cache counters.
func (c *RevocationCache) Metrics() CacheMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := CacheMetrics{
		Hits:      c.hits,
		Misses:    c.misses,
		Size:      len(c.entries),
		Evictions: c.evictions,
	}
	if total := c.hits + c.misses; total > 0 {
		m.HitRate = float64(c.hits) / float64(total)
	}
	return m
}

// evictOldest removes ⌈10%⌉ of entries (minimum one) ordered by RevokedAt
// ascending. Called with the lock held.
func (c *RevocationCache) evictOldest() {
	n := (len(c.entries) + 9) / 10
	if n < 1 {
		n = 1
	}

	type aged struct {
		id string
		at time.Time
	}
	all := make([]aged, 0, len(c.entries))
	for id, entry := range c.entries {
		all = append(all, aged{id: id, at: entry.RevokedAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })

	for i := 0; i < n && i < len(all); i++ {
		delete(c.entries, all[i].id)
		c.evictions++
	}
}
