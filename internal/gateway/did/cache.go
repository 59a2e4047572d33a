package did

import (
	"sync"
	"time"
)

const (
	defaultCacheTTLSeconds = 60
	defaultCacheMaxSize    = 1000
)

type cacheEntry struct {
	doc       *Document
	expiresAt time.Time
}

// CacheStats reports resolver cache counters.
type CacheStats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Size      int   `json:"size"`
	Evictions int64 `json:"evictions"`
}

// documentCache is a TTL + max-size cache keyed by full DID. Eviction on
// overflow removes the entry closest to expiry.
type documentCache struct {
	mu        sync.Mutex
	entries   map[string]cacheEntry
	ttl       time.Duration
	maxSize   int
	hits      int64
	misses    int64
	evictions int64
}

func newDocumentCache(ttlSeconds, maxSize int) *documentCache {
	if ttlSeconds <= 0 {
		ttlSeconds = defaultCacheTTLSeconds
	}
	if maxSize <= 0 {
		maxSize = defaultCacheMaxSize
	}
	return &documentCache{
		entries: make(map[string]cacheEntry),
		ttl:     time.Duration(ttlSeconds) * time.Second,
		maxSize: maxSize,
	}
}

func (c *documentCache) get(did string) (*Document, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[did]
	if !ok {
		c.misses++
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, did)
		c.misses++
		return nil, false
	}
	c.hits++
	return entry.doc, true
}

func (c *documentCache) put(did string, doc *Document) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxSize {
		c.evictSoonest()
	}
	c.entries[did] = cacheEntry{doc: doc, expiresAt: time.Now().Add(c.ttl)}
}

// evictSoonest removes the entry with the earliest expiry. Called with the
// lock held.
func (c *documentCache) evictSoonest() {
	var victim string
	var soonest time.Time
	for did, entry := range c.entries {
		if victim == "" || entry.expiresAt.Before(soonest) {
			victim = did
			soonest = entry.expiresAt
		}
	}
	if victim != "" {
		delete(c.entries, victim)
		c.evictions++
	}
}

func (c *documentCache) stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Hits:      c.hits,
		Misses:    c.misses,
		Size:      len(c.entries),
		Evictions: c.evictions,
	}
}
