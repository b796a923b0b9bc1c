// Package cache keeps recent search results in memory.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"sync"
	"time"

	"siteqa/internal/domain"
	"siteqa/internal/port"
)

// QueryCache is a size-bounded LRU of search results with a TTL.
type QueryCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	order   []string
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	results   []domain.SearchResult
	timestamp time.Time
}

func NewQueryCache(maxSize int, ttl time.Duration) *QueryCache {
	if maxSize <= 0 {
		maxSize = 100
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &QueryCache{
		entries: make(map[string]*cacheEntry),
		order:   make([]string, 0, maxSize),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Questions differing only in surrounding whitespace share an entry.
func cacheKey(question string, k int) string {
	hash := sha256.Sum256([]byte(strings.TrimSpace(question) + "\x00" + strconv.Itoa(k)))
	return hex.EncodeToString(hash[:16])
}

func (c *QueryCache) Get(question string, k int) ([]domain.SearchResult, bool) {
	key := cacheKey(question, k)

	c.mu.Lock()
	defer c.mu.Unlock()
	entry, exists := c.entries[key]
	if !exists {
		return nil, false
	}
	if c.now().Sub(entry.timestamp) > c.ttl {
		delete(c.entries, key)
		c.removeFromOrder(key)
		return nil, false
	}
	c.moveToEnd(key)
	return cloneResults(entry.results), true
}

func (c *QueryCache) Put(question string, k int, results []domain.SearchResult) {
	key := cacheKey(question, k)

	c.mu.Lock()
	defer c.mu.Unlock()
	entry := &cacheEntry{results: cloneResults(results), timestamp: c.now()}
	if _, exists := c.entries[key]; exists {
		c.entries[key] = entry
		c.moveToEnd(key)
		return
	}
	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}
	c.entries[key] = entry
	c.order = append(c.order, key)
}

// Invalidate drops every entry, e.g. after the index was rebuilt.
func (c *QueryCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
	c.order = c.order[:0]
}

func (c *QueryCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *QueryCache) evictOldest() {
	if len(c.order) == 0 {
		return
	}
	oldest := c.order[0]
	c.order = c.order[1:]
	delete(c.entries, oldest)
}

func (c *QueryCache) moveToEnd(key string) {
	c.removeFromOrder(key)
	c.order = append(c.order, key)
}

func (c *QueryCache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

func cloneResults(in []domain.SearchResult) []domain.SearchResult {
	if in == nil {
		return nil
	}
	return append([]domain.SearchResult(nil), in...)
}

// CachedRetriever serves repeated questions from a QueryCache. Errors are
// never cached.
type CachedRetriever struct {
	retriever port.Retriever
	cache     *QueryCache
}

var _ port.Retriever = (*CachedRetriever)(nil)

func NewCachedRetriever(retriever port.Retriever, cache *QueryCache) *CachedRetriever {
	return &CachedRetriever{
		retriever: retriever,
		cache:     cache,
	}
}

func (r *CachedRetriever) Search(ctx context.Context, question string, k int) ([]domain.SearchResult, error) {
	if results, hit := r.cache.Get(question, k); hit {
		return results, nil
	}

	results, err := r.retriever.Search(ctx, question, k)
	if err != nil {
		return nil, err
	}

	r.cache.Put(question, k, results)
	return results, nil
}
