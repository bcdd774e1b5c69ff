package univibe

import (
	"hash/fnv"
	"net/http"
	"strings"
	"sync"
	"time"
)

// CacheEntry is a cached GET response. Expiry is checked lazily on Get.
type CacheEntry struct {
	Payload    []byte
	StatusCode int
	Header     http.Header
	StoredAt   time.Time
	ExpiresAt  time.Time
}

// Cache is the pluggable response cache. Keys are request keys
// ("METHOD:path?query"); DeletePrefix backs mutation-driven invalidation and
// returns the number of entries removed.
type Cache interface {
	Get(key string) (*CacheEntry, bool)
	Set(key string, entry *CacheEntry, ttl time.Duration)
	Delete(key string)
	DeletePrefix(prefix string) int
	Clear()
}

// InMemoryCache is a sharded in-memory Cache implementation.
type InMemoryCache struct {
	shards    []*cacheShard
	numShards int
}

type cacheShard struct {
	mu    sync.RWMutex
	store map[string]*CacheEntry
}

// NewInMemoryCache creates an empty in-memory cache with 16 shards.
func NewInMemoryCache() *InMemoryCache {
	numShards := 16
	shards := make([]*cacheShard, numShards)
	for i := range shards {
		shards[i] = &cacheShard{
			store: make(map[string]*CacheEntry),
		}
	}
	return &InMemoryCache{
		shards:    shards,
		numShards: numShards,
	}
}

func (c *InMemoryCache) getShard(key string) *cacheShard {
	hash := fnv.New32a()
	hash.Write([]byte(key))
	return c.shards[hash.Sum32()%uint32(c.numShards)]
}

// Get returns the entry for key, treating expired entries as absent and
// evicting them.
func (c *InMemoryCache) Get(key string) (*CacheEntry, bool) {
	shard := c.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	entry, exists := shard.store[key]
	if !exists {
		return nil, false
	}

	if !time.Now().Before(entry.ExpiresAt) {
		delete(shard.store, key)
		return nil, false
	}

	return entry, true
}

// Set stores an entry under key with the given TTL.
func (c *InMemoryCache) Set(key string, entry *CacheEntry, ttl time.Duration) {
	shard := c.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	now := time.Now()
	entry.StoredAt = now
	entry.ExpiresAt = now.Add(ttl)
	shard.store[key] = entry
}

// Delete removes a single entry.
func (c *InMemoryCache) Delete(key string) {
	shard := c.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	delete(shard.store, key)
}

// DeletePrefix removes every entry whose key starts with prefix. Scans all
// shards; acceptable because the cache holds at most a few hundred screen
// payloads.
func (c *InMemoryCache) DeletePrefix(prefix string) int {
	removed := 0
	for _, shard := range c.shards {
		shard.mu.Lock()
		for key := range shard.store {
			if strings.HasPrefix(key, prefix) {
				delete(shard.store, key)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}

// Clear removes all entries.
func (c *InMemoryCache) Clear() {
	for _, shard := range c.shards {
		shard.mu.Lock()
		shard.store = make(map[string]*CacheEntry)
		shard.mu.Unlock()
	}
}

// Len returns the current number of live entries across all shards.
func (c *InMemoryCache) Len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		total += len(shard.store)
		shard.mu.RUnlock()
	}
	return total
}

// requestKey builds the logical request identity used for deduplication,
// throttling and cache lookup: identical method+path+query means the same
// key, the same in-flight slot and the same cache slot.
func requestKey(method, path string) string {
	var buf []byte
	buf = append(buf, method...)
	buf = append(buf, ':')
	buf = append(buf, path...)
	return string(buf)
}

// invalidationPrefixes derives the cache key prefixes a successful mutation
// should evict. The rule is structural, not a dependency graph: the mutated
// path itself plus every ancestor collection down to two segments. Creating
// an answer under /forum/questions/42/answers evicts the question detail
// (/forum/questions/42) and the question lists (/forum/questions, including
// every paginated query-string variant, via prefix match). Stale survivors
// are an accepted risk.
func invalidationPrefixes(path string) []string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	path = strings.TrimSuffix(path, "/")
	if path == "" || path == "/" {
		return nil
	}

	var prefixes []string
	for current := path; strings.Count(current, "/") >= 2; current = current[:strings.LastIndexByte(current, '/')] {
		prefixes = append(prefixes, requestKey(http.MethodGet, current))
	}
	if strings.Count(path, "/") == 1 {
		prefixes = append(prefixes, requestKey(http.MethodGet, path))
	}
	return prefixes
}
