package univibe

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache backs the response cache with a shared Redis instance so
// multiple client processes (a device-farm test rig, a server-side consumer)
// see one cache. Entry expiry is double-checked locally on Get because a
// mutation in another process may have refreshed the Redis TTL semantics
// differently than ours.
type RedisCache struct {
	client    *redis.Client
	prefix    string
	opTimeout time.Duration
}

// redisEntry is the stored wire form of a CacheEntry.
type redisEntry struct {
	Payload    []byte      `json:"payload"`
	StatusCode int         `json:"statusCode"`
	Header     http.Header `json:"header"`
	StoredAt   time.Time   `json:"storedAt"`
	ExpiresAt  time.Time   `json:"expiresAt"`
}

// NewRedisClient builds a go-redis client from address credentials.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// NewRedisCache creates a Redis-backed Cache. All stored keys are namespaced
// under keyPrefix.
func NewRedisCache(client *redis.Client, keyPrefix string) *RedisCache {
	if keyPrefix == "" {
		keyPrefix = "univibe:cache:"
	}
	return &RedisCache{
		client:    client,
		prefix:    keyPrefix,
		opTimeout: 2 * time.Second,
	}
}

func (c *RedisCache) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.opTimeout)
}

// Get retrieves a cached entry; errors and expired entries read as misses.
func (c *RedisCache) Get(key string) (*CacheEntry, bool) {
	ctx, cancel := c.ctx()
	defer cancel()

	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		return nil, false
	}

	var stored redisEntry
	if err := json.Unmarshal(raw, &stored); err != nil {
		c.client.Del(ctx, c.prefix+key)
		return nil, false
	}

	if !time.Now().Before(stored.ExpiresAt) {
		c.client.Del(ctx, c.prefix+key)
		return nil, false
	}

	return &CacheEntry{
		Payload:    stored.Payload,
		StatusCode: stored.StatusCode,
		Header:     stored.Header,
		StoredAt:   stored.StoredAt,
		ExpiresAt:  stored.ExpiresAt,
	}, true
}

// Set stores an entry with the given TTL, letting Redis expire it as well.
func (c *RedisCache) Set(key string, entry *CacheEntry, ttl time.Duration) {
	now := time.Now()
	entry.StoredAt = now
	entry.ExpiresAt = now.Add(ttl)

	raw, err := json.Marshal(redisEntry{
		Payload:    entry.Payload,
		StatusCode: entry.StatusCode,
		Header:     entry.Header,
		StoredAt:   entry.StoredAt,
		ExpiresAt:  entry.ExpiresAt,
	})
	if err != nil {
		return
	}

	ctx, cancel := c.ctx()
	defer cancel()
	c.client.Set(ctx, c.prefix+key, raw, ttl)
}

// Delete removes a single entry.
func (c *RedisCache) Delete(key string) {
	ctx, cancel := c.ctx()
	defer cancel()
	c.client.Del(ctx, c.prefix+key)
}

// DeletePrefix removes every entry whose key starts with prefix, walking the
// keyspace with SCAN to stay off Redis's blocking KEYS command.
func (c *RedisCache) DeletePrefix(prefix string) int {
	ctx, cancel := c.ctx()
	defer cancel()

	removed := 0
	iter := c.client.Scan(ctx, 0, c.prefix+prefix+"*", 100).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 100 {
			removed += c.deleteBatch(ctx, batch)
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		removed += c.deleteBatch(ctx, batch)
	}
	return removed
}

// Clear removes all entries under this cache's namespace.
func (c *RedisCache) Clear() {
	c.DeletePrefix("")
}

func (c *RedisCache) deleteBatch(ctx context.Context, keys []string) int {
	n, err := c.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0
	}
	return int(n)
}
