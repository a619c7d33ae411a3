package redis

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores JSON-encoded values with a fixed TTL
type Cache struct {
	client *Client
	prefix string
	ttl    time.Duration
}

// NewCache creates a Cache under the given key prefix
func NewCache(client *Client, prefix string, ttl time.Duration) *Cache {
	return &Cache{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

// Get unmarshals the cached value for key into dest. Returns false on a miss.
func (c *Cache) Get(ctx context.Context, key string, dest any) (bool, error) {
	raw, err := c.client.Get(ctx, c.prefix+key)
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, err
	}
	return true, nil
}

// Set marshals value and stores it under key with the cache TTL
func (c *Cache) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.prefix+key, data, c.ttl)
}

// VersionedCache namespaces cache entries under a version key so the whole
// keyspace can be dropped at once. The lookup routes cache name-search
// responses this way; a completed resolution run calls Invalidate, the next
// read mints a fresh version and the orphaned entries age out via TTL.
type VersionedCache struct {
	cache      *Cache
	versionKey string
}

// NewVersionedCache creates a VersionedCache using versionKey for the
// keyspace version
func NewVersionedCache(cache *Cache, versionKey string) *VersionedCache {
	return &VersionedCache{
		cache:      cache,
		versionKey: versionKey,
	}
}

// Get reads key under the current keyspace version. Returns false on a miss.
func (v *VersionedCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	ver, err := v.currentVersion(ctx)
	if err != nil {
		return false, err
	}
	return v.cache.Get(ctx, ver+":"+key, dest)
}

// Set writes key under the current keyspace version
func (v *VersionedCache) Set(ctx context.Context, key string, value any) error {
	ver, err := v.currentVersion(ctx)
	if err != nil {
		return err
	}
	return v.cache.Set(ctx, ver+":"+key, value)
}

// Invalidate deletes the version key, abandoning every entry written under
// the current version
func (v *VersionedCache) Invalidate(ctx context.Context) error {
	return v.cache.client.Del(ctx, v.versionKey)
}

// currentVersion returns the active keyspace version, minting one when none
// exists. Versions are nanosecond timestamps so a deleted keyspace can never
// collide with entries from an earlier one.
func (v *VersionedCache) currentVersion(ctx context.Context) (string, error) {
	val, err := v.cache.client.Get(ctx, v.versionKey)
	if err == nil {
		return val, nil
	}
	if !errors.Is(err, redis.Nil) {
		return "", err
	}

	fresh := strconv.FormatInt(time.Now().UnixNano(), 10)
	ok, err := v.cache.client.rdb.SetNX(ctx, v.versionKey, fresh, 0).Result()
	if err != nil {
		return "", err
	}
	if ok {
		return fresh, nil
	}
	// Another instance won the race; use its version
	return v.cache.client.Get(ctx, v.versionKey)
}
