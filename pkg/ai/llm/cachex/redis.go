package cachex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Abraxas-365/copiloto/pkg/errx"
)

var redisErrors = errx.NewRegistry("CACHEX_REDIS")

var (
	ErrStore     = redisErrors.Register("STORE", errx.TypeExternal, 500, "Redis store failed")
	ErrLoad      = redisErrors.Register("LOAD", errx.TypeExternal, 500, "Redis load failed")
	ErrClear     = redisErrors.Register("CLEAR", errx.TypeExternal, 500, "Redis clear failed")
	ErrMarshal   = redisErrors.Register("MARSHAL", errx.TypeInternal, 500, "Failed to marshal cache entry")
	ErrUnmarshal = redisErrors.Register("UNMARSHAL", errx.TypeInternal, 500, "Failed to unmarshal cache entry")
)

// RedisCache implements Cache backed by Redis. Expiry is handled by Redis
// key TTLs, so no lazy pruning pass is needed here.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache creates a Redis-backed tool result cache.
func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func entryKey(conversationID, cacheKey string) string {
	return fmt.Sprintf("toolcache:%s:%s", conversationID, cacheKey)
}

func bucketKey(conversationID string) string {
	return fmt.Sprintf("toolcache:%s:keys", conversationID)
}

// Remember stores the entry under a Redis key with the cache TTL and tracks
// it in the conversation's key set so Clear can find it later.
func (c *RedisCache) Remember(ctx context.Context, conversationID, toolName string, args map[string]any, entry Entry) error {
	entry.StoredAt = time.Now().UTC()
	data, err := json.Marshal(entry)
	if err != nil {
		return redisErrors.NewWithCause(ErrMarshal, err)
	}

	key := entryKey(conversationID, CacheKey(toolName, args))
	pipe := c.rdb.Pipeline()
	pipe.Set(ctx, key, data, c.ttl)
	pipe.SAdd(ctx, bucketKey(conversationID), key)
	pipe.Expire(ctx, bucketKey(conversationID), c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return redisErrors.NewWithCause(ErrStore, err).WithDetail("conversation", conversationID)
	}
	return nil
}

// Recall returns the live entry or (nil, nil) on a miss.
func (c *RedisCache) Recall(ctx context.Context, conversationID, toolName string, args map[string]any) (*Entry, error) {
	key := entryKey(conversationID, CacheKey(toolName, args))
	data, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, redisErrors.NewWithCause(ErrLoad, err).WithDetail("conversation", conversationID)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, redisErrors.NewWithCause(ErrUnmarshal, err)
	}
	return &entry, nil
}

// Clear deletes every tracked key for the conversation.
func (c *RedisCache) Clear(ctx context.Context, conversationID string) error {
	keys, err := c.rdb.SMembers(ctx, bucketKey(conversationID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return redisErrors.NewWithCause(ErrClear, err).WithDetail("conversation", conversationID)
	}
	keys = append(keys, bucketKey(conversationID))
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return redisErrors.NewWithCause(ErrClear, err).WithDetail("conversation", conversationID)
	}
	return nil
}
