package moderation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// VerdictCache remembers verdicts for text that was already classified.
type VerdictCache interface {
	Get(ctx context.Context, key string) (Verdict, bool)
	Set(ctx context.Context, key string, v Verdict)
}

// CacheKey is the hex SHA-256 of the content kind and the classified text.
// Classifiers may prompt differently per kind, so verdicts are not shared
// across kinds.
func CacheKey(kind Kind, text string) string {
	sum := sha256.Sum256([]byte(string(kind) + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

type MemVerdictCache struct {
	Data *expirable.LRU[string, Verdict]
}

var _ VerdictCache = (*MemVerdictCache)(nil)

func NewMemVerdictCache(capacity int, ttl time.Duration) *MemVerdictCache {
	return &MemVerdictCache{
		Data: expirable.NewLRU[string, Verdict](capacity, nil, ttl),
	}
}

func (c *MemVerdictCache) Get(ctx context.Context, key string) (Verdict, bool) {
	return c.Data.Get(key)
}

func (c *MemVerdictCache) Set(ctx context.Context, key string, v Verdict) {
	c.Data.Add(key, v)
}

// RedisVerdictCache shares verdicts between instances, with a small local
// TinyLFU tier in front of redis.
type RedisVerdictCache struct {
	Data *cache.Cache
	TTL  time.Duration
}

var _ VerdictCache = (*RedisVerdictCache)(nil)

func NewRedisVerdictCache(rdb *redis.Client, ttl time.Duration) *RedisVerdictCache {
	return &RedisVerdictCache{
		Data: cache.New(&cache.Options{
			Redis:      rdb,
			LocalCache: cache.NewTinyLFU(10_000, ttl),
		}),
		TTL: ttl,
	}
}

func redisVerdictKey(key string) string {
	return "scribe/moderation/" + key
}

// Get treats redis errors as a miss.
func (c *RedisVerdictCache) Get(ctx context.Context, key string) (Verdict, bool) {
	var v Verdict
	if err := c.Data.Get(ctx, redisVerdictKey(key), &v); err != nil {
		return Verdict{}, false
	}
	return v, true
}

func (c *RedisVerdictCache) Set(ctx context.Context, key string, v Verdict) {
	_ = c.Data.Set(&cache.Item{
		Ctx:   ctx,
		Key:   redisVerdictKey(key),
		Value: v,
		TTL:   c.TTL,
	})
}
