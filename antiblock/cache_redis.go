package antiblock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
)

// RedisCache shares retriever picks between processes, with a small local
// TinyLFU in front of redis.
type RedisCache struct {
	Data *cache.Cache
	TTL  time.Duration
}

var _ Cache = (*RedisCache)(nil)

func NewRedisCache(redisURL string, ttl time.Duration) (*RedisCache, error) {
	ctx := context.Background()
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	rdb := redis.NewClient(opt)
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	localTTL := min(ttl, time.Minute)
	return &RedisCache{
		Data: cache.New(&cache.Options{
			Redis:      rdb,
			LocalCache: cache.NewTinyLFU(10_000, localTTL),
		}),
		TTL: ttl,
	}, nil
}

// sharedCacheKey names entries in the out-of-process caches.
func sharedCacheKey(name, key string) string {
	return "chainblock/cache/" + name + "/" + key
}

func (s *RedisCache) Get(ctx context.Context, name, key string) (string, error) {
	var val string
	err := s.Data.Get(ctx, sharedCacheKey(name, key), &val)
	if errors.Is(err, cache.ErrCacheMiss) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

func (s *RedisCache) Set(ctx context.Context, name, key string, val string) error {
	return s.Data.Set(&cache.Item{
		Ctx:   ctx,
		Key:   sharedCacheKey(name, key),
		Value: val,
		TTL:   s.TTL,
	})
}

func (s *RedisCache) Purge(ctx context.Context, name, key string) error {
	err := s.Data.Delete(ctx, sharedCacheKey(name, key))
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil
	}
	return err
}
