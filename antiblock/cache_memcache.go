package antiblock

import (
	"context"
	"errors"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// memcached rejects relative expirations beyond 30 days
const maxMemcacheExpiry = 30*24*60*60 - 60

// MemcacheCache keeps retriever picks in memcached, so that several
// processes share them without redis.
type MemcacheCache struct {
	mcd    *memcache.Client
	expiry int32
}

var _ Cache = (*MemcacheCache)(nil)

func NewMemcacheCache(servers []string, ttl time.Duration) *MemcacheCache {
	expiry := int32(maxMemcacheExpiry)
	if secs := ttl.Seconds(); secs < maxMemcacheExpiry {
		expiry = int32(max(secs, 1))
	}
	return &MemcacheCache{
		mcd:    memcache.New(servers...),
		expiry: expiry,
	}
}

func (s *MemcacheCache) Get(ctx context.Context, name, key string) (string, error) {
	item, err := s.mcd.Get(sharedCacheKey(name, key))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(item.Value), nil
}

func (s *MemcacheCache) Set(ctx context.Context, name, key string, val string) error {
	return s.mcd.Set(&memcache.Item{
		Key:        sharedCacheKey(name, key),
		Value:      []byte(val),
		Expiration: s.expiry,
	})
}

func (s *MemcacheCache) Purge(ctx context.Context, name, key string) error {
	err := s.mcd.Delete(sharedCacheKey(name, key))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil
	}
	return err
}
