package antiblock

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type MemCache struct {
	Data *expirable.LRU[string, string]
}

var _ Cache = (*MemCache)(nil)

func NewMemCache(capacity int, ttl time.Duration) *MemCache {
	return &MemCache{
		Data: expirable.NewLRU[string, string](capacity, nil, ttl),
	}
}

func (s *MemCache) Get(ctx context.Context, name, key string) (string, error) {
	v, ok := s.Data.Get(name + "/" + key)
	if !ok {
		return "", nil
	}
	return v, nil
}

func (s *MemCache) Set(ctx context.Context, name, key string, val string) error {
	s.Data.Add(name+"/"+key, val)
	return nil
}

func (s *MemCache) Purge(ctx context.Context, name, key string) error {
	s.Data.Remove(name + "/" + key)
	return nil
}
