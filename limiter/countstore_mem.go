package limiter

import (
	"context"
	"sync"
	"time"
)

type MemCountStore struct {
	mu     sync.Mutex
	counts map[string]int
	now    func() time.Time
}

func NewMemCountStore() *MemCountStore {
	return &MemCountStore{
		counts: make(map[string]int),
		now:    time.Now,
	}
}

func (s *MemCountStore) GetCount(ctx context.Context, name, val, period string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[periodBucket(name, val, period, s.now())], nil
}

func (s *MemCountStore) Increment(ctx context.Context, name, val string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, p := range []string{PeriodTotal, PeriodDay, PeriodHour} {
		s.counts[periodBucket(name, val, p, now)]++
	}
	return nil
}

func (s *MemCountStore) Reset(ctx context.Context, name, val, period string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counts, periodBucket(name, val, period, s.now()))
	return nil
}
