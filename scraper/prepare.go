package scraper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var ErrPrepareStopped = errors.New("prepare wait stopped")

// preparer runs a scraper's count resolution at most once, in the
// background. A failed count is not fatal: the total stays unknown.
type preparer struct {
	once  sync.Once
	done  chan struct{}
	total *int

	mu sync.Mutex
	// closed by StopPrepare to release current waiters
	release chan struct{}
}

func newPreparer() *preparer {
	return &preparer{
		done:    make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (p *preparer) start(ctx context.Context, logger *slog.Logger, count func(ctx context.Context) (*int, error)) {
	p.once.Do(func() {
		// outlives the caller's request; StopPrepare doesn't abort it either
		ctx := context.WithoutCancel(ctx)
		go func() {
			defer close(p.done)
			total, err := count(ctx)
			if err != nil {
				logger.Warn("could not resolve total count", "err", err)
				return
			}
			p.total = total
		}()
	})
}

func (p *preparer) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	close(p.release)
	p.release = make(chan struct{})
}

func (p *preparer) wait(ctx context.Context) error {
	p.mu.Lock()
	release := p.release
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-release:
		return ErrPrepareStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *preparer) prepared() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *preparer) totalCount() *int {
	if !p.prepared() || p.total == nil {
		return nil
	}
	n := *p.total
	return &n
}

func intPtr(n int64) *int {
	v := int(n)
	return &v
}
