// Package antiblock picks which account reads a subject's data when the
// operator can't: an account that blocked the operator (or that the operator
// blocks) hides its follower lists from them, but usually not from a second
// account of the same person.
package antiblock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	appbsky "github.com/redblock-app/chainblock/api/bsky"
	"github.com/redblock-app/chainblock/xrpc"
	"golang.org/x/sync/singleflight"
)

const cacheName = "retriever"

// ErrNoReader is returned when neither the operator nor any alternate can see
// the subject.
var ErrNoReader = errors.New("no account can read subject")

type Config struct {
	// the operator's authenticated client, always tried first
	Operator   *xrpc.Client
	Alternates []*xrpc.Client
	Cache      Cache
	Logger     *slog.Logger
}

// Retriever remembers, per subject, which account can read it. Concurrent
// first lookups of the same subject share one examination.
type Retriever struct {
	operator   *xrpc.Client
	alternates []*xrpc.Client
	cache      Cache
	logger     *slog.Logger
	group      singleflight.Group
}

func New(cfg Config) (*Retriever, error) {
	if cfg.Operator == nil || cfg.Operator.Auth == nil {
		return nil, fmt.Errorf("retriever needs an authenticated operator client")
	}
	for _, c := range cfg.Alternates {
		if c == nil || c.Auth == nil || c.Auth.Did == "" {
			return nil, fmt.Errorf("retriever alternates must be authenticated")
		}
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("retriever needs a cache")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Retriever{
		operator:   cfg.Operator,
		alternates: cfg.Alternates,
		cache:      cfg.Cache,
		logger:     cfg.Logger.With("component", "retriever"),
	}, nil
}

func (r *Retriever) cacheKey(subject string) string {
	return r.operator.Auth.Did + "/" + subject
}

func (r *Retriever) clientByDID(did string) *xrpc.Client {
	if did == r.operator.Auth.Did {
		return r.operator
	}
	for _, c := range r.alternates {
		if c.Auth.Did == did {
			return c
		}
	}
	return nil
}

// ClientFor returns the client to read subject's data with.
func (r *Retriever) ClientFor(ctx context.Context, subject string) (*xrpc.Client, error) {
	key := r.cacheKey(subject)
	if c := r.cached(ctx, key); c != nil {
		return c, nil
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		// a flight which just finished may have filled the cache
		if c := r.cached(ctx, key); c != nil {
			return c, nil
		}
		c, err := r.examine(ctx, subject)
		if err != nil {
			return nil, err
		}
		if err := r.cache.Set(ctx, cacheName, key, c.Auth.Did); err != nil {
			r.logger.Warn("retriever cache write failed", "subject", subject, "err", err)
		}
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*xrpc.Client), nil
}

func (r *Retriever) cached(ctx context.Context, key string) *xrpc.Client {
	did, err := r.cache.Get(ctx, cacheName, key)
	if err != nil {
		r.logger.Warn("retriever cache read failed", "key", key, "err", err)
		return nil
	}
	if did == "" {
		return nil
	}
	c := r.clientByDID(did)
	if c == nil {
		// picked by an account which is no longer configured
		if err := r.cache.Purge(ctx, cacheName, key); err != nil {
			r.logger.Warn("retriever cache purge failed", "key", key, "err", err)
		}
		return nil
	}
	cacheHits.Inc()
	return c
}

// Forget drops the remembered reader for subject, eg after the relationship
// changed.
func (r *Retriever) Forget(ctx context.Context, subject string) error {
	return r.cache.Purge(ctx, cacheName, r.cacheKey(subject))
}

func (r *Retriever) examine(ctx context.Context, subject string) (*xrpc.Client, error) {
	ok, err := canRead(ctx, r.operator, subject)
	if err != nil {
		examinations.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("examining %s as operator: %w", subject, err)
	}
	if ok {
		examinations.WithLabelValues("operator").Inc()
		return r.operator, nil
	}
	for _, c := range r.alternates {
		ok, err := canRead(ctx, c, subject)
		if err != nil {
			r.logger.Warn("failed to examine alternate reader", "subject", subject, "reader", c.Auth.Did, "err", err)
			continue
		}
		if ok {
			r.logger.Info("using alternate reader", "subject", subject, "reader", c.Auth.Did)
			examinations.WithLabelValues("alternate").Inc()
			return c, nil
		}
	}
	examinations.WithLabelValues("none").Inc()
	return nil, fmt.Errorf("%w %s", ErrNoReader, subject)
}

// canRead reports whether no block stands between c's account and subject.
func canRead(ctx context.Context, c *xrpc.Client, subject string) (bool, error) {
	pv, err := appbsky.ActorGetProfile(ctx, c, subject)
	if err != nil {
		return false, err
	}
	v := pv.Viewer
	if v == nil {
		return true, nil
	}
	if v.Blocking != nil || (v.BlockedBy != nil && *v.BlockedBy) {
		return false, nil
	}
	return true, nil
}
