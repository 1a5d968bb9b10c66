// Package limiter tracks how many actions an account has performed in the
// current period, against an operator-configured ceiling.
//
// The limiter is advisory. It never blocks; callers decide what to do when
// Check answers Limited.
package limiter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redblock-app/chainblock/models"
)

const DefaultMax = 500

const counterName = "actions"

type Result int

const (
	OK Result = iota
	Limited
)

func (r Result) String() string {
	if r == Limited {
		return "limited"
	}
	return "ok"
}

// Limit is a point-in-time view of the quota.
type Limit struct {
	Current  int `json:"current"`
	Max      int `json:"max"`
	Remained int `json:"remained"`
}

type Config struct {
	// account the counter is kept for (operator DID)
	Account string
	Max     int
	// PeriodDay if empty
	Period string
	Logger *slog.Logger
}

type Limiter struct {
	store   CountStore
	account string
	max     int
	period  string
	logger  *slog.Logger
}

func New(store CountStore, cfg Config) *Limiter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Max <= 0 {
		cfg.Max = DefaultMax
	}
	if cfg.Period == "" {
		cfg.Period = PeriodDay
	}
	return &Limiter{
		store:   store,
		account: cfg.Account,
		max:     cfg.Max,
		period:  cfg.Period,
		logger:  logger.With("component", "limiter", "account", cfg.Account),
	}
}

func (l *Limiter) current(ctx context.Context) (int, error) {
	c, err := l.store.GetCount(ctx, counterName, l.account, l.period)
	if err != nil {
		return 0, fmt.Errorf("reading action count: %w", err)
	}
	return c, nil
}

func (l *Limiter) Check(ctx context.Context) (Result, error) {
	c, err := l.current(ctx)
	if err != nil {
		return OK, err
	}
	if c >= l.max {
		checksLimited.Inc()
		l.logger.Info("action quota exhausted", "current", c, "max", l.max)
		return Limited, nil
	}
	return OK, nil
}

// Record counts one successful action. Only Block and Mute count against
// the quota; other verbs are ignored.
func (l *Limiter) Record(ctx context.Context, verb models.Verb) error {
	if verb != models.VerbBlock && verb != models.VerbMute {
		return nil
	}
	if err := l.store.Increment(ctx, counterName, l.account); err != nil {
		return fmt.Errorf("recording action: %w", err)
	}
	actionsRecorded.WithLabelValues(string(verb)).Inc()
	return nil
}

func (l *Limiter) Snapshot(ctx context.Context) (Limit, error) {
	c, err := l.current(ctx)
	if err != nil {
		return Limit{}, err
	}
	return Limit{
		Current:  c,
		Max:      l.max,
		Remained: max(l.max-c, 0),
	}, nil
}

// Reset zeroes the count for the current period.
func (l *Limiter) Reset(ctx context.Context) error {
	if err := l.store.Reset(ctx, counterName, l.account, l.period); err != nil {
		return fmt.Errorf("resetting action count: %w", err)
	}
	l.logger.Info("action quota reset")
	return nil
}

func (l *Limiter) Period() string {
	return l.period
}
