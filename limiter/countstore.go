package limiter

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	PeriodTotal = "total"
	PeriodDay   = "day"
	PeriodHour  = "hour"
)

// CountStore keeps named counters, bucketed by period.
type CountStore interface {
	GetCount(ctx context.Context, name, val, period string) (int, error)
	Increment(ctx context.Context, name, val string) error
	// Reset clears the current bucket for the period
	Reset(ctx context.Context, name, val, period string) error
}

func periodBucket(name, val, period string, now time.Time) string {
	now = now.UTC()
	switch period {
	case PeriodTotal:
		return fmt.Sprintf("%s/%s", name, val)
	case PeriodDay:
		return fmt.Sprintf("%s/%s/%s", name, val, now.Format(time.DateOnly))
	case PeriodHour:
		return fmt.Sprintf("%s/%s/%s", name, val, now.Format(time.RFC3339)[0:13])
	default:
		slog.Warn("unhandled counter period", "period", period)
		return fmt.Sprintf("%s/%s", name, val)
	}
}
