package ticker

import (
	"context"
	"time"
)

// Periodically runs task at every tick of interval until ctx is done. A
// failing task doesn't end the schedule: its error goes to onError, if set.
func Periodically(ctx context.Context, interval time.Duration, task func(context.Context) error, onError func(error)) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := task(ctx); err != nil && onError != nil {
				onError(err)
			}
		}
	}
}
