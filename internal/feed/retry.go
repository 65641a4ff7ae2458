package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Backoff retries an operation with exponentially growing delays.
type Backoff struct {
	Attempts int
	Initial  time.Duration
	Logger   *slog.Logger

	// sleep is replaced in tests.
	sleep func(context.Context, time.Duration) error
}

// DefaultBackoff is three attempts starting at two seconds.
func DefaultBackoff() Backoff {
	return Backoff{Attempts: 3, Initial: 2 * time.Second}
}

// Do runs fn until it succeeds, the attempts run out, or ctx ends.
// The last error is returned wrapped with the attempt count.
func (b Backoff) Do(ctx context.Context, what string, fn func(context.Context) error) error {
	attempts := b.Attempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := b.sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	delay := b.Initial

	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if ctx.Err() != nil || i == attempts {
			break
		}
		if b.Logger != nil {
			b.Logger.Warn("retrying", "op", what, "attempt", i, "delay", delay, "error", err)
		}
		if serr := sleep(ctx, delay); serr != nil {
			return fmt.Errorf("%s: %w", what, serr)
		}
		delay *= 2
	}
	return fmt.Errorf("%s failed after retries: %w", what, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
