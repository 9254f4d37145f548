package processor

import (
	"context"
	"errors"
	"time"
)

// WithRetry runs fn with a bounded per-attempt timeout, retrying with
// exponential backoff only while fn reports ErrUnavailable. Terminal
// outcomes (declines, invalid requests, already-refunded) return
// immediately. fn must be idempotent processor-side, which is why every
// initiating call carries an idempotency key.
func WithRetry(ctx context.Context, attempts int, backoff, timeout time.Duration, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		err = fn(attemptCtx)
		cancel()

		if err == nil || !errors.Is(err, ErrUnavailable) {
			return err
		}
		if attempt == attempts {
			break
		}

		select {
		case <-time.After(backoff * time.Duration(1<<(attempt-1))):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
