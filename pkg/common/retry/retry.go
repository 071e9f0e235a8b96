package retry

import (
	"context"
	"time"
)

const maxDelay = 2 * time.Second

// Do runs fn up to attempts times with exponential backoff starting at
// baseDelay and capped at two seconds. It returns the last error from fn, or the
// context error if ctx ends while waiting.
func Do(ctx context.Context, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts <= 1 {
		return fn()
	}

	var err error
	delay := baseDelay
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err = fn()
		if err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}

	return err
}
