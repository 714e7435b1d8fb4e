package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

// MaxRetries is the default number of retries after a transient failure.
const MaxRetries = 3

// RetryableError indicates a transient failure that can be retried.
type RetryableError struct {
	StatusCode int
	Err        error
}

func (e *RetryableError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("retryable error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("retryable error: %v", e.Err)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// IsRetryable checks if an error is worth retrying.
func IsRetryable(err error) bool {
	var retryErr *RetryableError
	return errors.As(err, &retryErr)
}

// Backoff returns a duration for attempt n (0-indexed) with jitter. The delay
// doubles from base and is capped at 30 times base.
func Backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	d := base << uint(min(attempt, 10))
	if limit := 30 * base; d > limit {
		d = limit
	}
	return d + time.Duration(rand.Int63n(int64(d)/2+1))
}

// WithRetry retries fn on RetryableError up to maxRetries times.
func WithRetry(fn Func, maxRetries int, base time.Duration, log *slog.Logger) Func {
	return func(ctx context.Context, text string) ([]float32, error) {
		for attempt := 0; ; attempt++ {
			v, err := fn(ctx, text)
			if err == nil || !IsRetryable(err) || attempt >= maxRetries {
				return v, err
			}
			wait := Backoff(base, attempt)
			if log != nil {
				log.Warn("embedding failed, retrying", "attempt", attempt+1, "backoff", wait, "error", err)
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}
	}
}
