package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/dgallion1/docchunk/internal/embed"
)

// retryBase is the first backoff delay; it doubles per attempt.
var retryBase = time.Second

// retry runs fn until it succeeds, fails with a non-retryable error, or
// embed.MaxRetries retries are used up.
func retry(ctx context.Context, log *slog.Logger, what string, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !embed.IsRetryable(err) || attempt >= embed.MaxRetries {
			return err
		}
		wait := embed.Backoff(retryBase, attempt)
		log.Warn("retryable "+what+" error", "attempt", attempt, "backoff", wait, "error", err)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
