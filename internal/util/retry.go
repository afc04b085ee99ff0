package util

import (
	"context"
	"fmt"
	"time"
)

// ExhaustedError is returned by Retry after every attempt has failed. It
// carries the last underlying error so callers can still inspect the root
// cause with errors.Is / errors.As.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Retry calls fn once plus up to maxRetries additional times, sleeping
// baseDelay × attemptNumber between attempts (linear backoff). It returns
// nil on the first successful call, or an *ExhaustedError wrapping the last
// error once every attempt has failed. Cancellation is honoured between
// attempts, never mid-call.
func Retry(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func() error) error {
	var err error
	attempts := maxRetries + 1

	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Don't sleep after the last failed attempt.
		if attempt < attempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(baseDelay * time.Duration(attempt)):
			}
		}
	}

	return &ExhaustedError{Attempts: attempts, Last: err}
}
