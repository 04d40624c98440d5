package fetch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"
)

// Retry runs fn up to attempts+1 times with doubling delays between tries.
// It stops at once on cancellation and on responses that will not change
// on retry (404, 410).
func Retry(ctx context.Context, attempts int, delay time.Duration, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil || !retryable(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		log.Printf("Warning: attempt %d/%d failed: %v, retrying in %v", attempt+1, attempts+1, lastErr, delay)
		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(delay):
		}
		delay *= 2
	}
	if attempts == 0 {
		return lastErr
	}
	return fmt.Errorf("retries exhausted: %w", lastErr)
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var fe *Error
	if errors.As(err, &fe) {
		switch fe.Kind {
		case KindCanceled:
			return false
		case KindStatus:
			return fe.Status != http.StatusNotFound && fe.Status != http.StatusGone
		}
	}
	return true
}
