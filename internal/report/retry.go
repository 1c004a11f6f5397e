// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package report

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// retryBase controls the base duration for persistence backoff. Tests
// override this to avoid real sleeps.
var retryBase = 200 * time.Millisecond

// permanent reports errors that retrying cannot fix.
func permanent(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicate) || errors.Is(err, ErrBadPath) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// WithRetry runs one unit of persistence work, retrying transient failures
// up to attempts times in total with exponential backoff.
func WithRetry(ctx context.Context, attempts int, fn func(ctx context.Context) error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * retryBase
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		if err = fn(ctx); err == nil || permanent(err) {
			return err
		}
	}
	return fmt.Errorf("after %d attempts: %w", attempts, err)
}
