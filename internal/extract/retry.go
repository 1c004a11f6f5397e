// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extract

import (
	"context"
	"fmt"
	"math"
	"time"
)

// backoffBase controls the base duration for exponential backoff. Tests
// override this to avoid real sleeps.
var backoffBase = time.Second

// Retry calls fn until it succeeds or maxRetries retries have failed, waiting
// backoffBase, 2×, 4×, ... between attempts. A cancelled context stops the
// wait and returns ctx.Err().
func Retry[T any](ctx context.Context, maxRetries int, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * backoffBase
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(backoff):
			}
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		lastErr = err
	}
	return zero, fmt.Errorf("after %d retries: %w", maxRetries, lastErr)
}

// SetBackoffBase replaces the retry base delay and returns a func restoring
// the previous value. Tests in other packages use it to avoid real sleeps.
func SetBackoffBase(d time.Duration) (restore func()) {
	old := backoffBase
	backoffBase = d
	return func() { backoffBase = old }
}
