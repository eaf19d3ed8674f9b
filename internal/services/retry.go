package services

import (
	"context"
	"time"
)

// withRetry runs op up to maxAttempts times, sleeping base * attempt
// between failures. Only meant for idempotent operations; the last error
// is returned once attempts are exhausted.
func withRetry(ctx context.Context, maxAttempts int, base time.Duration, op func() error) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(base * time.Duration(attempt)):
		}
	}
	return err
}
