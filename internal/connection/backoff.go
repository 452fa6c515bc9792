package connection

import (
	"context"
	"math"
	"time"
)

// Backoff returns the delay before retry number attempt (zero based):
// min(base * 2^attempt, ceiling). A non-positive ceiling means no cap.
func Backoff(attempt int, base, ceiling time.Duration) time.Duration {
	if attempt < 0 || base <= 0 {
		return 0
	}

	d := base
	for i := 0; i < attempt; i++ {
		if ceiling > 0 && d >= ceiling {
			return ceiling
		}
		// Overflow guard for very large attempt counts without a ceiling.
		if d > math.MaxInt64/2 {
			return d
		}
		d *= 2
	}
	if ceiling > 0 && d > ceiling {
		return ceiling
	}
	return d
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
