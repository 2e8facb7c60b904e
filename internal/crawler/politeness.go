package crawler

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// Pause blocks for delay or until ctx is done, whichever comes first.
func Pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("pause interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// RandomDuration draws a duration uniformly from [lo, hi].
func RandomDuration(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	span := big.NewInt(int64(hi-lo) + 1)
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return lo + (hi-lo)/2
	}
	return lo + time.Duration(n.Int64())
}
