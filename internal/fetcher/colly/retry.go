package collyfetcher

import (
	"time"

	"github.com/JakeFAU/cne-results-crawler/internal/crawler"
)

// RetryPolicy describes how many attempts a call gets and how long to wait
// around each one. Attempts are numbered from 1.
type RetryPolicy struct {
	MaxAttempts int
	// Backoff is the wait after a failed attempt.
	Backoff func(attempt int) time.Duration
	// Jitter is the wait before every attempt.
	Jitter func() time.Duration
}

// LinearBackoff waits attempt × step.
func LinearBackoff(step time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return time.Duration(attempt) * step
	}
}

// UniformJitter draws a uniform delay from [lo, hi].
func UniformJitter(lo, hi time.Duration) func() time.Duration {
	return func() time.Duration {
		return crawler.RandomDuration(lo, hi)
	}
}

// DataPolicy is the default for data calls: three jittered attempts.
func DataPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     LinearBackoff(time.Second),
		Jitter:      UniformJitter(400*time.Millisecond, 800*time.Millisecond),
	}
}

// NavigationPolicy is the default for hierarchy listings: five attempts, each
// a single data call.
func NavigationPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		Backoff:     LinearBackoff(2 * time.Second),
	}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	if p.Backoff == nil {
		return 0
	}
	return p.Backoff(attempt)
}

func (p RetryPolicy) jitter() time.Duration {
	if p.Jitter == nil {
		return 0
	}
	return p.Jitter()
}
