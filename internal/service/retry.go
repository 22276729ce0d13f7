package service

import (
	"context"
	"time"

	"github.com/kilonzo683/smartwebai-sub002/internal/domain"
)

// RetryPolicy retries rate limited calls with exponential backoff.
// Other error kinds are returned immediately.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Do calls fn until it succeeds, fails with a non-retryable error, the
// attempts are used up, or ctx is done. It returns the attempts made.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil || attempt >= maxAttempts || domain.KindOf(err) != domain.KindRateLimited {
			return attempt, err
		}

		delay := p.BaseDelay << (attempt - 1)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, err
		case <-timer.C:
		}
	}
}
