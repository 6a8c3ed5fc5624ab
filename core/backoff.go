package core

import (
	"context"
	"time"
)

const (
	defaultBackoffBaseDelay = 500 * time.Millisecond
	defaultBackoffMaxDelay  = 10 * time.Second
)

// ExponentialBackoffScheduler doubles the delay per attempt, capped at Max.
// Attempts count from 0: NextDelay(0) == Base.
type ExponentialBackoffScheduler struct {
	Base time.Duration
	Max  time.Duration
}

func (s ExponentialBackoffScheduler) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := s.Base
	if base <= 0 {
		base = defaultBackoffBaseDelay
	}
	max := s.Max
	if max <= 0 {
		max = defaultBackoffMaxDelay
	}

	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// WaitWithContext sleeps for delay unless ctx finishes first.
func WaitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ BackoffScheduler = ExponentialBackoffScheduler{}
