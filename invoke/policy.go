package invoke

import (
	"time"

	"github.com/goliatone/go-connectors/core"
)

// RetryPolicy bounds the attempt loop. MaxAttempts counts every HTTP attempt
// including the first; a policy of 4 allows three retries.
type RetryPolicy struct {
	MaxAttempts          int
	BaseDelay            time.Duration
	MaxDelay             time.Duration
	RetryableStatusCodes []int
}

func DefaultRetryPolicy() RetryPolicy {
	return PolicyFromConfig(core.DefaultConfig().Retry)
}

// PolicyFromConfig lifts the flat config knobs into a runtime policy.
func PolicyFromConfig(cfg core.RetryConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:          cfg.MaxAttempts,
		BaseDelay:            cfg.BaseDelay(),
		MaxDelay:             cfg.MaxDelay(),
		RetryableStatusCodes: append([]int(nil), cfg.RetryableStatusCodes...),
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	defaults := DefaultRetryPolicy()
	if p.MaxAttempts < 1 {
		p.MaxAttempts = defaults.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaults.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaults.MaxDelay
	}
	if len(p.RetryableStatusCodes) == 0 {
		p.RetryableStatusCodes = defaults.RetryableStatusCodes
	}
	return p
}

// Delay returns the pause before retry number retryIndex (0-based):
// min(MaxDelay, BaseDelay << retryIndex).
func (p RetryPolicy) Delay(retryIndex int) time.Duration {
	if retryIndex < 0 {
		retryIndex = 0
	}
	delay := p.BaseDelay
	for i := 0; i < retryIndex; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

func (p RetryPolicy) retryableStatus(statusCode int) bool {
	for _, candidate := range p.RetryableStatusCodes {
		if candidate == statusCode {
			return true
		}
	}
	return false
}
