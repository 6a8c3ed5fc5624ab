package core

import (
	"fmt"
	"strings"
	"time"
)

// RetryConfig carries the overridable retry-policy knobs. Delays are
// expressed in milliseconds so the struct stays loadable from flat config
// sources without duration parsing hooks.
type RetryConfig struct {
	MaxAttempts          int   `koanf:"max_attempts" mapstructure:"max_attempts"`
	BaseDelayMS          int   `koanf:"base_delay_ms" mapstructure:"base_delay_ms"`
	MaxDelayMS           int   `koanf:"max_delay_ms" mapstructure:"max_delay_ms"`
	RetryableStatusCodes []int `koanf:"retryable_status_codes" mapstructure:"retryable_status_codes"`
}

func (c RetryConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMS) * time.Millisecond
}

func (c RetryConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelayMS) * time.Millisecond
}

type Config struct {
	Name             string      `koanf:"name" mapstructure:"name"`
	ExpirySkewMS     int         `koanf:"expiry_skew_ms" mapstructure:"expiry_skew_ms"`
	RefreshTimeoutMS int         `koanf:"refresh_timeout_ms" mapstructure:"refresh_timeout_ms"`
	LockTTLMS        int         `koanf:"lock_ttl_ms" mapstructure:"lock_ttl_ms"`
	Retry            RetryConfig `koanf:"retry" mapstructure:"retry"`
}

func DefaultConfig() Config {
	return Config{
		Name:             "connectors",
		ExpirySkewMS:     int(DefaultExpirySkew / time.Millisecond),
		RefreshTimeoutMS: 30_000,
		LockTTLMS:        30_000,
		Retry: RetryConfig{
			MaxAttempts:          3,
			BaseDelayMS:          500,
			MaxDelayMS:           10_000,
			RetryableStatusCodes: []int{429, 500, 502, 503, 504},
		},
	}
}

func (c Config) ExpirySkew() time.Duration {
	return time.Duration(c.ExpirySkewMS) * time.Millisecond
}

func (c Config) RefreshTimeout() time.Duration {
	return time.Duration(c.RefreshTimeoutMS) * time.Millisecond
}

func (c Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLMS) * time.Millisecond
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("core: name is required")
	}
	if c.ExpirySkewMS < 0 {
		return fmt.Errorf("core: expiry_skew_ms must not be negative")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("core: retry.max_attempts must be at least 1")
	}
	if c.Retry.BaseDelayMS < 0 || c.Retry.MaxDelayMS < 0 {
		return fmt.Errorf("core: retry delays must not be negative")
	}
	if c.Retry.MaxDelayMS > 0 && c.Retry.BaseDelayMS > c.Retry.MaxDelayMS {
		return fmt.Errorf("core: retry.base_delay_ms exceeds retry.max_delay_ms")
	}
	return nil
}
