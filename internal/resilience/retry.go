package resilience

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig matches spec.md §4.9.2's per-model retry schedule:
// delay = min(max, base * 2^attempt) + U(-jitter, +jitter). MaxRetries
// counts retries after the first attempt, so the default of 2 gives three
// attempts in total.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Jitter     time.Duration
}

// DefaultRetryConfig returns spec.md §6.5's configured defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 2,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Jitter:     500 * time.Millisecond,
	}
}

// newBackoff builds a cenkalti/backoff exponential policy from cfg,
// grounded on internal/orchestrator/resilience.go's sendWithRetry.
func (cfg RetryConfig) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.BaseDelay
	b.MaxInterval = cfg.MaxDelay
	b.Multiplier = 2.0
	b.RandomizationFactor = jitterFraction(cfg)
	b.MaxElapsedTime = 0 // attempt count is bounded externally, not elapsed time
	return b
}

func jitterFraction(cfg RetryConfig) float64 {
	if cfg.BaseDelay <= 0 {
		return 0
	}
	f := float64(cfg.Jitter) / float64(cfg.BaseDelay)
	if f > 1 {
		f = 1
	}
	return f
}
