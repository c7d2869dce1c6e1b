// Package resilience implements the Resilient Model Client (spec.md §4.9):
// per-(provider, model) circuit breakers, exponential backoff retry, model
// fallback chains, credential rotation, cross-provider routing, and usage
// accounting. Grounded on internal/orchestrator/resilience.go's
// gobreaker/backoff wiring, generalized from a per-backend-type key to the
// per-(provider,model) key of adapters/llm/resilience.py — a strict
// refinement of spec.md §4.9.3's "per provider" wording, since keying
// solely on provider would let one bad model mask its siblings' health.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig tunes the per-key circuit breaker, matching spec.md
// §4.9.3's defaults: threshold=3 consecutive failures, cooldown=120s.
type BreakerConfig struct {
	Threshold int
	Cooldown  time.Duration
}

// DefaultBreakerConfig returns spec.md §6.5's configured defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{Threshold: 3, Cooldown: 120 * time.Second}
}

// breakerKey is the composite (provider, model) key of Supplemented
// Feature #5.
type breakerKey struct {
	provider string
	model    string
}

// BreakerRegistry manages one gobreaker.CircuitBreaker per (provider,
// model) pair, created lazily on first use.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[breakerKey]*gobreaker.CircuitBreaker
	cfg      BreakerConfig
	onChange func(provider, model string, from, to gobreaker.State)
}

// NewBreakerRegistry returns a registry using cfg for every breaker it
// creates. onChange, if non-nil, is invoked whenever any breaker changes
// state — useful for logging or a health dashboard.
func NewBreakerRegistry(cfg BreakerConfig, onChange func(provider, model string, from, to gobreaker.State)) *BreakerRegistry {
	return &BreakerRegistry{
		breakers: make(map[breakerKey]*gobreaker.CircuitBreaker),
		cfg:      cfg,
		onChange: onChange,
	}
}

func (r *BreakerRegistry) get(provider, model string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := breakerKey{provider, model}
	if cb, ok := r.breakers[key]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        provider + "/" + model,
		MaxRequests: 1, // admit exactly one probe in half-open, per spec.md §4.9.3
		Interval:    0,
		Timeout:     r.cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(r.cfg.Threshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if r.onChange != nil {
				r.onChange(provider, model, from, to)
			}
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// Cooperative cancellation (the caller gave up) is not the
			// provider's fault and must not count against it. A deadline
			// breach is the provider's fault: spec.md §5's hard per-call
			// deadline exists precisely so a hung provider trips the
			// breaker, so DeadlineExceeded must count as a failure.
			return errors.Is(err, context.Canceled)
		},
	})
	r.breakers[key] = cb
	return cb
}

// Execute runs fn through the (provider, model) breaker.
func (r *BreakerRegistry) Execute(provider, model string, fn func() (any, error)) (any, error) {
	return r.get(provider, model).Execute(fn)
}

// State returns the current breaker state for (provider, model), creating
// the breaker (in CLOSED state) if it doesn't exist yet.
func (r *BreakerRegistry) State(provider, model string) gobreaker.State {
	return r.get(provider, model).State()
}
