package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/loomwork/loom/internal/llm"
)

// UsageRecord is one terminal call outcome, recorded regardless of
// success, per spec.md §4.9.5.
type UsageRecord struct {
	Provider      string
	Model         string
	Usage         llm.Usage
	LatencyMS     float64
	Retries       int
	FailoverUsed  bool
	Success       bool
	Timestamp     float64
}

// UsageRecorder persists usage records; internal/usage provides the
// sqlite-backed implementation.
type UsageRecorder interface {
	Record(rec UsageRecord) error
}

// BudgetChecker reports whether the caller has remaining daily/monthly
// budget, per spec.md §4.9.5. A nil BudgetChecker never blocks calls.
type BudgetChecker interface {
	Allow() (bool, error)
}

// defaultCallDeadline is spec.md §5's hard per-call deadline: "a model
// call has a hard deadline (default 60s); on breach, the call is
// abandoned and the circuit-breaker counts a failure."
const defaultCallDeadline = 60 * time.Second

// Client is the outermost Resilient Model Client of spec.md §4.9: a
// provider router wrapping per-(provider,model) retry, circuit breaking,
// credential rotation, and usage accounting.
type Client struct {
	router       *Router
	breakers     *BreakerRegistry
	retry        RetryConfig
	recorder     UsageRecorder
	budget       BudgetChecker
	log          *slog.Logger
	callDeadline time.Duration
}

// NewClient wires a resilient client from its layers.
func NewClient(router *Router, breakers *BreakerRegistry, retry RetryConfig, recorder UsageRecorder, budget BudgetChecker, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{router: router, breakers: breakers, retry: retry, recorder: recorder, budget: budget, log: log, callDeadline: defaultCallDeadline}
}

// SetCallDeadline overrides the default 60s hard per-call deadline of
// spec.md §5 — primarily for tests exercising deadline-breach behavior
// without actually waiting 60s.
func (c *Client) SetCallDeadline(d time.Duration) {
	c.callDeadline = d
}

// Chat runs req.Model (and, on persistent per-model failure, each
// provider's configured fallback models) across the router's provider
// order, applying retry-with-backoff and circuit breaking at each
// (provider, model) pair, per spec.md §4.9.
func (c *Client) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResult, error) {
	if c.budget != nil {
		ok, err := c.budget.Allow()
		if err != nil {
			return llm.ChatResult{}, fmt.Errorf("resilience: budget check: %w", err)
		}
		if !ok {
			c.recordUsage(UsageRecord{Model: req.Model, Success: false})
			return llm.ChatResult{}, llm.ErrBudgetExceeded
		}
	}

	var lastErr error
	totalRetries := 0
	providerAttempted := false

	for _, entry := range c.router.Order() {
		models := append([]string{req.Model}, entry.FallbackModels...)
		seen := make(map[string]bool)

		for i, model := range models {
			if model == "" || seen[model] {
				continue
			}
			seen[model] = true
			isFailover := providerAttempted || i > 0

			result, retries, err := c.callModel(ctx, entry, model, req)
			totalRetries += retries
			if err == nil {
				c.recordUsage(UsageRecord{
					Provider: entry.Provider.Name(), Model: model, Usage: result.Usage,
					Retries: totalRetries, FailoverUsed: isFailover, Success: true,
					Timestamp: nowSeconds(),
				})
				return result, nil
			}
			lastErr = err
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				c.log.Debug("resilience: breaker open, skipping", "provider", entry.Provider.Name(), "model", model)
				continue
			}
			if llm.Classify(err) == llm.ClassFatal {
				break // don't try further fallback models for a fatal per-call error
			}
		}
		providerAttempted = true
	}

	c.recordUsage(UsageRecord{Model: req.Model, Retries: totalRetries, Success: false, Timestamp: nowSeconds()})
	if lastErr == nil {
		lastErr = llm.ErrProviderUnavailable
	}
	return llm.ChatResult{}, fmt.Errorf("resilience: all providers exhausted: %w", lastErr)
}

// callModel runs the retry-with-backoff loop for a single (provider,
// model) pair, gated by that pair's circuit breaker, per spec.md
// §4.9.2-3. It returns the number of attempts that failed with a
// retryable error.
func (c *Client) callModel(ctx context.Context, entry *ProviderEntry, model string, req llm.ChatRequest) (llm.ChatResult, int, error) {
	attempt := 0
	req.Model = model
	var result llm.ChatResult

	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		start := time.Now()
		callCtx, cancel := context.WithTimeout(ctx, c.callDeadline)
		out, err := c.breakers.Execute(entry.Provider.Name(), model, func() (any, error) {
			return entry.Provider.Chat(callCtx, req)
		})
		cancel()
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			if errors.Is(err, llm.ErrRateLimited) {
				entry.nextCredential()
			}
			if llm.Classify(err) == llm.ClassFatal {
				return backoff.Permanent(err)
			}
			attempt++
			return err
		}
		entry.recordLatency(float64(time.Since(start).Milliseconds()))
		result = out.(llm.ChatResult)
		return nil
	}

	policy := backoff.WithContext(withMaxRetries(c.retry.newBackoff(), c.retry.MaxRetries), ctx)
	err := backoff.Retry(operation, policy)
	return result, attempt, err
}

func withMaxRetries(b backoff.BackOff, max int) backoff.BackOff {
	return backoff.WithMaxRetries(b, uint64(max))
}

func (c *Client) recordUsage(rec UsageRecord) {
	if c.recorder == nil {
		return
	}
	if rec.Timestamp == 0 {
		rec.Timestamp = nowSeconds()
	}
	if err := c.recorder.Record(rec); err != nil {
		c.log.Warn("resilience: usage record failed", "error", err)
	}
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
