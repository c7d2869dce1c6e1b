package resilience

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/loomwork/loom/internal/llm"
)

// Strategy is a provider-selection policy, per spec.md §4.9.1.
type Strategy string

const (
	StrategyLatency    Strategy = "latency"
	StrategyCost       Strategy = "cost"
	StrategyPreference Strategy = "preference"
	StrategyRoundRobin Strategy = "round_robin"
)

// ProviderEntry describes one registered provider, its model list, and
// its per-1k-token cost hint, grounded on core/provider_router.py's
// ProviderEntry/ProviderHealth pair.
type ProviderEntry struct {
	Provider       llm.Provider
	FallbackModels []string
	Priority       int
	CostPer1k      float64
	CredentialKeys int // number of rotatable API keys, per spec.md §4.9.4

	mu           sync.Mutex
	latencyEMA   float64
	credentialAt int
}

const emaAlpha = 0.3

func (e *ProviderEntry) recordLatency(ms float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.latencyEMA == 0 {
		e.latencyEMA = ms
		return
	}
	e.latencyEMA = emaAlpha*ms + (1-emaAlpha)*e.latencyEMA
}

func (e *ProviderEntry) LatencyEMA() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.latencyEMA
}

// CredentialCursor returns the index nextCredential last advanced to, for
// observability (health dashboards, tests). The cursor does not currently
// select which credential Provider.Chat actually uses — see DESIGN.md.
func (e *ProviderEntry) CredentialCursor() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.credentialAt
}

// nextCredential advances and returns this provider's credential rotation
// cursor, per spec.md §4.9.4: rate-limit errors advance it; after one full
// cycle without success, the failure propagates outward as retryable.
func (e *ProviderEntry) nextCredential() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.CredentialKeys <= 1 {
		return 0
	}
	e.credentialAt = (e.credentialAt + 1) % e.CredentialKeys
	return e.credentialAt
}

// Router selects an ordered candidate list of providers for a call, per
// spec.md §4.9.1's four selection strategies.
type Router struct {
	entries  []*ProviderEntry
	strategy Strategy
	preferred string

	mu         sync.Mutex
	rrCursor   int
}

// NewRouter builds a router over entries using strategy, with preferred
// naming the soft-preferred provider for StrategyPreference.
func NewRouter(entries []*ProviderEntry, strategy Strategy, preferred string) *Router {
	return &Router{entries: entries, strategy: strategy, preferred: preferred}
}

// Order returns entries ranked by the router's configured strategy.
// Providers whose primary model's breaker is open are not excluded here —
// the caller skips them at call time — because "priority order" must
// remain stable for observability even when a provider is temporarily
// unavailable.
func (r *Router) Order() []*ProviderEntry {
	out := make([]*ProviderEntry, len(r.entries))
	copy(out, r.entries)

	switch r.strategy {
	case StrategyLatency:
		sort.SliceStable(out, func(i, j int) bool {
			li, lj := out[i].LatencyEMA(), out[j].LatencyEMA()
			if li == 0 {
				return false
			}
			if lj == 0 {
				return true
			}
			return li < lj
		})
	case StrategyCost:
		sort.SliceStable(out, func(i, j int) bool { return out[i].CostPer1k < out[j].CostPer1k })
	case StrategyRoundRobin:
		r.mu.Lock()
		cursor := r.rrCursor
		r.rrCursor++
		r.mu.Unlock()
		if len(out) > 0 {
			n := cursor % len(out)
			out = append(out[n:], out[:n]...)
		}
	case StrategyPreference:
		fallthrough
	default:
		sort.SliceStable(out, func(i, j int) bool {
			if r.preferred != "" {
				pi, pj := out[i].Provider.Name() == r.preferred, out[j].Provider.Name() == r.preferred
				if pi != pj {
					return pi
				}
			}
			return out[i].Priority < out[j].Priority
		})
	}
	return out
}

// Probe issues a minimal health call against every provider's primary
// probe model, closing/half-opening breakers on success. Intended to run
// on a probe_interval ticker per spec.md §4.9.1.
func Probe(ctx context.Context, entries []*ProviderEntry, breakers *BreakerRegistry, model string) {
	for _, e := range entries {
		start := time.Now()
		_, err := e.Provider.Chat(ctx, llm.ChatRequest{
			Messages: []llm.Message{{Role: llm.RoleUser, Content: "ping"}},
			Model:    model,
		})
		if err == nil {
			e.recordLatency(float64(time.Since(start).Milliseconds()))
		}
		breakers.Execute(e.Provider.Name(), model, func() (any, error) { return nil, err })
	}
}
