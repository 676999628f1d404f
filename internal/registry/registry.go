// Package registry owns the provider fleet: static configuration, the
// live adapter for each provider, its circuit breaker, and its metrics.
// The router asks the registry who should serve a request and the registry
// walks the fallback chain on its behalf.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/modelmux/modelmux/internal/circuitbreaker"
	"github.com/modelmux/modelmux/internal/providers"
)

// Adapter is the surface a provider integration must implement. Adapters
// live in internal/providers/<name> and are wired in at startup.
type Adapter interface {
	ID() string
	Complete(ctx context.Context, model string, req providers.CompletionRequest) (providers.Completion, error)
	ClassifyError(err error) *providers.ClassifiedError
}

// Provider tags used by the selection scorer.
const (
	TagFast    = "fast"
	TagCapable = "capable"
)

// Config is the static description of one provider.
type Config struct {
	ID               string        `json:"id"`
	Tags             []string      `json:"tags"`
	Models           []string      `json:"models"`
	InputPricePer1K  float64       `json:"input_price_per_1k"`
	OutputPricePer1K float64       `json:"output_price_per_1k"`
	Enabled          bool          `json:"enabled"`
	FailureThreshold int           `json:"failure_threshold"`
	OpenTimeout      time.Duration `json:"open_timeout"`
}

func (c Config) hasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Provider is one registered provider with its runtime companions.
type Provider struct {
	Config  Config
	Adapter Adapter
	Breaker *circuitbreaker.Breaker
	Metrics *Metrics
}

// Registry holds the provider fleet. Registration happens at startup;
// after that the map is read-only and only the per-provider state mutates.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*Provider
	stateHook func(providerID string, from, to circuitbreaker.State)
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{providers: make(map[string]*Provider)}
}

// Register adds a provider. The breaker is built from the config's
// threshold and open timeout; metric counters start at zero.
func (r *Registry) Register(cfg Config, adapter Adapter) error {
	if cfg.ID == "" {
		return fmt.Errorf("provider config: id is required")
	}
	if adapter == nil {
		return fmt.Errorf("provider %s: adapter is required", cfg.ID)
	}
	if len(cfg.Models) == 0 {
		return fmt.Errorf("provider %s: at least one model is required", cfg.ID)
	}

	m := newMetrics()
	opts := []circuitbreaker.Option{
		circuitbreaker.WithOnStateChange(func(from, to circuitbreaker.State) {
			if to == circuitbreaker.Open {
				m.recordTrip()
			}
			r.mu.RLock()
			hook := r.stateHook
			r.mu.RUnlock()
			if hook != nil {
				hook(cfg.ID, from, to)
			}
		}),
	}
	if cfg.FailureThreshold > 0 {
		opts = append(opts, circuitbreaker.WithThreshold(cfg.FailureThreshold))
	}
	if cfg.OpenTimeout > 0 {
		opts = append(opts, circuitbreaker.WithOpenTimeout(cfg.OpenTimeout))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[cfg.ID]; exists {
		return fmt.Errorf("provider %s: already registered", cfg.ID)
	}
	r.providers[cfg.ID] = &Provider{
		Config:  cfg,
		Adapter: adapter,
		Breaker: circuitbreaker.New(opts...),
		Metrics: m,
	}
	return nil
}

// SetStateChangeHook installs a callback fired on every breaker state
// transition across the fleet. Call before traffic starts.
func (r *Registry) SetStateChangeHook(fn func(providerID string, from, to circuitbreaker.State)) {
	r.mu.Lock()
	r.stateHook = fn
	r.mu.Unlock()
}

// Get returns a provider by id, or nil.
func (r *Registry) Get(id string) *Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[id]
}

// ids returns all provider ids in lexicographic order, so iteration and
// tie-breaking are deterministic.
func (r *Registry) ids() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.providers))
	for id := range r.providers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ProviderStatus is one provider's entry in the stats snapshot.
type ProviderStatus struct {
	ID           string          `json:"id"`
	Enabled      bool            `json:"enabled"`
	BreakerState string          `json:"breaker_state"`
	Metrics      MetricsSnapshot `json:"metrics"`
}

// Snapshot returns the fleet state for the stats endpoint.
func (r *Registry) Snapshot() []ProviderStatus {
	out := make([]ProviderStatus, 0)
	for _, id := range r.ids() {
		p := r.Get(id)
		out = append(out, ProviderStatus{
			ID:           id,
			Enabled:      p.Config.Enabled,
			BreakerState: p.Breaker.CurrentState().String(),
			Metrics:      p.Metrics.Snapshot(),
		})
	}
	return out
}

// Cost prices a completed call from the provider's per-1k token rates.
func (r *Registry) Cost(providerID string, promptTokens, completionTokens int) float64 {
	p := r.Get(providerID)
	if p == nil {
		return 0
	}
	return float64(promptTokens)/1000*p.Config.InputPricePer1K +
		float64(completionTokens)/1000*p.Config.OutputPricePer1K
}
