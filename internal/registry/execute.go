package registry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/modelmux/modelmux/internal/providers"
)

// Attempt is the outcome of one successful provider call in a chain.
type Attempt struct {
	ProviderID string
	Completion providers.Completion
	CostUSD    float64
	Latency    time.Duration
}

// ExecuteChain tries the primary provider and then each fallback in order.
// Per attempt: a breaker that would block skips the provider; a call
// failure records it against the breaker and metrics and advances. The
// first success is returned with its priced cost. When every provider
// fails or is skipped, the joined attempt errors come back.
func (r *Registry) ExecuteChain(ctx context.Context, sel Selection, req providers.CompletionRequest) (Attempt, error) {
	chain := append([]string{sel.Primary}, sel.Fallbacks...)
	var failures []string

	for _, id := range chain {
		p := r.Get(id)
		if p == nil {
			continue
		}
		if !p.Breaker.Allow() {
			failures = append(failures, fmt.Sprintf("%s: circuit breaker open", id))
			continue
		}

		model := sel.Model
		if id != sel.Primary {
			// Fallbacks serve whatever model the primary's tier would have
			// picked from their own list.
			model = p.Config.Models[0]
		}

		start := time.Now()
		completion, err := p.Adapter.Complete(ctx, model, req)
		latency := time.Since(start)

		if err != nil {
			ce := p.Adapter.ClassifyError(err)
			p.Breaker.RecordFailure()
			p.Metrics.RecordFailure(latency, ce.Class, err.Error())
			slog.Warn("provider call failed",
				slog.String("provider", id),
				slog.String("model", model),
				slog.String("class", string(ce.Class)),
				slog.String("error", err.Error()))
			failures = append(failures, fmt.Sprintf("%s: %s", id, ce.Class))

			if ctx.Err() != nil {
				return Attempt{}, fmt.Errorf("request canceled: %w", ctx.Err())
			}
			continue
		}

		cost := r.Cost(id, completion.PromptTokens, completion.CompletionTokens)
		p.Breaker.RecordSuccess()
		p.Metrics.RecordSuccess(latency, completion.PromptTokens, completion.CompletionTokens, cost)
		return Attempt{
			ProviderID: id,
			Completion: completion,
			CostUSD:    cost,
			Latency:    latency,
		}, nil
	}

	if len(failures) == 0 {
		return Attempt{}, fmt.Errorf("no providers in chain")
	}
	return Attempt{}, fmt.Errorf("exhausted fallbacks: %s", strings.Join(failures, "; "))
}
