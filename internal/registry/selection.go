package registry

import (
	"fmt"
	"strings"

	"github.com/modelmux/modelmux/internal/circuitbreaker"
	"github.com/modelmux/modelmux/internal/complexity"
)

// Scoring weights. The fit component is additive (0.30 baseline, 0.40 when
// the provider's tag matches the tier's preference), so a perfect score
// is 1.0.
const (
	costWeight         = 0.30
	fitMatch           = 0.40
	fitBaseline        = 0.30
	reliabilityWeight  = 0.20
	availabilityWeight = 0.10

	// Input price at or above this per-1k rate scores zero on cost.
	costCeiling = 0.003
)

// Selection is the outcome of scoring the fleet for one request.
type Selection struct {
	Primary      string   `json:"primary"`
	Model        string   `json:"model"`
	Alternatives []string `json:"alternatives"`
	Fallbacks    []string `json:"fallbacks"`
	Reason       string   `json:"reason"`
}

// Select scores every eligible provider for the given complexity tier and
// returns the ranked selection. A preferred provider short-circuits scoring
// when it is eligible; otherwise scoring proceeds as if no preference was
// given. Returns an error when no provider is eligible.
func (r *Registry) Select(tier complexity.Tier, preferred string) (Selection, error) {
	type scored struct {
		id    string
		score float64
	}
	var candidates []scored
	for _, id := range r.ids() {
		p := r.Get(id)
		if !p.Config.Enabled {
			continue
		}
		if !p.Breaker.CanExecute() {
			continue
		}
		candidates = append(candidates, scored{id: id, score: r.score(p, tier)})
	}
	if len(candidates) == 0 {
		return Selection{}, fmt.Errorf("no eligible providers")
	}

	// Descending score, provider id breaks ties. ids() is already sorted,
	// so a stable ordering by score alone preserves the lexicographic
	// tie-break.
	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0 && candidates[j].score > candidates[j-1].score; j-- {
			candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
		}
	}

	sel := Selection{}
	if preferred != "" {
		for i, c := range candidates {
			if c.id == preferred {
				reordered := make([]scored, 0, len(candidates))
				reordered = append(reordered, c)
				reordered = append(reordered, candidates[:i]...)
				reordered = append(reordered, candidates[i+1:]...)
				candidates = reordered
				sel.Reason = fmt.Sprintf("preferred provider %s honored for %s tier", preferred, tier)
				break
			}
		}
	}

	primary := candidates[0]
	sel.Primary = primary.id
	sel.Model = pickModel(r.Get(primary.id).Config.Models, tier)
	if sel.Reason == "" {
		sel.Reason = fmt.Sprintf("selected %s (score %.2f) for %s tier", primary.id, primary.score, tier)
	}
	for _, c := range candidates[1:] {
		if len(sel.Alternatives) < 2 {
			sel.Alternatives = append(sel.Alternatives, c.id)
		}
		sel.Fallbacks = append(sel.Fallbacks, c.id)
	}
	return sel, nil
}

// score computes the [0,1] fitness of a provider for a tier.
func (r *Registry) score(p *Provider, tier complexity.Tier) float64 {
	cost := 1 - p.Config.InputPricePer1K/costCeiling
	if cost < 0 {
		cost = 0
	}
	if cost > 1 {
		cost = 1
	}

	fit := fitBaseline
	switch tier {
	case complexity.TierSimple:
		if p.Config.hasTag(TagFast) {
			fit = fitMatch
		}
	case complexity.TierComplex, complexity.TierVeryComplex:
		if p.Config.hasTag(TagCapable) {
			fit = fitMatch
		}
	}

	avail := 0.0
	if p.Breaker.CurrentState() == circuitbreaker.Closed {
		avail = availabilityWeight
	}

	return costWeight*cost + fit + reliabilityWeight*p.Metrics.SuccessRate() + avail
}

// Model-name markers used to pick within a provider's model list.
var (
	cheapMarkers   = []string{"3.5", "haiku", "8b", "mini", "instant"}
	capableMarkers = []string{"4", "opus", "70b"}
)

// pickModel chooses the cheapest listed model for simple prompts, the most
// capable for complex ones, and the first listed otherwise.
func pickModel(models []string, tier complexity.Tier) string {
	var markers []string
	switch tier {
	case complexity.TierSimple:
		markers = cheapMarkers
	case complexity.TierComplex, complexity.TierVeryComplex:
		markers = capableMarkers
	default:
		return models[0]
	}
	for _, m := range models {
		lower := strings.ToLower(m)
		for _, marker := range markers {
			if strings.Contains(lower, marker) {
				return m
			}
		}
	}
	return models[0]
}
