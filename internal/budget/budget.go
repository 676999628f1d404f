// Package budget enforces hierarchical spending limits. Every request is
// admitted against each scope present on it, in user -> team -> company
// order; any scope over its limit denies the whole request. Admission and
// debit are deliberately not atomic with each other: the warning threshold
// provides slack, and a burst overrun is caught by the next admission.
package budget

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/modelmux/modelmux/internal/store"
)

// Level is a scope in the budget hierarchy.
type Level string

const (
	LevelUser    Level = "user"
	LevelTeam    Level = "team"
	LevelCompany Level = "company"
)

// Status classifies an admission or a scope's standing.
type Status string

const (
	StatusApproved Status = "approved"
	StatusWarning  Status = "warning"
	StatusExceeded Status = "exceeded"
)

// Identity is the scope hierarchy carried by a request. UserID is required;
// blank team/company mean those scopes are skipped.
type Identity struct {
	UserID    string
	TeamID    string
	CompanyID string
}

// scopes returns the applicable (level, entity) pairs in evaluation order.
func (id Identity) scopes() []scopeKey {
	s := []scopeKey{{LevelUser, id.UserID}}
	if id.TeamID != "" {
		s = append(s, scopeKey{LevelTeam, id.TeamID})
	}
	if id.CompanyID != "" {
		s = append(s, scopeKey{LevelCompany, id.CompanyID})
	}
	return s
}

type scopeKey struct {
	level  Level
	entity string
}

// Config is a spending limit for one scope.
type Config struct {
	Level            Level   `json:"level"`
	EntityID         string  `json:"entity_id"`
	Period           Period  `json:"period"`
	LimitUSD         float64 `json:"limit_usd"`
	WarningThreshold float64 `json:"warning_threshold"`
	EmergencyLimit   float64 `json:"emergency_limit_usd,omitempty"`
	Rollover         bool    `json:"rollover"`
}

// Usage is the accumulated spend for one scope's current window.
type Usage struct {
	Level           Level     `json:"level"`
	EntityID        string    `json:"entity_id"`
	Period          Period    `json:"period"`
	PeriodStart     time.Time `json:"period_start"`
	PeriodEnd       time.Time `json:"period_end"`
	UsedUSD         float64   `json:"used_usd"`
	LimitUSD        float64   `json:"limit_usd"`
	RemainingUSD    float64   `json:"remaining_usd"`
	UsagePercentage float64   `json:"usage_percentage"`
	RequestCount    int64     `json:"request_count"`
	LastUpdated     time.Time `json:"last_updated"`
	Status          Status    `json:"status"`
}

// Authorization is the admission verdict for a request.
type Authorization struct {
	Approved bool   `json:"approved"`
	Status   Status `json:"status"`

	// The scope that denied, or the first scope that warned.
	Level    Level  `json:"level,omitempty"`
	EntityID string `json:"entity_id,omitempty"`

	CurrentUsage    float64 `json:"current_usage_usd"`
	BudgetLimit     float64 `json:"budget_limit_usd"`
	RemainingBudget float64 `json:"remaining_budget_usd"`
	EstimatedCost   float64 `json:"estimated_cost_usd"`
	Message         string  `json:"message,omitempty"`
}

// Cost estimation parameters (see EstimateCost).
const (
	baseCostPer1K = 0.002
	minimumCost   = 0.001
)

// providerCostMultipliers scales the estimate by the preferred provider's
// relative price; unknown or unset providers use 1.0.
var providerCostMultipliers = map[string]float64{
	"anthropic": 1.5,
	"groq":      0.7,
}

// EstimateCost predicts the pre-call USD cost of a request:
// base x (tokens/1000) x complexity x provider x temperature, floored at
// $0.001. Actual spend is trued up from the provider reply on debit.
func EstimateCost(tokens int, complexityScore, temperature float64, provider string) float64 {
	pm := 1.0
	if m, ok := providerCostMultipliers[provider]; ok {
		pm = m
	}
	cost := baseCostPer1K *
		(float64(tokens) / 1000) *
		(1 + 2*complexityScore) *
		pm *
		(1 + 0.5*temperature)
	if cost < minimumCost {
		return minimumCost
	}
	return cost
}

type scopeState struct {
	mu    sync.Mutex
	usage Usage

	// seeded tracks whether the store has been consulted for this scope.
	seeded bool
}

// Controller tracks configs and usage per scope. All mutable state is
// process-local; the store is a best-effort write-through so restarted
// processes do not forget spend.
type Controller struct {
	loc   *time.Location
	store store.Store // optional; nil = memory only

	mu      sync.RWMutex
	configs map[scopeKey]Config
	state   map[scopeKey]*scopeState
}

// Option configures a Controller.
type Option func(*Controller)

// WithLocation sets the timezone windows are aligned to. Default UTC.
func WithLocation(loc *time.Location) Option {
	return func(c *Controller) { c.loc = loc }
}

// WithStore attaches a persistence layer for usage rows.
func WithStore(s store.Store) Option {
	return func(c *Controller) { c.store = s }
}

// NewController creates a Controller with per-level default limits (user
// $100, team $1000, company $10000, monthly, warning at 80%). Explicit
// configs via SetConfig override the defaults for their scope.
func NewController(opts ...Option) *Controller {
	c := &Controller{
		loc:     time.UTC,
		configs: make(map[scopeKey]Config),
		state:   make(map[scopeKey]*scopeState),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// defaultConfig returns the fallback limit for a level with no explicit
// config.
func defaultConfig(level Level, entity string) Config {
	limit := 100.0
	switch level {
	case LevelTeam:
		limit = 1000
	case LevelCompany:
		limit = 10000
	}
	return Config{
		Level:            level,
		EntityID:         entity,
		Period:           PeriodMonthly,
		LimitUSD:         limit,
		WarningThreshold: 0.8,
	}
}

// SetConfig installs or replaces the limit for a scope.
func (c *Controller) SetConfig(cfg Config) error {
	if cfg.LimitUSD <= 0 {
		return fmt.Errorf("budget config for %s/%s: limit_usd must be > 0", cfg.Level, cfg.EntityID)
	}
	if cfg.WarningThreshold < 0 || cfg.WarningThreshold > 1 {
		return fmt.Errorf("budget config for %s/%s: warning_threshold must be in [0,1]", cfg.Level, cfg.EntityID)
	}
	if cfg.EmergencyLimit != 0 && cfg.EmergencyLimit < cfg.LimitUSD {
		return fmt.Errorf("budget config for %s/%s: emergency_limit must be >= limit_usd", cfg.Level, cfg.EntityID)
	}
	if cfg.Period == "" {
		cfg.Period = PeriodMonthly
	}
	c.mu.Lock()
	c.configs[scopeKey{cfg.Level, cfg.EntityID}] = cfg
	c.mu.Unlock()
	return nil
}

func (c *Controller) config(key scopeKey) Config {
	c.mu.RLock()
	cfg, ok := c.configs[key]
	c.mu.RUnlock()
	if !ok {
		return defaultConfig(key.level, key.entity)
	}
	return cfg
}

func (c *Controller) scope(key scopeKey) *scopeState {
	c.mu.RLock()
	st, ok := c.state[key]
	c.mu.RUnlock()
	if ok {
		return st
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok = c.state[key]; ok {
		return st
	}
	st = &scopeState{}
	c.state[key] = st
	return st
}

// syncWindow brings a scope's usage into the current window, seeding from
// the store on first touch and rolling the window over when the wall clock
// has crossed its end. Caller must hold st.mu.
func (c *Controller) syncWindow(ctx context.Context, key scopeKey, cfg Config, st *scopeState, now time.Time) {
	if !st.seeded {
		st.seeded = true
		if c.store != nil {
			if rec, err := c.store.GetBudgetUsage(ctx, string(key.level), key.entity); err != nil {
				slog.Warn("budget: seed from store failed",
					slog.String("level", string(key.level)),
					slog.String("entity", key.entity),
					slog.String("error", err.Error()))
			} else if rec != nil {
				st.usage.PeriodStart = rec.PeriodStart
				st.usage.PeriodEnd = rec.PeriodEnd
				st.usage.UsedUSD = rec.UsedUSD
				st.usage.RequestCount = rec.RequestCount
				st.usage.LastUpdated = rec.LastUpdated
			}
		}
	}

	start, end := cfg.Period.Window(now, c.loc)
	if !st.usage.PeriodStart.Equal(start) {
		carried := 0.0
		if cfg.Rollover && !st.usage.PeriodStart.IsZero() {
			carried = st.usage.UsedUSD
		}
		st.usage = Usage{UsedUSD: carried}
		st.usage.PeriodStart = start
		st.usage.PeriodEnd = end
	}
	st.usage.Level = key.level
	st.usage.EntityID = key.entity
	st.usage.Period = cfg.Period
	st.usage.LimitUSD = cfg.LimitUSD
	recompute(&st.usage, cfg)
}

func recompute(u *Usage, cfg Config) {
	u.RemainingUSD = cfg.LimitUSD - u.UsedUSD
	if u.RemainingUSD < 0 {
		u.RemainingUSD = 0
	}
	u.UsagePercentage = u.UsedUSD / cfg.LimitUSD
	switch {
	case u.UsagePercentage >= 1.0:
		u.Status = StatusExceeded
	case u.UsagePercentage >= cfg.WarningThreshold:
		u.Status = StatusWarning
	default:
		u.Status = StatusApproved
	}
}

// CheckAuthorization admits or denies a request against every scope present
// on it. A projected spend strictly over a scope's limit denies immediately;
// equality admits. Crossing a warning threshold annotates the authorization
// with the first warning scope but keeps evaluating, since a deeper scope
// may still deny.
func (c *Controller) CheckAuthorization(ctx context.Context, id Identity, estimatedCost float64) Authorization {
	now := time.Now()
	var warn *Authorization

	for _, key := range id.scopes() {
		cfg := c.config(key)
		st := c.scope(key)

		st.mu.Lock()
		c.syncWindow(ctx, key, cfg, st, now)
		used := st.usage.UsedUSD
		remaining := st.usage.RemainingUSD
		st.mu.Unlock()

		projected := used + estimatedCost
		if projected > cfg.LimitUSD {
			return Authorization{
				Approved:        false,
				Status:          StatusExceeded,
				Level:           key.level,
				EntityID:        key.entity,
				CurrentUsage:    used,
				BudgetLimit:     cfg.LimitUSD,
				RemainingBudget: remaining,
				EstimatedCost:   estimatedCost,
				Message:         fmt.Sprintf("request would exceed %s budget limit", key.level),
			}
		}
		if warn == nil && projected/cfg.LimitUSD >= cfg.WarningThreshold {
			warn = &Authorization{
				Approved:        true,
				Status:          StatusWarning,
				Level:           key.level,
				EntityID:        key.entity,
				CurrentUsage:    used,
				BudgetLimit:     cfg.LimitUSD,
				RemainingBudget: cfg.LimitUSD - projected,
				EstimatedCost:   estimatedCost,
				Message:         fmt.Sprintf("approaching %s budget limit (%.1f%%)", key.level, projected/cfg.LimitUSD*100),
			}
		}
	}

	if warn != nil {
		return *warn
	}
	return Authorization{
		Approved:      true,
		Status:        StatusApproved,
		EstimatedCost: estimatedCost,
		Message:       "request approved",
	}
}

// RecordUsage debits every scope present on the request with the actual
// cost of a completed provider call. Cache hits must not call this; the
// original call already debited. Negative costs are rejected.
func (c *Controller) RecordUsage(ctx context.Context, id Identity, actualCost float64) error {
	if actualCost < 0 {
		return fmt.Errorf("record usage: negative cost %.6f", actualCost)
	}
	now := time.Now()

	for _, key := range id.scopes() {
		cfg := c.config(key)
		st := c.scope(key)

		st.mu.Lock()
		c.syncWindow(ctx, key, cfg, st, now)
		st.usage.UsedUSD += actualCost
		st.usage.RequestCount++
		st.usage.LastUpdated = now
		recompute(&st.usage, cfg)
		rec := store.BudgetUsageRecord{
			Level:        string(key.level),
			EntityID:     key.entity,
			PeriodStart:  st.usage.PeriodStart,
			PeriodEnd:    st.usage.PeriodEnd,
			UsedUSD:      st.usage.UsedUSD,
			RequestCount: st.usage.RequestCount,
			LastUpdated:  now,
		}
		st.mu.Unlock()

		if c.store != nil {
			// Best-effort write-through; response latency is not gated on it.
			go func(rec store.BudgetUsageRecord) {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := c.store.PutBudgetUsage(ctx, rec); err != nil {
					slog.Warn("budget: usage write-through failed",
						slog.String("level", rec.Level),
						slog.String("entity", rec.EntityID),
						slog.String("error", err.Error()))
				}
			}(rec)
		}
	}
	return nil
}

// Summary returns the current usage snapshot for one scope.
func (c *Controller) Summary(ctx context.Context, level Level, entityID string) Usage {
	key := scopeKey{level, entityID}
	cfg := c.config(key)
	st := c.scope(key)

	st.mu.Lock()
	defer st.mu.Unlock()
	c.syncWindow(ctx, key, cfg, st, time.Now())
	return st.usage
}

// HierarchySummary returns usage snapshots for every scope present on the
// identity, in evaluation order.
func (c *Controller) HierarchySummary(ctx context.Context, id Identity) []Usage {
	var out []Usage
	for _, key := range id.scopes() {
		out = append(out, c.Summary(ctx, key.level, key.entity))
	}
	return out
}
