package router

// Priority is the client-declared urgency of a request.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Valid reports whether p is one of the four known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Request is the inbound completion request. The HTTP layer decodes the JSON
// body straight into this envelope; the router assigns ID when it is blank.
type Request struct {
	ID     string `json:"request_id,omitempty"`
	Prompt string `json:"prompt"`

	// Identity hierarchy for budget admission. UserID is required;
	// team and company scopes are skipped when absent.
	UserID    string `json:"user_id"`
	TeamID    string `json:"team_id,omitempty"`
	CompanyID string `json:"company_id,omitempty"`

	Priority    Priority `json:"priority,omitempty"`
	Temperature float64  `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`

	// Optional preferred provider; selection may still reject it when the
	// provider is disabled or its breaker is open.
	Provider string `json:"provider,omitempty"`

	// Free-form constraints. Accepted on the wire but not consulted
	// during selection; only the tier and the preferred provider steer it.
	Requirements map[string]any `json:"requirements,omitempty"`
}

// Metadata carries per-request routing diagnostics back to the caller.
type Metadata struct {
	ComplexityTier  string  `json:"complexity_tier,omitempty"`
	ComplexityScore float64 `json:"complexity_score,omitempty"`
	ReductionPct    float64 `json:"optimization_reduction_pct,omitempty"`
	AdmissionStatus string  `json:"admission_status,omitempty"`
	AdmissionLevel  string  `json:"admission_level,omitempty"`
	SelectionReason string  `json:"selection_reason,omitempty"`
	LevelsChecked   int     `json:"cache_levels_checked,omitempty"`
	LookupTimeMs    float64 `json:"cache_lookup_ms,omitempty"`
	EstimatedCost   float64 `json:"estimated_cost_usd,omitempty"`
}

// Response is the outward result of one routed request. A budget denial or
// provider exhaustion is still a Response (Success=false), not a transport
// error.
type Response struct {
	Content    string `json:"content"`
	ProviderID string `json:"provider_id"`
	Model      string `json:"model"`

	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	// Actual cost reported by the provider. On a cache hit this carries the
	// cost of the originally stored call.
	CostUSD float64 `json:"cost_usd"`

	LatencyMs  float64 `json:"latency_ms"`
	CacheHit   bool    `json:"cache_hit"`
	CacheLevel string  `json:"cache_level,omitempty"`

	RequestID string `json:"request_id"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`

	Metadata Metadata `json:"metadata"`
}
