package registry

import (
	"sync"
	"time"

	"github.com/modelmux/modelmux/internal/providers"
)

// Metrics tracks one provider's observed behavior. All fields are guarded
// by the mutex; readers take a Snapshot.
type Metrics struct {
	mu sync.Mutex

	totalRequests int64
	successes     int64
	failures      int64

	totalLatencyMs float64
	minLatencyMs   float64
	maxLatencyMs   float64

	totalInputTokens  int64
	totalOutputTokens int64
	totalCostUSD      float64

	errorCounts map[providers.ErrorClass]int64
	lastError   string
	lastErrorAt time.Time

	breakerTrips     int64
	lastRequestAt    time.Time
	lastSuccessfulAt time.Time
}

func newMetrics() *Metrics {
	return &Metrics{errorCounts: make(map[providers.ErrorClass]int64)}
}

// RecordSuccess folds in a successful call.
func (m *Metrics) RecordSuccess(latency time.Duration, inputTokens, outputTokens int, costUSD float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.totalRequests++
	m.successes++
	m.recordLatency(latency)
	m.totalInputTokens += int64(inputTokens)
	m.totalOutputTokens += int64(outputTokens)
	m.totalCostUSD += costUSD
	m.lastRequestAt = now
	m.lastSuccessfulAt = now
}

// RecordFailure folds in a failed call.
func (m *Metrics) RecordFailure(latency time.Duration, class providers.ErrorClass, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalRequests++
	m.failures++
	m.recordLatency(latency)
	m.errorCounts[class]++
	m.lastError = errMsg
	m.lastErrorAt = time.Now()
	m.lastRequestAt = m.lastErrorAt
}

func (m *Metrics) recordTrip() {
	m.mu.Lock()
	m.breakerTrips++
	m.mu.Unlock()
}

// caller must hold m.mu
func (m *Metrics) recordLatency(latency time.Duration) {
	ms := float64(latency.Milliseconds())
	m.totalLatencyMs += ms
	if m.minLatencyMs == 0 || ms < m.minLatencyMs {
		m.minLatencyMs = ms
	}
	if ms > m.maxLatencyMs {
		m.maxLatencyMs = ms
	}
}

// SuccessRate returns successes/total, or 1.0 for an untried provider so
// fresh providers are not penalized at selection time.
func (m *Metrics) SuccessRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.totalRequests == 0 {
		return 1.0
	}
	return float64(m.successes) / float64(m.totalRequests)
}

// MetricsSnapshot is a consistent copy of a provider's counters.
type MetricsSnapshot struct {
	TotalRequests     int64            `json:"total_requests"`
	Successes         int64            `json:"successes"`
	Failures          int64            `json:"failures"`
	SuccessRate       float64          `json:"success_rate"`
	AvgLatencyMs      float64          `json:"avg_latency_ms"`
	MinLatencyMs      float64          `json:"min_latency_ms"`
	MaxLatencyMs      float64          `json:"max_latency_ms"`
	TotalInputTokens  int64            `json:"total_input_tokens"`
	TotalOutputTokens int64            `json:"total_output_tokens"`
	TotalCostUSD      float64          `json:"total_cost_usd"`
	ErrorCounts       map[string]int64 `json:"error_counts,omitempty"`
	LastError         string           `json:"last_error,omitempty"`
	LastErrorAt       time.Time        `json:"last_error_at,omitzero"`
	BreakerTrips      int64            `json:"breaker_trips"`
	LastRequestAt     time.Time        `json:"last_request_at,omitzero"`
	LastSuccessfulAt  time.Time        `json:"last_successful_at,omitzero"`
}

// Snapshot copies the counters under the lock.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := MetricsSnapshot{
		TotalRequests:     m.totalRequests,
		Successes:         m.successes,
		Failures:          m.failures,
		SuccessRate:       1.0,
		MinLatencyMs:      m.minLatencyMs,
		MaxLatencyMs:      m.maxLatencyMs,
		TotalInputTokens:  m.totalInputTokens,
		TotalOutputTokens: m.totalOutputTokens,
		TotalCostUSD:      m.totalCostUSD,
		LastError:         m.lastError,
		LastErrorAt:       m.lastErrorAt,
		BreakerTrips:      m.breakerTrips,
		LastRequestAt:     m.lastRequestAt,
		LastSuccessfulAt:  m.lastSuccessfulAt,
	}
	if m.totalRequests > 0 {
		s.SuccessRate = float64(m.successes) / float64(m.totalRequests)
		s.AvgLatencyMs = m.totalLatencyMs / float64(m.totalRequests)
	}
	if len(m.errorCounts) > 0 {
		s.ErrorCounts = make(map[string]int64, len(m.errorCounts))
		for k, v := range m.errorCounts {
			s.ErrorCounts[string(k)] = v
		}
	}
	return s
}
