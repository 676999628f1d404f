package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the Prometheus collectors exported at /metrics.
type Registry struct {
	reg *prometheus.Registry

	RequestsTotal      *prometheus.CounterVec
	RequestLatency     *prometheus.HistogramVec
	CostUSD            *prometheus.CounterVec
	CacheHits          *prometheus.CounterVec
	CacheMisses        prometheus.Counter
	BudgetDenials      *prometheus.CounterVec
	BreakerTransitions *prometheus.CounterVec
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modelmux_requests_total",
			Help: "Total requests routed through modelmux",
		}, []string{"provider", "tier", "status"}),
		RequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "modelmux_request_latency_ms",
			Help:    "Request latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		}, []string{"provider", "tier"}),
		CostUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modelmux_cost_usd_total",
			Help: "Accumulated USD cost of upstream calls",
		}, []string{"provider", "model"}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modelmux_cache_hits_total",
			Help: "Cache hits by tier (l1, l2, l3)",
		}, []string{"level"}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "modelmux_cache_misses_total",
			Help: "Requests that missed every cache tier",
		}),
		BudgetDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modelmux_budget_denials_total",
			Help: "Requests denied by budget admission, by scope level",
		}, []string{"level"}),
		BreakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modelmux_breaker_transitions_total",
			Help: "Circuit breaker state transitions per provider",
		}, []string{"provider", "state"}),
	}
	reg.MustRegister(
		m.RequestsTotal, m.RequestLatency, m.CostUSD,
		m.CacheHits, m.CacheMisses, m.BudgetDenials, m.BreakerTransitions,
	)
	return m
}

func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
