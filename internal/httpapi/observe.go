package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/modelmux/modelmux/internal/events"
	"github.com/modelmux/modelmux/internal/router"
)

// jsonError writes a JSON-encoded error response with the given status code.
// Response body format: {"success": false, "error": "<msg>"}
func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": msg})
}

// recordObservability feeds one completed routing response into Prometheus
// and the event bus. Rolling stats and the request log are recorded inside
// the router itself; this covers the sinks that belong to the HTTP surface.
func recordObservability(d Dependencies, resp router.Response) {
	if d.Metrics != nil {
		status := "success"
		if !resp.Success {
			status = "error"
		}
		tier := resp.Metadata.ComplexityTier
		d.Metrics.RequestsTotal.WithLabelValues(resp.ProviderID, tier, status).Inc()
		if resp.Success {
			d.Metrics.RequestLatency.WithLabelValues(resp.ProviderID, tier).Observe(resp.LatencyMs)
			d.Metrics.CostUSD.WithLabelValues(resp.ProviderID, resp.Model).Add(resp.CostUSD)
		}
		if resp.CacheHit {
			d.Metrics.CacheHits.WithLabelValues(resp.CacheLevel).Inc()
		} else if resp.Success {
			d.Metrics.CacheMisses.Inc()
		}
		if strings.HasPrefix(resp.Error, "budget exceeded:") {
			level := resp.Metadata.AdmissionLevel
			if level == "" {
				level = "unknown"
			}
			d.Metrics.BudgetDenials.WithLabelValues(level).Inc()
		}
	}

	if d.EventBus != nil {
		switch {
		case strings.HasPrefix(resp.Error, "budget exceeded:"):
			d.EventBus.Publish(events.Event{
				Type:        events.EventBudgetDenied,
				RequestID:   resp.RequestID,
				BudgetLevel: resp.Metadata.AdmissionLevel,
				ErrorMsg:    resp.Error,
			})
		case resp.CacheHit:
			d.EventBus.Publish(events.Event{
				Type:       events.EventCacheHit,
				RequestID:  resp.RequestID,
				ProviderID: resp.ProviderID,
				Model:      resp.Model,
				CacheLevel: resp.CacheLevel,
				CostUSD:    resp.CostUSD,
				LatencyMs:  resp.LatencyMs,
			})
		case resp.Success:
			d.EventBus.Publish(events.Event{
				Type:       events.EventRouteSuccess,
				RequestID:  resp.RequestID,
				ProviderID: resp.ProviderID,
				Model:      resp.Model,
				Tier:       resp.Metadata.ComplexityTier,
				LatencyMs:  resp.LatencyMs,
				CostUSD:    resp.CostUSD,
			})
		default:
			d.EventBus.Publish(events.Event{
				Type:       events.EventRouteError,
				RequestID:  resp.RequestID,
				Tier:       resp.Metadata.ComplexityTier,
				LatencyMs:  resp.LatencyMs,
				ErrorMsg:   resp.Error,
				ErrorClass: errorClassOf(resp.Error),
			})
		}
	}
}

func errorClassOf(msg string) string {
	switch {
	case strings.HasPrefix(msg, "budget exceeded:"):
		return "budget_denied"
	case strings.HasPrefix(msg, "all providers failed:"):
		return "all_providers_failed"
	case strings.HasPrefix(msg, "authorization:"):
		return "authorization_failed"
	default:
		return "internal"
	}
}
