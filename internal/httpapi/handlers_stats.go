package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// StatsResponse is returned by the /v1/stats endpoint.
type StatsResponse struct {
	Global     any `json:"global"`
	ByProvider any `json:"by_provider"`
	Cache      any `json:"cache"`
	Providers  any `json:"providers"`
}

// StatsHandler aggregates the rolling request stats, cache counters, and
// per-provider fleet state into one dashboard payload.
func StatsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := StatsResponse{
			Global:     []any{},
			ByProvider: map[string]any{},
		}
		if d.Stats != nil {
			resp.Global = d.Stats.Global()
			resp.ByProvider = d.Stats.SummaryByProvider()
		}
		if d.Cache != nil {
			resp.Cache = d.Cache.Snapshot(r.Context())
		}
		if d.Registry != nil {
			resp.Providers = d.Registry.Snapshot()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// ProvidersHandler returns the provider fleet snapshot on its own.
func ProvidersHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"providers": d.Registry.Snapshot()})
	}
}

// RequestLogsHandler pages through the persisted request log, newest first.
func RequestLogsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Store == nil {
			jsonError(w, "request log not configured", http.StatusNotFound)
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		logs, err := d.Store.ListRequestLogs(r.Context(), limit, offset)
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"logs": logs})
	}
}
