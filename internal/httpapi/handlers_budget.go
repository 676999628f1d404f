package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/modelmux/modelmux/internal/budget"
)

// BudgetSummaryRequest names the identity whose hierarchy to summarize.
type BudgetSummaryRequest struct {
	UserID    string `json:"user_id"`
	TeamID    string `json:"team_id,omitempty"`
	CompanyID string `json:"company_id,omitempty"`
}

// BudgetSummaryHandler returns the current-window usage for every scope in
// the identity's hierarchy.
func BudgetSummaryHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BudgetSummaryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.UserID == "" {
			jsonError(w, "user_id is required", http.StatusBadRequest)
			return
		}

		id := budget.Identity{UserID: req.UserID, TeamID: req.TeamID, CompanyID: req.CompanyID}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"scopes": d.Budget.HierarchySummary(r.Context(), id),
		})
	}
}

// CacheClearHandler purges every cache tier. When an admin token is
// configured the caller must present it in X-Admin-Token; the Authorization
// header already carries the API key on this route group.
func CacheClearHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.AdminToken != "" &&
			subtle.ConstantTimeCompare([]byte(r.Header.Get("X-Admin-Token")), []byte(d.AdminToken)) != 1 {
			jsonError(w, "authorization: admin token required", http.StatusUnauthorized)
			return
		}
		if err := d.Cache.Clear(r.Context()); err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
	}
}
