package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// APIKeyCreateRequest is the body for POST /admin/v1/apikeys.
type APIKeyCreateRequest struct {
	Name string `json:"name"`
}

// APIKeysCreateHandler issues a new bearer key. The plaintext appears in
// this response and nowhere else.
func APIKeysCreateHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.KeyMgr == nil {
			jsonError(w, "api keys not configured", http.StatusNotFound)
			return
		}
		var req APIKeyCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.Name == "" {
			jsonError(w, "name is required", http.StatusBadRequest)
			return
		}
		plaintext, rec, err := d.KeyMgr.Generate(r.Context(), req.Name)
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"key":    plaintext,
			"record": rec,
		})
	}
}

func APIKeysListHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Store == nil {
			jsonError(w, "api keys not configured", http.StatusNotFound)
			return
		}
		keys, err := d.Store.ListAPIKeys(r.Context())
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": keys})
	}
}

// APIKeysRotateHandler replaces a key's secret; the new plaintext appears
// in this response and nowhere else.
func APIKeysRotateHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.KeyMgr == nil {
			jsonError(w, "api keys not configured", http.StatusNotFound)
			return
		}
		plaintext, err := d.KeyMgr.Rotate(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			jsonError(w, err.Error(), http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"key": plaintext})
	}
}

// APIKeysDisableHandler revokes a key without deleting its record.
func APIKeysDisableHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.KeyMgr == nil {
			jsonError(w, "api keys not configured", http.StatusNotFound)
			return
		}
		if err := d.KeyMgr.Disable(r.Context(), chi.URLParam(r, "id")); err != nil {
			jsonError(w, err.Error(), http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
	}
}
