package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/modelmux/modelmux/internal/router"
)

// maxBodyBytes caps the completions request body (1 MB).
const maxBodyBytes = 1 << 20

// CompletionsHandler routes a completion request through the pipeline.
// Routing failures (budget denial, provider exhaustion, validation) are
// carried in the response body with success=false and HTTP 200; only a
// malformed request earns a 4xx.
func CompletionsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

		var req router.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}

		resp := d.Router.Route(r.Context(), req)
		recordObservability(d, resp)

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Request-ID", resp.RequestID)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
