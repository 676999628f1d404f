package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/modelmux/modelmux/internal/auth"
	"github.com/modelmux/modelmux/internal/budget"
	"github.com/modelmux/modelmux/internal/cache"
	"github.com/modelmux/modelmux/internal/events"
	"github.com/modelmux/modelmux/internal/health"
	"github.com/modelmux/modelmux/internal/idempotency"
	"github.com/modelmux/modelmux/internal/metrics"
	"github.com/modelmux/modelmux/internal/ratelimit"
	"github.com/modelmux/modelmux/internal/registry"
	"github.com/modelmux/modelmux/internal/router"
	"github.com/modelmux/modelmux/internal/stats"
	"github.com/modelmux/modelmux/internal/store"
)

// Dependencies carries everything the handlers need. Optional fields are
// documented as such; handlers skip nil subsystems.
type Dependencies struct {
	Router   *router.Router
	Budget   *budget.Controller
	Cache    *cache.Manager
	Registry *registry.Registry

	Metrics  *metrics.Registry
	Stats    *stats.Collector
	Store    store.Store
	Health   *health.Checker
	EventBus *events.Bus

	// Bearer-key auth on /v1 routes (nil disables auth).
	KeyMgr *auth.Manager

	// Per-client rate limiting (nil disables).
	Limiter *ratelimit.Limiter

	// Idempotency-Key replay for the completions endpoint (nil disables).
	IdemCache *idempotency.Cache

	// AdminToken guards /admin/v1. Empty disables the admin surface.
	AdminToken string
}

func MountRoutes(r chi.Router, d Dependencies) {
	r.Get("/health", HealthHandler(d))
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		if d.KeyMgr != nil {
			r.Use(auth.Middleware(d.KeyMgr))
		}
		if d.Limiter != nil {
			r.Use(d.Limiter.Middleware)
		}

		r.With(idemMiddleware(d)).Post("/chat/completions", CompletionsHandler(d))
		r.Get("/stats", StatsHandler(d))
		r.Get("/providers", ProvidersHandler(d))
		r.Post("/budget/summary", BudgetSummaryHandler(d))
		r.Post("/cache/clear", CacheClearHandler(d))
	})

	if d.AdminToken != "" {
		r.Route("/admin/v1", func(r chi.Router) {
			r.Use(adminAuth(d.AdminToken))
			r.Post("/apikeys", APIKeysCreateHandler(d))
			r.Get("/apikeys", APIKeysListHandler(d))
			r.Post("/apikeys/{id}/rotate", APIKeysRotateHandler(d))
			r.Delete("/apikeys/{id}", APIKeysDisableHandler(d))
			r.Get("/logs", RequestLogsHandler(d))
			if d.EventBus != nil {
				r.Get("/events", SSEHandler(d.EventBus))
			}
		})
	}
}

func idemMiddleware(d Dependencies) func(http.Handler) http.Handler {
	if d.IdemCache == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return idempotency.Middleware(d.IdemCache)
}

// adminAuth guards the admin surface with a constant-time token compare.
func adminAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := bearerToken(r)
			if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
				jsonError(w, "authorization: invalid admin token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

// HealthHandler reports dependency health plus a provider headcount. The
// endpoint degrades to 503 when any probed dependency is down or no
// providers are registered.
func HealthHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		providerCount := 0
		if d.Registry != nil {
			providerCount = len(d.Registry.Snapshot())
		}

		healthy := providerCount > 0
		var checks []health.Result
		if d.Health != nil {
			checks = d.Health.Snapshot()
			healthy = healthy && d.Health.Healthy()
		}

		status := "ok"
		code := http.StatusOK
		if !healthy {
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":    status,
			"providers": providerCount,
			"checks":    checks,
		})
	}
}
