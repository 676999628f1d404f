package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/modelmux/modelmux/internal/store"
)

type contextKey string

const apiKeyContextKey contextKey = "apikey"

// NewContext returns a context carrying the given API key record.
func NewContext(ctx context.Context, rec *store.APIKeyRecord) context.Context {
	return context.WithValue(ctx, apiKeyContextKey, rec)
}

// FromContext returns the API key record attached to the request context.
func FromContext(ctx context.Context) *store.APIKeyRecord {
	if v, ok := ctx.Value(apiKeyContextKey).(*store.APIKeyRecord); ok {
		return v
	}
	return nil
}

// Middleware validates Bearer tokens on incoming requests and rejects
// missing or invalid keys with a 401 JSON body.
func Middleware(mgr *Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := r.Header.Get("X-Real-IP")
			if clientIP == "" {
				clientIP = r.RemoteAddr
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				slog.Warn("auth: missing token", slog.String("ip", clientIP), slog.String("path", r.URL.Path))
				unauthorized(w, "authorization: missing bearer token")
				return
			}
			if !strings.HasPrefix(header, "Bearer ") {
				slog.Warn("auth: invalid format", slog.String("ip", clientIP), slog.String("path", r.URL.Path))
				unauthorized(w, "authorization: invalid authorization format")
				return
			}
			token := strings.TrimPrefix(header, "Bearer ")
			if !strings.HasPrefix(token, KeyPrefix) {
				slog.Warn("auth: invalid key prefix", slog.String("ip", clientIP), slog.String("path", r.URL.Path))
				unauthorized(w, "authorization: invalid api key format")
				return
			}

			rec, err := mgr.Validate(r.Context(), token)
			if err != nil {
				slog.Warn("auth: validation failed",
					slog.String("ip", clientIP),
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()))
				unauthorized(w, "authorization: invalid api key")
				return
			}

			next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), rec)))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   msg,
	})
}
