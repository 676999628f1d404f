package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/modelmux/modelmux/internal/auth"
	"github.com/modelmux/modelmux/internal/budget"
	"github.com/modelmux/modelmux/internal/cache"
	"github.com/modelmux/modelmux/internal/complexity"
	"github.com/modelmux/modelmux/internal/events"
	"github.com/modelmux/modelmux/internal/idempotency"
	"github.com/modelmux/modelmux/internal/metrics"
	"github.com/modelmux/modelmux/internal/providers"
	"github.com/modelmux/modelmux/internal/registry"
	"github.com/modelmux/modelmux/internal/router"
	"github.com/modelmux/modelmux/internal/stats"
	"github.com/modelmux/modelmux/internal/store"
)

type scriptedAdapter struct {
	id    string
	errs  []error
	calls int
}

func (s *scriptedAdapter) ID() string { return s.id }

func (s *scriptedAdapter) Complete(ctx context.Context, model string, req providers.CompletionRequest) (providers.Completion, error) {
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return providers.Completion{}, err
		}
	}
	return providers.Completion{
		Content:          "echo: " + req.Prompt,
		Model:            model,
		PromptTokens:     providers.EstimateTokens(req.Prompt),
		CompletionTokens: 10,
		TotalTokens:      providers.EstimateTokens(req.Prompt) + 10,
	}, nil
}

func (s *scriptedAdapter) ClassifyError(err error) *providers.ClassifiedError {
	return &providers.ClassifiedError{Err: err, Class: providers.ErrTransient}
}

type harness struct {
	deps Dependencies
	mux  *chi.Mux
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	reg := registry.New()
	for _, cfg := range []registry.Config{
		{
			ID: "groq", Tags: []string{registry.TagFast},
			Models:          []string{"llama-3.1-8b-instant"},
			InputPricePer1K: 0.0001, OutputPricePer1K: 0.0001,
			Enabled: true, FailureThreshold: 2,
		},
		{
			ID: "anthropic", Tags: []string{registry.TagCapable},
			Models:          []string{"claude-opus-4"},
			InputPricePer1K: 0.003, OutputPricePer1K: 0.015,
			Enabled: true, FailureThreshold: 2,
		},
	} {
		if err := reg.Register(cfg, &scriptedAdapter{id: cfg.ID}); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	db, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctrl := budget.NewController()
	cm := cache.NewManager()
	coll := stats.NewCollector()

	deps := Dependencies{
		Router: &router.Router{
			Analyzer: complexity.New(complexity.DefaultConfig()),
			Budget:   ctrl,
			Cache:    cm,
			Registry: reg,
			Stats:    coll,
		},
		Budget:     ctrl,
		Cache:      cm,
		Registry:   reg,
		Metrics:    metrics.New(),
		Stats:      coll,
		Store:      db,
		EventBus:   events.NewBus(),
		AdminToken: "test-admin-token",
	}

	mux := chi.NewRouter()
	MountRoutes(mux, deps)
	return &harness{deps: deps, mux: mux}
}

func (h *harness) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.mux.ServeHTTP(rr, req)
	return rr
}

func (h *harness) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) router.Response {
	t.Helper()
	var resp router.Response
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (body %s)", err, rr.Body.String())
	}
	return resp
}

func TestCompletionsEndToEnd(t *testing.T) {
	h := newHarness(t)

	rr := h.post(t, "/v1/chat/completions", map[string]any{
		"prompt":  "What is the capital of France?",
		"user_id": "alice",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	resp := decodeResponse(t, rr)
	if !resp.Success {
		t.Fatalf("unexpected failure: %s", resp.Error)
	}
	if resp.ProviderID != "groq" {
		t.Errorf("provider = %s, want groq", resp.ProviderID)
	}
	if resp.RequestID == "" {
		t.Error("request id missing")
	}
	if rr.Header().Get("X-Request-ID") != resp.RequestID {
		t.Error("X-Request-ID header should match body request id")
	}
	if !strings.HasPrefix(resp.Content, "echo: ") {
		t.Errorf("content = %q", resp.Content)
	}
}

func TestCompletionsBadJSON(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader("{not json"))
	rr := httptest.NewRecorder()
	h.mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestCompletionsBudgetDenialIsHTTP200(t *testing.T) {
	h := newHarness(t)
	if err := h.deps.Budget.SetConfig(budget.Config{
		Level: budget.LevelUser, EntityID: "broke",
		Period: budget.PeriodMonthly, LimitUSD: 1, WarningThreshold: 0.8,
	}); err != nil {
		t.Fatalf("set config: %v", err)
	}
	if err := h.deps.Budget.RecordUsage(context.Background(), budget.Identity{UserID: "broke"}, 1.5); err != nil {
		t.Fatalf("record usage: %v", err)
	}

	rr := h.post(t, "/v1/chat/completions", map[string]any{
		"prompt":  "What is the capital of France?",
		"user_id": "broke",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("budget denial must be HTTP 200, got %d", rr.Code)
	}
	resp := decodeResponse(t, rr)
	if resp.Success {
		t.Fatal("expected success=false")
	}
	if !strings.HasPrefix(resp.Error, "budget exceeded:") {
		t.Fatalf("error = %q", resp.Error)
	}
}

func TestCompletionsRecordsPrometheusMetrics(t *testing.T) {
	h := newHarness(t)
	h.post(t, "/v1/chat/completions", map[string]any{
		"prompt":  "What is the capital of France?",
		"user_id": "alice",
	})

	rr := h.get(t, "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `modelmux_requests_total{provider="groq"`) {
		t.Error("expected request counter for groq in /metrics output")
	}
	if !strings.Contains(body, "modelmux_cache_misses_total 1") {
		t.Error("expected one cache miss recorded")
	}
}

func TestStatsEndpoint(t *testing.T) {
	h := newHarness(t)
	h.post(t, "/v1/chat/completions", map[string]any{
		"prompt":  "What is the capital of France?",
		"user_id": "alice",
	})

	rr := h.get(t, "/v1/stats")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body struct {
		Global    []stats.Aggregate         `json:"global"`
		Cache     cache.Stats               `json:"cache"`
		Providers []registry.ProviderStatus `json:"providers"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Global) == 0 {
		t.Error("expected global aggregates")
	}
	if len(body.Providers) != 2 {
		t.Errorf("providers = %d, want 2", len(body.Providers))
	}
	if body.Cache.Misses != 1 {
		t.Errorf("cache misses = %d, want 1", body.Cache.Misses)
	}
}

func TestBudgetSummaryEndpoint(t *testing.T) {
	h := newHarness(t)
	rr := h.post(t, "/v1/budget/summary", map[string]any{
		"user_id": "alice",
		"team_id": "platform",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body struct {
		Scopes []budget.Usage `json:"scopes"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Scopes) != 2 {
		t.Fatalf("scopes = %d, want 2 (user + team)", len(body.Scopes))
	}

	rr = h.post(t, "/v1/budget/summary", map[string]any{})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing user_id: status = %d, want 400", rr.Code)
	}
}

func TestCacheClearEndpoint(t *testing.T) {
	h := newHarness(t)
	body := map[string]any{"prompt": "What is the capital of France?", "user_id": "alice"}

	h.post(t, "/v1/chat/completions", body)
	if resp := decodeResponse(t, h.post(t, "/v1/chat/completions", body)); !resp.CacheHit {
		t.Fatal("second identical request should hit the cache")
	}

	// Clearing is denied without the configured admin token.
	if rr := h.post(t, "/v1/cache/clear", map[string]any{}); rr.Code != http.StatusUnauthorized {
		t.Fatalf("clear without admin token: status = %d, want 401", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/cache/clear", strings.NewReader("{}"))
	req.Header.Set("X-Admin-Token", "test-admin-token")
	rr := httptest.NewRecorder()
	h.mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("clear status = %d", rr.Code)
	}

	if resp := decodeResponse(t, h.post(t, "/v1/chat/completions", body)); resp.CacheHit {
		t.Fatal("request after clear should miss")
	}
}

func TestHealthEndpoint(t *testing.T) {
	h := newHarness(t)
	rr := h.get(t, "/health")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}

	// A gateway with no providers cannot route anything.
	empty := Dependencies{Registry: registry.New()}
	mux := chi.NewRouter()
	MountRoutes(mux, empty)
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("empty registry: status = %d, want 503", rr.Code)
	}
}

func TestBearerAuthOnV1Routes(t *testing.T) {
	h := newHarness(t)
	h.deps.KeyMgr = auth.NewManager(h.deps.Store)
	mux := chi.NewRouter()
	MountRoutes(mux, h.deps)

	body := map[string]any{"prompt": "hello", "user_id": "alice"}
	raw, _ := json.Marshal(body)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(raw))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d, want 401", rr.Code)
	}

	plaintext, _, err := h.deps.KeyMgr.Generate(context.Background(), "ci")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	req = httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(raw))
	req.Header.Set("Authorization", "Bearer "+plaintext)
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("valid token: status = %d, body %s", rr.Code, rr.Body.String())
	}
}

func TestAdminAPIKeyLifecycle(t *testing.T) {
	h := newHarness(t)
	h.deps.KeyMgr = auth.NewManager(h.deps.Store)
	mux := chi.NewRouter()
	MountRoutes(mux, h.deps)

	admin := func(method, path string, body io.Reader) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, body)
		req.Header.Set("Authorization", "Bearer test-admin-token")
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)
		return rr
	}

	// Wrong token is rejected.
	req := httptest.NewRequest(http.MethodGet, "/admin/v1/apikeys", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong admin token: status = %d, want 401", rr.Code)
	}

	rr = admin(http.MethodPost, "/admin/v1/apikeys", strings.NewReader(`{"name":"ci"}`))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, body %s", rr.Code, rr.Body.String())
	}
	var created struct {
		Key    string             `json:"key"`
		Record store.APIKeyRecord `json:"record"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create: %v", err)
	}
	if !strings.HasPrefix(created.Key, "modelmux_") {
		t.Errorf("key = %q", created.Key)
	}

	rr = admin(http.MethodGet, "/admin/v1/apikeys", nil)
	var listed struct {
		Keys []store.APIKeyRecord `json:"keys"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed.Keys) != 1 {
		t.Fatalf("keys = %d, want 1", len(listed.Keys))
	}

	rr = admin(http.MethodPost, "/admin/v1/apikeys/"+created.Record.ID+"/rotate", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("rotate: status = %d", rr.Code)
	}
	var rotated struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &rotated); err != nil {
		t.Fatalf("decode rotate: %v", err)
	}
	if rotated.Key == created.Key {
		t.Error("rotation returned the same key")
	}

	rr = admin(http.MethodDelete, "/admin/v1/apikeys/"+created.Record.ID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("disable: status = %d", rr.Code)
	}
	if _, err := h.deps.KeyMgr.Validate(context.Background(), rotated.Key); err == nil {
		t.Error("disabled key should not validate")
	}
}

func TestRequestLogsEndpoint(t *testing.T) {
	h := newHarness(t)
	if err := h.deps.Store.LogRequest(context.Background(), store.RequestLog{
		RequestID: "req-1", UserID: "alice", ProviderID: "groq", Success: true,
	}); err != nil {
		t.Fatalf("log: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/admin/v1/logs?limit=10", nil)
	req.Header.Set("Authorization", "Bearer test-admin-token")
	rr := httptest.NewRecorder()
	h.mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body struct {
		Logs []store.RequestLog `json:"logs"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Logs) != 1 || body.Logs[0].RequestID != "req-1" {
		t.Fatalf("logs = %+v", body.Logs)
	}
}

func TestEventBusReceivesRouteEvents(t *testing.T) {
	h := newHarness(t)
	sub := h.deps.EventBus.Subscribe(8)
	defer h.deps.EventBus.Unsubscribe(sub)

	h.post(t, "/v1/chat/completions", map[string]any{
		"prompt":  "What is the capital of France?",
		"user_id": "alice",
	})

	select {
	case e := <-sub.C:
		if e.Type != events.EventRouteSuccess {
			t.Fatalf("event type = %s, want route_success", e.Type)
		}
		if e.ProviderID != "groq" {
			t.Errorf("provider = %s", e.ProviderID)
		}
	default:
		t.Fatal("no event published")
	}
}

func TestIdempotencyReplayOnCompletions(t *testing.T) {
	h := newHarness(t)
	// Rebuild with the idempotency cache enabled.
	h.deps.IdemCache = idempotency.New(time.Minute, 64)
	mux := chi.NewRouter()
	MountRoutes(mux, h.deps)

	body := map[string]any{"prompt": "hello there", "user_id": "alice"}
	raw, _ := json.Marshal(body)

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(raw))
		req.Header.Set("Idempotency-Key", "same-key")
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)
		return rr
	}

	first := send()
	if first.Code != http.StatusOK {
		t.Fatalf("first: status = %d", first.Code)
	}
	second := send()
	if second.Header().Get("Idempotency-Replay") != "true" {
		t.Fatal("second request should be a replay")
	}
	if second.Body.String() != first.Body.String() {
		t.Error("replayed body should be byte-identical")
	}
}
