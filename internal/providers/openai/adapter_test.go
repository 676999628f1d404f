package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/modelmux/modelmux/internal/providers"
)

func TestCompleteSuccess(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("expected Bearer auth, got %s", r.Header.Get("Authorization"))
		}
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if payload["model"] != "gpt-4o-mini" {
			t.Errorf("model = %v", payload["model"])
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model": "gpt-4o-mini",
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "Hello!"}},
			},
			"usage": map[string]int{
				"prompt_tokens":     9,
				"completion_tokens": 3,
				"total_tokens":      12,
			},
		})
	}))
	defer ts.Close()

	a := New("openai", "test-key", ts.URL)
	c, err := a.Complete(context.Background(), "gpt-4o-mini", providers.CompletionRequest{Prompt: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Content != "Hello!" {
		t.Errorf("content = %q", c.Content)
	}
	if c.TotalTokens != 12 || c.PromptTokens != 9 || c.CompletionTokens != 3 {
		t.Errorf("usage = %+v", c)
	}
}

func TestCompleteEstimatesMissingUsage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "four char response"}},
			},
		})
	}))
	defer ts.Close()

	a := New("openai", "test-key", ts.URL)
	c, err := a.Complete(context.Background(), "gpt-4o-mini", providers.CompletionRequest{Prompt: "12345678"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.PromptTokens != 2 {
		t.Errorf("estimated prompt tokens = %d, want 2", c.PromptTokens)
	}
	if c.TotalTokens != c.PromptTokens+c.CompletionTokens {
		t.Errorf("total = %d, want sum of parts", c.TotalTokens)
	}
	if c.Model != "gpt-4o-mini" {
		t.Errorf("model should fall back to the requested one, got %q", c.Model)
	}
}

func TestCompleteEmptyChoices(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer ts.Close()

	a := New("openai", "test-key", ts.URL)
	if _, err := a.Complete(context.Background(), "gpt-4o-mini", providers.CompletionRequest{Prompt: "hi"}); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestClassifyRateLimit(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer ts.Close()

	a := New("openai", "test-key", ts.URL)
	_, err := a.Complete(context.Background(), "gpt-4o-mini", providers.CompletionRequest{Prompt: "hi"})
	if err == nil {
		t.Fatal("expected error")
	}
	if ce := a.ClassifyError(err); ce.Class != providers.ErrRateLimited {
		t.Errorf("class = %s, want rate_limited", ce.Class)
	}
}

func TestClassifyContextOverflow(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"context_length_exceeded"}}`))
	}))
	defer ts.Close()

	a := New("openai", "test-key", ts.URL)
	_, err := a.Complete(context.Background(), "gpt-4o-mini", providers.CompletionRequest{Prompt: "hi"})
	if err == nil {
		t.Fatal("expected error")
	}
	if ce := a.ClassifyError(err); ce.Class != providers.ErrContextOverflow {
		t.Errorf("class = %s, want context_overflow", ce.Class)
	}
}

func TestClassifyServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := New("openai", "test-key", ts.URL)
	_, err := a.Complete(context.Background(), "gpt-4o-mini", providers.CompletionRequest{Prompt: "hi"})
	if err == nil {
		t.Fatal("expected error")
	}
	if ce := a.ClassifyError(err); ce.Class != providers.ErrTransient {
		t.Errorf("class = %s, want transient", ce.Class)
	}
}
