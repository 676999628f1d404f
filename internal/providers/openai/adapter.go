// Package openai adapts the OpenAI chat completions API.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/modelmux/modelmux/internal/providers"
)

// Adapter calls the OpenAI chat completions endpoint.
type Adapter struct {
	id      string
	apiKey  string
	baseURL string
	client  *http.Client
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		a.client.Timeout = d
	}
}

// New creates a new OpenAI adapter. The default timeout is 60s.
func New(id, apiKey, baseURL string, opts ...Option) *Adapter {
	a := &Adapter{
		id:      id,
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Adapter) ID() string { return a.id }

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete sends the prompt as a single-turn chat and normalizes the reply.
func (a *Adapter) Complete(ctx context.Context, model string, req providers.CompletionRequest) (providers.Completion, error) {
	payload := map[string]any{
		"model": model,
		"messages": []map[string]string{
			{"role": "user", "content": req.Prompt},
		},
	}
	if req.MaxTokens > 0 {
		payload["max_tokens"] = req.MaxTokens
	}
	if req.Temperature > 0 {
		payload["temperature"] = req.Temperature
	}

	headers := map[string]string{"Authorization": "Bearer " + a.apiKey}
	body, err := providers.DoRequest(ctx, a.client, a.baseURL+"/v1/chat/completions", payload, headers)
	if err != nil {
		return providers.Completion{}, err
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return providers.Completion{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return providers.Completion{}, fmt.Errorf("response contained no choices")
	}

	c := providers.Completion{
		Content:          parsed.Choices[0].Message.Content,
		Model:            parsed.Model,
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
		TotalTokens:      parsed.Usage.TotalTokens,
	}
	if c.Model == "" {
		c.Model = model
	}
	if c.TotalTokens == 0 {
		c.PromptTokens = providers.EstimateTokens(req.Prompt)
		c.CompletionTokens = providers.EstimateTokens(c.Content)
		c.TotalTokens = c.PromptTokens + c.CompletionTokens
	}
	return c, nil
}

func (a *Adapter) ClassifyError(err error) *providers.ClassifiedError {
	var se *providers.StatusError
	if !errors.As(err, &se) {
		// No status means the call never reached the provider; safe to
		// try another one.
		return &providers.ClassifiedError{Err: err, Class: providers.ErrTransient}
	}
	if ce := providers.ClassifyStatus(err, se); ce != nil {
		return ce
	}
	if strings.Contains(se.Body, "context_length_exceeded") {
		return &providers.ClassifiedError{Err: err, Class: providers.ErrContextOverflow}
	}
	return &providers.ClassifiedError{Err: err, Class: providers.ErrFatal}
}
