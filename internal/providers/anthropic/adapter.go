// Package anthropic adapts the Anthropic messages API.
package anthropic

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

const defaultMaxTokens = 4096

// Adapter calls the Anthropic messages endpoint.
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

// New creates a new Anthropic adapter. The default timeout is 60s.
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

type messagesResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Complete sends the prompt as a single-turn message and normalizes the
// reply. Anthropic requires max_tokens, so an unset value gets a default.
func (a *Adapter) Complete(ctx context.Context, model string, req providers.CompletionRequest) (providers.Completion, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	payload := map[string]any{
		"model":      model,
		"max_tokens": maxTokens,
		"messages": []map[string]string{
			{"role": "user", "content": req.Prompt},
		},
	}
	if req.Temperature > 0 {
		payload["temperature"] = req.Temperature
	}

	headers := map[string]string{
		"x-api-key":         a.apiKey,
		"anthropic-version": "2023-06-01",
	}
	body, err := providers.DoRequest(ctx, a.client, a.baseURL+"/v1/messages", payload, headers)
	if err != nil {
		return providers.Completion{}, err
	}

	var parsed messagesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return providers.Completion{}, fmt.Errorf("failed to parse response: %w", err)
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return providers.Completion{}, fmt.Errorf("response contained no text content")
	}

	c := providers.Completion{
		Content:          text.String(),
		Model:            parsed.Model,
		PromptTokens:     parsed.Usage.InputTokens,
		CompletionTokens: parsed.Usage.OutputTokens,
		TotalTokens:      parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
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
		return &providers.ClassifiedError{Err: err, Class: providers.ErrTransient}
	}
	// 529 is Anthropic's overloaded status; treat it like throttling.
	if se.StatusCode == 529 {
		ce := &providers.ClassifiedError{Err: err, Class: providers.ErrRateLimited}
		if se.RetryAfterSecs > 0 {
			ce.RetryAfter = se.RetryAfterSecs
		}
		return ce
	}
	if ce := providers.ClassifyStatus(err, se); ce != nil {
		return ce
	}
	if strings.Contains(se.Body, "prompt is too long") || strings.Contains(se.Body, "prompt_too_long") {
		return &providers.ClassifiedError{Err: err, Class: providers.ErrContextOverflow}
	}
	return &providers.ClassifiedError{Err: err, Class: providers.ErrFatal}
}
