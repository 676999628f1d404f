// Package providers holds the shared contract between the gateway and the
// upstream model adapters: the normalized request and completion shapes, the
// HTTP helper, and error classification.
package providers

import (
	"fmt"
	"strconv"
)

// CompletionRequest is the normalized prompt handed to an adapter. The
// prompt has already been canonicalized; adapters only translate it into
// the provider's wire format.
type CompletionRequest struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Completion is a normalized provider reply. Token counts come from the
// provider's usage block when present; adapters estimate otherwise.
type Completion struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ErrorClass buckets provider failures for retry and fallback decisions.
type ErrorClass string

const (
	// ErrRateLimited means the provider throttled us; another provider may
	// still serve the request.
	ErrRateLimited ErrorClass = "rate_limited"
	// ErrTransient covers 5xx and network failures; safe to fall back.
	ErrTransient ErrorClass = "transient"
	// ErrContextOverflow means the prompt exceeded the model's window.
	ErrContextOverflow ErrorClass = "context_overflow"
	// ErrAuth means the provider rejected our credentials. Falling back is
	// pointless for this provider but others may still work.
	ErrAuth ErrorClass = "auth"
	// ErrFatal is anything else; the request itself is likely bad.
	ErrFatal ErrorClass = "fatal"
)

// ClassifiedError wraps a provider error with its class and an optional
// retry hint in seconds.
type ClassifiedError struct {
	Err        error
	Class      ErrorClass
	RetryAfter int
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// StatusError captures an HTTP status code from a provider response.
// Adapters return it so ClassifyError can inspect the status and body.
type StatusError struct {
	StatusCode     int
	Body           string
	RetryAfterSecs int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Body)
}

// ParseRetryAfter records a Retry-After header value. Only the
// delta-seconds form is honored; HTTP-date values are ignored.
func (e *StatusError) ParseRetryAfter(header string) {
	if header == "" {
		return
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		e.RetryAfterSecs = secs
	}
}

// EstimateTokens approximates a token count at four characters per token
// for providers that omit usage data.
func EstimateTokens(text string) int {
	return len(text) / 4
}
