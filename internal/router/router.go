// Package router sequences the request pipeline: canonicalize, score,
// admit, consult the cache, pick a provider, execute, settle. It owns no
// policy of its own; every decision is delegated to the component that
// holds it.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/modelmux/modelmux/internal/budget"
	"github.com/modelmux/modelmux/internal/cache"
	"github.com/modelmux/modelmux/internal/complexity"
	"github.com/modelmux/modelmux/internal/optimizer"
	"github.com/modelmux/modelmux/internal/providers"
	"github.com/modelmux/modelmux/internal/registry"
	"github.com/modelmux/modelmux/internal/stats"
	"github.com/modelmux/modelmux/internal/store"
)

// Router wires the pipeline components. All fields are required except
// Stats and Store, which are optional observers.
type Router struct {
	Analyzer *complexity.Analyzer
	Budget   *budget.Controller
	Cache    *cache.Manager
	Registry *registry.Registry
	Stats    *stats.Collector
	Store    store.Store

	// CacheKeyParams mixes the request's provider preference, temperature,
	// and max_tokens into the cache key. Off by default: prompts that differ
	// only in sampling parameters share an entry.
	CacheKeyParams bool
}

// Route runs one request through the pipeline and always returns a
// Response; failures are carried in it rather than as an error.
func (rt *Router) Route(ctx context.Context, req Request) Response {
	start := time.Now()

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	ctx = providers.WithRequestID(ctx, req.ID)

	resp := rt.route(ctx, req, start)
	resp.RequestID = req.ID
	resp.LatencyMs = float64(time.Since(start).Microseconds()) / 1000

	rt.observe(ctx, req, resp)
	return resp
}

func (rt *Router) route(ctx context.Context, req Request, start time.Time) Response {
	if req.Prompt == "" {
		return failure("internal: empty prompt", Metadata{})
	}
	if req.UserID == "" {
		return failure("internal: user_id is required", Metadata{})
	}
	if req.Priority != "" && !req.Priority.Valid() {
		return failure(fmt.Sprintf("internal: unknown priority %q", req.Priority), Metadata{})
	}
	if req.Temperature < 0 || req.Temperature > 2 {
		return failure(fmt.Sprintf("internal: temperature %.2f out of range [0,2]", req.Temperature), Metadata{})
	}

	// Canonicalize, then score the canonical form.
	canonical, optStats := optimizer.Optimize(req.Prompt)
	score := rt.Analyzer.Analyze(canonical)

	md := Metadata{
		ComplexityTier:  string(score.Tier),
		ComplexityScore: score.Overall,
		ReductionPct:    optStats.ReductionPct,
	}

	// Admission runs against the estimate; the debit later uses actual cost.
	identity := budget.Identity{UserID: req.UserID, TeamID: req.TeamID, CompanyID: req.CompanyID}
	estimated := budget.EstimateCost(score.EstimatedTokens, score.Overall, req.Temperature, req.Provider)
	auth := rt.Budget.CheckAuthorization(ctx, identity, estimated)
	md.AdmissionStatus = string(auth.Status)
	md.AdmissionLevel = string(auth.Level)
	md.EstimatedCost = estimated
	if !auth.Approved {
		return failure(fmt.Sprintf("budget exceeded: %s", auth.Message), md)
	}

	// Cache consult. A hit replays the stored completion with no budget
	// debit; the original call already paid.
	key := rt.cacheKey(canonical, req)
	lookupStart := time.Now()
	entry, hitLevel := rt.Cache.Lookup(ctx, key)
	md.LookupTimeMs = float64(time.Since(lookupStart).Microseconds()) / 1000
	if entry != nil {
		md.LevelsChecked = hitLevel
		return Response{
			Content:          entry.Content,
			ProviderID:       entry.ProviderID,
			Model:            entry.Model,
			PromptTokens:     entry.PromptTokens,
			CompletionTokens: entry.CompletionTokens,
			TotalTokens:      entry.TotalTokens,
			CostUSD:          entry.CostUSD,
			CacheHit:         true,
			CacheLevel:       fmt.Sprintf("l%d", hitLevel),
			Success:          true,
			Metadata:         md,
		}
	}
	md.LevelsChecked = rt.Cache.Tiers()

	sel, err := rt.Registry.Select(score.Tier, req.Provider)
	if err != nil {
		return failure(fmt.Sprintf("all providers failed: %v", err), md)
	}
	md.SelectionReason = sel.Reason

	attempt, err := rt.Registry.ExecuteChain(ctx, sel, providers.CompletionRequest{
		Prompt:      canonical,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		// No debit on exhaustion; nothing was served.
		return failure(fmt.Sprintf("all providers failed: %v", err), md)
	}

	if err := rt.Budget.RecordUsage(ctx, identity, attempt.CostUSD); err != nil {
		slog.Warn("budget debit failed",
			slog.String("request_id", req.ID),
			slog.String("error", err.Error()))
	}
	rt.Cache.StoreEntry(ctx, key, cache.Entry{
		Content:          attempt.Completion.Content,
		ProviderID:       attempt.ProviderID,
		Model:            attempt.Completion.Model,
		PromptTokens:     attempt.Completion.PromptTokens,
		CompletionTokens: attempt.Completion.CompletionTokens,
		TotalTokens:      attempt.Completion.TotalTokens,
		CostUSD:          attempt.CostUSD,
	})

	return Response{
		Content:          attempt.Completion.Content,
		ProviderID:       attempt.ProviderID,
		Model:            attempt.Completion.Model,
		PromptTokens:     attempt.Completion.PromptTokens,
		CompletionTokens: attempt.Completion.CompletionTokens,
		TotalTokens:      attempt.Completion.TotalTokens,
		CostUSD:          attempt.CostUSD,
		Success:          true,
		Metadata:         md,
	}
}

func failure(msg string, md Metadata) Response {
	return Response{Success: false, Error: msg, Metadata: md}
}

// observe feeds the optional stats collector and the request log. Neither
// gates the response.
func (rt *Router) observe(ctx context.Context, req Request, resp Response) {
	if rt.Stats != nil {
		rt.Stats.Record(stats.Snapshot{
			ModelID:      resp.Model,
			ProviderID:   resp.ProviderID,
			LatencyMs:    resp.LatencyMs,
			CostUSD:      resp.CostUSD,
			Success:      resp.Success,
			CacheHit:     resp.CacheHit,
			CacheLevel:   cacheLevelOrdinal(resp.CacheLevel),
			InputTokens:  resp.PromptTokens,
			OutputTokens: resp.CompletionTokens,
		})
	}
	if rt.Store != nil {
		entry := store.RequestLog{
			RequestID:  req.ID,
			UserID:     req.UserID,
			ProviderID: resp.ProviderID,
			Model:      resp.Model,
			LatencyMs:  resp.LatencyMs,
			CostUSD:    resp.CostUSD,
			CacheHit:   resp.CacheHit,
			CacheLevel: resp.CacheLevel,
			Success:    resp.Success,
			ErrorClass: errorClass(resp.Error),
			Timestamp:  time.Now(),
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := rt.Store.LogRequest(ctx, entry); err != nil {
				slog.Warn("request log write failed",
					slog.String("request_id", entry.RequestID),
					slog.String("error", err.Error()))
			}
		}()
	}
}

func (rt *Router) cacheKey(canonical string, req Request) string {
	if !rt.CacheKeyParams {
		return cache.Key(canonical)
	}
	return cache.Key(canonical,
		req.Provider,
		fmt.Sprintf("%.2f", req.Temperature),
		fmt.Sprintf("%d", req.MaxTokens),
	)
}

func cacheLevelOrdinal(level string) int {
	switch level {
	case "l1":
		return 1
	case "l2":
		return 2
	case "l3":
		return 3
	}
	return 0
}

// errorClass buckets the response error by its prefix for the request log.
func errorClass(errMsg string) string {
	switch {
	case errMsg == "":
		return ""
	case strings.HasPrefix(errMsg, "budget exceeded:"):
		return "budget_denied"
	case strings.HasPrefix(errMsg, "all providers failed:"):
		return "all_providers_failed"
	case strings.HasPrefix(errMsg, "authorization:"):
		return "authorization_failed"
	}
	return "internal"
}
