// Package cache is a three-tier response cache for completed provider
// calls. Tier 1 is an in-process LRU with a short TTL, tier 2 a shared
// Redis with a medium TTL, tier 3 a durable SQLite table with a long TTL.
// Hits below tier 1 are promoted upward so hot prompts converge on the
// fastest tier.
package cache

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"
)

// Tier TTLs. A hit promoted upward gets the destination tier's TTL, not
// the remainder of the source tier's.
const (
	MemoryTTL = 5 * time.Minute
	RedisTTL  = 1 * time.Hour
	StoreTTL  = 24 * time.Hour
)

// DefaultMemorySize is the tier 1 entry capacity.
const DefaultMemorySize = 1000

// Entry is a cached completion. It carries everything needed to replay the
// response without touching a provider.
type Entry struct {
	Content          string    `json:"content"`
	ProviderID       string    `json:"provider_id"`
	Model            string    `json:"model"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	CostUSD          float64   `json:"cost_usd"`
	CreatedAt        time.Time `json:"created_at"`
}

// Key derives the cache key from a canonical prompt. Callers must pass the
// optimized form, so that prompts differing only in boilerplate share an
// entry. extra carries optional discriminators (model, temperature) when
// parameter-sensitive keying is enabled.
func Key(canonicalPrompt string, extra ...string) string {
	h := md5.New()
	h.Write([]byte(canonicalPrompt))
	for _, e := range extra {
		fmt.Fprintf(h, "|%s", e)
	}
	return hex.EncodeToString(h.Sum(nil))
}
