package store

import (
	"context"
	"time"
)

// Store defines the persistence interface for modelmux: the durable cache
// tier, budget usage ledgers, API keys, and the request audit log.
type Store interface {
	// Durable cache tier (T3). Entries are opaque JSON owned by the cache
	// package; the store only enforces the key and expiry.
	GetCacheEntry(ctx context.Context, key string) (*CacheRow, error)
	PutCacheEntry(ctx context.Context, row CacheRow) error
	DeleteCacheEntry(ctx context.Context, key string) error
	ClearCache(ctx context.Context) error
	CountCacheEntries(ctx context.Context) (int64, error)

	// Budget usage ledger, one row per (level, entity_id). Rollover replaces
	// the row with a fresh window.
	GetBudgetUsage(ctx context.Context, level, entityID string) (*BudgetUsageRecord, error)
	PutBudgetUsage(ctx context.Context, rec BudgetUsageRecord) error

	// API keys for bearer-token auth.
	CreateAPIKey(ctx context.Context, rec APIKeyRecord) error
	GetAPIKey(ctx context.Context, id string) (*APIKeyRecord, error)
	ListAPIKeys(ctx context.Context) ([]APIKeyRecord, error)
	UpdateAPIKey(ctx context.Context, rec APIKeyRecord) error

	// Request log (for audit and the stats endpoint's recent view).
	LogRequest(ctx context.Context, entry RequestLog) error
	ListRequestLogs(ctx context.Context, limit, offset int) ([]RequestLog, error)

	// Schema lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// CacheRow is a persisted T3 cache entry. Entry holds the serialized
// cache.Entry; ExpiresAt is enforced on read (expired rows read as absent).
type CacheRow struct {
	Key       string    `json:"key"`
	Entry     []byte    `json:"entry"`
	ExpiresAt time.Time `json:"expires_at"`
}

// BudgetUsageRecord is the persisted spend for one budget scope's current
// window.
type BudgetUsageRecord struct {
	Level        string    `json:"level"`
	EntityID     string    `json:"entity_id"`
	PeriodStart  time.Time `json:"period_start"`
	PeriodEnd    time.Time `json:"period_end"`
	UsedUSD      float64   `json:"used_usd"`
	RequestCount int64     `json:"request_count"`
	LastUpdated  time.Time `json:"last_updated"`
}

// APIKeyRecord is the persisted form of a bearer API key. KeyHash is a
// bcrypt hash; the plaintext is returned exactly once at creation.
type APIKeyRecord struct {
	ID         string     `json:"id"`
	KeyHash    string     `json:"-"`
	KeyPrefix  string     `json:"key_prefix"`
	Name       string     `json:"name"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	Enabled    bool       `json:"enabled"`
}

// RequestLog captures a single routed request for audit/dashboard.
type RequestLog struct {
	ID         int64     `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id"`
	UserID     string    `json:"user_id"`
	ProviderID string    `json:"provider_id"`
	Model      string    `json:"model"`
	CostUSD    float64   `json:"cost_usd"`
	LatencyMs  float64   `json:"latency_ms"`
	CacheHit   bool      `json:"cache_hit"`
	CacheLevel string    `json:"cache_level,omitempty"`
	Success    bool      `json:"success"`
	ErrorClass string    `json:"error_class,omitempty"`
}
