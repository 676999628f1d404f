package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"

	"github.com/modelmux/modelmux/internal/store"
)

const redisKeyPrefix = "modelmux:cache:"

// Stats is a point-in-time snapshot of cache effectiveness.
type Stats struct {
	MemoryHits     int64   `json:"memory_hits"`
	RedisHits      int64   `json:"redis_hits"`
	StoreHits      int64   `json:"store_hits"`
	Misses         int64   `json:"misses"`
	Promotions     int64   `json:"promotions"`
	Stores         int64   `json:"stores"`
	Evictions      int64   `json:"evictions"`
	MemoryEntries  int     `json:"memory_entries"`
	StoreEntries   int64   `json:"store_entries"`
	HitRate        float64 `json:"hit_rate"`
	TotalSavedUSD  float64 `json:"total_saved_usd"`
	RedisAvailable bool    `json:"redis_available"`
	StoreAvailable bool    `json:"store_available"`
}

// Manager coordinates the three tiers. Tier 2 and tier 3 are optional;
// with neither configured it degrades to a plain in-process cache.
type Manager struct {
	mem   *lru.LRU[string, Entry]
	rdb   *redis.Client
	store store.Store

	memoryHits int64
	redisHits  int64
	storeHits  int64
	misses     int64
	promotions int64
	stores     int64
	evictions  int64

	// savedMicros accumulates the USD value of served hits in millionths,
	// so the counter stays a lock-free integer.
	savedMicros int64
}

// Option configures a Manager.
type Option func(*options)

type options struct {
	size  int
	rdb   *redis.Client
	store store.Store
}

// WithMemorySize overrides the tier 1 capacity.
func WithMemorySize(n int) Option {
	return func(o *options) { o.size = n }
}

// WithRedis attaches the tier 2 client.
func WithRedis(c *redis.Client) Option {
	return func(o *options) { o.rdb = c }
}

// WithStore attaches the tier 3 persistence layer.
func WithStore(s store.Store) Option {
	return func(o *options) { o.store = s }
}

// NewManager builds a Manager with tier 1 always live and tiers 2 and 3
// per the supplied options.
func NewManager(opts ...Option) *Manager {
	o := options{size: DefaultMemorySize}
	for _, fn := range opts {
		fn(&o)
	}
	m := &Manager{rdb: o.rdb, store: o.store}
	m.mem = lru.NewLRU(o.size, func(string, Entry) {
		atomic.AddInt64(&m.evictions, 1)
	}, MemoryTTL)
	return m
}

// Lookup walks the tiers in order and returns the first hit with the tier
// it was found at (1, 2 or 3), or (nil, 0) on a miss. Hits below tier 1
// are promoted before returning. Tier errors are logged and treated as
// misses for that tier; a degraded tier never fails a request.
func (m *Manager) Lookup(ctx context.Context, key string) (*Entry, int) {
	if e, ok := m.mem.Get(key); ok {
		atomic.AddInt64(&m.memoryHits, 1)
		m.recordSaving(e.CostUSD)
		return &e, 1
	}

	if m.rdb != nil {
		raw, err := m.rdb.Get(ctx, redisKeyPrefix+key).Bytes()
		switch {
		case err == nil:
			var e Entry
			if jerr := json.Unmarshal(raw, &e); jerr != nil {
				slog.Warn("cache: corrupt redis entry dropped",
					slog.String("key", key), slog.String("error", jerr.Error()))
				m.rdb.Del(ctx, redisKeyPrefix+key)
			} else {
				atomic.AddInt64(&m.redisHits, 1)
				m.recordSaving(e.CostUSD)
				m.promote(ctx, key, e, 2)
				return &e, 2
			}
		case errors.Is(err, redis.Nil):
			// fall through to tier 3
		default:
			slog.Warn("cache: redis lookup failed",
				slog.String("key", key), slog.String("error", err.Error()))
		}
	}

	if m.store != nil {
		row, err := m.store.GetCacheEntry(ctx, key)
		if err != nil {
			slog.Warn("cache: store lookup failed",
				slog.String("key", key), slog.String("error", err.Error()))
		} else if row != nil {
			var e Entry
			if jerr := json.Unmarshal(row.Entry, &e); jerr != nil {
				slog.Warn("cache: corrupt store entry dropped",
					slog.String("key", key), slog.String("error", jerr.Error()))
				if derr := m.store.DeleteCacheEntry(ctx, key); derr != nil {
					slog.Warn("cache: drop failed", slog.String("error", derr.Error()))
				}
			} else {
				atomic.AddInt64(&m.storeHits, 1)
				m.recordSaving(e.CostUSD)
				m.promote(ctx, key, e, 3)
				return &e, 3
			}
		}
	}

	atomic.AddInt64(&m.misses, 1)
	return nil, 0
}

// promote copies a hit into every tier above the one it was found at.
func (m *Manager) promote(ctx context.Context, key string, e Entry, foundAt int) {
	atomic.AddInt64(&m.promotions, 1)
	m.mem.Add(key, e)
	if foundAt >= 3 && m.rdb != nil {
		m.putRedis(ctx, key, e)
	}
}

// StoreEntry writes a fresh completion into all configured tiers. Tier 1
// is synchronous; tiers 2 and 3 are written in the background so the
// response is not gated on them.
func (m *Manager) StoreEntry(ctx context.Context, key string, e Entry) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	atomic.AddInt64(&m.stores, 1)
	m.mem.Add(key, e)

	if m.rdb != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			m.putRedis(ctx, key, e)
		}()
	}
	if m.store != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			raw, err := json.Marshal(e)
			if err != nil {
				slog.Warn("cache: marshal failed", slog.String("error", err.Error()))
				return
			}
			row := store.CacheRow{Key: key, Entry: raw, ExpiresAt: time.Now().Add(StoreTTL)}
			if err := m.store.PutCacheEntry(ctx, row); err != nil {
				slog.Warn("cache: store write failed",
					slog.String("key", key), slog.String("error", err.Error()))
			}
		}()
	}
}

func (m *Manager) putRedis(ctx context.Context, key string, e Entry) {
	raw, err := json.Marshal(e)
	if err != nil {
		slog.Warn("cache: marshal failed", slog.String("error", err.Error()))
		return
	}
	if err := m.rdb.SetEx(ctx, redisKeyPrefix+key, raw, RedisTTL).Err(); err != nil {
		slog.Warn("cache: redis write failed",
			slog.String("key", key), slog.String("error", err.Error()))
	}
}

// Tiers reports how many tiers are configured, which is also the number
// of levels a miss has checked.
func (m *Manager) Tiers() int {
	n := 1
	if m.rdb != nil {
		n++
	}
	if m.store != nil {
		n++
	}
	return n
}

// Clear empties every configured tier. Tier 2 keys are removed by prefix
// scan so unrelated Redis data survives.
func (m *Manager) Clear(ctx context.Context) error {
	m.mem.Purge()

	var firstErr error
	if m.rdb != nil {
		iter := m.rdb.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
		for iter.Next(ctx) {
			if err := m.rdb.Del(ctx, iter.Val()).Err(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if err := iter.Err(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if m.store != nil {
		if err := m.store.ClearCache(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Snapshot returns the current counters.
func (m *Manager) Snapshot(ctx context.Context) Stats {
	s := Stats{
		MemoryHits:     atomic.LoadInt64(&m.memoryHits),
		RedisHits:      atomic.LoadInt64(&m.redisHits),
		StoreHits:      atomic.LoadInt64(&m.storeHits),
		Misses:         atomic.LoadInt64(&m.misses),
		Promotions:     atomic.LoadInt64(&m.promotions),
		Stores:         atomic.LoadInt64(&m.stores),
		Evictions:      atomic.LoadInt64(&m.evictions),
		MemoryEntries:  m.mem.Len(),
		TotalSavedUSD:  float64(atomic.LoadInt64(&m.savedMicros)) / 1e6,
		RedisAvailable: m.rdb != nil,
		StoreAvailable: m.store != nil,
	}
	hits := s.MemoryHits + s.RedisHits + s.StoreHits
	if total := hits + s.Misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	if m.store != nil {
		if n, err := m.store.CountCacheEntries(ctx); err == nil {
			s.StoreEntries = n
		}
	}
	return s
}

func (m *Manager) recordSaving(costUSD float64) {
	atomic.AddInt64(&m.savedMicros, int64(costUSD*1e6))
}
