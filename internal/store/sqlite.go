package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite (pure-Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens or creates a SQLite database at the given DSN.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Enable WAL mode and set busy timeout.
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		// Every pooled connection to an in-memory database gets its own
		// database. Pin the pool to one connection so all queries share it.
		db.SetMaxOpenConns(1)
	} else {
		// SQLite only supports one writer at a time. Limit connections to
		// avoid contention and keep a small idle pool for read concurrency.
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS cache_entries (
			key TEXT PRIMARY KEY,
			entry TEXT NOT NULL,
			expires_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cache_entries_expires ON cache_entries(expires_at)`,
		`CREATE TABLE IF NOT EXISTS budget_usage (
			level TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			period_start TIMESTAMP NOT NULL,
			period_end TIMESTAMP NOT NULL,
			used_usd REAL NOT NULL DEFAULT 0,
			request_count INTEGER NOT NULL DEFAULT 0,
			last_updated TIMESTAMP NOT NULL,
			PRIMARY KEY (level, entity_id)
		)`,
		`CREATE TABLE IF NOT EXISTS api_keys (
			id TEXT PRIMARY KEY,
			key_hash TEXT NOT NULL,
			key_prefix TEXT NOT NULL,
			name TEXT NOT NULL,
			created_at TEXT NOT NULL,
			last_used_at TEXT,
			enabled INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE INDEX IF NOT EXISTS idx_api_keys_prefix ON api_keys(key_prefix)`,
		`CREATE TABLE IF NOT EXISTS request_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			request_id TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL DEFAULT '',
			provider_id TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			cost_usd REAL NOT NULL DEFAULT 0,
			latency_ms REAL NOT NULL DEFAULT 0,
			cache_hit INTEGER NOT NULL DEFAULT 0,
			cache_level TEXT NOT NULL DEFAULT '',
			success INTEGER NOT NULL DEFAULT 1,
			error_class TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_request_logs_timestamp ON request_logs(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_request_logs_user ON request_logs(user_id)`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Cache entries (T3)

func (s *SQLiteStore) GetCacheEntry(ctx context.Context, key string) (*CacheRow, error) {
	var row CacheRow
	err := s.db.QueryRowContext(ctx,
		`SELECT key, entry, expires_at FROM cache_entries WHERE key = ?`, key).
		Scan(&row.Key, &row.Entry, &row.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if time.Now().After(row.ExpiresAt) {
		// Lazy expiry: delete the stale row and report a miss.
		_, _ = s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
		return nil, nil
	}
	return &row, nil
}

func (s *SQLiteStore) PutCacheEntry(ctx context.Context, row CacheRow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (key, entry, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET entry=excluded.entry, expires_at=excluded.expires_at`,
		row.Key, row.Entry, row.ExpiresAt)
	return err
}

func (s *SQLiteStore) DeleteCacheEntry(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
	return err
}

func (s *SQLiteStore) ClearCache(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries`)
	return err
}

func (s *SQLiteStore) CountCacheEntries(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cache_entries WHERE expires_at > ?`, time.Now()).Scan(&n)
	return n, err
}

// Budget usage ledger

func (s *SQLiteStore) GetBudgetUsage(ctx context.Context, level, entityID string) (*BudgetUsageRecord, error) {
	var rec BudgetUsageRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT level, entity_id, period_start, period_end, used_usd, request_count, last_updated
		 FROM budget_usage WHERE level = ? AND entity_id = ?`, level, entityID).
		Scan(&rec.Level, &rec.EntityID, &rec.PeriodStart, &rec.PeriodEnd,
			&rec.UsedUSD, &rec.RequestCount, &rec.LastUpdated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *SQLiteStore) PutBudgetUsage(ctx context.Context, rec BudgetUsageRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO budget_usage (level, entity_id, period_start, period_end, used_usd, request_count, last_updated)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(level, entity_id) DO UPDATE SET
		   period_start=excluded.period_start,
		   period_end=excluded.period_end,
		   used_usd=excluded.used_usd,
		   request_count=excluded.request_count,
		   last_updated=excluded.last_updated`,
		rec.Level, rec.EntityID, rec.PeriodStart, rec.PeriodEnd,
		rec.UsedUSD, rec.RequestCount, rec.LastUpdated)
	return err
}

// API keys

func (s *SQLiteStore) CreateAPIKey(ctx context.Context, rec APIKeyRecord) error {
	var lastUsed any
	if rec.LastUsedAt != nil {
		lastUsed = rec.LastUsedAt.UTC().Format(time.RFC3339)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, key_hash, key_prefix, name, created_at, last_used_at, enabled)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.KeyHash, rec.KeyPrefix, rec.Name,
		rec.CreatedAt.UTC().Format(time.RFC3339), lastUsed, rec.Enabled)
	return err
}

func (s *SQLiteStore) GetAPIKey(ctx context.Context, id string) (*APIKeyRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, key_hash, key_prefix, name, created_at, last_used_at, enabled
		 FROM api_keys WHERE id = ?`, id)
	rec, err := scanAPIKey(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *SQLiteStore) ListAPIKeys(ctx context.Context) ([]APIKeyRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, key_hash, key_prefix, name, created_at, last_used_at, enabled FROM api_keys`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var keys []APIKeyRecord
	for rows.Next() {
		rec, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, *rec)
	}
	return keys, rows.Err()
}

func (s *SQLiteStore) UpdateAPIKey(ctx context.Context, rec APIKeyRecord) error {
	var lastUsed any
	if rec.LastUsedAt != nil {
		lastUsed = rec.LastUsedAt.UTC().Format(time.RFC3339)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET key_hash=?, key_prefix=?, name=?, last_used_at=?, enabled=? WHERE id=?`,
		rec.KeyHash, rec.KeyPrefix, rec.Name, lastUsed, rec.Enabled, rec.ID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAPIKey(row rowScanner) (*APIKeyRecord, error) {
	var rec APIKeyRecord
	var createdAt string
	var lastUsed sql.NullString
	if err := row.Scan(&rec.ID, &rec.KeyHash, &rec.KeyPrefix, &rec.Name,
		&createdAt, &lastUsed, &rec.Enabled); err != nil {
		return nil, err
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		rec.CreatedAt = t
	}
	if lastUsed.Valid {
		if t, err := time.Parse(time.RFC3339, lastUsed.String); err == nil {
			rec.LastUsedAt = &t
		}
	}
	return &rec, nil
}

// Request log

func (s *SQLiteStore) LogRequest(ctx context.Context, entry RequestLog) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO request_logs (timestamp, request_id, user_id, provider_id, model, cost_usd, latency_ms, cache_hit, cache_level, success, error_class)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Timestamp, entry.RequestID, entry.UserID, entry.ProviderID, entry.Model,
		entry.CostUSD, entry.LatencyMs, entry.CacheHit, entry.CacheLevel, entry.Success, entry.ErrorClass)
	return err
}

func (s *SQLiteStore) ListRequestLogs(ctx context.Context, limit, offset int) ([]RequestLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, request_id, user_id, provider_id, model, cost_usd, latency_ms, cache_hit, cache_level, success, error_class
		 FROM request_logs ORDER BY timestamp DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var logs []RequestLog
	for rows.Next() {
		var l RequestLog
		if err := rows.Scan(&l.ID, &l.Timestamp, &l.RequestID, &l.UserID, &l.ProviderID, &l.Model,
			&l.CostUSD, &l.LatencyMs, &l.CacheHit, &l.CacheLevel, &l.Success, &l.ErrorClass); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
