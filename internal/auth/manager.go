package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/modelmux/modelmux/internal/store"
)

// hashForBcrypt pre-hashes a key with SHA-256 to stay within bcrypt's 72-byte limit.
func hashForBcrypt(key string) []byte {
	h := sha256.Sum256([]byte(key))
	return []byte(hex.EncodeToString(h[:]))
}

const (
	// KeyPrefix is the leading marker on every issued key. Middleware
	// rejects tokens without it before touching the store.
	KeyPrefix = "modelmux_"

	keyRandBytes = 32 // 32 random bytes, 64 hex chars
	bcryptCost   = 10
	cacheTTL     = 5 * time.Minute
)

var (
	ErrInvalidKey = errors.New("invalid api key")
	ErrKeyMissing = errors.New("api key not found")
)

type cachedKey struct {
	record    *store.APIKeyRecord
	expiresAt time.Time
}

// Manager issues and validates bearer API keys. Only bcrypt hashes are
// persisted; the plaintext is returned exactly once at generation.
type Manager struct {
	store store.Store

	mu    sync.RWMutex
	cache map[string]cachedKey // plaintext key -> cached record
}

func NewManager(s store.Store) *Manager {
	return &Manager{
		store: s,
		cache: make(map[string]cachedKey),
	}
}

// Generate creates a new API key and returns the plaintext exactly once.
func (m *Manager) Generate(ctx context.Context, name string) (string, *store.APIKeyRecord, error) {
	raw := make([]byte, keyRandBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, fmt.Errorf("generate random: %w", err)
	}
	plaintext := KeyPrefix + hex.EncodeToString(raw)

	hash, err := bcrypt.GenerateFromPassword(hashForBcrypt(plaintext), bcryptCost)
	if err != nil {
		return "", nil, fmt.Errorf("bcrypt hash: %w", err)
	}

	rec := store.APIKeyRecord{
		ID:        hex.EncodeToString(raw[:8]),
		KeyHash:   string(hash),
		KeyPrefix: plaintext[:len(KeyPrefix)+8],
		Name:      name,
		CreatedAt: time.Now().UTC(),
		Enabled:   true,
	}
	if err := m.store.CreateAPIKey(ctx, rec); err != nil {
		return "", nil, fmt.Errorf("store api key: %w", err)
	}
	return plaintext, &rec, nil
}

// Validate checks a plaintext API key and returns the matching record.
// A short TTL cache avoids running bcrypt on every request.
func (m *Manager) Validate(ctx context.Context, keyString string) (*store.APIKeyRecord, error) {
	m.mu.RLock()
	if cached, ok := m.cache[keyString]; ok && time.Now().Before(cached.expiresAt) {
		m.mu.RUnlock()
		return cached.record, nil
	}
	m.mu.RUnlock()

	keys, err := m.store.ListAPIKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}

	for i := range keys {
		k := &keys[i]
		if !k.Enabled {
			continue
		}
		if err := bcrypt.CompareHashAndPassword([]byte(k.KeyHash), hashForBcrypt(keyString)); err != nil {
			continue
		}

		now := time.Now().UTC()
		k.LastUsedAt = &now
		_ = m.store.UpdateAPIKey(ctx, *k)

		m.mu.Lock()
		m.cache[keyString] = cachedKey{
			record:    k,
			expiresAt: time.Now().Add(cacheTTL),
		}
		m.mu.Unlock()

		return k, nil
	}
	return nil, ErrInvalidKey
}

// Rotate replaces an existing key's secret, keeping its identity. Returns
// the new plaintext exactly once.
func (m *Manager) Rotate(ctx context.Context, id string) (string, error) {
	rec, err := m.store.GetAPIKey(ctx, id)
	if err != nil {
		return "", fmt.Errorf("get key: %w", err)
	}
	if rec == nil {
		return "", ErrKeyMissing
	}

	raw := make([]byte, keyRandBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate random: %w", err)
	}
	plaintext := KeyPrefix + hex.EncodeToString(raw)

	hash, err := bcrypt.GenerateFromPassword(hashForBcrypt(plaintext), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("bcrypt hash: %w", err)
	}
	rec.KeyHash = string(hash)
	rec.KeyPrefix = plaintext[:len(KeyPrefix)+8]
	if err := m.store.UpdateAPIKey(ctx, *rec); err != nil {
		return "", fmt.Errorf("update key: %w", err)
	}

	m.invalidate(id)
	return plaintext, nil
}

// Disable revokes a key without deleting its record.
func (m *Manager) Disable(ctx context.Context, id string) error {
	rec, err := m.store.GetAPIKey(ctx, id)
	if err != nil {
		return fmt.Errorf("get key: %w", err)
	}
	if rec == nil {
		return ErrKeyMissing
	}
	rec.Enabled = false
	if err := m.store.UpdateAPIKey(ctx, *rec); err != nil {
		return fmt.Errorf("update key: %w", err)
	}
	m.invalidate(id)
	return nil
}

func (m *Manager) invalidate(id string) {
	m.mu.Lock()
	for k, v := range m.cache {
		if v.record.ID == id {
			delete(m.cache, k)
		}
	}
	m.mu.Unlock()
}
