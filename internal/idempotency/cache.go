// Package idempotency replays completion responses for retried requests.
// A client that times out on POST /v1/chat/completions and retries with the
// same Idempotency-Key gets the stored response back instead of paying a
// provider for a second completion.
package idempotency

import (
	"sync"
	"time"
)

// Entry is a stored response, replayed verbatim on a key match.
type Entry struct {
	Body     []byte
	Status   int
	Header   map[string]string
	storedAt time.Time
}

// Cache holds replayable responses keyed by Idempotency-Key. Entries expire
// after a fixed TTL and the cache holds at most maxEntries of them; when
// full, the oldest entry makes room. All methods are safe for concurrent use.
type Cache struct {
	mu         sync.Mutex
	byKey      map[string]*Entry
	ttl        time.Duration
	maxEntries int
	stop       chan struct{}
}

// New builds a Cache and starts its sweep goroutine. Call Stop on shutdown.
func New(ttl time.Duration, maxEntries int) *Cache {
	c := &Cache{
		byKey:      make(map[string]*Entry),
		ttl:        ttl,
		maxEntries: maxEntries,
		stop:       make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Get returns the stored response for key, expiring it inline when the TTL
// has passed so a late retry triggers a fresh completion.
func (c *Cache) Get(key string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.byKey[key]
	if !ok {
		return nil, false
	}
	if time.Since(e.storedAt) > c.ttl {
		delete(c.byKey, key)
		return nil, false
	}
	return e, true
}

// Set stores a response under key. A new key arriving at capacity displaces
// the oldest entry; rewriting an existing key never evicts.
func (c *Cache) Set(key string, body []byte, status int, header map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.byKey[key]; !exists && len(c.byKey) >= c.maxEntries {
		c.evictOldest()
	}

	c.byKey[key] = &Entry{
		Body:     body,
		Status:   status,
		Header:   header,
		storedAt: time.Now(),
	}
}

// Stop terminates the sweep goroutine.
func (c *Cache) Stop() {
	close(c.stop)
}

func (c *Cache) sweepLoop() {
	interval := c.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stop:
			return
		}
	}
}

// sweep drops every expired entry in one pass under the lock.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for k, e := range c.byKey {
		if now.Sub(e.storedAt) > c.ttl {
			delete(c.byKey, k)
		}
	}
}

// evictOldest removes the entry with the earliest storedAt. Caller holds c.mu.
func (c *Cache) evictOldest() {
	var oldest string
	var when time.Time
	for k, e := range c.byKey {
		if oldest == "" || e.storedAt.Before(when) {
			oldest = k
			when = e.storedAt
		}
	}
	if oldest != "" {
		delete(c.byKey, oldest)
	}
}
