// Package health probes the gateway's dependencies (store, redis, provider
// endpoints) and serves cached results to the health endpoint.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// CheckFunc probes a single dependency. A nil return means healthy.
type CheckFunc func(ctx context.Context) error

// Result is the outcome of the most recent probe of one dependency.
type Result struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	LatencyMs float64   `json:"latency_ms"`
	CheckedAt time.Time `json:"checked_at"`
}

// Config configures the checker's probe loop.
type Config struct {
	Interval     time.Duration
	ProbeTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:     30 * time.Second,
		ProbeTimeout: 5 * time.Second,
	}
}

// Checker runs registered dependency checks on an interval and caches the
// results so the health endpoint never blocks on a slow dependency.
type Checker struct {
	cfg    Config
	logger *slog.Logger
	stop   chan struct{}
	done   chan struct{}

	mu      sync.RWMutex
	checks  map[string]CheckFunc
	results map[string]Result
}

func NewChecker(cfg Config, logger *slog.Logger) *Checker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultConfig().ProbeTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		cfg:     cfg,
		logger:  logger,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		checks:  make(map[string]CheckFunc),
		results: make(map[string]Result),
	}
}

// Register adds a named check. If a check with the same name already exists
// it is replaced. Safe to call while the checker is running.
func (c *Checker) Register(name string, fn CheckFunc) {
	c.mu.Lock()
	c.checks[name] = fn
	c.mu.Unlock()
}

// Start begins the periodic probe loop in a goroutine. The first round runs
// immediately so the health endpoint has data before the first tick.
func (c *Checker) Start() {
	go c.run()
}

// Stop signals the checker to stop and waits for it to finish.
func (c *Checker) Stop() {
	close(c.stop)
	<-c.done
}

func (c *Checker) run() {
	defer close(c.done)
	c.RunChecks(context.Background())
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.RunChecks(context.Background())
		case <-c.stop:
			return
		}
	}
}

// RunChecks probes every registered dependency once and caches the results.
func (c *Checker) RunChecks(ctx context.Context) {
	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for name, fn := range c.checks {
		checks[name] = fn
	}
	c.mu.RUnlock()

	for name, fn := range checks {
		probeCtx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
		start := time.Now()
		err := fn(probeCtx)
		cancel()

		res := Result{
			Name:      name,
			Healthy:   err == nil,
			LatencyMs: float64(time.Since(start).Microseconds()) / 1000.0,
			CheckedAt: time.Now().UTC(),
		}
		if err != nil {
			res.Error = err.Error()
			c.logger.Warn("health check failed",
				slog.String("check", name),
				slog.String("error", err.Error()))
		}

		c.mu.Lock()
		c.results[name] = res
		c.mu.Unlock()
	}
}

// Snapshot returns the most recent result for every registered check.
func (c *Checker) Snapshot() []Result {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Result, 0, len(c.results))
	for _, r := range c.results {
		out = append(out, r)
	}
	return out
}

// Healthy reports whether every probed dependency is currently healthy.
// A checker with no results yet reports healthy.
func (c *Checker) Healthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.results {
		if !r.Healthy {
			return false
		}
	}
	return true
}
