package app

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"

	"github.com/modelmux/modelmux/internal/auth"
	"github.com/modelmux/modelmux/internal/budget"
	"github.com/modelmux/modelmux/internal/cache"
	"github.com/modelmux/modelmux/internal/circuitbreaker"
	"github.com/modelmux/modelmux/internal/complexity"
	"github.com/modelmux/modelmux/internal/events"
	"github.com/modelmux/modelmux/internal/health"
	"github.com/modelmux/modelmux/internal/httpapi"
	"github.com/modelmux/modelmux/internal/idempotency"
	"github.com/modelmux/modelmux/internal/logging"
	"github.com/modelmux/modelmux/internal/metrics"
	"github.com/modelmux/modelmux/internal/providers/anthropic"
	"github.com/modelmux/modelmux/internal/providers/groq"
	"github.com/modelmux/modelmux/internal/providers/openai"
	"github.com/modelmux/modelmux/internal/ratelimit"
	"github.com/modelmux/modelmux/internal/registry"
	"github.com/modelmux/modelmux/internal/router"
	"github.com/modelmux/modelmux/internal/stats"
	"github.com/modelmux/modelmux/internal/store"
	"github.com/modelmux/modelmux/internal/tracing"
)

type Server struct {
	cfg Config

	r *chi.Mux

	store   store.Store
	rdb     *redis.Client
	limiter *ratelimit.Limiter
	health  *health.Checker
	logger  *slog.Logger

	traceShutdown func(context.Context) error
}

func NewServer(cfg Config) (*Server, error) {
	logger := logging.Setup(cfg.LogLevel)

	traceShutdown, err := tracing.Setup(tracing.Config{
		Enabled:     cfg.OtelEnabled,
		Endpoint:    cfg.OtelEndpoint,
		ServiceName: "modelmux",
	})
	if err != nil {
		return nil, err
	}

	corsOrigins := cfg.CORSOrigins
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(tracing.Middleware())
	r.Use(logging.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "Idempotency-Key"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	db, err := store.NewSQLite(cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("database initialized", slog.String("dsn", cfg.DBDSN))

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			db.Close()
			return nil, err
		}
		rdb = redis.NewClient(opts)
		logger.Info("redis cache tier enabled", slog.String("addr", opts.Addr))
	}

	cacheOpts := []cache.Option{
		cache.WithMemorySize(cfg.CacheMemorySize),
		cache.WithStore(db),
	}
	if rdb != nil {
		cacheOpts = append(cacheOpts, cache.WithRedis(rdb))
	}
	cm := cache.NewManager(cacheOpts...)

	ctrl := budget.NewController(budget.WithStore(db))

	m := metrics.New()
	bus := events.NewBus()

	reg := registry.New()
	registerProviders(reg, cfg, logger)
	reg.SetStateChangeHook(func(providerID string, from, to circuitbreaker.State) {
		m.BreakerTransitions.WithLabelValues(providerID, to.String()).Inc()
		bus.Publish(events.Event{
			Type:       events.EventBreakerChange,
			Timestamp:  time.Now().UTC(),
			ProviderID: providerID,
			OldState:   from.String(),
			NewState:   to.String(),
		})
		logger.Warn("breaker state change",
			slog.String("provider", providerID),
			slog.String("from", from.String()),
			slog.String("to", to.String()))
	})

	coll := stats.NewCollector()
	seedStats(coll, db, logger)

	rt := &router.Router{
		Analyzer:       complexity.New(complexity.DefaultConfig()),
		Budget:         ctrl,
		Cache:          cm,
		Registry:       reg,
		Stats:          coll,
		Store:          db,
		CacheKeyParams: cfg.CacheKeyParams,
	}

	var keyMgr *auth.Manager
	if cfg.AuthRequired {
		keyMgr = auth.NewManager(db)
	}

	limiter := ratelimit.New(cfg.RateLimitRPS, cfg.RateLimitBurst, time.Second)

	hc := health.NewChecker(health.DefaultConfig(), logger)
	hc.Register("store", func(ctx context.Context) error {
		_, err := db.CountCacheEntries(ctx)
		return err
	})
	if rdb != nil {
		hc.Register("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}
	hc.Start()

	s := &Server{
		cfg:           cfg,
		r:             r,
		store:         db,
		rdb:           rdb,
		limiter:       limiter,
		health:        hc,
		logger:        logger,
		traceShutdown: traceShutdown,
	}

	httpapi.MountRoutes(r, httpapi.Dependencies{
		Router:     rt,
		Budget:     ctrl,
		Cache:      cm,
		Registry:   reg,
		Metrics:    m,
		Stats:      coll,
		Store:      db,
		Health:     hc,
		EventBus:   bus,
		KeyMgr:     keyMgr,
		Limiter:    limiter,
		IdemCache:  idempotency.New(10*time.Minute, 4096),
		AdminToken: cfg.AdminToken,
	})

	return s, nil
}

func (s *Server) Router() http.Handler { return s.r }

// Reload applies the subset of configuration that can change without a
// restart: rate limit parameters and the stored config itself. Listen
// address, database, and provider wiring require a full restart.
func (s *Server) Reload(cfg Config) {
	s.limiter.SetRate(cfg.RateLimitRPS, cfg.RateLimitBurst)
	s.cfg = cfg
	s.logger.Info("configuration reloaded",
		slog.Int("rate_limit_rps", cfg.RateLimitRPS),
		slog.Int("rate_limit_burst", cfg.RateLimitBurst))
}

func (s *Server) Close() error {
	if s.health != nil {
		s.health.Stop()
	}
	if s.limiter != nil {
		s.limiter.Stop()
	}
	if s.traceShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.traceShutdown(ctx)
	}
	if s.rdb != nil {
		_ = s.rdb.Close()
	}
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// registerProviders wires one adapter per vendor whose API key is present in
// the environment. A gateway with zero providers still starts but reports
// unhealthy until at least one key is configured.
func registerProviders(reg *registry.Registry, cfg Config, logger *slog.Logger) {
	timeout := time.Duration(cfg.ProviderTimeoutSecs) * time.Second
	openTimeout := time.Duration(cfg.BreakerOpenTimeoutMs) * time.Millisecond

	if key := os.Getenv("MODELMUX_GROQ_API_KEY"); key != "" {
		base := getEnv("MODELMUX_GROQ_BASE_URL", "https://api.groq.com/openai")
		err := reg.Register(registry.Config{
			ID:               "groq",
			Tags:             []string{registry.TagFast},
			Models:           []string{"llama-3.1-8b-instant", "llama-3.3-70b-versatile"},
			InputPricePer1K:  0.0001,
			OutputPricePer1K: 0.0001,
			Enabled:          true,
			FailureThreshold: cfg.BreakerThreshold,
			OpenTimeout:      openTimeout,
		}, groq.New("groq", key, base, groq.WithTimeout(timeout)))
		logRegistration(logger, "groq", err)
	}

	if key := os.Getenv("MODELMUX_ANTHROPIC_API_KEY"); key != "" {
		base := getEnv("MODELMUX_ANTHROPIC_BASE_URL", "https://api.anthropic.com")
		err := reg.Register(registry.Config{
			ID:               "anthropic",
			Tags:             []string{registry.TagCapable},
			Models:           []string{"claude-sonnet-4", "claude-opus-4"},
			InputPricePer1K:  0.003,
			OutputPricePer1K: 0.015,
			Enabled:          true,
			FailureThreshold: cfg.BreakerThreshold,
			OpenTimeout:      openTimeout,
		}, anthropic.New("anthropic", key, base, anthropic.WithTimeout(timeout)))
		logRegistration(logger, "anthropic", err)
	}

	if key := os.Getenv("MODELMUX_OPENAI_API_KEY"); key != "" {
		base := getEnv("MODELMUX_OPENAI_BASE_URL", "https://api.openai.com")
		err := reg.Register(registry.Config{
			ID:               "openai",
			Tags:             []string{registry.TagFast, registry.TagCapable},
			Models:           []string{"gpt-4o-mini", "gpt-4o"},
			InputPricePer1K:  0.0015,
			OutputPricePer1K: 0.006,
			Enabled:          true,
			FailureThreshold: cfg.BreakerThreshold,
			OpenTimeout:      openTimeout,
		}, openai.New("openai", key, base, openai.WithTimeout(timeout)))
		logRegistration(logger, "openai", err)
	}
}

func logRegistration(logger *slog.Logger, id string, err error) {
	if err != nil {
		logger.Error("provider registration failed", slog.String("provider", id), slog.String("error", err.Error()))
		return
	}
	logger.Info("registered provider", slog.String("provider", id))
}

// seedStats replays the recent request log into the collector so the stats
// endpoint is not blank right after a restart.
func seedStats(coll *stats.Collector, db store.Store, logger *slog.Logger) {
	logs, err := db.ListRequestLogs(context.Background(), 5000, 0)
	if err != nil {
		logger.Warn("stats seed failed", slog.String("error", err.Error()))
		return
	}
	cutoff := time.Now().Add(-25 * time.Hour)
	snaps := make([]stats.Snapshot, 0, len(logs))
	for _, l := range logs {
		if l.Timestamp.Before(cutoff) {
			continue
		}
		snaps = append(snaps, stats.Snapshot{
			Timestamp:  l.Timestamp,
			ModelID:    l.Model,
			ProviderID: l.ProviderID,
			LatencyMs:  l.LatencyMs,
			CostUSD:    l.CostUSD,
			Success:    l.Success,
			CacheHit:   l.CacheHit,
		})
	}
	coll.Seed(snaps)
	if len(snaps) > 0 {
		logger.Info("stats seeded from request log", slog.Int("snapshots", len(snaps)))
	}
}
