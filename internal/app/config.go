package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	ListenAddr string
	LogLevel   string

	DBDSN    string
	RedisURL string // optional; empty disables the T2 cache tier

	CacheMemorySize int
	CacheKeyParams  bool // mix sampling parameters into the cache key

	ProviderTimeoutSecs  int
	BreakerThreshold     int
	BreakerOpenTimeoutMs int

	// Security & hardening.
	AdminToken     string   // guards /admin/v1; empty disables the admin surface
	AuthRequired   bool     // require bearer API keys on /v1
	CORSOrigins    []string // allowed CORS origins; empty = ["*"]
	RateLimitRPS   int      // requests per second per client
	RateLimitBurst int      // burst capacity per client

	// OpenTelemetry trace export.
	OtelEnabled  bool
	OtelEndpoint string
}

func LoadConfig() (Config, error) {
	cfg := Config{
		ListenAddr: getEnv("MODELMUX_LISTEN_ADDR", ":8080"),
		LogLevel:   getEnv("MODELMUX_LOG_LEVEL", "info"),
		DBDSN:      getEnv("MODELMUX_DB_DSN", "file:/data/modelmux.sqlite"),
		RedisURL:   getEnv("MODELMUX_REDIS_URL", ""),

		CacheMemorySize: getEnvInt("MODELMUX_CACHE_MEMORY_SIZE", 10000),
		CacheKeyParams:  getEnvBool("MODELMUX_CACHE_KEY_PARAMS", false),

		ProviderTimeoutSecs:  getEnvInt("MODELMUX_PROVIDER_TIMEOUT_SECS", 30),
		BreakerThreshold:     getEnvInt("MODELMUX_BREAKER_THRESHOLD", 5),
		BreakerOpenTimeoutMs: getEnvInt("MODELMUX_BREAKER_OPEN_TIMEOUT_MS", 30000),

		AdminToken:     getEnv("MODELMUX_ADMIN_TOKEN", ""),
		AuthRequired:   getEnvBool("MODELMUX_AUTH_REQUIRED", false),
		CORSOrigins:    getEnvStringSlice("MODELMUX_CORS_ORIGINS", nil),
		RateLimitRPS:   getEnvInt("MODELMUX_RATE_LIMIT_RPS", 60),
		RateLimitBurst: getEnvInt("MODELMUX_RATE_LIMIT_BURST", 120),

		OtelEnabled:  getEnvBool("MODELMUX_OTEL_ENABLED", false),
		OtelEndpoint: getEnv("MODELMUX_OTEL_ENDPOINT", "localhost:4318"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks config values for obviously invalid settings.
func (c Config) Validate() error {
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("MODELMUX_RATE_LIMIT_RPS must be > 0, got %d", c.RateLimitRPS)
	}
	if c.RateLimitBurst <= 0 {
		return fmt.Errorf("MODELMUX_RATE_LIMIT_BURST must be > 0, got %d", c.RateLimitBurst)
	}
	if c.ProviderTimeoutSecs <= 0 {
		return fmt.Errorf("MODELMUX_PROVIDER_TIMEOUT_SECS must be > 0, got %d", c.ProviderTimeoutSecs)
	}
	if c.BreakerThreshold <= 0 {
		return fmt.Errorf("MODELMUX_BREAKER_THRESHOLD must be > 0, got %d", c.BreakerThreshold)
	}
	if c.CacheMemorySize <= 0 {
		return fmt.Errorf("MODELMUX_CACHE_MEMORY_SIZE must be > 0, got %d", c.CacheMemorySize)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvStringSlice(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				result = append(result, s)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return def
}
