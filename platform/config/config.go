// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// RedisConfig provides settings for the shared coordination store.
type RedisConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetStoreTimeout() time.Duration
}

// SchedulerConfig provides settings for the asynq task queue.
type SchedulerConfig interface {
	RedisConfig
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// JWTConfig provides JWT validation settings for middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
}

// AssignmentConfig provides settings for lead routing.
type AssignmentConfig interface {
	GetRuleCacheTTL() time.Duration
	IsRoundRobinEnabled() bool
	GetCapLocation() *time.Location
}

// CaptureConfig provides settings for the inbound submission path.
type CaptureConfig interface {
	GetCaptureRateLimitPerMinute() int64
	GetCaptureRateLimitShards() int
	GetIdempotencyTTL() time.Duration
	GetPhoneRegion() string
}

// WebhookConfig provides settings for outbound webhook delivery.
type WebhookConfig interface {
	GetWebhookTimeout() time.Duration
	GetWebhookRetrySchedule() []time.Duration
	GetWebhookMaxParallel() int
	GetWebhookRatePerSecond() float64
	GetWebhookDeliveryRetention() time.Duration
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                      string
	HTTPAddr                 string
	DatabaseURL              string
	MigrationsEnabled        bool
	RedisURL                 string
	RedisTLSInsecure         bool
	StoreTimeout             time.Duration
	AsynqQueueName           string
	AsynqConcurrency         int
	JWTAccessSecret          string
	CORSAllowAll             bool
	CORSOrigins              []string
	RuleCacheTTL             time.Duration
	RoundRobinEnabled        bool
	CapLocation              *time.Location
	CaptureRateLimit         int64
	CaptureRateLimitShards   int
	IdempotencyTTL           time.Duration
	PhoneRegion              string
	WebhookTimeout           time.Duration
	WebhookRetrySchedule     []time.Duration
	WebhookMaxParallel       int
	WebhookRatePerSecond     float64
	WebhookDeliveryRetention time.Duration
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// RedisConfig implementation
func (c *Config) GetRedisURL() string            { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool      { return c.RedisTLSInsecure }
func (c *Config) GetStoreTimeout() time.Duration { return c.StoreTimeout }

// SchedulerConfig implementation
func (c *Config) GetAsynqQueueName() string { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int  { return c.AsynqConcurrency }

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }

// AssignmentConfig implementation
func (c *Config) GetRuleCacheTTL() time.Duration  { return c.RuleCacheTTL }
func (c *Config) IsRoundRobinEnabled() bool       { return c.RoundRobinEnabled }
func (c *Config) GetCapLocation() *time.Location { return c.CapLocation }

// CaptureConfig implementation
func (c *Config) GetCaptureRateLimitPerMinute() int64 { return c.CaptureRateLimit }
func (c *Config) GetCaptureRateLimitShards() int      { return c.CaptureRateLimitShards }
func (c *Config) GetIdempotencyTTL() time.Duration    { return c.IdempotencyTTL }
func (c *Config) GetPhoneRegion() string              { return c.PhoneRegion }

// WebhookConfig implementation
func (c *Config) GetWebhookTimeout() time.Duration           { return c.WebhookTimeout }
func (c *Config) GetWebhookRetrySchedule() []time.Duration   { return c.WebhookRetrySchedule }
func (c *Config) GetWebhookMaxParallel() int                 { return c.WebhookMaxParallel }
func (c *Config) GetWebhookRatePerSecond() float64           { return c.WebhookRatePerSecond }
func (c *Config) GetWebhookDeliveryRetention() time.Duration { return c.WebhookDeliveryRetention }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	capLocation, err := time.LoadLocation(getEnv("CAP_TIMEZONE", "UTC"))
	if err != nil {
		return nil, fmt.Errorf("CAP_TIMEZONE is invalid: %w", err)
	}

	retrySchedule, err := parseDurations(getEnv("WEBHOOK_RETRY_SCHEDULE", "0s,30s,5m"))
	if err != nil {
		return nil, fmt.Errorf("WEBHOOK_RETRY_SCHEDULE is invalid: %w", err)
	}

	cfg := &Config{
		Env:                      getEnv("APP_ENV", "development"),
		HTTPAddr:                 getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:              getEnv("DATABASE_URL", ""),
		MigrationsEnabled:        strings.EqualFold(getEnv("MIGRATIONS_ENABLED", "true"), "true"),
		RedisURL:                 getEnv("REDIS_URL", ""),
		RedisTLSInsecure:         strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		StoreTimeout:             mustDuration(getEnv("STORE_TIMEOUT", "3s")),
		AsynqQueueName:           getEnv("ASYNQ_QUEUE", "leads"),
		AsynqConcurrency:         mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),
		JWTAccessSecret:          getEnv("JWT_ACCESS_SECRET", ""),
		CORSAllowAll:             corsAllowAll,
		CORSOrigins:              corsOrigins,
		RuleCacheTTL:             mustDuration(getEnv("RULE_CACHE_TTL", "60s")),
		RoundRobinEnabled:        strings.EqualFold(getEnv("ROUND_ROBIN_ENABLED", "true"), "true"),
		CapLocation:              capLocation,
		CaptureRateLimit:         int64(mustInt(getEnv("CAPTURE_RATE_LIMIT_PER_MINUTE", "10"))),
		CaptureRateLimitShards:   mustInt(getEnv("CAPTURE_RATE_LIMIT_SHARDS", "1")),
		IdempotencyTTL:           mustDuration(getEnv("IDEMPOTENCY_TTL", "720h")),
		PhoneRegion:              getEnv("PHONE_REGION", "US"),
		WebhookTimeout:           mustDuration(getEnv("WEBHOOK_TIMEOUT", "5s")),
		WebhookRetrySchedule:     retrySchedule,
		WebhookMaxParallel:       mustInt(getEnv("WEBHOOK_MAX_PARALLEL", "16")),
		WebhookRatePerSecond:     mustFloat(getEnv("WEBHOOK_RATE_PER_SEC", "50")),
		WebhookDeliveryRetention: mustDuration(getEnv("WEBHOOK_DELIVERY_RETENTION", "720h")),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	if cfg.JWTAccessSecret == "" {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.StoreTimeout <= 0 {
		return nil, fmt.Errorf("STORE_TIMEOUT must be positive")
	}
	if cfg.WebhookTimeout <= 0 {
		return nil, fmt.Errorf("WEBHOOK_TIMEOUT must be positive")
	}
	if len(cfg.WebhookRetrySchedule) == 0 {
		return nil, fmt.Errorf("WEBHOOK_RETRY_SCHEDULE needs at least one attempt")
	}
	if cfg.CaptureRateLimit < 1 {
		return nil, fmt.Errorf("CAPTURE_RATE_LIMIT_PER_MINUTE must be at least 1")
	}
	if cfg.CaptureRateLimitShards < 1 {
		cfg.CaptureRateLimitShards = 1
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return result
}

func mustFloat(value string) float64 {
	result, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0
	}
	return result
}

func parseDurations(value string) ([]time.Duration, error) {
	parts := splitCSV(value)
	results := make([]time.Duration, 0, len(parts))
	for _, part := range parts {
		d, err := time.ParseDuration(part)
		if err != nil {
			return nil, err
		}
		if d < 0 {
			return nil, fmt.Errorf("negative delay %q", part)
		}
		results = append(results, d)
	}
	return results, nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
