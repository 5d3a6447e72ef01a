// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Storage backends for the key store and, without Redis, the usage ledger.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// maxKeyHashSecret is the longest key BLAKE2b accepts.
const maxKeyHashSecret = 64

var validBackends = []string{BackendMemory, BackendPostgres, BackendSQLite}

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Storage
	StorageBackend string `env:"STORAGE_BACKEND" envDefault:"memory"`
	DatabaseURL    string `env:"DATABASE_URL"`
	SQLitePath     string `env:"SQLITE_PATH" envDefault:"epochapi.db"`
	// RedisURL is optional. When set, usage counters and the issuance
	// limiter live in Redis so several instances share them.
	RedisURL string `env:"REDIS_URL"`
	// Redis pool. A zero pool size keeps the driver default.
	RedisPoolSize        int           `env:"REDIS_POOL_SIZE" envDefault:"0"`
	RedisMinIdleConns    int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	RedisDialTimeout     time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"2s"`
	RedisOpTimeout       time.Duration `env:"REDIS_OP_TIMEOUT" envDefault:"500ms"`
	RedisConnMaxIdleTime time.Duration `env:"REDIS_CONN_MAX_IDLE_TIME" envDefault:"5m"`

	// KeyHashSecret keys the digest under which API keys are stored.
	// Changing it invalidates every issued key.
	KeyHashSecret   string        `env:"KEY_HASH_SECRET"`
	AccountCacheTTL time.Duration `env:"ACCOUNT_CACHE_TTL" envDefault:"5m"`

	// Issuance rate limiting (per IP)
	IssueRateLimitEnabled bool    `env:"ISSUE_RATE_LIMIT_ENABLED" envDefault:"true"`
	IssueRateLimitRPS     float64 `env:"ISSUE_RATE_LIMIT_RPS" envDefault:"0.1"`
	IssueRateLimitBurst   int     `env:"ISSUE_RATE_LIMIT_BURST" envDefault:"5"`

	// Usage resets, standard cron syntax in UTC. Empty disables.
	UsageDailyResetSchedule   string `env:"USAGE_DAILY_RESET_SCHEDULE"`
	UsageMonthlyResetSchedule string `env:"USAGE_MONTHLY_RESET_SCHEDULE"`

	MetricsEnabled bool `env:"METRICS_ENABLED" envDefault:"true"`

	// CORS configuration
	// Comma-separated list of allowed origins (e.g., "https://example.com,https://app.example.com")
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:""`

	// Request body size limit in bytes (default 1MB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// GetCORSAllowedOrigins parses the comma-separated origins string into a slice.
func (c *Config) GetCORSAllowedOrigins() []string {
	if c.CORSAllowedOrigins == "" {
		return nil
	}

	origins := strings.Split(c.CORSAllowedOrigins, ",")
	result := make([]string, 0, len(origins))

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// Validate checks combinations the env tags cannot express.
func (c *Config) Validate() error {
	var errs []error

	if !slices.Contains(validBackends, c.StorageBackend) {
		errs = append(errs, fmt.Errorf("STORAGE_BACKEND %q must be one of %s",
			c.StorageBackend, strings.Join(validBackends, ", ")))
	}
	if c.StorageBackend == BackendPostgres && c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required for the postgres backend"))
	}
	if c.StorageBackend == BackendSQLite && c.SQLitePath == "" {
		errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite backend"))
	}

	if len(c.KeyHashSecret) > maxKeyHashSecret {
		errs = append(errs, fmt.Errorf("KEY_HASH_SECRET must be at most %d bytes", maxKeyHashSecret))
	}
	if c.IsProduction() && c.KeyHashSecret == "" {
		errs = append(errs, errors.New("KEY_HASH_SECRET is required in production"))
	}

	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT %q must be json or text", c.LogFormat))
	}
	if c.AppPort <= 0 || c.AppPort > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT %d is out of range", c.AppPort))
	}
	if c.IssueRateLimitEnabled && (c.IssueRateLimitRPS <= 0 || c.IssueRateLimitBurst <= 0) {
		errs = append(errs, errors.New("ISSUE_RATE_LIMIT_RPS and ISSUE_RATE_LIMIT_BURST must be positive"))
	}
	if c.RedisPoolSize < 0 || c.RedisMinIdleConns < 0 {
		errs = append(errs, errors.New("REDIS_POOL_SIZE and REDIS_MIN_IDLE_CONNS must not be negative"))
	}
	if c.AccountCacheTTL < 0 {
		errs = append(errs, errors.New("ACCOUNT_CACHE_TTL must not be negative"))
	}

	return errors.Join(errs...)
}

// Load parses environment variables and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
