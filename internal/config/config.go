// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor
// principles; a .env file, when present, fills variables that are unset.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Database (PostgreSQL)
	DatabaseURL    string `env:"DATABASE_URL,required"`
	DBMaxConns     int32  `env:"DB_MAX_CONNS" envDefault:"10"`
	MigrateOnStart bool   `env:"MIGRATE_ON_START" envDefault:"false"`

	// Cache (Redis)
	RedisURL      string `env:"REDIS_URL,required"`
	RedisPoolSize int    `env:"REDIS_POOL_SIZE" envDefault:"10"`

	// Event log (MongoDB). Without MONGO_URL events are kept in a bounded
	// in-process log.
	MongoURL          string `env:"MONGO_URL"`
	MongoDatabase     string `env:"MONGO_DATABASE" envDefault:"qrengine"`
	MemoryLogCapacity int    `env:"MEMORY_LOG_CAPACITY" envDefault:"100000"`

	// Scan URLs are {PUBLIC_BASE_URL}/s/{id}
	PublicBaseURL string `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`

	// Profile URLs resolve to {FRONTEND_URL}/profile/{username}
	FrontendURL string `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Scan engine
	UniqueScanWindow  time.Duration `env:"UNIQUE_SCAN_WINDOW" envDefault:"24h"`
	BreakdownCapacity int           `env:"BREAKDOWN_CAPACITY" envDefault:"10"`

	// Analytics
	AnalyticsWorkerEnabled bool          `env:"ANALYTICS_WORKER_ENABLED" envDefault:"true"`
	AnalyticsBatchSize     int           `env:"ANALYTICS_BATCH_SIZE" envDefault:"500"`
	AnalyticsClaimIdle     time.Duration `env:"ANALYTICS_CLAIM_IDLE" envDefault:"30s"`
	AggMaxEvents           int           `env:"AGG_MAX_EVENTS" envDefault:"50000"`
	AggDefaultWindow       time.Duration `env:"AGG_DEFAULT_WINDOW" envDefault:"720h"`
	AggMaxWindow           time.Duration `env:"AGG_MAX_WINDOW" envDefault:"8784h"`
	RealtimePushInterval   time.Duration `env:"REALTIME_PUSH_INTERVAL" envDefault:"5s"`

	// Rate limiting
	RateLimitEnabled    bool    `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	RateLimitScanRPS    float64 `env:"RATE_LIMIT_SCAN_RPS" envDefault:"20"`
	RateLimitScanBurst  int     `env:"RATE_LIMIT_SCAN_BURST" envDefault:"40"`
	RateLimitEventRPS   float64 `env:"RATE_LIMIT_EVENT_RPS" envDefault:"50"`
	RateLimitEventBurst int     `env:"RATE_LIMIT_EVENT_BURST" envDefault:"100"`

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

// Validate checks constraints that span fields or that struct tags cannot
// express.
func (c *Config) Validate() error {
	var errs []error

	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat))
	}
	if u, err := url.Parse(c.FrontendURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("FRONTEND_URL must be an absolute URL, got %q", c.FrontendURL))
	}
	if u, err := url.Parse(c.PublicBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("PUBLIC_BASE_URL must be an absolute URL, got %q", c.PublicBaseURL))
	}
	if c.DBMaxConns < 1 {
		errs = append(errs, errors.New("DB_MAX_CONNS must be positive"))
	}
	if c.UniqueScanWindow <= 0 {
		errs = append(errs, errors.New("UNIQUE_SCAN_WINDOW must be positive"))
	}
	if c.BreakdownCapacity < 1 || c.BreakdownCapacity > 100 {
		errs = append(errs, fmt.Errorf("BREAKDOWN_CAPACITY must be 1..100, got %d", c.BreakdownCapacity))
	}
	if c.AggMaxEvents < 1 {
		errs = append(errs, errors.New("AGG_MAX_EVENTS must be positive"))
	}
	if c.AggDefaultWindow <= 0 || c.AggDefaultWindow > c.AggMaxWindow {
		errs = append(errs, errors.New("AGG_DEFAULT_WINDOW must be positive and not exceed AGG_MAX_WINDOW"))
	}
	if c.RealtimePushInterval < time.Second {
		errs = append(errs, errors.New("REALTIME_PUSH_INTERVAL must be at least 1s"))
	}
	if c.RateLimitEnabled && (c.RateLimitScanRPS <= 0 || c.RateLimitEventRPS <= 0) {
		errs = append(errs, errors.New("rate limits must be positive when RATE_LIMIT_ENABLED"))
	}

	return errors.Join(errs...)
}

// Load reads an optional .env file, parses environment variables and
// validates the result. Returns an error if required variables are missing.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// loadDotEnv loads path without overriding variables already set.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}
