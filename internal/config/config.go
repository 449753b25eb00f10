// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// Visitor lookup auth modes.
const (
	AuthNone   = "none"
	AuthAPIKey = "api-key"
	AuthJWT    = "jwt"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	HTTPPort    int    `envconfig:"HTTP_PORT" default:"8080"`
	Brand       string `envconfig:"BRAND" default:"southland"`

	// HTTP server
	ReadTimeout     time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"10s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
	BodyLimit       int           `envconfig:"HTTP_BODY_LIMIT" default:"1048576"`

	// Visitor store
	StoreBackend        string        `envconfig:"STORE_BACKEND" default:"memory"` // "memory" or "sqlite"
	SQLitePath          string        `envconfig:"SQLITE_PATH" default:"./data/visitors.db"`
	MemoryStoreCapacity int           `envconfig:"MEMORY_STORE_CAPACITY" default:"100000"`
	VisitorTTL          time.Duration `envconfig:"VISITOR_TTL" default:"720h"`
	RetentionInterval   time.Duration `envconfig:"RETENTION_INTERVAL" default:"1h"` // 0 disables sweeps

	// Scoring
	MaxSignals      int    `envconfig:"MAX_SIGNALS" default:"100"`
	MaxStageHistory int    `envconfig:"MAX_STAGE_HISTORY" default:"10"`
	RulesFile       string `envconfig:"RULES_FILE"` // optional YAML override of URL rules and keywords

	// Analytics forwarding (disabled when FORWARD_URL is empty)
	ForwardURL       string        `envconfig:"FORWARD_URL"`
	ForwardTimeout   time.Duration `envconfig:"FORWARD_TIMEOUT" default:"5s"`
	ForwardWorkers   int           `envconfig:"FORWARD_WORKERS" default:"2"`
	ForwardQueueSize int           `envconfig:"FORWARD_QUEUE_SIZE" default:"1000"`
	ForwardBatchSize int           `envconfig:"FORWARD_BATCH_SIZE" default:"1"`

	// Ingestion
	BatchConcurrency int     `envconfig:"BATCH_CONCURRENCY" default:"8"`
	RateLimitRPS     float64 `envconfig:"RATE_LIMIT_RPS" default:"0"` // per client IP, 0 disables
	RateLimitBurst   int     `envconfig:"RATE_LIMIT_BURST" default:"50"`

	// Visitor lookup auth
	VisitorAuthMode  string `envconfig:"VISITOR_AUTH_MODE" default:"none"` // "none", "api-key" or "jwt"
	VisitorAPIKey    string `envconfig:"VISITOR_API_KEY"`
	VisitorJWTSecret string `envconfig:"VISITOR_JWT_SECRET"`
}

// IsDevelopment reports whether human-readable logging should be used.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// ForwardEnabled reports whether an analytics sink is configured.
func (c *Config) ForwardEnabled() bool {
	return c.ForwardURL != ""
}

// ListenAddr returns the HTTP listen address.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	var errs []error

	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("HTTP_PORT %d out of range", c.HTTPPort))
	}

	switch c.StoreBackend {
	case StoreMemory:
	case StoreSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required when STORE_BACKEND=sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND %q must be %q or %q", c.StoreBackend, StoreMemory, StoreSQLite))
	}

	if c.MaxSignals < 1 {
		errs = append(errs, errors.New("MAX_SIGNALS must be at least 1"))
	}
	if c.MaxStageHistory < 1 {
		errs = append(errs, errors.New("MAX_STAGE_HISTORY must be at least 1"))
	}
	if c.VisitorTTL <= 0 {
		errs = append(errs, errors.New("VISITOR_TTL must be positive"))
	}
	if c.BatchConcurrency < 1 {
		errs = append(errs, errors.New("BATCH_CONCURRENCY must be at least 1"))
	}
	if c.RateLimitRPS < 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS must not be negative"))
	}

	if c.ForwardEnabled() {
		if !strings.HasPrefix(c.ForwardURL, "http://") && !strings.HasPrefix(c.ForwardURL, "https://") {
			errs = append(errs, fmt.Errorf("FORWARD_URL %q must be an http(s) URL", c.ForwardURL))
		}
		if c.ForwardWorkers < 1 || c.ForwardQueueSize < 1 || c.ForwardBatchSize < 1 {
			errs = append(errs, errors.New("FORWARD_WORKERS, FORWARD_QUEUE_SIZE and FORWARD_BATCH_SIZE must be at least 1"))
		}
	}

	switch c.VisitorAuthMode {
	case AuthNone:
	case AuthAPIKey:
		if c.VisitorAPIKey == "" {
			errs = append(errs, errors.New("VISITOR_API_KEY is required when VISITOR_AUTH_MODE=api-key"))
		}
	case AuthJWT:
		if len(c.VisitorJWTSecret) < 16 {
			errs = append(errs, errors.New("VISITOR_JWT_SECRET must be at least 16 bytes when VISITOR_AUTH_MODE=jwt"))
		}
	default:
		errs = append(errs, fmt.Errorf("VISITOR_AUTH_MODE %q is not supported", c.VisitorAuthMode))
	}

	return errors.Join(errs...)
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	return LoadWithPrefix("")
}

// LoadWithPrefix reads configuration with a prefix.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config with prefix %s: %w", prefix, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
