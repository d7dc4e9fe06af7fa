// Package config loads the coordinator process's runtime settings from the
// environment, the way tarsy's pkg/config loads its YAML configuration:
// load, apply defaults, validate, return a ready-to-use struct.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Sentinel errors, mirroring pkg/config/errors.go's taxonomy.
var (
	ErrConfigNotFound   = errors.New("configuration value not found")
	ErrInvalidValue     = errors.New("invalid configuration value")
	ErrValidationFailed = errors.New("configuration validation failed")
)

// Config is the coordinator process's full runtime configuration, loaded
// once at startup from the environment (with an optional .env file, teacher
// idiom via joho/godotenv).
type Config struct {
	// DatabaseURL is the Postgres connection string internal/storage dials.
	DatabaseURL string `validate:"required"`

	// RunTimeout bounds a single run's stage-timeout guard (§4.5).
	RunTimeout time.Duration `validate:"required,gt=0"`

	// FreshnessWindow is C6's default "don't touch it again yet" window (§4.6).
	FreshnessWindow time.Duration `validate:"required,gt=0"`

	// CostPerThousandTokensUSD is loaded and validated here; C5
	// (internal/runmanager) prices its token-based cost estimate with its own
	// fixed rate and does not read this field.
	CostPerThousandTokensUSD float64 `validate:"gte=0"`

	// OrphanCleanupInterval is loaded and validated but read by no component:
	// cmd/coordinator calls RunManager.CleanupOrphanedRuns once at startup,
	// with RunTimeout as the staleness cutoff.
	OrphanCleanupInterval time.Duration `validate:"required,gt=0"`

	// HTTPAddr is the admin HTTP surface's listen address.
	HTTPAddr string `validate:"required"`

	// LogLevel controls the slog handler's minimum level.
	LogLevel slog.Level

	// BreakerFailureThreshold/BreakerCooldown are loaded and validated but not
	// read: C2's BreakerManager (internal/retry) uses its own fixed failure
	// threshold and cooldown.
	BreakerFailureThreshold uint32        `validate:"gte=1"`
	BreakerCooldown         time.Duration `validate:"required,gt=0"`
}

// Default values applied when the corresponding env var is unset.
const (
	DefaultRunTimeout              = 30 * time.Minute
	DefaultFreshnessWindow         = 24 * time.Hour
	DefaultCostPerThousandTokensUSD = 0.01
	DefaultOrphanCleanupInterval   = 5 * time.Minute
	DefaultHTTPAddr                = ":8080"
	DefaultBreakerFailureThreshold = 5
	DefaultBreakerCooldown         = 60 * time.Second
)

// Load reads the process environment (after loading envFile, if it exists,
// teacher idiom via joho/godotenv) into a validated Config.
//
// Steps performed, mirroring pkg/config/loader.go's Initialize:
//  1. Load envFile into the process environment, if present
//  2. Read each setting, applying its default when unset
//  3. Validate the result
//  4. Return a ready-to-use Config
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	cfg := &Config{
		DatabaseURL:              os.Getenv("DATABASE_URL"),
		RunTimeout:               durationEnv("RUN_TIMEOUT_MS", DefaultRunTimeout),
		FreshnessWindow:          durationEnv("FRESHNESS_WINDOW_MS", DefaultFreshnessWindow),
		CostPerThousandTokensUSD: floatEnv("COST_PER_THOUSAND_TOKENS_USD", DefaultCostPerThousandTokensUSD),
		OrphanCleanupInterval:    durationEnv("ORPHAN_CLEANUP_INTERVAL_MS", DefaultOrphanCleanupInterval),
		HTTPAddr:                 stringEnv("HTTP_ADDR", DefaultHTTPAddr),
		LogLevel:                 logLevelEnv("LOG_LEVEL", slog.LevelInfo),
		BreakerFailureThreshold:  uint32(intEnv("BREAKER_FAILURE_THRESHOLD", DefaultBreakerFailureThreshold)),
		BreakerCooldown:          durationEnv("BREAKER_COOLDOWN_MS", DefaultBreakerCooldown),
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateConfig(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	return nil
}

func stringEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		slog.Warn("invalid duration env var, using default", "key", key, "value", raw, "default", fallback)
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func floatEnv(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		slog.Warn("invalid float env var, using default", "key", key, "value", raw, "default", fallback)
		return fallback
	}
	return f
}

func intEnv(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("invalid int env var, using default", "key", key, "value", raw, "default", fallback)
		return fallback
	}
	return n
}

func logLevelEnv(key string, fallback slog.Level) slog.Level {
	switch os.Getenv(key) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "":
		return fallback
	default:
		slog.Warn("unrecognized log level env var, using default", "key", key, "default", fallback)
		return fallback
	}
}
