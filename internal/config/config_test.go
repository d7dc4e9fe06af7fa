package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"DATABASE_URL", "RUN_TIMEOUT_MS", "FRESHNESS_WINDOW_MS",
		"COST_PER_THOUSAND_TOKENS_USD", "ORPHAN_CLEANUP_INTERVAL_MS",
		"HTTP_ADDR", "LOG_LEVEL", "BREAKER_FAILURE_THRESHOLD", "BREAKER_COOLDOWN_MS",
	}
	for _, k := range keys {
		orig, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, orig)
			}
		})
	}
}

func TestLoadAppliesDefaultsWhenUnset(t *testing.T) {
	clearEnv(t)
	os.Setenv("DATABASE_URL", "postgres://localhost/test")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/test", cfg.DatabaseURL)
	assert.Equal(t, DefaultRunTimeout, cfg.RunTimeout)
	assert.Equal(t, DefaultFreshnessWindow, cfg.FreshnessWindow)
	assert.Equal(t, DefaultCostPerThousandTokensUSD, cfg.CostPerThousandTokensUSD)
	assert.Equal(t, DefaultHTTPAddr, cfg.HTTPAddr)
	assert.Equal(t, uint32(DefaultBreakerFailureThreshold), cfg.BreakerFailureThreshold)
}

func TestLoadReadsOverridesFromEnv(t *testing.T) {
	clearEnv(t)
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	os.Setenv("RUN_TIMEOUT_MS", "90000")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("BREAKER_FAILURE_THRESHOLD", "10")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, cfg.RunTimeout)
	assert.Equal(t, -4, int(cfg.LogLevel))
	assert.Equal(t, uint32(10), cfg.BreakerFailureThreshold)
}

func TestLoadFailsValidationWithoutDatabaseURL(t *testing.T) {
	clearEnv(t)

	_, err := Load("")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestLoadIgnoresMissingEnvFile(t *testing.T) {
	clearEnv(t)
	os.Setenv("DATABASE_URL", "postgres://localhost/test")

	_, err := Load("/nonexistent/path/.env")
	require.NoError(t, err)
}
