package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_AppliesDefaultsWithNoEnvironment(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.False(t, cfg.LoggingStructured)
	assert.True(t, cfg.LoggingConsole)
	assert.Equal(t, "localhost", cfg.Store.Host)
	assert.Equal(t, 6379, cfg.Store.Port)
	assert.Equal(t, 5*time.Second, cfg.Store.ConnectTimeout)
	assert.Equal(t, 5, cfg.Queue.DefaultConcurrency)
	assert.Equal(t, 1000, cfg.Queue.ImportChunkSize)
	assert.Equal(t, 100, cfg.Queue.EmailBatchSize)
	assert.Equal(t, 30*time.Second, cfg.Queue.StallTimeout)
	assert.Equal(t, 60, cfg.Scheduler.AlertTickSeconds)
	assert.Equal(t, 30, cfg.Scheduler.RateLimitMonitorSeconds)
	assert.Equal(t, "", cfg.Database.DSN)
	assert.True(t, cfg.StartWorkers)
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("ENGINE_LOG_LEVEL", "debug")
	t.Setenv("ENGINE_STORE_HOST", "redis.internal")
	t.Setenv("ENGINE_STORE_PORT", "6380")
	t.Setenv("ENGINE_QUEUE_DEFAULT_CONCURRENCY", "10")
	t.Setenv("ENGINE_DATABASE_DSN", "postgres://x")
	t.Setenv("ENGINE_START_WORKERS", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "redis.internal", cfg.Store.Host)
	assert.Equal(t, 6380, cfg.Store.Port)
	assert.Equal(t, 10, cfg.Queue.DefaultConcurrency)
	assert.Equal(t, "postgres://x", cfg.Database.DSN)
	assert.False(t, cfg.StartWorkers)
}

func TestLoad_RejectsNonPositiveConcurrency(t *testing.T) {
	t.Setenv("ENGINE_QUEUE_DEFAULT_CONCURRENCY", "0")
	_, err := Load()
	assert.Error(t, err)
}

// Ensure env var lookups don't leak across tests run in the same process
// (t.Setenv already restores, but viper's AutomaticEnv reads fresh per Load
// call so this doubles as a regression check on that assumption).
func TestLoad_DoesNotLeakEnvBetweenCalls(t *testing.T) {
	require.Empty(t, os.Getenv("ENGINE_QUEUE_DEFAULT_CONCURRENCY"))
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Queue.DefaultConcurrency)
}
