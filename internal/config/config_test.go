package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.App.Environment)
	assert.Equal(t, 50, cfg.Monitor.MaxAlertsPerHour)
	assert.Equal(t, 30*time.Second, cfg.Monitor.HealthInterval)
	assert.Equal(t, 60*time.Second, cfg.Monitor.AlertInterval)
	assert.Equal(t, 300*time.Second, cfg.Monitor.ReportInterval)
	assert.Equal(t, time.Hour, cfg.Monitor.CleanupInterval)
	assert.Equal(t, "firebase", cfg.Monitor.ExternalService)
	assert.Equal(t, 3000.0, cfg.SLA.LoadTimeMs)
	assert.Equal(t, 500.0, cfg.SLA.APIResponseTimeMs)
	assert.Equal(t, 0.70, cfg.SLA.CacheHitRate)
	assert.Equal(t, 512.0, cfg.SLA.MemoryUsageMB)
	assert.Equal(t, 0.01, cfg.SLA.ErrorRate)
	assert.Equal(t, 5*time.Minute, cfg.SLA.EscalationDebounce)
	assert.Equal(t, ":9090", cfg.Metrics.Listen)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app:
  environment: staging
monitor:
  max_alerts_per_hour: 10
  alert_interval: 2m
sla:
  api_response_time_ms: 250
`), 0o644))

	t.Setenv("SENTINEL_NATS_URL", "nats://nats.internal:4222")
	t.Setenv("SENTINEL_MONITOR_MAX_ALERTS_PER_HOUR", "20")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.App.Environment)
	assert.Equal(t, 20, cfg.Monitor.MaxAlertsPerHour)
	assert.Equal(t, 2*time.Minute, cfg.Monitor.AlertInterval)
	assert.Equal(t, 250.0, cfg.SLA.APIResponseTimeMs)
	assert.Equal(t, "nats://nats.internal:4222", cfg.NATS.URL)
}

func TestLoad_Invalid(t *testing.T) {
	t.Run("Missing File", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		require.Error(t, err)
	})

	t.Run("Bad Interval", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("monitor:\n  health_interval: 100ms\n"), 0o644))

		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "monitor.health_interval")
	})
}
