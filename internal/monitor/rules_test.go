package monitor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t77yq/sentinel/internal/model"
)

func TestDefaultRules(t *testing.T) {
	rules := DefaultRules()
	require.Len(t, rules, 6)

	seen := make(map[string]bool)
	for _, r := range rules {
		require.NoError(t, r.Validate(), r.ID)
		assert.False(t, seen[r.ID], "duplicate %s", r.ID)
		seen[r.ID] = true
		assert.True(t, r.Enabled)
		assert.NotEmpty(t, r.Channels)
	}

	highErrorRate := defaultRule(t, "high_error_rate")
	assert.Equal(t, []model.NotificationChannel{model.ChannelFirebase, model.ChannelConsole}, highErrorRate.Channels)
	assert.Equal(t, 0.05, highErrorRate.ThresholdOr(0))
}

func TestStaticRuleLoader_ReturnsCopies(t *testing.T) {
	loader := StaticRuleLoader(DefaultRules())

	rules, err := loader.LoadRules(context.Background())
	require.NoError(t, err)
	rules[0].Channels[0] = model.ChannelSlack
	*rules[1].Threshold = 99

	again, err := loader.LoadRules(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.ChannelFirebase, again[0].Channels[0])
	assert.Equal(t, 0.05, *again[1].Threshold)
}

func TestFileRuleLoader(t *testing.T) {
	dir := t.TempDir()

	t.Run("Merge", func(t *testing.T) {
		path := filepath.Join(dir, "rules.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
rules:
  - id: high_error_rate
    name: High Error Rate
    condition: high_error_rate
    severity: critical
    threshold: 0.02
    cooldown: 2m
    enabled: true
    channels: [console]
  - id: payments_down
    name: Payments Down
    condition: firebase_failure
    subsystem: payments
    severity: high
    cooldown: 5m
    enabled: true
    channels: [console, slack]
`), 0o644))

		rules, err := FileRuleLoader{Path: path}.LoadRules(context.Background())
		require.NoError(t, err)
		require.Len(t, rules, 7)

		byID := make(map[string]model.AlertRule)
		for _, r := range rules {
			byID[r.ID] = r
		}

		overridden := byID["high_error_rate"]
		assert.Equal(t, model.AlertSeverityCritical, overridden.Severity)
		assert.Equal(t, 0.02, overridden.ThresholdOr(0))
		assert.Equal(t, 2*time.Minute, overridden.Cooldown)
		assert.Equal(t, []model.NotificationChannel{model.ChannelConsole}, overridden.Channels)

		added := byID["payments_down"]
		assert.Equal(t, "payments", added.Subsystem)
		assert.Equal(t, 5*time.Minute, added.Cooldown)
		assert.Equal(t, "payments_down", rules[6].ID)
	})

	t.Run("Invalid Rule", func(t *testing.T) {
		path := filepath.Join(dir, "invalid.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
rules:
  - id: broken
    condition: cpu_on_fire
    severity: high
`), 0o644))

		_, err := FileRuleLoader{Path: path}.LoadRules(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown condition")
	})

	t.Run("Missing File", func(t *testing.T) {
		_, err := FileRuleLoader{Path: filepath.Join(dir, "missing.yaml")}.LoadRules(context.Background())
		require.Error(t, err)
	})
}
