package monitor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/sentinel/internal/analytics"
	"github.com/t77yq/sentinel/internal/model"
	"github.com/t77yq/sentinel/internal/storage"
	"github.com/t77yq/sentinel/internal/testutil"
)

func newTestAlertManager(t *testing.T, store storage.Store, sink analytics.Sink, senders map[model.NotificationChannel]NotificationSender) *AlertManager {
	t.Helper()
	return NewAlertManager(zaptest.NewLogger(t), store, sink, senders, nil, AlertManagerConfig{Environment: "test"})
}

func okSender() NotificationSender {
	return SenderFunc(func(ctx context.Context, incident model.AlertIncident, n model.AlertNotification) error {
		return nil
	})
}

func TestAlertManager_HighErrorRate(t *testing.T) {
	ctx := context.Background()
	sink := &testutil.RecordingSink{}
	manager := newTestAlertManager(t, storage.NewMemoryStore(), sink, nil)
	evaluator := NewRuleEvaluator(zaptest.NewLogger(t), nil)

	snap := &model.Snapshot{
		TakenAt: baseTime,
		Errors:  &model.ErrorStats{ErrorRatePerMinute: 0.08, TotalErrors: 40, RecentErrors1h: 40},
	}
	results := evaluator.Evaluate([]model.AlertRule{defaultRule(t, "high_error_rate")}, snap)
	require.Len(t, results, 1)
	require.True(t, results[0].Triggered)

	incident := manager.Trigger(ctx, results[0].Rule, results[0].AlertData, baseTime)
	require.NotNil(t, incident)
	assert.Equal(t, model.IncidentID("high_error_rate", baseTime), incident.ID)
	assert.Equal(t, model.IncidentStatusActive, incident.Status)
	assert.Equal(t, model.AlertSeverityHigh, incident.Severity)
	assert.Equal(t, 0.08, incident.AlertData["error_rate"])

	require.Len(t, manager.Incidents(), 1)
	notifications := manager.Notifications()
	require.Len(t, notifications, 2)
	assert.Equal(t, model.ChannelFirebase, notifications[0].Channel)
	assert.Equal(t, model.ChannelConsole, notifications[1].Channel)
	for _, n := range notifications {
		assert.Equal(t, model.NotificationStatusPending, n.Status)
		assert.Equal(t, incident.ID, n.IncidentID)
		assert.NotEmpty(t, n.ID)
		assert.True(t, strings.HasPrefix(n.Message, "[HIGH] High Error Rate\n"))
		assert.Contains(t, n.Message, "Environment: test")
	}
	assert.NotEqual(t, notifications[0].ID, notifications[1].ID)

	events := sink.Events(analytics.EventAlertTriggered)
	require.Len(t, events, 1)
	assert.Equal(t, incident.ID, events[0].Params["incident_id"])
	assert.Equal(t, "high_error_rate", events[0].Params["rule_id"])
	assert.Equal(t, "high", events[0].Params["severity"])
	assert.Equal(t, "test", events[0].Params["environment"])
	assert.Equal(t, baseTime.Format(time.RFC3339), events[0].Params["timestamp"])
}

func TestAlertManager_Cooldown(t *testing.T) {
	ctx := context.Background()
	manager := newTestAlertManager(t, nil, nil, nil)
	rule := defaultRule(t, "high_error_rate")

	require.NotNil(t, manager.Trigger(ctx, rule, nil, baseTime))
	assert.Nil(t, manager.Trigger(ctx, rule, nil, baseTime.Add(5*time.Minute)))
	assert.Nil(t, manager.Trigger(ctx, rule, nil, baseTime.Add(10*time.Minute-time.Second)))
	require.NotNil(t, manager.Trigger(ctx, rule, nil, baseTime.Add(10*time.Minute)))

	other := defaultRule(t, "high_memory")
	require.NotNil(t, manager.Trigger(ctx, other, nil, baseTime.Add(time.Minute)))

	assert.Len(t, manager.Incidents(), 3)
}

func TestAlertManager_SameInstantTriggersGetDistinctIDs(t *testing.T) {
	ctx := context.Background()
	manager := newTestAlertManager(t, nil, nil, map[model.NotificationChannel]NotificationSender{
		model.ChannelFirebase: okSender(),
		model.ChannelConsole:  okSender(),
	})
	rule := defaultRule(t, "high_error_rate")
	rule.Cooldown = 0

	first := manager.Trigger(ctx, rule, nil, baseTime)
	second := manager.Trigger(ctx, rule, nil, baseTime)
	third := manager.Trigger(ctx, rule, nil, baseTime)
	require.NotNil(t, first)
	require.NotNil(t, second)
	require.NotNil(t, third)

	base := model.IncidentID(rule.ID, baseTime)
	assert.Equal(t, base, first.ID)
	assert.Equal(t, base+"_2", second.ID)
	assert.Equal(t, base+"_3", third.ID)

	require.NoError(t, manager.ResolveIncident(ctx, second.ID, baseTime))
	statuses := make(map[string]model.IncidentStatus)
	for _, inc := range manager.Incidents() {
		statuses[inc.ID] = inc.Status
	}
	assert.Equal(t, map[string]model.IncidentStatus{
		first.ID:  model.IncidentStatusActive,
		second.ID: model.IncidentStatusResolved,
		third.ID:  model.IncidentStatusActive,
	}, statuses)

	perIncident := make(map[string]int)
	for _, n := range manager.Notifications() {
		perIncident[n.IncidentID]++
	}
	assert.Equal(t, map[string]int{first.ID: 2, second.ID: 2, third.ID: 2}, perIncident)
}

func TestAlertManager_HourlyRateLimit(t *testing.T) {
	ctx := context.Background()
	manager := newTestAlertManager(t, nil, nil, nil)
	rule := defaultRule(t, "high_error_rate")
	rule.Cooldown = 0

	for i := 0; i < DefaultMaxAlertsPerHour; i++ {
		require.NotNil(t, manager.Trigger(ctx, rule, nil, baseTime.Add(time.Duration(i)*time.Second)), "trigger %d", i)
	}
	assert.Nil(t, manager.Trigger(ctx, rule, nil, baseTime.Add(59*time.Minute)))
	assert.Equal(t, DefaultMaxAlertsPerHour, manager.HourlyCount(rule.ID, baseTime))

	nextHour := baseTime.Add(time.Hour)
	require.NotNil(t, manager.Trigger(ctx, rule, nil, nextHour))
	assert.Equal(t, 1, manager.HourlyCount(rule.ID, nextHour))
	assert.Len(t, manager.Incidents(), DefaultMaxAlertsPerHour+1)
}

func TestAlertManager_Dispatch(t *testing.T) {
	ctx := context.Background()
	sendErr := errors.New("analytics unavailable")

	var delivered []string
	senders := map[model.NotificationChannel]NotificationSender{
		model.ChannelConsole: SenderFunc(func(ctx context.Context, incident model.AlertIncident, n model.AlertNotification) error {
			delivered = append(delivered, incident.RuleID)
			return nil
		}),
		model.ChannelFirebase: SenderFunc(func(ctx context.Context, incident model.AlertIncident, n model.AlertNotification) error {
			return sendErr
		}),
		model.ChannelEmail: SenderFunc(func(ctx context.Context, incident model.AlertIncident, n model.AlertNotification) error {
			panic("smtp exploded")
		}),
	}
	manager := newTestAlertManager(t, nil, nil, senders)

	require.NotNil(t, manager.Trigger(ctx, defaultRule(t, "high_error_rate"), nil, baseTime))

	sent, failed := manager.Dispatch(ctx, baseTime.Add(time.Second))
	assert.Equal(t, 1, sent)
	assert.Equal(t, 1, failed)
	assert.Equal(t, []string{"high_error_rate"}, delivered)

	for _, n := range manager.Notifications() {
		switch n.Channel {
		case model.ChannelFirebase:
			assert.Equal(t, model.NotificationStatusFailed, n.Status)
			assert.Equal(t, sendErr.Error(), n.Error)
			assert.Nil(t, n.SentAt)
		case model.ChannelConsole:
			assert.Equal(t, model.NotificationStatusSent, n.Status)
			require.NotNil(t, n.SentAt)
			assert.True(t, n.SentAt.Equal(baseTime.Add(time.Second)))
		}
	}

	// failed notifications are not retried
	sent, failed = manager.Dispatch(ctx, baseTime.Add(2*time.Second))
	assert.Zero(t, sent)
	assert.Zero(t, failed)

	t.Run("Panicking And Missing Senders", func(t *testing.T) {
		rule := defaultRule(t, "security_violation")
		rule.Channels = []model.NotificationChannel{model.ChannelEmail, model.ChannelSlack}
		incident := manager.Trigger(ctx, rule, nil, baseTime)
		require.NotNil(t, incident)

		sent, failed := manager.Dispatch(ctx, baseTime.Add(time.Second))
		assert.Zero(t, sent)
		assert.Equal(t, 2, failed)

		for _, n := range manager.Notifications() {
			if n.IncidentID != incident.ID {
				continue
			}
			assert.Equal(t, model.NotificationStatusFailed, n.Status)
			if n.Channel == model.ChannelEmail {
				assert.Contains(t, n.Error, "smtp exploded")
			} else {
				assert.Contains(t, n.Error, ErrNoSender.Error())
			}
		}
	})
}

func TestAlertManager_DefaultSenders(t *testing.T) {
	ctx := context.Background()
	sink := &testutil.RecordingSink{}
	manager := newTestAlertManager(t, nil, sink, nil)

	incident := manager.Trigger(ctx, defaultRule(t, "high_error_rate"), nil, baseTime)
	require.NotNil(t, incident)

	sent, failed := manager.Dispatch(ctx, baseTime)
	assert.Equal(t, 2, sent)
	assert.Zero(t, failed)

	events := sink.Events(analytics.EventAlertNotification)
	require.Len(t, events, 1)
	assert.Equal(t, incident.ID, events[0].Params["incident_id"])
}

func TestAlertManager_PruneNotifications(t *testing.T) {
	ctx := context.Background()
	manager := newTestAlertManager(t, nil, nil, nil)

	require.NotNil(t, manager.Trigger(ctx, defaultRule(t, "high_error_rate"), nil, baseTime))
	require.NotNil(t, manager.Trigger(ctx, defaultRule(t, "high_memory"), nil, baseTime.Add(2*time.Hour)))

	assert.Zero(t, manager.PruneNotifications(ctx, baseTime.Add(23*time.Hour)))
	assert.Equal(t, 2, manager.PruneNotifications(ctx, baseTime.Add(24*time.Hour)))

	remaining := manager.Notifications()
	require.Len(t, remaining, 2)
	for _, n := range remaining {
		assert.True(t, n.CreatedAt.Equal(baseTime.Add(2*time.Hour)))
	}
	// incidents are untouched by pruning
	assert.Len(t, manager.Incidents(), 2)
}

func TestAlertManager_Cleanup(t *testing.T) {
	ctx := context.Background()
	manager := newTestAlertManager(t, nil, nil, nil)
	now := baseTime.Add(25 * time.Hour)

	resolved := manager.Trigger(ctx, defaultRule(t, "high_error_rate"), nil, baseTime)
	require.NotNil(t, resolved)
	active := manager.Trigger(ctx, defaultRule(t, "high_memory"), nil, baseTime)
	require.NotNil(t, active)
	recent := manager.Trigger(ctx, defaultRule(t, "system_critical"), nil, now.Add(-time.Hour))
	require.NotNil(t, recent)
	require.NoError(t, manager.ResolveIncident(ctx, resolved.ID, baseTime.Add(time.Hour)))
	require.NoError(t, manager.ResolveIncident(ctx, recent.ID, now))

	manager.Cleanup(ctx, now)

	var ids []string
	for _, inc := range manager.Incidents() {
		ids = append(ids, inc.ID)
	}
	assert.ElementsMatch(t, []string{active.ID, recent.ID}, ids)

	// counters of past hours are dropped
	assert.Zero(t, manager.HourlyCount("high_error_rate", baseTime))
	assert.Zero(t, manager.HourlyCount("high_memory", baseTime))

	// notifications older than the retention period are gone
	for _, n := range manager.Notifications() {
		assert.Equal(t, recent.ID, n.IncidentID)
	}
}

func TestAlertManager_Transitions(t *testing.T) {
	ctx := context.Background()
	manager := newTestAlertManager(t, nil, nil, nil)

	first := manager.Trigger(ctx, defaultRule(t, "high_error_rate"), nil, baseTime)
	require.NotNil(t, first)
	second := manager.Trigger(ctx, defaultRule(t, "high_memory"), nil, baseTime)
	require.NotNil(t, second)

	t.Run("Acknowledge", func(t *testing.T) {
		require.NoError(t, manager.AcknowledgeIncident(ctx, first.ID))
		err := manager.AcknowledgeIncident(ctx, first.ID)
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.Len(t, manager.ActiveIncidents(), 2)
	})

	t.Run("Resolve", func(t *testing.T) {
		resolvedAt := baseTime.Add(time.Hour)
		require.NoError(t, manager.ResolveIncident(ctx, first.ID, resolvedAt))
		err := manager.ResolveIncident(ctx, first.ID, resolvedAt)
		assert.ErrorIs(t, err, ErrInvalidTransition)

		for _, inc := range manager.Incidents() {
			if inc.ID == first.ID {
				assert.Equal(t, model.IncidentStatusResolved, inc.Status)
				require.NotNil(t, inc.ResolvedAt)
				assert.True(t, inc.ResolvedAt.Equal(resolvedAt))
			}
		}
	})

	t.Run("Suppress Cancels Pending", func(t *testing.T) {
		require.NoError(t, manager.SuppressIncident(ctx, second.ID))
		for _, n := range manager.Notifications() {
			if n.IncidentID == second.ID {
				assert.Equal(t, model.NotificationStatusCancelled, n.Status)
			}
		}
		active := manager.ActiveIncidents()
		assert.Empty(t, active)
	})

	t.Run("Unknown Incident", func(t *testing.T) {
		err := manager.AcknowledgeIncident(ctx, "missing")
		assert.ErrorIs(t, err, ErrIncidentNotFound)
	})
}

func TestAlertManager_Restore(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	rule := defaultRule(t, "high_error_rate")

	first := newTestAlertManager(t, store, nil, nil)
	incident := first.Trigger(ctx, rule, map[string]interface{}{"error_rate": 0.08}, baseTime)
	require.NotNil(t, incident)
	require.NoError(t, first.AcknowledgeIncident(ctx, incident.ID))

	second := newTestAlertManager(t, store, nil, nil)
	require.NoError(t, second.Restore(ctx))

	incidents := second.Incidents()
	require.Len(t, incidents, 1)
	assert.Equal(t, incident.ID, incidents[0].ID)
	assert.Equal(t, model.IncidentStatusAcknowledged, incidents[0].Status)
	assert.True(t, incidents[0].CreatedAt.Equal(baseTime))
	assert.Equal(t, 0.08, incidents[0].AlertData["error_rate"])
	assert.Len(t, second.Notifications(), 2)

	// cooldown and hourly counters survive the restart
	assert.Nil(t, second.Trigger(ctx, rule, nil, baseTime.Add(time.Minute)))
	assert.Equal(t, 1, second.HourlyCount(rule.ID, baseTime))
}

func TestAlertManager_PersistenceFailure(t *testing.T) {
	ctx := context.Background()
	manager := newTestAlertManager(t, failingStore{}, nil, map[model.NotificationChannel]NotificationSender{
		model.ChannelFirebase: okSender(),
		model.ChannelConsole:  okSender(),
	})

	incident := manager.Trigger(ctx, defaultRule(t, "high_error_rate"), nil, baseTime)
	require.NotNil(t, incident)

	sent, failed := manager.Dispatch(ctx, baseTime)
	assert.Equal(t, 2, sent)
	assert.Zero(t, failed)

	err := manager.Restore(ctx)
	assert.ErrorIs(t, err, errStoreDown)
}
