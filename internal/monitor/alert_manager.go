package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/sentinel/internal/analytics"
	"github.com/t77yq/sentinel/internal/model"
	"github.com/t77yq/sentinel/internal/storage"
)

const (
	// DefaultMaxAlertsPerHour caps incidents per rule per wall-clock hour
	DefaultMaxAlertsPerHour = 50

	// Notifications and resolved incidents are kept this long
	retentionPeriod = 24 * time.Hour
)

// Suppression reasons.
const (
	suppressedCooldown  = "cooldown"
	suppressedRateLimit = "rate_limit"
)

// hourKey identifies one rule's trigger counter for one wall-clock hour
type hourKey struct {
	ruleID string
	bucket int64
}

func hourBucket(t time.Time) int64 {
	return t.UTC().Truncate(time.Hour).Unix()
}

// AlertManagerConfig configures the incident and notification manager
type AlertManagerConfig struct {
	Environment      string
	MaxAlertsPerHour int
}

// AlertManager owns incidents, notifications, and the cooldown and
// rate-limit state that decides whether a rule may fire.
type AlertManager struct {
	logger  *zap.Logger
	sink    analytics.Sink
	persist persister
	metrics *Metrics
	config  AlertManagerConfig
	senders map[model.NotificationChannel]NotificationSender

	mu            sync.Mutex
	lastTrigger   map[string]time.Time
	hourlyCounts  map[hourKey]int
	incidents     []*model.AlertIncident
	notifications []*model.AlertNotification

	dispatchMu sync.Mutex
}

// NewAlertManager creates a new alert manager
func NewAlertManager(logger *zap.Logger, store storage.Store, sink analytics.Sink, senders map[model.NotificationChannel]NotificationSender, metrics *Metrics, config AlertManagerConfig) *AlertManager {
	logger = logger.Named("alert-manager")
	if config.MaxAlertsPerHour <= 0 {
		config.MaxAlertsPerHour = DefaultMaxAlertsPerHour
	}
	if config.Environment == "" {
		config.Environment = "production"
	}
	if sink == nil {
		sink = analytics.NopSink{}
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if senders == nil {
		senders = DefaultSenders(logger, sink)
	}

	return &AlertManager{
		logger:       logger,
		sink:         sink,
		persist:      persister{store: store, logger: logger},
		metrics:      metrics,
		config:       config,
		senders:      senders,
		lastTrigger:  make(map[string]time.Time),
		hourlyCounts: make(map[hourKey]int),
	}
}

// Restore reloads incidents and notifications saved by a previous process.
// Cooldown and hourly counters are rebuilt from the restored incidents.
func (m *AlertManager) Restore(ctx context.Context) error {
	var incidents []*model.AlertIncident
	if err := m.persist.load(ctx, storage.KeyActiveIncidents, &incidents); err != nil {
		return fmt.Errorf("failed to restore incidents: %w", err)
	}
	var notifications []*model.AlertNotification
	if err := m.persist.load(ctx, storage.KeyAlertHistory, &notifications); err != nil {
		return fmt.Errorf("failed to restore notifications: %w", err)
	}

	m.mu.Lock()
	m.incidents = incidents
	m.notifications = notifications
	for _, inc := range incidents {
		if last, ok := m.lastTrigger[inc.RuleID]; !ok || inc.CreatedAt.After(last) {
			m.lastTrigger[inc.RuleID] = inc.CreatedAt
		}
		m.hourlyCounts[hourKey{ruleID: inc.RuleID, bucket: hourBucket(inc.CreatedAt)}]++
	}
	m.updateActiveGaugeLocked()
	m.mu.Unlock()

	m.logger.Info("Alert state restored",
		zap.Int("incidents", len(incidents)),
		zap.Int("notifications", len(notifications)))
	return nil
}

// Trigger creates an incident for rule unless its cooldown has not elapsed
// or its hourly cap is reached. It returns nil when the trigger is suppressed.
func (m *AlertManager) Trigger(ctx context.Context, rule model.AlertRule, alertData map[string]interface{}, now time.Time) *model.AlertIncident {
	m.mu.Lock()

	if last, ok := m.lastTrigger[rule.ID]; ok && now.Sub(last) < rule.Cooldown {
		m.mu.Unlock()
		m.metrics.AlertsSuppressed.WithLabelValues(rule.ID, suppressedCooldown).Inc()
		m.logger.Debug("Alert suppressed by cooldown",
			zap.String("rule_id", rule.ID),
			zap.Duration("remaining", rule.Cooldown-now.Sub(last)))
		return nil
	}

	key := hourKey{ruleID: rule.ID, bucket: hourBucket(now)}
	if m.hourlyCounts[key] >= m.config.MaxAlertsPerHour {
		m.mu.Unlock()
		m.metrics.AlertsSuppressed.WithLabelValues(rule.ID, suppressedRateLimit).Inc()
		m.logger.Warn("Alert suppressed by hourly rate limit",
			zap.String("rule_id", rule.ID),
			zap.Int("max_alerts_per_hour", m.config.MaxAlertsPerHour))
		return nil
	}

	created := model.AlertIncident{
		ID:          m.incidentIDLocked(rule.ID, now),
		RuleID:      rule.ID,
		RuleName:    rule.Name,
		Severity:    rule.Severity,
		Status:      model.IncidentStatusActive,
		CreatedAt:   now,
		AlertData:   alertData,
		Description: rule.Description,
	}.Clone()
	incident := &created

	m.lastTrigger[rule.ID] = now
	m.hourlyCounts[key]++
	m.incidents = append(m.incidents, incident)

	message := m.renderMessage(rule, incident)
	for _, channel := range rule.Channels {
		m.notifications = append(m.notifications, &model.AlertNotification{
			ID:         uuid.New().String(),
			IncidentID: incident.ID,
			Channel:    channel,
			Message:    message,
			CreatedAt:  now,
			Status:     model.NotificationStatusPending,
		})
	}

	out := incident.Clone()
	m.updateActiveGaugeLocked()
	m.saveLocked(ctx)
	m.mu.Unlock()

	m.metrics.IncidentsTriggered.WithLabelValues(rule.ID, string(rule.Severity)).Inc()
	m.logger.Warn("Alert triggered",
		zap.String("incident_id", out.ID),
		zap.String("rule_id", rule.ID),
		zap.String("condition", string(rule.Condition)),
		zap.String("severity", string(rule.Severity)),
		zap.Int("notifications", len(rule.Channels)))

	if err := m.sink.LogEvent(ctx, analytics.EventAlertTriggered, map[string]interface{}{
		"incident_id": out.ID,
		"rule_id":     rule.ID,
		"rule_name":   rule.Name,
		"severity":    string(rule.Severity),
		"condition":   string(rule.Condition),
		"environment": m.config.Environment,
		"timestamp":   now.UTC().Format(time.RFC3339),
	}); err != nil {
		m.logger.Error("Failed to log alert event",
			zap.String("incident_id", out.ID),
			zap.Error(err))
	}

	return &out
}

// incidentIDLocked returns the incident ID for a trigger at now, suffixed
// with a counter when a rule without cooldown fires twice in one millisecond.
func (m *AlertManager) incidentIDLocked(ruleID string, now time.Time) string {
	base := model.IncidentID(ruleID, now)
	taken := make(map[string]bool)
	for _, inc := range m.incidents {
		if strings.HasPrefix(inc.ID, base) {
			taken[inc.ID] = true
		}
	}
	id := base
	for n := 2; taken[id]; n++ {
		id = fmt.Sprintf("%s_%d", base, n)
	}
	return id
}

// renderMessage formats the text carried by every notification of an incident
func (m *AlertManager) renderMessage(rule model.AlertRule, incident *model.AlertIncident) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s\n", strings.ToUpper(string(rule.Severity)), rule.Name)
	fmt.Fprintf(&b, "%s\n", rule.Description)
	fmt.Fprintf(&b, "Environment: %s\n", m.config.Environment)
	fmt.Fprintf(&b, "Time: %s\n", incident.CreatedAt.UTC().Format(time.RFC3339))
	data, err := json.Marshal(incident.AlertData)
	if err != nil {
		data = []byte(fmt.Sprintf("%q", err.Error()))
	}
	fmt.Fprintf(&b, "Data: %s", data)
	return b.String()
}

// Dispatch attempts delivery of every pending notification once. Failures
// are recorded on the notification and never retried.
func (m *AlertManager) Dispatch(ctx context.Context, now time.Time) (sent, failed int) {
	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()

	type job struct {
		incident     model.AlertIncident
		notification model.AlertNotification
	}

	m.mu.Lock()
	byID := make(map[string]*model.AlertIncident, len(m.incidents))
	for _, inc := range m.incidents {
		byID[inc.ID] = inc
	}
	var jobs []job
	for _, n := range m.notifications {
		if n.Status != model.NotificationStatusPending {
			continue
		}
		var inc model.AlertIncident
		if found, ok := byID[n.IncidentID]; ok {
			inc = found.Clone()
		} else {
			inc = model.AlertIncident{ID: n.IncidentID}
		}
		jobs = append(jobs, job{incident: inc, notification: n.Clone()})
	}
	m.mu.Unlock()

	if len(jobs) == 0 {
		return 0, 0
	}

	outcomes := make(map[string]error, len(jobs))
	for _, j := range jobs {
		outcomes[j.notification.ID] = m.send(ctx, j.incident, j.notification)
	}

	m.mu.Lock()
	for _, n := range m.notifications {
		err, ok := outcomes[n.ID]
		if !ok {
			continue
		}
		if err != nil {
			n.Status = model.NotificationStatusFailed
			n.Error = err.Error()
			failed++
			m.logger.Error("Notification delivery failed",
				zap.String("notification_id", n.ID),
				zap.String("incident_id", n.IncidentID),
				zap.String("channel", string(n.Channel)),
				zap.Error(err))
		} else {
			sentAt := now
			n.Status = model.NotificationStatusSent
			n.SentAt = &sentAt
			sent++
		}
		m.metrics.Notifications.WithLabelValues(string(n.Channel), string(n.Status)).Inc()
	}
	m.saveLocked(ctx)
	m.mu.Unlock()

	return sent, failed
}

func (m *AlertManager) send(ctx context.Context, incident model.AlertIncident, n model.AlertNotification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sender panicked: %v", r)
		}
	}()

	sender, ok := m.senders[n.Channel]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSender, n.Channel)
	}
	return sender.Send(ctx, incident, n)
}

// PruneNotifications removes notifications older than the retention period
// regardless of their status.
func (m *AlertManager) PruneNotifications(ctx context.Context, now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := m.pruneNotificationsLocked(now)
	if removed > 0 {
		m.saveLocked(ctx)
		m.logger.Debug("Pruned notifications", zap.Int("count", removed))
	}
	return removed
}

func (m *AlertManager) pruneNotificationsLocked(now time.Time) int {
	cutoff := now.Add(-retentionPeriod)
	kept := m.notifications[:0]
	for _, n := range m.notifications {
		if n.CreatedAt.After(cutoff) {
			kept = append(kept, n)
		}
	}
	removed := len(m.notifications) - len(kept)
	for i := len(kept); i < len(m.notifications); i++ {
		m.notifications[i] = nil
	}
	m.notifications = kept
	return removed
}

// Cleanup removes resolved incidents older than the retention period, old
// notifications, and hour-bucket counters other than the current hour.
func (m *AlertManager) Cleanup(ctx context.Context, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := now.Add(-retentionPeriod)
	kept := m.incidents[:0]
	for _, inc := range m.incidents {
		if inc.Status == model.IncidentStatusResolved && inc.CreatedAt.Before(cutoff) {
			continue
		}
		kept = append(kept, inc)
	}
	removedIncidents := len(m.incidents) - len(kept)
	for i := len(kept); i < len(m.incidents); i++ {
		m.incidents[i] = nil
	}
	m.incidents = kept

	removedNotifications := m.pruneNotificationsLocked(now)

	current := hourBucket(now)
	removedBuckets := 0
	for key := range m.hourlyCounts {
		if key.bucket != current {
			delete(m.hourlyCounts, key)
			removedBuckets++
		}
	}

	m.updateActiveGaugeLocked()
	m.saveLocked(ctx)

	m.logger.Info("Alert state cleaned up",
		zap.Int("incidents_removed", removedIncidents),
		zap.Int("notifications_removed", removedNotifications),
		zap.Int("hour_buckets_removed", removedBuckets))
}

// AcknowledgeIncident marks an active incident as acknowledged
func (m *AlertManager) AcknowledgeIncident(ctx context.Context, id string) error {
	return m.transition(ctx, id, model.IncidentStatusAcknowledged, time.Time{})
}

// ResolveIncident marks an incident as resolved at now
func (m *AlertManager) ResolveIncident(ctx context.Context, id string, now time.Time) error {
	return m.transition(ctx, id, model.IncidentStatusResolved, now)
}

// SuppressIncident marks an incident as suppressed and cancels its pending notifications
func (m *AlertManager) SuppressIncident(ctx context.Context, id string) error {
	return m.transition(ctx, id, model.IncidentStatusSuppressed, time.Time{})
}

func allowedTransition(from, to model.IncidentStatus) bool {
	switch from {
	case model.IncidentStatusActive:
		return to != model.IncidentStatusActive
	case model.IncidentStatusAcknowledged:
		return to == model.IncidentStatusResolved || to == model.IncidentStatusSuppressed
	}
	return false
}

func (m *AlertManager) transition(ctx context.Context, id string, to model.IncidentStatus, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var incident *model.AlertIncident
	for _, inc := range m.incidents {
		if inc.ID == id {
			incident = inc
			break
		}
	}
	if incident == nil {
		return fmt.Errorf("%w: %s", ErrIncidentNotFound, id)
	}
	if !allowedTransition(incident.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, incident.Status, to)
	}

	from := incident.Status
	incident.Status = to
	if to == model.IncidentStatusResolved {
		resolvedAt := now
		incident.ResolvedAt = &resolvedAt
	}
	if to == model.IncidentStatusSuppressed {
		for _, n := range m.notifications {
			if n.IncidentID == id && n.Status == model.NotificationStatusPending {
				n.Status = model.NotificationStatusCancelled
			}
		}
	}

	m.updateActiveGaugeLocked()
	m.saveLocked(ctx)

	m.logger.Info("Incident status changed",
		zap.String("incident_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	return nil
}

// Incidents returns copies of all retained incidents
func (m *AlertManager) Incidents() []model.AlertIncident {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.AlertIncident, 0, len(m.incidents))
	for _, inc := range m.incidents {
		out = append(out, inc.Clone())
	}
	return out
}

// ActiveIncidents returns copies of incidents that are not resolved or suppressed
func (m *AlertManager) ActiveIncidents() []model.AlertIncident {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.AlertIncident
	for _, inc := range m.incidents {
		if inc.Status == model.IncidentStatusActive || inc.Status == model.IncidentStatusAcknowledged {
			out = append(out, inc.Clone())
		}
	}
	return out
}

// Notifications returns copies of all retained notifications
func (m *AlertManager) Notifications() []model.AlertNotification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.AlertNotification, 0, len(m.notifications))
	for _, n := range m.notifications {
		out = append(out, n.Clone())
	}
	return out
}

// HourlyCount returns the number of triggers of ruleID in the hour containing at
func (m *AlertManager) HourlyCount(ruleID string, at time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hourlyCounts[hourKey{ruleID: ruleID, bucket: hourBucket(at)}]
}

func (m *AlertManager) updateActiveGaugeLocked() {
	active := 0
	for _, inc := range m.incidents {
		if inc.Status == model.IncidentStatusActive || inc.Status == model.IncidentStatusAcknowledged {
			active++
		}
	}
	m.metrics.ActiveIncidents.Set(float64(active))
}

func (m *AlertManager) saveLocked(ctx context.Context) {
	m.persist.save(ctx, storage.KeyActiveIncidents, m.incidents)
	m.persist.save(ctx, storage.KeyAlertHistory, m.notifications)
}
