package model

import (
	"fmt"
	"time"
)

// AlertSeverity represents the severity level of an alert
type AlertSeverity string

const (
	AlertSeverityLow      AlertSeverity = "low"
	AlertSeverityMedium   AlertSeverity = "medium"
	AlertSeverityHigh     AlertSeverity = "high"
	AlertSeverityCritical AlertSeverity = "critical"
)

// AlertCondition identifies the check a rule performs against a snapshot
type AlertCondition string

const (
	ConditionSystemCritical         AlertCondition = "system_critical"
	ConditionHighErrorRate          AlertCondition = "high_error_rate"
	ConditionPerformanceDegradation AlertCondition = "performance_degradation"
	ConditionHighMemory             AlertCondition = "high_memory"
	ConditionSecurityViolation      AlertCondition = "security_violation"
	ConditionFirebaseFailure        AlertCondition = "firebase_failure"
)

// NotificationChannel names a delivery target for alert notifications
type NotificationChannel string

const (
	ChannelConsole  NotificationChannel = "console"
	ChannelFirebase NotificationChannel = "firebase"
	ChannelEmail    NotificationChannel = "email"
	ChannelSlack    NotificationChannel = "slack"
)

// IncidentStatus represents the lifecycle state of an incident
type IncidentStatus string

const (
	IncidentStatusActive       IncidentStatus = "active"
	IncidentStatusAcknowledged IncidentStatus = "acknowledged"
	IncidentStatusResolved     IncidentStatus = "resolved"
	IncidentStatusSuppressed   IncidentStatus = "suppressed"
)

// NotificationStatus represents the delivery state of a notification
type NotificationStatus string

const (
	NotificationStatusPending   NotificationStatus = "pending"
	NotificationStatusSent      NotificationStatus = "sent"
	NotificationStatusFailed    NotificationStatus = "failed"
	NotificationStatusCancelled NotificationStatus = "cancelled"
)

// AlertRule defines a rule for generating alerts
type AlertRule struct {
	ID          string                `json:"id" yaml:"id"`
	Name        string                `json:"name" yaml:"name"`
	Description string                `json:"description" yaml:"description"`
	Condition   AlertCondition        `json:"condition" yaml:"condition"`
	Severity    AlertSeverity         `json:"severity" yaml:"severity"`
	Threshold   *float64              `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	Subsystem   string                `json:"subsystem,omitempty" yaml:"subsystem,omitempty"`
	Cooldown    time.Duration         `json:"cooldown_period" yaml:"cooldown"`
	Enabled     bool                  `json:"enabled" yaml:"enabled"`
	Channels    []NotificationChannel `json:"notification_channels" yaml:"channels"`
}

// ThresholdOr returns the rule threshold, or def when none is set.
func (r *AlertRule) ThresholdOr(def float64) float64 {
	if r.Threshold == nil {
		return def
	}
	return *r.Threshold
}

// Clone returns a deep copy of the rule.
func (r AlertRule) Clone() AlertRule {
	out := r
	if r.Threshold != nil {
		v := *r.Threshold
		out.Threshold = &v
	}
	out.Channels = append([]NotificationChannel(nil), r.Channels...)
	return out
}

// Validate checks the structural constraints of a rule.
func (r *AlertRule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	switch r.Condition {
	case ConditionSystemCritical, ConditionHighErrorRate, ConditionPerformanceDegradation,
		ConditionHighMemory, ConditionSecurityViolation, ConditionFirebaseFailure:
	default:
		return fmt.Errorf("rule %s: unknown condition %q", r.ID, r.Condition)
	}
	switch r.Severity {
	case AlertSeverityLow, AlertSeverityMedium, AlertSeverityHigh, AlertSeverityCritical:
	default:
		return fmt.Errorf("rule %s: unknown severity %q", r.ID, r.Severity)
	}
	if r.Cooldown < 0 {
		return fmt.Errorf("rule %s: cooldown must not be negative", r.ID)
	}
	return nil
}

// Float returns a pointer to v, for optional thresholds.
func Float(v float64) *float64 {
	return &v
}

// AlertIncident is a recorded instance of a rule having fired
type AlertIncident struct {
	ID          string                 `json:"id"`
	RuleID      string                 `json:"rule_id"`
	RuleName    string                 `json:"rule_name"`
	Severity    AlertSeverity          `json:"severity"`
	Status      IncidentStatus         `json:"status"`
	CreatedAt   time.Time              `json:"created_at"`
	ResolvedAt  *time.Time             `json:"resolved_at,omitempty"`
	AlertData   map[string]interface{} `json:"alert_data,omitempty"`
	Description string                 `json:"description"`
}

// Clone returns a copy of the incident that shares no mutable state.
func (i AlertIncident) Clone() AlertIncident {
	out := i
	if i.ResolvedAt != nil {
		t := *i.ResolvedAt
		out.ResolvedAt = &t
	}
	if i.AlertData != nil {
		out.AlertData = make(map[string]interface{}, len(i.AlertData))
		for k, v := range i.AlertData {
			out.AlertData[k] = v
		}
	}
	return out
}

// IncidentID derives the identity of an incident from its trigger instant and rule.
func IncidentID(ruleID string, at time.Time) string {
	return fmt.Sprintf("%d_%s", at.UnixMilli(), ruleID)
}

// AlertNotification is a single delivery of an incident to one channel
type AlertNotification struct {
	ID         string              `json:"id"`
	IncidentID string              `json:"incident_id"`
	Channel    NotificationChannel `json:"channel"`
	Message    string              `json:"message"`
	CreatedAt  time.Time           `json:"created_at"`
	Status     NotificationStatus  `json:"status"`
	SentAt     *time.Time          `json:"sent_at,omitempty"`
	Error      string              `json:"error,omitempty"`
}

// Clone returns a copy of the notification.
func (n AlertNotification) Clone() AlertNotification {
	out := n
	if n.SentAt != nil {
		t := *n.SentAt
		out.SentAt = &t
	}
	return out
}
