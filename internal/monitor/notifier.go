package monitor

import (
	"context"

	"go.uber.org/zap"

	"github.com/t77yq/sentinel/internal/analytics"
	"github.com/t77yq/sentinel/internal/model"
)

// NotificationSender delivers a notification over one channel
type NotificationSender interface {
	Send(ctx context.Context, incident model.AlertIncident, notification model.AlertNotification) error
}

// SenderFunc adapts a function to NotificationSender
type SenderFunc func(ctx context.Context, incident model.AlertIncident, notification model.AlertNotification) error

// Send implements NotificationSender.Send
func (f SenderFunc) Send(ctx context.Context, incident model.AlertIncident, notification model.AlertNotification) error {
	return f(ctx, incident, notification)
}

// ConsoleSender writes notifications to the log
type ConsoleSender struct {
	logger *zap.Logger
}

// NewConsoleSender creates a log-backed sender
func NewConsoleSender(logger *zap.Logger) *ConsoleSender {
	return &ConsoleSender{logger: logger.Named("console")}
}

// Send implements NotificationSender.Send
func (s *ConsoleSender) Send(ctx context.Context, incident model.AlertIncident, notification model.AlertNotification) error {
	fields := []zap.Field{
		zap.String("notification_id", notification.ID),
		zap.String("incident_id", incident.ID),
		zap.String("rule_id", incident.RuleID),
		zap.String("severity", string(incident.Severity)),
		zap.String("message", notification.Message),
	}
	switch incident.Severity {
	case model.AlertSeverityCritical, model.AlertSeverityHigh:
		s.logger.Error("Production alert", fields...)
	case model.AlertSeverityMedium:
		s.logger.Warn("Production alert", fields...)
	default:
		s.logger.Info("Production alert", fields...)
	}
	return nil
}

// AnalyticsSender forwards notifications to the analytics sink
type AnalyticsSender struct {
	sink analytics.Sink
}

// NewAnalyticsSender creates a sender for the firebase channel
func NewAnalyticsSender(sink analytics.Sink) *AnalyticsSender {
	return &AnalyticsSender{sink: sink}
}

// Send implements NotificationSender.Send
func (s *AnalyticsSender) Send(ctx context.Context, incident model.AlertIncident, notification model.AlertNotification) error {
	return s.sink.LogEvent(ctx, analytics.EventAlertNotification, map[string]interface{}{
		"notification_id": notification.ID,
		"incident_id":     incident.ID,
		"message":         notification.Message,
	})
}

// EmailSender is a placeholder until an email integration exists; it
// accepts every notification without delivering it.
type EmailSender struct {
	logger *zap.Logger
}

// NewEmailSender creates the placeholder email sender
func NewEmailSender(logger *zap.Logger) *EmailSender {
	return &EmailSender{logger: logger.Named("email")}
}

// Send implements NotificationSender.Send
func (s *EmailSender) Send(ctx context.Context, incident model.AlertIncident, notification model.AlertNotification) error {
	s.logger.Debug("Email channel not integrated, notification dropped",
		zap.String("notification_id", notification.ID))
	return nil
}

// SlackSender is a placeholder until a Slack integration exists; it
// accepts every notification without delivering it.
type SlackSender struct {
	logger *zap.Logger
}

// NewSlackSender creates the placeholder Slack sender
func NewSlackSender(logger *zap.Logger) *SlackSender {
	return &SlackSender{logger: logger.Named("slack")}
}

// Send implements NotificationSender.Send
func (s *SlackSender) Send(ctx context.Context, incident model.AlertIncident, notification model.AlertNotification) error {
	s.logger.Debug("Slack channel not integrated, notification dropped",
		zap.String("notification_id", notification.ID))
	return nil
}

// DefaultSenders returns the sender for every built-in channel.
func DefaultSenders(logger *zap.Logger, sink analytics.Sink) map[model.NotificationChannel]NotificationSender {
	return map[model.NotificationChannel]NotificationSender{
		model.ChannelConsole:  NewConsoleSender(logger),
		model.ChannelFirebase: NewAnalyticsSender(sink),
		model.ChannelEmail:    NewEmailSender(logger),
		model.ChannelSlack:    NewSlackSender(logger),
	}
}
