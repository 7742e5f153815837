// Package analytics delivers monitoring events to the external analytics sink.
package analytics

import (
	"context"
	"time"
)

// Event names with a fixed parameter schema.
const (
	EventAlertTriggered         = "production_alert_triggered"
	EventAlertNotification      = "alert_notification"
	EventHealthCheckCompleted   = "health_check_completed"
	EventPerformanceViolation   = "performance_violation"
	EventMonitoringReport       = "monitoring_report"
	EventSystemMetricsCollected = "system_metrics_collected"
)

// Sink receives named analytics events
type Sink interface {
	// LogEvent records an event with its parameters
	LogEvent(ctx context.Context, name string, params map[string]interface{}) error
}

// Pinger is implemented by sinks that can report their own availability
type Pinger interface {
	Ping(ctx context.Context) error
}

// Event is the envelope published for every analytics event
type Event struct {
	Name      string                 `json:"event"`
	Params    map[string]interface{} `json:"params"`
	Timestamp time.Time              `json:"timestamp"`
}

// NopSink discards every event
type NopSink struct{}

// LogEvent implements Sink.LogEvent
func (NopSink) LogEvent(ctx context.Context, name string, params map[string]interface{}) error {
	return nil
}

// Ping implements Pinger.Ping
func (NopSink) Ping(ctx context.Context) error {
	return nil
}
