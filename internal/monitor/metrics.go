package monitor

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/t77yq/sentinel/internal/model"
)

const metricsNamespace = "sentinel"

// Metrics holds the Prometheus instruments updated by the monitor
type Metrics struct {
	IncidentsTriggered   *prometheus.CounterVec
	AlertsSuppressed     *prometheus.CounterVec
	RuleEvaluationErrors *prometheus.CounterVec
	Notifications        *prometheus.CounterVec
	HealthStatus         *prometheus.GaugeVec
	CheckFailures        *prometheus.GaugeVec
	SLAViolations        *prometheus.CounterVec
	ActiveIncidents      prometheus.Gauge
}

// NewMetrics creates the instruments and registers them with reg.
// A nil reg leaves them unregistered. Instruments already registered with
// reg are reused, so several monitors can share one registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		IncidentsTriggered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "incidents_triggered_total",
			Help:      "Incidents created by alert rules",
		}, []string{"rule_id", "severity"}),
		AlertsSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "alerts_suppressed_total",
			Help:      "Rule triggers suppressed by cooldown or hourly rate limit",
		}, []string{"rule_id", "reason"}),
		RuleEvaluationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rule_evaluation_errors_total",
			Help:      "Rule evaluations that failed",
		}, []string{"rule_id"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "notifications_total",
			Help:      "Notification delivery attempts by outcome",
		}, []string{"channel", "status"}),
		HealthStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "health_status",
			Help:      "1 for the current overall health status, 0 otherwise",
		}, []string{"status"}),
		CheckFailures: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "health_check_consecutive_failures",
			Help:      "Consecutive failing results per health check",
		}, []string{"check"}),
		SLAViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sla_violations_total",
			Help:      "SLA violations by metric and severity",
		}, []string{"metric", "severity"}),
		ActiveIncidents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_incidents",
			Help:      "Incidents that are not resolved",
		}),
	}

	if reg == nil {
		return m
	}

	m.IncidentsTriggered = register(reg, m.IncidentsTriggered)
	m.AlertsSuppressed = register(reg, m.AlertsSuppressed)
	m.RuleEvaluationErrors = register(reg, m.RuleEvaluationErrors)
	m.Notifications = register(reg, m.Notifications)
	m.HealthStatus = register(reg, m.HealthStatus)
	m.CheckFailures = register(reg, m.CheckFailures)
	m.SLAViolations = register(reg, m.SLAViolations)
	m.ActiveIncidents = register(reg, m.ActiveIncidents)

	return m
}

// register adds c to reg. When an identical collector is already
// registered, the existing one is returned so updates stay visible.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	err := reg.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing
		}
	}
	panic(err)
}

func (m *Metrics) setHealthStatus(status model.HealthStatus) {
	for _, s := range []model.HealthStatus{
		model.HealthStatusHealthy,
		model.HealthStatusWarning,
		model.HealthStatusCritical,
		model.HealthStatusUnknown,
	} {
		v := 0.0
		if s == status {
			v = 1
		}
		m.HealthStatus.WithLabelValues(string(s)).Set(v)
	}
}
