// Package monitor decides on a schedule whether the system is healthy,
// whether alert rules fire, and whether performance SLAs hold.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/t77yq/sentinel/internal/analytics"
	"github.com/t77yq/sentinel/internal/model"
	"github.com/t77yq/sentinel/internal/storage"
)

// Options wires a Monitor to its collaborators
type Options struct {
	Logger *zap.Logger
	Store  storage.Store
	Sink   analytics.Sink

	Errors      ErrorStatsProvider
	Performance PerformanceProvider
	Security    SecurityProvider
	// External is pinged by the external-service health check
	External analytics.Pinger
	Sampler  SystemSampler

	RuleLoader RuleLoader
	Senders    map[model.NotificationChannel]NotificationSender
	Registerer prometheus.Registerer

	Environment         string
	MaxAlertsPerHour    int
	ExternalServiceName string
	SLAThresholds       SLAThresholds
	EscalationDebounce  time.Duration

	// Now overrides the clock, for tests
	Now func() time.Time
}

// Monitor drives rule evaluation, incident handling, health aggregation
// and SLA validation. Every tick is a no-op until Initialize succeeds.
type Monitor struct {
	logger *zap.Logger
	opts   Options
	now    func() time.Time

	metrics   *Metrics
	evaluator *RuleEvaluator
	alerts    *AlertManager
	health    *HealthChecker
	sla       *SLAValidator
	collector *MetricsCollector

	mu          sync.RWMutex
	initialized bool
	rules       []model.AlertRule
}

// New creates a monitor. Collaborators are validated by Initialize.
func New(opts Options) *Monitor {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
		opts.Logger = logger
	}
	if opts.Sink == nil {
		opts.Sink = analytics.NopSink{}
	}
	if opts.RuleLoader == nil {
		opts.RuleLoader = StaticRuleLoader(DefaultRules())
	}
	if opts.ExternalServiceName == "" {
		opts.ExternalServiceName = DefaultExternalService
	}
	if opts.SLAThresholds == (SLAThresholds{}) {
		opts.SLAThresholds = DefaultSLAThresholds()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Monitor{
		logger: logger.Named("monitor"),
		opts:   opts,
		now:    now,
	}
}

// Initialize validates collaborators, loads rules and restores persisted
// state. Only a missing provider or an invalid rule set fails it; state
// that cannot be restored is logged and replaced by empty state.
func (m *Monitor) Initialize(ctx context.Context) error {
	if m.opts.Errors == nil {
		return fmt.Errorf("error stats provider: %w", ErrMissingDependency)
	}
	if m.opts.Performance == nil {
		return fmt.Errorf("performance provider: %w", ErrMissingDependency)
	}

	rules, err := m.opts.RuleLoader.LoadRules(ctx)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return err
		}
		if seen[r.ID] {
			return fmt.Errorf("%s: %w", r.ID, ErrDuplicateRule)
		}
		seen[r.ID] = true
	}

	metrics := NewMetrics(m.opts.Registerer)
	evaluator := NewRuleEvaluator(m.opts.Logger, metrics)
	alerts := NewAlertManager(m.opts.Logger, m.opts.Store, m.opts.Sink, m.opts.Senders, metrics, AlertManagerConfig{
		Environment:      m.opts.Environment,
		MaxAlertsPerHour: m.opts.MaxAlertsPerHour,
	})
	health := NewHealthChecker(m.opts.Logger, m.buildChecks(), m.opts.Store, m.opts.Sink, metrics)
	sla := NewSLAValidator(m.opts.Logger, m.opts.SLAThresholds, m.opts.EscalationDebounce, m.opts.Store, m.opts.Sink, metrics)

	// unreadable state starts empty; memory is authoritative from here on
	for _, r := range []struct {
		name    string
		restore func(context.Context) error
	}{
		{"alerts", alerts.Restore},
		{"health", health.Restore},
		{"sla", sla.Restore},
	} {
		if err := r.restore(ctx); err != nil {
			m.logger.Error("Failed to restore state, starting empty",
				zap.String("component", r.name),
				zap.Error(err))
		}
	}

	var collector *MetricsCollector
	if m.opts.Sampler != nil {
		collector = NewMetricsCollector(m.opts.Logger, m.opts.Sampler, m.opts.Sink)
	}

	m.mu.Lock()
	m.metrics = metrics
	m.evaluator = evaluator
	m.alerts = alerts
	m.health = health
	m.sla = sla
	m.collector = collector
	m.rules = rules
	m.initialized = true
	m.mu.Unlock()

	m.logger.Info("Monitor initialized",
		zap.Int("rules", len(rules)),
		zap.String("environment", m.opts.Environment))
	return nil
}

func (m *Monitor) buildChecks() []Check {
	var checks []Check
	if m.opts.Sampler != nil {
		checks = append(checks, SystemCheck{Sampler: m.opts.Sampler})
	}
	checks = append(checks, PerformanceCheck{Provider: m.opts.Performance})
	if m.opts.Security != nil {
		checks = append(checks, SecurityCheck{Provider: m.opts.Security})
	}
	if m.opts.External != nil {
		checks = append(checks, ExternalServiceCheck{Service: m.opts.ExternalServiceName, Pinger: m.opts.External})
	}
	checks = append(checks, ApplicationCheck{Errors: m.opts.Errors})
	return checks
}

// Initialized reports whether Initialize has succeeded
func (m *Monitor) Initialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized
}

// guard runs fn when initialized and turns a panic into a logged error
func (m *Monitor) guard(tick string, fn func()) (err error) {
	if !m.Initialized() {
		m.logger.Debug("Tick skipped, monitor not initialized", zap.String("tick", tick))
		return ErrNotInitialized
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Tick panicked", zap.String("tick", tick), zap.Any("panic", r))
			err = fmt.Errorf("%s tick panicked: %v", tick, r)
		}
	}()
	fn()
	return nil
}

// HealthTick runs every health check once
func (m *Monitor) HealthTick(ctx context.Context) error {
	return m.guard("health", func() {
		m.health.RunChecks(ctx, m.now())
	})
}

// AlertTick evaluates every enabled rule, raises incidents, dispatches
// pending notifications and validates SLAs.
func (m *Monitor) AlertTick(ctx context.Context) error {
	return m.guard("alert", func() {
		now := m.now()
		snap := m.Snapshot(ctx, now)

		for _, eval := range m.evaluator.Evaluate(m.GetAlertRules(), snap) {
			if eval.Err != nil || !eval.Triggered {
				continue
			}
			m.alerts.Trigger(ctx, eval.Rule, eval.AlertData, now)
		}

		m.alerts.Dispatch(ctx, now)
		m.alerts.PruneNotifications(ctx, now)
		m.sla.Validate(ctx, MetricsFromSnapshot(snap), now)
	})
}

// ReportTick collects system metrics and publishes a monitoring report
func (m *Monitor) ReportTick(ctx context.Context) error {
	return m.guard("report", func() {
		now := m.now()
		if m.collector != nil {
			// collection errors are logged by the collector
			_, _ = m.collector.Collect(ctx, now)
		}

		healthStatus := model.HealthStatusUnknown
		if snap, err := m.health.HealthSnapshot(ctx); err == nil {
			healthStatus = snap.Status
		}
		slaStatus := ""
		if history := m.sla.History(); len(history) > 0 {
			slaStatus = string(history[len(history)-1].Status)
		}
		active := len(m.alerts.ActiveIncidents())

		if err := m.opts.Sink.LogEvent(ctx, analytics.EventMonitoringReport, map[string]interface{}{
			"health_status":    string(healthStatus),
			"active_incidents": active,
			"sla_status":       slaStatus,
			"timestamp":        now.UTC().Format(time.RFC3339),
		}); err != nil {
			m.logger.Error("Failed to publish monitoring report", zap.Error(err))
		}

		m.logger.Info("Monitoring report",
			zap.String("health_status", string(healthStatus)),
			zap.Int("active_incidents", active),
			zap.String("sla_status", slaStatus),
			zap.Any("trends", m.sla.Trends()))
	})
}

// CleanupTick drops expired incidents, notifications and hour counters
func (m *Monitor) CleanupTick(ctx context.Context) error {
	return m.guard("cleanup", func() {
		m.alerts.Cleanup(ctx, m.now())
	})
}

// Snapshot assembles the evaluation input for one cycle. A provider that
// fails or panics leaves its section nil. It returns nil before Initialize
// succeeds.
func (m *Monitor) Snapshot(ctx context.Context, now time.Time) *model.Snapshot {
	if !m.Initialized() {
		return nil
	}
	snap := &model.Snapshot{TakenAt: now}

	m.readSection("health", func() error {
		section, err := m.health.HealthSnapshot(ctx)
		if err != nil {
			return err
		}
		snap.Health = section
		return nil
	})
	m.readSection("errors", func() error {
		section, err := m.opts.Errors.ErrorStats(ctx)
		if err != nil {
			return err
		}
		snap.Errors = section
		return nil
	})
	m.readSection("performance", func() error {
		section, err := m.opts.Performance.PerformanceStats(ctx)
		if err != nil {
			return err
		}
		snap.Performance = section
		return nil
	})
	return snap
}

// readSection runs one snapshot provider, logging its error or panic
func (m *Monitor) readSection(section string, read func() error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Snapshot provider panicked",
				zap.String("section", section),
				zap.Any("panic", r))
		}
	}()
	if err := read(); err != nil {
		m.logger.Error("Failed to read snapshot section",
			zap.String("section", section),
			zap.Error(err))
	}
}

// GetAlertRules returns a copy of the configured rules
func (m *Monitor) GetAlertRules() []model.AlertRule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.AlertRule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, r.Clone())
	}
	return out
}

// AddRule registers an additional rule
func (m *Monitor) AddRule(rule model.AlertRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return ErrNotInitialized
	}
	for _, r := range m.rules {
		if r.ID == rule.ID {
			return fmt.Errorf("%s: %w", rule.ID, ErrDuplicateRule)
		}
	}
	m.rules = append(m.rules, rule.Clone())
	return nil
}

// SetRuleEnabled enables or disables the rule with the given ID
func (m *Monitor) SetRuleEnabled(id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return ErrNotInitialized
	}
	for i := range m.rules {
		if m.rules[i].ID == id {
			m.rules[i].Enabled = enabled
			return nil
		}
	}
	return fmt.Errorf("%s: %w", id, ErrRuleNotFound)
}

// GetActiveIncidents returns incidents that are active or acknowledged
func (m *Monitor) GetActiveIncidents() []model.AlertIncident {
	if !m.Initialized() {
		return nil
	}
	return m.alerts.ActiveIncidents()
}

// GetNotifications returns every retained notification
func (m *Monitor) GetNotifications() []model.AlertNotification {
	if !m.Initialized() {
		return nil
	}
	return m.alerts.Notifications()
}

// AcknowledgeIncident marks an incident as acknowledged
func (m *Monitor) AcknowledgeIncident(ctx context.Context, id string) error {
	if !m.Initialized() {
		return ErrNotInitialized
	}
	return m.alerts.AcknowledgeIncident(ctx, id)
}

// ResolveIncident marks an incident as resolved
func (m *Monitor) ResolveIncident(ctx context.Context, id string) error {
	if !m.Initialized() {
		return ErrNotInitialized
	}
	return m.alerts.ResolveIncident(ctx, id, m.now())
}

// SuppressIncident silences an incident and cancels its pending notifications
func (m *Monitor) SuppressIncident(ctx context.Context, id string) error {
	if !m.Initialized() {
		return ErrNotInitialized
	}
	return m.alerts.SuppressIncident(ctx, id)
}

// HealthHistory returns the retained health check results
func (m *Monitor) HealthHistory() []model.HealthCheckResult {
	if !m.Initialized() {
		return nil
	}
	return m.health.History()
}

// ConsecutiveFailures returns the failure counter of every health check
func (m *Monitor) ConsecutiveFailures() map[string]int {
	if !m.Initialized() {
		return nil
	}
	return m.health.ConsecutiveFailures()
}

// ValidationHistory returns the retained SLA validation results
func (m *Monitor) ValidationHistory() []model.PerformanceValidationResult {
	if !m.Initialized() {
		return nil
	}
	return m.sla.History()
}

// Trends summarizes the rolling SLA samples per metric
func (m *Monitor) Trends() map[string]model.MetricTrend {
	if !m.Initialized() {
		return nil
	}
	return m.sla.Trends()
}
