package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/sentinel/internal/analytics"
	"github.com/t77yq/sentinel/internal/model"
	"github.com/t77yq/sentinel/internal/storage"
)

// maxHealthHistory is the number of health check results retained
const maxHealthHistory = 100

// Check is one subsystem health check
type Check interface {
	Name() string
	Run(ctx context.Context) (model.CheckResult, error)
}

// Aggregate merges per-subsystem results into one overall status.
// Any critical or error check makes the whole system critical; otherwise
// any warning makes it a warning; it is healthy only when every check is.
// An empty set or an unrecognized status yields unknown.
func Aggregate(checks map[string]model.CheckResult) model.HealthStatus {
	if len(checks) == 0 {
		return model.HealthStatusUnknown
	}

	hasWarning := false
	allHealthy := true
	for _, check := range checks {
		switch check.Status {
		case model.CheckStatusCritical, model.CheckStatusError:
			return model.HealthStatusCritical
		case model.CheckStatusWarning:
			hasWarning = true
			allHealthy = false
		case model.CheckStatusHealthy:
		default:
			allHealthy = false
		}
	}

	switch {
	case hasWarning:
		return model.HealthStatusWarning
	case allHealthy:
		return model.HealthStatusHealthy
	default:
		return model.HealthStatusUnknown
	}
}

// HealthChecker runs the registered checks, aggregates their results, and
// tracks consecutive failures per check.
type HealthChecker struct {
	logger  *zap.Logger
	checks  []Check
	sink    analytics.Sink
	persist persister
	metrics *Metrics

	mu         sync.Mutex
	failures   map[string]int
	history    []model.HealthCheckResult
	lastStatus model.HealthStatus
}

// NewHealthChecker creates a health checker over checks
func NewHealthChecker(logger *zap.Logger, checks []Check, store storage.Store, sink analytics.Sink, metrics *Metrics) *HealthChecker {
	logger = logger.Named("health-checker")
	if sink == nil {
		sink = analytics.NopSink{}
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &HealthChecker{
		logger:     logger,
		checks:     checks,
		sink:       sink,
		persist:    persister{store: store, logger: logger},
		metrics:    metrics,
		failures:   make(map[string]int),
		lastStatus: model.HealthStatusUnknown,
	}
}

// Restore reloads the health history saved by a previous process
func (h *HealthChecker) Restore(ctx context.Context) error {
	var history []model.HealthCheckResult
	if err := h.persist.load(ctx, storage.KeyHealthCheckHistory, &history); err != nil {
		return fmt.Errorf("failed to restore health history: %w", err)
	}
	if len(history) > maxHealthHistory {
		history = history[len(history)-maxHealthHistory:]
	}

	h.mu.Lock()
	h.history = history
	if len(history) > 0 {
		h.lastStatus = history[len(history)-1].Status
	}
	h.mu.Unlock()
	return nil
}

// RunChecks executes every check, records the aggregate result, and returns it
func (h *HealthChecker) RunChecks(ctx context.Context, now time.Time) model.HealthCheckResult {
	results := make(map[string]model.CheckResult, len(h.checks))
	for _, check := range h.checks {
		results[check.Name()] = h.runCheck(ctx, check)
	}

	result := model.HealthCheckResult{
		Timestamp: now,
		Checks:    results,
		Status:    Aggregate(results),
	}

	failed := 0
	h.mu.Lock()
	for name, r := range results {
		if r.Status.Failing() {
			h.failures[name]++
			failed++
		} else {
			h.failures[name] = 0
		}
		h.metrics.CheckFailures.WithLabelValues(name).Set(float64(h.failures[name]))
	}

	h.history = append(h.history, result)
	if len(h.history) > maxHealthHistory {
		h.history = h.history[len(h.history)-maxHealthHistory:]
	}
	previous := h.lastStatus
	h.lastStatus = result.Status
	h.persist.save(ctx, storage.KeyHealthCheckHistory, h.history)
	h.mu.Unlock()

	h.metrics.setHealthStatus(result.Status)
	if previous != result.Status {
		h.logger.Warn("Health status changed",
			zap.String("from", string(previous)),
			zap.String("to", string(result.Status)),
			zap.Int("failed_checks", failed))
	}

	if err := h.sink.LogEvent(ctx, analytics.EventHealthCheckCompleted, map[string]interface{}{
		"status":        string(result.Status),
		"check_count":   len(results),
		"failed_checks": failed,
		"timestamp":     now.UTC().Format(time.RFC3339),
	}); err != nil {
		h.logger.Error("Failed to log health check event", zap.Error(err))
	}

	return result
}

// runCheck runs one check; an error or panic degrades only that check to error.
func (h *HealthChecker) runCheck(ctx context.Context, check Check) (result model.CheckResult) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Health check panicked",
				zap.String("check", check.Name()),
				zap.Any("panic", r))
			result = model.CheckResult{
				Status:  model.CheckStatusError,
				Message: fmt.Sprintf("check panicked: %v", r),
			}
		}
	}()

	result, err := check.Run(ctx)
	if err != nil {
		h.logger.Error("Health check failed",
			zap.String("check", check.Name()),
			zap.Error(err))
		return model.CheckResult{
			Status:  model.CheckStatusError,
			Message: err.Error(),
		}
	}
	return result
}

// HealthSnapshot returns the latest result together with the consecutive
// failure counters. Before the first run it reports unknown with no checks.
func (h *HealthChecker) HealthSnapshot(ctx context.Context) (*model.HealthSnapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	snap := &model.HealthSnapshot{
		Status:              model.HealthStatusUnknown,
		Checks:              map[string]model.CheckResult{},
		ConsecutiveFailures: make(map[string]int, len(h.failures)),
	}
	for name, count := range h.failures {
		snap.ConsecutiveFailures[name] = count
	}
	if len(h.history) > 0 {
		latest := h.history[len(h.history)-1]
		snap.Status = latest.Status
		for name, check := range latest.Checks {
			snap.Checks[name] = check
		}
	}
	return snap, nil
}

// ConsecutiveFailures returns a copy of the failure counter of every check
func (h *HealthChecker) ConsecutiveFailures() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]int, len(h.failures))
	for name, count := range h.failures {
		out[name] = count
	}
	return out
}

// History returns a copy of the retained health check results, oldest first
func (h *HealthChecker) History() []model.HealthCheckResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]model.HealthCheckResult(nil), h.history...)
}
