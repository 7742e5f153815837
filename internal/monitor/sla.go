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

const (
	// maxMetricSamples is the rolling window kept per metric for trends
	maxMetricSamples = 50
	// maxValidationHistory is the number of validation results retained
	maxValidationHistory = 100
	// DefaultEscalationDebounce is the minimum gap between escalations of one metric
	DefaultEscalationDebounce = 5 * time.Minute
)

// SLAThresholds are the static limits each metric is validated against
type SLAThresholds struct {
	LoadTimeMs        float64 `mapstructure:"load_time_ms"`
	APIResponseTimeMs float64 `mapstructure:"api_response_time_ms"`
	CacheHitRate      float64 `mapstructure:"cache_hit_rate"`
	MemoryUsageMB     float64 `mapstructure:"memory_usage_mb"`
	ErrorRate         float64 `mapstructure:"error_rate"`
}

// DefaultSLAThresholds returns the built-in SLA limits
func DefaultSLAThresholds() SLAThresholds {
	return SLAThresholds{
		LoadTimeMs:        3000,
		APIResponseTimeMs: 500,
		CacheHitRate:      0.70,
		MemoryUsageMB:     512,
		ErrorRate:         0.01,
	}
}

type slaMetric struct {
	name           string
	higherIsBetter bool
	severity       model.AlertSeverity
	threshold      func(SLAThresholds) float64
}

// slaMetrics is the fixed validation set, in reporting order.
var slaMetrics = []slaMetric{
	{model.MetricLoadTime, false, model.AlertSeverityHigh, func(t SLAThresholds) float64 { return t.LoadTimeMs }},
	{model.MetricAPIResponseTime, false, model.AlertSeverityMedium, func(t SLAThresholds) float64 { return t.APIResponseTimeMs }},
	{model.MetricCacheHitRate, true, model.AlertSeverityMedium, func(t SLAThresholds) float64 { return t.CacheHitRate }},
	{model.MetricMemoryUsage, false, model.AlertSeverityHigh, func(t SLAThresholds) float64 { return t.MemoryUsageMB }},
	{model.MetricErrorRate, false, model.AlertSeverityCritical, func(t SLAThresholds) float64 { return t.ErrorRate }},
}

// MetricsFromSnapshot extracts the SLA metrics present in snap.
// Metrics without a recorded value are left out.
func MetricsFromSnapshot(snap *model.Snapshot) map[string]float64 {
	metrics := make(map[string]float64)
	if snap == nil || snap.Performance == nil {
		return metrics
	}
	perf := snap.Performance
	if perf.LoadTimeMs != nil {
		metrics[model.MetricLoadTime] = *perf.LoadTimeMs
	}
	if perf.APIResponseTimeMs != nil {
		metrics[model.MetricAPIResponseTime] = *perf.APIResponseTimeMs
	}
	if perf.ErrorRate != nil {
		metrics[model.MetricErrorRate] = *perf.ErrorRate
	}
	metrics[model.MetricCacheHitRate] = perf.CacheHitRate
	metrics[model.MetricMemoryUsage] = perf.MemoryUsageMB()
	return metrics
}

// SLAValidator compares live metrics to SLA thresholds and escalates
// violations to the analytics sink at most once per debounce window per metric.
type SLAValidator struct {
	logger     *zap.Logger
	thresholds SLAThresholds
	debounce   time.Duration
	sink       analytics.Sink
	persist    persister
	metrics    *Metrics

	mu             sync.Mutex
	samples        map[string][]float64
	lastEscalation map[string]time.Time
	history        []model.PerformanceValidationResult
}

// NewSLAValidator creates a validator. A zero debounce uses the default.
func NewSLAValidator(logger *zap.Logger, thresholds SLAThresholds, debounce time.Duration, store storage.Store, sink analytics.Sink, metrics *Metrics) *SLAValidator {
	logger = logger.Named("sla-validator")
	if debounce <= 0 {
		debounce = DefaultEscalationDebounce
	}
	if sink == nil {
		sink = analytics.NopSink{}
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &SLAValidator{
		logger:         logger,
		thresholds:     thresholds,
		debounce:       debounce,
		sink:           sink,
		persist:        persister{store: store, logger: logger},
		metrics:        metrics,
		samples:        make(map[string][]float64),
		lastEscalation: make(map[string]time.Time),
	}
}

// Restore reloads the validation history saved by a previous process
func (v *SLAValidator) Restore(ctx context.Context) error {
	var history []model.PerformanceValidationResult
	if err := v.persist.load(ctx, storage.KeyPerformanceValidationHistory, &history); err != nil {
		return fmt.Errorf("failed to restore validation history: %w", err)
	}
	if len(history) > maxValidationHistory {
		history = history[len(history)-maxValidationHistory:]
	}
	v.mu.Lock()
	v.history = history
	v.mu.Unlock()
	return nil
}

// Validate checks the current value of every SLA metric. A metric missing
// from current is reported with status error. Overall status is fail when
// any metric fails, else error when any metric lacks data, else pass.
func (v *SLAValidator) Validate(ctx context.Context, current map[string]float64, now time.Time) model.PerformanceValidationResult {
	result := model.PerformanceValidationResult{
		Timestamp:   now,
		Validations: make(map[string]model.PerformanceValidation, len(slaMetrics)),
		Status:      model.ValidationStatusPass,
		Violations:  []model.PerformanceViolation{},
	}

	var escalate []model.PerformanceViolation
	hasError := false

	v.mu.Lock()
	for _, m := range slaMetrics {
		threshold := m.threshold(v.thresholds)
		value, ok := current[m.name]
		if !ok {
			hasError = true
			result.Validations[m.name] = model.PerformanceValidation{
				Threshold: threshold,
				Status:    model.ValidationStatusError,
				Message:   "no data",
			}
			continue
		}

		v.recordSampleLocked(m.name, value)

		passed := value <= threshold
		if m.higherIsBetter {
			passed = value >= threshold
		}
		validation := model.PerformanceValidation{
			CurrentValue: value,
			Threshold:    threshold,
			Status:       model.ValidationStatusPass,
			Message:      fmt.Sprintf("%s %.4g within SLA %.4g", m.name, value, threshold),
		}
		if !passed {
			validation.Status = model.ValidationStatusFail
			validation.Message = fmt.Sprintf("%s %.4g violates SLA %.4g", m.name, value, threshold)

			violation := model.PerformanceViolation{
				Metric:       m.name,
				CurrentValue: value,
				Threshold:    threshold,
				Severity:     m.severity,
				Timestamp:    now,
			}
			if last, seen := v.lastEscalation[m.name]; !seen || now.Sub(last) >= v.debounce {
				v.lastEscalation[m.name] = now
				violation.Escalated = true
				escalate = append(escalate, violation)
			}
			result.Violations = append(result.Violations, violation)
		}
		result.Validations[m.name] = validation
	}

	switch {
	case len(result.Violations) > 0:
		result.Status = model.ValidationStatusFail
	case hasError:
		result.Status = model.ValidationStatusError
	}

	v.history = append(v.history, result)
	if len(v.history) > maxValidationHistory {
		v.history = v.history[len(v.history)-maxValidationHistory:]
	}
	v.persist.save(ctx, storage.KeyPerformanceValidationHistory, v.history)
	v.mu.Unlock()

	for _, violation := range result.Violations {
		v.metrics.SLAViolations.WithLabelValues(violation.Metric, string(violation.Severity)).Inc()
	}

	for _, violation := range escalate {
		v.logger.Warn("SLA violation",
			zap.String("metric", violation.Metric),
			zap.Float64("current_value", violation.CurrentValue),
			zap.Float64("threshold", violation.Threshold),
			zap.String("severity", string(violation.Severity)))

		if err := v.sink.LogEvent(ctx, analytics.EventPerformanceViolation, map[string]interface{}{
			"metric":        violation.Metric,
			"current_value": violation.CurrentValue,
			"threshold":     violation.Threshold,
			"severity":      string(violation.Severity),
			"timestamp":     violation.Timestamp.UTC().Format(time.RFC3339),
		}); err != nil {
			v.logger.Error("Failed to escalate SLA violation",
				zap.String("metric", violation.Metric),
				zap.Error(err))
		}
	}

	return result
}

func (v *SLAValidator) recordSampleLocked(metric string, value float64) {
	samples := append(v.samples[metric], value)
	if len(samples) > maxMetricSamples {
		samples = samples[len(samples)-maxMetricSamples:]
	}
	v.samples[metric] = samples
}

// Trends summarizes the retained samples of every metric that has any
func (v *SLAValidator) Trends() map[string]model.MetricTrend {
	v.mu.Lock()
	defer v.mu.Unlock()

	trends := make(map[string]model.MetricTrend, len(v.samples))
	for name, samples := range v.samples {
		if len(samples) == 0 {
			continue
		}
		trend := model.MetricTrend{Min: samples[0], Max: samples[0], Count: len(samples)}
		for _, s := range samples {
			if s < trend.Min {
				trend.Min = s
			}
			if s > trend.Max {
				trend.Max = s
			}
		}
		trend.Avg = mean(samples)
		trends[name] = trend
	}
	return trends
}

// History returns a copy of the retained validation results, oldest first
func (v *SLAValidator) History() []model.PerformanceValidationResult {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]model.PerformanceValidationResult(nil), v.history...)
}
