package monitor

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/t77yq/sentinel/internal/model"
)

// ConsecutiveFailureThreshold is the number of failing results in a row after
// which a health check alone makes the system-critical condition true.
const ConsecutiveFailureThreshold = 3

// Evaluation is the outcome of evaluating one enabled rule against a snapshot
type Evaluation struct {
	Rule      model.AlertRule
	Triggered bool
	AlertData map[string]interface{}
	Err       error
}

// RuleEvaluator maps alert conditions to comparisons against a snapshot
type RuleEvaluator struct {
	logger  *zap.Logger
	metrics *Metrics
}

// NewRuleEvaluator creates a new rule evaluator
func NewRuleEvaluator(logger *zap.Logger, metrics *Metrics) *RuleEvaluator {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &RuleEvaluator{
		logger:  logger.Named("rule-evaluator"),
		metrics: metrics,
	}
}

// Evaluate checks every enabled rule against snap. A rule that fails to
// evaluate is logged and reported with Err set; the remaining rules still run.
func (e *RuleEvaluator) Evaluate(rules []model.AlertRule, snap *model.Snapshot) []Evaluation {
	results := make([]Evaluation, 0, len(rules))
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}

		result := e.evaluateRule(rule, snap)
		if result.Err != nil {
			e.metrics.RuleEvaluationErrors.WithLabelValues(rule.ID).Inc()
			e.logger.Error("Failed to evaluate rule",
				zap.String("rule_id", rule.ID),
				zap.String("condition", string(rule.Condition)),
				zap.Error(result.Err))
		}
		results = append(results, result)
	}
	return results
}

func (e *RuleEvaluator) evaluateRule(rule model.AlertRule, snap *model.Snapshot) (result Evaluation) {
	result.Rule = rule
	defer func() {
		if r := recover(); r != nil {
			result.Triggered = false
			result.AlertData = nil
			result.Err = fmt.Errorf("rule %s panicked: %v", rule.ID, r)
		}
	}()

	if snap == nil {
		result.Err = fmt.Errorf("%w: snapshot", ErrMissingSnapshotField)
		return result
	}

	var (
		triggered bool
		data      map[string]interface{}
		err       error
	)
	switch rule.Condition {
	case model.ConditionSystemCritical:
		triggered, data, err = evalSystemCritical(snap)
	case model.ConditionHighErrorRate:
		triggered, data, err = evalHighErrorRate(rule, snap)
	case model.ConditionHighMemory:
		triggered, data, err = evalHighMemory(rule, snap)
	case model.ConditionFirebaseFailure:
		triggered, data, err = evalServiceFailure(rule, snap)
	case model.ConditionPerformanceDegradation:
		triggered, data, err = evalPerformanceDegradation(rule, snap)
	case model.ConditionSecurityViolation:
		triggered, data, err = evalSecurityViolation(rule, snap)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownCondition, rule.Condition)
	}

	result.Triggered = triggered && err == nil
	result.AlertData = data
	result.Err = err
	return result
}

// ConditionWired reports whether a condition has real trigger logic behind it.
func ConditionWired(c model.AlertCondition) bool {
	switch c {
	case model.ConditionPerformanceDegradation, model.ConditionSecurityViolation:
		return false
	}
	return true
}

func evalSystemCritical(snap *model.Snapshot) (bool, map[string]interface{}, error) {
	if snap.Health == nil {
		return false, nil, fmt.Errorf("%w: health", ErrMissingSnapshotField)
	}

	data := map[string]interface{}{
		"health_status": string(snap.Health.Status),
	}
	if snap.Health.Status == model.HealthStatusCritical {
		return true, data, nil
	}

	var failing []string
	for name, count := range snap.Health.ConsecutiveFailures {
		if count >= ConsecutiveFailureThreshold {
			failing = append(failing, name)
		}
	}
	if len(failing) == 0 {
		return false, nil, nil
	}
	sort.Strings(failing)
	data["failing_checks"] = failing
	data["failure_threshold"] = ConsecutiveFailureThreshold
	return true, data, nil
}

func evalHighErrorRate(rule model.AlertRule, snap *model.Snapshot) (bool, map[string]interface{}, error) {
	if snap.Errors == nil {
		return false, nil, fmt.Errorf("%w: errors", ErrMissingSnapshotField)
	}

	threshold := rule.ThresholdOr(DefaultErrorRateThreshold)
	rate := snap.Errors.ErrorRatePerMinute
	if rate <= threshold {
		return false, nil, nil
	}
	return true, map[string]interface{}{
		"error_rate":       rate,
		"threshold":        threshold,
		"total_errors":     snap.Errors.TotalErrors,
		"recent_errors_1h": snap.Errors.RecentErrors1h,
	}, nil
}

func evalHighMemory(rule model.AlertRule, snap *model.Snapshot) (bool, map[string]interface{}, error) {
	if snap.Performance == nil {
		return false, nil, fmt.Errorf("%w: performance", ErrMissingSnapshotField)
	}

	threshold := rule.ThresholdOr(DefaultMemoryThresholdMB)
	usage := snap.Performance.MemoryUsageMB()
	if usage <= threshold {
		return false, nil, nil
	}
	return true, map[string]interface{}{
		"memory_usage_mb": usage,
		"threshold":       threshold,
	}, nil
}

func evalServiceFailure(rule model.AlertRule, snap *model.Snapshot) (bool, map[string]interface{}, error) {
	if snap.Health == nil {
		return false, nil, fmt.Errorf("%w: health", ErrMissingSnapshotField)
	}

	name := rule.Subsystem
	if name == "" {
		name = DefaultExternalService
	}
	check, ok := snap.Health.Checks[name]
	if !ok || !check.Status.Failing() {
		return false, nil, nil
	}
	return true, map[string]interface{}{
		"subsystem": name,
		"status":    string(check.Status),
		"message":   check.Message,
	}, nil
}

// evalPerformanceDegradation is reserved: no upstream metric feeds it yet,
// so it never triggers.
func evalPerformanceDegradation(rule model.AlertRule, snap *model.Snapshot) (bool, map[string]interface{}, error) {
	return false, nil, nil
}

// evalSecurityViolation is reserved: no upstream metric feeds it yet,
// so it never triggers.
func evalSecurityViolation(rule model.AlertRule, snap *model.Snapshot) (bool, map[string]interface{}, error) {
	return false, nil, nil
}
