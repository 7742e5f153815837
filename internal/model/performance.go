package model

import "time"

// ValidationStatus is the outcome of comparing a metric against its SLA
type ValidationStatus string

const (
	ValidationStatusPass  ValidationStatus = "pass"
	ValidationStatusFail  ValidationStatus = "fail"
	ValidationStatusError ValidationStatus = "error"
)

// SLA metric names.
const (
	MetricLoadTime        = "load_time_ms"
	MetricAPIResponseTime = "api_response_time_ms"
	MetricCacheHitRate    = "cache_hit_rate"
	MetricMemoryUsage     = "memory_usage_mb"
	MetricErrorRate       = "error_rate"
)

// PerformanceValidation is the result for a single metric
type PerformanceValidation struct {
	CurrentValue float64          `json:"current_value"`
	Threshold    float64          `json:"threshold"`
	Status       ValidationStatus `json:"status"`
	Message      string           `json:"message"`
}

// PerformanceViolation records a metric failing its SLA
type PerformanceViolation struct {
	Metric       string        `json:"metric"`
	CurrentValue float64       `json:"current_value"`
	Threshold    float64       `json:"threshold"`
	Severity     AlertSeverity `json:"severity"`
	Timestamp    time.Time     `json:"timestamp"`
	Escalated    bool          `json:"escalated"`
}

// PerformanceValidationResult is the record produced by one SLA validation
type PerformanceValidationResult struct {
	Timestamp   time.Time                        `json:"timestamp"`
	Validations map[string]PerformanceValidation `json:"validations"`
	Status      ValidationStatus                 `json:"overall_status"`
	Violations  []PerformanceViolation           `json:"violations"`
}

// MetricTrend summarizes the retained samples of one metric
type MetricTrend struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	Count int     `json:"count"`
}
