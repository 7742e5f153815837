package model

import "time"

// HealthStatus represents the aggregate health of the system
type HealthStatus string

const (
	HealthStatusHealthy  HealthStatus = "healthy"
	HealthStatusWarning  HealthStatus = "warning"
	HealthStatusCritical HealthStatus = "critical"
	HealthStatusUnknown  HealthStatus = "unknown"
)

// CheckStatus is the status string reported by a single subsystem check.
// Values outside the known set are kept verbatim and aggregate as unknown.
type CheckStatus string

const (
	CheckStatusHealthy  CheckStatus = "healthy"
	CheckStatusWarning  CheckStatus = "warning"
	CheckStatusCritical CheckStatus = "critical"
	CheckStatusError    CheckStatus = "error"
)

// Failing reports whether the status counts as a failed check.
func (s CheckStatus) Failing() bool {
	return s == CheckStatusError || s == CheckStatusCritical
}

// CheckResult is the outcome of one subsystem check
type CheckResult struct {
	Status  CheckStatus            `json:"status"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// HealthCheckResult is the record produced by one health-check tick
type HealthCheckResult struct {
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
	Status    HealthStatus           `json:"overall_status"`
}

// HealthSnapshot is the health view consumed by the rule evaluator
type HealthSnapshot struct {
	Status              HealthStatus           `json:"status"`
	Checks              map[string]CheckResult `json:"checks"`
	ConsecutiveFailures map[string]int         `json:"consecutive_failures,omitempty"`
}
