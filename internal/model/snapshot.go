package model

import "time"

// ErrorStats is the error-tracking view polled each cycle
type ErrorStats struct {
	ErrorRatePerMinute float64 `json:"error_rate_per_minute"`
	TotalErrors        int64   `json:"total_errors"`
	RecentErrors1h     int64   `json:"recent_errors_1h"`
}

// PerformanceStats is the performance view polled each cycle.
// Optional latency fields are nil when no sample was recorded.
type PerformanceStats struct {
	CacheHitRate      float64   `json:"cache_hit_rate"`
	MemoryUsageBytes  int64     `json:"memory_usage_bytes"`
	LoadTimeMs        *float64  `json:"load_time_ms,omitempty"`
	APIResponseTimeMs *float64  `json:"api_response_time_ms,omitempty"`
	ErrorRate         *float64  `json:"error_rate,omitempty"`
	RecentDurationsMs []float64 `json:"recent_durations_ms,omitempty"`
}

// MemoryUsageMB returns the memory footprint in megabytes.
func (p *PerformanceStats) MemoryUsageMB() float64 {
	return float64(p.MemoryUsageBytes) / (1024 * 1024)
}

// SecurityStats is the security-policy view polled each cycle
type SecurityStats struct {
	PolicyCompliant  bool  `json:"policy_compliant"`
	RecentViolations int64 `json:"recent_violations"`
}

// Snapshot is a point-in-time read of system state used for one evaluation cycle.
// A nil section means the provider could not supply it.
type Snapshot struct {
	TakenAt     time.Time         `json:"taken_at"`
	Health      *HealthSnapshot   `json:"health,omitempty"`
	Errors      *ErrorStats       `json:"errors,omitempty"`
	Performance *PerformanceStats `json:"performance,omitempty"`
}
