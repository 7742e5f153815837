package monitor

import (
	"context"
	"fmt"

	"github.com/t77yq/sentinel/internal/analytics"
	"github.com/t77yq/sentinel/internal/model"
)

// Standard check names.
const (
	CheckSystem      = "system"
	CheckPerformance = "performance"
	CheckSecurity    = "security"
	CheckApplication = "application"
)

// Thresholds used by the standard checks.
const (
	memoryWarningPercent  = 80
	memoryCriticalPercent = 90
	diskWarningPercent    = 85
	diskCriticalPercent   = 95

	minCacheHitRate          = 0.5
	performanceMemoryWarnMB  = 512
	performanceMemoryCritMB  = 1024
	degradationFactor        = 1.5
	minDegradationSamples    = 4
	applicationErrorRateWarn = 0.05
)

// ErrorStatsProvider supplies error-tracking statistics
type ErrorStatsProvider interface {
	ErrorStats(ctx context.Context) (*model.ErrorStats, error)
}

// PerformanceProvider supplies performance statistics
type PerformanceProvider interface {
	PerformanceStats(ctx context.Context) (*model.PerformanceStats, error)
}

// SecurityProvider supplies the security-policy view
type SecurityProvider interface {
	SecurityStats(ctx context.Context) (*model.SecurityStats, error)
}

// ErrorStatsFunc adapts a function to ErrorStatsProvider
type ErrorStatsFunc func(ctx context.Context) (*model.ErrorStats, error)

// ErrorStats implements ErrorStatsProvider.ErrorStats
func (f ErrorStatsFunc) ErrorStats(ctx context.Context) (*model.ErrorStats, error) {
	return f(ctx)
}

// PerformanceFunc adapts a function to PerformanceProvider
type PerformanceFunc func(ctx context.Context) (*model.PerformanceStats, error)

// PerformanceStats implements PerformanceProvider.PerformanceStats
func (f PerformanceFunc) PerformanceStats(ctx context.Context) (*model.PerformanceStats, error) {
	return f(ctx)
}

// SecurityFunc adapts a function to SecurityProvider
type SecurityFunc func(ctx context.Context) (*model.SecurityStats, error)

// SecurityStats implements SecurityProvider.SecurityStats
func (f SecurityFunc) SecurityStats(ctx context.Context) (*model.SecurityStats, error) {
	return f(ctx)
}

// SystemCheck grades host memory, disk and network
type SystemCheck struct {
	Sampler SystemSampler
}

func (c SystemCheck) Name() string { return CheckSystem }

func (c SystemCheck) Run(ctx context.Context) (model.CheckResult, error) {
	sample, err := c.Sampler.Sample(ctx)
	if err != nil {
		return model.CheckResult{}, err
	}

	status := model.CheckStatusHealthy
	var problems []string
	switch {
	case sample.MemoryUsedPercent > memoryCriticalPercent:
		status = worse(status, model.CheckStatusCritical)
		problems = append(problems, fmt.Sprintf("memory usage %.1f%%", sample.MemoryUsedPercent))
	case sample.MemoryUsedPercent > memoryWarningPercent:
		status = worse(status, model.CheckStatusWarning)
		problems = append(problems, fmt.Sprintf("memory usage %.1f%%", sample.MemoryUsedPercent))
	}
	switch {
	case sample.DiskUsedPercent > diskCriticalPercent:
		status = worse(status, model.CheckStatusCritical)
		problems = append(problems, fmt.Sprintf("disk usage %.1f%%", sample.DiskUsedPercent))
	case sample.DiskUsedPercent > diskWarningPercent:
		status = worse(status, model.CheckStatusWarning)
		problems = append(problems, fmt.Sprintf("disk usage %.1f%%", sample.DiskUsedPercent))
	}
	if !sample.NetworkUp {
		status = worse(status, model.CheckStatusWarning)
		problems = append(problems, "no network interface up")
	}

	return model.CheckResult{
		Status:  status,
		Message: summarize("system resources nominal", problems),
		Details: map[string]interface{}{
			"cpu_percent":       sample.CPUPercent,
			"memory_percent":    sample.MemoryUsedPercent,
			"disk_percent":      sample.DiskUsedPercent,
			"process_rss_bytes": sample.ProcessRSSBytes,
			"goroutines":        sample.Goroutines,
			"network_up":        sample.NetworkUp,
		},
	}, nil
}

// PerformanceCheck grades cache efficiency, memory footprint and latency trend
type PerformanceCheck struct {
	Provider PerformanceProvider
}

func (c PerformanceCheck) Name() string { return CheckPerformance }

func (c PerformanceCheck) Run(ctx context.Context) (model.CheckResult, error) {
	stats, err := c.Provider.PerformanceStats(ctx)
	if err != nil {
		return model.CheckResult{}, err
	}
	if stats == nil {
		return model.CheckResult{}, fmt.Errorf("performance stats: %w", ErrMissingSnapshotField)
	}

	status := model.CheckStatusHealthy
	var problems []string
	if stats.CacheHitRate < minCacheHitRate {
		status = worse(status, model.CheckStatusWarning)
		problems = append(problems, fmt.Sprintf("cache hit rate %.2f", stats.CacheHitRate))
	}
	memMB := stats.MemoryUsageMB()
	switch {
	case memMB > performanceMemoryCritMB:
		status = worse(status, model.CheckStatusCritical)
		problems = append(problems, fmt.Sprintf("memory %.0fMB", memMB))
	case memMB > performanceMemoryWarnMB:
		status = worse(status, model.CheckStatusWarning)
		problems = append(problems, fmt.Sprintf("memory %.0fMB", memMB))
	}
	degraded := Degraded(stats.RecentDurationsMs)
	if degraded {
		status = worse(status, model.CheckStatusWarning)
		problems = append(problems, "response times degrading")
	}

	return model.CheckResult{
		Status:  status,
		Message: summarize("performance nominal", problems),
		Details: map[string]interface{}{
			"cache_hit_rate":  stats.CacheHitRate,
			"memory_usage_mb": memMB,
			"degrading":       degraded,
		},
	}, nil
}

// Degraded reports whether the later half of durations averages more than
// 1.5 times the earlier half. Fewer than four samples never degrade.
func Degraded(durations []float64) bool {
	if len(durations) < minDegradationSamples {
		return false
	}
	mid := len(durations) / 2
	first, second := mean(durations[:mid]), mean(durations[mid:])
	if first <= 0 {
		return false
	}
	return second > first*degradationFactor
}

// SecurityCheck grades policy compliance
type SecurityCheck struct {
	Provider SecurityProvider
}

func (c SecurityCheck) Name() string { return CheckSecurity }

func (c SecurityCheck) Run(ctx context.Context) (model.CheckResult, error) {
	stats, err := c.Provider.SecurityStats(ctx)
	if err != nil {
		return model.CheckResult{}, err
	}
	if stats == nil {
		return model.CheckResult{}, fmt.Errorf("security stats: %w", ErrMissingSnapshotField)
	}

	result := model.CheckResult{
		Status:  model.CheckStatusHealthy,
		Message: "security policy compliant",
		Details: map[string]interface{}{
			"policy_compliant":  stats.PolicyCompliant,
			"recent_violations": stats.RecentViolations,
		},
	}
	switch {
	case !stats.PolicyCompliant:
		result.Status = model.CheckStatusCritical
		result.Message = "security policy not compliant"
	case stats.RecentViolations > 0:
		result.Status = model.CheckStatusWarning
		result.Message = fmt.Sprintf("%d recent security violations", stats.RecentViolations)
	}
	return result, nil
}

// ExternalServiceCheck pings an external dependency such as the analytics sink
type ExternalServiceCheck struct {
	Service string
	Pinger  analytics.Pinger
}

func (c ExternalServiceCheck) Name() string {
	if c.Service == "" {
		return DefaultExternalService
	}
	return c.Service
}

func (c ExternalServiceCheck) Run(ctx context.Context) (model.CheckResult, error) {
	if err := c.Pinger.Ping(ctx); err != nil {
		return model.CheckResult{}, fmt.Errorf("%s unreachable: %w", c.Name(), err)
	}
	return model.CheckResult{
		Status:  model.CheckStatusHealthy,
		Message: c.Name() + " reachable",
	}, nil
}

// ApplicationCheck grades the application's own error rate and self-test
type ApplicationCheck struct {
	Errors ErrorStatsProvider
	// SelfTest is optional; a non-nil error marks the application critical
	SelfTest func(ctx context.Context) error
}

func (c ApplicationCheck) Name() string { return CheckApplication }

func (c ApplicationCheck) Run(ctx context.Context) (model.CheckResult, error) {
	if c.SelfTest != nil {
		if err := c.SelfTest(ctx); err != nil {
			return model.CheckResult{
				Status:  model.CheckStatusCritical,
				Message: "self test failed: " + err.Error(),
			}, nil
		}
	}

	stats, err := c.Errors.ErrorStats(ctx)
	if err != nil {
		return model.CheckResult{}, err
	}
	if stats == nil {
		return model.CheckResult{}, fmt.Errorf("error stats: %w", ErrMissingSnapshotField)
	}

	result := model.CheckResult{
		Status:  model.CheckStatusHealthy,
		Message: "application nominal",
		Details: map[string]interface{}{
			"error_rate":       stats.ErrorRatePerMinute,
			"total_errors":     stats.TotalErrors,
			"recent_errors_1h": stats.RecentErrors1h,
		},
	}
	if stats.ErrorRatePerMinute > applicationErrorRateWarn {
		result.Status = model.CheckStatusWarning
		result.Message = fmt.Sprintf("error rate %.3f", stats.ErrorRatePerMinute)
	}
	return result, nil
}

var checkSeverity = map[model.CheckStatus]int{
	model.CheckStatusHealthy:  0,
	model.CheckStatusWarning:  1,
	model.CheckStatusCritical: 2,
	model.CheckStatusError:    3,
}

func worse(a, b model.CheckStatus) model.CheckStatus {
	if checkSeverity[b] > checkSeverity[a] {
		return b
	}
	return a
}

func summarize(ok string, problems []string) string {
	if len(problems) == 0 {
		return ok
	}
	msg := problems[0]
	for _, p := range problems[1:] {
		msg += "; " + p
	}
	return msg
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
