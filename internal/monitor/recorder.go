package monitor

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/t77yq/sentinel/internal/model"
)

const (
	errorRateWindow    = time.Minute
	recentErrorsWindow = time.Hour
	maxRecentDurations = 20
	maxCacheLookups    = 1000
)

// StatsRecorder accumulates in-process error, performance and security
// statistics and serves them as the providers polled by the monitor.
type StatsRecorder struct {
	now    func() time.Time
	memory func(ctx context.Context) int64

	mu              sync.Mutex
	operations      []time.Time
	errors          []time.Time
	totalErrors     int64
	durations       []float64
	loadTimeMs      *float64
	apiResponseMs   *float64
	cacheLookups    []bool
	violations      []time.Time
	policyCompliant bool
}

// NewStatsRecorder creates an empty recorder. A nil now uses time.Now and a
// nil memory reads the resident set size of this process.
func NewStatsRecorder(now func() time.Time, memory func(ctx context.Context) int64) *StatsRecorder {
	if now == nil {
		now = time.Now
	}
	if memory == nil {
		memory = processMemory
	}
	return &StatsRecorder{now: now, memory: memory, policyCompliant: true}
}

// RecordOperation counts one unit of work and its duration; a non-nil err
// also counts it as an error.
func (r *StatsRecorder) RecordOperation(duration time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	at := r.now()
	r.operations = append(r.operations, at)
	r.durations = appendBounded(r.durations, float64(duration)/float64(time.Millisecond), maxRecentDurations)
	if err != nil {
		r.errors = append(r.errors, at)
		r.totalErrors++
	}
	r.trimLocked(at)
}

// RecordError counts an error raised outside a recorded operation
func (r *StatsRecorder) RecordError(err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	at := r.now()
	r.errors = append(r.errors, at)
	r.totalErrors++
	r.trimLocked(at)
}

// RecordLoadTime stores the latest page or startup load time
func (r *StatsRecorder) RecordLoadTime(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	r.mu.Lock()
	r.loadTimeMs = &ms
	r.mu.Unlock()
}

// RecordAPIResponse stores the latest API response time
func (r *StatsRecorder) RecordAPIResponse(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	r.mu.Lock()
	r.apiResponseMs = &ms
	r.mu.Unlock()
}

// RecordCacheLookup records a cache hit or miss
func (r *StatsRecorder) RecordCacheLookup(hit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cacheLookups = append(r.cacheLookups, hit)
	if len(r.cacheLookups) > maxCacheLookups {
		r.cacheLookups = r.cacheLookups[len(r.cacheLookups)-maxCacheLookups:]
	}
}

// RecordSecurityViolation counts a security policy violation
func (r *StatsRecorder) RecordSecurityViolation() {
	r.mu.Lock()
	defer r.mu.Unlock()
	at := r.now()
	r.violations = append(r.violations, at)
	r.trimLocked(at)
}

// SetPolicyCompliant records whether the security policy is currently met
func (r *StatsRecorder) SetPolicyCompliant(ok bool) {
	r.mu.Lock()
	r.policyCompliant = ok
	r.mu.Unlock()
}

// ErrorStats implements ErrorStatsProvider.ErrorStats.
// The rate is the failed share of the last minute's work.
func (r *StatsRecorder) ErrorStats(ctx context.Context) (*model.ErrorStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	at := r.now()
	r.trimLocked(at)

	rate, _ := r.errorRateLocked(at)
	return &model.ErrorStats{
		ErrorRatePerMinute: rate,
		TotalErrors:        r.totalErrors,
		RecentErrors1h:     int64(len(r.errors)),
	}, nil
}

// PerformanceStats implements PerformanceProvider.PerformanceStats
func (r *StatsRecorder) PerformanceStats(ctx context.Context) (*model.PerformanceStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	at := r.now()
	r.trimLocked(at)

	stats := &model.PerformanceStats{
		CacheHitRate:      1,
		MemoryUsageBytes:  r.memory(ctx),
		LoadTimeMs:        copyFloat(r.loadTimeMs),
		APIResponseTimeMs: copyFloat(r.apiResponseMs),
		RecentDurationsMs: append([]float64(nil), r.durations...),
	}
	if len(r.cacheLookups) > 0 {
		hits := 0
		for _, hit := range r.cacheLookups {
			if hit {
				hits++
			}
		}
		stats.CacheHitRate = float64(hits) / float64(len(r.cacheLookups))
	}
	if rate, ok := r.errorRateLocked(at); ok {
		stats.ErrorRate = &rate
	}
	return stats, nil
}

// SecurityStats implements SecurityProvider.SecurityStats
func (r *StatsRecorder) SecurityStats(ctx context.Context) (*model.SecurityStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trimLocked(r.now())
	return &model.SecurityStats{
		PolicyCompliant:  r.policyCompliant,
		RecentViolations: int64(len(r.violations)),
	}, nil
}

// errorRateLocked returns errors over work in the last minute. ok is false
// when nothing happened in that window.
func (r *StatsRecorder) errorRateLocked(at time.Time) (rate float64, ok bool) {
	cutoff := at.Add(-errorRateWindow)
	ops := countSince(r.operations, cutoff)
	errs := countSince(r.errors, cutoff)
	denom := ops
	if errs > denom {
		denom = errs
	}
	if denom == 0 {
		return 0, false
	}
	return float64(errs) / float64(denom), true
}

func (r *StatsRecorder) trimLocked(at time.Time) {
	cutoff := at.Add(-recentErrorsWindow)
	r.operations = dropBefore(r.operations, at.Add(-errorRateWindow))
	r.errors = dropBefore(r.errors, cutoff)
	r.violations = dropBefore(r.violations, cutoff)
}

func dropBefore(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && times[i].Before(cutoff) {
		i++
	}
	return times[i:]
}

func countSince(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, t := range times {
		if !t.Before(cutoff) {
			n++
		}
	}
	return n
}

func appendBounded(values []float64, v float64, limit int) []float64 {
	values = append(values, v)
	if len(values) > limit {
		values = values[len(values)-limit:]
	}
	return values
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// processMemory reports the resident set size of this process, falling back
// to the Go heap when the OS query fails.
func processMemory(ctx context.Context) int64 {
	if proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if info, err := proc.MemoryInfoWithContext(ctx); err == nil {
			return int64(info.RSS)
		}
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return int64(ms.Alloc)
}
