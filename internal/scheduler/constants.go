package scheduler

import "time"

// Tick families driven by the monitor.
const (
	FamilyHealth  = "health"
	FamilyAlert   = "alert"
	FamilyReport  = "report"
	FamilyCleanup = "cleanup"
)

// Default tick intervals.
const (
	DefaultHealthInterval  = 30 * time.Second
	DefaultAlertInterval   = 60 * time.Second
	DefaultReportInterval  = 300 * time.Second
	DefaultCleanupInterval = time.Hour
)

// minInterval is the cron scheduling resolution
const minInterval = time.Second
