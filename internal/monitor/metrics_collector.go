package monitor

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/t77yq/sentinel/internal/analytics"
)

// SystemSample is one reading of host and process resources
type SystemSample struct {
	CPUPercent        float64 `json:"cpu_percent"`
	MemoryUsedPercent float64 `json:"memory_used_percent"`
	DiskUsedPercent   float64 `json:"disk_used_percent"`
	ProcessRSSBytes   uint64  `json:"process_rss_bytes"`
	Goroutines        int     `json:"goroutines"`
	NetworkUp         bool    `json:"network_up"`
}

// SystemSampler reads host and process resources
type SystemSampler interface {
	Sample(ctx context.Context) (*SystemSample, error)
}

// HostSampler samples the local host with gopsutil
type HostSampler struct {
	// DiskPath is the mount point whose usage is reported
	DiskPath string
}

// Sample implements SystemSampler.Sample
func (s HostSampler) Sample(ctx context.Context) (*SystemSample, error) {
	sample := &SystemSample{Goroutines: runtime.NumGoroutine()}

	memInfo, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get memory usage: %w", err)
	}
	sample.MemoryUsedPercent = memInfo.UsedPercent

	cpuPercent, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return nil, fmt.Errorf("failed to get CPU usage: %w", err)
	}
	if len(cpuPercent) > 0 {
		sample.CPUPercent = cpuPercent[0]
	}

	path := s.DiskPath
	if path == "" {
		path = "/"
	}
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to get disk usage: %w", err)
	}
	sample.DiskUsedPercent = usage.UsedPercent

	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("failed to inspect process: %w", err)
	}
	memStat, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get process memory: %w", err)
	}
	sample.ProcessRSSBytes = memStat.RSS

	ifaces, err := net.InterfacesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list network interfaces: %w", err)
	}
	for _, iface := range ifaces {
		up, loopback := false, false
		for _, flag := range iface.Flags {
			switch flag {
			case "up":
				up = true
			case "loopback":
				loopback = true
			}
		}
		if up && !loopback {
			sample.NetworkUp = true
			break
		}
	}

	return sample, nil
}

// MetricsCollector samples system resources and publishes them
type MetricsCollector struct {
	logger  *zap.Logger
	sampler SystemSampler
	sink    analytics.Sink
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(logger *zap.Logger, sampler SystemSampler, sink analytics.Sink) *MetricsCollector {
	if sink == nil {
		sink = analytics.NopSink{}
	}
	return &MetricsCollector{
		logger:  logger.Named("metrics-collector"),
		sampler: sampler,
		sink:    sink,
	}
}

// Collect takes one sample and publishes it
func (c *MetricsCollector) Collect(ctx context.Context, now time.Time) (*SystemSample, error) {
	sample, err := c.sampler.Sample(ctx)
	if err != nil {
		c.logger.Error("Failed to collect system metrics", zap.Error(err))
		return nil, err
	}

	if err := c.sink.LogEvent(ctx, analytics.EventSystemMetricsCollected, map[string]interface{}{
		"cpu_percent":    sample.CPUPercent,
		"memory_percent": sample.MemoryUsedPercent,
		"timestamp":      now.UTC().Format(time.RFC3339),
	}); err != nil {
		c.logger.Error("Failed to publish metrics", zap.Error(err))
	}

	c.logger.Debug("Metrics collected",
		zap.Float64("cpu_usage", sample.CPUPercent),
		zap.Float64("memory_usage", sample.MemoryUsedPercent),
		zap.Float64("disk_usage", sample.DiskUsedPercent),
		zap.Uint64("process_rss", sample.ProcessRSSBytes),
		zap.Int("goroutines", sample.Goroutines))

	return sample, nil
}
