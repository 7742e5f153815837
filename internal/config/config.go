// Package config loads process configuration with viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envPrefix prefixes environment overrides, e.g. SENTINEL_NATS_URL
const envPrefix = "SENTINEL"

// Config is the full process configuration
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Monitor MonitorConfig `mapstructure:"monitor"`
	SLA     SLAConfig     `mapstructure:"sla"`
	Storage StorageConfig `mapstructure:"storage"`
	NATS    NATSConfig    `mapstructure:"nats"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

type MonitorConfig struct {
	MaxAlertsPerHour int           `mapstructure:"max_alerts_per_hour"`
	HealthInterval   time.Duration `mapstructure:"health_interval"`
	AlertInterval    time.Duration `mapstructure:"alert_interval"`
	ReportInterval   time.Duration `mapstructure:"report_interval"`
	CleanupInterval  time.Duration `mapstructure:"cleanup_interval"`
	RulesFile        string        `mapstructure:"rules_file"`
	ExternalService  string        `mapstructure:"external_service"`
	DiskPath         string        `mapstructure:"disk_path"`
}

type SLAConfig struct {
	LoadTimeMs         float64       `mapstructure:"load_time_ms"`
	APIResponseTimeMs  float64       `mapstructure:"api_response_time_ms"`
	CacheHitRate       float64       `mapstructure:"cache_hit_rate"`
	MemoryUsageMB      float64       `mapstructure:"memory_usage_mb"`
	ErrorRate          float64       `mapstructure:"error_rate"`
	EscalationDebounce time.Duration `mapstructure:"escalation_debounce"`
}

type StorageConfig struct {
	Path string `mapstructure:"path"`
}

type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	Stream         string        `mapstructure:"stream"`
	SubjectPrefix  string        `mapstructure:"subject_prefix"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type MetricsConfig struct {
	// Listen is the Prometheus endpoint address; empty disables it
	Listen string `mapstructure:"listen"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "sentinel")
	v.SetDefault("app.environment", "production")

	v.SetDefault("monitor.max_alerts_per_hour", 50)
	v.SetDefault("monitor.health_interval", "30s")
	v.SetDefault("monitor.alert_interval", "60s")
	v.SetDefault("monitor.report_interval", "300s")
	v.SetDefault("monitor.cleanup_interval", "1h")
	v.SetDefault("monitor.rules_file", "")
	v.SetDefault("monitor.external_service", "firebase")
	v.SetDefault("monitor.disk_path", "/")

	v.SetDefault("sla.load_time_ms", 3000)
	v.SetDefault("sla.api_response_time_ms", 500)
	v.SetDefault("sla.cache_hit_rate", 0.70)
	v.SetDefault("sla.memory_usage_mb", 512)
	v.SetDefault("sla.error_rate", 0.01)
	v.SetDefault("sla.escalation_debounce", "5m")

	v.SetDefault("storage.path", "sentinel.db")

	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.stream", "ANALYTICS")
	v.SetDefault("nats.subject_prefix", "analytics")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.connect_timeout", "5s")

	v.SetDefault("metrics.listen", ":9090")
}

// Load reads configuration from path, when given, over the defaults.
// Environment variables such as SENTINEL_MONITOR_ALERT_INTERVAL override both.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the monitor cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.Monitor.MaxAlertsPerHour <= 0 {
		errs = append(errs, fmt.Errorf("monitor.max_alerts_per_hour must be positive"))
	}
	for key, d := range map[string]time.Duration{
		"monitor.health_interval":  c.Monitor.HealthInterval,
		"monitor.alert_interval":   c.Monitor.AlertInterval,
		"monitor.report_interval":  c.Monitor.ReportInterval,
		"monitor.cleanup_interval": c.Monitor.CleanupInterval,
	} {
		if d < time.Second {
			errs = append(errs, fmt.Errorf("%s must be at least 1s", key))
		}
	}
	if c.SLA.EscalationDebounce < 0 {
		errs = append(errs, fmt.Errorf("sla.escalation_debounce must not be negative"))
	}
	return errors.Join(errs...)
}
