package monitor

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/t77yq/sentinel/internal/model"
)

// Default thresholds used when a rule does not carry its own.
const (
	DefaultErrorRateThreshold = 0.05
	DefaultMemoryThresholdMB  = 512.0
	DefaultExternalService    = "firebase"
)

// RuleLoader supplies the alert rules evaluated by the monitor
type RuleLoader interface {
	LoadRules(ctx context.Context) ([]model.AlertRule, error)
}

// DefaultRules returns the built-in rule set.
func DefaultRules() []model.AlertRule {
	return []model.AlertRule{
		{
			ID:          "system_critical",
			Name:        "System Critical",
			Description: "Overall system health is critical",
			Condition:   model.ConditionSystemCritical,
			Severity:    model.AlertSeverityCritical,
			Cooldown:    5 * time.Minute,
			Enabled:     true,
			Channels:    []model.NotificationChannel{model.ChannelFirebase, model.ChannelConsole},
		},
		{
			ID:          "high_error_rate",
			Name:        "High Error Rate",
			Description: "Error rate per minute exceeds threshold",
			Condition:   model.ConditionHighErrorRate,
			Severity:    model.AlertSeverityHigh,
			Threshold:   model.Float(DefaultErrorRateThreshold),
			Cooldown:    10 * time.Minute,
			Enabled:     true,
			Channels:    []model.NotificationChannel{model.ChannelFirebase, model.ChannelConsole},
		},
		{
			ID:          "performance_degradation",
			Name:        "Performance Degradation",
			Description: "Application performance has degraded",
			Condition:   model.ConditionPerformanceDegradation,
			Severity:    model.AlertSeverityMedium,
			Cooldown:    15 * time.Minute,
			Enabled:     true,
			Channels:    []model.NotificationChannel{model.ChannelFirebase},
		},
		{
			ID:          "high_memory",
			Name:        "High Memory Usage",
			Description: "Memory usage exceeds threshold",
			Condition:   model.ConditionHighMemory,
			Severity:    model.AlertSeverityMedium,
			Threshold:   model.Float(DefaultMemoryThresholdMB),
			Cooldown:    10 * time.Minute,
			Enabled:     true,
			Channels:    []model.NotificationChannel{model.ChannelFirebase, model.ChannelConsole},
		},
		{
			ID:          "security_violation",
			Name:        "Security Violation",
			Description: "A security policy violation was detected",
			Condition:   model.ConditionSecurityViolation,
			Severity:    model.AlertSeverityCritical,
			Cooldown:    time.Minute,
			Enabled:     true,
			Channels:    []model.NotificationChannel{model.ChannelFirebase, model.ChannelConsole},
		},
		{
			ID:          "firebase_failure",
			Name:        "External Service Failure",
			Description: "External analytics service is failing",
			Condition:   model.ConditionFirebaseFailure,
			Severity:    model.AlertSeverityHigh,
			Subsystem:   DefaultExternalService,
			Cooldown:    5 * time.Minute,
			Enabled:     true,
			Channels:    []model.NotificationChannel{model.ChannelConsole},
		},
	}
}

// StaticRuleLoader returns a fixed rule set
type StaticRuleLoader []model.AlertRule

// LoadRules implements RuleLoader.LoadRules
func (l StaticRuleLoader) LoadRules(ctx context.Context) ([]model.AlertRule, error) {
	out := make([]model.AlertRule, 0, len(l))
	for _, r := range l {
		out = append(out, r.Clone())
	}
	return out, nil
}

// FileRuleLoader reads rules from a YAML file of the form
//
//	rules:
//	  - id: high_error_rate
//	    condition: high_error_rate
//	    severity: high
//	    threshold: 0.05
//	    cooldown: 10m
//	    enabled: true
//	    channels: [firebase, console]
//
// Rules in the file replace built-in rules with the same ID and are
// appended otherwise.
type FileRuleLoader struct {
	Path string
}

type ruleFile struct {
	Rules []model.AlertRule `yaml:"rules"`
}

// LoadRules implements RuleLoader.LoadRules
func (l FileRuleLoader) LoadRules(ctx context.Context) ([]model.AlertRule, error) {
	data, err := os.ReadFile(l.Path)
	if err != nil {
		return nil, fmt.Errorf("read rules %q: %w", l.Path, err)
	}

	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse rules %q: %w", l.Path, err)
	}

	rules := DefaultRules()
	index := make(map[string]int, len(rules))
	for i, r := range rules {
		index[r.ID] = i
	}

	for _, r := range file.Rules {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("rules %q: %w", l.Path, err)
		}
		if i, ok := index[r.ID]; ok {
			rules[i] = r
			continue
		}
		index[r.ID] = len(rules)
		rules = append(rules, r)
	}

	return rules, nil
}
