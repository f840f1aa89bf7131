// Package alert evaluates per-node rules against node state transitions and
// emits edge-triggered alert events. Each (node, rule) pair is a small state
// machine; a condition fires once when crossed and again only after an
// intervening recovery.
package alert

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Rule identifiers.
const (
	RuleLowBattery      = "low_battery"
	RuleLowVoltage      = "low_voltage"
	RuleHighVoltage     = "high_voltage"
	RuleLowTemperature  = "low_temperature"
	RuleHighTemperature = "high_temperature"
	RuleMotion          = "motion"
	RuleNodeOffline     = "node_offline"
)

// ruleOrder fixes the evaluation order so emitted events are deterministic.
var ruleOrder = []string{
	RuleNodeOffline,
	RuleLowBattery,
	RuleLowVoltage,
	RuleHighVoltage,
	RuleLowTemperature,
	RuleHighTemperature,
	RuleMotion,
}

// RuleConfig is one rule's global configuration.
type RuleConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
	// Threshold is the value compared against the relevant field.
	// For node_offline it is seconds since last heard.
	Threshold float64 `json:"threshold" mapstructure:"threshold"`
	// Cooldown throttles repeat notifications after a recover/re-fire cycle.
	// Firing itself stays edge-triggered regardless.
	Cooldown time.Duration `json:"cooldown" mapstructure:"cooldown"`
}

// Config holds the rule set plus engine-wide tuning.
type Config struct {
	Rules map[string]RuleConfig `json:"rules" mapstructure:"rules"`

	// StartupGrace suppresses firing right after boot, while the store is
	// still filling from reconciliation and first receptions.
	StartupGrace time.Duration `json:"startup-grace" mapstructure:"startup-grace"`

	// OverridesPath is an optional JSON file of per-node rule enablement,
	// hot-reloaded while running.
	OverridesPath string `json:"overrides-path" mapstructure:"overrides-path"`
}

// DefaultConfig returns the stock rule set.
func DefaultConfig() Config {
	return Config{
		Rules: map[string]RuleConfig{
			RuleNodeOffline:     {Enabled: true, Threshold: 600, Cooldown: 30 * time.Minute},
			RuleLowBattery:      {Enabled: true, Threshold: 20, Cooldown: 60 * time.Minute},
			RuleLowVoltage:      {Enabled: false, Threshold: 3.2, Cooldown: 30 * time.Minute},
			RuleHighVoltage:     {Enabled: false, Threshold: 4.3, Cooldown: 30 * time.Minute},
			RuleLowTemperature:  {Enabled: false, Threshold: -10, Cooldown: 30 * time.Minute},
			RuleHighTemperature: {Enabled: false, Threshold: 40, Cooldown: 15 * time.Minute},
			RuleMotion:          {Enabled: false, Cooldown: 5 * time.Minute},
		},
		StartupGrace: 10 * time.Minute,
	}
}

// Overrides maps node ID to per-rule enablement, overriding the global flag.
type Overrides map[string]map[string]bool

// LoadOverrides reads a per-node override file. A missing file yields empty
// overrides, not an error.
func LoadOverrides(path string) (Overrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Overrides{}, nil
		}
		return nil, fmt.Errorf("failed to read overrides file: %w", err)
	}

	var o Overrides
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("failed to parse overrides file %s: %w", path, err)
	}
	return o, nil
}

// enabledFor resolves the effective enablement of a rule for a node.
func (o Overrides) enabledFor(nodeID, rule string, global bool) bool {
	if perNode, ok := o[nodeID]; ok {
		if v, ok := perNode[rule]; ok {
			return v
		}
	}
	return global
}
