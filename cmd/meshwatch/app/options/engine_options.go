package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/icpmesh/meshwatch/internal/mesh/status"
	genericoptions "github.com/icpmesh/meshwatch/pkg/options"
)

var _ genericoptions.IOptions = (*EngineOptions)(nil)

// EngineOptions tunes the state engine: identity, cadence, and thresholds.
type EngineOptions struct {
	// LocalID is this node's `!xxxxxxxx` identifier on the mesh.
	LocalID string `json:"local-id" mapstructure:"local-id"`

	// TelemetryInterval is how often nodes send telemetry on their own.
	// The offline threshold must exceed it.
	TelemetryInterval time.Duration `json:"telemetry-interval" mapstructure:"telemetry-interval"`

	RefreshInterval    time.Duration `json:"refresh-interval" mapstructure:"refresh-interval"`
	AlertCheckInterval time.Duration `json:"alert-check-interval" mapstructure:"alert-check-interval"`

	Thresholds status.Thresholds `json:"thresholds" mapstructure:"thresholds"`
}

// NewEngineOptions creates EngineOptions with default values.
func NewEngineOptions() *EngineOptions {
	return &EngineOptions{
		TelemetryInterval:  time.Minute,
		RefreshInterval:    30 * time.Second,
		AlertCheckInterval: time.Minute,
		Thresholds:         status.DefaultThresholds(),
	}
}

func (o *EngineOptions) Validate() []error {
	errors := []error{}

	if o.LocalID == "" {
		errors = append(errors, fmt.Errorf("engine.local-id is required"))
	}
	if err := o.Thresholds.Validate(o.TelemetryInterval); err != nil {
		errors = append(errors, err)
	}
	if o.RefreshInterval <= 0 {
		errors = append(errors, fmt.Errorf("engine.refresh-interval must be positive"))
	}

	return errors
}

func (o *EngineOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.LocalID, "engine.local-id", o.LocalID, "This node's !xxxxxxxx identifier on the mesh.")
	fs.DurationVar(&o.TelemetryInterval, "engine.telemetry-interval", o.TelemetryInterval, "Interval at which mesh nodes send telemetry on their own.")
	fs.DurationVar(&o.RefreshInterval, "engine.refresh-interval", o.RefreshInterval, "Interval of the time-driven status refresh.")
	fs.DurationVar(&o.AlertCheckInterval, "engine.alert-check-interval", o.AlertCheckInterval, "Interval of the alert rule evaluation pass.")

	fs.DurationVar(&o.Thresholds.OfflineAfter, "engine.offline-after", o.Thresholds.OfflineAfter, "Mark a node offline after this long without a live reception.")
	fs.DurationVar(&o.Thresholds.StaleAfter, "engine.stale-after", o.Thresholds.StaleAfter, "Mark a telemetry field stale after this long without an update.")
	fs.DurationVar(&o.Thresholds.MotionWindow, "engine.motion-window", o.Thresholds.MotionWindow, "How long a motion event counts as recent.")
}
