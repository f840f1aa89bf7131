package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/icpmesh/meshwatch/internal/broadcast"
	genericoptions "github.com/icpmesh/meshwatch/pkg/options"
)

var _ genericoptions.IOptions = (*BroadcastOptions)(nil)

// BroadcastOptions tunes the outgoing status heartbeat.
type BroadcastOptions struct {
	Interval       time.Duration `json:"interval" mapstructure:"interval"`
	StabilizeDelay time.Duration `json:"stabilize-delay" mapstructure:"stabilize-delay"`
	HelpAutoClear  time.Duration `json:"help-auto-clear" mapstructure:"help-auto-clear"`
	Version        string        `json:"version" mapstructure:"version"`
}

// NewBroadcastOptions creates BroadcastOptions with default values.
func NewBroadcastOptions() *BroadcastOptions {
	d := broadcast.DefaultConfig()
	return &BroadcastOptions{
		Interval:       d.Interval,
		StabilizeDelay: d.StabilizeDelay,
		HelpAutoClear:  d.HelpAutoClear,
		Version:        d.Version,
	}
}

func (o *BroadcastOptions) Validate() []error {
	errors := []error{}

	if o.Interval <= 0 {
		errors = append(errors, fmt.Errorf("broadcast.interval must be positive"))
	}
	if o.HelpAutoClear <= 0 {
		errors = append(errors, fmt.Errorf("broadcast.help-auto-clear must be positive"))
	}

	return errors
}

func (o *BroadcastOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.DurationVar(&o.Interval, "broadcast.interval", o.Interval, "Status heartbeat interval.")
	fs.DurationVar(&o.StabilizeDelay, "broadcast.stabilize-delay", o.StabilizeDelay, "Delay before the first broadcast after boot.")
	fs.DurationVar(&o.HelpAutoClear, "broadcast.help-auto-clear", o.HelpAutoClear, "Auto-clear an unanswered help flag after this long.")
	fs.StringVar(&o.Version, "broadcast.version", o.Version, "Version string stamped on outgoing status messages.")
}

// ToConfig converts the options into the broadcaster configuration.
func (o *BroadcastOptions) ToConfig() broadcast.Config {
	return broadcast.Config{
		Interval:       o.Interval,
		StabilizeDelay: o.StabilizeDelay,
		HelpAutoClear:  o.HelpAutoClear,
		Version:        o.Version,
	}
}
