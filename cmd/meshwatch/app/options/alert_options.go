package options

import (
	"time"

	"github.com/spf13/pflag"

	"github.com/icpmesh/meshwatch/internal/alert"
	genericoptions "github.com/icpmesh/meshwatch/pkg/options"
)

var _ genericoptions.IOptions = (*AlertOptions)(nil)

// AlertOptions configures the alert engine. Rule thresholds beyond the
// common ones are set through the configuration file's rules map.
type AlertOptions struct {
	StartupGrace  time.Duration `json:"startup-grace" mapstructure:"startup-grace"`
	OverridesPath string        `json:"overrides-path" mapstructure:"overrides-path"`

	Rules map[string]alert.RuleConfig `json:"rules" mapstructure:"rules"`
}

// NewAlertOptions creates AlertOptions with the stock rule set.
func NewAlertOptions() *AlertOptions {
	d := alert.DefaultConfig()
	return &AlertOptions{
		StartupGrace: d.StartupGrace,
		Rules:        d.Rules,
	}
}

func (o *AlertOptions) Validate() []error {
	return nil
}

func (o *AlertOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.DurationVar(&o.StartupGrace, "alert.startup-grace", o.StartupGrace, "Suppress alert firing for this long after boot.")
	fs.StringVar(&o.OverridesPath, "alert.overrides-path", o.OverridesPath, "JSON file of per-node rule overrides, hot-reloaded.")
}

// ToConfig converts the options into the alert engine configuration.
func (o *AlertOptions) ToConfig() alert.Config {
	rules := o.Rules
	if len(rules) == 0 {
		rules = alert.DefaultConfig().Rules
	}
	return alert.Config{
		Rules:         rules,
		StartupGrace:  o.StartupGrace,
		OverridesPath: o.OverridesPath,
	}
}
