package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*PersistOptions)(nil)

// PersistOptions configures the snapshot and history storage.
type PersistOptions struct {
	SnapshotPath     string        `json:"snapshot-path" mapstructure:"snapshot-path"`
	SnapshotInterval time.Duration `json:"snapshot-interval" mapstructure:"snapshot-interval"`
	LogDir           string        `json:"log-dir" mapstructure:"log-dir"`
	RetainDays       int           `json:"retain-days" mapstructure:"retain-days"`
	RetentionSweep   time.Duration `json:"retention-sweep" mapstructure:"retention-sweep"`
}

// NewPersistOptions creates PersistOptions with default values.
func NewPersistOptions() *PersistOptions {
	return &PersistOptions{
		SnapshotPath:     "data/nodes.json",
		SnapshotInterval: 30 * time.Second,
		LogDir:           "logs",
		RetainDays:       30,
		RetentionSweep:   time.Hour,
	}
}

func (o *PersistOptions) Validate() []error {
	errors := []error{}

	if o.SnapshotPath == "" {
		errors = append(errors, fmt.Errorf("persist.snapshot-path is required"))
	}
	if o.LogDir == "" {
		errors = append(errors, fmt.Errorf("persist.log-dir is required"))
	}
	if o.RetainDays < 0 {
		errors = append(errors, fmt.Errorf("persist.retain-days must not be negative"))
	}

	return errors
}

func (o *PersistOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.SnapshotPath, "persist.snapshot-path", o.SnapshotPath, "Path of the node snapshot file.")
	fs.DurationVar(&o.SnapshotInterval, "persist.snapshot-interval", o.SnapshotInterval, "Debounce window for snapshot writes.")
	fs.StringVar(&o.LogDir, "persist.log-dir", o.LogDir, "Root directory of the per-node CSV history.")
	fs.IntVar(&o.RetainDays, "persist.retain-days", o.RetainDays, "Days of CSV history to keep; 0 disables the sweep.")
	fs.DurationVar(&o.RetentionSweep, "persist.retention-sweep", o.RetentionSweep, "Interval between retention sweeps.")
}
