package options

import (
	"github.com/icpmesh/meshwatch/internal/engine"
	"github.com/icpmesh/meshwatch/pkg/app"
	"github.com/icpmesh/meshwatch/pkg/log"
	genericoptions "github.com/icpmesh/meshwatch/pkg/options"
)

// MeshwatchOptions is the full option set of the meshwatch daemon.
type MeshwatchOptions struct {
	EngineOptions    *EngineOptions                 `json:"engine" mapstructure:"engine"`
	MqttOptions      *genericoptions.MqttOptions    `json:"mqtt" mapstructure:"mqtt"`
	HttpOptions      *genericoptions.HttpOptions    `json:"http" mapstructure:"http"`
	PersistOptions   *genericoptions.PersistOptions `json:"persist" mapstructure:"persist"`
	AlertOptions     *AlertOptions                  `json:"alert" mapstructure:"alert"`
	BroadcastOptions *BroadcastOptions              `json:"broadcast" mapstructure:"broadcast"`
	S3Options        *genericoptions.S3Options      `json:"s3" mapstructure:"s3"`
	Log              *log.Options                   `json:"log" mapstructure:"log"`
}

var _ app.NamedFlagSetOptions = (*MeshwatchOptions)(nil)

func NewMeshwatchOptions() *MeshwatchOptions {
	o := &MeshwatchOptions{
		EngineOptions:    NewEngineOptions(),
		MqttOptions:      genericoptions.NewMqttOptions(),
		HttpOptions:      genericoptions.NewHttpOptions(),
		PersistOptions:   genericoptions.NewPersistOptions(),
		AlertOptions:     NewAlertOptions(),
		BroadcastOptions: NewBroadcastOptions(),
		S3Options:        genericoptions.NewS3Options(),
		Log:              log.NewOptions(),
	}

	return o
}

func (o *MeshwatchOptions) Flags() app.NamedFlagSets {
	fss := app.NamedFlagSets{}
	o.EngineOptions.AddFlags(fss.FlagSet("engine"))
	o.MqttOptions.AddFlags(fss.FlagSet("mqtt"))
	o.HttpOptions.AddFlags(fss.FlagSet("http"))
	o.PersistOptions.AddFlags(fss.FlagSet("persist"))
	o.AlertOptions.AddFlags(fss.FlagSet("alert"))
	o.BroadcastOptions.AddFlags(fss.FlagSet("broadcast"))
	o.S3Options.AddFlags(fss.FlagSet("s3"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

func (o *MeshwatchOptions) Complete() error {
	return nil
}

func (o *MeshwatchOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.EngineOptions.Validate()...)
	errs = append(errs, o.MqttOptions.Validate()...)
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.PersistOptions.Validate()...)
	errs = append(errs, o.AlertOptions.Validate()...)
	errs = append(errs, o.BroadcastOptions.Validate()...)
	errs = append(errs, o.S3Options.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return app.AggregateErrors(errs)
}

// Config assembles the engine configuration from the option groups.
func (o *MeshwatchOptions) Config() engine.Config {
	return engine.Config{
		LocalID:            o.EngineOptions.LocalID,
		Thresholds:         o.EngineOptions.Thresholds,
		TelemetryInterval:  o.EngineOptions.TelemetryInterval,
		RefreshInterval:    o.EngineOptions.RefreshInterval,
		AlertCheckInterval: o.EngineOptions.AlertCheckInterval,
		SnapshotPath:       o.PersistOptions.SnapshotPath,
		SnapshotInterval:   o.PersistOptions.SnapshotInterval,
		LogDir:             o.PersistOptions.LogDir,
		RetainDays:         o.PersistOptions.RetainDays,
		RetentionSweep:     o.PersistOptions.RetentionSweep,
		Broadcast:          o.BroadcastOptions.ToConfig(),
		Alerts:             o.AlertOptions.ToConfig(),
		Backup:             o.S3Options,
	}
}
