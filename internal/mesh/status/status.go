// Package status derives the computed view of a node from its stored state
// and the current time. Everything here is pure and safe to call
// concurrently.
package status

import (
	"fmt"
	"time"

	"github.com/icpmesh/meshwatch/internal/mesh"
)

// Thresholds are the configuration inputs of the calculator. The display
// offline threshold here and the alert engine's offline rule threshold are
// independent values: they may diverge, so an offline alert can fire before
// or after the node is displayed as offline.
type Thresholds struct {
	// OfflineAfter marks a node offline once now-LastHeard reaches it.
	OfflineAfter time.Duration `json:"offline-after" mapstructure:"offline-after"`
	// StaleAfter marks an individual telemetry field stale.
	StaleAfter time.Duration `json:"stale-after" mapstructure:"stale-after"`
	// MotionWindow is how long a motion event counts as recent.
	MotionWindow time.Duration `json:"motion-window" mapstructure:"motion-window"`

	// Health tiers, weakest link over battery, external voltage, temperature.
	BatteryRedBelow    float64 `json:"battery-red-below" mapstructure:"battery-red-below"`
	BatteryYellowBelow float64 `json:"battery-yellow-below" mapstructure:"battery-yellow-below"`
	VoltageRedBelow    float64 `json:"voltage-red-below" mapstructure:"voltage-red-below"`
	VoltageYellowBelow float64 `json:"voltage-yellow-below" mapstructure:"voltage-yellow-below"`
	TempRedAbove       float64 `json:"temp-red-above" mapstructure:"temp-red-above"`
	TempYellowAbove    float64 `json:"temp-yellow-above" mapstructure:"temp-yellow-above"`
	TempYellowBelow    float64 `json:"temp-yellow-below" mapstructure:"temp-yellow-below"`
}

// DefaultThresholds returns the stock configuration.
func DefaultThresholds() Thresholds {
	return Thresholds{
		OfflineAfter: 5 * time.Minute,
		StaleAfter:   time.Hour,
		MotionWindow: 5 * time.Minute,

		BatteryRedBelow:    25,
		BatteryYellowBelow: 50,
		VoltageRedBelow:    3.5,
		VoltageYellowBelow: 4.0,
		TempRedAbove:       45,
		TempYellowAbove:    35,
		TempYellowBelow:    0,
	}
}

// Validate fails fast on threshold relations that would cause status
// flapping. telemetryInterval is the nodes' own send interval; the offline
// threshold must exceed it or every node flaps offline between scheduled
// transmissions.
func (t Thresholds) Validate(telemetryInterval time.Duration) error {
	if t.OfflineAfter <= telemetryInterval {
		return fmt.Errorf("offline threshold %v must exceed telemetry send interval %v", t.OfflineAfter, telemetryInterval)
	}
	if t.StaleAfter <= 0 {
		return fmt.Errorf("stale threshold must be positive, got %v", t.StaleAfter)
	}
	if t.MotionWindow <= 0 {
		return fmt.Errorf("motion window must be positive, got %v", t.MotionWindow)
	}
	if t.BatteryRedBelow > t.BatteryYellowBelow {
		return fmt.Errorf("battery red threshold %v above yellow threshold %v", t.BatteryRedBelow, t.BatteryYellowBelow)
	}
	if t.VoltageRedBelow > t.VoltageYellowBelow {
		return fmt.Errorf("voltage red threshold %v above yellow threshold %v", t.VoltageRedBelow, t.VoltageYellowBelow)
	}
	if t.TempRedAbove < t.TempYellowAbove {
		return fmt.Errorf("temperature red threshold %v below yellow threshold %v", t.TempRedAbove, t.TempYellowAbove)
	}
	return nil
}

// Derive computes the status of one node at a point in time.
func Derive(n mesh.NodeState, now time.Time, th Thresholds) mesh.DerivedStatus {
	nowUnix := now.Unix()

	ds := mesh.DerivedStatus{Health: mesh.Green}

	// Never-heard nodes are offline.
	if n.LastHeard > 0 && time.Duration(nowUnix-n.LastHeard)*time.Second < th.OfflineAfter {
		ds.Online = true
	}

	// Staleness is per field and independent of online state.
	for _, f := range orderedFields(n) {
		r := n.Telemetry[f]
		if time.Duration(nowUnix-r.UpdatedAt)*time.Second > th.StaleAfter {
			ds.StaleFields = append(ds.StaleFields, f)
		}
	}

	if n.LastMotionAt > 0 && time.Duration(nowUnix-n.LastMotionAt)*time.Second < th.MotionWindow {
		ds.MotionRecent = true
	}

	ds.Health, ds.Reasons = aggregateHealth(n, th)
	return ds
}

// aggregateHealth evaluates battery, external voltage and temperature in a
// fixed order. Overall color is the worst tier; reasons list every parameter
// not at green. Missing fields are skipped, all missing is green.
func aggregateHealth(n mesh.NodeState, th Thresholds) (mesh.Color, []string) {
	health := mesh.Green
	var reasons []string

	if r, ok := n.Reading(mesh.FieldBatteryLevel); ok {
		c := mesh.Green
		switch {
		case r.Value < th.BatteryRedBelow:
			c = mesh.Red
		case r.Value <= th.BatteryYellowBelow:
			c = mesh.Yellow
		}
		if c != mesh.Green {
			reasons = append(reasons, "Battery")
		}
		health = health.Worst(c)
	}

	if r, ok := n.Reading(mesh.FieldVoltageExternal); ok {
		c := mesh.Green
		switch {
		case r.Value < th.VoltageRedBelow:
			c = mesh.Red
		case r.Value < th.VoltageYellowBelow:
			c = mesh.Yellow
		}
		if c != mesh.Green {
			reasons = append(reasons, "Voltage")
		}
		health = health.Worst(c)
	}

	if r, ok := n.Reading(mesh.FieldTemperature); ok {
		c := mesh.Green
		switch {
		case r.Value > th.TempRedAbove:
			c = mesh.Red
		case r.Value > th.TempYellowAbove, r.Value < th.TempYellowBelow:
			c = mesh.Yellow
		}
		if c != mesh.Green {
			reasons = append(reasons, "Temperature")
		}
		health = health.Worst(c)
	}

	return health, reasons
}

// orderedFields returns the node's telemetry fields in the canonical order,
// so stale-field lists are deterministic.
func orderedFields(n mesh.NodeState) []mesh.Field {
	all := []mesh.Field{
		mesh.FieldBatteryLevel,
		mesh.FieldVoltage,
		mesh.FieldVoltageExternal,
		mesh.FieldCurrent,
		mesh.FieldCurrentExternal,
		mesh.FieldTemperature,
		mesh.FieldHumidity,
		mesh.FieldPressure,
		mesh.FieldSNR,
		mesh.FieldChannelUtilization,
		mesh.FieldAirUtilTX,
		mesh.FieldUptime,
	}
	out := all[:0]
	for _, f := range all {
		if _, ok := n.Telemetry[f]; ok {
			out = append(out, f)
		}
	}
	return out
}
