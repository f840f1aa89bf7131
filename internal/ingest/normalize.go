// Package ingest converts raw transport events into typed records. The
// normalization boundary decides the record variant exactly once; everything
// downstream switches on the type, never on payload maps.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/icpmesh/meshwatch/internal/broadcast"
	"github.com/icpmesh/meshwatch/internal/mesh"
	"github.com/icpmesh/meshwatch/internal/metrics"
	"github.com/icpmesh/meshwatch/internal/transport"
)

// ErrNormalize is wrapped by every normalization failure. Failures are
// logged and dropped by the caller; the source packet is gone, there is
// nothing to retry.
var ErrNormalize = errors.New("malformed packet")

// telemetryPayload mirrors the gateway's telemetry envelope. Pointer fields
// distinguish absent from zero.
type telemetryPayload struct {
	BatteryLevel       *float64 `json:"battery_level"`
	Voltage            *float64 `json:"voltage"`
	Temperature        *float64 `json:"temperature"`
	RelativeHumidity   *float64 `json:"relative_humidity"`
	BarometricPressure *float64 `json:"barometric_pressure"`
	Current            *float64 `json:"current"`
	Ch3Voltage         *float64 `json:"ch3_voltage"`
	Ch3Current         *float64 `json:"ch3_current"`
	ChannelUtilization *float64 `json:"channel_utilization"`
	AirUtilTx          *float64 `json:"air_util_tx"`
	UptimeSeconds      *float64 `json:"uptime_seconds"`
	Time               int64    `json:"time"`
}

type nodeInfoPayload struct {
	ID        string `json:"id"`
	LongName  string `json:"longname"`
	ShortName string `json:"shortname"`
}

type textPayload struct {
	Text string `json:"text"`
}

// Normalize converts one packet event into a typed record.
func Normalize(ev transport.PacketEvent) (mesh.Record, error) {
	if ev.From == 0 {
		return nil, fmt.Errorf("%w: missing sender", ErrNormalize)
	}
	nodeID := NodeID(ev.From)

	origin := mesh.OriginLive
	rxTime := ev.Timestamp
	if ev.Synthetic {
		origin = mesh.OriginReconciliation
		rxTime = 0
	}

	switch ev.Type {
	case transport.TypeTelemetry:
		return normalizeTelemetry(nodeID, origin, rxTime, ev)
	case transport.TypeNodeInfo:
		return normalizeNodeInfo(nodeID, origin, rxTime, ev)
	case transport.TypeDetection:
		return mesh.NewMotionEvent(nodeID, origin, rxTime, true), nil
	case transport.TypeText:
		return normalizeText(nodeID, origin, rxTime, ev)
	}

	return nil, fmt.Errorf("%w: unknown packet type %q", ErrNormalize, ev.Type)
}

func normalizeTelemetry(nodeID string, origin mesh.Origin, rxTime int64, ev transport.PacketEvent) (mesh.Record, error) {
	var p telemetryPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return nil, fmt.Errorf("%w: telemetry payload: %v", ErrNormalize, err)
	}

	rec := mesh.NewTelemetrySample(nodeID, origin, rxTime)
	rec.SampleTime = p.Time
	rec.Hops = ev.HopsAway

	if p.BatteryLevel != nil {
		b := *p.BatteryLevel
		if b < 0 || b > 150 {
			return nil, fmt.Errorf("%w: battery level %v out of range", ErrNormalize, b)
		}
		// Values above 100 mean externally powered; report as full.
		if b > 100 {
			b = 100
		}
		rec.Readings[mesh.FieldBatteryLevel] = b
	}

	put := func(f mesh.Field, v *float64) {
		if v != nil {
			rec.Readings[f] = *v
		}
	}
	put(mesh.FieldVoltage, p.Voltage)
	put(mesh.FieldTemperature, p.Temperature)
	put(mesh.FieldHumidity, p.RelativeHumidity)
	put(mesh.FieldPressure, p.BarometricPressure)
	put(mesh.FieldCurrent, p.Current)
	put(mesh.FieldVoltageExternal, p.Ch3Voltage)
	put(mesh.FieldCurrentExternal, p.Ch3Current)
	put(mesh.FieldChannelUtilization, p.ChannelUtilization)
	put(mesh.FieldAirUtilTX, p.AirUtilTx)
	put(mesh.FieldUptime, p.UptimeSeconds)

	if ev.SNR != 0 {
		rec.Readings[mesh.FieldSNR] = ev.SNR
	}

	if len(rec.Readings) == 0 {
		return nil, fmt.Errorf("%w: telemetry packet with no readings", ErrNormalize)
	}
	return rec, nil
}

func normalizeNodeInfo(nodeID string, origin mesh.Origin, rxTime int64, ev transport.PacketEvent) (mesh.Record, error) {
	var p nodeInfoPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return nil, fmt.Errorf("%w: nodeinfo payload: %v", ErrNormalize, err)
	}
	if p.LongName == "" && p.ShortName == "" {
		return nil, fmt.Errorf("%w: nodeinfo with no names", ErrNormalize)
	}
	return mesh.NewNodeInfoUpdate(nodeID, origin, rxTime, p.ShortName, p.LongName), nil
}

func normalizeText(nodeID string, origin mesh.Origin, rxTime int64, ev transport.PacketEvent) (mesh.Record, error) {
	var p textPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return nil, fmt.Errorf("%w: text payload: %v", ErrNormalize, err)
	}
	if p.Text == "" {
		return nil, fmt.Errorf("%w: empty text payload", ErrNormalize)
	}

	// Status broadcasts ride the text channel; divert them so they never
	// reach ordinary message handling.
	if broadcast.IsStatusText(p.Text) {
		msg, err := broadcast.Decode(p.Text)
		if err != nil {
			metrics.BroadcastDecodeFailures.Inc()
			return nil, fmt.Errorf("%w: %v", ErrNormalize, err)
		}
		rec := mesh.NewStatusBroadcast(nodeID, origin, rxTime)
		rec.Color = msg.Color
		rec.Reasons = msg.Reasons
		rec.HelpRequested = msg.HelpRequested
		rec.Version = msg.Version
		rec.ReportedAt = msg.Timestamp
		return rec, nil
	}

	return mesh.NewTextMessage(nodeID, origin, rxTime, p.Text, ev.Channel), nil
}

// NodeID renders a numeric node number as the stable `!xxxxxxxx` identifier.
func NodeID(num uint32) string {
	return fmt.Sprintf("!%08x", num)
}
