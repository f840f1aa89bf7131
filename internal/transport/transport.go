// Package transport connects the engine to the mesh. The gateway publishes
// every packet it hears as a JSON envelope over MQTT; this package turns
// those envelopes into PacketEvents and carries outgoing sends back.
package transport

import (
	"context"
	"encoding/json"
)

// Packet types as the mesh gateway labels them.
const (
	TypeNodeInfo  = "nodeinfo"
	TypeTelemetry = "telemetry"
	TypeDetection = "detection"
	TypeText      = "text"
)

// PacketEvent is one raw packet as delivered by the gateway, before
// normalization. Payload stays opaque here; the normalizer decides its shape
// from Type.
type PacketEvent struct {
	From      uint32          `json:"from"`
	To        uint32          `json:"to"`
	Channel   int             `json:"channel"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
	SNR       float64         `json:"snr"`
	RSSI      int             `json:"rssi"`
	HopsAway  int             `json:"hops_away"`

	// Synthetic marks a re-announcement of already-known state rather than
	// a live reception. Set for broker-retained envelopes replayed at
	// connect time.
	Synthetic bool `json:"-"`
}

// Handler receives packet events in arrival order.
type Handler func(ev PacketEvent)

// Transport is the mesh collaborator surface the engine consumes.
type Transport interface {
	// Start connects and begins delivering packets to the registered handler.
	Start(ctx context.Context) error
	// Stop disconnects cleanly.
	Stop(ctx context.Context)
	// OnPacket registers the packet handler. Must be called before Start.
	OnPacket(h Handler)
	// Send transmits a text payload. Empty destination broadcasts on the
	// shared channel.
	Send(ctx context.Context, destination, text string, wantAck bool) error
	// ConnectionState reports whether the transport link is up.
	ConnectionState() bool
}

// TelemetryRequester is implemented by transports that can ask a node to
// report telemetry immediately.
type TelemetryRequester interface {
	RequestTelemetry(ctx context.Context, destination string) error
}
