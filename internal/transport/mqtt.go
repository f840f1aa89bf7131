package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/icpmesh/meshwatch/internal/metrics"
	"github.com/icpmesh/meshwatch/pkg/log"
	"github.com/icpmesh/meshwatch/pkg/mqtt"
)

// downlink is the envelope the gateway accepts for outgoing sends.
type downlink struct {
	From    uint32 `json:"from"`
	To      uint32 `json:"to,omitempty"`
	Channel int    `json:"channel"`
	Type    string `json:"type"`
	Payload string `json:"payload"`
	WantAck bool   `json:"want_ack,omitempty"`
}

// MQTTGateway is the MQTT-backed Transport. It subscribes to the gateway's
// JSON uplink topics and publishes sends on the downlink topic.
type MQTTGateway struct {
	client    mqtt.Client
	topicRoot string
	channel   string
	gatewayID string
	localNum  uint32

	handler Handler
}

// MQTTGatewayConfig configures the gateway transport.
type MQTTGatewayConfig struct {
	Client mqtt.Client
	// TopicRoot is the prefix the gateway publishes under, e.g. msh/2/json.
	TopicRoot string
	// Channel restricts the subscription to one mesh channel; empty means all.
	Channel string
	// GatewayID is the gateway node's `!xxxxxxxx` identifier for downlinks.
	GatewayID string
	// LocalNum is the local node number stamped on outgoing envelopes.
	LocalNum uint32
}

// NewMQTTGateway builds an MQTT transport from an already-configured client.
func NewMQTTGateway(cfg MQTTGatewayConfig) (*MQTTGateway, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("mqtt client is required")
	}
	if cfg.TopicRoot == "" {
		return nil, fmt.Errorf("topic root is required")
	}
	if cfg.LocalNum == 0 && cfg.GatewayID != "" {
		num, err := parseNodeID(cfg.GatewayID)
		if err != nil {
			return nil, fmt.Errorf("bad gateway id %q: %w", cfg.GatewayID, err)
		}
		cfg.LocalNum = num
	}
	return &MQTTGateway{
		client:    cfg.Client,
		topicRoot: cfg.TopicRoot,
		channel:   cfg.Channel,
		gatewayID: cfg.GatewayID,
		localNum:  cfg.LocalNum,
	}, nil
}

func (g *MQTTGateway) OnPacket(h Handler) {
	g.handler = h
}

func (g *MQTTGateway) Start(ctx context.Context) error {
	if g.handler == nil {
		return fmt.Errorf("no packet handler registered")
	}

	if err := g.client.Start(ctx); err != nil {
		return fmt.Errorf("failed to start mqtt client: %w", err)
	}

	if err := g.client.AwaitConnection(ctx); err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}

	topic := g.uplinkFilter()
	if err := g.client.Subscribe(ctx, topic, 0, g.onMessage); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	log.Info("Mesh transport started", "topic", topic)
	return nil
}

func (g *MQTTGateway) Stop(ctx context.Context) {
	g.client.Disconnect(ctx)
}

func (g *MQTTGateway) ConnectionState() bool {
	return g.client.IsConnected()
}

// Send publishes a downlink envelope. destination is a `!xxxxxxxx` node ID
// or empty for a channel broadcast.
func (g *MQTTGateway) Send(ctx context.Context, destination, text string, wantAck bool) error {
	d := downlink{
		From:    g.localNum,
		Type:    "sendtext",
		Payload: text,
		WantAck: wantAck,
	}
	if destination != "" {
		num, err := parseNodeID(destination)
		if err != nil {
			return fmt.Errorf("bad destination %q: %w", destination, err)
		}
		d.To = num
	}

	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal downlink: %w", err)
	}

	topic := g.topicRoot + "/mqtt/"
	if g.gatewayID != "" {
		topic += g.gatewayID
	}

	if err := g.client.Publish(ctx, topic, 0, false, body); err != nil {
		return fmt.Errorf("failed to publish downlink: %w", err)
	}
	metrics.BroadcastsSent.Inc()
	return nil
}

// RequestTelemetry asks a node to report telemetry now, via a gateway
// downlink.
func (g *MQTTGateway) RequestTelemetry(ctx context.Context, destination string) error {
	num, err := parseNodeID(destination)
	if err != nil {
		return fmt.Errorf("bad destination %q: %w", destination, err)
	}

	body, err := json.Marshal(downlink{
		From: g.localNum,
		To:   num,
		Type: "requesttelemetry",
	})
	if err != nil {
		return fmt.Errorf("failed to marshal downlink: %w", err)
	}

	topic := g.topicRoot + "/mqtt/"
	if g.gatewayID != "" {
		topic += g.gatewayID
	}
	return g.client.Publish(ctx, topic, 0, false, body)
}

func (g *MQTTGateway) uplinkFilter() string {
	if g.channel != "" {
		return g.topicRoot + "/" + g.channel + "/#"
	}
	return g.topicRoot + "/#"
}

func (g *MQTTGateway) onMessage(ctx context.Context, topic string, payload []byte, retained bool) {
	// The wildcard subscription also covers the downlink subtree, so our own
	// sends echo back. They are not mesh traffic.
	if strings.HasPrefix(topic, g.topicRoot+"/mqtt/") {
		return
	}

	var ev PacketEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		log.Warn("Dropping unparseable packet envelope", "topic", topic, "err", err.Error())
		metrics.NormalizeFailures.Inc()
		return
	}

	// Retained envelopes are the broker replaying known state on connect,
	// not live receptions.
	ev.Synthetic = retained
	if ev.Timestamp == 0 && !retained {
		ev.Timestamp = time.Now().Unix()
	}

	metrics.PacketsReceived.Inc()
	g.handler(ev)
}

// parseNodeID converts a `!xxxxxxxx` identifier to the numeric node number.
func parseNodeID(id string) (uint32, error) {
	if len(id) != 9 || id[0] != '!' {
		return 0, fmt.Errorf("not of the form !xxxxxxxx")
	}
	var num uint32
	for _, c := range id[1:] {
		var d uint32
		switch {
		case c >= '0' && c <= '9':
			d = uint32(c - '0')
		case c >= 'a' && c <= 'f':
			d = uint32(c-'a') + 10
		case c >= 'A' && c <= 'F':
			d = uint32(c-'A') + 10
		default:
			return 0, fmt.Errorf("invalid hex digit %q", c)
		}
		num = num<<4 | d
	}
	return num, nil
}
