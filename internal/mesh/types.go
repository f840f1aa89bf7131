// Package mesh holds the domain model of the telemetry state engine:
// node state, derived status, alerts, and the normalized record variants
// every other component exchanges.
package mesh

import "fmt"

// Field names a single telemetry channel on a node.
type Field string

const (
	FieldBatteryLevel       Field = "battery_level"
	FieldVoltage            Field = "voltage"
	FieldVoltageExternal    Field = "ch3_voltage"
	FieldCurrent            Field = "current"
	FieldCurrentExternal    Field = "ch3_current"
	FieldTemperature        Field = "temperature"
	FieldHumidity           Field = "humidity"
	FieldPressure           Field = "pressure"
	FieldSNR                Field = "snr"
	FieldChannelUtilization Field = "channel_utilization"
	FieldAirUtilTX          Field = "air_util_tx"
	FieldUptime             Field = "uptime"
)

// Color is a three-tier health classification.
type Color int

const (
	Green Color = iota
	Yellow
	Red
)

func (c Color) String() string {
	switch c {
	case Green:
		return "GREEN"
	case Yellow:
		return "YELLOW"
	case Red:
		return "RED"
	}
	return fmt.Sprintf("Color(%d)", int(c))
}

// ParseColor converts a wire color string into a Color.
func ParseColor(s string) (Color, error) {
	switch s {
	case "GREEN":
		return Green, nil
	case "YELLOW":
		return Yellow, nil
	case "RED":
		return Red, nil
	}
	return Green, fmt.Errorf("unknown color %q", s)
}

// Worst returns the more severe of the two colors.
func (c Color) Worst(other Color) Color {
	if other > c {
		return other
	}
	return c
}

// MarshalText implements encoding.TextMarshaler so Color serializes as its name.
func (c Color) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Color) UnmarshalText(b []byte) error {
	v, err := ParseColor(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Reading is one telemetry value with the time it was last updated.
type Reading struct {
	Value     float64 `json:"value"`
	UpdatedAt int64   `json:"updated_at"`
}

// RemoteStatus is the last status broadcast received from a node describing
// itself. It is advisory display data only and never feeds local health
// calculation.
type RemoteStatus struct {
	Color         Color    `json:"color"`
	Reasons       []string `json:"reasons"`
	HelpRequested bool     `json:"help_requested"`
	Version       string   `json:"version"`
	ReportedAt    int64    `json:"reported_at"`
	ReceivedAt    int64    `json:"received_at"`
}

// NodeState is the authoritative record for one mesh node. Instances are
// owned exclusively by the node store; everything outside receives copies.
type NodeState struct {
	ID        string `json:"id"`
	ShortName string `json:"short_name,omitempty"`
	LongName  string `json:"long_name,omitempty"`

	// LastHeard is the unix time of the latest live reception. Zero means
	// the node has never been heard. Advanced only by live records, never
	// by reconciliation traffic, and never moves backwards.
	LastHeard int64 `json:"last_heard"`

	Telemetry map[Field]Reading `json:"telemetry,omitempty"`

	LastMotionAt int64 `json:"last_motion_at,omitempty"`

	Remote *RemoteStatus `json:"remote_status,omitempty"`

	HelpRequestedAt int64 `json:"help_requested_at,omitempty"`
	HelpCleared     bool  `json:"help_cleared,omitempty"`
}

// Clone returns a deep copy safe to hand outside the store.
func (n NodeState) Clone() NodeState {
	c := n
	if n.Telemetry != nil {
		c.Telemetry = make(map[Field]Reading, len(n.Telemetry))
		for k, v := range n.Telemetry {
			c.Telemetry[k] = v
		}
	}
	if n.Remote != nil {
		r := *n.Remote
		r.Reasons = append([]string(nil), n.Remote.Reasons...)
		c.Remote = &r
	}
	return c
}

// Reading returns the reading for a field, reporting whether it exists.
func (n NodeState) Reading(f Field) (Reading, bool) {
	r, ok := n.Telemetry[f]
	return r, ok
}

// DerivedStatus is the computed view of a node at a point in time.
// It is recomputed on every evaluation and never persisted.
type DerivedStatus struct {
	Online       bool     `json:"online"`
	StaleFields  []Field  `json:"stale_fields,omitempty"`
	MotionRecent bool     `json:"motion_recent"`
	Health       Color    `json:"health"`
	Reasons      []string `json:"reasons,omitempty"`
}

// Equal reports whether two derived statuses are indistinguishable to a
// subscriber. Used to suppress no-op change notifications.
func (d DerivedStatus) Equal(o DerivedStatus) bool {
	if d.Online != o.Online || d.MotionRecent != o.MotionRecent || d.Health != o.Health {
		return false
	}
	if len(d.StaleFields) != len(o.StaleFields) || len(d.Reasons) != len(o.Reasons) {
		return false
	}
	for i := range d.StaleFields {
		if d.StaleFields[i] != o.StaleFields[i] {
			return false
		}
	}
	for i := range d.Reasons {
		if d.Reasons[i] != o.Reasons[i] {
			return false
		}
	}
	return true
}

// AlertEvent records one rule transition for a node. An event with a zero
// ClearedAt is active.
type AlertEvent struct {
	NodeID    string  `json:"node_id"`
	Rule      string  `json:"rule"`
	Condition string  `json:"condition"`
	Value     float64 `json:"value,omitempty"`
	FiredAt   int64   `json:"fired_at"`
	ClearedAt int64   `json:"cleared_at,omitempty"`
}

// Active reports whether the event's condition is still present.
func (e AlertEvent) Active() bool { return e.ClearedAt == 0 }

// ChangeSet names the nodes whose state changed in one operation, letting
// subscribers redraw only affected elements.
type ChangeSet struct {
	NodeIDs []string `json:"node_ids"`
}

// Empty reports whether no node changed.
func (c ChangeSet) Empty() bool { return len(c.NodeIDs) == 0 }

// Merge combines another change set into this one, deduplicating IDs.
func (c ChangeSet) Merge(o ChangeSet) ChangeSet {
	if o.Empty() {
		return c
	}
	seen := make(map[string]struct{}, len(c.NodeIDs)+len(o.NodeIDs))
	out := make([]string, 0, len(c.NodeIDs)+len(o.NodeIDs))
	for _, id := range c.NodeIDs {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	for _, id := range o.NodeIDs {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return ChangeSet{NodeIDs: out}
}
