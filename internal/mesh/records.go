package mesh

// Origin distinguishes live radio receptions from locally generated
// reconciliation re-announcements. Reconciliation records must never
// advance LastHeard.
type Origin int

const (
	OriginLive Origin = iota
	OriginReconciliation
)

func (o Origin) String() string {
	if o == OriginReconciliation {
		return "reconciliation"
	}
	return "live"
}

// Record is a normalized packet, decided once at the normalization boundary.
// Exactly one of the concrete variants below implements it.
type Record interface {
	// Node returns the stable identifier of the node the record is about.
	Node() string
	// RecordOrigin reports whether the record is live or reconciliation.
	RecordOrigin() Origin
	// ReceivedAt is the unix time the packet was received. Zero for
	// reconciliation records.
	ReceivedAt() int64
}

type recordBase struct {
	NodeID string
	Origin Origin
	RxTime int64
}

func (r recordBase) Node() string         { return r.NodeID }
func (r recordBase) RecordOrigin() Origin { return r.Origin }
func (r recordBase) ReceivedAt() int64    { return r.RxTime }

// TelemetrySample carries the telemetry fields present in one packet.
// Absent fields are left untouched in the store.
type TelemetrySample struct {
	recordBase
	Readings map[Field]float64
	// SampleTime is the sensor-reported measurement time, if any.
	SampleTime int64
	// Hops is the hop count the packet traveled, for the history log.
	Hops int
}

// NodeInfoUpdate carries name changes. Applying one never touches LastHeard,
// regardless of origin: node info is routinely re-announced for nodes that
// have not actually been heard.
type NodeInfoUpdate struct {
	recordBase
	ShortName string
	LongName  string
}

// MotionEvent marks a detection-sensor trigger.
type MotionEvent struct {
	recordBase
	Detected bool
}

// TextMessage is an ordinary text payload. Status broadcasts are diverted
// before this variant is produced.
type TextMessage struct {
	recordBase
	Text    string
	Channel int
}

// StatusBroadcast is a decoded inter-node status message attributed to the
// sending node.
type StatusBroadcast struct {
	recordBase
	Color         Color
	Reasons       []string
	HelpRequested bool
	Version       string
	ReportedAt    int64
}

// NewTelemetrySample builds a live or reconciliation telemetry record.
func NewTelemetrySample(nodeID string, origin Origin, rxTime int64) *TelemetrySample {
	return &TelemetrySample{
		recordBase: recordBase{NodeID: nodeID, Origin: origin, RxTime: rxTime},
		Readings:   map[Field]float64{},
	}
}

// NewNodeInfoUpdate builds an info record.
func NewNodeInfoUpdate(nodeID string, origin Origin, rxTime int64, short, long string) *NodeInfoUpdate {
	return &NodeInfoUpdate{
		recordBase: recordBase{NodeID: nodeID, Origin: origin, RxTime: rxTime},
		ShortName:  short,
		LongName:   long,
	}
}

// NewMotionEvent builds a motion record.
func NewMotionEvent(nodeID string, origin Origin, rxTime int64, detected bool) *MotionEvent {
	return &MotionEvent{
		recordBase: recordBase{NodeID: nodeID, Origin: origin, RxTime: rxTime},
		Detected:   detected,
	}
}

// NewTextMessage builds a text record.
func NewTextMessage(nodeID string, origin Origin, rxTime int64, text string, channel int) *TextMessage {
	return &TextMessage{
		recordBase: recordBase{NodeID: nodeID, Origin: origin, RxTime: rxTime},
		Text:       text,
		Channel:    channel,
	}
}

// NewStatusBroadcast builds a remote status record.
func NewStatusBroadcast(nodeID string, origin Origin, rxTime int64) *StatusBroadcast {
	return &StatusBroadcast{
		recordBase: recordBase{NodeID: nodeID, Origin: origin, RxTime: rxTime},
	}
}
