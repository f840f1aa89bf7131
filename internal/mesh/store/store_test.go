package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icpmesh/meshwatch/internal/mesh"
)

func sample(id string, origin mesh.Origin, rx int64, readings map[mesh.Field]float64) *mesh.TelemetrySample {
	r := mesh.NewTelemetrySample(id, origin, rx)
	for f, v := range readings {
		r.Readings[f] = v
	}
	return r
}

func TestApplyAdvancesLastHeardOnLiveOnly(t *testing.T) {
	s := New()

	s.Apply(sample("!0000abcd", mesh.OriginLive, 1000, map[mesh.Field]float64{mesh.FieldBatteryLevel: 80}))
	n, ok := s.Get("!0000abcd")
	require.True(t, ok)
	assert.Equal(t, int64(1000), n.LastHeard)

	// Reconciliation traffic must not move LastHeard.
	s.Apply(sample("!0000abcd", mesh.OriginReconciliation, 0, map[mesh.Field]float64{mesh.FieldBatteryLevel: 81}))
	n, _ = s.Get("!0000abcd")
	assert.Equal(t, int64(1000), n.LastHeard)

	// Nor does a live record with an older receive time.
	s.Apply(sample("!0000abcd", mesh.OriginLive, 500, map[mesh.Field]float64{mesh.FieldVoltage: 3.9}))
	n, _ = s.Get("!0000abcd")
	assert.Equal(t, int64(1000), n.LastHeard)

	s.Apply(sample("!0000abcd", mesh.OriginLive, 2000, nil))
	n, _ = s.Get("!0000abcd")
	assert.Equal(t, int64(2000), n.LastHeard)
}

func TestRestoreThenReconciliationKeepsLastHeard(t *testing.T) {
	s := New()
	s.Restore([]mesh.NodeState{{ID: "!0000abcd", LastHeard: 4242}})

	s.Apply(mesh.NewNodeInfoUpdate("!0000abcd", mesh.OriginReconciliation, 0, "AB", "Alpha Bravo"))
	s.Apply(sample("!0000abcd", mesh.OriginReconciliation, 0, map[mesh.Field]float64{mesh.FieldTemperature: 21}))

	n, ok := s.Get("!0000abcd")
	require.True(t, ok)
	assert.Equal(t, int64(4242), n.LastHeard)
	assert.Equal(t, "Alpha Bravo", n.LongName)
}

func TestTelemetryMergeIsPerField(t *testing.T) {
	s := New()
	s.Apply(sample("!00000001", mesh.OriginLive, 100, map[mesh.Field]float64{
		mesh.FieldBatteryLevel: 90,
		mesh.FieldTemperature:  20,
	}))
	s.Apply(sample("!00000001", mesh.OriginLive, 200, map[mesh.Field]float64{
		mesh.FieldBatteryLevel: 85,
	}))

	n, _ := s.Get("!00000001")
	bat, ok := n.Reading(mesh.FieldBatteryLevel)
	require.True(t, ok)
	assert.Equal(t, 85.0, bat.Value)
	assert.Equal(t, int64(200), bat.UpdatedAt)

	// Untouched field keeps its own timestamp.
	temp, ok := n.Reading(mesh.FieldTemperature)
	require.True(t, ok)
	assert.Equal(t, 20.0, temp.Value)
	assert.Equal(t, int64(100), temp.UpdatedAt)
}

func TestTelemetryRejectsPerFieldRegression(t *testing.T) {
	s := New()
	s.Apply(sample("!00000001", mesh.OriginLive, 300, map[mesh.Field]float64{mesh.FieldVoltage: 4.1}))

	// Older sample arrives late; its value must not win.
	cs := s.Apply(sample("!00000001", mesh.OriginLive, 100, map[mesh.Field]float64{mesh.FieldVoltage: 3.2}))
	assert.True(t, cs.Empty())

	n, _ := s.Get("!00000001")
	v, _ := n.Reading(mesh.FieldVoltage)
	assert.Equal(t, 4.1, v.Value)
	assert.Equal(t, int64(300), v.UpdatedAt)
}

func TestNodeInfoNeverTouchesLastHeard(t *testing.T) {
	s := New()
	s.Apply(sample("!00000002", mesh.OriginLive, 100, map[mesh.Field]float64{mesh.FieldSNR: 7}))

	cs := s.Apply(mesh.NewNodeInfoUpdate("!00000002", mesh.OriginLive, 999, "CD", "Charlie Delta"))
	assert.False(t, cs.Empty())

	n, _ := s.Get("!00000002")
	assert.Equal(t, int64(100), n.LastHeard)
	assert.Equal(t, "CD", n.ShortName)
}

func TestChangeSetOnlyOnRealChange(t *testing.T) {
	s := New()
	cs := s.Apply(mesh.NewNodeInfoUpdate("!00000003", mesh.OriginLive, 0, "EF", "Echo Foxtrot"))
	assert.Equal(t, []string{"!00000003"}, cs.NodeIDs)

	// Same names again: no change.
	cs = s.Apply(mesh.NewNodeInfoUpdate("!00000003", mesh.OriginLive, 0, "EF", "Echo Foxtrot"))
	assert.True(t, cs.Empty())
}

func TestForgetRemovesEverything(t *testing.T) {
	s := New()
	s.Apply(sample("!00000004", mesh.OriginLive, 100, map[mesh.Field]float64{mesh.FieldBatteryLevel: 50}))
	s.Apply(mesh.NewMotionEvent("!00000004", mesh.OriginLive, 120, true))

	sb := mesh.NewStatusBroadcast("!00000004", mesh.OriginLive, 130)
	sb.Color = mesh.Yellow
	s.Apply(sb)

	res, ok := s.Forget("!00000004")
	require.True(t, ok)
	assert.True(t, res.HadMotion)
	assert.True(t, res.HadRemote)

	_, ok = s.Get("!00000004")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())

	_, ok = s.Forget("!00000004")
	assert.False(t, ok)
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	s := New()
	s.Apply(sample("!00000005", mesh.OriginLive, 100, map[mesh.Field]float64{mesh.FieldHumidity: 40}))

	snap := s.Snapshot()
	require.Len(t, snap, 1)
	snap[0].Telemetry[mesh.FieldHumidity] = mesh.Reading{Value: 99, UpdatedAt: 999}

	n, _ := s.Get("!00000005")
	h, _ := n.Reading(mesh.FieldHumidity)
	assert.Equal(t, 40.0, h.Value)
}

func TestHelpFlagLifecycle(t *testing.T) {
	s := New()
	s.Apply(sample("!00000006", mesh.OriginLive, 100, nil))

	s.SetHelp("!00000006", 500)
	n, _ := s.Get("!00000006")
	assert.Equal(t, int64(500), n.HelpRequestedAt)
	assert.False(t, n.HelpCleared)

	s.ClearHelp("!00000006")
	n, _ = s.Get("!00000006")
	assert.Zero(t, n.HelpRequestedAt)
	assert.True(t, n.HelpCleared)
}

func TestStatusBroadcastSetsRemoteOnly(t *testing.T) {
	s := New()
	sb := mesh.NewStatusBroadcast("!00000007", mesh.OriginLive, 300)
	sb.Color = mesh.Red
	sb.Reasons = []string{"Battery"}
	sb.HelpRequested = true
	sb.Version = "1.3.0"
	sb.ReportedAt = 290
	s.Apply(sb)

	n, ok := s.Get("!00000007")
	require.True(t, ok)
	require.NotNil(t, n.Remote)
	assert.Equal(t, mesh.Red, n.Remote.Color)
	assert.Equal(t, []string{"Battery"}, n.Remote.Reasons)
	assert.True(t, n.Remote.HelpRequested)
	assert.Equal(t, int64(300), n.Remote.ReceivedAt)

	// The local help flag is untouched by remote status.
	assert.Zero(t, n.HelpRequestedAt)
}
