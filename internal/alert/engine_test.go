package alert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icpmesh/meshwatch/internal/mesh"
)

func testEngine(rules map[string]RuleConfig) *Engine {
	e := New(Config{Rules: rules, StartupGrace: 10 * time.Minute})
	// Move boot time back so the grace window is over.
	e.startedAt = time.Now().Add(-time.Hour)
	return e
}

func batteryNode(id string, level float64) mesh.NodeState {
	return mesh.NodeState{
		ID:        id,
		LastHeard: time.Now().Unix(),
		Telemetry: map[mesh.Field]mesh.Reading{
			mesh.FieldBatteryLevel: {Value: level, UpdatedAt: time.Now().Unix()},
		},
	}
}

func TestEdgeTriggeredFiring(t *testing.T) {
	e := testEngine(map[string]RuleConfig{
		RuleLowBattery: {Enabled: true, Threshold: 20},
	})
	now := time.Now()

	// Crossing fires once.
	events := e.Evaluate(batteryNode("!00000001", 15), mesh.DerivedStatus{}, now)
	require.Len(t, events, 1)
	assert.Equal(t, RuleLowBattery, events[0].Rule)
	assert.True(t, events[0].Active())

	// Still below: no re-fire while firing.
	events = e.Evaluate(batteryNode("!00000001", 12), mesh.DerivedStatus{}, now.Add(time.Minute))
	assert.Empty(t, events)

	// Recovery clears.
	events = e.Evaluate(batteryNode("!00000001", 60), mesh.DerivedStatus{}, now.Add(2*time.Minute))
	require.Len(t, events, 1)
	assert.False(t, events[0].Active())
	assert.NotZero(t, events[0].ClearedAt)

	// Crossing again fires again.
	events = e.Evaluate(batteryNode("!00000001", 10), mesh.DerivedStatus{}, now.Add(3*time.Minute))
	require.Len(t, events, 1)
	assert.True(t, events[0].Active())
}

func TestMissingFieldSkipsRule(t *testing.T) {
	e := testEngine(map[string]RuleConfig{
		RuleLowBattery: {Enabled: true, Threshold: 20},
		RuleLowVoltage: {Enabled: true, Threshold: 3.2},
	})

	n := mesh.NodeState{ID: "!00000002", LastHeard: time.Now().Unix()}
	events := e.Evaluate(n, mesh.DerivedStatus{}, time.Now())
	assert.Empty(t, events)
	assert.Empty(t, e.ActiveAlerts())
}

func TestOfflineRule(t *testing.T) {
	e := testEngine(map[string]RuleConfig{
		RuleNodeOffline: {Enabled: true, Threshold: 600},
	})
	now := time.Now()

	// Never-heard nodes are skipped, not alerted.
	events := e.Evaluate(mesh.NodeState{ID: "!00000003"}, mesh.DerivedStatus{}, now)
	assert.Empty(t, events)

	n := mesh.NodeState{ID: "!00000003", LastHeard: now.Unix() - 700}
	events = e.Evaluate(n, mesh.DerivedStatus{}, now)
	require.Len(t, events, 1)
	assert.Equal(t, RuleNodeOffline, events[0].Rule)
}

func TestStartupGraceSuppressesFiring(t *testing.T) {
	e := New(Config{
		Rules:        map[string]RuleConfig{RuleLowBattery: {Enabled: true, Threshold: 20}},
		StartupGrace: 10 * time.Minute,
	})

	events := e.Evaluate(batteryNode("!00000004", 5), mesh.DerivedStatus{}, time.Now())
	assert.Empty(t, events, "no alert may fire inside the startup grace window")
}

func TestPerNodeOverrides(t *testing.T) {
	e := testEngine(map[string]RuleConfig{
		RuleLowBattery: {Enabled: true, Threshold: 20},
	})
	e.SetOverrides(Overrides{"!00000005": {RuleLowBattery: false}})

	events := e.Evaluate(batteryNode("!00000005", 5), mesh.DerivedStatus{}, time.Now())
	assert.Empty(t, events)

	// Other nodes keep the global enablement.
	events = e.Evaluate(batteryNode("!00000006", 5), mesh.DerivedStatus{}, time.Now())
	assert.Len(t, events, 1)
}

func TestClearNodeDropsMachinesAndAlerts(t *testing.T) {
	e := testEngine(map[string]RuleConfig{
		RuleLowBattery: {Enabled: true, Threshold: 20},
	})
	now := time.Now()

	e.Evaluate(batteryNode("!00000007", 5), mesh.DerivedStatus{}, now)
	require.Len(t, e.ActiveAlerts(), 1)

	e.ClearNode("!00000007")
	assert.Empty(t, e.ActiveAlerts())

	// A fresh crossing after forget fires again from a clean machine.
	events := e.Evaluate(batteryNode("!00000007", 5), mesh.DerivedStatus{}, now.Add(time.Minute))
	assert.Len(t, events, 1)
}

func TestNotifierCooldown(t *testing.T) {
	cfg := Config{Rules: map[string]RuleConfig{
		RuleLowBattery: {Enabled: true, Threshold: 20, Cooldown: time.Hour},
	}}
	n := NewNotifier(cfg)

	base := time.Unix(1_000_000, 0)
	n.now = func() time.Time { return base }

	ev := mesh.AlertEvent{NodeID: "!00000008", Rule: RuleLowBattery, FiredAt: base.Unix()}
	assert.True(t, n.ShouldNotify(ev))

	// Re-fire inside the cooldown is suppressed.
	n.now = func() time.Time { return base.Add(30 * time.Minute) }
	assert.False(t, n.ShouldNotify(ev))

	// After the cooldown it notifies again.
	n.now = func() time.Time { return base.Add(2 * time.Hour) }
	assert.True(t, n.ShouldNotify(ev))

	// Cleared events never notify.
	cleared := ev
	cleared.ClearedAt = base.Unix()
	assert.False(t, n.ShouldNotify(cleared))
}
