package engine

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icpmesh/meshwatch/internal/alert"
	"github.com/icpmesh/meshwatch/internal/broadcast"
	"github.com/icpmesh/meshwatch/internal/mesh"
	"github.com/icpmesh/meshwatch/internal/mesh/status"
	"github.com/icpmesh/meshwatch/internal/persist"
	"github.com/icpmesh/meshwatch/internal/transport"
)

type fakeTransport struct {
	mu      sync.Mutex
	handler transport.Handler
	sent    []string
	started bool
}

func (t *fakeTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = true
	return nil
}

func (t *fakeTransport) Stop(ctx context.Context) {}

func (t *fakeTransport) OnPacket(h transport.Handler) { t.handler = h }

func (t *fakeTransport) Send(ctx context.Context, destination, text string, wantAck bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, text)
	return nil
}

func (t *fakeTransport) ConnectionState() bool { return true }

func testConfig(t *testing.T) Config {
	dir := t.TempDir()
	return Config{
		LocalID:            "!00000001",
		Thresholds:         status.DefaultThresholds(),
		TelemetryInterval:  time.Minute,
		RefreshInterval:    time.Hour, // ticks driven manually in tests
		AlertCheckInterval: time.Hour,
		SnapshotPath:       filepath.Join(dir, "nodes.json"),
		SnapshotInterval:   time.Hour,
		LogDir:             filepath.Join(dir, "logs"),
		Broadcast:          broadcast.DefaultConfig(),
		Alerts:             alert.DefaultConfig(),
	}
}

func telemetryEvent(from uint32, ts int64, body string) transport.PacketEvent {
	return transport.PacketEvent{
		From:      from,
		Type:      transport.TypeTelemetry,
		Payload:   json.RawMessage(body),
		Timestamp: ts,
	}
}

func alertEngineWithoutGrace(cfg alert.Config) *alert.Engine {
	cfg.StartupGrace = 0
	return alert.New(cfg)
}

func TestNewRejectsBadThresholds(t *testing.T) {
	cfg := testConfig(t)
	cfg.Thresholds.OfflineAfter = 10 * time.Second
	cfg.TelemetryInterval = time.Minute

	_, err := New(cfg, &fakeTransport{})
	assert.Error(t, err)
}

func TestProcessAppliesAndPublishes(t *testing.T) {
	f, err := New(testConfig(t), &fakeTransport{})
	require.NoError(t, err)

	var changes []mesh.ChangeSet
	f.SubscribeChanges(func(cs mesh.ChangeSet) { changes = append(changes, cs) })

	now := time.Now().Unix()
	f.process(context.Background(), telemetryEvent(0x2, now, `{"battery_level":80,"voltage":4.0}`))

	require.Len(t, changes, 1)
	assert.Equal(t, []string{"!00000002"}, changes[0].NodeIDs)

	n, ok := f.store.Get("!00000002")
	require.True(t, ok)
	assert.Equal(t, now, n.LastHeard)
}

func TestProcessDropsMalformedWithoutCrash(t *testing.T) {
	f, err := New(testConfig(t), &fakeTransport{})
	require.NoError(t, err)

	var changes []mesh.ChangeSet
	f.SubscribeChanges(func(cs mesh.ChangeSet) { changes = append(changes, cs) })

	f.process(context.Background(), telemetryEvent(0x2, time.Now().Unix(), `{`))
	assert.Empty(t, changes)
	assert.Equal(t, 0, f.store.Len())
}

func TestSyntheticReconciliationKeepsLastHeard(t *testing.T) {
	cfg := testConfig(t)

	// Seed a snapshot on disk the way a previous run would have.
	snap := persist.NewSnapshotStore(cfg.SnapshotPath)
	require.NoError(t, snap.Save([]mesh.NodeState{{ID: "!00000002", LastHeard: 4242}}, 5000))

	f, err := New(cfg, &fakeTransport{})
	require.NoError(t, err)

	nodes, err := f.snapshot.Load()
	require.NoError(t, err)
	f.store.Restore(nodes)

	ev := telemetryEvent(0x2, 0, `{"battery_level":70}`)
	ev.Synthetic = true
	f.process(context.Background(), ev)

	n, ok := f.store.Get("!00000002")
	require.True(t, ok)
	assert.Equal(t, int64(4242), n.LastHeard, "reconciliation must not advance LastHeard")
	assert.Equal(t, 70.0, n.Telemetry[mesh.FieldBatteryLevel].Value)
}

func TestSchedulerEmitsOnlyRealTransitions(t *testing.T) {
	f, err := New(testConfig(t), &fakeTransport{})
	require.NoError(t, err)

	heard := time.Now().Unix()
	f.process(context.Background(), telemetryEvent(0x2, heard, `{"battery_level":80}`))

	// First tick after the event path already cached the status: no change.
	cs := f.scheduler.Tick(time.Now())
	assert.True(t, cs.Empty())

	// Enough elapsed time flips the node offline; exactly one transition.
	later := time.Unix(heard, 0).Add(f.cfg.Thresholds.OfflineAfter + time.Second)
	cs = f.scheduler.Tick(later)
	assert.Equal(t, []string{"!00000002"}, cs.NodeIDs)

	// Nothing changed since: quiet again.
	cs = f.scheduler.Tick(later.Add(time.Second))
	assert.True(t, cs.Empty())
}

func TestForgetNodeClearsAllState(t *testing.T) {
	f, err := New(testConfig(t), &fakeTransport{})
	require.NoError(t, err)

	now := time.Now().Unix()
	f.process(context.Background(), telemetryEvent(0x2, now, `{"battery_level":5}`))

	// Let the low battery alert fire.
	f.alerts = alertEngineWithoutGrace(f.cfg.Alerts)
	f.checkAlerts(time.Now())
	require.NotEmpty(t, f.ActiveAlerts())

	require.True(t, f.ForgetNode("!00000002"))

	_, ok := f.store.Get("!00000002")
	assert.False(t, ok)
	assert.Empty(t, f.ActiveAlerts())
	_, ok = f.scheduler.Status("!00000002")
	assert.False(t, ok)

	assert.False(t, f.ForgetNode("!00000002"))
}

func TestForgetDuringAlertEvaluation(t *testing.T) {
	f, err := New(testConfig(t), &fakeTransport{})
	require.NoError(t, err)
	f.alerts = alertEngineWithoutGrace(f.cfg.Alerts)

	f.process(context.Background(), telemetryEvent(0x2, time.Now().Unix(), `{"battery_level":5}`))

	// Capture the snapshot an alert pass would be walking, then complete
	// the forget before the entry is evaluated. The stale entry must not
	// resurrect the cleared machines.
	stale := f.store.Snapshot()
	require.Len(t, stale, 1)
	require.True(t, f.ForgetNode("!00000002"))

	assert.Empty(t, f.evaluateNode(stale[0], time.Now()))
	assert.Empty(t, f.ActiveAlerts())
}

func TestForgetDuringSchedulerTick(t *testing.T) {
	f, err := New(testConfig(t), &fakeTransport{})
	require.NoError(t, err)

	f.process(context.Background(), telemetryEvent(0x2, time.Now().Unix(), `{"battery_level":80}`))

	stale := f.store.Snapshot()
	require.Len(t, stale, 1)
	require.True(t, f.ForgetNode("!00000002"))

	// A tick walking the pre-forget snapshot must not repopulate the cache.
	cs := f.scheduler.tick(stale, time.Now())
	assert.True(t, cs.Empty())
	_, ok := f.scheduler.Status("!00000002")
	assert.False(t, ok)
}

func TestCommandsReachTransport(t *testing.T) {
	tr := &fakeTransport{}
	f, err := New(testConfig(t), tr)
	require.NoError(t, err)

	require.NoError(t, f.RequestSend(context.Background(), "!00000002", "hello", true))
	tr.mu.Lock()
	defer tr.mu.Unlock()
	require.Len(t, tr.sent, 1)
	assert.Equal(t, "hello", tr.sent[0])
}

func TestHelpCommandsUpdateLocalNode(t *testing.T) {
	f, err := New(testConfig(t), &fakeTransport{})
	require.NoError(t, err)

	f.RequestHelp()
	assert.True(t, f.HelpRequested())
	n, ok := f.store.Get("!00000001")
	require.True(t, ok)
	assert.NotZero(t, n.HelpRequestedAt)

	f.ClearHelp()
	assert.False(t, f.HelpRequested())
	n, _ = f.store.Get("!00000001")
	assert.Zero(t, n.HelpRequestedAt)
	assert.True(t, n.HelpCleared)
}
