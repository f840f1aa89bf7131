package broadcast

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icpmesh/meshwatch/internal/mesh"
	"github.com/icpmesh/meshwatch/internal/mesh/store"
)

type captureSend struct {
	mu    sync.Mutex
	sent  []string
	sends chan string
}

func newCaptureSend() *captureSend {
	return &captureSend{sends: make(chan string, 16)}
}

func (c *captureSend) send(ctx context.Context, text string) error {
	c.mu.Lock()
	c.sent = append(c.sent, text)
	c.mu.Unlock()
	c.sends <- text
	return nil
}

func (c *captureSend) await(t *testing.T) string {
	t.Helper()
	select {
	case s := <-c.sends:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a broadcast")
		return ""
	}
}

func testConfig() Config {
	return Config{
		Interval:       50 * time.Millisecond,
		StabilizeDelay: 5 * time.Millisecond,
		HelpAutoClear:  time.Hour,
		Version:        "1.3.0",
	}
}

func TestHeartbeatAndImmediateSend(t *testing.T) {
	cs := newCaptureSend()
	b := New(testConfig(), cs.send)
	b.UpdateStatus(mesh.DerivedStatus{Health: mesh.Green})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { defer close(done); _ = b.Run(ctx) }()

	// Color change before the stabilization send still produces one; the
	// next sends are either heartbeat or change triggered.
	first, err := Decode(cs.await(t))
	require.NoError(t, err)
	assert.Equal(t, mesh.Green, first.Color)

	b.UpdateStatus(mesh.DerivedStatus{Health: mesh.Red, Reasons: []string{"Battery"}})

	// A heartbeat may interleave; wait for the change-triggered send.
	var got Message
	for {
		got, err = Decode(cs.await(t))
		require.NoError(t, err)
		if got.Color == mesh.Red {
			break
		}
	}
	assert.Equal(t, []string{"Battery"}, got.Reasons)

	cancel()
	<-done
}

func TestUnchangedStatusDoesNotTriggerImmediateSend(t *testing.T) {
	cs := newCaptureSend()
	b := New(testConfig(), cs.send)

	b.UpdateStatus(mesh.DerivedStatus{Health: mesh.Yellow})
	b.UpdateStatus(mesh.DerivedStatus{Health: mesh.Yellow})
	b.UpdateStatus(mesh.DerivedStatus{Health: mesh.Yellow})

	// Only the first update queues a kick.
	assert.Len(t, b.kick, 1)
}

func TestHelpFlagLifecycle(t *testing.T) {
	cs := newCaptureSend()
	b := New(testConfig(), cs.send)

	var flips []bool
	b.OnHelpChange(func(requested bool) { flips = append(flips, requested) })

	b.RequestHelp()
	assert.True(t, b.HelpRequested())
	// Repeated requests are idempotent.
	b.RequestHelp()
	assert.Equal(t, []bool{true}, flips)

	msg := b.message()
	assert.True(t, msg.HelpRequested)

	b.ClearHelp()
	assert.False(t, b.HelpRequested())
	assert.Equal(t, []bool{true, false}, flips)
}

func TestHelpAutoClear(t *testing.T) {
	cs := newCaptureSend()
	cfg := testConfig()
	b := New(cfg, cs.send)

	base := time.Unix(1_000_000, 0)
	b.now = func() time.Time { return base }
	b.RequestHelp()

	// Not yet expired.
	b.now = func() time.Time { return base.Add(cfg.HelpAutoClear - time.Second) }
	assert.False(t, b.autoClearHelpIfExpired())
	assert.True(t, b.HelpRequested())

	// Expired.
	b.now = func() time.Time { return base.Add(cfg.HelpAutoClear + time.Second) }
	assert.True(t, b.autoClearHelpIfExpired())
	assert.False(t, b.HelpRequested())
}

func TestReceiverIgnoresLocalNode(t *testing.T) {
	s := store.New()
	r := NewReceiver(s, "!00000001")

	local := mesh.NewStatusBroadcast("!00000001", mesh.OriginLive, 100)
	local.HelpRequested = false
	cs := r.Apply(local)
	assert.True(t, cs.Empty())
	_, ok := s.Get("!00000001")
	assert.False(t, ok, "local echo must not create store state")

	remote := mesh.NewStatusBroadcast("!00000002", mesh.OriginLive, 100)
	remote.Color = mesh.Yellow
	remote.HelpRequested = true
	cs = r.Apply(remote)
	assert.False(t, cs.Empty())

	n, ok := s.Get("!00000002")
	require.True(t, ok)
	require.NotNil(t, n.Remote)
	assert.True(t, n.Remote.HelpRequested)
}
