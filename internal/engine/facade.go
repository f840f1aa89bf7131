package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/icpmesh/meshwatch/internal/alert"
	"github.com/icpmesh/meshwatch/internal/broadcast"
	"github.com/icpmesh/meshwatch/internal/ingest"
	"github.com/icpmesh/meshwatch/internal/mesh"
	"github.com/icpmesh/meshwatch/internal/mesh/status"
	"github.com/icpmesh/meshwatch/internal/mesh/store"
	"github.com/icpmesh/meshwatch/internal/metrics"
	"github.com/icpmesh/meshwatch/internal/persist"
	"github.com/icpmesh/meshwatch/internal/transport"
	"github.com/icpmesh/meshwatch/pkg/log"
	"github.com/icpmesh/meshwatch/pkg/options"
)

// Config assembles the engine.
type Config struct {
	// LocalID is this node's `!xxxxxxxx` identifier.
	LocalID string
	// Thresholds drive the status calculator.
	Thresholds status.Thresholds
	// TelemetryInterval is the nodes' own send interval, validated against
	// the offline threshold at startup.
	TelemetryInterval time.Duration

	RefreshInterval    time.Duration
	AlertCheckInterval time.Duration

	SnapshotPath     string
	SnapshotInterval time.Duration
	LogDir           string
	RetainDays       int
	RetentionSweep   time.Duration

	Broadcast broadcast.Config
	Alerts    alert.Config

	// Backup, when enabled, uploads snapshots off-site.
	Backup *options.S3Options
}

// NodeView pairs stored state with its freshly derived status.
type NodeView struct {
	State   mesh.NodeState     `json:"state"`
	Derived mesh.DerivedStatus `json:"derived"`
}

// Facade owns every engine component and is the only surface other layers
// talk to.
type Facade struct {
	cfg Config

	store       *store.Store
	scheduler   *Scheduler
	alerts      *alert.Engine
	notifier    *alert.Notifier
	broadcaster *broadcast.Broadcaster
	receiver    *broadcast.Receiver
	snapshot    *persist.SnapshotStore
	writer      *persist.Writer
	history     *persist.CSVLog
	tr          transport.Transport

	events chan transport.PacketEvent
	rows   chan persist.Row

	// forgetMu serializes node removal against rule evaluation over store
	// snapshots, so a stale snapshot entry cannot recreate cleared state.
	forgetMu sync.Mutex

	subMu      sync.RWMutex
	changeSubs []func(mesh.ChangeSet)
	alertSubs  []func(mesh.AlertEvent)
}

// New validates the configuration and wires the components. Threshold
// violations fail here, before anything runs.
func New(cfg Config, tr transport.Transport) (*Facade, error) {
	if err := cfg.Thresholds.Validate(cfg.TelemetryInterval); err != nil {
		return nil, fmt.Errorf("invalid thresholds: %w", err)
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 30 * time.Second
	}
	if cfg.AlertCheckInterval <= 0 {
		cfg.AlertCheckInterval = time.Minute
	}

	f := &Facade{
		cfg:      cfg,
		store:    store.New(),
		alerts:   alert.New(cfg.Alerts),
		notifier: alert.NewNotifier(cfg.Alerts),
		snapshot: persist.NewSnapshotStore(cfg.SnapshotPath),
		history:  persist.NewCSVLog(cfg.LogDir),
		tr:       tr,
		events:   make(chan transport.PacketEvent, 256),
		rows:     make(chan persist.Row, 256),
	}

	f.scheduler = NewScheduler(f.store, cfg.Thresholds, cfg.RefreshInterval)
	f.scheduler.OnChange(f.publishChanges)

	f.writer = persist.NewWriter(f.snapshot, f.store.Snapshot, cfg.SnapshotInterval)

	f.broadcaster = broadcast.New(cfg.Broadcast, func(ctx context.Context, text string) error {
		return tr.Send(ctx, "", text, false)
	})
	f.broadcaster.OnHelpChange(f.onHelpChange)

	f.receiver = broadcast.NewReceiver(f.store, cfg.LocalID)

	return f, nil
}

// SubscribeChanges registers a change-set callback. Must be called before Run.
func (f *Facade) SubscribeChanges(fn func(mesh.ChangeSet)) {
	f.subMu.Lock()
	defer f.subMu.Unlock()
	f.changeSubs = append(f.changeSubs, fn)
}

// SubscribeAlerts registers an alert callback. Must be called before Run.
func (f *Facade) SubscribeAlerts(fn func(mesh.AlertEvent)) {
	f.subMu.Lock()
	defer f.subMu.Unlock()
	f.alertSubs = append(f.alertSubs, fn)
}

// Run executes the engine until ctx is canceled. Startup order matters:
// the snapshot is loaded before the transport connects, so historical
// LastHeard values exist before any reconciliation or live packet arrives.
func (f *Facade) Run(ctx context.Context) error {
	nodes, err := f.snapshot.Load()
	if err != nil {
		// A bad snapshot never blocks startup; the mesh will repopulate.
		log.Warn("Snapshot load failed, starting empty", "err", err.Error())
	} else if len(nodes) > 0 {
		f.store.Restore(nodes)
		log.Info("Snapshot restored", "nodes", len(nodes))
	}

	// Warm the status cache so the first tick publishes transitions, not
	// the entire store.
	f.scheduler.Tick(time.Now())

	f.tr.OnPacket(func(ev transport.PacketEvent) {
		select {
		case f.events <- ev:
		default:
			log.Warn("Ingestion queue full, dropping packet", "from", ev.From)
		}
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return f.ingestLoop(gctx) })
	g.Go(func() error { return f.historyLoop(gctx) })
	g.Go(func() error { return f.alertLoop(gctx) })
	g.Go(func() error { return f.scheduler.Run(gctx) })
	g.Go(func() error { return f.writer.Run(gctx) })
	g.Go(func() error { return f.broadcaster.Run(gctx) })
	g.Go(func() error {
		return persist.RunRetention(gctx, f.cfg.LogDir, f.cfg.RetainDays, f.cfg.RetentionSweep)
	})

	if f.cfg.Alerts.OverridesPath != "" {
		g.Go(func() error {
			return alert.WatchOverrides(gctx, f.cfg.Alerts.OverridesPath, f.alerts)
		})
	}

	if f.cfg.Backup != nil && f.cfg.Backup.Enabled {
		uploader, err := persist.NewBackupUploader(f.cfg.Backup, f.snapshot)
		if err != nil {
			log.Warn("Snapshot backup disabled", "err", err.Error())
		} else {
			g.Go(func() error { return uploader.Run(gctx) })
		}
	}

	if err := f.tr.Start(gctx); err != nil {
		return fmt.Errorf("failed to start transport: %w", err)
	}
	defer f.tr.Stop(context.Background())

	return g.Wait()
}

func (f *Facade) ingestLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-f.events:
			f.process(ctx, ev)
		}
	}
}

// process applies one packet event. Runs on the single ingestion goroutine,
// so per-node packet order is preserved.
func (f *Facade) process(ctx context.Context, ev transport.PacketEvent) {
	rec, err := ingest.Normalize(ev)
	if err != nil {
		log.Warn("Dropping malformed packet", "from", ev.From, "type", ev.Type, "err", err.Error())
		metrics.NormalizeFailures.Inc()
		return
	}

	var cs mesh.ChangeSet
	switch r := rec.(type) {
	case *mesh.StatusBroadcast:
		metrics.RecordsApplied.WithLabelValues("status").Inc()
		cs = f.receiver.Apply(r)
	case *mesh.TelemetrySample:
		metrics.RecordsApplied.WithLabelValues("telemetry").Inc()
		cs = f.store.Apply(r)
		f.queueHistory(r.Node(), "telemetry", r, false)
	case *mesh.MotionEvent:
		metrics.RecordsApplied.WithLabelValues("motion").Inc()
		cs = f.store.Apply(r)
		f.queueHistory(r.Node(), "detection", r, r.Detected)
	case *mesh.NodeInfoUpdate:
		metrics.RecordsApplied.WithLabelValues("nodeinfo").Inc()
		cs = f.store.Apply(r)
	case *mesh.TextMessage:
		metrics.RecordsApplied.WithLabelValues("text").Inc()
		cs = f.store.Apply(r)
	}

	if cs.Empty() {
		return
	}

	f.writer.MarkDirty()

	now := time.Now()
	f.scheduler.Refresh(cs.NodeIDs, now)
	f.publishChanges(cs)

	// Our own telemetry feeds the outgoing status broadcast.
	for _, id := range cs.NodeIDs {
		if id == f.cfg.LocalID {
			if n, ok := f.store.Get(id); ok {
				f.broadcaster.UpdateStatus(status.Derive(n, now, f.cfg.Thresholds))
			}
		}
	}
}

// queueHistory hands a history row to the writer goroutine; the ingestion
// path never touches the disk.
func (f *Facade) queueHistory(nodeID, msgType string, rec mesh.Record, motion bool) {
	if rec.RecordOrigin() != mesh.OriginLive {
		// Reconciliation re-announcements are not history.
		return
	}
	n, ok := f.store.Get(nodeID)
	if !ok {
		return
	}

	row := persist.Row{
		Node:        n,
		MessageType: msgType,
		Motion:      motion,
		At:          time.Unix(rec.ReceivedAt(), 0),
	}
	if ts, ok := rec.(*mesh.TelemetrySample); ok {
		row.Hops = ts.Hops
		if snr, ok := ts.Readings[mesh.FieldSNR]; ok {
			row.SNR = snr
		}
	}

	select {
	case f.rows <- row:
	default:
		log.Warn("History queue full, dropping row", "node", nodeID)
	}
}

func (f *Facade) historyLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case row := <-f.rows:
			f.history.AppendQuiet(row)
		}
	}
}

func (f *Facade) alertLoop(ctx context.Context) error {
	ticker := time.NewTicker(f.cfg.AlertCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			f.checkAlerts(time.Now())
		}
	}
}

func (f *Facade) checkAlerts(now time.Time) {
	for _, n := range f.store.Snapshot() {
		for _, ev := range f.evaluateNode(n, now) {
			f.publishAlert(ev)
			if f.notifier.ShouldNotify(ev) {
				// Delivery is a collaborator concern; record the decision.
				log.Info("Notification warranted", "node", ev.NodeID, "rule", ev.Rule, "condition", ev.Condition)
			}
		}
	}
}

// evaluateNode runs the alert rules for one snapshot entry. The snapshot may
// be stale against a concurrent forget, so membership is re-checked under the
// same lock ForgetNode holds: either the forget finished first and the entry
// is skipped, or the evaluation finished first and ClearNode removes whatever
// it produced.
func (f *Facade) evaluateNode(n mesh.NodeState, now time.Time) []mesh.AlertEvent {
	f.forgetMu.Lock()
	defer f.forgetMu.Unlock()

	if _, ok := f.store.Get(n.ID); !ok {
		return nil
	}
	ds, ok := f.scheduler.Status(n.ID)
	if !ok {
		ds = status.Derive(n, now, f.cfg.Thresholds)
	}
	return f.alerts.Evaluate(n, ds, now)
}

func (f *Facade) onHelpChange(requested bool) {
	if requested {
		f.store.SetHelp(f.cfg.LocalID, time.Now().Unix())
	} else {
		f.store.ClearHelp(f.cfg.LocalID)
	}
	f.writer.MarkDirty()
	f.publishChanges(mesh.ChangeSet{NodeIDs: []string{f.cfg.LocalID}})
}

func (f *Facade) publishChanges(cs mesh.ChangeSet) {
	f.subMu.RLock()
	subs := f.changeSubs
	f.subMu.RUnlock()
	for _, fn := range subs {
		fn(cs)
	}
}

func (f *Facade) publishAlert(ev mesh.AlertEvent) {
	f.subMu.RLock()
	subs := f.alertSubs
	f.subMu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}

// Nodes returns every node with freshly derived status.
func (f *Facade) Nodes() []NodeView {
	now := time.Now()
	nodes := f.store.Snapshot()
	out := make([]NodeView, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, NodeView{
			State:   n,
			Derived: status.Derive(n, now, f.cfg.Thresholds),
		})
	}
	return out
}

// Node returns one node with freshly derived status.
func (f *Facade) Node(id string) (NodeView, bool) {
	n, ok := f.store.Get(id)
	if !ok {
		return NodeView{}, false
	}
	return NodeView{
		State:   n,
		Derived: status.Derive(n, time.Now(), f.cfg.Thresholds),
	}, true
}

// ForgetNode removes every trace of a node: store entry, motion state,
// status cache, alert machines, notification history. Subscribers are told
// once everything is gone.
func (f *Facade) ForgetNode(id string) bool {
	f.forgetMu.Lock()
	if _, ok := f.store.Forget(id); !ok {
		f.forgetMu.Unlock()
		return false
	}
	f.scheduler.Forget(id)
	f.alerts.ClearNode(id)
	f.notifier.ClearNode(id)
	f.forgetMu.Unlock()

	f.writer.MarkDirty()
	f.publishChanges(mesh.ChangeSet{NodeIDs: []string{id}})
	log.Info("Node forgotten", "node", id)
	return true
}

// RequestSend transmits a text message on behalf of the user.
func (f *Facade) RequestSend(ctx context.Context, destination, text string, wantAck bool) error {
	return f.tr.Send(ctx, destination, text, wantAck)
}

// RequestTelemetry asks a node to report immediately, when the transport
// supports it.
func (f *Facade) RequestTelemetry(ctx context.Context, id string) error {
	rq, ok := f.tr.(transport.TelemetryRequester)
	if !ok {
		return fmt.Errorf("transport cannot request telemetry")
	}
	return rq.RequestTelemetry(ctx, id)
}

// RequestHelp raises the local help flag and broadcasts it.
func (f *Facade) RequestHelp() { f.broadcaster.RequestHelp() }

// ClearHelp clears the local help flag. Only this path may clear it;
// nothing arriving on the wire can.
func (f *Facade) ClearHelp() { f.broadcaster.ClearHelp() }

// HelpRequested reports the local help flag.
func (f *Facade) HelpRequested() bool { return f.broadcaster.HelpRequested() }

// ActiveAlerts returns the currently firing alerts.
func (f *Facade) ActiveAlerts() []mesh.AlertEvent { return f.alerts.ActiveAlerts() }

// Ready reports whether the transport link is up.
func (f *Facade) Ready() bool { return f.tr.ConnectionState() }
