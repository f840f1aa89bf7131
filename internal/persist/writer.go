package persist

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/icpmesh/meshwatch/internal/mesh"
	"github.com/icpmesh/meshwatch/internal/metrics"
	"github.com/icpmesh/meshwatch/pkg/log"
)

// SourceFunc produces the current store contents for a save.
type SourceFunc func() []mesh.NodeState

// Writer debounces snapshot saves onto its own goroutine so ingestion never
// blocks on disk. A failed save is retried on the next dirty window.
type Writer struct {
	store    *SnapshotStore
	source   SourceFunc
	interval time.Duration
	dirty    atomic.Bool
}

// NewWriter creates a debounced snapshot writer.
func NewWriter(store *SnapshotStore, source SourceFunc, interval time.Duration) *Writer {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Writer{store: store, source: source, interval: interval}
}

// MarkDirty flags that a meaningful change happened. Cheap and non-blocking;
// safe from any goroutine.
func (w *Writer) MarkDirty() {
	w.dirty.Store(true)
}

// Run drives the debounce loop until ctx is canceled, then makes a final
// save if changes are pending.
func (w *Writer) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if w.dirty.Load() {
				w.save()
			}
			return nil
		case <-ticker.C:
			if w.dirty.Swap(false) {
				w.save()
			}
		}
	}
}

func (w *Writer) save() {
	if err := w.store.Save(w.source(), time.Now().Unix()); err != nil {
		// Keep running in memory; the next window retries.
		log.Warn("Snapshot save failed", "err", err.Error())
		metrics.SnapshotWrites.WithLabelValues("error").Inc()
		w.dirty.Store(true)
		return
	}
	metrics.SnapshotWrites.WithLabelValues("ok").Inc()
}
