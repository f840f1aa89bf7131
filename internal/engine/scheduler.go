// Package engine composes the telemetry state engine and exposes the
// subscription and command surface the presentation layer consumes.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/icpmesh/meshwatch/internal/mesh"
	"github.com/icpmesh/meshwatch/internal/mesh/status"
	"github.com/icpmesh/meshwatch/internal/mesh/store"
	"github.com/icpmesh/meshwatch/internal/metrics"
)

// Scheduler re-derives node status on a fixed tick, independent of packet
// arrival, because offline transitions are a function of elapsed time with
// no corresponding packet. It caches each node's last published status and
// reports only real differences.
type Scheduler struct {
	store    *store.Store
	th       status.Thresholds
	interval time.Duration

	mu   sync.Mutex
	last map[string]mesh.DerivedStatus

	// onChange receives non-empty change sets from ticks.
	onChange func(mesh.ChangeSet)
}

// NewScheduler builds a refresh scheduler over the store.
func NewScheduler(s *store.Store, th status.Thresholds, interval time.Duration) *Scheduler {
	return &Scheduler{
		store:    s,
		th:       th,
		interval: interval,
		last:     map[string]mesh.DerivedStatus{},
	}
}

// OnChange registers the change sink. Must be set before Run.
func (s *Scheduler) OnChange(fn func(mesh.ChangeSet)) {
	s.onChange = fn
}

// Status returns the last published derived status for a node.
func (s *Scheduler) Status(id string) (mesh.DerivedStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.last[id]
	return ds, ok
}

// Refresh re-derives the named nodes, updates the cache, and returns the
// IDs whose derived status actually differs. Used on the event path after
// a record is applied.
func (s *Scheduler) Refresh(ids []string, now time.Time) mesh.ChangeSet {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed []string
	for _, id := range ids {
		n, ok := s.store.Get(id)
		if !ok {
			continue
		}
		ds := status.Derive(n, now, s.th)
		if prev, ok := s.last[id]; !ok || !ds.Equal(prev) {
			changed = append(changed, id)
		}
		s.last[id] = ds
	}
	return mesh.ChangeSet{NodeIDs: changed}
}

// Tick re-derives every node against a fresh timestamp. It does not fetch
// new data; time alone is the input.
func (s *Scheduler) Tick(now time.Time) mesh.ChangeSet {
	return s.tick(s.store.Snapshot(), now)
}

func (s *Scheduler) tick(nodes []mesh.NodeState, now time.Time) mesh.ChangeSet {
	s.mu.Lock()
	defer s.mu.Unlock()

	known := 0
	online := 0
	var changed []string
	for _, n := range nodes {
		// The snapshot can be stale against a concurrent forget; the store
		// decides membership. Forget removes the node from the store before
		// it takes this mutex, so a skipped entry stays skipped.
		if _, ok := s.store.Get(n.ID); !ok {
			continue
		}
		known++
		ds := status.Derive(n, now, s.th)
		if ds.Online {
			online++
		}
		if prev, ok := s.last[n.ID]; !ok || !ds.Equal(prev) {
			changed = append(changed, n.ID)
		}
		s.last[n.ID] = ds
	}

	metrics.NodesKnown.Set(float64(known))
	metrics.NodesOnline.Set(float64(online))

	return mesh.ChangeSet{NodeIDs: changed}
}

// Forget drops the cached status for a removed node.
func (s *Scheduler) Forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.last, id)
}

// Run ticks until ctx is canceled. In-flight ticks finish before return.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if cs := s.Tick(time.Now()); !cs.Empty() && s.onChange != nil {
				s.onChange(cs)
			}
		}
	}
}
