// Package store implements the concurrent node state store. All mutation
// funnels through Apply, Forget, and the help setters under a single writer
// lock; readers get deep copies they may hold without locking.
package store

import (
	"sort"
	"sync"

	"github.com/icpmesh/meshwatch/internal/mesh"
)

// ForgetResult describes what a Forget removed. The caller owns the
// coordinated deletion: it must also clear the alert machines for the node
// so no trace survives from the subscribers' point of view.
type ForgetResult struct {
	Node      mesh.NodeState
	HadMotion bool
	HadRemote bool
}

// Store is the exclusive owner of all NodeState instances.
type Store struct {
	mu    sync.RWMutex
	nodes map[string]*mesh.NodeState
}

// New creates an empty store.
func New() *Store {
	return &Store{nodes: map[string]*mesh.NodeState{}}
}

// Restore seeds the store from a loaded snapshot. Intended for startup,
// before any record is applied; existing entries with the same ID are
// replaced.
func (s *Store) Restore(nodes []mesh.NodeState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range nodes {
		if n.ID == "" {
			continue
		}
		c := n.Clone()
		s.nodes[n.ID] = &c
	}
}

// Len returns the number of known nodes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// Get returns a copy of one node's state.
func (s *Store) Get(id string) (mesh.NodeState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return mesh.NodeState{}, false
	}
	return n.Clone(), true
}

// Snapshot returns deep copies of every node, sorted by ID for deterministic
// iteration.
func (s *Store) Snapshot() []mesh.NodeState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]mesh.NodeState, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Apply merges one normalized record into the store and reports which nodes
// changed. It is the only record mutator.
func (s *Store) Apply(rec mesh.Record) mesh.ChangeSet {
	id := rec.Node()
	if id == "" {
		return mesh.ChangeSet{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[id]
	if !ok {
		n = &mesh.NodeState{ID: id}
		s.nodes[id] = n
	}
	changed := !ok

	switch r := rec.(type) {
	case *mesh.TelemetrySample:
		if s.applyTelemetry(n, r) {
			changed = true
		}
		if s.touchLastHeard(n, rec) {
			changed = true
		}
	case *mesh.NodeInfoUpdate:
		// Name changes only. Node info is re-announced for nodes that were
		// never actually heard, so it must not move LastHeard.
		if r.ShortName != "" && r.ShortName != n.ShortName {
			n.ShortName = r.ShortName
			changed = true
		}
		if r.LongName != "" && r.LongName != n.LongName {
			n.LongName = r.LongName
			changed = true
		}
	case *mesh.MotionEvent:
		if r.Detected && r.RxTime > n.LastMotionAt {
			n.LastMotionAt = r.RxTime
			changed = true
		}
		if s.touchLastHeard(n, rec) {
			changed = true
		}
	case *mesh.TextMessage:
		if s.touchLastHeard(n, rec) {
			changed = true
		}
	case *mesh.StatusBroadcast:
		n.Remote = &mesh.RemoteStatus{
			Color:         r.Color,
			Reasons:       append([]string(nil), r.Reasons...),
			HelpRequested: r.HelpRequested,
			Version:       r.Version,
			ReportedAt:    r.ReportedAt,
			ReceivedAt:    r.RxTime,
		}
		changed = true
		if s.touchLastHeard(n, rec) {
			changed = true
		}
	}

	if !changed {
		return mesh.ChangeSet{}
	}
	return mesh.ChangeSet{NodeIDs: []string{id}}
}

func (s *Store) applyTelemetry(n *mesh.NodeState, r *mesh.TelemetrySample) bool {
	if len(r.Readings) == 0 {
		return false
	}
	if n.Telemetry == nil {
		n.Telemetry = map[mesh.Field]mesh.Reading{}
	}

	at := r.SampleTime
	if at == 0 {
		at = r.RxTime
	}

	changed := false
	for f, v := range r.Readings {
		prev, ok := n.Telemetry[f]
		// Per-field timestamps are monotonic: late-arriving older samples
		// never overwrite a newer reading.
		if ok && at < prev.UpdatedAt {
			continue
		}
		if ok && at == prev.UpdatedAt && v == prev.Value {
			continue
		}
		n.Telemetry[f] = mesh.Reading{Value: v, UpdatedAt: at}
		changed = true
	}
	return changed
}

// touchLastHeard advances LastHeard for live records only, never backwards.
func (s *Store) touchLastHeard(n *mesh.NodeState, rec mesh.Record) bool {
	if rec.RecordOrigin() != mesh.OriginLive {
		return false
	}
	if t := rec.ReceivedAt(); t > n.LastHeard {
		n.LastHeard = t
		return true
	}
	return false
}

// Forget removes a node and every piece of state the store holds for it.
func (s *Store) Forget(id string) (ForgetResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[id]
	if !ok {
		return ForgetResult{}, false
	}
	delete(s.nodes, id)

	return ForgetResult{
		Node:      n.Clone(),
		HadMotion: n.LastMotionAt != 0,
		HadRemote: n.Remote != nil,
	}, true
}

// SetHelp marks the help flag for a node. Used only for the local node;
// remote help state arrives through status broadcasts.
func (s *Store) SetHelp(id string, at int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		n = &mesh.NodeState{ID: id}
		s.nodes[id] = n
	}
	n.HelpRequestedAt = at
	n.HelpCleared = false
	return true
}

// ClearHelp clears the help flag for a node.
func (s *Store) ClearHelp(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return false
	}
	n.HelpRequestedAt = 0
	n.HelpCleared = true
	return true
}
