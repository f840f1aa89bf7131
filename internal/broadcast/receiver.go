package broadcast

import (
	"github.com/icpmesh/meshwatch/internal/mesh"
	"github.com/icpmesh/meshwatch/internal/mesh/store"
	"github.com/icpmesh/meshwatch/pkg/log"
)

// Receiver applies decoded status broadcasts from other nodes to the store.
// Remote status is advisory display data only; it never feeds the local
// health calculation and never touches the local node's own help flag.
type Receiver struct {
	store   *store.Store
	localID string
}

// NewReceiver builds a receiver. localID is this node's identifier; wire
// messages claiming to describe it are ignored, so nothing remote can set
// or clear the local flag.
func NewReceiver(s *store.Store, localID string) *Receiver {
	return &Receiver{store: s, localID: localID}
}

// Apply records a remote node's self-reported status.
func (r *Receiver) Apply(rec *mesh.StatusBroadcast) mesh.ChangeSet {
	if rec.Node() == r.localID {
		// Our own broadcast echoed back, or a forged message about us.
		// Local status is authoritative locally; drop it.
		log.Debug("Ignoring status broadcast about the local node", "node", rec.Node())
		return mesh.ChangeSet{}
	}
	return r.store.Apply(rec)
}
