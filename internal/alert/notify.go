package alert

import (
	"sync"
	"time"

	"github.com/icpmesh/meshwatch/internal/mesh"
	"github.com/icpmesh/meshwatch/pkg/log"
)

// Notifier decides when a fired alert warrants an outbound notification.
// Delivery itself is a collaborator concern; this hook only applies the
// per-rule cooldown so a recover/re-fire cycle does not spam.
type Notifier struct {
	cfg Config
	now func() time.Time

	mu           sync.Mutex
	lastNotified map[string]time.Time // nodeID + "/" + rule
}

// NewNotifier creates the notification decision hook.
func NewNotifier(cfg Config) *Notifier {
	return &Notifier{
		cfg:          cfg,
		now:          time.Now,
		lastNotified: map[string]time.Time{},
	}
}

// ShouldNotify reports whether a firing event should be delivered, and
// records the decision. Cleared events never notify.
func (n *Notifier) ShouldNotify(ev mesh.AlertEvent) bool {
	if !ev.Active() {
		return false
	}

	cooldown := n.cfg.Rules[ev.Rule].Cooldown

	n.mu.Lock()
	defer n.mu.Unlock()

	key := ev.NodeID + "/" + ev.Rule
	now := n.now()
	if last, ok := n.lastNotified[key]; ok && now.Sub(last) < cooldown {
		log.Debug("Notification suppressed by cooldown", "node", ev.NodeID, "rule", ev.Rule)
		return false
	}
	n.lastNotified[key] = now
	return true
}

// ClearNode forgets notification history for a removed node.
func (n *Notifier) ClearNode(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	prefix := id + "/"
	for key := range n.lastNotified {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(n.lastNotified, key)
		}
	}
}
