package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/icpmesh/meshwatch/internal/mesh"
	"github.com/icpmesh/meshwatch/pkg/log"
)

// SendFunc transmits an encoded status message on the shared channel.
type SendFunc func(ctx context.Context, text string) error

// Config tunes the broadcaster.
type Config struct {
	// Interval is the unconditional heartbeat period.
	Interval time.Duration
	// StabilizeDelay holds the first broadcast back until local status has
	// settled after boot.
	StabilizeDelay time.Duration
	// HelpAutoClear clears an unanswered help flag after this long.
	HelpAutoClear time.Duration
	// Version is stamped on every outgoing message.
	Version string
}

// DefaultConfig returns the stock broadcaster tuning.
func DefaultConfig() Config {
	return Config{
		Interval:       15 * time.Minute,
		StabilizeDelay: 30 * time.Second,
		HelpAutoClear:  time.Hour,
		Version:        "1.3.0",
	}
}

// Broadcaster announces the local node's derived status: on a fixed
// heartbeat, and immediately when color or the help flag changes. An
// immediate send resets the heartbeat countdown so near-simultaneous
// duplicates are not produced.
type Broadcaster struct {
	cfg  Config
	send SendFunc
	now  func() time.Time

	mu        sync.Mutex
	color     mesh.Color
	reasons   []string
	hasStatus bool
	help      bool
	helpSetAt time.Time

	// onHelpChange is invoked after the help flag flips, outside the lock.
	onHelpChange func(requested bool)

	kick chan struct{}
}

// New creates a broadcaster that transmits through send.
func New(cfg Config, send SendFunc) *Broadcaster {
	return &Broadcaster{
		cfg:  cfg,
		send: send,
		now:  time.Now,
		kick: make(chan struct{}, 1),
	}
}

// OnHelpChange registers a hook called whenever the help flag changes,
// including auto-clear. Must be set before Run.
func (b *Broadcaster) OnHelpChange(fn func(requested bool)) {
	b.onHelpChange = fn
}

// UpdateStatus records the latest locally computed status. A color change
// triggers an immediate broadcast.
func (b *Broadcaster) UpdateStatus(ds mesh.DerivedStatus) {
	b.mu.Lock()
	changed := !b.hasStatus || ds.Health != b.color
	b.color = ds.Health
	b.reasons = append([]string(nil), ds.Reasons...)
	b.hasStatus = true
	b.mu.Unlock()

	if changed {
		b.trigger()
	}
}

// RequestHelp sets the help flag and broadcasts immediately.
func (b *Broadcaster) RequestHelp() {
	b.mu.Lock()
	already := b.help
	b.help = true
	b.helpSetAt = b.now()
	b.mu.Unlock()

	if !already {
		b.notifyHelp(true)
		b.trigger()
	}
}

// ClearHelp clears the help flag and broadcasts immediately. Clearing is
// local-origin only; nothing on the wire can invoke this.
func (b *Broadcaster) ClearHelp() {
	b.mu.Lock()
	was := b.help
	b.help = false
	b.helpSetAt = time.Time{}
	b.mu.Unlock()

	if was {
		b.notifyHelp(false)
		b.trigger()
	}
}

// HelpRequested reports the current help flag.
func (b *Broadcaster) HelpRequested() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.help
}

// Run drives the heartbeat until ctx is canceled. The first send waits out
// the stabilization delay.
func (b *Broadcaster) Run(ctx context.Context) error {
	hb := time.NewTimer(b.cfg.StabilizeDelay)
	defer hb.Stop()

	// Auto-clear is checked on a coarse tick; second-exact expiry is not
	// needed for an hour-scale timeout.
	helpCheck := time.NewTicker(time.Minute)
	defer helpCheck.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hb.C:
			b.broadcast(ctx)
			hb.Reset(b.cfg.Interval)
		case <-b.kick:
			b.broadcast(ctx)
			if !hb.Stop() {
				select {
				case <-hb.C:
				default:
				}
			}
			hb.Reset(b.cfg.Interval)
		case <-helpCheck.C:
			if b.autoClearHelpIfExpired() {
				b.trigger()
			}
		}
	}
}

// autoClearHelpIfExpired clears a help flag older than the auto-clear
// timeout. Returns true if cleared.
func (b *Broadcaster) autoClearHelpIfExpired() bool {
	b.mu.Lock()
	expired := b.help && b.now().Sub(b.helpSetAt) >= b.cfg.HelpAutoClear
	if expired {
		b.help = false
		b.helpSetAt = time.Time{}
	}
	b.mu.Unlock()

	if expired {
		log.Info("Help flag auto-cleared")
		b.notifyHelp(false)
	}
	return expired
}

func (b *Broadcaster) trigger() {
	select {
	case b.kick <- struct{}{}:
	default:
	}
}

func (b *Broadcaster) notifyHelp(requested bool) {
	if b.onHelpChange != nil {
		b.onHelpChange(requested)
	}
}

func (b *Broadcaster) broadcast(ctx context.Context) {
	wire, err := Encode(b.message())
	if err != nil {
		log.Error(err, "Failed to encode status broadcast")
		return
	}
	if err := b.send(ctx, wire); err != nil {
		log.Warn("Failed to send status broadcast", "err", err.Error())
	}
}

func (b *Broadcaster) message() Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Message{
		Color:         b.color,
		Reasons:       append([]string(nil), b.reasons...),
		HelpRequested: b.help,
		Version:       b.cfg.Version,
		Timestamp:     b.now().Unix(),
	}
}
