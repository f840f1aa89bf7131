package alert

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/icpmesh/meshwatch/internal/mesh"
	"github.com/icpmesh/meshwatch/internal/metrics"
	"github.com/icpmesh/meshwatch/pkg/log"
)

const (
	stateQuiescent = "quiescent"
	stateFiring    = "firing"

	eventTrip    = "trip"
	eventRecover = "recover"
)

// Engine owns the per-(node, rule) state machines.
type Engine struct {
	cfg       Config
	startedAt time.Time

	mu        sync.Mutex
	overrides Overrides
	machines  map[string]*fsm.FSM         // key: nodeID + "/" + rule
	active    map[string]*mesh.AlertEvent // firing conditions
}

// New creates an alert engine. The startup grace window starts now.
func New(cfg Config) *Engine {
	e := &Engine{
		cfg:       cfg,
		startedAt: time.Now(),
		overrides: Overrides{},
		machines:  map[string]*fsm.FSM{},
		active:    map[string]*mesh.AlertEvent{},
	}
	if cfg.OverridesPath != "" {
		o, err := LoadOverrides(cfg.OverridesPath)
		if err != nil {
			log.Warn("Failed to load alert overrides, starting without", "err", err.Error())
		} else {
			e.overrides = o
		}
	}
	return e
}

// SetOverrides swaps the per-node rule enablement, typically from a file
// reload. Machines for newly disabled rules keep their state but stop being
// evaluated.
func (e *Engine) SetOverrides(o Overrides) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if o == nil {
		o = Overrides{}
	}
	e.overrides = o
}

// condition is one rule's verdict for a node. met==false with ok==true
// drives recovery; ok==false means the rule is skipped entirely.
type condition struct {
	ok      bool
	met     bool
	value   float64
	message string
}

// Evaluate runs every applicable rule for a node and returns the events
// produced by state transitions: a firing event per quiescent-to-firing
// edge and a cleared event per recovery.
func (e *Engine) Evaluate(n mesh.NodeState, ds mesh.DerivedStatus, now time.Time) []mesh.AlertEvent {
	e.mu.Lock()
	defer e.mu.Unlock()

	inGrace := now.Sub(e.startedAt) < e.cfg.StartupGrace

	var out []mesh.AlertEvent
	for _, rule := range ruleOrder {
		rc, known := e.cfg.Rules[rule]
		if !known || !e.overrides.enabledFor(n.ID, rule, rc.Enabled) {
			continue
		}

		c := evalRule(rule, rc, n, ds, now)
		if !c.ok {
			// Absent data is not a failure condition.
			continue
		}

		key := n.ID + "/" + rule
		m, exists := e.machines[key]
		if !exists {
			m = newRuleMachine()
			e.machines[key] = m
		}

		switch {
		case c.met && m.Current() == stateQuiescent:
			if inGrace {
				continue
			}
			if err := m.Event(context.Background(), eventTrip); err != nil {
				continue
			}
			ev := mesh.AlertEvent{
				NodeID:    n.ID,
				Rule:      rule,
				Condition: c.message,
				Value:     c.value,
				FiredAt:   now.Unix(),
			}
			e.active[key] = &ev
			out = append(out, ev)
			metrics.AlertsFired.WithLabelValues(rule).Inc()
			log.Warn("Alert fired", "node", n.ID, "rule", rule, "condition", c.message)

		case !c.met && m.Current() == stateFiring:
			if err := m.Event(context.Background(), eventRecover); err != nil {
				continue
			}
			if ev, ok := e.active[key]; ok {
				cleared := *ev
				cleared.ClearedAt = now.Unix()
				delete(e.active, key)
				out = append(out, cleared)
				log.Info("Alert cleared", "node", n.ID, "rule", rule)
			}
		}
	}
	return out
}

// ActiveAlerts returns the currently firing events, sorted for stable output.
func (e *Engine) ActiveAlerts() []mesh.AlertEvent {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]mesh.AlertEvent, 0, len(e.active))
	for _, ev := range e.active {
		out = append(out, *ev)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].NodeID != out[j].NodeID {
			return out[i].NodeID < out[j].NodeID
		}
		return out[i].Rule < out[j].Rule
	})
	return out
}

// ClearNode drops every machine and active alert for a forgotten node.
func (e *Engine) ClearNode(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	prefix := id + "/"
	for key := range e.machines {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(e.machines, key)
		}
	}
	for key := range e.active {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(e.active, key)
		}
	}
}

func newRuleMachine() *fsm.FSM {
	return fsm.NewFSM(
		stateQuiescent,
		fsm.Events{
			{Name: eventTrip, Src: []string{stateQuiescent}, Dst: stateFiring},
			{Name: eventRecover, Src: []string{stateFiring}, Dst: stateQuiescent},
		},
		fsm.Callbacks{},
	)
}

func evalRule(rule string, rc RuleConfig, n mesh.NodeState, ds mesh.DerivedStatus, now time.Time) condition {
	reading := func(f mesh.Field) (float64, bool) {
		r, ok := n.Reading(f)
		return r.Value, ok
	}

	switch rule {
	case RuleNodeOffline:
		if n.LastHeard == 0 {
			return condition{}
		}
		age := now.Unix() - n.LastHeard
		return condition{
			ok:      true,
			met:     float64(age) > rc.Threshold,
			value:   float64(age),
			message: fmt.Sprintf("not heard for %ds (threshold %.0fs)", age, rc.Threshold),
		}
	case RuleLowBattery:
		v, ok := reading(mesh.FieldBatteryLevel)
		return condition{ok: ok, met: v < rc.Threshold, value: v,
			message: fmt.Sprintf("battery %.0f%% below %.0f%%", v, rc.Threshold)}
	case RuleLowVoltage:
		v, ok := reading(mesh.FieldVoltageExternal)
		return condition{ok: ok, met: v < rc.Threshold, value: v,
			message: fmt.Sprintf("voltage %.2fV below %.2fV", v, rc.Threshold)}
	case RuleHighVoltage:
		v, ok := reading(mesh.FieldVoltageExternal)
		return condition{ok: ok, met: v > rc.Threshold, value: v,
			message: fmt.Sprintf("voltage %.2fV above %.2fV", v, rc.Threshold)}
	case RuleLowTemperature:
		v, ok := reading(mesh.FieldTemperature)
		return condition{ok: ok, met: v < rc.Threshold, value: v,
			message: fmt.Sprintf("temperature %.1f°C below %.1f°C", v, rc.Threshold)}
	case RuleHighTemperature:
		v, ok := reading(mesh.FieldTemperature)
		return condition{ok: ok, met: v > rc.Threshold, value: v,
			message: fmt.Sprintf("temperature %.1f°C above %.1f°C", v, rc.Threshold)}
	case RuleMotion:
		if n.LastMotionAt == 0 {
			return condition{}
		}
		return condition{ok: true, met: ds.MotionRecent, message: "motion detected"}
	}
	return condition{}
}
