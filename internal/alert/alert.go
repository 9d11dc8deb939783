// Package alert implements the rule-driven evaluation of signal_update and
// evaluation_update events into alert events: a rule map, severity
// thresholds at 0.5/0.3/0.1 relative deviation, a best-effort notifier
// list, and per-rule last-seen state for the "change" condition.
package alert

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/worldpam/internal/eventbus"
)

// Condition is the comparison a rule applies to an observed value.
type Condition string

const (
	ConditionGreaterThan Condition = "greater_than"
	ConditionLessThan    Condition = "less_than"
	ConditionEquals      Condition = "equals"
	ConditionChange      Condition = "change"
)

// Severity is the derived alert severity.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

const equalsEpsilon = 1e-9

// Rule is one reconfigurable alert rule. Scenario and Signal are the
// rule's target: a rule with Scenario set evaluates evaluation_update
// events for that hypothesis; a rule with Signal set evaluates
// signal_update events for that signal. A rule with neither set targets
// nothing and never fires.
type Rule struct {
	RuleID    string
	Name      string
	Condition Condition
	Threshold float64
	Scenario  string
	Signal    string
	Enabled   bool
}

// Alert is one rule match.
type Alert struct {
	AlertID   string
	RuleID    string
	Severity  Severity
	Value     float64
	Threshold float64
	Timestamp time.Time
	Message   string
	Scenario  string
}

// Notifier is invoked best-effort on every new Alert; a failing notifier is
// logged and skipped, other notifiers still run.
type Notifier func(Alert) error

// Engine subscribes to the event bus and evaluates every enabled rule
// against matching events.
type Engine struct {
	mu        sync.RWMutex
	rules     map[string]*Rule
	lastSeen  map[string]float64 // ruleID -> last observed value, for "change"
	notifiers []Notifier
	ring      []Alert
	ringCap   int
	log       zerolog.Logger
}

// New constructs an Engine. ringCap bounds the in-memory alert history kept
// for inspection; 0 disables retention (alerts are still delivered to
// notifiers).
func New(log zerolog.Logger, ringCap int) *Engine {
	return &Engine{
		rules:    make(map[string]*Rule),
		lastSeen: make(map[string]float64),
		ringCap:  ringCap,
		log:      log,
	}
}

// AddRule registers or replaces a rule.
func (e *Engine) AddRule(r Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[r.RuleID] = &r
}

// RemoveRule deletes a rule by id.
func (e *Engine) RemoveRule(ruleID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.rules, ruleID)
	delete(e.lastSeen, ruleID)
}

// RegisterNotifier appends a best-effort notifier invoked on every Alert.
func (e *Engine) RegisterNotifier(n Notifier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notifiers = append(e.notifiers, n)
}

// Alerts returns a snapshot of the retained alert ring, newest last.
func (e *Engine) Alerts() []Alert {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Alert, len(e.ring))
	copy(out, e.ring)
	return out
}

// Subscribe wires the engine to bus's signal_update and evaluation_update
// events. Call once at startup.
func (e *Engine) Subscribe(bus *eventbus.Bus) {
	bus.Subscribe(eventbus.KindSignalUpdate, func(ev eventbus.Event) error {
		if ev.Signal == nil {
			return nil
		}
		e.evaluate(ev.Signal.SignalName, "", ev.Signal.Value)
		return nil
	})
	bus.Subscribe(eventbus.KindEvaluationUpdate, func(ev eventbus.Event) error {
		if ev.Eval == nil {
			return nil
		}
		e.evaluate("", ev.Eval.HypothesisName, ev.Eval.Probability)
		return nil
	})
}

func (e *Engine) evaluate(signal, scenario string, value float64) {
	e.mu.Lock()
	var matched []Alert
	for _, r := range e.rules {
		if !r.Enabled {
			continue
		}
		if r.Signal != "" && r.Signal != signal {
			continue
		}
		if r.Scenario != "" && r.Scenario != scenario {
			continue
		}
		if r.Signal == "" && r.Scenario == "" {
			continue // rule unfiltered on both axes never matches any event
		}

		if !conditionMatches(r, value, e.lastSeen[r.RuleID]) {
			e.lastSeen[r.RuleID] = value
			continue
		}
		e.lastSeen[r.RuleID] = value

		a := Alert{
			AlertID:   uuid.New().String(),
			RuleID:    r.RuleID,
			Severity:  severityFor(value, r.Threshold),
			Value:     value,
			Threshold: r.Threshold,
			Timestamp: time.Now().UTC(),
			Message:   fmt.Sprintf("rule %q matched: value=%.4f threshold=%.4f", r.Name, value, r.Threshold),
			Scenario:  scenario,
		}
		matched = append(matched, a)

		if e.ringCap > 0 {
			e.ring = append(e.ring, a)
			if len(e.ring) > e.ringCap {
				e.ring = e.ring[len(e.ring)-e.ringCap:]
			}
		}
	}
	notifiers := append([]Notifier(nil), e.notifiers...)
	e.mu.Unlock()

	for _, a := range matched {
		for _, n := range notifiers {
			if err := safeNotify(n, a); err != nil {
				e.log.Error().Err(err).Str("alert_id", a.AlertID).Msg("alert notifier failed")
			}
		}
	}
}

func safeNotify(n Notifier, a Alert) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panicked: %v", r)
		}
	}()
	return n(a)
}

func conditionMatches(r *Rule, value, prior float64) bool {
	switch r.Condition {
	case ConditionGreaterThan:
		return value > r.Threshold
	case ConditionLessThan:
		return value < r.Threshold
	case ConditionEquals:
		return math.Abs(value-r.Threshold) < equalsEpsilon
	case ConditionChange:
		return math.Abs(value-prior) >= r.Threshold
	default:
		return false
	}
}

// severityFor derives severity from the relative deviation
// d = |value-threshold| / max(threshold, epsilon).
func severityFor(value, threshold float64) Severity {
	denom := math.Max(threshold, equalsEpsilon)
	d := math.Abs(value-threshold) / denom
	switch {
	case d > 0.5:
		return SeverityCritical
	case d > 0.3:
		return SeverityHigh
	case d > 0.1:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
