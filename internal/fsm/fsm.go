// Package fsm implements finger's generic finite-state-machine engine
// (spec §4.I), used to build the Workflow, Task, and Agent FSMs: a
// declarative transition table with wildcard from/to states, guards,
// actions, phase_transition observation, and idempotent trigger
// application keyed by an operation ID.
//
// Grounded on the teacher's workflow/engine/engine.go: Engine.HandleTrigger
// resolves the current MachineState, looks up the matching transition
// for an incoming event, evaluates guard conditions, runs associated
// actions through a CallbackRegistry, and persists the new state —
// tracking idempotency via TransitionStore.IsOperationApplied /
// MarkOperationApplied so a redelivered trigger is a no-op. Generalized
// here from the teacher's single hard-coded workflow's step graph to an
// arbitrary caller-supplied transition table, and from a SQL-backed
// TransitionStore to an in-memory idempotency set (callers needing
// durability wrap Machine with their own persistence, as internal/workflow
// does).
package fsm

import (
	"fmt"
	"sync"
	"time"
)

// State identifies a machine state. Wildcard is the special value "*",
// matching any current state in a transition's From field.
type State string

// Wildcard matches any state.
const Wildcard State = "*"

// Event identifies a trigger.
type Event string

// Context is passed to guards and actions: the machine's current state,
// the triggering event, and the payload: the machine's stored data (see
// SetData) overlaid with the caller-supplied payload data.
type Context struct {
	State   State
	Event   Event
	Payload map[string]any
}

// Guard decides whether a matching transition may fire.
type Guard func(Context) bool

// Action runs as a transition fires. An action error aborts the
// transition: the machine's state is not advanced.
type Action func(Context) error

// Transition is one row of the declarative transition table.
type Transition struct {
	From   State // Wildcard matches any current state
	Event  Event
	To     State // Wildcard means "stay in the current state"
	Guard  Guard
	Action Action
}

// HistoryEntry records one applied transition.
type HistoryEntry struct {
	From      State
	To        State
	Event     Event
	At        time.Time
	Operation string
}

// PhaseTransitionHook observes every transition actually applied.
type PhaseTransitionHook func(entry HistoryEntry)

// Machine is a single finite-state-machine instance.
type Machine struct {
	mu          sync.Mutex
	current     State
	transitions []Transition
	history     []HistoryEntry
	data        map[string]any
	appliedOps  map[string]struct{}
	onPhase     PhaseTransitionHook
}

// New constructs a Machine starting in initial with the given transition
// table. Transitions are matched in table order; the first row whose From
// equals the current state or Wildcard, whose Event matches, and whose
// Guard (if any) passes, is applied.
func New(initial State, transitions []Transition) *Machine {
	return &Machine{
		current:     initial,
		transitions: transitions,
		data:        make(map[string]any),
		appliedOps:  make(map[string]struct{}),
	}
}

// SetOnPhaseTransition installs a hook invoked after every applied
// transition, corresponding to the spec's phase_transition event.
func (m *Machine) SetOnPhaseTransition(hook PhaseTransitionHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onPhase = hook
}

// Current returns the machine's current state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// History returns a copy of every transition applied so far.
func (m *Machine) History() []HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]HistoryEntry, len(m.history))
	copy(out, m.history)
	return out
}

// Data returns the value stored under key in the machine's context data.
func (m *Machine) Data(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}

// SetData stores a value in the machine's context data, readable by
// future guards and actions via Context.Payload merge on Trigger.
func (m *Machine) SetData(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
}

func (m *Machine) findTransition(current State, event Event, payload map[string]any) *Transition {
	for i := range m.transitions {
		t := &m.transitions[i]
		if t.From != current && t.From != Wildcard {
			continue
		}
		if t.Event != event {
			continue
		}
		if t.Guard != nil && !t.Guard(Context{State: current, Event: event, Payload: payload}) {
			continue
		}
		return t
	}
	return nil
}

// Trigger attempts to apply event against the machine's current state. If
// no transition row matches (no matching From/Event pair, or every
// matching row's Guard rejects it), Trigger leaves the state unchanged,
// emits no phase_transition, and returns the unchanged state with a nil
// error: an unmatched trigger is not itself an error condition.
func (m *Machine) Trigger(event Event, payload map[string]any) (State, error) {
	state, _, err := m.trigger("", event, payload)
	return state, err
}

// TriggerIdempotent behaves like Trigger but is a no-op (returning the
// current state, applied=false) if operationID has already been applied
// by a prior call, preventing duplicate delivery of the same trigger from
// double-advancing the machine. applied is true whenever a transition row
// actually matched and fired, even if that transition was a self-loop.
func (m *Machine) TriggerIdempotent(operationID string, event Event, payload map[string]any) (state State, applied bool, err error) {
	m.mu.Lock()
	if _, seen := m.appliedOps[operationID]; seen {
		cur := m.current
		m.mu.Unlock()
		return cur, false, nil
	}
	m.mu.Unlock()

	return m.trigger(operationID, event, payload)
}

func (m *Machine) trigger(operationID string, event Event, payload map[string]any) (state State, applied bool, err error) {
	m.mu.Lock()
	current := m.current
	merged := make(map[string]any, len(m.data)+len(payload))
	for k, v := range m.data {
		merged[k] = v
	}
	for k, v := range payload {
		merged[k] = v
	}
	payload = merged
	t := m.findTransition(current, event, payload)
	if t == nil {
		m.mu.Unlock()
		return current, false, nil
	}
	m.mu.Unlock()

	ctx := Context{State: current, Event: event, Payload: payload}
	if t.Action != nil {
		if aerr := t.Action(ctx); aerr != nil {
			return current, false, fmt.Errorf("fsm: action for %s/%s failed: %w", current, event, aerr)
		}
	}

	to := t.To
	if to == Wildcard {
		to = current
	}

	m.mu.Lock()
	m.current = to
	entry := HistoryEntry{From: current, To: to, Event: event, At: time.Now().UTC(), Operation: operationID}
	m.history = append(m.history, entry)
	if operationID != "" {
		m.appliedOps[operationID] = struct{}{}
	}
	hook := m.onPhase
	m.mu.Unlock()

	if hook != nil {
		hook(entry)
	}
	return to, true, nil
}
