// Package eventbus implements finger's Event Bus (spec §4.A): typed event
// emission, grouped subscription, and bounded history.
//
// The dispatch shape is grounded on the teacher's in-memory event bus
// (events/bus/memory.go): a subject/pattern table protected by a mutex,
// handlers invoked without blocking the publisher. Here the "subject" axis
// is split into the two fixed indices the spec requires: event type and
// event group.
package eventbus

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jasonzhangf/finger/internal/logger"
)

// Group is one of the fixed event groups the spec enumerates.
type Group string

const (
	GroupSession      Group = "SESSION"
	GroupTask         Group = "TASK"
	GroupTool         Group = "TOOL"
	GroupDialog       Group = "DIALOG"
	GroupProgress     Group = "PROGRESS"
	GroupPhase        Group = "PHASE"
	GroupHumanInLoop  Group = "HUMAN_IN_LOOP"
	GroupSystem       Group = "SYSTEM"
)

var validGroups = map[Group]struct{}{
	GroupSession: {}, GroupTask: {}, GroupTool: {}, GroupDialog: {},
	GroupProgress: {}, GroupPhase: {}, GroupHumanInLoop: {}, GroupSystem: {},
}

// IsValidGroup reports whether g is one of the fixed enumeration values.
func IsValidGroup(g Group) bool {
	_, ok := validGroups[g]
	return ok
}

// Event is an immutable-after-emit record on the bus.
type Event struct {
	ID          string         `json:"id"`
	TimestampMs int64          `json:"timestampMs"`
	TimestampISO string        `json:"timestamp"`
	Type        string         `json:"type"`
	Group       Group          `json:"group"`
	SessionID   string         `json:"sessionId,omitempty"`
	AgentID     string         `json:"agentId,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// Handler processes a stored event. A handler error is logged; it never
// suppresses other handlers or the store.
type Handler func(Event)

// Filter narrows a History query.
type Filter struct {
	Type      string
	Group     Group
	SessionID string
}

type subscription struct {
	id      uint64
	byType  string
	byGroup Group
	handler Handler
}

// Bus is the process-wide Event Bus singleton implementation.
type Bus struct {
	mu          sync.Mutex
	subs        []*subscription
	nextSubID   uint64
	history     []Event
	historyCap  int
	log         *logger.Logger
}

// New constructs a Bus with the given bounded history size (default 1000
// when historyCap <= 0).
func New(historyCap int, log *logger.Logger) *Bus {
	if historyCap <= 0 {
		historyCap = 1000
	}
	if log == nil {
		log = logger.Default()
	}
	return &Bus{historyCap: historyCap, log: log}
}

// Emit stores evt (assigning ID/timestamps if absent) and synchronously
// invokes every matching subscriber in registration order. A handler panic
// or error is logged and does not stop the remaining handlers nor the
// store.
func (b *Bus) Emit(evt Event) Event {
	if evt.ID == "" {
		evt.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if evt.TimestampMs == 0 {
		evt.TimestampMs = now.UnixMilli()
	}
	if evt.TimestampISO == "" {
		evt.TimestampISO = now.Format(time.RFC3339Nano)
	}

	b.mu.Lock()
	b.history = append(b.history, evt)
	if len(b.history) > b.historyCap {
		b.history = b.history[len(b.history)-b.historyCap:]
	}
	subs := make([]*subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, s := range subs {
		if s.byType != "" && s.byType != evt.Type {
			continue
		}
		if s.byGroup != "" && s.byGroup != evt.Group {
			continue
		}
		b.invoke(s, evt)
	}
	return evt
}

func (b *Bus) invoke(s *subscription, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked",
				zap.Any("recover", r), zap.String("event_type", evt.Type))
		}
	}()
	s.handler(evt)
}

// Subscription can be cancelled.
type Subscription struct {
	bus *Bus
	id  uint64
}

// Unsubscribe removes the handler; safe to call multiple times.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	for i, sub := range s.bus.subs {
		if sub.id == s.id {
			s.bus.subs = append(s.bus.subs[:i], s.bus.subs[i+1:]...)
			return
		}
	}
}

// SubscribeByType registers handler for every event whose Type matches.
func (b *Bus) SubscribeByType(eventType string, handler Handler) *Subscription {
	return b.subscribe(&subscription{byType: eventType, handler: handler})
}

// SubscribeByGroup registers handler for every event in group.
func (b *Bus) SubscribeByGroup(group Group, handler Handler) *Subscription {
	return b.subscribe(&subscription{byGroup: group, handler: handler})
}

func (b *Bus) subscribe(s *subscription) *Subscription {
	b.mu.Lock()
	b.nextSubID++
	s.id = b.nextSubID
	b.subs = append(b.subs, s)
	b.mu.Unlock()
	return &Subscription{bus: b, id: s.id}
}

// History returns up to limit events matching filter, oldest first. A
// limit <= 0 means unbounded (still capped by the history buffer itself).
func (b *Bus) History(filter Filter, limit int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Event, 0, len(b.history))
	for _, e := range b.history {
		if filter.Type != "" && filter.Type != e.Type {
			continue
		}
		if filter.Group != "" && filter.Group != e.Group {
			continue
		}
		if filter.SessionID != "" && filter.SessionID != e.SessionID {
			continue
		}
		out = append(out, e)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Len reports the current number of retained history entries.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.history)
}
