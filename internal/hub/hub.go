// Package hub implements finger's in-process Message Hub (spec §4.D):
// pattern-matched asynchronous and blocking routing, pending callbacks for
// out-of-band correlation (gateway round trips), and queue-on-no-route.
//
// The subject/pattern dispatch loop is grounded on the teacher's
// events/bus/memory.go (MemoryEventBus.Publish: iterate subscriptions,
// spawn non-blocking delivery, track queue groups); generalized here from
// plain subject strings to the spec's three pattern kinds and from
// fire-and-forget delivery to a blocking/non-blocking split with a single
// awaited result.
package hub

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/jasonzhangf/finger/internal/logger"
)

// Errors surfaced by the Hub, mapped to the spec §7 taxonomy.
var (
	ErrModuleNotFound = errors.New("hub: module not found")
	ErrNotOutput      = errors.New("hub: module is not an output")
)

// Message is the envelope routed through the hub. Reserved keys "type" and
// "route" participate in literal pattern matching; the whole message
// participates in regex pattern matching via a stable (sorted-key) JSON
// serialization.
type Message map[string]any

// Type returns the message's "type" field, or "".
func (m Message) Type() string {
	s, _ := m["type"].(string)
	return s
}

// Route returns the message's "route" field, or "".
func (m Message) Route() string {
	s, _ := m["route"].(string)
	return s
}

// StableJSON serialises m with sorted keys (Go's encoding/json already
// sorts map[string]any keys), matching the spec's "stably serialise the
// message" requirement for regex pattern matching.
func (m Message) StableJSON() string {
	b, err := json.Marshal(map[string]any(m))
	if err != nil {
		return "{}"
	}
	return string(b)
}

// HandlerFunc processes a matched message and returns a result.
type HandlerFunc func(ctx context.Context, msg Message) (any, error)

// PatternKind selects how Pattern.Matches interprets a Route's pattern.
type PatternKind int

const (
	PatternLiteral PatternKind = iota
	PatternRegex
	PatternPredicate
)

// Pattern is the match test for a Route.
type Pattern struct {
	Kind      PatternKind
	Literal   string
	Regex     *regexp.Regexp
	Predicate func(Message) bool
}

// Literal builds a literal-match Pattern.
func Literal(s string) Pattern { return Pattern{Kind: PatternLiteral, Literal: s} }

// Regex builds a regex-match Pattern, tested against the message's stable
// JSON serialisation.
func Regex(re *regexp.Regexp) Pattern { return Pattern{Kind: PatternRegex, Regex: re} }

// Predicate builds a predicate-match Pattern.
func Predicate(f func(Message) bool) Pattern { return Pattern{Kind: PatternPredicate, Predicate: f} }

// Matches reports whether msg satisfies p.
func (p Pattern) Matches(msg Message) bool {
	switch p.Kind {
	case PatternLiteral:
		return msg.Type() == p.Literal || msg.Route() == p.Literal
	case PatternRegex:
		if p.Regex == nil {
			return false
		}
		return p.Regex.MatchString(msg.StableJSON())
	case PatternPredicate:
		if p.Predicate == nil {
			return false
		}
		return p.Predicate(msg)
	default:
		return false
	}
}

// Route is a pattern-matched handler registration.
type Route struct {
	ID          string
	Pattern     Pattern
	Handler     HandlerFunc
	Blocking    bool
	Priority    int
	Description string

	seq int64 // insertion order, for stable priority ties
}

type blockingResult struct {
	route  *Route
	result any
	err    error
}

// Hub is the process-wide Message Hub.
type Hub struct {
	mu       sync.Mutex
	routes   []*Route
	nextSeq  int64
	inputs   map[string]HandlerFunc
	outputs  map[string]HandlerFunc
	pending  map[string]func(any, error)
	queue    []Message
	queueCap int
	log      *logger.Logger
}

// New constructs a Hub. queueCap <= 0 defaults to 10000, matching the
// spec's default bounded unroutable-message queue.
func New(queueCap int, log *logger.Logger) *Hub {
	if queueCap <= 0 {
		queueCap = 10000
	}
	if log == nil {
		log = logger.Default()
	}
	return &Hub{
		inputs:   make(map[string]HandlerFunc),
		outputs:  make(map[string]HandlerFunc),
		pending:  make(map[string]func(any, error)),
		queueCap: queueCap,
		log:      log,
	}
}

// AddRoute inserts route, keeping the route list sorted strictly
// non-increasing by priority (ties broken by insertion order).
func (h *Hub) AddRoute(r *Route) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextSeq++
	r.seq = h.nextSeq
	h.routes = append(h.routes, r)
	sort.SliceStable(h.routes, func(i, j int) bool {
		return h.routes[i].Priority > h.routes[j].Priority
	})
}

// RemoveRoute removes the route with the given id, returning whether it was
// present.
func (h *Hub) RemoveRoute(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, r := range h.routes {
		if r.ID == id {
			h.routes = append(h.routes[:i], h.routes[i+1:]...)
			return true
		}
	}
	return false
}

// Routes returns a snapshot of the current route list, priority-sorted.
func (h *Hub) Routes() []*Route {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Route, len(h.routes))
	copy(out, h.routes)
	return out
}

// RegisterInput wires id as an input-kind module handler, reachable via
// SendToModule.
func (h *Hub) RegisterInput(id string, handler HandlerFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inputs[id] = handler
}

// RegisterOutput wires id as an output-kind module handler, reachable via
// SendToModule and RouteToOutput.
func (h *Hub) RegisterOutput(id string, handler HandlerFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.outputs[id] = handler
}

// Unregister removes id from both the input and output tables.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.inputs, id)
	delete(h.outputs, id)
}

// matchingRoutes returns the priority-sorted routes whose pattern matches
// msg, split into blocking and non-blocking.
func (h *Hub) matchingRoutes(msg Message) (blocking, nonBlocking []*Route) {
	h.mu.Lock()
	routes := make([]*Route, len(h.routes))
	copy(routes, h.routes)
	h.mu.Unlock()

	for _, r := range routes {
		if !r.Pattern.Matches(msg) {
			continue
		}
		if r.Blocking {
			blocking = append(blocking, r)
		} else {
			nonBlocking = append(nonBlocking, r)
		}
	}
	return blocking, nonBlocking
}

// Send routes msg through the route table. If no route matches, msg is
// enqueued and Send returns (nil, nil). Otherwise every matching
// non-blocking handler is invoked exactly once, fire-and-forget; every
// matching blocking handler is invoked exactly once, and the result of
// whichever blocking handler is first in priority order is returned (and,
// if callback is non-nil, passed to it). A blocking handler error from that
// first handler propagates as Send's error.
func (h *Hub) Send(ctx context.Context, msg Message, callback func(any, error)) (any, error) {
	blocking, nonBlocking := h.matchingRoutes(msg)

	if len(blocking) == 0 && len(nonBlocking) == 0 {
		h.enqueue(msg)
		return nil, nil
	}

	for _, r := range nonBlocking {
		go h.invokeNonBlocking(ctx, r, msg)
	}

	if len(blocking) == 0 {
		return nil, nil
	}

	results := make([]blockingResult, len(blocking))
	var wg sync.WaitGroup
	wg.Add(len(blocking))
	for i, r := range blocking {
		i, r := i, r
		go func() {
			defer wg.Done()
			res, err := h.invoke(ctx, r, msg)
			results[i] = blockingResult{route: r, result: res, err: err}
		}()
	}
	wg.Wait()

	first := results[0]
	for _, br := range results[1:] {
		if br.err != nil {
			h.log.Error("blocking handler error (non-first)",
				zap.String("route_id", br.route.ID), zap.Error(br.err))
		}
	}
	if callback != nil {
		callback(first.result, first.err)
	}
	return first.result, first.err
}

func (h *Hub) invoke(ctx context.Context, r *Route, msg Message) (res any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler %s panicked: %v", r.ID, rec)
		}
	}()
	return r.Handler(ctx, msg)
}

func (h *Hub) invokeNonBlocking(ctx context.Context, r *Route, msg Message) {
	_, err := h.invoke(ctx, r, msg)
	if err != nil {
		h.log.Error("non-blocking handler error",
			zap.String("route_id", r.ID), zap.Error(err))
	}
}

func (h *Hub) enqueue(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.queue) >= h.queueCap {
		h.queue = h.queue[1:]
		h.log.Warn("hub queue full, dropping oldest message", zap.Int("capacity", h.queueCap))
	}
	h.queue = append(h.queue, msg)
}

// QueueLen reports the number of messages awaiting a matching route.
func (h *Hub) QueueLen() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.queue)
}

// ProcessQueue re-attempts Send for every queued message, draining any that
// now match at least one route. Returns the number drained.
func (h *Hub) ProcessQueue() int {
	h.mu.Lock()
	pending := h.queue
	h.queue = nil
	h.mu.Unlock()

	var stillQueued []Message
	drained := 0
	for _, msg := range pending {
		blocking, nonBlocking := h.matchingRoutes(msg)
		if len(blocking) == 0 && len(nonBlocking) == 0 {
			stillQueued = append(stillQueued, msg)
			continue
		}
		_, _ = h.Send(context.Background(), msg, nil)
		drained++
	}

	h.mu.Lock()
	h.queue = append(stillQueued, h.queue...)
	h.mu.Unlock()

	return drained
}

// SendToModule dispatches msg directly to the module registered under id,
// bypassing route matching. Fails with ErrModuleNotFound if id is not
// registered as an input or output.
func (h *Hub) SendToModule(ctx context.Context, id string, msg Message, callback func(any, error)) (any, error) {
	h.mu.Lock()
	handler, ok := h.inputs[id]
	if !ok {
		handler, ok = h.outputs[id]
	}
	h.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, id)
	}
	res, err := handler(ctx, msg)
	if callback != nil {
		callback(res, err)
	}
	return res, err
}

// RouteToOutput dispatches msg directly to the output-kind module
// registered under id, awaiting its result.
func (h *Hub) RouteToOutput(ctx context.Context, id string, msg Message, callback func(any, error)) (any, error) {
	h.mu.Lock()
	handler, ok := h.outputs[id]
	h.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotOutput, id)
	}
	res, err := handler(ctx, msg)
	if callback != nil {
		callback(res, err)
	}
	return res, err
}

// RegisterPendingCallback stores fn under a freshly generated callback ID
// and returns it, for components (e.g. the Gateway Supervisor) that must
// correlate an asynchronous reply arriving on a different goroutine back to
// the original caller.
func (h *Hub) RegisterPendingCallback(fn func(any, error)) string {
	id := randomID()
	h.mu.Lock()
	h.pending[id] = fn
	h.mu.Unlock()
	return id
}

// ResolvePendingCallback invokes and removes the callback registered under
// id, returning whether one was found.
func (h *Hub) ResolvePendingCallback(id string, result any, err error) bool {
	h.mu.Lock()
	fn, ok := h.pending[id]
	if ok {
		delete(h.pending, id)
	}
	h.mu.Unlock()
	if ok {
		fn(result, err)
	}
	return ok
}

func randomID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
