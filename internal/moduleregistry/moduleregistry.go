// Package moduleregistry implements finger's Module Registry (spec §4.E):
// module record lifecycle (register -> initialize -> handle -> destroy ->
// unregister), module kind validation, and wiring a module's default
// routes into the Message Hub on registration.
//
// Grounded on the teacher's agent/registry/registry.go: a
// map[string]*Record behind a mutex, Register/Unregister/Get/List,
// LoadFromFile reading a JSON manifest, and an embedded-defaults
// fallback. Generalized here from a single "agent type" record kind to
// the spec's {input, output, processor} module kinds, and from static
// agent configuration to live handler functions wired directly into the
// Hub.
package moduleregistry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sync"

	"go.uber.org/zap"

	"github.com/jasonzhangf/finger/internal/hub"
	"github.com/jasonzhangf/finger/internal/logger"
)

// Kind is the fixed enumeration of module kinds the spec recognises.
type Kind string

const (
	KindInput     Kind = "input"
	KindOutput    Kind = "output"
	KindProcessor Kind = "processor"
)

var validKinds = map[Kind]struct{}{
	KindInput: {}, KindOutput: {}, KindProcessor: {},
}

// Errors surfaced by the registry.
var (
	ErrInvalidKind     = errors.New("moduleregistry: invalid module kind")
	ErrAlreadyRegistered = errors.New("moduleregistry: module already registered")
	ErrNotRegistered   = errors.New("moduleregistry: module not registered")
	ErrUnknownHandlerRef = errors.New("moduleregistry: unknown handler reference")
)

// RouteSpec describes a route to wire into the Hub when a module
// registers, using the module's own Handler.
type RouteSpec struct {
	ID          string
	Pattern     hub.Pattern
	Blocking    bool
	Priority    int
	Description string
}

// Module is a registrable unit of processing logic.
type Module struct {
	ID            string
	Kind          Kind
	Description   string
	Handler       hub.HandlerFunc
	DefaultRoutes []RouteSpec
	Init          func(ctx context.Context) error
	Destroy       func(ctx context.Context) error
}

type entry struct {
	module      Module
	initialized bool
	routeIDs    []string
}

// Registry is the process-wide Module Registry.
type Registry struct {
	mu      sync.Mutex
	modules map[string]*entry
	hub     *hub.Hub
	log     *logger.Logger
}

// New constructs a Registry wired to h.
func New(h *hub.Hub, log *logger.Logger) *Registry {
	if log == nil {
		log = logger.Default()
	}
	return &Registry{modules: make(map[string]*entry), hub: h, log: log}
}

// Register validates m's kind, initializes it, wires its handler into the
// Hub's input/output table, installs its default routes, and records it
// as a live module.
func (r *Registry) Register(ctx context.Context, m Module) error {
	if _, ok := validKinds[m.Kind]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidKind, m.Kind)
	}

	r.mu.Lock()
	if _, exists := r.modules[m.ID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, m.ID)
	}
	e := &entry{module: m}
	r.modules[m.ID] = e
	r.mu.Unlock()

	if m.Init != nil {
		if err := m.Init(ctx); err != nil {
			r.mu.Lock()
			delete(r.modules, m.ID)
			r.mu.Unlock()
			return fmt.Errorf("moduleregistry: init %s: %w", m.ID, err)
		}
	}
	e.initialized = true

	if m.Handler != nil {
		switch m.Kind {
		case KindInput, KindProcessor:
			r.hub.RegisterInput(m.ID, m.Handler)
		case KindOutput:
			r.hub.RegisterOutput(m.ID, m.Handler)
		}
	}

	for i, rs := range m.DefaultRoutes {
		routeID := rs.ID
		if routeID == "" {
			routeID = fmt.Sprintf("%s/default/%d", m.ID, i)
		}
		r.hub.AddRoute(&hub.Route{
			ID:          routeID,
			Pattern:     rs.Pattern,
			Handler:     m.Handler,
			Blocking:    rs.Blocking,
			Priority:    rs.Priority,
			Description: rs.Description,
		})
		e.routeIDs = append(e.routeIDs, routeID)
	}

	r.log.Info("module registered", zap.String("id", m.ID), zap.String("kind", string(m.Kind)))
	return nil
}

// Unregister tears down the module: removes its default routes, removes
// it from the Hub's input/output table, and calls its Destroy hook.
func (r *Registry) Unregister(ctx context.Context, id string) error {
	r.mu.Lock()
	e, ok := r.modules[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotRegistered, id)
	}
	delete(r.modules, id)
	r.mu.Unlock()

	for _, routeID := range e.routeIDs {
		r.hub.RemoveRoute(routeID)
	}
	r.hub.Unregister(id)

	if e.module.Destroy != nil {
		if err := e.module.Destroy(ctx); err != nil {
			return fmt.Errorf("moduleregistry: destroy %s: %w", id, err)
		}
	}
	r.log.Info("module unregistered", zap.String("id", id))
	return nil
}

// Get returns the module registered under id.
func (r *Registry) Get(id string) (*Module, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.modules[id]
	if !ok {
		return nil, false
	}
	m := e.module
	return &m, true
}

// List returns every currently registered module.
func (r *Registry) List() []Module {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Module, 0, len(r.modules))
	for _, e := range r.modules {
		out = append(out, e.module)
	}
	return out
}

// manifestEntry is the on-disk declarative shape for one module. Patterns
// are literal strings or, when Regex is set, compiled into a regex
// pattern; the live Handler is looked up in the handlers map passed to
// LoadFromFile by HandlerRef.
type manifestEntry struct {
	ID            string                `json:"id"`
	Kind          string                `json:"kind"`
	Description   string                `json:"description"`
	HandlerRef    string                `json:"handlerRef"`
	DefaultRoutes []manifestRouteEntry  `json:"defaultRoutes"`
}

type manifestRouteEntry struct {
	ID          string `json:"id"`
	Pattern     string `json:"pattern"`
	Regex       bool   `json:"regex"`
	Blocking    bool   `json:"blocking"`
	Priority    int    `json:"priority"`
	Description string `json:"description"`
}

// LoadFromFile reads a JSON array of module manifests from path,
// resolves each HandlerRef against handlers, registers every resolved
// module, and returns the IDs registered.
func (r *Registry) LoadFromFile(ctx context.Context, path string, handlers map[string]hub.HandlerFunc) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("moduleregistry: read manifest %s: %w", path, err)
	}

	var entries []manifestEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("moduleregistry: parse manifest %s: %w", path, err)
	}

	var registered []string
	for _, me := range entries {
		handler, ok := handlers[me.HandlerRef]
		if !ok {
			return registered, fmt.Errorf("%w: %s (module %s)", ErrUnknownHandlerRef, me.HandlerRef, me.ID)
		}

		routes := make([]RouteSpec, 0, len(me.DefaultRoutes))
		for _, mr := range me.DefaultRoutes {
			var pattern hub.Pattern
			if mr.Regex {
				re, err := regexp.Compile(mr.Pattern)
				if err != nil {
					return registered, fmt.Errorf("moduleregistry: compile route pattern %q: %w", mr.Pattern, err)
				}
				pattern = hub.Regex(re)
			} else {
				pattern = hub.Literal(mr.Pattern)
			}
			routes = append(routes, RouteSpec{
				ID: mr.ID, Pattern: pattern, Blocking: mr.Blocking,
				Priority: mr.Priority, Description: mr.Description,
			})
		}

		m := Module{
			ID: me.ID, Kind: Kind(me.Kind), Description: me.Description,
			Handler: handler, DefaultRoutes: routes,
		}
		if err := r.Register(ctx, m); err != nil {
			return registered, err
		}
		registered = append(registered, me.ID)
	}
	return registered, nil
}
