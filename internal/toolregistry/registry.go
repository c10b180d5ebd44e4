// Package toolregistry implements finger's Tool Registry, Agent tool
// access control, and Tool Authorization Engine (spec §4.B / §4.G): tool
// definition storage and invocation, per-agent allow/deny/whitelist
// policy, and one-shot (or N-shot) authorization grants for tools marked
// as requiring explicit authorization.
//
// Grounded in shape on the teacher's agent/registry/registry.go (a
// map[string]*Record behind an RWMutex with Register/Unregister/Get/List)
// and on the tool-invocation contract of mcp/handlers/handlers.go (look
// up a tool by name, validate before invoking, return a structured
// error on rejection). The access-control and authorization logic itself
// is new domain logic the teacher has no direct analogue for; it is
// grounded on the same registry shape and sentinel-error idiom.
package toolregistry

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Errors surfaced by the registry, matching the spec §7 sentinel-error
// convention (one exported var per failure kind).
var (
	ErrToolNotFound          = errors.New("toolregistry: tool not found")
	ErrToolAlreadyRegistered = errors.New("toolregistry: tool already registered")
	ErrAccessDenied          = errors.New("toolregistry: agent is not permitted to use this tool")
	ErrAuthorizationRequired = errors.New("toolregistry: tool requires an authorization grant")
	ErrAuthorizationExpired  = errors.New("toolregistry: authorization grant expired or exhausted")
	ErrAuthorizationScopeMismatch = errors.New("toolregistry: authorization token does not match this agentId/toolName")
)

// ExecuteFunc implements a tool's behavior.
type ExecuteFunc func(ctx context.Context, args map[string]any) (any, error)

// ToolPolicy is the Tool Registry's own allow/deny flag for a
// definition, independent of the per-agent Agent tool access layer.
type ToolPolicy string

const (
	ToolPolicyAllow ToolPolicy = "allow"
	ToolPolicyDeny  ToolPolicy = "deny"
)

// ToolDef is a registered tool definition.
type ToolDef struct {
	Name        string
	Description string
	InputSchema map[string]any
	Policy      ToolPolicy // defaults to ToolPolicyAllow when unset
	Execute     ExecuteFunc
}

// Registry holds every registered tool and enforces, on Execute, both the
// Agent tool access policy and the Tool Authorization Engine.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]ToolDef
	Access *AgentAccess
	Authz  *Authorization
}

// New constructs an empty Registry with a default-deny access policy.
func New() *Registry {
	return &Registry{
		tools:  make(map[string]ToolDef),
		Access: NewAgentAccess(),
		Authz:  NewAuthorization(),
	}
}

// Register adds def to the registry. Re-registering an existing name
// fails with ErrToolAlreadyRegistered.
func (r *Registry) Register(def ToolDef) error {
	if def.Policy == "" {
		def.Policy = ToolPolicyAllow
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("%w: %s", ErrToolAlreadyRegistered, def.Name)
	}
	r.tools[def.Name] = def
	return nil
}

// SetPolicy updates a registered tool's own allow/deny policy in place,
// implementing `PUT /tools/{name}/policy`. It is distinct from the Agent
// tool access layer's per-agent rules: a deny here blocks every agent
// regardless of their individual whitelist/grant state.
func (r *Registry) SetPolicy(name string, policy ToolPolicy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.tools[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	def.Policy = policy
	r.tools[name] = def
	return nil
}

// Unregister removes a tool definition. It is not an error to unregister
// a name that was never registered.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns the tool definition registered under name.
func (r *Registry) Get(name string) (ToolDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	return d, ok
}

// List returns every registered tool definition.
func (r *Registry) List() []ToolDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolDef, 0, len(r.tools))
	for _, d := range r.tools {
		out = append(out, d)
	}
	return out
}

// Execute runs the named tool on behalf of agentID, after checking agent
// access policy and, if the tool requires it, verifying and consuming one
// use from authorizationToken (the opaque bearer credential returned by
// Authorization.Issue; empty if the tool requires no authorization).
func (r *Registry) Execute(ctx context.Context, agentID, toolName string, args map[string]any, authorizationToken string) (any, error) {
	def, ok := r.Get(toolName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, toolName)
	}
	if def.Policy == ToolPolicyDeny {
		return nil, fmt.Errorf("%w: tool=%s policy=deny", ErrAccessDenied, toolName)
	}

	if !r.Access.CanUse(agentID, toolName) {
		return nil, fmt.Errorf("%w: agent=%s tool=%s", ErrAccessDenied, agentID, toolName)
	}

	ok, err := r.Authz.VerifyAndConsume(authorizationToken, agentID, toolName)
	if err != nil {
		return nil, fmt.Errorf("agent=%s tool=%s: %w", agentID, toolName, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: agent=%s tool=%s", ErrAuthorizationRequired, agentID, toolName)
	}

	return def.Execute(ctx, args)
}
