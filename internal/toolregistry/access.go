package toolregistry

import "sync"

// Policy is the global fallback access decision applied when an agent has
// no whitelist, grant, or deny entry for a tool.
type Policy int

const (
	// PolicyDenyAll is the default: an agent may use a tool only via an
	// explicit whitelist entry or an explicit Grant.
	PolicyDenyAll Policy = iota
	// PolicyAllowAll permits every agent to use every registered tool
	// unless explicitly Deny'd.
	PolicyAllowAll
)

// AgentAccess implements the spec's per-agent tool access control:
// CanUse/SetWhitelist/Grant/Deny/AllowAll/DenyAll/SetPolicy. Resolution
// order for a given (agent, tool) pair is: explicit Deny wins, then
// explicit Grant, then whitelist membership (if a whitelist was set for
// that agent), then the global Policy.
type AgentAccess struct {
	mu         sync.RWMutex
	policy     Policy
	whitelists map[string]map[string]struct{}
	grants     map[string]map[string]struct{}
	denies     map[string]map[string]struct{}
}

// NewAgentAccess constructs an AgentAccess starting at PolicyDenyAll.
func NewAgentAccess() *AgentAccess {
	return &AgentAccess{
		whitelists: make(map[string]map[string]struct{}),
		grants:     make(map[string]map[string]struct{}),
		denies:     make(map[string]map[string]struct{}),
	}
}

// AllowAll sets the global fallback policy to allow every agent to use
// every tool, absent an explicit Deny.
func (a *AgentAccess) AllowAll() { a.SetPolicy(PolicyAllowAll) }

// DenyAll sets the global fallback policy to deny every agent unless it
// has a whitelist entry or explicit Grant for the tool.
func (a *AgentAccess) DenyAll() { a.SetPolicy(PolicyDenyAll) }

// SetPolicy sets the global fallback policy directly.
func (a *AgentAccess) SetPolicy(p Policy) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.policy = p
}

// SetWhitelist restricts agentID to exactly the given tool names,
// overriding the global policy for that agent (explicit Deny still wins).
func (a *AgentAccess) SetWhitelist(agentID string, tools []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	set := make(map[string]struct{}, len(tools))
	for _, t := range tools {
		set[t] = struct{}{}
	}
	a.whitelists[agentID] = set
}

// Grant explicitly permits agentID to use toolName, regardless of
// whitelist or global policy (unless also explicitly Deny'd, which takes
// precedence).
func (a *AgentAccess) Grant(agentID, toolName string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.grants[agentID] == nil {
		a.grants[agentID] = make(map[string]struct{})
	}
	a.grants[agentID][toolName] = struct{}{}
}

// Deny explicitly forbids agentID from using toolName. Deny always wins
// over Grant, whitelist membership, and global policy.
func (a *AgentAccess) Deny(agentID, toolName string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.denies[agentID] == nil {
		a.denies[agentID] = make(map[string]struct{})
	}
	a.denies[agentID][toolName] = struct{}{}
}

// Allow removes any explicit Deny previously set for (agentID, toolName),
// restoring resolution to Grant/whitelist/policy.
func (a *AgentAccess) Allow(agentID, toolName string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if set, ok := a.denies[agentID]; ok {
		delete(set, toolName)
	}
}

// CanUse resolves whether agentID may use toolName.
func (a *AgentAccess) CanUse(agentID, toolName string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if set, ok := a.denies[agentID]; ok {
		if _, denied := set[toolName]; denied {
			return false
		}
	}
	if set, ok := a.grants[agentID]; ok {
		if _, granted := set[toolName]; granted {
			return true
		}
	}
	if set, ok := a.whitelists[agentID]; ok {
		_, allowed := set[toolName]
		return allowed
	}
	return a.policy == PolicyAllowAll
}
