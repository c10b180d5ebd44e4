package toolregistry

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Grant is a single authorization to use a tool, addressed by its opaque
// Token (the bearer credential returned to the caller by Issue) and
// consumed one use at a time. RemainingUses < 0 means unlimited until it
// expires.
type Grant struct {
	Token         string
	AgentID       string
	ToolName      string
	RemainingUses int
	ExpiresAt     time.Time // zero value means no expiry
}

func (g *Grant) expired(now time.Time) bool {
	return !g.ExpiresAt.IsZero() && now.After(g.ExpiresAt)
}

func (g *Grant) exhausted() bool {
	return g.RemainingUses == 0
}

// Authorization implements the Tool Authorization Engine: tools may be
// marked as requiring explicit authorization, and callers issue grants
// (one-shot by default) identified by an opaque token; VerifyAndConsume
// checks that the presented token matches the claimed (agentID, toolName)
// scope and draws down one use.
type Authorization struct {
	mu       sync.Mutex
	required map[string]bool
	grants   map[string][]*Grant // key: agentID + "\x00" + toolName
}

// NewAuthorization constructs an empty Authorization engine; by default
// no tool requires authorization.
func NewAuthorization() *Authorization {
	return &Authorization{
		required: make(map[string]bool),
		grants:   make(map[string][]*Grant),
	}
}

func grantKey(agentID, toolName string) string { return agentID + "\x00" + toolName }

// SetToolRequired marks toolName as requiring (or not requiring) an
// authorization grant before it may be used.
func (a *Authorization) SetToolRequired(toolName string, required bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.required[toolName] = required
}

// IsRequired reports whether toolName currently requires authorization.
func (a *Authorization) IsRequired(toolName string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.required[toolName]
}

// Issue creates and stores a new Grant for agentID to use toolName,
// returning it with a freshly generated opaque Token. uses == 0 means a
// single (one-shot) use and uses < 0 means unlimited uses; a negative ttl
// or the zero value means the grant never expires.
func (a *Authorization) Issue(agentID, toolName string, uses int, ttl time.Duration) *Grant {
	if uses == 0 {
		uses = 1
	}
	g := &Grant{Token: uuid.New().String(), AgentID: agentID, ToolName: toolName, RemainingUses: uses}
	if ttl > 0 {
		g.ExpiresAt = time.Now().UTC().Add(ttl)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	key := grantKey(agentID, toolName)
	a.grants[key] = append(a.grants[key], g)
	return g
}

// VerifyAndConsume reports whether token authorizes agentID to use
// toolName right now. If the tool does not require authorization, it
// always returns (true, nil) regardless of token. Otherwise it looks up
// token under the (agentID, toolName) scope:
//   - no grant anywhere matches token: ErrAuthorizationRequired
//   - a grant matches token but under a different (agentID, toolName):
//     ErrAuthorizationScopeMismatch
//   - the matching grant is expired or has no uses left:
//     ErrAuthorizationExpired (and the grant is evicted)
//   - otherwise: one use is consumed (an unlimited grant, RemainingUses
//     < 0, is never exhausted); a grant that reaches zero uses is
//     evicted immediately after this call.
func (a *Authorization) VerifyAndConsume(token, agentID, toolName string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.required[toolName] {
		return true, nil
	}
	if token == "" {
		return false, ErrAuthorizationRequired
	}

	key := grantKey(agentID, toolName)
	now := time.Now().UTC()
	grants := a.grants[key]
	for i, g := range grants {
		if g.Token != token {
			continue
		}
		if g.expired(now) || g.exhausted() {
			a.grants[key] = append(append([]*Grant{}, grants[:i]...), grants[i+1:]...)
			return false, ErrAuthorizationExpired
		}
		if g.RemainingUses > 0 {
			g.RemainingUses--
		}
		if g.exhausted() {
			a.grants[key] = append(append([]*Grant{}, grants[:i]...), grants[i+1:]...)
		}
		return true, nil
	}

	if a.tokenExistsElsewhereLocked(token, key) {
		return false, ErrAuthorizationScopeMismatch
	}
	return false, ErrAuthorizationRequired
}

// tokenExistsElsewhereLocked reports whether token identifies a live
// grant issued under some scope other than exceptKey, distinguishing a
// wrong-scope presentation from a token that was never issued at all.
func (a *Authorization) tokenExistsElsewhereLocked(token, exceptKey string) bool {
	for key, grants := range a.grants {
		if key == exceptKey {
			continue
		}
		for _, g := range grants {
			if g.Token == token {
				return true
			}
		}
	}
	return false
}

// ActiveGrants returns every grant for (agentID, toolName) that is
// neither expired nor exhausted, for observability/testing.
func (a *Authorization) ActiveGrants(agentID, toolName string) []*Grant {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := time.Now().UTC()
	var out []*Grant
	for _, g := range a.grants[grantKey(agentID, toolName)] {
		if !g.expired(now) && !g.exhausted() {
			out = append(out, g)
		}
	}
	return out
}
