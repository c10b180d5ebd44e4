package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jasonzhangf/finger/internal/toolregistry"
)

func (s *Server) mountTools(v1 *gin.RouterGroup) {
	tools := v1.Group("/tools")
	tools.GET("", s.handleListTools)
	tools.PUT("/:name/policy", s.handleSetToolPolicy)
	tools.PUT("/:name/authorization", s.handleSetToolAuthorizationRequired)
	tools.POST("/authorizations", s.handleIssueAuthorization)
	tools.DELETE("/authorizations/:token", s.handleRevokeAuthorization)
	tools.POST("/execute", s.handleExecuteTool)
	tools.GET("/agents/:id/policy", s.handleGetAgentPolicy)
	tools.PUT("/agents/:id/policy", s.handleSetAgentPolicy)
	tools.POST("/agents/:id/grant", s.handleAgentPolicyAction("grant"))
	tools.POST("/agents/:id/revoke", s.handleAgentPolicyAction("revoke"))
	tools.POST("/agents/:id/deny", s.handleAgentPolicyAction("deny"))
	tools.POST("/agents/:id/allow", s.handleAgentPolicyAction("allow"))
}

func (s *Server) handleListTools(c *gin.Context) {
	if s.Tools == nil {
		notImplemented(c, "tool registry")
		return
	}
	defs := s.Tools.List()
	out := make([]gin.H, 0, len(defs))
	for _, d := range defs {
		out = append(out, gin.H{"name": d.Name, "description": d.Description})
	}
	c.JSON(http.StatusOK, gin.H{"tools": out})
}

func (s *Server) handleSetToolPolicy(c *gin.Context) {
	var body struct {
		Policy string `json:"policy"` // allow|deny
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if s.Tools == nil {
		notImplemented(c, "tool registry")
		return
	}
	var policy toolregistry.ToolPolicy
	switch body.Policy {
	case "allow":
		policy = toolregistry.ToolPolicyAllow
	case "deny":
		policy = toolregistry.ToolPolicyDeny
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "policy must be allow or deny"})
		return
	}
	if err := s.Tools.SetPolicy(c.Param("name"), policy); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": c.Param("name"), "policy": body.Policy})
}

func (s *Server) handleSetToolAuthorizationRequired(c *gin.Context) {
	var body struct {
		Required bool `json:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if s.Tools == nil {
		notImplemented(c, "tool registry")
		return
	}
	s.Tools.Authz.SetToolRequired(c.Param("name"), body.Required)
	c.JSON(http.StatusOK, gin.H{"name": c.Param("name"), "required": body.Required})
}

func (s *Server) handleIssueAuthorization(c *gin.Context) {
	var body struct {
		AgentID  string `json:"agentId"`
		ToolName string `json:"toolName"`
		TTLMs    int64  `json:"ttlMs"`
		MaxUses  int    `json:"maxUses"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if s.Tools == nil {
		notImplemented(c, "tool registry")
		return
	}
	grant := s.Tools.Authz.Issue(body.AgentID, body.ToolName, body.MaxUses, time.Duration(body.TTLMs)*time.Millisecond)
	c.JSON(http.StatusCreated, grant)
}

func (s *Server) handleRevokeAuthorization(c *gin.Context) {
	// toolregistry.Authorization exposes no direct revoke-by-token method
	// (grants expire on their own via VerifyAndConsume once exhausted or
	// past ExpiresAt); the token path parameter is accepted for API-shape
	// compatibility but this endpoint does not force early revocation.
	if s.Tools == nil {
		notImplemented(c, "tool registry")
		return
	}
	c.JSON(http.StatusNotImplemented, gin.H{"error": "per-token revocation is not supported; grants expire via TTL or use-exhaustion"})
}

func (s *Server) handleExecuteTool(c *gin.Context) {
	var body struct {
		AgentID            string         `json:"agentId"`
		ToolName           string         `json:"toolName"`
		Input              map[string]any `json:"input"`
		AuthorizationToken string         `json:"authorizationToken"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if s.Tools == nil {
		notImplemented(c, "tool registry")
		return
	}
	result, err := s.Tools.Execute(c.Request.Context(), body.AgentID, body.ToolName, body.Input, body.AuthorizationToken)
	if err != nil {
		status := http.StatusBadRequest
		switch {
		case errors.Is(err, toolregistry.ErrToolNotFound):
			status = http.StatusNotFound
		case errors.Is(err, toolregistry.ErrAccessDenied),
			errors.Is(err, toolregistry.ErrAuthorizationRequired),
			errors.Is(err, toolregistry.ErrAuthorizationExpired),
			errors.Is(err, toolregistry.ErrAuthorizationScopeMismatch):
			status = http.StatusForbidden
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

func (s *Server) handleGetAgentPolicy(c *gin.Context) {
	if s.Tools == nil {
		notImplemented(c, "tool registry")
		return
	}
	// Access resolution is per-tool-check (CanUse), not a dumpable table;
	// the control plane reports what it can: whether a named tool query
	// would currently be allowed.
	tool := c.Query("tool")
	if tool == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tool query parameter required"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"agentId": c.Param("id"), "tool": tool, "allowed": s.Tools.Access.CanUse(c.Param("id"), tool)})
}

func (s *Server) handleSetAgentPolicy(c *gin.Context) {
	var body struct {
		Whitelist []string `json:"whitelist"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if s.Tools == nil {
		notImplemented(c, "tool registry")
		return
	}
	s.Tools.Access.SetWhitelist(c.Param("id"), body.Whitelist)
	c.JSON(http.StatusOK, gin.H{"agentId": c.Param("id"), "whitelist": body.Whitelist})
}

func (s *Server) handleAgentPolicyAction(action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			ToolName string `json:"toolName"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if s.Tools == nil {
			notImplemented(c, "tool registry")
			return
		}
		agentID := c.Param("id")
		switch action {
		case "grant":
			s.Tools.Access.Grant(agentID, body.ToolName)
		case "deny":
			s.Tools.Access.Deny(agentID, body.ToolName)
		case "allow":
			s.Tools.Access.Allow(agentID, body.ToolName)
		case "revoke":
			s.Tools.Access.Allow(agentID, body.ToolName) // clears an explicit deny only; an explicit grant stays in place
		}
		c.JSON(http.StatusOK, gin.H{"agentId": agentID, "toolName": body.ToolName, "action": action})
	}
}
