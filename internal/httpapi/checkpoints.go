package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) mountCheckpoints(v1 *gin.RouterGroup) {
	v1.POST("/session/checkpoint", s.handleCreateCheckpoint)
	v1.GET("/session/checkpoint/:id", s.handleGetCheckpoint)
	v1.GET("/session/:id/checkpoint/latest", s.handleLatestCheckpoint)
	v1.POST("/session/resume", s.handleResumeSession)
}

func (s *Server) handleCreateCheckpoint(c *gin.Context) {
	var body struct {
		WorkflowID string `json:"workflowId"`
		Label      string `json:"label"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if s.Workflows == nil {
		notImplemented(c, "workflow manager")
		return
	}
	ck, err := s.Workflows.CreateCheckpoint(body.WorkflowID, body.Label)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, ck)
}

// handleGetCheckpoint looks a checkpoint up by id among the latest
// checkpoint of every workflow the caller names via the `workflowId`
// query parameter; the Workflow Manager indexes checkpoints per
// workflow, not by a flat checkpoint-id table.
func (s *Server) handleGetCheckpoint(c *gin.Context) {
	workflowID := c.Query("workflowId")
	if workflowID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "workflowId query parameter required"})
		return
	}
	if s.Workflows == nil {
		notImplemented(c, "workflow manager")
		return
	}
	ck, err := s.Workflows.FindLatestCheckpoint(workflowID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if ck.ID != c.Param("id") {
		c.JSON(http.StatusNotFound, gin.H{"error": "checkpoint not found"})
		return
	}
	c.JSON(http.StatusOK, ck)
}

func (s *Server) handleLatestCheckpoint(c *gin.Context) {
	if s.Workflows == nil {
		notImplemented(c, "workflow manager")
		return
	}
	ck, err := s.Workflows.FindLatestCheckpoint(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, ck)
}

func (s *Server) handleResumeSession(c *gin.Context) {
	var body struct {
		WorkflowID string `json:"workflowId"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if s.Workflows == nil {
		notImplemented(c, "workflow manager")
		return
	}
	resumeCtx, err := s.Workflows.BuildResumeContext(body.WorkflowID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resumeCtx)
}
