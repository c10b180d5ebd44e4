package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) mountModules(v1 *gin.RouterGroup) {
	v1.POST("/module/register", s.handleRegisterModule)
}

// handleRegisterModule implements `POST /api/v1/module/register
// {filePath}`, delegating to moduleregistry.LoadFromFile. Since Go
// handler functions cannot be deserialized from a manifest file, the
// manifest's "handlerRef" entries are resolved against Server.HandlerRefs
// (populated by cmd/fingerd at startup), matching
// moduleregistry.LoadFromFile's documented contract.
func (s *Server) handleRegisterModule(c *gin.Context) {
	var body struct {
		FilePath string `json:"filePath"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if s.Modules == nil {
		notImplemented(c, "module registry")
		return
	}
	ids, err := s.Modules.LoadFromFile(c.Request.Context(), body.FilePath, s.HandlerRefs)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"registered": ids})
}
