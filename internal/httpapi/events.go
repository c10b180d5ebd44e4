package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jasonzhangf/finger/internal/eventbus"
)

func (s *Server) mountEvents(v1 *gin.RouterGroup) {
	events := v1.Group("/events")
	events.GET("/types", s.handleEventTypes)
	events.GET("/groups", s.handleEventGroups)
	events.GET("/history", s.handleEventHistory)
}

func (s *Server) handleEventTypes(c *gin.Context) {
	if s.Bus == nil {
		notImplemented(c, "event bus")
		return
	}
	types := map[string]struct{}{}
	for _, e := range s.Bus.History(eventbus.Filter{}, 0) {
		types[e.Type] = struct{}{}
	}
	out := make([]string, 0, len(types))
	for t := range types {
		out = append(out, t)
	}
	c.JSON(http.StatusOK, gin.H{"types": out})
}

func (s *Server) handleEventGroups(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"groups": []eventbus.Group{
		eventbus.GroupSession, eventbus.GroupTask, eventbus.GroupTool,
		eventbus.GroupDialog, eventbus.GroupProgress, eventbus.GroupPhase,
		eventbus.GroupHumanInLoop, eventbus.GroupSystem,
	}})
}

func (s *Server) handleEventHistory(c *gin.Context) {
	if s.Bus == nil {
		notImplemented(c, "event bus")
		return
	}
	filter := eventbus.Filter{
		Type:      c.Query("type"),
		Group:     eventbus.Group(c.Query("group")),
		SessionID: c.Query("sessionId"),
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	c.JSON(http.StatusOK, gin.H{"events": s.Bus.History(filter, limit)})
}
