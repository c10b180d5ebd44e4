package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jasonzhangf/finger/internal/eventbus"
)

func (s *Server) mountSessions(v1 *gin.RouterGroup) {
	sessions := v1.Group("/sessions")
	sessions.POST("", s.handleCreateSession)
	sessions.GET("", s.handleListSessions)
	sessions.GET("/current", s.handleGetCurrentSession)
	sessions.POST("/current", s.handleSetCurrentSession)
	sessions.GET("/:id", s.handleGetSession)
	sessions.DELETE("/:id", s.handleDeleteSession)
	sessions.POST("/:id/pause", s.handleSessionAction("pause"))
	sessions.POST("/:id/resume", s.handleSessionAction("resume"))
	sessions.GET("/:id/messages", s.handleSessionMessages)
}

func (s *Server) emit(group eventbus.Group, typ, sessionID string, payload map[string]any) {
	if s.Bus == nil {
		return
	}
	s.Bus.Emit(eventbus.Event{Type: typ, Group: group, SessionID: sessionID, Payload: payload})
}

func (s *Server) handleCreateSession(c *gin.Context) {
	s.sessions.mu.Lock()
	defer s.sessions.mu.Unlock()

	sess := &Session{ID: uuid.New().String(), Status: "active", CreatedAt: time.Now().UTC()}
	s.sessions.sessions[sess.ID] = sess
	s.sessions.current = sess.ID

	s.emit(eventbus.GroupSession, "session.created", sess.ID, nil)
	c.JSON(http.StatusCreated, sess)
}

func (s *Server) handleListSessions(c *gin.Context) {
	s.sessions.mu.Lock()
	defer s.sessions.mu.Unlock()
	out := make([]*Session, 0, len(s.sessions.sessions))
	for _, sess := range s.sessions.sessions {
		out = append(out, sess)
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

func (s *Server) handleGetCurrentSession(c *gin.Context) {
	s.sessions.mu.Lock()
	defer s.sessions.mu.Unlock()
	sess, ok := s.sessions.sessions[s.sessions.current]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no current session"})
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) handleSetCurrentSession(c *gin.Context) {
	var body struct {
		ID string `json:"id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.sessions.mu.Lock()
	defer s.sessions.mu.Unlock()
	if _, ok := s.sessions.sessions[body.ID]; !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	s.sessions.current = body.ID
	c.JSON(http.StatusOK, gin.H{"current": body.ID})
}

func (s *Server) handleGetSession(c *gin.Context) {
	s.sessions.mu.Lock()
	defer s.sessions.mu.Unlock()
	sess, ok := s.sessions.sessions[c.Param("id")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	id := c.Param("id")
	s.sessions.mu.Lock()
	_, ok := s.sessions.sessions[id]
	delete(s.sessions.sessions, id)
	if s.sessions.current == id {
		s.sessions.current = ""
	}
	s.sessions.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	s.emit(eventbus.GroupSession, "session.deleted", id, nil)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleSessionAction(action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		s.sessions.mu.Lock()
		sess, ok := s.sessions.sessions[id]
		if ok {
			if action == "pause" {
				sess.Status = "paused"
			} else {
				sess.Status = "active"
			}
		}
		s.sessions.mu.Unlock()
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		s.emit(eventbus.GroupSession, "session."+action+"d", id, nil)
		c.JSON(http.StatusOK, sess)
	}
}

func (s *Server) handleSessionMessages(c *gin.Context) {
	s.sessions.mu.Lock()
	defer s.sessions.mu.Unlock()
	sess, ok := s.sessions.sessions[c.Param("id")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": sess.Messages})
}
