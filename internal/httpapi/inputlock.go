package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jasonzhangf/finger/internal/eventbus"
	"github.com/jasonzhangf/finger/internal/inputlock"
)

// mountInputLock wires the per-session input lock surface (spec §4.K):
// acquire/heartbeat/release/typing, each scoped to one session's lock
// target.
func (s *Server) mountInputLock(v1 *gin.RouterGroup) {
	locks := v1.Group("/sessions/:id/lock")
	locks.POST("/acquire", s.handleLockAcquire)
	locks.POST("/heartbeat", s.handleLockHeartbeat)
	locks.POST("/release", s.handleLockRelease)
	locks.POST("/typing", s.handleLockTyping)
	locks.GET("", s.handleLockGet)
}

type lockRequest struct {
	ClientID string `json:"clientId"`
	Typing   bool   `json:"typing"`
}

func (s *Server) emitLockChanged(sessionID string, lock inputlock.Lock, held bool) {
	payload := map[string]any{"typing": lock.Typing}
	if held {
		payload["lockedBy"] = lock.HolderID
		payload["expiresAt"] = lock.ExpiresAt
	} else {
		payload["lockedBy"] = nil
	}
	s.emit(eventbus.GroupSession, "input_lock_changed", sessionID, payload)
}

func (s *Server) handleLockAcquire(c *gin.Context) {
	if s.Locks == nil {
		notImplemented(c, "input lock manager")
		return
	}
	var req lockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	lock, err := s.Locks.Acquire(c.Param("id"), req.ClientID)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	s.emitLockChanged(c.Param("id"), lock, true)
	c.JSON(http.StatusOK, lock)
}

func (s *Server) handleLockHeartbeat(c *gin.Context) {
	if s.Locks == nil {
		notImplemented(c, "input lock manager")
		return
	}
	var req lockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	lock, err := s.Locks.Heartbeat(c.Param("id"), req.ClientID)
	if err != nil {
		status := http.StatusForbidden
		if errors.Is(err, inputlock.ErrNotHolder) {
			status = http.StatusForbidden
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, lock)
}

func (s *Server) handleLockRelease(c *gin.Context) {
	if s.Locks == nil {
		notImplemented(c, "input lock manager")
		return
	}
	var req lockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.Locks.Release(c.Param("id"), req.ClientID); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}
	s.emitLockChanged(c.Param("id"), inputlock.Lock{}, false)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleLockTyping(c *gin.Context) {
	if s.Locks == nil {
		notImplemented(c, "input lock manager")
		return
	}
	var req lockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.Locks.SetTyping(c.Param("id"), req.ClientID, req.Typing); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}
	lock, _ := s.Locks.Get(c.Param("id"))
	s.emitLockChanged(c.Param("id"), lock, true)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleLockGet(c *gin.Context) {
	if s.Locks == nil {
		notImplemented(c, "input lock manager")
		return
	}
	lock, ok := s.Locks.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusOK, gin.H{"lockedBy": nil})
		return
	}
	c.JSON(http.StatusOK, lock)
}
