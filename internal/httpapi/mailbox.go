package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) mountMailbox(v1 *gin.RouterGroup) {
	mailbox := v1.Group("/mailbox")
	mailbox.GET("", s.handleListMailbox)
	mailbox.GET("/:id", s.handleGetMailboxRecord)
	mailbox.GET("/callback/:cid", s.handleGetMailboxByCallback)
	mailbox.POST("/clear", s.handleClearMailbox)
}

func (s *Server) handleListMailbox(c *gin.Context) {
	s.mailbox.mu.Lock()
	defer s.mailbox.mu.Unlock()
	out := make([]*MailboxRecord, 0, len(s.mailbox.records))
	for _, r := range s.mailbox.records {
		out = append(out, r)
	}
	c.JSON(http.StatusOK, gin.H{"mailbox": out})
}

func (s *Server) handleGetMailboxRecord(c *gin.Context) {
	s.mailbox.mu.Lock()
	defer s.mailbox.mu.Unlock()
	rec, ok := s.mailbox.records[c.Param("id")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "mailbox record not found"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleGetMailboxByCallback(c *gin.Context) {
	s.mailbox.mu.Lock()
	defer s.mailbox.mu.Unlock()
	id, ok := s.mailbox.byCB[c.Param("cid")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "callback not found"})
		return
	}
	rec := s.mailbox.records[id]
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleClearMailbox(c *gin.Context) {
	s.mailbox.mu.Lock()
	s.mailbox.records = make(map[string]*MailboxRecord)
	s.mailbox.byCB = make(map[string]string)
	s.mailbox.mu.Unlock()
	c.Status(http.StatusNoContent)
}
