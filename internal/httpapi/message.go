package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jasonzhangf/finger/internal/agentruntime"
	"github.com/jasonzhangf/finger/internal/eventbus"
	"github.com/jasonzhangf/finger/internal/hub"
)

func (s *Server) mountMessage(v1 *gin.RouterGroup) {
	v1.POST("/message", s.handleMessage)
}

type messageRequest struct {
	Target        string `json:"target"`
	SourceAgentID string `json:"sourceAgentId"`
	WorkflowID    string `json:"workflowId"`
	Blocking      bool   `json:"blocking"`
	Message       struct {
		Text         string         `json:"text"`
		SessionID    string         `json:"sessionId"`
		History      []Message      `json:"history,omitempty"`
		DeliveryMode string         `json:"deliveryMode,omitempty"`
		Extra        map[string]any `json:"-"`
	} `json:"message"`
}

// handleMessage implements `POST /api/v1/message`: when the
// Agent-Runtime Block is wired, routes body.target through
// Runtime.Dispatch so the call is subject to quota, queueing and the
// assignment lifecycle, falling back to a direct Hub.Send only when no
// Runtime is configured. It optionally waits for a blocking result,
// persists the user-visible text into the session's message log
// (best-effort — an empty text or unknown session is silently skipped,
// per spec §4.G step 5) and records a mailbox entry either way.
func (s *Server) handleMessage(c *gin.Context) {
	if s.Hub == nil && s.Runtime == nil {
		notImplemented(c, "message hub")
		return
	}
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	messageID := uuid.New().String()
	s.persistDispatchMessage(req.Message.SessionID, req.Message.Text)

	record := &MailboxRecord{ID: messageID, Target: req.Target, Status: "pending"}
	s.mailbox.mu.Lock()
	s.mailbox.records[messageID] = record
	s.mailbox.mu.Unlock()

	var (
		result any
		err    error
	)
	if s.Runtime != nil {
		var a *agentruntime.Assignment
		a, _, err = s.Runtime.Dispatch(c.Request.Context(), agentruntime.DispatchRequest{
			SourceAgentID: req.SourceAgentID,
			Target:        req.Target,
			SessionID:     req.Message.SessionID,
			WorkflowID:    req.WorkflowID,
			Blocking:      req.Blocking,
			QueueOnBusy:   true,
			Task: map[string]any{
				"text":      req.Message.Text,
				"messageId": messageID,
			},
		})
		if a != nil {
			result = a.Result
		}
	} else {
		msg := hub.Message{
			"type":      "message",
			"route":     req.Target,
			"text":      req.Message.Text,
			"sessionId": req.Message.SessionID,
			"messageId": messageID,
		}
		result, err = s.Hub.Send(c.Request.Context(), msg, nil)
	}

	if !req.Blocking {
		s.emit(eventbus.GroupDialog, "message.dispatched", req.Message.SessionID, map[string]any{"messageId": messageID, "target": req.Target})
		c.JSON(http.StatusAccepted, gin.H{"messageId": messageID, "status": "dispatched"})
		return
	}

	s.mailbox.mu.Lock()
	if err != nil {
		record.Status = "failed"
		record.Error = err.Error()
	} else {
		record.Status = "completed"
		record.Result = result
	}
	s.mailbox.mu.Unlock()

	resp := gin.H{"messageId": messageID, "status": record.Status}
	if err != nil {
		resp["error"] = err.Error()
		c.JSON(http.StatusOK, resp)
		return
	}
	resp["result"] = result
	c.JSON(http.StatusOK, resp)
}

func (s *Server) persistDispatchMessage(sessionID, text string) {
	if sessionID == "" || text == "" {
		return
	}
	s.sessions.mu.Lock()
	defer s.sessions.mu.Unlock()
	sess, ok := s.sessions.sessions[sessionID]
	if !ok {
		return
	}
	sess.Messages = append(sess.Messages, Message{
		Role: "user", Type: "dispatch", Text: text, Timestamp: time.Now().UTC(),
	})
}
