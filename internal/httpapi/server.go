// Package httpapi implements finger's HTTP control plane (spec §6): a
// minimal surface consumed by UI/CLI clients, built on gin-gonic/gin.
//
// Grounded on the teacher's orchestrator/api/{router,handlers}.go
// route-group-per-resource convention: one router-builder function per
// resource, mounted under a common API prefix, sharing recovery and
// request-logging middleware (middleware.go) built on the same
// internal/logger zap wrapper used throughout the rest of the module.
package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jasonzhangf/finger/internal/agentruntime"
	"github.com/jasonzhangf/finger/internal/eventbus"
	"github.com/jasonzhangf/finger/internal/hub"
	"github.com/jasonzhangf/finger/internal/inputlock"
	"github.com/jasonzhangf/finger/internal/ledger"
	"github.com/jasonzhangf/finger/internal/logger"
	"github.com/jasonzhangf/finger/internal/moduleregistry"
	"github.com/jasonzhangf/finger/internal/toolregistry"
	"github.com/jasonzhangf/finger/internal/workflow"
)

// Server bundles every component the control plane dispatches into. All
// fields are optional from Go's perspective but routes touching a nil
// dependency return 501 rather than panicking, so partial daemons (e.g.
// a test harness exercising only the Tool Registry) can still mount a
// router.
type Server struct {
	Bus        *eventbus.Bus
	Hub        *hub.Hub
	Tools      *toolregistry.Registry
	Workflows  *workflow.Manager
	Runtime    *agentruntime.Runtime
	Modules    *moduleregistry.Registry
	Ledger     *ledger.Ledger
	Locks      *inputlock.Manager
	Log        *logger.Logger

	// HandlerRefs resolves the "handlerRef" names used by module-register
	// manifests to live hub.HandlerFunc values, mirroring
	// moduleregistry.LoadFromFile's contract.
	HandlerRefs map[string]hub.HandlerFunc

	sessions sessionStore
	mailbox  mailboxStore
}

// New constructs a Server. log defaults to logger.Default() when nil.
func New(log *logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}
	return &Server{
		Log:      log,
		sessions: sessionStore{sessions: make(map[string]*Session)},
		mailbox:  mailboxStore{records: make(map[string]*MailboxRecord), byCB: make(map[string]string)},
	}
}

// Router builds the gin.Engine exposing every route in spec §6.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(s.recoveryMiddleware(), s.loggingMiddleware(), s.rateLimitMiddleware(50, 100))

	r.GET("/health", s.handleHealth)

	v1 := r.Group("/api/v1")
	s.mountEvents(v1)
	s.mountSessions(v1)
	s.mountMessage(v1)
	s.mountWorkflows(v1)
	s.mountTools(v1)
	s.mountModules(v1)
	s.mountMailbox(v1)
	s.mountCheckpoints(v1)
	s.mountInputLock(v1)

	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now().UTC().Format(time.RFC3339)})
}

func notImplemented(c *gin.Context, what string) {
	c.JSON(http.StatusNotImplemented, gin.H{"error": what + " is not configured on this server"})
}

// sessionStore and mailboxStore are small, control-plane-only pieces of
// state: finger's session concept (spec glossary: "a user-visible
// conversation thread with its own message history, lock state, and
// workspace directory") has no dedicated A-M component of its own — it
// is a thin bookkeeping layer the HTTP surface needs to satisfy §6's
// session/mailbox routes, grounded on the shape of the teacher's
// gateway/websocket session table (an id-keyed map behind a mutex,
// message history appended per session).
type sessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	current  string
}

// Session is a user-visible conversation thread.
type Session struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"` // active, paused, completed
	CreatedAt time.Time `json:"createdAt"`
	Messages  []Message `json:"-"`
}

// Message is one entry in a session's message log.
type Message struct {
	Role      string         `json:"role"`
	Type      string         `json:"type"`
	Text      string         `json:"text"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// MailboxRecord tracks one dispatched message's lifecycle for the
// mailbox routes: created by handleMessage, which fills in Status and
// Result once a blocking dispatch returns; a non-blocking record stays
// "pending".
type MailboxRecord struct {
	ID         string `json:"messageId"`
	Target     string `json:"target"`
	Status     string `json:"status"` // pending, completed, failed
	Result     any    `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
	CallbackID string `json:"-"`
}

type mailboxStore struct {
	mu      sync.Mutex
	records map[string]*MailboxRecord
	byCB    map[string]string // callbackID -> messageId
}
