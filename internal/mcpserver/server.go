// Package mcpserver exposes finger's Tool Registry over the Model
// Context Protocol, so external MCP clients (Claude Desktop, Cursor,
// Codex) can list and invoke the same tools agents dispatch through
// internal/toolregistry.
//
// Grounded on the teacher's internal/mcpserver/server.go: a Server
// wrapping an SSE transport and a Streamable HTTP transport behind one
// *http.Server, with the same Start/Stop lifecycle and listener-first
// port binding. Generalized from a fixed, hand-authored tool list
// (registerTools in the teacher's tools.go) to the dynamic contents of
// a toolregistry.Registry: every call routes through Registry.Execute,
// so MCP clients are subject to the same Agent tool access policy and
// Tool Authorization Engine as any other caller.
package mcpserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/jasonzhangf/finger/internal/logger"
	"github.com/jasonzhangf/finger/internal/toolregistry"
)

// Config holds the MCP server's own settings, distinct from the
// tools it serves.
type Config struct {
	// Port to listen on. 0 lets the OS pick a free port; the chosen
	// port is recorded back onto Config after Start.
	Port int

	// AgentID identifies MCP callers to the Tool Registry's access
	// control and authorization layers. Every tool call arriving over
	// MCP is attributed to this agent ID, so policies scoped to it
	// apply uniformly to every MCP client.
	AgentID string
}

// Server wraps the SSE and Streamable HTTP transports with lifecycle
// management, same as the teacher:
//   - SSE transport (/sse, /message) for Claude Desktop, Cursor, etc.
//   - Streamable HTTP transport (/mcp) for Codex
type Server struct {
	cfg                  Config
	registry             *toolregistry.Registry
	sseServer            *server.SSEServer
	streamableHTTPServer *server.StreamableHTTPServer
	httpServer           *http.Server
	mu                   sync.Mutex
	running              bool
	log                  *logger.Logger
}

// New constructs a Server exposing every tool registered in registry at
// the time Start is called; tools registered after Start are not exposed.
// log defaults to logger.Default() when nil.
func New(cfg Config, registry *toolregistry.Registry, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}
	return &Server{cfg: cfg, registry: registry, log: log}
}

// Start starts both transports on the same port and returns once the
// listener goroutine has begun serving, or ctx is cancelled first.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("mcpserver: already running")
	}
	s.mu.Unlock()

	mcpServer := server.NewMCPServer(
		"finger-mcp",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	registerTools(mcpServer, s.registry, s.cfg.AgentID, s.log)

	s.sseServer = server.NewSSEServer(mcpServer)
	s.streamableHTTPServer = server.NewStreamableHTTPServer(mcpServer,
		server.WithEndpointPath("/mcp"),
	)

	mux := http.NewServeMux()
	mux.Handle("/sse", s.sseServer.SSEHandler())
	mux.Handle("/message", s.sseServer.MessageHandler())
	mux.Handle("/mcp", s.streamableHTTPServer)

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("mcpserver: failed to listen on %s: %w", addr, err)
	}
	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		s.cfg.Port = tcpAddr.Port
	}

	s.httpServer = &http.Server{Handler: mux}

	ready := make(chan struct{})
	go func() {
		s.mu.Lock()
		s.running = true
		s.mu.Unlock()
		close(ready)

		s.log.Info("mcp server listening",
			zap.Int("port", s.cfg.Port),
			zap.String("sse_endpoint", "/sse"),
			zap.String("streamable_http_endpoint", "/mcp"))

		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("mcp server error", zap.Error(err))
		}

		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop gracefully shuts down both transports.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("mcpserver: failed to shut down http server: %w", err)
		}
	}
	if s.sseServer != nil {
		if err := s.sseServer.Shutdown(ctx); err != nil {
			s.log.Warn("failed to shut down sse server", zap.Error(err))
		}
	}
	if s.streamableHTTPServer != nil {
		if err := s.streamableHTTPServer.Shutdown(ctx); err != nil {
			s.log.Warn("failed to shut down streamable http server", zap.Error(err))
		}
	}
	return nil
}

// SSEEndpoint returns the full SSE URL for SSE-transport clients.
func (s *Server) SSEEndpoint() string {
	return fmt.Sprintf("http://localhost:%d/sse", s.cfg.Port)
}

// StreamableHTTPEndpoint returns the full Streamable HTTP URL for
// streamable-http-transport clients.
func (s *Server) StreamableHTTPEndpoint() string {
	return fmt.Sprintf("http://localhost:%d/mcp", s.cfg.Port)
}
