// Package main is the entry point for fingerd, the finger orchestration
// daemon: it wires every core component together, serves the HTTP
// control plane and the WebSocket event stream, and supervises gateway
// subprocesses until it receives a shutdown signal.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jasonzhangf/finger/internal/agentruntime"
	"github.com/jasonzhangf/finger/internal/config"
	"github.com/jasonzhangf/finger/internal/errorhandler"
	"github.com/jasonzhangf/finger/internal/eventbus"
	"github.com/jasonzhangf/finger/internal/gateway"
	"github.com/jasonzhangf/finger/internal/httpapi"
	"github.com/jasonzhangf/finger/internal/hub"
	"github.com/jasonzhangf/finger/internal/inputlock"
	"github.com/jasonzhangf/finger/internal/ledger"
	"github.com/jasonzhangf/finger/internal/logger"
	"github.com/jasonzhangf/finger/internal/mcpserver"
	"github.com/jasonzhangf/finger/internal/moduleregistry"
	"github.com/jasonzhangf/finger/internal/toolregistry"
	"github.com/jasonzhangf/finger/internal/workflow"
	"github.com/jasonzhangf/finger/internal/wsapi"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	// 1. Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting fingerd")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Core event plumbing
	bus := eventbus.New(cfg.Events.HistorySize, log)
	msgHub := hub.New(cfg.Events.QueueCapacity, log)
	if cfg.Events.Transport == "nats" {
		bridge, err := eventbus.ConnectNATSBridge(eventbus.NATSConfig{
			URL:           cfg.Events.NATSURL,
			ClientID:      "fingerd",
			MaxReconnects: 10,
		}, log)
		if err != nil {
			log.Fatal("failed to connect nats event mirror", zap.Error(err))
		}
		defer bridge.Close()
		bridge.Mirror(bus)
		log.Info("mirroring events to nats", zap.String("url", cfg.Events.NATSURL))
	}

	// 4. Error Handler
	errHandler := errorhandler.New(errorhandler.Config{
		BaseDelay:  time.Duration(cfg.Retry.BaseDelayMs) * time.Millisecond,
		Multiplier: cfg.Retry.Multiplier,
		MaxDelay:   time.Duration(cfg.Retry.MaxDelayMs) * time.Millisecond,
		MaxRetries: cfg.Retry.MaxRetries,
	}, nil, log)

	// 5. Tool Registry + Access Control + Authorization
	tools := toolregistry.New()

	// 6. Module Registry
	modules := moduleregistry.New(msgHub, log)

	// 7. Agent-Runtime Block
	runtime := agentruntime.New(cfg.Quota.Default, msgHub, bus, log)
	if cfg.FingerHome != "" {
		runtime.SetAgentConfigDir(expandHome(filepath.Join(cfg.FingerHome, "agents")))
	}

	// 8. Workflow Manager, backed by the workflows/<id>.json file store
	// named in the filesystem layout, memory-only when fingerHome is unset
	var store workflow.Store
	if cfg.FingerHome != "" {
		workflowDir := expandHome(filepath.Join(cfg.FingerHome, "workflows"))
		fileStore, err := workflow.OpenFileStore(workflowDir)
		if err != nil {
			log.Fatal("failed to open workflow file store", zap.Error(err))
		}
		store = fileStore
		log.Info("workflow persistence backed by files", zap.String("dir", workflowDir))
	} else {
		store = workflow.NewMemoryStore()
		log.Info("workflow persistence is in-memory only")
	}
	workflows := workflow.New(store, runtime, log)

	// 9. Context Ledger
	ledgerPath := expandHome(filepath.Join(cfg.FingerHome, "sessions", "context-ledger.jsonl"))
	if err := os.MkdirAll(filepath.Dir(ledgerPath), 0o755); err != nil {
		log.Fatal("failed to create ledger directory", zap.Error(err))
	}
	contextLedger, err := ledger.Open(ledgerPath, log)
	if err != nil {
		log.Fatal("failed to open context ledger", zap.Error(err))
	}
	defer contextLedger.Close()

	// 10. Input Lock Manager
	locks := inputlock.New(30 * time.Second)

	// 11. Gateway Supervisor
	gatewaySupervisor := gateway.New(
		time.Duration(cfg.Gateways.AckTimeoutMs)*time.Millisecond,
		time.Duration(cfg.Gateways.RequestTimeoutMs)*time.Millisecond,
		errHandler,
		log,
	)
	gatewaySupervisor.SetOnEvent(func(sessionName string, env gateway.Envelope) {
		bus.Emit(eventbus.Event{
			Type:    "gateway." + sessionName + "." + string(env.Type),
			Group:   eventbus.GroupSystem,
			Payload: env.Payload,
		})
	})

	// 12. HTTP control plane
	apiServer := httpapi.New(log)
	apiServer.Bus = bus
	apiServer.Hub = msgHub
	apiServer.Tools = tools
	apiServer.Workflows = workflows
	apiServer.Runtime = runtime
	apiServer.Modules = modules
	apiServer.Ledger = contextLedger
	apiServer.Locks = locks

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := apiServer.Router()

	// 13. WebSocket event stream
	wsHub := wsapi.New(bus, log)
	go wsHub.Run(ctx)
	router.GET("/ws", wsapi.Handler(wsHub, log))

	// 14. HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		log.Info("http server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	// 15. Load gateway manifests from the configured directory, if present
	loadGatewayManifests(ctx, gatewaySupervisor, cfg.Gateways.ManifestDir, log)

	// 16. MCP server, exposing the Tool Registry to external MCP clients
	var mcpSrv *mcpserver.Server
	if cfg.MCP.Enabled {
		// External MCP clients have no per-tool whitelist of their own;
		// enabling the MCP server opens every registered tool to them.
		// Operators wanting finer control should Deny specific tools for
		// cfg.MCP.AgentID before exposing the port.
		tools.Access.AllowAll()
		mcpSrv = mcpserver.New(mcpserver.Config{Port: cfg.MCP.Port, AgentID: cfg.MCP.AgentID}, tools, log)
		if err := mcpSrv.Start(ctx); err != nil {
			log.Fatal("failed to start mcp server", zap.Error(err))
		}
	}

	// 17. Block on shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down fingerd")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if mcpSrv != nil {
		if err := mcpSrv.Stop(shutdownCtx); err != nil {
			log.Error("mcp server shutdown error", zap.Error(err))
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", zap.Error(err))
	}

	log.Info("fingerd stopped")
}

// loadGatewayManifests starts one gateway.Session per *.yaml manifest found
// directly under dir; other files and subdirectories are skipped. Missing
// or empty dir is not an error.
func loadGatewayManifests(ctx context.Context, sup *gateway.Supervisor, dir string, log *logger.Logger) {
	if dir == "" {
		return
	}
	dir = expandHome(dir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Info("no gateway manifest directory found, skipping", zap.String("dir", dir))
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		manifest, err := gateway.LoadManifest(path, os.ReadFile)
		if err != nil {
			log.Warn("failed to load gateway manifest", zap.String("path", path), zap.Error(err))
			continue
		}
		if _, err := sup.Start(ctx, manifest); err != nil {
			log.Error("failed to start gateway", zap.String("name", manifest.Name), zap.Error(err))
		}
	}
}

func expandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
