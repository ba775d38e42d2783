// Command agentmux-server runs one session's full stack: the file-backed
// registry/dashboard/mailbox/worktree stores, the healthcheck/recovery
// engine, and the MCP tool façade exposed over SSE and Streamable HTTP,
// alongside a small admin HTTP surface for dashboard introspection.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/agentmux/agentmux/internal/adminapi"
	"github.com/agentmux/agentmux/internal/agentreg"
	"github.com/agentmux/agentmux/internal/common/config"
	"github.com/agentmux/agentmux/internal/common/logger"
	"github.com/agentmux/agentmux/internal/dashboard"
	"github.com/agentmux/agentmux/internal/dispatch"
	"github.com/agentmux/agentmux/internal/events/bus"
	"github.com/agentmux/agentmux/internal/healthcheck"
	"github.com/agentmux/agentmux/internal/historystore"
	"github.com/agentmux/agentmux/internal/ipc"
	"github.com/agentmux/agentmux/internal/registry"
	"github.com/agentmux/agentmux/internal/terminal"
	"github.com/agentmux/agentmux/internal/terminal/dockerterm"
	"github.com/agentmux/agentmux/internal/terminal/tmuxterm"
	"github.com/agentmux/agentmux/internal/toolserver"
	"github.com/agentmux/agentmux/internal/vcs/gitvcs"
	"github.com/agentmux/agentmux/internal/workspace"
	"github.com/agentmux/agentmux/internal/wsnotify"
)

func main() {
	sessionDir := os.Getenv("AGENTMUX_SESSION_DIR")

	cfg, err := config.Load(sessionDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	sessionID := cfg.Session.ID
	if sessionID == "" {
		sessionID = "default"
	}
	if sessionDir == "" {
		sessionDir = filepath.Join(cfg.Session.BaseDir, sessionID)
	}
	mcpDir := filepath.Join(sessionDir, cfg.Session.McpDir)

	log.Info("starting agentmux server", zap.String("session_id", sessionID), zap.String("session_dir", sessionDir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := newEventBus(cfg, log)
	defer eventBus.Close()

	term := newTerminalAdapter(cfg, log)
	vc := gitvcs.New()

	globalDir := filepath.Dir(cfg.Session.BaseDir)
	reg := registry.New(sessionDir, globalDir, cfg.Worktree.MaxWorkers, log)
	dash := dashboard.New(sessionDir, log)
	notifier := &ipc.TermNotifier{Term: term, Log: log}
	mailbox := ipc.New(sessionDir, reg, notifier, log)
	worktrees := workspace.NewWorktreeStore(sessionDir)
	provisioner := workspace.New(term, vc, log)
	catalog := agentreg.NewCatalog(nil)
	dispatcher := dispatch.New(sessionDir, reg, catalog, term, log)

	hcCfg := healthcheck.Config{
		IntervalSeconds:     cfg.Healthcheck.PollIntervalSeconds,
		StallTimeoutSeconds: cfg.Healthcheck.PollIntervalSeconds * cfg.Healthcheck.StallThresholdPolls,
		MaxRecoveryAttempts: cfg.Healthcheck.MaxRecoveryAttempts,
		IdleStopConsecutive: cfg.Healthcheck.IdleAutoStopMinutes,
		EnableGit:           cfg.Session.EnableGit,
		TailLines:           200,
	}
	hc := healthcheck.New(hcCfg, reg, dash, mailbox, term, vc, log)
	hc.Start(ctx)
	defer hc.Stop()

	var history *historystore.Store
	if dbPath := os.Getenv("AGENTMUX_HISTORY_DB"); dbPath != "" {
		history, err = historystore.Open(dbPath)
		if err != nil {
			log.Fatal("failed to open history store", zap.Error(err))
		}
		defer history.Close()
	}

	hub := wsnotify.NewHub(log)
	go hub.Run()
	defer hub.Stop()

	settings := func() agentreg.ResolutionSettings {
		return agentreg.ResolutionSettings{
			ActiveProfile: agentreg.ModelProfile{DefaultCLI: cfg.ModelProfile.DefaultAICli},
			GlobalDefault: cfg.ModelProfile.DefaultAICli,
		}
	}

	deps := &toolserver.Deps{
		ProjectRoot: sessionDir,
		McpDir:      cfg.Session.McpDir,
		SessionDir:  sessionDir,
		SessionID:   sessionID,
		Registry:    reg,
		Dashboard:   dash,
		Mailbox:     mailbox,
		Healthcheck: hc,
		Provisioner: provisioner,
		Worktrees:   worktrees,
		Dispatcher:  dispatcher,
		Term:        term,
		VC:          vc,
		Catalog:     catalog,
		History:     history,
		Bus:         eventBus,
		Hub:         hub,
		Log:         log,
		EnableGit:   cfg.Session.EnableGit,
		Settings:    settings,
	}

	mcpServer := server.NewMCPServer("agentmux", "1.0.0", server.WithToolCapabilities(true))
	toolserver.Register(mcpServer, deps)

	sseServer := server.NewSSEServer(mcpServer)
	streamableServer := server.NewStreamableHTTPServer(mcpServer, server.WithEndpointPath("/mcp"))

	admin := adminapi.New(sessionID, dash, log, cfg.Logging.Level == "debug")

	wsRouter := gin.New()
	wsRouter.Use(gin.Recovery())
	wsRouter.GET("/ws", hub.Handle)

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())
	mux.Handle("/mcp", streamableServer)
	mux.Handle("/ws", wsRouter)
	mux.Handle("/", admin.Handler())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatal("failed to listen", zap.String("addr", addr), zap.Error(err))
	}

	httpServer := &http.Server{
		Handler:      mux,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		log.Info("agentmux server listening", zap.String("addr", addr),
			zap.String("sse_endpoint", "/sse"), zap.String("streamable_http_endpoint", "/mcp"),
			zap.String("ws_endpoint", "/ws"))
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down agentmux server")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", zap.Error(err))
	}

	log.Info("agentmux server stopped")
}

func newEventBus(cfg *config.Config, log *logger.Logger) bus.Bus {
	if cfg.NATS.URL == "" {
		return bus.New()
	}
	natsBus, err := bus.NewNATS(cfg.NATS, log)
	if err != nil {
		log.Warn("failed to connect to NATS, falling back to no-op bus", zap.Error(err))
		return bus.New()
	}
	return natsBus
}

func newTerminalAdapter(cfg *config.Config, log *logger.Logger) terminal.Adapter {
	if cfg.Docker.Enabled {
		adapter, err := dockerterm.New(cfg.Docker, log)
		if err != nil {
			log.Warn("failed to initialize docker terminal adapter, falling back to tmux", zap.Error(err))
			return tmuxterm.New()
		}
		return adapter
	}
	return tmuxterm.New()
}
