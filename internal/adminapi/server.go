// Package adminapi is a small gin-based HTTP surface alongside the MCP tool
// façade: a healthcheck endpoint and a read-only dashboard view, for
// operators who want to glance at session state without an MCP client.
package adminapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	agerrors "github.com/agentmux/agentmux/internal/common/errors"
	"github.com/agentmux/agentmux/internal/common/logger"
	"github.com/agentmux/agentmux/internal/dashboard"
)

// Server is the admin HTTP surface for one running session.
type Server struct {
	sessionID string
	store     *dashboard.Store
	log       *logger.Logger
	router    *gin.Engine
	http      *http.Server
}

// New builds the gin router and registers routes. debug controls whether
// gin runs in its verbose development mode.
func New(sessionID string, store *dashboard.Store, log *logger.Logger, debug bool) *Server {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(RequestLogger(log), gin.Recovery(), ErrorHandler(log))

	s := &Server{sessionID: sessionID, store: store, log: log, router: router}
	router.GET("/healthz", s.handleHealthz)
	router.GET("/sessions/:id/dashboard", s.handleDashboardMarkdown)
	router.GET("/sessions/:id/dashboard.json", s.handleDashboardJSON)
	return s
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "session_id": s.sessionID})
}

func (s *Server) sessionMatches(c *gin.Context) bool {
	return c.Param("id") == s.sessionID
}

func (s *Server) handleDashboardMarkdown(c *gin.Context) {
	if !s.sessionMatches(c) {
		c.Error(agerrors.NotFound("session", c.Param("id")))
		return
	}
	data, err := s.store.RenderMarkdown()
	if err != nil {
		c.Error(agerrors.Wrap(err, "render dashboard markdown"))
		return
	}
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", data)
}

func (s *Server) handleDashboardJSON(c *gin.Context) {
	if !s.sessionMatches(c) {
		c.Error(agerrors.NotFound("session", c.Param("id")))
		return
	}
	snapshot, err := s.store.GetSnapshot()
	if err != nil {
		c.Error(agerrors.Wrap(err, "load dashboard snapshot"))
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// Handler returns the underlying gin engine, e.g. for tests using
// httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve starts listening on addr until ctx is cancelled, then shuts the
// server down gracefully within a 10s grace period.
func (s *Server) Serve(ctx context.Context, addr string, readTimeout, writeTimeout time.Duration) error {
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("admin http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
