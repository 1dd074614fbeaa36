// Package api exposes the engine's HTTP surface: the Alertmanager webhook
// ingress, the chat-reply hook for approvals, and health diagnostics.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/clawbot/clawbot/pkg/channel"
	"github.com/clawbot/clawbot/pkg/models"
	"github.com/clawbot/clawbot/pkg/version"
)

// Dispatcher feeds accepted events into the rules → executor pipeline.
// Satisfied by the engine dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, event models.ClusterEvent)
}

// ApprovalService is the slice of the approval manager the HTTP surface
// uses.
type ApprovalService interface {
	HandleReply(ctx context.Context, text, userID string) (string, bool)
	ListPending(ctx context.Context) ([]*models.PendingApproval, error)
}

// ToolDiagnostics reports tool-registry state for the health endpoint.
// Satisfied by the MCP manager.
type ToolDiagnostics interface {
	ServerCount() int
	Tools() map[string]string
}

// IssueSnapshotter exposes the watch loop's known-issues set. Satisfied by
// the watch loop.
type IssueSnapshotter interface {
	Snapshot() map[models.IssueKey]time.Time
}

// Server hosts the engine's HTTP endpoints.
type Server struct {
	dispatcher Dispatcher
	approvals  ApprovalService
	channels   *channel.Registry
	mcp        ToolDiagnostics
	loop       IssueSnapshotter // nil when the watch loop is disabled

	notificationTarget string
	logger             *slog.Logger
	http               *http.Server
}

// NewServer assembles the HTTP surface.
func NewServer(dispatcher Dispatcher, approvals ApprovalService, channels *channel.Registry, mcpManager ToolDiagnostics, loop IssueSnapshotter, notificationTarget string) *Server {
	return &Server{
		dispatcher:         dispatcher,
		approvals:          approvals,
		channels:           channels,
		mcp:                mcpManager,
		loop:               loop,
		notificationTarget: notificationTarget,
		logger:             slog.Default().With("component", "api"),
	}
}

// Router builds the gin handler.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/api/health", s.Health)
	router.POST("/api/webhook/alertmanager", s.AlertmanagerWebhook)
	router.POST("/api/chat/reply", s.ChatReply)
	router.GET("/api/approvals", s.ListApprovals)
	return router
}

// Run serves until the context is cancelled, then drains connections.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", addr)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		err := <-errCh
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Health reports engine diagnostics: tool servers, registered tools, and
// the current known-issues snapshot.
func (s *Server) Health(c *gin.Context) {
	issues := make([]string, 0)
	if s.loop != nil {
		for key := range s.loop.Snapshot() {
			issues = append(issues, key.String())
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":       "healthy",
		"version":      version.GitCommit,
		"mcp_servers":  s.mcp.ServerCount(),
		"tools":        len(s.mcp.Tools()),
		"known_issues": issues,
	})
}

// ListApprovals returns every approval still awaiting a decision.
func (s *Server) ListApprovals(c *gin.Context) {
	pendings, err := s.approvals.ListPending(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": pendings})
}
