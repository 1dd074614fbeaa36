// Package engine hosts the lifecycle coordinator and the event dispatcher.
// The coordinator binds the MCP manager, watch loop, executor, and approval
// manager to a single cancellation scope with an ordered shutdown.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/clawbot/clawbot/pkg/config"
	"github.com/clawbot/clawbot/pkg/mcp"
	"github.com/clawbot/clawbot/pkg/playbook"
	"github.com/clawbot/clawbot/pkg/watch"
)

// Engine owns startup and shutdown ordering. Startup: tool servers first
// (a playbook step naming an unknown tool must fail before any observation
// begins), then the watch loop. Shutdown: quiesce event intake, drain runs
// within the grace period, then tear down transports.
type Engine struct {
	cfg       *config.Config
	mcp       *mcp.Manager
	playbooks *playbook.Registry
	executor  *playbook.Executor
	loop      *watch.Loop // nil when the watch loop is disabled
	logger    *slog.Logger
}

// New assembles the coordinator from already-wired components.
func New(cfg *config.Config, mcpManager *mcp.Manager, playbooks *playbook.Registry, executor *playbook.Executor, loop *watch.Loop) *Engine {
	return &Engine{
		cfg:       cfg,
		mcp:       mcpManager,
		playbooks: playbooks,
		executor:  executor,
		loop:      loop,
		logger:    slog.Default().With("component", "engine"),
	}
}

// Start brings the engine up. Any failure here is fatal: a partial start
// is torn down and the error returned.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.mcp.Start(ctx); err != nil {
		return fmt.Errorf("start tool servers: %w", err)
	}

	if err := e.playbooks.ValidateTools(e.mcp); err != nil {
		e.mcp.Stop()
		return fmt.Errorf("validate playbooks: %w", err)
	}

	if e.loop != nil {
		e.loop.Start(ctx)
	} else {
		e.logger.Info("Watch loop disabled")
	}

	e.logger.Info("Engine started",
		"servers", e.mcp.ServerCount(),
		"tools", len(e.mcp.Tools()),
		"auto_remediation", e.cfg.AIOps.AutoRemediation)
	return nil
}

// Stop shuts the engine down in order: stop event intake, drain in-flight
// runs within the configured grace period, then close the tool transports.
func (e *Engine) Stop() {
	e.logger.Info("Engine stopping")

	if e.loop != nil {
		e.loop.Stop()
	}
	e.executor.Stop(e.cfg.Engine.ShutdownGrace())
	e.mcp.Stop()

	e.logger.Info("Engine stopped")
}
