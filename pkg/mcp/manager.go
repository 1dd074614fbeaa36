package mcp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/clawbot/clawbot/pkg/config"
	"github.com/clawbot/clawbot/pkg/version"
)

// Manager owns the tool servers and the flat tool registry. It connects an
// SDK client session per configured server, lists each server's tools, and
// routes call_tool requests to the owning session. The registry is read-only
// after Start except for on-demand restarts of a dead server.
type Manager struct {
	configs     map[string]config.MCPServerConfig
	callTimeout time.Duration
	factory     transportFactory
	logger      *slog.Logger

	mu       sync.RWMutex
	servers  map[string]*serverHandle
	registry map[string]string // tool name → server name

	// Per-server mutex serializing on-demand restarts.
	restartMu sync.Map // server name → *sync.Mutex
}

type serverHandle struct {
	name    string
	session *mcpsdk.ClientSession
	tools   []*mcpsdk.Tool
}

// transportFactory builds the transport for one server; swapped in tests
// for in-memory transports.
type transportFactory func(name string, cfg config.MCPServerConfig) (mcpsdk.Transport, error)

// NewManager creates a Manager for the given server catalog.
// callTimeout bounds each tool call; zero means DefaultCallTimeout.
func NewManager(servers map[string]config.MCPServerConfig, callTimeout time.Duration) *Manager {
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	return &Manager{
		configs:     servers,
		callTimeout: callTimeout,
		factory:     createTransport,
		servers:     make(map[string]*serverHandle),
		registry:    make(map[string]string),
		logger:      slog.Default().With("component", "mcp-manager"),
	}
}

// Start brings up every configured server. Any failure — transport creation,
// handshake, or a tool name claimed by two servers — aborts startup and
// tears down the servers that already came up.
func (m *Manager) Start(ctx context.Context) error {
	names := make([]string, 0, len(m.configs))
	for name := range m.configs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := m.StartServer(ctx, name); err != nil {
			m.Stop()
			return fmt.Errorf("start MCP server %q: %w", name, err)
		}
	}

	m.logger.Info("MCP manager started", "servers", len(names), "tools", len(m.registry))
	return nil
}

// StartServer starts a single server by name. Starting an already-running
// server is a no-op.
func (m *Manager) StartServer(ctx context.Context, name string) error {
	m.mu.RLock()
	_, running := m.servers[name]
	m.mu.RUnlock()
	if running {
		return nil
	}

	cfg, ok := m.configs[name]
	if !ok {
		return fmt.Errorf("server %q not in catalog", name)
	}
	transport, err := m.factory(name, cfg)
	if err != nil {
		return err
	}
	return m.connect(ctx, name, transport)
}

// connect runs the session handshake and tool registration sequence.
func (m *Manager) connect(ctx context.Context, name string, transport mcpsdk.Transport) error {
	initCtx, cancel := context.WithTimeout(ctx, InitTimeout)
	defer cancel()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)

	session, err := client.Connect(initCtx, transport, nil)
	if err != nil {
		if closer, ok := transport.(io.Closer); ok {
			_ = closer.Close()
		}
		return fmt.Errorf("connect: %w", err)
	}

	listed, err := session.ListTools(initCtx, &mcpsdk.ListToolsParams{})
	if err != nil {
		_ = session.Close()
		return fmt.Errorf("tools/list: %w", err)
	}

	if err := m.register(name, session, listed.Tools); err != nil {
		_ = session.Close()
		return err
	}

	m.logger.Info("MCP server connected", "server", name, "tools", len(listed.Tools))
	return nil
}

// register claims the server's tool names in the flat registry. A tool name
// already owned by a different server is a startup error.
func (m *Manager) register(name string, session *mcpsdk.ClientSession, tools []*mcpsdk.Tool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, tool := range tools {
		if owner, dup := m.registry[tool.Name]; dup && owner != name {
			return fmt.Errorf("tool %q claimed by both %q and %q", tool.Name, owner, name)
		}
	}
	for _, tool := range tools {
		m.registry[tool.Name] = name
	}
	m.servers[name] = &serverHandle{name: name, session: session, tools: tools}
	return nil
}

// CallTool routes a tool call to the owning server. Tool-level failures
// arrive as IsError results and pass through for the caller to log; a lost
// session gets one transparent restart before the call is retried.
func (m *Manager) CallTool(ctx context.Context, toolName string, args map[string]string) (*ToolResult, error) {
	m.mu.RLock()
	serverName, ok := m.registry[toolName]
	handle := m.servers[serverName]
	m.mu.RUnlock()
	if !ok || handle == nil {
		return nil, fmt.Errorf("tool %q not found in registry", toolName)
	}

	result, err := m.callOnce(ctx, handle.session, toolName, args)
	if err != nil && sessionLost(err) {
		if rerr := m.restartServer(ctx, serverName); rerr != nil {
			return nil, fmt.Errorf("tool %q: server %q connection lost and restart failed: %w", toolName, serverName, rerr)
		}
		m.mu.RLock()
		handle = m.servers[serverName]
		m.mu.RUnlock()
		result, err = m.callOnce(ctx, handle.session, toolName, args)
	}
	if err != nil {
		return nil, fmt.Errorf("call %q on %q: %w", toolName, serverName, err)
	}
	return convertResult(result), nil
}

// callOnce issues a single tool call against the session under the
// per-call timeout.
func (m *Manager) callOnce(ctx context.Context, session *mcpsdk.ClientSession, toolName string, args map[string]string) (*mcpsdk.CallToolResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()

	arguments := make(map[string]any, len(args))
	for k, v := range args {
		arguments[k] = v
	}
	return session.CallTool(callCtx, &mcpsdk.CallToolParams{Name: toolName, Arguments: arguments})
}

// convertResult flattens an SDK result into the engine's ToolResult,
// keeping text content and the in-band error flag.
func convertResult(result *mcpsdk.CallToolResult) *ToolResult {
	out := &ToolResult{IsError: result.IsError}
	for _, content := range result.Content {
		if text, ok := content.(*mcpsdk.TextContent); ok {
			out.Content = append(out.Content, ContentFragment{Type: "text", Text: text.Text})
		}
	}
	return out
}

// restartServer tears down and re-handshakes one server. A per-server mutex
// prevents concurrent callers from racing restarts; the loser observes the
// fresh handle and skips its own restart.
func (m *Manager) restartServer(ctx context.Context, name string) error {
	muI, _ := m.restartMu.LoadOrStore(name, &sync.Mutex{})
	mu := muI.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	m.mu.Lock()
	handle, ok := m.servers[name]
	if ok {
		_ = handle.session.Close()
		delete(m.servers, name)
		for tool, owner := range m.registry {
			if owner == name {
				delete(m.registry, tool)
			}
		}
	}
	m.mu.Unlock()

	m.logger.Warn("Restarting MCP server", "server", name)
	return m.StartServer(ctx, name)
}

// HasTool reports whether a tool name resolves in the registry.
func (m *Manager) HasTool(toolName string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.registry[toolName]
	return ok
}

// Tools returns every registered tool name mapped to its owning server.
func (m *Manager) Tools() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.registry))
	for tool, server := range m.registry {
		out[tool] = server
	}
	return out
}

// ServerCount returns the number of connected servers, for diagnostics.
func (m *Manager) ServerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.servers)
}

// Stop closes every session. Safe to call after a partial startup.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, handle := range m.servers {
		if err := handle.session.Close(); err != nil {
			m.logger.Warn("Error closing MCP session", "server", name, "error", err)
		}
	}
	m.servers = make(map[string]*serverHandle)
	m.registry = make(map[string]string)
}
