package mcp

import (
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/clawbot/clawbot/pkg/config"
)

// Timing constants for server lifecycle operations.
const (
	// DefaultCallTimeout bounds a single tool call when the config leaves
	// the timeout unset.
	DefaultCallTimeout = 30 * time.Second

	// InitTimeout bounds the connect + tools/list handshake per server.
	InitTimeout = 30 * time.Second
)

// createTransport builds the SDK transport declared by the server config.
func createTransport(name string, cfg config.MCPServerConfig) (mcpsdk.Transport, error) {
	switch cfg.Type {
	case config.TransportStdio:
		return createStdioTransport(name, cfg)
	case config.TransportSSE:
		return createSSETransport(name, cfg)
	default:
		return nil, fmt.Errorf("unsupported transport type %q for server %q", cfg.Type, name)
	}
}

// createStdioTransport spawns the tool server as a child process speaking
// JSON-RPC over its standard streams. Config env entries are layered over
// the inherited environment.
func createStdioTransport(name string, cfg config.MCPServerConfig) (mcpsdk.Transport, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("stdio server %q requires command", name)
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	env := os.Environ()
	for k, v := range cfg.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = env

	return &mcpsdk.CommandTransport{Command: cmd}, nil
}

// createSSETransport connects to a remote tool server over SSE-framed HTTP.
func createSSETransport(name string, cfg config.MCPServerConfig) (mcpsdk.Transport, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("sse server %q requires url", name)
	}
	return &mcpsdk.SSEClientTransport{
		Endpoint:   cfg.URL,
		HTTPClient: buildHTTPClient(cfg),
	}, nil
}

// buildHTTPClient returns a client carrying the bearer token, or nil when
// the SDK default suffices.
func buildHTTPClient(cfg config.MCPServerConfig) *http.Client {
	if cfg.Token == "" {
		return nil
	}
	return &http.Client{
		Transport: &bearerTokenTransport{token: cfg.Token, base: http.DefaultTransport},
	}
}

// bearerTokenTransport injects the Authorization header on every request.
type bearerTokenTransport struct {
	token string
	base  http.RoundTripper
}

func (t *bearerTokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(clone)
}
