// Package config loads and validates the engine configuration from
// clawbot.yaml. Configuration errors are fatal: the engine refuses to start
// on an invalid document.
package config

import "time"

// Config is the fully resolved engine configuration.
type Config struct {
	WatchLoop WatchLoopConfig `yaml:"watchloop"`
	AIOps     AIOpsConfig     `yaml:"aiops"`
	Approval  ApprovalConfig  `yaml:"approval"`
	Engine    EngineConfig    `yaml:"engine"`
	MCP       MCPConfig       `yaml:"mcp"`
	Redis     RedisConfig     `yaml:"redis"`
	Slack     SlackConfig     `yaml:"slack"`
}

// WatchLoopConfig controls the background cluster observer.
type WatchLoopConfig struct {
	Enabled         bool `yaml:"enabled"`
	IntervalSeconds int  `yaml:"interval_seconds"`
}

// Interval returns the poll interval as a duration.
func (c WatchLoopConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// AIOpsConfig controls alert routing and auto-remediation.
type AIOpsConfig struct {
	// NotificationChannel is a channel-target string "<type>:<channel_id>"
	// used for alerts and run progress, e.g. "slack:C0123ABC".
	NotificationChannel string `yaml:"notification_channel"`

	// AutoRemediation, when false, alerts on new events but does not
	// launch playbook runs.
	AutoRemediation bool `yaml:"auto_remediation"`
}

// ApprovalConfig controls the human-approval handshake.
type ApprovalConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// Timeout returns the pending-approval TTL.
func (c ApprovalConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// EngineConfig holds engine-wide timing knobs.
type EngineConfig struct {
	ShutdownGraceSeconds   int `yaml:"shutdown_grace_seconds"`
	ToolCallTimeoutSeconds int `yaml:"tool_call_timeout_seconds"`
}

// ShutdownGrace returns how long in-flight runs get to drain on shutdown.
func (c EngineConfig) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSeconds) * time.Second
}

// ToolCallTimeout bounds a single MCP tool call.
func (c EngineConfig) ToolCallTimeout() time.Duration {
	return time.Duration(c.ToolCallTimeoutSeconds) * time.Second
}

// TransportType selects the wire protocol to one MCP server.
type TransportType string

// Supported transport variants.
const (
	TransportStdio TransportType = "stdio"
	TransportSSE   TransportType = "sse"
)

// MCPConfig is the tool-server catalog.
type MCPConfig struct {
	Servers map[string]MCPServerConfig `yaml:"servers"`
}

// MCPServerConfig declares one tool server: its transport variant and
// endpoint (command+args for stdio, url for sse).
type MCPServerConfig struct {
	Type    TransportType     `yaml:"type"`
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
	URL     string            `yaml:"url,omitempty"`
	Token   string            `yaml:"token,omitempty"`
}

// RedisConfig locates the approval store.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// SlackConfig holds the Slack sender settings.
type SlackConfig struct {
	Enabled  bool   `yaml:"enabled"`
	TokenEnv string `yaml:"token_env"`
}
