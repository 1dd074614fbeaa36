package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the engine configuration file inside the config dir.
const ConfigFileName = "clawbot.yaml"

// Defaults returns the built-in configuration. User YAML overrides these
// values field by field.
func Defaults() *Config {
	return &Config{
		WatchLoop: WatchLoopConfig{
			Enabled:         true,
			IntervalSeconds: 30,
		},
		AIOps: AIOpsConfig{
			AutoRemediation: true,
		},
		Approval: ApprovalConfig{
			TimeoutSeconds: 900,
		},
		Engine: EngineConfig{
			ShutdownGraceSeconds:   30,
			ToolCallTimeoutSeconds: 30,
		},
		Redis: RedisConfig{
			URL: "redis://localhost:6379/0",
		},
		Slack: SlackConfig{
			TokenEnv: "SLACK_BOT_TOKEN",
		},
	}
}

// Initialize loads, expands, merges, and validates configuration from
// configDir. Any error is fatal to engine startup.
func Initialize(configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	path := filepath.Join(configDir, ConfigFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	data = ExpandEnv(data)

	var loaded Config
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	// User values override built-in defaults; unset fields keep defaults.
	cfg := Defaults()
	if err := mergo.Merge(cfg, &loaded, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("merge configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Info("Configuration initialized",
		"watchloop_enabled", cfg.WatchLoop.Enabled,
		"auto_remediation", cfg.AIOps.AutoRemediation,
		"mcp_servers", len(cfg.MCP.Servers))
	return cfg, nil
}

// channelTargetRe matches the "<type>:<channel_id>" channel-target format.
var channelTargetRe = regexp.MustCompile(`^[a-z][a-z0-9_-]*:.+$`)

// Validate checks the resolved configuration. Violations are ConfigErrors
// and abort startup.
func (c *Config) Validate() error {
	if c.WatchLoop.IntervalSeconds <= 0 {
		return &ValidationError{Component: "watchloop", Field: "interval_seconds", Err: ErrInvalidValue}
	}
	if c.Approval.TimeoutSeconds <= 0 {
		return &ValidationError{Component: "approval", Field: "timeout_seconds", Err: ErrInvalidValue}
	}
	if c.Engine.ShutdownGraceSeconds <= 0 {
		return &ValidationError{Component: "engine", Field: "shutdown_grace_seconds", Err: ErrInvalidValue}
	}
	if c.Engine.ToolCallTimeoutSeconds <= 0 {
		return &ValidationError{Component: "engine", Field: "tool_call_timeout_seconds", Err: ErrInvalidValue}
	}
	if c.AIOps.NotificationChannel == "" {
		return &ValidationError{Component: "aiops", Field: "notification_channel", Err: ErrMissingRequiredField}
	}
	if !channelTargetRe.MatchString(c.AIOps.NotificationChannel) {
		return &ValidationError{Component: "aiops", Field: "notification_channel",
			Err: fmt.Errorf("%w: expected \"<type>:<channel_id>\"", ErrInvalidValue)}
	}

	for name, server := range c.MCP.Servers {
		switch server.Type {
		case TransportStdio:
			if server.Command == "" {
				return &ValidationError{Component: "mcp_server", ID: name, Field: "command", Err: ErrMissingRequiredField}
			}
		case TransportSSE:
			if server.URL == "" {
				return &ValidationError{Component: "mcp_server", ID: name, Field: "url", Err: ErrMissingRequiredField}
			}
		default:
			return &ValidationError{Component: "mcp_server", ID: name, Field: "type",
				Err: fmt.Errorf("%w: %q (want stdio or sse)", ErrInvalidValue, server.Type)}
		}
	}
	return nil
}

// ExpandEnv expands {{.VAR}} references in the raw YAML against the process
// environment. Template syntax is used instead of $VAR so that literal
// dollar signs in regex patterns and passwords survive untouched. Missing
// variables expand to the empty string; validation catches required fields
// that end up empty. Malformed templates pass the data through unchanged so
// the YAML parser can produce a clearer error.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}

	envMap := make(map[string]string)
	for _, kv := range os.Environ() {
		if key, value, ok := strings.Cut(kv, "="); ok {
			envMap[key] = value
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, envMap); err != nil {
		return data
	}
	return buf.Bytes()
}
