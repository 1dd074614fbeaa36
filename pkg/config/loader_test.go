package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(yaml), 0o600))
	return dir
}

func TestInitialize(t *testing.T) {
	t.Run("minimal config gets defaults", func(t *testing.T) {
		dir := writeConfig(t, `
aiops:
  notification_channel: "slack:C0123ABC"
`)
		cfg, err := Initialize(dir)
		require.NoError(t, err)

		assert.True(t, cfg.WatchLoop.Enabled)
		assert.Equal(t, 30, cfg.WatchLoop.IntervalSeconds)
		assert.Equal(t, 900, cfg.Approval.TimeoutSeconds)
		assert.Equal(t, 30, cfg.Engine.ShutdownGraceSeconds)
		assert.True(t, cfg.AIOps.AutoRemediation)
		assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	})

	t.Run("overrides replace defaults", func(t *testing.T) {
		dir := writeConfig(t, `
watchloop:
  interval_seconds: 10
aiops:
  notification_channel: "slack:C0123ABC"
approval:
  timeout_seconds: 120
`)
		cfg, err := Initialize(dir)
		require.NoError(t, err)

		assert.Equal(t, 10, cfg.WatchLoop.IntervalSeconds)
		assert.Equal(t, 120, cfg.Approval.TimeoutSeconds)
	})

	t.Run("env expansion", func(t *testing.T) {
		t.Setenv("CLAWBOT_TEST_CHANNEL", "C9ZZZ")
		dir := writeConfig(t, `
aiops:
  notification_channel: "slack:{{.CLAWBOT_TEST_CHANNEL}}"
`)
		cfg, err := Initialize(dir)
		require.NoError(t, err)
		assert.Equal(t, "slack:C9ZZZ", cfg.AIOps.NotificationChannel)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Initialize(t.TempDir())
		assert.ErrorIs(t, err, ErrConfigNotFound)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		dir := writeConfig(t, "aiops: [unbalanced")
		_, err := Initialize(dir)
		assert.ErrorIs(t, err, ErrInvalidYAML)
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Defaults()
		cfg.AIOps.NotificationChannel = "slack:C0123ABC"
		return cfg
	}

	tests := []struct {
		name      string
		mutate    func(*Config)
		wantErr   error
		wantField string
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name:      "zero watch interval",
			mutate:    func(c *Config) { c.WatchLoop.IntervalSeconds = 0 },
			wantErr:   ErrInvalidValue,
			wantField: "interval_seconds",
		},
		{
			name:      "negative approval timeout",
			mutate:    func(c *Config) { c.Approval.TimeoutSeconds = -1 },
			wantErr:   ErrInvalidValue,
			wantField: "timeout_seconds",
		},
		{
			name:      "missing notification channel",
			mutate:    func(c *Config) { c.AIOps.NotificationChannel = "" },
			wantErr:   ErrMissingRequiredField,
			wantField: "notification_channel",
		},
		{
			name:      "malformed channel target",
			mutate:    func(c *Config) { c.AIOps.NotificationChannel = "no-separator" },
			wantErr:   ErrInvalidValue,
			wantField: "notification_channel",
		},
		{
			name: "stdio server without command",
			mutate: func(c *Config) {
				c.MCP.Servers = map[string]MCPServerConfig{
					"k8s": {Type: TransportStdio},
				}
			},
			wantErr:   ErrMissingRequiredField,
			wantField: "command",
		},
		{
			name: "sse server without url",
			mutate: func(c *Config) {
				c.MCP.Servers = map[string]MCPServerConfig{
					"remote": {Type: TransportSSE},
				}
			},
			wantErr:   ErrMissingRequiredField,
			wantField: "url",
		},
		{
			name: "unknown transport type",
			mutate: func(c *Config) {
				c.MCP.Servers = map[string]MCPServerConfig{
					"weird": {Type: "websocket", URL: "http://x"},
				}
			},
			wantErr:   ErrInvalidValue,
			wantField: "type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.wantField, verr.Field)
		})
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("CLAWBOT_TEST_TOKEN", "secret-123")

	t.Run("expands variables", func(t *testing.T) {
		out := ExpandEnv([]byte("token: {{.CLAWBOT_TEST_TOKEN}}"))
		assert.Equal(t, "token: secret-123", string(out))
	})

	t.Run("missing variable expands empty", func(t *testing.T) {
		out := ExpandEnv([]byte("token: '{{.CLAWBOT_NO_SUCH_VAR}}'"))
		assert.Equal(t, "token: ''", string(out))
	})

	t.Run("dollar signs pass through", func(t *testing.T) {
		out := ExpandEnv([]byte(`pattern: "^pod-$"`))
		assert.Equal(t, `pattern: "^pod-$"`, string(out))
	})

	t.Run("malformed template returned verbatim", func(t *testing.T) {
		in := []byte("broken: {{.unclosed")
		assert.Equal(t, in, ExpandEnv(in))
	})
}
