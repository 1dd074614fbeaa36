// Clawbot proactive SRE engine — watches the cluster, matches events to
// playbooks, executes remediation through MCP tool servers, and gates risky
// steps behind chat approvals.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/clawbot/clawbot/pkg/api"
	"github.com/clawbot/clawbot/pkg/approval"
	"github.com/clawbot/clawbot/pkg/channel"
	"github.com/clawbot/clawbot/pkg/config"
	"github.com/clawbot/clawbot/pkg/engine"
	"github.com/clawbot/clawbot/pkg/mcp"
	"github.com/clawbot/clawbot/pkg/playbook"
	"github.com/clawbot/clawbot/pkg/rules"
	"github.com/clawbot/clawbot/pkg/version"
	"github.com/clawbot/clawbot/pkg/watch"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// kubernetesClient prefers in-cluster credentials and falls back to the
// local kubeconfig for development runs.
func kubernetesClient() (kubernetes.Interface, error) {
	restCfg, err := rest.InClusterConfig()
	if err != nil {
		loading := clientcmd.NewDefaultClientConfigLoadingRules()
		restCfg, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
			loading, &clientcmd.ConfigOverrides{}).ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("load kubeconfig: %w", err)
		}
	}
	return kubernetes.NewForConfig(restCfg)
}

func main() {
	// Parse command-line flags
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")

	slog.Info("Starting clawbot",
		"version", version.GitCommit,
		"http_port", httpPort,
		"config_dir", *configDir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// 1. Initialize configuration
	cfg, err := config.Initialize(*configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Connect to Redis (approval store)
	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		slog.Error("Invalid Redis URL", "error", err)
		os.Exit(1)
	}
	store := redis.NewClient(redisOpts)
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("Error closing Redis client", "error", err)
		}
	}()

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := store.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	pingCancel()
	slog.Info("Connected to Redis", "addr", redisOpts.Addr)

	// 3. Register notification channels
	channels := channel.NewRegistry()
	if cfg.Slack.Enabled {
		token := os.Getenv(cfg.Slack.TokenEnv)
		if token == "" {
			slog.Error("Slack enabled but bot token is not set", "env", cfg.Slack.TokenEnv)
			os.Exit(1)
		}
		channels.Register(channel.NewSlackSender(token))
		slog.Info("Slack sender registered")
	}

	// 4. Wire the remediation pipeline: tool servers, playbooks, approvals
	mcpManager := mcp.NewManager(cfg.MCP.Servers, cfg.Engine.ToolCallTimeout())
	approvals := approval.NewManager(store, mcpManager, channels, cfg.Approval.Timeout())
	playbooks := playbook.NewRegistry()
	executor := playbook.NewExecutor(playbooks, mcpManager, approvals, channels, playbook.DefaultRunRetention)
	dispatcher := engine.NewDispatcher(rules.NewEngine(), executor, channels,
		cfg.AIOps.NotificationChannel, cfg.AIOps.AutoRemediation)

	// 5. Build the watch loop when enabled
	var loop *watch.Loop
	if cfg.WatchLoop.Enabled {
		client, err := kubernetesClient()
		if err != nil {
			slog.Error("Failed to build Kubernetes client", "error", err)
			os.Exit(1)
		}
		loop = watch.NewLoop(client, dispatcher, cfg.WatchLoop.Interval())
	}

	// 6. Start the engine: tool servers first, then the loop
	eng := engine.New(cfg, mcpManager, playbooks, executor, loop)
	if err := eng.Start(ctx); err != nil {
		slog.Error("Failed to start engine", "error", err)
		os.Exit(1)
	}

	// 7. Serve HTTP until a shutdown signal arrives
	var snapshotter api.IssueSnapshotter
	if loop != nil {
		snapshotter = loop
	}
	server := api.NewServer(dispatcher, approvals, channels, mcpManager,
		snapshotter, cfg.AIOps.NotificationChannel)

	if err := server.Run(ctx, ":"+httpPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("HTTP server error", "error", err)
	}

	// 8. Graceful shutdown: quiesce intake, drain runs, close transports
	slog.Info("Shutdown signal received")
	eng.Stop()
	slog.Info("Shutdown complete")
}
