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
	"strings"
	"syscall"

	"WeatherChat/internal/agent"
	"WeatherChat/internal/backend"
	"WeatherChat/internal/config"
	"WeatherChat/internal/mcp"
	"WeatherChat/internal/server"
	"WeatherChat/internal/session"
	"WeatherChat/internal/telemetry"
	"WeatherChat/internal/toolserver"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Default()

	var (
		configPath   = flag.String("config", "weatherchat.toml", "Path to TOML config file")
		addr         = flag.String("addr", cfg.HTTPAddr, "HTTP listen address")
		toolServer   = flag.String("tool-server", cfg.ToolServerURL, "Weather tool server base URL (http:// or ws://)")
		modelEndpoint = flag.String("model-endpoint", cfg.ModelEndpoint, "Model API endpoint")
		modelName    = flag.String("model", cfg.ModelName, "Model name")
		maxToolCalls = flag.Int("max-tool-calls", cfg.MaxToolCalls, "Tool invocation budget per user message")
		idleTimeout  = flag.Duration("idle-timeout", cfg.SessionIdleTimeout.Std(), "Session idle eviction timeout")
		debug        = flag.Bool("debug", cfg.Debug, "Enable debug logging to console")
	)
	flag.Parse()

	explicitConfig := false
	setFlags := map[string]bool{}
	flag.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
		if f.Name == "config" {
			explicitConfig = true
		}
	})

	if err := config.LoadFile(*configPath, &cfg, explicitConfig); err != nil {
		return err
	}

	// Explicit flags win over the config file
	if setFlags["addr"] {
		cfg.HTTPAddr = *addr
	}
	if setFlags["tool-server"] {
		cfg.ToolServerURL = *toolServer
	}
	if setFlags["model-endpoint"] {
		cfg.ModelEndpoint = *modelEndpoint
	}
	if setFlags["model"] {
		cfg.ModelName = *modelName
	}
	if setFlags["max-tool-calls"] {
		cfg.MaxToolCalls = *maxToolCalls
	}
	if setFlags["idle-timeout"] {
		cfg.SessionIdleTimeout = config.Duration(*idleTimeout)
	}
	if setFlags["debug"] {
		cfg.Debug = *debug
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := telemetry.InitLogger("weatherchat", cfg.LogDir, cfg.Debug)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracer, meter, cleanup, err := telemetry.InitTelemetry(ctx, "weatherchat", cfg.LogDir)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer cleanup()

	store := session.NewStore(cfg.SessionIdleTimeout.Std(), logger)
	store.StartSweeper(ctx, cfg.SweepInterval.Std())

	toolClient, err := newToolClient(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create tool client: %w", err)
	}
	registry := mcp.NewClientRegistry()
	registry.Register(toolClient.Name(), toolClient)
	defer registry.Close()

	toolSchema := []backend.AnthropicTool{}
	if err := toolClient.Initialize(ctx); err != nil {
		logger.Warn("tool server handshake failed, continuing with static schema", "error", err)
	}
	if tools, err := toolClient.ListTools(ctx); err != nil {
		logger.Warn("failed to list tools, using static get_weather schema", "error", err)
		static := toolserver.GetWeatherTool()
		toolSchema = append(toolSchema, backend.AnthropicTool{
			Name:        static.Name,
			Description: static.Description,
			InputSchema: static.InputSchema,
		})
	} else {
		toolSchema = agent.ConvertTools(tools)
	}

	model, err := backend.NewAnthropicClient(backend.AnthropicConfig{
		Endpoint:  cfg.ModelEndpoint,
		APIKey:    os.Getenv("ANTHROPIC_API_KEY"),
		Model:     cfg.ModelName,
		MaxTokens: cfg.ModelMaxTokens,
		System:    cfg.SystemPrompt,
		Timeout:   cfg.ModelTimeout.Std(),
	}, logger, tracer, meter)
	if err != nil {
		return fmt.Errorf("failed to create model client: %w", err)
	}

	runner, err := agent.NewToolRunner(toolClient, cfg.ToolCallTimeout.Std(), logger)
	if err != nil {
		return fmt.Errorf("failed to create tool runner: %w", err)
	}

	orchestrator, err := agent.New(agent.Options{
		Model:        model,
		Tools:        runner,
		Store:        store,
		ToolSchema:   toolSchema,
		MaxToolCalls: cfg.MaxToolCalls,
		Logger:       logger,
		Tracer:       tracer,
		Meter:        meter,
	})
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	api := server.New(orchestrator, logger)
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("chat server listening", "addr", cfg.HTTPAddr, "tool_server", cfg.ToolServerURL)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Std())
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

// newToolClient picks the tool-server transport by URL scheme: ws:// and
// wss:// dial a WebSocket, anything else goes over plain HTTP.
func newToolClient(cfg config.Config, logger *slog.Logger) (mcp.MCPClient, error) {
	if strings.HasPrefix(cfg.ToolServerURL, "ws://") || strings.HasPrefix(cfg.ToolServerURL, "wss://") {
		return mcp.NewWebSocketClient("weathertool", cfg.ToolServerURL, logger)
	}
	return mcp.NewHTTPClient("weathertool", cfg.ToolServerURL, cfg.ToolCallTimeout.Std(), logger)
}
