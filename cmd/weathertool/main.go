package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"WeatherChat/internal/config"
	"WeatherChat/internal/telemetry"
	"WeatherChat/internal/toolserver"
	"WeatherChat/internal/weather"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.DefaultTool()

	var (
		configPath = flag.String("config", "weathertool.toml", "Path to TOML config file")
		addr       = flag.String("addr", cfg.HTTPAddr, "HTTP listen address")
		seed       = flag.Uint64("seed", cfg.Seed, "Weather generator seed (0 derives one at startup)")
		debug      = flag.Bool("debug", cfg.Debug, "Enable debug logging to console")
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

	if err := config.LoadToolFile(*configPath, &cfg, explicitConfig); err != nil {
		return err
	}
	if setFlags["addr"] {
		cfg.HTTPAddr = *addr
	}
	if setFlags["seed"] {
		cfg.Seed = *seed
	}
	if setFlags["debug"] {
		cfg.Debug = *debug
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := telemetry.InitLogger("weathertool", cfg.LogDir, cfg.Debug)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracer, meter, cleanup, err := telemetry.InitTelemetry(ctx, "weathertool", cfg.LogDir)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer cleanup()

	// Seed 0 means "fresh weather each run"; the table stays stable for the
	// life of the process either way.
	seedVal := cfg.Seed
	if seedVal == 0 {
		seedVal = uint64(time.Now().UnixNano())
	}
	generator := weather.NewGenerator(seedVal)

	srv := toolserver.New(generator, logger, tracer, meter)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: srv.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("weather tool server listening", "addr", cfg.HTTPAddr, "seed", seedVal)
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
