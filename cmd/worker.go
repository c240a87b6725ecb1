package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/goyais/worker/internal/agent"
	"github.com/goyais/worker/internal/api"
	"github.com/goyais/worker/internal/claim"
	"github.com/goyais/worker/internal/config"
	"github.com/goyais/worker/internal/hub"
	"github.com/goyais/worker/internal/telemetry"
	"github.com/goyais/worker/internal/tools"
	"github.com/goyais/worker/internal/worktree"
)

func runWorker() {
	// Setup structured logging
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	// Best-effort .env load; already-set env always wins.
	if err := godotenv.Load(); err == nil {
		slog.Debug("loaded .env file")
	}

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	shutdownTelemetry, err := telemetry.Init(context.Background(), cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry init failed, continuing without export", "error", err)
		shutdownTelemetry = func() {}
	}
	defer shutdownTelemetry()

	if cfg.Worker.RuntimeFallback() {
		slog.Warn("runtime.langgraph_unavailable", "requested", cfg.Worker.Runtime, "fallback", cfg.Worker.EffectiveRuntime())
	}

	hubClient := hub.NewClient(cfg.Hub)
	worktrees := worktree.New()
	pool := tools.NewSubagentPool(cfg.Worker.MaxSubagents)
	engine := agent.NewEngine(cfg.Worker, pool)
	server := api.NewServer(cfg, worktrees)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("graceful shutdown initiated", "signal", sig)
		cancel()
	}()

	claimDone := make(chan struct{})
	if cfg.Worker.DisableClaimLoop {
		slog.Info("claim loop disabled", "env", "WORKER_DISABLE_CLAIM_LOOP")
		close(claimDone)
	} else {
		service := claim.NewService(cfg, hubClient, worktrees, engine)
		go func() {
			defer close(claimDone)
			if err := service.Run(ctx); err != nil {
				slog.Error("claim loop error", "error", err)
			}
		}()
	}

	slog.Info("goyais worker starting",
		"version", cfg.Version,
		"worker_id", cfg.Worker.ID,
		"runtime", cfg.Worker.EffectiveRuntime(),
		"max_concurrency", cfg.Worker.MaxConcurrency,
		"hub", cfg.Hub.BaseURL,
	)

	if err := server.Start(ctx); err != nil {
		slog.Error("worker api error", "error", err)
		os.Exit(1)
	}

	// The API server returns once ctx is cancelled; wait for in-flight
	// executions to reach their terminal events before exiting.
	<-claimDone
	slog.Info("goyais worker stopped")
}
