package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/anuvgupta/worker-comfyui/internal/api"
	"github.com/anuvgupta/worker-comfyui/internal/artifact"
	"github.com/anuvgupta/worker-comfyui/internal/backend/comfyui"
	"github.com/anuvgupta/worker-comfyui/internal/config"
	"github.com/anuvgupta/worker-comfyui/internal/orchestrator"
	"github.com/anuvgupta/worker-comfyui/internal/store"
	"github.com/anuvgupta/worker-comfyui/internal/workflow"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("worker: exiting", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	engineCfg := comfyui.LoadConfig(cfg.Production)

	logger.Info("worker: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"production", cfg.Production,
		"health_check_mode", cfg.HealthCheckMode,
		"comfyui_path", engineCfg.ComfyPath,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	rt := comfyui.NewRuntime(engineCfg, logger)

	var opts []api.Option
	if cfg.HealthCheckMode {
		opts = append(opts, api.WithHealthCheckMode())
	} else {
		if cfg.NetworkVolume {
			if _, err := comfyui.LinkModelCache(engineCfg, logger); err != nil {
				logger.Error("link model cache", "error", err)
			}
		}
		if err := warmUp(rt, cfg, logger); err != nil {
			if cerr := rt.Close(); cerr != nil {
				logger.Error("close engine runtime", "error", cerr)
			}
			return fmt.Errorf("warm up engine: %w", err)
		}
	}

	workflows := workflow.DefaultRegistry()
	orch := orchestrator.New(
		orchestrator.Engine{Supervisor: rt.Supervisor(), Submitter: rt.Client(), Monitor: rt.Monitor()},
		workflows, db, logger,
		orchestrator.Config{
			JobTimeout:     cfg.JobTimeout,
			ReadyTimeout:   cfg.ReadyTimeout,
			FilenamePrefix: cfg.FilenamePrefix,
		},
	)
	artifacts := artifact.NewRetriever(engineCfg.ComfyPath, cfg.FilenamePrefix, logger)

	srv := api.NewServer(cfg.ListenAddr, db, orch, workflows, artifacts, logger, opts...)
	serveErr := srv.Run()

	// Jobs are cancelled and drained before the engine goes away, so none
	// of them can relaunch it.
	orch.Shutdown()
	if err := rt.Close(); err != nil {
		logger.Error("close engine runtime", "error", err)
	}

	return serveErr
}

// warmUp starts the engine at boot so the first job does not pay for it.
// The worker does not serve without a ready engine.
func warmUp(rt *comfyui.Runtime, cfg config.Config, logger *slog.Logger) error {
	ctx := context.Background()
	if err := rt.Supervisor().EnsureStarted(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	if err := rt.Supervisor().WaitUntilReady(ctx, cfg.ReadyTimeout); err != nil {
		return fmt.Errorf("engine not ready: %w", err)
	}
	logger.Info("engine ready", "pid", rt.Supervisor().PID())
	return nil
}
