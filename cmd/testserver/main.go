// testserver starts the worker API against a fake engine so the whole
// pipeline can be exercised without ComfyUI.
// Usage: go run ./cmd/testserver
package main

import (
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/anuvgupta/worker-comfyui/internal/api"
	"github.com/anuvgupta/worker-comfyui/internal/artifact"
	"github.com/anuvgupta/worker-comfyui/internal/backend/comfyui"
	"github.com/anuvgupta/worker-comfyui/internal/backend/comfyui/comfytest"
	"github.com/anuvgupta/worker-comfyui/internal/orchestrator"
	"github.com/anuvgupta/worker-comfyui/internal/store"
	"github.com/anuvgupta/worker-comfyui/internal/workflow"
)

func main() {
	addr := ":8080"
	if v := os.Getenv("WORKER_LISTEN_ADDR"); v != "" {
		addr = v
	}

	dir, err := os.MkdirTemp("", "worker-testserver-")
	if err != nil {
		log.Fatalf("failed to create engine dir: %v", err)
	}
	defer os.RemoveAll(dir)

	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	fake := comfytest.New(dir)
	defer fake.Close()
	fake.SetDelay(200 * time.Millisecond)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	rt := comfyui.NewRuntime(comfyui.Config{
		Host:          fake.Host(),
		Port:          fake.Port(),
		ComfyPath:     dir,
		SubmitRetries: comfyui.DefaultSubmitRetries,
	}, logger)
	defer rt.Close()

	workflows := workflow.DefaultRegistry()
	orch := orchestrator.New(
		orchestrator.Engine{Supervisor: rt.Supervisor(), Submitter: rt.Client(), Monitor: rt.Monitor()},
		workflows, db, logger, orchestrator.Config{JobTimeout: time.Minute},
	)
	defer orch.Shutdown()
	artifacts := artifact.NewRetriever(dir, orchestrator.DefaultFilenamePrefix, logger)
	srv := api.NewServer(addr, db, orch, workflows, artifacts, logger)

	logger.Info("testserver: starting", "addr", addr, "engine", fake.URL())
	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
