package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"image/png"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/anuvgupta/worker-comfyui/internal/artifact"
	"github.com/anuvgupta/worker-comfyui/internal/backend"
	"github.com/anuvgupta/worker-comfyui/internal/backend/comfyui"
	"github.com/anuvgupta/worker-comfyui/internal/backend/comfyui/comfytest"
	"github.com/anuvgupta/worker-comfyui/internal/model"
	"github.com/anuvgupta/worker-comfyui/internal/orchestrator"
	"github.com/anuvgupta/worker-comfyui/internal/store"
	"github.com/anuvgupta/worker-comfyui/internal/workflow"
)

// pipeline is the full worker stack pointed at a fake engine.
type pipeline struct {
	ts    *httptest.Server
	fake  *comfytest.Engine
	rt    *comfyui.Runtime
	store store.Store
}

func newPipeline(t *testing.T, jobTimeout time.Duration) *pipeline {
	t.Helper()
	dir := t.TempDir()
	fake := comfytest.New(dir)
	t.Cleanup(fake.Close)

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	rt := comfyui.NewRuntime(comfyui.Config{
		Host:          fake.Host(),
		Port:          fake.Port(),
		ComfyPath:     dir,
		SubmitRetries: 2,
	}, logger, comfyui.WithCommand("false"))
	t.Cleanup(func() { rt.Close() })

	workflows := workflow.DefaultRegistry()
	orch := orchestrator.New(
		orchestrator.Engine{Supervisor: rt.Supervisor(), Submitter: rt.Client(), Monitor: rt.Monitor()},
		workflows, s, logger, orchestrator.Config{JobTimeout: jobTimeout, ReadyTimeout: 2 * time.Second},
	)
	t.Cleanup(orch.Wait)

	artifacts := artifact.NewRetriever(dir, orchestrator.DefaultFilenamePrefix, logger)
	srv := NewServer(":0", s, orch, workflows, artifacts, logger)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &pipeline{ts: ts, fake: fake, rt: rt, store: s}
}

func (p *pipeline) job(t *testing.T, id string) *model.Job {
	t.Helper()
	j, err := p.store.GetJob(context.Background(), id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	return j
}

func TestPipelineSuccess(t *testing.T) {
	p := newPipeline(t, 10*time.Second)

	_, out := postRun(t, p.ts.URL+"/v1/run", `{"id":"job-1","input":{"prompt":"a koi pond","workflow":"sdxl_lightning_4step"}}`)
	if out.Status != runStatusCompleted {
		t.Fatalf("response = %+v, want COMPLETED", out)
	}

	raw, err := base64.StdEncoding.DecodeString(out.Output)
	if err != nil {
		t.Fatalf("output is not base64: %v", err)
	}
	if _, err := png.Decode(bytes.NewReader(raw)); err != nil {
		t.Errorf("output is not a PNG: %v", err)
	}

	g, clientID := p.fake.LastGraph()
	if clientID != p.rt.ClientID() {
		t.Errorf("client_id = %q, want %q", clientID, p.rt.ClientID())
	}
	if got := g["9"].Inputs["filename_prefix"]; got != "APP_job-1" {
		t.Errorf("filename_prefix = %v, want APP_job-1", got)
	}

	j := p.job(t, "job-1")
	if j.Status != model.StatusCompleted || j.Progress != 99 || j.PromptID == "" {
		t.Errorf("job = %s at %d%% prompt %q", j.Status, j.Progress, j.PromptID)
	}

	points, err := p.store.GetProgress(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	for i := 1; i < len(points); i++ {
		if points[i].Percent < points[i-1].Percent {
			t.Errorf("progress decreased: %d then %d", points[i-1].Percent, points[i].Percent)
		}
	}
	if p.rt.OpenConns() != 0 {
		t.Errorf("open connections = %d, want 0", p.rt.OpenConns())
	}
}

func TestPipelineExecutionError(t *testing.T) {
	p := newPipeline(t, 10*time.Second)
	p.fake.SetScript(comfytest.FailureScript("CUDA out of memory"))

	_, out := postRun(t, p.ts.URL+"/v1/run", `{"id":"job-1","input":{"prompt":"cat"}}`)
	if out.Status != runStatusFailed || out.Output != failureOutput {
		t.Fatalf("response = %+v, want FAILED", out)
	}

	j := p.job(t, "job-1")
	if j.ErrorKind != backend.KindExecutionFailure {
		t.Errorf("ErrorKind = %q, want %q", j.ErrorKind, backend.KindExecutionFailure)
	}
	if !bytes.Contains([]byte(j.Error), []byte("CUDA out of memory")) {
		t.Errorf("Error = %q, want the engine message", j.Error)
	}
}

func TestPipelineRejectedSubmission(t *testing.T) {
	p := newPipeline(t, 10*time.Second)
	p.fake.QueueResponses(comfytest.Response{Status: 200, Body: `{"number": 1}`})

	_, out := postRun(t, p.ts.URL+"/v1/run", `{"id":"job-1","input":{"prompt":"cat"}}`)
	if out.Status != runStatusFailed {
		t.Fatalf("response = %+v, want FAILED", out)
	}
	if p.fake.PromptCalls() != 1 {
		t.Errorf("prompt calls = %d, want 1", p.fake.PromptCalls())
	}
	if j := p.job(t, "job-1"); j.ErrorKind != backend.KindSubmissionRejected {
		t.Errorf("ErrorKind = %q, want %q", j.ErrorKind, backend.KindSubmissionRejected)
	}
}

func TestPipelineTimeoutReleasesStream(t *testing.T) {
	p := newPipeline(t, 300*time.Millisecond)
	p.fake.SetScript(comfytest.RunningScript)

	_, out := postRun(t, p.ts.URL+"/v1/run", `{"id":"job-1","input":{"prompt":"cat"}}`)
	if out.Status != runStatusFailed {
		t.Fatalf("response = %+v, want FAILED", out)
	}

	j := p.job(t, "job-1")
	if j.Status != model.StatusTimedOut {
		t.Errorf("Status = %q, want timed_out", j.Status)
	}
	if p.rt.OpenConns() != 0 {
		t.Errorf("worker still holds %d connections", p.rt.OpenConns())
	}

	deadline := time.Now().Add(2 * time.Second)
	for p.fake.OpenStreams() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := p.fake.OpenStreams(); n != 0 {
		t.Errorf("engine still sees %d streams", n)
	}
}

func TestPipelineEngineNeverReady(t *testing.T) {
	p := newPipeline(t, 10*time.Second)
	p.fake.SetHealthy(false)

	_, out := postRun(t, p.ts.URL+"/v1/run", `{"id":"job-1","input":{"prompt":"cat"}}`)
	if out.Status != runStatusFailed {
		t.Fatalf("response = %+v, want FAILED", out)
	}
	if p.fake.PromptCalls() != 0 {
		t.Errorf("prompt calls = %d, want 0", p.fake.PromptCalls())
	}
	if j := p.job(t, "job-1"); j.ErrorKind != backend.KindEngineUnavailable {
		t.Errorf("ErrorKind = %q, want %q", j.ErrorKind, backend.KindEngineUnavailable)
	}
}
