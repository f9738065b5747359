package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/anuvgupta/worker-comfyui/internal/backend"
	"github.com/anuvgupta/worker-comfyui/internal/model"
	"github.com/anuvgupta/worker-comfyui/internal/store"
	"github.com/anuvgupta/worker-comfyui/internal/workflow"
)

// Defaults for Config fields left zero.
const (
	DefaultJobTimeout     = 180 * time.Second
	DefaultReadyTimeout   = 300 * time.Second
	DefaultFilenamePrefix = "APP"
)

// releaseGrace bounds how long a timed out job waits for the monitor to
// release its connection.
var releaseGrace = 5 * time.Second

// Engine bundles the engine collaborators a job runs against.
type Engine struct {
	Supervisor backend.Supervisor
	Submitter  backend.Submitter
	Monitor    backend.Monitor
}

// Config holds orchestrator settings.
type Config struct {
	JobTimeout     time.Duration
	ReadyTimeout   time.Duration
	FilenamePrefix string
}

func (c Config) withDefaults() Config {
	if c.JobTimeout <= 0 {
		c.JobTimeout = DefaultJobTimeout
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = DefaultReadyTimeout
	}
	if c.FilenamePrefix == "" {
		c.FilenamePrefix = DefaultFilenamePrefix
	}
	return c
}

// Orchestrator runs jobs against the engine one at a time.
type Orchestrator struct {
	engine    Engine
	workflows *workflow.Registry
	store     store.Store
	broker    *ProgressBroker
	logger    *slog.Logger
	cfg       Config

	gate *semaphore.Weighted
	wg   sync.WaitGroup

	// base is cancelled by Shutdown; every job's context ends with it.
	base   context.Context
	cancel context.CancelFunc
}

// New creates an orchestrator.
func New(engine Engine, workflows *workflow.Registry, s store.Store, logger *slog.Logger, cfg Config) *Orchestrator {
	base, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		base:      base,
		cancel:    cancel,
		engine:    engine,
		workflows: workflows,
		store:     s,
		broker:    NewProgressBroker(),
		logger:    logger,
		cfg:       cfg.withDefaults(),
		gate:      semaphore.NewWeighted(1),
	}
}

// Broker returns the progress broker for SSE subscription.
func (o *Orchestrator) Broker() *ProgressBroker {
	return o.broker
}

// Config returns the effective orchestrator settings.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// RunJob executes req and blocks until its outcome is known. A job that
// arrives while another is running waits for it to finish.
func (o *Orchestrator) RunJob(ctx context.Context, req JobRequest) Outcome {
	if err := req.Validate(); err != nil {
		return failure(err)
	}
	if _, err := o.createJob(ctx, req); err != nil {
		return failure(err)
	}
	return o.execute(ctx, req)
}

// Submit records req as pending and runs it in the background. The
// returned record reflects the job before it starts.
func (o *Orchestrator) Submit(ctx context.Context, req JobRequest) (*model.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	j, err := o.createJob(ctx, req)
	if err != nil {
		return nil, err
	}

	o.wg.Go(func() {
		o.execute(o.base, req)
	})
	return j, nil
}

// Wait blocks until all background jobs complete.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Shutdown cancels running and queued jobs and waits for background jobs
// to record their outcome.
func (o *Orchestrator) Shutdown() {
	o.cancel()
	o.wg.Wait()
}

func (o *Orchestrator) createJob(ctx context.Context, req JobRequest) (*model.Job, error) {
	timeoutS := int(o.cfg.JobTimeout / time.Second)
	j := &model.Job{
		ID:          req.JobID,
		Status:      model.StatusPending,
		Workflow:    workflowName(req.Workflow),
		AspectRatio: aspectRatio(req.AspectRatio),
		TimeoutS:    &timeoutS,
		CreatedAt:   time.Now().UTC(),
	}
	if err := o.store.CreateJob(ctx, j); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	o.broker.Open(req.JobID)
	return j, nil
}

// execute waits for the worker to be free, runs the pipeline and records
// the outcome.
func (o *Orchestrator) execute(ctx context.Context, req JobRequest) Outcome {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(o.base, cancel)
	defer stop()

	defer o.broker.Close(req.JobID)
	logger := o.logger.With("job_id", req.JobID)

	if err := o.base.Err(); err != nil {
		outcome := failure(fmt.Errorf("worker is shutting down: %w", err))
		o.finish(logger, req, outcome, nil)
		return outcome
	}

	jobsWaiting.Inc()
	err := o.gate.Acquire(ctx, 1)
	jobsWaiting.Dec()
	if err != nil {
		outcome := failure(fmt.Errorf("wait for worker: %w", err))
		o.finish(logger, req, outcome, nil)
		return outcome
	}
	defer o.gate.Release(1)

	jobsInFlight.Inc()
	defer jobsInFlight.Dec()

	if err := o.store.UpdateJobStatus(context.Background(), req.JobID, model.StatusRunning); err != nil {
		logger.Error("failed to transition to running", "error", err)
	}
	start := time.Now()
	logger.Info("job started", "workflow", workflowName(req.Workflow), "aspect_ratio", aspectRatio(req.AspectRatio))

	outcome := o.pipeline(ctx, logger, req)
	o.finish(logger, req, outcome, &start)
	return outcome
}

func (o *Orchestrator) pipeline(ctx context.Context, logger *slog.Logger, req JobRequest) Outcome {
	if err := o.engine.Supervisor.EnsureStarted(ctx); err != nil {
		return failure(asEngineUnavailable(err))
	}
	if err := o.engine.Supervisor.WaitUntilReady(ctx, o.cfg.ReadyTimeout); err != nil {
		return failure(asEngineUnavailable(err))
	}

	builder, err := o.workflows.Get(req.Workflow)
	if err != nil {
		return failure(err)
	}
	g, err := builder.Build(req.Prompt, aspectRatio(req.AspectRatio), req.JobID, o.cfg.FilenamePrefix)
	if err != nil {
		return failure(err)
	}

	token, err := o.engine.Submitter.Submit(ctx, g)
	if err != nil {
		return failure(err)
	}
	logger = logger.With("prompt_id", token)
	if err := o.store.SetPromptID(context.Background(), req.JobID, token); err != nil {
		logger.Error("failed to record prompt id", "error", err)
	}

	// Reports arriving after the outcome is decided are dropped.
	var (
		reportMu sync.Mutex
		finished bool
		seq      int
	)
	defer func() {
		reportMu.Lock()
		finished = true
		reportMu.Unlock()
	}()
	report := func(pct int) {
		reportMu.Lock()
		defer reportMu.Unlock()
		if finished {
			return
		}
		seq++
		n := seq
		if err := o.store.InsertProgress(context.Background(), req.JobID, n, pct); err != nil {
			logger.Error("failed to persist progress", "seq", n, "error", err)
		}
		o.broker.Publish(req.JobID, pct)
		if req.Progress != nil {
			req.Progress(pct)
		}
	}

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- o.engine.Monitor.Watch(watchCtx, token, g.Units(), report)
	}()

	deadline := time.NewTimer(o.cfg.JobTimeout)
	defer deadline.Stop()

	select {
	case err := <-done:
		if err != nil {
			return failure(err)
		}
		return success(req.JobID)

	case <-deadline.C:
		cancel()
		o.awaitRelease(logger, done)
		return timeout(fmt.Errorf("%w: job timed out after %s", backend.ErrTimeout, formatTimeout(o.cfg.JobTimeout)))

	case <-ctx.Done():
		cancel()
		o.awaitRelease(logger, done)
		return failure(fmt.Errorf("job cancelled: %w", ctx.Err()))
	}
}

// awaitRelease waits a bounded time for a cancelled monitor to return.
func (o *Orchestrator) awaitRelease(logger *slog.Logger, done <-chan error) {
	select {
	case <-done:
	case <-time.After(releaseGrace):
		logger.Warn("monitor did not release its connection in time", "grace", releaseGrace)
	}
}

// finish records the outcome. start is nil when the job never ran.
func (o *Orchestrator) finish(logger *slog.Logger, req JobRequest, outcome Outcome, start *time.Time) {
	now := time.Now().UTC()
	j := &model.Job{
		ID:         req.JobID,
		FinishedAt: &now,
	}
	if start != nil {
		startedAt := start.UTC()
		dur := int(time.Since(*start).Milliseconds())
		j.StartedAt = &startedAt
		j.DurationMS = &dur
		jobDuration.Observe(time.Since(*start).Seconds())
	}

	switch outcome.Kind {
	case OutcomeSuccess:
		j.Status = model.StatusCompleted
		logger.Info("job completed", "duration_ms", j.DurationMS)
	case OutcomeTimeout:
		j.Status = model.StatusTimedOut
	default:
		j.Status = model.StatusFailed
	}
	if outcome.Err != nil {
		j.ErrorKind = outcome.ErrorKind()
		j.Error = outcome.Err.Error()
		jobFailures.WithLabelValues(j.ErrorKind).Inc()
		logger.Error("job failed", "kind", j.ErrorKind, "error", outcome.Err)
	}
	jobsTotal.WithLabelValues(j.Status).Inc()

	if err := o.store.FinishJob(context.Background(), j); err != nil {
		logger.Error("failed to record job outcome", "status", j.Status, "error", err)
	}
}

// asEngineUnavailable makes sure an engine start-up failure is classified
// as ErrEngineUnavailable.
func asEngineUnavailable(err error) error {
	if errors.Is(err, backend.ErrEngineUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", backend.ErrEngineUnavailable, err)
}

func formatTimeout(d time.Duration) string {
	if d%time.Second == 0 {
		return fmt.Sprintf("%ds", int(d/time.Second))
	}
	return d.String()
}

func workflowName(name string) string {
	if name == "" {
		return workflow.DefaultName
	}
	return name
}

func aspectRatio(ratio string) string {
	if ratio == "" {
		return workflow.DefaultAspectRatio
	}
	return ratio
}
