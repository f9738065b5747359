package comfyui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/anuvgupta/worker-comfyui/internal/backend"
)

// EngineState is the liveness state of the engine process.
type EngineState int

const (
	StateNotStarted EngineState = iota
	StateStarting
	StateReady
	StateStopping
	StateStopped
)

func (s EngineState) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Compile-time interface satisfaction check.
var _ backend.Supervisor = (*Supervisor)(nil)

// Supervisor launches the engine in its own process group, probes its
// health and terminates it. At most one engine process is owned at a time.
type Supervisor struct {
	statusURL string
	dir       string
	command   []string
	probe     *http.Client
	logger    *slog.Logger

	mu    sync.Mutex
	state EngineState
	cmd   *exec.Cmd
	done  chan struct{} // closed once the owned process has been reaped

	// closed is set by the runtime's teardown; no engine is launched after it.
	closed bool
}

func newSupervisor(cfg Config, command []string, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		statusURL: cfg.BaseURL() + "/system_stats",
		dir:       cfg.ComfyPath,
		command:   command,
		probe:     &http.Client{Timeout: probeTimeout},
		logger:    logger,
	}
}

// State returns the current engine state.
func (s *Supervisor) State() EngineState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PID returns the owned engine process id, or 0 when no process is owned.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// Healthy reports whether the engine's status endpoint answers 200.
func (s *Supervisor) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.statusURL, nil)
	if err != nil {
		return false
	}
	resp, err := s.probe.Do(req)
	if err != nil {
		return false
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// EnsureStarted launches the engine unless the worker's own process is
// starting or ready, or another engine already answers on the configured
// port. An adopted engine is probed again on every call.
func (s *Supervisor) EnsureStarted(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("%w: worker is shutting down", backend.ErrEngineUnavailable)
	}
	if s.cmd != nil && (s.state == StateStarting || s.state == StateReady) {
		return nil
	}

	if s.Healthy(ctx) {
		s.logger.Info("engine already running", "url", s.statusURL)
		s.state = StateReady
		return nil
	}

	cmd := exec.Command(s.command[0], s.command[1:]...)
	cmd.Dir = s.dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("engine stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("engine stderr pipe: %w", err)
	}

	s.logger.Info("starting engine", "command", s.command, "dir", s.dir)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: start engine: %v", backend.ErrEngineUnavailable, err)
	}
	engineStarts.Inc()

	var pumps sync.WaitGroup
	pumps.Go(func() { s.pump(stdout, "stdout") })
	pumps.Go(func() { s.pump(stderr, "stderr") })

	done := make(chan struct{})
	s.cmd = cmd
	s.done = done
	s.state = StateStarting

	go s.reap(cmd, &pumps, done)

	s.logger.Info("engine process started", "pid", cmd.Process.Pid)
	return nil
}

// pump logs each line the engine writes to r until r is closed.
func (s *Supervisor) pump(r io.Reader, stream string) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), outputLineMax)
	for scanner.Scan() {
		s.logger.Info("engine output", "stream", stream, "line", scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		s.logger.Warn("engine output pump stopped", "stream", stream, "error", err)
	}
}

// reap waits for the pumps to drain and the process to exit, then clears
// the owned process if it is still the current one.
func (s *Supervisor) reap(cmd *exec.Cmd, pumps *sync.WaitGroup, done chan struct{}) {
	pumps.Wait()
	err := cmd.Wait()

	s.mu.Lock()
	if s.cmd == cmd {
		s.cmd = nil
		s.done = nil
		s.state = StateStopped
	}
	s.mu.Unlock()
	close(done)

	s.logger.Info("engine process exited", "pid", cmd.Process.Pid, "error", err)
}

// WaitUntilReady polls the status endpoint until it answers 200, the owned
// process exits, or timeout elapses.
func (s *Supervisor) WaitUntilReady(ctx context.Context, timeout time.Duration) error {
	start := time.Now()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	for {
		if s.Healthy(ctx) {
			s.mu.Lock()
			if s.state != StateStopping {
				s.state = StateReady
			}
			s.mu.Unlock()
			engineReadyWait.Observe(time.Since(start).Seconds())
			return nil
		}

		if s.State() == StateStopped {
			return fmt.Errorf("%w: engine process exited before becoming ready", backend.ErrEngineUnavailable)
		}

		select {
		case <-ticker.C:
		case <-deadline.C:
			return fmt.Errorf("%w: not ready after %s", backend.ErrEngineUnavailable, timeout)
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", backend.ErrEngineUnavailable, ctx.Err())
		}
	}
}

// shutdown stops the owned engine and refuses to launch another.
func (s *Supervisor) shutdown() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.Stop()
}

// Stop sends SIGTERM to the owned engine process group and waits for it to
// exit, escalating to SIGKILL after a grace period. An engine the worker did
// not launch is left running.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	cmd, done := s.cmd, s.done
	if cmd == nil {
		if s.state != StateNotStarted {
			s.state = StateStopped
		}
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopping
	s.cmd = nil
	s.done = nil
	s.mu.Unlock()

	pgid := cmd.Process.Pid
	defer func() {
		s.mu.Lock()
		if s.cmd == nil {
			s.state = StateStopped
		}
		s.mu.Unlock()
	}()

	if err := unix.Kill(-pgid, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return nil
		}
		return fmt.Errorf("signal engine process group %d: %w", pgid, err)
	}
	s.logger.Info("engine process group signalled", "pgid", pgid)

	select {
	case <-done:
		return nil
	case <-time.After(stopGrace):
	}

	s.logger.Warn("engine did not exit after SIGTERM, killing", "pgid", pgid)
	if err := unix.Kill(-pgid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("kill engine process group %d: %w", pgid, err)
	}
	<-done
	return nil
}
