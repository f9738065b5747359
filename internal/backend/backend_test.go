package backend_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/anuvgupta/worker-comfyui/internal/backend"
)

// stubEngine is a minimal implementation of all three engine contracts used
// to verify the interfaces are implementable together.
type stubEngine struct {
	token  string
	events []int
}

func (s *stubEngine) EnsureStarted(_ context.Context) error { return nil }

func (s *stubEngine) WaitUntilReady(_ context.Context, _ time.Duration) error { return nil }

func (s *stubEngine) Stop() error { return nil }

func (s *stubEngine) Submit(_ context.Context, g backend.Graph) (string, error) {
	if len(g) == 0 {
		return "", fmt.Errorf("%w: empty graph", backend.ErrSubmissionRejected)
	}
	return s.token, nil
}

func (s *stubEngine) Watch(_ context.Context, _ string, _ int, progress func(int)) error {
	for _, pct := range s.events {
		if progress != nil {
			progress(pct)
		}
	}
	return nil
}

var (
	_ backend.Supervisor = (*stubEngine)(nil)
	_ backend.Submitter  = (*stubEngine)(nil)
	_ backend.Monitor    = (*stubEngine)(nil)
)

func TestInterfacesImplementable(t *testing.T) {
	e := &stubEngine{token: "p1", events: []int{10, 50, 99}}

	g := backend.Graph{
		"3": {ClassType: "KSampler", Inputs: map[string]any{"steps": 4}},
		"4": {ClassType: "CheckpointLoaderSimple", Inputs: map[string]any{}},
	}
	if got := g.Units(); got != 2 {
		t.Errorf("Units() = %d, want 2", got)
	}

	token, err := e.Submit(context.Background(), g)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if token != "p1" {
		t.Errorf("token = %q, want %q", token, "p1")
	}

	var seen []int
	if err := e.Watch(context.Background(), token, g.Units(), func(p int) { seen = append(seen, p) }); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if len(seen) != 3 || seen[2] != 99 {
		t.Errorf("progress = %v, want [10 50 99]", seen)
	}

	if _, err := e.Submit(context.Background(), backend.Graph{}); !errors.Is(err, backend.ErrSubmissionRejected) {
		t.Errorf("Submit(empty) error = %v, want ErrSubmissionRejected", err)
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"engine unavailable", fmt.Errorf("wait: %w", backend.ErrEngineUnavailable), backend.KindEngineUnavailable},
		{"rejected", fmt.Errorf("%w: no prompt_id", backend.ErrSubmissionRejected), backend.KindSubmissionRejected},
		{"execution", fmt.Errorf("%w: CUDA out of memory", backend.ErrExecutionFailure), backend.KindExecutionFailure},
		{"aborted", backend.ErrConnectionAborted, backend.KindConnectionAborted},
		{"timeout", fmt.Errorf("%w: timed out after 180s", backend.ErrTimeout), backend.KindTimeout},
		{"invalid", backend.ErrInvalidRequest, backend.KindInvalidRequest},
		{"cancelled", fmt.Errorf("run: %w", context.Canceled), backend.KindCancelled},
		{"other", errors.New("disk full"), backend.KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := backend.Kind(tt.err); got != tt.want {
				t.Errorf("Kind(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
