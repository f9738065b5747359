package comfyui

import (
	"bytes"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/anuvgupta/worker-comfyui/internal/backend"
	"github.com/anuvgupta/worker-comfyui/internal/backend/comfyui/comfytest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// syncBuffer is a goroutine-safe log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// newFakeRuntime returns a runtime pointed at a fresh fake engine.
func newFakeRuntime(t *testing.T, retries int) (*Runtime, *comfytest.Engine) {
	t.Helper()
	dir := t.TempDir()
	fake := comfytest.New(dir)
	t.Cleanup(fake.Close)

	cfg := Config{
		Host:          fake.Host(),
		Port:          fake.Port(),
		ComfyPath:     dir,
		SubmitRetries: retries,
	}
	rt := NewRuntime(cfg, testLogger(), WithCommand("false"))
	t.Cleanup(func() { rt.Close() })
	return rt, fake
}

// freePort returns a local port with nothing listening on it.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

// testGraph is a two-unit graph: a two-step sampler and a save node.
func testGraph() backend.Graph {
	return backend.Graph{
		"3": {ClassType: "KSampler", Inputs: map[string]any{"steps": 2}},
		"9": {ClassType: "SaveImage", Inputs: map[string]any{"filename_prefix": "APP_job-1"}},
	}
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
