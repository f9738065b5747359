// Package comfytest provides an in-process fake ComfyUI engine for tests and
// local development. It serves the health, submission and event-stream
// endpoints the worker uses and writes a placeholder image on success.
package comfytest

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/anuvgupta/worker-comfyui/internal/backend"
)

// Event is a message pushed on the fake's event stream.
type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Script produces the events sent for a submitted prompt.
type Script func(promptID string, g backend.Graph) []Event

// Response is a canned answer to POST /prompt.
type Response struct {
	Status int
	Body   string
}

// Engine is a fake ComfyUI server.
type Engine struct {
	server    *httptest.Server
	outputDir string
	ctx       context.Context
	cancel    context.CancelFunc

	mu          sync.Mutex
	healthy     bool
	responses   []Response
	script      Script
	delay       time.Duration
	promptCalls int
	streams     int
	lastGraph   backend.Graph
	lastPrompt  string
	lastClient  string
}

// New starts a healthy fake engine whose images are written under
// comfyPath/output.
func New(comfyPath string) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		outputDir: filepath.Join(comfyPath, "output"),
		ctx:       ctx,
		cancel:    cancel,
		healthy:   true,
		script:    SuccessScript,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /system_stats", e.handleSystemStats)
	mux.HandleFunc("POST /prompt", e.handlePrompt)
	mux.HandleFunc("GET /ws", e.handleEvents)
	e.server = httptest.NewServer(mux)
	return e
}

// Close stops the server and ends open event streams.
func (e *Engine) Close() {
	e.cancel()
	e.server.Close()
}

// URL returns the fake's HTTP root.
func (e *Engine) URL() string { return e.server.URL }

// Host returns the host the fake listens on.
func (e *Engine) Host() string {
	host, _, _ := net.SplitHostPort(e.server.Listener.Addr().String())
	return host
}

// Port returns the port the fake listens on.
func (e *Engine) Port() int {
	_, port, _ := net.SplitHostPort(e.server.Listener.Addr().String())
	n, _ := strconv.Atoi(port)
	return n
}

// SetHealthy controls whether /system_stats answers 200 or 503.
func (e *Engine) SetHealthy(ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.healthy = ok
}

// QueueResponses makes the next /prompt calls answer with rs in order.
// Once drained, submissions are accepted.
func (e *Engine) QueueResponses(rs ...Response) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.responses = append(e.responses, rs...)
}

// SetScript replaces the events sent for accepted prompts.
func (e *Engine) SetScript(s Script) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.script = s
}

// SetDelay sets a pause before each scripted event.
func (e *Engine) SetDelay(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.delay = d
}

// PromptCalls returns how many /prompt requests were received.
func (e *Engine) PromptCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.promptCalls
}

// OpenStreams returns the number of event streams currently connected.
func (e *Engine) OpenStreams() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.streams
}

// LastGraph returns the most recently accepted graph and client id.
func (e *Engine) LastGraph() (backend.Graph, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastGraph, e.lastClient
}

func (e *Engine) handleSystemStats(w http.ResponseWriter, _ *http.Request) {
	e.mu.Lock()
	healthy := e.healthy
	e.mu.Unlock()

	if !healthy {
		http.Error(w, "starting", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"system":{"os":"posix","python_version":"3.11"},"devices":[]}`))
}

func (e *Engine) handlePrompt(w http.ResponseWriter, r *http.Request) {
	e.mu.Lock()
	e.promptCalls++
	n := e.promptCalls
	var canned *Response
	if len(e.responses) > 0 {
		canned = &e.responses[0]
		e.responses = e.responses[1:]
	}
	e.mu.Unlock()

	if canned != nil {
		w.WriteHeader(canned.Status)
		w.Write([]byte(canned.Body))
		return
	}

	var req struct {
		Prompt   backend.Graph `json:"prompt"`
		ClientID string        `json:"client_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Prompt) == 0 || req.ClientID == "" {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"type":"prompt_no_outputs","message":"Prompt has no outputs"},"node_errors":{}}`))
		return
	}

	promptID := fmt.Sprintf("prompt-%d", n)
	e.mu.Lock()
	e.lastGraph = req.Prompt
	e.lastPrompt = promptID
	e.lastClient = req.ClientID
	e.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"prompt_id":   promptID,
		"number":      n,
		"node_errors": map[string]any{},
	})
}

func (e *Engine) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	e.mu.Lock()
	e.streams++
	promptID, g, script, delay := e.lastPrompt, e.lastGraph, e.script, e.delay
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.streams--
		e.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(e.ctx)
	defer cancel()
	go func() {
		// Hold the stream open until the client goes away or the fake closes.
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				cancel()
				return
			}
		}
	}()

	status := Event{Type: "status", Data: map[string]any{
		"status": map[string]any{"exec_info": map[string]any{"queue_remaining": 1}},
		"sid":    r.URL.Query().Get("clientId"),
	}}
	if err := writeEvent(ctx, conn, status); err != nil {
		return
	}

	if promptID != "" {
		for _, ev := range script(promptID, g) {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				}
			}
			if ev.Type == "execution_success" {
				if err := e.writeImage(g); err != nil {
					return
				}
			}
			if ev.Type == "progress" {
				// Previews travel on the same socket as binary frames.
				if err := conn.Write(ctx, websocket.MessageBinary, []byte{0, 0, 0, 1, 0x89, 'P', 'N', 'G'}); err != nil {
					return
				}
			}
			if err := writeEvent(ctx, conn, ev); err != nil {
				return
			}
		}
	}

	<-ctx.Done()
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// writeImage saves a placeholder PNG where the engine would put the output
// of the graph's SaveImage node.
func (e *Engine) writeImage(g backend.Graph) error {
	prefix := ""
	for _, node := range g {
		if node.ClassType == "SaveImage" {
			prefix, _ = node.Inputs["filename_prefix"].(string)
		}
	}
	if prefix == "" {
		return nil
	}

	if err := os.MkdirAll(e.outputDir, 0o755); err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(e.outputDir, prefix+"_00001_.png"))
	if err != nil {
		return err
	}
	defer f.Close()

	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	return png.Encode(f, img)
}

// UnitLabels returns the graph's node labels in execution order.
func UnitLabels(g backend.Graph) []string {
	labels := make([]string, 0, len(g))
	for id := range g {
		labels = append(labels, id)
	}
	sort.Strings(labels)
	return labels
}

// SuccessScript runs every node of the graph, reports sampler steps as
// progress, and finishes with execution_success.
func SuccessScript(promptID string, g backend.Graph) []Event {
	events := RunningScript(promptID, g)
	events = append(events,
		Event{Type: "executing", Data: map[string]any{"node": nil, "prompt_id": promptID}},
		Event{Type: "execution_success", Data: map[string]any{"prompt_id": promptID}},
	)
	return events
}

// RunningScript reports every node of the graph but never finishes.
func RunningScript(promptID string, g backend.Graph) []Event {
	events := []Event{
		{Type: "execution_start", Data: map[string]any{"prompt_id": promptID}},
	}
	for _, label := range UnitLabels(g) {
		events = append(events, Event{Type: "executing", Data: map[string]any{"node": label, "prompt_id": promptID}})
		if g[label].ClassType != "KSampler" {
			continue
		}
		steps, _ := g[label].Inputs["steps"].(float64)
		for i := 1; i <= int(steps); i++ {
			events = append(events, Event{Type: "progress", Data: map[string]any{
				"node": label, "value": i, "max": int(steps), "prompt_id": promptID,
			}})
		}
	}
	return events
}

// FailureScript starts the graph then fails with message.
func FailureScript(message string) Script {
	return func(promptID string, g backend.Graph) []Event {
		events := RunningScript(promptID, g)
		if len(events) > 2 {
			events = events[:2]
		}
		return append(events, Event{Type: "execution_error", Data: map[string]any{
			"prompt_id":         promptID,
			"node_id":           "3",
			"exception_message": message,
			"exception_type":    "RuntimeError",
		}})
	}
}
