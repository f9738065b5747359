package comfyui

import (
	"errors"
	"log/slog"
	"strconv"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
)

// Option configures a Runtime.
type Option func(*options)

type options struct {
	command []string
}

// WithCommand replaces the engine launch command. The process still runs
// in the configured engine directory and its own process group.
func WithCommand(name string, args ...string) Option {
	return func(o *options) {
		o.command = append([]string{name}, args...)
	}
}

// Runtime holds the worker-wide engine resources: the engine process, the
// HTTP session used for submissions and the set of open event-stream
// connections. Create one per worker with NewRuntime and release it once
// with Close.
type Runtime struct {
	cfg      Config
	logger   *slog.Logger
	clientID string
	http     *retryablehttp.Client

	supervisor *Supervisor
	client     *Client
	monitor    *Monitor

	connMu sync.Mutex
	conns  map[*websocket.Conn]struct{}

	closeOnce sync.Once
	closeErr  error
}

// NewRuntime creates the engine runtime for cfg. No process is started
// until the supervisor is asked to.
func NewRuntime(cfg Config, logger *slog.Logger, opts ...Option) *Runtime {
	o := options{
		command: []string{cfg.PythonPath, "main.py", "--port", strconv.Itoa(cfg.Port), "--listen", "0.0.0.0"},
	}
	for _, opt := range opts {
		opt(&o)
	}

	rt := &Runtime{
		cfg:      cfg,
		logger:   logger,
		clientID: uuid.NewString(),
		http:     newHTTPClient(cfg, logger),
		conns:    make(map[*websocket.Conn]struct{}),
	}
	rt.supervisor = newSupervisor(cfg, o.command, logger)
	rt.client = &Client{http: rt.http, baseURL: cfg.BaseURL(), clientID: rt.clientID, logger: logger}
	rt.monitor = &Monitor{rt: rt, url: cfg.EventURL(rt.clientID), logger: logger}
	return rt
}

// Supervisor returns the engine process supervisor.
func (rt *Runtime) Supervisor() *Supervisor { return rt.supervisor }

// Client returns the submission client.
func (rt *Runtime) Client() *Client { return rt.client }

// Monitor returns the event-stream monitor.
func (rt *Runtime) Monitor() *Monitor { return rt.monitor }

// ClientID returns the id this worker identifies itself to the engine with.
func (rt *Runtime) ClientID() string { return rt.clientID }

// Config returns the engine configuration.
func (rt *Runtime) Config() Config { return rt.cfg }

func (rt *Runtime) track(c *websocket.Conn) {
	rt.connMu.Lock()
	defer rt.connMu.Unlock()
	rt.conns[c] = struct{}{}
	openEventStreams.Inc()
}

func (rt *Runtime) untrack(c *websocket.Conn) {
	rt.connMu.Lock()
	defer rt.connMu.Unlock()
	if _, ok := rt.conns[c]; ok {
		delete(rt.conns, c)
		openEventStreams.Dec()
	}
}

// OpenConns returns the number of open event-stream connections.
func (rt *Runtime) OpenConns() int {
	rt.connMu.Lock()
	defer rt.connMu.Unlock()
	return len(rt.conns)
}

// Close closes every open event-stream connection, the HTTP session and
// stops the owned engine process group. No engine is launched afterwards.
// Only the first call has any effect; later calls return the first call's
// result.
func (rt *Runtime) Close() error {
	rt.closeOnce.Do(func() {
		rt.connMu.Lock()
		conns := make([]*websocket.Conn, 0, len(rt.conns))
		for c := range rt.conns {
			conns = append(conns, c)
		}
		rt.connMu.Unlock()

		for _, c := range conns {
			c.CloseNow()
			rt.untrack(c)
		}
		if len(conns) > 0 {
			rt.logger.Info("closed event stream connections", "count", len(conns))
		}

		rt.http.HTTPClient.CloseIdleConnections()

		if err := rt.supervisor.shutdown(); err != nil {
			rt.closeErr = errors.Join(rt.closeErr, err)
		}
	})
	return rt.closeErr
}
