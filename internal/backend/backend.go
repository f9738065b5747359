package backend

import (
	"context"
	"time"
)

// Supervisor owns the lifecycle of the engine process.
type Supervisor interface {
	// EnsureStarted launches the engine unless a healthy one already answers.
	// It is a no-op while the engine is starting or ready.
	EnsureStarted(ctx context.Context) error

	// WaitUntilReady blocks until the engine reports healthy or timeout
	// elapses, in which case the error wraps ErrEngineUnavailable.
	WaitUntilReady(ctx context.Context, timeout time.Duration) error

	// Stop terminates the owned engine process group. It is idempotent.
	Stop() error
}

// Submitter hands a graph to the engine and returns its correlation token.
type Submitter interface {
	Submit(ctx context.Context, g Graph) (string, error)
}

// Monitor follows the engine's event stream for one submitted graph.
//
// Watch returns nil once the engine reports success. progress is invoked
// with non-decreasing percentages; it may be nil. Cancelling ctx ends the
// watch and releases the connection.
type Monitor interface {
	Watch(ctx context.Context, token string, totalUnits int, progress func(pct int)) error
}

// Node is a single unit of work in an engine graph.
type Node struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
}

// Graph is the engine's node graph keyed by node label.
type Graph map[string]Node

// Units returns the number of nodes in the graph, which is the denominator
// for progress reporting.
func (g Graph) Units() int {
	return len(g)
}
