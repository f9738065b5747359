package comfyui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/coder/websocket"

	"github.com/anuvgupta/worker-comfyui/internal/backend"
)

// Compile-time interface satisfaction check.
var _ backend.Monitor = (*Monitor)(nil)

// Monitor follows the engine's event stream for a single prompt.
type Monitor struct {
	rt     *Runtime
	url    string
	logger *slog.Logger
}

// Watch opens a dedicated event-stream connection and consumes events for
// token until the engine reports success, failure or interruption. Events
// for other prompts are ignored. The connection is closed on every return.
func (m *Monitor) Watch(ctx context.Context, token string, totalUnits int, progress func(pct int)) error {
	logger := m.logger.With("prompt_id", token)

	conn, _, err := websocket.Dial(ctx, m.url, nil)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("dial event stream: %w", ctx.Err())
		}
		return fmt.Errorf("%w: dial event stream: %v", backend.ErrConnectionAborted, err)
	}
	conn.SetReadLimit(eventReadLimit)
	m.rt.track(conn)
	defer func() {
		conn.CloseNow()
		m.rt.untrack(conn)
	}()

	report := func(pct int) {
		logger.Debug("job progress", "percent", pct)
		if progress != nil {
			progress(pct)
		}
	}

	tracker := NewTracker(totalUnits)
	for {
		typ, msg, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("read event stream: %w", ctx.Err())
			}
			return fmt.Errorf("%w: %v", backend.ErrConnectionAborted, err)
		}
		if typ != websocket.MessageText {
			continue
		}

		ev, err := DecodeEvent(msg)
		if err != nil {
			if !errors.Is(err, errIncompleteEvent) {
				logger.Warn("skipping malformed engine event", "error", err)
			}
			continue
		}
		if ev.Data.PromptID != token {
			continue
		}

		switch ev.Type {
		case EventExecuting, EventProgress:
			engineEvents.WithLabelValues(ev.Type).Inc()
			if pct, ok := tracker.Observe(ev.Data.Node, ev.Data.Value, ev.Data.Max); ok {
				report(pct)
			}

		case EventExecutionSuccess:
			engineEvents.WithLabelValues(ev.Type).Inc()
			report(tracker.Complete())
			logger.Info("engine execution succeeded")
			return nil

		case EventExecutionError:
			engineEvents.WithLabelValues(ev.Type).Inc()
			msg := ev.Data.ErrorMessage()
			logger.Error("engine execution failed", "error", msg)
			return fmt.Errorf("%w: %s", backend.ErrExecutionFailure, msg)

		case EventExecutionInterrupted:
			engineEvents.WithLabelValues(ev.Type).Inc()
			logger.Warn("engine execution interrupted")
			return fmt.Errorf("%w: execution interrupted", backend.ErrExecutionFailure)
		}
	}
}
