package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/anuvgupta/worker-comfyui/internal/model"
	"github.com/anuvgupta/worker-comfyui/internal/store"
)

func (s *Server) handleStreamProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	j, err := s.store.GetJob(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("get job for progress", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, canFlush := w.(http.Flusher)

	// Finished jobs get their final state and nothing else.
	if model.IsTerminal(j.Status) {
		w.WriteHeader(http.StatusOK)
		_ = writeSSEEvent(w, "done", j.Status)
		return
	}

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	// Subscribing to a topic that closed after the status check above
	// yields a closed channel, so the loop below still terminates.
	ch, unsub := s.orch.Broker().Subscribe(id)
	defer unsub()

	w.WriteHeader(http.StatusOK)
	if canFlush {
		flusher.Flush()
	}

	for {
		select {
		case pct, ok := <-ch:
			if !ok {
				_ = writeSSEEvent(w, "done", s.finalStatus(r.Context(), id))
				if canFlush {
					flusher.Flush()
				}
				return
			}
			if err := writeSSEData(w, strconv.Itoa(pct)); err != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return
		}
	}
}

// finalStatus reads the job's status once its progress stream has ended.
func (s *Server) finalStatus(ctx context.Context, id string) string {
	j, err := s.store.GetJob(ctx, id)
	if err != nil {
		s.logger.Error("get job after progress", "job_id", id, "error", err)
		return "unknown"
	}
	return j.Status
}

// progressHistoryPoint is a single percentage in the history response.
type progressHistoryPoint struct {
	Seq       int    `json:"seq"`
	Percent   int    `json:"percent"`
	CreatedAt string `json:"created_at"`
}

// progressHistoryResponse is the JSON response for
// GET /v1/jobs/:id/progress/history.
type progressHistoryResponse struct {
	JobID  string                 `json:"job_id"`
	Points []progressHistoryPoint `json:"points"`
}

func (s *Server) handleGetProgressHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	_, err := s.store.GetJob(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("get job for progress history", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	points, err := s.store.GetProgress(r.Context(), id)
	if err != nil {
		s.logger.Error("get progress", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get progress")
		return
	}

	out := make([]progressHistoryPoint, len(points))
	for i, p := range points {
		out[i] = progressHistoryPoint{
			Seq:       p.Seq,
			Percent:   p.Percent,
			CreatedAt: p.CreatedAt.Format(time.RFC3339),
		}
	}

	s.writeJSON(w, http.StatusOK, progressHistoryResponse{
		JobID:  id,
		Points: out,
	})
}

// writeSSEData writes a single-line SSE data event.
func writeSSEData(w http.ResponseWriter, data string) error {
	_, err := fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
