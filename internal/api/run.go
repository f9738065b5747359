package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/anuvgupta/worker-comfyui/internal/model"
	"github.com/anuvgupta/worker-comfyui/internal/orchestrator"
	"github.com/anuvgupta/worker-comfyui/internal/store"
)

// Run response statuses.
const (
	runStatusCompleted = "COMPLETED"
	runStatusFailed    = "FAILED"

	// runStatusQueued only labels metrics for accepted async jobs.
	runStatusQueued = "QUEUED"
)

// Endpoint labels for run metrics.
const (
	endpointRun      = "run"
	endpointRunAsync = "run_async"
)

const (
	// failureOutput is the only detail callers see when a job fails.
	failureOutput = "ERROR"

	healthCheckOutput = "OK"
)

// runRequest is the JSON body for POST /v1/run and /v1/run/async.
type runRequest struct {
	ID    string    `json:"id"`
	Input *runInput `json:"input"`
}

type runInput struct {
	Prompt      string `json:"prompt"`
	Workflow    string `json:"workflow"`
	AspectRatio string `json:"aspect_ratio"`
}

// runResponse is the JSON response for POST /v1/run.
type runResponse struct {
	ID     string `json:"id,omitempty"`
	Status string `json:"status"`
	Output string `json:"output"`
}

func (req runRequest) jobRequest() orchestrator.JobRequest {
	return orchestrator.JobRequest{
		JobID:       req.ID,
		Prompt:      req.Input.Prompt,
		Workflow:    req.Input.Workflow,
		AspectRatio: req.Input.AspectRatio,
	}
}

// decodeRunRequest parses and checks a run request, writing the error
// response itself when the request is unusable.
func (s *Server) decodeRunRequest(w http.ResponseWriter, r *http.Request) (runRequest, bool) {
	var req runRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return req, false
	}

	if req.Input == nil {
		s.writeError(w, http.StatusBadRequest, "input is required")
		return req, false
	}
	if strings.TrimSpace(req.Input.Prompt) == "" {
		s.writeError(w, http.StatusBadRequest, "input.prompt is required")
		return req, false
	}

	if req.ID == "" {
		req.ID = model.NewID()
	}
	if err := req.jobRequest().Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return req, false
	}
	return req, true
}

// writeHealthCheck answers a run request without reading it.
func (s *Server) writeHealthCheck(w http.ResponseWriter, endpoint string) {
	s.writeRun(w, endpoint, runResponse{Status: runStatusCompleted, Output: healthCheckOutput})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.healthCheck {
		s.writeHealthCheck(w, endpointRun)
		return
	}

	req, ok := s.decodeRunRequest(w, r)
	if !ok {
		return
	}

	// A job can outlive the server's write timeout.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("clear write deadline for run", "error", err)
	}

	outcome := s.orch.RunJob(r.Context(), req.jobRequest())
	if errors.Is(outcome.Err, store.ErrConflict) {
		s.writeError(w, http.StatusConflict, "job is already active")
		return
	}
	if outcome.Kind != orchestrator.OutcomeSuccess {
		s.writeRun(w, endpointRun, runResponse{ID: req.ID, Status: runStatusFailed, Output: failureOutput})
		return
	}

	data, err := s.artifacts.Fetch(outcome.ArtifactRef)
	if err != nil {
		s.logger.Error("fetch artifact", "job_id", req.ID, "error", err)
		s.writeRun(w, endpointRun, runResponse{ID: req.ID, Status: runStatusFailed, Output: failureOutput})
		return
	}
	if err := s.artifacts.Remove(outcome.ArtifactRef); err != nil {
		s.logger.Warn("remove artifact", "job_id", req.ID, "error", err)
	}

	s.writeRun(w, endpointRun, runResponse{ID: req.ID, Status: runStatusCompleted, Output: data})
}

func (s *Server) handleRunAsync(w http.ResponseWriter, r *http.Request) {
	if s.healthCheck {
		s.writeHealthCheck(w, endpointRunAsync)
		return
	}

	req, ok := s.decodeRunRequest(w, r)
	if !ok {
		return
	}

	j, err := s.orch.Submit(r.Context(), req.jobRequest())
	if errors.Is(err, store.ErrConflict) {
		s.writeError(w, http.StatusConflict, "job is already active")
		return
	}
	if err != nil {
		s.logger.Error("submit async job", "job_id", req.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit job")
		return
	}

	runResponsesTotal.WithLabelValues(endpointRunAsync, runStatusQueued).Inc()
	s.writeJSON(w, http.StatusAccepted, j)
}

func (s *Server) writeRun(w http.ResponseWriter, endpoint string, resp runResponse) {
	runResponsesTotal.WithLabelValues(endpoint, resp.Status).Inc()
	s.writeJSON(w, http.StatusOK, resp)
}
