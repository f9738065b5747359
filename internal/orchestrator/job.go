package orchestrator

import (
	"fmt"
	"strings"

	"github.com/anuvgupta/worker-comfyui/internal/backend"
)

// JobRequest describes one image-generation request. It is not modified
// once submitted.
type JobRequest struct {
	JobID       string
	Prompt      string
	Workflow    string
	AspectRatio string

	// Progress, when set, receives non-decreasing percentages while the
	// engine works on the job.
	Progress func(pct int)
}

// Validate checks the fields every job needs.
func (r JobRequest) Validate() error {
	if strings.TrimSpace(r.JobID) == "" {
		return fmt.Errorf("%w: missing job id", backend.ErrInvalidRequest)
	}
	// The id names the output file, so it must stay a single path element.
	if strings.ContainsAny(r.JobID, `/\`) || strings.Contains(r.JobID, "..") {
		return fmt.Errorf("%w: job id %q is not a plain name", backend.ErrInvalidRequest, r.JobID)
	}
	if strings.TrimSpace(r.Prompt) == "" {
		return fmt.Errorf("%w: missing prompt", backend.ErrInvalidRequest)
	}
	return nil
}

// OutcomeKind is the terminal result class of a job.
type OutcomeKind string

const (
	OutcomeSuccess OutcomeKind = "success"
	OutcomeFailure OutcomeKind = "failure"
	OutcomeTimeout OutcomeKind = "timeout"
)

// Outcome is the single terminal result of a job.
type Outcome struct {
	Kind OutcomeKind

	// ArtifactRef identifies the produced image on success. It is the job
	// id, which the artifact retriever resolves to a file.
	ArtifactRef string

	// Err describes a failure or timeout. It wraps one of the backend
	// sentinel errors.
	Err error
}

// ErrorKind returns the failure label of the outcome, or "" on success.
func (o Outcome) ErrorKind() string {
	return backend.Kind(o.Err)
}

func success(ref string) Outcome {
	return Outcome{Kind: OutcomeSuccess, ArtifactRef: ref}
}

func failure(err error) Outcome {
	return Outcome{Kind: OutcomeFailure, Err: err}
}

func timeout(err error) Outcome {
	return Outcome{Kind: OutcomeTimeout, Err: err}
}
