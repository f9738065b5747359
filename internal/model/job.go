package model

import "time"

// Job status constants.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusTimedOut  = "timed_out"
)

// validTransitions maps each status to the set of statuses it may transition to.
var validTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusRunning: true,
		StatusFailed:  true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusTimedOut:  true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsTerminal reports whether status is a final job status.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed || status == StatusTimedOut
}

// ProgressPoint is a single persisted progress percentage for a job.
type ProgressPoint struct {
	ID        int64     `json:"id"`
	JobID     string    `json:"job_id"`
	Seq       int       `json:"seq"`
	Percent   int       `json:"percent"`
	CreatedAt time.Time `json:"created_at"`
}

// Job is the persisted record of one image-generation request.
//
// ErrorKind and Error are operator-facing only; callers see a uniform failure
// marker, so neither is serialized.
type Job struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	Workflow    string     `json:"workflow"`
	AspectRatio string     `json:"aspect_ratio"`
	PromptID    string     `json:"prompt_id,omitempty"`
	Progress    int        `json:"progress"`
	ErrorKind   string     `json:"-"`
	Error       string     `json:"-"`
	TimeoutS    *int       `json:"timeout_s,omitempty"`
	DurationMS  *int       `json:"duration_ms,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}
