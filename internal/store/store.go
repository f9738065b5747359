package store

import (
	"context"
	"errors"

	"github.com/anuvgupta/worker-comfyui/internal/model"
)

// ErrInvalidTransition is returned when a job status transition is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// JobStats holds aggregate execution statistics.
type JobStats struct {
	Total           int            `json:"total"`
	CountByStatus   map[string]int `json:"count_by_status"`
	CountByWorkflow map[string]int `json:"count_by_workflow"`
	AvgDurationMS   float64        `json:"avg_duration_ms"`
}

// Store defines the persistence operations for jobs.
type Store interface {
	CreateJob(ctx context.Context, j *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, limit, offset int) ([]*model.Job, int, error)
	UpdateJobStatus(ctx context.Context, id, status string) error
	SetPromptID(ctx context.Context, id, promptID string) error
	FinishJob(ctx context.Context, j *model.Job) error
	GetJobStats(ctx context.Context) (*JobStats, error)
	InsertProgress(ctx context.Context, jobID string, seq, percent int) error
	GetProgress(ctx context.Context, jobID string) ([]model.ProgressPoint, error)
	Close() error
}
