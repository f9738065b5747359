package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/anuvgupta/worker-comfyui/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func makeTestJob() *model.Job {
	timeout := 180
	return &model.Job{
		ID:          model.NewID(),
		Status:      model.StatusPending,
		Workflow:    "sd_1_5",
		AspectRatio: "1:1",
		TimeoutS:    &timeout,
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}
}

func TestCreateAndGetJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	j := makeTestJob()

	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}

	if got.ID != j.ID {
		t.Errorf("ID = %q, want %q", got.ID, j.ID)
	}
	if got.Status != model.StatusPending {
		t.Errorf("Status = %q, want %q", got.Status, model.StatusPending)
	}
	if got.Workflow != j.Workflow {
		t.Errorf("Workflow = %q, want %q", got.Workflow, j.Workflow)
	}
	if got.AspectRatio != j.AspectRatio {
		t.Errorf("AspectRatio = %q, want %q", got.AspectRatio, j.AspectRatio)
	}
	if got.TimeoutS == nil || *got.TimeoutS != 180 {
		t.Errorf("TimeoutS = %v, want 180", got.TimeoutS)
	}
	if got.StartedAt != nil {
		t.Errorf("StartedAt = %v, want nil", got.StartedAt)
	}
}

func TestGetJobNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetJob(context.Background(), "nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetJob error = %v, want ErrNotFound", err)
	}
}

func TestCreateJobResetsExistingRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	j := makeTestJob()

	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := s.UpdateJobStatus(ctx, j.ID, model.StatusRunning); err != nil {
		t.Fatalf("UpdateJobStatus: %v", err)
	}
	if err := s.InsertProgress(ctx, j.ID, 1, 40); err != nil {
		t.Fatalf("InsertProgress: %v", err)
	}
	done := *j
	done.Status = model.StatusCompleted
	now := time.Now().UTC()
	done.FinishedAt = &now
	if err := s.FinishJob(ctx, &done); err != nil {
		t.Fatalf("FinishJob: %v", err)
	}

	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob again: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != model.StatusPending {
		t.Errorf("Status = %q, want %q", got.Status, model.StatusPending)
	}
	if got.Progress != 0 {
		t.Errorf("Progress = %d, want 0", got.Progress)
	}

	points, err := s.GetProgress(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if len(points) != 0 {
		t.Errorf("len(points) = %d, want 0", len(points))
	}
}

func TestCreateJobActiveConflict(t *testing.T) {
	for _, status := range []string{model.StatusPending, model.StatusRunning} {
		t.Run(status, func(t *testing.T) {
			s := newTestStore(t)
			ctx := context.Background()
			j := makeTestJob()

			if err := s.CreateJob(ctx, j); err != nil {
				t.Fatalf("CreateJob: %v", err)
			}
			if status == model.StatusRunning {
				if err := s.UpdateJobStatus(ctx, j.ID, model.StatusRunning); err != nil {
					t.Fatalf("UpdateJobStatus: %v", err)
				}
			}
			if err := s.InsertProgress(ctx, j.ID, 1, 40); err != nil {
				t.Fatalf("InsertProgress: %v", err)
			}

			again := *j
			again.Workflow = "sdxl"
			if err := s.CreateJob(ctx, &again); !errors.Is(err, ErrConflict) {
				t.Fatalf("CreateJob again: err = %v, want ErrConflict", err)
			}

			got, err := s.GetJob(ctx, j.ID)
			if err != nil {
				t.Fatalf("GetJob: %v", err)
			}
			if got.Status != status {
				t.Errorf("Status = %q, want %q", got.Status, status)
			}
			if got.Workflow != "sd_1_5" {
				t.Errorf("Workflow = %q, want %q", got.Workflow, "sd_1_5")
			}
			points, err := s.GetProgress(ctx, j.ID)
			if err != nil {
				t.Fatalf("GetProgress: %v", err)
			}
			if len(points) != 1 {
				t.Errorf("len(points) = %d, want 1", len(points))
			}
		})
	}
}

func TestListJobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	for i := range 5 {
		j := makeTestJob()
		j.ID = fmt.Sprintf("job-%d", i)
		j.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatalf("CreateJob %d: %v", i, err)
		}
	}

	jobs, total, err := s.ListJobs(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(jobs) != 2 {
		t.Fatalf("len(jobs) = %d, want 2", len(jobs))
	}
	if jobs[0].ID != "job-4" {
		t.Errorf("jobs[0].ID = %q, want %q", jobs[0].ID, "job-4")
	}

	jobs, _, err = s.ListJobs(ctx, 10, 4)
	if err != nil {
		t.Fatalf("ListJobs offset: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "job-0" {
		t.Errorf("offset page = %v, want [job-0]", jobs)
	}
}

func TestUpdateJobStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	j := makeTestJob()

	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := s.UpdateJobStatus(ctx, j.ID, model.StatusRunning); err != nil {
		t.Fatalf("UpdateJobStatus running: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != model.StatusRunning {
		t.Errorf("Status = %q, want %q", got.Status, model.StatusRunning)
	}
	if got.StartedAt == nil {
		t.Error("StartedAt = nil, want set")
	}
}

func TestUpdateJobStatusInvalidTransition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	j := makeTestJob()

	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	err := s.UpdateJobStatus(ctx, j.ID, model.StatusCompleted)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("UpdateJobStatus error = %v, want ErrInvalidTransition", err)
	}
}

func TestUpdateJobStatusNotFound(t *testing.T) {
	s := newTestStore(t)

	err := s.UpdateJobStatus(context.Background(), "missing", model.StatusRunning)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateJobStatus error = %v, want ErrNotFound", err)
	}
}

func TestSetPromptID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	j := makeTestJob()

	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := s.SetPromptID(ctx, j.ID, "prompt-abc"); err != nil {
		t.Fatalf("SetPromptID: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.PromptID != "prompt-abc" {
		t.Errorf("PromptID = %q, want %q", got.PromptID, "prompt-abc")
	}

	if err := s.SetPromptID(ctx, "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetPromptID missing error = %v, want ErrNotFound", err)
	}
}

func TestFinishJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	j := makeTestJob()

	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := s.UpdateJobStatus(ctx, j.ID, model.StatusRunning); err != nil {
		t.Fatalf("UpdateJobStatus: %v", err)
	}

	now := time.Now().UTC()
	dur := 1500
	j.Status = model.StatusTimedOut
	j.ErrorKind = "timeout"
	j.Error = "timed out after 180s"
	j.DurationMS = &dur
	j.FinishedAt = &now
	if err := s.FinishJob(ctx, j); err != nil {
		t.Fatalf("FinishJob: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != model.StatusTimedOut {
		t.Errorf("Status = %q, want %q", got.Status, model.StatusTimedOut)
	}
	if got.ErrorKind != "timeout" {
		t.Errorf("ErrorKind = %q, want %q", got.ErrorKind, "timeout")
	}
	if got.Error != "timed out after 180s" {
		t.Errorf("Error = %q, want %q", got.Error, "timed out after 180s")
	}
	if got.DurationMS == nil || *got.DurationMS != 1500 {
		t.Errorf("DurationMS = %v, want 1500", got.DurationMS)
	}
	if got.StartedAt == nil {
		t.Error("StartedAt = nil, want preserved from running transition")
	}
	if got.FinishedAt == nil {
		t.Error("FinishedAt = nil, want set")
	}

	// A terminal job cannot be finished twice.
	j.Status = model.StatusCompleted
	if err := s.FinishJob(ctx, j); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second FinishJob error = %v, want ErrInvalidTransition", err)
	}
}

func TestProgressHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	j := makeTestJob()

	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	for i, pct := range []int{10, 35, 99} {
		if err := s.InsertProgress(ctx, j.ID, i+1, pct); err != nil {
			t.Fatalf("InsertProgress %d: %v", pct, err)
		}
	}

	points, err := s.GetProgress(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("len(points) = %d, want 3", len(points))
	}
	for i, want := range []int{10, 35, 99} {
		if points[i].Percent != want {
			t.Errorf("points[%d].Percent = %d, want %d", i, points[i].Percent, want)
		}
		if points[i].Seq != i+1 {
			t.Errorf("points[%d].Seq = %d, want %d", i, points[i].Seq, i+1)
		}
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Progress != 99 {
		t.Errorf("Progress = %d, want 99", got.Progress)
	}
}

func TestInsertProgressUnknownJob(t *testing.T) {
	s := newTestStore(t)

	err := s.InsertProgress(context.Background(), "missing", 1, 10)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("InsertProgress error = %v, want ErrNotFound", err)
	}
}

func TestGetJobStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	finish := func(workflow, status string, durMS int) {
		t.Helper()
		j := makeTestJob()
		j.Workflow = workflow
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
		if err := s.UpdateJobStatus(ctx, j.ID, model.StatusRunning); err != nil {
			t.Fatalf("UpdateJobStatus: %v", err)
		}
		now := time.Now().UTC()
		j.Status = status
		j.DurationMS = &durMS
		j.FinishedAt = &now
		if err := s.FinishJob(ctx, j); err != nil {
			t.Fatalf("FinishJob: %v", err)
		}
	}

	finish("sd_1_5", model.StatusCompleted, 1000)
	finish("sd_1_5", model.StatusFailed, 3000)
	finish("sdxl_lightning_4step", model.StatusCompleted, 2000)

	pending := makeTestJob()
	if err := s.CreateJob(ctx, pending); err != nil {
		t.Fatalf("CreateJob pending: %v", err)
	}

	stats, err := s.GetJobStats(ctx)
	if err != nil {
		t.Fatalf("GetJobStats: %v", err)
	}
	if stats.Total != 4 {
		t.Errorf("Total = %d, want 4", stats.Total)
	}
	if stats.CountByStatus[model.StatusCompleted] != 2 {
		t.Errorf("CountByStatus[completed] = %d, want 2", stats.CountByStatus[model.StatusCompleted])
	}
	if stats.CountByStatus[model.StatusPending] != 1 {
		t.Errorf("CountByStatus[pending] = %d, want 1", stats.CountByStatus[model.StatusPending])
	}
	if stats.CountByWorkflow["sd_1_5"] != 3 {
		t.Errorf("CountByWorkflow[sd_1_5] = %d, want 3", stats.CountByWorkflow["sd_1_5"])
	}
	if stats.AvgDurationMS != 2000 {
		t.Errorf("AvgDurationMS = %v, want 2000", stats.AvgDurationMS)
	}
}

func TestGetJobStatsEmpty(t *testing.T) {
	s := newTestStore(t)

	stats, err := s.GetJobStats(context.Background())
	if err != nil {
		t.Fatalf("GetJobStats: %v", err)
	}
	if stats.Total != 0 || stats.AvgDurationMS != 0 {
		t.Errorf("stats = %+v, want zero", stats)
	}
}
