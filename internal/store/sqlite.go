package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/anuvgupta/worker-comfyui/internal/model"

	_ "modernc.org/sqlite"
)

const createJobsTable = `
CREATE TABLE IF NOT EXISTS jobs (
    id           TEXT PRIMARY KEY,
    status       TEXT NOT NULL,
    workflow     TEXT NOT NULL,
    aspect_ratio TEXT NOT NULL,
    prompt_id    TEXT NOT NULL DEFAULT '',
    progress     INTEGER NOT NULL DEFAULT 0,
    error_kind   TEXT NOT NULL DEFAULT '',
    error        TEXT NOT NULL DEFAULT '',
    timeout_s    INTEGER,
    duration_ms  INTEGER,
    created_at   DATETIME NOT NULL,
    started_at   DATETIME,
    finished_at  DATETIME
)`

const createProgressTable = `
CREATE TABLE IF NOT EXISTS job_progress (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id     TEXT NOT NULL REFERENCES jobs(id),
    seq        INTEGER NOT NULL,
    percent    INTEGER NOT NULL,
    created_at DATETIME NOT NULL
)`

const createProgressIndex = `CREATE INDEX IF NOT EXISTS idx_job_progress_job ON job_progress(job_id, seq)`

const jobColumns = `id, status, workflow, aspect_ratio, prompt_id, progress,
	error_kind, error, timeout_s, duration_ms, created_at, started_at, finished_at`

// ErrNotFound is returned when a job is not found.
var ErrNotFound = errors.New("job not found")

// ErrConflict is returned when a job id is reused while that job is still
// pending or running.
var ErrConflict = errors.New("job is already active")

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single connection keeps ":memory:" databases coherent across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, stmt := range []string{createJobsTable, createProgressTable, createProgressIndex} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateJob inserts a new job record. Re-submitting the id of a finished job
// resets the record and drops its previous progress history; re-submitting
// an active one fails with ErrConflict and leaves it untouched.
func (s *SQLiteStore) CreateJob(ctx context.Context, j *model.Job) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status, workflow = excluded.workflow,
			aspect_ratio = excluded.aspect_ratio, prompt_id = excluded.prompt_id,
			progress = excluded.progress, error_kind = excluded.error_kind,
			error = excluded.error, timeout_s = excluded.timeout_s,
			duration_ms = excluded.duration_ms, created_at = excluded.created_at,
			started_at = excluded.started_at, finished_at = excluded.finished_at
		WHERE jobs.status IN (?, ?, ?)`,
		j.ID, j.Status, j.Workflow, j.AspectRatio, j.PromptID, j.Progress,
		j.ErrorKind, j.Error, j.TimeoutS, j.DurationMS, j.CreatedAt, j.StartedAt, j.FinishedAt,
		model.StatusCompleted, model.StatusFailed, model.StatusTimedOut,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrConflict, j.ID)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM job_progress WHERE job_id = ?", j.ID); err != nil {
		return fmt.Errorf("clear progress: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit job: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.Job, error) {
	j := &model.Job{}
	err := row.Scan(
		&j.ID, &j.Status, &j.Workflow, &j.AspectRatio, &j.PromptID, &j.Progress,
		&j.ErrorKind, &j.Error, &j.TimeoutS, &j.DurationMS, &j.CreatedAt, &j.StartedAt, &j.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	return j, nil
}

// GetJob retrieves a job by ID.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// ListJobs returns a paginated list of jobs ordered by created_at DESC,
// along with the total count of all jobs.
func (s *SQLiteStore) ListJobs(ctx context.Context, limit, offset int) ([]*model.Job, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate jobs: %w", err)
	}

	return jobs, total, nil
}

// currentStatus reads a job's status inside tx.
func currentStatus(ctx context.Context, tx *sql.Tx, id string) (string, error) {
	var status string
	err := tx.QueryRowContext(ctx, "SELECT status FROM jobs WHERE id = ?", id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read status: %w", err)
	}
	return status, nil
}

// UpdateJobStatus moves a job to status. Running sets started_at; terminal
// statuses set finished_at.
func (s *SQLiteStore) UpdateJobStatus(ctx context.Context, id, status string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	from, err := currentStatus(ctx, tx, id)
	if err != nil {
		return err
	}
	if !model.ValidTransition(from, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, status)
	}

	now := time.Now().UTC()
	switch {
	case status == model.StatusRunning:
		_, err = tx.ExecContext(ctx, "UPDATE jobs SET status = ?, started_at = ? WHERE id = ?", status, now, id)
	case model.IsTerminal(status):
		_, err = tx.ExecContext(ctx, "UPDATE jobs SET status = ?, finished_at = ? WHERE id = ?", status, now, id)
	default:
		_, err = tx.ExecContext(ctx, "UPDATE jobs SET status = ? WHERE id = ?", status, id)
	}
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}

	return tx.Commit()
}

// SetPromptID records the engine correlation token for a job.
func (s *SQLiteStore) SetPromptID(ctx context.Context, id, promptID string) error {
	result, err := s.db.ExecContext(ctx, "UPDATE jobs SET prompt_id = ? WHERE id = ?", promptID, id)
	if err != nil {
		return fmt.Errorf("set prompt id: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// FinishJob writes the terminal fields of j. The transition from the stored
// status to j.Status must be valid.
func (s *SQLiteStore) FinishJob(ctx context.Context, j *model.Job) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	from, err := currentStatus(ctx, tx, j.ID)
	if err != nil {
		return err
	}
	if !model.ValidTransition(from, j.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, j.Status)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error_kind = ?, error = ?, duration_ms = ?,
			started_at = COALESCE(?, started_at), finished_at = ?
		WHERE id = ?`,
		j.Status, j.ErrorKind, j.Error, j.DurationMS, j.StartedAt, j.FinishedAt, j.ID,
	)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}

	return tx.Commit()
}

// GetJobStats returns aggregate counts and the mean duration of finished jobs.
func (s *SQLiteStore) GetJobStats(ctx context.Context) (*JobStats, error) {
	stats := &JobStats{
		CountByStatus:   make(map[string]int),
		CountByWorkflow: make(map[string]int),
	}

	if err := s.countBy(ctx, "status", stats.CountByStatus); err != nil {
		return nil, err
	}
	if err := s.countBy(ctx, "workflow", stats.CountByWorkflow); err != nil {
		return nil, err
	}
	for _, n := range stats.CountByStatus {
		stats.Total += n
	}

	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx,
		"SELECT AVG(duration_ms) FROM jobs WHERE duration_ms IS NOT NULL",
	).Scan(&avg); err != nil {
		return nil, fmt.Errorf("average duration: %w", err)
	}
	if avg.Valid {
		stats.AvgDurationMS = avg.Float64
	}

	return stats, nil
}

// countBy fills into with row counts grouped by column. column is never user input.
func (s *SQLiteStore) countBy(ctx context.Context, column string, into map[string]int) error {
	rows, err := s.db.QueryContext(ctx, "SELECT "+column+", COUNT(*) FROM jobs GROUP BY "+column)
	if err != nil {
		return fmt.Errorf("count by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan count by %s: %w", column, err)
		}
		into[key] = n
	}
	return rows.Err()
}

// InsertProgress appends a progress point and updates the job's current progress.
func (s *SQLiteStore) InsertProgress(ctx context.Context, jobID string, seq, percent int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, "UPDATE jobs SET progress = ? WHERE id = ?", percent, jobID)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO job_progress (job_id, seq, percent, created_at) VALUES (?, ?, ?, ?)",
		jobID, seq, percent, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("insert progress: %w", err)
	}

	return tx.Commit()
}

// GetProgress returns the progress history of a job in emission order.
func (s *SQLiteStore) GetProgress(ctx context.Context, jobID string) ([]model.ProgressPoint, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, job_id, seq, percent, created_at FROM job_progress WHERE job_id = ? ORDER BY seq",
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("get progress: %w", err)
	}
	defer rows.Close()

	var points []model.ProgressPoint
	for rows.Next() {
		var p model.ProgressPoint
		if err := rows.Scan(&p.ID, &p.JobID, &p.Seq, &p.Percent, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan progress: %w", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate progress: %w", err)
	}
	return points, nil
}
