package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/media-fetch/internal/job"
	"github.com/cuongbtq/media-fetch/shared/postgresql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// uniqueViolation is the PostgreSQL error code for a duplicate key
const uniqueViolation = "23505"

const schema = `
	CREATE TABLE IF NOT EXISTS media_jobs (
		job_id       TEXT PRIMARY KEY,
		url          TEXT NOT NULL,
		status       TEXT NOT NULL,
		submitted_at TIMESTAMPTZ NOT NULL,
		started_at   TIMESTAMPTZ,
		finished_at  TIMESTAMPTZ,
		result       JSONB,
		error        JSONB
	)
`

const selectColumns = `job_id, url, status, submitted_at, started_at, finished_at, result, error`

// jobRow is the database shape of a job
type jobRow struct {
	JobID       string         `db:"job_id"`
	URL         string         `db:"url"`
	Status      string         `db:"status"`
	SubmittedAt time.Time      `db:"submitted_at"`
	StartedAt   sql.NullTime   `db:"started_at"`
	FinishedAt  sql.NullTime   `db:"finished_at"`
	Result      sql.NullString `db:"result"`
	Error       sql.NullString `db:"error"`
}

func (r *jobRow) toJob() (*job.Job, error) {
	j := &job.Job{
		ID:          r.JobID,
		URL:         r.URL,
		Status:      job.Status(r.Status),
		SubmittedAt: r.SubmittedAt,
	}
	if r.StartedAt.Valid {
		t := r.StartedAt.Time
		j.StartedAt = &t
	}
	if r.FinishedAt.Valid {
		t := r.FinishedAt.Time
		j.FinishedAt = &t
	}
	if r.Result.Valid {
		var res job.Result
		if err := json.Unmarshal([]byte(r.Result.String), &res); err != nil {
			return nil, fmt.Errorf("failed to decode result of job %s: %w", r.JobID, err)
		}
		j.Result = &res
	}
	if r.Error.Valid {
		var e job.Error
		if err := json.Unmarshal([]byte(r.Error.String), &e); err != nil {
			return nil, fmt.Errorf("failed to decode error of job %s: %w", r.JobID, err)
		}
		j.Error = &e
	}
	return j, nil
}

// Store keeps job records in the media_jobs table
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a Store on top of a connected client
func NewStore(pg *postgresql.Client, logger *slog.Logger) *Store {
	return NewStoreWithDB(pg.GetDB(), logger)
}

// NewStoreWithDB creates a Store on an existing connection pool
func NewStoreWithDB(db *sqlx.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema creates the media_jobs table if it does not exist
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create media_jobs table: %w", err)
	}
	return nil
}

// Create inserts a new Pending job record
func (s *Store) Create(ctx context.Context, j *job.Job) error {
	query := `
		INSERT INTO media_jobs (job_id, url, status, submitted_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := s.db.ExecContext(ctx, query, j.ID, j.URL, string(j.Status), j.SubmittedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return job.ErrDuplicate
		}
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// Get retrieves a job by its ID
func (s *Store) Get(ctx context.Context, id string) (*job.Job, error) {
	query := `SELECT ` + selectColumns + ` FROM media_jobs WHERE job_id = $1`

	var row jobRow
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, job.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return row.toJob()
}

// Claim moves a Pending job to Processing using optimistic locking
func (s *Store) Claim(ctx context.Context, id string, startedAt time.Time) (*job.Job, error) {
	query := `
		UPDATE media_jobs
		SET status = $1,
		    started_at = $2
		WHERE job_id = $3
		  AND status = $4
		RETURNING ` + selectColumns

	var row jobRow
	err := s.db.GetContext(ctx, &row, query,
		string(job.StatusProcessing), startedAt, id, string(job.StatusPending))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, getErr := s.Get(ctx, id); getErr != nil {
				return nil, getErr
			}
			s.logger.Warn("Failed to claim job - already claimed",
				slog.String("job_id", id),
			)
			return nil, job.ErrAlreadyClaimed
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	return row.toJob()
}

// Reclaim restamps a Processing job that was started before staleBefore
func (s *Store) Reclaim(ctx context.Context, id string, staleBefore, startedAt time.Time) (*job.Job, error) {
	query := `
		UPDATE media_jobs
		SET started_at = $1
		WHERE job_id = $2
		  AND status = $3
		  AND started_at < $4
		RETURNING ` + selectColumns

	var row jobRow
	err := s.db.GetContext(ctx, &row, query,
		startedAt, id, string(job.StatusProcessing), staleBefore)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			current, getErr := s.Get(ctx, id)
			if getErr != nil {
				return nil, getErr
			}
			if current.Status == job.StatusProcessing {
				return nil, job.ErrInProgress
			}
			return nil, job.ErrAlreadyClaimed
		}
		return nil, fmt.Errorf("failed to reclaim job: %w", err)
	}

	return row.toJob()
}

// Finish writes the terminal record of a Processing job
func (s *Store) Finish(ctx context.Context, j *job.Job) error {
	if !j.Status.IsTerminal() {
		return job.ErrInvalidTransition
	}

	resultJSON, err := nullJSON(j.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	errorJSON, err := nullJSON(j.Error)
	if err != nil {
		return fmt.Errorf("failed to marshal error: %w", err)
	}

	query := `
		UPDATE media_jobs
		SET status = $1,
		    finished_at = $2,
		    result = $3::jsonb,
		    error = $4::jsonb
		WHERE job_id = $5
		  AND status = $6
	`

	res, err := s.db.ExecContext(ctx, query,
		string(j.Status), j.FinishedAt, resultJSON, errorJSON, j.ID, string(job.StatusProcessing))
	if err != nil {
		return fmt.Errorf("failed to finish job: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		if _, getErr := s.Get(ctx, j.ID); getErr != nil {
			return getErr
		}
		return job.ErrInvalidTransition
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", j.ID),
		slog.String("status", string(j.Status)),
	)

	return nil
}

// nullJSON encodes v as text for a jsonb parameter. lib/pq sends []byte as
// bytea, so the value travels as a string.
func nullJSON[T any](v *T) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
