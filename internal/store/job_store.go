package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nhle/mailpipe/internal/model"
)

const jobColumns = `id, kind, message_id, state, attempts, error, created_at, updated_at`

// CreateJob records a newly enqueued job.
func (s *SQLiteStore) CreateJob(ctx context.Context, job model.Job) error {
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.State == "" {
		job.State = model.JobPending
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, kind, message_id, state, attempts, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, string(job.Kind), job.MessageID, string(job.State),
		job.Attempts, job.Error, job.CreatedAt, now,
	)
	if err != nil {
		return fmt.Errorf("creating job %s: %w", job.ID, err)
	}
	return nil
}

// UpdateJob records a state change.
func (s *SQLiteStore) UpdateJob(
	ctx context.Context,
	id string,
	state model.JobState,
	attempts int,
	errMsg string,
) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET state = ?, attempts = ?, error = ?, updated_at = ? WHERE id = ?",
		string(state), attempts, errMsg, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("updating job %s: %w", id, err)
	}
	return expectRow(result, "job", id)
}

// GetJob retrieves a job by ID.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.db.QueryRowxContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id)
	job, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("getting job %s: %w", id, err)
	}
	return job, nil
}

// InFlightJob reports whether a pending or running job of kind exists
// for the message.
func (s *SQLiteStore) InFlightJob(ctx context.Context, messageID int64, kind model.JobKind) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM jobs
		WHERE message_id = ? AND kind = ? AND state IN ('pending', 'running')`,
		messageID, string(kind),
	)
	if err != nil {
		return false, fmt.Errorf("checking in-flight %s job for message %d: %w", kind, messageID, err)
	}
	return n > 0, nil
}

// ListIncompleteJobs returns jobs that never reached a terminal state,
// oldest first.
func (s *SQLiteStore) ListIncompleteJobs(ctx context.Context) ([]model.Job, error) {
	rows, err := s.db.QueryxContext(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE state IN ('pending', 'running') ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("querying incomplete jobs: %w", err)
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func scanJob(row sqlx.ColScanner) (*model.Job, error) {
	var (
		job         model.Job
		kind, state string
	)
	err := row.Scan(
		&job.ID, &kind, &job.MessageID, &state,
		&job.Attempts, &job.Error, &job.CreatedAt, &job.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning job row: %w", err)
	}
	job.Kind = model.JobKind(kind)
	job.State = model.JobState(state)
	return &job, nil
}
