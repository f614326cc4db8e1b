package cpstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/qarax/qarax/lib/errs"
)

// JobStatus is the lifecycle state of a long-running,
// asynchronous control-plane operations (e.g. host deploys).
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Job tracks an asynchronous control-plane operation's progress so REST
// clients can poll it after a 202-accepted response.
type Job struct {
	ID          string
	Type        string
	Status      JobStatus
	Progress    int
	ResourceRef string
	Result      string
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (s *Store) CreateJob(ctx context.Context, j *Job) error {
	if j.Status == "" {
		j.Status = JobPending
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, type, status, progress, resource_ref)
		VALUES (?, ?, ?, ?, ?)
	`, j.ID, j.Type, j.Status, j.Progress, j.ResourceRef)
	if err != nil {
		return wrapConflict(err, "job "+j.ID)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, status, progress, resource_ref, result, error, created_at, updated_at
		FROM jobs WHERE id = ?
	`, id)
	return scanJob(row)
}

func (s *Store) ListJobs(ctx context.Context) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, status, progress, resource_ref, result, error, created_at, updated_at
		FROM jobs ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// UpdateJobProgress advances a running job's progress percentage.
func (s *Store) UpdateJobProgress(ctx context.Context, id string, progress int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, progress = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now') WHERE id = ?
	`, JobRunning, progress, id)
	if err != nil {
		return err
	}
	return checkAffected(res, "job "+id)
}

// CompleteJob marks a job succeeded or failed with a terminal result/error.
func (s *Store) CompleteJob(ctx context.Context, id string, status JobStatus, result, jobErr string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, progress = 100, result = ?, error = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now') WHERE id = ?
	`, status, result, jobErr, id)
	if err != nil {
		return err
	}
	return checkAffected(res, "job "+id)
}

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	var created, updated string
	err := row.Scan(&j.ID, &j.Type, &j.Status, &j.Progress, &j.ResourceRef, &j.Result, &j.Error, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.Wrap(errs.ErrNotFound, "job not found", nil)
	}
	if err != nil {
		return nil, err
	}
	j.CreatedAt = parseTime(created)
	j.UpdatedAt = parseTime(updated)
	return &j, nil
}
