package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"codelens-ci/internal/models"
)

// Ledger error taxonomy. Callers branch on these with errors.Is.
var (
	ErrDuplicateJob      = errors.New("job already exists")
	ErrUnknownJob        = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// Store wraps pgxpool for Postgres persistence of jobs and their logs.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// CreateJob inserts a job row at status queued.
// Returns ErrDuplicateJob if the id is already taken; ingress treats that as
// an idempotent redelivery, not a failure.
func (s *Store) CreateJob(ctx context.Context, j models.Job) (models.Job, error) {
	now := time.Now().UTC()
	j.Status = models.StatusQueued
	j.CreatedAt = now
	j.ReportContent = nil

	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (id, repo_url, commit_sha, pusher, branch, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, j.ID, j.RepoURL, j.CommitSHA, j.Pusher, j.Branch, string(j.Status), now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return models.Job{}, fmt.Errorf("insert job %s: %w", j.ID, ErrDuplicateJob)
		}
		return models.Job{}, fmt.Errorf("insert job: %w", err)
	}
	return j, nil
}

// TransitionJob moves a job to a new status, optionally setting the report in
// the same statement. The WHERE clause enforces the forward-only state machine
// so a concurrent reader can never observe a torn or regressed row.
func (s *Store) TransitionJob(ctx context.Context, id string, to models.JobStatus, report *string) error {
	from := transitionSources(to)
	if len(from) == 0 {
		return fmt.Errorf("transition %s to %s: %w", id, to, ErrInvalidTransition)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, report_content = COALESCE($3, report_content)
		WHERE id = $1 AND status = ANY($4)
	`, id, string(to), report, from)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Distinguish a missing row from an out-of-order transition.
	var current string
	err = s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("transition %s: %w", id, ErrUnknownJob)
	}
	if err != nil {
		return fmt.Errorf("query job status: %w", err)
	}
	return fmt.Errorf("transition %s from %s to %s: %w", id, current, to, ErrInvalidTransition)
}

// transitionSources returns the set of statuses allowed to move to the target.
func transitionSources(to models.JobStatus) []string {
	all := []models.JobStatus{models.StatusQueued, models.StatusRunning, models.StatusSuccess, models.StatusFailed}
	var from []string
	for _, s := range all {
		if models.CanTransition(s, to) {
			from = append(from, string(s))
		}
	}
	return from
}

// GetJob fetches a job by id. Returns ErrUnknownJob if absent.
func (s *Store) GetJob(ctx context.Context, id string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, repo_url, commit_sha, pusher, branch, status, created_at, report_content
		FROM jobs WHERE id = $1
	`, id)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, fmt.Errorf("get job %s: %w", id, ErrUnknownJob)
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}
	return j, nil
}

// ListJobs returns the most recent jobs, newest first.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]models.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, repo_url, commit_sha, pusher, branch, status, created_at, report_content
		FROM jobs ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]models.Job, 0, limit)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// AppendJobLog stores one log line for a job.
func (s *Store) AppendJobLog(ctx context.Context, jobID, content string, ts time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO job_logs (job_id, content, ts) VALUES ($1, $2, $3)
	`, jobID, content, ts.UTC())
	return err
}

// JobLogs returns a job's log lines ordered by timestamp for replay.
func (s *Store) JobLogs(ctx context.Context, jobID string) ([]models.LogEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT job_id, content, ts FROM job_logs WHERE job_id = $1 ORDER BY ts, id
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query job logs: %w", err)
	}
	defer rows.Close()

	entries := make([]models.LogEntry, 0)
	for rows.Next() {
		var e models.LogEntry
		if err := rows.Scan(&e.JobID, &e.Content, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanJob(row pgx.Row) (models.Job, error) {
	var (
		j      models.Job
		status string
		report pgtype.Text
	)
	if err := row.Scan(&j.ID, &j.RepoURL, &j.CommitSHA, &j.Pusher, &j.Branch, &status, &j.CreatedAt, &report); err != nil {
		return models.Job{}, err
	}
	j.Status = models.JobStatus(status)
	if report.Valid {
		j.ReportContent = &report.String
	}
	return j, nil
}
