package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/realtime-feed-crawler/internal/crawler"
)

// JobStore persists crawl jobs.
//
//	CREATE TABLE crawl_jobs (
//	    id           TEXT PRIMARY KEY,
//	    trigger      TEXT NOT NULL,
//	    status       TEXT NOT NULL,
//	    submitted_at TIMESTAMPTZ NOT NULL,
//	    started_at   TIMESTAMPTZ,
//	    finished_at  TIMESTAMPTZ,
//	    error_text   TEXT,
//	    log_key      TEXT,
//	    result       JSONB
//	);
type JobStore struct {
	pool  Pool
	table string
	now   func() time.Time
}

// NewJobStore wraps an existing pool.
func NewJobStore(pool Pool, table string) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table, "crawl_jobs")
	if err != nil {
		return nil, err
	}
	return &JobStore{pool: pool, table: name, now: func() time.Time { return time.Now().UTC() }}, nil
}

// CreateJob inserts a queued job row.
func (s *JobStore) CreateJob(ctx context.Context, job crawler.Job) error {
	status := job.Status
	if status == "" {
		status = crawler.JobStatusQueued
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, trigger, status, submitted_at)
VALUES ($1, $2, $3, $4)`, s.table)
	if _, err := s.pool.Exec(ctx, query, job.ID, string(job.Trigger), string(status), job.Submitted); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// StartJob marks the job running.
func (s *JobStore) StartJob(ctx context.Context, jobID, logKey string) error {
	query := fmt.Sprintf(`
UPDATE %s
SET status = $1, log_key = $2, started_at = COALESCE(started_at, $3)
WHERE id = $4`, s.table)
	tag, err := s.pool.Exec(ctx, query, string(crawler.JobStatusRunning), logKey, s.now(), jobID)
	if err != nil {
		return fmt.Errorf("start job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", jobID, crawler.ErrNotFound)
	}
	return nil
}

// FinishJob records the run outcome.
func (s *JobStore) FinishJob(ctx context.Context, jobID string, result *crawler.CrawlResult, runErr error) error {
	status := crawler.JobStatusSucceeded
	var errText *string
	if runErr != nil {
		status = crawler.JobStatusFailed
		msg := runErr.Error()
		errText = &msg
	}
	var resultJSON []byte
	if result != nil {
		encoded, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		resultJSON = encoded
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = $1, error_text = $2, result = $3, finished_at = $4
WHERE id = $5`, s.table)
	tag, err := s.pool.Exec(ctx, query, string(status), errText, resultJSON, s.now(), jobID)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", jobID, crawler.ErrNotFound)
	}
	return nil
}

// GetJob loads a job row.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (crawler.Job, error) {
	query := fmt.Sprintf(`
SELECT id, trigger, status, submitted_at, started_at, finished_at,
       COALESCE(error_text, ''), COALESCE(log_key, ''), result
FROM %s WHERE id = $1`, s.table)
	var (
		job        crawler.Job
		trigger    string
		status     string
		resultJSON []byte
	)
	err := s.pool.QueryRow(ctx, query, jobID).Scan(
		&job.ID,
		&trigger,
		&status,
		&job.Submitted,
		&job.Started,
		&job.Finished,
		&job.ErrorText,
		&job.LogKey,
		&resultJSON,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Job{}, fmt.Errorf("job %s: %w", jobID, crawler.ErrNotFound)
	}
	if err != nil {
		return crawler.Job{}, fmt.Errorf("select job: %w", err)
	}
	job.Trigger = crawler.Trigger(trigger)
	job.Status = crawler.JobStatus(status)
	if len(resultJSON) > 0 {
		var result crawler.CrawlResult
		if err := json.Unmarshal(resultJSON, &result); err != nil {
			return crawler.Job{}, fmt.Errorf("decode result: %w", err)
		}
		job.Result = &result
	}
	return job, nil
}
