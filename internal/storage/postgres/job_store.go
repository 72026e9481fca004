package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/crawlbridge/internal/crawler"
)

// JobStore implements crawler.JobStore on two tables: one row per job and one
// row per document disposition.
type JobStore struct {
	pool      Pool
	jobs      string
	documents string
	now       func() time.Time
}

// NewJobStore wraps pool. Table names default to crawl_jobs and crawl_documents.
func NewJobStore(pool Pool, jobsTable, documentsTable string) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	jobs, err := checkTable(jobsTable, "crawl_jobs")
	if err != nil {
		return nil, err
	}
	documents, err := checkTable(documentsTable, "crawl_documents")
	if err != nil {
		return nil, err
	}
	return &JobStore{
		pool:      pool,
		jobs:      jobs,
		documents: documents,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// EnsureSchema creates both tables when they do not exist.
func (s *JobStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id           TEXT PRIMARY KEY,
	status       TEXT NOT NULL,
	submitted_at TIMESTAMPTZ NOT NULL,
	started_at   TIMESTAMPTZ,
	finished_at  TIMESTAMPTZ,
	error_text   TEXT NOT NULL DEFAULT '',
	parameters   JSONB NOT NULL,
	counters     JSONB NOT NULL DEFAULT '{}'
)`, s.jobs),
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	job_id       TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
	document_id  TEXT NOT NULL,
	status       TEXT NOT NULL,
	version      TEXT NOT NULL DEFAULT '',
	phase        TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL DEFAULT '',
	blob_uri     TEXT NOT NULL DEFAULT '',
	bytes        BIGINT NOT NULL DEFAULT 0,
	attempts     INT NOT NULL DEFAULT 0,
	fetched_at   TIMESTAMPTZ NOT NULL,
	duration_ms  BIGINT NOT NULL DEFAULT 0,
	error_text   TEXT NOT NULL DEFAULT ''
)`, s.documents, s.jobs),
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	s.pool.Close()
}

// CreateJob inserts a job row.
func (s *JobStore) CreateJob(ctx context.Context, job crawler.Job) error {
	params, err := json.Marshal(job.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	counters, err := json.Marshal(job.Counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, status, submitted_at, parameters, counters)
VALUES ($1, $2, $3, $4, $5)`, s.jobs)
	if _, err := s.pool.Exec(ctx, query, job.ID, string(job.Status), job.Submitted, params, counters); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJobStatus moves a non-terminal job to status. The first transition to
// running stamps started_at; a terminal status stamps finished_at.
func (s *JobStore) UpdateJobStatus(
	ctx context.Context,
	jobID string,
	status crawler.JobStatus,
	errText string,
	counters crawler.JobCounters,
) error {
	payload, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	now := s.now()
	var startedAt, finishedAt *time.Time
	if status == crawler.JobStatusRunning {
		startedAt = &now
	}
	if status.IsTerminal() {
		finishedAt = &now
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = $1,
	error_text = $2,
	counters = $3,
	started_at = COALESCE(started_at, $4),
	finished_at = COALESCE($5, finished_at)
WHERE id = $6 AND status NOT IN ('succeeded', 'failed', 'canceled')`, s.jobs)
	tag, err := s.pool.Exec(ctx, query, string(status), errText, payload, startedAt, finishedAt, jobID)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	// No row changed: either the job is unknown or it is already terminal.
	var current string
	err = s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT status FROM %s WHERE id = $1`, s.jobs), jobID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("update %s: %w", jobID, crawler.ErrJobNotFound)
	}
	if err != nil {
		return fmt.Errorf("select job status: %w", err)
	}
	return nil
}

// RecordDocument inserts a document row.
func (s *JobStore) RecordDocument(ctx context.Context, doc crawler.DocumentRecord) error {
	query := fmt.Sprintf(`
INSERT INTO %s (
	job_id, document_id, status, version, phase, content_hash,
	blob_uri, bytes, attempts, fetched_at, duration_ms, error_text
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`, s.documents)
	args := []any{
		doc.JobID,
		doc.DocumentID,
		string(doc.Status),
		doc.Version,
		string(doc.Phase),
		doc.ContentHash,
		doc.BlobURI,
		doc.Bytes,
		doc.Attempts,
		doc.FetchedAt,
		doc.DurationMs,
		doc.ErrorText,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// GetJob retrieves a single job by its ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (crawler.Job, error) {
	query := fmt.Sprintf(`
SELECT id, status, submitted_at, started_at, finished_at, error_text, parameters, counters
FROM %s WHERE id = $1`, s.jobs)
	var (
		job              crawler.Job
		status           string
		params, counters []byte
	)
	err := s.pool.QueryRow(ctx, query, jobID).Scan(
		&job.ID,
		&status,
		&job.Submitted,
		&job.Started,
		&job.Finished,
		&job.ErrorText,
		&params,
		&counters,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Job{}, fmt.Errorf("get %s: %w", jobID, crawler.ErrJobNotFound)
	}
	if err != nil {
		return crawler.Job{}, fmt.Errorf("select job: %w", err)
	}
	job.Status = crawler.JobStatus(status)
	if err := json.Unmarshal(params, &job.Parameters); err != nil {
		return crawler.Job{}, fmt.Errorf("decode parameters: %w", err)
	}
	if err := json.Unmarshal(counters, &job.Counters); err != nil {
		return crawler.Job{}, fmt.Errorf("decode counters: %w", err)
	}
	return job, nil
}

// ListDocuments returns the document rows of a job in the order they were recorded.
func (s *JobStore) ListDocuments(ctx context.Context, jobID string) ([]crawler.DocumentRecord, error) {
	query := fmt.Sprintf(`
SELECT job_id, document_id, status, version, phase, content_hash,
	blob_uri, bytes, attempts, fetched_at, duration_ms, error_text
FROM %s WHERE job_id = $1 ORDER BY fetched_at`, s.documents)
	rows, err := s.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []crawler.DocumentRecord
	for rows.Next() {
		var (
			doc           crawler.DocumentRecord
			status, phase string
		)
		err := rows.Scan(
			&doc.JobID,
			&doc.DocumentID,
			&status,
			&doc.Version,
			&phase,
			&doc.ContentHash,
			&doc.BlobURI,
			&doc.Bytes,
			&doc.Attempts,
			&doc.FetchedAt,
			&doc.DurationMs,
			&doc.ErrorText,
		)
		if err != nil {
			return nil, fmt.Errorf("scan document row: %w", err)
		}
		doc.Status = crawler.DocumentStatus(status)
		doc.Phase = crawler.Phase(phase)
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document rows: %w", err)
	}
	return docs, nil
}
