package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawlbridge/internal/crawler"
)

func newJobStore(t *testing.T) (*JobStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewJobStore(mock, "", "")
	require.NoError(t, err)
	store.now = func() time.Time { return time.Unix(1700000000, 0).UTC() }
	return store, mock
}

func TestJobStoreCreateAndGet(t *testing.T) {
	t.Parallel()

	store, mock := newJobStore(t)
	ctx := context.Background()
	submitted := time.Unix(1690000000, 0).UTC()
	job := crawler.Job{
		ID:         "job-1",
		Status:     crawler.JobStatusQueued,
		Submitted:  submitted,
		Parameters: crawler.JobParameters{Connection: "docs", MaxDepth: 2},
	}
	params, err := json.Marshal(job.Parameters)
	require.NoError(t, err)
	counters, err := json.Marshal(job.Counters)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO crawl_jobs").
		WithArgs("job-1", "queued", submitted, params, counters).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, store.CreateJob(ctx, job))

	mock.ExpectQuery("SELECT id, status, submitted_at").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "status", "submitted_at", "started_at", "finished_at", "error_text", "parameters", "counters",
		}).AddRow("job-1", "running", submitted, &submitted, (*time.Time)(nil), "", params,
			[]byte(`{"documents_ingested":3}`)))
	got, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusRunning, got.Status)
	require.Equal(t, "docs", got.Parameters.Connection)
	require.Equal(t, 3, got.Counters.DocumentsIngested)
	require.NotNil(t, got.Started)
	require.Nil(t, got.Finished)

	mock.ExpectQuery("SELECT id, status, submitted_at").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)
	_, err = store.GetJob(ctx, "missing")
	require.ErrorIs(t, err, crawler.ErrJobNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreUpdateStatus(t *testing.T) {
	t.Parallel()

	store, mock := newJobStore(t)
	ctx := context.Background()

	mock.ExpectExec("UPDATE crawl_jobs").
		WithArgs("succeeded", "", pgxmock.AnyArg(), (*time.Time)(nil), pgxmock.AnyArg(), "job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.UpdateJobStatus(ctx, "job-1", crawler.JobStatusSucceeded, "", crawler.JobCounters{}))

	// already terminal
	mock.ExpectExec("UPDATE crawl_jobs").
		WithArgs("running", "", pgxmock.AnyArg(), pgxmock.AnyArg(), (*time.Time)(nil), "job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT status FROM crawl_jobs").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("succeeded"))
	require.NoError(t, store.UpdateJobStatus(ctx, "job-1", crawler.JobStatusRunning, "", crawler.JobCounters{}))

	mock.ExpectExec("UPDATE crawl_jobs").
		WithArgs("failed", "boom", pgxmock.AnyArg(), (*time.Time)(nil), pgxmock.AnyArg(), "nope").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT status FROM crawl_jobs").
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)
	err := store.UpdateJobStatus(ctx, "nope", crawler.JobStatusFailed, "boom", crawler.JobCounters{})
	require.ErrorIs(t, err, crawler.ErrJobNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreDocuments(t *testing.T) {
	t.Parallel()

	store, mock := newJobStore(t)
	ctx := context.Background()
	fetched := time.Unix(1700000100, 0).UTC()
	doc := crawler.DocumentRecord{
		JobID:       "job-1",
		DocumentID:  "https://example.com/",
		Status:      crawler.DocumentIngested,
		Version:     "v",
		Phase:       crawler.PhaseIngest,
		ContentHash: "abc",
		BlobURI:     "memory://x",
		Bytes:       10,
		Attempts:    1,
		FetchedAt:   fetched,
		DurationMs:  12,
	}

	mock.ExpectExec("INSERT INTO crawl_documents").
		WithArgs(doc.JobID, doc.DocumentID, "ingested", doc.Version, "ingest", doc.ContentHash,
			doc.BlobURI, doc.Bytes, doc.Attempts, doc.FetchedAt, doc.DurationMs, doc.ErrorText).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, store.RecordDocument(ctx, doc))

	mock.ExpectQuery("SELECT job_id, document_id").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"job_id", "document_id", "status", "version", "phase", "content_hash",
			"blob_uri", "bytes", "attempts", "fetched_at", "duration_ms", "error_text",
		}).AddRow(doc.JobID, doc.DocumentID, "ingested", doc.Version, "ingest", doc.ContentHash,
			doc.BlobURI, doc.Bytes, doc.Attempts, doc.FetchedAt, doc.DurationMs, doc.ErrorText))
	docs, err := store.ListDocuments(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, []crawler.DocumentRecord{doc}, docs)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreEnsureSchema(t *testing.T) {
	t.Parallel()

	store, mock := newJobStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS crawl_jobs").WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS crawl_documents").WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
