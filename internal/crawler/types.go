package crawler

import (
	"errors"
	"time"
)

// ErrNotFound is returned by connectors when a document no longer exists.
var ErrNotFound = errors.New("document not found")

// ErrJobNotFound is returned by job stores for unknown job IDs.
var ErrJobNotFound = errors.New("job not found")

// ErrQueueClosed is returned by queues that will never deliver another job.
var ErrQueueClosed = errors.New("queue closed")

// ErrUnknownConnection is returned by connector registries for unconfigured names.
var ErrUnknownConnection = errors.New("unknown connection")

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// IsTerminal reports whether no further transitions follow s.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCanceled:
		return true
	default:
		return false
	}
}

// JobParameters captures per-job configuration knobs requested by the client.
type JobParameters struct {
	// Connection names a configured repository connection.
	Connection string `json:"connection" mapstructure:"connection"`
	// Seeds replaces the connector's own seeding when set.
	Seeds         []string          `json:"seeds" mapstructure:"seeds"`
	MaxDepth      int               `json:"max_depth" mapstructure:"max_depth"`
	MaxDocuments  int               `json:"max_documents" mapstructure:"max_documents"`
	BudgetSeconds int               `json:"budget_seconds" mapstructure:"budget_seconds"`
	Include       []string          `json:"include" mapstructure:"include"`
	Exclude       []string          `json:"exclude" mapstructure:"exclude"`
	Tags          map[string]string `json:"tags" mapstructure:"tags"`
}

// Job represents the metadata persisted for each submitted crawl request.
type Job struct {
	ID         string        `json:"id"`
	Status     JobStatus     `json:"status"`
	Submitted  time.Time     `json:"submitted_at"`
	Started    *time.Time    `json:"started_at,omitempty"`
	Finished   *time.Time    `json:"finished_at,omitempty"`
	ErrorText  string        `json:"error_text,omitempty"`
	Parameters JobParameters `json:"parameters"`
	Counters   JobCounters   `json:"counters"`
}

// JobCounters tracks per-job document dispositions.
type JobCounters struct {
	DocumentsIngested int `json:"documents_ingested"`
	DocumentsSkipped  int `json:"documents_skipped"`
	DocumentsDeleted  int `json:"documents_deleted"`
	DocumentsFailed   int `json:"documents_failed"`
	Retries           int `json:"retries"`
}

// Processed is the number of documents that reached a final disposition.
func (c JobCounters) Processed() int {
	return c.DocumentsIngested + c.DocumentsSkipped + c.DocumentsDeleted + c.DocumentsFailed
}

// DocumentStatus is the disposition of one document within a job.
type DocumentStatus string

// Document dispositions.
const (
	DocumentIngested  DocumentStatus = "ingested"
	DocumentUnchanged DocumentStatus = "unchanged"
	DocumentDeleted   DocumentStatus = "deleted"
	DocumentFailed    DocumentStatus = "failed"
)

// Phase names the step of the pipeline a document is in.
type Phase string

// Pipeline phases.
const (
	PhaseSeed     Phase = "seed"
	PhaseVersion  Phase = "version"
	PhaseChildren Phase = "children"
	PhaseContent  Phase = "content"
	PhaseIngest   Phase = "ingest"
)

// DocumentInfo is what a connector reports about a document before fetching it.
type DocumentInfo struct {
	// Version is the opaque fingerprint compared against the stored one.
	Version string
	// Container documents have children to enumerate.
	Container bool
	// Indexable documents have content to ingest.
	Indexable   bool
	ContentType string
	URI         string
}

// DocumentRecord is persisted for each document a job disposed of.
type DocumentRecord struct {
	JobID       string         `json:"job_id"`
	DocumentID  string         `json:"document_id"`
	Status      DocumentStatus `json:"status"`
	Version     string         `json:"version,omitempty"`
	Phase       Phase          `json:"phase,omitempty"`
	ContentHash string         `json:"content_hash,omitempty"`
	BlobURI     string         `json:"blob_uri,omitempty"`
	Bytes       int64          `json:"bytes"`
	Attempts    int            `json:"attempts"`
	FetchedAt   time.Time      `json:"fetched_at"`
	DurationMs  int64          `json:"duration_ms"`
	ErrorText   string         `json:"error_text,omitempty"`
}

// VersionRecord is the stored fingerprint of an ingested document.
type VersionRecord struct {
	Connection string    `json:"connection"`
	DocumentID string    `json:"document_id"`
	Version    string    `json:"version"`
	BlobPath   string    `json:"blob_path"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Params    JobParameters
	Attempt   int
	Submitted int64
}

// JobResult is returned by the API result endpoint.
type JobResult struct {
	Job       Job              `json:"job"`
	Documents []DocumentRecord `json:"documents"`
}
