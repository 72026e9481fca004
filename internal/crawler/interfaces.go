package crawler

import (
	"context"
	"io"
	"time"

	"github.com/JakeFAU/crawlbridge/internal/bridge"
)

// Connector is a repository backend. Its enumeration and fetch methods are bridge
// producers: they run on a task goroutine, enqueue results and return once.
type Connector interface {
	// Name is the configured connection name.
	Name() string
	// Kind labels the backend type in logs and metrics.
	Kind() string
	// Check verifies the repository is reachable with the configured credentials.
	Check(ctx context.Context) error
	// Seed lists the starting document identifiers for a job.
	Seed(ctx context.Context, params JobParameters, out *bridge.Sequence) error
	// Version describes a document. It returns ErrNotFound for vanished documents.
	Version(ctx context.Context, id string) (DocumentInfo, error)
	// Children lists the identifiers contained in a container document.
	Children(ctx context.Context, id string, out *bridge.Sequence) error
	// Content streams the document body.
	Content(ctx context.Context, id string, out *bridge.ByteStream) error
}

// ConnectorRegistry resolves configured connection names.
type ConnectorRegistry interface {
	Connector(name string) (Connector, error)
}

// JobStore persists job and document metadata.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errText string, counters JobCounters) error
	RecordDocument(ctx context.Context, doc DocumentRecord) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListDocuments(ctx context.Context, jobID string) ([]DocumentRecord, error)
}

// BlobStore is the output side: it indexes content and returns a URI.
// PutObject must not commit an object when r fails.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
	DeleteObject(ctx context.Context, path string) error
}

// VersionStore remembers the fingerprint of every ingested document.
type VersionStore interface {
	GetVersion(ctx context.Context, connection, documentID string) (VersionRecord, bool, error)
	PutVersion(ctx context.Context, rec VersionRecord) error
	DeleteVersion(ctx context.Context, connection, documentID string) error
}

// Publisher pushes ingestion events to Pub/Sub, Kafka (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for crawl jobs.
type Queue interface {
	Enqueue(ctx context.Context, job QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Digest accumulates streamed content and reports its hex sum.
type Digest interface {
	io.Writer
	Sum() string
}

// Hasher computes content digests for deduplication and integrity.
type Hasher interface {
	NewDigest() Digest
}

// Clock returns the current time and schedules retry wakeups (useful for testing).
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
