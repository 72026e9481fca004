package store

import (
	"context"
	"time"
)

// Activity is one persisted entry of a job's history.
type Activity struct {
	JobID      string    `json:"job_id"`
	Stage      string    `json:"stage"`
	Connection string    `json:"connection,omitempty"`
	DocumentID string    `json:"document_id,omitempty"`
	Phase      string    `json:"phase,omitempty"`
	Kind       string    `json:"kind,omitempty"`
	Bytes      int64     `json:"bytes,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
	Note       string    `json:"note,omitempty"`
	At         time.Time `json:"at"`
}

// ActivityRepository persists and pages through activity history.
type ActivityRepository interface {
	// AppendActivity stores entries in order.
	AppendActivity(ctx context.Context, entries []Activity) error
	// ListActivity returns a job's entries oldest first. Unknown jobs yield an empty list.
	ListActivity(ctx context.Context, jobID string, limit, offset int) ([]Activity, error)
}
