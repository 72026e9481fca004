// Package progress defines the activity events emitted by crawl workers.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Job stages.
const (
	StageJobStart    Stage = "JOB_START"
	StageJobDone     Stage = "JOB_DONE"
	StageJobError    Stage = "JOB_ERROR"
	StageJobCanceled Stage = "JOB_CANCELED"
)

// Document stages.
const (
	StageFetchStart  Stage = "FETCH_START"
	StageFetchDone   Stage = "FETCH_DONE"
	StageDocSkipped  Stage = "DOC_SKIPPED"
	StageDocDeleted  Stage = "DOC_DELETED"
	StageDocRetry    Stage = "DOC_RETRY"
	StageDocError    Stage = "DOC_ERROR"
	StageDocExcluded Stage = "DOC_EXCLUDED"
)

// IsDocument reports whether the stage is scoped to a single document.
func (s Stage) IsDocument() bool {
	switch s {
	case StageFetchStart, StageFetchDone, StageDocSkipped, StageDocDeleted,
		StageDocRetry, StageDocError, StageDocExcluded:
		return true
	default:
		return false
	}
}

// Event captures one entry of a job's activity history.
type Event struct {
	// JobID identifies the job run.
	JobID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle or document milestone occurred.
	Stage Stage
	// Connection is the repository connection name.
	Connection string
	// DocumentID scopes document stages; empty for job stages.
	DocumentID string
	// Phase is the pipeline phase a document error or retry happened in.
	Phase string
	// Kind is the error kind for error and retry stages.
	Kind string
	// Bytes is the content size ingested for FETCH_DONE.
	Bytes int64
	// Dur captures fetch latency or total job runtime.
	Dur time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageJobDone, StageJobError, StageJobCanceled:
	default:
		if !e.Stage.IsDocument() {
			return fmt.Errorf("unknown stage %q", e.Stage)
		}
		if e.DocumentID == "" {
			return fmt.Errorf("%s requires document id", e.Stage)
		}
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
