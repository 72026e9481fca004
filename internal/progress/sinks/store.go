package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawlbridge/internal/progress"
	"github.com/JakeFAU/crawlbridge/internal/store"
)

// StoreSink persists every event of a batch to the activity repository in one call.
type StoreSink struct {
	repo   store.ActivityRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.ActivityRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume converts the batch to activity rows and appends them.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil || len(batch) == 0 {
		return nil
	}
	entries := make([]store.Activity, 0, len(batch))
	for _, evt := range batch {
		entries = append(entries, toActivity(evt))
	}
	if err := s.repo.AppendActivity(ctx, entries); err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	s.logger.Debug("activity persisted", zap.Int("entries", len(entries)))
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

func toActivity(evt progress.Event) store.Activity {
	return store.Activity{
		JobID:      evt.JobID,
		Stage:      string(evt.Stage),
		Connection: evt.Connection,
		DocumentID: evt.DocumentID,
		Phase:      evt.Phase,
		Kind:       evt.Kind,
		Bytes:      evt.Bytes,
		DurationMs: evt.Dur.Milliseconds(),
		Note:       evt.Note,
		At:         evt.TS.UTC(),
	}
}
