package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/crawlbridge/internal/store"
)

// ActivityStore keeps activity history per job in memory.
type ActivityStore struct {
	mu      sync.RWMutex
	entries map[string][]store.Activity
}

// NewActivityStore constructs an empty ActivityStore.
func NewActivityStore() *ActivityStore {
	return &ActivityStore{entries: make(map[string][]store.Activity)}
}

// AppendActivity stores entries in order.
func (s *ActivityStore) AppendActivity(_ context.Context, entries []store.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.entries[e.JobID] = append(s.entries[e.JobID], e)
	}
	return nil
}

// ListActivity returns a copy of one page of a job's entries.
func (s *ActivityStore) ListActivity(_ context.Context, jobID string, limit, offset int) ([]store.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.entries[jobID]
	if offset >= len(all) {
		return []store.Activity{}, nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return append([]store.Activity(nil), all[offset:end]...), nil
}
