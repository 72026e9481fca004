package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/crawlbridge/internal/crawler"
)

type versionKey struct {
	connection string
	documentID string
}

// VersionStore keeps document fingerprints in a map.
type VersionStore struct {
	mu       sync.RWMutex
	versions map[versionKey]crawler.VersionRecord
}

// NewVersionStore constructs an empty VersionStore.
func NewVersionStore() *VersionStore {
	return &VersionStore{versions: make(map[versionKey]crawler.VersionRecord)}
}

// GetVersion returns the stored record and whether it exists.
func (s *VersionStore) GetVersion(_ context.Context, connection, documentID string) (crawler.VersionRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.versions[versionKey{connection, documentID}]
	return rec, ok, nil
}

// PutVersion inserts or replaces a record.
func (s *VersionStore) PutVersion(_ context.Context, rec crawler.VersionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions[versionKey{rec.Connection, rec.DocumentID}] = rec
	return nil
}

// DeleteVersion forgets a document.
func (s *VersionStore) DeleteVersion(_ context.Context, connection, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.versions, versionKey{connection, documentID})
	return nil
}
