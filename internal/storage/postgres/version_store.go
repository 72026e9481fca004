package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/crawlbridge/internal/crawler"
)

// VersionStore keeps document fingerprints in a Postgres table keyed by
// (connection, document_id).
type VersionStore struct {
	pool  Pool
	table string
}

// NewVersionStore wraps pool. table defaults to document_versions.
func NewVersionStore(pool Pool, table string) (*VersionStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := checkTable(table, "document_versions")
	if err != nil {
		return nil, err
	}
	return &VersionStore{pool: pool, table: table}, nil
}

// EnsureSchema creates the versions table when it does not exist.
func (s *VersionStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	connection  TEXT NOT NULL,
	document_id TEXT NOT NULL,
	version     TEXT NOT NULL,
	blob_path   TEXT NOT NULL DEFAULT '',
	updated_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (connection, document_id)
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *VersionStore) Close() {
	s.pool.Close()
}

// GetVersion returns the stored record and whether it exists.
func (s *VersionStore) GetVersion(ctx context.Context, connection, documentID string) (crawler.VersionRecord, bool, error) {
	query := fmt.Sprintf(`SELECT version, blob_path, updated_at FROM %s WHERE connection = $1 AND document_id = $2`, s.table)
	rec := crawler.VersionRecord{Connection: connection, DocumentID: documentID}
	err := s.pool.QueryRow(ctx, query, connection, documentID).Scan(&rec.Version, &rec.BlobPath, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.VersionRecord{}, false, nil
	}
	if err != nil {
		return crawler.VersionRecord{}, false, fmt.Errorf("select version: %w", err)
	}
	return rec, true, nil
}

// PutVersion upserts a record.
func (s *VersionStore) PutVersion(ctx context.Context, rec crawler.VersionRecord) error {
	query := fmt.Sprintf(`
INSERT INTO %s (connection, document_id, version, blob_path, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (connection, document_id) DO UPDATE
SET version = EXCLUDED.version, blob_path = EXCLUDED.blob_path, updated_at = EXCLUDED.updated_at`, s.table)
	if _, err := s.pool.Exec(ctx, query, rec.Connection, rec.DocumentID, rec.Version, rec.BlobPath, rec.UpdatedAt); err != nil {
		return fmt.Errorf("upsert version: %w", err)
	}
	return nil
}

// DeleteVersion forgets a document.
func (s *VersionStore) DeleteVersion(ctx context.Context, connection, documentID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE connection = $1 AND document_id = $2`, s.table)
	if _, err := s.pool.Exec(ctx, query, connection, documentID); err != nil {
		return fmt.Errorf("delete version: %w", err)
	}
	return nil
}
