package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/JakeFAU/crawlbridge/internal/store"
)

const activityColumns = 10

// ActivityStore implements store.ActivityRepository as an append-only table.
type ActivityStore struct {
	pool  Pool
	table string
}

// NewActivityStore wraps pool. table defaults to crawl_activity.
func NewActivityStore(pool Pool, table string) (*ActivityStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := checkTable(table, "crawl_activity")
	if err != nil {
		return nil, err
	}
	return &ActivityStore{pool: pool, table: table}, nil
}

// EnsureSchema creates the activity table and its job index.
func (s *ActivityStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	seq         BIGSERIAL PRIMARY KEY,
	job_id      TEXT NOT NULL,
	stage       TEXT NOT NULL,
	connection  TEXT NOT NULL DEFAULT '',
	document_id TEXT NOT NULL DEFAULT '',
	phase       TEXT NOT NULL DEFAULT '',
	kind        TEXT NOT NULL DEFAULT '',
	bytes       BIGINT NOT NULL DEFAULT 0,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	note        TEXT NOT NULL DEFAULT '',
	at          TIMESTAMPTZ NOT NULL
)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_job_idx ON %s (job_id, seq)`, s.table, s.table),
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure activity schema: %w", err)
		}
	}
	return nil
}

// AppendActivity inserts all entries with one multi-row statement.
func (s *ActivityStore) AppendActivity(ctx context.Context, entries []store.Activity) error {
	if len(entries) == 0 {
		return nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (job_id, stage, connection, document_id, phase, kind, bytes, duration_ms, note, at) VALUES ", s.table)
	args := make([]any, 0, len(entries)*activityColumns)
	for i, e := range entries {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for c := 0; c < activityColumns; c++ {
			if c > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", i*activityColumns+c+1)
		}
		sb.WriteByte(')')
		args = append(args, e.JobID, e.Stage, e.Connection, e.DocumentID, e.Phase, e.Kind,
			e.Bytes, e.DurationMs, e.Note, e.At)
	}
	if _, err := s.pool.Exec(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

// ListActivity pages through a job's entries in insertion order.
func (s *ActivityStore) ListActivity(ctx context.Context, jobID string, limit, offset int) ([]store.Activity, error) {
	query := fmt.Sprintf(`
SELECT job_id, stage, connection, document_id, phase, kind, bytes, duration_ms, note, at
FROM %s WHERE job_id = $1 ORDER BY seq LIMIT $2 OFFSET $3`, s.table)
	rows, err := s.pool.Query(ctx, query, jobID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("select activity: %w", err)
	}
	defer rows.Close()

	out := make([]store.Activity, 0)
	for rows.Next() {
		var a store.Activity
		if err := rows.Scan(&a.JobID, &a.Stage, &a.Connection, &a.DocumentID, &a.Phase, &a.Kind,
			&a.Bytes, &a.DurationMs, &a.Note, &a.At); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity: %w", err)
	}
	return out, nil
}
