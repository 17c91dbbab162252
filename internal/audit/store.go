package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/clawlets/controlplane/internal/db"
)

// Store provides read access to the audit log, grounded on
// pkg/job/store.go's raw-SQL-over-DBTX shape.
type Store struct {
	dbtx db.DBTX
}

func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

// List returns up to limit audit log entries for a project, newest first,
// offset-paginated (spec.md §4.K "Query pagination is admin-readable").
// Each entry is passed through sanitizeForRead before being returned.
func (s *Store) List(ctx context.Context, projectID uuid.UUID, limit, offset int) ([]Entry, int, error) {
	rows, err := s.dbtx.Query(ctx, `
		SELECT id, ts, user_id, project_id, action, target, data
		FROM audit_logs
		WHERE project_id = $1
		ORDER BY ts DESC
		LIMIT $2 OFFSET $3`,
		projectID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("listing audit log: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning audit log entry: %w", err)
		}
		entries = append(entries, sanitizeForRead(e))
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating audit log: %w", err)
	}

	var total int
	if err := s.dbtx.QueryRow(ctx, `SELECT count(*) FROM audit_logs WHERE project_id = $1`, projectID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting audit log: %w", err)
	}

	return entries, total, nil
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e      Entry
		pid    *uuid.UUID
		action string
		target []byte
		data   []byte
	)
	if err := row.Scan(&e.ID, &e.TS, &e.UserID, &pid, &action, &target, &data); err != nil {
		return Entry{}, err
	}
	e.ProjectID = pid
	e.Action = Action(action)
	if len(target) > 0 {
		if err := json.Unmarshal(target, &e.Target); err != nil {
			return Entry{}, fmt.Errorf("decoding target: %w", err)
		}
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &e.Data); err != nil {
			return Entry{}, fmt.Errorf("decoding data: %w", err)
		}
	}
	return e, nil
}
