package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/clawlets/controlplane/internal/db"
)

// Store provides database operations for the retention sweep, grounded on
// pkg/job/store.go's raw-SQL-over-DBTX shape.
type Store struct {
	dbtx db.DBTX
}

func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

// TryAcquireLease acquires or renews the singleton "default" lease row in
// one round trip: it upserts a fresh leaseId/leaseExpiresAt only if no
// lease is currently held (or the held lease has expired), returning the
// stored cursor and acquired=true on success. On failure (someone else
// holds an active lease) it returns acquired=false without mutation
// (spec.md §4.H "If an active lease exists... no-op").
func (s *Store) TryAcquireLease(ctx context.Context, leaseID uuid.UUID, now time.Time, ttl time.Duration) (cursor *uuid.UUID, acquired bool, err error) {
	leaseExpiresAt := now.Add(ttl)
	row := s.dbtx.QueryRow(ctx, `
		INSERT INTO retention_sweeps (key, cursor, lease_id, lease_expires_at)
		VALUES ($4, NULL, $1, $2)
		ON CONFLICT (key) DO UPDATE SET lease_id = $1, lease_expires_at = $2
		WHERE retention_sweeps.lease_expires_at IS NULL OR retention_sweeps.lease_expires_at <= $3
		RETURNING cursor`,
		leaseID, leaseExpiresAt, now, LeaseKey,
	)
	err = row.Scan(&cursor)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("acquiring retention sweep lease: %w", err)
	}
	return cursor, true, nil
}

// SaveCursor persists the sweep's progress, only while leaseID still owns
// the row (spec.md §5 "a worker must read-back its own leaseId... and
// abort if it no longer matches").
func (s *Store) SaveCursor(ctx context.Context, leaseID, cursor uuid.UUID) error {
	_, err := s.dbtx.Exec(ctx, `
		UPDATE retention_sweeps SET cursor = $2 WHERE key = $3 AND lease_id = $1`,
		leaseID, cursor, LeaseKey,
	)
	return err
}

// ReleaseLease clears the lease and cursor, called when a pass finishes
// without remaining work (spec.md §4.H "else clear the lease and cursor").
func (s *Store) ReleaseLease(ctx context.Context, leaseID uuid.UUID) error {
	_, err := s.dbtx.Exec(ctx, `
		UPDATE retention_sweeps SET lease_id = NULL, lease_expires_at = NULL, cursor = NULL
		WHERE key = $2 AND lease_id = $1`,
		leaseID, LeaseKey,
	)
	return err
}

// ListPoliciesAfterCursor returns up to limit policies in primary-key
// (project_id) order, strictly after cursor (spec.md §4.H "Walk
// projectPolicies in primary-key order starting after the stored cursor").
func (s *Store) ListPoliciesAfterCursor(ctx context.Context, cursor *uuid.UUID, limit int) ([]Policy, error) {
	var rows pgx.Rows
	var err error
	if cursor == nil {
		rows, err = s.dbtx.Query(ctx, `
			SELECT project_id, retention_days FROM project_policies
			ORDER BY project_id LIMIT $1`, limit)
	} else {
		rows, err = s.dbtx.Query(ctx, `
			SELECT project_id, retention_days FROM project_policies
			WHERE project_id > $1 ORDER BY project_id LIMIT $2`, *cursor, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("listing project policies: %w", err)
	}
	defer rows.Close()

	var out []Policy
	for rows.Next() {
		var p Policy
		if err := rows.Scan(&p.ProjectID, &p.RetentionDays); err != nil {
			return nil, fmt.Errorf("scanning project policy: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteRunEventsBefore deletes up to limit run_events rows for a project
// older than cutoff, returning the number deleted.
func (s *Store) DeleteRunEventsBefore(ctx context.Context, projectID uuid.UUID, cutoff time.Time, limit int) (int, error) {
	tag, err := s.dbtx.Exec(ctx, `
		DELETE FROM run_events WHERE id IN (
			SELECT id FROM run_events WHERE project_id = $1 AND ts < $2 LIMIT $3
		)`, projectID, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("deleting run events: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteAuditLogsBefore deletes up to limit audit_logs rows for a project
// older than cutoff.
func (s *Store) DeleteAuditLogsBefore(ctx context.Context, projectID uuid.UUID, cutoff time.Time, limit int) (int, error) {
	tag, err := s.dbtx.Exec(ctx, `
		DELETE FROM audit_logs WHERE id IN (
			SELECT id FROM audit_logs WHERE project_id = $1 AND ts < $2 LIMIT $3
		)`, projectID, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("deleting audit logs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListTerminalRunsBefore returns up to limit ids of terminal runs for a
// project started before cutoff (spec.md §4.H step 3).
func (s *Store) ListTerminalRunsBefore(ctx context.Context, projectID uuid.UUID, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := s.dbtx.Query(ctx, `
		SELECT id FROM runs
		WHERE project_id = $1 AND status IN ('succeeded', 'failed', 'canceled') AND started_at < $2
		ORDER BY started_at LIMIT $3`,
		projectID, cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing terminal runs: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning run id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// DeleteRunEventsForRun deletes up to limit run_events rows for a single
// run, returning the number deleted (spec.md §4.H step 3: "first delete
// its run-events in batches... then the run row").
func (s *Store) DeleteRunEventsForRun(ctx context.Context, runID uuid.UUID, limit int) (int, error) {
	tag, err := s.dbtx.Exec(ctx, `
		DELETE FROM run_events WHERE id IN (
			SELECT id FROM run_events WHERE run_id = $1 LIMIT $2
		)`, runID, limit)
	if err != nil {
		return 0, fmt.Errorf("deleting run events for run: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteRun deletes a single (now event-free) run row.
func (s *Store) DeleteRun(ctx context.Context, runID uuid.UUID) error {
	_, err := s.dbtx.Exec(ctx, `DELETE FROM runs WHERE id = $1`, runID)
	if err != nil {
		return fmt.Errorf("deleting run: %w", err)
	}
	return nil
}
