package erasure

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/clawlets/controlplane/internal/db"
)

// Store provides database operations for erasure jobs, deletion tokens,
// and the fixed stage-batch deletes, grounded on pkg/job/store.go's
// raw-SQL-over-DBTX shape.
type Store struct {
	dbtx db.DBTX
}

func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

const jobColumns = `id, project_id, requester, status, stage, processed, lease_id, lease_expires_at, last_error, created_at, completed_at`

func scanJob(row pgx.Row) (Job, error) {
	var j Job
	err := row.Scan(&j.ID, &j.ProjectID, &j.Requester, &j.Status, &j.Stage, &j.Processed,
		&j.LeaseID, &j.LeaseExpiresAt, &j.LastError, &j.CreatedAt, &j.CompletedAt)
	return j, err
}

// DeleteTokensForProject deletes every stored deletion token for a project
// (spec.md §4.I "Deletes any existing deletion tokens for this project").
func (s *Store) DeleteTokensForProject(ctx context.Context, projectID uuid.UUID) error {
	_, err := s.dbtx.Exec(ctx, `DELETE FROM project_deletion_tokens WHERE project_id = $1`, projectID)
	if err != nil {
		return fmt.Errorf("deleting prior deletion tokens: %w", err)
	}
	return nil
}

// InsertToken stores a new deletion token's hash.
func (s *Store) InsertToken(ctx context.Context, projectID uuid.UUID, hash string, expiresAt time.Time) error {
	_, err := s.dbtx.Exec(ctx, `
		INSERT INTO project_deletion_tokens (project_id, token_hash, expires_at) VALUES ($1, $2, $3)`,
		projectID, hash, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("inserting deletion token: %w", err)
	}
	return nil
}

// ListUnexpiredTokenHashes returns every unexpired token hash stored for a
// project, for constant-time confirmation (spec.md §4.I, §8.9).
func (s *Store) ListUnexpiredTokenHashes(ctx context.Context, projectID uuid.UUID, now time.Time) ([]string, error) {
	rows, err := s.dbtx.Query(ctx, `
		SELECT token_hash FROM project_deletion_tokens WHERE project_id = $1 AND expires_at > $2`,
		projectID, now,
	)
	if err != nil {
		return nil, fmt.Errorf("listing deletion tokens: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("scanning deletion token: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// HasActiveJob reports whether an erasure job for projectID is currently
// pending or running (spec.md §4.I "Refuses if any erasure job for the
// project is already pending or running").
func (s *Store) HasActiveJob(ctx context.Context, projectID uuid.UUID) (bool, error) {
	var exists bool
	err := s.dbtx.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM project_deletion_jobs WHERE project_id = $1 AND status IN ('pending', 'running'))`,
		projectID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking active deletion jobs: %w", err)
	}
	return exists, nil
}

// InsertJob creates a new erasure job in status=pending, stage=runEvents,
// processed=0 (spec.md §4.I deleteConfirm).
func (s *Store) InsertJob(ctx context.Context, projectID uuid.UUID, requester string) (Job, error) {
	row := s.dbtx.QueryRow(ctx, `
		INSERT INTO project_deletion_jobs (project_id, requester, status, stage, processed)
		VALUES ($1, $2, 'pending', $3, 0)
		RETURNING `+jobColumns,
		projectID, requester, StageRunEvents,
	)
	return scanJob(row)
}

// GetJob fetches an erasure job by id. Status remains readable even after
// the project row is gone (spec.md §4.I "Status readable by admins or by
// the original requester even after the project row is gone").
func (s *Store) GetJob(ctx context.Context, jobID uuid.UUID) (Job, error) {
	row := s.dbtx.QueryRow(ctx, `SELECT `+jobColumns+` FROM project_deletion_jobs WHERE id = $1`, jobID)
	return scanJob(row)
}

// GetLatestJobForProject returns the most recent erasure job for a project.
func (s *Store) GetLatestJobForProject(ctx context.Context, projectID uuid.UUID) (Job, error) {
	row := s.dbtx.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM project_deletion_jobs WHERE project_id = $1 ORDER BY created_at DESC LIMIT 1`,
		projectID,
	)
	return scanJob(row)
}

// ListActiveJobIDs returns every job currently pending or running with no
// lease held (or an expired one), so a restarted process can resume steps
// that were scheduled in another process's memory and lost on crash.
func (s *Store) ListActiveJobIDs(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	rows, err := s.dbtx.Query(ctx, `
		SELECT id FROM project_deletion_jobs
		WHERE status IN ('pending', 'running') AND (lease_expires_at IS NULL OR lease_expires_at <= $1)`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("listing active erasure jobs: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning active erasure job id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// TryAcquireLease acquires or renews jobID's step-worker lease and marks it
// running, only if no other lease is currently active, mirroring
// pkg/retention.Store's TryAcquireLease shape but scoped to a single job
// row (spec.md §4.I "If another lease is active, return" / "Acquire a
// 60-second lease").
func (s *Store) TryAcquireLease(ctx context.Context, jobID, leaseID uuid.UUID, now time.Time, ttl time.Duration) (bool, error) {
	leaseExpiresAt := now.Add(ttl)
	tag, err := s.dbtx.Exec(ctx, `
		UPDATE project_deletion_jobs SET lease_id = $1, lease_expires_at = $2, status = 'running'
		WHERE id = $3 AND (lease_expires_at IS NULL OR lease_expires_at <= $4)`,
		leaseID, leaseExpiresAt, jobID, now,
	)
	if err != nil {
		return false, fmt.Errorf("acquiring erasure job lease: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// AdvanceStep patches a job's progress after one step worker invocation and
// releases the lease (spec.md §4.I "Patch {...}, release the lease").
func (s *Store) AdvanceStep(ctx context.Context, jobID, leaseID uuid.UUID, stage Stage, status Status, processedDelta int64, completedAt *time.Time) error {
	_, err := s.dbtx.Exec(ctx, `
		UPDATE project_deletion_jobs
		SET stage = $3, status = $4, processed = processed + $5, completed_at = $6,
			lease_id = NULL, lease_expires_at = NULL
		WHERE id = $1 AND lease_id = $2`,
		jobID, leaseID, stage, status, processedDelta, completedAt,
	)
	if err != nil {
		return fmt.Errorf("advancing erasure job step: %w", err)
	}
	return nil
}

// FailJob marks a job failed and releases its lease (spec.md §4.I "On
// exception, set status='failed', lastError=message, release the lease").
func (s *Store) FailJob(ctx context.Context, jobID, leaseID uuid.UUID, message string) error {
	_, err := s.dbtx.Exec(ctx, `
		UPDATE project_deletion_jobs
		SET status = 'failed', last_error = $3, lease_id = NULL, lease_expires_at = NULL
		WHERE id = $1 AND lease_id = $2`,
		jobID, leaseID, message,
	)
	if err != nil {
		return fmt.Errorf("failing erasure job: %w", err)
	}
	return nil
}

// stageTable describes one stage's backing table and the column(s) that
// uniquely identify a row within it, for the generic batched-delete helper.
type stageTable struct {
	table     string
	keyCols   []string
	filterCol string
}

var stageTables = map[Stage]stageTable{
	StageRunEvents:             {"run_events", []string{"id"}, "project_id"},
	StageRuns:                  {"runs", []string{"id"}, "project_id"},
	StageProviders:             {"providers", []string{"id"}, "project_id"},
	StageProjectConfigs:        {"project_configs", []string{"project_id", "config_key"}, "project_id"},
	StageHosts:                 {"hosts", []string{"project_id", "host_name"}, "project_id"},
	StageGateways:              {"gateways", []string{"project_id", "host_name", "gateway_id"}, "project_id"},
	StageSecretWiring:          {"secret_wiring", []string{"project_id", "host_name", "wiring_key"}, "project_id"},
	StageJobs:                  {"jobs", []string{"id"}, "project_id"},
	StageRunnerCommandResults:  {"result_smalls", []string{"job_id", "created_at"}, "project_id"},
	StageRunnerTokens:          {"runner_tokens", []string{"id"}, "project_id"},
	StageRunners:               {"runners", []string{"id"}, "project_id"},
	StageProjectCredentials:    {"project_credentials", []string{"id"}, "project_id"},
	StageProjectMembers:        {"project_members", []string{"project_id", "user_id"}, "project_id"},
	StageAuditLogs:             {"audit_logs", []string{"id"}, "project_id"},
	StageProjectPolicies:       {"project_policies", []string{"project_id"}, "project_id"},
	StageProjectDeletionTokens: {"project_deletion_tokens", []string{"id"}, "project_id"},
}

// DeleteStageBatch deletes up to limit rows of stage's table for projectID,
// returning the number deleted (spec.md §4.I "take up to 200 rows of the
// stage's table filtered by project... delete them"). StageRunnerCommandResultBlobs
// and StageProject are handled separately (see DeleteResultBlobsBatch and
// DeleteProjectRow) since they need extra side effects.
func (s *Store) DeleteStageBatch(ctx context.Context, projectID uuid.UUID, stage Stage, limit int) (int, error) {
	spec, ok := stageTables[stage]
	if !ok {
		return 0, fmt.Errorf("erasure: no table mapping for stage %q", stage)
	}

	cols := joinCols(spec.keyCols)
	query := fmt.Sprintf(`
		DELETE FROM %s WHERE (%s) IN (
			SELECT %s FROM %s WHERE %s = $1 LIMIT $2
		)`, spec.table, cols, cols, spec.table, spec.filterCol)

	tag, err := s.dbtx.Exec(ctx, query, projectID, limit)
	if err != nil {
		return 0, fmt.Errorf("deleting %s batch: %w", stage, err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteResultBlobsBatch deletes up to limit result_blobs rows for a
// project and returns their storage ids for best-effort backing-blob
// deletion by the caller (spec.md §4.I "runnerCommandResultBlobs
// additionally deletes backing blobs best-effort").
func (s *Store) DeleteResultBlobsBatch(ctx context.Context, projectID uuid.UUID, limit int) (storageIDs []string, err error) {
	rows, err := s.dbtx.Query(ctx, `
		SELECT job_id, storage_id FROM result_blobs WHERE project_id = $1 LIMIT $2`,
		projectID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("selecting result blobs: %w", err)
	}
	type key struct {
		jobID     uuid.UUID
		storageID string
	}
	var keys []key
	for rows.Next() {
		var k key
		if err := rows.Scan(&k.jobID, &k.storageID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning result blob: %w", err)
		}
		keys = append(keys, k)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, k := range keys {
		if _, err := s.dbtx.Exec(ctx, `DELETE FROM result_blobs WHERE job_id = $1 AND storage_id = $2`, k.jobID, k.storageID); err != nil {
			return nil, fmt.Errorf("deleting result blob row: %w", err)
		}
		storageIDs = append(storageIDs, k.storageID)
	}
	return storageIDs, nil
}

// DeleteProjectRow deletes the project document itself (spec.md §4.I "the
// project stage deletes the project document"). Setup drafts hang off the
// project/host pair outside the fixed stage list, so they are cleared here
// in the same step; their count is bounded by the hosts shape cap.
func (s *Store) DeleteProjectRow(ctx context.Context, projectID uuid.UUID) (int, error) {
	if _, err := s.dbtx.Exec(ctx, `DELETE FROM setup_drafts WHERE project_id = $1`, projectID); err != nil {
		return 0, fmt.Errorf("deleting setup drafts: %w", err)
	}
	tag, err := s.dbtx.Exec(ctx, `DELETE FROM projects WHERE id = $1`, projectID)
	if err != nil {
		return 0, fmt.Errorf("deleting project: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func joinCols(cols []string) string {
	out := cols[0]
	for _, c := range cols[1:] {
		out += ", " + c
	}
	return out
}
