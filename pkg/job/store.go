package job

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/clawlets/controlplane/internal/db"
)

const runColumns = `id, project_id, kind, status, host, initiator, started_at, finished_at, error_message`

const jobColumns = `id, project_id, run_id, kind, status,
	payload_meta, payload_hash, target_runner_id,
	sealed_input_required, sealed_input_b64, sealed_input_alg, sealed_input_key_id, sealed_pending_expires_at,
	lease_id, leased_by_runner_id, lease_expires_at,
	attempt, created_at, started_at, finished_at, error_message`

// Store provides database operations for jobs and runs, grounded on
// pkg/incident/store.go's raw-SQL-over-DBTX shape, generalized from a
// single-entity store into the job/run pair's richer column set.
type Store struct {
	dbtx db.DBTX
}

func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

func scanRun(row pgx.Row) (Run, error) {
	var r Run
	err := row.Scan(&r.ID, &r.ProjectID, &r.Kind, &r.Status, &r.Host, &r.Initiator, &r.StartedAt, &r.FinishedAt, &r.ErrorMessage)
	return r, err
}

func scanJob(row pgx.Row) (Job, error) {
	var j Job
	err := row.Scan(
		&j.ID, &j.ProjectID, &j.RunID, &j.Kind, &j.Status,
		&j.PayloadMeta, &j.PayloadHash, &j.TargetRunner,
		&j.SealedInputRequired, &j.SealedInputB64, &j.SealedInputAlg, &j.SealedInputKeyID, &j.SealedPendingExpiresAt,
		&j.LeaseID, &j.LeasedByRunnerID, &j.LeaseExpiresAt,
		&j.Attempt, &j.CreatedAt, &j.StartedAt, &j.FinishedAt, &j.ErrorMessage,
	)
	return j, err
}

// InsertRun creates a new run row in status=queued (spec.md §4.F.1 step 5,
// "else" branch).
func (s *Store) InsertRun(ctx context.Context, projectID uuid.UUID, kind, initiator string, host *string) (Run, error) {
	row := s.dbtx.QueryRow(ctx, `
		INSERT INTO runs (project_id, kind, status, host, initiator, started_at)
		VALUES ($1, $2, 'queued', $3, $4, now())
		RETURNING `+runColumns,
		projectID, kind, host, initiator,
	)
	return scanRun(row)
}

// GetRun fetches a run by id, requiring project ownership.
func (s *Store) GetRun(ctx context.Context, projectID, runID uuid.UUID) (Run, error) {
	row := s.dbtx.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1 AND project_id = $2`, runID, projectID)
	return scanRun(row)
}

// ResetRunToQueued reopens an existing run for re-enqueue (spec.md §4.F.1
// step 5, "if runId given" branch).
func (s *Store) ResetRunToQueued(ctx context.Context, runID uuid.UUID) error {
	_, err := s.dbtx.Exec(ctx, `
		UPDATE runs SET status = 'queued', finished_at = NULL, error_message = NULL WHERE id = $1`,
		runID,
	)
	return err
}

// MirrorRun patches a run's status/finishedAt/errorMessage (spec.md §4.G).
func (s *Store) MirrorRun(ctx context.Context, runID uuid.UUID, status RunStatus, finishedAt *time.Time, errMsg *string) error {
	_, err := s.dbtx.Exec(ctx, `
		UPDATE runs SET status = $2, finished_at = $3, error_message = $4 WHERE id = $1`,
		runID, status, finishedAt, errMsg,
	)
	return err
}

// MirrorRunStarted patches a run to running/startedAt (leaseNext Step 4).
func (s *Store) MirrorRunStarted(ctx context.Context, runID uuid.UUID, startedAt time.Time) error {
	_, err := s.dbtx.Exec(ctx, `UPDATE runs SET status = 'running', started_at = $2 WHERE id = $1`, runID, startedAt)
	return err
}

// InsertJob inserts a new queued job (spec.md §4.F.1 step 8).
func (s *Store) InsertJob(ctx context.Context, projectID, runID uuid.UUID, kind string, payloadMeta []byte, payloadHash *string, targetRunner *uuid.UUID) (Job, error) {
	row := s.dbtx.QueryRow(ctx, `
		INSERT INTO jobs (project_id, run_id, kind, status, payload_meta, payload_hash, target_runner_id, attempt, created_at)
		VALUES ($1, $2, $3, 'queued', $4, $5, $6, 0, now())
		RETURNING `+jobColumns,
		projectID, runID, kind, payloadMeta, payloadHash, targetRunner,
	)
	return scanJob(row)
}

// InsertSealedPendingJob inserts a job reserved for sealed input (spec.md
// §4.F.2 step 4).
func (s *Store) InsertSealedPendingJob(ctx context.Context, projectID, runID uuid.UUID, kind string, payloadMeta []byte, targetRunner uuid.UUID, alg, keyID string, expiresAt time.Time) (Job, error) {
	row := s.dbtx.QueryRow(ctx, `
		INSERT INTO jobs (project_id, run_id, kind, status, payload_meta, target_runner_id,
			sealed_input_required, sealed_input_alg, sealed_input_key_id, sealed_pending_expires_at, attempt, created_at)
		VALUES ($1, $2, $3, 'sealed_pending', $4, $5, true, $6, $7, $8, 0, now())
		RETURNING `+jobColumns,
		projectID, runID, kind, payloadMeta, targetRunner, alg, keyID, expiresAt,
	)
	return scanJob(row)
}

// GetJob fetches a job by id, requiring project ownership.
func (s *Store) GetJob(ctx context.Context, projectID, jobID uuid.UUID) (Job, error) {
	row := s.dbtx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 AND project_id = $2`, jobID, projectID)
	return scanJob(row)
}

// GetJobByID fetches a job by id alone (used by internal sweeps/workers
// that already hold the project from the job row itself).
func (s *Store) GetJobByID(ctx context.Context, jobID uuid.UUID) (Job, error) {
	row := s.dbtx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID)
	return scanJob(row)
}

// FinalizeSealed transitions a sealed_pending job to queued with ciphertext
// persisted (spec.md §4.F.3 step 4).
func (s *Store) FinalizeSealed(ctx context.Context, jobID uuid.UUID, sealedInputB64, alg, keyID string) error {
	_, err := s.dbtx.Exec(ctx, `
		UPDATE jobs SET status = 'queued', sealed_input_b64 = $2, sealed_input_alg = $3, sealed_input_key_id = $4,
			sealed_pending_expires_at = NULL
		WHERE id = $1`,
		jobID, sealedInputB64, alg, keyID,
	)
	return err
}

// ListStaleSealedPending returns up to limit sealed_pending jobs for a
// project whose reservation has expired (spec.md §4.F.4 Step 1).
func (s *Store) ListStaleSealedPending(ctx context.Context, projectID uuid.UUID, now time.Time, limit int) ([]Job, error) {
	return s.queryJobs(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE project_id = $1 AND status = 'sealed_pending' AND sealed_pending_expires_at <= $2
		ORDER BY created_at LIMIT $3`,
		projectID, now, limit,
	)
}

// FailSealedExpired fails a sealed_pending job whose reservation lapsed
// (spec.md §4.F.4 Step 1 / §4.F.3 "reservation expired").
func (s *Store) FailSealedExpired(ctx context.Context, jobID uuid.UUID, message string) error {
	_, err := s.dbtx.Exec(ctx, `
		UPDATE jobs SET status = 'failed', finished_at = now(), error_message = $2,
			payload_meta = NULL, sealed_input_b64 = NULL, sealed_pending_expires_at = NULL
		WHERE id = $1`,
		jobID, message,
	)
	return err
}

// ListStaleLeases returns up to limit jobs of status for a project whose
// lease has expired (spec.md §4.F.4 Step 2).
func (s *Store) ListStaleLeases(ctx context.Context, projectID uuid.UUID, status JobStatus, now time.Time, limit int) ([]Job, error) {
	return s.queryJobs(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE project_id = $1 AND status = $2 AND lease_expires_at <= $3
		ORDER BY created_at LIMIT $4`,
		projectID, status, now, limit,
	)
}

// RequeueStale reverts an expired-lease job to queued, clearing lease
// fields (spec.md §4.F.4 Step 2).
func (s *Store) RequeueStale(ctx context.Context, jobID uuid.UUID) error {
	_, err := s.dbtx.Exec(ctx, `
		UPDATE jobs SET status = 'queued', lease_id = NULL, leased_by_runner_id = NULL, lease_expires_at = NULL
		WHERE id = $1`,
		jobID,
	)
	return err
}

// ListQueuedTargeted returns up to limit queued jobs targeted at runner,
// oldest first (spec.md §4.F.4 Step 3).
func (s *Store) ListQueuedTargeted(ctx context.Context, projectID, runner uuid.UUID, limit int) ([]Job, error) {
	return s.queryJobs(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE project_id = $1 AND status = 'queued' AND target_runner_id = $2
		ORDER BY created_at LIMIT $3`,
		projectID, runner, limit,
	)
}

// ListQueuedUntargeted returns up to limit queued jobs with no target
// runner, oldest first (spec.md §4.F.4 Step 3).
func (s *Store) ListQueuedUntargeted(ctx context.Context, projectID uuid.UUID, limit int) ([]Job, error) {
	return s.queryJobs(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE project_id = $1 AND status = 'queued' AND target_runner_id IS NULL
		ORDER BY created_at LIMIT $2`,
		projectID, limit,
	)
}

// FailAttemptCapExceeded fails a job that has reached MaxAttempts (spec.md
// §4.F.4 Step 4).
func (s *Store) FailAttemptCapExceeded(ctx context.Context, jobID uuid.UUID, message string) error {
	_, err := s.dbtx.Exec(ctx, `
		UPDATE jobs SET status = 'failed', finished_at = now(), error_message = $2 WHERE id = $1`,
		jobID, message,
	)
	return err
}

// Lease mints a lease and transitions a queued job to leased (spec.md
// §4.F.4 Step 4's "otherwise lease it").
func (s *Store) Lease(ctx context.Context, jobID, leaseID, runner uuid.UUID, leaseExpiresAt time.Time, attempt int, startedAt time.Time) error {
	_, err := s.dbtx.Exec(ctx, `
		UPDATE jobs SET status = 'leased', lease_id = $2, leased_by_runner_id = $3, lease_expires_at = $4,
			attempt = $5, started_at = COALESCE(started_at, $6)
		WHERE id = $1`,
		jobID, leaseID, runner, leaseExpiresAt, attempt, startedAt,
	)
	return err
}

// Heartbeat extends a job's lease and marks it running (spec.md §4.F.5).
func (s *Store) Heartbeat(ctx context.Context, jobID uuid.UUID, leaseExpiresAt time.Time) error {
	_, err := s.dbtx.Exec(ctx, `UPDATE jobs SET status = 'running', lease_expires_at = $2 WHERE id = $1`, jobID, leaseExpiresAt)
	return err
}

// Complete patches a job to a terminal status, clearing payload/sealed/
// lease fields (spec.md §4.F.6).
func (s *Store) Complete(ctx context.Context, jobID uuid.UUID, status JobStatus, errMsg *string) error {
	_, err := s.dbtx.Exec(ctx, `
		UPDATE jobs SET status = $2, finished_at = now(), error_message = $3,
			payload_meta = NULL, sealed_input_b64 = NULL, sealed_pending_expires_at = NULL,
			lease_id = NULL, lease_expires_at = NULL
		WHERE id = $1`,
		jobID, status, errMsg,
	)
	return err
}

// Cancel patches a non-terminal job to canceled (spec.md §4.F.7).
func (s *Store) Cancel(ctx context.Context, jobID uuid.UUID) error {
	_, err := s.dbtx.Exec(ctx, `
		UPDATE jobs SET status = 'canceled', finished_at = now(), error_message = NULL,
			payload_meta = NULL, sealed_input_b64 = NULL, sealed_pending_expires_at = NULL,
			lease_id = NULL, lease_expires_at = NULL
		WHERE id = $1`,
		jobID,
	)
	return err
}

// JobFilters narrows ListJobs/CountJobs for the admin-facing list surface
// (spec.md SPEC_FULL.md "Admin HTTP surface for jobs/runs").
type JobFilters struct {
	RunID  *uuid.UUID
	Status JobStatus
	Kind   string
}

func buildJobFilterClauses(projectID uuid.UUID, f JobFilters) ([]string, []any) {
	where := []string{"project_id = $1"}
	args := []any{projectID}
	argN := 2

	if f.RunID != nil {
		where = append(where, fmt.Sprintf("run_id = $%d", argN))
		args = append(args, *f.RunID)
		argN++
	}
	if f.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", argN))
		args = append(args, f.Status)
		argN++
	}
	if f.Kind != "" {
		where = append(where, fmt.Sprintf("kind = $%d", argN))
		args = append(args, f.Kind)
	}
	return where, args
}

// ListJobs returns a project's jobs matching filters, newest first, with
// offset pagination (grounded on pkg/incident/store.go's ListFiltered).
func (s *Store) ListJobs(ctx context.Context, projectID uuid.UUID, f JobFilters, limit, offset int) ([]Job, error) {
	where, args := buildJobFilterClauses(projectID, f)
	argN := len(args) + 1
	sql := fmt.Sprintf(
		`SELECT `+jobColumns+` FROM jobs WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		strings.Join(where, " AND "), argN, argN+1,
	)
	args = append(args, limit, offset)
	return s.queryJobs(ctx, sql, args...)
}

// CountJobs returns the count of jobs matching filters (pkg/incident/
// store.go's CountFiltered).
func (s *Store) CountJobs(ctx context.Context, projectID uuid.UUID, f JobFilters) (int, error) {
	where, args := buildJobFilterClauses(projectID, f)
	sql := fmt.Sprintf(`SELECT count(*) FROM jobs WHERE %s`, strings.Join(where, " AND "))
	var count int
	if err := s.dbtx.QueryRow(ctx, sql, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting jobs: %w", err)
	}
	return count, nil
}

// RunFilters narrows ListRuns/CountRuns.
type RunFilters struct {
	Status RunStatus
	Kind   string
}

func buildRunFilterClauses(projectID uuid.UUID, f RunFilters) ([]string, []any) {
	where := []string{"project_id = $1"}
	args := []any{projectID}
	argN := 2

	if f.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", argN))
		args = append(args, f.Status)
		argN++
	}
	if f.Kind != "" {
		where = append(where, fmt.Sprintf("kind = $%d", argN))
		args = append(args, f.Kind)
	}
	return where, args
}

// ListRuns returns a project's runs matching filters, newest first, with
// offset pagination.
func (s *Store) ListRuns(ctx context.Context, projectID uuid.UUID, f RunFilters, limit, offset int) ([]Run, error) {
	where, args := buildRunFilterClauses(projectID, f)
	argN := len(args) + 1
	sql := fmt.Sprintf(
		`SELECT `+runColumns+` FROM runs WHERE %s ORDER BY started_at DESC LIMIT $%d OFFSET $%d`,
		strings.Join(where, " AND "), argN, argN+1,
	)
	args = append(args, limit, offset)

	rows, err := s.dbtx.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountRuns returns the count of runs matching filters.
func (s *Store) CountRuns(ctx context.Context, projectID uuid.UUID, f RunFilters) (int, error) {
	where, args := buildRunFilterClauses(projectID, f)
	sql := fmt.Sprintf(`SELECT count(*) FROM runs WHERE %s`, strings.Join(where, " AND "))
	var count int
	if err := s.dbtx.QueryRow(ctx, sql, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting runs: %w", err)
	}
	return count, nil
}

func (s *Store) queryJobs(ctx context.Context, sql string, args ...any) ([]Job, error) {
	rows, err := s.dbtx.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("querying jobs: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
