package erasure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clawlets/controlplane/internal/apierr"
	"github.com/clawlets/controlplane/internal/blobstore"
	"github.com/clawlets/controlplane/internal/clock"
	"github.com/clawlets/controlplane/internal/db"
	"github.com/clawlets/controlplane/internal/ratelimit"
	"github.com/clawlets/controlplane/internal/telemetry"
)

const (
	deleteStartRateLimitPer15Min   = 5
	deleteConfirmRateLimitPer15Min = 5
)

// AuditRecorder writes an audit row; satisfied by *audit.Recorder. Declared
// here as a narrow collaborator interface rather than importing
// internal/audit, like pkg/project/handler.go's AuditRecorder.
type AuditRecorder interface {
	Record(ctx context.Context, projectID uuid.UUID, actor, action string, detail map[string]any)
}

// Blobs deletes backing large objects best-effort; satisfied by
// *blobstore.PostgresStore.
type Blobs interface {
	Delete(ctx context.Context, storageID string) error
}

// Service implements spec.md §4.I's two-phase erasure protocol, grounded on
// the deleted teacher pkg/apikey.Service's mint/hash token shape and
// pkg/escalation/engine.go's lease-guarded step-worker.
type Service struct {
	pool    *pgxpool.Pool
	audit   AuditRecorder
	blobs   Blobs
	limiter *ratelimit.Limiter
	logger  *slog.Logger

	schedule func(delay time.Duration, jobID uuid.UUID)
}

func NewService(pool *pgxpool.Pool, audit AuditRecorder, blobs *blobstore.PostgresStore, limiter *ratelimit.Limiter, logger *slog.Logger) *Service {
	s := &Service{pool: pool, audit: audit, blobs: blobs, limiter: limiter, logger: logger}
	s.schedule = s.scheduleStep
	return s
}

// DeleteStart mints a one-shot deletion token for a project (spec.md §4.I
// "deleteStart"), after checking the actor's rate limit. Admin-gating is the
// caller's responsibility (handler.go).
func (s *Service) DeleteStart(ctx context.Context, projectID uuid.UUID, actor string) (token string, expiresAt time.Time, err error) {
	if err := s.limiter.Check(ctx, "erasure.delete_start:"+actor, deleteStartRateLimitPer15Min, 15*time.Minute); err != nil {
		return "", time.Time{}, err
	}

	now := time.Now().UTC()
	token = tokenPrefix + clock.RandomToken()
	hash := clock.SHA256Hex(token)
	expiresAt = now.Add(TokenTTL)

	err = db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		store := NewStore(tx)
		if err := store.DeleteTokensForProject(ctx, projectID); err != nil {
			return err
		}
		return store.InsertToken(ctx, projectID, hash, expiresAt)
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("starting project erasure: %w", err)
	}

	s.audit.Record(ctx, projectID, actor, "project.deleteStart", nil)
	return token, expiresAt, nil
}

// DeleteConfirm validates the confirmation string and token, refuses if an
// erasure job is already active, then creates the job and schedules its
// first step (spec.md §4.I "deleteConfirm").
func (s *Service) DeleteConfirm(ctx context.Context, projectID uuid.UUID, projectName, actor, token, confirmationString string) (Job, error) {
	if err := s.limiter.Check(ctx, "erasure.delete_confirm:"+actor, deleteConfirmRateLimitPer15Min, 15*time.Minute); err != nil {
		return Job{}, err
	}

	want := "delete " + projectName
	if strings.TrimSpace(confirmationString) != want {
		return Job{}, apierr.Conflict("confirmation string does not match")
	}

	now := time.Now().UTC()
	hash := clock.SHA256Hex(token)

	var job Job
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		store := NewStore(tx)

		hashes, err := store.ListUnexpiredTokenHashes(ctx, projectID, now)
		if err != nil {
			return err
		}

		matched := false
		for _, h := range hashes {
			if clock.ConstantTimeEqual(h, hash) {
				matched = true
			}
		}
		if !matched {
			return apierr.Unauthorized("deletion token invalid or expired")
		}

		active, err := store.HasActiveJob(ctx, projectID)
		if err != nil {
			return err
		}
		if active {
			return apierr.Conflict("an erasure job is already in progress for this project")
		}

		job, err = store.InsertJob(ctx, projectID, actor)
		if err != nil {
			return fmt.Errorf("creating erasure job: %w", err)
		}

		return store.DeleteTokensForProject(ctx, projectID)
	})
	if err != nil {
		return Job{}, err
	}

	s.audit.Record(ctx, projectID, actor, "project.deleteConfirm", map[string]any{"job_id": job.ID})
	s.schedule(StartContinuationDelay, job.ID)
	return job, nil
}

// RunRecoveryPass resumes every active erasure job that currently has no
// live lease, the case left behind when a process crashes between two
// scheduled steps (spec.md §4.I). Exposed both to RunRecoveryLoop's ticker
// and to the maintenance-gated manual trigger (spec.md §6).
func (s *Service) RunRecoveryPass(ctx context.Context) (resumed int, err error) {
	store := NewStore(s.pool)
	ids, err := store.ListActiveJobIDs(ctx, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("listing active erasure jobs: %w", err)
	}
	for _, id := range ids {
		if err := s.RunDeletionJobStep(ctx, id); err != nil {
			s.logger.Error("resumed erasure job step failed", "job_id", id, "error", err)
			continue
		}
		resumed++
	}
	return resumed, nil
}

// GetJob returns an erasure job's current state. Status remains readable
// even after the project row is gone (spec.md §4.I).
func (s *Service) GetJob(ctx context.Context, jobID uuid.UUID) (Job, error) {
	store := NewStore(s.pool)
	job, err := store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Job{}, apierr.NotFound("erasure job not found")
		}
		return Job{}, fmt.Errorf("fetching erasure job: %w", err)
	}
	return job, nil
}

// scheduleStep fires RunDeletionJobStep after delay in its own goroutine.
// It is a field (not a hardcoded call) so tests can replace it.
func (s *Service) scheduleStep(delay time.Duration, jobID uuid.UUID) {
	time.AfterFunc(delay, func() {
		ctx := context.Background()
		if err := s.RunDeletionJobStep(ctx, jobID); err != nil {
			s.logger.Error("erasure job step failed", "job_id", jobID, "error", err)
		}
	})
}

// RunDeletionJobStep runs a single stage-batch delete for a job, advances
// its stage when a batch drains the table, and reschedules itself until the
// job reaches StageDone (spec.md §4.I "runDeletionJobStep").
func (s *Service) RunDeletionJobStep(ctx context.Context, jobID uuid.UUID) error {
	leaseID := uuid.New()
	now := time.Now().UTC()

	var (
		job       Job
		done      bool
		nextDelay = StepContinuationDelay
		blobIDs   []string
	)

	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		store := NewStore(tx)

		current, err := store.GetJob(ctx, jobID)
		if err != nil {
			return fmt.Errorf("fetching erasure job: %w", err)
		}
		job = current

		if job.isTerminal() {
			done = true
			return nil
		}

		acquired, err := store.TryAcquireLease(ctx, jobID, leaseID, now, LeaseTTL)
		if err != nil {
			return err
		}
		if !acquired {
			// Another worker holds the lease; skip this tick.
			return nil
		}

		deleted := 0
		if job.Stage == StageRunnerCommandResultBlobs {
			ids, err := store.DeleteResultBlobsBatch(ctx, job.ProjectID, StageBatchSize)
			if err != nil {
				if failErr := store.FailJob(ctx, jobID, leaseID, err.Error()); failErr != nil {
					return failErr
				}
				job.Status = StatusFailed
				done = true
				return nil
			}
			blobIDs = ids
			deleted = len(ids)
		} else if job.Stage == StageProject {
			n, err := store.DeleteProjectRow(ctx, job.ProjectID)
			if err != nil {
				if failErr := store.FailJob(ctx, jobID, leaseID, err.Error()); failErr != nil {
					return failErr
				}
				job.Status = StatusFailed
				done = true
				return nil
			}
			deleted = n
		} else if job.Stage != StageDone {
			n, err := store.DeleteStageBatch(ctx, job.ProjectID, job.Stage, StageBatchSize)
			if err != nil {
				if failErr := store.FailJob(ctx, jobID, leaseID, err.Error()); failErr != nil {
					return failErr
				}
				job.Status = StatusFailed
				done = true
				return nil
			}
			deleted = n
		}

		nextStage := job.Stage
		nextStatus := StatusPending
		var completedAt *time.Time
		if deleted < StageBatchSize {
			nextStage = job.Stage.Next()
			if nextStage == StageDone {
				nextStatus = StatusCompleted
				t := time.Now().UTC()
				completedAt = &t
				done = true
			}
		}

		if err := store.AdvanceStep(ctx, jobID, leaseID, nextStage, nextStatus, int64(deleted), completedAt); err != nil {
			return err
		}
		telemetry.ErasureStepsTotal.WithLabelValues(string(job.Stage)).Inc()
		job.Stage = nextStage
		job.Status = nextStatus
		return nil
	})
	if err != nil {
		return err
	}

	for _, id := range blobIDs {
		if err := s.blobs.Delete(ctx, id); err != nil {
			s.logger.Warn("best-effort blob delete failed", "storage_id", id, "error", err)
		}
	}

	if done {
		telemetry.ErasureJobsCompletedTotal.WithLabelValues(string(job.Status)).Inc()
		if job.Status == StatusCompleted {
			s.logger.Info("erasure job completed", "job_id", jobID, "project_id", job.ProjectID)
		}
		return nil
	}

	s.schedule(nextDelay, jobID)
	return nil
}
