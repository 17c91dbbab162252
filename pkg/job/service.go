package job

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clawlets/controlplane/internal/apierr"
	"github.com/clawlets/controlplane/internal/blobstore"
	"github.com/clawlets/controlplane/internal/db"
	"github.com/clawlets/controlplane/internal/ratelimit"
	"github.com/clawlets/controlplane/internal/redact"
	"github.com/clawlets/controlplane/internal/telemetry"
	"github.com/clawlets/controlplane/internal/validate"
	"github.com/clawlets/controlplane/pkg/project"
	"github.com/clawlets/controlplane/pkg/resultstore"
	"github.com/clawlets/controlplane/pkg/runner"
)

const (
	enqueueRateLimitPerMinute = 60
	sweepBatchSize            = 50
	candidateWindowSize       = 100
)

// Service implements the lease engine of spec.md §4.F, grounded on
// pkg/incident/service.go's Service layering, generalized from single-row
// CRUD into the enqueue/reserve/lease/heartbeat/complete/cancel pipeline.
// Every mutating method runs its work inside a serializable transaction via
// db.WithTx (spec.md §5).
type Service struct {
	pool    *pgxpool.Pool
	limiter *ratelimit.Limiter
	blobs   blobstore.Store
	logger  *slog.Logger
}

func NewService(pool *pgxpool.Pool, limiter *ratelimit.Limiter, blobs blobstore.Store, logger *slog.Logger) *Service {
	return &Service{pool: pool, limiter: limiter, blobs: blobs, logger: logger}
}

// EnqueueRequest is the input to Enqueue (spec.md §4.F.1).
type EnqueueRequest struct {
	Kind         string
	PayloadMeta  json.RawMessage
	RunID        *uuid.UUID
	Title        *string
	Host         *string
	TargetRunner *uuid.UUID
}

// Enqueue implements spec.md §4.F.1: normalize kind, reject secret-like
// payload keys, resolve or reset the owning run, validate any target
// runner, and insert a queued job.
func (s *Service) Enqueue(ctx context.Context, principal string, projectID uuid.UUID, req EnqueueRequest) (Job, error) {
	if err := s.limiter.Check(ctx, "jobs.enqueue:"+principal, enqueueRateLimitPerMinute, time.Minute); err != nil {
		return Job{}, err
	}

	kind, err := validate.NormalizeKind(req.Kind)
	if err != nil {
		return Job{}, err
	}

	if req.PayloadMeta != nil {
		var v any
		if err := json.Unmarshal(req.PayloadMeta, &v); err != nil {
			return Job{}, apierr.Conflict("payload_meta is not valid JSON")
		}
		if err := validate.AssertNoSecretLikeKeys(v); err != nil {
			return Job{}, err
		}
	}
	if err := validatePayloadPolicy(kind, req.PayloadMeta); err != nil {
		return Job{}, err
	}

	var out Job
	err = db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		jobs := NewStore(tx)
		runners := runner.NewStore(tx)

		if req.TargetRunner != nil {
			r, err := runners.Get(ctx, *req.TargetRunner)
			if errors.Is(err, pgx.ErrNoRows) || r.ProjectID != projectID {
				return apierr.Conflict("target runner not found in this project")
			}
			if err != nil {
				return fmt.Errorf("checking target runner: %w", err)
			}
			if r.Status != runner.StatusOnline {
				return apierr.Conflict("target runner is not online")
			}
		}

		run, err := s.resolveRun(ctx, jobs, projectID, req.RunID, kind, principal, req.Host)
		if err != nil {
			return err
		}

		var payloadHash *string
		if req.PayloadMeta != nil {
			h := sha256.Sum256(req.PayloadMeta)
			hexHash := hex.EncodeToString(h[:])
			payloadHash = &hexHash
		}

		j, err := jobs.InsertJob(ctx, projectID, run.ID, kind, req.PayloadMeta, payloadHash, req.TargetRunner)
		if err != nil {
			return fmt.Errorf("inserting job: %w", err)
		}
		out = j
		return nil
	})
	if err != nil {
		return Job{}, err
	}

	s.logger.Info("job enqueued", "project_id", projectID, "job_id", out.ID, "run_id", out.RunID, "kind", kind)
	return out, nil
}

// resolveRun implements spec.md §4.F.1 step 5: reuse and reset an existing
// run if runID is given, else insert a fresh one.
func (s *Service) resolveRun(ctx context.Context, jobs *Store, projectID uuid.UUID, runID *uuid.UUID, kind, initiator string, host *string) (Run, error) {
	if runID != nil {
		run, err := jobs.GetRun(ctx, projectID, *runID)
		if errors.Is(err, pgx.ErrNoRows) {
			return Run{}, apierr.NotFound("run not found")
		}
		if err != nil {
			return Run{}, fmt.Errorf("fetching run: %w", err)
		}
		if err := jobs.ResetRunToQueued(ctx, run.ID); err != nil {
			return Run{}, fmt.Errorf("resetting run: %w", err)
		}
		run.Status, run.FinishedAt, run.ErrorMessage = RunQueued, nil, nil
		return run, nil
	}

	run, err := jobs.InsertRun(ctx, projectID, kind, initiator, host)
	if err != nil {
		return Run{}, fmt.Errorf("inserting run: %w", err)
	}
	return run, nil
}

// ReservationResponse is ReserveSealedInput's return value: the job plus the
// runner's capability triple, for the caller to seal payload client-side.
type ReservationResponse struct {
	Job              Job
	Alg              string
	KeyID            string
	SPKIPublicKeyB64 string
}

// ReserveSealedInput implements spec.md §4.F.2.
func (s *Service) ReserveSealedInput(ctx context.Context, principal string, projectID uuid.UUID, req EnqueueRequest) (ReservationResponse, error) {
	if req.TargetRunner == nil {
		return ReservationResponse{}, apierr.Conflict("target_runner is required to reserve sealed input")
	}
	if err := s.limiter.Check(ctx, "jobs.enqueue:"+principal, enqueueRateLimitPerMinute, time.Minute); err != nil {
		return ReservationResponse{}, err
	}

	kind, err := validate.NormalizeKind(req.Kind)
	if err != nil {
		return ReservationResponse{}, err
	}
	if req.PayloadMeta != nil {
		var v any
		if err := json.Unmarshal(req.PayloadMeta, &v); err != nil {
			return ReservationResponse{}, apierr.Conflict("payload_meta is not valid JSON")
		}
		if err := validate.AssertNoSecretLikeKeys(v); err != nil {
			return ReservationResponse{}, err
		}
	}
	if err := validatePayloadPolicy(kind, req.PayloadMeta); err != nil {
		return ReservationResponse{}, err
	}

	var out ReservationResponse
	err = db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		jobs := NewStore(tx)
		runners := runner.NewStore(tx)

		r, err := runners.Get(ctx, *req.TargetRunner)
		if errors.Is(err, pgx.ErrNoRows) || r.ProjectID != projectID {
			return apierr.Conflict("target runner not found in this project")
		}
		if err != nil {
			return fmt.Errorf("checking target runner: %w", err)
		}
		if !r.Capabilities.HasSealedInputCapability() {
			return apierr.Conflict("target runner does not support sealed input")
		}

		run, err := s.resolveRun(ctx, jobs, projectID, req.RunID, kind, principal, req.Host)
		if err != nil {
			return err
		}

		expiresAt := time.Now().UTC().Add(SealedPendingTTL)
		j, err := jobs.InsertSealedPendingJob(ctx, projectID, run.ID, kind, req.PayloadMeta, *req.TargetRunner, *r.Capabilities.SealedInputAlg, *r.Capabilities.SealedInputKeyID, expiresAt)
		if err != nil {
			return fmt.Errorf("inserting sealed-pending job: %w", err)
		}

		out = ReservationResponse{
			Job:              j,
			Alg:              *r.Capabilities.SealedInputAlg,
			KeyID:            *r.Capabilities.SealedInputKeyID,
			SPKIPublicKeyB64: *r.Capabilities.SPKIPublicKeyB64,
		}
		return nil
	})
	if err != nil {
		return ReservationResponse{}, err
	}

	s.logger.Info("sealed input reserved", "project_id", projectID, "job_id", out.Job.ID)
	return out, nil
}

// FinalizeSealedEnqueue implements spec.md §4.F.3.
func (s *Service) FinalizeSealedEnqueue(ctx context.Context, projectID, jobID uuid.UUID, kind, sealedInputB64, alg, keyID string) (Job, error) {
	if alg != runner.SealedInputAlg {
		return Job{}, apierr.Conflict("alg must be " + runner.SealedInputAlg)
	}
	if err := validate.ValidateSealedEnvelope(sealedInputB64); err != nil {
		return Job{}, err
	}

	var out Job
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		jobs := NewStore(tx)

		j, err := jobs.GetJob(ctx, projectID, jobID)
		if errors.Is(err, pgx.ErrNoRows) {
			return apierr.NotFound("job not found")
		}
		if err != nil {
			return fmt.Errorf("fetching job: %w", err)
		}

		if j.Status != JobSealedPending {
			return apierr.Conflict("job is not awaiting sealed input")
		}
		now := time.Now().UTC()
		if j.SealedPendingExpiresAt == nil || !j.SealedPendingExpiresAt.After(now) {
			return apierr.Conflict("reservation expired")
		}
		if j.Kind != kind {
			return apierr.Conflict("kind does not match the reservation")
		}
		if j.SealedInputAlg != nil && *j.SealedInputAlg != alg {
			return apierr.Conflict("alg does not match the reservation")
		}
		if j.SealedInputKeyID != nil && *j.SealedInputKeyID != keyID {
			return apierr.Conflict("sealed-input key changed, retry reserve/finalize")
		}

		if err := jobs.FinalizeSealed(ctx, jobID, sealedInputB64, alg, keyID); err != nil {
			return fmt.Errorf("finalizing sealed job: %w", err)
		}
		if err := jobs.MirrorRun(ctx, j.RunID, RunQueued, nil, nil); err != nil {
			return fmt.Errorf("mirroring run: %w", err)
		}

		out = j
		out.Status = JobQueued
		return nil
	})
	if err != nil {
		return Job{}, err
	}
	return out, nil
}

// LeaseNext implements spec.md §4.F.4's four-step sweep/select/merge/lease
// sequence, returning nil when the candidate windows are exhausted without
// a lease.
func (s *Service) LeaseNext(ctx context.Context, projectID, runnerID uuid.UUID, leaseTTL time.Duration) (*Job, error) {
	leaseTTL = clampLeaseTTL(leaseTTL)

	var leased *Job
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		jobs := NewStore(tx)
		now := time.Now().UTC()

		// Step 1 — sweep stale sealed pendings.
		stalePending, err := jobs.ListStaleSealedPending(ctx, projectID, now, sweepBatchSize)
		if err != nil {
			return fmt.Errorf("sweeping stale sealed pendings: %w", err)
		}
		for _, j := range stalePending {
			if err := s.failSealedExpiredAndMirror(ctx, jobs, j); err != nil {
				return err
			}
		}

		// Step 2 — sweep stale leases.
		for _, status := range []JobStatus{JobLeased, JobRunning} {
			stale, err := jobs.ListStaleLeases(ctx, projectID, status, now, sweepBatchSize)
			if err != nil {
				return fmt.Errorf("sweeping stale leases (%s): %w", status, err)
			}
			for _, j := range stale {
				if err := jobs.RequeueStale(ctx, j.ID); err != nil {
					return fmt.Errorf("requeuing stale lease: %w", err)
				}
				if err := jobs.MirrorRun(ctx, j.RunID, RunQueued, nil, nil); err != nil {
					return fmt.Errorf("mirroring requeued run: %w", err)
				}
				telemetry.JobsRequeuedTotal.Inc()
			}
		}

		// Step 3 — candidate selection.
		targeted, err := jobs.ListQueuedTargeted(ctx, projectID, runnerID, candidateWindowSize)
		if err != nil {
			return fmt.Errorf("listing targeted candidates: %w", err)
		}
		untargeted, err := jobs.ListQueuedUntargeted(ctx, projectID, candidateWindowSize)
		if err != nil {
			return fmt.Errorf("listing untargeted candidates: %w", err)
		}

		// Step 4 — merge oldest-first, ties toward the targeted side.
		for _, cand := range mergeByCreatedAt(targeted, untargeted) {
			if cand.TargetRunner != nil && *cand.TargetRunner != runnerID {
				continue
			}
			if cand.SealedInputRequired && cand.SealedInputB64 == nil {
				if err := s.failSealedExpiredAndMirror(ctx, jobs, cand); err != nil {
					return err
				}
				continue
			}
			if cand.Attempt >= MaxAttempts {
				msg := AttemptCapExceededMessage(cand.Attempt)
				if err := jobs.FailAttemptCapExceeded(ctx, cand.ID, msg); err != nil {
					return fmt.Errorf("failing attempt-capped job: %w", err)
				}
				if err := jobs.MirrorRun(ctx, cand.RunID, RunFailed, ptrTime(now), &msg); err != nil {
					return fmt.Errorf("mirroring attempt-capped run: %w", err)
				}
				telemetry.JobAttemptCapExceededTotal.Inc()
				continue
			}

			leaseID := uuid.New()
			leaseExpiresAt := now.Add(leaseTTL)
			attempt := cand.Attempt + 1
			startedAt := now
			if cand.StartedAt != nil {
				startedAt = *cand.StartedAt
			}
			if err := jobs.Lease(ctx, cand.ID, leaseID, runnerID, leaseExpiresAt, attempt, startedAt); err != nil {
				return fmt.Errorf("leasing job: %w", err)
			}
			if err := jobs.MirrorRunStarted(ctx, cand.RunID, now); err != nil {
				return fmt.Errorf("mirroring leased run: %w", err)
			}

			cand.Status = JobLeased
			cand.LeaseID = &leaseID
			cand.LeasedByRunnerID = &runnerID
			cand.LeaseExpiresAt = &leaseExpiresAt
			cand.Attempt = attempt
			cand.StartedAt = &startedAt
			leased = &cand
			telemetry.JobsLeasedTotal.WithLabelValues(cand.Kind).Inc()
			return nil
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	return leased, nil
}

func (s *Service) failSealedExpiredAndMirror(ctx context.Context, jobs *Store, j Job) error {
	const msg = "sealed-input reservation expired before finalize"
	if err := jobs.FailSealedExpired(ctx, j.ID, msg); err != nil {
		return fmt.Errorf("failing expired sealed reservation: %w", err)
	}
	now := time.Now().UTC()
	errMsg := msg
	if err := jobs.MirrorRun(ctx, j.RunID, RunFailed, &now, &errMsg); err != nil {
		return fmt.Errorf("mirroring expired-reservation run: %w", err)
	}
	return nil
}

// mergeByCreatedAt merges two createdAt-ascending slices into one ascending
// slice, breaking exact ties toward the targeted side (spec.md §4.F.4 Step
// 4's "ties broken toward the targeted side").
func mergeByCreatedAt(targeted, untargeted []Job) []Job {
	out := make([]Job, 0, len(targeted)+len(untargeted))
	i, j := 0, 0
	for i < len(targeted) && j < len(untargeted) {
		if !targeted[i].CreatedAt.After(untargeted[j].CreatedAt) {
			out = append(out, targeted[i])
			i++
		} else {
			out = append(out, untargeted[j])
			j++
		}
	}
	out = append(out, targeted[i:]...)
	out = append(out, untargeted[j:]...)
	return out
}

func ptrTime(t time.Time) *time.Time { return &t }

// HeartbeatResult is heartbeat's return value (spec.md §4.F.5).
type HeartbeatResult struct {
	OK     bool
	Status JobStatus
}

// Heartbeat implements spec.md §4.F.5.
func (s *Service) Heartbeat(ctx context.Context, jobID, leaseID uuid.UUID, leaseTTL time.Duration) (HeartbeatResult, error) {
	leaseTTL = clampLeaseTTL(leaseTTL)

	var result HeartbeatResult
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		jobs := NewStore(tx)
		j, err := jobs.GetJobByID(ctx, jobID)
		if errors.Is(err, pgx.ErrNoRows) {
			result = HeartbeatResult{OK: false, Status: JobFailed}
			return nil
		}
		if err != nil {
			return fmt.Errorf("fetching job: %w", err)
		}

		if !j.canComplete(leaseID) {
			result = HeartbeatResult{OK: false, Status: j.Status}
			return nil
		}

		leaseExpiresAt := time.Now().UTC().Add(leaseTTL)
		if err := jobs.Heartbeat(ctx, jobID, leaseExpiresAt); err != nil {
			return fmt.Errorf("heartbeating job: %w", err)
		}
		result = HeartbeatResult{OK: true, Status: JobRunning}
		return nil
	})
	if err != nil {
		return HeartbeatResult{}, err
	}
	return result, nil
}

// CompleteRequest is complete's input (spec.md §4.F.6).
type CompleteRequest struct {
	Status              JobStatus
	ErrorMessage        *string
	ResultJSON          json.RawMessage
	ResultBlobStorageID *string
	ResultBlobSize      *int64
}

// CompleteResult reports whether the terminal transition was applied and
// the status the caller should relay: the requested terminal status when
// applied, the job's observed status on a stale lease (spec.md §7), or
// failed when the job does not exist at all.
type CompleteResult struct {
	OK     bool
	Status JobStatus
}

// Complete implements spec.md §4.F.6: apply canComplete, reject conflicting
// result shapes, patch the job terminal, mirror the run, and invoke the
// project-status projector. It opens its own transaction-scoped job/result/
// project stores, so callers need not hold a Service for those packages.
func (s *Service) Complete(ctx context.Context, jobID, leaseID uuid.UUID, req CompleteRequest) (CompleteResult, error) {
	if req.Status != JobSucceeded && req.Status != JobFailed && req.Status != JobCanceled {
		return CompleteResult{}, apierr.Conflict("status must be one of succeeded, failed, canceled")
	}
	if req.ResultJSON != nil && req.ResultBlobStorageID != nil {
		return CompleteResult{}, apierr.Conflict("cannot provide both a small and a blob result")
	}
	if req.ResultBlobStorageID != nil && req.ResultBlobSize == nil {
		return CompleteResult{}, apierr.Conflict("size is required when a blob result id is given")
	}
	if req.ResultJSON != nil && len(req.ResultJSON) > resultstore.MaxSmallBytes {
		return CompleteResult{}, apierr.Conflict("result exceeds the small-result size cap")
	}
	if req.ResultBlobSize != nil && *req.ResultBlobSize > resultstore.MaxBlobBytes {
		return CompleteResult{}, apierr.Conflict("result exceeds the blob-result size cap")
	}

	result := CompleteResult{OK: false, Status: JobFailed}
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		jobs := NewStore(tx)
		j, err := jobs.GetJobByID(ctx, jobID)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("fetching job: %w", err)
		}
		if !j.canComplete(leaseID) {
			result.Status = j.Status
			return nil
		}

		var errMsg *string
		if req.Status == JobFailed && req.ErrorMessage != nil {
			sanitized := redact.Message(*req.ErrorMessage)
			errMsg = &sanitized
		}

		if err := jobs.Complete(ctx, jobID, req.Status, errMsg); err != nil {
			return fmt.Errorf("completing job: %w", err)
		}

		if req.Status == JobSucceeded && (req.ResultJSON != nil || req.ResultBlobStorageID != nil) {
			txResults := resultstore.NewStore(tx, s.blobs)
			if _, err := txResults.PurgeExpired(ctx, 200); err != nil {
				return fmt.Errorf("purging expired results: %w", err)
			}
			if req.ResultJSON != nil {
				if err := txResults.PutSmall(ctx, j.ProjectID, j.RunID, jobID, req.ResultJSON); err != nil {
					return err
				}
			} else {
				if err := txResults.PutBlob(ctx, j.ProjectID, j.RunID, jobID, *req.ResultBlobStorageID, *req.ResultBlobSize); err != nil {
					return err
				}
			}
		}

		finishedAt := time.Now().UTC()
		runStatus := mapRunStatus(req.Status)
		if err := jobs.MirrorRun(ctx, j.RunID, runStatus, &finishedAt, errMsg); err != nil {
			return fmt.Errorf("mirroring run: %w", err)
		}

		projectsTx := project.NewStore(tx)
		run, err := jobs.GetRun(ctx, j.ProjectID, j.RunID)
		if err != nil {
			return fmt.Errorf("refetching run for projector: %w", err)
		}
		if run.Kind == "project_init" || run.Kind == "project_import" {
			target := project.StatusReady
			if req.Status != JobSucceeded {
				target = project.StatusError
			}
			if err := projectsTx.UpdateStatusIfCreating(ctx, j.ProjectID, target); err != nil {
				return fmt.Errorf("running project projector: %w", err)
			}
		}

		result = CompleteResult{OK: true, Status: req.Status}
		telemetry.JobsCompletedTotal.WithLabelValues(j.Kind, string(req.Status)).Inc()
		return nil
	})
	if err != nil {
		return CompleteResult{}, err
	}
	if result.OK {
		s.logger.Info("job completed", "job_id", jobID, "status", req.Status)
	}
	return result, nil
}

func mapRunStatus(js JobStatus) RunStatus {
	switch js {
	case JobSucceeded:
		return RunSucceeded
	case JobCanceled:
		return RunCanceled
	default:
		return RunFailed
	}
}

// Cancel implements spec.md §4.F.7: admin-initiated cancel of a non-terminal
// job.
func (s *Service) Cancel(ctx context.Context, projectID, jobID uuid.UUID) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		jobs := NewStore(tx)
		j, err := jobs.GetJob(ctx, projectID, jobID)
		if errors.Is(err, pgx.ErrNoRows) {
			return apierr.NotFound("job not found")
		}
		if err != nil {
			return fmt.Errorf("fetching job: %w", err)
		}
		if j.Status.IsTerminal() {
			return apierr.Conflict("job is already terminal")
		}

		if err := jobs.Cancel(ctx, jobID); err != nil {
			return fmt.Errorf("canceling job: %w", err)
		}
		finishedAt := time.Now().UTC()
		return jobs.MirrorRun(ctx, j.RunID, RunCanceled, &finishedAt, nil)
	})
}

// GetResult implements the operator-facing side of spec.md §4.E's take
// operation: resolve the job to its run, then consume whichever result row
// (small or blob) is present. A nil Taken with a nil error means no result
// is currently available (not yet completed, already consumed, or expired).
func (s *Service) GetResult(ctx context.Context, projectID, jobID uuid.UUID) (*resultstore.Taken, error) {
	jobs := NewStore(s.pool)
	j, err := jobs.GetJob(ctx, projectID, jobID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apierr.NotFound("job not found")
	}
	if err != nil {
		return nil, fmt.Errorf("fetching job: %w", err)
	}

	results := resultstore.NewStore(s.pool, s.blobs)
	taken, err := results.Take(ctx, projectID, j.RunID, jobID)
	if err != nil {
		return nil, fmt.Errorf("taking result: %w", err)
	}
	return taken, nil
}

// FetchResultBlob reads back the bytes for a blob result's storage id, for
// handlers that already hold a Taken.Blob from GetResult.
func (s *Service) FetchResultBlob(ctx context.Context, storageID string) ([]byte, error) {
	return s.blobs.Get(ctx, storageID)
}

// ListJobs is the admin-facing read surface SPEC_FULL.md adds: list a
// project's jobs with offset pagination and optional run/status/kind
// filters, grounded on pkg/incident/service.go's List.
func (s *Service) ListJobs(ctx context.Context, projectID uuid.UUID, f JobFilters, limit, offset int) ([]Job, int, error) {
	jobs := NewStore(s.pool)
	items, err := jobs.ListJobs(ctx, projectID, f, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing jobs: %w", err)
	}
	total, err := jobs.CountJobs(ctx, projectID, f)
	if err != nil {
		return nil, 0, fmt.Errorf("counting jobs: %w", err)
	}
	return items, total, nil
}

// GetJobRead fetches a single job for read-only admin/viewer consumption
// (as opposed to the lease-engine's own GetJob/GetJobByID used internally
// under a transaction).
func (s *Service) GetJobRead(ctx context.Context, projectID, jobID uuid.UUID) (Job, error) {
	jobs := NewStore(s.pool)
	j, err := jobs.GetJob(ctx, projectID, jobID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Job{}, apierr.NotFound("job not found")
	}
	if err != nil {
		return Job{}, fmt.Errorf("fetching job: %w", err)
	}
	return j, nil
}

// ListRuns lists a project's runs with offset pagination and optional
// status/kind filters.
func (s *Service) ListRuns(ctx context.Context, projectID uuid.UUID, f RunFilters, limit, offset int) ([]Run, int, error) {
	jobs := NewStore(s.pool)
	items, err := jobs.ListRuns(ctx, projectID, f, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing runs: %w", err)
	}
	total, err := jobs.CountRuns(ctx, projectID, f)
	if err != nil {
		return nil, 0, fmt.Errorf("counting runs: %w", err)
	}
	return items, total, nil
}

// GetRunRead fetches a single run for read-only admin/viewer consumption.
func (s *Service) GetRunRead(ctx context.Context, projectID, runID uuid.UUID) (Run, error) {
	jobs := NewStore(s.pool)
	r, err := jobs.GetRun(ctx, projectID, runID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Run{}, apierr.NotFound("run not found")
	}
	if err != nil {
		return Run{}, fmt.Errorf("fetching run: %w", err)
	}
	return r, nil
}
