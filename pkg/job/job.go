// Package job implements the lease engine of spec.md §4.F — the spine of
// the control plane (≈32% of the source). It owns the Job and Run entities,
// their state machine, sealed-input reservation, lease-based leasing and
// heartbeating, and the run/project projector of §4.G. Grounded on
// pkg/incident/service.go + store.go + handler.go's Service/Store/Handler
// layering from the teacher repo, generalized from a single CRUD entity
// into the job/run pair's richer state machine.
package job

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobStatus is a job's lifecycle state (spec.md §3).
type JobStatus string

const (
	JobQueued        JobStatus = "queued"
	JobSealedPending JobStatus = "sealed_pending"
	JobLeased        JobStatus = "leased"
	JobRunning       JobStatus = "running"
	JobSucceeded     JobStatus = "succeeded"
	JobFailed        JobStatus = "failed"
	JobCanceled      JobStatus = "canceled"
)

// IsTerminal reports whether status is one of {succeeded, failed,
// canceled} — absorbing per spec.md §3/§8.2.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobCanceled:
		return true
	}
	return false
}

// RunStatus mirrors JobStatus's terminal set onto the owning run.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCanceled  RunStatus = "canceled"
)

func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunSucceeded, RunFailed, RunCanceled:
		return true
	}
	return false
}

// MaxAttempts is the attempt ceiling of spec.md §3/§8.3.
const MaxAttempts = 25

// AttemptCapExceededMessage matches spec.md §4.F.4's exact wording.
func AttemptCapExceededMessage(attempt int) string {
	return errorfAttemptCap(attempt)
}

func errorfAttemptCap(attempt int) string {
	return "attempt cap exceeded (" + itoa(attempt) + "/25)"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Run is the user-facing unit of work a job belongs to (spec.md §3).
type Run struct {
	ID           uuid.UUID  `json:"id"`
	ProjectID    uuid.UUID  `json:"project_id"`
	Kind         string     `json:"kind"`
	Status       RunStatus  `json:"status"`
	Host         *string    `json:"host,omitempty"`
	Initiator    string     `json:"initiator"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
}

// Job is a single executable step belonging to a run (spec.md §3).
type Job struct {
	ID        uuid.UUID `json:"id"`
	ProjectID uuid.UUID `json:"project_id"`
	RunID     uuid.UUID `json:"run_id"`
	Kind      string    `json:"kind"`
	Status    JobStatus `json:"status"`

	PayloadMeta  json.RawMessage `json:"payload_meta,omitempty"`
	PayloadHash  *string         `json:"payload_hash,omitempty"`
	TargetRunner *uuid.UUID      `json:"target_runner_id,omitempty"`

	SealedInputRequired    bool       `json:"sealed_input_required"`
	SealedInputB64         *string    `json:"sealed_input_b64,omitempty"`
	SealedInputAlg         *string    `json:"sealed_input_alg,omitempty"`
	SealedInputKeyID       *string    `json:"sealed_input_key_id,omitempty"`
	SealedPendingExpiresAt *time.Time `json:"sealed_pending_expires_at,omitempty"`

	LeaseID          *uuid.UUID `json:"lease_id,omitempty"`
	LeasedByRunnerID *uuid.UUID `json:"leased_by_runner_id,omitempty"`
	LeaseExpiresAt   *time.Time `json:"lease_expires_at,omitempty"`

	Attempt      int        `json:"attempt"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
}

// canComplete implements the shared predicate behind heartbeat and complete
// (spec.md §4.F.5/§4.F.6): the job exists, is leased/running, the leaseId
// matches, and a lease expiry is recorded (it may be in the past — see
// spec.md §9 Open Question 2, resolved strictly per DESIGN.md OQ-2).
func (j Job) canComplete(leaseID uuid.UUID) bool {
	if j.Status != JobLeased && j.Status != JobRunning {
		return false
	}
	if j.LeaseID == nil || *j.LeaseID != leaseID {
		return false
	}
	return j.LeaseExpiresAt != nil
}

const (
	// LeaseTTLMin and LeaseTTLMax clamp leaseTtlMs (spec.md §4.F.4).
	LeaseTTLMin     = 5 * time.Second
	LeaseTTLMax     = 120 * time.Second
	LeaseTTLDefault = 30 * time.Second

	// SealedPendingTTL is the reservation window (spec.md §4.F.2).
	SealedPendingTTL = 5 * time.Minute
)

func clampLeaseTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return LeaseTTLDefault
	}
	if d < LeaseTTLMin {
		return LeaseTTLMin
	}
	if d > LeaseTTLMax {
		return LeaseTTLMax
	}
	return d
}

// RunEvent is a runner-reported log line appended via
// POST /runner/run-events/append-batch (spec.md §6), sanitized per
// sanitizeRunnerRunEventsForStorage (§4.L).
type RunEvent struct {
	ID        uuid.UUID       `json:"id"`
	ProjectID uuid.UUID       `json:"project_id"`
	RunID     uuid.UUID       `json:"run_id"`
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	Meta      json.RawMessage `json:"meta,omitempty"`
	Timestamp time.Time       `json:"ts"`
}

var validEventLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

const (
	maxRunEventsPerBatch = 200
	maxRunEventMessage   = 4096
)
