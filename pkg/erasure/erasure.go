// Package erasure implements the erasure engine of spec.md §4.I:
// tenant-scoped staged deletion driven by a two-phase start+confirm token.
// Grounded on the deleted teacher pkg/apikey's mint/hash token pattern and
// pkg/escalation/engine.go's lease-guarded step-worker shape.
package erasure

import (
	"time"

	"github.com/google/uuid"
)

// Status is a deletion job's lifecycle state (spec.md §3).
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Stage walks the fixed, documented ordered list of tables spec.md §4.I
// names, ending at "project" then "done".
type Stage string

const (
	StageRunEvents                Stage = "runEvents"
	StageRuns                     Stage = "runs"
	StageProviders                Stage = "providers"
	StageProjectConfigs           Stage = "projectConfigs"
	StageHosts                    Stage = "hosts"
	StageGateways                 Stage = "gateways"
	StageSecretWiring             Stage = "secretWiring"
	StageJobs                     Stage = "jobs"
	StageRunnerCommandResultBlobs Stage = "runnerCommandResultBlobs"
	StageRunnerCommandResults     Stage = "runnerCommandResults"
	StageRunnerTokens             Stage = "runnerTokens"
	StageRunners                  Stage = "runners"
	StageProjectCredentials       Stage = "projectCredentials"
	StageProjectMembers           Stage = "projectMembers"
	StageAuditLogs                Stage = "auditLogs"
	StageProjectPolicies          Stage = "projectPolicies"
	StageProjectDeletionTokens    Stage = "projectDeletionTokens"
	StageProject                  Stage = "project"
	StageDone                     Stage = "done"
)

// stageOrder is the fixed ordered list spec.md §4.I names verbatim.
var stageOrder = []Stage{
	StageRunEvents, StageRuns, StageProviders, StageProjectConfigs, StageHosts,
	StageGateways, StageSecretWiring, StageJobs, StageRunnerCommandResultBlobs,
	StageRunnerCommandResults, StageRunnerTokens, StageRunners, StageProjectCredentials,
	StageProjectMembers, StageAuditLogs, StageProjectPolicies, StageProjectDeletionTokens,
	StageProject, StageDone,
}

// Next returns the stage after s in the fixed order, or StageDone if s is
// the last real stage or already done.
func (s Stage) Next() Stage {
	for i, st := range stageOrder {
		if st == s && i+1 < len(stageOrder) {
			return stageOrder[i+1]
		}
	}
	return StageDone
}

// Job is a project's erasure job (spec.md §3 "Erasure job").
type Job struct {
	ID             uuid.UUID  `json:"id"`
	ProjectID      uuid.UUID  `json:"project_id"`
	Requester      string     `json:"requester"`
	Status         Status     `json:"status"`
	Stage          Stage      `json:"stage"`
	Processed      int64      `json:"processed"`
	LeaseID        *uuid.UUID `json:"-"`
	LeaseExpiresAt *time.Time `json:"-"`
	LastError      *string    `json:"last_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

func (j Job) isTerminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

func (j Job) isActive() bool {
	return j.Status == StatusPending || j.Status == StatusRunning
}

const (
	// TokenTTL is the erasure deletion token's lifetime (spec.md §3, §5).
	TokenTTL = 15 * time.Minute
	// LeaseTTL is the erasure job step-worker's lease duration (spec.md §5).
	LeaseTTL = 60 * time.Second
	// StepContinuationDelay is how long after a non-final step the worker
	// reschedules itself (spec.md §4.I "schedule the next step after ~500ms").
	StepContinuationDelay = 500 * time.Millisecond
	// StartContinuationDelay is the delay deleteConfirm schedules for the
	// first step invocation (spec.md §4.I).
	StartContinuationDelay = 500 * time.Millisecond
	// StageBatchSize bounds a single stage's delete batch (spec.md §4.I).
	StageBatchSize = 200

	tokenPrefix = "del_"
)
