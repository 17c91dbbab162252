// Package project implements the Project and Project member entities of
// spec.md §3: the tenant root every other row hangs off of. Unlike the
// teacher's pkg/tenant (schema-per-tenant, SET search_path), projects here
// are rows in global tables scoped by a project_id column — see
// DESIGN.md Open Question OQ-1.
package project

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionMode selects how a project's runs are carried out.
type ExecutionMode string

const (
	ExecutionModeLocal        ExecutionMode = "local"
	ExecutionModeRemoteRunner ExecutionMode = "remote_runner"
)

// Status is a project's lifecycle state (spec.md §3).
type Status string

const (
	StatusCreating Status = "creating"
	StatusReady    Status = "ready"
	StatusError    Status = "error"
)

// WorkspaceRefKind tags which variant of WorkspaceRef is populated.
type WorkspaceRefKind string

const (
	WorkspaceRefLocal WorkspaceRefKind = "local"
	WorkspaceRefGit   WorkspaceRefKind = "git"
)

// WorkspaceRef is a tagged union: Kind=local uses LocalPathHash, Kind=git
// uses GitRemote+GitSubpath. Invariant (spec.md §3): Kind must match the
// owning project's ExecutionMode (local <-> ExecutionModeLocal,
// git <-> ExecutionModeRemoteRunner).
type WorkspaceRef struct {
	Kind          WorkspaceRefKind `json:"kind"`
	LocalPathHash *string          `json:"local_path_hash,omitempty"`
	GitRemote     *string          `json:"git_remote,omitempty"`
	GitSubpath    *string          `json:"git_subpath,omitempty"`
}

// Validate enforces the workspaceRef.kind / execution-mode invariant.
func (w WorkspaceRef) Validate(mode ExecutionMode) error {
	switch w.Kind {
	case WorkspaceRefLocal:
		if mode != ExecutionModeLocal {
			return errKindModeMismatch
		}
		if w.LocalPathHash == nil || *w.LocalPathHash == "" {
			return errLocalPathRequired
		}
	case WorkspaceRefGit:
		if mode != ExecutionModeRemoteRunner {
			return errKindModeMismatch
		}
		if w.GitRemote == nil || *w.GitRemote == "" {
			return errRunnerRepoRequired
		}
	default:
		return errUnknownWorkspaceKind
	}
	return nil
}

// Project is the tenant root record.
type Project struct {
	ID             uuid.UUID     `json:"id"`
	OwnerPrincipal string        `json:"owner_principal"`
	Name           string        `json:"name"`
	ExecutionMode  ExecutionMode `json:"execution_mode"`
	Workspace      WorkspaceRef  `json:"workspace"`
	Status         Status        `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Role is a project member's access level.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleViewer Role = "viewer"
)

// Member is a (project, user, role) row.
type Member struct {
	ProjectID uuid.UUID `json:"project_id"`
	UserID    string    `json:"user_id"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateRequest is the JSON body for POST /api/v1/projects.
type CreateRequest struct {
	Name          string        `json:"name" validate:"required,min=1,max=200"`
	ExecutionMode ExecutionMode `json:"execution_mode" validate:"required,oneof=local remote_runner"`
	Workspace     WorkspaceRef  `json:"workspace" validate:"required"`
}

// AddMemberRequest is the JSON body for POST /api/v1/projects/{id}/members.
type AddMemberRequest struct {
	UserID string `json:"user_id" validate:"required"`
	Role   Role   `json:"role" validate:"required,oneof=admin viewer"`
}
