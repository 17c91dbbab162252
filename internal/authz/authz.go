// Package authz implements the Authz gate of spec.md §4.C: resolving a
// principal's access to a project and gating admin-only mutations.
// Grounded on internal/auth/rbac.go's RequireRole/RequireMinRole middleware,
// collapsed to the two roles spec.md names ({admin, viewer}).
package authz

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/clawlets/controlplane/internal/apierr"
	"github.com/clawlets/controlplane/internal/authn"
	"github.com/clawlets/controlplane/pkg/project"
)

// Access is the result of a successful requireProjectAccess call.
type Access struct {
	Principal string
	Project   project.Project
	Role      project.Role
}

// Gate resolves project access. When DevAuthDisabled is set (development
// only — CLAWLETS_AUTH_DISABLED), every call returns a synthetic admin
// principal instead of consulting authn, matching spec.md §4.C's documented
// development escape hatch.
type Gate struct {
	projects        *project.Service
	logger          *slog.Logger
	devAuthDisabled bool
}

func New(projects *project.Service, logger *slog.Logger, devAuthDisabled bool) *Gate {
	return &Gate{projects: projects, logger: logger, devAuthDisabled: devAuthDisabled}
}

const devPrincipal = "dev-admin"

// RequireProjectAccess returns {principal, project, role} for any
// per-project operation, or apierr.Unauthorized / apierr.NotFound /
// apierr.Forbidden (spec.md §4.C). Forbidden is reserved for callers using
// RequireAdmin below; plain read access only needs "is a member".
func (g *Gate) RequireProjectAccess(ctx context.Context, projectID uuid.UUID) (Access, error) {
	principal, err := g.principal(ctx)
	if err != nil {
		return Access{}, err
	}

	if g.devAuthDisabled {
		p, err := g.projects.Get(ctx, projectID)
		if err != nil {
			return Access{}, err
		}
		return Access{Principal: devPrincipal, Project: p, Role: project.RoleAdmin}, nil
	}

	p, err := g.projects.Get(ctx, projectID)
	if err != nil {
		return Access{}, err
	}

	role, err := g.projects.Role(ctx, p, principal)
	if err != nil {
		return Access{}, err
	}

	return Access{Principal: principal, Project: p, Role: role}, nil
}

// RequireAdmin is a separate check layered on top of RequireProjectAccess so
// viewers can read but never mutate (spec.md §4.C).
func (g *Gate) RequireAdmin(ctx context.Context, projectID uuid.UUID) (Access, error) {
	access, err := g.RequireProjectAccess(ctx, projectID)
	if err != nil {
		return Access{}, err
	}
	if access.Role != project.RoleAdmin {
		return Access{}, apierr.Forbidden("admin role required")
	}
	return access, nil
}

// Principal resolves the calling principal without requiring a project
// (project creation/listing have no project id to gate on yet).
func (g *Gate) Principal(ctx context.Context) (string, error) {
	return g.principal(ctx)
}

func (g *Gate) principal(ctx context.Context) (string, error) {
	if g.devAuthDisabled {
		return devPrincipal, nil
	}
	id := authn.FromContext(ctx)
	if id == nil || id.Principal == "" {
		return "", apierr.Unauthorized("authentication required")
	}
	return id.Principal, nil
}
