package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/clawlets/controlplane/internal/apierr"
	"github.com/clawlets/controlplane/internal/db"
)

// Service encapsulates project business logic, grounded on
// pkg/incident/service.go's Service/Store layering.
type Service struct {
	store  *Store
	logger *slog.Logger
}

func NewService(dbtx db.DBTX, logger *slog.Logger) *Service {
	return &Service{store: NewStore(dbtx), logger: logger}
}

// Create validates the workspace-ref/execution-mode invariant and inserts
// a new project in status=creating (spec.md §3).
func (s *Service) Create(ctx context.Context, ownerPrincipal string, req CreateRequest) (Project, error) {
	if err := req.Workspace.Validate(req.ExecutionMode); err != nil {
		return Project{}, apierr.Conflict(err.Error())
	}

	p, err := s.store.Create(ctx, ownerPrincipal, req.Name, req.ExecutionMode, req.Workspace)
	if err != nil {
		return Project{}, fmt.Errorf("creating project: %w", err)
	}

	s.logger.Info("project created", "project_id", p.ID, "owner", ownerPrincipal, "execution_mode", p.ExecutionMode)
	return p, nil
}

// Get fetches a project, translating a missing row to apierr.NotFound.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Project, error) {
	p, err := s.store.Get(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return Project{}, apierr.NotFound("project not found")
	}
	if err != nil {
		return Project{}, fmt.Errorf("getting project: %w", err)
	}
	return p, nil
}

// List returns every project the principal can see.
func (s *Service) List(ctx context.Context, principal string) ([]Project, error) {
	items, err := s.store.ListByPrincipal(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	return items, nil
}

// AddMember upserts a project member. Callers must have already passed the
// admin gate (internal/authz.RequireAdmin).
func (s *Service) AddMember(ctx context.Context, projectID uuid.UUID, req AddMemberRequest) (Member, error) {
	m, err := s.store.AddMember(ctx, projectID, req.UserID, req.Role)
	if err != nil {
		return Member{}, fmt.Errorf("adding project member: %w", err)
	}
	s.logger.Info("project member added", "project_id", projectID, "user_id", req.UserID, "role", req.Role)
	return m, nil
}

// ListMembers returns every member of a project.
func (s *Service) ListMembers(ctx context.Context, projectID uuid.UUID) ([]Member, error) {
	items, err := s.store.ListMembers(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing project members: %w", err)
	}
	return items, nil
}

// RemoveMember removes a project member.
func (s *Service) RemoveMember(ctx context.Context, projectID uuid.UUID, userID string) error {
	if err := s.store.RemoveMember(ctx, projectID, userID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apierr.NotFound("project member not found")
		}
		return fmt.Errorf("removing project member: %w", err)
	}
	s.logger.Info("project member removed", "project_id", projectID, "user_id", userID)
	return nil
}

// Role resolves a principal's effective role on a project: owner is always
// admin; otherwise the explicit membership role; apierr.NotFound if
// neither applies (spec.md §4.C "Access = owner ∨ member").
func (s *Service) Role(ctx context.Context, p Project, principal string) (Role, error) {
	if p.OwnerPrincipal == principal {
		return RoleAdmin, nil
	}
	role, err := s.store.GetMemberRole(ctx, p.ID, principal)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", apierr.NotFound("not a member of this project")
	}
	if err != nil {
		return "", fmt.Errorf("resolving project role: %w", err)
	}
	return role, nil
}
