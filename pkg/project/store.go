package project

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/clawlets/controlplane/internal/db"
)

const projectColumns = `id, owner_principal, name, execution_mode, workspace, status, created_at, updated_at`

// Store provides database operations for projects and project members,
// grounded on pkg/apikey/store.go's raw-SQL-over-DBTX shape.
type Store struct {
	dbtx db.DBTX
}

func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

func scanProject(row pgx.Row) (Project, error) {
	var p Project
	var workspaceJSON []byte
	err := row.Scan(&p.ID, &p.OwnerPrincipal, &p.Name, &p.ExecutionMode, &workspaceJSON, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Project{}, err
	}
	if err := json.Unmarshal(workspaceJSON, &p.Workspace); err != nil {
		return Project{}, fmt.Errorf("decoding workspace ref: %w", err)
	}
	return p, nil
}

// Create inserts a new project row in status=creating.
func (s *Store) Create(ctx context.Context, ownerPrincipal, name string, mode ExecutionMode, ws WorkspaceRef) (Project, error) {
	workspaceJSON, err := json.Marshal(ws)
	if err != nil {
		return Project{}, fmt.Errorf("encoding workspace ref: %w", err)
	}

	row := s.dbtx.QueryRow(ctx, `
		INSERT INTO projects (owner_principal, name, execution_mode, workspace, status)
		VALUES ($1, $2, $3, $4, 'creating')
		RETURNING `+projectColumns,
		ownerPrincipal, name, mode, workspaceJSON,
	)
	return scanProject(row)
}

// Get fetches a project by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Project, error) {
	row := s.dbtx.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id)
	return scanProject(row)
}

// UpdateStatus sets status, never downgrading out of a terminal-ish state
// is the caller's responsibility (pkg/job's projector enforces the
// creating->{ready,error} rule, spec.md §4.G).
func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	tag, err := s.dbtx.Exec(ctx,
		`UPDATE projects SET status = $2, updated_at = now() WHERE id = $1`,
		id, status,
	)
	if err != nil {
		return fmt.Errorf("updating project status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// UpdateStatusIfCreating atomically applies the creating->{ready,error}
// projector rule (spec.md §4.G): it only updates rows currently in
// status='creating', so a late arrival can never regress a project that
// has already left that state (testable property §8.7).
func (s *Store) UpdateStatusIfCreating(ctx context.Context, id uuid.UUID, status Status) error {
	_, err := s.dbtx.Exec(ctx,
		`UPDATE projects SET status = $2, updated_at = now() WHERE id = $1 AND status = 'creating'`,
		id, status,
	)
	if err != nil {
		return fmt.Errorf("updating project status (creating-gated): %w", err)
	}
	return nil
}

// ListByPrincipal returns every project a principal owns or is a member of.
func (s *Store) ListByPrincipal(ctx context.Context, principal string) ([]Project, error) {
	rows, err := s.dbtx.Query(ctx, `
		SELECT DISTINCT p.id, p.owner_principal, p.name, p.execution_mode, p.workspace, p.status, p.created_at, p.updated_at
		FROM projects p
		LEFT JOIN project_members m ON m.project_id = p.id
		WHERE p.owner_principal = $1 OR m.user_id = $1
		ORDER BY p.created_at DESC`,
		principal,
	)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning project row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetMemberRole returns the caller's role on project, or pgx.ErrNoRows if
// they are not a member and not the owner (ownership is checked by the
// caller via Get().OwnerPrincipal; this only covers the members table).
func (s *Store) GetMemberRole(ctx context.Context, projectID uuid.UUID, userID string) (Role, error) {
	var role Role
	err := s.dbtx.QueryRow(ctx,
		`SELECT role FROM project_members WHERE project_id = $1 AND user_id = $2`,
		projectID, userID,
	).Scan(&role)
	return role, err
}

// AddMember upserts a (project, user, role) row.
func (s *Store) AddMember(ctx context.Context, projectID uuid.UUID, userID string, role Role) (Member, error) {
	row := s.dbtx.QueryRow(ctx, `
		INSERT INTO project_members (project_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (project_id, user_id) DO UPDATE SET role = EXCLUDED.role
		RETURNING project_id, user_id, role, created_at`,
		projectID, userID, role,
	)
	var m Member
	err := row.Scan(&m.ProjectID, &m.UserID, &m.Role, &m.CreatedAt)
	if err != nil {
		return Member{}, fmt.Errorf("adding project member: %w", err)
	}
	return m, nil
}

// ListMembers returns every member of a project.
func (s *Store) ListMembers(ctx context.Context, projectID uuid.UUID) ([]Member, error) {
	rows, err := s.dbtx.Query(ctx,
		`SELECT project_id, user_id, role, created_at FROM project_members WHERE project_id = $1 ORDER BY created_at`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing project members: %w", err)
	}
	defer rows.Close()

	var out []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ProjectID, &m.UserID, &m.Role, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning project member: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// RemoveMember deletes a (project, user) row.
func (s *Store) RemoveMember(ctx context.Context, projectID uuid.UUID, userID string) error {
	tag, err := s.dbtx.Exec(ctx,
		`DELETE FROM project_members WHERE project_id = $1 AND user_id = $2`,
		projectID, userID,
	)
	if err != nil {
		return fmt.Errorf("removing project member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
