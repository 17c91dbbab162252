package setupdraft

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/clawlets/controlplane/internal/db"
)

const draftColumns = `project_id, host_name, status, version,
	deploy_creds_b64, deploy_creds_expires_at,
	bootstrap_secrets_b64, bootstrap_secrets_expires_at,
	expires_at, created_at, updated_at`

// Store provides database operations for setup drafts, grounded on
// pkg/job/store.go's raw-SQL-over-DBTX shape.
type Store struct {
	dbtx db.DBTX
}

func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

func scanDraft(row pgx.Row) (Draft, error) {
	var d Draft
	var deployB64, bootstrapB64 *string
	var deployExp, bootstrapExp *time.Time
	err := row.Scan(
		&d.ProjectID, &d.HostName, &d.Status, &d.Version,
		&deployB64, &deployExp,
		&bootstrapB64, &bootstrapExp,
		&d.ExpiresAt, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return Draft{}, err
	}
	if deployB64 != nil && deployExp != nil {
		d.DeployCreds = &SectionState{SealedInputB64: *deployB64, ExpiresAt: *deployExp}
	}
	if bootstrapB64 != nil && bootstrapExp != nil {
		d.BootstrapSecrets = &SectionState{SealedInputB64: *bootstrapB64, ExpiresAt: *bootstrapExp}
	}
	return d, nil
}

// Get fetches the draft for (project, host).
func (s *Store) Get(ctx context.Context, projectID uuid.UUID, hostName string) (Draft, error) {
	row := s.dbtx.QueryRow(ctx,
		`SELECT `+draftColumns+` FROM setup_drafts WHERE project_id = $1 AND host_name = $2`,
		projectID, hostName,
	)
	return scanDraft(row)
}

// Insert creates a fresh draft in status=draft, version=1, with the named
// section populated.
func (s *Store) Insert(ctx context.Context, projectID uuid.UUID, hostName string, section Section, sealedB64 string, sectionExpiresAt, draftExpiresAt time.Time) (Draft, error) {
	deployB64, deployExp, bootstrapB64, bootstrapExp := splitSection(section, sealedB64, sectionExpiresAt)
	row := s.dbtx.QueryRow(ctx, `
		INSERT INTO setup_drafts (project_id, host_name, status, version,
			deploy_creds_b64, deploy_creds_expires_at,
			bootstrap_secrets_b64, bootstrap_secrets_expires_at, expires_at)
		VALUES ($1, $2, 'draft', 1, $3, $4, $5, $6, $7)
		RETURNING `+draftColumns,
		projectID, hostName, deployB64, deployExp, bootstrapB64, bootstrapExp, draftExpiresAt,
	)
	return scanDraft(row)
}

// UpdateSection overwrites one section and bumps the version, guarded by
// the caller's expected version (optimistic concurrency, spec.md §3).
// Returns false without mutation when the version no longer matches.
func (s *Store) UpdateSection(ctx context.Context, projectID uuid.UUID, hostName string, section Section, sealedB64 string, sectionExpiresAt time.Time, expectedVersion int64) (bool, error) {
	var col, expCol string
	switch section {
	case SectionDeployCreds:
		col, expCol = "deploy_creds_b64", "deploy_creds_expires_at"
	case SectionBootstrapSecrets:
		col, expCol = "bootstrap_secrets_b64", "bootstrap_secrets_expires_at"
	default:
		return false, fmt.Errorf("setupdraft: unknown section %q", section)
	}

	tag, err := s.dbtx.Exec(ctx, fmt.Sprintf(`
		UPDATE setup_drafts SET %s = $3, %s = $4, version = version + 1, status = 'draft', updated_at = now()
		WHERE project_id = $1 AND host_name = $2 AND version = $5 AND status IN ('draft', 'failed')`,
		col, expCol),
		projectID, hostName, sealedB64, sectionExpiresAt, expectedVersion,
	)
	if err != nil {
		return false, fmt.Errorf("updating setup draft section: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Transition moves a draft from one status to another, version-guarded.
func (s *Store) Transition(ctx context.Context, projectID uuid.UUID, hostName string, from, to Status, expectedVersion int64) (bool, error) {
	tag, err := s.dbtx.Exec(ctx, `
		UPDATE setup_drafts SET status = $5, version = version + 1, updated_at = now()
		WHERE project_id = $1 AND host_name = $2 AND status = $3 AND version = $4`,
		projectID, hostName, from, expectedVersion, to,
	)
	if err != nil {
		return false, fmt.Errorf("transitioning setup draft: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ClearExpiredSections nulls out lapsed section ciphertexts for one draft.
// Called lazily from reads; rows whose shell expiry has passed are deleted
// outright.
func (s *Store) ClearExpiredSections(ctx context.Context, projectID uuid.UUID, hostName string, now time.Time) error {
	_, err := s.dbtx.Exec(ctx, `
		UPDATE setup_drafts SET
			deploy_creds_b64 = CASE WHEN deploy_creds_expires_at <= $3 THEN NULL ELSE deploy_creds_b64 END,
			deploy_creds_expires_at = CASE WHEN deploy_creds_expires_at <= $3 THEN NULL ELSE deploy_creds_expires_at END,
			bootstrap_secrets_b64 = CASE WHEN bootstrap_secrets_expires_at <= $3 THEN NULL ELSE bootstrap_secrets_b64 END,
			bootstrap_secrets_expires_at = CASE WHEN bootstrap_secrets_expires_at <= $3 THEN NULL ELSE bootstrap_secrets_expires_at END
		WHERE project_id = $1 AND host_name = $2`,
		projectID, hostName, now,
	)
	if err != nil {
		return fmt.Errorf("clearing expired setup draft sections: %w", err)
	}
	return nil
}

// Delete removes the draft row (used when the shell TTL lapses).
func (s *Store) Delete(ctx context.Context, projectID uuid.UUID, hostName string) error {
	_, err := s.dbtx.Exec(ctx,
		`DELETE FROM setup_drafts WHERE project_id = $1 AND host_name = $2`,
		projectID, hostName,
	)
	if err != nil {
		return fmt.Errorf("deleting setup draft: %w", err)
	}
	return nil
}

func splitSection(section Section, sealedB64 string, expiresAt time.Time) (deployB64 *string, deployExp *time.Time, bootstrapB64 *string, bootstrapExp *time.Time) {
	if section == SectionDeployCreds {
		return &sealedB64, &expiresAt, nil, nil
	}
	return nil, nil, &sealedB64, &expiresAt
}
