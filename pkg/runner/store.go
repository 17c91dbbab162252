package runner

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/clawlets/controlplane/internal/db"
)

const runnerColumns = `id, project_id, name, version, status, last_seen_at, capabilities, created_at`

// Store provides database operations for runners and runner tokens,
// grounded on pkg/apikey/store.go.
type Store struct {
	dbtx db.DBTX
}

func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

func scanRunner(row pgx.Row) (Runner, error) {
	var r Runner
	var capsJSON []byte
	err := row.Scan(&r.ID, &r.ProjectID, &r.Name, &r.Version, &r.Status, &r.LastSeenAt, &capsJSON, &r.CreatedAt)
	if err != nil {
		return Runner{}, err
	}
	if len(capsJSON) > 0 {
		if err := json.Unmarshal(capsJSON, &r.Capabilities); err != nil {
			return Runner{}, fmt.Errorf("decoding runner capabilities: %w", err)
		}
	}
	return r, nil
}

// Upsert inserts or updates a runner by (project_id, name) — a heartbeat is
// idempotent registration (spec.md §6 POST /runner/heartbeat).
func (s *Store) Upsert(ctx context.Context, projectID uuid.UUID, name string, version *string, caps *Capabilities) (Runner, error) {
	var capsJSON []byte
	if caps != nil {
		var err error
		capsJSON, err = json.Marshal(caps)
		if err != nil {
			return Runner{}, fmt.Errorf("encoding runner capabilities: %w", err)
		}
	} else {
		capsJSON = []byte(`{}`)
	}

	row := s.dbtx.QueryRow(ctx, `
		INSERT INTO runners (project_id, name, version, status, last_seen_at, capabilities)
		VALUES ($1, $2, $3, 'online', now(), $4)
		ON CONFLICT (project_id, name) DO UPDATE SET
			version = EXCLUDED.version,
			status = 'online',
			last_seen_at = now(),
			capabilities = COALESCE(NULLIF(EXCLUDED.capabilities, '{}'::jsonb), runners.capabilities)
		RETURNING `+runnerColumns,
		projectID, name, version, capsJSON,
	)
	return scanRunner(row)
}

// Get fetches a runner by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Runner, error) {
	row := s.dbtx.QueryRow(ctx, `SELECT `+runnerColumns+` FROM runners WHERE id = $1`, id)
	return scanRunner(row)
}

// ListByProject returns every runner registered to a project.
func (s *Store) ListByProject(ctx context.Context, projectID uuid.UUID) ([]Runner, error) {
	rows, err := s.dbtx.Query(ctx, `SELECT `+runnerColumns+` FROM runners WHERE project_id = $1 ORDER BY created_at`, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing runners: %w", err)
	}
	defer rows.Close()

	var out []Runner
	for rows.Next() {
		r, err := scanRunner(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning runner: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CreateTokenRow inserts a new runner token row and returns it.
func (s *Store) CreateTokenRow(ctx context.Context, projectID, runnerID uuid.UUID, hash, prefix string) (Token, error) {
	row := s.dbtx.QueryRow(ctx, `
		INSERT INTO runner_tokens (project_id, runner_id, token_hash, prefix)
		VALUES ($1, $2, $3, $4)
		RETURNING id, project_id, runner_id, prefix, expires_at, revoked_at, created_at`,
		projectID, runnerID, hash, prefix,
	)
	var t Token
	err := row.Scan(&t.ID, &t.ProjectID, &t.RunnerID, &t.Prefix, &t.ExpiresAt, &t.RevokedAt, &t.CreatedAt)
	if err != nil {
		return Token{}, fmt.Errorf("creating runner token: %w", err)
	}
	return t, nil
}

// FindUsableByHash looks up a runner token by hash and returns it together
// with its runner, or pgx.ErrNoRows. Usability (not revoked, not expired) is
// checked by the caller (Service.ValidateToken) so the SQL stays a simple
// lookup matching pkg/apikey's pattern.
func (s *Store) FindUsableByHash(ctx context.Context, hash string) (Token, Runner, error) {
	row := s.dbtx.QueryRow(ctx, `
		SELECT t.id, t.project_id, t.runner_id, t.prefix, t.expires_at, t.revoked_at, t.created_at,
		       r.id, r.project_id, r.name, r.version, r.status, r.last_seen_at, r.capabilities, r.created_at
		FROM runner_tokens t
		JOIN runners r ON r.id = t.runner_id
		WHERE t.token_hash = $1`,
		hash,
	)

	var t Token
	var r Runner
	var capsJSON []byte
	err := row.Scan(
		&t.ID, &t.ProjectID, &t.RunnerID, &t.Prefix, &t.ExpiresAt, &t.RevokedAt, &t.CreatedAt,
		&r.ID, &r.ProjectID, &r.Name, &r.Version, &r.Status, &r.LastSeenAt, &capsJSON, &r.CreatedAt,
	)
	if err != nil {
		return Token{}, Runner{}, err
	}
	if len(capsJSON) > 0 {
		if err := json.Unmarshal(capsJSON, &r.Capabilities); err != nil {
			return Token{}, Runner{}, fmt.Errorf("decoding runner capabilities: %w", err)
		}
	}
	return t, r, nil
}

// TouchLastUsed updates a token's last-used timestamp. Called only after a
// rate-limited check by the caller (spec.md §4.D "rate-limited last-used
// touch").
func (s *Store) TouchLastUsed(ctx context.Context, tokenID uuid.UUID) {
	_, _ = s.dbtx.Exec(ctx, `UPDATE runner_tokens SET last_used_at = now() WHERE id = $1`, tokenID)
}

// Revoke marks a token revoked.
func (s *Store) Revoke(ctx context.Context, tokenID uuid.UUID) error {
	_, err := s.dbtx.Exec(ctx, `UPDATE runner_tokens SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL`, tokenID)
	if err != nil {
		return fmt.Errorf("revoking runner token: %w", err)
	}
	return nil
}
