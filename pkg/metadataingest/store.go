package metadataingest

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/clawlets/controlplane/internal/db"
)

// Store performs the natural-key upserts of spec.md §4.J.
type Store struct {
	dbtx db.DBTX
}

func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

// UpsertProjectConfig upserts one (project, configKey) row, last-writer-wins.
func (s *Store) UpsertProjectConfig(ctx context.Context, projectID uuid.UUID, row ConfigRow) error {
	_, err := s.dbtx.Exec(ctx, `
		INSERT INTO project_configs (project_id, config_key, value, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (project_id, config_key) DO UPDATE SET value = $3, updated_at = now()`,
		projectID, row.Key, row.Value,
	)
	if err != nil {
		return fmt.Errorf("upserting project config %q: %w", row.Key, err)
	}
	return nil
}

// UpsertHost upserts one (project, hostName) row.
func (s *Store) UpsertHost(ctx context.Context, projectID uuid.UUID, row HostRow) error {
	_, err := s.dbtx.Exec(ctx, `
		INSERT INTO hosts (project_id, host_name, desired_summary, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (project_id, host_name) DO UPDATE SET desired_summary = $3, updated_at = now()`,
		projectID, row.HostName, row.DesiredSummary,
	)
	if err != nil {
		return fmt.Errorf("upserting host %q: %w", row.HostName, err)
	}
	return nil
}

// UpsertGateway upserts one (project, hostName, gatewayId) row.
func (s *Store) UpsertGateway(ctx context.Context, projectID uuid.UUID, row GatewayRow) error {
	_, err := s.dbtx.Exec(ctx, `
		INSERT INTO gateways (project_id, host_name, gateway_id, desired_summary, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (project_id, host_name, gateway_id) DO UPDATE SET desired_summary = $4, updated_at = now()`,
		projectID, row.HostName, row.GatewayID, row.DesiredSummary,
	)
	if err != nil {
		return fmt.Errorf("upserting gateway %q/%q: %w", row.HostName, row.GatewayID, err)
	}
	return nil
}

// UpsertSecretWiring upserts one (project, hostName, wiringKey) row.
func (s *Store) UpsertSecretWiring(ctx context.Context, projectID uuid.UUID, row SecretWiringRow) error {
	_, err := s.dbtx.Exec(ctx, `
		INSERT INTO secret_wiring (project_id, host_name, wiring_key, value, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (project_id, host_name, wiring_key) DO UPDATE SET value = $4, updated_at = now()`,
		projectID, row.HostName, row.WiringKey, row.Value,
	)
	if err != nil {
		return fmt.Errorf("upserting secret wiring %q/%q: %w", row.HostName, row.WiringKey, err)
	}
	return nil
}

// HasActiveErasureJob reports whether projectID currently has an erasure
// job in progress (spec.md §4.J "Reject the operation with conflict when
// an erasure job for the project is active").
func (s *Store) HasActiveErasureJob(ctx context.Context, projectID uuid.UUID) (bool, error) {
	var exists bool
	err := s.dbtx.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM project_deletion_jobs WHERE project_id = $1 AND status IN ('pending', 'running'))`,
		projectID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking active erasure job: %w", err)
	}
	return exists, nil
}
