package metadataingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clawlets/controlplane/internal/apierr"
	"github.com/clawlets/controlplane/internal/db"
)

// Service implements spec.md §4.J: shape-cap validation plus the natural-
// key upserts, all inside one serializable transaction per sync call
// (spec.md §5).
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewService(pool *pgxpool.Pool, logger *slog.Logger) *Service {
	return &Service{pool: pool, logger: logger}
}

// Sync validates req's shape caps, refuses if an erasure job is active for
// the project, then upserts every row (spec.md §4.J, §6 "Metadata-sync
// shape caps").
func (s *Service) Sync(ctx context.Context, req SyncRequest) (SyncResult, error) {
	if err := validateShape(req); err != nil {
		return SyncResult{}, err
	}

	var result SyncResult
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		store := NewStore(tx)

		active, err := store.HasActiveErasureJob(ctx, req.ProjectID)
		if err != nil {
			return err
		}
		if active {
			return apierr.Conflict("project deletion is in progress")
		}

		for _, row := range req.ProjectConfigs {
			if err := store.UpsertProjectConfig(ctx, req.ProjectID, row); err != nil {
				return err
			}
			result.ProjectConfigs++
		}
		for _, row := range req.Hosts {
			if err := store.UpsertHost(ctx, req.ProjectID, row); err != nil {
				return err
			}
			result.Hosts++
		}
		for _, row := range req.Gateways {
			if err := store.UpsertGateway(ctx, req.ProjectID, row); err != nil {
				return err
			}
			result.Gateways++
		}
		for _, row := range req.SecretWiring {
			if err := store.UpsertSecretWiring(ctx, req.ProjectID, row); err != nil {
				return err
			}
			result.SecretWiring++
		}
		return nil
	})
	if err != nil {
		return SyncResult{}, err
	}

	s.logger.Info("metadata sync completed",
		"project_id", req.ProjectID,
		"project_configs", result.ProjectConfigs,
		"hosts", result.Hosts,
		"gateways", result.Gateways,
		"secret_wiring", result.SecretWiring,
	)
	return result, nil
}

// validateShape enforces spec.md §6's metadata-sync shape caps.
func validateShape(req SyncRequest) error {
	if len(req.ProjectConfigs) > MaxProjectConfigs {
		return apierr.Conflict(fmt.Sprintf("projectConfigs exceeds maximum of %d", MaxProjectConfigs))
	}
	if len(req.Hosts) > MaxHosts {
		return apierr.Conflict(fmt.Sprintf("hosts exceeds maximum of %d", MaxHosts))
	}
	if len(req.Gateways) > MaxGateways {
		return apierr.Conflict(fmt.Sprintf("gateways exceeds maximum of %d", MaxGateways))
	}
	if len(req.SecretWiring) > MaxSecretWiringTotal {
		return apierr.Conflict(fmt.Sprintf("secretWiring exceeds maximum of %d", MaxSecretWiringTotal))
	}

	perHost := make(map[string]int, len(req.SecretWiring))
	for _, row := range req.SecretWiring {
		perHost[row.HostName]++
		if perHost[row.HostName] > MaxSecretWiringPerHost {
			return apierr.Conflict(fmt.Sprintf("secretWiring for host %q exceeds maximum of %d", row.HostName, MaxSecretWiringPerHost))
		}
	}
	return nil
}
