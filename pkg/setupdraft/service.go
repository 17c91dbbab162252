package setupdraft

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clawlets/controlplane/internal/apierr"
	"github.com/clawlets/controlplane/internal/db"
	"github.com/clawlets/controlplane/internal/validate"
)

// AuditRecorder writes an audit row; satisfied by *audit.Recorder. Declared
// here rather than imported, matching pkg/erasure/service.go.
type AuditRecorder interface {
	Record(ctx context.Context, projectID uuid.UUID, actor, action string, data map[string]any)
}

// Service implements the setup-draft scratchpad of spec.md §3. Every
// mutation runs version-guarded inside a serializable transaction, the
// same optimistic shape pkg/job uses for lease transitions.
type Service struct {
	pool   *pgxpool.Pool
	audit  AuditRecorder
	logger *slog.Logger
}

func NewService(pool *pgxpool.Pool, audit AuditRecorder, logger *slog.Logger) *Service {
	return &Service{pool: pool, audit: audit, logger: logger}
}

// Get returns the current draft for (project, host) with expired sections
// pruned. A draft whose shell TTL has lapsed reads as not found and is
// deleted lazily.
func (s *Service) Get(ctx context.Context, projectID uuid.UUID, hostName string) (Draft, error) {
	if err := validate.EnsureBoundedString(hostName, "host", 200); err != nil {
		return Draft{}, err
	}

	var out Draft
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		store := NewStore(tx)
		d, err := store.Get(ctx, projectID, hostName)
		if errors.Is(err, pgx.ErrNoRows) {
			return apierr.NotFound("setup draft not found")
		}
		if err != nil {
			return fmt.Errorf("fetching setup draft: %w", err)
		}

		now := time.Now().UTC()
		if d.pruneExpired(now) {
			if err := store.Delete(ctx, projectID, hostName); err != nil {
				return err
			}
			return apierr.NotFound("setup draft not found")
		}
		if err := store.ClearExpiredSections(ctx, projectID, hostName, now); err != nil {
			return err
		}
		out = d
		return nil
	})
	if err != nil {
		return Draft{}, err
	}
	return out, nil
}

// PutSection validates and stores one sealed section, creating the draft on
// first write. expectedVersion guards concurrent operators: a stale version
// fails with conflict and the caller re-reads (spec.md §3 "optimistic
// version counter"). The deployCreds section additionally writes an audit
// row under the deployCreds.update action (spec.md §4.K).
func (s *Service) PutSection(ctx context.Context, projectID uuid.UUID, actor, hostName string, section Section, sealedInputB64 string, expectedVersion int64) (Draft, error) {
	if !section.Valid() {
		return Draft{}, apierr.Conflict("section must be deployCreds or bootstrapSecrets")
	}
	if err := validate.EnsureBoundedString(hostName, "host", 200); err != nil {
		return Draft{}, err
	}
	if err := validate.ValidateSealedEnvelope(sealedInputB64); err != nil {
		return Draft{}, err
	}

	var out Draft
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		store := NewStore(tx)
		now := time.Now().UTC()
		sectionExpiresAt := now.Add(SecretTTL)

		existing, err := store.Get(ctx, projectID, hostName)
		if errors.Is(err, pgx.ErrNoRows) || (err == nil && (&existing).pruneExpired(now)) {
			if err == nil {
				if delErr := store.Delete(ctx, projectID, hostName); delErr != nil {
					return delErr
				}
			}
			d, err := store.Insert(ctx, projectID, hostName, section, sealedInputB64, sectionExpiresAt, now.Add(DraftTTL))
			if err != nil {
				return fmt.Errorf("creating setup draft: %w", err)
			}
			out = d
			return nil
		}
		if err != nil {
			return fmt.Errorf("fetching setup draft: %w", err)
		}
		if existing.Status == StatusCommitting || existing.Status == StatusCommitted {
			return apierr.Conflict("setup draft is " + string(existing.Status))
		}

		applied, err := store.UpdateSection(ctx, projectID, hostName, section, sealedInputB64, sectionExpiresAt, expectedVersion)
		if err != nil {
			return err
		}
		if !applied {
			return apierr.Conflict("setup draft version is stale, re-read and retry")
		}

		d, err := store.Get(ctx, projectID, hostName)
		if err != nil {
			return fmt.Errorf("refetching setup draft: %w", err)
		}
		out = d
		return nil
	})
	if err != nil {
		return Draft{}, err
	}

	if section == SectionDeployCreds {
		s.audit.Record(ctx, projectID, actor, "deployCreds.update", map[string]any{
			"updated_keys": []string{string(section)},
		})
	}
	s.logger.Info("setup draft section stored",
		"project_id", projectID, "host", hostName, "section", section, "version", out.Version)
	return out, nil
}

// Commit transitions a draft to committing, version-guarded. At least one
// unexpired section must be present. The operator tooling that applies the
// draft on the host reports the outcome via Resolve.
func (s *Service) Commit(ctx context.Context, projectID uuid.UUID, hostName string, expectedVersion int64) (Draft, error) {
	return s.transition(ctx, projectID, hostName, StatusDraft, StatusCommitting, expectedVersion, true)
}

// Resolve finishes a committing draft: committed on success, failed
// otherwise (spec.md §3's lifecycle tail). A failed draft accepts new
// section writes, which move it back to draft.
func (s *Service) Resolve(ctx context.Context, projectID uuid.UUID, hostName string, ok bool, expectedVersion int64) (Draft, error) {
	to := StatusCommitted
	if !ok {
		to = StatusFailed
	}
	return s.transition(ctx, projectID, hostName, StatusCommitting, to, expectedVersion, false)
}

func (s *Service) transition(ctx context.Context, projectID uuid.UUID, hostName string, from, to Status, expectedVersion int64, requireSection bool) (Draft, error) {
	if err := validate.EnsureBoundedString(hostName, "host", 200); err != nil {
		return Draft{}, err
	}

	var out Draft
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		store := NewStore(tx)
		d, err := store.Get(ctx, projectID, hostName)
		if errors.Is(err, pgx.ErrNoRows) {
			return apierr.NotFound("setup draft not found")
		}
		if err != nil {
			return fmt.Errorf("fetching setup draft: %w", err)
		}

		now := time.Now().UTC()
		if (&d).pruneExpired(now) {
			return apierr.Conflict("setup draft has expired")
		}
		if d.Status != from {
			return apierr.Conflict("setup draft is " + string(d.Status) + ", not " + string(from))
		}
		if requireSection && d.DeployCreds == nil && d.BootstrapSecrets == nil {
			return apierr.Conflict("setup draft has no unexpired sections to commit")
		}

		applied, err := store.Transition(ctx, projectID, hostName, from, to, expectedVersion)
		if err != nil {
			return err
		}
		if !applied {
			return apierr.Conflict("setup draft version is stale, re-read and retry")
		}

		out, err = store.Get(ctx, projectID, hostName)
		if err != nil {
			return fmt.Errorf("refetching setup draft: %w", err)
		}
		return nil
	})
	if err != nil {
		return Draft{}, err
	}

	s.logger.Info("setup draft transitioned",
		"project_id", projectID, "host", hostName, "status", out.Status, "version", out.Version)
	return out, nil
}
