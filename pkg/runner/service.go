package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/clawlets/controlplane/internal/apierr"
	"github.com/clawlets/controlplane/internal/clock"
	"github.com/clawlets/controlplane/internal/db"
)

// touchInterval is the minimum spacing between last-used writes for the
// same token (spec.md §4.D: "only writes when >= N ms have passed").
const touchInterval = 60 * time.Second

// Service implements the token validator and runner registration of
// spec.md §4.D, grounded on pkg/apikey/service.go's Service layering.
type Service struct {
	store     *Store
	logger    *slog.Logger
	touchMu   sync.Mutex
	lastTouch map[uuid.UUID]time.Time
}

func NewService(dbtx db.DBTX, logger *slog.Logger) *Service {
	return &Service{
		store:     NewStore(dbtx),
		logger:    logger,
		lastTouch: make(map[uuid.UUID]time.Time),
	}
}

// Validated is the outcome of a successful token validation.
type Validated struct {
	Token  Token
	Runner Runner
}

// ValidateToken implements spec.md §4.D's pipeline: strip the bearer
// prefix, hash, look up by hash, fetch the runner, and check usability
// (not revoked; unexpired; project match if asserted; runner lives in the
// same project as the token). assertedProjectID may be uuid.Nil when the
// caller has not yet resolved a project (not used by any route today, but
// kept for parity with the spec's stated contract).
func (s *Service) ValidateToken(ctx context.Context, bearer string, assertedProjectID uuid.UUID) (Validated, error) {
	raw, ok := strings.CutPrefix(bearer, "Bearer ")
	if !ok {
		raw = bearer
	}
	if raw == "" {
		return Validated{}, apierr.Unauthorized("missing bearer token")
	}

	hash := clock.SHA256Hex(raw)
	tok, rnr, err := s.store.FindUsableByHash(ctx, hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return Validated{}, apierr.Unauthorized("unknown token")
	}
	if err != nil {
		return Validated{}, fmt.Errorf("looking up runner token: %w", err)
	}

	if tok.RevokedAt != nil {
		return Validated{}, apierr.Unauthorized("token revoked")
	}
	if tok.ExpiresAt != nil && !tok.ExpiresAt.After(clock.Now()) {
		return Validated{}, apierr.Unauthorized("token expired")
	}
	if assertedProjectID != uuid.Nil && tok.ProjectID != assertedProjectID {
		return Validated{}, apierr.Unauthorized("token does not belong to the asserted project")
	}
	if rnr.ProjectID != tok.ProjectID {
		return Validated{}, apierr.Unauthorized("runner/token project mismatch")
	}

	s.touchLastUsed(ctx, tok.ID)
	return Validated{Token: tok, Runner: rnr}, nil
}

// touchLastUsed emits a rate-limited last-used write: only writes when at
// least touchInterval has passed since the last touch for this token,
// avoiding a write storm on hot tokens (spec.md §4.D).
func (s *Service) touchLastUsed(ctx context.Context, tokenID uuid.UUID) {
	s.touchMu.Lock()
	last, seen := s.lastTouch[tokenID]
	now := clock.Now()
	shouldWrite := !seen || now.Sub(last) >= touchInterval
	if shouldWrite {
		s.lastTouch[tokenID] = now
	}
	s.touchMu.Unlock()

	if shouldWrite {
		s.store.TouchLastUsed(ctx, tokenID)
	}
}

// Heartbeat upserts a runner's liveness and capability record (spec.md §6
// POST /runner/heartbeat), rejecting a capability record whose declared
// key id does not derive from its SPKI bytes.
func (s *Service) Heartbeat(ctx context.Context, projectID uuid.UUID, name string, version *string, caps *Capabilities) (Runner, error) {
	if caps != nil {
		if err := caps.Validate(); err != nil {
			return Runner{}, err
		}
	}
	r, err := s.store.Upsert(ctx, projectID, name, version, caps)
	if err != nil {
		return Runner{}, fmt.Errorf("upserting runner: %w", err)
	}
	return r, nil
}

// MintToken creates a runner and a token for it in one call (admin
// registration flow), grounded on pkg/apikey.Create.
func (s *Service) MintToken(ctx context.Context, projectID uuid.UUID, runnerName string) (CreateResponse, error) {
	r, err := s.store.Upsert(ctx, projectID, runnerName, nil, nil)
	if err != nil {
		return CreateResponse{}, fmt.Errorf("registering runner: %w", err)
	}

	raw, hash, prefix := GenerateToken()
	tok, err := s.store.CreateTokenRow(ctx, projectID, r.ID, hash, prefix)
	if err != nil {
		return CreateResponse{}, fmt.Errorf("minting runner token: %w", err)
	}

	s.logger.Info("runner token minted", "project_id", projectID, "runner_id", r.ID)
	return CreateResponse{Token: tok, RawToken: raw}, nil
}

// Get fetches a runner by id, translating a missing row to apierr.NotFound.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Runner, error) {
	r, err := s.store.Get(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return Runner{}, apierr.NotFound("runner not found")
	}
	if err != nil {
		return Runner{}, fmt.Errorf("getting runner: %w", err)
	}
	return r, nil
}

// ListByProject returns every runner registered to a project.
func (s *Service) ListByProject(ctx context.Context, projectID uuid.UUID) ([]Runner, error) {
	items, err := s.store.ListByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing runners: %w", err)
	}
	return items, nil
}

// Revoke revokes a runner token.
func (s *Service) Revoke(ctx context.Context, tokenID uuid.UUID) error {
	return s.store.Revoke(ctx, tokenID)
}
