package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clawlets/controlplane/internal/db"
	"github.com/clawlets/controlplane/internal/telemetry"
)

// Service implements spec.md §4.H's retention sweep, grounded on the
// deleted teacher pkg/escalation/engine.go's Engine (pool + logger +
// lease-guarded tick) shape.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewService(pool *pgxpool.Pool, logger *slog.Logger) *Service {
	return &Service{pool: pool, logger: logger}
}

// RunSweep implements spec.md §4.H: acquire/renew the singleton lease,
// walk up to PolicyPageSize+1 policies from the stored cursor, and delete
// run_events/audit_logs/terminal runs under the per-project and global
// delete budgets. It no-ops if another lease is currently active.
func (s *Service) RunSweep(ctx context.Context, reason string) (Result, error) {
	start := time.Now()
	now := start.UTC()
	leaseID := uuid.New()

	var result Result
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		store := NewStore(tx)

		cursor, acquired, err := store.TryAcquireLease(ctx, leaseID, now, LeaseTTL)
		if err != nil {
			return fmt.Errorf("acquiring retention lease: %w", err)
		}
		if !acquired {
			return nil
		}

		policies, err := store.ListPoliciesAfterCursor(ctx, cursor, PolicyPageSize+1)
		if err != nil {
			return fmt.Errorf("listing project policies: %w", err)
		}

		hasMore := len(policies) > PolicyPageSize
		if hasMore {
			policies = policies[:PolicyPageSize]
		}

		globalBudget := GlobalBudget
		var lastScanned *uuid.UUID
		for _, policy := range policies {
			if globalBudget <= 0 {
				hasMore = true
				break
			}
			result.ProjectsScanned++
			scanned := policy.ProjectID
			lastScanned = &scanned

			cutoff := policy.CutoffTs(now)
			perProjectBudget := PerProjectBudget

			deleted, err := sweepProjectRunEvents(ctx, store, policy.ProjectID, cutoff, &perProjectBudget, &globalBudget)
			if err != nil {
				return err
			}
			result.RunEventsDeleted += deleted

			if perProjectBudget > 0 && globalBudget > 0 {
				deleted, err := sweepProjectAuditLogs(ctx, store, policy.ProjectID, cutoff, &perProjectBudget, &globalBudget)
				if err != nil {
					return err
				}
				result.AuditLogsDeleted += deleted
			}

			if perProjectBudget > 0 && globalBudget > 0 {
				runsDeleted, eventsDeleted, exhausted, err := sweepProjectTerminalRuns(ctx, store, policy.ProjectID, cutoff, &perProjectBudget, &globalBudget)
				if err != nil {
					return err
				}
				result.RunsDeleted += runsDeleted
				result.RunEventsDeleted += eventsDeleted
				if exhausted {
					hasMore = true
				}
			}
		}

		if hasMore && lastScanned != nil {
			if err := store.SaveCursor(ctx, leaseID, *lastScanned); err != nil {
				return fmt.Errorf("saving retention cursor: %w", err)
			}
			result.Continued = true
		} else {
			if err := store.ReleaseLease(ctx, leaseID); err != nil {
				return fmt.Errorf("releasing retention lease: %w", err)
			}
			result.Continued = false
		}

		return nil
	})
	if err != nil {
		return Result{}, err
	}
	telemetry.RetentionSweepDuration.Observe(time.Since(start).Seconds())
	telemetry.RetentionSweepDeletedTotal.WithLabelValues("run_events").Add(float64(result.RunEventsDeleted))
	telemetry.RetentionSweepDeletedTotal.WithLabelValues("audit_logs").Add(float64(result.AuditLogsDeleted))
	telemetry.RetentionSweepDeletedTotal.WithLabelValues("runs").Add(float64(result.RunsDeleted))

	s.logger.Info("retention sweep completed",
		"reason", reason,
		"projects_scanned", result.ProjectsScanned,
		"run_events_deleted", result.RunEventsDeleted,
		"audit_logs_deleted", result.AuditLogsDeleted,
		"runs_deleted", result.RunsDeleted,
		"continued", result.Continued,
	)
	return result, nil
}

// sweepProjectRunEvents deletes run_events older than cutoff in
// deleteBatchSize-sized batches until either the project or global budget
// is exhausted (spec.md §4.H step 1).
func sweepProjectRunEvents(ctx context.Context, store *Store, projectID uuid.UUID, cutoff time.Time, perProjectBudget, globalBudget *int) (int, error) {
	return sweepBatches(func(limit int) (int, error) {
		return store.DeleteRunEventsBefore(ctx, projectID, cutoff, limit)
	}, perProjectBudget, globalBudget)
}

// sweepProjectAuditLogs deletes audit_logs older than cutoff (spec.md
// §4.H step 2).
func sweepProjectAuditLogs(ctx context.Context, store *Store, projectID uuid.UUID, cutoff time.Time, perProjectBudget, globalBudget *int) (int, error) {
	return sweepBatches(func(limit int) (int, error) {
		return store.DeleteAuditLogsBefore(ctx, projectID, cutoff, limit)
	}, perProjectBudget, globalBudget)
}

// sweepProjectTerminalRuns deletes terminal runs started before cutoff,
// first clearing each run's own events, stopping mid-run if the budget is
// exhausted so the next pass resumes there (spec.md §4.H step 3).
func sweepProjectTerminalRuns(ctx context.Context, store *Store, projectID uuid.UUID, cutoff time.Time, perProjectBudget, globalBudget *int) (runsDeleted, eventsDeleted int, exhausted bool, err error) {
	runIDs, err := store.ListTerminalRunsBefore(ctx, projectID, cutoff, *perProjectBudget)
	if err != nil {
		return 0, 0, false, fmt.Errorf("listing terminal runs: %w", err)
	}

	for _, runID := range runIDs {
		if *perProjectBudget <= 0 || *globalBudget <= 0 {
			return runsDeleted, eventsDeleted, true, nil
		}

		n, err := sweepBatches(func(limit int) (int, error) {
			return store.DeleteRunEventsForRun(ctx, runID, limit)
		}, perProjectBudget, globalBudget)
		if err != nil {
			return runsDeleted, eventsDeleted, false, err
		}
		eventsDeleted += n

		if *perProjectBudget <= 0 || *globalBudget <= 0 {
			return runsDeleted, eventsDeleted, true, nil
		}

		if err := store.DeleteRun(ctx, runID); err != nil {
			return runsDeleted, eventsDeleted, false, fmt.Errorf("deleting run: %w", err)
		}
		runsDeleted++
		*perProjectBudget--
		*globalBudget--
	}

	return runsDeleted, eventsDeleted, false, nil
}

// sweepBatches repeatedly calls del with a batch size bounded by both
// budgets until the table is drained or a budget runs out, decrementing
// both budgets by the actual rows deleted.
func sweepBatches(del func(limit int) (int, error), perProjectBudget, globalBudget *int) (int, error) {
	total := 0
	for *perProjectBudget > 0 && *globalBudget > 0 {
		limit := deleteBatchSize
		if *perProjectBudget < limit {
			limit = *perProjectBudget
		}
		if *globalBudget < limit {
			limit = *globalBudget
		}

		n, err := del(limit)
		if err != nil {
			return total, err
		}
		total += n
		*perProjectBudget -= n
		*globalBudget -= n

		if n < limit {
			break
		}
	}
	return total, nil
}
