package retention

import (
	"context"
	"log/slog"
	"time"
)

// DefaultIdleInterval is how often the sweep loop runs when the previous
// pass finished with nothing left to do. A partial pass instead reschedules
// after ContinuationDelay, matching spec.md §4.H's two cadences.
const DefaultIdleInterval = 60 * time.Second

// RunLoop runs the retention sweep once immediately, then repeatedly: after
// a partial pass it re-runs after ContinuationDelay, after a completed (or
// no-op) pass it waits idleInterval, until ctx is canceled. Directly
// grounded on the deleted teacher pkg/roster/worker.go's
// RunScheduleTopUpLoop (run once, then loop on a timer until ctx.Done()).
func RunLoop(ctx context.Context, svc *Service, logger *slog.Logger, idleInterval time.Duration) {
	if idleInterval <= 0 {
		idleInterval = DefaultIdleInterval
	}

	logger.Info("retention sweep loop starting", "idle_interval", idleInterval)
	defer logger.Info("retention sweep loop stopped")

	wait := time.Duration(0)
	for {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		result, err := svc.RunSweep(ctx, "scheduled")
		if err != nil {
			logger.Error("retention sweep failed", "error", err)
			wait = idleInterval
			continue
		}

		if result.Continued {
			wait = ContinuationDelay
		} else {
			wait = idleInterval
		}
	}
}
