package erasure

import (
	"context"
	"log/slog"
	"time"
)

// RecoveryInterval is how often the recovery loop looks for erasure jobs
// that are active but unleased, the case left behind when a process
// crashes between two in-memory time.AfterFunc-scheduled steps.
const RecoveryInterval = 30 * time.Second

// RunRecoveryLoop periodically resumes any active erasure job that has no
// live lease, so deletion jobs survive a process restart. Grounded on the
// deleted teacher pkg/roster/worker.go's RunScheduleTopUpLoop, the same
// run-on-a-timer-until-ctx.Done shape pkg/retention/worker.go reuses.
func RunRecoveryLoop(ctx context.Context, svc *Service, logger *slog.Logger, interval time.Duration) {
	if interval <= 0 {
		interval = RecoveryInterval
	}

	logger.Info("erasure recovery loop starting", "interval", interval)
	defer logger.Info("erasure recovery loop stopped")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := svc.RunRecoveryPass(ctx); err != nil {
				logger.Error("erasure recovery pass failed", "error", err)
			}
		}
	}
}
