// Package retention implements the retention sweeper of spec.md §4.H: a
// per-project TTL GC for run-events, audit logs, and terminal runs, driven
// by a single-lease singleton cursor row. Grounded on the deleted teacher
// pkg/roster/worker.go's RunScheduleTopUpLoop (ticker pattern) and
// pkg/escalation/engine.go's lease-guarded per-entity sweep shape.
package retention

import (
	"time"

	"github.com/google/uuid"
)

// Policy is a project's retention window (spec.md §3 "projectPolicies").
type Policy struct {
	ProjectID     uuid.UUID
	RetentionDays int
}

// CutoffTs clamps retentionDays to [1, 365] and returns now minus that many
// days, matching spec.md §4.H's "clamp(retentionDays, 1, 365) x 24h".
func (p Policy) CutoffTs(now time.Time) time.Time {
	days := p.RetentionDays
	if days < 1 {
		days = 1
	}
	if days > 365 {
		days = 365
	}
	return now.Add(-time.Duration(days) * 24 * time.Hour)
}

// Result is runRetentionSweep's return value (spec.md §8 scenario S8).
type Result struct {
	ProjectsScanned  int
	RunEventsDeleted int
	AuditLogsDeleted int
	RunsDeleted      int
	Continued        bool
}

const (
	// LeaseTTL is the retention-sweep lease duration (spec.md §5).
	LeaseTTL = 60 * time.Second
	// ContinuationDelay is how long after a partial pass the sweeper
	// re-runs itself (spec.md §4.H "schedule a continuation after ~5s").
	ContinuationDelay = 5 * time.Second

	// PerProjectBudget and GlobalBudget bound a single pass (spec.md §4.H,
	// §5 back-pressure).
	PerProjectBudget = 200
	GlobalBudget     = 1000

	// PolicyPageSize is how many policies a pass walks, plus one sentinel
	// row to detect hasMore (spec.md §4.H).
	PolicyPageSize = 25

	// deleteBatchSize bounds each individual DELETE statement.
	deleteBatchSize = 200

	// LeaseKey is the singleton retention-sweep row's key.
	LeaseKey = "default"
)
