package retention

import (
	"testing"
	"time"
)

func TestPolicyCutoffTsClamps(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		retentionDays int
		wantDays      int
	}{
		{"below minimum clamps to 1", 0, 1},
		{"negative clamps to 1", -5, 1},
		{"within range is unchanged", 30, 30},
		{"above maximum clamps to 365", 1000, 365},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Policy{RetentionDays: tt.retentionDays}
			want := now.Add(-time.Duration(tt.wantDays) * 24 * time.Hour)
			got := p.CutoffTs(now)
			if !got.Equal(want) {
				t.Errorf("CutoffTs(%d) = %v, want %v", tt.retentionDays, got, want)
			}
		})
	}
}

func TestSweepBatchesStopsOnBudget(t *testing.T) {
	perProject := 5
	global := 3
	calls := 0

	total, err := sweepBatches(func(limit int) (int, error) {
		calls++
		return limit, nil // pretend every row in the batch existed
	}, &perProject, &global)
	if err != nil {
		t.Fatalf("sweepBatches returned error: %v", err)
	}

	if total != 3 {
		t.Errorf("total = %d, want 3 (bounded by global budget)", total)
	}
	if global != 0 {
		t.Errorf("global budget = %d, want 0", global)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestSweepBatchesDrainsBeforeBudget(t *testing.T) {
	perProject := 200
	global := 1000
	calls := 0

	total, err := sweepBatches(func(limit int) (int, error) {
		calls++
		if calls == 1 {
			return 50, nil // fewer than limit: table is drained
		}
		t.Fatalf("unexpected second call")
		return 0, nil
	}, &perProject, &global)
	if err != nil {
		t.Fatalf("sweepBatches returned error: %v", err)
	}
	if total != 50 {
		t.Errorf("total = %d, want 50", total)
	}
}
