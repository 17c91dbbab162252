package job

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestJobStatusIsTerminal(t *testing.T) {
	tests := []struct {
		status JobStatus
		want   bool
	}{
		{JobQueued, false},
		{JobSealedPending, false},
		{JobLeased, false},
		{JobRunning, false},
		{JobSucceeded, true},
		{JobFailed, true},
		{JobCanceled, true},
	}
	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.want {
			t.Errorf("JobStatus(%q).IsTerminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestAttemptCapExceededMessage(t *testing.T) {
	if got, want := AttemptCapExceededMessage(25), "attempt cap exceeded (25/25)"; got != want {
		t.Errorf("AttemptCapExceededMessage(25) = %q, want %q", got, want)
	}
	if got, want := AttemptCapExceededMessage(3), "attempt cap exceeded (3/25)"; got != want {
		t.Errorf("AttemptCapExceededMessage(3) = %q, want %q", got, want)
	}
}

func TestClampLeaseTTL(t *testing.T) {
	tests := []struct {
		name string
		in   time.Duration
		want time.Duration
	}{
		{"zero defaults", 0, LeaseTTLDefault},
		{"negative defaults", -time.Second, LeaseTTLDefault},
		{"below min clamps up", time.Second, LeaseTTLMin},
		{"above max clamps down", 10 * time.Minute, LeaseTTLMax},
		{"within range unchanged", 45 * time.Second, 45 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := clampLeaseTTL(tt.in); got != tt.want {
				t.Errorf("clampLeaseTTL(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestJobCanComplete(t *testing.T) {
	lease := uuid.New()
	other := uuid.New()
	expiry := time.Now().Add(-time.Minute) // even an expired lease is tolerated (§4.F.5)

	tests := []struct {
		name string
		job  Job
		lid  uuid.UUID
		want bool
	}{
		{"leased with matching lease", Job{Status: JobLeased, LeaseID: &lease, LeaseExpiresAt: &expiry}, lease, true},
		{"running with matching lease", Job{Status: JobRunning, LeaseID: &lease, LeaseExpiresAt: &expiry}, lease, true},
		{"queued never completes", Job{Status: JobQueued, LeaseID: &lease, LeaseExpiresAt: &expiry}, lease, false},
		{"terminal never completes", Job{Status: JobSucceeded, LeaseID: &lease, LeaseExpiresAt: &expiry}, lease, false},
		{"mismatched lease id rejected", Job{Status: JobLeased, LeaseID: &lease, LeaseExpiresAt: &expiry}, other, false},
		{"nil lease id rejected", Job{Status: JobLeased, LeaseExpiresAt: &expiry}, lease, false},
		{"nil expiry rejected", Job{Status: JobLeased, LeaseID: &lease}, lease, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.job.canComplete(tt.lid); got != tt.want {
				t.Errorf("canComplete() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMergeByCreatedAtTiesFavorTargeted(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t0 := base
	t1 := base.Add(time.Second)
	t2 := base.Add(2 * time.Second)

	targeted := []Job{
		{Kind: "targeted-0", CreatedAt: t0},
		{Kind: "targeted-2", CreatedAt: t2},
	}
	untargeted := []Job{
		{Kind: "untargeted-0", CreatedAt: t0},
		{Kind: "untargeted-1", CreatedAt: t1},
	}

	got := mergeByCreatedAt(targeted, untargeted)
	wantOrder := []string{"targeted-0", "untargeted-0", "untargeted-1", "targeted-2"}
	if len(got) != len(wantOrder) {
		t.Fatalf("len(got) = %d, want %d", len(got), len(wantOrder))
	}
	for i, want := range wantOrder {
		if got[i].Kind != want {
			t.Errorf("got[%d].Kind = %q, want %q", i, got[i].Kind, want)
		}
	}
}

func TestMergeByCreatedAtHandlesEmptySides(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	targeted := []Job{{Kind: "a", CreatedAt: base}}

	got := mergeByCreatedAt(targeted, nil)
	if len(got) != 1 || got[0].Kind != "a" {
		t.Errorf("mergeByCreatedAt(targeted, nil) = %+v, want [a]", got)
	}

	got = mergeByCreatedAt(nil, targeted)
	if len(got) != 1 || got[0].Kind != "a" {
		t.Errorf("mergeByCreatedAt(nil, targeted) = %+v, want [a]", got)
	}
}

func TestRunStatusIsTerminal(t *testing.T) {
	tests := []struct {
		status RunStatus
		want   bool
	}{
		{RunQueued, false},
		{RunRunning, false},
		{RunSucceeded, true},
		{RunFailed, true},
		{RunCanceled, true},
	}
	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.want {
			t.Errorf("RunStatus(%q).IsTerminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}
