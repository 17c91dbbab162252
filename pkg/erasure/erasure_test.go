package erasure

import "testing"

func TestStageNextWalksFixedOrder(t *testing.T) {
	tests := []struct {
		stage Stage
		want  Stage
	}{
		{StageRunEvents, StageRuns},
		{StageRuns, StageProviders},
		{StageProviders, StageProjectConfigs},
		{StageProjectConfigs, StageHosts},
		{StageHosts, StageGateways},
		{StageGateways, StageSecretWiring},
		{StageSecretWiring, StageJobs},
		{StageJobs, StageRunnerCommandResultBlobs},
		{StageRunnerCommandResultBlobs, StageRunnerCommandResults},
		{StageRunnerCommandResults, StageRunnerTokens},
		{StageRunnerTokens, StageRunners},
		{StageRunners, StageProjectCredentials},
		{StageProjectCredentials, StageProjectMembers},
		{StageProjectMembers, StageAuditLogs},
		{StageAuditLogs, StageProjectPolicies},
		{StageProjectPolicies, StageProjectDeletionTokens},
		{StageProjectDeletionTokens, StageProject},
		{StageProject, StageDone},
		{StageDone, StageDone},
		{Stage("not-a-real-stage"), StageDone},
	}

	for _, tt := range tests {
		if got := tt.stage.Next(); got != tt.want {
			t.Errorf("Stage(%q).Next() = %q, want %q", tt.stage, got, tt.want)
		}
	}
}

func TestStageOrderCoversEveryStageExactlyOnce(t *testing.T) {
	seen := make(map[Stage]int)
	for _, s := range stageOrder {
		seen[s]++
	}
	for s, count := range seen {
		if count != 1 {
			t.Errorf("stage %q appears %d times in stageOrder, want 1", s, count)
		}
	}
	if len(stageOrder) != 19 {
		t.Errorf("len(stageOrder) = %d, want 19", len(stageOrder))
	}
}

func TestJobIsTerminalAndIsActive(t *testing.T) {
	tests := []struct {
		status       Status
		wantTerminal bool
		wantActive   bool
	}{
		{StatusPending, false, true},
		{StatusRunning, false, true},
		{StatusCompleted, true, false},
		{StatusFailed, true, false},
	}

	for _, tt := range tests {
		j := Job{Status: tt.status}
		if got := j.isTerminal(); got != tt.wantTerminal {
			t.Errorf("Job{Status: %q}.isTerminal() = %v, want %v", tt.status, got, tt.wantTerminal)
		}
		if got := j.isActive(); got != tt.wantActive {
			t.Errorf("Job{Status: %q}.isActive() = %v, want %v", tt.status, got, tt.wantActive)
		}
	}
}
