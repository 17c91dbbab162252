package project

import "testing"

func strPtr(s string) *string { return &s }

func TestWorkspaceRefValidate(t *testing.T) {
	tests := []struct {
		name    string
		ref     WorkspaceRef
		mode    ExecutionMode
		wantErr bool
	}{
		{
			name:    "local kind with local mode and path",
			ref:     WorkspaceRef{Kind: WorkspaceRefLocal, LocalPathHash: strPtr("abc123")},
			mode:    ExecutionModeLocal,
			wantErr: false,
		},
		{
			name:    "local kind without path rejected",
			ref:     WorkspaceRef{Kind: WorkspaceRefLocal},
			mode:    ExecutionModeLocal,
			wantErr: true,
		},
		{
			name:    "local kind with remote mode rejected",
			ref:     WorkspaceRef{Kind: WorkspaceRefLocal, LocalPathHash: strPtr("abc123")},
			mode:    ExecutionModeRemoteRunner,
			wantErr: true,
		},
		{
			name:    "git kind with remote mode and remote",
			ref:     WorkspaceRef{Kind: WorkspaceRefGit, GitRemote: strPtr("git@example.com:repo.git")},
			mode:    ExecutionModeRemoteRunner,
			wantErr: false,
		},
		{
			name:    "git kind without remote rejected",
			ref:     WorkspaceRef{Kind: WorkspaceRefGit},
			mode:    ExecutionModeRemoteRunner,
			wantErr: true,
		},
		{
			name:    "git kind with local mode rejected",
			ref:     WorkspaceRef{Kind: WorkspaceRefGit, GitRemote: strPtr("git@example.com:repo.git")},
			mode:    ExecutionModeLocal,
			wantErr: true,
		},
		{
			name:    "unknown kind rejected",
			ref:     WorkspaceRef{Kind: "bogus"},
			mode:    ExecutionModeLocal,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ref.Validate(tt.mode)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
