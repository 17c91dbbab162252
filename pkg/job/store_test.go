package job

import (
	"testing"

	"github.com/google/uuid"
)

func TestBuildJobFilterClauses(t *testing.T) {
	projectID := uuid.New()
	runID := uuid.New()

	tests := []struct {
		name      string
		filters   JobFilters
		wantWhere int
		wantArgs  int
	}{
		{"no filters", JobFilters{}, 1, 1},
		{"run id only", JobFilters{RunID: &runID}, 2, 2},
		{"status only", JobFilters{Status: JobQueued}, 2, 2},
		{"kind only", JobFilters{Kind: "deploy"}, 2, 2},
		{"all filters", JobFilters{RunID: &runID, Status: JobQueued, Kind: "deploy"}, 4, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			where, args := buildJobFilterClauses(projectID, tt.filters)
			if len(where) != tt.wantWhere {
				t.Errorf("len(where) = %d, want %d (where=%v)", len(where), tt.wantWhere, where)
			}
			if len(args) != tt.wantArgs {
				t.Errorf("len(args) = %d, want %d", len(args), tt.wantArgs)
			}
			if args[0] != projectID {
				t.Errorf("args[0] = %v, want projectID", args[0])
			}
		})
	}
}

func TestBuildRunFilterClauses(t *testing.T) {
	projectID := uuid.New()

	tests := []struct {
		name      string
		filters   RunFilters
		wantWhere int
		wantArgs  int
	}{
		{"no filters", RunFilters{}, 1, 1},
		{"status only", RunFilters{Status: RunQueued}, 2, 2},
		{"kind only", RunFilters{Kind: "deploy"}, 2, 2},
		{"status and kind", RunFilters{Status: RunQueued, Kind: "deploy"}, 3, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			where, args := buildRunFilterClauses(projectID, tt.filters)
			if len(where) != tt.wantWhere {
				t.Errorf("len(where) = %d, want %d (where=%v)", len(where), tt.wantWhere, where)
			}
			if len(args) != tt.wantArgs {
				t.Errorf("len(args) = %d, want %d", len(args), tt.wantArgs)
			}
			if args[0] != projectID {
				t.Errorf("args[0] = %v, want projectID", args[0])
			}
		})
	}
}
