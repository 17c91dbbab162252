package audit

import (
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSanitizeForReadHashesOperatorID(t *testing.T) {
	e := Entry{
		Action: ActionDeployCredsUpdate,
		Data:   map[string]any{"operator_id": "alice", "updated_keys": []string{"a"}},
	}
	got := sanitizeForRead(e)
	if _, ok := got.Data["operator_id"]; ok {
		t.Error("operator_id should be removed from sanitized data")
	}
	hash, ok := got.Data["operator_id_hash"].(string)
	if !ok || len(hash) != 64 {
		t.Errorf("operator_id_hash = %v, want a 64-char hex digest", got.Data["operator_id_hash"])
	}
	if got.Data["updated_keys"] == nil {
		t.Error("non-operator_id keys should survive sanitization")
	}
}

func TestSanitizeForReadSkipsUnlistedActions(t *testing.T) {
	e := Entry{Action: ActionProjectCreate, Data: map[string]any{"name": "p1"}}
	got := sanitizeForRead(e)
	if got.Data["name"] != "p1" {
		t.Errorf("data mutated for non-redacted action: %v", got.Data)
	}
}

func TestSanitizeShapeDropsUnknownKeys(t *testing.T) {
	logger := discardLogger()
	data := map[string]any{"role": "admin", "evil": "payload"}
	got := sanitizeShape(ActionProjectMemberAdd, data, logger)
	if _, ok := got["evil"]; ok {
		t.Error("unknown data key should be dropped")
	}
	if got["role"] != "admin" {
		t.Error("allowed key should survive")
	}
}

func TestSanitizeShapeClipsBoundedArray(t *testing.T) {
	logger := discardLogger()
	long := make([]any, 250)
	for i := range long {
		long[i] = "x"
	}
	data := map[string]any{"updated_keys": long}
	got := sanitizeShape(ActionDeployCredsUpdate, data, logger)
	arr, ok := got["updated_keys"].([]string)
	if !ok {
		t.Fatalf("updated_keys = %T, want []string", got["updated_keys"])
	}
	if len(arr) != maxBoundedArrayItems {
		t.Errorf("len(arr) = %d, want %d", len(arr), maxBoundedArrayItems)
	}
}

func TestSanitizeShapeNilDataPassesThrough(t *testing.T) {
	if got := sanitizeShape(ActionProjectCreate, nil, discardLogger()); got != nil {
		t.Errorf("sanitizeShape(nil) = %v, want nil", got)
	}
}

func TestValidRepoPathRejectsTraversalAndAbsolute(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"hosts/prod.yaml", true},
		{"/etc/passwd", false},
		{"C:\\Windows\\System32", false},
		{"../../etc/passwd", false},
		{"a/../b", false},
		{"a/b\x00c", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := validRepoPath(tt.path); got != tt.want {
			t.Errorf("validRepoPath(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestDefaultTargetBuildsKindAndProjectID(t *testing.T) {
	pid := uuid.New()
	target := defaultTarget(ActionProjectCreate, pid)
	if target["kind"] != "project" {
		t.Errorf("kind = %v, want project", target["kind"])
	}
	if target["id"] != pid {
		t.Errorf("id = %v, want %v", target["id"], pid)
	}
}

func TestDefaultTargetUnknownActionReturnsNil(t *testing.T) {
	if got := defaultTarget(Action("bogus.action"), uuid.New()); got != nil {
		t.Errorf("defaultTarget(unknown) = %v, want nil", got)
	}
}
