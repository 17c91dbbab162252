package job

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestValidatePayloadPolicyDefaultsToAllow(t *testing.T) {
	if err := validatePayloadPolicy("custom", json.RawMessage(`{"anything": 1}`)); err != nil {
		t.Errorf("unregistered kind should accept any payload, got %v", err)
	}
	if err := validatePayloadPolicy("custom", nil); err != nil {
		t.Errorf("unregistered kind should accept a nil payload, got %v", err)
	}
}

func TestValidatePayloadPolicySizeBound(t *testing.T) {
	big := append([]byte(`{"pad": "`), bytes.Repeat([]byte("x"), maxPayloadMetaBytes)...)
	big = append(big, []byte(`"}`)...)

	if err := validatePayloadPolicy("custom", big); err == nil {
		t.Error("expected a conflict for an over-size payload")
	}
}

func TestValidatePayloadPolicyProjectImport(t *testing.T) {
	tests := []struct {
		name    string
		meta    json.RawMessage
		wantErr bool
	}{
		{"nil payload accepted", nil, false},
		{"source present", json.RawMessage(`{"source": "git@example.com:repo.git"}`), false},
		{"source missing", json.RawMessage(`{"path": "x"}`), true},
		{"source empty", json.RawMessage(`{"source": ""}`), true},
		{"non-object payload", json.RawMessage(`[1, 2]`), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePayloadPolicy("project_import", tt.meta)
			if (err != nil) != tt.wantErr {
				t.Errorf("validatePayloadPolicy(project_import, %s) error = %v, wantErr %v", tt.meta, err, tt.wantErr)
			}
		})
	}
}
