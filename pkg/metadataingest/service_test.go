package metadataingest

import (
	"testing"

	"github.com/google/uuid"
)

func TestValidateShapeRejectsOverCap(t *testing.T) {
	tests := []struct {
		name string
		req  SyncRequest
	}{
		{"too many project configs", SyncRequest{ProjectConfigs: make([]ConfigRow, MaxProjectConfigs+1)}},
		{"too many hosts", SyncRequest{Hosts: make([]HostRow, MaxHosts+1)}},
		{"too many gateways", SyncRequest{Gateways: make([]GatewayRow, MaxGateways+1)}},
		{"too many secret wiring total", SyncRequest{SecretWiring: make([]SecretWiringRow, MaxSecretWiringTotal+1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := validateShape(tt.req); err == nil {
				t.Error("validateShape() = nil, want a conflict error")
			}
		})
	}
}

func TestValidateShapeRejectsOverPerHostCap(t *testing.T) {
	rows := make([]SecretWiringRow, MaxSecretWiringPerHost+1)
	for i := range rows {
		rows[i] = SecretWiringRow{HostName: "host-a", WiringKey: uuid.NewString()}
	}

	if err := validateShape(SyncRequest{SecretWiring: rows}); err == nil {
		t.Error("validateShape() = nil, want a conflict error for per-host cap")
	}
}

func TestValidateShapeAcceptsWithinCaps(t *testing.T) {
	req := SyncRequest{
		ProjectConfigs: make([]ConfigRow, MaxProjectConfigs),
		Hosts:          make([]HostRow, MaxHosts),
		Gateways:       make([]GatewayRow, MaxGateways),
		SecretWiring: []SecretWiringRow{
			{HostName: "host-a", WiringKey: "k1"},
			{HostName: "host-b", WiringKey: "k2"},
		},
	}
	if err := validateShape(req); err != nil {
		t.Errorf("validateShape() = %v, want nil", err)
	}
}
