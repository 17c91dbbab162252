// Package metadataingest implements spec.md §4.J: runner-reported
// config/host/gateway/secret-wiring rows are sanitized (§4.L) and upserted
// by natural key, last-writer-wins (no compare-and-set). Grounded on the
// deleted teacher pkg/incident/store.go's ReassignAlerts-style raw SQL, the
// simplest natural-key mutation the teacher writes without sqlc codegen.
package metadataingest

import "github.com/google/uuid"

// Shape caps (spec.md §6 "Metadata-sync shape caps").
const (
	MaxProjectConfigs      = 500
	MaxHosts               = 200
	MaxGateways            = 500
	MaxSecretWiringTotal   = 2000
	MaxSecretWiringPerHost = 500
)

// ConfigRow is one projectConfigs entry (spec.md §6 "projectConfigs[]").
type ConfigRow struct {
	Key   string
	Value []byte // raw JSON
}

// HostRow is one hosts entry keyed by hostName.
type HostRow struct {
	HostName       string
	DesiredSummary []byte // raw JSON, already clipped by internal/validate
}

// GatewayRow is one gateways entry keyed by (hostName, gatewayId).
type GatewayRow struct {
	HostName       string
	GatewayID      string
	DesiredSummary []byte
}

// SecretWiringRow is one secretWiring entry keyed by (hostName, wiringKey).
type SecretWiringRow struct {
	HostName  string
	WiringKey string
	Value     []byte
}

// SyncRequest is one runner metadata-sync call's full payload.
type SyncRequest struct {
	ProjectID      uuid.UUID
	ProjectConfigs []ConfigRow
	Hosts          []HostRow
	Gateways       []GatewayRow
	SecretWiring   []SecretWiringRow
}

// SyncResult reports the row counts the sync call upserted, for the
// `{ok: true, synced: {...counts}}` response (spec.md §6).
type SyncResult struct {
	ProjectConfigs int `json:"project_configs"`
	Hosts          int `json:"hosts"`
	Gateways       int `json:"gateways"`
	SecretWiring   int `json:"secret_wiring"`
}
