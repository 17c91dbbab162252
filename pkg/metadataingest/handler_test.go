package metadataingest

import (
	"encoding/json"
	"testing"
)

func TestSanitizeHostSummaryJSONClipsPorts(t *testing.T) {
	out, err := sanitizeHostSummaryJSON([]byte(`{"service_count": 999999, "ports": [70000, 0], "tags": []}`))
	if err != nil {
		t.Fatalf("sanitizeHostSummaryJSON() error = %v", err)
	}
	if out == nil {
		t.Fatal("sanitizeHostSummaryJSON() = nil, want sanitized JSON")
	}
	var got struct {
		Ports []int `json:"ports"`
	}
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("decoding sanitized summary: %v", err)
	}
	if len(got.Ports) != 2 || got.Ports[0] != 65535 || got.Ports[1] != 1 {
		t.Errorf("Ports = %v, want [65535 1]", got.Ports)
	}
}

func TestSanitizeHostSummaryJSONPassesThroughEmpty(t *testing.T) {
	out, err := sanitizeHostSummaryJSON(nil)
	if err != nil {
		t.Fatalf("sanitizeHostSummaryJSON() error = %v", err)
	}
	if out != nil {
		t.Errorf("sanitizeHostSummaryJSON(nil) = %v, want nil", out)
	}
}

func TestSanitizeGatewaySummaryJSONRejectsMalformed(t *testing.T) {
	if _, err := sanitizeGatewaySummaryJSON([]byte(`not json`)); err == nil {
		t.Error("sanitizeGatewaySummaryJSON() = nil error, want a decode error")
	}
}
