package validate

import (
	"strings"
	"testing"
)

func TestEnsureBoundedString(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		max     int
		wantErr bool
	}{
		{"empty rejected", "", 10, true},
		{"within bound", "hello", 10, false},
		{"exceeds bound", "hello world", 5, true},
		{"control character rejected", "hi\x00there", 20, true},
		{"newline and tab allowed", "hi\nthere\tfriend", 20, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := EnsureBoundedString(tt.value, "field", tt.max)
			if (err != nil) != tt.wantErr {
				t.Errorf("EnsureBoundedString(%q, _, %d) error = %v, wantErr %v", tt.value, tt.max, err, tt.wantErr)
			}
		})
	}
}

func TestEnsureBoundedStringOptional(t *testing.T) {
	if err := EnsureBoundedStringOptional(nil, "field", 10); err != nil {
		t.Errorf("nil value should be accepted, got %v", err)
	}
	empty := ""
	if err := EnsureBoundedStringOptional(&empty, "field", 10); err != nil {
		t.Errorf("empty value should be accepted, got %v", err)
	}
	tooLong := "this is way too long"
	if err := EnsureBoundedStringOptional(&tooLong, "field", 5); err == nil {
		t.Error("expected an error for an over-length value")
	}
}

func TestAssertNoSecretLikeKeys(t *testing.T) {
	tests := []struct {
		name    string
		v       any
		wantErr bool
	}{
		{"clean map", map[string]any{"kind": "deploy", "replicas": 3}, false},
		{"banned top-level key", map[string]any{"token": "abc"}, true},
		{"underscored api_key not banned", map[string]any{"API_KEY": "x"}, false}, // normalized lookup key is "apikey", not "api_key"
		{"banned key with whitespace", map[string]any{" Token ": "x"}, true},
		{"nested in map", map[string]any{"outer": map[string]any{"password": "hunter2"}}, true},
		{"nested in array", map[string]any{"items": []any{map[string]any{"secret": "x"}}}, true},
		{"array of scalars", []any{"a", "b", 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := AssertNoSecretLikeKeys(tt.v)
			if (err != nil) != tt.wantErr {
				t.Errorf("AssertNoSecretLikeKeys(%v) error = %v, wantErr %v", tt.v, err, tt.wantErr)
			}
		})
	}
}

func TestNormalizeKind(t *testing.T) {
	tests := []struct {
		name    string
		kind    string
		wantErr bool
	}{
		{"valid simple", "deploy", false},
		{"valid with dots and dashes", "fleet.deploy-v2_1", false},
		{"empty rejected", "", true},
		{"space rejected", "deploy now", true},
		{"slash rejected", "deploy/now", true},
		{"too long rejected", strings.Repeat("a", maxKindLength+1), true},
		{"exactly max length accepted", strings.Repeat("a", maxKindLength), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeKind(tt.kind)
			if (err != nil) != tt.wantErr {
				t.Errorf("NormalizeKind(%q) error = %v, wantErr %v", tt.kind, err, tt.wantErr)
			}
			if err == nil && got != tt.kind {
				t.Errorf("NormalizeKind(%q) = %q, want unchanged", tt.kind, got)
			}
		})
	}
}

func TestValidateSealedEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"valid base64url", "eyJ2IjoxfQ", false},
		{"valid with dash and underscore", "a-b_c123", false},
		{"empty rejected", "", true},
		{"padding rejected", "abcd==", true},
		{"plus rejected", "ab+cd", true},
		{"slash rejected", "ab/cd", true},
		{"whitespace rejected", "ab cd", true},
		{"control character rejected", "ab\x00cd", true},
		{"over size cap rejected", strings.Repeat("A", MaxSealedEnvelopeBytes+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSealedEnvelope(tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSealedEnvelope(%.20q) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeDesiredHostSummaryClampsAndBounds(t *testing.T) {
	in := HostSummary{
		ServiceCount: -5,
		Ports:        []int{0, 70000, 8080},
		Tags:         []string{strings.Repeat("x", 300)},
	}

	got := SanitizeDesiredHostSummary(in)

	if got.ServiceCount != 0 {
		t.Errorf("ServiceCount = %d, want clamped to 0", got.ServiceCount)
	}
	if got.Ports[0] != minPort {
		t.Errorf("Ports[0] = %d, want clamped to %d", got.Ports[0], minPort)
	}
	if got.Ports[1] != maxPort {
		t.Errorf("Ports[1] = %d, want clamped to %d", got.Ports[1], maxPort)
	}
	if got.Ports[2] != 8080 {
		t.Errorf("Ports[2] = %d, want unchanged", got.Ports[2])
	}
	if len(got.Tags[0]) != maxSummaryEntry {
		t.Errorf("Tags[0] length = %d, want %d", len(got.Tags[0]), maxSummaryEntry)
	}
}

func TestSanitizeDesiredHostSummaryTruncatesArrays(t *testing.T) {
	ports := make([]int, maxSummaryArray+10)
	got := SanitizeDesiredHostSummary(HostSummary{Ports: ports})

	if len(got.Ports) != maxSummaryArray {
		t.Errorf("len(Ports) = %d, want truncated to %d", len(got.Ports), maxSummaryArray)
	}
}

func TestSanitizeDesiredGatewaySummaryClampsAndBounds(t *testing.T) {
	in := GatewaySummary{
		RouteCount: maxSummaryCount + 1,
		Ports:      []int{-10},
	}

	got := SanitizeDesiredGatewaySummary(in)

	if got.RouteCount != maxSummaryCount {
		t.Errorf("RouteCount = %d, want clamped to %d", got.RouteCount, maxSummaryCount)
	}
	if got.Ports[0] != minPort {
		t.Errorf("Ports[0] = %d, want clamped to %d", got.Ports[0], minPort)
	}
}
