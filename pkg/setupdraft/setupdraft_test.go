package setupdraft

import (
	"testing"
	"time"
)

func TestSectionValid(t *testing.T) {
	tests := []struct {
		section Section
		want    bool
	}{
		{SectionDeployCreds, true},
		{SectionBootstrapSecrets, true},
		{Section("deploycreds"), false},
		{Section(""), false},
		{Section("other"), false},
	}
	for _, tt := range tests {
		if got := tt.section.Valid(); got != tt.want {
			t.Errorf("Section(%q).Valid() = %v, want %v", tt.section, got, tt.want)
		}
	}
}

func TestStatusIsTerminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusDraft, false},
		{StatusCommitting, false},
		{StatusCommitted, true},
		{StatusFailed, true},
	}
	for _, tt := range tests {
		if got := tt.status.isTerminal(); got != tt.want {
			t.Errorf("Status(%q).isTerminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestDraftPruneExpiredClearsLapsedSections(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	d := Draft{
		Status:           StatusDraft,
		DeployCreds:      &SectionState{SealedInputB64: "abc", ExpiresAt: now.Add(-time.Minute)},
		BootstrapSecrets: &SectionState{SealedInputB64: "def", ExpiresAt: now.Add(time.Hour)},
		ExpiresAt:        now.Add(24 * time.Hour),
	}

	if expired := d.pruneExpired(now); expired {
		t.Fatal("pruneExpired() reported the shell expired while its TTL is in the future")
	}
	if d.DeployCreds != nil {
		t.Error("expired deployCreds section was not cleared")
	}
	if d.BootstrapSecrets == nil {
		t.Error("unexpired bootstrapSecrets section was cleared")
	}
}

func TestDraftPruneExpiredReportsLapsedShell(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	d := Draft{Status: StatusDraft, ExpiresAt: now.Add(-time.Second)}

	if expired := d.pruneExpired(now); !expired {
		t.Error("pruneExpired() did not report a lapsed shell TTL")
	}
}

func TestDraftSectionLookup(t *testing.T) {
	deploy := &SectionState{SealedInputB64: "abc"}
	d := Draft{DeployCreds: deploy}

	if got := d.section(SectionDeployCreds); got != deploy {
		t.Error("section(deployCreds) did not return the stored state")
	}
	if got := d.section(SectionBootstrapSecrets); got != nil {
		t.Error("section(bootstrapSecrets) should be nil on an empty section")
	}
	if got := d.section(Section("other")); got != nil {
		t.Error("section() should be nil for an unknown section")
	}
}

func TestSectionTTLsMatchSpec(t *testing.T) {
	if SecretTTL != 24*time.Hour {
		t.Errorf("SecretTTL = %v, want 24h", SecretTTL)
	}
	if DraftTTL != 7*24*time.Hour {
		t.Errorf("DraftTTL = %v, want 7d", DraftTTL)
	}
}
