// Package setupdraft implements the Setup draft entity of spec.md §3: a
// pending-configuration scratchpad per (project, host) holding two sealed
// sections (deployCreds, bootstrapSecrets) with their own TTLs, an
// optimistic version counter, and a draft/committing/committed/failed
// lifecycle. Grounded on pkg/job's Service/Store layering and pkg/erasure's
// two-phase start/confirm protocol shape.
package setupdraft

import (
	"time"

	"github.com/google/uuid"
)

// Section names one of the draft's two sealed sections.
type Section string

const (
	SectionDeployCreds      Section = "deployCreds"
	SectionBootstrapSecrets Section = "bootstrapSecrets"
)

// Valid reports whether s is one of the two known sections.
func (s Section) Valid() bool {
	return s == SectionDeployCreds || s == SectionBootstrapSecrets
}

// Status is a draft's lifecycle state (spec.md §3).
type Status string

const (
	StatusDraft      Status = "draft"
	StatusCommitting Status = "committing"
	StatusCommitted  Status = "committed"
	StatusFailed     Status = "failed"
)

func (s Status) isTerminal() bool {
	return s == StatusCommitted || s == StatusFailed
}

const (
	// SecretTTL bounds how long a section's sealed envelope survives
	// (spec.md §3 "secrets 24 h").
	SecretTTL = 24 * time.Hour
	// DraftTTL bounds the non-secret draft shell itself (spec.md §3
	// "non-secret 7 d").
	DraftTTL = 7 * 24 * time.Hour
)

// SectionState is one stored section: the sealed envelope plus its expiry.
// An expired section reads back as absent from Service.Get, which also
// clears the lapsed ciphertext; writes leave it in place unless the draft
// shell itself has lapsed, in which case the whole row is replaced.
type SectionState struct {
	SealedInputB64 string    `json:"sealed_input_b64"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Draft is the scratchpad row for one (project, host) pair.
type Draft struct {
	ProjectID        uuid.UUID     `json:"project_id"`
	HostName         string        `json:"host_name"`
	Status           Status        `json:"status"`
	Version          int64         `json:"version"`
	DeployCreds      *SectionState `json:"deploy_creds,omitempty"`
	BootstrapSecrets *SectionState `json:"bootstrap_secrets,omitempty"`
	ExpiresAt        time.Time     `json:"expires_at"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// section returns the named section's state, or nil.
func (d Draft) section(s Section) *SectionState {
	switch s {
	case SectionDeployCreds:
		return d.DeployCreds
	case SectionBootstrapSecrets:
		return d.BootstrapSecrets
	}
	return nil
}

// pruneExpired clears expired sections in place and reports whether the
// draft shell itself has lapsed.
func (d *Draft) pruneExpired(now time.Time) (expired bool) {
	if d.DeployCreds != nil && !d.DeployCreds.ExpiresAt.After(now) {
		d.DeployCreds = nil
	}
	if d.BootstrapSecrets != nil && !d.BootstrapSecrets.ExpiresAt.After(now) {
		d.BootstrapSecrets = nil
	}
	return !d.ExpiresAt.After(now)
}
