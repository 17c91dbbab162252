// Package runner implements the Runner and Runner token entities and the
// token validator of spec.md §4.D, grounded on pkg/apikey's hash-at-rest +
// short-prefix mint pattern (crypto/rand + SHA-256, teacher's
// generateAPIKey) and pkg/pat's bound-token shape.
package runner

import (
	"encoding/base64"
	"time"

	"github.com/google/uuid"

	"github.com/clawlets/controlplane/internal/apierr"
	"github.com/clawlets/controlplane/internal/clock"
)

// Status is a runner's last-reported liveness.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// SealedInputAlg is the one algorithm tag spec.md §3 allows.
const SealedInputAlg = "rsa-oaep-3072/aes-256-gcm"

// Capabilities is a runner's declared capability record (spec.md §3).
type Capabilities struct {
	SupportsSealedInput bool    `json:"supports_sealed_input"`
	SealedInputAlg      *string `json:"sealed_input_alg,omitempty"`
	SealedInputKeyID    *string `json:"sealed_input_key_id,omitempty"`
	SPKIPublicKeyB64    *string `json:"spki_public_key_b64,omitempty"`
	SupportsInfraApply  bool    `json:"supports_infra_apply"`
	NixAvailable        bool    `json:"nix_available"`
}

// HasSealedInputCapability reports whether the capability triple
// (alg, keyId, SPKI) is complete and the algorithm matches the one
// supported value (spec.md §4.F.2).
func (c Capabilities) HasSealedInputCapability() bool {
	return c.SupportsSealedInput &&
		c.SealedInputAlg != nil && *c.SealedInputAlg == SealedInputAlg &&
		c.SealedInputKeyID != nil && *c.SealedInputKeyID != "" &&
		c.SPKIPublicKeyB64 != nil && *c.SPKIPublicKeyB64 != ""
}

// Validate rejects an inconsistent sealed-input capability record: when a
// runner declares sealed-input support, the triple must be complete, the
// algorithm must be the one supported tag, and the key id must equal the
// base64url-encoded SHA-256 of the decoded SPKI bytes (spec.md §3).
func (c Capabilities) Validate() error {
	if !c.SupportsSealedInput {
		return nil
	}
	if c.SealedInputAlg == nil || c.SealedInputKeyID == nil || c.SPKIPublicKeyB64 == nil {
		return apierr.Conflict("sealed-input capability requires alg, key id, and SPKI public key")
	}
	if *c.SealedInputAlg != SealedInputAlg {
		return apierr.Conflict("sealed-input alg must be " + SealedInputAlg)
	}
	spki, err := base64.StdEncoding.DecodeString(*c.SPKIPublicKeyB64)
	if err != nil {
		spki, err = base64.RawURLEncoding.DecodeString(*c.SPKIPublicKeyB64)
	}
	if err != nil {
		return apierr.Conflict("SPKI public key is not valid base64")
	}
	if clock.SHA256Base64URL(spki) != *c.SealedInputKeyID {
		return apierr.Conflict("sealed-input key id does not match the SPKI public key")
	}
	return nil
}

// Runner is a long-lived worker identity within a project.
type Runner struct {
	ID           uuid.UUID    `json:"id"`
	ProjectID    uuid.UUID    `json:"project_id"`
	Name         string       `json:"name"`
	Version      *string      `json:"version,omitempty"`
	Status       Status       `json:"status"`
	LastSeenAt   time.Time    `json:"last_seen_at"`
	Capabilities Capabilities `json:"capabilities"`
	CreatedAt    time.Time    `json:"created_at"`
}

// Token is an opaque bearer token bound to (project, runner), hashed with
// SHA-256 at rest (spec.md §3).
type Token struct {
	ID        uuid.UUID  `json:"id"`
	ProjectID uuid.UUID  `json:"project_id"`
	RunnerID  uuid.UUID  `json:"runner_id"`
	Prefix    string     `json:"prefix"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// CreateResponse shows the raw token once, at mint time (matches
// pkg/apikey.CreateResponse / pkg/pat.CreateResponse).
type CreateResponse struct {
	Token
	RawToken string `json:"raw_token"`
}

// HeartbeatRequest is POST /runner/heartbeat's body (spec.md §6).
type HeartbeatRequest struct {
	ProjectID    uuid.UUID     `json:"projectId" validate:"required"`
	RunnerName   string        `json:"runnerName" validate:"required,min=1,max=200"`
	Version      *string       `json:"version,omitempty"`
	Capabilities *Capabilities `json:"capabilities,omitempty"`
}

// HeartbeatResponse is POST /runner/heartbeat's response.
type HeartbeatResponse struct {
	OK       bool      `json:"ok"`
	RunnerID uuid.UUID `json:"runnerId"`
}

const tokenPrefixLen = 10

// GenerateToken mints a new bearer token the way pkg/apikey/service.go's
// generateAPIKey does: crypto/rand bytes, SHA-256 hash for storage, a short
// display prefix.
func GenerateToken() (raw, hash, prefix string) {
	raw = "rnr_" + clock.RandomToken()
	hash = clock.SHA256Hex(raw)
	prefix = raw[:tokenPrefixLen]
	return
}
