// Package validate implements the shared contract-enforcement helpers of
// spec.md §4.L, used by every mutating entrypoint (job enqueue/reserve,
// metadata ingest, audit log writes). Distinct from
// internal/httpserver.Validate, which handles JSON-struct-tag validation at
// the HTTP edge: these validators enforce domain-level shape and hygiene
// rules that apply regardless of transport.
package validate

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/clawlets/controlplane/internal/apierr"
)

// secretLikeKeys is the banned key set for payloadMeta (spec.md §4.F.1):
// any key whose lowercased, trimmed name matches one of these is rejected,
// wherever it appears in the JSON tree.
var secretLikeKeys = map[string]bool{
	"value": true, "token": true, "key": true, "password": true,
	"secret": true, "apikey": true, "privatekey": true,
}

// EnsureBoundedString validates that value is non-empty and at most max
// runes, returning a conflict error naming field otherwise.
func EnsureBoundedString(value, field string, max int) error {
	if value == "" {
		return apierr.Conflict(fmt.Sprintf("%s must not be empty", field))
	}
	if n := len([]rune(value)); n > max {
		return apierr.Conflict(fmt.Sprintf("%s exceeds maximum length of %d", field, max))
	}
	if containsControl(value) {
		return apierr.Conflict(fmt.Sprintf("%s contains control characters", field))
	}
	return nil
}

// EnsureBoundedStringOptional is EnsureBoundedString's optional variant: a
// nil or empty value is accepted.
func EnsureBoundedStringOptional(value *string, field string, max int) error {
	if value == nil || *value == "" {
		return nil
	}
	return EnsureBoundedString(*value, field, max)
}

func containsControl(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return true
		}
	}
	return false
}

// AssertNoSecretLikeKeys walks an arbitrary decoded-JSON value (the result
// of json.Unmarshal into any) and rejects it if any object key, lowercased
// and trimmed, is in the banned set. This is the pre-insert filter behind
// testable property §8.5 ("no plaintext secrets at rest").
func AssertNoSecretLikeKeys(v any) error {
	return walkForSecrets(v)
}

func walkForSecrets(v any) error {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			norm := strings.ToLower(strings.TrimSpace(k))
			if secretLikeKeys[norm] {
				return apierr.Conflict(fmt.Sprintf("payload meta contains a secret-like key %q", k))
			}
			if err := walkForSecrets(val); err != nil {
				return err
			}
		}
	case []any:
		for _, item := range t {
			if err := walkForSecrets(item); err != nil {
				return err
			}
		}
	}
	return nil
}

// kindPattern is the charset job/run "kind" values must match (spec.md §3).
var kindPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

const maxKindLength = 128

// NormalizeKind validates and returns kind, enforcing the job-kind charset
// and bounded length (spec.md §4.F.1 step 2).
func NormalizeKind(kind string) (string, error) {
	if kind == "" {
		return "", apierr.Conflict("kind must not be empty")
	}
	if len(kind) > maxKindLength {
		return "", apierr.Conflict(fmt.Sprintf("kind exceeds maximum length of %d", maxKindLength))
	}
	if !kindPattern.MatchString(kind) {
		return "", apierr.Conflict("kind must match ^[A-Za-z0-9._-]+$")
	}
	return kind, nil
}

// sealedEnvelopePattern is the base64url charset a sealed-input envelope
// must match (spec.md §3 "Sealed-input envelope").
var sealedEnvelopePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// MaxSealedEnvelopeBytes bounds a sealed-input envelope (spec.md §3).
const MaxSealedEnvelopeBytes = 2 * 1024 * 1024

// ValidateSealedEnvelope checks the operator-supplied opaque envelope:
// non-empty, base64url charset only, at most 2 MiB (spec.md §3). The
// charset check also excludes control characters, so no separate scan is
// needed.
func ValidateSealedEnvelope(s string) error {
	if s == "" {
		return apierr.Conflict("sealed input must not be empty")
	}
	if len(s) > MaxSealedEnvelopeBytes {
		return apierr.Conflict(fmt.Sprintf("sealed input exceeds maximum length of %d bytes", MaxSealedEnvelopeBytes))
	}
	if !sealedEnvelopePattern.MatchString(s) {
		return apierr.Conflict("sealed input must be base64url ([A-Za-z0-9_-]+)")
	}
	return nil
}

const (
	maxSummaryCount = 10000
	maxSummaryArray = 256
	maxSummaryEntry = 256
	minPort         = 1
	maxPort         = 65535
)

// HostSummary is the shape sanitizeDesiredHostSummary operates on: a
// free-form declarative summary of a host's desired state reported by a
// runner during metadata sync.
type HostSummary struct {
	ServiceCount int      `json:"service_count"`
	Ports        []int    `json:"ports"`
	Tags         []string `json:"tags"`
}

// SanitizeDesiredHostSummary clips counts to [0, 10000], ports to
// [1, 65535], and arrays to their first 256 entries, each entry bounded to
// 256 runes (spec.md §4.L).
func SanitizeDesiredHostSummary(s HostSummary) HostSummary {
	out := HostSummary{ServiceCount: clamp(s.ServiceCount, 0, maxSummaryCount)}

	ports := s.Ports
	if len(ports) > maxSummaryArray {
		ports = ports[:maxSummaryArray]
	}
	out.Ports = make([]int, len(ports))
	for i, p := range ports {
		out.Ports[i] = clamp(p, minPort, maxPort)
	}

	out.Tags = boundedStrings(s.Tags, maxSummaryArray, maxSummaryEntry)
	return out
}

// GatewaySummary mirrors HostSummary for gateway desired-state reports.
type GatewaySummary struct {
	RouteCount int      `json:"route_count"`
	Ports      []int    `json:"ports"`
	Tags       []string `json:"tags"`
}

// SanitizeDesiredGatewaySummary is SanitizeDesiredHostSummary's gateway
// counterpart.
func SanitizeDesiredGatewaySummary(s GatewaySummary) GatewaySummary {
	out := GatewaySummary{RouteCount: clamp(s.RouteCount, 0, maxSummaryCount)}

	ports := s.Ports
	if len(ports) > maxSummaryArray {
		ports = ports[:maxSummaryArray]
	}
	out.Ports = make([]int, len(ports))
	for i, p := range ports {
		out.Ports[i] = clamp(p, minPort, maxPort)
	}

	out.Tags = boundedStrings(s.Tags, maxSummaryArray, maxSummaryEntry)
	return out
}

func boundedStrings(in []string, maxCount, maxLen int) []string {
	if len(in) > maxCount {
		in = in[:maxCount]
	}
	out := make([]string, len(in))
	for i, s := range in {
		if r := []rune(s); len(r) > maxLen {
			s = string(r[:maxLen])
		}
		out[i] = s
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
