// Package redact implements the content-redaction utility spec.md §1 names
// as an external collaborator ("a content-redaction utility for free-form
// log messages"). No third-party scrubbing library appears anywhere in the
// retrieved corpus, so this is implemented with regexp against the same
// categories internal/audit/audit.go's clientIP/header handling already
// treats as sensitive request metadata (Authorization headers, credentials
// in URLs) — see DESIGN.md for the stdlib justification.
package redact

import "regexp"

const Placeholder = "[redacted]"

var (
	authHeaderRe = regexp.MustCompile(`(?i)(authorization\s*:\s*)(bearer|basic)\s+\S+`)
	userinfoRe   = regexp.MustCompile(`([a-zA-Z][a-zA-Z0-9+.-]*://)[^/\s@]+:[^/\s@]+@`)
	queryTokenRe = regexp.MustCompile(`(?i)([?&](?:token|access_token|api_key|apikey|secret|password)=)[^&\s]+`)
	kvSecretRe   = regexp.MustCompile(`(?i)\b(token|apikey|api_key|privatekey|private_key|password|secret)\s*[=:]\s*\S+`)
)

// Message redacts known secret-bearing patterns from a free-form string:
// Authorization headers, URL userinfo, query-string token parameters, and
// bare key=value / key: value assignments for token-like keys. It is used
// by pkg/job's complete() (spec.md §4.F.6) to sanitize runner-reported
// failure messages before persistence, by the run/project projector
// (§4.G), and by sanitizeRunnerRunEventsForStorage (§4.L).
func Message(s string) string {
	s = authHeaderRe.ReplaceAllString(s, "${1}${2} "+Placeholder)
	s = userinfoRe.ReplaceAllString(s, "${1}"+Placeholder+"@")
	s = queryTokenRe.ReplaceAllString(s, "${1}"+Placeholder)
	s = kvSecretRe.ReplaceAllString(s, "${1}="+Placeholder)
	return s
}
