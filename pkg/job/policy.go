package job

import (
	"encoding/json"
	"fmt"

	"github.com/clawlets/controlplane/internal/apierr"
)

// PayloadPolicy validates a kind's payloadMeta beyond the generic hygiene
// checks. A nil meta means the job carries no payload.
type PayloadPolicy func(meta json.RawMessage) error

// maxPayloadMetaBytes bounds every job's non-secret payload metadata.
const maxPayloadMetaBytes = 64 * 1024

// payloadPolicies is the kind-keyed policy registry (spec.md §4.F.1 step
// 4). Kinds without an entry accept any payload that passed the generic
// checks.
var payloadPolicies = map[string]PayloadPolicy{
	"project_import": requireStringField("source"),
}

// validatePayloadPolicy applies the size bound common to every kind, then
// delegates to the kind's registered policy if any. Rejections surface as
// conflict (spec.md §4.F.1 step 4).
func validatePayloadPolicy(kind string, meta json.RawMessage) error {
	if meta != nil && len(meta) > maxPayloadMetaBytes {
		return apierr.Conflict(fmt.Sprintf("payload_meta exceeds maximum size of %d bytes", maxPayloadMetaBytes))
	}
	policy, ok := payloadPolicies[kind]
	if !ok {
		return nil
	}
	return policy(meta)
}

// requireStringField builds a policy that, when a payload is present,
// requires it to carry a non-empty string under field.
func requireStringField(field string) PayloadPolicy {
	return func(meta json.RawMessage) error {
		if meta == nil {
			return nil
		}
		var obj map[string]any
		if err := json.Unmarshal(meta, &obj); err != nil {
			return apierr.Conflict("payload_meta must be a JSON object for this kind")
		}
		s, ok := obj[field].(string)
		if !ok || s == "" {
			return apierr.Conflict(fmt.Sprintf("payload_meta requires a non-empty %q field for this kind", field))
		}
		return nil
	}
}
