// Package resultstore implements the Runner-command-result entity of
// spec.md §3/§4.E: small-JSON and blob result holders with TTL and
// read-once semantics, grounded on pkg/incident/store.go's raw-SQL scanning
// idiom.
package resultstore

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	// ResultTTL is how long a result row survives before purgeExpired
	// reclaims it (spec.md §3).
	ResultTTL = 5 * time.Minute

	// MaxSmallBytes bounds a putSmall payload (spec.md §3).
	MaxSmallBytes = 512 * 1024
	// MaxBlobBytes bounds a putBlob payload (spec.md §3).
	MaxBlobBytes = 5 * 1024 * 1024
)

// Small is a small-JSON result row.
type Small struct {
	JobID      uuid.UUID       `json:"job_id"`
	ProjectID  uuid.UUID       `json:"project_id"`
	RunID      uuid.UUID       `json:"run_id"`
	Data       json.RawMessage `json:"data"`
	CreatedAt  time.Time       `json:"created_at"`
	ExpiresAt  time.Time       `json:"expires_at"`
	ConsumedAt *time.Time      `json:"consumed_at,omitempty"`
}

// Blob is a storage-backed result row.
type Blob struct {
	JobID      uuid.UUID  `json:"job_id"`
	ProjectID  uuid.UUID  `json:"project_id"`
	RunID      uuid.UUID  `json:"run_id"`
	StorageID  string     `json:"storage_id"`
	Size       int64      `json:"size"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
}

// Taken is the disjoint result of a successful Take call: exactly one of
// Small/Blob is populated, matching spec.md §4.E "the small/blob variants
// are disjoint".
type Taken struct {
	Small *Small
	Blob  *Blob
}
