package resultstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clawlets/controlplane/internal/blobstore"
	"github.com/clawlets/controlplane/internal/clock"
	"github.com/clawlets/controlplane/internal/db"
)

// Store implements spec.md §4.E against two sibling tables
// (result_smalls, result_blobs), keyed on job_id with a secondary index on
// expires_at.
type Store struct {
	dbtx  db.DBTX
	blobs blobstore.Store
}

func NewStore(dbtx db.DBTX, blobs blobstore.Store) *Store {
	return &Store{dbtx: dbtx, blobs: blobs}
}

// PutSmall validates, re-canonicalizes, and inserts a small-JSON result,
// first deleting any prior rows for the same job (spec.md §4.E).
func (s *Store) PutSmall(ctx context.Context, projectID, runID, jobID uuid.UUID, data json.RawMessage) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("result data is not valid JSON: %w", err)
	}
	if _, isObj := v.(map[string]any); !isObj {
		return fmt.Errorf("result data must be a JSON object")
	}

	canonical, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("re-canonicalizing result data: %w", err)
	}
	if len(canonical) > MaxSmallBytes {
		return fmt.Errorf("result data exceeds %d bytes", MaxSmallBytes)
	}

	if _, err := s.dbtx.Exec(ctx, `DELETE FROM result_smalls WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("clearing prior small results: %w", err)
	}
	if _, err := s.deleteBlobRowsForJob(ctx, jobID); err != nil {
		return err
	}

	now := clock.Now()
	_, err = s.dbtx.Exec(ctx, `
		INSERT INTO result_smalls (job_id, project_id, run_id, data, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		jobID, projectID, runID, canonical, now, now.Add(ResultTTL),
	)
	if err != nil {
		return fmt.Errorf("inserting small result: %w", err)
	}
	return nil
}

// PutBlob validates the size bound and inserts a blob-backed result,
// deleting prior rows for the same job (and their backing blobs,
// best-effort).
func (s *Store) PutBlob(ctx context.Context, projectID, runID, jobID uuid.UUID, storageID string, size int64) error {
	if size > MaxBlobBytes {
		return fmt.Errorf("blob result exceeds %d bytes", MaxBlobBytes)
	}

	if _, err := s.dbtx.Exec(ctx, `DELETE FROM result_smalls WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("clearing prior small results: %w", err)
	}
	if _, err := s.deleteBlobRowsForJob(ctx, jobID); err != nil {
		return err
	}

	now := clock.Now()
	_, err := s.dbtx.Exec(ctx, `
		INSERT INTO result_blobs (job_id, project_id, run_id, storage_id, size, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		jobID, projectID, runID, storageID, size, now, now.Add(ResultTTL),
	)
	if err != nil {
		return fmt.Errorf("inserting blob result: %w", err)
	}
	return nil
}

// Take implements read-once retrieval: it fetches all rows for job, keeps
// those matching (projectID, runID) and unexpired, picks the newest, and
// deletes the rest (and their blobs, best-effort). The chosen blob row is
// marked consumed; the chosen small row is deleted outright — either way
// the next Take returns nil (spec.md §4.E, testable property §8.6).
func (s *Store) Take(ctx context.Context, projectID, runID, jobID uuid.UUID) (*Taken, error) {
	now := clock.Now()

	smallRows, err := s.dbtx.Query(ctx, `
		SELECT job_id, project_id, run_id, data, created_at, expires_at, consumed_at
		FROM result_smalls WHERE job_id = $1`, jobID)
	if err != nil {
		return nil, fmt.Errorf("querying small results: %w", err)
	}
	var smalls []Small
	for smallRows.Next() {
		var sm Small
		if err := smallRows.Scan(&sm.JobID, &sm.ProjectID, &sm.RunID, &sm.Data, &sm.CreatedAt, &sm.ExpiresAt, &sm.ConsumedAt); err != nil {
			smallRows.Close()
			return nil, fmt.Errorf("scanning small result: %w", err)
		}
		smalls = append(smalls, sm)
	}
	smallRows.Close()
	if err := smallRows.Err(); err != nil {
		return nil, err
	}

	blobRows, err := s.dbtx.Query(ctx, `
		SELECT job_id, project_id, run_id, storage_id, size, created_at, expires_at, consumed_at
		FROM result_blobs WHERE job_id = $1`, jobID)
	if err != nil {
		return nil, fmt.Errorf("querying blob results: %w", err)
	}
	var blobs []Blob
	for blobRows.Next() {
		var b Blob
		if err := blobRows.Scan(&b.JobID, &b.ProjectID, &b.RunID, &b.StorageID, &b.Size, &b.CreatedAt, &b.ExpiresAt, &b.ConsumedAt); err != nil {
			blobRows.Close()
			return nil, fmt.Errorf("scanning blob result: %w", err)
		}
		blobs = append(blobs, b)
	}
	blobRows.Close()
	if err := blobRows.Err(); err != nil {
		return nil, err
	}

	var chosenSmall *Small
	var chosenBlob *Blob
	var newest time.Time

	for i := range smalls {
		sm := smalls[i]
		if sm.ProjectID != projectID || sm.RunID != runID || sm.ConsumedAt != nil || !sm.ExpiresAt.After(now) {
			continue
		}
		if (chosenSmall == nil && chosenBlob == nil) || sm.CreatedAt.After(newest) {
			chosenSmall, chosenBlob, newest = &sm, nil, sm.CreatedAt
		}
	}
	for i := range blobs {
		b := blobs[i]
		if b.ProjectID != projectID || b.RunID != runID || b.ConsumedAt != nil || !b.ExpiresAt.After(now) {
			continue
		}
		if (chosenSmall == nil && chosenBlob == nil) || b.CreatedAt.After(newest) {
			chosenBlob, chosenSmall, newest = &b, nil, b.CreatedAt
		}
	}

	// Delete every row for the job except the chosen one; best-effort
	// blob cleanup for discarded blob rows.
	for i := range smalls {
		if chosenSmall != nil && smalls[i].CreatedAt.Equal(chosenSmall.CreatedAt) && chosenBlob == nil {
			continue
		}
		_, _ = s.dbtx.Exec(ctx, `DELETE FROM result_smalls WHERE job_id = $1 AND created_at = $2`, jobID, smalls[i].CreatedAt)
	}
	for i := range blobs {
		if chosenBlob != nil && blobs[i].StorageID == chosenBlob.StorageID {
			continue
		}
		_, _ = s.dbtx.Exec(ctx, `DELETE FROM result_blobs WHERE job_id = $1 AND storage_id = $2`, jobID, blobs[i].StorageID)
		if s.blobs != nil {
			_ = s.blobs.Delete(ctx, blobs[i].StorageID)
		}
	}

	switch {
	case chosenSmall != nil:
		_, err := s.dbtx.Exec(ctx, `DELETE FROM result_smalls WHERE job_id = $1 AND created_at = $2`, jobID, chosenSmall.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("consuming small result: %w", err)
		}
		return &Taken{Small: chosenSmall}, nil
	case chosenBlob != nil:
		_, err := s.dbtx.Exec(ctx, `UPDATE result_blobs SET consumed_at = $3 WHERE job_id = $1 AND storage_id = $2`, jobID, chosenBlob.StorageID, now)
		if err != nil {
			return nil, fmt.Errorf("consuming blob result: %w", err)
		}
		return &Taken{Blob: chosenBlob}, nil
	default:
		return nil, nil
	}
}

// PurgeExpired deletes expired rows from both tables in limit-sized
// batches, best-effort deleting backing blobs (spec.md §4.E).
func (s *Store) PurgeExpired(ctx context.Context, limit int) (deleted int, err error) {
	now := clock.Now()

	tag, err := s.dbtx.Exec(ctx, `
		DELETE FROM result_smalls WHERE job_id IN (
			SELECT job_id FROM result_smalls WHERE expires_at <= $1 LIMIT $2
		)`, now, limit)
	if err != nil {
		return 0, fmt.Errorf("purging expired small results: %w", err)
	}
	deleted += int(tag.RowsAffected())

	rows, err := s.dbtx.Query(ctx, `SELECT storage_id FROM result_blobs WHERE expires_at <= $1 LIMIT $2`, now, limit)
	if err != nil {
		return deleted, fmt.Errorf("selecting expired blob results: %w", err)
	}
	var storageIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return deleted, fmt.Errorf("scanning expired blob result: %w", err)
		}
		storageIDs = append(storageIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return deleted, err
	}

	for _, id := range storageIDs {
		if _, err := s.dbtx.Exec(ctx, `DELETE FROM result_blobs WHERE storage_id = $1`, id); err != nil {
			return deleted, fmt.Errorf("deleting expired blob result row: %w", err)
		}
		deleted++
		if s.blobs != nil {
			_ = s.blobs.Delete(ctx, id)
		}
	}

	return deleted, nil
}

func (s *Store) deleteBlobRowsForJob(ctx context.Context, jobID uuid.UUID) (int, error) {
	rows, err := s.dbtx.Query(ctx, `SELECT storage_id FROM result_blobs WHERE job_id = $1`, jobID)
	if err != nil {
		return 0, fmt.Errorf("selecting prior blob results: %w", err)
	}
	var storageIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scanning prior blob result: %w", err)
		}
		storageIDs = append(storageIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	if _, err := s.dbtx.Exec(ctx, `DELETE FROM result_blobs WHERE job_id = $1`, jobID); err != nil {
		return 0, fmt.Errorf("deleting prior blob results: %w", err)
	}

	if s.blobs != nil {
		for _, id := range storageIDs {
			_ = s.blobs.Delete(ctx, id)
		}
	}
	return len(storageIDs), nil
}
