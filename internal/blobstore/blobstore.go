// Package blobstore abstracts storage for result blobs (up to 5 MiB,
// spec.md §3) behind a small interface, with a PostgreSQL large-object
// backed default implementation. No object-storage SDK appears anywhere in
// the retrieved corpus, so this is documented as the one storage concern
// built on pgx's large-object API rather than a new cloud dependency — see
// DESIGN.md and SPEC_FULL.md's DOMAIN STACK section. Deletes are always
// best-effort: the database row, not the blob store, is authoritative
// (spec.md §7, §9).
package blobstore

import (
	"context"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5"
)

// Store persists and retrieves opaque result blobs.
type Store interface {
	// Put writes data and returns a storage-layer id plus its size in
	// bytes.
	Put(ctx context.Context, data []byte) (storageID string, size int64, err error)
	// Get reads back the blob for storageID.
	Get(ctx context.Context, storageID string) ([]byte, error)
	// Delete removes the blob. Best-effort: callers ignore errors per
	// spec.md §9.
	Delete(ctx context.Context, storageID string) error
}

// PostgresStore implements Store using pgx's large-object API against the
// same database the engine's relational state lives in, so there is no
// second system to keep consistent with the job/result tables (matching
// spec.md §9's "best-effort blob cleanup... database row is always
// truth").
type PostgresStore struct {
	conn Conn
}

// Conn is the subset of *pgxpool.Pool/*pgx.Conn the large-object API needs: a
// connection capable of starting its own large-object transaction context.
type Conn interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

func NewPostgresStore(conn Conn) *PostgresStore {
	return &PostgresStore{conn: conn}
}

// Put writes data as a new large object inside its own transaction and
// returns its OID (as a string) and size.
func (s *PostgresStore) Put(ctx context.Context, data []byte) (string, int64, error) {
	tx, err := s.conn.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", 0, fmt.Errorf("beginning blob transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	lo := tx.LargeObjects()
	oid, err := lo.Create(ctx, 0)
	if err != nil {
		return "", 0, fmt.Errorf("creating large object: %w", err)
	}

	obj, err := lo.Open(ctx, oid, pgx.LargeObjectModeWrite)
	if err != nil {
		return "", 0, fmt.Errorf("opening large object for write: %w", err)
	}

	n, err := obj.Write(data)
	if err != nil {
		return "", 0, fmt.Errorf("writing large object: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", 0, fmt.Errorf("committing blob write: %w", err)
	}

	return fmt.Sprintf("%d", oid), int64(n), nil
}

// Get reads back the large object identified by storageID.
func (s *PostgresStore) Get(ctx context.Context, storageID string) ([]byte, error) {
	oid, err := parseOID(storageID)
	if err != nil {
		return nil, err
	}

	tx, err := s.conn.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("beginning blob transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	lo := tx.LargeObjects()
	obj, err := lo.Open(ctx, oid, pgx.LargeObjectModeRead)
	if err != nil {
		return nil, fmt.Errorf("opening large object for read: %w", err)
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("reading large object: %w", err)
	}

	return data, tx.Commit(ctx)
}

// Delete removes the large object identified by storageID. Best-effort:
// callers ignore the returned error (spec.md §9).
func (s *PostgresStore) Delete(ctx context.Context, storageID string) error {
	oid, err := parseOID(storageID)
	if err != nil {
		return err
	}

	tx, err := s.conn.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("beginning blob transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	lo := tx.LargeObjects()
	if err := lo.Unlink(ctx, oid); err != nil {
		return fmt.Errorf("unlinking large object: %w", err)
	}

	return tx.Commit(ctx)
}

func parseOID(storageID string) (uint32, error) {
	var oid uint32
	if _, err := fmt.Sscanf(storageID, "%d", &oid); err != nil {
		return 0, fmt.Errorf("invalid blob storage id %q: %w", storageID, err)
	}
	return oid, nil
}
