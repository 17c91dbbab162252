// Package db defines the minimal tx-agnostic database handle used by every
// store in this repository. There is no generated query layer (sqlc) in
// this repo; stores write SQL directly against DBTX, the way
// pkg/incident/store.go does in the teacher repo.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is satisfied by *pgxpool.Pool, pgx.Tx, and *pgxpool.Conn. Stores take
// a DBTX so the same code runs against a pooled connection or an explicit
// transaction without duplication.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Tx is the subset of pgx.Tx this repo relies on for transactional
// operations that span more than one statement (lease acquisition,
// sealed-input finalize, erasure staging).
type Tx interface {
	DBTX
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// WithTx runs fn inside a serializable transaction, committing on success
// and rolling back on error or panic. Every mutating lease-engine operation
// in pkg/job uses this so reads and writes within one operation observe a
// consistent snapshot, per spec.md §5.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(tx pgx.Tx) error) (err error) {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}
