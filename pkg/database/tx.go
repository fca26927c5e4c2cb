package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

type txKey struct{}

// Querier is the subset of sqlx shared by *sqlx.DB and *sqlx.Tx.
type Querier interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// InTx runs fn inside a transaction carried by the returned context.
// Repositories pick it up through Querier, so several stores share one
// atomic unit without passing *sqlx.Tx around.
//
// Nested calls join the outer transaction.
//
// When a lock timeout is configured it is applied with SET LOCAL, so a
// writer blocked on a row lock fails with lock_not_available instead of
// waiting indefinitely.
func (db *DB) InTx(ctx context.Context, fn func(context.Context) error) error {
	if db.getTx(ctx) != nil {
		return fn(ctx)
	}

	return db.Transaction(ctx, func(tx *sqlx.Tx) error {
		if db.lockTimeout > 0 {
			// SET LOCAL does not accept bind parameters
			stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", db.lockTimeout.Milliseconds())
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to set lock_timeout: %w", err)
			}
		}

		txCtx := context.WithValue(ctx, txKey{}, tx)
		return fn(txCtx)
	})
}

// Querier returns the transaction stored in ctx, or the pool
func (db *DB) Querier(ctx context.Context) Querier {
	if tx := db.getTx(ctx); tx != nil {
		return tx
	}
	return db.DB
}

// InTransaction reports whether ctx carries an open transaction
func (db *DB) InTransaction(ctx context.Context) bool {
	return db.getTx(ctx) != nil
}

// getTx extracts transaction from context if present
func (db *DB) getTx(ctx context.Context) *sqlx.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return nil
}
