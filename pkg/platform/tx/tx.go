// Package tx carries an open SQL transaction through a context so that store
// methods called inside a unit of work pick it up instead of the pool.
package tx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type ctxKey struct{}

var txKey = ctxKey{}

// DefaultTimeout bounds a unit of work when the caller passes none.
const DefaultTimeout = 5 * time.Second

// WithTx stores a SQL transaction in context for downstream store usage.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, tx)
}

// From extracts a SQL transaction from context if present.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey).(*sql.Tx)
	return tx, ok
}

// Querier is the subset of *sql.DB and *sql.Tx used by stores.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Pick returns the transaction in ctx when present, otherwise db.
func Pick(ctx context.Context, db *sql.DB) Querier {
	if t, ok := From(ctx); ok {
		return t
	}
	return db
}

// Run executes fn inside a transaction bounded by timeout. fn receives a
// context carrying the transaction. The transaction commits only when fn
// returns nil.
func Run(ctx context.Context, db *sql.DB, timeout time.Duration, opts *sql.TxOptions, fn func(ctx context.Context, t *sql.Tx) error) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	txCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	t, err := db.BeginTx(txCtx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = t.Rollback()
		}
	}()

	if err := fn(WithTx(txCtx, t), t); err != nil {
		return err
	}
	if err := t.Commit(); err != nil {
		if errors.Is(txCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("commit tx: %w", context.DeadlineExceeded)
		}
		return fmt.Errorf("commit tx: %w", err)
	}
	committed = true
	return nil
}
