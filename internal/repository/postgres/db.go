package postgres

import (
	"context"
	"database/sql"
	"errors"
)

// Querier is satisfied by both *sql.DB and *sql.Tx, so repository methods run
// the same inside or outside a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

var (
	_ Querier = (*sql.DB)(nil)
	_ Querier = (*sql.Tx)(nil)
)

// inTx runs fn in a transaction, committing if it returns nil and rolling
// back otherwise.
func inTx(ctx context.Context, db *sql.DB, fn func(q Querier) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = errors.Join(err, rbErr)
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
