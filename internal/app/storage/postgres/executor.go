package postgres

import (
	"context"
	"database/sql"

	"github.com/vglm/addressology/pkg/logger"
)

// Querier is the subset of database/sql shared by *sql.DB and *sql.Tx. Every
// query in this package goes through it, so a Store works identically on the
// pool and inside a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var _ Querier = (*sql.DB)(nil)
var _ Querier = (*sql.Tx)(nil)

// executor wraps a Querier with transaction bookkeeping. Commit and Rollback
// on a pool-backed executor log a warning and return nil, so code written for
// a transaction degrades gracefully when handed the bare pool.
type executor struct {
	q   Querier
	tx  *sql.Tx
	log *logger.Logger
}

func (e executor) commit() error {
	if e.tx == nil {
		e.log.Warnf("commit called on a pool connection, ignoring")
		return nil
	}
	return e.tx.Commit()
}

func (e executor) rollback() error {
	if e.tx == nil {
		e.log.Warnf("rollback called on a pool connection, ignoring")
		return nil
	}
	if err := e.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return err
	}
	return nil
}
