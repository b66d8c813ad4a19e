package chain

import (
	"context"
	"database/sql"
	"sync/atomic"
)

// Tx is a data source bound to one transaction. It is meant for a single
// unit of work and must be finished exactly once with Commit or Rollback.
// It shares the parent's settings, instance events and schema source; the
// schema is read through the transaction.
type Tx struct {
	host
	parent  *DB
	tx      *sql.Tx
	schema  SchemaSource // parent's source, reading through tx
	release func()
	done    atomic.Bool
}

var _ DataSource = (*Tx)(nil)

func (t *Tx) Schema() SchemaSource { return t.schema }
func (t *Tx) Handle() *sql.Tx      { return t.tx }
func (t *Tx) Parent() *DB          { return t.parent }

func (t *Tx) Execute(ctx context.Context, token *ExecutionToken, impl Implementation, state any) (*int64, error) {
	if t.done.Load() {
		return nil, ErrTxDone
	}
	return t.run(ctx, t.tx, token, impl, state)
}

// Commit and Rollback end the transaction; a second call returns ErrTxDone.
func (t *Tx) Commit() error   { return t.finish(t.tx.Commit) }
func (t *Tx) Rollback() error { return t.finish(t.tx.Rollback) }

func (t *Tx) finish(fn func() error) error {
	if !t.done.CompareAndSwap(false, true) {
		return ErrTxDone
	}
	defer t.release()
	return fn()
}
