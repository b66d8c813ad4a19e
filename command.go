package chain

import (
	"context"
	"database/sql"
)

// Command is the native command handed to an Implementation: the token's
// text and arguments bound to the connection or transaction that runs them.
type Command struct {
	Text   string
	Kind   CommandKind
	Args   []any
	handle Handle
}

// Implementation performs the physical round trip for one materializer.
// It returns the number of affected rows when the command reports one.
type Implementation func(ctx context.Context, cmd *Command) (rowsAffected *int64, err error)

// Query runs the command for a row cursor.
func (c *Command) Query(ctx context.Context) (*sql.Rows, error) {
	return c.handle.QueryContext(ctx, c.Text, c.Args...)
}

// Exec runs the command for an affected-row count.
func (c *Command) Exec(ctx context.Context) (sql.Result, error) {
	return c.handle.ExecContext(ctx, c.Text, c.Args...)
}
