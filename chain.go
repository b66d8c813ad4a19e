package chain

import (
	"context"
	"database/sql"
)

// Querier is implemented by *sql.DB, *sql.Tx, *sql.Conn, and any wrapper
// that can execute a query returning rows.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Execer is implemented by *sql.DB, *sql.Tx, *sql.Conn, and any wrapper
// that can execute a statement that does not return rows.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Handle is the native connection a Command runs against.
type Handle interface {
	Querier
	Execer
}

// Link is one node of an execution chain. Materializers and appenders are
// links; command builders are the root they terminate.
type Link[T any] interface {
	// DataSource is inherited from the root builder.
	DataSource() DataSource

	// SQL renders the command text without executing it.
	SQL() (string, error)

	// Execute runs the chain with a background context.
	Execute(state any) (T, error)

	// ExecuteContext runs the chain. state is passed through to events.
	ExecuteContext(ctx context.Context, state any) (T, error)

	// OnTokenPrepared registers h to run after the token is built and
	// before it is executed.
	OnTokenPrepared(h TokenHook)

	// Err reports an error detected while the chain was built. Execute
	// returns it without touching the database.
	Err() error
}

// Outcome is the result of an asynchronous execution.
type Outcome[T any] struct {
	Value T
	Err   error
}

// Go executes l on a new goroutine. The channel receives exactly one
// Outcome and is then closed.
func Go[T any](ctx context.Context, l Link[T], state any) <-chan Outcome[T] {
	ch := make(chan Outcome[T], 1)
	if l == nil {
		ch <- Outcome[T]{Err: ErrInvalidLink}
		close(ch)
		return ch
	}
	go func() {
		defer close(ch)
		v, err := l.ExecuteContext(ctx, state)
		ch <- Outcome[T]{Value: v, Err: err}
	}()
	return ch
}
