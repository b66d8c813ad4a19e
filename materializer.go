package chain

import (
	"context"
	"fmt"
	"sync"
)

// Materializer terminates a command builder and turns its raw result into
// a T. It is a Link[T]; appenders wrap it.
//
// A materializer reads the whole result into a Table while the data source
// holds its lock and converts it afterwards, so a slow conversion never
// blocks other commands.
type Materializer[T any] struct {
	builder   CommandBuilder
	desired   ColumnSelection
	exec      bool
	fromTable func(ds DataSource, t *Table) (T, error)
	fromCount func(n *int64) (T, error)
	err       error

	mu    sync.Mutex
	hooks []TokenHook
}

var _ Link[int64] = (*Materializer[int64])(nil)

// FromTable builds a materializer that queries b for the desired columns and
// passes the resulting snapshot to convert. Provider packages use it to add
// their own result shapes.
func FromTable[T any](b CommandBuilder, desired ColumnSelection, convert func(ds DataSource, t *Table) (T, error)) *Materializer[T] {
	m := &Materializer[T]{builder: b, desired: desired, fromTable: convert}
	m.check()
	if convert == nil && m.err == nil {
		m.err = fmt.Errorf("%w: nil conversion", ErrInvalidLink)
	}
	return m
}

// FromRowsAffected builds a materializer for a command that returns no rows.
func FromRowsAffected[T any](b CommandBuilder, convert func(n *int64) (T, error)) *Materializer[T] {
	m := &Materializer[T]{builder: b, desired: NoColumns, exec: true, fromCount: convert}
	m.check()
	if convert == nil && m.err == nil {
		m.err = fmt.Errorf("%w: nil conversion", ErrInvalidLink)
	}
	return m
}

func (m *Materializer[T]) check() {
	switch {
	case m.builder == nil:
		m.err = fmt.Errorf("%w: nil command builder", ErrInvalidLink)
	case m.builder.Err() != nil:
		m.err = m.builder.Err()
	}
}

// DesiredColumns is the selection passed to the builder.
func (m *Materializer[T]) DesiredColumns() ColumnSelection { return m.desired }

func (m *Materializer[T]) DataSource() DataSource {
	if m.builder == nil {
		return nil
	}
	return m.builder.DataSource()
}

func (m *Materializer[T]) Err() error { return m.err }

// SQL returns the builder's text for the desired columns. No hooks run and
// nothing is executed, though builders that read table metadata may consult
// the schema.
func (m *Materializer[T]) SQL() (string, error) {
	if m.err != nil {
		return "", m.err
	}
	tok, err := m.builder.Prepare(context.Background(), m.desired)
	if err != nil {
		return "", err
	}
	return tok.CommandText(), nil
}

func (m *Materializer[T]) OnTokenPrepared(h TokenHook) {
	if h == nil {
		return
	}
	m.mu.Lock()
	m.hooks = append(m.hooks, h)
	m.mu.Unlock()
}

func (m *Materializer[T]) Execute(state any) (T, error) {
	return m.ExecuteContext(context.Background(), state)
}

func (m *Materializer[T]) ExecuteContext(ctx context.Context, state any) (T, error) {
	var zero T
	if m.err != nil {
		return zero, m.err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	token, err := m.builder.Prepare(ctx, m.desired)
	if err != nil {
		return zero, err
	}
	m.mu.Lock()
	hooks := append([]TokenHook(nil), m.hooks...)
	m.mu.Unlock()
	for _, h := range append(hooks, hooksFrom(ctx)...) {
		h(token)
	}

	ds := m.builder.DataSource()
	if m.exec {
		n, err := ds.Execute(ctx, token, execImplementation, state)
		if err != nil {
			return zero, err
		}
		return m.fromCount(n)
	}

	var table *Table
	_, err = ds.Execute(ctx, token, func(ctx context.Context, cmd *Command) (*int64, error) {
		rows, err := cmd.Query(ctx)
		if err != nil {
			return nil, err
		}
		t, err := NewTable(rows)
		if err != nil {
			return nil, err
		}
		table = t
		return nil, nil
	}, state)
	if err != nil {
		return zero, err
	}
	return m.fromTable(ds, table)
}

func execImplementation(ctx context.Context, cmd *Command) (*int64, error) {
	res, err := cmd.Exec(ctx)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, nil // driver does not report a count
	}
	return &n, nil
}

// mapOptions merges the data source defaults with per-call options.
func mapOptions(ds DataSource, opts []MapOption) MapOptions {
	if ds == nil {
		return mapOptionsFrom(Settings{}, opts)
	}
	return mapOptionsFrom(ds.Settings(), opts)
}
