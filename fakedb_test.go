package chain

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"sync"
	"testing"
)

// QueryHandler answers a query on the fake driver.
type QueryHandler func(ctx context.Context, query string, args []driver.NamedValue) (cols []string, rows [][]driver.Value, err error)

// ExecHandler answers a statement on the fake driver.
type ExecHandler func(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error)

// fakeDB is an in-memory database/sql driver. Handlers receive the caller's
// context so a test can block until it is canceled.
type fakeDB struct {
	query QueryHandler
	exec  ExecHandler

	mu        sync.Mutex
	begins    int
	commits   int
	rollbacks int
	queries   []string
}

func (f *fakeDB) record(q string) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()
}

func (f *fakeDB) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

type testConnector struct{ f *fakeDB }

func (c *testConnector) Connect(context.Context) (driver.Conn, error) { return &testConn{f: c.f}, nil }
func (c *testConnector) Driver() driver.Driver                        { return testDriver{} }

type testDriver struct{}

func (testDriver) Open(name string) (driver.Conn, error) {
	return nil, errors.New("testDriver.Open should not be called; use sql.OpenDB with connector")
}

type testConn struct{ f *fakeDB }

func (c *testConn) Prepare(string) (driver.Stmt, error) { return nil, driver.ErrSkip }
func (c *testConn) Close() error                        { return nil }
func (c *testConn) Begin() (driver.Tx, error)           { return c.BeginTx(context.Background(), driver.TxOptions{}) }

func (c *testConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	c.f.mu.Lock()
	c.f.begins++
	c.f.mu.Unlock()
	return &testTx{f: c.f}, nil
}

func (c *testConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.f.record(query)
	if c.f.query == nil {
		return nil, errors.New("fake: no query handler")
	}
	cols, data, err := c.f.query(ctx, query, args)
	if err != nil {
		return nil, err
	}
	return &testRows{cols: cols, data: data}, nil
}

func (c *testConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.f.record(query)
	if c.f.exec == nil {
		return nil, errors.New("fake: no exec handler")
	}
	return c.f.exec(ctx, query, args)
}

type testTx struct{ f *fakeDB }

func (t *testTx) Commit() error {
	t.f.mu.Lock()
	t.f.commits++
	t.f.mu.Unlock()
	return nil
}

func (t *testTx) Rollback() error {
	t.f.mu.Lock()
	t.f.rollbacks++
	t.f.mu.Unlock()
	return nil
}

type testRows struct {
	cols []string
	data [][]driver.Value
	i    int
}

func (r *testRows) Columns() []string { return append([]string(nil), r.cols...) }
func (r *testRows) Close() error      { return nil }
func (r *testRows) Next(dest []driver.Value) error {
	if r.i >= len(r.data) {
		return io.EOF
	}
	row := r.data[r.i]
	for i := range dest {
		if i < len(row) {
			dest[i] = row[i]
		} else {
			dest[i] = nil
		}
	}
	r.i++
	return nil
}

// testResult is a driver.Result with fixed answers.
type testResult struct {
	lastID int64
	rows   int64
	raErr  error
}

func (r testResult) LastInsertId() (int64, error) { return r.lastID, nil }
func (r testResult) RowsAffected() (int64, error) { return r.rows, r.raErr }

// errNativeCancel stands in for a driver's own "interrupted" error.
var errNativeCancel = errors.New("fake: statement interrupted")

// testProvider is GenericProvider plus native cancellation.
type testProvider struct {
	GenericProvider
}

func (testProvider) IsCanceled(err error) bool { return errors.Is(err, errNativeCancel) }

func newTestProvider(fileBased bool, tables StaticSchema) testProvider {
	return testProvider{GenericProvider{Driver: "fake", Returning: true, Embedded: fileBased, Tables: tables}}
}

// newTestDB creates a *sql.DB backed by the in-memory test driver.
func newTestDB(t *testing.T, f *fakeDB) *sql.DB {
	t.Helper()
	db := sql.OpenDB(&testConnector{f: f})
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// newTestSource wraps the fake in a pooled data source that keeps its
// events out of the global registry.
func newTestSource(t *testing.T, f *fakeDB, opts ...Option) *DB {
	t.Helper()
	return newTestSourceWith(t, f, newTestProvider(false, nil), opts...)
}

func newTestSourceWith(t *testing.T, f *fakeDB, p Provider, opts ...Option) *DB {
	t.Helper()
	opts = append([]Option{WithName("fake"), WithSuppressGlobalEvents(true)}, opts...)
	d, err := New(newTestDB(t, f), p, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

// rowsOf answers every query with the same result.
func rowsOf(cols []string, rows ...[]driver.Value) *fakeDB {
	return &fakeDB{query: func(context.Context, string, []driver.NamedValue) ([]string, [][]driver.Value, error) {
		return cols, rows, nil
	}}
}

// recorder collects events.
type recorder struct {
	mu     sync.Mutex
	events []ExecutionEvent
}

func (r *recorder) handle(ev ExecutionEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

func (r *recorder) last() ExecutionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}
