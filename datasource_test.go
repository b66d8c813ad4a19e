package chain

import (
	"context"
	"database/sql/driver"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

// waitForCancel blocks every command until its context is done.
func waitForCancel(entered chan<- struct{}) *fakeDB {
	return &fakeDB{
		query: func(ctx context.Context, _ string, _ []driver.NamedValue) ([]string, [][]driver.Value, error) {
			entered <- struct{}{}
			<-ctx.Done()
			return nil, nil, ctx.Err()
		},
		exec: func(ctx context.Context, _ string, _ []driver.NamedValue) (driver.Result, error) {
			entered <- struct{}{}
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
}

func TestExecute_CallerCancel(t *testing.T) {
	entered := make(chan struct{}, 1)
	d := newTestSource(t, waitForCancel(entered))
	var rec recorder
	d.Events().SubscribeAll(rec.handle)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-entered
		cancel()
	}()
	_, err := ToTable(d.SQL("SELECT a FROM t")).ExecuteContext(ctx, nil)

	var ce *CanceledError
	if !errors.As(err, &ce) {
		t.Fatalf("want *CanceledError, got %T %v", err, err)
	}
	if !errors.Is(err, context.Canceled) || !IsCanceled(err) {
		t.Fatalf("cancellation not recognizable: %v", err)
	}
	if ce.Operation != "SQL" || ce.CommandText != "SELECT a FROM t" || ce.DataSource != "fake" {
		t.Fatalf("bad context %+v", ce)
	}
	if want := []EventKind{EventStarted, EventCanceled}; !reflect.DeepEqual(rec.kinds(), want) {
		t.Fatalf("events %v want %v", rec.kinds(), want)
	}
	if rec.last().Err != err {
		t.Fatal("canceled event must carry the returned error")
	}
}

func TestExecute_NativeCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := &fakeDB{exec: func(context.Context, string, []driver.NamedValue) (driver.Result, error) {
		// the engine noticed the interrupt before database/sql did
		cancel()
		return nil, errNativeCancel
	}}
	d := newTestSource(t, f)

	_, err := ToRowsAffected(d.SQL("UPDATE t SET a = 1")).ExecuteContext(ctx, nil)
	if !IsCanceled(err) {
		t.Fatalf("native interrupt should surface as cancellation: %v", err)
	}
	if !errors.Is(err, errNativeCancel) || !errors.Is(err, context.Canceled) {
		t.Fatalf("canceled error must match both causes: %v", err)
	}
}

func TestExecute_NativeCancelWithoutContextIsFailure(t *testing.T) {
	f := &fakeDB{exec: func(context.Context, string, []driver.NamedValue) (driver.Result, error) {
		return nil, errNativeCancel
	}}
	d := newTestSource(t, f)

	_, err := ToRowsAffected(d.SQL("UPDATE t SET a = 1")).Execute(nil)
	var ee *ExecutionError
	if !errors.As(err, &ee) || IsCanceled(err) {
		t.Fatalf("an interrupt nobody asked for is an execution error: %v", err)
	}
}

func TestExecute_CommandTimeout(t *testing.T) {
	cases := []struct {
		name string
		opts []Option
		link func(d *DB) Link[*Table]
	}{
		{
			name: "token",
			link: func(d *DB) Link[*Table] {
				return WithTimeout[*Table](ToTable(d.SQL("SELECT a FROM t")), 20*time.Millisecond)
			},
		},
		{
			name: "default",
			opts: []Option{WithCommandTimeout(20 * time.Millisecond)},
			link: func(d *DB) Link[*Table] { return ToTable(d.SQL("SELECT a FROM t")) },
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			entered := make(chan struct{}, 1)
			d := newTestSource(t, waitForCancel(entered), tc.opts...)
			var rec recorder
			d.Events().SubscribeAll(rec.handle)

			_, err := tc.link(d).Execute(nil)
			if !errors.Is(err, context.DeadlineExceeded) {
				t.Fatalf("want deadline exceeded, got %v", err)
			}
			var ee *ExecutionError
			if !errors.As(err, &ee) {
				t.Fatalf("a command timeout is an execution failure, got %T", err)
			}
			if rec.last().Kind != EventError {
				t.Fatalf("events %v", rec.kinds())
			}
		})
	}
}

func TestExecute_NilTokenOrImplementation(t *testing.T) {
	d := newTestSource(t, &fakeDB{})
	impl := func(context.Context, *Command) (*int64, error) { return nil, nil }
	if _, err := d.Execute(context.Background(), nil, impl, nil); !errors.Is(err, ErrInvalidLink) {
		t.Fatalf("nil token: %v", err)
	}
	tok := NewExecutionToken(d.Name(), TokenSpec{Operation: "SQL", Text: "SELECT 1"})
	if _, err := d.Execute(context.Background(), tok, nil, nil); !errors.Is(err, ErrInvalidLink) {
		t.Fatalf("nil implementation: %v", err)
	}
	if tok.Sealed() {
		t.Fatal("rejected executions do not seal the token")
	}
}

func TestExecute_CustomImplementation(t *testing.T) {
	d := newTestSource(t, &fakeDB{})
	tok := NewExecutionToken(d.Name(), TokenSpec{
		Operation:  "Custom",
		Text:       "CALL something",
		Kind:       CommandProcedure,
		Lock:       LockNone,
		Parameters: []Parameter{{Value: 1}, {Name: "x", Value: "y"}},
	})
	var got *Command
	n, err := d.Execute(context.Background(), tok, func(_ context.Context, cmd *Command) (*int64, error) {
		got = cmd
		v := int64(7)
		return &v, nil
	}, nil)
	if err != nil || n == nil || *n != 7 {
		t.Fatalf("n=%v err=%v", n, err)
	}
	if got.Text != "CALL something" || got.Kind != CommandProcedure || len(got.Args) != 2 {
		t.Fatalf("command %+v", got)
	}
	if !tok.Sealed() {
		t.Fatal("token must be sealed once executed")
	}
}

func TestExecutionError_Message(t *testing.T) {
	err := &ExecutionError{
		DataSource:  "main",
		Operation:   "From",
		CommandText: "SELECT 1",
		Parameters:  []Parameter{{Value: 1}, {Name: "email", Value: "a@b"}},
		Err:         errors.New("boom"),
	}
	want := `chain: From on "main" failed: boom [sql: SELECT 1; params: [1, email=a@b]]`
	if err.Error() != want {
		t.Fatalf("got  %s\nwant %s", err.Error(), want)
	}
	empty := &ExecutionError{Operation: "SQL", Err: errors.New("x")}
	if !strings.HasSuffix(empty.Error(), "params: []]") {
		t.Fatal(empty.Error())
	}
}

func TestCanceledError_Unwrap(t *testing.T) {
	same := &CanceledError{Cause: context.Canceled, Err: context.Canceled}
	if got := same.Unwrap(); len(got) != 1 {
		t.Fatalf("unwrap %v", got)
	}
	both := &CanceledError{Cause: context.DeadlineExceeded, Err: errNativeCancel}
	if !errors.Is(both, context.DeadlineExceeded) || !errors.Is(both, errNativeCancel) {
		t.Fatal("both causes must match")
	}
	if IsCanceled(errors.New("x")) || !IsCanceled(context.Canceled) {
		t.Fatal("IsCanceled")
	}
}

func TestOpenAndNew_Validation(t *testing.T) {
	if _, err := Open(context.Background(), nil, "x"); !errors.Is(err, ErrInvalidDataSource) {
		t.Fatalf("nil provider: %v", err)
	}
	if _, err := Open(context.Background(), newTestProvider(false, nil), "x"); !errors.Is(err, ErrInvalidDataSource) {
		t.Fatalf("unregistered driver: %v", err)
	}
	if _, err := New(nil, newTestProvider(false, nil)); !errors.Is(err, ErrInvalidDataSource) {
		t.Fatalf("nil db: %v", err)
	}
	if _, err := New(newTestDB(t, &fakeDB{}), nil); !errors.Is(err, ErrInvalidDataSource) {
		t.Fatalf("nil provider: %v", err)
	}
}

func TestDB_SettingsAndPing(t *testing.T) {
	d := newTestSource(t, &fakeDB{}, WithStrictMode(true))
	s := d.Settings()
	if s.Name != "fake" || !s.StrictMode || s.DefaultConnectionTimeout != 15*time.Second {
		t.Fatalf("settings %+v", s)
	}
	if err := d.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, ok := d.Provider().(testProvider); !ok {
		t.Fatalf("provider %T", d.Provider())
	}
}

func TestTx_CommitAndRollback(t *testing.T) {
	f := &fakeDB{exec: func(context.Context, string, []driver.NamedValue) (driver.Result, error) {
		return testResult{rows: 1}, nil
	}}
	d := newTestSource(t, f)
	var rec recorder
	d.Events().SubscribeAll(rec.handle)

	tx, err := d.Begin(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if tx.Parent() != d || tx.Schema() == nil || tx.Name() != d.Name() {
		t.Fatal("tx shares the parent's identity")
	}
	if _, err := ToRowsAffected(tx.SQL("DELETE FROM t")).Execute(nil); err != nil {
		t.Fatal(err)
	}
	if len(rec.kinds()) != 2 {
		t.Fatalf("tx events must reach the parent's subscribers: %v", rec.kinds())
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); !errors.Is(err, ErrTxDone) {
		t.Fatalf("second commit: %v", err)
	}
	if err := tx.Rollback(); !errors.Is(err, ErrTxDone) {
		t.Fatalf("rollback after commit: %v", err)
	}
	if _, err := ToRowsAffected(tx.SQL("DELETE FROM t")).Execute(nil); !errors.Is(err, ErrTxDone) {
		t.Fatalf("use after commit: %v", err)
	}

	tx2, err := d.Begin(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := tx2.Rollback(); err != nil {
		t.Fatal(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.begins != 2 || f.commits != 1 || f.rollbacks != 1 {
		t.Fatalf("begins=%d commits=%d rollbacks=%d", f.begins, f.commits, f.rollbacks)
	}
}

func TestTx_HoldsWriteLockOnFileEngine(t *testing.T) {
	f := rowsOf([]string{"a"}, []driver.Value{int64(1)})
	d := newTestSourceWith(t, f, newTestProvider(true, nil))

	tx, err := d.Begin(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := ToTable(d.SQL("SELECT a FROM t")).ExecuteContext(ctx, nil); !IsCanceled(err) {
		t.Fatalf("reader outside the tx must wait for it: %v", err)
	}
	if _, err := d.Begin(ctx, nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second tx must wait: %v", err)
	}

	if err := tx.Rollback(); err != nil {
		t.Fatal(err)
	}
	if _, err := ToTable(d.SQL("SELECT a FROM t")).Execute(nil); err != nil {
		t.Fatalf("after rollback: %v", err)
	}
}
