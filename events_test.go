package chain

import (
	"context"
	"database/sql/driver"
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestEvents_SubscribeAndUnsubscribe(t *testing.T) {
	ev := NewEvents()
	var got []EventKind
	stop := ev.Subscribe(EventFinished, func(e ExecutionEvent) { got = append(got, e.Kind) })

	ev.raise(ExecutionEvent{Kind: EventStarted})
	ev.raise(ExecutionEvent{Kind: EventFinished})
	stop()
	stop() // second call is a no-op
	ev.raise(ExecutionEvent{Kind: EventFinished})

	if !reflect.DeepEqual(got, []EventKind{EventFinished}) {
		t.Fatalf("got %v", got)
	}
}

func TestEvents_SubscribeAllAndReset(t *testing.T) {
	ev := NewEvents()
	var rec recorder
	ev.SubscribeAll(rec.handle)
	for k := EventStarted; k <= EventCanceled; k++ {
		ev.raise(ExecutionEvent{Kind: k})
	}
	ev.Reset()
	ev.raise(ExecutionEvent{Kind: EventStarted})

	want := []EventKind{EventStarted, EventFinished, EventError, EventCanceled}
	if !reflect.DeepEqual(rec.kinds(), want) {
		t.Fatalf("got %v want %v", rec.kinds(), want)
	}
}

func TestEvents_NilRegistryIsSafe(t *testing.T) {
	var ev *Events
	ev.raise(ExecutionEvent{Kind: EventStarted})
}

func TestEvents_HandlerMayUnsubscribeItself(t *testing.T) {
	ev := NewEvents()
	calls := 0
	var stop func()
	stop = ev.Subscribe(EventStarted, func(ExecutionEvent) {
		calls++
		stop()
	})
	ev.raise(ExecutionEvent{Kind: EventStarted})
	ev.raise(ExecutionEvent{Kind: EventStarted})
	if calls != 1 {
		t.Fatalf("calls=%d", calls)
	}
}

func TestExecute_StartedThenFinished(t *testing.T) {
	f := &fakeDB{exec: func(context.Context, string, []driver.NamedValue) (driver.Result, error) {
		return testResult{rows: 4}, nil
	}}
	d := newTestSource(t, f)
	var rec recorder
	d.Events().SubscribeAll(rec.handle)

	n, err := ToRowsAffected(d.SQL("DELETE FROM t")).Execute("my-state")
	if err != nil || n != 4 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if want := []EventKind{EventStarted, EventFinished}; !reflect.DeepEqual(rec.kinds(), want) {
		t.Fatalf("events %v want %v", rec.kinds(), want)
	}
	first, last := rec.events[0], rec.last()
	if first.Token != last.Token || first.Token == nil {
		t.Fatal("started and finished must carry the same token")
	}
	if last.State != "my-state" || first.State != "my-state" {
		t.Fatalf("state not passed through: %v", last.State)
	}
	if last.RowsAffected == nil || *last.RowsAffected != 4 {
		t.Fatalf("rows affected %v", last.RowsAffected)
	}
	if last.EndTime.Before(last.StartTime) || last.DataSource != "fake" {
		t.Fatalf("bad finished event %+v", last)
	}
	if !first.EndTime.IsZero() || first.Duration() != 0 {
		t.Fatal("started event has no end time")
	}
}

func TestExecute_StartedThenError(t *testing.T) {
	boom := errors.New("boom")
	f := &fakeDB{query: func(context.Context, string, []driver.NamedValue) ([]string, [][]driver.Value, error) {
		return nil, nil, boom
	}}
	d := newTestSource(t, f)
	var rec recorder
	d.Events().SubscribeAll(rec.handle)

	_, err := ToTable(d.SQL("SELECT x FROM t WHERE id = ?", 5)).Execute(nil)
	if !errors.Is(err, boom) {
		t.Fatalf("want boom, got %v", err)
	}
	if want := []EventKind{EventStarted, EventError}; !reflect.DeepEqual(rec.kinds(), want) {
		t.Fatalf("events %v want %v", rec.kinds(), want)
	}
	if rec.last().Err != err {
		t.Fatal("error event must carry the returned error")
	}
}

func TestExecute_GlobalEventsUnlessSuppressed(t *testing.T) {
	ResetGlobalEvents()
	t.Cleanup(ResetGlobalEvents)
	var global recorder
	GlobalEvents().SubscribeAll(global.handle)

	f := rowsOf([]string{"a"}, []driver.Value{int64(1)})
	loud := newTestSource(t, f, WithSuppressGlobalEvents(false))
	quiet := newTestSource(t, f)

	if _, err := ToTable(loud.SQL("SELECT a FROM t")).Execute(nil); err != nil {
		t.Fatal(err)
	}
	if _, err := ToTable(quiet.SQL("SELECT a FROM t")).Execute(nil); err != nil {
		t.Fatal(err)
	}
	if want := []EventKind{EventStarted, EventFinished}; !reflect.DeepEqual(global.kinds(), want) {
		t.Fatalf("global events %v want %v", global.kinds(), want)
	}
}

func TestExecute_HandlerPanicReleasesGuard(t *testing.T) {
	f := rowsOf([]string{"a"}, []driver.Value{int64(1)})
	d := newTestSourceWith(t, f, newTestProvider(true, nil))
	stop := d.Events().Subscribe(EventFinished, func(ExecutionEvent) { panic("handler") })

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected the handler panic to reach the caller")
			}
		}()
		_, _ = ToTable(d.SQL("SELECT a FROM t")).Execute(nil)
	}()
	stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	release, err := d.Guard().Acquire(ctx, LockWrite)
	if err != nil {
		t.Fatalf("guard still held after panic: %v", err)
	}
	release()
}
