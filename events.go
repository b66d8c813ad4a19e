package chain

import (
	"sync"
	"time"
)

// EventKind identifies a step in a command's lifecycle.
type EventKind uint8

const (
	EventStarted  EventKind = iota // execution began
	EventFinished                  // execution completed
	EventError                     // execution failed
	EventCanceled                  // the caller canceled execution
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventFinished:
		return "finished"
	case EventError:
		return "error"
	case EventCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// ExecutionEvent is delivered to subscribers. It is built once per
// lifecycle step and never modified.
type ExecutionEvent struct {
	Kind         EventKind
	DataSource   string
	Token        *ExecutionToken
	StartTime    time.Time
	EndTime      time.Time // zero for EventStarted
	Err          error
	RowsAffected *int64
	State        any
}

// Duration is zero for EventStarted.
func (e ExecutionEvent) Duration() time.Duration {
	if e.EndTime.IsZero() {
		return 0
	}
	return e.EndTime.Sub(e.StartTime)
}

// EventHandler receives execution events synchronously on the executing
// goroutine. A panicking handler panics the caller.
type EventHandler func(ExecutionEvent)

type subscription struct {
	id uint64
	h  EventHandler
}

// Events is a registry of subscribers. The zero value is ready to use.
type Events struct {
	mu   sync.RWMutex
	next uint64
	subs [4][]subscription
}

// NewEvents returns an empty registry.
func NewEvents() *Events { return &Events{} }

// Subscribe adds h for one event kind and returns a func that removes it.
func (e *Events) Subscribe(kind EventKind, h EventHandler) (unsubscribe func()) {
	if h == nil || int(kind) >= len(e.subs) {
		return func() {}
	}
	e.mu.Lock()
	e.next++
	id := e.next
	e.subs[kind] = append(e.subs[kind], subscription{id: id, h: h})
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			list := e.subs[kind]
			for i, s := range list {
				if s.id == id {
					e.subs[kind] = append(list[:i:i], list[i+1:]...)
					return
				}
			}
		})
	}
}

// SubscribeAll adds h for every event kind.
func (e *Events) SubscribeAll(h EventHandler) (unsubscribe func()) {
	var fns []func()
	for k := EventStarted; k <= EventCanceled; k++ {
		fns = append(fns, e.Subscribe(k, h))
	}
	return func() {
		for _, f := range fns {
			f()
		}
	}
}

// Reset removes every subscriber.
func (e *Events) Reset() {
	e.mu.Lock()
	e.subs = [4][]subscription{}
	e.mu.Unlock()
}

func (e *Events) raise(ev ExecutionEvent) {
	if e == nil {
		return
	}
	e.mu.RLock()
	list := e.subs[ev.Kind]
	hs := make([]EventHandler, len(list))
	for i, s := range list {
		hs[i] = s.h
	}
	e.mu.RUnlock()

	for _, h := range hs {
		h(ev)
	}
}

// --- process-wide registry ---

var (
	globalEvents     *Events
	globalEventsOnce sync.Once
)

// GlobalEvents returns the process-wide registry. Every data source raises
// its events here too unless it was built with WithSuppressGlobalEvents.
func GlobalEvents() *Events {
	globalEventsOnce.Do(func() { globalEvents = NewEvents() })
	return globalEvents
}

// ResetGlobalEvents drops all process-wide subscribers. Meant for tests.
func ResetGlobalEvents() { GlobalEvents().Reset() }
