package chain

import (
	"context"
	"errors"
	"time"
)

// DataSource executes tokens. Each call is wrapped in lifecycle events,
// the engine's concurrency guard and error translation.
type DataSource interface {
	Name() string
	Settings() Settings
	Events() *Events
	Provider() Provider
	Schema() SchemaSource

	// Execute runs token through impl. state is opaque caller data copied
	// into every event for this execution.
	Execute(ctx context.Context, token *ExecutionToken, impl Implementation, state any) (rowsAffected *int64, err error)
}

// host carries the execution lifecycle shared by DB and Tx.
type host struct {
	settings Settings
	events   *Events
	provider Provider
	guard    Guard // nil when the engine's pool handles concurrency
}

func (h *host) Name() string       { return h.settings.Name }
func (h *host) Settings() Settings { return h.settings }
func (h *host) Events() *Events    { return h.events }
func (h *host) Provider() Provider { return h.provider }

func (h *host) run(ctx context.Context, handle Handle, token *ExecutionToken, impl Implementation, state any) (*int64, error) {
	if token == nil || impl == nil {
		return nil, ErrInvalidLink
	}
	if ctx == nil {
		ctx = context.Background()
	}
	token.seal()

	start := time.Now()
	h.raise(ExecutionEvent{Kind: EventStarted, DataSource: h.settings.Name, Token: token, StartTime: start, State: state})

	rows, err := h.invoke(ctx, handle, token, impl)
	end := time.Now()
	if err == nil {
		h.raise(ExecutionEvent{
			Kind: EventFinished, DataSource: h.settings.Name, Token: token,
			StartTime: start, EndTime: end, RowsAffected: rows, State: state,
		})
		return rows, nil
	}

	if cause := ctx.Err(); cause != nil && (errors.Is(err, cause) || h.provider.IsCanceled(err)) {
		cerr := &CanceledError{
			DataSource:  h.settings.Name,
			Operation:   token.Operation(),
			CommandText: token.CommandText(),
			Cause:       cause,
			Err:         err,
		}
		h.raise(ExecutionEvent{
			Kind: EventCanceled, DataSource: h.settings.Name, Token: token,
			StartTime: start, EndTime: end, Err: cerr, State: state,
		})
		return nil, cerr
	}

	eerr := &ExecutionError{
		DataSource:  h.settings.Name,
		Operation:   token.Operation(),
		CommandText: token.CommandText(),
		Parameters:  token.Parameters(),
		Err:         err,
	}
	h.raise(ExecutionEvent{
		Kind: EventError, DataSource: h.settings.Name, Token: token,
		StartTime: start, EndTime: end, Err: eerr, State: state,
	})
	return nil, eerr
}

// invoke holds the guard only for the physical call; it is released before
// the terminal event is raised.
func (h *host) invoke(ctx context.Context, handle Handle, token *ExecutionToken, impl Implementation) (*int64, error) {
	if h.guard != nil && !h.settings.DisableLocks && token.LockMode() != LockNone {
		release, err := h.guard.Acquire(ctx, token.LockMode())
		if err != nil {
			return nil, err
		}
		defer release()
	}

	timeout := token.CommandTimeout()
	if timeout <= 0 {
		timeout = h.settings.DefaultCommandTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	return impl(ctx, &Command{
		Text:   token.CommandText(),
		Kind:   token.Kind(),
		Args:   token.Args(),
		handle: handle,
	})
}

func (h *host) raise(ev ExecutionEvent) {
	h.events.raise(ev)
	if !h.settings.SuppressGlobalEvents {
		GlobalEvents().raise(ev)
	}
}
