package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
)

// Appender decorates a link without changing its result type. SQL,
// DataSource and Err are the predecessor's. Token hooks registered on an
// appender apply only to executions through it; the predecessor is never
// modified.
type Appender[T any] struct {
	prev   Link[T]
	around func(ctx context.Context, state any, next func(context.Context) (T, error)) (T, error)

	mu    sync.Mutex
	hooks []TokenHook
}

var _ Link[int64] = (*Appender[int64])(nil)

// NewAppender wraps prev. around runs in place of the predecessor and calls
// next to execute it; a nil around simply delegates.
func NewAppender[T any](prev Link[T], around func(ctx context.Context, state any, next func(context.Context) (T, error)) (T, error)) *Appender[T] {
	return &Appender[T]{prev: prev, around: around}
}

func (a *Appender[T]) DataSource() DataSource {
	if a.prev == nil {
		return nil
	}
	return a.prev.DataSource()
}

func (a *Appender[T]) SQL() (string, error) {
	if a.prev == nil {
		return "", ErrInvalidLink
	}
	return a.prev.SQL()
}

func (a *Appender[T]) OnTokenPrepared(h TokenHook) {
	if h == nil {
		return
	}
	a.mu.Lock()
	a.hooks = append(a.hooks, h)
	a.mu.Unlock()
}

func (a *Appender[T]) Err() error {
	if a.prev == nil {
		return fmt.Errorf("%w: nil predecessor", ErrInvalidLink)
	}
	return a.prev.Err()
}

func (a *Appender[T]) Execute(state any) (T, error) {
	return a.ExecuteContext(context.Background(), state)
}

func (a *Appender[T]) ExecuteContext(ctx context.Context, state any) (T, error) {
	if err := a.Err(); err != nil {
		var zero T
		return zero, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	a.mu.Lock()
	ctx = withHooks(ctx, a.hooks)
	a.mu.Unlock()
	next := func(ctx context.Context) (T, error) { return a.prev.ExecuteContext(ctx, state) }
	if a.around == nil {
		return next(ctx)
	}
	return a.around(ctx, state, next)
}

// WithTokenHook calls h with every token prepared by l.
func WithTokenHook[T any](l Link[T], h TokenHook) *Appender[T] {
	a := NewAppender(l, nil)
	a.OnTokenPrepared(h)
	return a
}

// WithTimeout overrides the command timeout of every token l prepares.
func WithTimeout[T any](l Link[T], d time.Duration) *Appender[T] {
	return WithTokenHook(l, func(t *ExecutionToken) {
		_ = t.SetCommandTimeout(d) // tokens are unsealed while hooks run
	})
}

// RetryPolicy controls WithRetry.
type RetryPolicy struct {
	// Attempts is the total number of tries, including the first.
	Attempts int

	// Backoff is the wait before the second attempt; it doubles after
	// every failure.
	Backoff time.Duration

	// Retryable decides whether err is worth another attempt. When nil,
	// execution errors are retried and mapping, cancellation and
	// construction errors are not.
	Retryable func(err error) bool
}

// WithRetry re-executes l while the policy allows it. Each attempt prepares
// a fresh token and raises its own events.
func WithRetry[T any](l Link[T], p RetryPolicy) *Appender[T] {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.Retryable == nil {
		p.Retryable = defaultRetryable
	}
	return NewAppender(l, func(ctx context.Context, _ any, next func(context.Context) (T, error)) (T, error) {
		wait := p.Backoff
		for attempt := 1; ; attempt++ {
			v, err := next(ctx)
			if err == nil || attempt >= p.Attempts || !p.Retryable(err) {
				return v, err
			}
			if wait > 0 {
				t := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					t.Stop()
					return v, err
				case <-t.C:
				}
				wait *= 2
			}
		}
	})
}

func defaultRetryable(err error) bool {
	var ee *ExecutionError
	return errors.As(err, &ee) && !errors.Is(err, ErrMapping)
}

// ResultCache holds materialized results for WithCache. It keeps at most
// the configured number of entries, evicting the least recently used.
type ResultCache struct {
	mu    sync.Mutex
	cache *lru.Cache
}

// NewResultCache creates a cache of up to maxEntries results; zero means
// no limit.
func NewResultCache(maxEntries int) *ResultCache {
	return &ResultCache{cache: lru.New(maxEntries)}
}

func (c *ResultCache) get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Get(key)
}

func (c *ResultCache) add(key string, v any) {
	c.mu.Lock()
	c.cache.Add(key, v)
	c.mu.Unlock()
}

// Invalidate drops one entry.
func (c *ResultCache) Invalidate(key string) {
	c.mu.Lock()
	c.cache.Remove(key)
	c.mu.Unlock()
}

// Clear drops every entry.
func (c *ResultCache) Clear() {
	c.mu.Lock()
	c.cache.Clear()
	c.mu.Unlock()
}

// Len is the number of cached results.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Len()
}

// WithCache returns the result cached under key, or executes l and caches a
// successful result. A hit raises no events.
func WithCache[T any](l Link[T], c *ResultCache, key string) *Appender[T] {
	return NewAppender(l, func(ctx context.Context, _ any, next func(context.Context) (T, error)) (T, error) {
		if c == nil {
			return next(ctx)
		}
		if v, ok := c.get(key); ok {
			if tv, ok := v.(T); ok {
				return tv, nil
			}
		}
		v, err := next(ctx)
		if err == nil {
			c.add(key, v)
		}
		return v, err
	})
}

// WithLogger writes one record per execution of l: debug on success, warn
// on cancellation, error on failure.
func WithLogger[T any](l Link[T], logger *slog.Logger) *Appender[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return NewAppender(l, func(ctx context.Context, _ any, next func(context.Context) (T, error)) (T, error) {
		name := ""
		if ds := l.DataSource(); ds != nil {
			name = ds.Name()
		}
		start := time.Now()
		v, err := next(ctx)
		attrs := []slog.Attr{
			slog.String("datasource", name),
			slog.Duration("duration", time.Since(start)),
		}
		switch {
		case err == nil:
			logger.LogAttrs(ctx, slog.LevelDebug, "chain executed", attrs...)
		case IsCanceled(err):
			logger.LogAttrs(ctx, slog.LevelWarn, "chain canceled", append(attrs, slog.Any("error", err))...)
		default:
			logger.LogAttrs(ctx, slog.LevelError, "chain failed", append(attrs, slog.Any("error", err))...)
		}
		return v, err
	})
}
