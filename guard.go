package chain

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Guard serializes physical access for engines that cannot handle
// concurrent commands through one target.
type Guard interface {
	// Acquire blocks until the lock for mode is held or ctx is done.
	Acquire(ctx context.Context, mode LockMode) (release func(), err error)
}

const maxReaders = 1 << 20

// RWGuard is a reader/writer guard. Readers share it, a writer holds it
// alone. Waiters are served in arrival order, so a queued writer is not
// starved by a stream of readers.
type RWGuard struct {
	sem *semaphore.Weighted
}

// NewRWGuard returns an idle guard.
func NewRWGuard() *RWGuard {
	return &RWGuard{sem: semaphore.NewWeighted(maxReaders)}
}

// Acquire blocks until the guard is held in mode or ctx is done. The
// returned func releases it.
func (g *RWGuard) Acquire(ctx context.Context, mode LockMode) (func(), error) {
	var n int64
	switch mode {
	case LockRead:
		n = 1
	case LockWrite:
		n = maxReaders
	default:
		return func() {}, nil
	}
	if err := g.sem.Acquire(ctx, n); err != nil {
		return nil, err
	}
	released := false
	return func() {
		if !released {
			released = true
			g.sem.Release(n)
		}
	}, nil
}
