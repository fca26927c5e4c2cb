// Package lock serializes work on a key (a batch id) across goroutines or,
// with the redis backend, across service instances.
package lock

import (
	"context"
	"errors"
)

// ErrNotAcquired is returned when the lock could not be taken before the
// retry budget or the context ran out.
var ErrNotAcquired = errors.New("lock: not acquired")

// Locker hands out exclusive locks by key.
type Locker interface {
	// Acquire blocks until the lock for key is held, ctx is done, or the
	// backend gives up. The returned release func must be called exactly once.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Noop is a Locker that never blocks. Useful when the store already
// serializes writers on its own.
type Noop struct{}

// Acquire implements Locker
func (Noop) Acquire(context.Context, string) (func(), error) {
	return func() {}, nil
}
