// Package lock serialises batch-generation runs.
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrNotAcquired is returned when the lock could not be taken before ctx expired.
var ErrNotAcquired = errors.New("lock not acquired")

// Release gives the lock back. It is safe to call once.
type Release func(ctx context.Context) error

// Locker hands out named, mutually exclusive locks.
type Locker interface {
	// Acquire blocks until the named lock is held or ctx is done.
	Acquire(ctx context.Context, name string) (Release, error)
}

// Local is an in-process Locker. It only protects a single instance of the service.
type Local struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewLocal() *Local {
	return &Local{slots: map[string]chan struct{}{}}
}

func (l *Local) slot(name string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[name]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[name] = ch
	}
	return ch
}

func (l *Local) Acquire(ctx context.Context, name string) (Release, error) {
	ch := l.slot(name)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, errors.Join(ErrNotAcquired, ctx.Err())
	}
	var once sync.Once
	return func(context.Context) error {
		once.Do(func() { <-ch })
		return nil
	}, nil
}
