package store

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLockTimeout is returned when a per-conversation lock could not be
// acquired within the bounded wait. Callers surface it as 503 with a
// retry-after hint.
var ErrLockTimeout = errors.New("conversation busy")

// Locks serializes mutations per conversation. Concurrent turns on the same
// conversation queue behind a single-slot semaphore; turns on different
// conversations proceed in parallel. Entries are reference-counted so the
// table does not grow with every conversation ever seen.
type Locks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	sem  chan struct{}
	refs int
}

// NewLocks creates an empty lock table.
func NewLocks() *Locks {
	return &Locks{locks: make(map[string]*lockEntry)}
}

// Acquire takes the lock for key, waiting at most maxWait. The returned
// release func must be called exactly once on every exit path, including
// cancellation and panic recovery.
func (l *Locks) Acquire(ctx context.Context, key string, maxWait time.Duration) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &lockEntry{sem: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	timer := time.NewTimer(maxWait)
	defer timer.Stop()

	select {
	case e.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-e.sem
				l.release(key)
			})
		}, nil
	case <-timer.C:
		l.release(key)
		return nil, ErrLockTimeout
	case <-ctx.Done():
		l.release(key)
		return nil, ctx.Err()
	}
}

func (l *Locks) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.locks[key]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(l.locks, key)
	}
}
