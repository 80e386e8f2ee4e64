package tenant

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Executor runs operations one at a time per key, in arrival order.
// Different keys run independently.
type Executor struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	sem  *semaphore.Weighted
	refs int
}

// NewExecutor creates an empty keyed executor.
func NewExecutor() *Executor {
	return &Executor{slots: make(map[string]*slot)}
}

// Do runs fn while holding exclusive ownership of key.
// Waiters queue FIFO; a cancelled context leaves the queue without running fn.
// Params: context, tenant key, and operation.
// Returns: fn error or context error while waiting.
func (e *Executor) Do(ctx context.Context, key string, fn func(context.Context) error) error {
	entry := e.acquire(key)
	defer e.release(key, entry)

	if err := entry.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer entry.sem.Release(1)
	return fn(ctx)
}

// Len returns number of keys with in-flight or queued operations.
func (e *Executor) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.slots)
}

func (e *Executor) acquire(key string) *slot {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.slots[key]
	if !ok {
		entry = &slot{sem: semaphore.NewWeighted(1)}
		e.slots[key] = entry
	}
	entry.refs++
	return entry
}

func (e *Executor) release(key string, entry *slot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(e.slots, key)
	}
}
