// Package filemutex serializes read-modify-write sequences on the same file
// path while allowing full parallelism across distinct paths. It backs the
// Store's *Safe operations (§4.1): the agent loop and HTTP handlers may
// share a data directory without lost updates or torn writes.
package filemutex

import "sync"

// Table is a lock table keyed by file path. The zero value is ready to use.
type Table struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewTable returns a ready Table.
func NewTable() *Table {
	return &Table{locks: make(map[string]*sync.Mutex)}
}

func (t *Table) lockFor(key string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.locks == nil {
		t.locks = make(map[string]*sync.Mutex)
	}
	l, ok := t.locks[key]
	if !ok {
		l = &sync.Mutex{}
		t.locks[key] = l
	}
	return l
}

// Acquire serializes fn against any other Acquire call on the same key:
// no two fn on one key ever run concurrently. Waiters on a key are admitted
// in whatever order sync.Mutex grants the lock, which does not guarantee
// arrival (FIFO) order. If fn panics or returns an error, the lock is still
// released so the next waiter proceeds.
// Acquire must never be called recursively on the same key from within fn.
func (t *Table) Acquire(key string, fn func() error) error {
	l := t.lockFor(key)
	l.Lock()
	defer l.Unlock()
	return fn()
}

// AcquireValue is the generic-result variant of Acquire.
func AcquireValue[T any](t *Table, key string, fn func() (T, error)) (T, error) {
	var result T
	err := t.Acquire(key, func() error {
		v, err := fn()
		result = v
		return err
	})
	return result, err
}
