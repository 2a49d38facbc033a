package client

import (
	"context"
	"sync"
)

// Fetcher loads the authoritative value of a cache entry.
type Fetcher[T any] func(ctx context.Context) (T, error)

// Query is one cache entry. Values are replaced, never mutated in place, so
// a value returned by Get doubles as a snapshot.
type Query[T any] struct {
	fetch Fetcher[T]

	mu     sync.Mutex
	data   T
	loaded bool
	gen    uint64
	cancel context.CancelFunc
}

// NewQuery creates an empty cache entry backed by fetch.
func NewQuery[T any](fetch Fetcher[T]) *Query[T] {
	return &Query[T]{fetch: fetch}
}

// Get returns the cached value and whether it was ever loaded.
func (q *Query[T]) Get() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.data, q.loaded
}

// Set replaces the cached value.
func (q *Query[T]) Set(v T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.data = v
	q.loaded = true
}

// Update applies fn to the loaded value. It reports false and leaves the
// entry untouched when nothing was loaded yet.
func (q *Query[T]) Update(fn func(T) T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.loaded {
		return false
	}
	q.data = fn(q.data)
	return true
}

// Cancel aborts an in-flight refetch and makes sure its result, if it
// still arrives, is discarded.
func (q *Query[T]) Cancel() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.gen++
	if q.cancel != nil {
		q.cancel()
		q.cancel = nil
	}
}

// Refetch loads the value from the fetcher. A result superseded by Cancel
// or by a newer Refetch is dropped and Refetch returns nil.
func (q *Query[T]) Refetch(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	q.mu.Lock()
	q.gen++
	gen := q.gen
	if q.cancel != nil {
		q.cancel()
	}
	q.cancel = cancel
	q.mu.Unlock()

	v, err := q.fetch(ctx)

	q.mu.Lock()
	defer q.mu.Unlock()
	if gen != q.gen {
		return nil
	}
	q.cancel = nil
	if err != nil {
		return err
	}
	q.data = v
	q.loaded = true
	return nil
}
