// Package cow provides copy-on-write collections for state that is mutated
// by one writer and read concurrently without locks.
package cow

import (
	"sync"
	"sync/atomic"
)

// List is a copy-on-write slice. Readers get an immutable snapshot; writers
// serialize on an internal mutex and publish a fresh copy.
type List[T any] struct {
	mu    sync.Mutex
	items atomic.Pointer[[]T]
}

// Snapshot returns the current contents. The returned slice must not be modified.
func (l *List[T]) Snapshot() []T {
	if p := l.items.Load(); p != nil {
		return *p
	}
	return nil
}

// Len returns the current length.
func (l *List[T]) Len() int {
	return len(l.Snapshot())
}

// Add appends item.
func (l *List[T]) Add(item T) {
	l.mu.Lock()
	defer l.mu.Unlock()

	current := l.Snapshot()
	next := make([]T, len(current), len(current)+1)
	copy(next, current)
	next = append(next, item)
	l.items.Store(&next)
}

// RemoveFunc removes every item for which match returns true and reports
// how many were removed.
func (l *List[T]) RemoveFunc(match func(T) bool) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	current := l.Snapshot()
	next := make([]T, 0, len(current))
	for _, item := range current {
		if !match(item) {
			next = append(next, item)
		}
	}

	removed := len(current) - len(next)
	if removed > 0 {
		l.items.Store(&next)
	}
	return removed
}

// Find returns the first item for which match returns true.
func (l *List[T]) Find(match func(T) bool) (T, bool) {
	for _, item := range l.Snapshot() {
		if match(item) {
			return item, true
		}
	}

	var zero T
	return zero, false
}

// Replace swaps the full contents.
func (l *List[T]) Replace(items []T) {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := make([]T, len(items))
	copy(next, items)
	l.items.Store(&next)
}

// Clear removes all items and returns what was there.
func (l *List[T]) Clear() []T {
	l.mu.Lock()
	defer l.mu.Unlock()

	current := l.Snapshot()
	l.items.Store(nil)
	return current
}
