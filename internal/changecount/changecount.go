// Package changecount provides the monotonic generation counter used to
// version container snapshots.
package changecount

import "sync"

// Observer is notified after every increment of a Counter it is registered on.
type Observer interface {
	Observe(source *Counter, value int64)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(source *Counter, value int64)

// Observe calls f(source, value).
func (f ObserverFunc) Observe(source *Counter, value int64) {
	f(source, value)
}

// Counter is a thread-safe monotonic counter with synchronous observers.
//
// A Counter is itself an Observer: registering counter A on counter B makes
// every increment of B increment A as well, which is how per-container
// counters feed the aggregate runtime counter.
type Counter struct {
	mu        sync.Mutex
	value     int64
	observers []*observerEntry
}

type observerEntry struct {
	observer Observer
}

// New creates a counter starting at zero.
func New() *Counter {
	return &Counter{}
}

// Get returns the current value.
func (c *Counter) Get() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// IncrementAndGet increments the counter and returns the new value.
// Observers are notified on the caller's goroutine after the lock is released.
func (c *Counter) IncrementAndGet() int64 {
	c.mu.Lock()
	c.value++
	value := c.value
	observers := c.observers
	c.mu.Unlock()

	c.notify(observers, value)
	return value
}

// GetAndIncrement increments the counter and returns the previous value.
// Observers are notified exactly as for IncrementAndGet.
func (c *Counter) GetAndIncrement() int64 {
	c.mu.Lock()
	previous := c.value
	c.value++
	value := c.value
	observers := c.observers
	c.mu.Unlock()

	c.notify(observers, value)
	return previous
}

// AddObserver registers o and returns a function that removes this
// registration. Registering the same observer twice results in two
// notifications per increment.
func (c *Counter) AddObserver(o Observer) (remove func()) {
	if o == nil {
		return func() {}
	}

	entry := &observerEntry{observer: o}

	c.mu.Lock()
	// copy on write so notify can iterate a stable slice without the lock
	next := make([]*observerEntry, len(c.observers), len(c.observers)+1)
	copy(next, c.observers)
	c.observers = append(next, entry)
	c.mu.Unlock()

	return func() { c.removeEntry(entry) }
}

func (c *Counter) removeEntry(entry *observerEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, e := range c.observers {
		if e == entry {
			next := make([]*observerEntry, 0, len(c.observers)-1)
			next = append(next, c.observers[:i]...)
			c.observers = append(next, c.observers[i+1:]...)
			return
		}
	}
}

// Observe implements Observer by incrementing c.
func (c *Counter) Observe(_ *Counter, _ int64) {
	c.IncrementAndGet()
}

func (c *Counter) notify(observers []*observerEntry, value int64) {
	for _, entry := range observers {
		entry.observer.Observe(c, value)
	}
}
