package registry

import (
	"sync"

	"github.com/junioryono/ccr/internal/filter"
)

// Customizer receives the tracking callbacks of a Tracker. Callbacks run on
// the goroutine that changed the registry and must not block on work that
// itself waits for the registry.
type Customizer interface {
	// Adding is called for a newly matching service; returning false
	// leaves it untracked.
	Adding(ref *ServiceReference) bool
	// Modified is called when a tracked service's properties change and it still matches.
	Modified(ref *ServiceReference)
	// Removed is called when a tracked service goes away or stops matching.
	Removed(ref *ServiceReference)
}

// Tracker follows the services matching a filter.
type Tracker struct {
	registry   *Registry
	filter     filter.Filter
	customizer Customizer

	mu      sync.Mutex
	tracked map[int64]*ServiceReference
	open    bool
	closed  bool
}

// Filter returns the tracker's filter text.
func (t *Tracker) Filter() string {
	return t.filter.String()
}

// Open starts tracking. Services already registered are delivered to the
// customizer in ranking order before Open returns. Open on an already
// opened or closed tracker does nothing.
func (t *Tracker) Open() {
	t.mu.Lock()
	if t.open || t.closed {
		t.mu.Unlock()
		return
	}
	t.open = true
	t.mu.Unlock()

	r := t.registry
	r.mu.Lock()
	r.trackers[t] = struct{}{}
	initial := make([]*ServiceReference, 0, len(r.services))
	for _, ref := range r.services {
		if t.filter.Match(ref.Properties()) {
			initial = append(initial, ref)
		}
	}
	r.mu.Unlock()

	Sort(initial)
	for _, ref := range initial {
		t.track(ref)
	}
}

// Close stops tracking and delivers Removed for every tracked service.
// Close is idempotent.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	wasOpen := t.open
	tracked := t.sortedLocked()
	t.tracked = make(map[int64]*ServiceReference)
	t.mu.Unlock()

	if !wasOpen {
		return
	}

	r := t.registry
	r.mu.Lock()
	delete(r.trackers, t)
	r.mu.Unlock()

	for _, ref := range tracked {
		t.customizer.Removed(ref)
	}
}

// References returns the tracked services, best ranked first.
func (t *Tracker) References() []*ServiceReference {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sortedLocked()
}

// Size returns the number of tracked services.
func (t *Tracker) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tracked)
}

func (t *Tracker) sortedLocked() []*ServiceReference {
	refs := make([]*ServiceReference, 0, len(t.tracked))
	for _, ref := range t.tracked {
		refs = append(refs, ref)
	}
	Sort(refs)
	return refs
}

func (t *Tracker) isTracking(ref *ServiceReference) (tracking, active bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, tracking = t.tracked[ref.id]
	return tracking, t.open && !t.closed
}

func (t *Tracker) track(ref *ServiceReference) {
	if ref.Unregistered() {
		return
	}

	t.mu.Lock()
	if _, ok := t.tracked[ref.id]; ok || t.closed {
		t.mu.Unlock()
		return
	}
	// reserve the slot so a concurrent duplicate delivery is dropped
	t.tracked[ref.id] = ref
	t.mu.Unlock()

	if !t.customizer.Adding(ref) {
		t.mu.Lock()
		delete(t.tracked, ref.id)
		t.mu.Unlock()
	}
}

func (t *Tracker) untrack(ref *ServiceReference) {
	t.mu.Lock()
	_, ok := t.tracked[ref.id]
	delete(t.tracked, ref.id)
	t.mu.Unlock()

	if ok {
		t.customizer.Removed(ref)
	}
}

func (t *Tracker) serviceRegistered(ref *ServiceReference) {
	if t.filter.Match(ref.Properties()) {
		t.track(ref)
	}
}

func (t *Tracker) serviceUnregistering(ref *ServiceReference) {
	t.untrack(ref)
}

func (t *Tracker) serviceModified(ref *ServiceReference) {
	tracking, active := t.isTracking(ref)
	if !active {
		return
	}

	matches := t.filter.Match(ref.Properties())
	switch {
	case tracking && matches:
		t.customizer.Modified(ref)
	case tracking:
		t.untrack(ref)
	case matches:
		t.track(ref)
	}
}

// CustomizerFuncs adapts plain functions to Customizer. Nil functions are
// treated as "always track" and no-ops.
type CustomizerFuncs struct {
	AddingFunc   func(ref *ServiceReference) bool
	ModifiedFunc func(ref *ServiceReference)
	RemovedFunc  func(ref *ServiceReference)
}

func (c CustomizerFuncs) Adding(ref *ServiceReference) bool {
	if c.AddingFunc == nil {
		return true
	}
	return c.AddingFunc(ref)
}

func (c CustomizerFuncs) Modified(ref *ServiceReference) {
	if c.ModifiedFunc != nil {
		c.ModifiedFunc(ref)
	}
}

func (c CustomizerFuncs) Removed(ref *ServiceReference) {
	if c.RemovedFunc != nil {
		c.RemovedFunc(ref)
	}
}
