package beans

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/junioryono/ccr/registry"
)

// Injection carries the values resolved for one component activation.
// Every component bean constructor may ask for *Injection.
type Injection struct {
	component  string
	properties map[string]any
	// qualifiers maps injection point names to synthetic qualifiers and
	// values maps qualifiers to resolved values.
	qualifiers map[string]string
	values     map[string]any
}

// NewInjection creates an injection for component with the merged
// component properties.
func NewInjection(component string, properties map[string]any) *Injection {
	return &Injection{
		component:  component,
		properties: properties,
		qualifiers: make(map[string]string),
		values:     make(map[string]any),
	}
}

// Bind routes the injection point name to qualifier.
func (in *Injection) Bind(name, qualifier string) {
	in.qualifiers[name] = qualifier
}

// Set stores the value provided for qualifier.
func (in *Injection) Set(qualifier string, value any) {
	in.values[qualifier] = value
}

// Component returns the component name.
func (in *Injection) Component() string { return in.component }

// Properties returns a copy of the component properties.
func (in *Injection) Properties() map[string]any {
	props := make(map[string]any, len(in.properties))
	for k, v := range in.properties {
		props[k] = v
	}
	return props
}

// Value returns the value injected for the named injection point.
func (in *Injection) Value(name string) (any, bool) {
	q, ok := in.qualifiers[name]
	if !ok {
		return nil, false
	}
	v, ok := in.values[q]
	return v, ok
}

// Reference returns the value of a reference injection point: the service
// (or nil) for single references, []any for multiple references, or the
// shaped value for the point's collection type. Dynamic points return *Dynamic.
func (in *Injection) Reference(name string) any {
	v, _ := in.Value(name)
	return v
}

// Configuration returns the properties of a configuration injection point,
// nil when the configuration is absent.
func (in *Injection) Configuration(name string) map[string]any {
	v, _ := in.Value(name)
	props, _ := v.(map[string]any)
	return props
}

// Tuple pairs a service with its reference.
type Tuple struct {
	Reference *registry.ServiceReference
	Service   any
}

// ServiceObjects gives access to a service object with use counting.
type ServiceObjects struct {
	ref  *registry.ServiceReference
	uses atomic.Int64
}

// NewServiceObjects wraps ref.
func NewServiceObjects(ref *registry.ServiceReference) *ServiceObjects {
	return &ServiceObjects{ref: ref}
}

// Reference returns the underlying reference.
func (s *ServiceObjects) Reference() *registry.ServiceReference { return s.ref }

// Get returns the service, or nil once it has been unregistered.
func (s *ServiceObjects) Get() any {
	if s.ref.Unregistered() {
		return nil
	}
	s.uses.Add(1)
	return s.ref.Service()
}

// Unget releases one use.
func (s *ServiceObjects) Unget() {
	if s.uses.Load() > 0 {
		s.uses.Add(-1)
	}
}

// Uses returns the outstanding use count.
func (s *ServiceObjects) Uses() int64 { return s.uses.Load() }

// Dynamic holds the current value of a dynamic reference; the runtime
// replaces it as matching services come and go.
type Dynamic struct {
	value atomic.Pointer[dynamicValue]
}

type dynamicValue struct{ v any }

// NewDynamic creates a holder with an initial value.
func NewDynamic(initial any) *Dynamic {
	d := &Dynamic{}
	d.Store(initial)
	return d
}

// Get returns the current value.
func (d *Dynamic) Get() any {
	if p := d.value.Load(); p != nil {
		return p.v
	}
	return nil
}

// Store replaces the current value.
func (d *Dynamic) Store(v any) {
	d.value.Store(&dynamicValue{v: v})
}

// Observer delivers service arrivals and departures of an observer
// reference to callbacks registered by the bean.
type Observer struct {
	mu      sync.Mutex
	added   []func(Tuple)
	removed []func(Tuple)
	current []Tuple
}

// NewObserver creates an observer seeded with the currently bound services.
func NewObserver(initial []Tuple) *Observer {
	return &Observer{current: append([]Tuple(nil), initial...)}
}

// OnAdded registers fn and replays the currently bound services into it.
func (o *Observer) OnAdded(fn func(Tuple)) {
	o.mu.Lock()
	o.added = append(o.added, fn)
	current := append([]Tuple(nil), o.current...)
	o.mu.Unlock()

	for _, t := range current {
		fn(t)
	}
}

// OnRemoved registers fn.
func (o *Observer) OnRemoved(fn func(Tuple)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.removed = append(o.removed, fn)
}

// Added notifies the bean of a new service.
func (o *Observer) Added(t Tuple) {
	o.mu.Lock()
	o.current = append(o.current, t)
	fns := slices.Clone(o.added)
	o.mu.Unlock()

	for _, fn := range fns {
		fn(t)
	}
}

// Removed notifies the bean of a departed service.
func (o *Observer) Removed(t Tuple) {
	o.mu.Lock()
	for i, c := range o.current {
		if c.Reference == t.Reference {
			o.current = append(o.current[:i:i], o.current[i+1:]...)
			break
		}
	}
	fns := slices.Clone(o.removed)
	o.mu.Unlock()

	for _, fn := range fns {
		fn(t)
	}
}
