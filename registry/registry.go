// Package registry is an in-process dynamic service registry. Services are
// published with an interface list and a property map, and consumers follow
// them through filter-based trackers that receive add, modify and remove
// callbacks on the goroutine that caused the change.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/junioryono/ccr/dto"
	"github.com/junioryono/ccr/internal/filter"
)

// Well-known service property keys.
const (
	ObjectClass    = "objectClass"
	ServiceID      = "service.id"
	ServiceRanking = "service.ranking"
	ServicePID     = "service.pid"
	ServiceScope   = "service.scope"
)

var (
	ErrUnregistered  = errors.New("service has been unregistered")
	ErrNoClasses     = errors.New("service must be registered under at least one class")
	ErrNilService    = errors.New("service cannot be nil")
	ErrNilCustomizer = errors.New("tracker customizer cannot be nil")
)

const filterCacheSize = 256

// Registry holds registered services and the trackers following them.
type Registry struct {
	mu       sync.RWMutex
	nextID   int64
	services map[int64]*ServiceReference
	trackers map[*Tracker]struct{}

	filters *lru.Cache[string, filter.Filter]
	logger  *zap.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for registry events.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	cache, err := lru.New[string, filter.Filter](filterCacheSize)
	if err != nil {
		panic(fmt.Errorf("failed to create filter cache: %w", err))
	}

	r := &Registry{
		services: make(map[int64]*ServiceReference),
		trackers: make(map[*Tracker]struct{}),
		filters:  cache,
		logger:   zap.NewNop(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Compile compiles a filter, reusing previously compiled filters.
func (r *Registry) Compile(src string) (filter.Filter, error) {
	if f, ok := r.filters.Get(src); ok {
		return f, nil
	}

	f, err := filter.Compile(src)
	if err != nil {
		return nil, err
	}

	r.filters.Add(src, f)
	return f, nil
}

// Register publishes service under classes with props. The registry sets
// objectClass and service.id and reads service.ranking from props.
func (r *Registry) Register(classes []string, service any, props map[string]any) (*Registration, error) {
	if len(classes) == 0 {
		return nil, ErrNoClasses
	}
	if service == nil {
		return nil, ErrNilService
	}

	r.mu.Lock()
	r.nextID++
	ref := &ServiceReference{
		id:      r.nextID,
		classes: append([]string(nil), classes...),
		service: service,
	}
	ref.setProperties(props)
	r.services[ref.id] = ref
	trackers := r.trackerSnapshot()
	r.mu.Unlock()

	r.logger.Debug("service registered",
		zap.Int64("service.id", ref.id),
		zap.Strings("objectClass", classes))

	for _, t := range trackers {
		t.serviceRegistered(ref)
	}

	return &Registration{registry: r, ref: ref}, nil
}

// References returns all services matching src, best ranked first.
// An empty src matches every service.
func (r *Registry) References(src string) ([]*ServiceReference, error) {
	var f filter.Filter
	if src != "" {
		var err error
		if f, err = r.Compile(src); err != nil {
			return nil, err
		}
	}

	r.mu.RLock()
	refs := make([]*ServiceReference, 0, len(r.services))
	for _, ref := range r.services {
		if f == nil || f.Match(ref.Properties()) {
			refs = append(refs, ref)
		}
	}
	r.mu.RUnlock()

	Sort(refs)
	return refs, nil
}

// NewTracker creates an unopened tracker for services matching src.
func (r *Registry) NewTracker(src string, customizer Customizer) (*Tracker, error) {
	if customizer == nil {
		return nil, ErrNilCustomizer
	}

	f, err := r.Compile(src)
	if err != nil {
		return nil, err
	}

	return &Tracker{
		registry:   r,
		filter:     f,
		customizer: customizer,
		tracked:    make(map[int64]*ServiceReference),
	}, nil
}

// trackerSnapshot must be called with r.mu held.
func (r *Registry) trackerSnapshot() []*Tracker {
	trackers := make([]*Tracker, 0, len(r.trackers))
	for t := range r.trackers {
		trackers = append(trackers, t)
	}
	return trackers
}

func (r *Registry) unregister(ref *ServiceReference) error {
	if !ref.unregistered.CompareAndSwap(false, true) {
		return ErrUnregistered
	}

	r.mu.Lock()
	delete(r.services, ref.id)
	trackers := r.trackerSnapshot()
	r.mu.Unlock()

	r.logger.Debug("service unregistered", zap.Int64("service.id", ref.id))

	for _, t := range trackers {
		t.serviceUnregistering(ref)
	}

	return nil
}

func (r *Registry) modify(ref *ServiceReference, props map[string]any) error {
	if ref.unregistered.Load() {
		return ErrUnregistered
	}

	r.mu.Lock()
	ref.setProperties(props)
	trackers := r.trackerSnapshot()
	r.mu.Unlock()

	for _, t := range trackers {
		t.serviceModified(ref)
	}

	return nil
}

// Registration is the handle returned by Register.
type Registration struct {
	registry *Registry
	ref      *ServiceReference
}

// Reference returns the registered service's reference.
func (reg *Registration) Reference() *ServiceReference {
	return reg.ref
}

// SetProperties replaces the service's properties.
func (reg *Registration) SetProperties(props map[string]any) error {
	return reg.registry.modify(reg.ref, props)
}

// Unregister retracts the service. A second call returns ErrUnregistered.
func (reg *Registration) Unregister() error {
	return reg.registry.unregister(reg.ref)
}

// ServiceReference identifies one registered service.
type ServiceReference struct {
	id           int64
	classes      []string
	service      any
	props        atomic.Pointer[map[string]any]
	ranking      atomic.Int64
	unregistered atomic.Bool
}

func (ref *ServiceReference) setProperties(props map[string]any) {
	next := make(map[string]any, len(props)+2)
	for k, v := range props {
		next[k] = v
	}
	next[ObjectClass] = append([]string(nil), ref.classes...)
	next[ServiceID] = ref.id

	ranking := int64(0)
	switch v := next[ServiceRanking].(type) {
	case int:
		ranking = int64(v)
	case int32:
		ranking = int64(v)
	case int64:
		ranking = v
	default:
		delete(next, ServiceRanking)
	}

	ref.ranking.Store(ranking)
	ref.props.Store(&next)
}

// ID returns the service.id.
func (ref *ServiceReference) ID() int64 { return ref.id }

// Ranking returns the service.ranking, zero when unset.
func (ref *ServiceReference) Ranking() int64 { return ref.ranking.Load() }

// Service returns the registered service object.
func (ref *ServiceReference) Service() any { return ref.service }

// Unregistered reports whether the service has been retracted.
func (ref *ServiceReference) Unregistered() bool { return ref.unregistered.Load() }

// Property returns one property value.
func (ref *ServiceReference) Property(key string) any {
	return (*ref.props.Load())[key]
}

// Properties returns a copy of the service properties.
func (ref *ServiceReference) Properties() map[string]any {
	current := *ref.props.Load()
	props := make(map[string]any, len(current))
	for k, v := range current {
		props[k] = v
	}
	return props
}

// DTO returns a snapshot of the reference.
func (ref *ServiceReference) DTO() *dto.ServiceReferenceDTO {
	return &dto.ServiceReferenceDTO{ID: ref.id, Properties: ref.Properties()}
}

// Before reports whether ref ranks ahead of other: higher service.ranking
// first, then lower service.id.
func (ref *ServiceReference) Before(other *ServiceReference) bool {
	if a, b := ref.Ranking(), other.Ranking(); a != b {
		return a > b
	}
	return ref.id < other.id
}

// Sort orders refs best ranked first.
func Sort(refs []*ServiceReference) {
	sort.SliceStable(refs, func(i, j int) bool { return refs[i].Before(refs[j]) })
}
