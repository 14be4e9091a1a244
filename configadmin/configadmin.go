// Package configadmin is the configuration registry the component runtime
// consumes: configuration objects addressed by PID or factory PID, filter
// queries over their properties, and change events.
package configadmin

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/junioryono/ccr/internal/filter"
)

// Property keys set on every configuration's processed properties.
const (
	ServicePID        = "service.pid"
	ServiceFactoryPID = "service.factoryPid"
)

// FactorySeparator joins a factory PID and an instance name into a PID.
const FactorySeparator = "~"

var (
	ErrConfigurationDeleted = errors.New("configuration has been deleted")
	ErrEmptyPID             = errors.New("pid cannot be empty")
)

// EventType classifies a configuration change.
type EventType int

const (
	Created EventType = iota
	Updated
	Deleted
	LocationChanged
)

// String returns the string representation of the EventType.
func (t EventType) String() string {
	switch t {
	case Created:
		return "CM_CREATED"
	case Updated:
		return "CM_UPDATED"
	case Deleted:
		return "CM_DELETED"
	case LocationChanged:
		return "CM_LOCATION_CHANGED"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event describes one configuration change.
type Event struct {
	Type       EventType
	PID        string
	FactoryPID string
}

// Listener receives configuration events.
type Listener interface {
	ConfigurationEvent(e Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(e Event)

// ConfigurationEvent calls f(e).
func (f ListenerFunc) ConfigurationEvent(e Event) { f(e) }

// Admin is the contract the runtime depends on.
type Admin interface {
	// ListConfigurations returns the configurations whose processed
	// properties match filter; an empty filter matches all.
	ListConfigurations(filter string) ([]*Configuration, error)

	// AddListener registers l and returns a function removing it.
	AddListener(l Listener) (remove func())
}

// Configuration is an immutable snapshot of one configuration object.
type Configuration struct {
	pid         string
	factoryPID  string
	location    string
	properties  map[string]any
	changeCount int64
}

// PID returns the configuration PID.
func (c *Configuration) PID() string { return c.pid }

// FactoryPID returns the factory PID, empty for singleton configurations.
func (c *Configuration) FactoryPID() string { return c.factoryPID }

// BundleLocation returns the location binding, empty when unbound.
func (c *Configuration) BundleLocation() string { return c.location }

// ChangeCount returns how many times the configuration was updated.
func (c *Configuration) ChangeCount() int64 { return c.changeCount }

// ProcessedProperties returns a copy of the properties including
// service.pid and, for factory configurations, service.factoryPid.
func (c *Configuration) ProcessedProperties() map[string]any {
	props := make(map[string]any, len(c.properties)+2)
	for k, v := range c.properties {
		props[k] = v
	}
	props[ServicePID] = c.pid
	if c.factoryPID != "" {
		props[ServiceFactoryPID] = c.factoryPID
	}
	return props
}

// VisibleTo reports whether a deployment unit at location may see the
// configuration: unbound, bound to exactly that location, or multi-location
// ("?" prefixed).
func (c *Configuration) VisibleTo(location string) bool {
	return c.location == "" || c.location == location || strings.HasPrefix(c.location, "?")
}

// FactoryPIDOf returns the factory part of pid, or "" if pid is not a
// factory instance PID.
func FactoryPIDOf(pid string) string {
	if i := strings.Index(pid, FactorySeparator); i > 0 {
		return pid[:i]
	}
	return ""
}

// Memory is an in-memory Admin. Events are delivered synchronously on the
// goroutine performing the change, after internal locks are released.
type Memory struct {
	mu             sync.RWMutex
	configurations map[string]*Configuration
	listeners      []*listenerEntry
	logger         *zap.Logger
}

type listenerEntry struct {
	listener Listener
}

// NewMemory creates an empty in-memory configuration admin.
func NewMemory(logger *zap.Logger) *Memory {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Memory{
		configurations: make(map[string]*Configuration),
		logger:         logger,
	}
}

// Get returns the configuration with pid.
func (m *Memory) Get(pid string) (*Configuration, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.configurations[pid]
	return c, ok
}

// ListConfigurations implements Admin. Results are ordered by PID.
func (m *Memory) ListConfigurations(src string) ([]*Configuration, error) {
	var f filter.Filter
	if src != "" {
		var err error
		if f, err = filter.Compile(src); err != nil {
			return nil, err
		}
	}

	m.mu.RLock()
	result := make([]*Configuration, 0, len(m.configurations))
	for _, c := range m.configurations {
		if f == nil || f.Match(c.ProcessedProperties()) {
			result = append(result, c)
		}
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].pid < result[j].pid })
	return result, nil
}

// AddListener implements Admin.
func (m *Memory) AddListener(l Listener) (remove func()) {
	entry := &listenerEntry{listener: l}

	m.mu.Lock()
	m.listeners = append(m.listeners, entry)
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, e := range m.listeners {
			if e == entry {
				m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}

// Update creates or replaces the singleton configuration pid. Updating a
// configuration with identical properties emits no event.
func (m *Memory) Update(pid string, props map[string]any) error {
	if pid == "" {
		return ErrEmptyPID
	}
	return m.update(pid, FactoryPIDOf(pid), props)
}

// UpdateFactory creates or replaces the factory configuration
// factoryPID~name and returns its PID.
func (m *Memory) UpdateFactory(factoryPID, name string, props map[string]any) (string, error) {
	if factoryPID == "" || name == "" {
		return "", ErrEmptyPID
	}

	pid := factoryPID + FactorySeparator + name
	return pid, m.update(pid, factoryPID, props)
}

func (m *Memory) update(pid, factoryPID string, props map[string]any) error {
	clean := make(map[string]any, len(props))
	for k, v := range props {
		if k == ServicePID || k == ServiceFactoryPID {
			continue
		}
		clean[k] = v
	}

	m.mu.Lock()
	previous, exists := m.configurations[pid]
	if exists && reflect.DeepEqual(previous.properties, clean) {
		m.mu.Unlock()
		return nil
	}

	next := &Configuration{
		pid:        pid,
		factoryPID: factoryPID,
		properties: clean,
	}
	if exists {
		next.location = previous.location
		next.changeCount = previous.changeCount + 1
	}
	m.configurations[pid] = next
	listeners := m.listeners
	m.mu.Unlock()

	eventType := Updated
	if !exists {
		eventType = Created
	}

	m.fire(listeners, Event{Type: eventType, PID: pid, FactoryPID: factoryPID})
	return nil
}

// Delete removes the configuration pid.
func (m *Memory) Delete(pid string) error {
	m.mu.Lock()
	previous, exists := m.configurations[pid]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("delete %s: %w", pid, ErrConfigurationDeleted)
	}
	delete(m.configurations, pid)
	listeners := m.listeners
	m.mu.Unlock()

	m.fire(listeners, Event{Type: Deleted, PID: pid, FactoryPID: previous.factoryPID})
	return nil
}

// SetBundleLocation binds the configuration pid to location.
func (m *Memory) SetBundleLocation(pid, location string) error {
	m.mu.Lock()
	previous, exists := m.configurations[pid]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("set location of %s: %w", pid, ErrConfigurationDeleted)
	}
	next := *previous
	next.location = location
	m.configurations[pid] = &next
	listeners := m.listeners
	m.mu.Unlock()

	m.fire(listeners, Event{Type: LocationChanged, PID: pid, FactoryPID: previous.factoryPID})
	return nil
}

func (m *Memory) fire(listeners []*listenerEntry, e Event) {
	m.logger.Debug("configuration event",
		zap.Stringer("type", e.Type),
		zap.String("pid", e.PID),
		zap.String("factoryPid", e.FactoryPID))

	for _, entry := range listeners {
		entry.listener.ConfigurationEvent(e)
	}
}
