package beans

import (
	"fmt"

	"github.com/junioryono/ccr/dto"
)

// InjectionKind is what an injection point is satisfied by.
type InjectionKind int

const (
	KindReference InjectionKind = iota
	KindConfiguration
)

// String returns the string representation of the InjectionKind.
func (k InjectionKind) String() string {
	switch k {
	case KindReference:
		return "reference"
	case KindConfiguration:
		return "configuration"
	default:
		return fmt.Sprintf("InjectionKind(%d)", int(k))
	}
}

// InjectionPoint declares one dependency of a bean class.
type InjectionPoint struct {
	// Name identifies the point within its component; beans read the
	// injected value with Injection.Reference or Injection.Configuration.
	Name string
	Kind InjectionKind

	// Reference points.

	// ReferenceName overrides the derived reference name "<bean>.<Name>".
	ReferenceName string
	Service       string
	Multiple      bool
	Optional      bool
	Dynamic       bool
	Greedy        bool
	Target        string
	Collection    dto.CollectionType

	// Configuration points.

	// PID defaults to "$", the component name.
	PID      string
	Required bool
}

// Class is one scanned bean class.
type Class struct {
	Name string
	// Constructor is a dig constructor returning the bean, optionally with
	// an error.
	Constructor any
	// InjectionPoints are the bean's reference and configuration dependencies.
	InjectionPoints []InjectionPoint
	// Services are the service types the bean publishes when its component
	// activates.
	Services []string
	// Scope is the registration scope of the published services.
	Scope dto.ServiceScope
}

// Loader resolves bean class names.
type Loader interface {
	Load(name string) (*Class, bool)
	Names() []string
}

// Index is a Loader over a fixed set of classes, preserving registration order.
type Index struct {
	classes map[string]*Class
	order   []string
}

// NewIndex creates an index. Later classes with a duplicate name replace earlier ones.
func NewIndex(classes ...*Class) *Index {
	idx := &Index{classes: make(map[string]*Class, len(classes))}
	for _, c := range classes {
		idx.Add(c)
	}
	return idx
}

// Add adds c to the index.
func (idx *Index) Add(c *Class) {
	if c == nil || c.Name == "" {
		return
	}
	if _, exists := idx.classes[c.Name]; !exists {
		idx.order = append(idx.order, c.Name)
	}
	idx.classes[c.Name] = c
}

// Load implements Loader.
func (idx *Index) Load(name string) (*Class, bool) {
	c, ok := idx.classes[name]
	return c, ok
}

// Names implements Loader.
func (idx *Index) Names() []string {
	return append([]string(nil), idx.order...)
}

// aggregateLoader searches several loaders in order.
type aggregateLoader []Loader

// Aggregate combines loaders; the first loader knowing a name wins.
func Aggregate(loaders ...Loader) Loader {
	return aggregateLoader(loaders)
}

func (a aggregateLoader) Load(name string) (*Class, bool) {
	for _, l := range a {
		if l == nil {
			continue
		}
		if c, ok := l.Load(name); ok {
			return c, true
		}
	}
	return nil, false
}

func (a aggregateLoader) Names() []string {
	seen := make(map[string]bool)
	var names []string
	for _, l := range a {
		if l == nil {
			continue
		}
		for _, n := range l.Names() {
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}
	return names
}
