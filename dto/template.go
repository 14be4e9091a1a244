// Package dto holds the data transfer objects exposed by the component
// runtime: immutable templates built at discovery time and point-in-time
// snapshots of the live runtime state.
package dto

import "fmt"

// ComponentType is the kind of a component template.
type ComponentType int

const (
	// Container is the single implicit component of every container.
	Container ComponentType = iota
	// Single components have exactly one instance.
	Single
	// Factory components have one instance per factory configuration.
	Factory
)

// String returns the string representation of the ComponentType.
func (t ComponentType) String() string {
	switch t {
	case Container:
		return "CONTAINER"
	case Single:
		return "SINGLE"
	case Factory:
		return "FACTORY"
	default:
		return fmt.Sprintf("ComponentType(%d)", int(t))
	}
}

// MaximumCardinality bounds how many configurations or services a
// dependency binds.
type MaximumCardinality int

const (
	One MaximumCardinality = iota
	Many
)

// String returns the string representation of the MaximumCardinality.
func (c MaximumCardinality) String() string {
	switch c {
	case One:
		return "ONE"
	case Many:
		return "MANY"
	default:
		return fmt.Sprintf("MaximumCardinality(%d)", int(c))
	}
}

// ConfigurationPolicy says whether a configuration must be present.
type ConfigurationPolicy int

const (
	Optional ConfigurationPolicy = iota
	Required
)

// String returns the string representation of the ConfigurationPolicy.
func (p ConfigurationPolicy) String() string {
	switch p {
	case Optional:
		return "OPTIONAL"
	case Required:
		return "REQUIRED"
	default:
		return fmt.Sprintf("ConfigurationPolicy(%d)", int(p))
	}
}

// ReferencePolicy says whether services are bound once or tracked live.
type ReferencePolicy int

const (
	Static ReferencePolicy = iota
	Dynamic
)

// String returns the string representation of the ReferencePolicy.
func (p ReferencePolicy) String() string {
	switch p {
	case Static:
		return "STATIC"
	case Dynamic:
		return "DYNAMIC"
	default:
		return fmt.Sprintf("ReferencePolicy(%d)", int(p))
	}
}

// ReferencePolicyOption says whether better ranked services replace bound ones.
type ReferencePolicyOption int

const (
	Reluctant ReferencePolicyOption = iota
	Greedy
)

// String returns the string representation of the ReferencePolicyOption.
func (o ReferencePolicyOption) String() string {
	switch o {
	case Reluctant:
		return "RELUCTANT"
	case Greedy:
		return "GREEDY"
	default:
		return fmt.Sprintf("ReferencePolicyOption(%d)", int(o))
	}
}

// CollectionType is the shape in which a reference is injected.
type CollectionType int

const (
	CollectionService CollectionType = iota
	CollectionReference
	CollectionProperties
	CollectionTuple
	CollectionServiceObjects
	CollectionObserver
)

// String returns the string representation of the CollectionType.
func (c CollectionType) String() string {
	switch c {
	case CollectionService:
		return "SERVICE"
	case CollectionReference:
		return "REFERENCE"
	case CollectionProperties:
		return "PROPERTIES"
	case CollectionTuple:
		return "TUPLE"
	case CollectionServiceObjects:
		return "SERVICE_OBJECTS"
	case CollectionObserver:
		return "OBSERVER"
	default:
		return fmt.Sprintf("CollectionType(%d)", int(c))
	}
}

// ServiceScope is the registration scope of an activation.
type ServiceScope int

const (
	ScopeSingleton ServiceScope = iota
	ScopeBundle
	ScopePrototype
)

// String returns the string representation of the ServiceScope.
func (s ServiceScope) String() string {
	switch s {
	case ScopeSingleton:
		return "singleton"
	case ScopeBundle:
		return "bundle"
	case ScopePrototype:
		return "prototype"
	default:
		return fmt.Sprintf("ServiceScope(%d)", int(s))
	}
}

// ContainerTemplateDTO describes one deployment unit's container.
type ContainerTemplateDTO struct {
	ID         string
	Components []*ComponentTemplateDTO
	Extensions []*ExtensionTemplateDTO
}

// ContainerComponent returns the CONTAINER component template.
func (t *ContainerTemplateDTO) ContainerComponent() *ComponentTemplateDTO {
	for _, c := range t.Components {
		if c.Type == Container {
			return c
		}
	}
	return nil
}

// Component returns the component template with the given name.
func (t *ContainerTemplateDTO) Component(name string) *ComponentTemplateDTO {
	for _, c := range t.Components {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ExtensionTemplateDTO selects a runtime-supplied extension service.
type ExtensionTemplateDTO struct {
	ServiceFilter string
}

// ComponentTemplateDTO describes one declared component.
type ComponentTemplateDTO struct {
	Name           string
	Type           ComponentType
	Activations    []*ActivationTemplateDTO
	Configurations []*ConfigurationTemplateDTO
	References     []*ReferenceTemplateDTO
	Beans          []string
	Properties     map[string]any
}

// Reference returns the reference template with the given name.
func (t *ComponentTemplateDTO) Reference(name string) *ReferenceTemplateDTO {
	for _, r := range t.References {
		if r.Name == name {
			return r
		}
	}
	return nil
}

// ActivationTemplateDTO describes a service an active instance publishes.
type ActivationTemplateDTO struct {
	ServiceClasses []string
	Properties     map[string]any
	Scope          ServiceScope
}

// ConfigurationTemplateDTO describes a configuration dependency.
type ConfigurationTemplateDTO struct {
	PID                string
	MaximumCardinality MaximumCardinality
	Policy             ConfigurationPolicy
	// Main is true for the component's own configuration and false for an
	// auxiliary configuration injected into a bean.
	Main bool
}

// ReferenceTemplateDTO describes a service dependency.
type ReferenceTemplateDTO struct {
	Name               string
	ServiceType        string
	MinimumCardinality int
	MaximumCardinality MaximumCardinality
	Policy             ReferencePolicy
	PolicyOption       ReferencePolicyOption
	TargetFilter       string
	CollectionType     CollectionType
}
