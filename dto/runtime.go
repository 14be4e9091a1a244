package dto

import "fmt"

// InstanceState is the reconciliation state of a component instance.
type InstanceState int

const (
	// Unresolved instances lack required configuration.
	Unresolved InstanceState = iota
	// PartiallyResolved instances have configuration but are not active.
	PartiallyResolved
	// Active instances have all mandatory dependencies and are running.
	Active
	// Closed instances have been destroyed.
	Closed
)

// String returns the string representation of the InstanceState.
func (s InstanceState) String() string {
	switch s {
	case Unresolved:
		return "Unresolved"
	case PartiallyResolved:
		return "PartiallyResolved"
	case Active:
		return "Active"
	case Closed:
		return "Closed"
	default:
		return fmt.Sprintf("InstanceState(%d)", int(s))
	}
}

// ContainerDTO is a point-in-time snapshot of one container.
type ContainerDTO struct {
	BundleID    int64
	ChangeCount int64
	Components  []*ComponentDTO
	Errors      []string
	Extensions  []*ExtensionDTO
	Template    *ContainerTemplateDTO
}

// Component returns the snapshot of the named component.
func (c *ContainerDTO) Component(name string) *ComponentDTO {
	for _, comp := range c.Components {
		if comp.Template.Name == name {
			return comp
		}
	}
	return nil
}

// ExtensionDTO is a bound extension service.
type ExtensionDTO struct {
	Template *ExtensionTemplateDTO
	Service  *ServiceReferenceDTO
}

// ComponentDTO is a snapshot of one component and its instances.
type ComponentDTO struct {
	Template  *ComponentTemplateDTO
	Instances []*ComponentInstanceDTO
	Enabled   bool
}

// ComponentInstanceDTO is a snapshot of one component instance.
type ComponentInstanceDTO struct {
	// PID is the factory configuration PID for factory instances.
	PID            string
	State          InstanceState
	Properties     map[string]any
	Configurations []*ConfigurationDTO
	References     []*ReferenceDTO
	Activations    []*ActivationDTO
}

// Active reports whether the instance was active when captured.
func (i *ComponentInstanceDTO) Active() bool {
	return i.State == Active
}

// Reference returns the snapshot of the named reference.
func (i *ComponentInstanceDTO) Reference(name string) *ReferenceDTO {
	for _, r := range i.References {
		if r.Template.Name == name {
			return r
		}
	}
	return nil
}

// ConfigurationDTO is a configuration bound to an instance.
type ConfigurationDTO struct {
	Template   *ConfigurationTemplateDTO
	PID        string
	Properties map[string]any
}

// ReferenceDTO is the live state of one reference of an instance.
type ReferenceDTO struct {
	Template           *ReferenceTemplateDTO
	TargetFilter       string
	MinimumCardinality int
	// Matches are all services currently satisfying the filter, best ranked first.
	Matches []*ServiceReferenceDTO
	// Bound are the services injected into the active instance.
	Bound []*ServiceReferenceDTO
}

// Resolved reports whether the reference had enough matches when captured.
func (r *ReferenceDTO) Resolved() bool {
	return len(r.Matches) >= r.MinimumCardinality
}

// ActivationDTO is one published service registration.
type ActivationDTO struct {
	Template *ActivationTemplateDTO
	Service  *ServiceReferenceDTO
	Errors   []string
}

// ServiceReferenceDTO is a snapshot of a registered service.
type ServiceReferenceDTO struct {
	ID         int64
	Properties map[string]any
}
