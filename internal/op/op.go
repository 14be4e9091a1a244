// Package op defines the catalog of lifecycle operations a container
// performs. Ops label submitted tasks so callbacks, logs and tests can
// observe specific transitions.
package op

import "fmt"

// Mode is the direction of an operation.
type Mode int

const (
	Open Mode = iota
	Close
)

// String returns the string representation of the Mode.
func (m Mode) String() string {
	switch m {
	case Open:
		return "OPEN"
	case Close:
		return "CLOSE"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Type is the subsystem an operation applies to.
type Type int

const (
	ConfigurationEvent Type = iota
	ConfigurationListener
	ConfigurationPhase
	ContainerActivator
	ContainerBootstrap
	ContainerComponent
	ContainerInstance
	Extension
	FactoryActivator
	FactoryComponent
	FactoryInstance
	Init
	References
	SingleActivator
	SingleComponent
	SingleInstance
)

var typeNames = [...]string{
	ConfigurationEvent:    "CONFIGURATION_EVENT",
	ConfigurationListener: "CONFIGURATION_LISTENER",
	ConfigurationPhase:    "CONFIGURATION_PHASE",
	ContainerActivator:    "CONTAINER_ACTIVATOR",
	ContainerBootstrap:    "CONTAINER_BOOTSTRAP",
	ContainerComponent:    "CONTAINER_COMPONENT",
	ContainerInstance:     "CONTAINER_INSTANCE",
	Extension:             "EXTENSION",
	FactoryActivator:      "FACTORY_ACTIVATOR",
	FactoryComponent:      "FACTORY_COMPONENT",
	FactoryInstance:       "FACTORY_INSTANCE",
	Init:                  "INIT",
	References:            "REFERENCES",
	SingleActivator:       "SINGLE_ACTIVATOR",
	SingleComponent:       "SINGLE_COMPONENT",
	SingleInstance:        "SINGLE_INSTANCE",
}

// String returns the string representation of the Type.
func (t Type) String() string {
	if t >= 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// Op identifies one lifecycle operation. Name is free-form context such as
// a component name or PID and is not part of the op's identity for Is.
type Op struct {
	Mode Mode
	Type Type
	Name string
}

// Of constructs an Op.
func Of(mode Mode, typ Type, name string) Op {
	return Op{Mode: mode, Type: typ, Name: name}
}

// Is reports whether op has the given mode and type.
func (o Op) Is(mode Mode, typ Type) bool {
	return o.Mode == mode && o.Type == typ
}

func (o Op) String() string {
	if o.Name == "" {
		return o.Mode.String() + " " + o.Type.String()
	}
	return fmt.Sprintf("%s %s %s", o.Mode, o.Type, o.Name)
}

// Matcher is a predicate over ops.
type Matcher func(Op) bool

// Match returns a Matcher for mode and type with any name.
func Match(mode Mode, typ Type) Matcher {
	return func(o Op) bool { return o.Is(mode, typ) }
}

// MatchNamed returns a Matcher for mode, type and an exact name.
func MatchNamed(mode Mode, typ Type, name string) Matcher {
	return func(o Op) bool { return o.Is(mode, typ) && o.Name == name }
}

// Any matches every op.
func Any(Op) bool { return true }
