package container

import (
	"errors"
	"fmt"
	"strings"
)

// ErrExecutorClosed is returned for tasks submitted after shutdown.
var ErrExecutorClosed = errors.New("executor is closed")

// Kind classifies recorded container errors.
type Kind int

const (
	// KindDefinition marks malformed or incomplete declarative metadata.
	KindDefinition Kind = iota
	// KindRegistry marks failures of the service or configuration registry.
	KindRegistry
	// KindRuntime marks unexpected failures while opening or closing phases.
	KindRuntime
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindDefinition:
		return "definition"
	case KindRegistry:
		return "registry"
	case KindRuntime:
		return "runtime"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is one entry of a container's error list.
type Error struct {
	Kind      Kind
	Component string
	Bean      string
	Cause     error
}

func (e Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	b.WriteString(" error")

	if e.Component != "" || e.Bean != "" {
		b.WriteString(" [")
		var parts []string
		if e.Component != "" {
			parts = append(parts, "component="+e.Component)
		}
		if e.Bean != "" {
			parts = append(parts, "bean="+e.Bean)
		}
		b.WriteString(strings.Join(parts, " "))
		b.WriteString("]")
	}

	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e Error) Unwrap() error {
	return e.Cause
}

// DefinitionError creates a definition error.
func DefinitionError(component, bean string, cause error) Error {
	return Error{Kind: KindDefinition, Component: component, Bean: bean, Cause: cause}
}

// RegistryError creates a registry error.
func RegistryError(component string, cause error) Error {
	return Error{Kind: KindRegistry, Component: component, Cause: cause}
}

// RuntimeError creates a runtime error.
func RuntimeError(component string, cause error) Error {
	return Error{Kind: KindRuntime, Component: component, Cause: cause}
}

// asError classifies err, defaulting to a runtime error.
func asError(err error) Error {
	var e Error
	if errors.As(err, &e) {
		return e
	}
	return RuntimeError("", err)
}
