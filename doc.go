// Package ccr is a component runtime for declarative, dependency-injected
// components. A deployment unit (a Bundle) describes bean classes and the
// components built from them; the runtime discovers the components,
// tracks the configurations and services they depend on, and activates
// each component instance once its dependencies are satisfied.
//
// # Overview
//
// Every started bundle gets its own container. A container runs a fixed
// chain of phases on a single serialized executor:
//
//   - Init discovers components from the bundle descriptor and validates
//     them against the bean classes the bundle ships.
//   - Extension waits until every required extension service is present in
//     the service registry.
//   - Configuration subscribes to the configuration admin and feeds
//     configurations to each component.
//   - ContainerBootstrap boots the bean container once the container
//     component itself is satisfied.
//
// Component instances publish their beans as services in the registry when
// they activate and retract them when they deactivate.
//
// # Basic Usage
//
//	rt := ccr.New(ccr.WithLogger(logger))
//	defer rt.Close()
//
//	err := rt.Start(ctx, ccr.Bundle{
//	    Descriptor: desc,
//	    Loader:     beans.NewIndex(classes...),
//	})
//
//	snapshot, err := rt.ContainerDTO(desc.ID)
//
// # Inspection
//
// ContainerDTO, ContainerTemplateDTO and ContainerChangeCount return
// point-in-time snapshots that are safe to read from any goroutine. The
// change count of a container increases with every observable change, so
// callers can poll it cheaply and fetch a full snapshot only when it moves.
package ccr
