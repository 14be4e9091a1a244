package component

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/junioryono/ccr/beans"
	"github.com/junioryono/ccr/dto"
	"github.com/junioryono/ccr/internal/container"
	"github.com/junioryono/ccr/internal/op"
	"github.com/junioryono/ccr/registry"
)

// ErrNoBeanContainer is returned when an instance activates while the
// unit's bean container is not running.
var ErrNoBeanContainer = errors.New("bean container is not running")

// Activator turns a resolved instance into running beans and published
// services, and back.
type Activator interface {
	Activate(inst *Instance) error
	Deactivate(inst *Instance) error
	Activations() []*dto.ActivationDTO
}

// ActivatorFactory creates the activator of one instance.
type ActivatorFactory func(inst *Instance) Activator

// ServiceProperties are the registration properties of a published
// service: the public component properties, those of the activation
// template and the service scope.
func ServiceProperties(props map[string]any, t *dto.ActivationTemplateDTO) map[string]any {
	out := make(map[string]any, len(props)+len(t.Properties)+1)
	for k, v := range props {
		if strings.HasPrefix(k, ".") {
			continue
		}
		out[k] = v
	}
	for k, v := range t.Properties {
		out[k] = v
	}
	out[registry.ServiceScope] = t.Scope.String()
	return out
}

// publisher registers the services of an activation.
type publisher struct {
	state *container.State

	mu            sync.Mutex
	registrations []*registry.Registration
	activations   []*dto.ActivationDTO
}

func (p *publisher) publish(inst *Instance, bean func(class *beans.Class) (any, bool)) {
	reg := p.state.Registry()
	props := inst.Properties()

	var classes []*beans.Class
	for _, c := range inst.Classes() {
		if len(c.Services) > 0 {
			classes = append(classes, c)
		}
	}

	for idx, t := range inst.Template().Activations {
		a := &dto.ActivationDTO{Template: t}

		var service any
		if idx < len(classes) {
			service, _ = bean(classes[idx])
		}

		switch {
		case reg == nil:
			a.Errors = append(a.Errors, "no service registry")
		case service == nil:
			a.Errors = append(a.Errors, fmt.Sprintf("no bean provides %v", t.ServiceClasses))
		default:
			r, err := reg.Register(t.ServiceClasses, service, ServiceProperties(props, t))
			if err != nil {
				a.Errors = append(a.Errors, err.Error())
				p.state.Error(container.RegistryError(inst.Name(), err))
				break
			}
			a.Service = r.Reference().DTO()
			p.mu.Lock()
			p.registrations = append(p.registrations, r)
			p.mu.Unlock()
		}

		p.mu.Lock()
		p.activations = append(p.activations, a)
		p.mu.Unlock()
	}
}

func (p *publisher) unpublish() error {
	p.mu.Lock()
	regs := p.registrations
	p.registrations = nil
	p.activations = nil
	p.mu.Unlock()

	var errs []error
	for i := len(regs) - 1; i >= 0; i-- {
		if err := regs[i].Unregister(); err != nil && !errors.Is(err, registry.ErrUnregistered) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *publisher) Activations() []*dto.ActivationDTO {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*dto.ActivationDTO(nil), p.activations...)
}

// ServiceActivator activates SINGLE and FACTORY instances: it creates the
// component's beans through the bean manager and publishes their services.
type ServiceActivator struct {
	publisher
	activation *beans.Activation
}

// NewServiceActivator returns the activator factory of SINGLE and FACTORY
// components.
func NewServiceActivator(state *container.State) ActivatorFactory {
	return func(*Instance) Activator {
		return &ServiceActivator{publisher: publisher{state: state}}
	}
}

func (a *ServiceActivator) Activate(inst *Instance) error {
	m := a.state.BeanManager()
	if m == nil {
		return container.RuntimeError(inst.Name(), ErrNoBeanContainer)
	}

	act, err := m.Create(context.Background(), beans.CreateRequest{
		Component: inst.Name(),
		Classes:   inst.Classes(),
		Injection: inst.Injection(),
	})
	if err != nil {
		return container.RuntimeError(inst.Name(), fmt.Errorf("failed to create beans: %w", err))
	}

	a.mu.Lock()
	a.activation = act
	a.mu.Unlock()

	a.publish(inst, func(c *beans.Class) (any, bool) {
		b, ok := act.Beans[c.Name]
		return b, ok
	})
	return nil
}

func (a *ServiceActivator) Deactivate(inst *Instance) error {
	errs := []error{a.unpublish()}

	a.mu.Lock()
	act := a.activation
	a.activation = nil
	a.mu.Unlock()

	if act != nil {
		if m := a.state.BeanManager(); m != nil {
			if err := m.Destroy(act.ID); err != nil && !errors.Is(err, beans.ErrActivationNotFound) {
				errs = append(errs, fmt.Errorf("failed to destroy beans: %w", err))
			}
		}
	}
	return errors.Join(errs...)
}

// Bootstrapper starts and stops the bean container of a unit.
type Bootstrapper interface {
	Start(in *beans.Injection) error
	Stop() error
}

// ContainerActivator activates the CONTAINER instance: it boots the bean
// container, publishes the container beans' services and then opens the
// configuration listeners of the other components. Deactivation unwinds in
// reverse.
type ContainerActivator struct {
	publisher
	bootstrap Bootstrapper
	listeners []container.Phase
	// seq moves on every activation and deactivation.
	seq atomic.Uint64
}

// NewContainerActivator returns the activator factory of the CONTAINER
// component.
func NewContainerActivator(state *container.State, bootstrap Bootstrapper, listeners []container.Phase) ActivatorFactory {
	return func(*Instance) Activator {
		return &ContainerActivator{
			publisher: publisher{state: state},
			bootstrap: bootstrap,
			listeners: listeners,
		}
	}
}

func (a *ContainerActivator) Activate(inst *Instance) error {
	if err := a.bootstrap.Start(inst.Injection()); err != nil {
		return err
	}

	m := a.state.BeanManager()
	a.publish(inst, func(c *beans.Class) (any, bool) {
		if m == nil {
			return nil, false
		}
		return m.Bean(c.Name)
	})

	seq := a.seq.Add(1)
	for _, l := range a.listeners {
		l := l
		a.state.Submit(l.Op(op.Open), func() (bool, error) {
			if a.seq.Load() != seq || !inst.Active() {
				return false, nil
			}
			return l.Open(), nil
		})
	}
	return nil
}

func (a *ContainerActivator) Deactivate(*Instance) error {
	a.seq.Add(1)
	for i := len(a.listeners) - 1; i >= 0; i-- {
		a.listeners[i].Close()
	}

	return errors.Join(a.unpublish(), a.bootstrap.Stop())
}
