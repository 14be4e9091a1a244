// Package component reconciles component instances against configuration
// and service availability.
package component

import (
	"sync"

	"github.com/junioryono/ccr/configadmin"
	"github.com/junioryono/ccr/dto"
	"github.com/junioryono/ccr/internal/container"
	"github.com/junioryono/ccr/internal/cow"
	"github.com/junioryono/ccr/internal/discovery"
	"github.com/junioryono/ccr/internal/op"
)

type opTypes struct {
	component op.Type
	instance  op.Type
}

var opsByType = map[dto.ComponentType]opTypes{
	dto.Container: {op.ContainerComponent, op.ContainerInstance},
	dto.Single:    {op.SingleComponent, op.SingleInstance},
	dto.Factory:   {op.FactoryComponent, op.FactoryInstance},
}

// Component holds the instances of one component template. CONTAINER and
// SINGLE components have exactly one instance; FACTORY components have one
// per factory configuration.
type Component struct {
	state        *container.State
	comp         *discovery.Component
	ops          opTypes
	newActivator ActivatorFactory

	instances cow.List[*Instance]

	mu sync.Mutex
	// shared are the ONE configurations applied to every instance,
	// including factory instances created later.
	shared map[*dto.ConfigurationTemplateDTO]*configadmin.Configuration
}

// New creates the component and, unless it is a factory, its instance.
func New(state *container.State, comp *discovery.Component, newActivator ActivatorFactory) *Component {
	c := &Component{
		state:        state,
		comp:         comp,
		ops:          opsByType[comp.Template.Type],
		newActivator: newActivator,
		shared:       make(map[*dto.ConfigurationTemplateDTO]*configadmin.Configuration),
	}
	if comp.Template.Type != dto.Factory {
		c.instances.Add(newInstance(state, comp, "", newActivator))
	}
	return c
}

func (c *Component) Name() string { return c.comp.Template.Name }

func (c *Component) Template() *dto.ComponentTemplateDTO { return c.comp.Template }

// Op identifies a lifecycle operation of the component.
func (c *Component) Op(mode op.Mode) op.Op {
	return op.Of(mode, c.ops.component, c.Name())
}

// InstanceOp identifies a lifecycle operation of one instance.
func (c *Component) InstanceOp(mode op.Mode, inst *Instance) op.Op {
	name := c.Name()
	if inst.PID() != "" {
		name = inst.PID()
	}
	return op.Of(mode, c.ops.instance, name)
}

// Instances returns the current instances.
func (c *Component) Instances() []*Instance {
	return c.instances.Snapshot()
}

// Instance returns the instance with pid; the single instance of
// non-factory components has an empty pid.
func (c *Component) Instance(pid string) (*Instance, bool) {
	return c.instances.Find(func(i *Instance) bool { return i.PID() == pid })
}

// Open opens every instance and reports whether any changed.
func (c *Component) Open() bool {
	changed := false
	for _, inst := range c.instances.Snapshot() {
		if inst.Open() {
			changed = true
		}
	}
	return changed
}

// Close closes every instance. Factory instances are discarded; they are
// recreated from their configurations on the next open.
func (c *Component) Close() bool {
	changed := false
	for _, inst := range c.instances.Snapshot() {
		if inst.Close() {
			changed = true
		}
	}

	if c.comp.Template.Type == dto.Factory {
		for _, inst := range c.instances.Clear() {
			inst.destroy()
			changed = true
		}
	}

	c.mu.Lock()
	c.shared = make(map[*dto.ConfigurationTemplateDTO]*configadmin.Configuration)
	c.mu.Unlock()
	for _, inst := range c.instances.Snapshot() {
		for _, t := range c.comp.Template.Configurations {
			inst.SetConfiguration(t, nil)
		}
	}

	return changed
}

// SetConfiguration applies cfg for t without reconciling. For the factory
// template pid selects, creates or removes the instance. A nil cfg
// removes the configuration.
func (c *Component) SetConfiguration(t *dto.ConfigurationTemplateDTO, pid string, cfg *configadmin.Configuration) *Instance {
	if c.isFactoryTemplate(t) {
		inst, ok := c.Instance(pid)
		switch {
		case cfg == nil && ok:
			c.instances.RemoveFunc(func(i *Instance) bool { return i == inst })
			inst.destroy()
			return nil
		case cfg == nil:
			return nil
		case !ok:
			inst = newInstance(c.state, c.comp, pid, c.newActivator)
			c.mu.Lock()
			for st, sc := range c.shared {
				inst.SetConfiguration(st, sc)
			}
			c.mu.Unlock()
			inst.SetConfiguration(t, cfg)
			c.instances.Add(inst)
			c.state.IncrementChangeCount()
			return inst
		default:
			inst.SetConfiguration(t, cfg)
			return inst
		}
	}

	c.mu.Lock()
	if cfg == nil {
		delete(c.shared, t)
	} else {
		c.shared[t] = cfg
	}
	c.mu.Unlock()

	for _, inst := range c.instances.Snapshot() {
		inst.SetConfiguration(t, cfg)
	}
	return nil
}

// ConfigurationChanged applies cfg for t and reconciles the affected
// instances: each is closed and reopened with the new configuration.
func (c *Component) ConfigurationChanged(t *dto.ConfigurationTemplateDTO, pid string, cfg *configadmin.Configuration) bool {
	if c.isFactoryTemplate(t) {
		inst, ok := c.Instance(pid)
		if ok {
			if cfg != nil && inst.Configuration(t) == cfg {
				return false
			}
			inst.Close()
		}
		inst = c.SetConfiguration(t, pid, cfg)
		if inst == nil {
			return ok
		}
		inst.Open()
		return true
	}

	changed := false
	for _, inst := range c.instances.Snapshot() {
		if cfg != nil && inst.Configuration(t) == cfg {
			continue
		}
		inst.Close()
		changed = true
	}
	if !changed && cfg != nil {
		return false
	}

	c.SetConfiguration(t, pid, cfg)
	for _, inst := range c.instances.Snapshot() {
		inst.Open()
	}
	return true
}

func (c *Component) isFactoryTemplate(t *dto.ConfigurationTemplateDTO) bool {
	return c.comp.Template.Type == dto.Factory && t.Main && t.MaximumCardinality == dto.Many
}

// Snapshot returns the component DTO.
func (c *Component) Snapshot() *dto.ComponentDTO {
	insts := c.instances.Snapshot()
	out := &dto.ComponentDTO{
		Template:  c.comp.Template,
		Instances: make([]*dto.ComponentInstanceDTO, 0, len(insts)),
		Enabled:   true,
	}
	for _, inst := range insts {
		out.Instances = append(out.Instances, inst.Snapshot())
	}
	return out
}

var _ container.Snapshotter = (*Component)(nil)
