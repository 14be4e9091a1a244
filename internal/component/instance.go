package component

import (
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/junioryono/ccr/beans"
	"github.com/junioryono/ccr/configadmin"
	"github.com/junioryono/ccr/dto"
	"github.com/junioryono/ccr/internal/container"
	"github.com/junioryono/ccr/internal/discovery"
	"github.com/junioryono/ccr/registry"
)

// Properties injected into every component instance.
const (
	ComponentName = "component.name"
	ComponentID   = "component.id"
)

var componentIDs atomic.Int64

// Instance reconciles one component instance: it becomes active only while
// its required configurations are present and every reference has enough
// matching services. Open, Close and reconciliation run on the unit's
// executor; the mutex guards the fields snapshots and registry callbacks read.
type Instance struct {
	state     *container.State
	comp      *discovery.Component
	pid       string
	id        int64
	activator Activator
	logger    *zap.Logger

	mu         sync.Mutex
	configs    map[*dto.ConfigurationTemplateDTO]*configadmin.Configuration
	properties map[string]any
	references []*Reference
	injection  *beans.Injection
	active     bool
	destroyed  bool
}

func newInstance(state *container.State, comp *discovery.Component, pid string, newActivator ActivatorFactory) *Instance {
	inst := &Instance{
		state:   state,
		comp:    comp,
		pid:     pid,
		id:      componentIDs.Add(1),
		configs: make(map[*dto.ConfigurationTemplateDTO]*configadmin.Configuration),
		logger:  state.Logger().With(zap.String("component", comp.Template.Name)),
	}
	if pid != "" {
		inst.logger = inst.logger.With(zap.String("pid", pid))
	}
	inst.activator = newActivator(inst)
	return inst
}

// Name returns the component name.
func (i *Instance) Name() string { return i.comp.Template.Name }

// PID returns the factory configuration PID, empty for non-factory instances.
func (i *Instance) PID() string { return i.pid }

func (i *Instance) Template() *dto.ComponentTemplateDTO { return i.comp.Template }

func (i *Instance) Classes() []*beans.Class { return i.comp.Classes }

// Properties returns a copy of the merged properties, nil while unresolved.
func (i *Instance) Properties() map[string]any {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.properties == nil {
		return nil
	}
	return copyProps(i.properties)
}

// Injection returns the injection of the current activation.
func (i *Instance) Injection() *beans.Injection {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.injection
}

// Active reports whether the instance is activated.
func (i *Instance) Active() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.active
}

// References returns the live references while the instance is open.
func (i *Instance) References() []*Reference {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]*Reference(nil), i.references...)
}

// Configuration returns the configuration applied for t.
func (i *Instance) Configuration(t *dto.ConfigurationTemplateDTO) *configadmin.Configuration {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.configs[t]
}

// SetConfiguration applies c, or removes the configuration when c is nil.
// It takes effect on the next Open.
func (i *Instance) SetConfiguration(t *dto.ConfigurationTemplateDTO, c *configadmin.Configuration) {
	i.mu.Lock()
	if c == nil {
		delete(i.configs, t)
	} else {
		i.configs[t] = c
	}
	i.mu.Unlock()
}

func (i *Instance) configurationResolvedLocked() bool {
	for _, t := range i.comp.Template.Configurations {
		if t.Policy == dto.Required && i.configs[t] == nil {
			return false
		}
	}
	return true
}

func (i *Instance) referencesResolvedLocked() bool {
	if len(i.references) != len(i.comp.Template.References) {
		return false
	}
	for _, r := range i.references {
		if !r.resolved() {
			return false
		}
	}
	return true
}

func (i *Instance) mergeLocked() map[string]any {
	props := copyProps(i.comp.Template.Properties)

	var pids []string
	for _, t := range i.comp.Template.Configurations {
		c := i.configs[t]
		if !t.Main || c == nil {
			continue
		}
		for k, v := range c.ProcessedProperties() {
			if k == configadmin.ServicePID {
				continue
			}
			props[k] = v
		}
		pids = append(pids, c.PID())
	}
	if len(pids) > 0 {
		props[configadmin.ServicePID] = pids
	}

	props[ComponentName] = i.Name()
	props[ComponentID] = i.id
	return props
}

func (i *Instance) configValueLocked(t *dto.ConfigurationTemplateDTO) any {
	if t.Main {
		return copyProps(i.properties)
	}
	if c := i.configs[t]; c != nil {
		return c.ProcessedProperties()
	}
	return nil
}

// Open resolves the instance: it computes the properties, starts tracking
// references and activates once they are satisfied. It returns false when
// configuration is missing or the instance is already open.
func (i *Instance) Open() bool {
	i.mu.Lock()
	if i.destroyed || i.properties != nil || !i.configurationResolvedLocked() {
		i.mu.Unlock()
		return false
	}

	props := i.mergeLocked()
	refs := make([]*Reference, 0, len(i.comp.Template.References))
	for _, t := range i.comp.Template.References {
		r, err := newReference(t, props)
		if err != nil {
			i.mu.Unlock()
			i.state.Error(container.DefinitionError(i.Name(), "", err))
			return false
		}
		refs = append(refs, r)
	}
	i.properties = props
	i.references = refs
	i.mu.Unlock()

	i.state.IncrementChangeCount()
	i.logger.Debug("instance resolved configuration", zap.Int("references", len(refs)))

	reg := i.state.Registry()
	for _, r := range refs {
		if reg == nil {
			i.state.Error(container.RuntimeError(i.Name(), errors.New("no service registry")))
			i.Close()
			return false
		}

		t, err := reg.NewTracker(r.filter, &referenceSync{instance: i, ref: r})
		if err != nil {
			i.state.Error(container.RegistryError(i.Name(), err))
			i.Close()
			return false
		}

		i.mu.Lock()
		r.tracker = t
		i.mu.Unlock()
		t.Open()
	}

	i.mu.Lock()
	ready := i.properties != nil && i.referencesResolvedLocked()
	i.mu.Unlock()

	if ready {
		i.activate()
	}
	return true
}

// Close deactivates the instance, stops tracking references and clears its
// properties. Closing a closed instance is a no-op.
func (i *Instance) Close() bool {
	i.mu.Lock()
	open := i.properties != nil || len(i.references) > 0
	i.mu.Unlock()
	if !open {
		return false
	}

	i.deactivate()

	i.mu.Lock()
	refs := i.references
	trackers := make([]*registry.Tracker, 0, len(refs))
	for _, r := range refs {
		r.detached = true
		if r.tracker != nil {
			trackers = append(trackers, r.tracker)
		}
	}
	i.references = nil
	i.properties = nil
	i.mu.Unlock()

	for _, t := range trackers {
		t.Close()
	}

	i.state.IncrementChangeCount()
	i.logger.Debug("instance closed")
	return true
}

// destroy closes the instance for good.
func (i *Instance) destroy() {
	i.Close()

	i.mu.Lock()
	i.destroyed = true
	i.mu.Unlock()
	i.state.IncrementChangeCount()
}

// reconcile reacts to a change of ref's matches.
func (i *Instance) reconcile(ref *Reference) bool {
	i.mu.Lock()
	if ref.detached || i.properties == nil {
		i.mu.Unlock()
		return false
	}

	resolved := i.referencesResolvedLocked()
	if !i.active {
		i.mu.Unlock()
		if resolved {
			return i.activate()
		}
		return false
	}

	if !resolved {
		i.mu.Unlock()
		i.logger.Debug("reference unsatisfied", zap.String("reference", ref.template.Name))
		return i.deactivate()
	}

	if ref.template.Policy == dto.Dynamic {
		added, removed := ref.rebindDynamic()
		observers := append([]*beans.Observer(nil), ref.observers...)
		i.mu.Unlock()

		for _, o := range observers {
			for _, t := range removed {
				o.Removed(t)
			}
			for _, t := range added {
				o.Added(t)
			}
		}
		if len(added)+len(removed) > 0 {
			i.state.IncrementChangeCount()
		}
		return true
	}

	rebind := ref.boundLost() ||
		(ref.template.PolicyOption == dto.Greedy && !sameRefs(ref.candidates(), ref.bound))
	i.mu.Unlock()

	if !rebind {
		return false
	}

	i.logger.Debug("rebinding static reference", zap.String("reference", ref.template.Name))
	i.deactivate()
	return i.activate()
}

func (i *Instance) activate() bool {
	i.mu.Lock()
	if i.active || i.properties == nil {
		i.mu.Unlock()
		return false
	}

	byTemplate := make(map[*dto.ReferenceTemplateDTO]*Reference, len(i.references))
	for _, r := range i.references {
		r.bound = r.candidates()
		byTemplate[r.template] = r
	}

	in := beans.NewInjection(i.Name(), copyProps(i.properties))
	for _, b := range i.comp.Bindings {
		in.Bind(b.Point.Name, b.Qualifier)
		switch {
		case b.Reference != nil:
			if r, ok := byTemplate[b.Reference]; ok {
				in.Set(b.Qualifier, r.inject())
			}
		case b.Configuration != nil:
			in.Set(b.Qualifier, i.configValueLocked(b.Configuration))
		}
	}
	i.injection = in
	i.mu.Unlock()

	if err := i.activator.Activate(i); err != nil {
		i.mu.Lock()
		i.unbindLocked()
		i.mu.Unlock()
		i.state.Error(i.classify(err))
		return false
	}

	i.mu.Lock()
	i.active = true
	i.mu.Unlock()

	i.state.IncrementChangeCount()
	i.state.Metrics().Activated(i.state.Name(), i.Name())
	i.logger.Debug("instance activated")
	return true
}

func (i *Instance) deactivate() bool {
	i.mu.Lock()
	if !i.active {
		i.mu.Unlock()
		return false
	}
	i.active = false
	i.mu.Unlock()

	err := i.activator.Deactivate(i)

	i.mu.Lock()
	i.unbindLocked()
	i.mu.Unlock()

	if err != nil {
		i.state.Error(i.classify(err))
	}
	i.state.IncrementChangeCount()
	i.state.Metrics().Deactivated(i.state.Name(), i.Name())
	i.logger.Debug("instance deactivated")
	return true
}

func (i *Instance) unbindLocked() {
	for _, r := range i.references {
		r.unbind()
	}
	i.injection = nil
}

func (i *Instance) classify(err error) error {
	var ce container.Error
	if errors.As(err, &ce) {
		return err
	}
	return container.RuntimeError(i.Name(), err)
}

// StateOf returns the lifecycle state of the instance.
func (i *Instance) StateOf() dto.InstanceState {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.stateLocked()
}

func (i *Instance) stateLocked() dto.InstanceState {
	switch {
	case i.destroyed:
		return dto.Closed
	case i.active:
		return dto.Active
	case i.configurationResolvedLocked():
		return dto.PartiallyResolved
	default:
		return dto.Unresolved
	}
}

// Snapshot returns the instance DTO. Properties are reported once the
// instance is active.
func (i *Instance) Snapshot() *dto.ComponentInstanceDTO {
	activations := i.activator.Activations()

	i.mu.Lock()
	defer i.mu.Unlock()

	out := &dto.ComponentInstanceDTO{
		PID:         i.pid,
		State:       i.stateLocked(),
		Activations: activations,
	}
	if i.active {
		out.Properties = copyProps(i.properties)
	}
	for _, t := range i.comp.Template.Configurations {
		c := i.configs[t]
		if c == nil {
			continue
		}
		out.Configurations = append(out.Configurations, &dto.ConfigurationDTO{
			Template:   t,
			PID:        c.PID(),
			Properties: c.ProcessedProperties(),
		})
	}
	for _, r := range i.references {
		out.References = append(out.References, r.dto())
	}
	return out
}

func copyProps(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}
