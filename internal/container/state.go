// Package container holds the per-deployment-unit state shared by the
// phase chain and the component reconcilers.
package container

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/junioryono/ccr/beans"
	"github.com/junioryono/ccr/configadmin"
	"github.com/junioryono/ccr/descriptor"
	"github.com/junioryono/ccr/dto"
	"github.com/junioryono/ccr/internal/changecount"
	"github.com/junioryono/ccr/internal/cow"
	"github.com/junioryono/ccr/internal/filter"
	"github.com/junioryono/ccr/internal/metrics"
	"github.com/junioryono/ccr/internal/op"
	"github.com/junioryono/ccr/registry"
)

// ContainerPIDPrefix prefixes the container component's own configuration PID.
const ContainerPIDPrefix = "osgi.cdi."

// Phase is one stage of a container's lifecycle. Open and Close report
// whether the stage changed; both record their own failures on the State.
type Phase interface {
	Open() bool
	Close() bool
	Op(mode op.Mode) op.Op
}

// Snapshotter produces the live snapshot of one component.
type Snapshotter interface {
	Name() string
	Snapshot() *dto.ComponentDTO
}

// Config carries the collaborators of a State.
type Config struct {
	Bundle descriptor.Bundle
	Loader beans.Loader
	// Extensions are bean-container extensions shipped with the unit.
	Extensions []beans.Extension
	// BuiltinExtensions are provided by the runtime to every unit.
	BuiltinExtensions []beans.Extension
	Registry          *registry.Registry
	Admin             configadmin.Admin
	BeanFactory       beans.Factory
	// Parent receives every increment of the unit's change count.
	Parent  *changecount.Counter
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

type callback struct {
	id    int64
	match op.Matcher
	fn    func(o op.Op, ok bool, err error)
}

// State is the single source of truth for one deployment unit.
type State struct {
	cfg    Config
	logger *zap.Logger
	exec   *executor

	counter        *changecount.Counter
	removeObserver func()

	template   atomic.Pointer[dto.ContainerTemplateDTO]
	errors     cow.List[string]
	components cow.List[Snapshotter]
	extensions cow.List[*dto.ExtensionDTO]

	callbacks    cow.List[*callback]
	nextCallback atomic.Int64

	mu      sync.Mutex
	manager beans.Manager
}

// New creates the state of one deployment unit and its initial template.
func New(cfg Config) *State {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BeanFactory == nil {
		cfg.BeanFactory = beans.NewDigContainer
	}
	if cfg.Loader == nil {
		cfg.Loader = beans.NewIndex()
	}
	logger = logger.With(
		zap.Int64("bundle.id", cfg.Bundle.ID),
		zap.String("bundle.name", cfg.Bundle.SymbolicName))

	s := &State{
		cfg:     cfg,
		logger:  logger,
		exec:    newExecutor(logger),
		counter: changecount.New(),
	}

	if cfg.Parent != nil {
		s.removeObserver = s.counter.AddObserver(cfg.Parent)
	}
	if cfg.Metrics != nil {
		name := s.Name()
		remove := s.counter.AddObserver(changecount.ObserverFunc(func(_ *changecount.Counter, v int64) {
			cfg.Metrics.SetChangeCount(name, v)
		}))
		prev := s.removeObserver
		s.removeObserver = func() {
			if prev != nil {
				prev()
			}
			remove()
		}
		cfg.Metrics.ContainerStarted(name)
	}

	s.template.Store(s.initialTemplate())
	return s
}

func (s *State) initialTemplate() *dto.ContainerTemplateDTO {
	b := s.cfg.Bundle

	props := make(map[string]any, len(b.Properties))
	for k, v := range b.Properties {
		props[k] = v
	}

	tmpl := &dto.ContainerTemplateDTO{
		ID: b.SymbolicName,
		Components: []*dto.ComponentTemplateDTO{{
			Name: b.SymbolicName,
			Type: dto.Container,
			Configurations: []*dto.ConfigurationTemplateDTO{{
				PID:                ContainerPIDPrefix + b.SymbolicName,
				MaximumCardinality: dto.One,
				Policy:             dto.Optional,
				Main:               true,
			}},
			Properties: props,
		}},
	}

	for _, src := range b.Extensions {
		if _, err := filter.Compile(src); err != nil {
			s.Error(DefinitionError(b.SymbolicName, "", fmt.Errorf("illegal extension filter %q: %w", src, err)))
		}
		tmpl.Extensions = append(tmpl.Extensions, &dto.ExtensionTemplateDTO{ServiceFilter: src})
	}

	return tmpl
}

// Name returns the symbolic name of the unit.
func (s *State) Name() string {
	if s.cfg.Bundle.SymbolicName != "" {
		return s.cfg.Bundle.SymbolicName
	}
	return strconv.FormatInt(s.cfg.Bundle.ID, 10)
}

func (s *State) Bundle() descriptor.Bundle { return s.cfg.Bundle }

func (s *State) Loader() beans.Loader { return s.cfg.Loader }

func (s *State) Registry() *registry.Registry { return s.cfg.Registry }

func (s *State) Admin() configadmin.Admin { return s.cfg.Admin }

func (s *State) BeanFactory() beans.Factory { return s.cfg.BeanFactory }

func (s *State) LocalExtensions() []beans.Extension { return s.cfg.Extensions }

func (s *State) BuiltinExtensions() []beans.Extension { return s.cfg.BuiltinExtensions }

func (s *State) Metrics() *metrics.Metrics { return s.cfg.Metrics }

func (s *State) Logger() *zap.Logger { return s.logger }

// Template returns the current container template.
func (s *State) Template() *dto.ContainerTemplateDTO { return s.template.Load() }

// SetTemplate replaces the template after discovery.
func (s *State) SetTemplate(t *dto.ContainerTemplateDTO) {
	s.template.Store(t)
	s.IncrementChangeCount()
}

// BeanManager returns the manager of the running bean container, nil
// while none runs.
func (s *State) BeanManager() beans.Manager {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.manager
}

func (s *State) SetBeanManager(m beans.Manager) {
	s.mu.Lock()
	s.manager = m
	s.mu.Unlock()
}

// ChangeCount returns the current change count of the unit.
func (s *State) ChangeCount() int64 { return s.counter.Get() }

// IncrementChangeCount marks an observable mutation of the snapshot tree.
func (s *State) IncrementChangeCount() int64 { return s.counter.IncrementAndGet() }

// Error records err on the container.
func (s *State) Error(err error) {
	if err == nil {
		return
	}
	e := asError(err)
	s.errors.Add(e.Error())
	s.IncrementChangeCount()
	s.cfg.Metrics.ErrorRecorded(s.Name(), e.Kind.String())
	s.logger.Error("container error",
		zap.String("kind", e.Kind.String()),
		zap.String("component", e.Component),
		zap.String("bean", e.Bean),
		zap.Error(e.Cause))
}

// Errors returns the recorded errors.
func (s *State) Errors() []string { return append([]string(nil), s.errors.Snapshot()...) }

func (s *State) AddComponent(c Snapshotter) {
	s.components.Add(c)
	s.IncrementChangeCount()
}

func (s *State) RemoveComponent(name string) {
	if s.components.RemoveFunc(func(c Snapshotter) bool { return c.Name() == name }) > 0 {
		s.IncrementChangeCount()
	}
}

// Component returns the registered component named name.
func (s *State) Component(name string) (Snapshotter, bool) {
	return s.components.Find(func(c Snapshotter) bool { return c.Name() == name })
}

// SetExtensions replaces the matched extensions.
func (s *State) SetExtensions(exts []*dto.ExtensionDTO) {
	s.extensions.Replace(exts)
	s.IncrementChangeCount()
}

func (s *State) ClearExtensions() {
	if len(s.extensions.Clear()) > 0 {
		s.IncrementChangeCount()
	}
}

// ContainerDTO returns a point-in-time snapshot of the unit.
func (s *State) ContainerDTO() *dto.ContainerDTO {
	comps := s.components.Snapshot()
	out := &dto.ContainerDTO{
		BundleID:   s.cfg.Bundle.ID,
		Components: make([]*dto.ComponentDTO, 0, len(comps)),
		Errors:     append([]string(nil), s.errors.Snapshot()...),
		Extensions: append([]*dto.ExtensionDTO(nil), s.extensions.Snapshot()...),
		Template:   s.Template(),
	}
	for _, c := range comps {
		out.Components = append(out.Components, c.Snapshot())
	}
	out.ChangeCount = s.ChangeCount()
	return out
}

// AddCallback registers fn to run after every submitted task whose op
// matches. It returns an ID for RemoveCallback.
func (s *State) AddCallback(match op.Matcher, fn func(o op.Op, ok bool, err error)) int64 {
	cb := &callback{id: s.nextCallback.Add(1), match: match, fn: fn}
	s.callbacks.Add(cb)
	return cb.id
}

func (s *State) RemoveCallback(id int64) {
	s.callbacks.RemoveFunc(func(cb *callback) bool { return cb.id == id })
}

// Submit runs task on the unit's serialized executor. Failures and panics
// are recorded on the container; they never escape the worker.
func (s *State) Submit(o op.Op, task func() (bool, error)) *Promise {
	p := newPromise()

	for _, cb := range s.callbacks.Snapshot() {
		if cb.match == nil || !cb.match(o) {
			continue
		}
		fn := cb.fn
		p.onComplete(func(ok bool, err error) {
			_, _ = callSafely(func() (bool, error) {
				fn(o, ok, err)
				return true, nil
			})
		})
	}

	err := s.exec.execute(func() {
		s.logger.Debug("task started", zap.Stringer("op", o))
		ok, err := callSafely(task)
		if err != nil {
			s.Error(err)
		}
		p.resolve(ok, err)
	})
	if err != nil {
		s.logger.Warn("task rejected", zap.Stringer("op", o), zap.Error(err))
		p.resolve(false, err)
	}

	return p
}

// WaitIdle blocks until no task is queued or running.
func (s *State) WaitIdle(ctx context.Context) error {
	return s.exec.waitIdle(ctx)
}

// Shutdown drains the executor and detaches the unit's change count.
func (s *State) Shutdown(ctx context.Context) error {
	err := s.exec.shutdown(ctx)
	if s.removeObserver != nil {
		s.removeObserver()
		s.removeObserver = nil
	}
	s.cfg.Metrics.ContainerStopped(s.Name())
	return err
}

// FindConfig returns the configuration with pid visible to the unit, nil
// if there is none.
func (s *State) FindConfig(pid string) (*configadmin.Configuration, error) {
	configs, err := s.FindConfigs(pid, false)
	if err != nil || len(configs) == 0 {
		return nil, err
	}
	return configs[0], nil
}

// FindConfigs returns the configurations with pid, or the factory
// configurations of pid when factory is set.
func (s *State) FindConfigs(pid string, factory bool) ([]*configadmin.Configuration, error) {
	if s.cfg.Admin == nil {
		return nil, nil
	}

	key := configadmin.ServicePID
	if factory {
		key = configadmin.ServiceFactoryPID
	}
	src := "(" + key + "=" + filter.Escape(pid) + ")"

	configs, err := s.cfg.Admin.ListConfigurations(src)
	if err != nil {
		err = RegistryError("", fmt.Errorf("failed to list configurations %s: %w", src, err))
		s.Error(err)
		return nil, err
	}

	visible := configs[:0:0]
	for _, c := range configs {
		if c.VisibleTo(s.cfg.Bundle.Location) {
			visible = append(visible, c)
		}
	}
	return visible, nil
}
