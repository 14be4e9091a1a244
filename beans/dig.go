package beans

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/dig"
	"go.uber.org/zap"
)

type stage int

const (
	stageCreated stage = iota
	stageExtensionsStarted
	stageContainerStarted
	stageInitializing
	stageDeployed
	stageValidated
	stageReady
	stageShutdown
)

var (
	injectionType = reflect.TypeOf((*Injection)(nil))
	contextType   = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType     = reflect.TypeOf((*error)(nil)).Elem()
)

// digContainer is the default Container: container-scope beans live in a
// root dig.Container; every activation gets a fresh child container whose
// foreign dependencies are bridged to the root.
type digContainer struct {
	deployment Deployment
	logger     *zap.Logger

	mu         sync.Mutex
	stage      stage
	root       *dig.Container
	beans      map[string]any
	lifecycle  *lifecycleManager
	extensions []Extension

	// activations is the arena of component-scope beans keyed by activation ID.
	activations map[string]*activationEntry
}

type activationEntry struct {
	activation *Activation
	lifecycle  *lifecycleManager
}

// NewDigContainer is the default Factory.
func NewDigContainer(d Deployment) (Container, error) {
	if d.Loader == nil {
		return nil, fmt.Errorf("deployment %q has no loader", d.Unit)
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}

	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &digContainer{
		deployment:  d,
		logger:      logger.With(zap.String("deployment", d.ID)),
		beans:       make(map[string]any),
		lifecycle:   newLifecycleManager(),
		activations: make(map[string]*activationEntry),
	}, nil
}

func (c *digContainer) advance(from, to stage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stage != from {
		return fmt.Errorf("%w: at stage %d, expected %d", ErrInvalidState, c.stage, from)
	}
	c.stage = to
	return nil
}

func (c *digContainer) StartExtensions() error {
	if err := c.advance(stageCreated, stageExtensionsStarted); err != nil {
		return err
	}

	seen := make(map[string]bool)
	for _, ext := range c.deployment.Extensions {
		if ext == nil {
			continue
		}
		if seen[ext.Name()] {
			return fmt.Errorf("duplicate extension %q", ext.Name())
		}
		seen[ext.Name()] = true
		c.extensions = append(c.extensions, ext)
	}

	return nil
}

func (c *digContainer) StartContainer() error {
	if err := c.advance(stageExtensionsStarted, stageContainerStarted); err != nil {
		return err
	}

	root := dig.New()
	if err := root.Provide(func() *zap.Logger { return c.logger }); err != nil {
		return fmt.Errorf("failed to provide logger: %w", err)
	}
	if err := root.Provide(func() Manager { return c }); err != nil {
		return fmt.Errorf("failed to provide manager: %w", err)
	}

	c.mu.Lock()
	c.root = root
	c.mu.Unlock()

	return nil
}

func (c *digContainer) StartInitialization() error {
	if err := c.advance(stageContainerStarted, stageInitializing); err != nil {
		return err
	}

	for _, ext := range c.extensions {
		if err := ext.Provide(c.root); err != nil {
			return fmt.Errorf("extension %q failed: %w", ext.Name(), err)
		}
		c.logger.Debug("extension started", zap.String("extension", ext.Name()))
	}

	return nil
}

func (c *digContainer) DeployBeans() error {
	if err := c.advance(stageInitializing, stageDeployed); err != nil {
		return err
	}

	for _, name := range c.deployment.BeanClasses {
		class, ok := c.deployment.Loader.Load(name)
		if !ok {
			return fmt.Errorf("bean class %q not found", name)
		}
		if _, err := constructors.Analyze(class.Constructor); err != nil {
			return fmt.Errorf("bean class %q: %w", name, err)
		}
		if err := c.root.Provide(class.Constructor); err != nil {
			return fmt.Errorf("failed to deploy bean class %q: %w", name, err)
		}
	}

	return nil
}

func (c *digContainer) ValidateBeans() error {
	if err := c.advance(stageDeployed, stageValidated); err != nil {
		return err
	}

	for _, name := range c.deployment.BeanClasses {
		class, _ := c.deployment.Loader.Load(name)
		info, _ := constructors.Analyze(class.Constructor)

		v, err := resolve(c.root, info.Output)
		if err != nil {
			return fmt.Errorf("bean class %q cannot be created: %w", name, err)
		}

		instance := v.Interface()
		c.mu.Lock()
		c.beans[name] = instance
		c.mu.Unlock()
		c.lifecycle.track(instance)
	}

	return nil
}

func (c *digContainer) EndInitialization() error {
	return c.advance(stageValidated, stageReady)
}

func (c *digContainer) Manager() Manager { return c }

// Shutdown destroys remaining activations and disposes container beans.
// It is idempotent.
func (c *digContainer) Shutdown() error {
	c.mu.Lock()
	if c.stage == stageShutdown {
		c.mu.Unlock()
		return nil
	}
	c.stage = stageShutdown
	entries := make([]*activationEntry, 0, len(c.activations))
	for _, e := range c.activations {
		entries = append(entries, e)
	}
	c.activations = make(map[string]*activationEntry)
	c.beans = make(map[string]any)
	c.mu.Unlock()

	ctx := context.Background()
	var errs []error
	for _, e := range entries {
		if err := e.lifecycle.dispose(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.lifecycle.dispose(ctx); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (c *digContainer) Bean(className string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.beans[className]
	return b, ok
}

func (c *digContainer) Create(ctx context.Context, req CreateRequest) (*Activation, error) {
	c.mu.Lock()
	ready := c.stage == stageReady
	c.mu.Unlock()
	if !ready {
		return nil, fmt.Errorf("create %s: %w", req.Component, ErrInvalidState)
	}
	if len(req.Classes) == 0 {
		return nil, fmt.Errorf("create %s: %w", req.Component, ErrNoBeans)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	injection := req.Injection
	if injection == nil {
		injection = NewInjection(req.Component, nil)
	}

	child := dig.New()
	if err := child.Provide(func() *Injection { return injection }); err != nil {
		return nil, err
	}
	if err := child.Provide(func() context.Context { return ctx }); err != nil {
		return nil, err
	}

	outputs := make([]reflect.Type, len(req.Classes))
	produced := map[dependencyKey]bool{
		{t: injectionType}: true,
		{t: contextType}:   true,
	}
	infos := make([]*constructorInfo, len(req.Classes))
	for i, class := range req.Classes {
		info, err := constructors.Analyze(class.Constructor)
		if err != nil {
			return nil, fmt.Errorf("bean class %q: %w", class.Name, err)
		}
		infos[i] = info
		outputs[i] = info.Output
		produced[dependencyKey{t: info.Output}] = true

		if err := child.Provide(class.Constructor); err != nil {
			return nil, fmt.Errorf("failed to provide bean class %q: %w", class.Name, err)
		}
	}

	for _, info := range infos {
		for _, dep := range info.Dependencies {
			if dep.Group != "" || produced[dep.key()] {
				continue
			}
			produced[dep.key()] = true

			if dep.Optional {
				if _, err := resolveDependency(c.root, dep); err != nil {
					continue
				}
			}

			var opts []dig.ProvideOption
			if dep.Name != "" {
				opts = append(opts, dig.Name(dep.Name))
			}
			if err := child.Provide(c.bridge(dep), opts...); err != nil {
				return nil, fmt.Errorf("failed to bridge %s: %w", dep.Type, err)
			}
		}
	}

	lm := newLifecycleManager()
	activation := &Activation{
		ID:    uuid.NewString(),
		Beans: make(map[string]any, len(req.Classes)),
	}
	for i, class := range req.Classes {
		v, err := resolve(child, outputs[i])
		if err != nil {
			_ = lm.dispose(ctx)
			return nil, fmt.Errorf("bean class %q cannot be created: %w", class.Name, err)
		}

		instance := v.Interface()
		activation.Beans[class.Name] = instance
		if i == 0 {
			activation.Primary = instance
		}
		lm.track(instance)
	}

	c.mu.Lock()
	if c.stage != stageReady {
		c.mu.Unlock()
		_ = lm.dispose(ctx)
		return nil, fmt.Errorf("create %s: %w", req.Component, ErrInvalidState)
	}
	c.activations[activation.ID] = &activationEntry{activation: activation, lifecycle: lm}
	c.mu.Unlock()

	c.logger.Debug("activation created",
		zap.String("component", req.Component),
		zap.String("activation", activation.ID))

	return activation, nil
}

func (c *digContainer) Destroy(activationID string) error {
	c.mu.Lock()
	entry, ok := c.activations[activationID]
	delete(c.activations, activationID)
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("destroy %s: %w", activationID, ErrActivationNotFound)
	}

	return entry.lifecycle.dispose(context.Background())
}

// bridge returns a constructor resolving d from the root container.
func (c *digContainer) bridge(d dependency) any {
	t := d.Type
	fnType := reflect.FuncOf(nil, []reflect.Type{t, errorType}, false)
	fn := reflect.MakeFunc(fnType, func([]reflect.Value) []reflect.Value {
		v, err := resolveDependency(c.root, d)
		if err != nil {
			return []reflect.Value{reflect.Zero(t), reflect.ValueOf(&err).Elem()}
		}
		return []reflect.Value{v, reflect.Zero(errorType)}
	})
	return fn.Interface()
}

// resolve extracts a value of type t from container.
func resolve(container *dig.Container, t reflect.Type) (reflect.Value, error) {
	var out reflect.Value
	fnType := reflect.FuncOf([]reflect.Type{t}, nil, false)
	fn := reflect.MakeFunc(fnType, func(args []reflect.Value) []reflect.Value {
		out = args[0]
		return nil
	})

	if err := container.Invoke(fn.Interface()); err != nil {
		return reflect.Value{}, err
	}
	return out, nil
}
