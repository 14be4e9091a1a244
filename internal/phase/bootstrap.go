package phase

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/junioryono/ccr/beans"
	"github.com/junioryono/ccr/internal/component"
	"github.com/junioryono/ccr/internal/container"
	"github.com/junioryono/ccr/internal/op"
)

// InjectionExtension names the built-in extension exposing the CONTAINER
// instance's injection to container beans.
const InjectionExtension = "ccr.injection"

// ContainerBootstrap boots the unit's bean container. It is started by the
// CONTAINER component's activator and stopped when that instance
// deactivates.
type ContainerBootstrap struct {
	state *container.State
	model *model

	mu        sync.Mutex
	container beans.Container
}

// NewContainerBootstrap returns a stopped bootstrap for state.
func NewContainerBootstrap(state *container.State, m *model) *ContainerBootstrap {
	return &ContainerBootstrap{state: state, model: m}
}

// Start builds and boots the bean container. It is a no-op when the
// container is already running.
func (b *ContainerBootstrap) Start(in *beans.Injection) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.container != nil {
		return nil
	}

	d := b.deployment(in)
	c, err := b.state.BeanFactory()(d)
	if err != nil {
		return container.RuntimeError("", err)
	}

	if err := beans.Bootstrap(c); err != nil {
		if shutdownErr := c.Shutdown(); shutdownErr != nil {
			b.state.Logger().Warn("failed to shut down bean container", zap.Error(shutdownErr))
		}
		return container.DefinitionError("", "", err)
	}

	b.container = c
	b.state.SetBeanManager(c.Manager())
	b.state.Logger().Info("bean container started",
		zap.Stringer("op", op.Of(op.Open, op.ContainerBootstrap, b.state.Name())),
		zap.String("deployment", d.ID),
		zap.Int("beans", len(d.BeanClasses)),
		zap.Int("extensions", len(d.Extensions)))
	return nil
}

// Stop shuts the bean container down.
func (b *ContainerBootstrap) Stop() error {
	b.mu.Lock()
	c := b.container
	b.container = nil
	b.mu.Unlock()

	if c == nil {
		return nil
	}

	b.state.SetBeanManager(nil)
	b.state.Logger().Info("bean container stopped",
		zap.Stringer("op", op.Of(op.Close, op.ContainerBootstrap, b.state.Name())))
	return c.Shutdown()
}

func (b *ContainerBootstrap) deployment(in *beans.Injection) beans.Deployment {
	extensions := b.model.externalExtensions()

	loaders := []beans.Loader{b.state.Loader()}
	for _, ext := range extensions {
		if l, ok := ext.(beans.Loader); ok {
			loaders = append(loaders, l)
		}
	}

	var all []beans.Extension
	all = append(all, b.state.BuiltinExtensions()...)
	all = append(all, extensions...)
	all = append(all, b.state.LocalExtensions()...)
	if in != nil {
		all = append(all, beans.ExtensionFunc{
			ExtensionName: InjectionExtension,
			Fn: func(r beans.Registrar) error {
				return r.Provide(func() *beans.Injection { return in })
			},
		})
	}

	var classes []string
	if result := b.model.result.Load(); result != nil && len(result.Components) > 0 {
		classes = result.Components[0].Template.Beans
	}

	return beans.Deployment{
		ID:          uuid.NewString(),
		Unit:        b.state.Name(),
		Loader:      beans.Aggregate(loaders...),
		BeanClasses: classes,
		Extensions:  all,
		Logger:      b.state.Logger(),
	}
}

var _ component.Bootstrapper = (*ContainerBootstrap)(nil)
