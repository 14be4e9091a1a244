package phase

import (
	"sync"

	"go.uber.org/zap"

	"github.com/junioryono/ccr/configadmin"
	"github.com/junioryono/ccr/dto"
	"github.com/junioryono/ccr/internal/component"
	"github.com/junioryono/ccr/internal/container"
	"github.com/junioryono/ccr/internal/cow"
	"github.com/junioryono/ccr/internal/op"
)

// ConfigurationPhase builds the components of the discovered template and
// opens the CONTAINER component's listener. One admin listener serves
// every component; events are dispatched on the executor.
type ConfigurationPhase struct {
	state *container.State
	model *model

	mu        sync.Mutex
	listeners cow.List[*ConfigurationListener]
	main      *ConfigurationListener
	remove    func()
}

func newConfigurationPhase(state *container.State, m *model) *ConfigurationPhase {
	return &ConfigurationPhase{state: state, model: m}
}

func (p *ConfigurationPhase) Op(mode op.Mode) op.Op {
	return op.Of(mode, op.ConfigurationPhase, p.state.Name())
}

func (p *ConfigurationPhase) Open() bool {
	result := p.model.result.Load()
	if result == nil || len(result.Components) == 0 {
		return false
	}

	var children []container.Phase
	for _, dc := range result.Components[1:] {
		c := component.New(p.state, dc, component.NewServiceActivator(p.state))
		children = append(children, newConfigurationListener(p.state, p, c))
	}

	bootstrap := NewContainerBootstrap(p.state, p.model)
	main := component.New(p.state, result.Components[0],
		component.NewContainerActivator(p.state, bootstrap, children))

	p.mu.Lock()
	p.main = newConfigurationListener(p.state, p, main)
	if admin := p.state.Admin(); admin != nil && p.remove == nil {
		p.remove = admin.AddListener(configadmin.ListenerFunc(p.event))
	}
	listener := p.main
	p.mu.Unlock()

	submitOpen(p.state, listener, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.main == listener
	})
	return true
}

func (p *ConfigurationPhase) Close() bool {
	p.mu.Lock()
	main, remove := p.main, p.remove
	p.main, p.remove = nil, nil
	p.mu.Unlock()

	if remove != nil {
		remove()
	}
	if main == nil {
		return false
	}
	return main.Close()
}

func (p *ConfigurationPhase) subscribe(l *ConfigurationListener) { p.listeners.Add(l) }

func (p *ConfigurationPhase) unsubscribe(l *ConfigurationListener) {
	p.listeners.RemoveFunc(func(x *ConfigurationListener) bool { return x == l })
}

// event runs on the admin's goroutine.
func (p *ConfigurationPhase) event(e configadmin.Event) {
	p.state.Logger().Debug("configuration event received",
		zap.Stringer("type", e.Type), zap.String("pid", e.PID))

	p.state.Submit(op.Of(op.Open, op.ConfigurationEvent, e.PID), func() (bool, error) {
		handled := false
		for _, l := range p.listeners.Snapshot() {
			if l.handle(e) {
				handled = true
			}
		}
		return handled, nil
	})
}

// ConfigurationListener feeds configurations to one component and keeps it
// open while subscribed. Opening an open listener is a no-op.
type ConfigurationListener struct {
	state     *container.State
	phase     *ConfigurationPhase
	component *component.Component

	mu   sync.Mutex
	open bool
	gen  generation
}

func newConfigurationListener(state *container.State, phase *ConfigurationPhase, c *component.Component) *ConfigurationListener {
	return &ConfigurationListener{state: state, phase: phase, component: c}
}

func (l *ConfigurationListener) Op(mode op.Mode) op.Op {
	return op.Of(mode, op.ConfigurationListener, l.component.Name())
}

func (l *ConfigurationListener) Open() bool {
	l.mu.Lock()
	if l.open {
		l.mu.Unlock()
		return false
	}
	l.open = true
	current := l.gen.current(l.gen.next())
	l.mu.Unlock()

	l.state.AddComponent(l.component)

	for _, t := range l.component.Template().Configurations {
		if t.MaximumCardinality == dto.Many {
			configs, err := l.state.FindConfigs(t.PID, true)
			if err != nil {
				continue
			}
			for _, cfg := range configs {
				l.component.SetConfiguration(t, cfg.PID(), cfg)
			}
			continue
		}

		cfg, err := l.state.FindConfig(t.PID)
		if err == nil && cfg != nil {
			l.component.SetConfiguration(t, t.PID, cfg)
		}
	}

	l.phase.subscribe(l)

	c := l.component
	l.state.Submit(c.Op(op.Open), func() (bool, error) {
		if !current() {
			return false, nil
		}
		return c.Open(), nil
	})
	return true
}

func (l *ConfigurationListener) Close() bool {
	l.mu.Lock()
	if !l.open {
		l.mu.Unlock()
		return false
	}
	l.open = false
	l.gen.next()
	l.mu.Unlock()

	l.phase.unsubscribe(l)
	closed := l.component.Close()
	l.state.RemoveComponent(l.component.Name())
	return closed
}

// handle applies e to every configuration template it concerns. It runs on
// the executor.
func (l *ConfigurationListener) handle(e configadmin.Event) bool {
	handled := false
	for _, t := range l.component.Template().Configurations {
		if !matches(t, e) {
			continue
		}

		var cfg *configadmin.Configuration
		if e.Type != configadmin.Deleted {
			found, err := l.state.FindConfig(e.PID)
			if err == nil {
				cfg = found
			}
		}

		if l.component.ConfigurationChanged(t, e.PID, cfg) {
			handled = true
		}
	}
	return handled
}

func matches(t *dto.ConfigurationTemplateDTO, e configadmin.Event) bool {
	if t.MaximumCardinality == dto.Many {
		return e.FactoryPID != "" && e.FactoryPID == t.PID
	}
	return e.PID == t.PID
}
