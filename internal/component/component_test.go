package component

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junioryono/ccr/beans"
	"github.com/junioryono/ccr/configadmin"
	"github.com/junioryono/ccr/descriptor"
	"github.com/junioryono/ccr/dto"
	"github.com/junioryono/ccr/internal/container"
	"github.com/junioryono/ccr/internal/discovery"
	"github.com/junioryono/ccr/internal/matching"
	"github.com/junioryono/ccr/internal/op"
	"github.com/junioryono/ccr/registry"
)

type greeterBean struct {
	store  any
	in     *beans.Injection
	closed bool
}

func (g *greeterBean) Close() error {
	g.closed = true
	return nil
}

type fixture struct {
	t      *testing.T
	state  *container.State
	reg    *registry.Registry
	admin  *configadmin.Memory
	loader *beans.Index
}

func newFixture(t *testing.T, classes ...*beans.Class) *fixture {
	t.Helper()

	f := &fixture{
		t:      t,
		reg:    registry.New(),
		admin:  configadmin.NewMemory(nil),
		loader: beans.NewIndex(classes...),
	}
	f.state = container.New(container.Config{
		Bundle:   descriptor.Bundle{ID: 1, SymbolicName: "app"},
		Loader:   f.loader,
		Registry: f.reg,
		Admin:    f.admin,
	})

	bc, err := beans.NewDigContainer(beans.Deployment{Unit: "app", Loader: f.loader})
	require.NoError(t, err)
	require.NoError(t, beans.Bootstrap(bc))
	f.state.SetBeanManager(bc.Manager())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = f.state.Shutdown(ctx)
		_ = bc.Shutdown()
	})
	return f
}

// run executes fn on the unit's executor and waits for the queue to drain.
func (f *fixture) run(fn func() bool) bool {
	f.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ok, err := f.state.Submit(op.Of(op.Open, op.SingleComponent, "test"), func() (bool, error) {
		return fn(), nil
	}).Wait(ctx)
	require.NoError(f.t, err)
	require.NoError(f.t, f.state.WaitIdle(ctx))
	return ok
}

func (f *fixture) idle() {
	f.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(f.t, f.state.WaitIdle(ctx))
}

func (f *fixture) register(class string, service any, props map[string]any) *registry.Registration {
	f.t.Helper()

	r, err := f.reg.Register([]string{class}, service, props)
	require.NoError(f.t, err)
	f.idle()
	return r
}

func (f *fixture) component(tmpl *dto.ComponentTemplateDTO, classes ...string) *Component {
	f.t.Helper()

	var cls []*beans.Class
	for _, n := range classes {
		c, ok := f.loader.Load(n)
		require.True(f.t, ok)
		cls = append(cls, c)
	}
	bindings, err := matching.Match(tmpl, cls)
	require.NoError(f.t, err)

	return New(f.state, &discovery.Component{Template: tmpl, Classes: cls, Bindings: bindings}, NewServiceActivator(f.state))
}

func greeterClass(ip beans.InjectionPoint) *beans.Class {
	return &beans.Class{
		Name: "Greeter",
		Constructor: func(in *beans.Injection) *greeterBean {
			return &greeterBean{store: in.Reference("store"), in: in}
		},
		InjectionPoints: []beans.InjectionPoint{ip},
		Services:        []string{"Greeter"},
	}
}

func singleTemplate(policy dto.ConfigurationPolicy) *dto.ComponentTemplateDTO {
	return &dto.ComponentTemplateDTO{
		Name: "greeter",
		Type: dto.Single,
		Configurations: []*dto.ConfigurationTemplateDTO{
			{PID: "greeter", MaximumCardinality: dto.One, Policy: policy, Main: true},
		},
		Activations: []*dto.ActivationTemplateDTO{{ServiceClasses: []string{"Greeter"}}},
		Properties:  map[string]any{"greeting": "hello", ".secret": "x"},
	}
}

func storeRef(ip beans.InjectionPoint) beans.InjectionPoint {
	ip.Name = "store"
	ip.Kind = beans.KindReference
	ip.ReferenceName = "store"
	ip.Service = "Store"
	return ip
}

func TestTargetFilter(t *testing.T) {
	assert.Equal(t, "(&(objectClass=com.example.Foo)(color=red))", TargetFilter("com.example.Foo", "(color=red)"))
	assert.Equal(t, "(objectClass=com.example.Foo)", TargetFilter("com.example.Foo", ""))
}

func TestMinimumCardinality(t *testing.T) {
	many := &dto.ReferenceTemplateDTO{Name: "r", MinimumCardinality: 1, MaximumCardinality: dto.Many}
	one := &dto.ReferenceTemplateDTO{Name: "r", MinimumCardinality: 0, MaximumCardinality: dto.One}

	assert.Equal(t, 1, MinimumCardinality(many, nil))
	assert.Equal(t, 3, MinimumCardinality(many, map[string]any{"r.cardinality.minimum": 3}))
	assert.Equal(t, 1, MinimumCardinality(many, map[string]any{"r.cardinality.minimum": 0}))
	assert.Equal(t, 2, MinimumCardinality(many, map[string]any{"r.cardinality.minimum": "2"}))
	assert.Equal(t, 1, MinimumCardinality(one, map[string]any{"r.cardinality.minimum": 5}))
}

func TestSingleInstance(t *testing.T) {
	t.Run("no dependencies activates on open", func(t *testing.T) {
		f := newFixture(t, &beans.Class{Name: "Greeter", Constructor: func() *greeterBean { return &greeterBean{} }, Services: []string{"Greeter"}})
		c := f.component(singleTemplate(dto.Optional), "Greeter")

		assert.True(t, f.run(c.Open))

		snap := c.Snapshot()
		require.Len(t, snap.Instances, 1)
		inst := snap.Instances[0]
		assert.Equal(t, dto.Active, inst.State)
		require.NotNil(t, inst.Properties)
		assert.Equal(t, "greeter", inst.Properties[ComponentName])
		assert.Contains(t, inst.Properties, ComponentID)

		require.Len(t, inst.Activations, 1)
		require.NotNil(t, inst.Activations[0].Service)
		props := inst.Activations[0].Service.Properties
		assert.Equal(t, "hello", props["greeting"])
		assert.NotContains(t, props, ".secret")
		assert.Equal(t, "singleton", props[registry.ServiceScope])

		refs, err := f.reg.References("(objectClass=Greeter)")
		require.NoError(t, err)
		assert.Len(t, refs, 1)
	})

	t.Run("component id survives reconfiguration", func(t *testing.T) {
		f := newFixture(t, &beans.Class{Name: "Greeter", Constructor: func() *greeterBean { return &greeterBean{} }, Services: []string{"Greeter"}})
		c := f.component(singleTemplate(dto.Optional), "Greeter")
		tmpl := c.Template().Configurations[0]

		require.True(t, f.run(c.Open))
		id := c.Instances()[0].Properties()[ComponentID]
		require.NotNil(t, id)

		require.NoError(t, f.admin.Update("greeter", map[string]any{"greeting": "hi"}))
		f.run(func() bool {
			got, _ := f.admin.Get("greeter")
			return c.ConfigurationChanged(tmpl, "greeter", got)
		})

		props := c.Instances()[0].Properties()
		assert.Equal(t, "hi", props["greeting"])
		assert.Equal(t, id, props[ComponentID])
	})

	t.Run("activation gating", func(t *testing.T) {
		f := newFixture(t, greeterClass(storeRef(beans.InjectionPoint{})))
		c := f.component(singleTemplate(dto.Required), "Greeter")
		tmpl := c.Template().Configurations[0]

		assert.False(t, f.run(c.Open))
		inst := c.Snapshot().Instances[0]
		assert.Nil(t, inst.Properties)
		assert.Equal(t, dto.Unresolved, inst.State)

		require.NoError(t, f.admin.Update("greeter", map[string]any{"greeting": "hi"}))
		f.run(func() bool {
			got, _ := f.admin.Get("greeter")
			return c.ConfigurationChanged(tmpl, "greeter", got)
		})

		inst = c.Snapshot().Instances[0]
		assert.Nil(t, inst.Properties)
		assert.Empty(t, inst.Activations)
		assert.Equal(t, dto.PartiallyResolved, inst.State)
		require.Len(t, inst.References, 1)
		assert.Equal(t, "(objectClass=Store)", inst.References[0].TargetFilter)
		assert.False(t, inst.References[0].Resolved())

		f.register("Store", "the-store", nil)

		inst = c.Snapshot().Instances[0]
		assert.Equal(t, dto.Active, inst.State)
		require.NotNil(t, inst.Properties)
		assert.Equal(t, "hi", inst.Properties["greeting"])
		assert.Equal(t, []string{"greeter"}, inst.Properties[configadmin.ServicePID])
		require.Len(t, inst.Activations, 1)

		greeter := c.Instances()[0].Injection()
		require.NotNil(t, greeter)
		assert.Equal(t, "the-store", greeter.Reference("store"))
	})

	t.Run("losing the mandatory service deactivates", func(t *testing.T) {
		f := newFixture(t, greeterClass(storeRef(beans.InjectionPoint{})))
		c := f.component(singleTemplate(dto.Optional), "Greeter")

		r := f.register("Store", "s1", nil)
		f.run(c.Open)
		require.True(t, c.Instances()[0].Active())

		require.NoError(t, r.Unregister())
		f.idle()

		inst := c.Snapshot().Instances[0]
		assert.Equal(t, dto.PartiallyResolved, inst.State)
		assert.Empty(t, inst.Activations)
		refs, err := f.reg.References("(objectClass=Greeter)")
		require.NoError(t, err)
		assert.Empty(t, refs)
	})

	t.Run("close is idempotent", func(t *testing.T) {
		f := newFixture(t, greeterClass(storeRef(beans.InjectionPoint{})))
		c := f.component(singleTemplate(dto.Optional), "Greeter")

		f.register("Store", "s1", nil)
		f.run(c.Open)
		inst := c.Instances()[0]
		bean := inst.Injection()
		require.NotNil(t, bean)

		assert.True(t, f.run(inst.Close))
		count := f.state.ChangeCount()
		first := inst.Snapshot()

		assert.False(t, f.run(inst.Close))
		assert.Equal(t, count, f.state.ChangeCount())
		assert.Equal(t, first, inst.Snapshot())

		refs, err := f.reg.References("(objectClass=Greeter)")
		require.NoError(t, err)
		assert.Empty(t, refs)
	})

	t.Run("target override from configuration", func(t *testing.T) {
		f := newFixture(t, greeterClass(storeRef(beans.InjectionPoint{})))
		c := f.component(singleTemplate(dto.Required), "Greeter")
		tmpl := c.Template().Configurations[0]

		f.register("Store", "eu", map[string]any{"region": "eu"})
		f.register("Store", "us", map[string]any{"region": "us"})

		require.NoError(t, f.admin.Update("greeter", map[string]any{"store.target": "(region=us)"}))
		f.run(func() bool {
			got, _ := f.admin.Get("greeter")
			return c.ConfigurationChanged(tmpl, "greeter", got)
		})

		inst := c.Snapshot().Instances[0]
		require.Equal(t, dto.Active, inst.State)
		assert.Equal(t, "(&(objectClass=Store)(region=us))", inst.References[0].TargetFilter)
		assert.Equal(t, "us", c.Instances()[0].Injection().Reference("store"))
	})

	t.Run("illegal target override is recorded", func(t *testing.T) {
		f := newFixture(t, greeterClass(storeRef(beans.InjectionPoint{})))
		c := f.component(singleTemplate(dto.Required), "Greeter")
		tmpl := c.Template().Configurations[0]

		require.NoError(t, f.admin.Update("greeter", map[string]any{"store.target": "(broken"}))
		f.run(func() bool {
			got, _ := f.admin.Get("greeter")
			return c.ConfigurationChanged(tmpl, "greeter", got)
		})

		assert.Nil(t, c.Instances()[0].Properties())
		require.Len(t, f.state.Errors(), 1)
		assert.Contains(t, f.state.Errors()[0], "(broken")
	})
}

func TestStaticPolicyOption(t *testing.T) {
	tests := []struct {
		name   string
		greedy bool
		want   string
	}{
		{"reluctant keeps the bound service", false, "rank5"},
		{"greedy switches to the better service", true, "rank10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, greeterClass(storeRef(beans.InjectionPoint{Greedy: tt.greedy})))
			c := f.component(singleTemplate(dto.Optional), "Greeter")

			f.register("Store", "rank5", map[string]any{registry.ServiceRanking: 5})
			f.run(c.Open)
			inst := c.Instances()[0]
			require.Equal(t, "rank5", inst.Injection().Reference("store"))

			f.register("Store", "rank10", map[string]any{registry.ServiceRanking: 10})

			require.True(t, inst.Active())
			assert.Equal(t, tt.want, inst.Injection().Reference("store"))
			ref := inst.Snapshot().Reference("store")
			require.NotNil(t, ref)
			assert.Len(t, ref.Matches, 2)
		})
	}

	t.Run("reluctant rebinds when the bound service leaves", func(t *testing.T) {
		f := newFixture(t, greeterClass(storeRef(beans.InjectionPoint{})))
		c := f.component(singleTemplate(dto.Optional), "Greeter")

		r5 := f.register("Store", "rank5", map[string]any{registry.ServiceRanking: 5})
		f.run(c.Open)
		f.register("Store", "rank10", map[string]any{registry.ServiceRanking: 10})

		require.NoError(t, r5.Unregister())
		f.idle()

		inst := c.Instances()[0]
		require.True(t, inst.Active())
		assert.Equal(t, "rank10", inst.Injection().Reference("store"))
	})
}

func TestDynamicReference(t *testing.T) {
	f := newFixture(t, greeterClass(storeRef(beans.InjectionPoint{Multiple: true, Optional: true, Dynamic: true})))
	c := f.component(singleTemplate(dto.Optional), "Greeter")

	f.run(c.Open)
	inst := c.Instances()[0]
	require.True(t, inst.Active())
	in := inst.Injection()

	holder, ok := in.Reference("store").(*beans.Dynamic)
	require.True(t, ok)
	assert.Empty(t, holder.Get())

	activations := inst.Snapshot().Activations
	f.register("Store", "a", nil)
	f.register("Store", "b", map[string]any{registry.ServiceRanking: 1})

	assert.Same(t, in, inst.Injection())
	assert.Equal(t, []any{"b", "a"}, holder.Get())
	assert.Equal(t, activations, inst.Snapshot().Activations)
}

func TestObserverReference(t *testing.T) {
	f := newFixture(t, greeterClass(storeRef(beans.InjectionPoint{
		Multiple: true, Optional: true, Dynamic: true, Collection: dto.CollectionObserver,
	})))
	c := f.component(singleTemplate(dto.Optional), "Greeter")

	existing := f.register("Store", "a", nil)
	f.run(c.Open)

	obs, ok := c.Instances()[0].Injection().Reference("store").(*beans.Observer)
	require.True(t, ok)

	var added, removed []any
	obs.OnAdded(func(tp beans.Tuple) { added = append(added, tp.Service) })
	obs.OnRemoved(func(tp beans.Tuple) { removed = append(removed, tp.Service) })

	f.register("Store", "b", nil)
	require.NoError(t, existing.Unregister())
	f.idle()

	assert.Equal(t, []any{"a", "b"}, added)
	assert.Equal(t, []any{"a"}, removed)
}

func TestFactoryComponent(t *testing.T) {
	class := &beans.Class{Name: "Worker", Constructor: func(in *beans.Injection) *greeterBean {
		return &greeterBean{in: in}
	}, Services: []string{"Worker"}}
	f := newFixture(t, class)

	tmpl := &dto.ComponentTemplateDTO{
		Name: "worker",
		Type: dto.Factory,
		Configurations: []*dto.ConfigurationTemplateDTO{
			{PID: "worker", MaximumCardinality: dto.Many, Policy: dto.Required, Main: true},
		},
		Activations: []*dto.ActivationTemplateDTO{{ServiceClasses: []string{"Worker"}}},
	}
	c := f.component(tmpl, "Worker")
	main := tmpl.Configurations[0]
	assert.Empty(t, c.Instances())

	var pids []string
	for _, name := range []string{"a", "b", "c"} {
		pid, err := f.admin.UpdateFactory("worker", name, map[string]any{"name": name})
		require.NoError(t, err)
		pids = append(pids, pid)
		f.run(func() bool {
			cfg, _ := f.admin.Get(pid)
			return c.ConfigurationChanged(main, pid, cfg)
		})
	}

	require.Len(t, c.Instances(), 3)
	for _, inst := range c.Instances() {
		assert.True(t, inst.Active())
	}
	refs, err := f.reg.References("(objectClass=Worker)")
	require.NoError(t, err)
	assert.Len(t, refs, 3)

	removed, ok := c.Instance(pids[1])
	require.True(t, ok)
	require.NoError(t, f.admin.Delete(pids[1]))
	assert.True(t, f.run(func() bool { return c.ConfigurationChanged(main, pids[1], nil) }))

	require.Len(t, c.Instances(), 2)
	_, ok = c.Instance(pids[1])
	assert.False(t, ok)
	assert.False(t, removed.Active())
	assert.Equal(t, dto.Closed, removed.StateOf())

	refs, err = f.reg.References("(objectClass=Worker)")
	require.NoError(t, err)
	assert.Len(t, refs, 2)

	f.run(c.Close)
	assert.Empty(t, c.Instances())
}

func TestDeactivationDestroysBeans(t *testing.T) {
	var bean *greeterBean
	f := newFixture(t, &beans.Class{Name: "Greeter", Constructor: func() *greeterBean {
		bean = &greeterBean{}
		return bean
	}, Services: []string{"Greeter"}})
	c := f.component(singleTemplate(dto.Optional), "Greeter")

	f.run(c.Open)
	require.NotNil(t, bean)
	f.run(c.Close)
	assert.True(t, bean.closed)
}
