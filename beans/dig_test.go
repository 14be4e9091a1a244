package beans_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/junioryono/ccr/beans"
)

type (
	clock struct {
		closed bool
	}

	greeter struct {
		clock     *clock
		component string
		greeting  string
		closed    *[]string
	}

	audit struct {
		greeter *greeter
		closed  *[]string
	}
)

func (c *clock) Close() error {
	c.closed = true
	return nil
}

func (g *greeter) Close(ctx context.Context) error {
	*g.closed = append(*g.closed, "greeter")
	return nil
}

func (a *audit) Close() error {
	*a.closed = append(*a.closed, "audit")
	return nil
}

func newDeployment(t *testing.T, closed *[]string, extensions ...beans.Extension) (beans.Container, *beans.Index) {
	t.Helper()

	idx := beans.NewIndex(
		&beans.Class{Name: "clock", Constructor: func() *clock { return &clock{} }},
		&beans.Class{Name: "greeter", Constructor: func(c *clock, in *beans.Injection) *greeter {
			greeting, _ := in.Properties()["greeting"].(string)
			return &greeter{clock: c, component: in.Component(), greeting: greeting, closed: closed}
		}},
		&beans.Class{Name: "audit", Constructor: func(g *greeter) *audit {
			return &audit{greeter: g, closed: closed}
		}},
	)

	c, err := beans.NewDigContainer(beans.Deployment{
		Unit:        "test.bundle",
		Loader:      idx,
		BeanClasses: []string{"clock"},
		Extensions:  extensions,
		Logger:      zap.NewNop(),
	})
	require.NoError(t, err)
	return c, idx
}

func load(t *testing.T, idx *beans.Index, names ...string) []*beans.Class {
	t.Helper()

	classes := make([]*beans.Class, 0, len(names))
	for _, n := range names {
		c, ok := idx.Load(n)
		require.True(t, ok, n)
		classes = append(classes, c)
	}
	return classes
}

func TestBootstrap(t *testing.T) {
	t.Run("container beans are created eagerly", func(t *testing.T) {
		var closed []string
		c, _ := newDeployment(t, &closed)
		require.NoError(t, beans.Bootstrap(c))

		b, ok := c.Manager().Bean("clock")
		require.True(t, ok)
		assert.IsType(t, &clock{}, b)

		require.NoError(t, c.Shutdown())
		assert.True(t, b.(*clock).closed)
	})

	t.Run("steps out of order fail", func(t *testing.T) {
		var closed []string
		c, _ := newDeployment(t, &closed)

		err := c.DeployBeans()
		require.ErrorIs(t, err, beans.ErrInvalidState)
	})

	t.Run("missing container bean class", func(t *testing.T) {
		c, err := beans.NewDigContainer(beans.Deployment{
			Loader:      beans.NewIndex(),
			BeanClasses: []string{"nope"},
		})
		require.NoError(t, err)

		err = beans.Bootstrap(c)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `"nope"`)
	})

	t.Run("nil loader", func(t *testing.T) {
		_, err := beans.NewDigContainer(beans.Deployment{Unit: "x"})
		require.Error(t, err)
	})

	t.Run("extension providers are visible to beans", func(t *testing.T) {
		type greetingSource struct{ value string }

		idx := beans.NewIndex(&beans.Class{
			Name:        "bean",
			Constructor: func(s *greetingSource) *greeter { return &greeter{greeting: s.value} },
		})
		ext := beans.ExtensionFunc{ExtensionName: "greetings", Fn: func(r beans.Registrar) error {
			return r.Provide(func() *greetingSource { return &greetingSource{value: "hi"} })
		}}

		c, err := beans.NewDigContainer(beans.Deployment{
			Loader:      idx,
			BeanClasses: []string{"bean"},
			Extensions:  []beans.Extension{ext},
		})
		require.NoError(t, err)
		require.NoError(t, beans.Bootstrap(c))

		b, ok := c.Manager().Bean("bean")
		require.True(t, ok)
		assert.Equal(t, "hi", b.(*greeter).greeting)
	})

	t.Run("failing extension", func(t *testing.T) {
		boom := errors.New("boom")
		ext := beans.ExtensionFunc{ExtensionName: "bad", Fn: func(beans.Registrar) error { return boom }}

		c, err := beans.NewDigContainer(beans.Deployment{Loader: beans.NewIndex(), Extensions: []beans.Extension{ext}})
		require.NoError(t, err)

		err = beans.Bootstrap(c)
		require.ErrorIs(t, err, boom)
	})

	t.Run("duplicate extension names", func(t *testing.T) {
		noop := func(beans.Registrar) error { return nil }
		c, err := beans.NewDigContainer(beans.Deployment{
			Loader: beans.NewIndex(),
			Extensions: []beans.Extension{
				beans.ExtensionFunc{ExtensionName: "a", Fn: noop},
				beans.ExtensionFunc{ExtensionName: "a", Fn: noop},
			},
		})
		require.NoError(t, err)
		require.Error(t, beans.Bootstrap(c))
	})
}

func TestManager(t *testing.T) {
	t.Run("create wires injection and root beans", func(t *testing.T) {
		var closed []string
		c, idx := newDeployment(t, &closed)
		require.NoError(t, beans.Bootstrap(c))

		m := c.Manager()
		in := beans.NewInjection("hello", map[string]any{"greeting": "hey"})
		act, err := m.Create(context.Background(), beans.CreateRequest{
			Component: "hello",
			Classes:   load(t, idx, "greeter", "audit"),
			Injection: in,
		})
		require.NoError(t, err)
		require.NotEmpty(t, act.ID)

		g, ok := act.Primary.(*greeter)
		require.True(t, ok)
		assert.Equal(t, "hello", g.component)
		assert.Equal(t, "hey", g.greeting)

		root, _ := m.Bean("clock")
		assert.Same(t, root, g.clock)

		a := act.Beans["audit"].(*audit)
		assert.Same(t, g, a.greeter)

		require.NoError(t, m.Destroy(act.ID))
		assert.Equal(t, []string{"audit", "greeter"}, closed)

		err = m.Destroy(act.ID)
		require.ErrorIs(t, err, beans.ErrActivationNotFound)
	})

	t.Run("activations are isolated", func(t *testing.T) {
		var closed []string
		c, idx := newDeployment(t, &closed)
		require.NoError(t, beans.Bootstrap(c))

		m := c.Manager()
		first, err := m.Create(context.Background(), beans.CreateRequest{Component: "a", Classes: load(t, idx, "greeter")})
		require.NoError(t, err)
		second, err := m.Create(context.Background(), beans.CreateRequest{Component: "b", Classes: load(t, idx, "greeter")})
		require.NoError(t, err)

		assert.NotEqual(t, first.ID, second.ID)
		assert.NotSame(t, first.Primary, second.Primary)
	})

	t.Run("create before bootstrap", func(t *testing.T) {
		var closed []string
		c, idx := newDeployment(t, &closed)

		_, err := c.Manager().Create(context.Background(), beans.CreateRequest{Classes: load(t, idx, "greeter")})
		require.ErrorIs(t, err, beans.ErrInvalidState)
	})

	t.Run("create without classes", func(t *testing.T) {
		var closed []string
		c, _ := newDeployment(t, &closed)
		require.NoError(t, beans.Bootstrap(c))

		_, err := c.Manager().Create(context.Background(), beans.CreateRequest{Component: "x"})
		require.ErrorIs(t, err, beans.ErrNoBeans)
	})

	t.Run("unsatisfied dependency", func(t *testing.T) {
		type missing struct{}
		var closed []string
		c, _ := newDeployment(t, &closed)
		require.NoError(t, beans.Bootstrap(c))

		class := &beans.Class{Name: "needy", Constructor: func(*missing) *audit { return &audit{} }}
		_, err := c.Manager().Create(context.Background(), beans.CreateRequest{Component: "x", Classes: []*beans.Class{class}})
		require.Error(t, err)
	})

	t.Run("optional and named dependencies are bridged", func(t *testing.T) {
		type tenant struct{ name string }
		type region struct{}
		type params struct {
			dig.In

			Tenant *tenant `name:"primary"`
			Region *region `optional:"true"`
		}
		type report struct {
			tenant string
			region *region
		}

		var closed []string
		ext := beans.ExtensionFunc{ExtensionName: "tenants", Fn: func(r beans.Registrar) error {
			return r.Provide(func() *tenant { return &tenant{name: "acme"} }, dig.Name("primary"))
		}}
		c, _ := newDeployment(t, &closed, ext)
		require.NoError(t, beans.Bootstrap(c))
		defer c.Shutdown()

		act, err := c.Manager().Create(context.Background(), beans.CreateRequest{
			Component: "reports",
			Classes: []*beans.Class{{
				Name:        "report",
				Constructor: func(p params) *report { return &report{tenant: p.Tenant.name, region: p.Region} },
			}},
		})
		require.NoError(t, err)

		r := act.Primary.(*report)
		assert.Equal(t, "acme", r.tenant)
		assert.Nil(t, r.region)
	})

	t.Run("shutdown destroys activations", func(t *testing.T) {
		var closed []string
		c, idx := newDeployment(t, &closed)
		require.NoError(t, beans.Bootstrap(c))

		_, err := c.Manager().Create(context.Background(), beans.CreateRequest{Component: "a", Classes: load(t, idx, "greeter")})
		require.NoError(t, err)

		require.NoError(t, c.Shutdown())
		assert.Equal(t, []string{"greeter"}, closed)
		require.NoError(t, c.Shutdown())

		_, err = c.Manager().Create(context.Background(), beans.CreateRequest{Component: "a", Classes: load(t, idx, "greeter")})
		require.ErrorIs(t, err, beans.ErrInvalidState)
	})
}
