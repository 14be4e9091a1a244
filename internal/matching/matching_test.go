package matching

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junioryono/ccr/beans"
	"github.com/junioryono/ccr/dto"
)

func component(refs ...*dto.ReferenceTemplateDTO) *dto.ComponentTemplateDTO {
	return &dto.ComponentTemplateDTO{
		Name: "greeter",
		Type: dto.Single,
		Configurations: []*dto.ConfigurationTemplateDTO{
			{PID: "greeter", MaximumCardinality: dto.One, Policy: dto.Optional, Main: true},
		},
		References: refs,
	}
}

func TestDeriveReference(t *testing.T) {
	ref := DeriveReference("Greeter", beans.InjectionPoint{
		Name: "stores", Service: "Store", Multiple: true, Optional: true, Dynamic: true, Greedy: true, Target: "(a=b)",
	})

	assert.Equal(t, "Greeter.stores", ref.Name)
	assert.Equal(t, "Store", ref.ServiceType)
	assert.Equal(t, 0, ref.MinimumCardinality)
	assert.Equal(t, dto.Many, ref.MaximumCardinality)
	assert.Equal(t, dto.Dynamic, ref.Policy)
	assert.Equal(t, dto.Greedy, ref.PolicyOption)
	assert.Equal(t, "(a=b)", ref.TargetFilter)

	ref = DeriveReference("Greeter", beans.InjectionPoint{Name: "store", ReferenceName: "db", Service: "Store"})
	assert.Equal(t, "db", ref.Name)
	assert.Equal(t, 1, ref.MinimumCardinality)
	assert.Equal(t, dto.One, ref.MaximumCardinality)
}

func TestMatch(t *testing.T) {
	t.Run("derived templates are appended", func(t *testing.T) {
		tmpl := component()
		classes := []*beans.Class{{
			Name: "Greeter",
			InjectionPoints: []beans.InjectionPoint{
				{Name: "store", Kind: beans.KindReference, Service: "Store"},
				{Name: "settings", Kind: beans.KindConfiguration, PID: "$.settings", Required: true},
			},
		}}

		bindings, err := Match(tmpl, classes)
		require.NoError(t, err)
		require.Len(t, bindings, 2)

		require.Len(t, tmpl.References, 1)
		assert.Same(t, tmpl.References[0], bindings[0].Reference)
		assert.Equal(t, "Greeter.store", tmpl.References[0].Name)

		require.Len(t, tmpl.Configurations, 2)
		assert.Same(t, tmpl.Configurations[1], bindings[1].Configuration)
		assert.Equal(t, "greeter.settings", tmpl.Configurations[1].PID)
		assert.Equal(t, dto.Required, tmpl.Configurations[1].Policy)
		assert.False(t, tmpl.Configurations[1].Main)

		assert.NotEqual(t, bindings[0].Qualifier, bindings[1].Qualifier)
	})

	t.Run("declared template is reused", func(t *testing.T) {
		declared := &dto.ReferenceTemplateDTO{
			Name: "db", ServiceType: "Store", MinimumCardinality: 1, MaximumCardinality: dto.One, PolicyOption: dto.Greedy,
		}
		tmpl := component(declared)

		bindings, err := Match(tmpl, []*beans.Class{{
			Name:            "Greeter",
			InjectionPoints: []beans.InjectionPoint{{Name: "store", Kind: beans.KindReference, ReferenceName: "db", Service: "Store"}},
		}})
		require.NoError(t, err)
		require.Len(t, tmpl.References, 1)
		assert.Same(t, declared, bindings[0].Reference)
	})

	t.Run("main configuration binds by placeholder", func(t *testing.T) {
		tmpl := component()

		bindings, err := Match(tmpl, []*beans.Class{{
			Name:            "Greeter",
			InjectionPoints: []beans.InjectionPoint{{Name: "config", Kind: beans.KindConfiguration, PID: "$"}},
		}})
		require.NoError(t, err)
		require.Len(t, tmpl.Configurations, 1)
		assert.True(t, bindings[0].Configuration.Main)
	})

	t.Run("definition errors", func(t *testing.T) {
		declared := &dto.ReferenceTemplateDTO{Name: "db", ServiceType: "Store", MaximumCardinality: dto.One}

		tests := []struct {
			name    string
			classes []*beans.Class
		}{
			{"conflicting type", []*beans.Class{{Name: "A", InjectionPoints: []beans.InjectionPoint{
				{Name: "x", Kind: beans.KindReference, ReferenceName: "db", Service: "Other"},
			}}}},
			{"conflicting cardinality", []*beans.Class{{Name: "A", InjectionPoints: []beans.InjectionPoint{
				{Name: "x", Kind: beans.KindReference, ReferenceName: "db", Service: "Store", Multiple: true},
			}}}},
			{"ambiguous point", []*beans.Class{
				{Name: "A", InjectionPoints: []beans.InjectionPoint{{Name: "x", Kind: beans.KindReference, Service: "S"}}},
				{Name: "B", InjectionPoints: []beans.InjectionPoint{{Name: "x", Kind: beans.KindReference, Service: "S"}}},
			}},
			{"missing service", []*beans.Class{{Name: "A", InjectionPoints: []beans.InjectionPoint{
				{Name: "x", Kind: beans.KindReference},
			}}}},
			{"illegal target", []*beans.Class{{Name: "A", InjectionPoints: []beans.InjectionPoint{
				{Name: "x", Kind: beans.KindReference, Service: "S", Target: "(broken"},
			}}}},
			{"static observer", []*beans.Class{{Name: "A", InjectionPoints: []beans.InjectionPoint{
				{Name: "x", Kind: beans.KindReference, Service: "S", Collection: dto.CollectionObserver},
			}}}},
			{"unnamed point", []*beans.Class{{Name: "A", InjectionPoints: []beans.InjectionPoint{
				{Kind: beans.KindReference, Service: "S"},
			}}}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := Match(component(declared), tt.classes)
				require.Error(t, err)

				var defErr DefinitionError
				require.True(t, errors.As(err, &defErr))
				assert.Equal(t, "greeter", defErr.Component)
			})
		}
	})
}

func TestResolvePID(t *testing.T) {
	assert.Equal(t, "greeter", ResolvePID("", "greeter"))
	assert.Equal(t, "greeter", ResolvePID("$", "greeter"))
	assert.Equal(t, "x.greeter.y", ResolvePID("x.$.y", "greeter"))
	assert.Equal(t, "fixed", ResolvePID("fixed", "greeter"))
}
