// Package discovery builds a container template from a unit descriptor and
// the scanned bean classes.
package discovery

import (
	"errors"
	"fmt"

	"github.com/junioryono/ccr/beans"
	"github.com/junioryono/ccr/descriptor"
	"github.com/junioryono/ccr/dto"
	"github.com/junioryono/ccr/internal/container"
	"github.com/junioryono/ccr/internal/matching"
)

// ErrBeanNotFound marks a declared bean class missing from the scanned beans.
var ErrBeanNotFound = errors.New("bean class not found")

// Component is a discovered component with its bean classes and the
// bindings of their injection points.
type Component struct {
	Template *dto.ComponentTemplateDTO
	Classes  []*beans.Class
	Bindings []matching.Binding
}

// Result is the outcome of one discovery run.
type Result struct {
	Template *dto.ContainerTemplateDTO
	// Components holds every discovered component, the container component
	// first, in template order.
	Components []*Component
	// Errors are definition errors; each rejected its component or bean.
	Errors []error
}

// Component returns the discovered component named name.
func (r *Result) Component(name string) *Component {
	for _, c := range r.Components {
		if c.Template.Name == name {
			return c
		}
	}
	return nil
}

type discoverer struct {
	bundle  descriptor.Bundle
	loader  beans.Loader
	scanned map[string]bool
	claimed map[string]string
	result  *Result
}

// Discover validates the descriptor against the scanned beans. Failures
// reject the affected component only; siblings are still discovered.
func Discover(b descriptor.Bundle, loader beans.Loader, base *dto.ContainerTemplateDTO) *Result {
	d := &discoverer{
		bundle:  b,
		loader:  loader,
		scanned: make(map[string]bool),
		claimed: make(map[string]string),
		result:  &Result{},
	}

	names := b.Beans
	if len(names) == 0 {
		names = loader.Names()
	}
	for _, n := range names {
		d.scanned[n] = true
	}

	var components []*Component
	for _, c := range b.Components {
		if comp := d.component(c); comp != nil {
			components = append(components, comp)
		}
	}

	main := d.containerComponent(base.ContainerComponent(), names)

	tmpl := &dto.ContainerTemplateDTO{
		ID:         base.ID,
		Extensions: base.Extensions,
		Components: []*dto.ComponentTemplateDTO{main.Template},
	}
	d.result.Components = append(d.result.Components, main)
	for _, comp := range components {
		tmpl.Components = append(tmpl.Components, comp.Template)
		d.result.Components = append(d.result.Components, comp)
	}
	d.result.Template = tmpl

	return d.result
}

func (d *discoverer) fail(component, bean string, err error) {
	d.result.Errors = append(d.result.Errors, container.DefinitionError(component, bean, err))
}

func (d *discoverer) load(name string) (*beans.Class, bool) {
	if !d.scanned[name] {
		return nil, false
	}
	return d.loader.Load(name)
}

func (d *discoverer) component(c descriptor.Component) *Component {
	typ, _ := descriptor.ParseType(c.Type)
	policy, _ := descriptor.ParseConfigurationPolicy(c.ConfigurationPolicy)

	tmpl := &dto.ComponentTemplateDTO{
		Name:       c.Name,
		Type:       typ,
		Beans:      append([]string(nil), c.Beans...),
		Properties: copyProps(c.Properties),
	}

	if len(c.Beans) == 0 {
		d.fail(c.Name, "", errors.New("component declares no beans"))
		return nil
	}

	ok := true
	var classes []*beans.Class
	for _, name := range c.Beans {
		if owner, taken := d.claimed[name]; taken {
			d.fail(c.Name, name, fmt.Errorf("bean class already belongs to component %q", owner))
			ok = false
			continue
		}
		d.claimed[name] = c.Name

		class, found := d.load(name)
		if !found {
			d.fail(c.Name, name, fmt.Errorf("%w: %s", ErrBeanNotFound, name))
			ok = false
			continue
		}
		classes = append(classes, class)
	}
	if !ok {
		return nil
	}

	pids := c.ConfigurationPIDs
	if len(pids) == 0 {
		pids = []string{matching.ComponentPlaceholder}
	}
	for i, pid := range pids {
		ct := &dto.ConfigurationTemplateDTO{
			PID:                matching.ResolvePID(pid, c.Name),
			MaximumCardinality: dto.One,
			Policy:             policy,
			Main:               true,
		}
		if typ == dto.Factory && i == 0 {
			ct.MaximumCardinality = dto.Many
			ct.Policy = dto.Required
		}
		tmpl.Configurations = append(tmpl.Configurations, ct)
	}

	for _, r := range c.References {
		tmpl.References = append(tmpl.References, referenceTemplate(r))
	}

	tmpl.Activations = activations(classes)

	bindings, err := matching.Match(tmpl, classes)
	if err != nil {
		var defErr matching.DefinitionError
		bean := ""
		if errors.As(err, &defErr) {
			bean = defErr.Bean
		}
		d.fail(c.Name, bean, err)
		return nil
	}

	return &Component{Template: tmpl, Classes: classes, Bindings: bindings}
}

func (d *discoverer) containerComponent(base *dto.ComponentTemplateDTO, names []string) *Component {
	tmpl := &dto.ComponentTemplateDTO{
		Name:           base.Name,
		Type:           dto.Container,
		Configurations: append([]*dto.ConfigurationTemplateDTO(nil), base.Configurations...),
		Properties:     copyProps(base.Properties),
	}

	var classes []*beans.Class
	for _, name := range names {
		if _, taken := d.claimed[name]; taken {
			continue
		}
		class, found := d.loader.Load(name)
		if !found {
			d.fail(tmpl.Name, name, fmt.Errorf("%w: %s", ErrBeanNotFound, name))
			continue
		}
		classes = append(classes, class)
	}

	// the container component always exists; beans with unmatched
	// injection points are dropped one at a time
	for {
		trial := *tmpl
		trial.Configurations = append([]*dto.ConfigurationTemplateDTO(nil), tmpl.Configurations...)

		bindings, err := matching.Match(&trial, classes)
		if err == nil {
			trial.Activations = activations(classes)
			trial.Beans = classNames(classes)
			return &Component{Template: &trial, Classes: classes, Bindings: bindings}
		}

		var defErr matching.DefinitionError
		if !errors.As(err, &defErr) {
			d.fail(tmpl.Name, "", err)
			return &Component{Template: tmpl}
		}
		d.fail(tmpl.Name, defErr.Bean, err)
		classes = removeClass(classes, defErr.Bean)
	}
}

func referenceTemplate(r descriptor.Reference) *dto.ReferenceTemplateDTO {
	minimum, maximum, _ := descriptor.ParseCardinality(r.Cardinality)
	policy, _ := descriptor.ParsePolicy(r.Policy)
	option, _ := descriptor.ParsePolicyOption(r.PolicyOption)
	coll, _ := descriptor.ParseCollection(r.Collection)

	return &dto.ReferenceTemplateDTO{
		Name:               r.Name,
		ServiceType:        r.Service,
		MinimumCardinality: minimum,
		MaximumCardinality: maximum,
		Policy:             policy,
		PolicyOption:       option,
		TargetFilter:       r.Target,
		CollectionType:     coll,
	}
}

func activations(classes []*beans.Class) []*dto.ActivationTemplateDTO {
	var out []*dto.ActivationTemplateDTO
	for _, c := range classes {
		if len(c.Services) == 0 {
			continue
		}
		out = append(out, &dto.ActivationTemplateDTO{
			ServiceClasses: append([]string(nil), c.Services...),
			Scope:          c.Scope,
		})
	}
	return out
}

func classNames(classes []*beans.Class) []string {
	names := make([]string, 0, len(classes))
	for _, c := range classes {
		names = append(names, c.Name)
	}
	return names
}

func removeClass(classes []*beans.Class, name string) []*beans.Class {
	out := classes[:0:0]
	for _, c := range classes {
		if c.Name != name {
			out = append(out, c)
		}
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
