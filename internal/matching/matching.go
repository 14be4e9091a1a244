// Package matching binds the injection points of a component's beans to the
// component's reference and configuration templates.
package matching

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/junioryono/ccr/beans"
	"github.com/junioryono/ccr/dto"
	"github.com/junioryono/ccr/internal/filter"
)

// ComponentPlaceholder in a PID is replaced by the component name.
const ComponentPlaceholder = "$"

// DefinitionError reports an injection point no template can satisfy
// unambiguously.
type DefinitionError struct {
	Component string
	Bean      string
	Point     string
	Msg       string
}

func (e DefinitionError) Error() string {
	return fmt.Sprintf("injection point %q of bean %q in component %q: %s", e.Point, e.Bean, e.Component, e.Msg)
}

// Binding routes one injection point to the template satisfying it. The
// qualifier is unique per point and keys the injected value.
type Binding struct {
	Bean          string
	Point         beans.InjectionPoint
	Qualifier     string
	Reference     *dto.ReferenceTemplateDTO
	Configuration *dto.ConfigurationTemplateDTO
}

// ResolvePID expands the component placeholder in pid.
func ResolvePID(pid, component string) string {
	if pid == "" {
		return component
	}
	return strings.ReplaceAll(pid, ComponentPlaceholder, component)
}

// ReferenceName is the reference name an injection point implies.
func ReferenceName(bean string, ip beans.InjectionPoint) string {
	if ip.ReferenceName != "" {
		return ip.ReferenceName
	}
	return bean + "." + ip.Name
}

// DeriveReference computes the template a reference injection point denotes.
func DeriveReference(bean string, ip beans.InjectionPoint) *dto.ReferenceTemplateDTO {
	t := &dto.ReferenceTemplateDTO{
		Name:               ReferenceName(bean, ip),
		ServiceType:        ip.Service,
		MinimumCardinality: 1,
		MaximumCardinality: dto.One,
		Policy:             dto.Static,
		PolicyOption:       dto.Reluctant,
		TargetFilter:       ip.Target,
		CollectionType:     ip.Collection,
	}
	if ip.Multiple {
		t.MaximumCardinality = dto.Many
	}
	if ip.Optional {
		t.MinimumCardinality = 0
	}
	if ip.Dynamic {
		t.Policy = dto.Dynamic
	}
	if ip.Greedy {
		t.PolicyOption = dto.Greedy
	}
	return t
}

// SameReference reports whether a and b denote the same dependency.
func SameReference(a, b *dto.ReferenceTemplateDTO) bool {
	return a.Name == b.Name &&
		a.ServiceType == b.ServiceType &&
		a.MaximumCardinality == b.MaximumCardinality
}

// Match binds every injection point of classes to a template of tmpl.
// Points equal to a declared template reuse it; others append their
// derived template. Bindings follow class and point order.
func Match(tmpl *dto.ComponentTemplateDTO, classes []*beans.Class) ([]Binding, error) {
	var bindings []Binding
	names := make(map[string]string)

	for _, class := range classes {
		for _, ip := range class.InjectionPoints {
			fail := func(format string, args ...any) error {
				return DefinitionError{
					Component: tmpl.Name,
					Bean:      class.Name,
					Point:     ip.Name,
					Msg:       fmt.Sprintf(format, args...),
				}
			}

			if ip.Name == "" {
				return nil, fail("injection point has no name")
			}
			if other, dup := names[ip.Name]; dup {
				return nil, fail("ambiguous injection point, also declared by bean %q", other)
			}
			names[ip.Name] = class.Name

			b := Binding{Bean: class.Name, Point: ip, Qualifier: uuid.NewString()}

			switch ip.Kind {
			case beans.KindReference:
				ref, err := matchReference(tmpl, class.Name, ip)
				if err != nil {
					return nil, fail("%s", err)
				}
				b.Reference = ref

			case beans.KindConfiguration:
				b.Configuration = matchConfiguration(tmpl, ip)

			default:
				return nil, fail("unknown injection kind %s", ip.Kind)
			}

			bindings = append(bindings, b)
		}
	}

	return bindings, nil
}

func matchReference(tmpl *dto.ComponentTemplateDTO, bean string, ip beans.InjectionPoint) (*dto.ReferenceTemplateDTO, error) {
	if ip.Service == "" {
		return nil, fmt.Errorf("reference has no service type")
	}
	if ip.Target != "" && !filter.Valid(ip.Target) {
		return nil, fmt.Errorf("illegal target filter %q", ip.Target)
	}
	if ip.Collection == dto.CollectionObserver && !ip.Dynamic {
		return nil, fmt.Errorf("observer references must be dynamic")
	}

	derived := DeriveReference(bean, ip)
	if existing := tmpl.Reference(derived.Name); existing != nil {
		if !SameReference(existing, derived) {
			return nil, fmt.Errorf("conflicts with declared reference %q (%s %s)",
				existing.Name, existing.ServiceType, existing.MaximumCardinality)
		}
		if ip.Target != "" && existing.TargetFilter != "" && ip.Target != existing.TargetFilter {
			return nil, fmt.Errorf("target %q conflicts with declared target %q", ip.Target, existing.TargetFilter)
		}
		return existing, nil
	}

	tmpl.References = append(tmpl.References, derived)
	return derived, nil
}

func matchConfiguration(tmpl *dto.ComponentTemplateDTO, ip beans.InjectionPoint) *dto.ConfigurationTemplateDTO {
	pid := ResolvePID(ip.PID, tmpl.Name)

	for _, c := range tmpl.Configurations {
		if c.PID == pid {
			return c
		}
	}

	derived := &dto.ConfigurationTemplateDTO{
		PID:                pid,
		MaximumCardinality: dto.One,
		Policy:             dto.Optional,
	}
	if ip.Required {
		derived.Policy = dto.Required
	}
	tmpl.Configurations = append(tmpl.Configurations, derived)
	return derived
}
