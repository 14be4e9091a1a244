package component

import (
	"fmt"
	"strconv"

	"github.com/junioryono/ccr/beans"
	"github.com/junioryono/ccr/dto"
	"github.com/junioryono/ccr/internal/filter"
	"github.com/junioryono/ccr/internal/op"
	"github.com/junioryono/ccr/registry"
)

// Property suffixes overriding reference templates at runtime.
const (
	TargetSuffix             = ".target"
	MinimumCardinalitySuffix = ".cardinality.minimum"
)

// TargetFilter builds the tracker filter of a reference: the objectClass
// clause combined with the target, if any.
func TargetFilter(serviceType, target string) string {
	class := "(" + registry.ObjectClass + "=" + filter.Escape(serviceType) + ")"
	if target == "" {
		return class
	}
	return "(&" + class + target + ")"
}

// MinimumCardinality applies the "<ref>.cardinality.minimum" property. It
// can only raise the template minimum and is capped at 1 for ONE references.
func MinimumCardinality(t *dto.ReferenceTemplateDTO, props map[string]any) int {
	minimum := t.MinimumCardinality
	if v, ok := props[t.Name+MinimumCardinalitySuffix]; ok {
		if n, ok := toInt(v); ok && n > minimum {
			minimum = n
		}
	}
	if t.MaximumCardinality == dto.One && minimum > 1 {
		minimum = 1
	}
	return minimum
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	default:
		return 0, false
	}
}

// Reference is the live state of one reference of an instance. Its fields
// are guarded by the owning instance's mutex.
type Reference struct {
	template *dto.ReferenceTemplateDTO
	filter   string
	minimum  int
	tracker  *registry.Tracker

	// matches are the tracked services, best ranked first.
	matches []*registry.ServiceReference
	// bound are the services injected into the current activation.
	bound []*registry.ServiceReference

	dynamics  []*beans.Dynamic
	observers []*beans.Observer

	// detached is set once the owning instance closed the reference.
	detached bool
}

func newReference(t *dto.ReferenceTemplateDTO, props map[string]any) (*Reference, error) {
	target := t.TargetFilter
	if v, ok := props[t.Name+TargetSuffix]; ok {
		s, isString := v.(string)
		if !isString {
			return nil, fmt.Errorf("property %s%s must be a string, got %T", t.Name, TargetSuffix, v)
		}
		target = s
	}
	if target != "" && !filter.Valid(target) {
		return nil, fmt.Errorf("illegal target filter %q for reference %q", target, t.Name)
	}

	return &Reference{
		template: t,
		filter:   TargetFilter(t.ServiceType, target),
		minimum:  MinimumCardinality(t, props),
	}, nil
}

func (r *Reference) Template() *dto.ReferenceTemplateDTO { return r.template }

// Filter returns the computed tracker filter.
func (r *Reference) Filter() string { return r.filter }

// Minimum returns the effective minimum cardinality.
func (r *Reference) Minimum() int { return r.minimum }

func (r *Reference) resolved() bool {
	return len(r.matches) >= r.minimum
}

// candidates are the services an activation would bind now.
func (r *Reference) candidates() []*registry.ServiceReference {
	if len(r.matches) == 0 {
		return nil
	}
	if r.template.MaximumCardinality == dto.One {
		return []*registry.ServiceReference{r.matches[0]}
	}
	return append([]*registry.ServiceReference(nil), r.matches...)
}

func (r *Reference) add(sr *registry.ServiceReference) {
	for _, m := range r.matches {
		if m == sr {
			return
		}
	}
	r.matches = append(r.matches, sr)
	registry.Sort(r.matches)
}

func (r *Reference) remove(sr *registry.ServiceReference) bool {
	for i, m := range r.matches {
		if m == sr {
			r.matches = append(r.matches[:i:i], r.matches[i+1:]...)
			return true
		}
	}
	return false
}

// boundLost reports whether a bound service no longer matches.
func (r *Reference) boundLost() bool {
	for _, b := range r.bound {
		if !containsRef(r.matches, b) {
			return true
		}
	}
	return false
}

func (r *Reference) dto() *dto.ReferenceDTO {
	return &dto.ReferenceDTO{
		Template:           r.template,
		TargetFilter:       r.filter,
		MinimumCardinality: r.minimum,
		Matches:            refDTOs(r.matches),
		Bound:              refDTOs(r.bound),
	}
}

// value shapes the bound services for one injection point.
func (r *Reference) value() any {
	if r.template.MaximumCardinality == dto.One {
		if len(r.bound) == 0 {
			return nil
		}
		return shape(r.template.CollectionType, r.bound[0])
	}

	values := make([]any, 0, len(r.bound))
	for _, sr := range r.bound {
		values = append(values, shape(r.template.CollectionType, sr))
	}
	return values
}

func (r *Reference) tuples() []beans.Tuple {
	out := make([]beans.Tuple, 0, len(r.bound))
	for _, sr := range r.bound {
		out = append(out, beans.Tuple{Reference: sr, Service: sr.Service()})
	}
	return out
}

// inject computes the value of a binding to this reference. Dynamic
// references hand out holders updated in place.
func (r *Reference) inject() any {
	if r.template.Policy != dto.Dynamic {
		return r.value()
	}
	if r.template.CollectionType == dto.CollectionObserver {
		o := beans.NewObserver(r.tuples())
		r.observers = append(r.observers, o)
		return o
	}
	d := beans.NewDynamic(r.value())
	r.dynamics = append(r.dynamics, d)
	return d
}

// rebindDynamic moves a dynamic reference to the current candidates.
func (r *Reference) rebindDynamic() (added, removed []beans.Tuple) {
	next := r.candidates()
	for _, b := range r.bound {
		if !containsRef(next, b) {
			removed = append(removed, beans.Tuple{Reference: b, Service: b.Service()})
		}
	}
	for _, n := range next {
		if !containsRef(r.bound, n) {
			added = append(added, beans.Tuple{Reference: n, Service: n.Service()})
		}
	}

	r.bound = next
	v := r.value()
	for _, d := range r.dynamics {
		d.Store(v)
	}
	return added, removed
}

func (r *Reference) unbind() {
	r.bound = nil
	r.dynamics = nil
	r.observers = nil
}

func shape(c dto.CollectionType, sr *registry.ServiceReference) any {
	switch c {
	case dto.CollectionReference:
		return sr
	case dto.CollectionProperties:
		return sr.Properties()
	case dto.CollectionTuple, dto.CollectionObserver:
		return beans.Tuple{Reference: sr, Service: sr.Service()}
	case dto.CollectionServiceObjects:
		return beans.NewServiceObjects(sr)
	default:
		return sr.Service()
	}
}

func containsRef(refs []*registry.ServiceReference, sr *registry.ServiceReference) bool {
	for _, r := range refs {
		if r == sr {
			return true
		}
	}
	return false
}

func sameRefs(a, b []*registry.ServiceReference) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func refDTOs(refs []*registry.ServiceReference) []*dto.ServiceReferenceDTO {
	out := make([]*dto.ServiceReferenceDTO, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.DTO())
	}
	return out
}

// referenceSync keeps one Reference of one Instance in step with the
// registry. Match sets change on the registry's goroutine; the resulting
// reconciliation is submitted to the unit's executor.
type referenceSync struct {
	instance *Instance
	ref      *Reference
}

func (s *referenceSync) Adding(sr *registry.ServiceReference) bool {
	s.instance.mu.Lock()
	detached := s.ref.detached
	if !detached {
		s.ref.add(sr)
	}
	s.instance.mu.Unlock()

	if !detached {
		s.changed()
	}
	return !detached
}

func (s *referenceSync) Modified(*registry.ServiceReference) {
	s.instance.mu.Lock()
	detached := s.ref.detached
	if !detached {
		registry.Sort(s.ref.matches)
	}
	s.instance.mu.Unlock()

	if !detached {
		s.changed()
	}
}

func (s *referenceSync) Removed(sr *registry.ServiceReference) {
	s.instance.mu.Lock()
	removed := !s.ref.detached && s.ref.remove(sr)
	s.instance.mu.Unlock()

	if removed {
		s.changed()
	}
}

func (s *referenceSync) changed() {
	st := s.instance.state
	st.IncrementChangeCount()
	st.Submit(op.Of(op.Open, op.References, s.instance.Name()+"/"+s.ref.template.Name), func() (bool, error) {
		return s.instance.reconcile(s.ref), nil
	})
}

var _ registry.Customizer = (*referenceSync)(nil)
