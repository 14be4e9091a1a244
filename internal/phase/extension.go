package phase

import (
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/junioryono/ccr/beans"
	"github.com/junioryono/ccr/dto"
	"github.com/junioryono/ccr/internal/container"
	"github.com/junioryono/ccr/internal/filter"
	"github.com/junioryono/ccr/internal/op"
	"github.com/junioryono/ccr/registry"
)

// ExtensionPhase holds the next phase closed until a service matches every
// required extension filter. Any change to the matching services restarts
// the next phase.
type ExtensionPhase struct {
	state *container.State
	model *model
	next  container.Phase

	mu       sync.Mutex
	filters  []filter.Filter // nil entries never match
	tracker  *registry.Tracker
	matched  []*registry.ServiceReference
	nextOpen bool
	active   bool
	// pending is set while a reconcile is queued.
	pending bool
}

func newExtensionPhase(state *container.State, m *model, next container.Phase) *ExtensionPhase {
	return &ExtensionPhase{state: state, model: m, next: next}
}

func (p *ExtensionPhase) Op(mode op.Mode) op.Op { return op.Of(mode, op.Extension, p.state.Name()) }

func (p *ExtensionPhase) Open() bool {
	templates := p.state.Template().Extensions
	if len(templates) == 0 {
		p.model.setExtensions(nil)
		return p.next.Open()
	}

	filters := make([]filter.Filter, len(templates))
	var clauses []string
	for i, t := range templates {
		f, err := filter.Compile(t.ServiceFilter)
		if err != nil {
			continue
		}
		filters[i] = f
		clauses = append(clauses, f.String())
	}
	if len(clauses) == 0 {
		p.state.Logger().Warn("no extension filter is valid, container stays closed")
		return false
	}

	src := clauses[0]
	if len(clauses) > 1 {
		src = "(|" + strings.Join(clauses, "") + ")"
	}

	p.mu.Lock()
	p.filters = filters
	p.matched = nil
	p.active = true
	p.mu.Unlock()

	reg := p.state.Registry()
	if reg == nil {
		p.state.Error(container.RuntimeError("", errNoRegistry))
		return false
	}
	t, err := reg.NewTracker(src, registry.CustomizerFuncs{
		AddingFunc: func(sr *registry.ServiceReference) bool {
			p.update(func() { p.matched = append(p.matched, sr); registry.Sort(p.matched) })
			return true
		},
		ModifiedFunc: func(*registry.ServiceReference) {
			p.update(func() { registry.Sort(p.matched) })
		},
		RemovedFunc: func(sr *registry.ServiceReference) {
			p.update(func() { p.matched = removeRef(p.matched, sr) })
		},
	})
	if err != nil {
		p.state.Error(container.RegistryError("", err))
		return false
	}

	p.mu.Lock()
	p.tracker = t
	p.mu.Unlock()
	t.Open()

	return true
}

func (p *ExtensionPhase) update(mutate func()) {
	p.mu.Lock()
	if !p.active {
		p.mu.Unlock()
		return
	}
	mutate()
	queued := p.pending
	p.pending = true
	p.mu.Unlock()

	if queued {
		return
	}
	p.state.Submit(op.Of(op.Open, op.Extension, p.state.Name()), func() (bool, error) {
		return p.reconcile(), nil
	})
}

// reconcile restarts the next phase on the current extension set.
func (p *ExtensionPhase) reconcile() bool {
	p.mu.Lock()
	p.pending = false
	if !p.active {
		p.mu.Unlock()
		return false
	}
	wasOpen := p.nextOpen
	p.nextOpen = false
	p.mu.Unlock()

	if wasOpen {
		p.next.Close()
		p.state.ClearExtensions()
	}

	p.mu.Lock()
	satisfied, dtos, exts := p.satisfiedLocked()
	if satisfied {
		p.nextOpen = true
	}
	p.mu.Unlock()

	if !satisfied {
		p.state.Logger().Debug("waiting for extensions")
		return wasOpen
	}

	p.state.SetExtensions(dtos)
	p.model.setExtensions(exts)
	p.state.Logger().Debug("extensions satisfied", zap.Int("extensions", len(exts)))
	return p.next.Open()
}

func (p *ExtensionPhase) satisfiedLocked() (bool, []*dto.ExtensionDTO, []beans.Extension) {
	templates := p.state.Template().Extensions
	var dtos []*dto.ExtensionDTO
	var exts []beans.Extension
	seen := make(map[*registry.ServiceReference]bool)

	for i, f := range p.filters {
		if f == nil {
			return false, nil, nil
		}

		var match *registry.ServiceReference
		for _, sr := range p.matched {
			if f.Match(sr.Properties()) {
				match = sr
				break
			}
		}
		if match == nil {
			return false, nil, nil
		}

		dtos = append(dtos, &dto.ExtensionDTO{Template: templates[i], Service: match.DTO()})
		if ext, ok := match.Service().(beans.Extension); ok && !seen[match] {
			exts = append(exts, ext)
		}
		seen[match] = true
	}
	return true, dtos, exts
}

func (p *ExtensionPhase) Close() bool {
	p.mu.Lock()
	if len(p.filters) == 0 && !p.active {
		p.mu.Unlock()
		return p.next.Close()
	}
	t := p.tracker
	p.tracker = nil
	p.active = false
	p.pending = false
	p.nextOpen = false
	p.matched = nil
	p.mu.Unlock()

	if t != nil {
		t.Close()
	}
	closed := p.next.Close()
	p.state.ClearExtensions()
	p.model.setExtensions(nil)
	return closed
}

func removeRef(refs []*registry.ServiceReference, sr *registry.ServiceReference) []*registry.ServiceReference {
	out := refs[:0:0]
	for _, r := range refs {
		if r != sr {
			out = append(out, r)
		}
	}
	return out
}
