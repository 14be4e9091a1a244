package phase

import (
	"go.uber.org/zap"

	"github.com/junioryono/ccr/dto"
	"github.com/junioryono/ccr/internal/container"
	"github.com/junioryono/ccr/internal/discovery"
	"github.com/junioryono/ccr/internal/op"
)

// InitPhase runs component discovery once per open. Components failing
// validation are left out of the template; their siblings carry on.
type InitPhase struct {
	state *container.State
	model *model
	next  container.Phase
	base  *dto.ContainerTemplateDTO
	gen   generation
}

func newInitPhase(state *container.State, m *model, next container.Phase) *InitPhase {
	return &InitPhase{state: state, model: m, next: next, base: state.Template()}
}

func (p *InitPhase) Op(mode op.Mode) op.Op { return op.Of(mode, op.Init, p.state.Name()) }

func (p *InitPhase) Open() bool {
	result := discovery.Discover(p.state.Bundle(), p.state.Loader(), p.base)
	for _, err := range result.Errors {
		p.state.Error(err)
	}

	p.model.result.Store(result)
	p.state.SetTemplate(result.Template)
	p.state.Logger().Debug("components discovered",
		zap.Int("components", len(result.Template.Components)),
		zap.Int("errors", len(result.Errors)))

	submitOpen(p.state, p.next, p.gen.current(p.gen.next()))
	return true
}

func (p *InitPhase) Close() bool {
	p.gen.next()
	closed := p.next.Close()
	p.model.result.Store(nil)
	return closed
}
