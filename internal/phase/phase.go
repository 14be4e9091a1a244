// Package phase implements the lifecycle stages of a container: discovery,
// extension tracking, configuration listening and bean container bootstrap.
// Each stage wraps the next; opening cascades inward, closing outward.
package phase

import (
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/junioryono/ccr/beans"
	"github.com/junioryono/ccr/internal/container"
	"github.com/junioryono/ccr/internal/discovery"
	"github.com/junioryono/ccr/internal/op"
)

var errNoRegistry = errors.New("no service registry")

// model is what the stages of one chain hand to each other.
type model struct {
	result atomic.Pointer[discovery.Result]

	mu         sync.Mutex
	extensions []beans.Extension
}

func (m *model) setExtensions(exts []beans.Extension) {
	m.mu.Lock()
	m.extensions = exts
	m.mu.Unlock()
}

func (m *model) externalExtensions() []beans.Extension {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]beans.Extension(nil), m.extensions...)
}

// NewChain builds Init -> Extension -> Configuration for state. Opening
// the returned phase starts the container; closing it tears it down.
func NewChain(state *container.State) container.Phase {
	m := &model{}
	configuration := newConfigurationPhase(state, m)
	extension := newExtensionPhase(state, m, configuration)
	return newInitPhase(state, m, extension)
}

// submitOpen opens next on the executor unless current reports false by
// the time the task runs.
func submitOpen(state *container.State, next container.Phase, current func() bool) *container.Promise {
	return state.Submit(next.Op(op.Open), func() (bool, error) {
		if !current() {
			state.Logger().Debug("discarding superseded open", zap.Stringer("op", next.Op(op.Open)))
			return false, nil
		}
		return next.Open(), nil
	})
}

// generation invalidates queued opens: every open or close moves it on.
type generation struct{ n atomic.Uint64 }

func (g *generation) next() uint64 { return g.n.Add(1) }

func (g *generation) current(n uint64) func() bool {
	return func() bool { return g.n.Load() == n }
}
