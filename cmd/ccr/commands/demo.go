package commands

import (
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/junioryono/ccr/beans"
)

// Demo bean class names.
const (
	ClassClock   = "demo.Clock"
	ClassStore   = "demo.Store"
	ClassGreeter = "demo.Greeter"
	ClassWorker  = "demo.Worker"
)

// Clock is a container bean shared by every component of a unit.
type Clock struct {
	started time.Time
}

func (c *Clock) Uptime() time.Duration { return time.Since(c.started) }

// Store is a trivial key-value service.
type Store struct {
	name string
	hits atomic.Int64
}

func (s *Store) Get(key string) string {
	s.hits.Add(1)
	return s.name + ":" + key
}

// Greeter greets through the bound store.
type Greeter struct {
	greeting string
	store    *Store
	clock    *Clock
}

func (g *Greeter) Greet(who string) string {
	return fmt.Sprintf("%s %s (%s)", g.greeting, who, g.store.Get(who))
}

// Worker is created once per factory configuration.
type Worker struct {
	logger *zap.Logger
	pid    any
}

func (w *Worker) Close() error {
	w.logger.Debug("worker stopped", zap.Any("pid", w.pid))
	return nil
}

// DemoCatalog returns the bean classes descriptors can reference.
func DemoCatalog() beans.Loader {
	return beans.NewIndex(
		&beans.Class{
			Name:        ClassClock,
			Constructor: func() *Clock { return &Clock{started: time.Now()} },
		},
		&beans.Class{
			Name: ClassStore,
			Constructor: func(in *beans.Injection) *Store {
				return &Store{name: fmt.Sprint(in.Properties()["component.name"])}
			},
			Services: []string{ClassStore},
		},
		&beans.Class{
			Name: ClassGreeter,
			Constructor: func(in *beans.Injection, clock *Clock) *Greeter {
				greeting := "hello"
				if cfg := in.Configuration("config"); cfg != nil {
					if v, ok := cfg["greeting"].(string); ok {
						greeting = v
					}
				}
				store, _ := in.Reference("store").(*Store)
				return &Greeter{greeting: greeting, store: store, clock: clock}
			},
			InjectionPoints: []beans.InjectionPoint{
				{Name: "store", Kind: beans.KindReference, ReferenceName: "store", Service: ClassStore},
				{Name: "config", Kind: beans.KindConfiguration},
			},
			Services: []string{ClassGreeter},
		},
		&beans.Class{
			Name: ClassWorker,
			Constructor: func(in *beans.Injection, logger *zap.Logger) *Worker {
				return &Worker{logger: logger, pid: in.Properties()["service.pid"]}
			},
			Services: []string{ClassWorker},
		},
	)
}
