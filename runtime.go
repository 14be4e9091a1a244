package ccr

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/junioryono/ccr/beans"
	"github.com/junioryono/ccr/configadmin"
	"github.com/junioryono/ccr/dto"
	"github.com/junioryono/ccr/internal/changecount"
	"github.com/junioryono/ccr/internal/container"
	"github.com/junioryono/ccr/internal/metrics"
	"github.com/junioryono/ccr/internal/op"
	"github.com/junioryono/ccr/internal/phase"
	"github.com/junioryono/ccr/registry"
)

// Runtime hosts the containers of started bundles and exposes their
// snapshots.
type Runtime struct {
	opts     options
	logger   *zap.Logger
	registry *registry.Registry
	admin    configadmin.Admin
	metrics  *metrics.Metrics
	counter  *changecount.Counter

	mu         sync.RWMutex
	containers map[int64]*unit
	closed     atomic.Bool
}

type unit struct {
	bundle Bundle
	state  *container.State
	chain  container.Phase
	// lock guards start/stop transitions.
	lock *semaphore.Weighted
}

// New creates a runtime with no containers.
func New(opts ...Option) *Runtime {
	o := options{stopTimeout: DefaultStopTimeout}
	for _, opt := range opts {
		opt.apply(&o)
	}

	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.registry == nil {
		o.registry = registry.New(registry.WithLogger(o.logger))
	}
	if o.admin == nil {
		o.admin = configadmin.NewMemory(o.logger)
	}
	if o.stopTimeout <= 0 {
		o.stopTimeout = DefaultStopTimeout
	}

	r := &Runtime{
		opts:       o,
		logger:     o.logger,
		registry:   o.registry,
		admin:      o.admin,
		counter:    changecount.New(),
		containers: make(map[int64]*unit),
	}
	if o.registerer != nil {
		r.metrics = metrics.New(o.registerer)
	}
	return r
}

// Registry returns the service registry shared by every container.
func (r *Runtime) Registry() *registry.Registry { return r.registry }

// ConfigAdmin returns the configuration admin shared by every container.
func (r *Runtime) ConfigAdmin() configadmin.Admin { return r.admin }

// ChangeCount returns the sum of all changes of all containers.
func (r *Runtime) ChangeCount() int64 { return r.counter.Get() }

// Start creates the container of b and opens it. Discovery runs before
// Start returns; components activate asynchronously as their dependencies
// appear.
func (r *Runtime) Start(ctx context.Context, b Bundle) error {
	if r.closed.Load() {
		return ErrRuntimeClosed
	}
	if b.Loader == nil {
		return ErrNilLoader
	}
	if err := b.Descriptor.Validate(); err != nil {
		return err
	}

	id := b.Descriptor.ID
	r.mu.Lock()
	if _, exists := r.containers[id]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: bundle %d", ErrContainerExists, id)
	}

	state := container.New(container.Config{
		Bundle:            b.Descriptor,
		Loader:            b.Loader,
		Extensions:        b.Extensions,
		BuiltinExtensions: r.builtinExtensions(),
		Registry:          r.registry,
		Admin:             r.admin,
		BeanFactory:       r.opts.factory,
		Parent:            r.counter,
		Metrics:           r.metrics,
		Logger:            r.logger,
	})
	u := &unit{
		bundle: b,
		state:  state,
		chain:  phase.NewChain(state),
		lock:   semaphore.NewWeighted(1),
	}
	r.containers[id] = u
	r.mu.Unlock()

	if err := u.lock.Acquire(ctx, 1); err != nil {
		r.remove(id)
		_ = state.Shutdown(context.Background())
		return err
	}
	defer u.lock.Release(1)

	state.Logger().Info("starting container")
	_, err := state.Submit(u.chain.Op(op.Open), func() (bool, error) {
		return u.chain.Open(), nil
	}).Then(func(opened bool) (bool, error) {
		state.Logger().Debug("container opened", zap.Bool("opened", opened))
		return opened, nil
	}).OnFailure(func(err error) {
		state.Logger().Warn("failed to open container", zap.Error(err))
	}).Wait(ctx)
	return err
}

// Stop closes and removes the container of bundleID. If the container's
// start/stop lock cannot be acquired within the stop timeout, teardown
// proceeds anyway and a StopTimeoutError is returned.
func (r *Runtime) Stop(ctx context.Context, bundleID int64) error {
	u := r.remove(bundleID)
	if u == nil {
		return fmt.Errorf("%w: bundle %d", ErrContainerNotFound, bundleID)
	}
	return r.stop(ctx, u)
}

func (r *Runtime) stop(ctx context.Context, u *unit) error {
	logger := u.state.Logger()
	id := u.bundle.Descriptor.ID
	var errs []error

	lockCtx, cancelLock := context.WithTimeout(ctx, r.opts.stopTimeout)
	defer cancelLock()
	if err := u.lock.Acquire(lockCtx, 1); err != nil {
		logger.Warn("forcing container teardown",
			zap.Duration("timeout", r.opts.stopTimeout),
			zap.Error(err))
		errs = append(errs, StopTimeoutError{BundleID: id, Stage: "acquiring start/stop lock", Cause: err})
	} else {
		defer u.lock.Release(1)
	}

	closeCtx, cancelClose := context.WithTimeout(ctx, r.opts.stopTimeout)
	defer cancelClose()

	_, err := u.state.Submit(u.chain.Op(op.Close), func() (bool, error) {
		return u.chain.Close(), nil
	}).OnFailure(func(err error) {
		if !errors.Is(err, container.ErrExecutorClosed) {
			logger.Warn("failed to close container", zap.Error(err))
		}
	}).Wait(closeCtx)
	if err != nil && !errors.Is(err, container.ErrExecutorClosed) {
		if closeCtx.Err() != nil {
			err = StopTimeoutError{BundleID: id, Stage: "closing", Cause: err}
		}
		errs = append(errs, err)
	}

	if err := u.state.Shutdown(closeCtx); err != nil {
		errs = append(errs, StopTimeoutError{BundleID: id, Stage: "draining executor", Cause: err})
	}

	logger.Info("container stopped")
	return errors.Join(errs...)
}

func (r *Runtime) remove(id int64) *unit {
	r.mu.Lock()
	defer r.mu.Unlock()

	u := r.containers[id]
	delete(r.containers, id)
	return u
}

// Close stops every container, newest first. Further calls to Start fail
// with ErrRuntimeClosed.
func (r *Runtime) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}

	ids := r.BundleIDs()
	slices.Reverse(ids)

	var errs []error
	for _, id := range ids {
		if u := r.remove(id); u != nil {
			if err := r.stop(context.Background(), u); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// BundleIDs returns the IDs of running containers in ascending order.
func (r *Runtime) BundleIDs() []int64 {
	r.mu.RLock()
	ids := make([]int64, 0, len(r.containers))
	for id := range r.containers {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	slices.Sort(ids)
	return ids
}

func (r *Runtime) lookup(id int64) (*unit, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.containers[id]
	return u, ok
}

// ContainerDTO returns a snapshot of the container of bundleID.
func (r *Runtime) ContainerDTO(bundleID int64) (*dto.ContainerDTO, error) {
	u, ok := r.lookup(bundleID)
	if !ok {
		return nil, fmt.Errorf("%w: bundle %d", ErrContainerNotFound, bundleID)
	}
	return u.state.ContainerDTO(), nil
}

// ContainerDTOs returns snapshots of the given containers, or of every
// container when no IDs are given. Unknown IDs are skipped.
func (r *Runtime) ContainerDTOs(bundleIDs ...int64) []*dto.ContainerDTO {
	if len(bundleIDs) == 0 {
		bundleIDs = r.BundleIDs()
	}

	out := make([]*dto.ContainerDTO, 0, len(bundleIDs))
	for _, id := range bundleIDs {
		if u, ok := r.lookup(id); ok {
			out = append(out, u.state.ContainerDTO())
		}
	}
	return out
}

// ContainerChangeCount returns the change count of the container of
// bundleID, or -1 if there is none.
func (r *Runtime) ContainerChangeCount(bundleID int64) int64 {
	u, ok := r.lookup(bundleID)
	if !ok {
		return -1
	}
	return u.state.ChangeCount()
}

// ContainerTemplateDTO returns the template of the container of bundleID.
func (r *Runtime) ContainerTemplateDTO(bundleID int64) (*dto.ContainerTemplateDTO, error) {
	u, ok := r.lookup(bundleID)
	if !ok {
		return nil, fmt.Errorf("%w: bundle %d", ErrContainerNotFound, bundleID)
	}
	return u.state.Template(), nil
}

// WaitIdle blocks until the executors of every container are idle.
func (r *Runtime) WaitIdle(ctx context.Context) error {
	for _, id := range r.BundleIDs() {
		u, ok := r.lookup(id)
		if !ok {
			continue
		}
		if err := u.state.WaitIdle(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runtime) builtinExtensions() []beans.Extension {
	exts := []beans.Extension{beans.ExtensionFunc{
		ExtensionName: RuntimeExtension,
		Fn: func(reg beans.Registrar) error {
			if err := reg.Provide(func() *registry.Registry { return r.registry }); err != nil {
				return err
			}
			return reg.Provide(func() configadmin.Admin { return r.admin })
		},
	}}
	return append(exts, r.opts.extensions...)
}
