package beans

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Disposable beans are closed when their scope ends.
type Disposable interface {
	Close() error
}

// DisposableWithContext beans are closed with a context when their scope ends.
type DisposableWithContext interface {
	Close(ctx context.Context) error
}

// lifecycleManager closes tracked instances in reverse creation order.
type lifecycleManager struct {
	disposables []any
	mu          sync.Mutex
}

func newLifecycleManager() *lifecycleManager {
	return &lifecycleManager{}
}

// track records instance if it can be disposed.
func (m *lifecycleManager) track(instance any) {
	switch instance.(type) {
	case Disposable, DisposableWithContext:
		m.mu.Lock()
		defer m.mu.Unlock()
		m.disposables = append(m.disposables, instance)
	}
}

// dispose closes all tracked instances LIFO. It is safe to call twice.
func (m *lifecycleManager) dispose(ctx context.Context) error {
	m.mu.Lock()
	disposables := m.disposables
	m.disposables = nil
	m.mu.Unlock()

	var errs []error
	for i := len(disposables) - 1; i >= 0; i-- {
		var err error
		switch d := disposables[i].(type) {
		case DisposableWithContext:
			err = d.Close(ctx)
		case Disposable:
			err = d.Close()
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to dispose %T: %w", disposables[i], err))
		}
	}

	return errors.Join(errs...)
}
