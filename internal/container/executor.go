package container

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// executor runs tasks one at a time in submission order on a single worker
// goroutine. Its queue is unbounded so registry callbacks never block.
type executor struct {
	logger *zap.Logger

	mu     sync.Mutex
	queue  []func()
	busy   bool
	closed bool
	// idle is closed while the queue is empty and no task runs.
	idle chan struct{}
	wake chan struct{}
	done chan struct{}
}

func newExecutor(logger *zap.Logger) *executor {
	idle := make(chan struct{})
	close(idle)

	e := &executor{
		logger: logger,
		idle:   idle,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *executor) execute(task func()) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrExecutorClosed
	}
	if !e.busy && len(e.queue) == 0 {
		e.idle = make(chan struct{})
	}
	e.queue = append(e.queue, task)
	e.mu.Unlock()

	e.signal()
	return nil
}

func (e *executor) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *executor) run() {
	defer close(e.done)

	for {
		e.mu.Lock()
		for len(e.queue) == 0 {
			if e.closed {
				e.mu.Unlock()
				return
			}
			e.mu.Unlock()
			<-e.wake
			e.mu.Lock()
		}

		task := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		e.busy = true
		e.mu.Unlock()

		e.runTask(task)

		e.mu.Lock()
		e.busy = false
		if len(e.queue) == 0 {
			close(e.idle)
		}
		e.mu.Unlock()
	}
}

// runTask keeps the worker alive whatever the task does. Tasks submitted
// through State recover their own panics; this is the last line.
func (e *executor) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("task panicked", zap.String("panic", fmt.Sprint(r)))
		}
	}()
	task()
}

// waitIdle blocks until no task is queued or running.
func (e *executor) waitIdle(ctx context.Context) error {
	for {
		e.mu.Lock()
		idle := e.idle
		e.mu.Unlock()

		select {
		case <-idle:
			e.mu.Lock()
			quiet := !e.busy && len(e.queue) == 0
			e.mu.Unlock()
			if quiet {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// shutdown rejects new tasks, drains the queue and stops the worker.
func (e *executor) shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.signal()

	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Promise is the result of a submitted task. Continuations run on the
// worker when the task completes, or inline when it already has.
type Promise struct {
	mu    sync.Mutex
	done  chan struct{}
	ok    bool
	err   error
	conts []func(ok bool, err error)
}

func newPromise() *Promise {
	return &Promise{done: make(chan struct{})}
}

func (p *Promise) resolve(ok bool, err error) {
	p.mu.Lock()
	select {
	case <-p.done:
		p.mu.Unlock()
		return
	default:
	}
	p.ok, p.err = ok, err
	conts := p.conts
	p.conts = nil
	close(p.done)
	p.mu.Unlock()

	for _, c := range conts {
		c(ok, err)
	}
}

// onComplete registers fn for completion.
func (p *Promise) onComplete(fn func(ok bool, err error)) {
	p.mu.Lock()
	select {
	case <-p.done:
		ok, err := p.ok, p.err
		p.mu.Unlock()
		fn(ok, err)
		return
	default:
	}
	p.conts = append(p.conts, fn)
	p.mu.Unlock()
}

// Then runs fn with the task's result once it completes successfully and
// returns a promise of fn's result. Failures skip fn and propagate.
func (p *Promise) Then(fn func(ok bool) (bool, error)) *Promise {
	next := newPromise()
	p.onComplete(func(ok bool, err error) {
		if err != nil {
			next.resolve(false, err)
			return
		}
		next.resolve(callSafely(func() (bool, error) { return fn(ok) }))
	})
	return next
}

// OnFailure runs fn when the task fails.
func (p *Promise) OnFailure(fn func(err error)) *Promise {
	p.onComplete(func(_ bool, err error) {
		if err != nil {
			fn(err)
		}
	})
	return p
}

// Wait blocks until the task completes. Never call it from a task.
func (p *Promise) Wait(ctx context.Context) (bool, error) {
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.ok, p.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Done reports whether the task completed.
func (p *Promise) Done() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// callSafely turns a panic of fn into a runtime error.
func callSafely(fn func() (bool, error)) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, RuntimeError("", fmt.Errorf("panic: %v", r))
		}
	}()
	return fn()
}
