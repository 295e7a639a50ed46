// Package pool provides an admission controller bounding concurrent backend calls.
package pool

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	ErrPoolClosed = errors.New("pool is closed")
)

// Task represents a unit of work.
type Task func(ctx context.Context) (any, error)

// Future is the handle a submitter waits on. Exactly one outcome is
// delivered per Future.
type Future struct {
	done   chan struct{}
	result any
	err    error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) complete(result any, err error) {
	f.result = result
	f.err = err
	close(f.done)
}

// Done is closed once the task has finished.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the task finishes or ctx is done. Giving up on the wait
// does not cancel the task once dispatched.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type taskWrapper struct {
	task   Task
	ctx    context.Context
	future *Future
}

// AdmissionController runs at most limit tasks at once. Excess tasks wait
// in a FIFO queue and are dispatched in submission order as slots free up.
// Completion order is unconstrained.
type AdmissionController struct {
	limit int

	mu     sync.Mutex
	active int
	queue  *list.List
	closed bool
	wg     sync.WaitGroup

	// Metrics
	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64

	logger   *zap.Logger
	observer func(active, queued int)
}

// AdmissionConfig configures the controller.
type AdmissionConfig struct {
	MaxConcurrent int `json:"max_concurrent" yaml:"max_concurrent"`
	// Observer, if set, is called with the active and queued counts after
	// every change. It runs under the controller lock and must not block.
	Observer func(active, queued int) `json:"-" yaml:"-"`
}

// NewAdmissionController creates a controller. A non-positive limit is
// treated as 1.
func NewAdmissionController(config AdmissionConfig, logger *zap.Logger) *AdmissionController {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := config.MaxConcurrent
	if limit < 1 {
		limit = 1
	}
	return &AdmissionController{
		limit:    limit,
		queue:    list.New(),
		logger:   logger.With(zap.String("component", "admission")),
		observer: config.Observer,
	}
}

// Limit returns the concurrency bound.
func (p *AdmissionController) Limit() int { return p.limit }

// Submit enqueues a task and returns its Future. On a closed controller the
// Future completes immediately with ErrPoolClosed.
func (p *AdmissionController) Submit(ctx context.Context, task Task) *Future {
	f := newFuture()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.rejected.Add(1)
		f.complete(nil, ErrPoolClosed)
		return f
	}
	p.submitted.Add(1)
	p.queue.PushBack(taskWrapper{task: task, ctx: ctx, future: f})
	p.dispatchLocked()
	p.mu.Unlock()

	return f
}

// SubmitWait submits a task and waits for its outcome.
func (p *AdmissionController) SubmitWait(ctx context.Context, task Task) (any, error) {
	return p.Submit(ctx, task).Wait(ctx)
}

// dispatchLocked starts queued tasks while capacity remains.
// Caller must hold p.mu.
func (p *AdmissionController) dispatchLocked() {
	for p.active < p.limit && p.queue.Len() > 0 {
		front := p.queue.Front()
		w := p.queue.Remove(front).(taskWrapper)
		p.active++
		p.wg.Add(1)
		go p.run(w)
	}
	p.notifyLocked()
}

func (p *AdmissionController) notifyLocked() {
	if p.observer != nil {
		p.observer(p.active, p.queue.Len())
	}
}

func (p *AdmissionController) run(w taskWrapper) {
	defer p.wg.Done()

	result, err := p.executeTask(w)
	if err != nil {
		p.failed.Add(1)
	} else {
		p.completed.Add(1)
	}

	// Release the slot before delivering so a waiter that resubmits
	// immediately sees the freed capacity.
	p.mu.Lock()
	p.active--
	p.dispatchLocked()
	p.mu.Unlock()

	w.future.complete(result, err)
}

func (p *AdmissionController) executeTask(w taskWrapper) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked", zap.Any("panic", r))
			result = nil
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()

	return w.task(w.ctx)
}

// Close rejects further submissions and waits for dispatched and queued
// tasks to finish.
func (p *AdmissionController) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	// Queued tasks are dispatched by finishing ones, which register with wg
	// before releasing their own slot.
	p.wg.Wait()
}

// Stats returns pool statistics.
func (p *AdmissionController) Stats() AdmissionStats {
	p.mu.Lock()
	active, queued := p.active, p.queue.Len()
	p.mu.Unlock()
	return AdmissionStats{
		Limit:     p.limit,
		Active:    active,
		Queued:    queued,
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
	}
}

// AdmissionStats contains pool statistics.
type AdmissionStats struct {
	Limit     int   `json:"limit"`
	Active    int   `json:"active"`
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
}

// SubmitTyped submits a typed task and waits for its result.
func SubmitTyped[T any](ctx context.Context, p *AdmissionController, task func(ctx context.Context) (T, error)) (T, error) {
	res, err := p.SubmitWait(ctx, func(ctx context.Context) (any, error) {
		return task(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	v, ok := res.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("unexpected task result type %T", res)
	}
	return v, nil
}
