// Package runner provides the deferred-task facility the broker hands
// its callback invocations to. Every message delivery and every
// unsubscribe notification of an accepted subscription runs on a
// TaskRunner, never inside the broker lock.
package runner

import (
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Func is a two-argument deferred task.
type Func func(arg1, arg2 any)

// TaskRunner queues fn(arg1, arg2) for asynchronous execution. A queued
// task eventually runs exactly once; no ordering is guaranteed between
// tasks.
type TaskRunner interface {
	Defer(fn Func, arg1, arg2 any)
}

type task struct {
	fn   Func
	arg1 any
	arg2 any
}

// Pool is a fixed worker pool implementing TaskRunner. Submission
// blocks when the queue is full, which bounds memory by refcounted
// queueing rather than dropping work.
type Pool struct {
	tasks  chan task
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
	log    *zap.Logger

	pending  atomic.Int64
	idleMu   sync.Mutex
	idleCond *sync.Cond
}

// NewPool starts a pool with the given worker count and queue depth.
// workers <= 0 defaults to GOMAXPROCS; depth <= 0 defaults to
// workers*256. log may be nil.
func NewPool(workers, depth int, log *zap.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if depth <= 0 {
		depth = workers * 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pool{
		tasks: make(chan task, depth),
		log:   log,
	}
	p.idleCond = sync.NewCond(&p.idleMu)
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for t := range p.tasks {
		p.run(t)
	}
}

func (p *Pool) run(t task) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("task panicked", zap.Any("panic", r))
		}
		if p.pending.Add(-1) == 0 {
			p.idleMu.Lock()
			p.idleCond.Broadcast()
			p.idleMu.Unlock()
		}
	}()
	t.fn(t.arg1, t.arg2)
}

// Defer queues fn(arg1, arg2). After Close, tasks run synchronously in
// the caller so the exactly-once contract still holds. A nil fn is
// ignored.
func (p *Pool) Defer(fn Func, arg1, arg2 any) {
	if fn == nil {
		return
	}
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		p.pending.Add(1)
		p.run(task{fn: fn, arg1: arg1, arg2: arg2})
		return
	}
	p.pending.Add(1)
	p.tasks <- task{fn: fn, arg1: arg1, arg2: arg2}
	p.mu.RUnlock()
}

// Drain blocks until every task submitted so far — including tasks
// submitted by running tasks — has finished.
func (p *Pool) Drain() {
	p.idleMu.Lock()
	defer p.idleMu.Unlock()
	for p.pending.Load() != 0 {
		p.idleCond.Wait()
	}
}

// Close drains outstanding tasks and stops the workers. Idempotent.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.Drain()
	close(p.tasks)
	p.wg.Wait()
}
