/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package mailbox

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/eapache/queue"
	"go.uber.org/atomic"

	"github.com/acronis/go-dispatch/log"
)

// ErrPoolClosed is returned by Submit after the pool has been shut down.
var ErrPoolClosed = errors.New("mailbox: worker pool is closed")

const panicStackSize = 8 << 10

// PoolStats is a snapshot of the pool state.
type PoolStats struct {
	Workers int
	Busy    int
	Queued  int
}

// PoolOption configures a WorkerPool.
type PoolOption func(*poolOptions)

type poolOptions struct {
	logger log.FieldLogger
	name   string
}

// WithPoolLogger sets the logger used to report panicking tasks.
func WithPoolLogger(logger log.FieldLogger) PoolOption {
	return func(o *poolOptions) {
		o.logger = logger
	}
}

// WithPoolName sets the name added to the pool's log entries.
func WithPoolName(name string) PoolOption {
	return func(o *poolOptions) {
		o.name = name
	}
}

// WorkerPool is a fixed number of goroutines executing tasks from an unbounded FIFO.
// Submit never blocks.
type WorkerPool struct {
	workers int
	logger  log.FieldLogger

	mu     sync.Mutex
	cond   *sync.Cond
	tasks  *queue.Queue
	closed bool

	busy atomic.Int32
	wg   sync.WaitGroup
}

var _ Executor = (*WorkerPool)(nil)

// NewWorkerPool starts a pool with the given number of workers.
func NewWorkerPool(workers int, options ...PoolOption) (*WorkerPool, error) {
	if workers <= 0 {
		return nil, fmt.Errorf("mailbox: workers must be greater than 0, got %d", workers)
	}
	opts := poolOptions{logger: log.NewDisabledLogger(), name: "default"}
	for _, opt := range options {
		opt(&opts)
	}
	p := &WorkerPool{
		workers: workers,
		logger:  opts.logger.With(log.String("pool", opts.name)),
		tasks:   queue.New(),
	}
	p.cond = sync.NewCond(&p.mu)
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.work()
	}
	return p, nil
}

// Submit queues the task for execution.
func (p *WorkerPool) Submit(task func()) error {
	if task == nil {
		return ErrNilTask
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	p.tasks.Add(task)
	p.cond.Signal()
	return nil
}

// ShutdownNow rejects further submissions and discards queued tasks, returning how many were dropped.
// Running tasks are not interrupted and are not waited for.
func (p *WorkerPool) ShutdownNow() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	dropped := p.tasks.Length()
	p.tasks = queue.New()
	p.cond.Broadcast()
	return dropped
}

// Shutdown rejects further submissions, lets the queued tasks run,
// and waits until all workers exit or ctx is done.
func (p *WorkerPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns the current pool state.
func (p *WorkerPool) Stats() PoolStats {
	p.mu.Lock()
	queued := p.tasks.Length()
	p.mu.Unlock()
	return PoolStats{Workers: p.workers, Busy: int(p.busy.Load()), Queued: queued}
}

func (p *WorkerPool) work() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for p.tasks.Length() == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.tasks.Length() == 0 {
			p.mu.Unlock()
			return
		}
		task := p.tasks.Remove().(func())
		p.mu.Unlock()

		p.run(task)
	}
}

func (p *WorkerPool) run(task func()) {
	p.busy.Inc()
	defer p.busy.Dec()
	defer func() {
		if r := recover(); r != nil {
			stack := make([]byte, panicStackSize)
			stack = stack[:runtime.Stack(stack, false)]
			p.logger.Error(fmt.Sprintf("task panicked: %+v", r), log.Bytes("stack", stack))
		}
	}()
	task()
}
