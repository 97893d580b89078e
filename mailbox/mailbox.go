/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package mailbox

import (
	"errors"
	"sync"

	"github.com/eapache/queue"
)

// ErrNilExecutor is returned when a mailbox is created without an executor.
var ErrNilExecutor = errors.New("mailbox: executor is nil")

// ErrNilTask is returned when a nil task is enqueued.
var ErrNilTask = errors.New("mailbox: task is nil")

// Executor runs submitted tasks asynchronously.
// Submit must not block beyond constant-time bookkeeping and must not run the task more than once.
type Executor interface {
	Submit(task func()) error
}

// ExecutorFunc is an adapter to allow the use of ordinary functions as Executor.
type ExecutorFunc func(task func()) error

// Submit calls f(task).
func (f ExecutorFunc) Submit(task func()) error {
	return f(task)
}

// InlineExecutor runs every task on the submitting goroutine.
var InlineExecutor Executor = ExecutorFunc(func(task func()) error {
	task()
	return nil
})

// Mailbox is a FIFO of tasks executed strictly one after another on a shared Executor.
type Mailbox struct {
	executor Executor

	mu    sync.Mutex
	tasks *queue.Queue // head is the task that is currently submitted or running

	onDiscard func()
}

// New creates a new empty Mailbox bound to the executor.
func New(executor Executor) (*Mailbox, error) {
	if executor == nil {
		return nil, ErrNilExecutor
	}
	return &Mailbox{executor: executor, tasks: queue.New()}, nil
}

// Enqueue appends the task. If the mailbox was idle, the task is submitted to the executor immediately,
// otherwise it waits until all previously enqueued tasks have finished.
// When the executor rejects the submission the mailbox is emptied and the executor's error is returned.
// Tasks enqueued concurrently behind the rejected one are discarded too, although their Enqueue calls returned nil.
func (m *Mailbox) Enqueue(task func()) error {
	if task == nil {
		return ErrNilTask
	}

	m.mu.Lock()
	m.tasks.Add(task)
	idle := m.tasks.Length() == 1
	m.mu.Unlock()

	if !idle {
		return nil
	}
	if err := m.executor.Submit(m.wrap(task)); err != nil {
		m.discard()
		return err
	}
	return nil
}

// Size returns the number of tasks that are running or waiting.
func (m *Mailbox) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tasks.Length()
}

func (m *Mailbox) wrap(task func()) func() {
	return func() {
		defer m.complete()
		task()
	}
}

// complete is called exactly once per submitted task, after it returned or panicked.
func (m *Mailbox) complete() {
	m.mu.Lock()
	m.tasks.Remove()
	var next func()
	if m.tasks.Length() != 0 {
		next = m.tasks.Peek().(func())
	}
	m.mu.Unlock()

	if next == nil {
		return
	}
	if err := m.executor.Submit(m.wrap(next)); err != nil {
		// The executor is shut down, nothing waiting here will ever run.
		m.discard()
	}
}

func (m *Mailbox) discard() {
	m.mu.Lock()
	m.tasks = queue.New()
	m.mu.Unlock()
	if m.onDiscard != nil {
		m.onDiscard()
	}
}
