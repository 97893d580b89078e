/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package mailbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/acronis/go-dispatch/log/logtest"
)

func newTestPool(t *testing.T, workers int) *WorkerPool {
	t.Helper()
	pool, err := NewWorkerPool(workers)
	require.NoError(t, err)
	t.Cleanup(func() { pool.ShutdownNow() })
	return pool
}

func TestNew(t *testing.T) {
	_, err := New(nil)
	require.ErrorIs(t, err, ErrNilExecutor)

	_, err = NewGroup(nil)
	require.ErrorIs(t, err, ErrNilExecutor)

	mb, err := New(InlineExecutor)
	require.NoError(t, err)
	require.Equal(t, 0, mb.Size())
	require.ErrorIs(t, mb.Enqueue(nil), ErrNilTask)
}

func TestMailbox_SerialOrder(t *testing.T) {
	const tasksNum = 1000
	pool := newTestPool(t, 8)
	mb, err := New(pool)
	require.NoError(t, err)

	var (
		mu      sync.Mutex
		got     []int
		running atomic.Int32
		overlap atomic.Bool
		wg      sync.WaitGroup
	)
	wg.Add(tasksNum)
	for i := 0; i < tasksNum; i++ {
		i := i
		require.NoError(t, mb.Enqueue(func() {
			defer wg.Done()
			if running.Inc() > 1 {
				overlap.Store(true)
			}
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			running.Dec()
		}))
	}
	wg.Wait()

	require.False(t, overlap.Load(), "tasks of one mailbox must never overlap")
	require.Len(t, got, tasksNum)
	for i := range got {
		require.Equal(t, i, got[i])
	}
	require.Eventually(t, func() bool { return mb.Size() == 0 }, time.Second, time.Millisecond)
}

func TestMailbox_SizeCountsRunningAndWaiting(t *testing.T) {
	pool := newTestPool(t, 2)
	mb, err := New(pool)
	require.NoError(t, err)

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, mb.Enqueue(func() {
		close(started)
		<-release
	}))
	<-started
	require.NoError(t, mb.Enqueue(func() {}))
	require.NoError(t, mb.Enqueue(func() {}))
	require.Equal(t, 3, mb.Size())
	require.Equal(t, 1, pool.Stats().Busy)
	require.Equal(t, 0, pool.Stats().Queued, "only the head of a mailbox is submitted")

	close(release)
	require.Eventually(t, func() bool { return mb.Size() == 0 }, time.Second, time.Millisecond)
}

func TestMailbox_PanicDoesNotStall(t *testing.T) {
	recorder := logtest.NewRecorder()
	pool, err := NewWorkerPool(1, WithPoolLogger(recorder), WithPoolName("test"))
	require.NoError(t, err)
	defer pool.ShutdownNow()
	mb, err := New(pool)
	require.NoError(t, err)

	done := make(chan struct{})
	require.NoError(t, mb.Enqueue(func() { panic("handler failure") }))
	require.NoError(t, mb.Enqueue(func() { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		require.Fail(t, "task after a panicking one must run")
	}
	entry, found := recorder.FindEntry("task panicked: handler failure")
	require.True(t, found)
	require.Equal(t, "test", entry.StringField("pool"))
}

func TestMailbox_ParallelAcrossMailboxes(t *testing.T) {
	pool := newTestPool(t, 2)
	mb1, err := New(pool)
	require.NoError(t, err)
	mb2, err := New(pool)
	require.NoError(t, err)

	var barrier sync.WaitGroup
	barrier.Add(2)
	done := make(chan struct{}, 2)
	task := func() {
		barrier.Done()
		barrier.Wait() // both mailboxes must be running at the same time
		done <- struct{}{}
	}
	require.NoError(t, mb1.Enqueue(task))
	require.NoError(t, mb2.Enqueue(task))
	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			require.Fail(t, "different mailboxes should run in parallel")
		}
	}
}

func TestMailbox_RejectingExecutor(t *testing.T) {
	pool := newTestPool(t, 1)
	mb, err := New(pool)
	require.NoError(t, err)

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, mb.Enqueue(func() {
		close(started)
		<-release
	}))
	<-started
	ran := atomic.NewBool(false)
	require.NoError(t, mb.Enqueue(func() { ran.Store(true) }))

	require.Equal(t, 0, pool.ShutdownNow())
	close(release)
	require.Eventually(t, func() bool { return mb.Size() == 0 }, time.Second, time.Millisecond)
	require.False(t, ran.Load(), "waiting tasks are discarded once the pool rejects them")

	require.ErrorIs(t, mb.Enqueue(func() {}), ErrPoolClosed)
	require.Equal(t, 0, mb.Size())
}

func TestMailbox_RejectedSubmissionDiscardsLaterTasks(t *testing.T) {
	submitting := make(chan struct{})
	reject := make(chan struct{})
	mb, err := New(ExecutorFunc(func(func()) error {
		close(submitting)
		<-reject
		return ErrPoolClosed
	}))
	require.NoError(t, err)

	firstErr := make(chan error, 1)
	go func() { firstErr <- mb.Enqueue(func() {}) }()
	<-submitting

	ran := atomic.NewBool(false)
	require.NoError(t, mb.Enqueue(func() { ran.Store(true) }))
	require.Equal(t, 2, mb.Size())

	close(reject)
	require.ErrorIs(t, <-firstErr, ErrPoolClosed)
	require.Equal(t, 0, mb.Size())
	require.False(t, ran.Load())
}

func TestWorkerPool(t *testing.T) {
	t.Run("invalid workers", func(t *testing.T) {
		_, err := NewWorkerPool(0)
		require.Error(t, err)
	})

	t.Run("shutdown now discards queued", func(t *testing.T) {
		pool, err := NewWorkerPool(1)
		require.NoError(t, err)
		release := make(chan struct{})
		started := make(chan struct{})
		require.NoError(t, pool.Submit(func() {
			close(started)
			<-release
		}))
		<-started
		for i := 0; i < 5; i++ {
			require.NoError(t, pool.Submit(func() {}))
		}
		require.Equal(t, PoolStats{Workers: 1, Busy: 1, Queued: 5}, pool.Stats())
		require.Equal(t, 5, pool.ShutdownNow())
		require.ErrorIs(t, pool.Submit(func() {}), ErrPoolClosed)
		close(release)
		require.NoError(t, pool.Shutdown(context.Background()))
	})

	t.Run("shutdown drains queued", func(t *testing.T) {
		pool, err := NewWorkerPool(2)
		require.NoError(t, err)
		executed := atomic.NewInt32(0)
		for i := 0; i < 100; i++ {
			require.NoError(t, pool.Submit(func() { executed.Inc() }))
		}
		require.NoError(t, pool.Shutdown(context.Background()))
		require.EqualValues(t, 100, executed.Load())
	})

	t.Run("shutdown respects context", func(t *testing.T) {
		pool, err := NewWorkerPool(1)
		require.NoError(t, err)
		release := make(chan struct{})
		require.NoError(t, pool.Submit(func() { <-release }))
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		require.ErrorIs(t, pool.Shutdown(ctx), context.DeadlineExceeded)
		close(release)
	})
}

func TestGroup(t *testing.T) {
	pool := newTestPool(t, 4)
	group, err := NewGroup(pool)
	require.NoError(t, err)

	const keysNum, tasksPerKey = 5, 50
	var mu sync.Mutex
	got := make(map[string][]int)
	var wg sync.WaitGroup
	wg.Add(keysNum * tasksPerKey)
	for i := 0; i < tasksPerKey; i++ {
		for k := 0; k < keysNum; k++ {
			key, i := string(rune('a'+k)), i
			require.NoError(t, group.Enqueue(key, func() {
				defer wg.Done()
				mu.Lock()
				got[key] = append(got[key], i)
				mu.Unlock()
			}))
		}
	}
	wg.Wait()

	for _, seq := range got {
		require.Len(t, seq, tasksPerKey)
		for i := range seq {
			require.Equal(t, i, seq[i])
		}
	}
	require.Eventually(t, func() bool { return group.Len() == 0 }, time.Second, time.Millisecond)
	require.Equal(t, 0, group.Size("a"))
}

func TestGroup_Sequencer(t *testing.T) {
	group, err := NewGroup(InlineExecutor)
	require.NoError(t, err)
	seq := group.Sequencer("session-1")
	require.Equal(t, "session-1", seq.Key())

	var sizeInside int
	require.NoError(t, seq.Enqueue(func() { sizeInside = seq.Size() }))
	require.Equal(t, 1, sizeInside)
	require.Equal(t, 0, seq.Size())
	require.Equal(t, 0, group.Len())
}

func TestGroup_RejectingExecutor(t *testing.T) {
	pool := newTestPool(t, 1)
	group, err := NewGroup(pool)
	require.NoError(t, err)
	pool.ShutdownNow()

	require.ErrorIs(t, group.Enqueue("k", func() {}), ErrPoolClosed)
	require.Equal(t, 0, group.Len())
}
