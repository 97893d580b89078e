/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package mailbox

import (
	"sync"

	"github.com/eapache/queue"
)

type groupEntry struct {
	mailbox *Mailbox
	pending int
}

// Group maintains a Mailbox per key. A mailbox is created on the first Enqueue for its key
// and released as soon as its last pending task has finished.
type Group struct {
	executor Executor

	mu      sync.Mutex
	entries map[string]*groupEntry
}

// NewGroup creates a new Group whose mailboxes share the executor.
func NewGroup(executor Executor) (*Group, error) {
	if executor == nil {
		return nil, ErrNilExecutor
	}
	return &Group{executor: executor, entries: make(map[string]*groupEntry)}, nil
}

// Enqueue appends the task to the mailbox of the key.
func (g *Group) Enqueue(key string, task func()) error {
	if task == nil {
		return ErrNilTask
	}

	g.mu.Lock()
	entry, ok := g.entries[key]
	if !ok {
		entry = &groupEntry{}
		entry.mailbox = &Mailbox{executor: g.executor, tasks: queue.New(), onDiscard: func() { g.drop(key, entry) }}
		g.entries[key] = entry
	}
	entry.pending++
	g.mu.Unlock()

	err := entry.mailbox.Enqueue(func() {
		defer g.release(key, entry)
		task()
	})
	if err != nil {
		g.release(key, entry)
	}
	return err
}

// Size returns the number of running and waiting tasks of the key.
func (g *Group) Size(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if entry, ok := g.entries[key]; ok {
		return entry.pending
	}
	return 0
}

// Len returns the number of keys that currently have pending tasks.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

// Sequencer returns a handle that enqueues into the mailbox of the key.
func (g *Group) Sequencer(key string) *KeySequencer {
	return &KeySequencer{group: g, key: key}
}

func (g *Group) release(key string, entry *groupEntry) {
	g.mu.Lock()
	defer g.mu.Unlock()
	entry.pending--
	if entry.pending == 0 && g.entries[key] == entry {
		delete(g.entries, key)
	}
}

// drop forgets the entry whose tasks were discarded by a rejecting executor.
func (g *Group) drop(key string, entry *groupEntry) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.entries[key] == entry {
		delete(g.entries, key)
	}
}

// KeySequencer is a Group bound to a single key.
type KeySequencer struct {
	group *Group
	key   string
}

// Enqueue appends the task to the key's mailbox.
func (s *KeySequencer) Enqueue(task func()) error {
	return s.group.Enqueue(s.key, task)
}

// Size returns the number of running and waiting tasks of the key.
func (s *KeySequencer) Size() int {
	return s.group.Size(s.key)
}

// Key returns the key the sequencer is bound to.
func (s *KeySequencer) Key() string {
	return s.key
}
