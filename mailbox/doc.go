/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package mailbox provides serial execution domains on top of a shared bounded worker pool.
//
// A Mailbox guarantees that tasks enqueued into it run one at a time, in enqueue order,
// even though the underlying pool runs tasks of different mailboxes in parallel.
// At most one task of a mailbox is handed to the pool at any moment, and the next one
// is submitted only after the previous one has finished (normally or by panicking).
//
// A Group maintains mailboxes keyed by string and releases a key once it drains.
// A WorkerPool is a fixed set of goroutines draining an unbounded FIFO of tasks.
package mailbox
