// Package queue serializes every metadata-mutating operation against one
// logical writer.
//
// The embedded store must never see concurrent writers, so the queue is
// the only path to metadata.Store.Update: callers submit operations,
// a single background consumer executes them strictly in FIFO order, each
// inside its own transaction. This gives the whole system a total order
// over metadata writes, which is what makes properties like "exactly one
// file record per completed upload" provable.
//
// A bounded channel plus one consumer goroutine was chosen over a mutex
// around call sites: the channel gives FIFO fairness, a natural place to
// bound in-flight work, and keeps transaction scoping inside the consumer.
package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/damian-krychowski/plikshare-sub002/internal/logger"
	"github.com/damian-krychowski/plikshare-sub002/pkg/metadata"
)

// ErrClosed is returned for operations submitted after Close.
var ErrClosed = errors.New("write queue is closed")

// DefaultCapacity is the default bound on queued, not-yet-executed
// operations. Submissions beyond it block until the consumer catches up.
const DefaultCapacity = 256

// Operation is one unit of metadata mutation. It runs inside its own
// transaction: returning nil commits, returning an error rolls back.
type Operation func(tx metadata.WriteTx) error

type job struct {
	name string
	op   Operation
	done chan error
}

// WriteQueue is the single serialization point for metadata writes.
//
// Thread Safety: Execute may be called from any number of goroutines
// concurrently with Close.
type WriteQueue struct {
	store metadata.Store
	jobs  chan *job

	mu         sync.Mutex
	closed     bool
	submitters sync.WaitGroup
	consumer   sync.WaitGroup
}

// New creates a write queue over the given store and starts its consumer.
func New(store metadata.Store, capacity int) *WriteQueue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	q := &WriteQueue{
		store: store,
		jobs:  make(chan *job, capacity),
	}

	q.consumer.Add(1)
	go q.consume()

	return q
}

// consume dequeues and executes operations strictly in FIFO order.
//
// An operation's error is delivered only to its submitter; the consumer
// keeps going regardless, so one failing operation never poisons the queue.
func (q *WriteQueue) consume() {
	defer q.consumer.Done()

	for j := range q.jobs {
		// Dequeued operations run under a background context: a
		// submitter abandoning its wait must not abort a transaction
		// that may already be half-applied.
		err := q.store.Update(context.Background(), j.op)
		if err != nil {
			logger.Debug("Write operation %q failed: %v", j.name, err)
		}
		j.done <- err
	}
}

// Execute submits an operation and waits for its result.
//
// The operation's result (or its error, after rollback) is returned to
// this caller only. If ctx is cancelled while the operation is still
// queued or already running, Execute stops waiting and returns the
// context's error; the operation itself still runs to completion, which
// avoids partial writes.
func (q *WriteQueue) Execute(ctx context.Context, name string, op Operation) error {
	j := &job{
		name: name,
		op:   op,
		done: make(chan error, 1),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.submitters.Add(1)
	q.mu.Unlock()

	// A full queue blocks the submitter here; that is the intended
	// backpressure. Cancellation while blocked abandons the submission.
	select {
	case q.jobs <- j:
		q.submitters.Done()
	case <-ctx.Done():
		q.submitters.Done()
		return ctx.Err()
	}

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting new operations, waits for every queued operation
// to finish, and returns. Safe to call more than once.
func (q *WriteQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	// Wait for in-flight submissions before closing the channel, then
	// let the consumer drain what was accepted.
	q.submitters.Wait()
	close(q.jobs)
	q.consumer.Wait()
}
